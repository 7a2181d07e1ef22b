package replica

import "tickloom/internal/messaging"

// Protocol-specific message types for the quorum register, including
// the soft-delete pair. These live alongside the protocol that defines
// them, per internal/messaging's own doc comment.
const (
	ClientSet    messaging.MessageType = "CLIENT_SET"
	ClientSetOK  messaging.MessageType = "CLIENT_SET_OK"
	ClientSetErr messaging.MessageType = "CLIENT_SET_ERR"

	ClientGet    messaging.MessageType = "CLIENT_GET"
	ClientGetOK  messaging.MessageType = "CLIENT_GET_OK"
	ClientGetErr messaging.MessageType = "CLIENT_GET_ERR"

	ClientDelete    messaging.MessageType = "CLIENT_DELETE"
	ClientDeleteOK  messaging.MessageType = "CLIENT_DELETE_OK"
	ClientDeleteErr messaging.MessageType = "CLIENT_DELETE_ERR"

	InternalWrite    messaging.MessageType = "INTERNAL_WRITE"
	InternalWriteOK  messaging.MessageType = "INTERNAL_WRITE_OK"
	InternalWriteErr messaging.MessageType = "INTERNAL_WRITE_ERR"

	InternalRead    messaging.MessageType = "INTERNAL_READ"
	InternalReadOK  messaging.MessageType = "INTERNAL_READ_OK"
	InternalReadErr messaging.MessageType = "INTERNAL_READ_ERR"
)

// ClientSetRequest is CLIENT_SET's payload.
type ClientSetRequest struct {
	Key             []byte `json:"key"`
	Value           []byte `json:"value"`
	ClientTimestamp int64  `json:"client_timestamp"`
}

// ClientAck is the shared payload shape for every client-facing
// acknowledgement that carries nothing but an optional failure reason:
// CLIENT_SET_OK/_ERR and CLIENT_DELETE_OK/_ERR.
type ClientAck struct {
	Reason string `json:"reason,omitempty"`
}

// ClientGetRequest is CLIENT_GET's payload.
type ClientGetRequest struct {
	Key []byte `json:"key"`
}

// ClientGetResponse is CLIENT_GET_OK/CLIENT_GET_ERR's payload. Found
// is false both for "no such key" and for a tombstoned winner — a
// client cannot tell the two apart. Internal replication sees the
// tombstone directly via InternalReadResponse.
type ClientGetResponse struct {
	Value  []byte `json:"value,omitempty"`
	Found  bool   `json:"found"`
	Reason string `json:"reason,omitempty"`
}

// ClientDeleteRequest is CLIENT_DELETE's payload.
type ClientDeleteRequest struct {
	Key             []byte `json:"key"`
	ClientTimestamp int64  `json:"client_timestamp"`
}

// InternalWriteRequest is INTERNAL_WRITE's payload. A soft-delete is
// represented as a normal write whose Value.Tombstone is true, rather
// than a distinct wire shape — it goes through the identical
// accept-or-reject rule as any other write.
type InternalWriteRequest struct {
	Key   []byte            `json:"key"`
	Value InternalVersioned `json:"value"`
}

// InternalVersioned mirrors wire.VersionedValue for wire transfer
// (kept distinct so internal/wire stays free of json tags — it is
// used by internal/storage too, which has no JSON concern).
type InternalVersioned struct {
	Value     []byte `json:"value"`
	Timestamp int64  `json:"timestamp"`
	Tombstone bool   `json:"tombstone"`
}

// InternalWriteResponse is INTERNAL_WRITE_OK/INTERNAL_WRITE_ERR's
// payload.
type InternalWriteResponse struct {
	Reason string `json:"reason,omitempty"`
}

// InternalReadRequest is INTERNAL_READ's payload.
type InternalReadRequest struct {
	Key []byte `json:"key"`
}

// InternalReadResponse is INTERNAL_READ_OK/INTERNAL_READ_ERR's
// payload. Found is false when the replica holds no value at all for
// Key (never written, as opposed to tombstoned).
type InternalReadResponse struct {
	Value  InternalVersioned `json:"value"`
	Found  bool              `json:"found"`
	Reason string            `json:"reason,omitempty"`
}
