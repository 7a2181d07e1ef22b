// Package id implements process identity: interned, name-keyed
// identifiers handed out to every replica and client in a TickLoom
// cluster.
//
// Big idea:
//
// Two calls to id.Of("athens") must always return values that
// compare equal, no matter which goroutine or which part of the system
// asked first. We guarantee that with a single process-wide intern
// table: the first caller to mint a name assigns it a monotonic
// numeric suffix, and every later caller for the same name gets back
// the exact same value.
package id

import "sync"

// ProcessID is an immutable, interned identifier for a replica or
// client process. Equality is by Name; the numeric Seq exists only to
// make distinct names easy to tell apart in logs and is never used in
// comparisons.
type ProcessID struct {
	Name string
	Seq  uint64
}

// Equal reports whether two ids name the same process.
func (p ProcessID) Equal(other ProcessID) bool {
	return p.Name == other.Name
}

func (p ProcessID) String() string {
	return p.Name
}

// registry is the process-wide intern table. It must be safe for
// concurrent insertion of distinct names (a concrete HTTPBus may call
// Of from multiple goroutines even though the core itself is
// single-threaded) and must never hand out two different Seq values
// for the same name.
type registry struct {
	mu      sync.Mutex
	counter uint64
	byName  map[string]ProcessID
}

var global = &registry{byName: make(map[string]ProcessID)}

// Of interns name, returning the stable ProcessID for it. Repeated
// calls with the same name always return the same value.
func Of(name string) ProcessID {
	return global.of(name)
}

func (r *registry) of(name string) ProcessID {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.byName[name]; ok {
		return existing
	}

	r.counter++
	p := ProcessID{Name: name, Seq: r.counter}
	r.byName[name] = p
	return p
}

// Reset clears the intern table. Tests call it so Seq values start from
// a known point; cmd/server and cmd/client call it once at startup,
// before minting any id.
func Reset() {
	global.mu.Lock()
	defer global.mu.Unlock()
	global.counter = 0
	global.byName = make(map[string]ProcessID)
}
