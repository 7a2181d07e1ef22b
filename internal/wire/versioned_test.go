package wire

import "testing"

func TestIsNewerThanByTimestamp(t *testing.T) {
	older := VersionedValue{Value: []byte("a"), Timestamp: 3}
	newer := VersionedValue{Value: []byte("b"), Timestamp: 5}

	if !newer.IsNewerThan(&older) {
		t.Fatalf("expected higher timestamp to win regardless of value bytes")
	}
	if older.IsNewerThan(&newer) {
		t.Fatalf("expected lower timestamp to lose regardless of value bytes")
	}
}

func TestIsNewerThanNilCurrentAlwaysWins(t *testing.T) {
	v := VersionedValue{Value: []byte("x"), Timestamp: 0}
	if !v.IsNewerThan(nil) {
		t.Fatalf("expected any value to beat a nil current value")
	}
}

func TestIsNewerThanTieBreaksLexicographically(t *testing.T) {
	a := VersionedValue{Value: []byte("a"), Timestamp: 5}
	b := VersionedValue{Value: []byte("b"), Timestamp: 5}

	if !b.IsNewerThan(&a) {
		t.Fatalf("expected lexicographically greater value to win a tied timestamp")
	}
	if a.IsNewerThan(&b) {
		t.Fatalf("expected lexicographically smaller value to lose a tied timestamp")
	}
}

func TestCompareVersionedPicksWinner(t *testing.T) {
	a := VersionedValue{Value: []byte("a"), Timestamp: 5}
	b := VersionedValue{Value: []byte("b"), Timestamp: 5}

	got := CompareVersioned(a, b)
	if string(got.Value) != "b" {
		t.Fatalf("expected lexicographic winner b, got %s", got.Value)
	}

	got = CompareVersioned(b, a)
	if string(got.Value) != "b" {
		t.Fatalf("expected winner to be independent of argument order, got %s", got.Value)
	}
}
