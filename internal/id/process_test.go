package id

import (
	"sync"
	"testing"
)

func TestOfIsStableAndEqualByName(t *testing.T) {
	Reset()

	a := Of("athens")
	b := Of("athens")

	if a.Seq != b.Seq {
		t.Fatalf("expected stable Seq for repeated Of(athens), got %d and %d", a.Seq, b.Seq)
	}
	if !a.Equal(b) {
		t.Fatalf("expected a.Equal(b) for same name")
	}

	c := Of("sparta")
	if a.Equal(c) {
		t.Fatalf("expected distinct names to compare unequal")
	}
	if c.Seq == a.Seq {
		t.Fatalf("expected distinct names to get distinct Seq values")
	}
}

func TestOfConcurrentInterningIsConsistent(t *testing.T) {
	Reset()

	const n = 100
	names := []string{"athens", "sparta", "corinth", "thebes"}

	var wg sync.WaitGroup
	results := make([][]ProcessID, n)
	for i := range n {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for _, name := range names {
				results[i] = append(results[i], Of(name))
			}
		}(i)
	}
	wg.Wait()

	want := results[0]
	for i := 1; i < n; i++ {
		for j, p := range results[i] {
			if p.Seq != want[j].Seq || p.Name != want[j].Name {
				t.Fatalf("goroutine %d saw inconsistent interning for %q: got %+v want %+v", i, names[j], p, want[j])
			}
		}
	}
}
