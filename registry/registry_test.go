package registry_test

import (
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/xraph/queuesched/registry"
)

func TestRegister(t *testing.T) {
	t.Parallel()
	r := registry.New[int]()

	v, ok := r.Register("a", func() int { return 1 })
	if !ok || v != 1 {
		t.Fatalf("Register = (%d, %v), want (1, true)", v, ok)
	}

	got, ok := r.Get("a")
	if !ok || got != 1 {
		t.Fatalf("Get = (%d, %v), want (1, true)", got, ok)
	}

	if _, ok := r.Get("missing"); ok {
		t.Fatal("expected missing name to be absent")
	}
}

func TestRegister_CollisionDoesNotCallFactory(t *testing.T) {
	t.Parallel()
	r := registry.New[string]()
	r.Register("a", func() string { return "first" })

	called := false
	v, ok := r.Register("a", func() string {
		called = true
		return "second"
	})
	if ok {
		t.Fatal("expected collision to be rejected")
	}
	if v != "" {
		t.Errorf("expected zero value on collision, got %q", v)
	}
	if called {
		t.Error("factory must not run on collision")
	}
	if got, _ := r.Get("a"); got != "first" {
		t.Errorf("original value replaced: %q", got)
	}
}

func TestAll_ReturnsCopy(t *testing.T) {
	t.Parallel()
	r := registry.New[int]()
	r.Register("a", func() int { return 1 })

	snapshot := r.All()
	snapshot["a"] = 42
	snapshot["b"] = 2

	if got, _ := r.Get("a"); got != 1 {
		t.Errorf("registry mutated through snapshot: a=%d", got)
	}
	if _, ok := r.Get("b"); ok {
		t.Error("registry gained entry through snapshot")
	}
}

func TestNamesAndValues_Sorted(t *testing.T) {
	t.Parallel()
	r := registry.New[string]()
	for _, name := range []string{"c", "a", "b"} {
		r.Register(name, func() string { return "v" + name })
	}

	names := r.Names()
	want := []string{"a", "b", "c"}
	if len(names) != len(want) {
		t.Fatalf("Names() = %v, want %v", names, want)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Errorf("Names()[%d] = %q, want %q", i, names[i], want[i])
		}
	}

	values := r.Values()
	wantValues := []string{"va", "vb", "vc"}
	for i := range wantValues {
		if values[i] != wantValues[i] {
			t.Errorf("Values()[%d] = %q, want %q", i, values[i], wantValues[i])
		}
	}
	if r.Len() != 3 {
		t.Errorf("Len() = %d, want 3", r.Len())
	}
}

func TestRegister_Concurrent(t *testing.T) {
	t.Parallel()
	r := registry.New[int]()

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, ok := r.Register("shared", func() int { return i }); ok {
				wins.Add(1)
			}
			r.Register(fmt.Sprintf("own-%d", i), func() int { return i })
		}()
	}
	wg.Wait()

	if wins.Load() != 1 {
		t.Errorf("expected exactly one winner, got %d", wins.Load())
	}
	if r.Len() != 51 {
		t.Errorf("Len() = %d, want 51", r.Len())
	}
}
