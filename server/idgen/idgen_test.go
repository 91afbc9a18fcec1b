package idgen

import (
	"regexp"
	"sync"
	"testing"
)

func TestNewFormat(t *testing.T) {
	id := New()

	if len(id) != 20 {
		t.Errorf("expected ID length 20, got %d (%s)", len(id), id)
	}

	matched, err := regexp.MatchString(`^[a-z2-7]+$`, id)
	if err != nil {
		t.Fatalf("error matching regex: %v", err)
	}
	if !matched {
		t.Errorf("ID is not lowercase base32: %s", id)
	}
}

func TestNewUniqueness(t *testing.T) {
	const n = 5000
	seen := make(map[string]struct{}, n)
	for i := 0; i < n; i++ {
		id := New()
		if _, dup := seen[id]; dup {
			t.Fatalf("duplicate ID generated: %s", id)
		}
		seen[id] = struct{}{}
	}
}

func TestNewConcurrent(t *testing.T) {
	const goroutines = 8
	const perGoroutine = 500

	var mu sync.Mutex
	seen := make(map[string]struct{}, goroutines*perGoroutine)

	var wg sync.WaitGroup
	for g := 0; g < goroutines; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ids := make([]string, 0, perGoroutine)
			for i := 0; i < perGoroutine; i++ {
				ids = append(ids, New())
			}
			mu.Lock()
			defer mu.Unlock()
			for _, id := range ids {
				seen[id] = struct{}{}
			}
		}()
	}
	wg.Wait()

	if len(seen) != goroutines*perGoroutine {
		t.Errorf("expected %d unique IDs, got %d", goroutines*perGoroutine, len(seen))
	}
}
