package ids

import (
	"sync"
	"testing"

	"github.com/oklog/ulid/v2"
)

func TestNewCorrelationIDSequentialOrdering(t *testing.T) {
	const total = 100
	generated := make([]string, total)
	for i := 0; i < total; i++ {
		generated[i] = NewCorrelationID()
	}

	for i := 0; i < total; i++ {
		if len(generated[i]) != 26 {
			t.Fatalf("expected ULID length 26, got %d", len(generated[i]))
		}
		if _, err := ulid.Parse(generated[i]); err != nil {
			t.Fatalf("expected valid ULID, got %v", err)
		}
	}

	for i := 1; i < total; i++ {
		if generated[i-1] >= generated[i] {
			t.Fatalf("expected ids to be strictly increasing, %s >= %s", generated[i-1], generated[i])
		}
	}
}

func TestNewCorrelationIDConcurrentUniqueness(t *testing.T) {
	const goroutines = 10
	const perGoroutine = 20

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		seen = make(map[string]struct{})
	)

	wg.Add(goroutines)
	for i := 0; i < goroutines; i++ {
		go func() {
			defer wg.Done()
			for j := 0; j < perGoroutine; j++ {
				id := NewCorrelationID()
				if len(id) != 26 {
					t.Errorf("expected ULID length 26, got %d", len(id))
				}
				mu.Lock()
				if _, ok := seen[id]; ok {
					t.Errorf("duplicate correlation id generated: %s", id)
				} else {
					seen[id] = struct{}{}
				}
				mu.Unlock()
			}
		}()
	}

	wg.Wait()

	expected := goroutines * perGoroutine
	if len(seen) != expected {
		t.Fatalf("expected %d unique ids, got %d", expected, len(seen))
	}
}
