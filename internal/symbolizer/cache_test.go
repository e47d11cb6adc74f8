package symbolizer

import (
	"errors"
	"sync"
	"testing"
	"time"
)

type mockSymbolResolver struct {
	mu      sync.Mutex
	calls   map[uint64]int
	symbols map[uint64]string
	err     error
	delay   time.Duration
}

func newMockSymbolResolver(symbols map[uint64]string) *mockSymbolResolver {
	return &mockSymbolResolver{calls: make(map[uint64]int), symbols: symbols}
}

func (m *mockSymbolResolver) Resolve(addr uint64) (string, bool, error) {
	if m.delay > 0 {
		time.Sleep(m.delay)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls[addr]++
	if m.err != nil {
		return "", false, m.err
	}
	name, ok := m.symbols[addr]
	return name, ok, nil
}

func (m *mockSymbolResolver) Calls(addr uint64) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[addr]
}

func TestNewCachingResolver_InvalidSize(t *testing.T) {
	if _, err := NewCachingResolver(newMockSymbolResolver(nil), 0); err == nil {
		t.Fatalf("expected error for zero cache size")
	}
}

func TestCachingResolver_CachesHits(t *testing.T) {
	inner := newMockSymbolResolver(map[uint64]string{0x10: "foo"})
	c, err := NewCachingResolver(inner, 8)
	if err != nil {
		t.Fatalf("NewCachingResolver: %v", err)
	}

	for i := 0; i < 3; i++ {
		name, ok, err := c.Resolve(0x10)
		if err != nil || !ok || name != "foo" {
			t.Fatalf("Resolve = %q, %v, %v", name, ok, err)
		}
	}
	if inner.Calls(0x10) != 1 {
		t.Fatalf("inner resolver called %d times; want 1", inner.Calls(0x10))
	}
	if c.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", c.Len())
	}
}

func TestCachingResolver_MissesNotCached(t *testing.T) {
	inner := newMockSymbolResolver(map[uint64]string{})
	c, err := NewCachingResolver(inner, 8)
	if err != nil {
		t.Fatalf("NewCachingResolver: %v", err)
	}

	for i := 0; i < 2; i++ {
		if _, ok, err := c.Resolve(0x20); ok || err != nil {
			t.Fatalf("expected miss, got ok=%v err=%v", ok, err)
		}
	}
	if inner.Calls(0x20) != 2 {
		t.Fatalf("expected misses to be retried, got %d calls", inner.Calls(0x20))
	}

	// a later resolution with better state is picked up
	inner.mu.Lock()
	inner.symbols[0x20] = "late"
	inner.mu.Unlock()
	if name, ok, _ := c.Resolve(0x20); !ok || name != "late" {
		t.Fatalf("expected late resolution, got %q %v", name, ok)
	}
}

func TestCachingResolver_ErrorsNotCached(t *testing.T) {
	inner := newMockSymbolResolver(nil)
	inner.err = &ModuleNotFoundError{Filename: "tee.elf"}
	c, err := NewCachingResolver(inner, 8)
	if err != nil {
		t.Fatalf("NewCachingResolver: %v", err)
	}

	for i := 0; i < 2; i++ {
		if _, _, err := c.Resolve(0x30); !errors.Is(err, ErrModuleNotFound) {
			t.Fatalf("expected ErrModuleNotFound, got %v", err)
		}
	}
	if inner.Calls(0x30) != 2 || c.Len() != 0 {
		t.Fatalf("errors must not be cached: calls=%d len=%d", inner.Calls(0x30), c.Len())
	}
}

func TestCachingResolver_BoundedSize(t *testing.T) {
	symbols := map[uint64]string{}
	for a := uint64(0); a < 10; a++ {
		symbols[a] = "sym"
	}
	inner := newMockSymbolResolver(symbols)
	c, err := NewCachingResolver(inner, 4)
	if err != nil {
		t.Fatalf("NewCachingResolver: %v", err)
	}
	for a := uint64(0); a < 10; a++ {
		if _, ok, err := c.Resolve(a); !ok || err != nil {
			t.Fatalf("Resolve(%d) failed: %v %v", a, ok, err)
		}
	}
	if c.Len() != 4 {
		t.Fatalf("Len() = %d, want 4", c.Len())
	}

	// the oldest entry was evicted and is resolved again
	_, _, _ = c.Resolve(0)
	if inner.Calls(0) != 2 {
		t.Fatalf("expected evicted address to be resolved again, got %d calls", inner.Calls(0))
	}
}

func TestCachingResolver_ConcurrentLookupsCoalesce(t *testing.T) {
	inner := newMockSymbolResolver(map[uint64]string{0x1008: "shared"})
	inner.delay = 50 * time.Millisecond
	c, err := NewCachingResolver(inner, 8)
	if err != nil {
		t.Fatalf("NewCachingResolver: %v", err)
	}

	const goroutines = 16
	var wg sync.WaitGroup
	wg.Add(goroutines)
	start := make(chan struct{})
	results := make(chan string, goroutines)

	for i := 0; i < goroutines; i++ {
		go func() {
			defer wg.Done()
			<-start
			name, ok, err := c.Resolve(0x1008)
			if err != nil || !ok {
				results <- "<error>"
				return
			}
			results <- name
		}()
	}

	close(start)
	wg.Wait()
	close(results)

	for name := range results {
		if name != "shared" {
			t.Fatalf("unexpected result %q", name)
		}
	}
	if inner.Calls(0x1008) != 1 {
		t.Fatalf("expected exactly one underlying resolution, got %d", inner.Calls(0x1008))
	}
}
