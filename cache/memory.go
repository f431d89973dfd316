package cache

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/kudoslab/kudos/utils/heap"
)

// New field costs: bool=1 intX=X/8 (e.g., int16=2) string=16 []byte=24 ptr=8
// key (16) + value (24) + expiry (8) + lastReadAt (8) + readCount (8) +
// map/GC overhead (64) = 128
const entryOverhead = 128

// If any fields are changed, update entryOverhead.
type entry struct {
	// Concrete cache key, e.g. "kudos:dashboard:42:30days".
	key string

	// Byte representation of the cached value.
	value []byte

	// Expiry time in unix nanoseconds.
	expiry int64

	// Last read time in unix nanoseconds.
	lastReadAt int64

	// Number of times the entry has been read. Starts from 1.
	readCount int64
}

// MemoryBackend is an in-process Backend with TTL expiry and least-frequently
// used eviction under a byte budget. Intended for development and tests; the
// analyzer flags it as non-production.
type MemoryBackend struct {
	entries map[string]*entry

	// Priority queue over entries, ordered by a combination of read count
	// and last read time. The top is the next eviction candidate.
	evictionHeap *heap.MinHeap[*entry]
	mu           sync.Mutex

	// Maximum size of the total cache in bytes. When exceeding, the least
	// frequently used and oldest entries are removed.
	maxBytes int64

	// Current size of the cache in bytes.
	usage int64

	// Clock interface for time-related operations. Must use this to avoid
	// flakiness in tests.
	clock clock.Clock
}

// NewMemoryBackend returns the backend and a stop function that terminates
// the background expiry sweep.
func NewMemoryBackend(maxBytes int64) (*MemoryBackend, func()) {
	return newMemoryBackendWithClock(maxBytes, clock.New())
}

func newMemoryBackendWithClock(maxBytes int64, clk clock.Clock) (*MemoryBackend, func()) {
	b := &MemoryBackend{
		entries:  make(map[string]*entry),
		maxBytes: maxBytes,
		clock:    clk,
	}

	// Less frequently used entries, and older entries, are at the top.
	b.evictionHeap = heap.NewMinHeap(func(a *entry, o *entry) bool {
		if a.readCount != o.readCount {
			return a.readCount < o.readCount
		}
		if a.lastReadAt != o.lastReadAt {
			return a.lastReadAt < o.lastReadAt
		}
		return a.key < o.key
	})

	stop := b.startCleanup(5 * time.Minute)
	return b, stop
}

func (b *MemoryBackend) Name() string { return "memory" }

func (b *MemoryBackend) Get(ctx context.Context, key string) ([]byte, bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	e, exists := b.entries[key]
	if !exists {
		return nil, false, nil
	}

	now := b.clock.Now().UnixNano()
	if e.expiry <= now {
		b.removeEntry(e)
		return nil, false, nil
	}

	e.lastReadAt = now
	e.readCount++
	b.evictionHeap.Update(e)
	return e.value, true, nil
}

func (b *MemoryBackend) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	sizeToAdd := entrySize(key, value)
	exceeding := b.usage + sizeToAdd - b.maxBytes
	if exceeding > 0 {
		if err := b.evict(exceeding); err != nil {
			return fmt.Errorf("failed to evict cache: %v", err)
		}
	}

	now := b.clock.Now().UnixNano()
	e := &entry{
		key:        key,
		value:      value,
		expiry:     now + ttl.Nanoseconds(),
		lastReadAt: now,
		readCount:  1,
	}

	if existing, exists := b.entries[key]; exists {
		b.evictionHeap.Remove(existing)
		b.usage -= entrySize(existing.key, existing.value)
	}

	b.entries[key] = e
	b.evictionHeap.Push(e)
	b.usage += sizeToAdd
	return nil
}

func (b *MemoryBackend) Delete(ctx context.Context, key string) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	e, exists := b.entries[key]
	if !exists {
		return false, nil
	}
	b.removeEntry(e)
	return true, nil
}

func (b *MemoryBackend) Clear(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.entries = make(map[string]*entry)
	for {
		if _, ok := b.evictionHeap.Pop(); !ok {
			break
		}
	}
	b.usage = 0
	return nil
}

// Len reports the number of live entries, expired or not.
func (b *MemoryBackend) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.entries)
}

func (b *MemoryBackend) removeEntry(e *entry) {
	delete(b.entries, e.key)
	b.evictionHeap.Remove(e)
	b.usage -= entrySize(e.key, e.value)
}

func (b *MemoryBackend) evict(sizeInBytes int64) error {
	bytesFreed := int64(0)
	for bytesFreed < sizeInBytes {
		e, ok := b.evictionHeap.Pop()
		if !ok {
			return fmt.Errorf("failed to free enough cache space")
		}
		bytesFreed += entrySize(e.key, e.value)
		delete(b.entries, e.key)
	}
	b.usage -= bytesFreed
	return nil
}

func entrySize(key string, value []byte) int64 {
	return entryOverhead + int64(len(key)+len(value))
}

func (b *MemoryBackend) cleanup() {
	now := b.clock.Now().UnixNano()

	b.mu.Lock()
	defer b.mu.Unlock()

	var expired []*entry
	for _, e := range b.entries {
		if e.expiry <= now {
			expired = append(expired, e)
		}
	}
	for _, e := range expired {
		b.removeEntry(e)
	}
}

func (b *MemoryBackend) startCleanup(interval time.Duration) func() {
	ticker := b.clock.Ticker(interval)
	done := make(chan bool)

	go func() {
		for {
			select {
			case <-ticker.C:
				b.cleanup()
			case <-done:
				ticker.Stop()
				return
			}
		}
	}()

	return func() {
		close(done)
	}
}
