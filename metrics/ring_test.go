package metrics

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRingAppendBelowCapacity(t *testing.T) {
	r := NewRing[int](5)

	r.Append(1)
	r.Append(2)
	r.Append(3)

	assert.Equal(t, 3, r.Len())
	assert.Equal(t, 5, r.Cap())
	assert.Equal(t, []int{1, 2, 3}, r.Items())
}

func TestRingEvictsOldestFirst(t *testing.T) {
	r := NewRing[int](3)

	for i := 1; i <= 5; i++ {
		r.Append(i)
	}

	assert.Equal(t, 3, r.Len())
	assert.Equal(t, []int{3, 4, 5}, r.Items())
}

func TestRingHardCapAtThousand(t *testing.T) {
	const capacity = 1000
	const extra = 250

	r := NewRing[int](capacity)
	for i := 0; i < capacity+extra; i++ {
		r.Append(i)
	}

	items := r.Items()
	assert.Len(t, items, capacity)
	// The oldest `extra` values were evicted; the retained ones are the most
	// recent 1000, oldest first.
	assert.Equal(t, extra, items[0])
	assert.Equal(t, capacity+extra-1, items[len(items)-1])
}

func TestRingReset(t *testing.T) {
	r := NewRing[string](4)
	r.Append("a")
	r.Append("b")

	r.Reset()

	assert.Equal(t, 0, r.Len())
	assert.Empty(t, r.Items())

	r.Append("c")
	assert.Equal(t, []string{"c"}, r.Items())
}

func TestRingMinimumCapacity(t *testing.T) {
	r := NewRing[int](0)
	r.Append(1)
	r.Append(2)
	assert.Equal(t, []int{2}, r.Items())
}
