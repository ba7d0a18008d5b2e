package structure

import "sort"

// Levels implements a fixed-capacity sorted collection of price levels for one
// side of an order book. This provides O(log N) lookups with zero allocations
// on the hot path.
//
// Design:
// - Levels are kept in a pre-allocated rank-indexed array, best level first
// - Insert position is found by binary search, placement is an O(N) shift
// - Capacity overflow evicts the worst-ranked level instead of growing

// DefaultCapacity is used when a Levels is created with a non-positive capacity.
const DefaultCapacity = 1024

// Ordering selects how prices are ranked within a Levels.
type Ordering int8

const (
	// Ascending ranks the lowest price best (ask side).
	Ascending Ordering = iota
	// Descending ranks the highest price best (bid side).
	Descending
)

// Level is a single price level. Price and Qty are fixed-point integers scaled
// by the owning book; Orders carries the feed's order count for display only.
type Level struct {
	Price  int64 `json:"price"`
	Qty    int64 `json:"qty"`
	Orders int64 `json:"orders,omitempty"`
}

// Levels holds one sorted, bounded side of a book.
type Levels struct {
	ordering Ordering
	capacity int
	levels   []Level
}

// NewLevels creates an empty side with the given ordering and capacity.
// A non-positive capacity falls back to DefaultCapacity.
func NewLevels(ordering Ordering, capacity int) *Levels {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Levels{
		ordering: ordering,
		capacity: capacity,
		levels:   make([]Level, 0, capacity),
	}
}

// search returns the rank of price and whether it is present.
// For an absent price the returned rank is its insertion position.
func (ls *Levels) search(price int64) (int, bool) {
	i := sort.Search(len(ls.levels), func(i int) bool {
		if ls.ordering == Descending {
			return ls.levels[i].Price <= price
		}
		return ls.levels[i].Price >= price
	})
	if i < len(ls.levels) && ls.levels[i].Price == price {
		return i, true
	}
	return i, false
}

// Apply inserts, replaces, or removes a level and reports whether the stored
// contents changed.
//
// A zero Qty removes the level at that price; removing an absent price is an
// idempotent no-op. A non-zero Qty replaces the stored level (never adds to it).
// When the side is full, inserting a level better than the current worst evicts
// the worst-ranked entry; a level worse than everything stored is dropped.
// Eviction is depth policy, not an error.
func (ls *Levels) Apply(l Level) bool {
	i, found := ls.search(l.Price)

	if l.Qty == 0 {
		if !found {
			return false
		}
		ls.levels = append(ls.levels[:i], ls.levels[i+1:]...)
		return true
	}

	if found {
		if ls.levels[i] == l {
			return false
		}
		ls.levels[i] = l
		return true
	}

	if len(ls.levels) == ls.capacity {
		if i == len(ls.levels) {
			// The incoming level is the worst-ranked one; dropping it
			// keeps the same depth policy as evicting after insert.
			return false
		}
		ls.levels = ls.levels[:len(ls.levels)-1]
	}

	ls.levels = append(ls.levels, Level{})
	copy(ls.levels[i+1:], ls.levels[i:])
	ls.levels[i] = l
	return true
}

// Best returns the top-ranked level, or false if the side is empty.
func (ls *Levels) Best() (Level, bool) {
	if len(ls.levels) == 0 {
		return Level{}, false
	}
	return ls.levels[0], true
}

// At returns the level at the given rank. The caller must keep i < Len().
func (ls *Levels) At(i int) Level {
	return ls.levels[i]
}

// Top returns up to n best levels in rank order. The returned slice is a copy.
func (ls *Levels) Top(n int) []Level {
	if n > len(ls.levels) {
		n = len(ls.levels)
	}
	if n <= 0 {
		return nil
	}
	out := make([]Level, n)
	copy(out, ls.levels[:n])
	return out
}

// Each walks levels in rank order until fn returns false.
func (ls *Levels) Each(fn func(Level) bool) {
	for _, l := range ls.levels {
		if !fn(l) {
			return
		}
	}
}

// Snapshot copies out the whole side in rank order.
func (ls *Levels) Snapshot() []Level {
	out := make([]Level, len(ls.levels))
	copy(out, ls.levels)
	return out
}

// Len returns the number of stored levels.
func (ls *Levels) Len() int {
	return len(ls.levels)
}

// Capacity returns the bounded depth of this side.
func (ls *Levels) Capacity() int {
	return ls.capacity
}

// Clear removes all levels, keeping the allocated arena.
func (ls *Levels) Clear() {
	ls.levels = ls.levels[:0]
}
