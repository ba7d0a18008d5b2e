package bookfeed

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/0x5487/bookfeed/structure"
)

func TestBboOverlay(t *testing.T) {
	t.Run("SidesObservedIndependently", func(t *testing.T) {
		var o BboOverlay

		_, _, hasBid, hasAsk := o.Best()
		assert.False(t, hasBid)
		assert.False(t, hasAsk)

		changed := o.Apply(&structure.Level{Price: 101, Qty: 5}, nil, 1)
		assert.True(t, changed)

		bid, _, hasBid, hasAsk := o.Best()
		assert.True(t, hasBid)
		assert.False(t, hasAsk)
		assert.Equal(t, int64(101), bid.Price)
	})

	t.Run("LastWriteWins", func(t *testing.T) {
		var o BboOverlay
		o.Apply(&structure.Level{Price: 101, Qty: 5}, &structure.Level{Price: 102, Qty: 5}, 1)

		changed := o.Apply(&structure.Level{Price: 100, Qty: 5}, nil, 2)
		assert.True(t, changed)

		bid, ask, _, _ := o.Best()
		assert.Equal(t, int64(100), bid.Price)
		assert.Equal(t, int64(102), ask.Price)
	})

	t.Run("NilSidesAdvanceTimestampOnly", func(t *testing.T) {
		var o BboOverlay
		o.Apply(&structure.Level{Price: 101, Qty: 5}, nil, 1)

		changed := o.Apply(nil, nil, 9)

		assert.False(t, changed)
		assert.Equal(t, int64(9), o.TS())
	})

	t.Run("QtyChangeIsAChange", func(t *testing.T) {
		var o BboOverlay
		o.Apply(&structure.Level{Price: 101, Qty: 5}, nil, 1)

		changed := o.Apply(&structure.Level{Price: 101, Qty: 6}, nil, 2)
		assert.True(t, changed)
	})

	t.Run("Clear", func(t *testing.T) {
		var o BboOverlay
		o.Apply(&structure.Level{Price: 101, Qty: 5}, &structure.Level{Price: 102, Qty: 5}, 7)

		o.Clear()

		_, _, hasBid, hasAsk := o.Best()
		assert.False(t, hasBid)
		assert.False(t, hasAsk)
		assert.Equal(t, int64(0), o.TS())
	})
}
