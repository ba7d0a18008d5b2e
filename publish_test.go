package bookfeed

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/0x5487/bookfeed/protocol"
)

func TestMemoryPublisher(t *testing.T) {
	t.Run("ClonesUpdates", func(t *testing.T) {
		pub := NewMemoryPublisher()

		u := &Update{
			InstID:  testInstID,
			Channel: protocol.ChannelBooks,
			Seq:     10,
			Mid:     decimal.RequireFromString("100.25"),
			Status:  StatusSynced,
		}
		pub.Publish(u)

		// The caller may recycle the update after Publish returns.
		u.Seq = 999
		u.Status = StatusDesynced

		got := pub.Get(0)
		assert.Equal(t, int64(10), got.Seq)
		assert.Equal(t, StatusSynced, got.Status)
		assert.Equal(t, "100.25", got.Mid.String())
	})

	t.Run("BatchKeepsOrder", func(t *testing.T) {
		pub := NewMemoryPublisher()

		pub.Publish(
			&Update{InstID: testInstID, Seq: 1},
			&Update{InstID: testInstID, Seq: 2},
		)
		pub.Publish(&Update{InstID: testInstID, Seq: 3})

		require.Equal(t, 3, pub.Count())
		updates := pub.Updates()
		assert.Equal(t, int64(1), updates[0].Seq)
		assert.Equal(t, int64(2), updates[1].Seq)
		assert.Equal(t, int64(3), updates[2].Seq)
	})

	t.Run("UpdatesReturnsCopy", func(t *testing.T) {
		pub := NewMemoryPublisher()
		pub.Publish(&Update{InstID: testInstID, Seq: 1})

		updates := pub.Updates()
		updates[0] = &Update{Seq: 42}

		assert.Equal(t, int64(1), pub.Get(0).Seq)
		assert.NoError(t, pub.Close())
	})
}

func TestDiscardPublisher(t *testing.T) {
	pub := NewDiscardPublisher()

	pub.Publish(&Update{InstID: testInstID, Seq: 1})
	pub.Publish()

	assert.NoError(t, pub.Close())
}
