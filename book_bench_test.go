package bookfeed

import (
	"math/rand"
	"strconv"
	"testing"

	"github.com/0x5487/bookfeed/protocol"
)

func benchBook(depth int) *Book {
	book := NewBook(testInstID, BookOptions{PriceScale: 2, QtyScale: 4, Depth: depth})

	bids := make([][]string, 0, depth)
	asks := make([][]string, 0, depth)
	for i := 0; i < depth; i++ {
		bids = append(bids, []string{renderScaled(int64(9999-i), 2), "1"})
		asks = append(asks, []string{renderScaled(int64(10001+i), 2), "1"})
	}
	book.Apply(snapshotMsg(1, bids, asks))
	return book
}

func BenchmarkBookApplyUpdate(b *testing.B) {
	const depth = 400
	book := benchBook(depth)

	// Pre-build update messages with a fixed seed for repeatability. Roughly
	// one delta in five is a removal, mirroring a live depth stream.
	rng := rand.New(rand.NewSource(42))
	const poolSize = 4096
	msgs := make([]*protocol.Message, poolSize)
	for i := range msgs {
		side := rng.Intn(2)
		price := renderScaled(int64(9999-rng.Intn(depth)), 2)
		if side == 1 {
			price = renderScaled(int64(10001+rng.Intn(depth)), 2)
		}
		qty := strconv.Itoa(rng.Intn(5))

		level := [][]string{{price, qty}}
		if side == 0 {
			msgs[i] = updateMsgNoPrev(int64(2+i), level, nil)
		} else {
			msgs[i] = updateMsgNoPrev(int64(2+i), nil, level)
		}
	}

	b.ResetTimer()

	for i := 0; i < b.N; i++ {
		book.Apply(msgs[i%poolSize])
	}
}

func BenchmarkChecksum(b *testing.B) {
	book := benchBook(100)
	bids := book.bids.Top(25)
	asks := book.asks.Top(25)

	b.ResetTimer()

	for i := 0; i < b.N; i++ {
		Checksum(bids, asks, 25, 2, 4)
	}
}
