package bookfeed

import (
	"hash/crc32"
	"strings"

	"github.com/0x5487/bookfeed/structure"
)

// Checksum computes the feed's books-channel integrity value over the top k
// levels of each side.
//
// The payload interleaves bid and ask levels rank by rank as
// "bidPx:bidQty:askPx:askQty:..."; when one side has fewer than k levels the
// remainder of the other side is appended in rank order. Prices and quantities
// are rendered in their canonical wire form before hashing, and the CRC32
// (IEEE) of the joined string is reinterpreted as a signed 32-bit integer,
// which is how the feed transmits it.
func Checksum(bids, asks []structure.Level, k int, priceScale, qtyScale int32) int32 {
	n := len(bids)
	if len(asks) > n {
		n = len(asks)
	}
	if n > k {
		n = k
	}

	parts := make([]string, 0, 4*n)
	for i := 0; i < n; i++ {
		if i < len(bids) {
			parts = append(parts,
				renderScaled(bids[i].Price, priceScale),
				renderScaled(bids[i].Qty, qtyScale))
		}
		if i < len(asks) {
			parts = append(parts,
				renderScaled(asks[i].Price, priceScale),
				renderScaled(asks[i].Qty, qtyScale))
		}
	}

	sum := crc32.ChecksumIEEE([]byte(strings.Join(parts, ":")))
	return int32(sum) //nolint:gosec // signed reinterpretation is the wire contract
}
