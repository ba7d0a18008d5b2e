package bookfeed

import "github.com/0x5487/bookfeed/structure"

// BboOverlay tracks the latest best bid/ask pair from the tick-by-tick BBO
// channel. The channel is advisory and carries no depth guarantee, so the
// overlay performs no sequence or checksum validation: whatever arrives last
// wins. It is kept separate from the full-depth sides so a stale overlay can
// never corrupt the reconstructed book.
type BboOverlay struct {
	bid    structure.Level
	ask    structure.Level
	hasBid bool
	hasAsk bool
	ts     int64
}

// Apply replaces the stored pair and timestamp. A nil side leaves that side
// untouched (the feed may tick one side at a time). It reports whether the
// stored pair changed; a timestamp-only advance returns false.
func (o *BboOverlay) Apply(bid, ask *structure.Level, ts int64) bool {
	changed := false

	if bid != nil {
		if !o.hasBid || o.bid != *bid {
			o.bid = *bid
			o.hasBid = true
			changed = true
		}
	}
	if ask != nil {
		if !o.hasAsk || o.ask != *ask {
			o.ask = *ask
			o.hasAsk = true
			changed = true
		}
	}

	o.ts = ts
	return changed
}

// Best returns the last stored pair. The boolean flags report which sides
// have been observed.
func (o *BboOverlay) Best() (bid, ask structure.Level, hasBid, hasAsk bool) {
	return o.bid, o.ask, o.hasBid, o.hasAsk
}

// TS returns the timestamp of the last applied BBO message.
func (o *BboOverlay) TS() int64 {
	return o.ts
}

// Clear forgets the stored pair.
func (o *BboOverlay) Clear() {
	*o = BboOverlay{}
}
