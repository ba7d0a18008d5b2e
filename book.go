package bookfeed

import (
	"strconv"

	"github.com/shopspring/decimal"

	"github.com/0x5487/bookfeed/protocol"
	"github.com/0x5487/bookfeed/structure"
)

// Book reconstructs the full-depth order book of one instrument from the
// feed's snapshot and incremental update messages, plus a best-bid/offer
// overlay driven by the tick-by-tick channel.
//
// A Book belongs to exactly one consumer loop: it is mutated only by Apply
// and ApplyBbo in message-arrival order and carries no internal locking. Run
// one Book per instrument, each on its own goroutine, for concurrency.
//
// All mutation arithmetic is fixed-point integer. Wire decimals are scaled by
// the configured exponents on the way in and converted back to decimals only
// at the read boundary, so a long-running stream accumulates no float drift.
type Book struct {
	instID string
	opts   BookOptions

	bids *structure.Levels
	asks *structure.Levels
	bbo  BboOverlay

	lastSeq      int64
	lastTS       int64
	lastChecksum int64
	hasChecksum  bool

	status SyncStatus
	reason DesyncReason
}

// NewBook creates an empty, uninitialized book for one instrument. Zero
// option fields fall back to the package defaults.
func NewBook(instID string, opts BookOptions) *Book {
	if opts.Depth <= 0 {
		opts.Depth = structure.DefaultCapacity
	}
	if opts.ChecksumLevels <= 0 {
		opts.ChecksumLevels = DefaultChecksumLevels
	}
	if opts.SeqPolicy == "" {
		opts.SeqPolicy = SeqPolicyPrevSeq
	}

	return &Book{
		instID: instID,
		opts:   opts,
		bids:   structure.NewLevels(structure.Descending, opts.Depth),
		asks:   structure.NewLevels(structure.Ascending, opts.Depth),
		status: StatusUninitialized,
	}
}

// Apply consumes one decoded books-channel message and reports whether the
// observable book state changed.
//
// A snapshot replaces both sides, resets sequence tracking and moves the book
// to Synced. An update is validated for continuity under the configured
// sequence policy; a discontinuity flags the book Desynced but the deltas are
// still applied best-effort, so reads keep serving last-known data while the
// caller arranges a fresh snapshot. Updates arriving before the first
// snapshot are dropped: there is no baseline to mutate.
//
// Gaps and checksum mismatches are surfaced through Status, never as errors.
func (b *Book) Apply(msg *protocol.Message) bool {
	if b.status == StatusUninitialized {
		b.status = StatusSyncing
	}

	changed := false
	switch msg.Kind {
	case protocol.KindSnapshot:
		for i := range msg.Book {
			b.applySnapshot(&msg.Book[i])
		}
		changed = len(msg.Book) > 0
	case protocol.KindUpdate:
		for i := range msg.Book {
			if b.applyUpdate(&msg.Book[i]) {
				changed = true
			}
		}
	}

	return changed
}

// applySnapshot replaces both sides with the message's levels and
// re-baselines sequence tracking. This is the only way out of Desynced.
func (b *Book) applySnapshot(d *protocol.BookData) {
	b.bids.Clear()
	b.asks.Clear()
	b.applyLevels(d)

	b.lastSeq = d.SeqID.Int64()
	b.lastTS = d.TS.Int64()
	b.status = StatusSynced
	b.reason = ReasonNone

	b.verifyChecksum(d)
}

func (b *Book) applyUpdate(d *protocol.BookData) bool {
	if b.status == StatusSyncing {
		return false
	}

	statusBefore := b.status
	seq := d.SeqID.Int64()

	if b.hasGap(d, seq) && b.status != StatusDesynced {
		b.status = StatusDesynced
		b.reason = ReasonGap
	}

	changed := b.applyLevels(d)
	if seq != b.lastSeq || d.TS.Int64() != b.lastTS {
		changed = true
	}
	b.lastSeq = seq
	b.lastTS = d.TS.Int64()

	b.verifyChecksum(d)

	return changed || b.status != statusBefore
}

// hasGap applies the configured continuity rule to one update.
func (b *Book) hasGap(d *protocol.BookData, seq int64) bool {
	if b.opts.SeqPolicy == SeqPolicyMonotonic {
		return seq <= b.lastSeq
	}

	// The feed pairs every update with the sequence it follows; equality with
	// our last applied sequence is the continuity contract. A negative or
	// missing previous sequence means "no predecessor" and is never a gap.
	if d.PrevSeqID == nil {
		return false
	}
	prev := d.PrevSeqID.Int64()
	return prev >= 0 && prev != b.lastSeq
}

// applyLevels feeds every level delta of one datum into the side stores and
// reports whether stored depth changed. A level whose price or quantity does
// not parse at the configured scale is dropped alone; the rest of the message
// still applies.
func (b *Book) applyLevels(d *protocol.BookData) bool {
	changed := false
	for _, raw := range d.Bids {
		l, ok := b.convertLevel(raw)
		if !ok {
			logger.Warn("dropping unparsable bid level", "inst_id", b.instID, "level", raw)
			continue
		}
		if b.bids.Apply(l) {
			changed = true
		}
	}
	for _, raw := range d.Asks {
		l, ok := b.convertLevel(raw)
		if !ok {
			logger.Warn("dropping unparsable ask level", "inst_id", b.instID, "level", raw)
			continue
		}
		if b.asks.Apply(l) {
			changed = true
		}
	}
	return changed
}

// verifyChecksum compares the message checksum against our top levels when
// the message carries one and both sides are deep enough to cover the
// checksummed range. Shallower books record the feed value unverified.
func (b *Book) verifyChecksum(d *protocol.BookData) {
	if d.Checksum == nil {
		return
	}
	want := d.Checksum.Int64()

	k := b.opts.ChecksumLevels
	if b.bids.Len() >= k && b.asks.Len() >= k {
		got := Checksum(b.bids.Top(k), b.asks.Top(k), k, b.opts.PriceScale, b.opts.QtyScale)
		if int64(got) != want {
			if b.status != StatusDesynced {
				b.status = StatusDesynced
				b.reason = ReasonChecksum
			}
			return
		}
	}

	b.lastChecksum = want
	b.hasChecksum = true
}

// convertLevel parses one wire level [price, qty, _, orderCount] into the
// book's fixed-point representation.
func (b *Book) convertLevel(raw []string) (structure.Level, bool) {
	price, ok := parseScaled(raw[0], b.opts.PriceScale)
	if !ok {
		return structure.Level{}, false
	}
	qty, ok := parseScaled(raw[1], b.opts.QtyScale)
	if !ok {
		return structure.Level{}, false
	}

	l := structure.Level{Price: price, Qty: qty}
	if len(raw) > 3 {
		if n, err := strconv.ParseInt(raw[3], 10, 64); err == nil {
			l.Orders = n
		}
	}
	return l, true
}

// ApplyBbo consumes one decoded bbo-tbt message and reports whether the best
// bid/ask pair changed. The overlay is not subject to sequence or checksum
// discipline and never affects Status.
func (b *Book) ApplyBbo(msg *protocol.Message) bool {
	changed := false
	for i := range msg.Book {
		d := &msg.Book[i]

		var bid, ask *structure.Level
		if len(d.Bids) > 0 {
			if l, ok := b.convertLevel(d.Bids[0]); ok {
				bid = &l
			}
		}
		if len(d.Asks) > 0 {
			if l, ok := b.convertLevel(d.Asks[0]); ok {
				ask = &l
			}
		}
		if bid == nil && ask == nil {
			continue
		}

		if b.bbo.Apply(bid, ask, d.TS.Int64()) {
			changed = true
		}
	}
	return changed
}

// MidPrice returns the midpoint of the full-depth best bid and ask, or false
// if either side is empty. The overlay is deliberately not consulted.
func (b *Book) MidPrice() (decimal.Decimal, bool) {
	bid, okBid := b.bids.Best()
	ask, okAsk := b.asks.Best()
	if !okBid || !okAsk {
		return decimal.Decimal{}, false
	}
	return decimal.New(bid.Price+ask.Price, -b.opts.PriceScale).Div(two), true
}

var two = decimal.NewFromInt(2)

// TopLevels returns up to n levels per side in priority order, converted to
// display precision at this boundary only.
func (b *Book) TopLevels(n int) (bids, asks []BookLevel) {
	return b.displayLevels(b.bids.Top(n)), b.displayLevels(b.asks.Top(n))
}

// BestBid returns the top full-depth bid in display precision.
func (b *Book) BestBid() (BookLevel, bool) {
	l, ok := b.bids.Best()
	if !ok {
		return BookLevel{}, false
	}
	return b.displayLevel(l), true
}

// BestAsk returns the top full-depth ask in display precision.
func (b *Book) BestAsk() (BookLevel, bool) {
	l, ok := b.asks.Best()
	if !ok {
		return BookLevel{}, false
	}
	return b.displayLevel(l), true
}

// BboBid returns the overlay's best bid in display precision.
func (b *Book) BboBid() (BookLevel, bool) {
	bid, _, hasBid, _ := b.bbo.Best()
	if !hasBid {
		return BookLevel{}, false
	}
	return b.displayLevel(bid), true
}

// BboAsk returns the overlay's best ask in display precision.
func (b *Book) BboAsk() (BookLevel, bool) {
	_, ask, _, hasAsk := b.bbo.Best()
	if !hasAsk {
		return BookLevel{}, false
	}
	return b.displayLevel(ask), true
}

// BboTS returns the timestamp of the last applied BBO message.
func (b *Book) BboTS() int64 {
	return b.bbo.TS()
}

func (b *Book) displayLevel(l structure.Level) BookLevel {
	return BookLevel{
		Price:  displayScaled(l.Price, b.opts.PriceScale),
		Qty:    displayScaled(l.Qty, b.opts.QtyScale),
		Orders: l.Orders,
	}
}

func (b *Book) displayLevels(ls []structure.Level) []BookLevel {
	if len(ls) == 0 {
		return nil
	}
	out := make([]BookLevel, len(ls))
	for i, l := range ls {
		out[i] = b.displayLevel(l)
	}
	return out
}

// InstID returns the instrument this book tracks.
func (b *Book) InstID() string {
	return b.instID
}

// Options returns the construction options after defaulting.
func (b *Book) Options() BookOptions {
	return b.opts
}

// LastSeq returns the sequence of the last applied books message.
func (b *Book) LastSeq() int64 {
	return b.lastSeq
}

// LastTS returns the exchange timestamp of the last applied books message.
func (b *Book) LastTS() int64 {
	return b.lastTS
}

// LastChecksum returns the last recorded feed checksum, or false if none has
// been recorded since construction or the last mismatch.
func (b *Book) LastChecksum() (int64, bool) {
	return b.lastChecksum, b.hasChecksum
}

// Status returns the book's sync state.
func (b *Book) Status() SyncStatus {
	return b.status
}

// Reason returns the first cause of the current desync, or ReasonNone.
func (b *Book) Reason() DesyncReason {
	return b.reason
}

// BidDepth returns the number of tracked bid levels.
func (b *Book) BidDepth() int {
	return b.bids.Len()
}

// AskDepth returns the number of tracked ask levels.
func (b *Book) AskDepth() int {
	return b.asks.Len()
}

// State captures the book's full observable state for persistence.
func (b *Book) State() *BookState {
	st := &BookState{
		InstID:  b.instID,
		Options: b.opts,
		Bids:    b.bids.Snapshot(),
		Asks:    b.asks.Snapshot(),
		LastSeq: b.lastSeq,
		LastTS:  b.lastTS,
		Status:  b.status,
		Reason:  b.reason,
	}
	if b.hasChecksum {
		cs := b.lastChecksum
		st.LastChecksum = &cs
	}
	return st
}

// restoreState rebuilds a book from persisted state. The restored book keeps
// its recorded status; the next subscription snapshot re-baselines it.
func restoreState(st *BookState) *Book {
	b := NewBook(st.InstID, st.Options)
	for _, l := range st.Bids {
		b.bids.Apply(l)
	}
	for _, l := range st.Asks {
		b.asks.Apply(l)
	}
	b.lastSeq = st.LastSeq
	b.lastTS = st.LastTS
	if st.LastChecksum != nil {
		b.lastChecksum = *st.LastChecksum
		b.hasChecksum = true
	}
	if st.Status != "" {
		b.status = st.Status
	}
	b.reason = st.Reason
	return b
}
