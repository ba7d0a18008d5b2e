package bookfeed

import (
	"github.com/shopspring/decimal"

	"github.com/0x5487/bookfeed/protocol"
)

// SyncStatus describes how trustworthy a book's depth currently is.
type SyncStatus string

const (
	// StatusUninitialized means no message has been applied yet.
	StatusUninitialized SyncStatus = "uninitialized"
	// StatusSyncing means messages have arrived but no snapshot baseline exists.
	StatusSyncing SyncStatus = "syncing"
	// StatusSynced means the book tracks the feed with verified continuity.
	StatusSynced SyncStatus = "synced"
	// StatusDesynced means a gap or checksum failure was observed; depth is
	// served best-effort until a fresh snapshot re-baselines the book.
	StatusDesynced SyncStatus = "desynced"
)

// DesyncReason records the first cause of a desync. It is cleared by the next
// snapshot.
type DesyncReason string

const (
	ReasonNone     DesyncReason = ""
	ReasonGap      DesyncReason = "gap"
	ReasonChecksum DesyncReason = "checksum"
)

// SeqPolicy selects how update continuity is validated.
type SeqPolicy string

const (
	// SeqPolicyPrevSeq flags a gap when an update carries a prevSeqId that does
	// not equal the last applied sequence. Heartbeat updates with
	// seqId == prevSeqId stay continuous under this policy.
	SeqPolicyPrevSeq SeqPolicy = "prev_seq"
	// SeqPolicyMonotonic flags a gap when an update's seqId is not strictly
	// greater than the last applied sequence.
	SeqPolicyMonotonic SeqPolicy = "monotonic"
)

// BookOptions configures a Book for one instrument. Zero fields fall back to
// the package defaults.
type BookOptions struct {
	// PriceScale and QtyScale are the decimal exponents used to convert wire
	// strings into fixed-point integers (a scale of 5 stores 8476.98 as
	// 847698000). They are fixed per instrument at construction.
	PriceScale int32 `json:"price_scale"`
	QtyScale   int32 `json:"qty_scale"`

	// Depth bounds the number of levels kept per side.
	Depth int `json:"depth"`

	// ChecksumLevels is the number of levels per side covered by the feed's
	// integrity checksum.
	ChecksumLevels int `json:"checksum_levels"`

	// SeqPolicy selects the update continuity rule.
	SeqPolicy SeqPolicy `json:"seq_policy"`
}

// BookLevel is a price level converted to display precision. Conversion from
// the internal fixed-point representation happens only at this read boundary.
type BookLevel struct {
	Price  decimal.Decimal `json:"price"`
	Qty    decimal.Decimal `json:"qty"`
	Orders int64           `json:"orders,omitempty"`
}

// Ticker is the latest 24h rolling statistics for one instrument.
type Ticker struct {
	InstID    string          `json:"inst_id"`
	Last      decimal.Decimal `json:"last"`
	LastSz    decimal.Decimal `json:"last_sz"`
	BidPx     decimal.Decimal `json:"bid_px"`
	BidSz     decimal.Decimal `json:"bid_sz"`
	AskPx     decimal.Decimal `json:"ask_px"`
	AskSz     decimal.Decimal `json:"ask_sz"`
	Open24h   decimal.Decimal `json:"open_24h"`
	High24h   decimal.Decimal `json:"high_24h"`
	Low24h    decimal.Decimal `json:"low_24h"`
	Vol24h    decimal.Decimal `json:"vol_24h"`
	VolCcy24h decimal.Decimal `json:"vol_ccy_24h"`
	TS        int64           `json:"ts"`
}

// newTicker converts one wire ticker payload. Empty numeric fields decode to
// zero rather than failing the whole payload.
func newTicker(d *protocol.TickerData) Ticker {
	return Ticker{
		InstID:    d.InstID,
		Last:      parseDecimal(d.Last),
		LastSz:    parseDecimal(d.LastSz),
		BidPx:     parseDecimal(d.BidPx),
		BidSz:     parseDecimal(d.BidSz),
		AskPx:     parseDecimal(d.AskPx),
		AskSz:     parseDecimal(d.AskSz),
		Open24h:   parseDecimal(d.Open24h),
		High24h:   parseDecimal(d.High24h),
		Low24h:    parseDecimal(d.Low24h),
		Vol24h:    parseDecimal(d.Vol24h),
		VolCcy24h: parseDecimal(d.VolCcy24h),
		TS:        d.TS.Int64(),
	}
}

// Trade is one executed trade from the trades channel.
type Trade struct {
	ID    int64           `json:"id"`
	Price decimal.Decimal `json:"price"`
	Qty   decimal.Decimal `json:"qty"`
	Side  string          `json:"side"`
	TS    int64           `json:"ts"`
}

// Update is the event fanned out to the Publisher after a book mutation.
type Update struct {
	InstID  string           `json:"inst_id"`
	Channel protocol.Channel `json:"channel"`
	Seq     int64            `json:"seq"`
	TS      int64            `json:"ts"`
	Mid     decimal.Decimal  `json:"mid"`
	BestBid *BookLevel       `json:"best_bid,omitempty"`
	BestAsk *BookLevel       `json:"best_ask,omitempty"`
	Status  SyncStatus       `json:"status"`
	Reason  DesyncReason     `json:"reason,omitempty"`
}
