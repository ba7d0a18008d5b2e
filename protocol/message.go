package protocol

import (
	"strconv"
	"strings"
)

// Channel identifies the feed stream a message belongs to.
type Channel string

const (
	// ChannelBooks carries full-depth snapshots and incremental updates.
	ChannelBooks Channel = "books"
	// ChannelBboTbt carries tick-by-tick best bid/offer updates.
	ChannelBboTbt Channel = "bbo-tbt"
	// ChannelTickers carries 24h rolling ticker statistics.
	ChannelTickers Channel = "tickers"
	// ChannelTrades carries executed trades.
	ChannelTrades Channel = "trades"
)

// Action distinguishes depth baselines from deltas on the books channel.
type Action string

const (
	ActionSnapshot Action = "snapshot"
	ActionUpdate   Action = "update"
)

// Kind is the routing tag assigned by Decode.
type Kind uint8

const (
	KindOther Kind = iota
	KindSnapshot
	KindUpdate
	KindBbo
	KindTicker
	KindTrades
	KindEvent
	KindPong
)

func (k Kind) String() string {
	switch k {
	case KindSnapshot:
		return "snapshot"
	case KindUpdate:
		return "update"
	case KindBbo:
		return "bbo"
	case KindTicker:
		return "ticker"
	case KindTrades:
		return "trades"
	case KindEvent:
		return "event"
	case KindPong:
		return "pong"
	default:
		return "other"
	}
}

// Arg is the subscription argument echoed on every data message.
type Arg struct {
	Channel Channel `json:"channel"`
	InstID  string  `json:"instId"`
}

// Int64String decodes a JSON value that the feed serializes either as a number
// or as a quoted string. Sequence numbers and timestamps arrive in both forms.
type Int64String int64

// UnmarshalJSON accepts 123, "123" and null.
func (v *Int64String) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(data), `"`)
	if s == "" || s == "null" {
		*v = 0
		return nil
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return err
	}
	*v = Int64String(n)
	return nil
}

// Int64 returns the wrapped value.
func (v Int64String) Int64() int64 {
	return int64(v)
}

// BookData is one element of a books or bbo-tbt data array.
// Levels are [price, qty, deprecated, orderCount] with every field a string
// to prevent precision loss in JSON.
type BookData struct {
	Asks      [][]string   `json:"asks"`
	Bids      [][]string   `json:"bids"`
	TS        Int64String  `json:"ts"`
	Checksum  *Int64String `json:"checksum,omitempty"`
	SeqID     *Int64String `json:"seqId,omitempty"`
	PrevSeqID *Int64String `json:"prevSeqId,omitempty"`
}

// TickerData is one element of a tickers data array.
type TickerData struct {
	InstType  string      `json:"instType"`
	InstID    string      `json:"instId"`
	Last      string      `json:"last"`
	LastSz    string      `json:"lastSz"`
	AskPx     string      `json:"askPx"`
	AskSz     string      `json:"askSz"`
	BidPx     string      `json:"bidPx"`
	BidSz     string      `json:"bidSz"`
	Open24h   string      `json:"open24h"`
	High24h   string      `json:"high24h"`
	Low24h    string      `json:"low24h"`
	Vol24h    string      `json:"vol24h"`
	VolCcy24h string      `json:"volCcy24h"`
	TS        Int64String `json:"ts"`
}

// TradeData is one element of a trades data array.
type TradeData struct {
	InstID  string      `json:"instId"`
	TradeID string      `json:"tradeId"`
	Px      string      `json:"px"`
	Sz      string      `json:"sz"`
	Side    string      `json:"side"`
	TS      Int64String `json:"ts"`
}

// Message is the decoded form of one inbound frame. Kind selects which of the
// payload fields is populated; control frames carry Event/Code/Msg instead.
type Message struct {
	Kind    Kind
	Arg     Arg
	Action  Action
	Book    []BookData
	Tickers []TickerData
	Trades  []TradeData
	Event   string
	Code    string
	Msg     string
}
