package bookfeed

import (
	"strconv"
	"sync"

	"github.com/huandu/skiplist"

	"github.com/0x5487/bookfeed/protocol"
)

// TradeLog is a bounded journal of recent executions for one instrument,
// ordered by trade id. Consumers that poll can resume from the last id they
// saw with Since; the oldest trades are evicted once capacity is exceeded.
type TradeLog struct {
	mu       sync.RWMutex
	capacity int
	trades   *skiplist.SkipList
}

// NewTradeLog creates an empty trade log. A non-positive capacity falls back
// to DefaultTradeLogCapacity.
func NewTradeLog(capacity int) *TradeLog {
	if capacity <= 0 {
		capacity = DefaultTradeLogCapacity
	}
	return &TradeLog{
		capacity: capacity,
		trades:   skiplist.New(skiplist.Int64),
	}
}

// Apply stores every trade carried by a decoded trades message and reports
// how many were new. Trades whose id does not parse are dropped one by one.
func (l *TradeLog) Apply(msg *protocol.Message) int {
	n := 0
	for i := range msg.Trades {
		t, ok := newTrade(&msg.Trades[i])
		if !ok {
			logger.Warn("dropping trade with unparsable id",
				"inst_id", msg.Trades[i].InstID, "trade_id", msg.Trades[i].TradeID)
			continue
		}
		if l.Add(t) {
			n++
		}
	}
	return n
}

// Add stores one trade. It returns false if a trade with the same id is
// already present; the feed redelivers trades across reconnects.
func (l *TradeLog) Add(t Trade) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.trades.Get(t.ID) != nil {
		return false
	}

	l.trades.Set(t.ID, t)
	for l.trades.Len() > l.capacity {
		l.trades.RemoveFront()
	}
	return true
}

// Recent returns up to n trades, newest first.
func (l *TradeLog) Recent(n int) []Trade {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if n > l.trades.Len() {
		n = l.trades.Len()
	}
	if n <= 0 {
		return nil
	}

	out := make([]Trade, 0, n)
	for el := l.trades.Back(); el != nil && len(out) < n; el = el.Prev() {
		out = append(out, el.Value.(Trade))
	}
	return out
}

// Since returns every stored trade with an id greater than the given one, in
// ascending id order.
func (l *TradeLog) Since(id int64) []Trade {
	l.mu.RLock()
	defer l.mu.RUnlock()

	el := l.trades.Find(id)
	if el != nil && el.Key().(int64) == id {
		el = el.Next()
	}

	var out []Trade
	for ; el != nil; el = el.Next() {
		out = append(out, el.Value.(Trade))
	}
	return out
}

// Len returns the number of stored trades.
func (l *TradeLog) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()

	return l.trades.Len()
}

// Capacity returns the eviction bound.
func (l *TradeLog) Capacity() int {
	return l.capacity
}

// newTrade converts one wire trade payload. The trade id must parse as an
// integer to serve as the log's ordering key.
func newTrade(d *protocol.TradeData) (Trade, bool) {
	id, err := strconv.ParseInt(d.TradeID, 10, 64)
	if err != nil {
		return Trade{}, false
	}
	return Trade{
		ID:    id,
		Price: parseDecimal(d.Px),
		Qty:   parseDecimal(d.Sz),
		Side:  d.Side,
		TS:    d.TS.Int64(),
	}, true
}
