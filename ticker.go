package bookfeed

import (
	"sync"

	"github.com/igrmk/treemap/v2"

	"github.com/0x5487/bookfeed/protocol"
)

// TickerStore keeps the latest 24h ticker per instrument. Instruments are
// held in an ordered map so iteration is deterministic regardless of the
// order subscriptions were established in.
type TickerStore struct {
	mu      sync.RWMutex
	tickers *treemap.TreeMap[string, Ticker]
}

// NewTickerStore creates an empty ticker store.
func NewTickerStore() *TickerStore {
	return &TickerStore{
		tickers: treemap.New[string, Ticker](),
	}
}

// Apply stores every ticker carried by a decoded tickers message and reports
// how many were stored.
func (s *TickerStore) Apply(msg *protocol.Message) int {
	n := 0
	for i := range msg.Tickers {
		s.Put(newTicker(&msg.Tickers[i]))
		n++
	}
	return n
}

// Put replaces the stored ticker for the instrument.
func (s *TickerStore) Put(t Ticker) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.tickers.Set(t.InstID, t)
}

// Get returns the latest ticker for the instrument.
func (s *TickerStore) Get(instID string) (Ticker, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.tickers.Get(instID)
}

// Each calls fn for every stored ticker in instrument order. Returning false
// stops the walk.
func (s *TickerStore) Each(fn func(t Ticker) bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for it := s.tickers.Iterator(); it.Valid(); it.Next() {
		if !fn(it.Value()) {
			return
		}
	}
}

// Len returns the number of instruments with a stored ticker.
func (s *TickerStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.tickers.Len()
}
