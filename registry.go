package bookfeed

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/0x5487/bookfeed/protocol"
)

// BookSet manages the books, tickers and trade logs of multiple instruments
// and routes raw feed frames to them.
type BookSet struct {
	isShutdown atomic.Bool
	books      sync.Map
	tradeLogs  sync.Map
	bookCount  atomic.Int64
	tickers    *TickerStore
	publisher  Publisher
	metrics    *Metrics
	tradeCap   int
}

// BookSetOption configures a BookSet.
type BookSetOption func(*BookSet)

// WithMetrics attaches instrumentation counters.
func WithMetrics(m *Metrics) BookSetOption {
	return func(s *BookSet) {
		s.metrics = m
	}
}

// WithTradeLogCapacity bounds each instrument's trade log.
func WithTradeLogCapacity(n int) BookSetOption {
	return func(s *BookSet) {
		s.tradeCap = n
	}
}

// NewBookSet creates an empty book set. A nil publisher discards updates.
func NewBookSet(publisher Publisher, opts ...BookSetOption) *BookSet {
	if publisher == nil {
		publisher = NewDiscardPublisher()
	}

	s := &BookSet{
		books:     sync.Map{},
		tickers:   NewTickerStore(),
		publisher: publisher,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Track registers an instrument and returns its new book. Frames for
// instruments that were never tracked are dropped by Dispatch.
func (s *BookSet) Track(instID string, opts BookOptions) (*Book, error) {
	if s.isShutdown.Load() {
		return nil, ErrShutdown
	}
	if instID == "" {
		return nil, fmt.Errorf("%w: empty instId", ErrInvalidParam)
	}
	if opts.PriceScale < 0 || opts.QtyScale < 0 {
		return nil, fmt.Errorf("%w: negative scale for %s", ErrInvalidParam, instID)
	}
	switch opts.SeqPolicy {
	case "", SeqPolicyPrevSeq, SeqPolicyMonotonic:
	default:
		return nil, fmt.Errorf("%w: unknown seq policy %q", ErrInvalidParam, opts.SeqPolicy)
	}

	book := NewBook(instID, opts)
	if _, loaded := s.books.LoadOrStore(instID, book); loaded {
		return nil, ErrDuplicateInstrument
	}
	s.tradeLogs.Store(instID, NewTradeLog(s.tradeCap))
	s.metrics.setBooks(int(s.bookCount.Add(1)))

	return book, nil
}

// Book retrieves the book for an instrument.
// Returns nil if the instrument is not tracked.
func (s *BookSet) Book(instID string) *Book {
	v, found := s.books.Load(instID)
	if !found {
		return nil
	}

	book, _ := v.(*Book)
	return book
}

// Trades retrieves the trade log for an instrument.
// Returns nil if the instrument is not tracked.
func (s *BookSet) Trades(instID string) *TradeLog {
	v, found := s.tradeLogs.Load(instID)
	if !found {
		return nil
	}

	log, _ := v.(*TradeLog)
	return log
}

// Tickers returns the shared ticker store.
func (s *BookSet) Tickers() *TickerStore {
	return s.tickers
}

// Range calls fn for every tracked book until fn returns false.
func (s *BookSet) Range(fn func(book *Book) bool) {
	s.books.Range(func(_, v any) bool {
		return fn(v.(*Book))
	})
}

// Len returns the number of tracked instruments.
func (s *BookSet) Len() int {
	return int(s.bookCount.Load())
}

// DispatchResult describes what one frame did: which instrument it touched,
// whether observable state changed and the book's sync state afterwards.
type DispatchResult struct {
	Kind    protocol.Kind
	InstID  string
	Changed bool
	Status  SyncStatus
	Reason  DesyncReason
}

// Dispatch decodes one raw frame and routes it to the owning book, ticker
// store or trade log. Frames for untracked instruments return ErrNotFound and
// are dropped. Control frames and unknown channels produce a no-op result.
//
// Dispatch is intended to be called from a single consumer loop; concurrent
// readers may use Book/Trades/Tickers/Range while it runs.
func (s *BookSet) Dispatch(raw []byte) (*DispatchResult, error) {
	if s.isShutdown.Load() {
		return nil, ErrShutdown
	}

	msg, err := protocol.Decode(raw)
	if err != nil {
		s.metrics.decodeError()
		return nil, err
	}

	res := &DispatchResult{Kind: msg.Kind, InstID: msg.Arg.InstID}

	switch msg.Kind {
	case protocol.KindSnapshot, protocol.KindUpdate:
		s.metrics.message(string(msg.Arg.Channel))
		book := s.Book(msg.Arg.InstID)
		if book == nil {
			return nil, s.dropUntracked(msg.Arg.InstID)
		}

		statusBefore := book.Status()
		res.Changed = book.Apply(msg)
		res.Status = book.Status()
		res.Reason = book.Reason()

		if res.Status == StatusDesynced && statusBefore != StatusDesynced {
			s.metrics.desync(res.Reason)
			logger.Warn("book desynced",
				"inst_id", book.InstID(), "reason", string(res.Reason), "seq", book.LastSeq())
		}
		if res.Changed {
			s.publishBook(book, msg.Arg.Channel)
		}

	case protocol.KindBbo:
		s.metrics.message(string(msg.Arg.Channel))
		book := s.Book(msg.Arg.InstID)
		if book == nil {
			return nil, s.dropUntracked(msg.Arg.InstID)
		}

		res.Changed = book.ApplyBbo(msg)
		res.Status = book.Status()
		res.Reason = book.Reason()
		if res.Changed {
			s.publishBbo(book)
		}

	case protocol.KindTicker:
		s.metrics.message(string(msg.Arg.Channel))
		if s.Book(msg.Arg.InstID) == nil {
			return nil, s.dropUntracked(msg.Arg.InstID)
		}
		res.Changed = s.tickers.Apply(msg) > 0

	case protocol.KindTrades:
		s.metrics.message(string(msg.Arg.Channel))
		log := s.Trades(msg.Arg.InstID)
		if log == nil {
			return nil, s.dropUntracked(msg.Arg.InstID)
		}
		res.Changed = log.Apply(msg) > 0

	case protocol.KindEvent:
		if msg.Event == "error" {
			logger.Warn("feed error event", "code", msg.Code, "msg", msg.Msg)
		}

	case protocol.KindPong, protocol.KindOther:
		// Nothing to route.
	}

	return res, nil
}

func (s *BookSet) dropUntracked(instID string) error {
	s.metrics.droppedMessage()
	return fmt.Errorf("%w: instrument %s is not tracked", ErrNotFound, instID)
}

// publishBook fans out a books-channel mutation.
func (s *BookSet) publishBook(book *Book, channel protocol.Channel) {
	u := &Update{
		InstID:  book.InstID(),
		Channel: channel,
		Seq:     book.LastSeq(),
		TS:      book.LastTS(),
		Status:  book.Status(),
		Reason:  book.Reason(),
	}
	if mid, ok := book.MidPrice(); ok {
		u.Mid = mid
	}
	if bid, ok := book.BestBid(); ok {
		u.BestBid = &bid
	}
	if ask, ok := book.BestAsk(); ok {
		u.BestAsk = &ask
	}
	s.publisher.Publish(u)
}

// publishBbo fans out an overlay mutation. The best levels come from the
// overlay; sequence and mid still describe the full-depth book.
func (s *BookSet) publishBbo(book *Book) {
	u := &Update{
		InstID:  book.InstID(),
		Channel: protocol.ChannelBboTbt,
		Seq:     book.LastSeq(),
		TS:      book.BboTS(),
		Status:  book.Status(),
		Reason:  book.Reason(),
	}
	if mid, ok := book.MidPrice(); ok {
		u.Mid = mid
	}
	if bid, ok := book.BboBid(); ok {
		u.BestBid = &bid
	}
	if ask, ok := book.BboAsk(); ok {
		u.BestAsk = &ask
	}
	s.publisher.Publish(u)
}

// Close flips the set into shutdown. Subsequent Dispatch and Track calls
// return ErrShutdown; tracked books stay readable.
func (s *BookSet) Close() error {
	if s.isShutdown.Swap(true) {
		return nil
	}
	return s.publisher.Close()
}
