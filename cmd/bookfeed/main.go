package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/xid"

	bookfeed "github.com/0x5487/bookfeed"
	"github.com/0x5487/bookfeed/protocol"
)

const (
	handshakeTimeout = 10 * time.Second
	writeTimeout     = 10 * time.Second
	// The feed answers app-level pings; a minute of silence means the
	// connection is dead even if TCP has not noticed yet.
	readTimeout = 60 * time.Second
)

func main() {
	configPath := flag.String("config", "", "path to YAML config file")
	endpoint := flag.String("endpoint", "", "websocket endpoint override")
	inst := flag.String("inst", "BTC-USDT-SWAP", "instrument to track when no config file is given")
	depth := flag.Int("depth", 0, "levels kept per side when no config file is given (0 = default)")
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)
	bookfeed.SetLogger(logger)

	cfg, err := loadConfig(*configPath, *endpoint, *inst, *depth)
	if err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var metrics *bookfeed.Metrics
	if cfg.Metrics.Addr != "" {
		registry := prometheus.NewRegistry()
		metrics = bookfeed.NewMetrics(registry)
		go serveMetrics(ctx, logger, cfg.Metrics.Addr, registry)
	}

	set := bookfeed.NewBookSet(buildPublisher(cfg, metrics),
		bookfeed.WithMetrics(metrics),
		bookfeed.WithTradeLogCapacity(cfg.TradeLogCapacity))

	if cfg.Snapshot.Dir != "" {
		meta, err := set.RestoreSnapshot(cfg.Snapshot.Dir)
		switch {
		case err == nil:
			logger.Info("restored books from snapshot",
				"snapshot_id", meta.SnapshotID, "books", set.Len())
		case errors.Is(err, os.ErrNotExist):
			logger.Info("no snapshot to restore", "dir", cfg.Snapshot.Dir)
		default:
			logger.Warn("snapshot restore failed", "dir", cfg.Snapshot.Dir, "error", err)
		}
	}

	for _, ic := range cfg.Instruments {
		if _, err := set.Track(ic.InstID, ic.BookOptions()); err != nil {
			if errors.Is(err, bookfeed.ErrDuplicateInstrument) {
				continue // restored from snapshot
			}
			logger.Error("track instrument failed", "inst_id", ic.InstID, "error", err)
			os.Exit(1)
		}
	}

	c := &consumer{
		cfg:       cfg,
		set:       set,
		logger:    logger,
		lastResub: make(map[string]time.Time),
	}
	c.run(ctx)

	if cfg.Snapshot.Dir != "" {
		if meta, err := set.WriteSnapshot(cfg.Snapshot.Dir); err != nil {
			logger.Warn("final snapshot failed", "error", err)
		} else {
			logger.Info("final snapshot written", "snapshot_id", meta.SnapshotID)
		}
	}
	if err := set.Close(); err != nil {
		logger.Warn("close failed", "error", err)
	}
	logger.Info("shutdown complete")
}

// loadConfig resolves the effective configuration. Without a file, one
// instrument is synthesized from the flags; the default BTC-USDT-SWAP uses
// the contract's tick and lot exponents.
func loadConfig(path, endpoint, inst string, depth int) (bookfeed.Config, error) {
	var cfg bookfeed.Config
	if path != "" {
		var err error
		cfg, err = bookfeed.LoadConfig(path)
		if err != nil {
			return cfg, err
		}
	} else {
		cfg = bookfeed.DefaultConfig()
		cfg.Instruments = []bookfeed.InstrumentConfig{{
			InstID:     inst,
			PriceScale: 5,
			QtyScale:   6,
			Depth:      depth,
		}}
	}

	if endpoint != "" {
		cfg.Endpoint = endpoint
	}
	if len(cfg.Instruments) == 0 {
		return cfg, errors.New("no instruments configured")
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func buildPublisher(cfg bookfeed.Config, m *bookfeed.Metrics) bookfeed.Publisher {
	if cfg.Kafka.Topic != "" {
		return bookfeed.NewKafkaPublisher(cfg.Kafka.Brokers, cfg.Kafka.Topic, m)
	}
	return bookfeed.NewDiscardPublisher()
}

func serveMetrics(ctx context.Context, logger *slog.Logger, addr string, registry *prometheus.Registry) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 2 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	logger.Info("metrics listening", "addr", addr)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("metrics server error", "error", err)
	}
}

// consumer owns the websocket connection and feeds every frame into the book
// set. One consumer serves all configured instruments over one connection.
type consumer struct {
	cfg    bookfeed.Config
	set    *bookfeed.BookSet
	logger *slog.Logger

	connMu  sync.RWMutex
	conn    *websocket.Conn
	writeMu sync.Mutex

	lastResub map[string]time.Time
}

// run keeps a connection alive until the context is cancelled or the feed
// closes the session cleanly. Failed connections are retried with
// exponential backoff, reset after each successful subscribe.
func (c *consumer) run(ctx context.Context) {
	policy := backoff.NewExponentialBackOff()

	for {
		if ctx.Err() != nil {
			return
		}

		err := c.runConn(ctx, policy)
		if ctx.Err() != nil || err == nil {
			return
		}

		sleep := policy.NextBackOff()
		c.logger.Warn("connection lost", "error", err, "retry_in", sleep.String())
		select {
		case <-ctx.Done():
			return
		case <-time.After(sleep):
		}
	}
}

// runConn dials once and consumes frames until the connection dies. A nil
// return means a clean end of session, an error asks run for a reconnect.
func (c *consumer) runConn(ctx context.Context, policy *backoff.ExponentialBackOff) error {
	connID := xid.New().String()

	dialer := websocket.Dialer{HandshakeTimeout: handshakeTimeout}
	conn, _, err := dialer.DialContext(ctx, c.cfg.Endpoint, nil)
	if err != nil {
		return err
	}
	c.setConn(conn)
	defer c.closeConn()

	if err := c.subscribe(); err != nil {
		return err
	}
	policy.Reset()
	c.logger.Info("connected", "conn_id", connID, "endpoint", c.cfg.Endpoint)

	loopCtx, stop := context.WithCancel(ctx)
	defer stop()
	go c.pingLoop(loopCtx)
	go func() {
		// A close frame tells the feed we are leaving; closing the conn
		// unblocks the read loop.
		<-loopCtx.Done()
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		_ = conn.Close()
	}()

	lastHeartbeat := time.Now()
	lastSnapshot := time.Now()

	for {
		_ = conn.SetReadDeadline(time.Now().Add(readTimeout))
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.logger.Info("feed closed the session", "conn_id", connID)
				return nil
			}
			return err
		}

		c.handleFrame(raw)

		if time.Since(lastHeartbeat) >= c.cfg.HeartbeatInterval() {
			c.logBooks("periodic")
			lastHeartbeat = time.Now()
		}
		if c.cfg.Snapshot.Dir != "" && c.cfg.SnapshotInterval() > 0 &&
			time.Since(lastSnapshot) >= c.cfg.SnapshotInterval() {
			if meta, err := c.set.WriteSnapshot(c.cfg.Snapshot.Dir); err != nil {
				c.logger.Warn("snapshot failed", "error", err)
			} else {
				c.logger.Info("snapshot written", "snapshot_id", meta.SnapshotID)
			}
			lastSnapshot = time.Now()
		}
	}
}

func (c *consumer) handleFrame(raw []byte) {
	res, err := c.set.Dispatch(raw)
	if err != nil {
		if errors.Is(err, bookfeed.ErrShutdown) {
			return
		}
		c.logger.Warn("dispatch failed", "error", err)
		return
	}

	switch res.Kind {
	case protocol.KindSnapshot, protocol.KindUpdate, protocol.KindBbo:
		if res.Changed {
			c.logBook(res.InstID, res.Kind.String())
		}
		if res.Status == bookfeed.StatusDesynced {
			c.maybeResubscribe(res.InstID)
		}
	default:
	}
}

// logBook mirrors one book's headline state to the log.
func (c *consumer) logBook(instID, source string) {
	book := c.set.Book(instID)
	if book == nil {
		return
	}

	attrs := []any{
		"source", source,
		"inst_id", instID,
		"seq", book.LastSeq(),
		"ts", book.LastTS(),
		"status", string(book.Status()),
	}
	if reason := book.Reason(); reason != bookfeed.ReasonNone {
		attrs = append(attrs, "reason", string(reason))
	}
	if mid, ok := book.MidPrice(); ok {
		attrs = append(attrs, "mid", mid.String())
	}
	if bid, ok := book.BestBid(); ok {
		attrs = append(attrs, "bid", bid.Price.String()+"@"+bid.Qty.String())
	}
	if ask, ok := book.BestAsk(); ok {
		attrs = append(attrs, "ask", ask.Price.String()+"@"+ask.Qty.String())
	}
	if cs, ok := book.LastChecksum(); ok {
		attrs = append(attrs, "checksum", cs)
	}
	c.logger.Info("book state", attrs...)
}

func (c *consumer) logBooks(source string) {
	c.set.Range(func(book *bookfeed.Book) bool {
		c.logBook(book.InstID(), source)
		return true
	})
}

// maybeResubscribe re-requests the books stream for a desynced instrument so
// the feed sends a fresh snapshot. The cooldown stops a flapping instrument
// from hammering the feed with subscribe requests.
func (c *consumer) maybeResubscribe(instID string) {
	now := time.Now()
	if last, ok := c.lastResub[instID]; ok && now.Sub(last) < c.cfg.ResubscribeCooldown() {
		return
	}
	c.lastResub[instID] = now

	c.logger.Warn("resubscribing after desync", "inst_id", instID)
	args := []protocol.Arg{{Channel: protocol.ChannelBooks, InstID: instID}}
	if err := c.send(wsRequest{Op: "unsubscribe", Args: args}); err != nil {
		c.logger.Warn("unsubscribe failed", "inst_id", instID, "error", err)
		return
	}
	if err := c.send(wsRequest{Op: "subscribe", Args: args}); err != nil {
		c.logger.Warn("subscribe failed", "inst_id", instID, "error", err)
	}
}

// wsRequest is the feed's control frame for subscription changes.
type wsRequest struct {
	Op   string         `json:"op"`
	Args []protocol.Arg `json:"args"`
}

// subscribe requests every channel for every tracked instrument.
func (c *consumer) subscribe() error {
	channels := []protocol.Channel{
		protocol.ChannelBooks,
		protocol.ChannelBboTbt,
		protocol.ChannelTickers,
		protocol.ChannelTrades,
	}

	var args []protocol.Arg
	c.set.Range(func(book *bookfeed.Book) bool {
		for _, ch := range channels {
			args = append(args, protocol.Arg{Channel: ch, InstID: book.InstID()})
		}
		return true
	})

	return c.send(wsRequest{Op: "subscribe", Args: args})
}

func (c *consumer) pingLoop(ctx context.Context) {
	ticker := time.NewTicker(c.cfg.PingInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.write(websocket.TextMessage, []byte("ping")); err != nil {
				c.logger.Warn("ping failed", "error", err)
				return
			}
		}
	}
}

func (c *consumer) send(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return c.write(websocket.TextMessage, data)
}

func (c *consumer) write(msgType int, data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	c.connMu.RLock()
	conn := c.conn
	c.connMu.RUnlock()
	if conn == nil {
		return errors.New("not connected")
	}

	_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return conn.WriteMessage(msgType, data)
}

func (c *consumer) setConn(conn *websocket.Conn) {
	c.connMu.Lock()
	c.conn = conn
	c.connMu.Unlock()
}

func (c *consumer) closeConn() {
	c.connMu.Lock()
	defer c.connMu.Unlock()
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
}
