package bookfeed

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config drives the reference feed consumer.
type Config struct {
	Endpoint                   string             `yaml:"endpoint"`
	PingSeconds                int                `yaml:"ping_seconds"`
	HeartbeatSeconds           int                `yaml:"heartbeat_seconds"`
	ResubscribeCooldownSeconds int                `yaml:"resubscribe_cooldown_seconds"`
	TradeLogCapacity           int                `yaml:"trade_log_capacity"`
	Instruments                []InstrumentConfig `yaml:"instruments"`
	Kafka                      struct {
		Brokers []string `yaml:"brokers"`
		Topic   string   `yaml:"topic"`
	} `yaml:"kafka"`
	Metrics struct {
		Addr string `yaml:"addr"`
	} `yaml:"metrics"`
	Snapshot struct {
		Dir             string `yaml:"dir"`
		IntervalSeconds int    `yaml:"interval_seconds"`
	} `yaml:"snapshot"`
}

// InstrumentConfig declares one instrument to track. Scales are the decimal
// exponents of the instrument's tick and lot sizes and must match the feed.
type InstrumentConfig struct {
	InstID         string `yaml:"inst_id"`
	PriceScale     int32  `yaml:"price_scale"`
	QtyScale       int32  `yaml:"qty_scale"`
	Depth          int    `yaml:"depth"`
	ChecksumLevels int    `yaml:"checksum_levels"`
	SeqPolicy      string `yaml:"seq_policy"`
}

// BookOptions converts the instrument declaration into book options.
func (ic InstrumentConfig) BookOptions() BookOptions {
	return BookOptions{
		PriceScale:     ic.PriceScale,
		QtyScale:       ic.QtyScale,
		Depth:          ic.Depth,
		ChecksumLevels: ic.ChecksumLevels,
		SeqPolicy:      SeqPolicy(ic.SeqPolicy),
	}
}

// DefaultConfig returns the configuration used when no file is given.
func DefaultConfig() Config {
	var c Config
	c.Endpoint = "wss://ws.okx.com:8443/ws/v5/public"
	c.PingSeconds = 25
	c.HeartbeatSeconds = 30
	c.ResubscribeCooldownSeconds = 5
	c.TradeLogCapacity = DefaultTradeLogCapacity
	return c
}

// LoadConfig reads a YAML file over the defaults and validates the result.
func LoadConfig(path string) (Config, error) {
	c := DefaultConfig()

	b, err := os.ReadFile(path)
	if err != nil {
		return c, err
	}
	if err := yaml.Unmarshal(b, &c); err != nil {
		return c, fmt.Errorf("%w: %s: %s", ErrInvalidParam, path, err)
	}
	if err := c.Validate(); err != nil {
		return c, err
	}
	return c, nil
}

// Validate rejects configurations the consumer cannot run with.
func (c *Config) Validate() error {
	if c.Endpoint == "" {
		return fmt.Errorf("%w: empty endpoint", ErrInvalidParam)
	}
	if c.PingSeconds <= 0 || c.HeartbeatSeconds <= 0 {
		return fmt.Errorf("%w: ping and heartbeat intervals must be positive", ErrInvalidParam)
	}

	seen := make(map[string]struct{}, len(c.Instruments))
	for _, ic := range c.Instruments {
		if ic.InstID == "" {
			return fmt.Errorf("%w: instrument without inst_id", ErrInvalidParam)
		}
		if _, dup := seen[ic.InstID]; dup {
			return fmt.Errorf("%w: duplicate instrument %s", ErrInvalidParam, ic.InstID)
		}
		seen[ic.InstID] = struct{}{}

		if ic.PriceScale < 0 || ic.QtyScale < 0 {
			return fmt.Errorf("%w: negative scale for %s", ErrInvalidParam, ic.InstID)
		}
		if ic.Depth < 0 || ic.ChecksumLevels < 0 {
			return fmt.Errorf("%w: negative depth for %s", ErrInvalidParam, ic.InstID)
		}
		switch SeqPolicy(ic.SeqPolicy) {
		case "", SeqPolicyPrevSeq, SeqPolicyMonotonic:
		default:
			return fmt.Errorf("%w: unknown seq policy %q for %s", ErrInvalidParam, ic.SeqPolicy, ic.InstID)
		}
	}

	if c.Kafka.Topic != "" && len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("%w: kafka topic without brokers", ErrInvalidParam)
	}
	if c.Snapshot.IntervalSeconds < 0 {
		return fmt.Errorf("%w: negative snapshot interval", ErrInvalidParam)
	}
	return nil
}

// PingInterval returns the app-level ping cadence.
func (c *Config) PingInterval() time.Duration {
	return time.Duration(c.PingSeconds) * time.Second
}

// HeartbeatInterval returns the status-log cadence.
func (c *Config) HeartbeatInterval() time.Duration {
	return time.Duration(c.HeartbeatSeconds) * time.Second
}

// ResubscribeCooldown returns the minimum delay between desync-triggered
// resubscribes of the same instrument.
func (c *Config) ResubscribeCooldown() time.Duration {
	return time.Duration(c.ResubscribeCooldownSeconds) * time.Second
}

// SnapshotInterval returns the persistence cadence, zero when disabled.
func (c *Config) SnapshotInterval() time.Duration {
	return time.Duration(c.Snapshot.IntervalSeconds) * time.Second
}
