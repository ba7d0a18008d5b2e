package bookfeed

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, "wss://ws.okx.com:8443/ws/v5/public", cfg.Endpoint)
	assert.Equal(t, 25, cfg.PingSeconds)
	assert.Equal(t, 30, cfg.HeartbeatSeconds)
	assert.Equal(t, 5, cfg.ResubscribeCooldownSeconds)
	assert.Equal(t, DefaultTradeLogCapacity, cfg.TradeLogCapacity)
	assert.NoError(t, cfg.Validate())
}

func TestLoadConfig(t *testing.T) {
	t.Run("OverlaysDefaults", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "config.yaml")
		require.NoError(t, os.WriteFile(path, []byte(`
heartbeat_seconds: 60
instruments:
  - inst_id: BTC-USDT-SWAP
    price_scale: 5
    qty_scale: 6
  - inst_id: ETH-USDT-SWAP
    price_scale: 4
    qty_scale: 4
    depth: 400
    checksum_levels: 25
    seq_policy: monotonic
kafka:
  brokers: ["localhost:9092"]
  topic: book-updates
metrics:
  addr: ":9100"
snapshot:
  dir: /var/lib/bookfeed/snap
  interval_seconds: 300
`), 0600))

		cfg, err := LoadConfig(path)
		require.NoError(t, err)

		// Unset keys keep their defaults.
		assert.Equal(t, "wss://ws.okx.com:8443/ws/v5/public", cfg.Endpoint)
		assert.Equal(t, 25, cfg.PingSeconds)
		assert.Equal(t, 60, cfg.HeartbeatSeconds)

		require.Len(t, cfg.Instruments, 2)
		assert.Equal(t, int32(5), cfg.Instruments[0].PriceScale)
		assert.Equal(t, "monotonic", cfg.Instruments[1].SeqPolicy)

		opts := cfg.Instruments[1].BookOptions()
		assert.Equal(t, SeqPolicyMonotonic, opts.SeqPolicy)
		assert.Equal(t, 400, opts.Depth)

		assert.Equal(t, []string{"localhost:9092"}, cfg.Kafka.Brokers)
		assert.Equal(t, "book-updates", cfg.Kafka.Topic)
		assert.Equal(t, ":9100", cfg.Metrics.Addr)
		assert.Equal(t, "/var/lib/bookfeed/snap", cfg.Snapshot.Dir)
		assert.Equal(t, 300, cfg.Snapshot.IntervalSeconds)
	})

	t.Run("MissingFile", func(t *testing.T) {
		_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
		assert.ErrorIs(t, err, os.ErrNotExist)
	})

	t.Run("BadYAML", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "config.yaml")
		require.NoError(t, os.WriteFile(path, []byte(`endpoint: [`), 0600))

		_, err := LoadConfig(path)
		assert.ErrorIs(t, err, ErrInvalidParam)
	})

	t.Run("InvalidContent", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "config.yaml")
		require.NoError(t, os.WriteFile(path, []byte(`
instruments:
  - inst_id: BTC-USDT-SWAP
  - inst_id: BTC-USDT-SWAP
`), 0600))

		_, err := LoadConfig(path)
		assert.ErrorIs(t, err, ErrInvalidParam)
	})
}

func TestConfigValidate(t *testing.T) {
	base := func() Config {
		cfg := DefaultConfig()
		cfg.Instruments = []InstrumentConfig{{InstID: "BTC-USDT-SWAP", PriceScale: 5, QtyScale: 6}}
		return cfg
	}

	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"EmptyEndpoint", func(c *Config) { c.Endpoint = "" }},
		{"ZeroPing", func(c *Config) { c.PingSeconds = 0 }},
		{"NegativeHeartbeat", func(c *Config) { c.HeartbeatSeconds = -1 }},
		{"InstrumentWithoutID", func(c *Config) { c.Instruments[0].InstID = "" }},
		{"DuplicateInstrument", func(c *Config) {
			c.Instruments = append(c.Instruments, c.Instruments[0])
		}},
		{"NegativeScale", func(c *Config) { c.Instruments[0].QtyScale = -1 }},
		{"NegativeDepth", func(c *Config) { c.Instruments[0].Depth = -1 }},
		{"UnknownSeqPolicy", func(c *Config) { c.Instruments[0].SeqPolicy = "bogus" }},
		{"KafkaTopicWithoutBrokers", func(c *Config) { c.Kafka.Topic = "book-updates" }},
		{"NegativeSnapshotInterval", func(c *Config) { c.Snapshot.IntervalSeconds = -10 }},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := base()
			tc.mutate(&cfg)
			assert.ErrorIs(t, cfg.Validate(), ErrInvalidParam)
		})
	}

	t.Run("ValidPasses", func(t *testing.T) {
		cfg := base()
		cfg.Kafka.Brokers = []string{"localhost:9092"}
		cfg.Kafka.Topic = "book-updates"
		assert.NoError(t, cfg.Validate())
	})

	t.Run("Intervals", func(t *testing.T) {
		cfg := base()
		assert.Equal(t, "25s", cfg.PingInterval().String())
		assert.Equal(t, "30s", cfg.HeartbeatInterval().String())
		assert.Equal(t, "5s", cfg.ResubscribeCooldown().String())
		assert.Equal(t, "0s", cfg.SnapshotInterval().String())
	})
}
