package bookfeed

const (
	// EngineVersion is the current version of the reconstruction engine
	EngineVersion = "v1.0.0"

	// SnapshotSchemaVersion is the current version of the snapshot schema
	// Increment this when the snapshot format changes in a backward-incompatible way
	SnapshotSchemaVersion = 1
)

const (
	// DefaultChecksumLevels is the number of levels per side covered by the
	// feed's integrity checksum.
	DefaultChecksumLevels = 25

	// DefaultTradeLogCapacity bounds the per-instrument trade journal.
	DefaultTradeLogCapacity = 4096
)
