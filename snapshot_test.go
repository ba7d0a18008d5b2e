package bookfeed

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSnapshotRoundTrip(t *testing.T) {
	tmpDir, err := os.MkdirTemp("", "snapshot_test")
	require.NoError(t, err)
	defer os.RemoveAll(tmpDir)
	snapDir := filepath.Join(tmpDir, "snap")

	// 1. Build a set with two instruments in different sync states.
	set, _ := newTestSet(t)
	_, err = set.Track("ETH-USDT-SWAP", BookOptions{PriceScale: 2, QtyScale: 4})
	require.NoError(t, err)

	_, err = set.Dispatch([]byte(rawSnapshot))
	require.NoError(t, err)
	_, err = set.Dispatch([]byte(rawGapUpdate))
	require.NoError(t, err)
	require.Equal(t, StatusDesynced, set.Book(testInstID).Status())

	_, err = set.Dispatch([]byte(`{"arg":{"channel":"books","instId":"ETH-USDT-SWAP"},"action":"snapshot","data":[{"asks":[["2000.50","10"]],"bids":[["2000.00","12"]],"ts":"1697026700000","seqId":77}]}`))
	require.NoError(t, err)

	// 2. Write the snapshot.
	meta, err := set.WriteSnapshot(snapDir)
	require.NoError(t, err)
	require.NotNil(t, meta)
	assert.Equal(t, SnapshotSchemaVersion, meta.SchemaVersion)
	assert.Equal(t, EngineVersion, meta.EngineVersion)
	assert.NotEmpty(t, meta.SnapshotID)
	assert.NotZero(t, meta.Timestamp)
	assert.NotZero(t, meta.SnapshotChecksum)

	assert.FileExists(t, filepath.Join(snapDir, "snapshot.bin"))
	assert.FileExists(t, filepath.Join(snapDir, "metadata.json"))

	metaContent, err := os.ReadFile(filepath.Join(snapDir, "metadata.json"))
	require.NoError(t, err)
	var readMeta SnapshotMetadata
	require.NoError(t, json.Unmarshal(metaContent, &readMeta))
	assert.Equal(t, meta.SnapshotID, readMeta.SnapshotID)
	assert.Equal(t, meta.SnapshotChecksum, readMeta.SnapshotChecksum)

	// 3. Restore into a fresh set.
	restoredSet := NewBookSet(nil)
	restoredMeta, err := restoredSet.RestoreSnapshot(snapDir)
	require.NoError(t, err)
	assert.Equal(t, meta.SnapshotID, restoredMeta.SnapshotID)
	assert.Equal(t, 2, restoredSet.Len())

	// 4. Verify restored state, desync flag included.
	btc := restoredSet.Book(testInstID)
	require.NotNil(t, btc)
	assert.Equal(t, StatusDesynced, btc.Status())
	assert.Equal(t, ReasonGap, btc.Reason())
	assert.Equal(t, set.Book(testInstID).LastSeq(), btc.LastSeq())
	assert.Equal(t, set.Book(testInstID).BidDepth(), btc.BidDepth())

	cs, ok := btc.LastChecksum()
	require.True(t, ok)
	wantCs, _ := set.Book(testInstID).LastChecksum()
	assert.Equal(t, wantCs, cs)

	wantBids, wantAsks := set.Book(testInstID).TopLevels(100)
	gotBids, gotAsks := btc.TopLevels(100)
	assert.Equal(t, wantBids, gotBids)
	assert.Equal(t, wantAsks, gotAsks)

	eth := restoredSet.Book("ETH-USDT-SWAP")
	require.NotNil(t, eth)
	assert.Equal(t, StatusSynced, eth.Status())
	assert.Equal(t, int64(77), eth.LastSeq())
	assert.NotNil(t, restoredSet.Trades("ETH-USDT-SWAP"))

	// 5. The restored set keeps consuming where the old one stopped.
	res, err := restoredSet.Dispatch([]byte(`{"arg":{"channel":"books","instId":"ETH-USDT-SWAP"},"action":"update","data":[{"asks":[],"bids":[["1999.50","3"]],"ts":"1697026700100","seqId":78,"prevSeqId":77}]}`))
	require.NoError(t, err)
	assert.True(t, res.Changed)
	assert.Equal(t, StatusSynced, res.Status)
	assert.Equal(t, 2, eth.BidDepth())
}

func TestSnapshotOverwrites(t *testing.T) {
	tmpDir, err := os.MkdirTemp("", "snapshot_test")
	require.NoError(t, err)
	defer os.RemoveAll(tmpDir)
	snapDir := filepath.Join(tmpDir, "snap")

	set, _ := newTestSet(t)
	_, err = set.Dispatch([]byte(rawSnapshot))
	require.NoError(t, err)

	first, err := set.WriteSnapshot(snapDir)
	require.NoError(t, err)

	_, err = set.Dispatch([]byte(rawUpdate))
	require.NoError(t, err)

	second, err := set.WriteSnapshot(snapDir)
	require.NoError(t, err)
	assert.NotEqual(t, first.SnapshotID, second.SnapshotID)

	// A restore after the overwrite sees the second capture.
	restoredSet := NewBookSet(nil)
	_, err = restoredSet.RestoreSnapshot(snapDir)
	require.NoError(t, err)
	assert.Equal(t, int64(11), restoredSet.Book(testInstID).LastSeq())
}

func TestSnapshotCorruption(t *testing.T) {
	writeSnapshot := func(t *testing.T) string {
		t.Helper()

		tmpDir, err := os.MkdirTemp("", "snapshot_test")
		require.NoError(t, err)
		t.Cleanup(func() { os.RemoveAll(tmpDir) })
		snapDir := filepath.Join(tmpDir, "snap")

		set, _ := newTestSet(t)
		_, err = set.Dispatch([]byte(rawSnapshot))
		require.NoError(t, err)
		_, err = set.WriteSnapshot(snapDir)
		require.NoError(t, err)
		return snapDir
	}

	t.Run("FlippedByte", func(t *testing.T) {
		snapDir := writeSnapshot(t)
		binPath := filepath.Join(snapDir, "snapshot.bin")

		data, err := os.ReadFile(binPath)
		require.NoError(t, err)
		data[10] ^= 0xFF
		require.NoError(t, os.WriteFile(binPath, data, 0600))

		_, err = NewBookSet(nil).RestoreSnapshot(snapDir)
		assert.ErrorIs(t, err, ErrSnapshotCorrupted)
	})

	t.Run("FlippedByteWithPatchedFileChecksum", func(t *testing.T) {
		snapDir := writeSnapshot(t)
		binPath := filepath.Join(snapDir, "snapshot.bin")
		metaPath := filepath.Join(snapDir, "metadata.json")

		data, err := os.ReadFile(binPath)
		require.NoError(t, err)
		data[10] ^= 0xFF
		require.NoError(t, os.WriteFile(binPath, data, 0600))

		// Re-stamping the whole-file checksum must not help: the segment
		// checksum still catches the damage.
		metaBytes, err := os.ReadFile(metaPath)
		require.NoError(t, err)
		var meta SnapshotMetadata
		require.NoError(t, json.Unmarshal(metaBytes, &meta))
		meta.SnapshotChecksum, err = calculateFileCRC32(binPath)
		require.NoError(t, err)
		metaBytes, err = json.Marshal(&meta)
		require.NoError(t, err)
		require.NoError(t, os.WriteFile(metaPath, metaBytes, 0600))

		_, err = NewBookSet(nil).RestoreSnapshot(snapDir)
		require.ErrorIs(t, err, ErrSnapshotCorrupted)
		assert.Contains(t, err.Error(), "checksum mismatch for instrument")
	})

	t.Run("TruncatedFile", func(t *testing.T) {
		snapDir := writeSnapshot(t)
		binPath := filepath.Join(snapDir, "snapshot.bin")

		require.NoError(t, os.Truncate(binPath, 2))

		_, err := NewBookSet(nil).RestoreSnapshot(snapDir)
		assert.ErrorIs(t, err, ErrSnapshotCorrupted)
	})

	t.Run("MangledMetadata", func(t *testing.T) {
		snapDir := writeSnapshot(t)

		require.NoError(t, os.WriteFile(filepath.Join(snapDir, "metadata.json"), []byte("{"), 0600))

		_, err := NewBookSet(nil).RestoreSnapshot(snapDir)
		assert.ErrorIs(t, err, ErrSnapshotCorrupted)
	})

	t.Run("UnsupportedSchema", func(t *testing.T) {
		snapDir := writeSnapshot(t)
		metaPath := filepath.Join(snapDir, "metadata.json")

		metaBytes, err := os.ReadFile(metaPath)
		require.NoError(t, err)
		var meta SnapshotMetadata
		require.NoError(t, json.Unmarshal(metaBytes, &meta))
		meta.SchemaVersion = 99
		metaBytes, err = json.Marshal(&meta)
		require.NoError(t, err)
		require.NoError(t, os.WriteFile(metaPath, metaBytes, 0600))

		_, err = NewBookSet(nil).RestoreSnapshot(snapDir)
		assert.ErrorIs(t, err, ErrSnapshotCorrupted)
	})

	t.Run("MissingDirectory", func(t *testing.T) {
		_, err := NewBookSet(nil).RestoreSnapshot(filepath.Join(os.TempDir(), "does-not-exist"))
		assert.ErrorIs(t, err, os.ErrNotExist)
	})
}
