package bookfeed

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/rs/xid"

	"github.com/0x5487/bookfeed/structure"
)

// BookState contains the full observable state of a single Book.
type BookState struct {
	InstID       string            `json:"inst_id"`
	Options      BookOptions       `json:"options"`
	Bids         []structure.Level `json:"bids"` // Ordered list of bids (best price first)
	Asks         []structure.Level `json:"asks"` // Ordered list of asks (best price first)
	LastSeq      int64             `json:"last_seq"`
	LastTS       int64             `json:"last_ts"`
	LastChecksum *int64            `json:"last_checksum,omitempty"`
	Status       SyncStatus        `json:"status"`
	Reason       DesyncReason      `json:"reason,omitempty"`
}

// SnapshotMetadata holds the global metadata for a snapshot (stored in metadata.json).
type SnapshotMetadata struct {
	SchemaVersion    int    `json:"schema_version"`
	SnapshotID       string `json:"snapshot_id"`
	Timestamp        int64  `json:"timestamp"`         // Unix Nano
	EngineVersion    string `json:"engine_version"`    // Engine version
	SnapshotChecksum uint32 `json:"snapshot_checksum"` // CRC32 of the entire snapshot.bin file
}

// SnapshotFileFooter is the footer structure stored at the end of snapshot.bin.
// Layout: [BinaryData...][FooterJSON][FooterLength(4 bytes)]
type SnapshotFileFooter struct {
	Instruments []InstrumentSegment `json:"instruments"` // Index of instrument data in this file
}

// InstrumentSegment contains metadata for one instrument's data within the snapshot binary file.
type InstrumentSegment struct {
	InstID   string `json:"inst_id"`
	Offset   int64  `json:"offset"`   // Start offset in snapshot.bin (relative to file start)
	Length   int64  `json:"length"`   // Length in bytes
	Checksum uint32 `json:"checksum"` // CRC32 Checksum of this segment
}

// WriteSnapshot captures the state of all tracked books and writes it to the
// specified directory. It generates two files: `snapshot.bin` (binary data)
// and `metadata.json` (metadata). The directory is written under a temporary
// name and renamed into place, so readers never observe a partial snapshot.
//
// Call it from the dispatch goroutine, or while dispatch is quiesced, so each
// captured book is internally consistent.
func (s *BookSet) WriteSnapshot(outputDir string) (*SnapshotMetadata, error) {
	tmpDir := outputDir + ".tmp"
	if err := os.RemoveAll(tmpDir); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(tmpDir, 0755); err != nil {
		return nil, err
	}

	// Capture in instrument order so identical state produces identical bytes.
	states := make([]*BookState, 0)
	s.Range(func(book *Book) bool {
		states = append(states, book.State())
		return true
	})
	sort.Slice(states, func(i, j int) bool {
		return states[i].InstID < states[j].InstID
	})

	binPath := filepath.Join(tmpDir, "snapshot.bin")
	binFile, err := os.Create(binPath)
	if err != nil {
		return nil, err
	}

	segments := make([]InstrumentSegment, 0, len(states))
	currentOffset := int64(0)

	for _, st := range states {
		data, err := json.Marshal(st)
		if err != nil {
			binFile.Close()
			return nil, err
		}

		n, err := binFile.Write(data)
		if err != nil {
			binFile.Close()
			return nil, err
		}

		segments = append(segments, InstrumentSegment{
			InstID:   st.InstID,
			Offset:   currentOffset,
			Length:   int64(n),
			Checksum: crc32.ChecksumIEEE(data),
		})
		currentOffset += int64(n)
	}

	footer := SnapshotFileFooter{Instruments: segments}
	footerData, err := json.Marshal(footer)
	if err != nil {
		binFile.Close()
		return nil, err
	}

	if _, err := binFile.Write(footerData); err != nil {
		binFile.Close()
		return nil, err
	}

	if len(footerData) > 4294967295 {
		binFile.Close()
		return nil, errors.New("footer too large")
	}
	//nolint:gosec // Verified length above
	footerLen := uint32(len(footerData))
	if err := binary.Write(binFile, binary.BigEndian, footerLen); err != nil {
		binFile.Close()
		return nil, err
	}

	// Flush before checksumming the file contents.
	if err := binFile.Sync(); err != nil {
		binFile.Close()
		return nil, err
	}
	if err := binFile.Close(); err != nil {
		return nil, err
	}

	snapshotChecksum, err := calculateFileCRC32(binPath)
	if err != nil {
		return nil, err
	}

	meta := &SnapshotMetadata{
		SchemaVersion:    SnapshotSchemaVersion,
		SnapshotID:       xid.New().String(),
		Timestamp:        time.Now().UnixNano(),
		EngineVersion:    EngineVersion,
		SnapshotChecksum: snapshotChecksum,
	}

	metaBytes, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return nil, err
	}

	metaPath := filepath.Join(tmpDir, "metadata.json")
	if err := os.WriteFile(metaPath, metaBytes, 0600); err != nil {
		return nil, err
	}

	// Atomic publish: replace the old snapshot dir in one rename.
	if err := os.RemoveAll(outputDir); err != nil {
		return nil, err
	}
	if err := os.Rename(tmpDir, outputDir); err != nil {
		return nil, err
	}

	return meta, nil
}

// RestoreSnapshot rebuilds tracked books from a snapshot in the specified
// directory. Every checksum is verified before any state is applied;
// ErrSnapshotCorrupted reports a file that does not match its recorded
// checksums. Restored books keep their recorded sync status and are
// re-baselined by the next subscription snapshot.
func (s *BookSet) RestoreSnapshot(inputDir string) (*SnapshotMetadata, error) {
	metaPath := filepath.Join(inputDir, "metadata.json")
	metaBytes, err := os.ReadFile(metaPath)
	if err != nil {
		return nil, err
	}

	var meta SnapshotMetadata
	if err := json.Unmarshal(metaBytes, &meta); err != nil {
		return nil, fmt.Errorf("%w: metadata: %s", ErrSnapshotCorrupted, err)
	}
	if meta.SchemaVersion != SnapshotSchemaVersion {
		return nil, fmt.Errorf("%w: unsupported schema version %d", ErrSnapshotCorrupted, meta.SchemaVersion)
	}

	binPath := filepath.Join(inputDir, "snapshot.bin")
	binFile, err := os.Open(binPath)
	if err != nil {
		return nil, err
	}
	defer binFile.Close()

	fileChecksum, err := calculateFileCRC32(binPath)
	if err != nil {
		return nil, err
	}
	if fileChecksum != meta.SnapshotChecksum {
		return nil, fmt.Errorf("%w: snapshot.bin checksum mismatch", ErrSnapshotCorrupted)
	}

	stat, err := binFile.Stat()
	if err != nil {
		return nil, err
	}
	fileSize := stat.Size()
	if fileSize < 4 {
		return nil, fmt.Errorf("%w: snapshot.bin truncated", ErrSnapshotCorrupted)
	}

	footerLenBytes := make([]byte, 4)
	if _, err := binFile.ReadAt(footerLenBytes, fileSize-4); err != nil {
		return nil, err
	}
	footerLen := binary.BigEndian.Uint32(footerLenBytes)

	footerOffset := fileSize - 4 - int64(footerLen)
	if footerOffset < 0 {
		return nil, fmt.Errorf("%w: footer length exceeds file size", ErrSnapshotCorrupted)
	}
	footerBytes := make([]byte, footerLen)
	if _, err := binFile.ReadAt(footerBytes, footerOffset); err != nil {
		return nil, err
	}

	var footer SnapshotFileFooter
	if err := json.Unmarshal(footerBytes, &footer); err != nil {
		return nil, fmt.Errorf("%w: footer: %s", ErrSnapshotCorrupted, err)
	}

	for _, segment := range footer.Instruments {
		segmentData := make([]byte, segment.Length)
		if _, err := binFile.ReadAt(segmentData, segment.Offset); err != nil {
			return nil, err
		}

		if crc32.ChecksumIEEE(segmentData) != segment.Checksum {
			return nil, fmt.Errorf("%w: checksum mismatch for instrument %s", ErrSnapshotCorrupted, segment.InstID)
		}

		var st BookState
		if err := json.Unmarshal(segmentData, &st); err != nil {
			return nil, fmt.Errorf("%w: segment %s: %s", ErrSnapshotCorrupted, segment.InstID, err)
		}

		if _, tracked := s.books.Load(st.InstID); !tracked {
			s.bookCount.Add(1)
		}
		s.books.Store(st.InstID, restoreState(&st))
		if s.Trades(st.InstID) == nil {
			s.tradeLogs.Store(st.InstID, NewTradeLog(s.tradeCap))
		}
	}
	s.metrics.setBooks(int(s.bookCount.Load()))

	return &meta, nil
}

// calculateFileCRC32 computes the IEEE CRC32 of a whole file.
func calculateFileCRC32(path string) (uint32, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	h := crc32.NewIEEE()
	if _, err := io.Copy(h, f); err != nil {
		return 0, err
	}
	return h.Sum32(), nil
}
