package wal

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"sync"

	"github.com/nbroyles/undolog/internal/manifest"
	"github.com/nbroyles/undolog/internal/record"
	"github.com/nbroyles/undolog/internal/storage"
	"github.com/nbroyles/undolog/internal/util"
	log "github.com/sirupsen/logrus"
)

var (
	// ErrNotExist is returned when opening a log that was never created
	ErrNotExist = errors.New("log does not exist")
	// ErrExists is returned when creating a log that already exists
	ErrExists = errors.New("log already exists")
)

// WAL is a file backed, append-only record log. Every append is fsynced
// before it is acknowledged. The live segment file is named by the manifest
// so that a compaction rewrite can swap segments atomically.
type WAL struct {
	name     string
	dataDir  string
	codec    record.Codec
	manifest *manifest.Manifest
	segment  *manifest.Entry
	logFile  *os.File

	// offsets[i] is the byte offset of the record with id i+1
	offsets []int64
	size    int64

	mu sync.Mutex
}

var _ storage.Log = &WAL{}

func segmentName(name string, generation uint64) string {
	return fmt.Sprintf("log_%s_%06d", name, generation)
}

// Exists checks if the named log has already been created in dataDir
func Exists(name string, dataDir string) (bool, error) {
	manifestPath := path.Join(dataDir, name, "MANIFEST")
	if _, err := os.Stat(manifestPath); os.IsNotExist(err) {
		return false, nil
	} else if err != nil {
		return false, fmt.Errorf("failure checking to see if log already exists: %w", err)
	}
	return true, nil
}

// Create creates a new, empty log. Create fails if the log already exists
func Create(name string, dataDir string) (*WAL, error) {
	if exists, err := Exists(name, dataDir); err != nil {
		return nil, err
	} else if exists {
		return nil, fmt.Errorf("%w: %s. use wal.Open instead", ErrExists, name)
	}

	logDir := path.Join(dataDir, name)
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return nil, fmt.Errorf("failed creating directory for log %s: %w", name, err)
	}

	segment := manifest.NewEntry(1, segmentName(name, 1))
	logFile, err := util.CreateFile(segment.Filename, name, dataDir)
	if err != nil {
		return nil, err
	}

	mfile, err := manifest.CreateManifestFile(name, dataDir)
	if err != nil {
		logFile.Close()
		return nil, err
	}
	man := manifest.NewManifest(mfile)
	if err := man.AddEntry(segment); err != nil {
		logFile.Close()
		man.Close()
		return nil, err
	}

	if err := util.SyncDir(logDir); err != nil {
		logFile.Close()
		man.Close()
		return nil, err
	}

	log.WithFields(log.Fields{"log": name, "segment": segment.Filename}).Debug("created log")

	return &WAL{
		name:     name,
		dataDir:  dataDir,
		manifest: man,
		segment:  segment,
		logFile:  logFile,
	}, nil
}

// Open opens an existing log and rebuilds its in memory id index.
// Open fails with ErrNotExist if the log was never created
func Open(name string, dataDir string) (*WAL, error) {
	found, man, err := manifest.LoadLatest(name, dataDir)
	if err != nil {
		return nil, fmt.Errorf("failed attempting to load manifest: %w", err)
	} else if !found {
		return nil, fmt.Errorf("%w: %s", ErrNotExist, path.Join(dataDir, name))
	}

	segment := man.Current()
	if segment == nil {
		man.Close()
		return nil, fmt.Errorf("%w: manifest for %s names no log segment", record.ErrCorruptRecord, name)
	}

	logFile, err := os.OpenFile(path.Join(dataDir, name, segment.Filename), os.O_RDWR, 0644)
	if err != nil {
		man.Close()
		return nil, fmt.Errorf("failed opening log segment %s: %w", segment.Filename, err)
	}

	w := &WAL{
		name:     name,
		dataDir:  dataDir,
		manifest: man,
		segment:  segment,
		logFile:  logFile,
	}

	if err := w.restore(); err != nil {
		w.Close()
		return nil, err
	}
	w.removeStaleSegments()

	return w, nil
}

// OpenOrCreate opens the log if it exists or creates it if it doesn't
func OpenOrCreate(name string, dataDir string) (*WAL, error) {
	exists, err := Exists(name, dataDir)
	if err != nil {
		return nil, err
	}

	if exists {
		return Open(name, dataDir)
	}
	return Create(name, dataDir)
}

// restore scans the segment, indexing every complete record. A damaged
// final frame is what a crash mid-append leaves behind, so it is truncated
// away. Damage anywhere before the final frame is reported as corruption.
func (w *WAL) restore() error {
	info, err := w.logFile.Stat()
	if err != nil {
		return fmt.Errorf("failed to stat log segment: %w", err)
	}
	fileSize := info.Size()

	if _, err := w.logFile.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("failed to seek log segment: %w", err)
	}
	reader := bufio.NewReader(w.logFile)

	offset := int64(0)
	torn := false
	header := make([]byte, record.FrameHeaderLen)
	for {
		if _, err := io.ReadFull(reader, header); err == io.EOF {
			break
		} else if err != nil {
			torn = true
			break
		}

		frameLen := int64(record.FrameLength(header))
		if offset+frameLen > fileSize {
			torn = true
			break
		}

		frame := make([]byte, frameLen)
		copy(frame, header)
		if _, err := io.ReadFull(reader, frame[record.FrameHeaderLen:]); err != nil {
			torn = true
			break
		}

		rec, err := w.codec.Decode(frame)
		if err == nil && rec.ID != uint64(len(w.offsets))+1 {
			err = fmt.Errorf("%w: expected id %d at offset %d, found %d",
				record.ErrCorruptRecord, len(w.offsets)+1, offset, rec.ID)
		}
		if err != nil {
			if offset+frameLen == fileSize {
				torn = true
				break
			}
			zeroed, zerr := w.zeroFrom(offset, fileSize)
			if zerr != nil {
				return fmt.Errorf("failed inspecting log %s after offset %d: %w", w.name, offset, zerr)
			}
			if zeroed {
				torn = true
				break
			}
			return fmt.Errorf("failed restoring log %s: %w", w.name, err)
		}

		w.offsets = append(w.offsets, offset)
		offset += frameLen
	}

	if torn {
		log.WithFields(log.Fields{
			"log":     w.name,
			"segment": w.segment.Filename,
			"offset":  offset,
			"dropped": fileSize - offset,
		}).Warn("truncating torn write at end of log")

		if err := w.logFile.Truncate(offset); err != nil {
			return fmt.Errorf("failed truncating torn log tail: %w", err)
		}
		if err := w.logFile.Sync(); err != nil {
			return fmt.Errorf("failed syncing truncated log: %w", err)
		}
	}

	w.size = offset
	return nil
}

// zeroFrom reports whether every byte from offset to the end of the segment
// is zero. Filesystems may extend a file before the appended data lands.
func (w *WAL) zeroFrom(offset int64, fileSize int64) (bool, error) {
	buf := make([]byte, 32*1024)
	for offset < fileSize {
		n := int64(len(buf))
		if remaining := fileSize - offset; remaining < n {
			n = remaining
		}
		if _, err := w.logFile.ReadAt(buf[:n], offset); err != nil {
			return false, err
		}
		for _, b := range buf[:n] {
			if b != 0 {
				return false, nil
			}
		}
		offset += n
	}
	return true, nil
}

func (w *WAL) removeStaleSegments() {
	matches, err := filepath.Glob(path.Join(w.dataDir, w.name, fmt.Sprintf("log_%s_*", w.name)))
	if err != nil {
		log.Warnf("failed listing log segments for %s: %v", w.name, err)
		return
	}

	for _, match := range matches {
		if filepath.Base(match) == w.segment.Filename {
			continue
		}
		if err := os.Remove(match); err != nil {
			log.Warnf("failed removing stale log segment %s: %v", match, err)
		} else {
			log.WithField("segment", match).Info("removed stale log segment")
		}
	}
}

// Append assigns the next id to the record and writes it to the log
func (w *WAL) Append(rec *record.Record) (uint64, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	rec.ID = uint64(len(w.offsets)) + 1
	data, err := w.codec.Encode(rec)
	if err != nil {
		return 0, fmt.Errorf("%w: failed encoding record: %v", record.ErrWriteFailure, err)
	}

	if n, err := w.logFile.WriteAt(data, w.size); err != nil || n != len(data) {
		w.rollbackTo(w.size)
		return 0, fmt.Errorf("%w: failed to write record to log, bytes written=%d, expected=%d: %v",
			record.ErrWriteFailure, n, len(data), err)
	}

	if err := w.logFile.Sync(); err != nil {
		w.rollbackTo(w.size)
		return 0, fmt.Errorf("%w: failed syncing record to disk: %v", record.ErrWriteFailure, err)
	}

	w.offsets = append(w.offsets, w.size)
	w.size += int64(len(data))

	return rec.ID, nil
}

func (w *WAL) rollbackTo(size int64) {
	if err := w.logFile.Truncate(size); err != nil {
		log.Warnf("failed truncating partial write from log %s: %v", w.name, err)
	}
}

// Read returns the record with the given id
func (w *WAL) Read(id uint64) (*record.Record, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if id == 0 || id > uint64(len(w.offsets)) {
		return nil, fmt.Errorf("%w: id=%d", record.ErrNotFound, id)
	}

	start := w.offsets[id-1]
	end := w.size
	if id < uint64(len(w.offsets)) {
		end = w.offsets[id]
	}

	frame := make([]byte, end-start)
	if _, err := w.logFile.ReadAt(frame, start); err != nil {
		return nil, fmt.Errorf("failed reading record %d from log: %w", id, err)
	}

	rec, err := w.codec.Decode(frame)
	if err != nil {
		return nil, err
	}
	if rec.ID != id {
		return nil, fmt.Errorf("%w: expected id %d, found %d", record.ErrCorruptRecord, id, rec.ID)
	}

	return rec, nil
}

// Tail returns the id of the last record in the log
func (w *WAL) Tail() (uint64, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()

	return uint64(len(w.offsets)), len(w.offsets) > 0
}

// Rewrite writes records to a brand new segment and then switches the
// manifest over to it. A crash before the manifest entry is durable leaves
// the old segment live; the unreferenced new one is removed on next open.
func (w *WAL) Rewrite(records []*record.Record) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	segment := manifest.NewEntry(w.segment.Generation+1, segmentName(w.name, w.segment.Generation+1))
	file, err := util.CreateFile(segment.Filename, w.name, w.dataDir)
	if err != nil {
		return fmt.Errorf("%w: %v", record.ErrWriteFailure, err)
	}

	abort := func(cause error) error {
		file.Close()
		os.Remove(file.Name())
		return fmt.Errorf("%w: failed rewriting log %s: %v", record.ErrWriteFailure, w.name, cause)
	}

	writer := bufio.NewWriter(file)
	offsets := make([]int64, 0, len(records))
	size := int64(0)
	for i, rec := range records {
		if rec.ID != uint64(i)+1 {
			return abort(fmt.Errorf("rewrite expects dense ids, record %d has id %d", i+1, rec.ID))
		}
		data, err := w.codec.Encode(rec)
		if err != nil {
			return abort(err)
		}
		if _, err := writer.Write(data); err != nil {
			return abort(err)
		}
		offsets = append(offsets, size)
		size += int64(len(data))
	}
	if err := writer.Flush(); err != nil {
		return abort(err)
	}
	if err := file.Sync(); err != nil {
		return abort(err)
	}

	if err := w.manifest.AddEntry(segment); err != nil {
		return abort(err)
	}
	if err := util.SyncDir(path.Join(w.dataDir, w.name)); err != nil {
		log.Warnf("failed syncing log directory after rewrite: %v", err)
	}

	old := w.logFile
	oldName := old.Name()
	w.logFile = file
	w.segment = segment
	w.offsets = offsets
	w.size = size

	old.Close()
	if err := os.Remove(oldName); err != nil {
		log.Warnf("failed removing replaced log segment %s: %v", oldName, err)
	}

	log.WithFields(log.Fields{"log": w.name, "segment": segment.Filename, "records": len(records)}).
		Info("rewrote log")

	return nil
}

// Size returns the number of bytes in the live segment
func (w *WAL) Size() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()

	return w.size
}

// Segment returns the filename of the live segment
func (w *WAL) Segment() string {
	w.mu.Lock()
	defer w.mu.Unlock()

	return w.segment.Filename
}

// Close closes the segment and manifest files
func (w *WAL) Close() error {
	var firstErr error
	if w.logFile != nil {
		firstErr = w.logFile.Close()
	}
	if err := w.manifest.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}
