// Package pebblelog stores the record log in a Pebble database.
//
// Key layout (byte-wise, lexicographically sortable):
//   - m/tail          last assigned id (uint64 big-endian)
//   - r/{id_be8}      encoded record frame
package pebblelog

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	"github.com/cockroachdb/pebble"
	"github.com/nbroyles/undolog/internal/record"
	"github.com/nbroyles/undolog/internal/storage"
	log "github.com/sirupsen/logrus"
)

var (
	tailKey      = []byte("m/tail")
	recordPrefix = []byte("r/")
)

func recordKey(id uint64) []byte {
	k := make([]byte, 0, len(recordPrefix)+8)
	k = append(k, recordPrefix...)
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], id)
	return append(k, b[:]...)
}

// recordKeyEnd is the exclusive upper bound of every record key
func recordKeyEnd() []byte {
	return []byte("r0")
}

// Options configures the Pebble backed log.
type Options struct {
	// Dir is the path to the Pebble database directory.
	Dir string
	// NoSync skips fsync on commit. Only suitable for tests.
	NoSync bool
	// PebbleOptions allows advanced tuning of Pebble. If nil, defaults are used.
	PebbleOptions *pebble.Options
}

// Log is a storage.Log kept in Pebble
type Log struct {
	db    *pebble.DB
	codec record.Codec
	sync  *pebble.WriteOptions

	mu   sync.Mutex
	tail uint64
}

var _ storage.Log = &Log{}

// Open creates or opens the Pebble database at opts.Dir and loads the tail id
func Open(opts Options) (*Log, error) {
	if opts.Dir == "" {
		return nil, errors.New("pebblelog: Options.Dir is required")
	}

	po := opts.PebbleOptions
	if po == nil {
		po = &pebble.Options{}
	}

	db, err := pebble.Open(opts.Dir, po)
	if err != nil {
		return nil, fmt.Errorf("failed opening pebble log at %s: %w", opts.Dir, err)
	}

	l := &Log{db: db, sync: pebble.Sync}
	if opts.NoSync {
		l.sync = pebble.NoSync
	}

	meta, closer, err := db.Get(tailKey)
	if err == nil {
		if len(meta) >= 8 {
			l.tail = binary.BigEndian.Uint64(meta[:8])
		}
		closer.Close()
	} else if !errors.Is(err, pebble.ErrNotFound) {
		db.Close()
		return nil, fmt.Errorf("failed loading pebble log tail: %w", err)
	}

	log.WithFields(log.Fields{"dir": opts.Dir, "tail": l.tail}).Debug("opened pebble log")

	return l, nil
}

func encodeTail(tail uint64) []byte {
	var meta [8]byte
	binary.BigEndian.PutUint64(meta[:], tail)
	return meta[:]
}

// Append writes the record and the new tail in one batch
func (l *Log) Append(rec *record.Record) (uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	rec.ID = l.tail + 1
	data, err := l.codec.Encode(rec)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", record.ErrWriteFailure, err)
	}

	b := l.db.NewBatch()
	defer b.Close()

	if err := b.Set(recordKey(rec.ID), data, nil); err != nil {
		return 0, fmt.Errorf("%w: %v", record.ErrWriteFailure, err)
	}
	if err := b.Set(tailKey, encodeTail(rec.ID), nil); err != nil {
		return 0, fmt.Errorf("%w: %v", record.ErrWriteFailure, err)
	}
	if err := b.Commit(l.sync); err != nil {
		return 0, fmt.Errorf("%w: %v", record.ErrWriteFailure, err)
	}

	l.tail = rec.ID
	return rec.ID, nil
}

func (l *Log) Read(id uint64) (*record.Record, error) {
	l.mu.Lock()
	tail := l.tail
	l.mu.Unlock()

	if id == 0 || id > tail {
		return nil, fmt.Errorf("%w: id=%d", record.ErrNotFound, id)
	}

	val, closer, err := l.db.Get(recordKey(id))
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, fmt.Errorf("%w: id=%d", record.ErrNotFound, id)
	} else if err != nil {
		return nil, fmt.Errorf("failed reading record %d: %w", id, err)
	}
	defer closer.Close()

	rec, err := l.codec.Decode(val)
	if err != nil {
		return nil, err
	}
	if rec.ID != id {
		return nil, fmt.Errorf("%w: expected id %d, found %d", record.ErrCorruptRecord, id, rec.ID)
	}
	return rec, nil
}

func (l *Log) Tail() (uint64, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.tail, l.tail > 0
}

// Rewrite replaces every record in a single atomic batch
func (l *Log) Rewrite(records []*record.Record) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	b := l.db.NewBatch()
	defer b.Close()

	if err := b.DeleteRange(recordKey(0), recordKeyEnd(), nil); err != nil {
		return fmt.Errorf("%w: %v", record.ErrWriteFailure, err)
	}
	for i, rec := range records {
		if rec.ID != uint64(i)+1 {
			return fmt.Errorf("rewrite expects dense ids, record %d has id %d", i+1, rec.ID)
		}
		data, err := l.codec.Encode(rec)
		if err != nil {
			return fmt.Errorf("%w: %v", record.ErrWriteFailure, err)
		}
		if err := b.Set(recordKey(rec.ID), data, nil); err != nil {
			return fmt.Errorf("%w: %v", record.ErrWriteFailure, err)
		}
	}
	if err := b.Set(tailKey, encodeTail(uint64(len(records))), nil); err != nil {
		return fmt.Errorf("%w: %v", record.ErrWriteFailure, err)
	}
	if err := b.Commit(l.sync); err != nil {
		return fmt.Errorf("%w: %v", record.ErrWriteFailure, err)
	}

	l.tail = uint64(len(records))

	if err := l.db.Compact(recordKey(0), recordKeyEnd(), false); err != nil {
		log.Warnf("failed compacting pebble log after rewrite: %v", err)
	}
	return nil
}

func (l *Log) Close() error {
	if l == nil || l.db == nil {
		return nil
	}
	return l.db.Close()
}
