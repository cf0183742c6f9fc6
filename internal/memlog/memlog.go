// Package memlog is an in memory Log. Records are held as encoded frames so
// every read goes through the same codec as the durable logs.
package memlog

import (
	"fmt"
	"sync"

	"github.com/nbroyles/undolog/internal/record"
	"github.com/nbroyles/undolog/internal/storage"
)

type MemoryLog struct {
	frames [][]byte
	codec  record.Codec
	mu     sync.RWMutex
}

var _ storage.Log = &MemoryLog{}

func New() *MemoryLog {
	return &MemoryLog{}
}

func (l *MemoryLog) Append(rec *record.Record) (uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	rec.ID = uint64(len(l.frames)) + 1
	data, err := l.codec.Encode(rec)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", record.ErrWriteFailure, err)
	}
	l.frames = append(l.frames, data)

	return rec.ID, nil
}

func (l *MemoryLog) Read(id uint64) (*record.Record, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if id == 0 || id > uint64(len(l.frames)) {
		return nil, fmt.Errorf("%w: id=%d", record.ErrNotFound, id)
	}
	return l.codec.Decode(l.frames[id-1])
}

func (l *MemoryLog) Tail() (uint64, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	return uint64(len(l.frames)), len(l.frames) > 0
}

func (l *MemoryLog) Rewrite(records []*record.Record) error {
	frames := make([][]byte, 0, len(records))
	for i, rec := range records {
		if rec.ID != uint64(i)+1 {
			return fmt.Errorf("rewrite expects dense ids, record %d has id %d", i+1, rec.ID)
		}
		data, err := l.codec.Encode(rec)
		if err != nil {
			return fmt.Errorf("%w: %v", record.ErrWriteFailure, err)
		}
		frames = append(frames, data)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.frames = frames

	return nil
}
