package pkg

import (
	"fmt"
	"io"
	"os"
	"path"

	"github.com/nbroyles/undolog/internal/memtable"
	"github.com/nbroyles/undolog/internal/pebblelog"
	"github.com/nbroyles/undolog/internal/record"
	"github.com/nbroyles/undolog/internal/storage"
	"github.com/nbroyles/undolog/internal/storage/badgerstore"
	"github.com/nbroyles/undolog/internal/wal"
	log "github.com/sirupsen/logrus"
)

type LogBackend string

const (
	// LogBackendFile keeps the log in a segment file tracked by a manifest
	LogBackendFile LogBackend = "file"
	// LogBackendPebble keeps the log in a pebble database
	LogBackendPebble LogBackend = "pebble"
)

type StoreBackend string

const (
	// StoreBackendBadger keeps the store in a badger database
	StoreBackendBadger StoreBackend = "badger"
	// StoreBackendMemory keeps the store in memory. It does not survive a
	// restart, so it is only useful while the process stays up.
	StoreBackendMemory StoreBackend = "memory"
)

const (
	pebbleDir = "log"
	storeDir  = "store"
)

// Config places an OpLog and its collaborators under DataDir/Name
type Config struct {
	Name         string
	DataDir      string
	LogBackend   LogBackend
	StoreBackend StoreBackend
	InitialState record.State
	// NoSync skips fsync in the pebble log and badger store. Only suitable for tests.
	NoSync bool
}

func (c Config) path() string {
	return path.Join(c.DataDir, c.Name)
}

// Create creates a new OpLog in cfg.DataDir. Create fails with ErrLogExists
// if one of the same name is already there.
func Create(cfg Config) (*OpLog, error) {
	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return nil, fmt.Errorf("could not create data dir %s: %w", cfg.DataDir, err)
	}

	if exists, err := Exists(cfg); err != nil {
		return nil, fmt.Errorf("could not create oplog: %w", err)
	} else if exists {
		return nil, fmt.Errorf("%w: %s. use Load instead", ErrLogExists, cfg.Name)
	}

	if err := os.Mkdir(cfg.path(), 0755); err != nil {
		return nil, fmt.Errorf("failed creating directory for oplog %s: %w", cfg.Name, err)
	}

	var l storage.Log
	var err error
	switch cfg.LogBackend {
	case LogBackendFile, "":
		l, err = wal.Create(cfg.Name, cfg.DataDir)
	default:
		l, err = openLog(cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("failed creating log for %s: %w", cfg.Name, err)
	}

	return attach(cfg, l)
}

// Load opens an existing OpLog. Load fails with ErrLogNotFound if the
// OpLog was never created.
func Load(cfg Config) (*OpLog, error) {
	if exists, err := Exists(cfg); err != nil {
		return nil, fmt.Errorf("failed opening oplog %s: %w", cfg.Name, err)
	} else if !exists {
		return nil, fmt.Errorf("%w: %s", ErrLogNotFound, cfg.path())
	}

	l, err := openLog(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed opening log for %s: %w", cfg.Name, err)
	}

	return attach(cfg, l)
}

// LoadOrCreate opens the OpLog if it exists or creates it if it doesn't
func LoadOrCreate(cfg Config) (*OpLog, error) {
	exists, err := Exists(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed checking if oplog %s already exists: %v", cfg.Name, err)
	}

	if exists {
		return Load(cfg)
	}
	return Create(cfg)
}

// Exists checks if an OpLog named cfg.Name already exists in cfg.DataDir
func Exists(cfg Config) (bool, error) {
	if _, err := os.Stat(cfg.path()); os.IsNotExist(err) {
		return false, nil
	} else if err != nil {
		return false, fmt.Errorf("failure checking to see if oplog already exists: %w", err)
	}
	return true, nil
}

func openLog(cfg Config) (storage.Log, error) {
	switch cfg.LogBackend {
	case LogBackendFile, "":
		return wal.Open(cfg.Name, cfg.DataDir)
	case LogBackendPebble:
		return pebblelog.Open(pebblelog.Options{Dir: path.Join(cfg.path(), pebbleDir), NoSync: cfg.NoSync})
	default:
		return nil, fmt.Errorf("unknown log backend %q", cfg.LogBackend)
	}
}

func openStore(cfg Config) (storage.Store, error) {
	switch cfg.StoreBackend {
	case StoreBackendBadger, "":
		bcfg := badgerstore.DefaultConfig(path.Join(cfg.path(), storeDir))
		bcfg.SyncWrites = !cfg.NoSync
		return badgerstore.Open(bcfg)
	case StoreBackendMemory:
		return memtable.New(), nil
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.StoreBackend)
	}
}

func attach(cfg Config, l storage.Log) (*OpLog, error) {
	closeLog := func() {
		if c, ok := l.(io.Closer); ok {
			c.Close()
		}
	}

	store, err := openStore(cfg)
	if err != nil {
		closeLog()
		return nil, fmt.Errorf("failed opening store for %s: %w", cfg.Name, err)
	}

	oplog, err := Open(Options{Log: l, Store: store, InitialState: cfg.InitialState})
	if err != nil {
		closeLog()
		if c, ok := store.(io.Closer); ok {
			c.Close()
		}
		return nil, err
	}

	log.WithFields(log.Fields{
		"name":  cfg.Name,
		"log":   cfg.LogBackend,
		"store": cfg.StoreBackend,
	}).Debug("attached oplog")

	return oplog, nil
}
