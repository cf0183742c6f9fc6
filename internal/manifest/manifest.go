package manifest

import (
	"fmt"
	"io"
	"os"
	"path"

	"github.com/nbroyles/undolog/internal/util"
	log "github.com/sirupsen/logrus"
)

const manifestFile = "MANIFEST"

// Manifest is an append-only list of the log segment files that have been
// live for a log directory. The last entry is the current segment.
type Manifest struct {
	entries []*Entry
	writer  io.Writer
	codec   Codec
}

type Entry struct {
	Generation uint64
	Filename   string
}

func NewEntry(generation uint64, filename string) *Entry {
	return &Entry{Generation: generation, Filename: filename}
}

func NewManifest(writer io.Writer) *Manifest {
	return &Manifest{writer: writer}
}

// CreateManifestFile creates a new, empty manifest file for the named log
func CreateManifestFile(name string, dataDir string) (*os.File, error) {
	return util.CreateFile(manifestFile, name, dataDir)
}

// LoadLatest loads the manifest for the named log. A damaged trailing entry,
// left by a crash mid-write, is discarded and truncated away.
func LoadLatest(name string, dataDir string) (bool, *Manifest, error) {
	manifestPath := path.Join(dataDir, name, manifestFile)
	file, err := os.OpenFile(manifestPath, os.O_RDWR, 0644)
	if os.IsNotExist(err) {
		return false, nil, nil
	} else if err != nil {
		return false, nil, fmt.Errorf("failed opening manifest %s: %w", manifestPath, err)
	}

	man := &Manifest{writer: file}
	good := int64(0)
	for {
		entry, n, err := man.codec.DecodeEntry(file)
		if err == io.EOF {
			break
		} else if err != nil {
			log.WithFields(log.Fields{"manifest": manifestPath, "offset": good, "bytes": n}).
				Warn("discarding damaged trailing manifest entry")
			break
		}
		man.entries = append(man.entries, entry)
		good += int64(n)
	}

	if err := file.Truncate(good); err != nil {
		return false, nil, fmt.Errorf("failed truncating manifest to last good entry: %w", err)
	}
	if _, err := file.Seek(good, io.SeekStart); err != nil {
		return false, nil, fmt.Errorf("failed seeking manifest: %w", err)
	}

	return true, man, nil
}

// AddEntry appends entry to the manifest, syncing when backed by a file
func (m *Manifest) AddEntry(entry *Entry) error {
	bytes, err := m.codec.EncodeEntry(entry)
	if err != nil {
		return fmt.Errorf("failed encoding manifest entry %v: %w", entry, err)
	}

	if written, err := m.writer.Write(bytes); err != nil {
		return fmt.Errorf("failed writing to manifest: %w", err)
	} else if written < len(bytes) {
		return fmt.Errorf("failed writing to manifest. wrote %d bytes, expected %d bytes", written, len(bytes))
	}

	if file, ok := m.writer.(*os.File); ok {
		if err := file.Sync(); err != nil {
			return fmt.Errorf("failed syncing manifest: %w", err)
		}
	}

	m.entries = append(m.entries, entry)
	return nil
}

// Current returns the newest entry, or nil if the manifest is empty
func (m *Manifest) Current() *Entry {
	if len(m.entries) == 0 {
		return nil
	}
	return m.entries[len(m.entries)-1]
}

// Close closes the underlying writer if it can be closed
func (m *Manifest) Close() error {
	if closer, ok := m.writer.(io.Closer); ok {
		return closer.Close()
	}
	return nil
}
