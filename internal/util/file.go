package util

import (
	"fmt"
	"os"
	"path"
)

// CreateFile is a helper for the log segments, the manifest and anything else
// that needs to create a brand new file inside a log directory
func CreateFile(filename string, name string, dataDir string) (*os.File, error) {
	filePath := path.Join(dataDir, name, filename)
	if _, err := os.Stat(filePath); !os.IsNotExist(err) {
		if err != nil {
			return nil, fmt.Errorf("failure checking for %s existence: %w", filePath, err)
		}
		return nil, fmt.Errorf("attempting to create %s but already exists", filePath)
	}

	file, err := os.OpenFile(filePath, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		return nil, fmt.Errorf("could not create %s file: %w", filePath, err)
	}

	return file, nil
}

// SyncDir fsyncs a directory so that file creations and removals inside it are durable
func SyncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return fmt.Errorf("could not open directory %s: %w", dir, err)
	}
	defer d.Close()

	if err := d.Sync(); err != nil {
		return fmt.Errorf("could not sync directory %s: %w", dir, err)
	}
	return nil
}
