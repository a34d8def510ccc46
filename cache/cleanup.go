package cache

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
)

// blobs younger than this are never collected, they may belong to a put
// whose meta file has not been swapped in yet
const sweepGrace = time.Minute

// Cleanup periodically evicts entries older than maxAge and collects
// payload blobs no meta file references anymore
func (s *Store) Cleanup(interval, maxAge time.Duration, quit <-chan struct{}) {
	if interval == 0 {
		return
	}
	ticker := time.NewTicker(interval)
	for {
		select {
		case <-ticker.C:
			s.sweep(maxAge)
		case <-quit:
			ticker.Stop()
			return
		}
	}
}

func (s *Store) sweep(maxAge time.Duration) {
	log.Debug("Started cache sweep")

	files, err := os.ReadDir(s.dir)
	if err != nil {
		log.Errorf("Failed to list cache dir: %s", err)
		return
	}

	blobsInUse := []string{}
	for _, f := range files {
		name := f.Name()
		if f.IsDir() || !strings.HasSuffix(name, metaExt) {
			continue
		}
		path := filepath.Join(s.dir, name)

		e, err := s.readMeta(path)
		if err != nil {
			log.Debugf("Removing broken cache entry %s: %s", name, err)
			s.remove(path)
			continue
		}
		if maxAge != 0 && time.Since(e.FetchedAt.Time()) > maxAge {
			log.Debugf("Entry %s has expired", e.Key())
			s.remove(path)
			continue
		}
		blobsInUse = append(blobsInUse, e.Blob)
	}

	for _, f := range files {
		name := f.Name()
		if f.IsDir() || strings.HasSuffix(name, metaExt) {
			continue
		}
		if inStringSlice(blobsInUse, name) {
			continue
		}
		info, err := f.Info()
		if err == nil && time.Since(info.ModTime()) < sweepGrace {
			continue
		}
		s.remove(filepath.Join(s.dir, name))
	}

	log.Debug("Finished cache sweep")
}

// readMeta loads a meta file without touching its payload blob
func (s *Store) readMeta(metaPath string) (*Entry, error) {
	data, err := os.ReadFile(metaPath)
	if err != nil {
		return nil, err
	}
	e := &Entry{}
	if err := json.Unmarshal(data, e); err != nil {
		return nil, err
	}

	return e, nil
}

func (s *Store) remove(path string) {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		log.Errorf("Failed to delete file %s: %s", path, err)
	}
}

func inStringSlice(list []string, s string) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}

	return false
}
