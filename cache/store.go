package cache

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
)

var (
	// ErrEntryNotFound represents an error where a cache entry was not found
	ErrEntryNotFound = errors.New("cache entry not found")
)

const (
	filePerm os.FileMode = 0644
	dirPerm  os.FileMode = 0700

	metaExt = ".json"
	blobExt = ".blob"
	tmpExt  = ".tmp"
)

// NewStore returns a new Store instance backed by the provided directory.
// The key space is flat: one meta file and one blob file per entry.
func NewStore(dir string) (*Store, error) {
	if dir == "" {
		return nil, errors.New("cache dir not provided")
	}
	if err := os.MkdirAll(dir, dirPerm); err != nil {
		return nil, errors.Wrap(err, "failed to create cache dir")
	}

	return &Store{
		dir: dir,
		m:   &sync.Mutex{},
	}, nil
}

// Store represents an on-disk cache of calendar images
type Store struct {
	dir string
	// m serializes writers, readers rely on rename atomicity
	m *sync.Mutex
}

// Put stores a payload for the given date key and source tag.
// The payload is written to a fresh blob file first and the meta file is
// swapped in with an atomic rename, so a concurrent Get observes either the
// previous entry or the new one, never a partial write.
func (s *Store) Put(dateKey, source string, payload []byte, contentType string) (*Entry, error) {
	if dateKey == "" || source == "" {
		return nil, errors.New("date key and source must not be empty")
	}

	s.m.Lock()
	defer s.m.Unlock()

	e := &Entry{
		DateKey:     dateKey,
		Source:      source,
		ContentType: contentType,
		FetchedAt:   JSONTime(time.Now()),
		Blob:        s.generateBlobName(dateKey, source),
		Payload:     payload,
	}

	if err := os.WriteFile(filepath.Join(s.dir, e.Blob), payload, filePerm); err != nil {
		return nil, errors.Wrap(err, "failed to write payload blob")
	}

	data, err := json.MarshalIndent(e, "", "\t")
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal cache entry")
	}

	metaPath := filepath.Join(s.dir, e.Key()+metaExt)
	tmpPath := metaPath + "." + generateID(6) + tmpExt
	if err := os.WriteFile(tmpPath, data, filePerm); err != nil {
		return nil, errors.Wrap(err, "failed to write cache entry")
	}
	if err := os.Rename(tmpPath, metaPath); err != nil {
		return nil, errors.Wrap(err, "failed to swap in cache entry")
	}

	return e, nil
}

// Get returns the most recently fetched entry for the given date key,
// or ErrEntryNotFound when no usable entry exists
func (s *Store) Get(dateKey string) (*Entry, error) {
	return s.pick(func(name string) bool {
		return strings.HasPrefix(name, dateKey+"_")
	})
}

// Newest returns the most recently fetched entry across all date keys.
// Used as the stale fallback when every live source fails.
func (s *Store) Newest() (*Entry, error) {
	return s.pick(func(string) bool { return true })
}

// pick reads all meta files accepted by match and returns the newest entry
func (s *Store) pick(match func(name string) bool) (*Entry, error) {
	files, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list cache dir")
	}

	var newest *Entry
	for _, f := range files {
		name := f.Name()
		if f.IsDir() || !strings.HasSuffix(name, metaExt) || !match(name) {
			continue
		}
		e, err := s.readEntry(filepath.Join(s.dir, name))
		if err != nil {
			// a broken entry counts as a miss, the cleanup sweep removes it
			continue
		}
		if newest == nil || e.FetchedAt.Unix() > newest.FetchedAt.Unix() {
			newest = e
		}
	}

	if newest == nil {
		return nil, ErrEntryNotFound
	}

	return newest, nil
}

// readEntry loads a meta file and its payload blob
func (s *Store) readEntry(metaPath string) (*Entry, error) {
	data, err := os.ReadFile(metaPath)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read cache entry")
	}

	e := &Entry{}
	if err := json.Unmarshal(data, e); err != nil {
		return nil, errors.Wrap(err, "failed to parse cache entry")
	}
	if e.Blob == "" || strings.Contains(e.Blob, string(os.PathSeparator)) {
		return nil, errors.Errorf("cache entry %s has an invalid blob reference", metaPath)
	}

	e.Payload, err = os.ReadFile(filepath.Join(s.dir, e.Blob))
	if err != nil {
		return nil, errors.Wrap(err, "failed to read payload blob")
	}

	return e, nil
}

// generateBlobName returns a unique payload file name for an entry.
// Blob names are never reused so an overwritten entry keeps its old payload
// on disk until the cleanup sweep collects it.
func (s *Store) generateBlobName(dateKey, source string) string {
	return fmt.Sprintf("%s_%s_%s%s", dateKey, source, generateID(10), blobExt)
}
