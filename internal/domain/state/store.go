package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/felixgeelhaar/dsinstall/internal/ports"
	"github.com/google/uuid"
	"github.com/mandelsoft/vfs/pkg/vfs"
)

// Store provides durable backup and key/value operations for one namespace.
type Store interface {
	Backup(ctx context.Context, key string, current any) error
	BackupAbsent(ctx context.Context, key string) error
	Restore(ctx context.Context, key string) (Record, error)
	IsBackedUp(ctx context.Context, key string) (bool, error)
	Backups(ctx context.Context) ([]Record, error)

	Get(ctx context.Context, key string, out any) (bool, error)
	Set(ctx context.Context, key string, value any) error
	Delete(ctx context.Context, key string) error
}

// document is the on-disk layout of a namespace.
type document struct {
	RunID   string                     `json:"run_id,omitempty"`
	NextSeq int                        `json:"next_seq"`
	Backups map[string]Record          `json:"backups"`
	Values  map[string]json.RawMessage `json:"values"`
}

// FileStore implements Store as one JSON file per namespace.
type FileStore struct {
	fs        vfs.FileSystem
	dir       string
	namespace string
	logger    ports.Logger
	now       func() time.Time
	mu        sync.Mutex
}

// NewFileStore creates a store for namespace under dir on fs.
func NewFileStore(fs vfs.FileSystem, dir, namespace string, logger ports.Logger) *FileStore {
	return &FileStore{
		fs:        fs,
		dir:       dir,
		namespace: namespace,
		logger:    logger.With(ports.F("namespace", namespace)),
		now:       time.Now,
	}
}

// Namespace returns the namespace this store writes to.
func (s *FileStore) Namespace() string {
	return s.namespace
}

// Path returns the namespace file.
func (s *FileStore) Path() string {
	return filepath.Join(s.dir, s.namespace+".state.json")
}

// Backup records the value a setting held before this installation changed
// it. A second backup of the same key is a no-op.
func (s *FileStore) Backup(ctx context.Context, key string, current any) error {
	raw, err := json.Marshal(current)
	if err != nil {
		return fmt.Errorf("encoding state %q: %w", key, err)
	}
	return s.backup(ctx, Record{Key: key, Value: raw})
}

// BackupAbsent records that a setting did not exist before this installation.
func (s *FileStore) BackupAbsent(ctx context.Context, key string) error {
	return s.backup(ctx, Record{Key: key, Absent: true})
}

func (s *FileStore) backup(ctx context.Context, rec Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.load()
	if err != nil {
		return err
	}
	if _, ok := doc.Backups[rec.Key]; ok {
		s.logger.Debug(ctx, "state already backed up, keeping first value", ports.F("key", rec.Key))
		return nil
	}

	rec.Seq = doc.NextSeq
	rec.RecordedAt = s.now().UTC()
	doc.NextSeq++
	doc.Backups[rec.Key] = rec

	return s.save(doc)
}

// Restore removes and returns the backup of key, or ErrNotFound.
func (s *FileStore) Restore(ctx context.Context, key string) (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.load()
	if err != nil {
		return Record{}, err
	}
	rec, ok := doc.Backups[key]
	if !ok {
		return Record{}, ErrNotFound
	}
	delete(doc.Backups, key)
	if err := s.save(doc); err != nil {
		return Record{}, err
	}

	s.logger.Debug(ctx, "state restored", ports.F("key", key))
	return rec, nil
}

// IsBackedUp reports whether key has an outstanding backup.
func (s *FileStore) IsBackedUp(_ context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.load()
	if err != nil {
		return false, err
	}
	_, ok := doc.Backups[key]
	return ok, nil
}

// Backups returns the outstanding backups in the order they were taken.
func (s *FileStore) Backups(_ context.Context) ([]Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.load()
	if err != nil {
		return nil, err
	}

	records := make([]Record, 0, len(doc.Backups))
	for _, rec := range doc.Backups {
		records = append(records, rec)
	}
	sort.Slice(records, func(i, j int) bool {
		return records[i].Seq < records[j].Seq
	})
	return records, nil
}

// Get decodes the value stored under key into out. It reports false when
// the key is not set.
func (s *FileStore) Get(_ context.Context, key string, out any) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.load()
	if err != nil {
		return false, err
	}
	raw, ok := doc.Values[key]
	if !ok {
		return false, nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return true, fmt.Errorf("decoding value %q: %w", key, err)
	}
	return true, nil
}

// Set stores value under key, overwriting any previous value.
func (s *FileStore) Set(_ context.Context, key string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encoding value %q: %w", key, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.load()
	if err != nil {
		return err
	}
	doc.Values[key] = raw
	return s.save(doc)
}

// Delete removes the value stored under key. Missing keys are ignored.
func (s *FileStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.load()
	if err != nil {
		return err
	}
	if _, ok := doc.Values[key]; !ok {
		return nil
	}
	delete(doc.Values, key)
	return s.save(doc)
}

// RunID returns the identifier of the installation run that created this
// namespace, or "" if nothing was recorded yet.
func (s *FileStore) RunID() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.load()
	if err != nil {
		return "", err
	}
	return doc.RunID, nil
}

// IsEmpty reports whether the namespace holds neither backups nor values.
func (s *FileStore) IsEmpty() (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.load()
	if err != nil {
		return false, err
	}
	return len(doc.Backups) == 0 && len(doc.Values) == 0, nil
}

func (s *FileStore) load() (*document, error) {
	data, err := vfs.ReadFile(s.fs, s.Path())
	if errors.Is(err, vfs.ErrNotExist) {
		return &document{
			Backups: make(map[string]Record),
			Values:  make(map[string]json.RawMessage),
		}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading state %s: %w", s.Path(), err)
	}

	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parsing state %s: %w", s.Path(), err)
	}
	if doc.Backups == nil {
		doc.Backups = make(map[string]Record)
	}
	if doc.Values == nil {
		doc.Values = make(map[string]json.RawMessage)
	}
	return &doc, nil
}

func (s *FileStore) save(doc *document) error {
	if doc.RunID == "" {
		doc.RunID = uuid.New().String()
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return err
	}
	if err := s.fs.MkdirAll(s.dir, 0o700); err != nil {
		return fmt.Errorf("creating state directory: %w", err)
	}
	return writeAtomic(s.fs, s.Path(), data, 0o600)
}

// writeAtomic writes data to a sibling temporary file, syncs it and renames
// it over path.
func writeAtomic(fs vfs.FileSystem, path string, data []byte, perm os.FileMode) error {
	tmp := path + ".tmp"
	f, err := fs.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, perm)
	if err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		_ = fs.Remove(tmp)
		return fmt.Errorf("writing %s: %w", path, err)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		_ = fs.Remove(tmp)
		return fmt.Errorf("syncing %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		_ = fs.Remove(tmp)
		return fmt.Errorf("closing %s: %w", path, err)
	}
	if err := rename(fs, tmp, path); err != nil {
		_ = fs.Remove(tmp)
		return fmt.Errorf("replacing %s: %w", path, err)
	}
	return nil
}

// rename moves oldname over newname. Filesystems that refuse to replace an
// existing target get the target removed first.
func rename(fs vfs.FileSystem, oldname, newname string) error {
	err := fs.Rename(oldname, newname)
	if !errors.Is(err, os.ErrExist) {
		return err
	}
	if err := fs.Remove(newname); err != nil {
		return err
	}
	return fs.Rename(oldname, newname)
}

var _ Store = (*FileStore)(nil)
