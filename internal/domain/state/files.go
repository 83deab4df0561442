package state

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/felixgeelhaar/dsinstall/internal/ports"
	"github.com/google/uuid"
	"github.com/mandelsoft/vfs/pkg/vfs"
)

// FileKeyPrefix marks backup keys that refer to whole files.
const FileKeyPrefix = "file:"

// FileKey returns the backup key for a file path.
func FileKey(path string) string {
	return FileKeyPrefix + path
}

// IsFileKey reports whether key refers to a file backup and returns the path.
func IsFileKey(key string) (string, bool) {
	if !strings.HasPrefix(key, FileKeyPrefix) {
		return "", false
	}
	return strings.TrimPrefix(key, FileKeyPrefix), true
}

// fileBackup is the value recorded for a backed-up file.
type fileBackup struct {
	ID   string      `json:"id"`
	Hash string      `json:"hash"`
	Size int64       `json:"size"`
	Mode os.FileMode `json:"mode"`
}

// FileBackups keeps copies of configuration files before they are edited.
// Content lives next to the namespace file; the backup itself is an
// ordinary Store record so it takes part in reverse-order rollback.
type FileBackups struct {
	fs     vfs.FileSystem
	dir    string
	store  Store
	logger ports.Logger
}

// NewFileBackups creates file backups stored under dir and recorded in store.
func NewFileBackups(fs vfs.FileSystem, dir string, store Store, logger ports.Logger) *FileBackups {
	return &FileBackups{
		fs:     fs,
		dir:    dir,
		store:  store,
		logger: logger,
	}
}

// BackupFile records the current content of path. A file that does not
// exist is recorded as absent. Files already backed up are left alone.
func (b *FileBackups) BackupFile(ctx context.Context, path string) error {
	key := FileKey(path)
	done, err := b.store.IsBackedUp(ctx, key)
	if err != nil {
		return err
	}
	if done {
		return nil
	}

	info, err := b.fs.Stat(path)
	if errors.Is(err, vfs.ErrNotExist) {
		return b.store.BackupAbsent(ctx, key)
	}
	if err != nil {
		return fmt.Errorf("inspecting %s: %w", path, err)
	}

	content, err := vfs.ReadFile(b.fs, path)
	if err != nil {
		return fmt.Errorf("reading %s: %w", path, err)
	}

	if err := b.fs.MkdirAll(b.dir, 0o700); err != nil {
		return fmt.Errorf("creating backup directory: %w", err)
	}

	meta := fileBackup{
		ID:   uuid.New().String(),
		Hash: sha256Hash(content),
		Size: int64(len(content)),
		Mode: info.Mode().Perm(),
	}
	if err := writeAtomic(b.fs, b.contentPath(meta.ID), content, 0o600); err != nil {
		return err
	}
	if err := b.store.Backup(ctx, key, meta); err != nil {
		_ = b.fs.Remove(b.contentPath(meta.ID))
		return err
	}

	b.logger.Debug(ctx, "file backed up", ports.F("path", path), ports.F("id", meta.ID))
	return nil
}

// RestoreFile restores path from its backup, or returns ErrNotFound.
func (b *FileBackups) RestoreFile(ctx context.Context, path string) error {
	rec, err := b.store.Restore(ctx, FileKey(path))
	if err != nil {
		return err
	}
	return b.RestoreRecord(ctx, rec)
}

// RestoreRecord applies a file backup record that was already removed from
// the store.
func (b *FileBackups) RestoreRecord(ctx context.Context, rec Record) error {
	path, ok := IsFileKey(rec.Key)
	if !ok {
		return fmt.Errorf("state %q is not a file backup", rec.Key)
	}

	if rec.Absent {
		err := b.fs.Remove(path)
		if err != nil && !errors.Is(err, vfs.ErrNotExist) {
			return fmt.Errorf("removing %s: %w", path, err)
		}
		b.logger.Debug(ctx, "removed file that did not exist before install", ports.F("path", path))
		return nil
	}

	var meta fileBackup
	if err := rec.Decode(&meta); err != nil {
		return err
	}

	content, err := vfs.ReadFile(b.fs, b.contentPath(meta.ID))
	if err != nil {
		return fmt.Errorf("reading backup of %s: %w", path, err)
	}
	if sha256Hash(content) != meta.Hash {
		return fmt.Errorf("backup of %s is corrupt", path)
	}

	if err := b.fs.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating %s: %w", filepath.Dir(path), err)
	}
	if err := writeAtomic(b.fs, path, content, meta.Mode); err != nil {
		return err
	}
	_ = b.fs.Remove(b.contentPath(meta.ID))

	b.logger.Debug(ctx, "file restored", ports.F("path", path))
	return nil
}

func (b *FileBackups) contentPath(id string) string {
	return filepath.Join(b.dir, id+".backup")
}

func sha256Hash(content []byte) string {
	hash := sha256.Sum256(content)
	return hex.EncodeToString(hash[:])
}
