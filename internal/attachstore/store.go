// Package attachstore persists attachment bytes under deterministic,
// collision-free filenames in one flat base directory, with an optional
// S3 backend for the same operations. Writes run on a bounded worker so
// a burst of attachments during one ingestion tick cannot serialize
// behind each other one-by-one.
package attachstore

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/portcall/mailgate/internal/errs"
)

// SaveResult is what Save returns for a persisted attachment.
type SaveResult struct {
	StoredName string
	FilePath   string
	FileSize   int64
}

// Store is the Attachment Store's public surface.
type Store struct {
	baseDir string
	s3      *s3Client
	sem     chan struct{}
}

// New creates a filesystem-backed Store rooted at baseDir, creating it if
// absent.
func New(baseDir string) (*Store, error) {
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, errs.Wrap(errs.Storage, err, "attachstore: create base dir")
	}
	return &Store{baseDir: baseDir, sem: make(chan struct{}, 8)}, nil
}

// NewWithS3 creates a Store that writes/reads through an S3 bucket instead
// of the local filesystem. baseDir is still created and used to stage
// nothing; it exists so cleanup_older_than-style local scans keep working
// if the operator ever falls back to the filesystem backend.
func NewWithS3(baseDir string, cfg S3Config) (*Store, error) {
	client, err := newS3Client(cfg)
	if err != nil {
		return nil, errs.Wrap(errs.Configuration, err, "attachstore: s3 client")
	}
	if err := client.ensureBucket(context.Background()); err != nil {
		return nil, errs.Wrap(errs.Storage, err, "attachstore: ensure bucket")
	}
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, errs.Wrap(errs.Storage, err, "attachstore: create base dir")
	}
	return &Store{baseDir: baseDir, s3: client, sem: make(chan struct{}, 8)}, nil
}

// generateFilename builds the name YYYYMMDDHHMM_<emailUID>_<uuidv4><ext>.
// The UUID makes collisions statistically impossible regardless of the
// original filename; the extension is copied verbatim.
func generateFilename(emailUID string, originalFilename string, dateReceived time.Time) string {
	ext := filepath.Ext(originalFilename)
	return fmt.Sprintf("%s_%s_%s%s", dateReceived.Format("200601021504"), emailUID, uuid.New().String(), ext)
}

// Save writes data under a deterministic name and returns the stored
// filename, its full path, and its size. The write runs on a bounded
// worker so a burst of attachments in one tick doesn't serialize behind
// network I/O (the S3 backend) or disk I/O on the caller's own goroutine.
func (s *Store) Save(ctx context.Context, emailUID, originalFilename string, data []byte, dateReceived time.Time) (SaveResult, error) {
	if dateReceived.IsZero() {
		dateReceived = time.Now()
	}
	name := generateFilename(emailUID, originalFilename, dateReceived)
	path := filepath.Join(s.baseDir, name)

	type result struct {
		res SaveResult
		err error
	}
	done := make(chan result, 1)

	s.sem <- struct{}{}
	go func() {
		defer func() { <-s.sem }()
		var err error
		if s.s3 != nil {
			err = s.s3.putBytes(ctx, name, data)
		} else {
			err = os.WriteFile(path, data, 0o644)
		}
		if err != nil {
			done <- result{err: errs.Wrap(errs.Storage, err, "attachstore: write")}
			return
		}
		done <- result{res: SaveResult{StoredName: name, FilePath: path, FileSize: int64(len(data))}}
	}()

	select {
	case <-ctx.Done():
		return SaveResult{}, errs.Wrap(errs.Storage, ctx.Err(), "attachstore: save cancelled")
	case r := <-done:
		return r.res, r.err
	}
}

// Read returns the bytes stored at storedName, or nil if absent.
func (s *Store) Read(ctx context.Context, storedName string) ([]byte, error) {
	if s.s3 != nil {
		data, err := s.s3.get(ctx, storedName)
		if err == errNotFound {
			return nil, nil
		}
		if err != nil {
			return nil, errs.Wrap(errs.Storage, err, "attachstore: s3 read")
		}
		return data, nil
	}
	data, err := os.ReadFile(filepath.Join(s.baseDir, storedName))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errs.Wrap(errs.Storage, err, "attachstore: read")
	}
	return data, nil
}

// Delete removes the attachment at storedName, returning whether it
// existed.
func (s *Store) Delete(ctx context.Context, storedName string) (bool, error) {
	if s.s3 != nil {
		if err := s.s3.delete(ctx, storedName); err != nil {
			return false, errs.Wrap(errs.Storage, err, "attachstore: s3 delete")
		}
		return true, nil
	}
	path := filepath.Join(s.baseDir, storedName)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return false, nil
	}
	if err := os.Remove(path); err != nil {
		return false, errs.Wrap(errs.Storage, err, "attachstore: delete")
	}
	return true, nil
}

// CleanupOlderThan deletes local files whose mtime is older than the
// given number of days and returns how many were removed. Only
// meaningful for the filesystem backend; S3 lifecycle rules cover the
// bucket case.
func (s *Store) CleanupOlderThan(days int) (int, error) {
	if s.s3 != nil {
		return 0, nil
	}
	cutoff := time.Now().AddDate(0, 0, -days)
	entries, err := os.ReadDir(s.baseDir)
	if err != nil {
		return 0, errs.Wrap(errs.Storage, err, "attachstore: cleanup scan")
	}
	count := 0
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		if info.ModTime().Before(cutoff) {
			if err := os.Remove(filepath.Join(s.baseDir, e.Name())); err == nil {
				count++
			}
		}
	}
	return count, nil
}
