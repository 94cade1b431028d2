// Package attachments manages uploaded files that attach to a message.
// Only an opaque ID ever crosses the trust boundary to external actors
// (browsers, channels) — the local filesystem path stays server-side,
// so callers outside the process never see a filesystem path.
//
// A background sweep removes both the store row and the on-disk file
// once an entry's TTL has elapsed.
package attachments

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/maziarzamani/spaceduck-sub000/internal/store"
)

// ErrTooLarge is returned by Save when the uploaded content exceeds the
// configured byte cap.
var ErrTooLarge = fmt.Errorf("attachments: upload exceeds size cap")

// Store manages attachment files on disk, backed by the persistence
// layer for metadata.
type Store struct {
	db      *store.Store
	baseDir string
	ttl     time.Duration
	log     *slog.Logger
}

// New creates an attachment store rooted at baseDir, creating it if
// necessary. ttl governs the sweep's retention window.
func New(db *store.Store, baseDir string, ttl time.Duration, log *slog.Logger) (*Store, error) {
	if log == nil {
		log = slog.Default()
	}
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("attachments: create base dir: %w", err)
	}
	return &Store{db: db, baseDir: baseDir, ttl: ttl, log: log}, nil
}

// Save streams r to disk, capping at maxBytes, and records a new
// attachment entry. It returns the opaque reference safe to hand back to
// the client.
func (s *Store) Save(ctx context.Context, filename, mime string, r io.Reader, maxBytes int64) (store.Attachment, error) {
	id := uuid.NewString()
	localPath := filepath.Join(s.baseDir, id)

	f, err := os.Create(localPath)
	if err != nil {
		return store.Attachment{}, fmt.Errorf("attachments: create file: %w", err)
	}
	defer f.Close()

	limited := io.LimitReader(r, maxBytes+1)
	n, err := io.Copy(f, limited)
	if err != nil {
		os.Remove(localPath)
		return store.Attachment{}, fmt.Errorf("attachments: write file: %w", err)
	}
	if n > maxBytes {
		f.Close()
		os.Remove(localPath)
		return store.Attachment{}, ErrTooLarge
	}

	entry := &store.AttachmentEntry{ID: id, LocalPath: localPath, Filename: filename, MIME: mime, Size: n}
	if err := s.db.CreateAttachment(ctx, entry); err != nil {
		os.Remove(localPath)
		return store.Attachment{}, err
	}

	return store.Attachment{ID: id, Filename: filename, MIME: mime, Size: n}, nil
}

// Open returns a readable handle to the attachment's content plus its
// metadata, for handlers (e.g. the marker_scan tool) that need the real
// file rather than just the opaque reference.
func (s *Store) Open(ctx context.Context, id string) (*os.File, *store.AttachmentEntry, error) {
	entry, err := s.db.GetAttachment(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	f, err := os.Open(entry.LocalPath)
	if err != nil {
		return nil, nil, fmt.Errorf("attachments: open file: %w", err)
	}
	return f, entry, nil
}

// LocalPath returns the on-disk path for an attachment without opening
// it, for handlers that exec an external binary against the file
// directly (e.g. the marker_scan tool) rather than reading it in-process.
func (s *Store) LocalPath(ctx context.Context, id string) (string, error) {
	entry, err := s.db.GetAttachment(ctx, id)
	if err != nil {
		return "", err
	}
	return entry.LocalPath, nil
}

// SweepExpired removes every attachment entry (and its on-disk file)
// older than the configured TTL. Intended to run on a periodic ticker
// (every 5 minutes).
func (s *Store) SweepExpired(ctx context.Context) (int, error) {
	cutoff := time.Now().UTC().Add(-s.ttl)
	expired, err := s.db.ExpiredAttachments(ctx, cutoff)
	if err != nil {
		return 0, err
	}

	removed := 0
	for _, e := range expired {
		if err := os.Remove(e.LocalPath); err != nil && !os.IsNotExist(err) {
			s.log.Warn("attachments: failed to remove expired file", "id", e.ID, "err", err)
			continue
		}
		if err := s.db.DeleteAttachment(ctx, e.ID); err != nil {
			s.log.Warn("attachments: failed to delete expired row", "id", e.ID, "err", err)
			continue
		}
		removed++
	}
	return removed, nil
}

// RunSweeper blocks, sweeping every interval until ctx is cancelled.
func (s *Store) RunSweeper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := s.SweepExpired(ctx)
			if err != nil {
				s.log.Warn("attachments: sweep failed", "err", err)
				continue
			}
			if n > 0 {
				s.log.Info("attachments: swept expired entries", "count", n)
			}
		}
	}
}
