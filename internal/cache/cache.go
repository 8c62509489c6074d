// Package cache implements the Content-Addressed Cache (spec §4.A):
// an insert-once, reference-counted, integrity-verifiable blob store
// addressed by SHA-256 of content. The filesystem side is new (no
// direct teacher analogue), written in the same plain-struct,
// explicit-error style as internal/db/db.go's migration runner
// (read current state, act, record the result). The reference-counted
// row lives behind a small Repository interface so this package has
// no dependency on database/sql or a concrete driver; internal/store
// provides the Postgres-backed implementation.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/mediaforge/mediaforge/internal/models"
)

// ErrMissing is returned by Retrieve when the content hash is unknown
// or its file is gone.
var ErrMissing = errors.New("cache: content not found")

// ErrIntegrity is returned when a file on disk does not hash to the
// name it is stored under (spec §4.A "IntegrityError").
var ErrIntegrity = errors.New("cache: integrity mismatch")

// ErrUnderflow is returned by ReleaseReference when called on an entry
// whose reference count is already zero (spec §8 "Cache ref-count
// underflow must never occur... must fail loudly").
var ErrUnderflow = errors.New("cache: reference count underflow")

// Repository is the persistence boundary for CacheEntry rows. Every
// mutation that touches reference_count must be applied transactionally
// against the backing row (spec §4.A "Failure model").
type Repository interface {
	GetByHash(ctx context.Context, hash string) (*models.CacheEntry, error)
	Insert(ctx context.Context, entry *models.CacheEntry) error
	IncrementRef(ctx context.Context, hash string, now time.Time) (*models.CacheEntry, error)
	DecrementRef(ctx context.Context, hash string, now time.Time) (*models.CacheEntry, error)
	Delete(ctx context.Context, hash string) error
	ListOrphanedBefore(ctx context.Context, cutoff time.Time) ([]models.CacheEntry, error)
}

// Metadata describes a blob being stored, beyond its raw bytes.
type Metadata struct {
	Extension      string
	MimeType       string
	Width          *int
	Height         *int
	PerceptualHash *string
}

// Cache is a content-addressed blob store rooted at a directory.
type Cache struct {
	root  string
	repo  Repository
	grace time.Duration
	now   func() time.Time
}

// New constructs a Cache rooted at root, backed by repo, with the
// given orphan grace window (spec §3 CacheEntry "eligible for physical
// deletion"; default 90 days per spec §8 scenario 7).
func New(root string, repo Repository, grace time.Duration) *Cache {
	return &Cache{root: root, repo: repo, grace: grace, now: time.Now}
}

// PathFor returns the {h[0:2]}/{h[2:4]}/{h}.{ext} relative path for a
// content hash (spec §4.A, §6 "On-disk cache layout").
func PathFor(hash, ext string) string {
	if len(hash) < 4 {
		return filepath.Join(hash + ext)
	}
	return filepath.Join(hash[0:2], hash[2:4], hash+ext)
}

// AbsPath returns the absolute on-disk path for hash given ext.
func (c *Cache) AbsPath(hash, ext string) string {
	return filepath.Join(c.root, PathFor(hash, ext))
}

// Store computes the SHA-256 of data, writes it to the content-addressed
// location if not already present, and increments its reference count
// (spec §4.A "Store"). Returns the hex hash, the relative on-disk path,
// and whether an existing entry was deduplicated against.
func (c *Cache) Store(ctx context.Context, data []byte, meta Metadata) (hash string, relPath string, deduped bool, err error) {
	sum := sha256.Sum256(data)
	hash = hex.EncodeToString(sum[:])
	relPath = PathFor(hash, meta.Extension)
	absPath := filepath.Join(c.root, relPath)
	now := c.now()

	existing, err := c.repo.GetByHash(ctx, hash)
	if err != nil {
		return "", "", false, fmt.Errorf("cache: lookup %s: %w", hash, err)
	}
	if existing != nil {
		// Content-addressing means a path collision with different
		// bytes is only possible via corruption, not a legitimate
		// race; trust the existing row and just bump the reference.
		// The blob itself can still have been deleted out from under the
		// row (manual cleanup, a failed GC run), so re-check the
		// filesystem the same way the new-hash branch below does before
		// trusting the row.
		if _, statErr := os.Stat(absPath); statErr != nil {
			if err := writeAtomic(absPath, data); err != nil {
				return "", "", false, fmt.Errorf("cache: rewrite missing blob %s: %w", absPath, err)
			}
		}
		if _, err := c.repo.IncrementRef(ctx, hash, now); err != nil {
			return "", "", false, fmt.Errorf("cache: increment ref %s: %w", hash, err)
		}
		return hash, relPath, true, nil
	}

	if _, statErr := os.Stat(absPath); statErr != nil {
		if err := writeAtomic(absPath, data); err != nil {
			return "", "", false, fmt.Errorf("cache: write %s: %w", absPath, err)
		}
	}

	entry := &models.CacheEntry{
		ContentHash:    hash,
		Path:           relPath,
		ByteSize:       int64(len(data)),
		MimeType:       meta.MimeType,
		Width:          meta.Width,
		Height:         meta.Height,
		PerceptualHash: meta.PerceptualHash,
		ReferenceCount: 1,
		CreatedAt:      now,
		LastUsedAt:     now,
	}
	if err := c.repo.Insert(ctx, entry); err != nil {
		return "", "", false, fmt.Errorf("cache: insert row %s: %w", hash, err)
	}
	return hash, relPath, false, nil
}

// Retrieve reads the bytes stored under hash.
func (c *Cache) Retrieve(ctx context.Context, hash, ext string) ([]byte, error) {
	entry, err := c.repo.GetByHash(ctx, hash)
	if err != nil {
		return nil, fmt.Errorf("cache: lookup %s: %w", hash, err)
	}
	if entry == nil {
		return nil, ErrMissing
	}
	data, err := os.ReadFile(filepath.Join(c.root, entry.Path))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrMissing
		}
		return nil, fmt.Errorf("cache: read %s: %w", entry.Path, err)
	}
	return data, nil
}

// VerifyIntegrity recomputes the hash of the file backing entry and
// reports whether it still matches (spec §4.A IntegrityError, used by
// the Verifier per spec §4.N).
func (c *Cache) VerifyIntegrity(hash string) error {
	data, err := os.ReadFile(c.AbsPathForRow(hash))
	if err != nil {
		return fmt.Errorf("cache: read for integrity check: %w", err)
	}
	sum := sha256.Sum256(data)
	if hex.EncodeToString(sum[:]) != hash {
		return ErrIntegrity
	}
	return nil
}

// AbsPathForRow resolves the absolute path for a hash by looking up
// its stored relative path; callers that already know the extension
// should prefer AbsPath.
func (c *Cache) AbsPathForRow(hash string) string {
	// Extension is encoded in the stored relative path itself
	// ({hash}.{ext}); the two-level fan-out directories are derived
	// purely from the hash, so we can reconstruct the directory
	// without a row lookup and glob for the file.
	dir := filepath.Join(c.root, hash[0:2], hash[2:4])
	matches, _ := filepath.Glob(filepath.Join(dir, hash+".*"))
	if len(matches) > 0 {
		return matches[0]
	}
	return filepath.Join(dir, hash)
}

// AddReference increments the reference count for an already-stored
// hash (spec §4.A "AddReference").
func (c *Cache) AddReference(ctx context.Context, hash string) error {
	_, err := c.repo.IncrementRef(ctx, hash, c.now())
	return err
}

// ReleaseReference decrements the reference count for hash, marking it
// orphaned the instant it reaches zero (spec §4.A "ReleaseReference",
// §3 CacheEntry invariant "orphaned_at != null <=> reference_count = 0").
func (c *Cache) ReleaseReference(ctx context.Context, hash string) error {
	entry, err := c.repo.GetByHash(ctx, hash)
	if err != nil {
		return fmt.Errorf("cache: lookup %s: %w", hash, err)
	}
	if entry == nil || entry.ReferenceCount <= 0 {
		return ErrUnderflow
	}
	_, err = c.repo.DecrementRef(ctx, hash, c.now())
	return err
}

// GarbageCollect deletes rows and files whose orphaned_at is older
// than the configured grace window (spec §4.A "GarbageCollect"). A
// physical unlink failure leaves the row in place so the next GC pass
// retries it (spec §4.A "Failure model").
func (c *Cache) GarbageCollect(ctx context.Context) (deleted int, err error) {
	cutoff := c.now().Add(-c.grace)
	candidates, err := c.repo.ListOrphanedBefore(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("cache: list orphaned: %w", err)
	}

	for _, entry := range candidates {
		absPath := filepath.Join(c.root, entry.Path)
		if err := c.repo.Delete(ctx, entry.ContentHash); err != nil {
			return deleted, fmt.Errorf("cache: delete row %s: %w", entry.ContentHash, err)
		}
		if unlinkErr := os.Remove(absPath); unlinkErr != nil && !os.IsNotExist(unlinkErr) {
			// Restore the row so GC retries this entry next pass
			// rather than leaking a dangling file with no row.
			_ = c.repo.Insert(ctx, &entry)
			continue
		}
		deleted++
	}
	return deleted, nil
}

// writeAtomic writes data to a temp file in the same directory as
// path, then renames it into place — atomic on the same filesystem,
// and idempotent for identical content under concurrent writers
// (spec §4.A, §5 "Shared-resource policy").
func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}

// copyStream streams src to a new file at dst atomically, used by the
// Publish Engine when a hard link is not possible across volumes
// (spec §4.H step 3).
func copyStream(dst string, src io.Reader) error {
	dir := filepath.Dir(dst)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := io.Copy(tmp, src); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, dst)
}

// CopyStream exposes copyStream for callers outside the package
// (publish engine) that need the same atomic-copy semantics for
// non-content-addressed destinations.
func CopyStream(dst string, src io.Reader) error { return copyStream(dst, src) }
