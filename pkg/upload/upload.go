// Package upload implements the filesystem side of an Upload Bundle
// (§3, §6): files live on disk under {upload_root}/{upload_id}/{name},
// written via a temp-file-then-rename sequence so a reader never
// observes a partially-written file; the store only ever holds the
// {name, size, mime_type} metadata.
package upload

import (
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/cuemby/orchestrator-core/pkg/storage"
	"github.com/cuemby/orchestrator-core/pkg/types"
)

// DefaultMaxBundleSize is the §6 default maximum total bundle size.
const DefaultMaxBundleSize int64 = 256 * 1024 * 1024

// Store writes upload bundle files to a root directory and records
// their metadata in storage.Store.
type Store struct {
	root          string
	maxBundleSize int64
	store         storage.Store
}

// New constructs a Store rooted at root, creating it if necessary.
func New(root string, store storage.Store) (*Store, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("upload: create root %s: %w", root, err)
	}
	return &Store{root: root, maxBundleSize: DefaultMaxBundleSize, store: store}, nil
}

// WithMaxBundleSize overrides DefaultMaxBundleSize.
func (s *Store) WithMaxBundleSize(n int64) *Store {
	s.maxBundleSize = n
	return s
}

// Create persists every file in form under a freshly generated
// upload_id and records the resulting types.UploadBundle.
func (s *Store) Create(ctx context.Context, form *multipart.Form) (*types.UploadBundle, error) {
	headers := form.File["files"]
	if len(headers) == 0 {
		return nil, storage.NewError("uploads.Create", storage.KindConstraintViolation,
			fmt.Errorf("at least one file is required"))
	}

	id := uuid.NewString()
	dir := filepath.Join(s.root, id)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("upload: create bundle dir: %w", err)
	}

	bundle := &types.UploadBundle{ID: id}
	var total int64
	for _, fh := range headers {
		total += fh.Size
		if total > s.maxBundleSize {
			_ = os.RemoveAll(dir)
			return nil, storage.NewError("uploads.Create", storage.KindConstraintViolation,
				fmt.Errorf("bundle exceeds maximum size of %d bytes", s.maxBundleSize))
		}

		mimeType := fh.Header.Get("Content-Type")
		if err := s.writeFile(dir, fh); err != nil {
			_ = os.RemoveAll(dir)
			return nil, fmt.Errorf("upload: write %s: %w", fh.Filename, err)
		}

		bundle.Files = append(bundle.Files, types.UploadFile{
			Name:     fh.Filename,
			Size:     fh.Size,
			MimeType: mimeType,
		})
	}

	if err := s.store.CreateUploadBundle(ctx, bundle); err != nil {
		_ = os.RemoveAll(dir)
		return nil, err
	}
	return bundle, nil
}

// writeFile copies fh's content to a temp file in dir, then renames it
// into place atomically so no reader ever sees a partial write.
func (s *Store) writeFile(dir string, fh *multipart.FileHeader) error {
	src, err := fh.Open()
	if err != nil {
		return err
	}
	defer src.Close()

	tmp, err := os.CreateTemp(dir, ".upload-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) // no-op once the rename below succeeds

	if _, err := io.Copy(tmp, src); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}

	dest := filepath.Join(dir, fh.Filename)
	return os.Rename(tmpName, dest)
}

// Get returns the recorded metadata for an upload bundle.
func (s *Store) Get(ctx context.Context, id string) (*types.UploadBundle, error) {
	return s.store.GetUploadBundle(ctx, id)
}

// Open returns a reader for one file within a bundle.
func (s *Store) Open(bundleID, name string) (*os.File, error) {
	return os.Open(filepath.Join(s.root, bundleID, name))
}
