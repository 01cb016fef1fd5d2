// Package uploads keeps submitted CSV files on local disk until their
// ingestion run has finished with them.
package uploads

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/JonMunkholm/catalog-importer/internal/core"
)

// ErrInvalidRef is returned for refs that do not name a file in the directory.
var ErrInvalidRef = errors.New("invalid file ref")

// Dir stores uploads as <root>/<uuid>-<basename>. The ref handed back by
// Save is the file name relative to root.
type Dir struct {
	root    string
	maxSize int64
}

var _ core.FileStore = (*Dir)(nil)

// NewDir creates root if needed. maxSize <= 0 disables the size limit.
func NewDir(root string, maxSize int64) (*Dir, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create upload dir: %w", err)
	}
	return &Dir{root: root, maxSize: maxSize}, nil
}

// Save copies r to a new file. A stream larger than the size limit is
// discarded and reported as core.ErrFileTooLarge.
func (d *Dir) Save(ctx context.Context, filename string, r io.Reader) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	base := filepath.Base(filename)
	if base == "." || base == string(filepath.Separator) {
		base = "upload.csv"
	}
	ref := uuid.NewString() + "-" + base
	path := filepath.Join(d.root, ref)

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return "", fmt.Errorf("create upload file: %w", err)
	}

	src := r
	if d.maxSize > 0 {
		src = io.LimitReader(r, d.maxSize+1)
	}
	n, err := io.Copy(f, src)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err == nil && d.maxSize > 0 && n > d.maxSize {
		err = fmt.Errorf("%w: limit is %d bytes", core.ErrFileTooLarge, d.maxSize)
	}
	if err != nil {
		os.Remove(path)
		return "", err
	}
	return ref, nil
}

// Open returns the stored file for ref.
func (d *Dir) Open(ref string) (io.ReadCloser, error) {
	path, err := d.path(ref)
	if err != nil {
		return nil, err
	}
	return os.Open(path)
}

// Remove deletes the stored file. A missing file reports fs.ErrNotExist.
func (d *Dir) Remove(ref string) error {
	path, err := d.path(ref)
	if err != nil {
		return err
	}
	return os.Remove(path)
}

func (d *Dir) path(ref string) (string, error) {
	if ref == "" || ref == "." || ref == ".." || strings.ContainsAny(ref, `/\`) {
		return "", fmt.Errorf("%w: %q", ErrInvalidRef, ref)
	}
	return filepath.Join(d.root, ref), nil
}
