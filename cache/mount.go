package cache

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// MaxEntrySize is the maximum size of a single file in a cache blob (256MB).
const MaxEntrySize = 256 * 1024 * 1024

// Mounter materializes cache blobs as directories bind-mounted into stages,
// and packs them back after a rebuild.
type Mounter struct {
	store Store
}

// NewMounter creates a Mounter backed by the given store.
func NewMounter(store Store) *Mounter {
	return &Mounter{store: store}
}

// Store returns the backing store.
func (m *Mounter) Store() Store { return m.store }

// RestoreDir populates dir with the cache entry for key. A cold cache
// (ErrMiss) leaves an empty directory and returns restored=false with no
// error; any other store error is returned as-is.
func (m *Mounter) RestoreDir(ctx context.Context, key, dir string) (restored bool, err error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return false, fmt.Errorf("cache: failed to create mount dir: %w", err)
	}

	blob, err := m.store.Restore(ctx, key)
	if err != nil {
		if errors.Is(err, ErrMiss) {
			return false, nil
		}
		return false, err
	}
	defer blob.Close()

	if err := unpack(blob, dir); err != nil {
		return false, fmt.Errorf("cache: failed to unpack %q: %w", key, err)
	}
	return true, nil
}

// RebuildDir packs dir and stores it under key. Failures are fatal to the
// requesting run.
func (m *Mounter) RebuildDir(ctx context.Context, key, dir string) error {
	pr, pw := io.Pipe()
	go func() {
		pw.CloseWithError(pack(dir, pw))
	}()
	if err := m.store.Rebuild(ctx, key, pr); err != nil {
		pr.CloseWithError(err)
		return err
	}
	return nil
}

// pack writes dir as a gzipped tar stream.
func pack(dir string, w io.Writer) error {
	gw := gzip.NewWriter(w)
	tw := tar.NewWriter(gw)

	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}

		hdr, err := tar.FileInfoHeader(info, "")
		if err != nil {
			return err
		}
		hdr.Name = filepath.ToSlash(rel)

		if err := tw.WriteHeader(hdr); err != nil {
			return err
		}
		if !info.Mode().IsRegular() {
			return nil
		}

		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()
		_, err = io.Copy(tw, f)
		return err
	})
	if err != nil {
		return err
	}
	if err := tw.Close(); err != nil {
		return err
	}
	return gw.Close()
}

// unpack extracts a gzipped tar stream into dir.
func unpack(r io.Reader, dir string) error {
	gr, err := gzip.NewReader(r)
	if err != nil {
		return fmt.Errorf("open gzip: %w", err)
	}
	defer gr.Close()

	tr := tar.NewReader(gr)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("read tar: %w", err)
		}

		// Path traversal protection
		clean := filepath.Clean(hdr.Name)
		if strings.HasPrefix(clean, "..") || strings.HasPrefix(clean, "/") {
			return fmt.Errorf("invalid path in cache blob: %s", hdr.Name)
		}
		if hdr.Size > MaxEntrySize {
			return fmt.Errorf("entry %s exceeds max size (%d > %d)", clean, hdr.Size, MaxEntrySize)
		}

		destPath := filepath.Join(dir, clean)

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(destPath, 0o750); err != nil {
				return fmt.Errorf("create dir %s: %w", clean, err)
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(destPath), 0o750); err != nil {
				return fmt.Errorf("create parent dir for %s: %w", clean, err)
			}
			f, err := os.OpenFile(destPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, os.FileMode(hdr.Mode)&0o777)
			if err != nil {
				return fmt.Errorf("create %s: %w", clean, err)
			}
			if _, err := io.Copy(f, io.LimitReader(tr, MaxEntrySize)); err != nil {
				f.Close()
				return fmt.Errorf("write %s: %w", clean, err)
			}
			if err := f.Close(); err != nil {
				return fmt.Errorf("close %s: %w", clean, err)
			}
		}
	}
	return nil
}
