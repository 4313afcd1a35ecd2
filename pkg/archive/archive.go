// Package archive downloads package version archives and extracts them into
// per-version working directories.
//
// Archives are untrusted input. Every download is checksum-verified before
// decompression, entry paths are confined to the target directory, and a
// total extracted-size cap guards against decompression bombs.
package archive

import (
	"archive/tar"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/gzip"

	"github.com/cratemap/cratemap/pkg/errors"
	"github.com/cratemap/cratemap/pkg/registry"
)

// DefaultMaxExtractSize caps the total bytes written during extraction.
const DefaultMaxExtractSize int64 = 1 << 30 // 1 GiB

// Fetcher downloads and extracts archives below a work root. Extracted
// trees live at <root>/<name>-<version> and are removed by the job that
// created them when it finishes.
type Fetcher struct {
	client  *registry.Client
	root    string
	maxSize int64
}

// NewFetcher creates a fetcher writing below root. maxSize of 0 selects
// [DefaultMaxExtractSize].
func NewFetcher(client *registry.Client, root string, maxSize int64) *Fetcher {
	if maxSize <= 0 {
		maxSize = DefaultMaxExtractSize
	}
	return &Fetcher{client: client, root: root, maxSize: maxSize}
}

// Dir returns the working directory an extracted package version occupies.
func (f *Fetcher) Dir(pv registry.PackageVersion) string {
	return filepath.Join(f.root, pv.Name+"-"+pv.Version)
}

// Download fetches the archive for pv and verifies its checksum against
// the registry index before anything touches a decompressor. Returns the
// path of the verified archive file; the caller owns it. On failure the
// partial download is removed.
func (f *Fetcher) Download(ctx context.Context, pv registry.PackageVersion) (string, error) {
	want, err := f.client.Checksum(ctx, pv)
	if err != nil {
		return "", err
	}

	if err := os.MkdirAll(f.root, 0o755); err != nil {
		return "", errors.Wrap(errors.ErrCodeFetch, err, "create work root")
	}
	tmp, err := os.CreateTemp(f.root, pv.Name+"-*.crate")
	if err != nil {
		return "", errors.Wrap(errors.ErrCodeFetch, err, "create download file")
	}
	defer tmp.Close()

	sum := sha256.New()
	if _, err := f.client.Download(ctx, pv, io.MultiWriter(tmp, sum)); err != nil {
		os.Remove(tmp.Name())
		return "", err
	}
	if got := hex.EncodeToString(sum.Sum(nil)); got != want {
		os.Remove(tmp.Name())
		return "", errors.New(errors.ErrCodeArchiveCorrupt,
			"checksum mismatch for %s: got %s, want %s", pv, got, want)
	}
	return tmp.Name(), nil
}

// ExtractArchive extracts a downloaded archive into the package version's
// working directory and removes the archive file. On failure the partial
// extract is removed as well.
func (f *Fetcher) ExtractArchive(pv registry.PackageVersion, archivePath string) (string, error) {
	defer os.Remove(archivePath)

	in, err := os.Open(archivePath)
	if err != nil {
		return "", errors.Wrap(errors.ErrCodeFetch, err, "open archive")
	}
	defer in.Close()

	dest := f.Dir(pv)
	if err := Extract(in, dest, f.maxSize); err != nil {
		os.RemoveAll(dest)
		return "", err
	}
	return dest, nil
}

// Fetch downloads, verifies, and extracts in one step. Returns the
// extracted directory; on any failure nothing is left behind.
func (f *Fetcher) Fetch(ctx context.Context, pv registry.PackageVersion) (string, error) {
	path, err := f.Download(ctx, pv)
	if err != nil {
		return "", err
	}
	return f.ExtractArchive(pv, path)
}

// Extract decompresses a tar.gz stream into dest, creating it. Entry paths
// must stay inside dest; the cumulative extracted size must stay under
// maxSize. Symlinks and other special entries are skipped: compiled
// artifact trees contain only files and directories.
func Extract(r io.Reader, dest string, maxSize int64) error {
	gz, err := gzip.NewReader(r)
	if err != nil {
		return errors.Wrap(errors.ErrCodeArchiveCorrupt, err, "open compressed stream")
	}
	defer gz.Close()

	if err := os.MkdirAll(dest, 0o755); err != nil {
		return errors.Wrap(errors.ErrCodeFetch, err, "create extract dir")
	}

	var total int64
	tr := tar.NewReader(gz)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return errors.Wrap(errors.ErrCodeArchiveCorrupt, err, "read archive entry")
		}

		name := filepath.FromSlash(hdr.Name)
		if !filepath.IsLocal(name) {
			return errors.New(errors.ErrCodePathTraversal, "archive entry escapes target: %q", hdr.Name)
		}
		path := filepath.Join(dest, name)

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(path, 0o755); err != nil {
				return errors.Wrap(errors.ErrCodeFetch, err, "create dir %s", hdr.Name)
			}
		case tar.TypeReg:
			total += hdr.Size
			if total > maxSize {
				return errors.New(errors.ErrCodeSizeLimit,
					"extracted size exceeds limit of %d bytes", maxSize)
			}
			if err := writeFile(path, tr, hdr.Size); err != nil {
				return err
			}
		}
	}
}

func writeFile(path string, r io.Reader, size int64) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errors.Wrap(errors.ErrCodeFetch, err, "create parent dir")
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return errors.Wrap(errors.ErrCodeFetch, err, "create file")
	}
	// The header size bounds the copy so a forged header cannot smuggle
	// more bytes past the total-size accounting.
	if _, err := io.Copy(f, io.LimitReader(r, size)); err != nil {
		f.Close()
		return errors.Wrap(errors.ErrCodeArchiveCorrupt, err, "extract file")
	}
	if err := f.Close(); err != nil {
		return errors.Wrap(errors.ErrCodeFetch, err, "close file")
	}
	return nil
}
