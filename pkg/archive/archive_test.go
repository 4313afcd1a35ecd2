package archive

import (
	"archive/tar"
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/klauspost/compress/gzip"

	"github.com/cratemap/cratemap/pkg/cache"
	"github.com/cratemap/cratemap/pkg/errors"
	"github.com/cratemap/cratemap/pkg/registry"
)

type entry struct {
	name string
	body string
	dir  bool
}

func makeTarGz(t *testing.T, entries []entry) []byte {
	t.Helper()
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)
	for _, e := range entries {
		hdr := &tar.Header{Name: e.name, Mode: 0o644, Size: int64(len(e.body))}
		if e.dir {
			hdr.Typeflag = tar.TypeDir
			hdr.Mode = 0o755
		}
		if err := tw.WriteHeader(hdr); err != nil {
			t.Fatal(err)
		}
		if !e.dir {
			if _, err := tw.Write([]byte(e.body)); err != nil {
				t.Fatal(err)
			}
		}
	}
	if err := tw.Close(); err != nil {
		t.Fatal(err)
	}
	if err := gz.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func TestExtract(t *testing.T) {
	data := makeTarGz(t, []entry{
		{name: "serde-1.0.0/", dir: true},
		{name: "serde-1.0.0/lib.cmir", body: "cmir 1\n"},
		{name: "serde-1.0.0/nested/mod.cmir", body: "cmir 1\n"},
	})

	dest := filepath.Join(t.TempDir(), "out")
	if err := Extract(bytes.NewReader(data), dest, DefaultMaxExtractSize); err != nil {
		t.Fatalf("Extract() error: %v", err)
	}

	got, err := os.ReadFile(filepath.Join(dest, "serde-1.0.0", "lib.cmir"))
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "cmir 1\n" {
		t.Errorf("extracted content = %q", got)
	}
	if _, err := os.Stat(filepath.Join(dest, "serde-1.0.0", "nested", "mod.cmir")); err != nil {
		t.Errorf("nested file missing: %v", err)
	}
}

func TestExtract_PathTraversal(t *testing.T) {
	tests := []struct {
		name  string
		entry string
	}{
		{"dotdot", "../evil.sh"},
		{"nested dotdot", "ok/../../evil.sh"},
		{"absolute", "/etc/passwd"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data := makeTarGz(t, []entry{{name: tt.entry, body: "x"}})
			dest := filepath.Join(t.TempDir(), "out")
			err := Extract(bytes.NewReader(data), dest, DefaultMaxExtractSize)
			if !errors.Is(err, errors.ErrCodePathTraversal) {
				t.Errorf("error = %v, want PATH_TRAVERSAL", err)
			}
		})
	}
}

func TestExtract_SizeLimit(t *testing.T) {
	data := makeTarGz(t, []entry{
		{name: "a.txt", body: strings.Repeat("x", 600)},
		{name: "b.txt", body: strings.Repeat("y", 600)},
	})
	dest := filepath.Join(t.TempDir(), "out")
	err := Extract(bytes.NewReader(data), dest, 1000)
	if !errors.Is(err, errors.ErrCodeSizeLimit) {
		t.Errorf("error = %v, want SIZE_LIMIT_EXCEEDED", err)
	}
}

func TestExtract_CorruptStream(t *testing.T) {
	err := Extract(bytes.NewReader([]byte("not gzip at all")), t.TempDir(), DefaultMaxExtractSize)
	if !errors.Is(err, errors.ErrCodeArchiveCorrupt) {
		t.Errorf("error = %v, want CORRUPT_ARCHIVE", err)
	}
}

// fetchServer serves a registry index plus the archive itself. checksum of
// "" means "advertise the real checksum".
func fetchServer(t *testing.T, data []byte, checksum string) *httptest.Server {
	t.Helper()
	if checksum == "" {
		sum := sha256.Sum256(data)
		checksum = hex.EncodeToString(sum[:])
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/crates/serde", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"versions": []map[string]any{{"num": "1.0.0", "checksum": checksum}},
		})
	})
	mux.HandleFunc("/crates/serde/1.0.0/download", func(w http.ResponseWriter, r *http.Request) {
		w.Write(data)
	})
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server
}

func TestFetch(t *testing.T) {
	data := makeTarGz(t, []entry{{name: "lib.cmir", body: "cmir 1\nmodule m\n"}})
	server := fetchServer(t, data, "")

	client := registry.New(server.URL, cache.NewNullCache(), time.Hour)
	f := NewFetcher(client, t.TempDir(), 0)
	pv := registry.PackageVersion{Name: "serde", Version: "1.0.0"}

	dir, err := f.Fetch(context.Background(), pv)
	if err != nil {
		t.Fatalf("Fetch() error: %v", err)
	}
	if dir != f.Dir(pv) {
		t.Errorf("Fetch() dir = %s, want %s", dir, f.Dir(pv))
	}
	if _, err := os.Stat(filepath.Join(dir, "lib.cmir")); err != nil {
		t.Errorf("extracted artifact missing: %v", err)
	}

	// the temporary download file is gone
	matches, _ := filepath.Glob(filepath.Join(filepath.Dir(dir), "*.crate"))
	if len(matches) != 0 {
		t.Errorf("download leftovers: %v", matches)
	}
}

func TestFetch_ChecksumMismatch(t *testing.T) {
	data := makeTarGz(t, []entry{{name: "lib.cmir", body: "cmir 1\n"}})
	server := fetchServer(t, data, strings.Repeat("0", 64))

	client := registry.New(server.URL, cache.NewNullCache(), time.Hour)
	root := t.TempDir()
	f := NewFetcher(client, root, 0)
	pv := registry.PackageVersion{Name: "serde", Version: "1.0.0"}

	_, err := f.Fetch(context.Background(), pv)
	if !errors.Is(err, errors.ErrCodeArchiveCorrupt) {
		t.Fatalf("error = %v, want CORRUPT_ARCHIVE", err)
	}
	if _, statErr := os.Stat(f.Dir(pv)); !os.IsNotExist(statErr) {
		t.Error("extract dir exists after checksum failure")
	}
}

func TestFetch_LeavesNothingOnExtractFailure(t *testing.T) {
	data := makeTarGz(t, []entry{{name: "../evil", body: "x"}})
	server := fetchServer(t, data, "")

	client := registry.New(server.URL, cache.NewNullCache(), time.Hour)
	f := NewFetcher(client, t.TempDir(), 0)
	pv := registry.PackageVersion{Name: "serde", Version: "1.0.0"}

	_, err := f.Fetch(context.Background(), pv)
	if !errors.Is(err, errors.ErrCodePathTraversal) {
		t.Fatalf("error = %v, want PATH_TRAVERSAL", err)
	}
	if _, statErr := os.Stat(f.Dir(pv)); !os.IsNotExist(statErr) {
		t.Error("extract dir left behind after failure")
	}
}
