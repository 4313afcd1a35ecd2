package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cratemap/cratemap/pkg/cache"
	"github.com/cratemap/cratemap/pkg/errors"
	"github.com/cratemap/cratemap/pkg/httputil"
)

// DefaultBaseURL is the public registry index API root. Point the client at
// a mirror with [New] for air-gapped or rate-limited environments.
const DefaultBaseURL = "https://crates.io/api/v1"

const httpTimeout = 10 * time.Second

// PackageVersion identifies one published package version.
type PackageVersion struct {
	Name    string
	Version string
}

func (pv PackageVersion) String() string { return pv.Name + "@" + pv.Version }

// Version is one published release of a package as listed by the index.
type Version struct {
	Num      string `json:"num"`
	Checksum string `json:"checksum"`
	Yanked   bool   `json:"yanked"`
}

// Dependency is one declared dependency constraint from a manifest.
type Dependency struct {
	Name       string
	Constraint string
}

// Manifest holds a package version's declared dependencies and build
// targets. Pure metadata, no side effects.
type Manifest struct {
	Package      PackageVersion
	Dependencies []Dependency
	Targets      []string
}

// Client talks to the registry index API with response caching and
// automatic retries. All methods are safe for concurrent use.
type Client struct {
	http    *http.Client
	dl      *http.Client // no fixed timeout: archive size varies, ctx bounds it
	cache   cache.Cache
	ttl     time.Duration
	baseURL string
	headers map[string]string
}

// New creates a registry client. baseURL of "" selects [DefaultBaseURL];
// backend of nil disables caching.
func New(baseURL string, backend cache.Cache, ttl time.Duration) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if backend == nil {
		backend = cache.NewNullCache()
	}
	return &Client{
		http:    &http.Client{Timeout: httpTimeout},
		dl:      &http.Client{},
		cache:   backend,
		ttl:     ttl,
		baseURL: baseURL,
		headers: map[string]string{
			"User-Agent": "cratemap/1.0 (https://github.com/cratemap/cratemap)",
		},
	}
}

// Versions lists a package's published versions, newest first as served by
// the index. If refresh is true the cache is bypassed.
func (c *Client) Versions(ctx context.Context, name string, refresh bool) ([]Version, error) {
	if err := errors.ValidatePackageName(name); err != nil {
		return nil, err
	}

	var data versionsResponse
	err := c.cached(ctx, "versions:"+name, refresh, &data, func() error {
		return c.get(ctx, fmt.Sprintf("%s/crates/%s", c.baseURL, name), &data)
	})
	if err != nil {
		return nil, err
	}
	if len(data.Versions) == 0 {
		return nil, errors.New(errors.ErrCodeNotFound, "package %s has no published versions", name)
	}
	return data.Versions, nil
}

// Manifest fetches the dependency constraints and declared targets of one
// package version. Dev-only and optional dependencies are excluded: they
// never ship in the compiled artifact being analyzed.
func (c *Client) Manifest(ctx context.Context, pv PackageVersion) (*Manifest, error) {
	var data depsResponse
	url := fmt.Sprintf("%s/crates/%s/%s/dependencies", c.baseURL, pv.Name, pv.Version)
	err := c.cached(ctx, "manifest:"+pv.String(), false, &data, func() error {
		return c.get(ctx, url, &data)
	})
	if err != nil {
		return nil, err
	}

	m := &Manifest{Package: pv}
	targets := map[string]bool{}
	for _, d := range data.Dependencies {
		if d.Kind != "normal" || d.Optional {
			continue
		}
		m.Dependencies = append(m.Dependencies, Dependency{Name: d.CrateID, Constraint: d.Req})
		if d.Target != "" && !targets[d.Target] {
			targets[d.Target] = true
			m.Targets = append(m.Targets, d.Target)
		}
	}
	return m, nil
}

// Checksum returns the index-declared archive checksum for a package
// version, used to verify the download before extraction.
func (c *Client) Checksum(ctx context.Context, pv PackageVersion) (string, error) {
	versions, err := c.Versions(ctx, pv.Name, false)
	if err != nil {
		return "", err
	}
	for _, v := range versions {
		if v.Num == pv.Version {
			return v.Checksum, nil
		}
	}
	return "", errors.New(errors.ErrCodeNotFound, "version %s not published for %s", pv.Version, pv.Name)
}

// ArchiveURL returns the download URL for a package version's archive.
func (c *Client) ArchiveURL(pv PackageVersion) string {
	return fmt.Sprintf("%s/crates/%s/%s/download", c.baseURL, pv.Name, pv.Version)
}

// cached retrieves a value from cache or executes fetch and caches the
// result. If refresh is true the cache is bypassed and fetch always runs.
func (c *Client) cached(ctx context.Context, key string, refresh bool, v any, fetch func() error) error {
	if !refresh {
		if data, ok, _ := c.cache.Get(ctx, key); ok {
			if json.Unmarshal(data, v) == nil {
				return nil
			}
		}
	}
	if err := httputil.RetryWithBackoff(ctx, fetch); err != nil {
		return err
	}
	if data, err := json.Marshal(v); err == nil {
		_ = c.cache.Set(ctx, key, data, c.ttl)
	}
	return nil
}

// get performs an HTTP GET and JSON-decodes the response into v.
func (c *Client) get(ctx context.Context, url string, v any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return errors.Wrap(errors.ErrCodeNetwork, err, "build request")
	}
	for k, val := range c.headers {
		req.Header.Set(k, val)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return &httputil.RetryableError{Err: errors.Wrap(errors.ErrCodeNetwork, err, "registry request")}
	}
	defer resp.Body.Close()

	if err := checkStatus(resp.StatusCode); err != nil {
		return err
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return errors.Wrap(errors.ErrCodeNetwork, err, "decode registry response")
	}
	return nil
}

// download streams the response body of url to w, returning the byte count.
func (c *Client) download(ctx context.Context, url string, w io.Writer) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, errors.Wrap(errors.ErrCodeNetwork, err, "build request")
	}
	for k, val := range c.headers {
		req.Header.Set(k, val)
	}

	resp, err := c.dl.Do(req)
	if err != nil {
		return 0, &httputil.RetryableError{Err: errors.Wrap(errors.ErrCodeNetwork, err, "archive download")}
	}
	defer resp.Body.Close()

	if err := checkStatus(resp.StatusCode); err != nil {
		return 0, err
	}
	n, err := io.Copy(w, resp.Body)
	if err != nil {
		return n, &httputil.RetryableError{Err: errors.Wrap(errors.ErrCodeFetch, err, "archive download interrupted")}
	}
	return n, nil
}

// Download fetches a package version's archive into w. Transient failures
// come back as retryable; the caller's stage loop decides the retry policy.
func (c *Client) Download(ctx context.Context, pv PackageVersion, w io.Writer) (int64, error) {
	return c.download(ctx, c.ArchiveURL(pv), w)
}

func checkStatus(code int) error {
	switch {
	case code == http.StatusOK:
		return nil
	case code == http.StatusNotFound:
		return errors.New(errors.ErrCodeNotFound, "resource not found")
	case code >= 500:
		return &httputil.RetryableError{Err: errors.New(errors.ErrCodeNetwork, "registry status %d", code)}
	default:
		return errors.New(errors.ErrCodeNetwork, "registry status %d", code)
	}
}

type versionsResponse struct {
	Versions []Version `json:"versions"`
}

type depsResponse struct {
	Dependencies []struct {
		CrateID  string `json:"crate_id"`
		Req      string `json:"req"`
		Kind     string `json:"kind"`
		Optional bool   `json:"optional"`
		Target   string `json:"target"`
	} `json:"dependencies"`
}
