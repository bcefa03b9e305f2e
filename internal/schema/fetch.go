package schema

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
)

// maxConfigSize caps a single downloaded template.
const maxConfigSize = 8 << 20

// Fetcher retrieves template files from one of three sources, checked in
// order: a local directory, a direct base URL, or the assets of a GitHub
// release. It is used at startup only.
type Fetcher struct {
	Dir        string // local directory holding template files
	DirectURL  string // base URL; the file name is appended
	ReleaseURL string // GitHub API URL of a release
	Token      string // optional GitHub token

	client *retryablehttp.Client
}

// NewFetcher returns a Fetcher whose HTTP client retries transient failures.
func NewFetcher(dir, directURL, releaseURL, token string, timeout time.Duration) *Fetcher {
	c := retryablehttp.NewClient()
	c.RetryMax = 3
	c.RetryWaitMin = 500 * time.Millisecond
	c.RetryWaitMax = 5 * time.Second
	c.HTTPClient.Timeout = timeout
	c.Logger = slog.Default()

	return &Fetcher{
		Dir:        dir,
		DirectURL:  strings.TrimRight(directURL, "/"),
		ReleaseURL: releaseURL,
		Token:      token,
		client:     c,
	}
}

// Fetch returns the raw bytes of the named template file.
func (f *Fetcher) Fetch(ctx context.Context, file string) ([]byte, error) {
	switch {
	case f.Dir != "":
		data, err := os.ReadFile(filepath.Join(f.Dir, file))
		if err != nil {
			return nil, &ConfigError{Format: file, Err: err}
		}
		return data, nil
	case f.DirectURL != "":
		return f.get(ctx, file, f.DirectURL+"/"+file)
	case f.ReleaseURL != "":
		url, err := f.assetURL(ctx, file)
		if err != nil {
			return nil, err
		}
		return f.get(ctx, file, url)
	default:
		return nil, configErr(file, "", "no config source configured")
	}
}

type releaseInfo struct {
	Assets []struct {
		Name               string `json:"name"`
		BrowserDownloadURL string `json:"browser_download_url"`
	} `json:"assets"`
}

// assetURL looks up the download URL of file among the release assets.
func (f *Fetcher) assetURL(ctx context.Context, file string) (string, error) {
	data, err := f.get(ctx, file, f.ReleaseURL)
	if err != nil {
		return "", err
	}

	var info releaseInfo
	if err := json.Unmarshal(data, &info); err != nil {
		return "", &ConfigError{Format: file, Err: fmt.Errorf("decode release info: %w", err)}
	}
	for _, a := range info.Assets {
		if a.Name == file {
			return a.BrowserDownloadURL, nil
		}
	}
	return "", configErr(file, "", "asset not found in release %s", f.ReleaseURL)
}

func (f *Fetcher) get(ctx context.Context, file, url string) ([]byte, error) {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, &ConfigError{Format: file, Err: err}
	}
	if f.Token != "" {
		req.Header.Set("Authorization", "token "+f.Token)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, &ConfigError{Format: file, Err: fmt.Errorf("fetch %s: %w", url, err)}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, configErr(file, "", "fetch %s: status %d", url, resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxConfigSize))
	if err != nil {
		return nil, &ConfigError{Format: file, Err: fmt.Errorf("read %s: %w", url, err)}
	}
	return data, nil
}

// FormatFile names the template file backing one format.
type FormatFile struct {
	Name string
	File string
}

// LoadRegistry fetches and compiles every listed format template.
// Any failure is fatal: the registry is returned only when all formats build.
func LoadRegistry(ctx context.Context, f *Fetcher, files []FormatFile) (*Registry, error) {
	specs := make([]*FormatSpec, 0, len(files))
	for _, ff := range files {
		raw, err := f.Fetch(ctx, ff.File)
		if err != nil {
			return nil, err
		}
		spec, err := Build(ff.Name, raw)
		if err != nil {
			return nil, err
		}
		slog.Info("format loaded",
			"format", spec.Name,
			"columns", len(spec.Columns),
			"groups", len(spec.Groups),
			"date_columns", len(spec.DateColumns),
		)
		specs = append(specs, spec)
	}
	return NewRegistry(specs...)
}

// LoadOntologies fetches and parses the ontology validator file.
// An empty file name yields an empty set.
func LoadOntologies(ctx context.Context, f *Fetcher, file string) (Ontologies, error) {
	if file == "" {
		return Ontologies{}, nil
	}
	raw, err := f.Fetch(ctx, file)
	if err != nil {
		return nil, err
	}
	return ParseOntologies(raw)
}
