// Package staging locates sample files handed to an import batch.
//
// A path is tried as given (unless the resolver is confined), then under
// the staging directory, then as an object key in the staging bucket. Files fetched from the bucket are
// copied to a temporary file that the caller's cleanup func removes.
package staging

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/google/uuid"
)

// ObjectGetter is the subset of the S3 client the resolver needs.
type ObjectGetter interface {
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// S3Config configures the staging bucket client.
type S3Config struct {
	Bucket    string
	Region    string
	Endpoint  string // optional, for S3-compatible stores such as MinIO
	PathStyle bool
}

// NewS3Client builds a client from the default AWS credential chain.
func NewS3Client(ctx context.Context, cfg S3Config) (*s3.Client, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("staging bucket required")
	}
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = cfg.PathStyle
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	}), nil
}

// Resolver implements core.Stager.
type Resolver struct {
	Dir     string       // staging directory; optional
	S3      ObjectGetter // optional
	Bucket  string       // default bucket for keys without an s3:// prefix
	TempDir string       // where bucket objects are copied; os.TempDir() when empty

	// Confined accepts a path as given only when it lies under Dir, so
	// only the staging directory and bucket are reachable.
	Confined bool
}

// Confine returns a copy of r that resolves only under its staging
// directory and bucket.
func (r *Resolver) Confine() *Resolver {
	c := *r
	c.Confined = true
	return &c
}

func noop() {}

// Resolve returns a local path for p. The error wraps fs.ErrNotExist when
// no location holds the file.
func (r *Resolver) Resolve(ctx context.Context, p string) (string, func(), error) {
	if strings.HasPrefix(p, "s3://") {
		return r.fetch(ctx, p)
	}

	if isFile(p) && (!r.Confined || r.within(p)) {
		return p, noop, nil
	}
	if r.Dir != "" {
		if staged, ok := r.inDir(p); ok && isFile(staged) {
			return staged, noop, nil
		}
	}
	if r.S3 != nil && r.Bucket != "" {
		return r.fetch(ctx, p)
	}
	return "", nil, fmt.Errorf("resolve %s: %w", p, fs.ErrNotExist)
}

// inDir joins p under the staging directory, refusing paths that escape it.
func (r *Resolver) inDir(p string) (string, bool) {
	rel := filepath.Clean("/" + filepath.ToSlash(p))
	joined := filepath.Join(r.Dir, rel)
	if !strings.HasPrefix(joined, filepath.Clean(r.Dir)+string(filepath.Separator)) {
		return "", false
	}
	return joined, true
}

// within reports whether p names a path below the staging directory.
func (r *Resolver) within(p string) bool {
	if r.Dir == "" {
		return false
	}
	dir, err := filepath.Abs(r.Dir)
	if err != nil {
		return false
	}
	abs, err := filepath.Abs(p)
	if err != nil {
		return false
	}
	rel, err := filepath.Rel(dir, abs)
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return false
	}
	return true
}

func isFile(p string) bool {
	info, err := os.Stat(p)
	return err == nil && info.Mode().IsRegular()
}

// splitObject maps "s3://bucket/key" or a bare key to bucket and key.
func (r *Resolver) splitObject(p string) (string, string) {
	if rest, ok := strings.CutPrefix(p, "s3://"); ok {
		bucket, key, _ := strings.Cut(rest, "/")
		return bucket, key
	}
	return r.Bucket, strings.TrimPrefix(filepath.ToSlash(p), "/")
}

func (r *Resolver) fetch(ctx context.Context, p string) (string, func(), error) {
	if r.S3 == nil {
		return "", nil, fmt.Errorf("resolve %s: no staging bucket configured: %w", p, fs.ErrNotExist)
	}
	bucket, key := r.splitObject(p)
	if bucket == "" || key == "" {
		return "", nil, fmt.Errorf("resolve %s: %w", p, fs.ErrNotExist)
	}

	out, err := r.S3.GetObject(ctx, &s3.GetObjectInput{Bucket: aws.String(bucket), Key: aws.String(key)})
	if err != nil {
		var nsk *types.NoSuchKey
		if errors.As(err, &nsk) {
			return "", nil, fmt.Errorf("resolve %s: %w", p, fs.ErrNotExist)
		}
		return "", nil, fmt.Errorf("staging get s3://%s/%s: %w", bucket, key, err)
	}
	defer out.Body.Close()

	// Keep the extension so the loader can pick the decoder.
	tmp, err := os.CreateTemp(r.TempDir, "staged-*"+filepath.Ext(key))
	if err != nil {
		return "", nil, fmt.Errorf("staging temp file: %w", err)
	}
	cleanup := func() {
		if err := os.Remove(tmp.Name()); err != nil && !errors.Is(err, fs.ErrNotExist) {
			slog.Warn("failed to remove staged copy", "path", tmp.Name(), "error", err)
		}
	}

	if _, err := io.Copy(tmp, out.Body); err != nil {
		tmp.Close()
		cleanup()
		return "", nil, fmt.Errorf("staging copy s3://%s/%s: %w", bucket, key, err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return "", nil, fmt.Errorf("staging copy s3://%s/%s: %w", bucket, key, err)
	}

	slog.Debug("staged object", "bucket", bucket, "key", key, "path", tmp.Name())
	return tmp.Name(), cleanup, nil
}

// Stage writes an uploaded file into the staging directory under a unique
// name and returns its path. Only the base name of name is kept.
func (r *Resolver) Stage(name string, src io.Reader) (string, error) {
	if r.Dir == "" {
		return "", errors.New("staging directory not configured")
	}
	if err := os.MkdirAll(r.Dir, 0o750); err != nil {
		return "", fmt.Errorf("create staging directory: %w", err)
	}

	base := filepath.Base(filepath.Clean("/" + filepath.ToSlash(name)))
	if base == "/" || base == "." {
		base = "upload"
	}
	dst := filepath.Join(r.Dir, uuid.NewString()+"-"+base)

	f, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o640)
	if err != nil {
		return "", fmt.Errorf("create staged file: %w", err)
	}
	if _, err := io.Copy(f, src); err != nil {
		f.Close()
		os.Remove(dst)
		return "", fmt.Errorf("write staged file: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(dst)
		return "", fmt.Errorf("write staged file: %w", err)
	}
	return dst, nil
}
