// Package fetch resolves storage URLs of submission and organizer files to
// local files.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/cenkalti/backoff/v5"
	"github.com/go-resty/resty/v2"
	"github.com/klauspost/compress/zstd"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/mattjoyce/hackscore/internal/config"
	"github.com/mattjoyce/hackscore/internal/log"
)

var (
	// ErrNotFound means the object does not exist at the given URL.
	ErrNotFound = errors.New("object not found")
	// ErrUnsupportedScheme means no transport handles the URL scheme.
	ErrUnsupportedScheme = errors.New("unsupported url scheme")
)

// Fetcher downloads file://, bare path, http(s):// and s3:// URLs. Objects
// whose path ends in .zst are decompressed on the fly.
type Fetcher struct {
	http       *resty.Client
	s3         *minio.Client
	maxRetries uint
	backOff    func() backoff.BackOff
}

func New(cfg config.FetchConfig) (*Fetcher, error) {
	client := resty.New().SetTimeout(cfg.HTTPTimeout)

	f := &Fetcher{
		http:       client,
		maxRetries: cfg.MaxRetries,
		backOff: func() backoff.BackOff {
			return backoff.NewExponentialBackOff()
		},
	}

	if cfg.S3 != nil {
		s3, err := minio.New(cfg.S3.Endpoint, &minio.Options{
			Creds:  credentials.NewStaticV4(cfg.S3.AccessKey, cfg.S3.SecretKey, ""),
			Secure: cfg.S3.UseSSL,
			Region: cfg.S3.Region,
		})
		if err != nil {
			return nil, fmt.Errorf("create s3 client: %w", err)
		}
		f.s3 = s3
	}
	return f, nil
}

// FetchToFile downloads rawURL into dst and returns the number of bytes
// written. Transient failures are retried with exponential backoff; a missing
// object or an unusable URL is not.
func (f *Fetcher) FetchToFile(ctx context.Context, rawURL, dst string) (int64, error) {
	logger := log.WithComponent("fetch")
	attempt := 0
	op := func() (int64, error) {
		attempt++
		n, err := f.fetchOnce(ctx, rawURL, dst)
		if err == nil {
			return n, nil
		}
		if errors.Is(err, ErrNotFound) || errors.Is(err, ErrUnsupportedScheme) {
			return 0, backoff.Permanent(err)
		}
		logger.Debug("fetch attempt failed", "url", rawURL, "attempt", attempt, "error", err)
		return 0, err
	}

	n, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(f.backOff()),
		backoff.WithMaxTries(f.maxRetries+1),
	)
	if err != nil {
		return 0, fmt.Errorf("fetch %s: %w", rawURL, err)
	}
	return n, nil
}

func (f *Fetcher) fetchOnce(ctx context.Context, rawURL, dst string) (int64, error) {
	body, objectPath, err := f.open(ctx, rawURL)
	if err != nil {
		return 0, err
	}
	defer body.Close()

	var src io.Reader = body
	if strings.HasSuffix(objectPath, ".zst") {
		dec, err := zstd.NewReader(body)
		if err != nil {
			return 0, fmt.Errorf("zstd reader: %w", err)
		}
		defer dec.Close()
		src = dec
	}

	part := dst + ".part"
	out, err := os.OpenFile(part, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return 0, fmt.Errorf("create %s: %w", filepath.Base(dst), err)
	}
	n, copyErr := io.Copy(out, src)
	closeErr := out.Close()
	if copyErr != nil || closeErr != nil {
		_ = os.Remove(part)
		return 0, fmt.Errorf("write %s: %w", filepath.Base(dst), errors.Join(copyErr, closeErr))
	}
	if err := os.Rename(part, dst); err != nil {
		_ = os.Remove(part)
		return 0, fmt.Errorf("rename %s: %w", filepath.Base(dst), err)
	}
	return n, nil
}

// open returns a reader for rawURL along with the object path used to detect
// compression.
func (f *Fetcher) open(ctx context.Context, rawURL string) (io.ReadCloser, string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, "", fmt.Errorf("parse url %q: %v: %w", rawURL, err, ErrUnsupportedScheme)
	}

	switch u.Scheme {
	case "", "file":
		path := rawURL
		if u.Scheme == "file" {
			path = u.Path
		}
		file, err := os.Open(path)
		if errors.Is(err, os.ErrNotExist) {
			return nil, "", fmt.Errorf("%s: %w", path, ErrNotFound)
		}
		if err != nil {
			return nil, "", fmt.Errorf("open %s: %w", path, err)
		}
		return file, path, nil

	case "http", "https":
		resp, err := f.http.R().
			SetContext(ctx).
			SetDoNotParseResponse(true).
			Get(rawURL)
		if err != nil {
			return nil, "", fmt.Errorf("http get: %w", err)
		}
		switch {
		case resp.StatusCode() == http.StatusNotFound:
			_ = resp.RawBody().Close()
			return nil, "", fmt.Errorf("http 404: %w", ErrNotFound)
		case resp.StatusCode() != http.StatusOK:
			_ = resp.RawBody().Close()
			return nil, "", fmt.Errorf("http get failed with status: %s", resp.Status())
		}
		return resp.RawBody(), u.Path, nil

	case "s3":
		if f.s3 == nil {
			return nil, "", fmt.Errorf("s3 url %q but fetch.s3 is not configured: %w", rawURL, ErrUnsupportedScheme)
		}
		bucket, key, err := splitS3URL(u)
		if err != nil {
			return nil, "", err
		}
		obj, err := f.s3.GetObject(ctx, bucket, key, minio.GetObjectOptions{})
		if err != nil {
			return nil, "", fmt.Errorf("s3 get object: %w", err)
		}
		if _, err := obj.Stat(); err != nil {
			_ = obj.Close()
			if minio.ToErrorResponse(err).Code == "NoSuchKey" {
				return nil, "", fmt.Errorf("s3://%s/%s: %w", bucket, key, ErrNotFound)
			}
			return nil, "", fmt.Errorf("s3 stat object: %w", err)
		}
		return obj, key, nil
	}

	return nil, "", fmt.Errorf("%q: %w", u.Scheme, ErrUnsupportedScheme)
}

// splitS3URL maps s3://bucket/key/path to its bucket and object key.
func splitS3URL(u *url.URL) (bucket, key string, err error) {
	bucket = u.Host
	key = strings.TrimPrefix(u.Path, "/")
	if bucket == "" || key == "" || strings.HasSuffix(key, "/") {
		return "", "", fmt.Errorf("s3 url %q needs a bucket and an object key: %w", u.String(), ErrUnsupportedScheme)
	}
	return bucket, key, nil
}
