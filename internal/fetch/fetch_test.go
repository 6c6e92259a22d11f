package fetch

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/klauspost/compress/zstd"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/hackscore/internal/config"
	"github.com/mattjoyce/hackscore/internal/log"
)

func TestMain(m *testing.M) {
	log.Setup("ERROR", "json")
	os.Exit(m.Run())
}

func newTestFetcher(t *testing.T, retries uint) *Fetcher {
	t.Helper()
	f, err := New(config.FetchConfig{HTTPTimeout: 5 * time.Second, MaxRetries: retries})
	require.NoError(t, err)
	f.backOff = func() backoff.BackOff { return backoff.NewConstantBackOff(time.Millisecond) }
	return f
}

func TestFetchLocalPaths(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "weights.bin")
	require.NoError(t, os.WriteFile(src, []byte("0123456789"), 0o600))

	f := newTestFetcher(t, 0)
	for name, rawURL := range map[string]string{
		"bare path": src,
		"file url":  "file://" + src,
	} {
		t.Run(name, func(t *testing.T) {
			dst := filepath.Join(t.TempDir(), "out")
			n, err := f.FetchToFile(context.Background(), rawURL, dst)
			require.NoError(t, err)
			assert.EqualValues(t, 10, n)
			got, err := os.ReadFile(dst)
			require.NoError(t, err)
			assert.Equal(t, "0123456789", string(got))
		})
	}
}

func TestFetchMissingFileIsNotRetried(t *testing.T) {
	f := newTestFetcher(t, 5)
	_, err := f.FetchToFile(context.Background(), filepath.Join(t.TempDir(), "nope"), filepath.Join(t.TempDir(), "out"))
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestFetchHTTPRetriesTransientFailures(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte("payload"))
	}))
	defer srv.Close()

	f := newTestFetcher(t, 3)
	dst := filepath.Join(t.TempDir(), "out")
	n, err := f.FetchToFile(context.Background(), srv.URL+"/files/a.csv", dst)
	require.NoError(t, err)
	assert.EqualValues(t, 7, n)
	assert.EqualValues(t, 3, calls.Load())

	_, err = os.Stat(dst + ".part")
	assert.True(t, os.IsNotExist(err))
}

func TestFetchHTTPGivesUpAfterMaxRetries(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	f := newTestFetcher(t, 2)
	_, err := f.FetchToFile(context.Background(), srv.URL+"/x", filepath.Join(t.TempDir(), "out"))
	require.Error(t, err)
	assert.EqualValues(t, 3, calls.Load())
}

func TestFetchHTTP404IsPermanent(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.NotFound(w, r)
	}))
	defer srv.Close()

	f := newTestFetcher(t, 4)
	_, err := f.FetchToFile(context.Background(), srv.URL+"/missing", filepath.Join(t.TempDir(), "out"))
	assert.ErrorIs(t, err, ErrNotFound)
	assert.EqualValues(t, 1, calls.Load())
}

func TestFetchDecompressesZstd(t *testing.T) {
	var buf bytes.Buffer
	enc, err := zstd.NewWriter(&buf)
	require.NoError(t, err)
	_, err = enc.Write([]byte("compressed test data"))
	require.NoError(t, err)
	require.NoError(t, enc.Close())

	src := filepath.Join(t.TempDir(), "data.csv.zst")
	require.NoError(t, os.WriteFile(src, buf.Bytes(), 0o600))

	dst := filepath.Join(t.TempDir(), "Test data")
	_, err = newTestFetcher(t, 0).FetchToFile(context.Background(), src, dst)
	require.NoError(t, err)
	got, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, "compressed test data", string(got))
}

func TestFetchUnsupportedSchemes(t *testing.T) {
	f := newTestFetcher(t, 3)
	for _, rawURL := range []string{"ftp://host/file", "s3://bucket/key"} {
		_, err := f.FetchToFile(context.Background(), rawURL, filepath.Join(t.TempDir(), "out"))
		assert.ErrorIs(t, err, ErrUnsupportedScheme, rawURL)
	}
}

func TestSplitS3URL(t *testing.T) {
	cases := []struct {
		raw    string
		bucket string
		key    string
		ok     bool
	}{
		{raw: "s3://submissions/teams/t1/weights.bin", bucket: "submissions", key: "teams/t1/weights.bin", ok: true},
		{raw: "s3://organizer/test.csv.zst", bucket: "organizer", key: "test.csv.zst", ok: true},
		{raw: "s3://submissions/", ok: false},
		{raw: "s3://submissions", ok: false},
		{raw: "s3:///weights.bin", ok: false},
		{raw: "s3://submissions/teams/", ok: false},
	}
	for _, tc := range cases {
		t.Run(tc.raw, func(t *testing.T) {
			u, err := url.Parse(tc.raw)
			require.NoError(t, err)
			bucket, key, err := splitS3URL(u)
			if !tc.ok {
				assert.ErrorIs(t, err, ErrUnsupportedScheme)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.bucket, bucket)
			assert.Equal(t, tc.key, key)
		})
	}
}

// fakeS3 serves objects by "/<bucket>/<key>" path and answers NoSuchKey for
// anything else.
type fakeS3 struct {
	objects map[string][]byte

	mu    sync.Mutex
	paths []string
}

func (s *fakeS3) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	s.paths = append(s.paths, r.URL.Path)
	s.mu.Unlock()

	body, ok := s.objects[r.URL.Path]
	if !ok {
		parts := strings.SplitN(strings.TrimPrefix(r.URL.Path, "/"), "/", 2)
		w.Header().Set("Content-Type", "application/xml")
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`<?xml version="1.0" encoding="UTF-8"?>
<Error><Code>NoSuchKey</Code><Message>The specified key does not exist.</Message><BucketName>` +
			parts[0] + `</BucketName><Key>` + parts[len(parts)-1] + `</Key></Error>`))
		return
	}
	w.Header().Set("Last-Modified", time.Now().UTC().Format(http.TimeFormat))
	w.Header().Set("ETag", `"0123456789abcdef"`)
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Length", strconv.Itoa(len(body)))
	if r.Method != http.MethodHead {
		_, _ = w.Write(body)
	}
}

func (s *fakeS3) requested() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.paths...)
}

func TestFetchS3(t *testing.T) {
	var compressed bytes.Buffer
	enc, err := zstd.NewWriter(&compressed)
	require.NoError(t, err)
	_, err = enc.Write([]byte("a,b\n1,2\n"))
	require.NoError(t, err)
	require.NoError(t, enc.Close())

	s3 := &fakeS3{objects: map[string][]byte{
		"/submissions/teams/t1/weights.bin": []byte("weights"),
		"/organizer/test.csv.zst":           compressed.Bytes(),
	}}
	srv := httptest.NewServer(s3)
	defer srv.Close()

	f, err := New(config.FetchConfig{
		HTTPTimeout: 5 * time.Second,
		MaxRetries:  3,
		S3: &config.S3Config{
			Endpoint:  strings.TrimPrefix(srv.URL, "http://"),
			AccessKey: "access",
			SecretKey: "secret",
			Region:    "us-east-1",
		},
	})
	require.NoError(t, err)
	f.backOff = func() backoff.BackOff { return backoff.NewConstantBackOff(time.Millisecond) }
	ctx := context.Background()

	dst := filepath.Join(t.TempDir(), "weights")
	n, err := f.FetchToFile(ctx, "s3://submissions/teams/t1/weights.bin", dst)
	require.NoError(t, err)
	assert.EqualValues(t, len("weights"), n)
	got, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, "weights", string(got))

	dst = filepath.Join(t.TempDir(), "test.csv")
	_, err = f.FetchToFile(ctx, "s3://organizer/test.csv.zst", dst)
	require.NoError(t, err)
	got, err = os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, "a,b\n1,2\n", string(got))

	before := len(s3.requested())
	_, err = f.FetchToFile(ctx, "s3://submissions/teams/t1/missing.bin", filepath.Join(t.TempDir(), "out"))
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, []string{"/submissions/teams/t1/missing.bin"}, s3.requested()[before:], "missing objects are not retried")

	for _, p := range s3.requested() {
		assert.NotContains(t, p, "?location", "region is configured")
	}
}
