// Package downloader implements the concurrent HTTP download engine: bounded
// parallelism, temp-file-then-rename, content-length verification, and
// retry with exponential backoff, per §4.5.
package downloader

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	downloaderrors "github.com/meshtastic/fetchtastic/internal/errors"
	"github.com/meshtastic/fetchtastic/internal/fileops"
	"github.com/meshtastic/fetchtastic/internal/githubapi"
	"github.com/meshtastic/fetchtastic/internal/logging"
)

const (
	// DefaultMaxConcurrent is the default worker-pool width.
	DefaultMaxConcurrent = 5

	// DefaultRequestTimeout bounds a single HTTP attempt end to end.
	DefaultRequestTimeout = 30 * time.Second

	// DefaultChunkSize is the streaming copy buffer size.
	DefaultChunkSize = 8 * 1024

	// DefaultMaxRetries is the number of additional attempts after the first.
	DefaultMaxRetries = 3

	// DefaultRetryDelay is the initial backoff delay.
	DefaultRetryDelay = time.Second

	// DefaultBackoffFactor multiplies the delay after each retry.
	DefaultBackoffFactor = 2.0
)

// ProgressFunc reports bytesSoFar out of total (total is 0 when unknown).
type ProgressFunc func(bytesSoFar, total int64, filename string)

// Spec describes a single file to fetch.
type Spec struct {
	Index      int
	URL        string
	TargetPath string
	ExpectSize int64 // 0 when unknown

	OnProgress ProgressFunc
}

// Result is the outcome of one Spec.
type Result struct {
	Index      int
	TargetPath string
	Size       int64
	WasSkipped bool
	Err        error
}

// Downloader runs bounded-concurrency downloads against an HTTP client.
type Downloader struct {
	Client *http.Client
	Logger logging.Logger

	MaxConcurrent  int
	MaxRetries     int
	RetryDelay     time.Duration
	BackoffFactor  float64
	RequestTimeout time.Duration
	ChunkSize      int
	Token          string

	sem chan struct{}
}

// New builds a Downloader with production defaults, clamping MaxConcurrent
// to at least 1.
func New(maxConcurrent int, token string, logger logging.Logger) *Downloader {
	if maxConcurrent < 1 {
		maxConcurrent = DefaultMaxConcurrent
	}
	return &Downloader{
		Client: &http.Client{
			Timeout: DefaultRequestTimeout,
			Transport: &http.Transport{
				TLSClientConfig:     &tls.Config{MinVersion: tls.VersionTLS12},
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		Logger:         logger,
		MaxConcurrent:  maxConcurrent,
		MaxRetries:     DefaultMaxRetries,
		RetryDelay:     DefaultRetryDelay,
		BackoffFactor:  DefaultBackoffFactor,
		RequestTimeout: DefaultRequestTimeout,
		ChunkSize:      DefaultChunkSize,
		Token:          token,
		sem:            make(chan struct{}, maxConcurrent),
	}
}

// DownloadMany runs every spec through Download, respecting the shared
// concurrency gate, and returns one Result per spec in spec order.
// Malformed specs produce a per-index error without aborting the batch.
func (d *Downloader) DownloadMany(ctx context.Context, specs []Spec) []Result {
	results := make([]Result, len(specs))
	done := make(chan Result, len(specs))

	for i, spec := range specs {
		spec.Index = i
		go func(s Spec) {
			select {
			case d.sem <- struct{}{}:
				defer func() { <-d.sem }()
			case <-ctx.Done():
				done <- Result{Index: s.Index, TargetPath: s.TargetPath, Err: ctx.Err()}
				return
			}
			size, skipped, err := d.downloadWithRetry(ctx, s)
			done <- Result{Index: s.Index, TargetPath: s.TargetPath, Size: size, WasSkipped: skipped, Err: err}
		}(spec)
	}

	for range specs {
		r := <-done
		results[r.Index] = r
	}
	return results
}

// Download fetches a single spec, retrying retryable failures with
// exponential backoff. It enforces the concurrency gate itself.
func (d *Downloader) Download(ctx context.Context, spec Spec) (size int64, wasSkipped bool, err error) {
	select {
	case d.sem <- struct{}{}:
		defer func() { <-d.sem }()
	case <-ctx.Done():
		return 0, false, ctx.Err()
	}
	return d.downloadWithRetry(ctx, spec)
}

func (d *Downloader) downloadWithRetry(ctx context.Context, spec Spec) (int64, bool, error) {
	delay := d.RetryDelay
	if delay <= 0 {
		delay = DefaultRetryDelay
	}
	factor := d.BackoffFactor
	if factor <= 0 {
		factor = DefaultBackoffFactor
	}
	maxRetries := d.MaxRetries
	if maxRetries < 0 {
		maxRetries = DefaultMaxRetries
	}

	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return 0, false, ctx.Err()
			}
			delay = time.Duration(float64(delay) * factor)
		}

		size, skipped, err := d.attempt(ctx, spec)
		if err == nil {
			return size, skipped, nil
		}
		lastErr = err
		de, ok := downloaderrors.Of(err)
		if !ok || !de.Retryable() {
			return 0, false, err
		}
		if d.Logger != nil {
			d.Logger.Warnw("download attempt failed, retrying", "url", spec.URL, "attempt", attempt+1, "error", err)
		}
	}
	return 0, false, lastErr
}

func (d *Downloader) attempt(ctx context.Context, spec Spec) (int64, bool, error) {
	if spec.URL == "" || spec.TargetPath == "" {
		return 0, false, downloaderrors.New(downloaderrors.KindConfig, "spec missing url or target path")
	}

	dir := filepath.Dir(spec.TargetPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return 0, false, downloaderrors.Wrap(downloaderrors.KindFilesystem, err, "create target directory")
	}

	if fi, err := os.Stat(spec.TargetPath); err == nil {
		if verifyExisting(spec.TargetPath, fi.Size(), spec.ExpectSize) {
			return fi.Size(), true, nil
		}
	}

	tempPath := fmt.Sprintf("%s.tmp.%d.%d", spec.TargetPath, os.Getpid(), time.Now().UnixMilli())

	reqCtx, cancel := context.WithTimeout(ctx, d.requestTimeout())
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, spec.URL, nil)
	if err != nil {
		return 0, false, downloaderrors.Wrap(downloaderrors.KindConfig, err, "build request")
	}
	githubapi.SetHeaders(req, d.Token)

	resp, err := d.client().Do(req)
	if err != nil {
		return 0, false, downloaderrors.Wrap(downloaderrors.KindNetwork, err, "request failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return 0, false, downloaderrors.FromHTTPStatus(resp.StatusCode, false, time.Time{})
	}

	total := spec.ExpectSize
	if total == 0 {
		if cl, err := strconv.ParseInt(resp.Header.Get("Content-Length"), 10, 64); err == nil {
			total = cl
		}
	}

	size, err := d.stream(reqCtx, resp.Body, tempPath, total, filepath.Base(spec.TargetPath), spec.OnProgress)
	if err != nil {
		os.Remove(tempPath)
		return 0, false, err
	}

	if spec.ExpectSize > 0 && size != spec.ExpectSize {
		os.Remove(tempPath)
		return 0, false, downloaderrors.New(downloaderrors.KindIntegrity, fmt.Sprintf("size mismatch: got %d, want %d", size, spec.ExpectSize))
	}

	if err := os.Rename(tempPath, spec.TargetPath); err != nil {
		os.Remove(tempPath)
		return 0, false, downloaderrors.Wrap(downloaderrors.KindFilesystem, err, "rename temp file")
	}

	if sum, ok := fileops.SHA256(spec.TargetPath); ok {
		_ = fileops.SaveHashSidecar(spec.TargetPath, sum)
	}

	return size, false, nil
}

func (d *Downloader) stream(ctx context.Context, body io.Reader, tempPath string, total int64, filename string, onProgress ProgressFunc) (int64, error) {
	f, err := os.OpenFile(tempPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return 0, downloaderrors.Wrap(downloaderrors.KindFilesystem, err, "create temp file")
	}
	defer f.Close()

	chunkSize := d.ChunkSize
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	buf := make([]byte, chunkSize)

	var written int64
	for {
		select {
		case <-ctx.Done():
			return written, ctx.Err()
		default:
		}

		n, readErr := body.Read(buf)
		if n > 0 {
			if _, werr := f.Write(buf[:n]); werr != nil {
				return written, downloaderrors.Wrap(downloaderrors.KindFilesystem, werr, "write chunk")
			}
			written += int64(n)
			if onProgress != nil {
				onProgress(written, total, filename)
			}
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			return written, downloaderrors.Wrap(downloaderrors.KindNetwork, readErr, "read response body")
		}
	}

	if err := f.Sync(); err != nil {
		return written, downloaderrors.Wrap(downloaderrors.KindFilesystem, err, "fsync temp file")
	}
	return written, nil
}

// verifyExisting reports whether a target already on disk passes the
// cheap size/zip-integrity check that lets a download be skipped.
func verifyExisting(path string, actualSize, expectSize int64) bool {
	if expectSize > 0 && actualSize != expectSize {
		return false
	}
	if filepath.Ext(path) == ".zip" {
		return fileops.VerifyZip(path)
	}
	if sum, ok := fileops.ReadHashSidecar(path); ok {
		actual, ok := fileops.SHA256(path)
		return ok && fileops.CompareHashes(sum, actual)
	}
	return true
}

func (d *Downloader) client() *http.Client {
	if d.Client != nil {
		return d.Client
	}
	return http.DefaultClient
}

func (d *Downloader) requestTimeout() time.Duration {
	if d.RequestTimeout > 0 {
		return d.RequestTimeout
	}
	return DefaultRequestTimeout
}
