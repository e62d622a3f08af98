package modelstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/cenkalti/backoff/v4"

	"github.com/getcharzp/sam2-session/samerr"
)

// ChunkProgressFunc reports byte-granular progress within a single
// artifact's download.
type ChunkProgressFunc func(loaded, total int64)

// Downloader streams model artifacts over HTTP with chunked progress
// reporting and retries transient failures before giving up.
type Downloader struct {
	Client     *http.Client
	MaxRetries uint64
	ChunkSize  int
}

// NewDownloader builds a Downloader with sane defaults.
func NewDownloader() *Downloader {
	return &Downloader{
		Client:     http.DefaultClient,
		MaxRetries: 3,
		ChunkSize:  1 << 20, // 1 MiB
	}
}

// Download streams artifact.URL fully into memory, invoking onChunk after
// every read. A non-2xx response is a KindNetworkError with no retry
// (retries only cover transport-level failures); ctx cancellation is
// KindAborted.
func (d *Downloader) Download(ctx context.Context, artifact Artifact, onChunk ChunkProgressFunc) ([]byte, error) {
	var result []byte

	operation := func() error {
		data, err := d.attempt(ctx, artifact, onChunk)
		if err != nil {
			if samerr.Is(err, samerr.KindAborted) || samerr.Is(err, samerr.KindNetworkError) {
				// KindNetworkError here means a non-2xx response, which
				// retrying will not fix; KindAborted must propagate
				// immediately. Both are permanent for backoff's purposes.
				return backoff.Permanent(err)
			}
			return err // transport-level failure: retry
		}
		result = data
		return nil
	}

	policy := backoff.WithMaxRetries(backoff.NewExponentialBackOff(), d.maxRetries())
	policy = backoff.WithContext(policy, ctx)

	if err := backoff.Retry(operation, policy); err != nil {
		var permanent *backoff.PermanentError
		if errors.As(err, &permanent) {
			return nil, permanent.Err
		}
		// backoff.Retry already unwraps permanent errors, so an attempt's
		// typed error (KindAborted or KindNetworkError) arrives here as-is.
		var typed *samerr.Error
		if errors.As(err, &typed) {
			return nil, err
		}
		if ctx.Err() != nil {
			return nil, samerr.New("Downloader.Download", samerr.KindAborted, ctx.Err())
		}
		return nil, samerr.New("Downloader.Download", samerr.KindNetworkError, err)
	}
	return result, nil
}

func (d *Downloader) maxRetries() uint64 {
	if d.MaxRetries == 0 {
		return 3
	}
	return d.MaxRetries
}

func (d *Downloader) attempt(ctx context.Context, artifact Artifact, onChunk ChunkProgressFunc) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, artifact.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}

	resp, err := d.Client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, samerr.New("Downloader.attempt", samerr.KindAborted, ctx.Err())
		}
		return nil, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, samerr.New("Downloader.attempt", samerr.KindNetworkError,
			fmt.Errorf("unexpected status %d for %s", resp.StatusCode, artifact.URL))
	}

	total := artifact.ExpectedBytes
	if resp.ContentLength > 0 {
		total = resp.ContentLength
	}

	chunkSize := d.ChunkSize
	if chunkSize <= 0 {
		chunkSize = 1 << 20
	}

	buf := make([]byte, 0, total)
	chunk := make([]byte, chunkSize)
	var loaded int64

	for {
		select {
		case <-ctx.Done():
			return nil, samerr.New("Downloader.attempt", samerr.KindAborted, ctx.Err())
		default:
		}

		n, err := resp.Body.Read(chunk)
		if n > 0 {
			buf = append(buf, chunk[:n]...)
			loaded += int64(n)
			if onChunk != nil {
				onChunk(loaded, total)
			}
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read body: %w", err)
		}
	}

	return buf, nil
}
