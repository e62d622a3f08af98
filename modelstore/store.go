// Package modelstore downloads and durably caches the SAM2 encoder/
// decoder model artifacts, with streaming progress and cancellable
// downloads, backed by a bbolt file store so artifacts survive process
// restarts.
package modelstore

import (
	"context"

	"go.uber.org/zap"
)

// ArtifactKey identifies one of the two model files.
type ArtifactKey string

const (
	KeyEncoder ArtifactKey = "encoder"
	KeyDecoder ArtifactKey = "decoder"
)

// ExpectedBytes are the pinned sizes used for UI progress estimation
// before the real Content-Length is known.
const (
	ExpectedEncoderBytes int64 = 42 * 1024 * 1024
	ExpectedDecoderBytes int64 = 15 * 1024 * 1024
)

// Artifact describes one downloadable model file.
type Artifact struct {
	Key           ArtifactKey
	URL           string
	ExpectedBytes int64
}

// Manifest is the pair of artifacts this store manages.
type Manifest struct {
	Encoder Artifact
	Decoder Artifact
}

// TotalExpectedBytes sums the manifest's expected sizes, for UI
// estimation before any download has started.
func (m Manifest) TotalExpectedBytes() int64 {
	return m.Encoder.ExpectedBytes + m.Decoder.ExpectedBytes
}

// Stage identifies which artifact a progress callback update refers to.
type Stage string

const (
	StageEncoder      Stage = "encoder"
	StageDecoder      Stage = "decoder"
	StageInitializing Stage = "initializing"
)

// ProgressFunc receives byte-granular progress. loaded/total are the
// OVERALL combined counters across both artifacts (overall =
// encoderBytesSoFar + (on decoder stage ? encoderTotal + decoderBytesSoFar
// : 0)); stage names which artifact is currently transferring.
type ProgressFunc func(loaded, total int64, stage Stage)

// Bytes holds the loaded model bytes for both artifacts.
type Bytes struct {
	Encoder []byte
	Decoder []byte
}

// CachedInfo reports the size of cached artifacts, if any.
type CachedInfo struct {
	EncoderBytes int64
	DecoderBytes int64
}

// Store coordinates the durable cache and the network downloader.
type Store struct {
	manifest   Manifest
	cache      *Cache
	downloader *Downloader
	log        *zap.Logger
}

// New builds a Store over an already-open Cache and Downloader.
func New(manifest Manifest, cache *Cache, downloader *Downloader, log *zap.Logger) *Store {
	if log == nil {
		log = zap.NewNop()
	}
	return &Store{manifest: manifest, cache: cache, downloader: downloader, log: log}
}

// IsCached reports whether both artifacts are present in the durable
// cache.
func (s *Store) IsCached() bool {
	info := s.CachedInfo()
	return info != nil
}

// CachedInfo returns byte sizes for cached artifacts, or nil if either is
// missing.
func (s *Store) CachedInfo() *CachedInfo {
	enc, encOK := s.cache.Get(KeyEncoder)
	dec, decOK := s.cache.Get(KeyDecoder)
	if !encOK || !decOK {
		return nil
	}
	return &CachedInfo{EncoderBytes: int64(len(enc)), DecoderBytes: int64(len(dec))}
}

// TotalExpectedBytes exposes the manifest total for UI estimation.
func (s *Store) TotalExpectedBytes() int64 {
	return s.manifest.TotalExpectedBytes()
}

// ClearCache wipes both cached artifacts.
func (s *Store) ClearCache() error {
	return s.cache.Clear()
}

// LoadAll returns both artifacts' bytes, preferring the durable cache and
// falling back to streaming network downloads. Cache writes are
// best-effort: a cache failure is logged and never fails the overall
// load. ctx cancellation surfaces as a KindAborted error from the active
// download.
func (s *Store) LoadAll(ctx context.Context, onProgress ProgressFunc) (Bytes, error) {
	encoderBytes, err := s.loadOne(ctx, s.manifest.Encoder, StageEncoder, 0, onProgress)
	if err != nil {
		return Bytes{}, err
	}

	decoderBytes, err := s.loadOne(ctx, s.manifest.Decoder, StageDecoder, s.manifest.Encoder.ExpectedBytes, onProgress)
	if err != nil {
		return Bytes{}, err
	}

	return Bytes{Encoder: encoderBytes, Decoder: decoderBytes}, nil
}

func (s *Store) loadOne(ctx context.Context, artifact Artifact, stage Stage, overallBaseline int64, onProgress ProgressFunc) ([]byte, error) {
	overallTotal := s.manifest.TotalExpectedBytes()

	if cached, ok := s.cache.Get(artifact.Key); ok {
		if onProgress != nil {
			onProgress(overallBaseline+artifact.ExpectedBytes, overallTotal, stage)
		}
		return cached, nil
	}

	data, err := s.downloader.Download(ctx, artifact, func(loaded, total int64) {
		if onProgress != nil {
			onProgress(overallBaseline+loaded, overallTotal, stage)
		}
	})
	if err != nil {
		return nil, err
	}

	if err := s.cache.Put(artifact.Key, data); err != nil {
		s.log.Warn("failed to persist model artifact to cache, continuing without it",
			zap.String("key", string(artifact.Key)), zap.Error(err))
	}

	return data, nil
}
