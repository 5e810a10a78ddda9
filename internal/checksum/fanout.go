package checksum

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

const defaultChunkSize = 1024 * 1024

// Options tune a checksum computation pass.
type Options struct {
	// ChunkSize is the read buffer size in bytes.
	ChunkSize int
	// Concurrency bounds the per-kind workers used by ComputeAt.
	Concurrency int
	// Timeout, when set, turns the pass into a best-effort one: on
	// expiry the pass stops and returns a partial result containing only
	// the kinds that fully finished. A zero duration expires immediately.
	Timeout *time.Duration
}

func (o Options) chunkSize() int {
	if o.ChunkSize <= 0 {
		return defaultChunkSize
	}
	return o.ChunkSize
}

func (o Options) concurrency() int {
	if o.Concurrency <= 0 {
		return 1
	}
	return o.Concurrency
}

// Result holds the digests of one computation pass over an object.
type Result struct {
	Size    int64
	Digests map[string]Digest
	// Partial marks a pass cut short by a timeout. Partial results carry
	// only fully finished kinds and must not be merged into sums records.
	Partial bool
}

// dedupe normalizes kinds against the object size and drops duplicates.
func dedupe(kinds []Kind, size int64) []Kind {
	seen := make(map[string]bool, len(kinds))
	out := make([]Kind, 0, len(kinds))
	for _, kind := range kinds {
		key := kind.Normalize(size).String()
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, kind)
	}
	return out
}

// Compute runs a single sequential read over r, feeding every requested
// kind. All hashers consume the same pass, so a timeout mid-stream yields
// an empty partial result: no kind has seen the full object yet.
func Compute(ctx context.Context, r io.Reader, size int64, kinds []Kind, opts Options) (*Result, error) {
	kinds = dedupe(kinds, size)

	hashers := make([]Hasher, 0, len(kinds))
	for _, kind := range kinds {
		h, err := NewHasher(kind, size)
		if err != nil {
			return nil, err
		}
		hashers = append(hashers, h)
	}

	var deadline time.Time
	hasDeadline := opts.Timeout != nil
	if hasDeadline {
		deadline = time.Now().Add(*opts.Timeout)
	}

	buf := make([]byte, opts.chunkSize())
	var read int64
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if hasDeadline && !time.Now().Before(deadline) {
			log.Debugf("checksum pass timed out after %d bytes", read)
			return &Result{Size: size, Digests: map[string]Digest{}, Partial: true}, nil
		}

		n, err := r.Read(buf)
		if n > 0 {
			read += int64(n)
			for _, h := range hashers {
				if _, werr := h.Write(buf[:n]); werr != nil {
					return nil, werr
				}
			}
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("reading object: %w", err)
		}
	}

	if size >= 0 && read != size {
		return nil, fmt.Errorf("object size changed during read: expected %d bytes, read %d", size, read)
	}

	result := &Result{Size: read, Digests: make(map[string]Digest, len(hashers))}
	for _, h := range hashers {
		digest, err := h.Sum()
		if err != nil {
			return nil, err
		}
		result.Digests[digest.Kind.String()] = digest
	}
	return result, nil
}

// ComputeAt runs one bounded worker per kind against a random-access
// source. Each worker makes its own sequential pass, so a timeout leaves
// the kinds that already finished intact. Output is identical to Compute.
func ComputeAt(ctx context.Context, src io.ReaderAt, size int64, kinds []Kind, opts Options) (*Result, error) {
	if size < 0 {
		return nil, fmt.Errorf("random access computation requires a known size")
	}
	kinds = dedupe(kinds, size)

	perKind := opts
	perKind.Concurrency = 0

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		firstErr  error
		partial   bool
		digests   = make(map[string]Digest, len(kinds))
		semaphore = make(chan struct{}, opts.concurrency())
	)

	for _, kind := range kinds {
		wg.Add(1)
		go func(kind Kind) {
			defer wg.Done()
			semaphore <- struct{}{}
			defer func() { <-semaphore }()

			section := io.NewSectionReader(src, 0, size)
			result, err := Compute(ctx, section, size, []Kind{kind}, perKind)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				if firstErr == nil {
					firstErr = err
				}
				return
			}
			if result.Partial {
				partial = true
				return
			}
			for key, digest := range result.Digests {
				digests[key] = digest
			}
		}(kind)
	}
	wg.Wait()

	if firstErr != nil {
		return nil, firstErr
	}
	return &Result{Size: size, Digests: digests, Partial: partial}, nil
}
