package service

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"sync"

	log "github.com/sirupsen/logrus"

	"github.com/cloudsum/cloudsum/internal/checksum"
	"github.com/cloudsum/cloudsum/internal/config"
	internalerrors "github.com/cloudsum/cloudsum/internal/errors"
	"github.com/cloudsum/cloudsum/internal/repository/objectstore"
	"github.com/cloudsum/cloudsum/internal/stats"
	"github.com/cloudsum/cloudsum/internal/sums"
)

// CopyState tracks a copy through its lifecycle. Transitions:
// Planned, InProgress, Verifying, then Verified or Mismatched, then Done.
// A fatal error during transfer or verification moves to Aborted.
type CopyState string

const (
	StatePlanned    CopyState = "planned"
	StateInProgress CopyState = "in-progress"
	StateVerifying  CopyState = "verifying"
	StateVerified   CopyState = "verified"
	StateMismatched CopyState = "mismatched"
	StateDone       CopyState = "done"
	StateAborted    CopyState = "aborted"
)

// CopyService copies objects between stores with checksum verification.
type CopyService struct {
	factory RepositoryFactory
	cfg     *config.Config
}

// NewCopyService creates a new CopyService instance
func NewCopyService(factory RepositoryFactory, cfg *config.Config) *CopyService {
	return &CopyService{factory: factory, cfg: cfg}
}

// CopyOptions control a copy run.
type CopyOptions struct {
	// Kinds are additional checksums computed over the source while it
	// streams through; they end up in the destination's sums file.
	Kinds   []checksum.Kind
	TagMode TagMode
	// PartSize overrides the planner's part size choice.
	PartSize    int64
	Concurrency int
	// NoSkip copies even when the destination already matches the source.
	NoSkip bool
	// NoCheck skips the verification pass after the transfer.
	NoCheck bool
	// WriteSums writes the merged record to the destination's sums file
	// after verification.
	WriteSums bool
	Quiet     bool
}

// CopyResult reports the final state of a copy.
type CopyResult struct {
	Source      string          `json:"source"`
	Destination string          `json:"destination"`
	State       CopyState       `json:"state"`
	Plan        CopyPlan        `json:"plan"`
	Skipped     bool            `json:"skipped,omitempty"`
	Resolution  sums.Resolution `json:"resolution,omitempty"`
}

// Copy transfers one object and verifies the result. A destination that
// already resolves Equal against the source is skipped unless NoSkip is
// set. Verification failure leaves the copied object in place but returns
// a checksum mismatch error.
func (s *CopyService) Copy(ctx context.Context, source, dest string, opts CopyOptions) (*CopyResult, *stats.OperationStats, error) {
	st := stats.Start("copy", source, dest)
	ctx = stats.WithCounters(ctx, &st.Counters)
	result := &CopyResult{Source: source, Destination: dest, State: StatePlanned}

	planDone := st.Phase("plan")
	src, err := OpenObject(ctx, s.factory, source)
	if err != nil {
		return result, st.Finish(), err
	}
	st.Counters.AddAPICalls(1)
	srcRecord, err := src.LoadRecord(ctx)
	if err != nil {
		return result, st.Finish(), err
	}

	dstLocation, err := objectstore.ParseLocation(dest)
	if err != nil {
		return result, st.Finish(), err
	}
	dstRepo, err := s.factory.CreateRepository(ctx, dstLocation)
	if err != nil {
		return result, st.Finish(), err
	}

	if !opts.NoSkip {
		skipped, err := s.skipIfIdentical(ctx, srcRecord, dstRepo, dstLocation)
		if err != nil {
			return result, st.Finish(), err
		}
		if skipped {
			planDone()
			log.Infof("Destination %s already matches %s; skipping", dest, source)
			result.Skipped = true
			result.State = StateDone
			st.Skipped = true
			st.Outcome = string(sums.Equal)
			return result, st.Finish(), nil
		}
	}

	plan, err := PlanCopy(PlannerInput{
		SourceInfo:         src.Info,
		SameStore:          src.Repo.GetStorageType() == dstRepo.GetStorageType(),
		DestLimits:         dstRepo.Limits(),
		PartSizeOverride:   opts.PartSize,
		DefaultPartSize:    s.cfg.PartSize,
		MultipartThreshold: s.cfg.MultipartThreshold,
		TagMode:            opts.TagMode,
	})
	if err != nil {
		return result, st.Finish(), err
	}
	planDone()
	result.Plan = plan
	result.State = StateInProgress
	log.Debugf("Copying %s to %s: mode=%s multipart=%v", source, dest, plan.Mode, plan.Multipart)

	transferDone := st.Phase("transfer")
	switch {
	case plan.Mode == ServerSide:
		err = dstRepo.CopyObjectFrom(ctx, src.Location.Bucket, src.Location.Key, dstLocation.Key)
		st.Counters.AddAPICalls(1)
	case plan.Multipart:
		err = s.streamMultipart(ctx, src, srcRecord, dstRepo, dstLocation.Key, plan.PartPlan, opts, st)
	default:
		err = s.streamSingle(ctx, src, srcRecord, dstRepo, dstLocation.Key, opts, st)
	}
	transferDone()
	if err != nil {
		result.State = StateAborted
		return result, st.Finish(), fmt.Errorf("%w: %v", internalerrors.ErrCopyAborted, err)
	}

	if err := s.copyTags(ctx, src, dstRepo, dstLocation.Key, plan.TagMode, st); err != nil {
		result.State = StateAborted
		return result, st.Finish(), err
	}

	if opts.NoCheck {
		result.State = StateDone
		st.Outcome = string(result.State)
		return result, st.Finish(), nil
	}

	result.State = StateVerifying
	verifyDone := st.Phase("verify")
	dst := &Object{Location: dstLocation, Repo: dstRepo}
	dst.Info, err = dstRepo.Head(ctx, dstLocation.Key)
	if err != nil {
		verifyDone()
		result.State = StateAborted
		return result, st.Finish(), err
	}
	st.Counters.AddAPICalls(1)

	resolution, dstRecord, err := s.verify(ctx, src, srcRecord, dst, opts, st)
	verifyDone()
	if err != nil {
		result.State = StateAborted
		return result, st.Finish(), err
	}
	result.Resolution = resolution

	if resolution.Outcome != sums.Equal {
		result.State = StateMismatched
		st.Outcome = string(result.State)
		return result, st.Finish(), fmt.Errorf("%w: %s vs %s", internalerrors.ErrChecksumMismatch, source, dest)
	}
	result.State = StateVerified

	if opts.WriteSums {
		if err := dstRecord.Merge(srcRecord, sums.PreferExisting); err != nil {
			return result, st.Finish(), err
		}
		if err := dst.SaveRecord(ctx, dstRecord); err != nil {
			return result, st.Finish(), err
		}
	}

	result.State = StateDone
	st.Outcome = string(StateVerified)
	return result, st.Finish(), nil
}

// skipIfIdentical reports whether the destination exists and already
// resolves Equal against the source record.
func (s *CopyService) skipIfIdentical(ctx context.Context, srcRecord *sums.Record, dstRepo objectstore.ObjectRepository, dstLocation objectstore.Location) (bool, error) {
	dstInfo, err := dstRepo.Head(ctx, dstLocation.Key)
	if err != nil {
		if errors.Is(err, internalerrors.ErrNotFound) {
			return false, nil
		}
		return false, err
	}

	dst := &Object{Location: dstLocation, Repo: dstRepo, Info: dstInfo}
	dstRecord, err := dst.LoadRecord(ctx)
	if err != nil {
		return false, err
	}

	resolution := sums.Resolve(srcRecord, dstRecord, s.cfg.PreferredAlgorithms)
	return resolution.Outcome == sums.Equal, nil
}

// streamSingle downloads the source once, hashing it on the way through
// to the destination.
func (s *CopyService) streamSingle(ctx context.Context, src *Object, srcRecord *sums.Record, dstRepo objectstore.ObjectRepository, dstKey string, opts CopyOptions, st *stats.OperationStats) error {
	kinds := append([]checksum.Kind{checksum.NewKind(checksum.MD5)}, opts.Kinds...)
	hashers := make([]checksum.Hasher, 0, len(kinds))
	seen := make(map[string]bool)
	for _, kind := range kinds {
		key := kind.Normalize(src.Info.Size).String()
		if seen[key] {
			continue
		}
		seen[key] = true
		h, err := checksum.NewHasher(kind, src.Info.Size)
		if err != nil {
			return err
		}
		hashers = append(hashers, h)
	}

	reader, err := src.Repo.Download(ctx, src.Location.Key, true)
	if err != nil {
		return err
	}
	defer reader.Close()
	st.Counters.AddAPICalls(1)

	tee := io.TeeReader(reader, multiHashWriter(hashers))
	if _, err := dstRepo.Upload(ctx, dstKey, tee, src.Info.Size, opts.Quiet); err != nil {
		return err
	}
	st.Counters.AddAPICalls(1)
	st.Counters.AddBytesRead(src.Info.Size)
	st.Counters.AddBytesWritten(src.Info.Size)

	for _, h := range hashers {
		digest, err := h.Sum()
		if err != nil {
			return err
		}
		srcRecord.Set(digest.Kind, digest.String())
		st.Counters.AddChecksums(1)
	}
	return nil
}

// multiHashWriter fans writes out to every hasher.
type multiHashWriter []checksum.Hasher

func (w multiHashWriter) Write(p []byte) (int, error) {
	for _, h := range w {
		if _, err := h.Write(p); err != nil {
			return 0, err
		}
	}
	return len(p), nil
}

// streamMultipart transfers the object part by part with a bounded worker
// pool. Each part is hashed as it uploads; the part digests compose into
// the chunked MD5 the destination will report as its ETag. The first part
// failure cancels the rest, drains the in-flight workers and aborts the
// multipart upload.
func (s *CopyService) streamMultipart(ctx context.Context, src *Object, srcRecord *sums.Record, dstRepo objectstore.ObjectRepository, dstKey string, plan checksum.PartPlan, opts CopyOptions, st *stats.OperationStats) error {
	uploadID, err := dstRepo.CreateMultipartUpload(ctx, dstKey)
	if err != nil {
		return err
	}
	st.Counters.AddAPICalls(1)

	concurrency := opts.Concurrency
	if concurrency <= 0 {
		concurrency = s.cfg.Concurrency
	}

	workCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		firstErr  error
		partETags = make([]string, len(plan.Ranges))
		partMD5s  = make([][]byte, len(plan.Ranges))
		semaphore = make(chan struct{}, concurrency)
	)

	for i, rng := range plan.Ranges {
		wg.Add(1)
		go func(i int, rng checksum.PartRange) {
			defer wg.Done()
			semaphore <- struct{}{}
			defer func() { <-semaphore }()

			if workCtx.Err() != nil {
				return
			}

			err := func() error {
				reader, err := src.Repo.DownloadRange(workCtx, src.Location.Key, rng.Start, rng.End)
				if err != nil {
					return err
				}
				defer reader.Close()

				hash := md5.New()
				tee := io.TeeReader(reader, hash)
				etag, err := dstRepo.UploadPart(workCtx, dstKey, uploadID, rng.Number, tee, rng.Len())
				if err != nil {
					return err
				}

				mu.Lock()
				partETags[i] = etag
				partMD5s[i] = hash.Sum(nil)
				mu.Unlock()
				st.Counters.AddAPICalls(2)
				st.Counters.AddBytesRead(rng.Len())
				st.Counters.AddBytesWritten(rng.Len())
				return nil
			}()
			if err != nil {
				mu.Lock()
				if firstErr == nil {
					firstErr = err
				}
				mu.Unlock()
				cancel()
			}
		}(i, rng)
	}
	wg.Wait()

	if firstErr != nil {
		if abortErr := dstRepo.AbortMultipartUpload(context.WithoutCancel(ctx), dstKey, uploadID); abortErr != nil {
			log.Warnf("Failed to abort multipart upload %s: %v", uploadID, abortErr)
		}
		return firstErr
	}

	if _, err := dstRepo.CompleteMultipartUpload(ctx, dstKey, uploadID, partETags); err != nil {
		if abortErr := dstRepo.AbortMultipartUpload(context.WithoutCancel(ctx), dstKey, uploadID); abortErr != nil {
			log.Warnf("Failed to abort multipart upload %s: %v", uploadID, abortErr)
		}
		return err
	}
	st.Counters.AddAPICalls(1)

	// The ordered part digests compose into the chunked MD5 that matches
	// the destination's composite ETag.
	composite := md5.New()
	for _, partSum := range partMD5s {
		composite.Write(partSum)
	}
	kind := checksum.NewChunkedKind(checksum.MD5, plan.PartSize)
	digest := fmt.Sprintf("%s-%d", hex.EncodeToString(composite.Sum(nil)), len(plan.Ranges))
	srcRecord.Set(kind, digest)
	st.Counters.AddChecksums(1)
	return nil
}

// copyTags applies the tag mode after a transfer.
func (s *CopyService) copyTags(ctx context.Context, src *Object, dstRepo objectstore.ObjectRepository, dstKey string, mode TagMode, st *stats.OperationStats) error {
	if mode == TagSuppress || mode == "" {
		return nil
	}

	tags, err := src.Repo.GetTags(ctx, src.Location.Key)
	if err == nil && len(tags) > 0 {
		err = dstRepo.PutTags(ctx, dstKey, tags)
		st.Counters.AddAPICalls(2)
	}
	if err == nil {
		return nil
	}

	if mode == TagCopy {
		return fmt.Errorf("%w: %v", internalerrors.ErrTagCopyFailed, err)
	}
	log.Warnf("Best-effort tag copy to %s failed: %v", dstKey, err)
	st.Counters.AddTagFailures(1)
	return nil
}

// verify compares the source record against the destination. An unknown
// resolution triggers a computation of the missing checksums, streaming
// whichever side needs them, and a second resolution.
func (s *CopyService) verify(ctx context.Context, src *Object, srcRecord *sums.Record, dst *Object, opts CopyOptions, st *stats.OperationStats) (sums.Resolution, *sums.Record, error) {
	dstRecord, err := dst.LoadRecord(ctx)
	if err != nil {
		return sums.Resolution{}, nil, err
	}

	resolution := sums.Resolve(srcRecord, dstRecord, s.cfg.PreferredAlgorithms)
	if resolution.Outcome != sums.Unknown {
		return resolution, dstRecord, nil
	}

	for _, missing := range resolution.Missing {
		if missing.NeedsA {
			if err := s.computeInto(ctx, src, srcRecord, missing.Kind, st); err != nil {
				return sums.Resolution{}, nil, err
			}
		}
		if missing.NeedsB {
			if err := s.computeInto(ctx, dst, dstRecord, missing.Kind, st); err != nil {
				return sums.Resolution{}, nil, err
			}
		}
	}

	resolution = sums.Resolve(srcRecord, dstRecord, s.cfg.PreferredAlgorithms)
	return resolution, dstRecord, nil
}

// computeInto streams an object once and adds the kind's digest to the record.
func (s *CopyService) computeInto(ctx context.Context, object *Object, record *sums.Record, kind checksum.Kind, st *stats.OperationStats) error {
	reader, err := object.Repo.Download(ctx, object.Location.Key, true)
	if err != nil {
		return err
	}
	defer reader.Close()
	st.Counters.AddAPICalls(1)

	result, err := checksum.Compute(ctx, reader, object.Info.Size, []checksum.Kind{kind}, checksum.Options{
		ChunkSize: s.cfg.ReaderChunkSize,
	})
	if err != nil {
		return err
	}
	st.Counters.AddBytesRead(result.Size)
	st.Counters.AddChecksums(1)

	for _, digest := range result.Digests {
		record.Set(digest.Kind, digest.String())
	}
	return nil
}
