package service

import (
	"context"
	"fmt"
	"os"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/cloudsum/cloudsum/internal/checksum"
	"github.com/cloudsum/cloudsum/internal/config"
	"github.com/cloudsum/cloudsum/internal/repository/objectstore"
	"github.com/cloudsum/cloudsum/internal/stats"
	"github.com/cloudsum/cloudsum/internal/sums"
)

// GenerateService computes checksums for objects and maintains their sums files.
type GenerateService struct {
	factory RepositoryFactory
	cfg     *config.Config
}

// NewGenerateService creates a new GenerateService instance
func NewGenerateService(factory RepositoryFactory, cfg *config.Config) *GenerateService {
	return &GenerateService{factory: factory, cfg: cfg}
}

// GenerateOptions control a generate run.
type GenerateOptions struct {
	// Kinds are the checksums to compute.
	Kinds []checksum.Kind
	// Missing computes only the checksums that would make the inputs
	// comparable to each other, instead of Kinds.
	Missing bool
	// Verify recomputes kinds already present in the sums file.
	Verify bool
	// ForceOverwrite replaces the sums file instead of merging into it.
	ForceOverwrite bool
	// PartialTimeout, when set, caps the hashing pass; on expiry a partial
	// record is returned and nothing is saved. A zero duration expires
	// immediately.
	PartialTimeout *time.Duration
	Quiet          bool
}

// Generate computes checksums for each input and updates its sums file.
// Input "-" reads from stdin; its record is returned but not saved.
// Partial records, produced when PartialTimeout expires, are returned
// unsaved as well.
func (s *GenerateService) Generate(ctx context.Context, inputs []string, opts GenerateOptions) (map[string]*sums.Record, *stats.OperationStats, error) {
	st := stats.Start("generate", inputs...)
	ctx = stats.WithCounters(ctx, &st.Counters)
	records := make(map[string]*sums.Record, len(inputs))

	// Stdin has no location to attach a sums file to.
	for _, input := range inputs {
		if input != "-" {
			continue
		}
		hashDone := st.Phase("hash")
		result, err := s.computeStdin(ctx, opts)
		hashDone()
		if err != nil {
			return nil, st.Finish(), err
		}
		st.Counters.AddBytesRead(result.Size)
		st.Counters.AddChecksums(int64(len(result.Digests)))
		records["-"] = sums.FromResult(result)
	}

	loadDone := st.Phase("load")
	objects := make(map[string]*Object)
	loaded := make(map[string]*sums.Record)
	for _, input := range inputs {
		if input == "-" {
			continue
		}
		object, err := OpenObject(ctx, s.factory, input)
		if err != nil {
			return nil, st.Finish(), err
		}
		st.Counters.AddAPICalls(1)
		record, err := object.LoadRecord(ctx)
		if err != nil {
			return nil, st.Finish(), err
		}
		objects[input] = object
		loaded[input] = record
	}
	loadDone()

	targets, err := s.kindTargets(inputs, loaded, opts)
	if err != nil {
		return nil, st.Finish(), err
	}

	for _, input := range inputs {
		if input == "-" {
			continue
		}
		object := objects[input]
		record := loaded[input]
		kinds := targets[input]

		if len(kinds) == 0 {
			log.Debugf("No checksums to compute for %s", object.Location)
			records[input] = record
			continue
		}

		hashDone := st.Phase("hash")
		result, err := s.computeObject(ctx, object, kinds, opts)
		hashDone()
		if err != nil {
			return nil, st.Finish(), err
		}
		st.Counters.AddBytesRead(result.Size)
		st.Counters.AddChecksums(int64(len(result.Digests)))

		computed := sums.FromResult(result)
		if computed.Partial {
			log.Warnf("Checksum pass for %s timed out; result is partial and will not be saved", object.Location)
			records[input] = computed
			continue
		}

		if opts.ForceOverwrite {
			record = computed
		} else if err := record.Merge(computed, sums.PreferIncoming); err != nil {
			return nil, st.Finish(), err
		}

		saveDone := st.Phase("save")
		err = object.SaveRecord(ctx, record)
		saveDone()
		if err != nil {
			return nil, st.Finish(), err
		}
		records[input] = record
	}

	return records, st.Finish(), nil
}

// kindTargets decides which kinds to compute per input. With Missing set,
// the targets come from resolving each input against the next; otherwise
// the requested kinds apply to every input, minus those already present
// unless Verify is set.
func (s *GenerateService) kindTargets(inputs []string, loaded map[string]*sums.Record, opts GenerateOptions) (map[string][]checksum.Kind, error) {
	targets := make(map[string][]checksum.Kind)

	if opts.Missing {
		ordered := make([]string, 0, len(loaded))
		for _, input := range inputs {
			if input != "-" {
				ordered = append(ordered, input)
			}
		}
		if len(ordered) < 2 {
			return nil, fmt.Errorf("generate --missing requires at least two inputs")
		}
		for i := 0; i < len(ordered)-1; i++ {
			a, b := ordered[i], ordered[i+1]
			resolution := sums.Resolve(loaded[a], loaded[b], s.cfg.PreferredAlgorithms)
			for _, missing := range resolution.Missing {
				if missing.NeedsA {
					targets[a] = append(targets[a], missing.Kind)
				}
				if missing.NeedsB {
					targets[b] = append(targets[b], missing.Kind)
				}
			}
		}
		return targets, nil
	}

	for _, input := range inputs {
		if input == "-" {
			continue
		}
		record := loaded[input]
		for _, kind := range opts.Kinds {
			if _, ok := record.Get(kind); ok && !opts.Verify {
				continue
			}
			targets[input] = append(targets[input], kind)
		}
	}
	return targets, nil
}

func (s *GenerateService) computeOptions(opts GenerateOptions) checksum.Options {
	return checksum.Options{
		ChunkSize:   s.cfg.ReaderChunkSize,
		Concurrency: s.cfg.Concurrency,
		Timeout:     opts.PartialTimeout,
	}
}

func (s *GenerateService) computeStdin(ctx context.Context, opts GenerateOptions) (*checksum.Result, error) {
	for _, kind := range opts.Kinds {
		if kind.Chunked && kind.PartCount > 0 {
			return nil, fmt.Errorf("kind %s needs a known size and cannot be used with stdin", kind)
		}
	}
	return checksum.Compute(ctx, os.Stdin, -1, opts.Kinds, s.computeOptions(opts))
}

// computeObject runs the hashing pass. Local files take the concurrent
// random-access path when it can pay off; everything else streams once.
func (s *GenerateService) computeObject(ctx context.Context, object *Object, kinds []checksum.Kind, opts GenerateOptions) (*checksum.Result, error) {
	if object.Location.Type == objectstore.FileType && len(kinds) > 1 && s.cfg.Concurrency > 1 {
		file, err := os.Open(object.Location.Key)
		if err == nil {
			defer file.Close()
			return checksum.ComputeAt(ctx, file, object.Info.Size, kinds, s.computeOptions(opts))
		}
	}

	reader, err := object.Repo.Download(ctx, object.Location.Key, opts.Quiet)
	if err != nil {
		return nil, err
	}
	defer reader.Close()
	return checksum.Compute(ctx, reader, object.Info.Size, kinds, s.computeOptions(opts))
}
