package service

import (
	"context"
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/cloudsum/cloudsum/internal/config"
	internalerrors "github.com/cloudsum/cloudsum/internal/errors"
	"github.com/cloudsum/cloudsum/internal/stats"
	"github.com/cloudsum/cloudsum/internal/sums"
)

// CheckService compares the checksums of a set of objects.
type CheckService struct {
	factory RepositoryFactory
	cfg     *config.Config
}

// NewCheckService creates a new CheckService instance
func NewCheckService(factory RepositoryFactory, cfg *config.Config) *CheckService {
	return &CheckService{factory: factory, cfg: cfg}
}

// CheckOptions control a check run.
type CheckOptions struct {
	// Update merges the records within each equality group and writes the
	// merged record back to every member's sums file.
	Update bool
	Quiet  bool
}

// CheckResult groups the inputs by proven equality. Inputs whose equality
// could not be decided stay in their own groups and are listed under
// Undecidable together with the checksums that would settle them.
type CheckResult struct {
	Outcome     sums.Outcome      `json:"outcome"`
	Groups      [][]string        `json:"groups"`
	Undecidable []UndecidablePair `json:"undecidable,omitempty"`
}

// UndecidablePair names two inputs without a common checksum kind and the
// smallest set of checksums that would decide them.
type UndecidablePair struct {
	A       string               `json:"a"`
	B       string               `json:"b"`
	Missing []sums.MissingTarget `json:"missing"`
}

// Check loads the records of every input and partitions the inputs into
// equality groups. Two inputs land in the same group when their records
// resolve Equal; equality is transitive across merges.
func (s *CheckService) Check(ctx context.Context, inputs []string, opts CheckOptions) (*CheckResult, *stats.OperationStats, error) {
	st := stats.Start("check", inputs...)
	ctx = stats.WithCounters(ctx, &st.Counters)
	if len(inputs) < 2 {
		return nil, st.Finish(), fmt.Errorf("check requires at least two inputs")
	}

	loadDone := st.Phase("load")
	objects := make([]*Object, len(inputs))
	records := make([]*sums.Record, len(inputs))
	for i, input := range inputs {
		object, err := OpenObject(ctx, s.factory, input)
		if err != nil {
			return nil, st.Finish(), err
		}
		st.Counters.AddAPICalls(1)
		record, err := object.LoadRecord(ctx)
		if err != nil {
			return nil, st.Finish(), err
		}
		objects[i] = object
		records[i] = record
	}
	loadDone()

	compareDone := st.Phase("compare")
	result := s.partition(inputs, records)
	compareDone()
	st.Outcome = string(result.Outcome)

	if opts.Update {
		updateDone := st.Phase("update")
		err := s.update(ctx, inputs, objects, records, result.Groups)
		updateDone()
		if err != nil {
			return nil, st.Finish(), err
		}
	}

	return result, st.Finish(), nil
}

// partition groups inputs by pairwise resolution, merging groups until a
// fixpoint, the way transitive equality demands: a=b and b=c puts all
// three together even when a and c share no kind.
func (s *CheckService) partition(inputs []string, records []*sums.Record) *CheckResult {
	group := make([]int, len(inputs))
	for i := range group {
		group[i] = i
	}
	find := func(i int) int {
		for group[i] != i {
			group[i] = group[group[i]]
			i = group[i]
		}
		return i
	}

	var undecidable []UndecidablePair
	sawMismatch := false
	for i := 0; i < len(inputs); i++ {
		for j := i + 1; j < len(inputs); j++ {
			resolution := sums.Resolve(records[i], records[j], s.cfg.PreferredAlgorithms)
			switch resolution.Outcome {
			case sums.Equal:
				group[find(i)] = find(j)
			case sums.NotEqual:
				sawMismatch = true
				log.Debugf("%s and %s do not match: %v", inputs[i], inputs[j], resolution.Mismatched)
			case sums.Unknown:
				undecidable = append(undecidable, UndecidablePair{
					A:       inputs[i],
					B:       inputs[j],
					Missing: resolution.Missing,
				})
			}
		}
	}

	members := make(map[int][]string)
	order := make([]int, 0)
	for i := range inputs {
		root := find(i)
		if _, ok := members[root]; !ok {
			order = append(order, root)
		}
		members[root] = append(members[root], inputs[i])
	}
	groups := make([][]string, 0, len(order))
	for _, root := range order {
		groups = append(groups, members[root])
	}

	outcome := sums.Equal
	if len(groups) > 1 {
		outcome = sums.Unknown
		if sawMismatch {
			outcome = sums.NotEqual
		}
	}

	// Pairs that ended up in the same group through a third record are
	// decided after all; drop them from the undecidable list.
	remaining := undecidable[:0]
	for _, pair := range undecidable {
		rootA, rootB := -1, -2
		for i, input := range inputs {
			if input == pair.A {
				rootA = find(i)
			}
			if input == pair.B {
				rootB = find(i)
			}
		}
		if rootA != rootB {
			remaining = append(remaining, pair)
		}
	}

	return &CheckResult{Outcome: outcome, Groups: groups, Undecidable: remaining}
}

// update merges each group's records and saves the merged record back to
// every member.
func (s *CheckService) update(ctx context.Context, inputs []string, objects []*Object, records []*sums.Record, groups [][]string) error {
	index := make(map[string]int, len(inputs))
	for i, input := range inputs {
		index[input] = i
	}

	for _, members := range groups {
		merged := sums.NewRecord(records[index[members[0]]].Size)
		for _, member := range members {
			if err := merged.Merge(records[index[member]], sums.PreferExisting); err != nil {
				return fmt.Errorf("merging record of %s: %w", member, err)
			}
		}
		for _, member := range members {
			if err := objects[index[member]].SaveRecord(ctx, merged); err != nil {
				return err
			}
		}
	}
	return nil
}

// CheckError converts a non-equal outcome into the error the CLI maps to
// its exit code.
func CheckError(result *CheckResult) error {
	if result.Outcome == sums.NotEqual {
		return internalerrors.ErrChecksumMismatch
	}
	return nil
}
