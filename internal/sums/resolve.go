package sums

import (
	"sort"

	"github.com/cloudsum/cloudsum/internal/checksum"
)

// Outcome is the result of comparing two records.
type Outcome string

const (
	// Equal: at least one common kind matched and none mismatched.
	Equal Outcome = "equal"
	// NotEqual: the sizes differ or a common kind mismatched.
	NotEqual Outcome = "not-equal"
	// Unknown: the records share no checksum kind.
	Unknown Outcome = "unknown"
)

// MissingTarget names a checksum that would make an unknown comparison
// decidable, and which side needs to compute it.
type MissingTarget struct {
	Kind   checksum.Kind `json:"kind"`
	NeedsA bool          `json:"needs_a"`
	NeedsB bool          `json:"needs_b"`
}

// Resolution reports the outcome of comparing two records along with the
// kinds that agreed, disagreed, or would break the tie.
type Resolution struct {
	Outcome    Outcome  `json:"outcome"`
	Matched    []string `json:"matched,omitempty"`
	Mismatched []string `json:"mismatched,omitempty"`
	// Missing is the smallest set of checksums to compute to decide an
	// unknown comparison.
	Missing []MissingTarget `json:"missing,omitempty"`
}

// Resolve compares two records. A size difference or any disagreeing
// common kind means NotEqual; agreement on at least one kind means Equal;
// no common kind means Unknown, with Missing populated.
//
// The missing checksum is chosen to need as little work as possible:
// prefer an algorithm both sides already carry under different part
// layouts, then a plain kind over a chunked one, then the caller's
// algorithm preference order.
func Resolve(a, b *Record, prefs []string) Resolution {
	if a.Size != b.Size {
		return Resolution{Outcome: NotEqual, Mismatched: []string{"size"}}
	}

	var matched, mismatched []string
	for kind, digestA := range a.Checksums {
		digestB, ok := b.Checksums[kind]
		if !ok {
			continue
		}
		if digestA == digestB {
			matched = append(matched, kind)
		} else {
			mismatched = append(mismatched, kind)
		}
	}
	sort.Strings(matched)
	sort.Strings(mismatched)

	if len(mismatched) > 0 {
		return Resolution{Outcome: NotEqual, Matched: matched, Mismatched: mismatched}
	}
	if len(matched) > 0 {
		return Resolution{Outcome: Equal, Matched: matched}
	}

	return Resolution{Outcome: Unknown, Missing: missingSet(a, b, prefs)}
}

// prefIndex ranks an algorithm by the preference list; unlisted algorithms
// sort after listed ones.
func prefIndex(alg checksum.Algorithm, prefs []string) int {
	for i, pref := range prefs {
		if string(alg) == pref {
			return i
		}
	}
	return len(prefs)
}

type missingCandidate struct {
	kind      checksum.Kind
	sharedAlg bool
	needsA    bool
	needsB    bool
}

func missingSet(a, b *Record, prefs []string) []MissingTarget {
	algsA := recordAlgorithms(a)
	algsB := recordAlgorithms(b)

	var candidates []missingCandidate
	collect := func(source *Record, needsA, needsB bool) {
		for kindStr := range source.Checksums {
			kind, err := checksum.ParseKind(kindStr)
			if err != nil {
				continue
			}
			candidates = append(candidates, missingCandidate{
				kind:      kind,
				sharedAlg: algsA[kind.Alg] && algsB[kind.Alg],
				needsA:    needsA,
				needsB:    needsB,
			})
		}
	}
	// A kind present on one side only needs computing on the other.
	collect(a, false, true)
	collect(b, true, false)

	if len(candidates) == 0 {
		// Neither side has any checksum; both must compute one.
		alg := checksum.MD5
		if len(prefs) > 0 {
			if parsed, err := checksum.ParseKind(prefs[0]); err == nil {
				alg = parsed.Alg
			}
		}
		return []MissingTarget{{Kind: checksum.NewKind(alg), NeedsA: true, NeedsB: true}}
	}

	sort.Slice(candidates, func(i, j int) bool {
		ci, cj := candidates[i], candidates[j]
		if ci.sharedAlg != cj.sharedAlg {
			return ci.sharedAlg
		}
		if ci.kind.Chunked != cj.kind.Chunked {
			return !ci.kind.Chunked
		}
		pi, pj := prefIndex(ci.kind.Alg, prefs), prefIndex(cj.kind.Alg, prefs)
		if pi != pj {
			return pi < pj
		}
		return ci.kind.String() < cj.kind.String()
	})

	best := candidates[0]
	return []MissingTarget{{Kind: best.kind, NeedsA: best.needsA, NeedsB: best.needsB}}
}

func recordAlgorithms(r *Record) map[checksum.Algorithm]bool {
	algs := make(map[checksum.Algorithm]bool, len(r.Checksums))
	for kindStr := range r.Checksums {
		if kind, err := checksum.ParseKind(kindStr); err == nil {
			algs[kind.Alg] = true
		}
	}
	return algs
}
