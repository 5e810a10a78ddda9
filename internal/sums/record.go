// Package sums implements the .sums file format: loading, merging,
// comparing and atomically saving checksum records.
package sums

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	log "github.com/sirupsen/logrus"

	"github.com/cloudsum/cloudsum/internal/checksum"
	internalerrors "github.com/cloudsum/cloudsum/internal/errors"
)

// Version is the only sums file version this build reads and writes.
const Version = "1"

// Ext is the suffix appended to an object's location to name its sums file.
const Ext = ".sums"

// Record is the parsed content of a sums file: the object size plus a map
// of canonical checksum kind to digest string. Keys the parser does not
// recognize as kinds are preserved verbatim so newer writers round-trip.
type Record struct {
	Size      int64
	Checksums map[string]string
	// Partial marks an in-memory record produced by a timed-out pass.
	// Partial records are never merged or saved.
	Partial bool

	extras map[string]json.RawMessage
}

// NewRecord returns an empty record for an object of the given size.
func NewRecord(size int64) *Record {
	return &Record{Size: size, Checksums: make(map[string]string)}
}

// FromResult converts a computation result into a record.
func FromResult(result *checksum.Result) *Record {
	record := NewRecord(result.Size)
	record.Partial = result.Partial
	for kind, digest := range result.Digests {
		record.Checksums[kind] = digest.String()
	}
	return record
}

// Kinds returns the record's checksum kinds sorted by canonical name.
func (r *Record) Kinds() []string {
	kinds := make([]string, 0, len(r.Checksums))
	for kind := range r.Checksums {
		kinds = append(kinds, kind)
	}
	sort.Strings(kinds)
	return kinds
}

// Set stores a digest under the kind's canonical name, normalized against
// the record size so equivalent part layouts share a key.
func (r *Record) Set(kind checksum.Kind, digest string) {
	r.Checksums[kind.Normalize(r.Size).String()] = digest
}

// Get looks a kind up under its normalized canonical name.
func (r *Record) Get(kind checksum.Kind) (string, bool) {
	digest, ok := r.Checksums[kind.Normalize(r.Size).String()]
	return digest, ok
}

// UnmarshalJSON parses a sums document. The version must match, the size
// must be present and non-negative, and every digest is validated against
// its kind.
func (r *Record) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("%w: %v", internalerrors.ErrInvalidFormat, err)
	}

	versionRaw, ok := raw["version"]
	if !ok {
		return fmt.Errorf("%w: missing version", internalerrors.ErrInvalidFormat)
	}
	var version string
	if err := json.Unmarshal(versionRaw, &version); err != nil {
		return fmt.Errorf("%w: version is not a string", internalerrors.ErrInvalidFormat)
	}
	if version != Version {
		return fmt.Errorf("%w: %q", internalerrors.ErrUnknownVersion, version)
	}
	delete(raw, "version")

	sizeRaw, ok := raw["size"]
	if !ok {
		return fmt.Errorf("%w: missing size", internalerrors.ErrInvalidFormat)
	}
	var size int64
	if err := json.Unmarshal(sizeRaw, &size); err != nil || size < 0 {
		return fmt.Errorf("%w: invalid size", internalerrors.ErrInvalidFormat)
	}
	delete(raw, "size")

	r.Size = size
	r.Checksums = make(map[string]string)
	r.extras = make(map[string]json.RawMessage)

	if partialRaw, ok := raw["partial"]; ok {
		if err := json.Unmarshal(partialRaw, &r.Partial); err != nil {
			return fmt.Errorf("%w: partial is not a boolean", internalerrors.ErrInvalidFormat)
		}
		delete(raw, "partial")
	}

	for key, value := range raw {
		kind, err := checksum.ParseKind(key)
		if err != nil {
			// Not a checksum kind; keep it for round-tripping.
			r.extras[key] = value
			continue
		}

		var digest string
		if err := json.Unmarshal(value, &digest); err != nil {
			return fmt.Errorf("%w: digest for %q is not a string", internalerrors.ErrInvalidFormat, key)
		}
		if err := kind.ValidateDigest(digest); err != nil {
			return err
		}
		r.Checksums[kind.Normalize(size).String()] = digest
	}

	return nil
}

// MarshalJSON renders the canonical document. Map keys marshal sorted, so
// output is deterministic.
func (r *Record) MarshalJSON() ([]byte, error) {
	doc := make(map[string]interface{}, len(r.Checksums)+len(r.extras)+3)
	doc["version"] = Version
	doc["size"] = r.Size
	// Save refuses partial records, so the marker only ever reaches
	// callers consuming the record in memory or on stdout.
	if r.Partial {
		doc["partial"] = true
	}
	for kind, digest := range r.Checksums {
		doc[kind] = digest
	}
	for key, value := range r.extras {
		doc[key] = value
	}
	return json.Marshal(doc)
}

// MergePolicy decides which digest wins when both records carry the same
// kind with different values and the conflict is tolerated.
type MergePolicy int

const (
	// PreferIncoming overwrites existing digests with incoming ones.
	PreferIncoming MergePolicy = iota
	// PreferExisting keeps digests already present.
	PreferExisting
)

// Merge combines incoming into r. Sizes must match and neither record may
// be partial. Conflicting digests for the same kind resolve by policy.
func (r *Record) Merge(incoming *Record, policy MergePolicy) error {
	if r.Partial || incoming.Partial {
		return internalerrors.ErrPartialRecord
	}
	if r.Size != incoming.Size {
		return internalerrors.SizeMismatchError(r.Size, incoming.Size)
	}

	for kind, digest := range incoming.Checksums {
		existing, ok := r.Checksums[kind]
		if ok && existing != digest {
			log.Warnf("Conflicting %s digest while merging: %s vs %s", kind, existing, digest)
		}
		if !ok || policy == PreferIncoming {
			r.Checksums[kind] = digest
		}
	}
	for key, value := range incoming.extras {
		if r.extras == nil {
			r.extras = make(map[string]json.RawMessage)
		}
		if _, ok := r.extras[key]; !ok || policy == PreferIncoming {
			r.extras[key] = value
		}
	}
	return nil
}

// Load reads a sums file from the local filesystem.
func Load(path string) (*Record, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", internalerrors.ErrNotFound, path)
		}
		return nil, fmt.Errorf("reading sums file %s: %w", path, err)
	}
	return Parse(data)
}

// Parse parses a sums document from bytes.
func Parse(data []byte) (*Record, error) {
	record := &Record{}
	if err := json.Unmarshal(data, record); err != nil {
		return nil, err
	}
	return record, nil
}

// Save writes the record atomically: a temp file in the same directory is
// renamed over the destination. Partial records are refused.
func Save(record *Record, path string) error {
	if record.Partial {
		return internalerrors.ErrPartialRecord
	}

	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("encoding sums file: %w", err)
	}

	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp*")
	if err != nil {
		return fmt.Errorf("creating temp sums file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("writing sums file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing sums file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("replacing sums file %s: %w", path, err)
	}

	log.Debugf("Wrote sums file %s with %d checksums", path, len(record.Checksums))
	return nil
}
