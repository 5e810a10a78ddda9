// Package checksum implements checksum kinds, hashers and the multi-hash
// streaming engine.
package checksum

import (
	"fmt"
	"strconv"
	"strings"

	internalerrors "github.com/cloudsum/cloudsum/internal/errors"
)

// Algorithm is a supported base checksum algorithm.
type Algorithm string

const (
	MD5       Algorithm = "md5"
	SHA1      Algorithm = "sha1"
	SHA256    Algorithm = "sha256"
	CRC32     Algorithm = "crc32"
	CRC32C    Algorithm = "crc32c"
	CRC64NVMe Algorithm = "crc64nvme"
)

var algorithmDigestSizes = map[Algorithm]int{
	MD5:       16,
	SHA1:      20,
	SHA256:    32,
	CRC32:     4,
	CRC32C:    4,
	CRC64NVMe: 8,
}

// DigestSize returns the raw digest size in bytes, or 0 for an unknown algorithm.
func (a Algorithm) DigestSize() int {
	return algorithmDigestSizes[a]
}

// IsValid reports whether the algorithm is supported.
func (a Algorithm) IsValid() bool {
	_, ok := algorithmDigestSizes[a]
	return ok
}

const (
	kib = int64(1024)
	mib = 1024 * kib
	gib = 1024 * mib
)

// Kind identifies a checksum algorithm together with an optional chunked
// layout. A chunked kind digests each part separately and then digests the
// concatenation of the part digests, the way S3 computes multipart ETags.
//
// Canonical string forms:
//
//	md5, sha1, sha256, crc32, crc32c, crc64nvme
//	<alg>-aws-<n>                 chunked with exactly n parts
//	<alg>-aws-<n>b|kib|mib|gib    chunked with parts of n bytes/KiB/MiB/GiB
type Kind struct {
	Alg       Algorithm
	Chunked   bool
	PartSize  int64 // part size in bytes when chunked by size
	PartCount int64 // exact part count when chunked by count
}

// NewKind returns the plain, non-chunked kind for an algorithm.
func NewKind(alg Algorithm) Kind {
	return Kind{Alg: alg}
}

// NewChunkedKind returns a kind chunked by part size in bytes.
func NewChunkedKind(alg Algorithm, partSize int64) Kind {
	return Kind{Alg: alg, Chunked: true, PartSize: partSize}
}

// ParseKind parses a canonical kind string. Input is case-insensitive.
func ParseKind(s string) (Kind, error) {
	lower := strings.ToLower(strings.TrimSpace(s))

	algStr, layout, chunked := strings.Cut(lower, "-aws-")
	alg := Algorithm(algStr)
	if !alg.IsValid() {
		return Kind{}, internalerrors.InvalidKindError(s)
	}

	if !chunked {
		return Kind{Alg: alg}, nil
	}

	if layout == "" {
		return Kind{}, internalerrors.InvalidKindError(s)
	}

	digits := layout
	unit := ""
	for i, r := range layout {
		if r < '0' || r > '9' {
			digits, unit = layout[:i], layout[i:]
			break
		}
	}

	n, err := strconv.ParseInt(digits, 10, 64)
	if err != nil || n <= 0 {
		return Kind{}, internalerrors.InvalidKindError(s)
	}

	switch unit {
	case "":
		return Kind{Alg: alg, Chunked: true, PartCount: n}, nil
	case "b":
		return Kind{Alg: alg, Chunked: true, PartSize: n}, nil
	case "kib":
		return Kind{Alg: alg, Chunked: true, PartSize: n * kib}, nil
	case "mib":
		return Kind{Alg: alg, Chunked: true, PartSize: n * mib}, nil
	case "gib":
		return Kind{Alg: alg, Chunked: true, PartSize: n * gib}, nil
	default:
		return Kind{}, internalerrors.InvalidKindError(s)
	}
}

// ParseKinds parses a comma-separated list of kind strings.
func ParseKinds(s string) ([]Kind, error) {
	var kinds []Kind
	for _, part := range strings.Split(s, ",") {
		if strings.TrimSpace(part) == "" {
			continue
		}
		kind, err := ParseKind(part)
		if err != nil {
			return nil, err
		}
		kinds = append(kinds, kind)
	}
	return kinds, nil
}

// String returns the canonical form. Part sizes render with the largest
// unit that divides them evenly.
func (k Kind) String() string {
	if !k.Chunked {
		return string(k.Alg)
	}
	if k.PartCount > 0 {
		return fmt.Sprintf("%s-aws-%d", k.Alg, k.PartCount)
	}
	switch {
	case k.PartSize%gib == 0:
		return fmt.Sprintf("%s-aws-%dgib", k.Alg, k.PartSize/gib)
	case k.PartSize%mib == 0:
		return fmt.Sprintf("%s-aws-%dmib", k.Alg, k.PartSize/mib)
	case k.PartSize%kib == 0:
		return fmt.Sprintf("%s-aws-%dkib", k.Alg, k.PartSize/kib)
	default:
		return fmt.Sprintf("%s-aws-%db", k.Alg, k.PartSize)
	}
}

// ResolvePartSize returns the effective part size for an object of the
// given size. Part-count kinds split the object evenly, rounding the part
// size up so the final part carries the remainder.
func (k Kind) ResolvePartSize(size int64) (int64, error) {
	if !k.Chunked {
		return 0, fmt.Errorf("kind %s has no part layout", k)
	}
	if k.PartSize > 0 {
		return k.PartSize, nil
	}
	if size < 0 {
		return 0, fmt.Errorf("kind %s requires a known object size", k)
	}
	if size == 0 {
		return 0, nil
	}
	return (size + k.PartCount - 1) / k.PartCount, nil
}

// Normalize converts a part-count kind to its part-size form for an object
// of the given size. Two chunked kinds that normalize identically produce
// identical digests for that object.
func (k Kind) Normalize(size int64) Kind {
	if !k.Chunked || k.PartCount == 0 {
		return k
	}
	partSize, err := k.ResolvePartSize(size)
	if err != nil || partSize == 0 {
		return k
	}
	return Kind{Alg: k.Alg, Chunked: true, PartSize: partSize}
}

// ValidateDigest checks a rendered digest string against the kind. Chunked
// digests carry a "-<parts>" suffix after the hex value.
func (k Kind) ValidateDigest(digest string) error {
	hexPart := digest
	if k.Chunked {
		var suffix string
		var ok bool
		hexPart, suffix, ok = strings.Cut(digest, "-")
		if !ok {
			return fmt.Errorf("%w: digest %q for kind %s is missing a part count", internalerrors.ErrInvalidFormat, digest, k)
		}
		if _, err := strconv.ParseInt(suffix, 10, 64); err != nil {
			return fmt.Errorf("%w: digest %q for kind %s has an invalid part count", internalerrors.ErrInvalidFormat, digest, k)
		}
	}
	if len(hexPart) != k.Alg.DigestSize()*2 {
		return fmt.Errorf("%w: digest %q has wrong length for kind %s", internalerrors.ErrInvalidFormat, digest, k)
	}
	for _, r := range hexPart {
		if (r < '0' || r > '9') && (r < 'a' || r > 'f') {
			return fmt.Errorf("%w: digest %q is not lower-case hex", internalerrors.ErrInvalidFormat, digest)
		}
	}
	return nil
}
