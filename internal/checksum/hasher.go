package checksum

import (
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"
	"hash/crc32"
	"hash/crc64"
)

// CRC64NVMePolynomial is the reflected polynomial used by the NVMe spec
// and by S3's CRC64NVME object checksums.
const CRC64NVMePolynomial = 0x9A6C9329AC4BC9B5

var (
	crc64NVMeTable  = crc64.MakeTable(CRC64NVMePolynomial)
	crc32Castagnoli = crc32.MakeTable(crc32.Castagnoli)
)

// Digest is a finalized checksum value.
type Digest struct {
	Kind  Kind
	Sum   []byte
	Parts int64 // part count for chunked kinds
}

// String renders the digest in its canonical form: lower-case hex, with a
// "-<parts>" suffix for chunked kinds. CRC sums render big-endian.
func (d Digest) String() string {
	if d.Kind.Chunked {
		return fmt.Sprintf("%s-%d", hex.EncodeToString(d.Sum), d.Parts)
	}
	return hex.EncodeToString(d.Sum)
}

// Hasher accumulates object bytes in order and produces a single digest.
// Write fails after Sum has been called.
type Hasher interface {
	Write(p []byte) (int, error)
	Sum() (Digest, error)
	Kind() Kind
}

func newHash(alg Algorithm) (hash.Hash, error) {
	switch alg {
	case MD5:
		return md5.New(), nil
	case SHA1:
		return sha1.New(), nil
	case SHA256:
		return sha256.New(), nil
	case CRC32:
		return crc32.NewIEEE(), nil
	case CRC32C:
		return crc32.New(crc32Castagnoli), nil
	case CRC64NVMe:
		return crc64.New(crc64NVMeTable), nil
	default:
		return nil, fmt.Errorf("unsupported algorithm %q", alg)
	}
}

// NewHasher builds a hasher for a kind. Chunked part-count kinds need the
// object size to resolve their part layout; pass size -1 for streams of
// unknown length with non-chunked or part-size kinds.
func NewHasher(kind Kind, size int64) (Hasher, error) {
	if !kind.Chunked {
		h, err := newHash(kind.Alg)
		if err != nil {
			return nil, err
		}
		return &standardHasher{kind: kind, hash: h}, nil
	}

	partSize, err := kind.ResolvePartSize(size)
	if err != nil {
		return nil, err
	}
	inner, err := newHash(kind.Alg)
	if err != nil {
		return nil, err
	}
	return &chunkedHasher{
		kind:     kind.Normalize(size),
		partSize: partSize,
		inner:    inner,
	}, nil
}

type standardHasher struct {
	kind      Kind
	hash      hash.Hash
	finalized bool
}

func (h *standardHasher) Kind() Kind {
	return h.kind
}

func (h *standardHasher) Write(p []byte) (int, error) {
	if h.finalized {
		return 0, fmt.Errorf("write to finalized %s hasher", h.kind)
	}
	return h.hash.Write(p)
}

func (h *standardHasher) Sum() (Digest, error) {
	if h.finalized {
		return Digest{}, fmt.Errorf("%s hasher already finalized", h.kind)
	}
	h.finalized = true
	return Digest{Kind: h.kind, Sum: h.hash.Sum(nil)}, nil
}

// chunkedHasher digests fixed-size parts independently, then digests the
// concatenation of the part digests. The final part may be short; zero
// input produces zero parts.
type chunkedHasher struct {
	kind      Kind
	partSize  int64
	inner     hash.Hash
	written   int64 // bytes in the current part
	partSums  []byte
	parts     int64
	finalized bool
}

func (h *chunkedHasher) Kind() Kind {
	return h.kind
}

func (h *chunkedHasher) Write(p []byte) (int, error) {
	if h.finalized {
		return 0, fmt.Errorf("write to finalized %s hasher", h.kind)
	}
	if h.partSize == 0 && len(p) > 0 {
		return 0, fmt.Errorf("%s hasher planned for an empty object received data", h.kind)
	}

	total := len(p)
	for len(p) > 0 {
		room := h.partSize - h.written
		if room == 0 {
			h.finishPart()
			continue
		}
		n := int64(len(p))
		if n > room {
			n = room
		}
		h.inner.Write(p[:n])
		h.written += n
		p = p[n:]
	}
	return total, nil
}

func (h *chunkedHasher) finishPart() {
	h.partSums = h.inner.Sum(h.partSums)
	h.parts++
	h.written = 0
	h.inner.Reset()
}

func (h *chunkedHasher) Sum() (Digest, error) {
	if h.finalized {
		return Digest{}, fmt.Errorf("%s hasher already finalized", h.kind)
	}
	h.finalized = true

	if h.written > 0 {
		h.finishPart()
	}

	h.inner.Reset()
	h.inner.Write(h.partSums)
	return Digest{Kind: h.kind, Sum: h.inner.Sum(nil), Parts: h.parts}, nil
}
