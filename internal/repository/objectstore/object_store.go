// Package objectstore provides object storage repository implementations and factory.
package objectstore

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"cloud.google.com/go/storage"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/cloudsum/cloudsum/internal/checksum"
)

// ObjectInfo holds the metadata a store reports for an object without
// reading its data. Checksums carries digests seeded from store metadata
// (ETag, native MD5/CRC32C) keyed by canonical checksum kind.
type ObjectInfo struct {
	Size      int64
	ETag      string
	Checksums map[string]string
	// PartSize and Parts describe the multipart layout when the store
	// exposes one; both are zero for single-part objects.
	PartSize int64
	Parts    int32
}

// ObjectRepository defines the interface for object storage operations
type ObjectRepository interface {
	Head(ctx context.Context, key string) (ObjectInfo, error)
	Download(ctx context.Context, key string, quiet bool) (io.ReadCloser, error)
	DownloadRange(ctx context.Context, key string, start, end int64) (io.ReadCloser, error)
	Upload(ctx context.Context, key string, r io.Reader, size int64, quiet bool) (string, error)
	CreateMultipartUpload(ctx context.Context, key string) (string, error)
	UploadPart(ctx context.Context, key, uploadID string, partNumber int32, r io.Reader, size int64) (string, error)
	CompleteMultipartUpload(ctx context.Context, key, uploadID string, partETags []string) (string, error)
	AbortMultipartUpload(ctx context.Context, key, uploadID string) error
	// CopyObjectFrom performs a server-side copy from another object in
	// the same kind of store.
	CopyObjectFrom(ctx context.Context, srcBucket, srcKey, dstKey string) error
	GetTags(ctx context.Context, key string) (map[string]string, error)
	PutTags(ctx context.Context, key string, tags map[string]string) error
	Limits() checksum.StoreLimits
	GetBucketName() string
	GetStorageType() string
}

// RepositoryType represents the type of object storage
type RepositoryType string

const (
	S3Type   RepositoryType = "s3"
	GCSType  RepositoryType = "gcs"
	FileType RepositoryType = "file"
)

// Location is a parsed object location: a store type, a bucket (empty for
// local files) and a key or path.
type Location struct {
	Type   RepositoryType
	Bucket string
	Key    string
}

// SumsKey returns the key of the sums file stored next to the object.
func (l Location) SumsKey() string {
	return l.Key + ".sums"
}

func (l Location) String() string {
	switch l.Type {
	case S3Type:
		return fmt.Sprintf("s3://%s/%s", l.Bucket, l.Key)
	case GCSType:
		return fmt.Sprintf("gs://%s/%s", l.Bucket, l.Key)
	default:
		return l.Key
	}
}

// ParseLocation parses an object location.
// Formats: "s3://bucket/key", "gs://bucket/key", "file://path", or a bare
// filesystem path.
func ParseLocation(s string) (Location, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Location{}, fmt.Errorf("location cannot be empty")
	}

	scheme, rest, found := strings.Cut(s, "://")
	if !found {
		return Location{Type: FileType, Key: s}, nil
	}
	scheme = strings.ToLower(scheme)

	switch scheme {
	case "file":
		if rest == "" {
			return Location{}, fmt.Errorf("file path cannot be empty")
		}
		return Location{Type: FileType, Key: rest}, nil
	case "s3", "gs":
		bucket, key, ok := strings.Cut(rest, "/")
		if !ok || bucket == "" || key == "" {
			return Location{}, fmt.Errorf("location %q must include a bucket and key", s)
		}
		repoType := S3Type
		if scheme == "gs" {
			repoType = GCSType
		}
		return Location{Type: repoType, Bucket: bucket, Key: key}, nil
	default:
		return Location{}, fmt.Errorf("unsupported scheme: %s", scheme)
	}
}

// ObjectRepositoryFactory creates object repository instances
type ObjectRepositoryFactory struct {
	awsConfig aws.Config

	mu        sync.Mutex
	s3Client  *s3.Client
	gcsClient *storage.Client
}

// NewObjectRepositoryFactory creates a new factory
func NewObjectRepositoryFactory(awsConfig aws.Config) *ObjectRepositoryFactory {
	return &ObjectRepositoryFactory{awsConfig: awsConfig}
}

// CreateRepository creates a repository for a parsed location. Cloud
// clients are created on first use so local-only runs need no credentials.
func (f *ObjectRepositoryFactory) CreateRepository(ctx context.Context, location Location) (ObjectRepository, error) {
	switch location.Type {
	case S3Type:
		f.mu.Lock()
		if f.s3Client == nil {
			f.s3Client = s3.NewFromConfig(f.awsConfig)
		}
		client := f.s3Client
		f.mu.Unlock()
		repo := NewS3ObjectRepository(client, location.Bucket)
		return &repo, nil
	case GCSType:
		f.mu.Lock()
		if f.gcsClient == nil {
			client, err := storage.NewClient(ctx)
			if err != nil {
				f.mu.Unlock()
				return nil, fmt.Errorf("unable to create GCS client: %w", err)
			}
			f.gcsClient = client
		}
		client := f.gcsClient
		f.mu.Unlock()
		repo := NewGCSObjectRepository(client, location.Bucket)
		return &repo, nil
	case FileType:
		repo := NewFileObjectRepository()
		return &repo, nil
	default:
		return nil, fmt.Errorf("unsupported repository type: %s", location.Type)
	}
}

// seedFromETag derives checksum digests from a store ETag. A bare 32-hex
// ETag is the object's MD5; an "<hex>-<n>" ETag is a chunked MD5 whose
// kind is only known when the part layout is.
func seedFromETag(info *ObjectInfo) {
	etag := strings.Trim(info.ETag, `"`)
	if etag == "" {
		return
	}
	if info.Checksums == nil {
		info.Checksums = make(map[string]string)
	}

	hexPart, _, chunked := strings.Cut(etag, "-")
	if len(hexPart) != 32 {
		return
	}
	if !chunked {
		kind := checksum.NewKind(checksum.MD5)
		if kind.ValidateDigest(hexPart) == nil {
			info.Checksums[kind.String()] = hexPart
		}
		return
	}
	if info.PartSize > 0 {
		kind := checksum.NewChunkedKind(checksum.MD5, info.PartSize)
		if kind.ValidateDigest(etag) == nil {
			info.Checksums[kind.String()] = etag
		}
	}
}
