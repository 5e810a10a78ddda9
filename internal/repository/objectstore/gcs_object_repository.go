package objectstore

import (
	"context"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"io"

	"cloud.google.com/go/storage"
	"github.com/schollz/progressbar/v3"
	log "github.com/sirupsen/logrus"

	"github.com/cloudsum/cloudsum/internal/checksum"
	internalerrors "github.com/cloudsum/cloudsum/internal/errors"
)

// GCSObjectRepository implements ObjectRepository for Google Cloud Storage
type GCSObjectRepository struct {
	client     *storage.Client
	bucketName string
}

// NewGCSObjectRepository creates a new GCS object repository
func NewGCSObjectRepository(client *storage.Client, bucketName string) GCSObjectRepository {
	return GCSObjectRepository{
		client:     client,
		bucketName: bucketName,
	}
}

// GetBucketName returns the bucket name
func (r *GCSObjectRepository) GetBucketName() string {
	return r.bucketName
}

// GetStorageType returns the storage type
func (r *GCSObjectRepository) GetStorageType() string {
	return "gcs"
}

// Limits returns the GCS constraints. The GCS writer chunks uploads
// internally, so the repository only exposes single-part transfers.
func (r *GCSObjectRepository) Limits() checksum.StoreLimits {
	return checksum.SinglePartOnly
}

// Head retrieves object attributes and seeds the MD5 and CRC32C digests
// GCS maintains natively.
func (r *GCSObjectRepository) Head(ctx context.Context, key string) (ObjectInfo, error) {
	attrs, err := r.client.Bucket(r.bucketName).Object(key).Attrs(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return ObjectInfo{}, fmt.Errorf("%w: gs://%s/%s", internalerrors.ErrNotFound, r.bucketName, key)
		}
		return ObjectInfo{}, fmt.Errorf("head gs://%s/%s: %w", r.bucketName, key, err)
	}

	info := ObjectInfo{
		Size:      attrs.Size,
		ETag:      attrs.Etag,
		Checksums: make(map[string]string),
	}
	if len(attrs.MD5) == checksum.MD5.DigestSize() {
		info.Checksums[string(checksum.MD5)] = hex.EncodeToString(attrs.MD5)
	}
	if attrs.CRC32C != 0 || attrs.Size == 0 {
		var raw [4]byte
		binary.BigEndian.PutUint32(raw[:], attrs.CRC32C)
		info.Checksums[string(checksum.CRC32C)] = hex.EncodeToString(raw[:])
	}
	return info, nil
}

// Download downloads an object from GCS
func (r *GCSObjectRepository) Download(ctx context.Context, key string, quiet bool) (io.ReadCloser, error) {
	obj := r.client.Bucket(r.bucketName).Object(key)

	if !quiet {
		log.Debugf("Downloading from GCS: gs://%s/%s", r.bucketName, key)
	}

	reader, err := obj.NewReader(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return nil, fmt.Errorf("%w: gs://%s/%s", internalerrors.ErrNotFound, r.bucketName, key)
		}
		return nil, fmt.Errorf("failed to download from GCS: %w", err)
	}

	if quiet {
		return reader, nil
	}

	bar := progressbar.DefaultBytes(reader.Attrs.Size, "downloading")
	return &gcsProgressReader{r: reader, bar: bar}, nil
}

// DownloadRange downloads a byte range of an object. End is exclusive.
func (r *GCSObjectRepository) DownloadRange(ctx context.Context, key string, start, end int64) (io.ReadCloser, error) {
	reader, err := r.client.Bucket(r.bucketName).Object(key).NewRangeReader(ctx, start, end-start)
	if err != nil {
		return nil, fmt.Errorf("ranged get gs://%s/%s: %w", r.bucketName, key, err)
	}
	return reader, nil
}

// gcsProgressReader wraps a ReadCloser with a progress bar
type gcsProgressReader struct {
	r   io.ReadCloser
	bar *progressbar.ProgressBar
}

func (pr *gcsProgressReader) Read(p []byte) (n int, err error) {
	n, err = pr.r.Read(p)
	if pr.bar != nil {
		pr.bar.Add(n)
	}
	return n, err
}

func (pr *gcsProgressReader) Close() error {
	return pr.r.Close()
}

// Upload uploads an object to GCS
func (r *GCSObjectRepository) Upload(ctx context.Context, key string, reader io.Reader, size int64, quiet bool) (string, error) {
	obj := r.client.Bucket(r.bucketName).Object(key)
	writer := obj.NewWriter(ctx)

	var proxyReader io.Reader = reader
	if !quiet {
		log.Debugf("Uploading to GCS: gs://%s/%s", r.bucketName, key)
		bar := progressbar.DefaultBytes(size, "uploading")
		pbReader := progressbar.NewReader(reader, bar)
		proxyReader = &pbReader
	}

	if _, err := io.Copy(writer, proxyReader); err != nil {
		writer.Close()
		return "", fmt.Errorf("failed to upload to GCS: %w", err)
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("failed to upload to GCS: %w", err)
	}

	return writer.Attrs().Etag, nil
}

// CreateMultipartUpload is unsupported on GCS; the writer chunks internally.
func (r *GCSObjectRepository) CreateMultipartUpload(ctx context.Context, key string) (string, error) {
	return "", fmt.Errorf("multipart uploads are not supported on gcs")
}

// UploadPart is unsupported on GCS.
func (r *GCSObjectRepository) UploadPart(ctx context.Context, key, uploadID string, partNumber int32, reader io.Reader, size int64) (string, error) {
	return "", fmt.Errorf("multipart uploads are not supported on gcs")
}

// CompleteMultipartUpload is unsupported on GCS.
func (r *GCSObjectRepository) CompleteMultipartUpload(ctx context.Context, key, uploadID string, partETags []string) (string, error) {
	return "", fmt.Errorf("multipart uploads are not supported on gcs")
}

// AbortMultipartUpload is unsupported on GCS.
func (r *GCSObjectRepository) AbortMultipartUpload(ctx context.Context, key, uploadID string) error {
	return fmt.Errorf("multipart uploads are not supported on gcs")
}

// CopyObjectFrom performs a server-side copy within GCS.
func (r *GCSObjectRepository) CopyObjectFrom(ctx context.Context, srcBucket, srcKey, dstKey string) error {
	src := r.client.Bucket(srcBucket).Object(srcKey)
	dst := r.client.Bucket(r.bucketName).Object(dstKey)

	if _, err := dst.CopierFrom(src).Run(ctx); err != nil {
		return fmt.Errorf("server-side copy to gs://%s/%s: %w", r.bucketName, dstKey, err)
	}
	return nil
}

// GetTags returns the object's metadata entries. GCS has no tag API, so
// custom metadata stands in for tags.
func (r *GCSObjectRepository) GetTags(ctx context.Context, key string) (map[string]string, error) {
	attrs, err := r.client.Bucket(r.bucketName).Object(key).Attrs(ctx)
	if err != nil {
		return nil, fmt.Errorf("get metadata of gs://%s/%s: %w", r.bucketName, key, err)
	}
	return attrs.Metadata, nil
}

// PutTags replaces the object's custom metadata.
func (r *GCSObjectRepository) PutTags(ctx context.Context, key string, tags map[string]string) error {
	_, err := r.client.Bucket(r.bucketName).Object(key).Update(ctx, storage.ObjectAttrsToUpdate{
		Metadata: tags,
	})
	if err != nil {
		return fmt.Errorf("put metadata of gs://%s/%s: %w", r.bucketName, key, err)
	}
	return nil
}
