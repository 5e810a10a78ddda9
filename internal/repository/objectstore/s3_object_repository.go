package objectstore

import (
	"context"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/schollz/progressbar/v3"

	"github.com/cloudsum/cloudsum/internal/checksum"
	internalerrors "github.com/cloudsum/cloudsum/internal/errors"
)

// S3ObjectRepository manages S3 interactions for objects.
type S3ObjectRepository struct {
	client     *s3.Client
	bucketName string
	retry      retryer
}

// NewS3ObjectRepository initializes a new S3ObjectRepository.
func NewS3ObjectRepository(client *s3.Client, bucketName string) S3ObjectRepository {
	return S3ObjectRepository{
		client:     client,
		bucketName: bucketName,
		retry:      newRetryer(),
	}
}

// GetBucketName returns the bucket name.
func (r *S3ObjectRepository) GetBucketName() string {
	return r.bucketName
}

// GetStorageType returns the object store type.
func (r *S3ObjectRepository) GetStorageType() string {
	return "s3"
}

// Limits returns the S3 multipart constraints.
func (r *S3ObjectRepository) Limits() checksum.StoreLimits {
	return checksum.S3Limits
}

// Head retrieves object metadata, including the multipart layout when the
// ETag indicates one, and seeds checksums from the store's own metadata.
func (r *S3ObjectRepository) Head(ctx context.Context, key string) (ObjectInfo, error) {
	var head *s3.HeadObjectOutput
	err := r.retry.do(ctx, "HeadObject", func() error {
		var err error
		head, err = r.client.HeadObject(ctx, &s3.HeadObjectInput{
			Bucket:       aws.String(r.bucketName),
			Key:          aws.String(key),
			ChecksumMode: types.ChecksumModeEnabled,
		})
		return err
	})
	if err != nil {
		var notFound *types.NotFound
		if errors.As(err, &notFound) {
			return ObjectInfo{}, fmt.Errorf("%w: s3://%s/%s", internalerrors.ErrNotFound, r.bucketName, key)
		}
		return ObjectInfo{}, fmt.Errorf("head s3://%s/%s: %w", r.bucketName, key, err)
	}

	info := ObjectInfo{
		Size:      aws.ToInt64(head.ContentLength),
		ETag:      aws.ToString(head.ETag),
		Checksums: make(map[string]string),
	}

	// A composite ETag means a multipart layout. Heading part 1 yields
	// the part size and part count.
	if isCompositeETag(info.ETag) {
		partHead, err := r.client.HeadObject(ctx, &s3.HeadObjectInput{
			Bucket:     aws.String(r.bucketName),
			Key:        aws.String(key),
			PartNumber: aws.Int32(1),
		})
		if err == nil {
			info.PartSize = aws.ToInt64(partHead.ContentLength)
			info.Parts = aws.ToInt32(partHead.PartsCount)
		}
	}

	seedNativeChecksum(&info, checksum.CRC32, head.ChecksumCRC32, head.ChecksumType)
	seedNativeChecksum(&info, checksum.CRC32C, head.ChecksumCRC32C, head.ChecksumType)
	seedNativeChecksum(&info, checksum.CRC64NVMe, head.ChecksumCRC64NVME, head.ChecksumType)
	seedNativeChecksum(&info, checksum.SHA1, head.ChecksumSHA1, head.ChecksumType)
	seedNativeChecksum(&info, checksum.SHA256, head.ChecksumSHA256, head.ChecksumType)
	seedFromETag(&info)

	return info, nil
}

// Download downloads an object file from S3
func (r *S3ObjectRepository) Download(ctx context.Context, key string, quiet bool) (io.ReadCloser, error) {
	result, err := r.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(r.bucketName),
		Key:    aws.String(key),
	})
	if err != nil {
		var noSuchKey *types.NoSuchKey
		if errors.As(err, &noSuchKey) {
			return nil, fmt.Errorf("%w: s3://%s/%s", internalerrors.ErrNotFound, r.bucketName, key)
		}
		return nil, err
	}

	size := result.ContentLength
	if !quiet {
		bar := progressbar.DefaultBytes(aws.ToInt64(size), "downloading")
		proxyReader := progressbar.NewReader(result.Body, bar)
		return &progressReaderCloser{Reader: &proxyReader, Closer: result.Body}, nil
	}
	return result.Body, nil
}

// DownloadRange downloads a byte range of an object. End is exclusive.
func (r *S3ObjectRepository) DownloadRange(ctx context.Context, key string, start, end int64) (io.ReadCloser, error) {
	result, err := r.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(r.bucketName),
		Key:    aws.String(key),
		Range:  aws.String(fmt.Sprintf("bytes=%d-%d", start, end-1)),
	})
	if err != nil {
		return nil, fmt.Errorf("ranged get s3://%s/%s: %w", r.bucketName, key, err)
	}
	return result.Body, nil
}

// Upload uploads an object file to S3
func (r *S3ObjectRepository) Upload(ctx context.Context, key string, reader io.Reader, size int64, quiet bool) (string, error) {
	var proxyReader io.Reader = reader
	if !quiet {
		bar := progressbar.DefaultBytes(size, "uploading")
		pbReader := progressbar.NewReader(reader, bar)
		proxyReader = &pbReader
	}

	input := &s3.PutObjectInput{
		Bucket: aws.String(r.bucketName),
		Key:    aws.String(key),
		Body:   proxyReader,
	}
	if size >= 0 {
		input.ContentLength = &size
	}

	result, err := r.client.PutObject(ctx, input)
	if err != nil {
		return "", err
	}
	return aws.ToString(result.ETag), nil
}

// CreateMultipartUpload initiates a multipart upload and returns its ID.
func (r *S3ObjectRepository) CreateMultipartUpload(ctx context.Context, key string) (string, error) {
	var result *s3.CreateMultipartUploadOutput
	err := r.retry.do(ctx, "CreateMultipartUpload", func() error {
		var err error
		result, err = r.client.CreateMultipartUpload(ctx, &s3.CreateMultipartUploadInput{
			Bucket: aws.String(r.bucketName),
			Key:    aws.String(key),
		})
		return err
	})
	if err != nil {
		return "", fmt.Errorf("create multipart upload for s3://%s/%s: %w", r.bucketName, key, err)
	}
	return aws.ToString(result.UploadId), nil
}

// UploadPart uploads one part of a multipart upload and returns its ETag.
func (r *S3ObjectRepository) UploadPart(ctx context.Context, key, uploadID string, partNumber int32, reader io.Reader, size int64) (string, error) {
	result, err := r.client.UploadPart(ctx, &s3.UploadPartInput{
		Bucket:        aws.String(r.bucketName),
		Key:           aws.String(key),
		UploadId:      aws.String(uploadID),
		PartNumber:    aws.Int32(partNumber),
		Body:          reader,
		ContentLength: aws.Int64(size),
	})
	if err != nil {
		return "", fmt.Errorf("upload part %d of s3://%s/%s: %w", partNumber, r.bucketName, key, err)
	}
	return aws.ToString(result.ETag), nil
}

// CompleteMultipartUpload finishes a multipart upload from ordered part ETags.
func (r *S3ObjectRepository) CompleteMultipartUpload(ctx context.Context, key, uploadID string, partETags []string) (string, error) {
	parts := make([]types.CompletedPart, len(partETags))
	for i, etag := range partETags {
		parts[i] = types.CompletedPart{
			ETag:       aws.String(etag),
			PartNumber: aws.Int32(int32(i + 1)),
		}
	}

	var result *s3.CompleteMultipartUploadOutput
	err := r.retry.do(ctx, "CompleteMultipartUpload", func() error {
		var err error
		result, err = r.client.CompleteMultipartUpload(ctx, &s3.CompleteMultipartUploadInput{
			Bucket:   aws.String(r.bucketName),
			Key:      aws.String(key),
			UploadId: aws.String(uploadID),
			MultipartUpload: &types.CompletedMultipartUpload{
				Parts: parts,
			},
		})
		return err
	})
	if err != nil {
		return "", fmt.Errorf("complete multipart upload for s3://%s/%s: %w", r.bucketName, key, err)
	}
	return aws.ToString(result.ETag), nil
}

// AbortMultipartUpload abandons a multipart upload and its parts.
func (r *S3ObjectRepository) AbortMultipartUpload(ctx context.Context, key, uploadID string) error {
	_, err := r.client.AbortMultipartUpload(ctx, &s3.AbortMultipartUploadInput{
		Bucket:   aws.String(r.bucketName),
		Key:      aws.String(key),
		UploadId: aws.String(uploadID),
	})
	return err
}

// CopyObjectFrom performs a server-side copy within S3.
func (r *S3ObjectRepository) CopyObjectFrom(ctx context.Context, srcBucket, srcKey, dstKey string) error {
	err := r.retry.do(ctx, "CopyObject", func() error {
		_, err := r.client.CopyObject(ctx, &s3.CopyObjectInput{
			Bucket:     aws.String(r.bucketName),
			Key:        aws.String(dstKey),
			CopySource: aws.String(srcBucket + "/" + srcKey),
		})
		return err
	})
	if err != nil {
		return fmt.Errorf("server-side copy to s3://%s/%s: %w", r.bucketName, dstKey, err)
	}
	return nil
}

// GetTags fetches the object's tag set.
func (r *S3ObjectRepository) GetTags(ctx context.Context, key string) (map[string]string, error) {
	var result *s3.GetObjectTaggingOutput
	err := r.retry.do(ctx, "GetObjectTagging", func() error {
		var err error
		result, err = r.client.GetObjectTagging(ctx, &s3.GetObjectTaggingInput{
			Bucket: aws.String(r.bucketName),
			Key:    aws.String(key),
		})
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("get tags of s3://%s/%s: %w", r.bucketName, key, err)
	}

	tags := make(map[string]string, len(result.TagSet))
	for _, tag := range result.TagSet {
		tags[aws.ToString(tag.Key)] = aws.ToString(tag.Value)
	}
	return tags, nil
}

// PutTags replaces the object's tag set.
func (r *S3ObjectRepository) PutTags(ctx context.Context, key string, tags map[string]string) error {
	tagSet := make([]types.Tag, 0, len(tags))
	for k, v := range tags {
		tagSet = append(tagSet, types.Tag{Key: aws.String(k), Value: aws.String(v)})
	}

	err := r.retry.do(ctx, "PutObjectTagging", func() error {
		_, err := r.client.PutObjectTagging(ctx, &s3.PutObjectTaggingInput{
			Bucket:  aws.String(r.bucketName),
			Key:     aws.String(key),
			Tagging: &types.Tagging{TagSet: tagSet},
		})
		return err
	})
	if err != nil {
		return fmt.Errorf("put tags of s3://%s/%s: %w", r.bucketName, key, err)
	}
	return nil
}

type progressReaderCloser struct {
	io.Reader
	io.Closer
}

func isCompositeETag(etag string) bool {
	for _, r := range etag {
		if r == '-' {
			return true
		}
	}
	return false
}

// seedNativeChecksum decodes a base64 S3 checksum header into the record.
// Composite checksums are skipped since they use S3's own part hashing.
func seedNativeChecksum(info *ObjectInfo, alg checksum.Algorithm, value *string, checksumType types.ChecksumType) {
	if value == nil || checksumType == types.ChecksumTypeComposite {
		return
	}
	raw, err := base64.StdEncoding.DecodeString(*value)
	if err != nil || len(raw) != alg.DigestSize() {
		return
	}
	info.Checksums[string(alg)] = hex.EncodeToString(raw)
}
