package objectstore

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/schollz/progressbar/v3"

	"github.com/cloudsum/cloudsum/internal/checksum"
	internalerrors "github.com/cloudsum/cloudsum/internal/errors"
)

// FileLimits permit any part layout so copies to local files can mirror a
// cloud source's multipart boundaries exactly.
var FileLimits = checksum.StoreLimits{
	MinPartSize: 1,
	MaxPartSize: 1 << 62,
	MaxParts:    1 << 31,
}

// FileObjectRepository implements ObjectRepository for the local
// filesystem. Keys are filesystem paths; parts of a multipart upload are
// staged in a scratch directory and concatenated in order on completion.
type FileObjectRepository struct{}

// NewFileObjectRepository creates a new local file repository
func NewFileObjectRepository() FileObjectRepository {
	return FileObjectRepository{}
}

// GetBucketName returns the bucket name, which is empty for local files.
func (r *FileObjectRepository) GetBucketName() string {
	return ""
}

// GetStorageType returns the object store type.
func (r *FileObjectRepository) GetStorageType() string {
	return "file"
}

// Limits returns the local filesystem constraints.
func (r *FileObjectRepository) Limits() checksum.StoreLimits {
	return FileLimits
}

// Head stats the file. Local files carry no native checksums.
func (r *FileObjectRepository) Head(ctx context.Context, key string) (ObjectInfo, error) {
	stat, err := os.Stat(key)
	if err != nil {
		if os.IsNotExist(err) {
			return ObjectInfo{}, fmt.Errorf("%w: %s", internalerrors.ErrNotFound, key)
		}
		return ObjectInfo{}, fmt.Errorf("stat %s: %w", key, err)
	}
	if stat.IsDir() {
		return ObjectInfo{}, fmt.Errorf("%s is a directory", key)
	}
	return ObjectInfo{Size: stat.Size(), Checksums: make(map[string]string)}, nil
}

// Download opens the file for reading.
func (r *FileObjectRepository) Download(ctx context.Context, key string, quiet bool) (io.ReadCloser, error) {
	file, err := os.Open(key)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", internalerrors.ErrNotFound, key)
		}
		return nil, fmt.Errorf("open %s: %w", key, err)
	}

	if quiet {
		return file, nil
	}

	stat, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("stat %s: %w", key, err)
	}
	bar := progressbar.DefaultBytes(stat.Size(), "reading")
	proxyReader := progressbar.NewReader(file, bar)
	return &progressReaderCloser{Reader: &proxyReader, Closer: file}, nil
}

// DownloadRange opens a byte range of the file. End is exclusive.
func (r *FileObjectRepository) DownloadRange(ctx context.Context, key string, start, end int64) (io.ReadCloser, error) {
	file, err := os.Open(key)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", key, err)
	}
	section := io.NewSectionReader(file, start, end-start)
	return &progressReaderCloser{Reader: section, Closer: file}, nil
}

// Upload writes the file atomically: content lands in a temp file that is
// renamed over the destination.
func (r *FileObjectRepository) Upload(ctx context.Context, key string, reader io.Reader, size int64, quiet bool) (string, error) {
	if err := os.MkdirAll(filepath.Dir(key), 0755); err != nil {
		return "", fmt.Errorf("creating directory for %s: %w", key, err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(key), filepath.Base(key)+".tmp*")
	if err != nil {
		return "", fmt.Errorf("creating temp file for %s: %w", key, err)
	}
	defer os.Remove(tmp.Name())

	var proxyReader io.Reader = reader
	if !quiet {
		bar := progressbar.DefaultBytes(size, "writing")
		pbReader := progressbar.NewReader(reader, bar)
		proxyReader = &pbReader
	}

	hash := md5.New()
	if _, err := io.Copy(io.MultiWriter(tmp, hash), proxyReader); err != nil {
		tmp.Close()
		return "", fmt.Errorf("writing %s: %w", key, err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("closing %s: %w", key, err)
	}
	if err := os.Rename(tmp.Name(), key); err != nil {
		return "", fmt.Errorf("replacing %s: %w", key, err)
	}
	return hex.EncodeToString(hash.Sum(nil)), nil
}

// CreateMultipartUpload creates a scratch directory for staged parts and
// returns its path as the upload ID.
func (r *FileObjectRepository) CreateMultipartUpload(ctx context.Context, key string) (string, error) {
	if err := os.MkdirAll(filepath.Dir(key), 0755); err != nil {
		return "", fmt.Errorf("creating directory for %s: %w", key, err)
	}
	dir, err := os.MkdirTemp(filepath.Dir(key), filepath.Base(key)+".parts*")
	if err != nil {
		return "", fmt.Errorf("creating part directory for %s: %w", key, err)
	}
	return dir, nil
}

// UploadPart stages one part in the scratch directory.
func (r *FileObjectRepository) UploadPart(ctx context.Context, key, uploadID string, partNumber int32, reader io.Reader, size int64) (string, error) {
	partPath := filepath.Join(uploadID, fmt.Sprintf("part-%05d", partNumber))
	file, err := os.Create(partPath)
	if err != nil {
		return "", fmt.Errorf("creating part %d of %s: %w", partNumber, key, err)
	}

	hash := md5.New()
	if _, err := io.Copy(io.MultiWriter(file, hash), reader); err != nil {
		file.Close()
		return "", fmt.Errorf("writing part %d of %s: %w", partNumber, key, err)
	}
	if err := file.Close(); err != nil {
		return "", fmt.Errorf("closing part %d of %s: %w", partNumber, key, err)
	}
	return hex.EncodeToString(hash.Sum(nil)), nil
}

// CompleteMultipartUpload concatenates the staged parts in order into the
// destination and removes the scratch directory.
func (r *FileObjectRepository) CompleteMultipartUpload(ctx context.Context, key, uploadID string, partETags []string) (string, error) {
	tmp, err := os.CreateTemp(filepath.Dir(key), filepath.Base(key)+".tmp*")
	if err != nil {
		return "", fmt.Errorf("creating temp file for %s: %w", key, err)
	}
	defer os.Remove(tmp.Name())

	for i := range partETags {
		partPath := filepath.Join(uploadID, fmt.Sprintf("part-%05d", i+1))
		part, err := os.Open(partPath)
		if err != nil {
			tmp.Close()
			return "", fmt.Errorf("opening part %d of %s: %w", i+1, key, err)
		}
		_, err = io.Copy(tmp, part)
		part.Close()
		if err != nil {
			tmp.Close()
			return "", fmt.Errorf("assembling part %d of %s: %w", i+1, key, err)
		}
	}

	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("closing %s: %w", key, err)
	}
	if err := os.Rename(tmp.Name(), key); err != nil {
		return "", fmt.Errorf("replacing %s: %w", key, err)
	}
	if err := os.RemoveAll(uploadID); err != nil {
		return "", fmt.Errorf("removing part directory of %s: %w", key, err)
	}
	return "", nil
}

// AbortMultipartUpload removes the scratch directory and its parts.
func (r *FileObjectRepository) AbortMultipartUpload(ctx context.Context, key, uploadID string) error {
	return os.RemoveAll(uploadID)
}

// CopyObjectFrom copies a local file without streaming it through the
// checksum engine.
func (r *FileObjectRepository) CopyObjectFrom(ctx context.Context, srcBucket, srcKey, dstKey string) error {
	src, err := os.Open(srcKey)
	if err != nil {
		return fmt.Errorf("open %s: %w", srcKey, err)
	}
	defer src.Close()

	if _, err := r.Upload(ctx, dstKey, src, -1, true); err != nil {
		return err
	}
	return nil
}

// GetTags returns an empty set; local files carry no tags.
func (r *FileObjectRepository) GetTags(ctx context.Context, key string) (map[string]string, error) {
	return map[string]string{}, nil
}

// PutTags fails for a non-empty tag set; local files cannot store tags.
func (r *FileObjectRepository) PutTags(ctx context.Context, key string, tags map[string]string) error {
	if len(tags) == 0 {
		return nil
	}
	return fmt.Errorf("%w: local files do not support tags", internalerrors.ErrTagCopyFailed)
}
