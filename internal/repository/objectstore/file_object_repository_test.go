package objectstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"testing"

	internalerrors "github.com/cloudsum/cloudsum/internal/errors"
)

func writeTestFile(t *testing.T, path string, data []byte) {
	t.Helper()
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatalf("writing %s: %v", path, err)
	}
}

func TestFileRepositoryHead(t *testing.T) {
	repo := NewFileObjectRepository()
	dir := t.TempDir()
	path := filepath.Join(dir, "object.bin")
	writeTestFile(t, path, []byte("hello world"))

	info, err := repo.Head(context.Background(), path)
	if err != nil {
		t.Fatalf("Head: %v", err)
	}
	if info.Size != 11 {
		t.Errorf("Size = %d, want 11", info.Size)
	}

	if _, err := repo.Head(context.Background(), filepath.Join(dir, "missing")); !errors.Is(err, internalerrors.ErrNotFound) {
		t.Errorf("Head on missing file = %v, want ErrNotFound", err)
	}
	if _, err := repo.Head(context.Background(), dir); err == nil {
		t.Error("Head accepted a directory")
	}
}

func TestFileRepositoryUploadDownload(t *testing.T) {
	repo := NewFileObjectRepository()
	path := filepath.Join(t.TempDir(), "nested", "object.bin")
	data := []byte("hello world")

	etag, err := repo.Upload(context.Background(), path, bytes.NewReader(data), int64(len(data)), true)
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}
	if etag != "5eb63bbbe01eeed093cb22bb8f5acdc3" {
		t.Errorf("Upload etag = %q, want the content md5", etag)
	}

	reader, err := repo.Download(context.Background(), path, true)
	if err != nil {
		t.Fatalf("Download: %v", err)
	}
	defer reader.Close()
	got, err := io.ReadAll(reader)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if !bytes.Equal(got, data) {
		t.Errorf("Download = %q, want %q", got, data)
	}
}

func TestFileRepositoryDownloadRange(t *testing.T) {
	repo := NewFileObjectRepository()
	path := filepath.Join(t.TempDir(), "object.bin")
	writeTestFile(t, path, []byte("hello world"))

	reader, err := repo.DownloadRange(context.Background(), path, 6, 11)
	if err != nil {
		t.Fatalf("DownloadRange: %v", err)
	}
	defer reader.Close()
	got, err := io.ReadAll(reader)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if string(got) != "world" {
		t.Errorf("DownloadRange = %q, want %q", got, "world")
	}
}

func TestFileRepositoryMultipart(t *testing.T) {
	repo := NewFileObjectRepository()
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "object.bin")

	uploadID, err := repo.CreateMultipartUpload(ctx, path)
	if err != nil {
		t.Fatalf("CreateMultipartUpload: %v", err)
	}

	parts := []string{"hell", "o wo", "rld"}
	etags := make([]string, len(parts))
	for i, part := range parts {
		etag, err := repo.UploadPart(ctx, path, uploadID, int32(i+1), bytes.NewReader([]byte(part)), int64(len(part)))
		if err != nil {
			t.Fatalf("UploadPart %d: %v", i+1, err)
		}
		etags[i] = etag
	}

	if _, err := repo.CompleteMultipartUpload(ctx, path, uploadID, etags); err != nil {
		t.Fatalf("CompleteMultipartUpload: %v", err)
	}

	got, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if string(got) != "hello world" {
		t.Errorf("assembled content = %q, want %q", got, "hello world")
	}
	if _, err := os.Stat(uploadID); !os.IsNotExist(err) {
		t.Errorf("part directory survived completion: %v", err)
	}
}

func TestFileRepositoryAbortMultipart(t *testing.T) {
	repo := NewFileObjectRepository()
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "object.bin")

	uploadID, err := repo.CreateMultipartUpload(ctx, path)
	if err != nil {
		t.Fatalf("CreateMultipartUpload: %v", err)
	}
	if _, err := repo.UploadPart(ctx, path, uploadID, 1, bytes.NewReader([]byte("data")), 4); err != nil {
		t.Fatalf("UploadPart: %v", err)
	}

	if err := repo.AbortMultipartUpload(ctx, path, uploadID); err != nil {
		t.Fatalf("AbortMultipartUpload: %v", err)
	}
	if _, err := os.Stat(uploadID); !os.IsNotExist(err) {
		t.Errorf("part directory survived abort: %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Errorf("destination exists after abort: %v", err)
	}
}

func TestFileRepositoryCopyObjectFrom(t *testing.T) {
	repo := NewFileObjectRepository()
	dir := t.TempDir()
	src := filepath.Join(dir, "src.bin")
	dst := filepath.Join(dir, "dst.bin")
	writeTestFile(t, src, []byte("copy me"))

	if err := repo.CopyObjectFrom(context.Background(), "", src, dst); err != nil {
		t.Fatalf("CopyObjectFrom: %v", err)
	}
	got, err := os.ReadFile(dst)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if string(got) != "copy me" {
		t.Errorf("copy = %q, want %q", got, "copy me")
	}
}

func TestFileRepositoryTags(t *testing.T) {
	repo := NewFileObjectRepository()
	ctx := context.Background()

	tags, err := repo.GetTags(ctx, "any")
	if err != nil || len(tags) != 0 {
		t.Errorf("GetTags = %v, %v; want empty, nil", tags, err)
	}
	if err := repo.PutTags(ctx, "any", nil); err != nil {
		t.Errorf("PutTags with no tags: %v", err)
	}
	if err := repo.PutTags(ctx, "any", map[string]string{"k": "v"}); !errors.Is(err, internalerrors.ErrTagCopyFailed) {
		t.Errorf("PutTags error = %v, want ErrTagCopyFailed", err)
	}
}

func TestFileRepositoryUploadIsAtomic(t *testing.T) {
	repo := NewFileObjectRepository()
	path := filepath.Join(t.TempDir(), "object.bin")
	writeTestFile(t, path, []byte("old content"))

	// A reader that fails mid-stream must leave the old content intact.
	failing := io.MultiReader(bytes.NewReader([]byte("new")), &failingReader{})
	if _, err := repo.Upload(context.Background(), path, failing, 10, true); err == nil {
		t.Fatal("Upload succeeded with a failing reader")
	}

	got, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if string(got) != "old content" {
		t.Errorf("content = %q, want the original", got)
	}
}

type failingReader struct{}

func (*failingReader) Read([]byte) (int, error) {
	return 0, fmt.Errorf("disk on fire")
}
