package service

import (
	"context"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"

	"github.com/cloudsum/cloudsum/internal/repository/objectstore"
	"github.com/cloudsum/cloudsum/internal/sums"
)

func TestOpenObjectMissing(t *testing.T) {
	factory := objectstore.NewObjectRepositoryFactory(aws.Config{})
	if _, err := OpenObject(context.Background(), factory, t.TempDir()+"/missing.bin"); err == nil {
		t.Error("OpenObject succeeded on a missing file")
	}
}

func TestLoadRecordWithoutSumsFile(t *testing.T) {
	factory := objectstore.NewObjectRepositoryFactory(aws.Config{})
	path := writeObject(t, t.TempDir(), "object.bin", []byte("hello world"))

	object, err := OpenObject(context.Background(), factory, path)
	if err != nil {
		t.Fatalf("OpenObject: %v", err)
	}
	record, err := object.LoadRecord(context.Background())
	if err != nil {
		t.Fatalf("LoadRecord: %v", err)
	}
	if record.Size != 11 || len(record.Checksums) != 0 {
		t.Errorf("fresh record: size=%d kinds=%v", record.Size, record.Kinds())
	}
}

func TestLoadRecordDiscardsStaleSums(t *testing.T) {
	factory := objectstore.NewObjectRepositoryFactory(aws.Config{})
	path := writeObject(t, t.TempDir(), "object.bin", []byte("hello world"))

	// A sums file recorded for a different size belongs to an earlier
	// version of the object.
	stale := sums.NewRecord(99)
	stale.Checksums["md5"] = "00000000000000000000000000000000"
	if err := sums.Save(stale, path+".sums"); err != nil {
		t.Fatalf("seeding sums file: %v", err)
	}

	object, err := OpenObject(context.Background(), factory, path)
	if err != nil {
		t.Fatalf("OpenObject: %v", err)
	}
	record, err := object.LoadRecord(context.Background())
	if err != nil {
		t.Fatalf("LoadRecord: %v", err)
	}
	if record.Size != 11 {
		t.Errorf("Size = %d, want the object's size", record.Size)
	}
	if len(record.Checksums) != 0 {
		t.Errorf("stale checksums survived: %v", record.Kinds())
	}
}

func TestSaveRecordRoundTrip(t *testing.T) {
	factory := objectstore.NewObjectRepositoryFactory(aws.Config{})
	path := writeObject(t, t.TempDir(), "object.bin", []byte("hello world"))

	object, err := OpenObject(context.Background(), factory, path)
	if err != nil {
		t.Fatalf("OpenObject: %v", err)
	}
	record := sums.NewRecord(11)
	record.Checksums["md5"] = helloWorldMD5
	if err := object.SaveRecord(context.Background(), record); err != nil {
		t.Fatalf("SaveRecord: %v", err)
	}

	loaded, err := object.LoadRecord(context.Background())
	if err != nil {
		t.Fatalf("LoadRecord: %v", err)
	}
	if loaded.Checksums["md5"] != helloWorldMD5 {
		t.Errorf("md5 = %q, want %q", loaded.Checksums["md5"], helloWorldMD5)
	}
}
