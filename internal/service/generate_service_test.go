package service

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"

	"github.com/cloudsum/cloudsum/internal/checksum"
	"github.com/cloudsum/cloudsum/internal/repository/objectstore"
	"github.com/cloudsum/cloudsum/internal/sums"
)

const helloWorldSHA256 = "b94d27b9934d3e08a52e52d7da7dabfac484efe37a5380ee9088f7ace2efcde9"

func newGenerateService() *GenerateService {
	factory := objectstore.NewObjectRepositoryFactory(aws.Config{})
	return NewGenerateService(factory, testConfig())
}

func writeObject(t *testing.T, dir, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatalf("writing %s: %v", path, err)
	}
	return path
}

func mustKinds(t *testing.T, kinds ...string) []checksum.Kind {
	t.Helper()
	parsed := make([]checksum.Kind, len(kinds))
	for i, kind := range kinds {
		k, err := checksum.ParseKind(kind)
		if err != nil {
			t.Fatalf("ParseKind(%q): %v", kind, err)
		}
		parsed[i] = k
	}
	return parsed
}

func TestGenerateComputesAndSaves(t *testing.T) {
	svc := newGenerateService()
	path := writeObject(t, t.TempDir(), "object.bin", []byte("hello world"))

	records, st, err := svc.Generate(context.Background(), []string{path}, GenerateOptions{
		Kinds: mustKinds(t, "md5", "sha256"),
		Quiet: true,
	})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}

	for _, phase := range []string{"load", "hash", "save"} {
		if _, ok := st.PhaseSeconds[phase]; !ok {
			t.Errorf("stats are missing the %s phase", phase)
		}
	}

	record := records[path]
	if record == nil {
		t.Fatal("no record returned")
	}
	if record.Checksums["md5"] != helloWorldMD5 {
		t.Errorf("md5 = %q, want %q", record.Checksums["md5"], helloWorldMD5)
	}
	if record.Checksums["sha256"] != helloWorldSHA256 {
		t.Errorf("sha256 = %q, want %q", record.Checksums["sha256"], helloWorldSHA256)
	}

	saved, err := sums.Load(path + ".sums")
	if err != nil {
		t.Fatalf("loading sums file: %v", err)
	}
	if saved.Size != 11 || len(saved.Checksums) != 2 {
		t.Errorf("saved record: size=%d kinds=%v", saved.Size, saved.Kinds())
	}
}

func TestGenerateSkipsPresentKinds(t *testing.T) {
	svc := newGenerateService()
	path := writeObject(t, t.TempDir(), "object.bin", []byte("hello world"))

	// Seed a wrong digest. Without Verify the pass trusts it and must not
	// recompute; with Verify the recomputed digest replaces it.
	bogus := "00000000000000000000000000000000"
	seeded := sums.NewRecord(11)
	seeded.Checksums["md5"] = bogus
	if err := sums.Save(seeded, path+".sums"); err != nil {
		t.Fatalf("seeding sums file: %v", err)
	}

	records, _, err := svc.Generate(context.Background(), []string{path}, GenerateOptions{
		Kinds: mustKinds(t, "md5"),
		Quiet: true,
	})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if records[path].Checksums["md5"] != bogus {
		t.Errorf("present kind was recomputed: %q", records[path].Checksums["md5"])
	}

	records, _, err = svc.Generate(context.Background(), []string{path}, GenerateOptions{
		Kinds:  mustKinds(t, "md5"),
		Verify: true,
		Quiet:  true,
	})
	if err != nil {
		t.Fatalf("Generate with Verify: %v", err)
	}
	if records[path].Checksums["md5"] != helloWorldMD5 {
		t.Errorf("Verify did not replace the digest: %q", records[path].Checksums["md5"])
	}
}

func TestGenerateForceOverwrite(t *testing.T) {
	svc := newGenerateService()
	path := writeObject(t, t.TempDir(), "object.bin", []byte("hello world"))

	seeded := sums.NewRecord(11)
	seeded.Checksums["sha1"] = "0000000000000000000000000000000000000000"
	if err := sums.Save(seeded, path+".sums"); err != nil {
		t.Fatalf("seeding sums file: %v", err)
	}

	_, _, err := svc.Generate(context.Background(), []string{path}, GenerateOptions{
		Kinds:          mustKinds(t, "md5"),
		ForceOverwrite: true,
		Quiet:          true,
	})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}

	saved, err := sums.Load(path + ".sums")
	if err != nil {
		t.Fatalf("loading sums file: %v", err)
	}
	if _, ok := saved.Checksums["sha1"]; ok {
		t.Error("ForceOverwrite kept the old sha1 entry")
	}
	if saved.Checksums["md5"] != helloWorldMD5 {
		t.Errorf("md5 = %q, want %q", saved.Checksums["md5"], helloWorldMD5)
	}
}

func TestGenerateMissing(t *testing.T) {
	svc := newGenerateService()
	dir := t.TempDir()
	a := writeObject(t, dir, "a.bin", []byte("hello world"))
	b := writeObject(t, dir, "b.bin", []byte("hello world"))

	recordA := sums.NewRecord(11)
	recordA.Checksums["md5"] = helloWorldMD5
	if err := sums.Save(recordA, a+".sums"); err != nil {
		t.Fatalf("seeding sums file: %v", err)
	}
	recordB := sums.NewRecord(11)
	recordB.Checksums["sha256"] = helloWorldSHA256
	if err := sums.Save(recordB, b+".sums"); err != nil {
		t.Fatalf("seeding sums file: %v", err)
	}

	_, _, err := svc.Generate(context.Background(), []string{a, b}, GenerateOptions{
		Missing: true,
		Quiet:   true,
	})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}

	// The pass computes exactly enough for the two to become comparable.
	loadedA, err := sums.Load(a + ".sums")
	if err != nil {
		t.Fatalf("loading sums file: %v", err)
	}
	loadedB, err := sums.Load(b + ".sums")
	if err != nil {
		t.Fatalf("loading sums file: %v", err)
	}
	resolution := sums.Resolve(loadedA, loadedB, testConfig().PreferredAlgorithms)
	if resolution.Outcome != sums.Equal {
		t.Errorf("Outcome after missing pass = %s, want equal", resolution.Outcome)
	}
}

func TestGenerateMissingRequiresTwoInputs(t *testing.T) {
	svc := newGenerateService()
	path := writeObject(t, t.TempDir(), "object.bin", []byte("data"))

	_, _, err := svc.Generate(context.Background(), []string{path}, GenerateOptions{
		Missing: true,
		Quiet:   true,
	})
	if err == nil {
		t.Error("Generate --missing accepted a single input")
	}
}

func TestGeneratePartialTimeoutNotSaved(t *testing.T) {
	svc := newGenerateService()
	path := writeObject(t, t.TempDir(), "object.bin", make([]byte, 1<<20))

	// A zero duration is already expired, so no checksum can finish.
	timeout := time.Duration(0)
	records, _, err := svc.Generate(context.Background(), []string{path}, GenerateOptions{
		Kinds:          mustKinds(t, "md5"),
		PartialTimeout: &timeout,
		Quiet:          true,
	})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if !records[path].Partial {
		t.Fatal("expected a partial record")
	}
	if len(records[path].Checksums) != 0 {
		t.Errorf("partial record carries %d checksums, want 0", len(records[path].Checksums))
	}
	if _, err := os.Stat(path + ".sums"); !os.IsNotExist(err) {
		t.Errorf("partial record was saved: %v", err)
	}
}
