package sums

import (
	"testing"

	"github.com/cloudsum/cloudsum/internal/checksum"
)

var testPrefs = []string{"md5", "sha256", "sha1", "crc64nvme", "crc32c", "crc32"}

func recordWith(size int64, pairs ...string) *Record {
	record := NewRecord(size)
	for i := 0; i+1 < len(pairs); i += 2 {
		record.Checksums[pairs[i]] = pairs[i+1]
	}
	return record
}

func TestResolveEqual(t *testing.T) {
	a := recordWith(11,
		"md5", "5eb63bbbe01eeed093cb22bb8f5acdc3",
		"sha1", "2aae6c35c94fcfb415dbe95f408b9ce91ee846ed")
	b := recordWith(11,
		"md5", "5eb63bbbe01eeed093cb22bb8f5acdc3",
		"crc32", "0d4a1185")

	res := Resolve(a, b, testPrefs)
	if res.Outcome != Equal {
		t.Fatalf("Outcome = %s, want equal", res.Outcome)
	}
	if len(res.Matched) != 1 || res.Matched[0] != "md5" {
		t.Errorf("Matched = %v, want [md5]", res.Matched)
	}
}

func TestResolveSizeMismatch(t *testing.T) {
	a := recordWith(11, "md5", "5eb63bbbe01eeed093cb22bb8f5acdc3")
	b := recordWith(12, "md5", "5eb63bbbe01eeed093cb22bb8f5acdc3")

	res := Resolve(a, b, testPrefs)
	if res.Outcome != NotEqual {
		t.Errorf("Outcome = %s, want not-equal", res.Outcome)
	}
}

func TestResolveDigestMismatchWins(t *testing.T) {
	// One agreeing kind does not excuse a disagreeing one.
	a := recordWith(11,
		"md5", "5eb63bbbe01eeed093cb22bb8f5acdc3",
		"crc32", "0d4a1185")
	b := recordWith(11,
		"md5", "5eb63bbbe01eeed093cb22bb8f5acdc3",
		"crc32", "ffffffff")

	res := Resolve(a, b, testPrefs)
	if res.Outcome != NotEqual {
		t.Fatalf("Outcome = %s, want not-equal", res.Outcome)
	}
	if len(res.Mismatched) != 1 || res.Mismatched[0] != "crc32" {
		t.Errorf("Mismatched = %v, want [crc32]", res.Mismatched)
	}
}

func TestResolveUnknownPrefersSharedAlgorithm(t *testing.T) {
	// Both sides carry md5 under different part layouts. Computing one
	// side's layout on the other decides the comparison, and beats the
	// sha256 candidate even though sha256 is plain.
	a := recordWith(100,
		"md5-aws-10b", "177e85e8bb233bd57a6aabda201a0c2c-10")
	b := recordWith(100,
		"md5-aws-20b", "277e85e8bb233bd57a6aabda201a0c2c-5",
		"sha256", "b94d27b9934d3e08a52e52d7da7dabfac484efe37a5380ee9088f7ace2efcde9")

	res := Resolve(a, b, testPrefs)
	if res.Outcome != Unknown {
		t.Fatalf("Outcome = %s, want unknown", res.Outcome)
	}
	if len(res.Missing) != 1 {
		t.Fatalf("got %d missing targets, want 1", len(res.Missing))
	}
	target := res.Missing[0]
	if target.Kind.Alg != checksum.MD5 {
		t.Errorf("missing kind = %s, want an md5 layout", target.Kind)
	}
	if target.NeedsA == target.NeedsB {
		t.Errorf("exactly one side should need the checksum: %+v", target)
	}
}

func TestResolveUnknownPrefersPlainKind(t *testing.T) {
	a := recordWith(100,
		"md5-aws-10b", "177e85e8bb233bd57a6aabda201a0c2c-10",
		"sha1", "2aae6c35c94fcfb415dbe95f408b9ce91ee846ed")
	b := recordWith(100,
		"crc32", "0d4a1185")

	res := Resolve(a, b, testPrefs)
	if res.Outcome != Unknown {
		t.Fatalf("Outcome = %s, want unknown", res.Outcome)
	}
	target := res.Missing[0]
	if target.Kind.Chunked {
		t.Errorf("missing kind = %s, want a plain kind", target.Kind)
	}
}

func TestResolveUnknownFollowsPreferenceOrder(t *testing.T) {
	a := recordWith(100,
		"crc32", "0d4a1185",
		"sha1", "2aae6c35c94fcfb415dbe95f408b9ce91ee846ed")
	b := recordWith(100,
		"sha256", "b94d27b9934d3e08a52e52d7da7dabfac484efe37a5380ee9088f7ace2efcde9")

	// All candidates are plain and no algorithm is shared, so the
	// preference list decides: sha256 outranks sha1 and crc32.
	res := Resolve(a, b, testPrefs)
	target := res.Missing[0]
	if target.Kind.Alg != checksum.SHA256 {
		t.Errorf("missing kind = %s, want sha256", target.Kind)
	}
	if !target.NeedsA || target.NeedsB {
		t.Errorf("sha256 should be needed by the first record only: %+v", target)
	}
}

func TestResolveBothEmpty(t *testing.T) {
	res := Resolve(NewRecord(100), NewRecord(100), testPrefs)
	if res.Outcome != Unknown {
		t.Fatalf("Outcome = %s, want unknown", res.Outcome)
	}
	if len(res.Missing) != 1 {
		t.Fatalf("got %d missing targets, want 1", len(res.Missing))
	}
	target := res.Missing[0]
	if target.Kind.Alg != checksum.MD5 || !target.NeedsA || !target.NeedsB {
		t.Errorf("missing = %+v, want md5 needed on both sides", target)
	}
}
