package checksum

import "testing"

func TestPlanBySize(t *testing.T) {
	plan, err := PlanBySize(10, 4)
	if err != nil {
		t.Fatalf("PlanBySize: %v", err)
	}
	want := []PartRange{
		{Number: 1, Start: 0, End: 4},
		{Number: 2, Start: 4, End: 8},
		{Number: 3, Start: 8, End: 10},
	}
	if len(plan.Ranges) != len(want) {
		t.Fatalf("got %d ranges, want %d", len(plan.Ranges), len(want))
	}
	for i, rng := range plan.Ranges {
		if rng != want[i] {
			t.Errorf("range %d = %+v, want %+v", i, rng, want[i])
		}
	}

	empty, err := PlanBySize(0, 4)
	if err != nil {
		t.Fatalf("PlanBySize(0, 4): %v", err)
	}
	if len(empty.Ranges) != 0 {
		t.Errorf("empty object produced %d ranges", len(empty.Ranges))
	}

	if _, err := PlanBySize(10, 0); err == nil {
		t.Error("PlanBySize accepted a zero part size")
	}
}

func TestPlanByCount(t *testing.T) {
	plan, err := PlanByCount(10, 4)
	if err != nil {
		t.Fatalf("PlanByCount: %v", err)
	}
	// ceil(10/4) = 3 byte parts: 3+3+3+1.
	if plan.PartSize != 3 || len(plan.Ranges) != 4 {
		t.Errorf("got partSize=%d ranges=%d, want 3 and 4", plan.PartSize, len(plan.Ranges))
	}

	// A count larger than the size collapses to one-byte parts.
	plan, err = PlanByCount(3, 10)
	if err != nil {
		t.Fatalf("PlanByCount: %v", err)
	}
	if plan.PartSize != 1 || len(plan.Ranges) != 3 {
		t.Errorf("got partSize=%d ranges=%d, want 1 and 3", plan.PartSize, len(plan.Ranges))
	}
}

func TestLimitsAllows(t *testing.T) {
	const mib = 1024 * 1024
	multi, _ := PlanBySize(20*mib, 8*mib)
	small, _ := PlanBySize(20*mib, 1*mib)
	single, _ := PlanBySize(3*mib, 8*mib)

	if !S3Limits.Allows(multi) {
		t.Error("S3 limits rejected an 8 MiB layout")
	}
	if S3Limits.Allows(small) {
		t.Error("S3 limits accepted parts below the minimum size")
	}
	if !S3Limits.Allows(single) {
		t.Error("S3 limits rejected a single-part plan")
	}
	if SinglePartOnly.Allows(multi) {
		t.Error("single-part limits accepted a multipart plan")
	}
	if !SinglePartOnly.Allows(single) {
		t.Error("single-part limits rejected a single-part plan")
	}
}

func TestClampPartSize(t *testing.T) {
	const mib = 1024 * 1024

	if got := S3Limits.ClampPartSize(100*mib, 1*mib); got != 5*mib {
		t.Errorf("clamp below minimum = %d, want %d", got, 5*mib)
	}
	if got := S3Limits.ClampPartSize(100*mib, 8*mib); got != 8*mib {
		t.Errorf("clamp within limits = %d, want %d", got, 8*mib)
	}

	// A huge object forces the part size up to keep the count under the cap.
	size := int64(100 * 1024 * 1024 * 1024 * 1024) // 100 TiB
	got := S3Limits.ClampPartSize(size, 5*mib)
	plan, err := PlanBySize(size, got)
	if err != nil {
		t.Fatalf("PlanBySize: %v", err)
	}
	if int64(len(plan.Ranges)) > S3Limits.MaxParts {
		t.Errorf("clamped part size still yields %d parts", len(plan.Ranges))
	}
}
