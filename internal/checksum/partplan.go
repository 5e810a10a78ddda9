package checksum

import "fmt"

// PartRange is a contiguous byte range of an object. End is exclusive.
type PartRange struct {
	Number int32
	Start  int64
	End    int64
}

// Len returns the range length in bytes.
func (r PartRange) Len() int64 {
	return r.End - r.Start
}

// PartPlan describes how an object is split into parts for a multipart
// transfer or a chunked checksum. The ranges cover [0, Size) without gaps
// and only the final part may be shorter than PartSize.
type PartPlan struct {
	Size     int64
	PartSize int64
	Ranges   []PartRange
}

// StoreLimits describes the multipart constraints of an object store.
type StoreLimits struct {
	MinPartSize int64
	MaxPartSize int64
	MaxParts    int64
}

// S3Limits are the documented S3 multipart constraints.
var S3Limits = StoreLimits{
	MinPartSize: 5 * mib,
	MaxPartSize: 5 * gib,
	MaxParts:    10000,
}

// SinglePartOnly is used by stores without a multipart primitive.
var SinglePartOnly = StoreLimits{}

// PlanBySize builds a part plan from a fixed part size. The final part
// carries the remainder.
func PlanBySize(size, partSize int64) (PartPlan, error) {
	if size < 0 {
		return PartPlan{}, fmt.Errorf("negative object size %d", size)
	}
	if partSize <= 0 {
		return PartPlan{}, fmt.Errorf("invalid part size %d", partSize)
	}

	plan := PartPlan{Size: size, PartSize: partSize}
	number := int32(1)
	for start := int64(0); start < size; start += partSize {
		end := start + partSize
		if end > size {
			end = size
		}
		plan.Ranges = append(plan.Ranges, PartRange{Number: number, Start: start, End: end})
		number++
	}
	return plan, nil
}

// PlanByCount builds a part plan with at most count parts by rounding the
// part size up. Small objects may produce fewer parts than requested.
func PlanByCount(size, count int64) (PartPlan, error) {
	if count <= 0 {
		return PartPlan{}, fmt.Errorf("invalid part count %d", count)
	}
	if size == 0 {
		return PartPlan{Size: 0}, nil
	}
	return PlanBySize(size, (size+count-1)/count)
}

// PlanFor resolves a chunked kind into a part plan for an object size.
func (k Kind) PlanFor(size int64) (PartPlan, error) {
	partSize, err := k.ResolvePartSize(size)
	if err != nil {
		return PartPlan{}, err
	}
	if partSize == 0 {
		return PartPlan{Size: 0}, nil
	}
	return PlanBySize(size, partSize)
}

// Allows reports whether the plan satisfies the store limits. A zero
// limits value permits single-part transfers only.
func (l StoreLimits) Allows(plan PartPlan) bool {
	if len(plan.Ranges) <= 1 {
		return true
	}
	if l.MaxParts == 0 {
		return false
	}
	if int64(len(plan.Ranges)) > l.MaxParts {
		return false
	}
	return plan.PartSize >= l.MinPartSize && plan.PartSize <= l.MaxPartSize
}

// ClampPartSize adjusts a desired part size so the resulting plan fits the
// store limits for an object of the given size.
func (l StoreLimits) ClampPartSize(size, want int64) int64 {
	if want < l.MinPartSize {
		want = l.MinPartSize
	}
	if l.MaxPartSize > 0 && want > l.MaxPartSize {
		want = l.MaxPartSize
	}
	if l.MaxParts > 0 {
		// Grow the part size until the part count fits.
		if minSize := (size + l.MaxParts - 1) / l.MaxParts; want < minSize {
			want = minSize
		}
	}
	return want
}
