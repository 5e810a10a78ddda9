package service

import (
	"fmt"

	"github.com/cloudsum/cloudsum/internal/checksum"
	"github.com/cloudsum/cloudsum/internal/repository/objectstore"
)

// CopyMode selects how bytes move from source to destination.
type CopyMode string

const (
	// ServerSide copies within a store without streaming through us.
	ServerSide CopyMode = "server-side"
	// Stream downloads from the source and uploads to the destination.
	Stream CopyMode = "stream"
)

// TagMode controls what happens to the source object's tags.
type TagMode string

const (
	// TagSuppress does not copy tags.
	TagSuppress TagMode = "suppress"
	// TagBestEffort copies tags, logging failures without failing the copy.
	TagBestEffort TagMode = "best-effort"
	// TagCopy copies tags and fails the copy when that fails.
	TagCopy TagMode = "copy"
)

// ParseTagMode validates a tag mode string.
func ParseTagMode(s string) (TagMode, error) {
	switch TagMode(s) {
	case TagSuppress, TagBestEffort, TagCopy:
		return TagMode(s), nil
	default:
		return "", fmt.Errorf("invalid tag mode %q", s)
	}
}

// CopyPlan is the immutable decision of how a copy will run.
type CopyPlan struct {
	Mode      CopyMode          `json:"mode"`
	Multipart bool              `json:"multipart"`
	PartPlan  checksum.PartPlan `json:"-"`
	PartSize  int64             `json:"part_size,omitempty"`
	TagMode   TagMode           `json:"tag_mode"`
}

// PlannerInput gathers everything the planner needs to decide.
type PlannerInput struct {
	SourceInfo objectstore.ObjectInfo
	SameStore  bool
	DestLimits checksum.StoreLimits
	// PartSizeOverride forces a part size; zero means decide.
	PartSizeOverride int64
	// DefaultPartSize and MultipartThreshold come from configuration.
	DefaultPartSize    int64
	MultipartThreshold int64
	TagMode            TagMode
}

// PlanCopy decides the transfer mode and part layout.
//
// Mode: a same-store copy uses the store's server-side primitive as long
// as the object fits in one server-side operation; everything else
// streams.
//
// Part layout preference: an explicit override wins; then the source's
// own multipart layout is reused when the destination allows it, keeping
// the destination's composite ETag identical to the source's; then
// objects under the multipart threshold go single-part; larger objects
// use the configured default part size clamped to the destination limits.
func PlanCopy(in PlannerInput) (CopyPlan, error) {
	plan := CopyPlan{Mode: Stream, TagMode: in.TagMode}
	if plan.TagMode == "" {
		plan.TagMode = TagSuppress
	}

	size := in.SourceInfo.Size

	if in.SameStore && (in.DestLimits.MaxPartSize == 0 || size <= in.DestLimits.MaxPartSize) {
		plan.Mode = ServerSide
		return plan, nil
	}

	partSize := int64(0)
	switch {
	case in.PartSizeOverride > 0:
		partSize = in.DestLimits.ClampPartSize(size, in.PartSizeOverride)
	case in.SourceInfo.PartSize > 0:
		reuse, err := checksum.PlanBySize(size, in.SourceInfo.PartSize)
		if err == nil && in.DestLimits.Allows(reuse) {
			plan.Multipart = len(reuse.Ranges) > 1
			plan.PartPlan = reuse
			plan.PartSize = reuse.PartSize
			return plan, nil
		}
		// The source layout does not fit the destination; fall through to
		// the defaults.
		fallthrough
	default:
		if size < in.MultipartThreshold {
			return plan, nil
		}
		partSize = in.DestLimits.ClampPartSize(size, in.DefaultPartSize)
	}

	partPlan, err := checksum.PlanBySize(size, partSize)
	if err != nil {
		return CopyPlan{}, err
	}
	if !in.DestLimits.Allows(partPlan) {
		// The destination cannot take a multipart layout at all.
		return plan, nil
	}

	plan.Multipart = len(partPlan.Ranges) > 1
	if plan.Multipart {
		plan.PartPlan = partPlan
		plan.PartSize = partPlan.PartSize
	}
	return plan, nil
}
