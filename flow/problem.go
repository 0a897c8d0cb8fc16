package flow

import "fmt"

// Category tags the kind of failure a Problem describes.
type Category string

const (
	CategoryTiming            Category = "timing"
	CategoryArea              Category = "area"
	CategoryPlacementOverflow Category = "placement_overflow"
	CategoryCongestion        Category = "congestion"
	CategoryClockSkew         Category = "clock_skew"
	CategoryDRC               Category = "drc"
	CategoryAntenna           Category = "antenna"
	CategoryLVSMismatch       Category = "lvs_mismatch"
	CategoryParseFailure      Category = "parse_failure"
)

// validCategories maps accepted category names.
var validCategories = map[Category]bool{
	CategoryTiming:            true,
	CategoryArea:              true,
	CategoryPlacementOverflow: true,
	CategoryCongestion:        true,
	CategoryClockSkew:         true,
	CategoryDRC:               true,
	CategoryAntenna:           true,
	CategoryLVSMismatch:       true,
	CategoryParseFailure:      true,
}

// IsValidCategory returns true if name is a recognized problem category.
func IsValidCategory(name string) bool {
	return validCategories[Category(name)]
}

// Problem is one detected violation in an attempt.
type Problem struct {
	Category  Category `json:"category"`
	Severity  float64  `json:"severity"` // distance past the passing threshold, in the metric's unit
	Stage     Stage    `json:"stage"`
	Metric    string   `json:"metric,omitempty"`
	Value     float64  `json:"value,omitempty"`
	Threshold float64  `json:"threshold,omitempty"`
	Detail    string   `json:"detail,omitempty"`
}

func (p Problem) String() string {
	if p.Detail != "" {
		return fmt.Sprintf("%s@%s (severity %.4g): %s", p.Category, p.Stage, p.Severity, p.Detail)
	}
	return fmt.Sprintf("%s@%s (severity %.4g)", p.Category, p.Stage, p.Severity)
}

// rank orders problems before severity is considered. Lower ranks are
// addressed first: an LVS mismatch once signoff is reached, then timing from
// any stage, then everything else by the stage that reported it, so upstream
// fixes precede downstream symptoms.
func (p Problem) rank() int {
	switch p.Category {
	case CategoryLVSMismatch:
		return -2
	case CategoryTiming:
		return -1
	default:
		return p.Stage.Index()
	}
}
