package flow

import "fmt"

// Stage identifies one phase of the physical-design pipeline.
type Stage string

const (
	StageSynthesis Stage = "synthesis"
	StageFloorplan Stage = "floorplan"
	StagePlacement Stage = "placement"
	StageCTS       Stage = "cts"
	StageRouting   Stage = "routing"
	StageSignoff   Stage = "signoff"
)

// AllStages lists every stage in pipeline order.
var AllStages = []Stage{StageSynthesis, StageFloorplan, StagePlacement, StageCTS, StageRouting, StageSignoff}

// Index returns the pipeline position of s, or -1 for an unknown stage.
func (s Stage) Index() int {
	for i, st := range AllStages {
		if st == s {
			return i
		}
	}
	return -1
}

// IsValidStage returns true if name is a recognized stage.
func IsValidStage(name string) bool {
	return Stage(name).Index() >= 0
}

// StagesThrough returns the pipeline prefix ending at last (inclusive).
// Panics on an unknown stage.
func StagesThrough(last Stage) []Stage {
	idx := last.Index()
	if idx < 0 {
		panic(fmt.Sprintf("unknown stage %q", last))
	}
	out := make([]Stage, idx+1)
	copy(out, AllStages[:idx+1])
	return out
}
