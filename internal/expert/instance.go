package expert

import "fmt"

// Focus labels assigned to parallel replicas of one expert. The first three
// replicas get distinct perspectives; further replicas explore alternatives.
const (
	FocusGeneral      = "general"
	FocusConservative = "conservative"
	FocusInnovative   = "innovative"
	FocusOptimizing   = "optimizing"
	FocusSynthesizer  = "synthesizer"
)

// Synthesis invocation constants. The synthesis step reuses the expert with a
// fixed seed so repeated merges of the same replica outputs are comparable.
const (
	SynthesisSeed        = 12345
	SynthesisTemperature = 0.5
)

// InstanceSpec configures one replica of an expert for a single debate run.
type InstanceSpec struct {
	ExpertID      string  `json:"expert_id"`
	InstanceIndex int     `json:"instance_index"` // 1-based
	ReplicaCount  int     `json:"replica_count"`
	Seed          int     `json:"seed"`
	Temperature   float64 `json:"temperature"`
	FocusLabel    string  `json:"focus_label"`
	Instructions  string  `json:"instructions,omitempty"`
}

// BuildInstances derives the per-replica specs for one expert.
//
// Seeds are index*1000, temperatures climb from 0.3 in 0.15 steps capped at
// 0.9, and the first three replicas get the conservative/innovative/optimizing
// focus; replica i>=4 gets "alternative-(i-3)".
//
// A single replica is special: it carries the "general" focus and no
// instructions, which keeps its prompt bit-identical to the legacy
// single-invocation path.
func BuildInstances(expertID string, replicaCount int) []InstanceSpec {
	if replicaCount < 1 {
		replicaCount = 1
	}

	if replicaCount == 1 {
		return []InstanceSpec{{
			ExpertID:      expertID,
			InstanceIndex: 1,
			ReplicaCount:  1,
			Seed:          1000,
			Temperature:   0.3,
			FocusLabel:    FocusGeneral,
		}}
	}

	specs := make([]InstanceSpec, 0, replicaCount)
	for i := 1; i <= replicaCount; i++ {
		temp := 0.3 + float64(i-1)*0.15
		if temp > 0.9 {
			temp = 0.9
		}
		focus := focusForIndex(i)
		specs = append(specs, InstanceSpec{
			ExpertID:      expertID,
			InstanceIndex: i,
			ReplicaCount:  replicaCount,
			Seed:          i * 1000,
			Temperature:   temp,
			FocusLabel:    focus,
			Instructions:  focusInstructions(focus),
		})
	}
	return specs
}

// SynthesisInstance returns the instance used for the extra merge invocation issued
// when two or more replicas of one expert succeed.
func SynthesisInstance(expertID string, replicaCount int) InstanceSpec {
	return InstanceSpec{
		ExpertID:      expertID,
		InstanceIndex: replicaCount + 1,
		ReplicaCount:  replicaCount,
		Seed:          SynthesisSeed,
		Temperature:   SynthesisTemperature,
		FocusLabel:    FocusSynthesizer,
		Instructions:  focusInstructions(FocusSynthesizer),
	}
}

func focusForIndex(i int) string {
	switch i {
	case 1:
		return FocusConservative
	case 2:
		return FocusInnovative
	case 3:
		return FocusOptimizing
	default:
		return fmt.Sprintf("alternative-%d", i-3)
	}
}

// focusInstructions returns the fixed instruction paragraph attached to each
// focus. The text is stable: collaborating workers key their behaviour off it.
func focusInstructions(focus string) string {
	switch focus {
	case FocusConservative:
		return "Take a conservative approach. Prefer proven, well-understood solutions with minimal risk. Flag anything that could break existing behaviour."
	case FocusInnovative:
		return "Take an innovative approach. Consider novel techniques and recent developments, even if less conventional. Explain what makes your approach better than the obvious one."
	case FocusOptimizing:
		return "Focus on optimization. Prioritize performance, resource efficiency, and scalability. Quantify expected improvements where possible."
	case FocusSynthesizer:
		return "You are merging several of your own draft answers. Combine their strongest points into one coherent answer. Resolve contradictions explicitly and drop weak or redundant material."
	case FocusGeneral:
		return ""
	default:
		// alternative-k replicas
		return "Provide an alternative solution that differs substantively from the conventional approach. Do not restate an answer you would give by default; explore a different part of the design space."
	}
}
