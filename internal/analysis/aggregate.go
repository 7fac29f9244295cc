package analysis

import "sort"

// DefaultThreshold is the minimum confidence for a detection to count.
const DefaultThreshold = 0.5

// Aggregation is the fan-in summary of the detector signals.
type Aggregation struct {
	Detected        []FailureSignal
	All             []FailureSignal
	FailureTypes    []FailureType
	FailureDetected bool
}

// Aggregate keeps signals that are detected with confidence at or above
// threshold, ordered by confidence descending. Ties keep encounter order
// regardless of the order signals are passed in.
func Aggregate(signals []FailureSignal, threshold float64) Aggregation {
	all := make([]FailureSignal, len(signals))
	copy(all, signals)
	sort.SliceStable(all, func(i, j int) bool {
		return encounterIndex(all[i].FailureType) < encounterIndex(all[j].FailureType)
	})

	detected := make([]FailureSignal, 0, len(all))
	for _, sig := range all {
		if sig.Detected && sig.Confidence >= threshold {
			detected = append(detected, sig)
		}
	}
	sort.SliceStable(detected, func(i, j int) bool {
		return detected[i].Confidence > detected[j].Confidence
	})

	types := make([]FailureType, 0, len(detected))
	seen := make(map[FailureType]bool, len(detected))
	for _, sig := range detected {
		if seen[sig.FailureType] {
			continue
		}
		seen[sig.FailureType] = true
		types = append(types, sig.FailureType)
	}

	return Aggregation{
		Detected:        detected,
		All:             all,
		FailureTypes:    types,
		FailureDetected: len(detected) > 0,
	}
}
