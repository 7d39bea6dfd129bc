package stress

// Classify maps a value onto a color and label using the set's direction.
// Absent breakpoints are skipped.
func Classify(value float64, set ThresholdSet) Status {
	if set.Direction == LowerIsWorse {
		return classifyLowerIsWorse(value, set)
	}
	return classifyHigherIsWorse(value, set)
}

func classifyHigherIsWorse(value float64, set ThresholdSet) Status {
	if v, ok := set.Get(Extreme); ok && value >= v {
		return Status{Color: Red, Label: "Extreme"}
	}
	if v, ok := set.Get(Stressed); ok && value >= v {
		return Status{Color: Red, Label: "Stressed"}
	}
	if v, ok := set.Get(NormalHigh); ok && value > v {
		return Status{Color: Yellow, Label: "Elevated"}
	}
	return Status{Color: Green, Label: "Normal"}
}

func classifyLowerIsWorse(value float64, set ThresholdSet) Status {
	if v, ok := set.Get(Critical); ok && value <= v {
		return Status{Color: Red, Label: "Critical"}
	}
	if v, ok := set.Get(Stressed); ok && value <= v {
		return Status{Color: Red, Label: "Stressed"}
	}
	if v, ok := set.Get(Healthy); ok && value < v {
		if low, ok := set.Get(NormalLow); ok && value >= low {
			return Status{Color: Yellow, Label: "Watchable"}
		}
		return Status{Color: Yellow, Label: "Low"}
	}
	return Status{Color: Green, Label: "Healthy"}
}
