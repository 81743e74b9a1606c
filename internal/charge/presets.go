package charge

// limitPresets are visited in order by NextPreset, wrapping back to NoLimit.
var limitPresets = []int{90, 80, 75}

// NextPreset returns the limit following current in the preset cycle
// 100 → 90 → 80 → 75 → 100. Values outside the cycle restart it at 100.
func NextPreset(current int) int {
	if current == NoLimit {
		return limitPresets[0]
	}

	for i, preset := range limitPresets[:len(limitPresets)-1] {
		if preset == current {
			return limitPresets[i+1]
		}
	}

	return NoLimit
}
