package cache

// stripRecord returns a copy of output with every top-level array field
// longer than threshold removed and replaced by a "<field>Count"
// integer. When force is true the threshold is ignored and every
// non-empty array field is stripped (used after a quota failure, where
// the full payload is known not to fit).
//
// The counts map records the original length of each stripped field so
// the payload can be dropped without losing its size.
func stripRecord(output map[string]any, threshold int, force bool) (map[string]any, map[string]int, bool) {
	if output == nil {
		return nil, nil, false
	}

	var counts map[string]int
	stripped := make(map[string]any, len(output))
	for field, value := range output {
		arr, ok := value.([]any)
		if !ok {
			stripped[field] = value
			continue
		}
		over := force && len(arr) > 0 || threshold > 0 && len(arr) > threshold
		if !over {
			stripped[field] = value
			continue
		}
		if counts == nil {
			counts = make(map[string]int)
		}
		counts[field] = len(arr)
		stripped[field+"Count"] = len(arr)
	}

	if counts == nil {
		return output, nil, false
	}
	return stripped, counts, true
}
