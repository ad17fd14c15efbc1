package bridge

// DiffStatus computes the field-level difference between the cached and
// incoming status objects, keyed over the union of both. Changed keys map to
// the incoming value; a key missing from the incoming object diffs to nil.
// An empty result means the two objects are structurally identical and no
// broadcast should occur.
func DiffStatus(cached, incoming map[string]any) map[string]any {
	changes := map[string]any{}
	for key, newVal := range incoming {
		if oldVal, ok := cached[key]; !ok || !deepEqual(oldVal, newVal) {
			changes[key] = newVal
		}
	}
	for key := range cached {
		if _, ok := incoming[key]; !ok {
			changes[key] = nil
		}
	}
	return changes
}

// deepEqual compares two JSON-shaped values: recursing through nested
// objects and arrays, scalar equality by value.
func deepEqual(a, b any) bool {
	switch av := a.(type) {
	case map[string]any:
		bv, ok := b.(map[string]any)
		if !ok || len(av) != len(bv) {
			return false
		}
		for k, v := range av {
			bval, ok := bv[k]
			if !ok || !deepEqual(v, bval) {
				return false
			}
		}
		return true
	case []any:
		bv, ok := b.([]any)
		if !ok || len(av) != len(bv) {
			return false
		}
		for i, v := range av {
			if !deepEqual(v, bv[i]) {
				return false
			}
		}
		return true
	default:
		return a == b
	}
}
