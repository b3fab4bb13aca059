package hold

// Conflict is an existing hold that overlaps a requested slot set.
type Conflict struct {
	Hold    Hold
	Overlap []string
}

// FindConflicts returns, in the order of existing, every hold sharing at least
// one slot key with keys. Overlap keeps the order of keys.
func FindConflicts(existing []Hold, keys []string) []Conflict {
	if len(existing) == 0 || len(keys) == 0 {
		return nil
	}
	var out []Conflict
	for _, h := range existing {
		held := make(map[string]struct{}, len(h.SlotKeys))
		for _, k := range h.SlotKeys {
			held[k] = struct{}{}
		}
		var overlap []string
		for _, k := range keys {
			if _, ok := held[k]; ok {
				overlap = append(overlap, k)
			}
		}
		if len(overlap) > 0 {
			out = append(out, Conflict{Hold: h, Overlap: overlap})
		}
	}
	return out
}

// dedupe drops repeated keys, keeping first occurrences in order.
func dedupe(keys []string) []string {
	seen := make(map[string]struct{}, len(keys))
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}
	return out
}

func difference(keys, remove []string) []string {
	drop := make(map[string]struct{}, len(remove))
	for _, k := range remove {
		drop[k] = struct{}{}
	}
	var out []string
	for _, k := range keys {
		if _, ok := drop[k]; !ok {
			out = append(out, k)
		}
	}
	return out
}
