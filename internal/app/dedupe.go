package app

// Dedupe keeps the first record for every identity and drops later ones,
// preserving input order. Records with an empty identity are never recorded
// as seen and always pass through.
func Dedupe[T any](records []T, identity func(T) string) []T {
	seen := make(map[string]struct{}, len(records))
	out := make([]T, 0, len(records))
	for _, r := range records {
		id := identity(r)
		if id == "" {
			out = append(out, r)
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, r)
	}
	return out
}

// DedupeBy dedupes raw upstream records on the value at field (dot paths allowed).
func DedupeBy(records []map[string]any, field string) []map[string]any {
	return Dedupe(records, func(m map[string]any) string { return lookupText(m, field) })
}
