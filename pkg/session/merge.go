package session

// mergeStatus merges a status delta into the cached document in place
// and returns it. Object-valued fields merge key by key recursively;
// everything else, including an explicit null, overwrites the cached
// value outright.
func mergeStatus(dst, delta map[string]any) map[string]any {
	if dst == nil {
		dst = make(map[string]any, len(delta))
	}
	for key, value := range delta {
		next, ok := value.(map[string]any)
		if !ok {
			dst[key] = value
			continue
		}
		prev, ok := dst[key].(map[string]any)
		if !ok {
			dst[key] = next
			continue
		}
		dst[key] = mergeStatus(prev, next)
	}
	return dst
}
