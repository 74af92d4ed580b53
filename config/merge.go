// Package config provides the recursive, override-wins map merge used by
// the plugin executor's per-operation option resolution. The paginated
// controller's request merge (requestutil.ShallowMerge) does not use it; it
// merges its string maps with its own helper.
package config

// DeepMergeMap recursively merges override onto base: plain values are
// replaced wholesale, but when both sides hold a map[string]any for the
// same key, the merge recurses instead of replacing. override always
// wins on a type mismatch or a leaf value.
func DeepMergeMap(base, override map[string]any) map[string]any {
	if base == nil && override == nil {
		return nil
	}
	result := make(map[string]any, len(base)+len(override))
	for k, v := range base {
		result[k] = v
	}
	for k, v := range override {
		if baseVal, exists := result[k]; exists {
			baseMap, baseIsMap := baseVal.(map[string]any)
			overMap, overIsMap := v.(map[string]any)
			if baseIsMap && overIsMap {
				result[k] = DeepMergeMap(baseMap, overMap)
				continue
			}
		}
		result[k] = v
	}
	return result
}
