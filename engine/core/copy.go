package core

import (
	"fmt"
	"maps"

	"dario.cat/mergo"
	"github.com/mohae/deepcopy"
)

// Merge combines two maps, with source values overriding destination values.
// Slice values are appended rather than replaced.
func Merge[D, S ~map[string]any](dst D, src S, kind string) (D, error) {
	var zero D
	dstClone := CloneMap(dst)
	srcClone := CloneMap(src)
	if len(srcClone) > 0 {
		if err := mergo.Merge(&dstClone, srcClone, mergo.WithOverride, mergo.WithAppendSlice); err != nil {
			return zero, fmt.Errorf("failed to merge %s: %w", kind, err)
		}
	}
	return D(dstClone), nil
}

// CloneMap creates a shallow copy of any map type with comparable keys.
// Returns an empty initialized map when src is nil to prevent nil map panics.
func CloneMap[K comparable, V any](src map[K]V) map[K]V {
	if src == nil {
		return make(map[K]V)
	}
	return maps.Clone(src)
}

// CopyMaps safely merges multiple maps into a new map, with later maps
// overriding earlier ones. Handles nil maps gracefully by skipping them.
func CopyMaps[K comparable, V any](srcs ...map[K]V) map[K]V {
	result := make(map[K]V)
	for _, src := range srcs {
		if src == nil {
			continue
		}
		maps.Copy(result, src)
	}
	return result
}

// DeepCopyMap returns a fully independent copy of a string-keyed map,
// including nested maps and slices.
func DeepCopyMap[V any](src map[string]V) map[string]V {
	if src == nil {
		return make(map[string]V)
	}
	return deepcopy.Copy(src).(map[string]V)
}
