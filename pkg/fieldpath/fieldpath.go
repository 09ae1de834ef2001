// Package fieldpath implements dot-path access into plain key/value trees
// (map[string]any with nested maps and slices). Paths may carry a leading
// "$." prefix, which is stripped before traversal. Reads return (nil, false)
// on any missing segment; writes auto-create intermediate objects.
package fieldpath

import (
	"strconv"
	"strings"
)

// Normalize strips the optional "$." (or bare "$") prefix and surrounding
// whitespace from a dot-path.
func Normalize(path string) string {
	path = strings.TrimSpace(path)
	path = strings.TrimPrefix(path, "$.")
	path = strings.TrimPrefix(path, "$")
	return path
}

// Get resolves a dot-path against the tree. The boolean reports whether every
// segment resolved; a stored nil leaf returns (nil, true).
func Get(tree map[string]any, path string) (any, bool) {
	path = Normalize(path)
	if path == "" {
		return tree, tree != nil
	}
	var current any = tree
	for _, segment := range strings.Split(path, ".") {
		switch node := current.(type) {
		case map[string]any:
			value, ok := node[segment]
			if !ok {
				return nil, false
			}
			current = value
		case []any:
			index, err := strconv.Atoi(segment)
			if err != nil || index < 0 || index >= len(node) {
				return nil, false
			}
			current = node[index]
		default:
			return nil, false
		}
	}
	return current, true
}

// Set writes a value at a dot-path, creating intermediate objects for
// missing segments. Non-object intermediates are replaced, matching the
// auto-create behaviour of a JSON-style tree write.
func Set(tree map[string]any, path string, value any) {
	path = Normalize(path)
	if tree == nil || path == "" {
		return
	}
	segments := strings.Split(path, ".")
	current := tree
	for _, segment := range segments[:len(segments)-1] {
		next, ok := current[segment].(map[string]any)
		if !ok {
			next = make(map[string]any)
			current[segment] = next
		}
		current = next
	}
	current[segments[len(segments)-1]] = value
}

// Merge deep-merges src into the object at path, creating it when absent.
// Non-map values in src replace whatever the target holds.
func Merge(tree map[string]any, path string, src map[string]any) {
	path = Normalize(path)
	target := tree
	if path != "" {
		existing, ok := Get(tree, path)
		if m, isMap := existing.(map[string]any); ok && isMap {
			target = m
		} else {
			target = make(map[string]any)
			Set(tree, path, target)
		}
	}
	mergeInto(target, src)
}

func mergeInto(dst, src map[string]any) {
	for key, value := range src {
		if srcMap, ok := value.(map[string]any); ok {
			if dstMap, ok := dst[key].(map[string]any); ok {
				mergeInto(dstMap, srcMap)
				continue
			}
		}
		dst[key] = value
	}
}
