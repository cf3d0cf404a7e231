// Package sharding derives bounded-fan-out filesystem subdirectories from
// hex identifiers, shared by blobstore's on-disk layout.
package sharding

import "strings"

// Path returns the shard path for id, made of levels two-character segments
// taken from the front of the hex identifier, e.g. levels=2 on
// "ab3fd9..." yields "ab/3f". levels is clamped to [0,4].
func Path(id string, levels int) string {
	if levels <= 0 {
		return ""
	}
	if levels > 4 {
		levels = 4
	}
	hex := strings.ReplaceAll(id, "-", "")

	var segments []string
	for i := 0; i < levels; i++ {
		start := i * 2
		end := start + 2
		if end > len(hex) {
			break
		}
		segments = append(segments, hex[start:end])
	}
	return strings.Join(segments, "/")
}
