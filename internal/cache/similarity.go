package cache

import "math"

// CosineSimilarity returns the cosine of the angle between two
// vectors, or 0 when either is empty, zero, or the lengths differ.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}

	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// JaccardOverlap returns |a ∩ b| / |a ∪ b| over two ID sets. Two
// empty sets overlap fully; one empty set overlaps not at all.
func JaccardOverlap(a, b []string) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 1
	}
	if len(a) == 0 || len(b) == 0 {
		return 0
	}

	setA := make(map[string]bool, len(a))
	for _, id := range a {
		setA[id] = true
	}

	intersection := 0
	setB := make(map[string]bool, len(b))
	for _, id := range b {
		if setB[id] {
			continue
		}
		setB[id] = true
		if setA[id] {
			intersection++
		}
	}

	union := len(setA) + len(setB) - intersection
	return float64(intersection) / float64(union)
}
