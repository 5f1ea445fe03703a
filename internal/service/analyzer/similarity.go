package analyzer

import (
	"math"
	"strings"
	"unicode/utf8"

	"github.com/machgiahao/prn222-grading-system-sub001/internal/models"
)

// CosineSimilarity returns 0 for vectors of different length or zero norm.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}

	var dot, normA, normB float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		normA += x * x
		normB += y * y
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// NormalizeSource concatenates the source files of a submission in path
// order. Lines are trimmed, inner whitespace is collapsed and blank lines are
// dropped. The text is cut at maxChars bytes on a rune boundary; maxChars <= 0
// disables the cut.
func NormalizeSource(files []models.SubmissionFile, isSource func(string) bool, maxChars int) string {
	var sb strings.Builder

	for _, file := range files {
		if isSource != nil && !isSource(file.Path) {
			continue
		}
		if looksBinary(file.Content) {
			continue
		}

		for _, line := range strings.Split(string(file.Content), "\n") {
			fields := strings.Fields(line)
			if len(fields) == 0 {
				continue
			}
			if sb.Len() > 0 {
				sb.WriteByte('\n')
			}
			sb.WriteString(strings.Join(fields, " "))

			if maxChars > 0 && sb.Len() >= maxChars {
				return truncate(sb.String(), maxChars)
			}
		}
	}

	return sb.String()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
