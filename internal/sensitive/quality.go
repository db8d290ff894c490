package sensitive

import (
	"regexp"
	"strings"
)

var (
	identifierRe = regexp.MustCompile(`\b[a-zA-Z_][a-zA-Z0-9_]{2,}\b`)
	filePathRe   = regexp.MustCompile(`[\w.-]+/[\w./-]+\.\w+`)
	fillerWordRe = regexp.MustCompile(`(?i)\b(um|uh|like|just|maybe|perhaps|thing|stuff)\b`)
)

// QualityResult breaks a memory's heuristic quality score into its factors,
// matching spec's quality_factors bag.
type QualityResult struct {
	Score   float64
	Factors map[string]float64
}

// Score computes a heuristic quality score in [0,1] for candidate memory
// content, based on length, identifier/path density, signal-to-noise ratio,
// and memory type.
func Score(content string, memType string) QualityResult {
	factors := map[string]float64{
		"length":        lengthFactor(content),
		"identifiers":    identifierFactor(content),
		"signal_to_noise": signalToNoiseFactor(content),
		"type":           typeFactor(memType),
	}

	score := 0.30*factors["length"] +
		0.25*factors["identifiers"] +
		0.25*factors["signal_to_noise"] +
		0.20*factors["type"]

	if score > 1 {
		score = 1
	}
	if score < 0 {
		score = 0
	}

	return QualityResult{Score: score, Factors: factors}
}

// lengthFactor rewards substantive content, saturating at 400 chars and
// penalizing very short snippets.
func lengthFactor(content string) float64 {
	n := len(strings.TrimSpace(content))
	switch {
	case n < 10:
		return 0
	case n >= 400:
		return 1
	default:
		return float64(n) / 400.0
	}
}

// identifierFactor rewards content that references code identifiers or
// file paths, a signal that the memory carries concrete, reusable detail.
func identifierFactor(content string) float64 {
	words := strings.Fields(content)
	if len(words) == 0 {
		return 0
	}
	idents := len(identifierRe.FindAllString(content, -1))
	paths := len(filePathRe.FindAllString(content, -1))
	density := float64(idents+paths*3) / float64(len(words))
	if density > 1 {
		density = 1
	}
	return density
}

// signalToNoiseFactor penalizes filler words and very low lexical variety.
func signalToNoiseFactor(content string) float64 {
	words := strings.Fields(strings.ToLower(content))
	if len(words) == 0 {
		return 0
	}
	fillerCount := len(fillerWordRe.FindAllString(content, -1))
	fillerRatio := float64(fillerCount) / float64(len(words))

	unique := make(map[string]struct{}, len(words))
	for _, w := range words {
		unique[w] = struct{}{}
	}
	variety := float64(len(unique)) / float64(len(words))

	score := variety - fillerRatio
	if score < 0 {
		score = 0
	}
	if score > 1 {
		score = 1
	}
	return score
}

// typeWeights mirrors the priority_score type_weight table: more durable
// memory kinds score a higher baseline quality.
var typeWeights = map[string]float64{
	"decision":    1.0,
	"error":       0.9,
	"dead_end":    0.85,
	"pattern":     0.8,
	"learning":    0.7,
	"observation": 0.5,
}

func typeFactor(memType string) float64 {
	if w, ok := typeWeights[memType]; ok {
		return w
	}
	return 0.5
}
