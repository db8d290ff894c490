// Package sensitive implements the secret-pattern/entropy filter and the
// heuristic quality scorer that gate writes into the memory store (C10).
package sensitive

import (
	"math"
	"regexp"
	"strings"
)

// Finding describes a single sensitive-data match.
type Finding struct {
	Kind  string // "api_key", "jwt", "private_ip", "email", "ssn", "credit_card", "high_entropy"
	Match string
	Start int
	End   int
}

// patternBank holds the regexes for named secret shapes. Order matters:
// earlier patterns win when spans overlap.
var patternBank = []struct {
	kind string
	re   *regexp.Regexp
}{
	{"openai_key", regexp.MustCompile(`\bsk-[A-Za-z0-9]{20,}\b`)},
	{"anthropic_key", regexp.MustCompile(`\bsk-ant-[A-Za-z0-9_-]{20,}\b`)},
	{"github_token", regexp.MustCompile(`\bgh[pousr]_[A-Za-z0-9]{30,}\b`)},
	{"aws_key", regexp.MustCompile(`\bAKIA[0-9A-Z]{16}\b`)},
	{"stripe_key", regexp.MustCompile(`\b(sk|pk|rk)_(live|test)_[A-Za-z0-9]{16,}\b`)},
	{"google_key", regexp.MustCompile(`\bAIza[0-9A-Za-z_-]{35}\b`)},
	{"jwt", regexp.MustCompile(`\beyJ[A-Za-z0-9_-]+\.[A-Za-z0-9_-]+\.[A-Za-z0-9_-]+\b`)},
	{"private_ip", regexp.MustCompile(`\b(10\.\d{1,3}\.\d{1,3}\.\d{1,3}|192\.168\.\d{1,3}\.\d{1,3}|172\.(1[6-9]|2\d|3[0-1])\.\d{1,3}\.\d{1,3})\b`)},
	{"phone_us", regexp.MustCompile(`\b(\+?1[-.\s]?)?\(?\d{3}\)?[-.\s]\d{3}[-.\s]\d{4}\b`)},
	{"email", regexp.MustCompile(`\b[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}\b`)},
	{"ssn", regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`)},
	{"credit_card", regexp.MustCompile(`\b(?:\d[ -]*?){13,16}\b`)},
}

// denylistPatterns match shapes that look like secrets by entropy alone but
// are routine engineering artifacts.
var denylistPatterns = []*regexp.Regexp{
	regexp.MustCompile(`^[0-9a-f]{7,40}$`),                  // git SHA / short SHA
	regexp.MustCompile(`^[0-9a-f]{64}$`),                    // sha256 hex digest
	regexp.MustCompile(`^(/|\./|\.\./|[A-Za-z]:\\)[\w./\\-]+$`), // file paths
	regexp.MustCompile(`^v?\d+\.\d+\.\d+(-[\w.]+)?$`),       // semver
}

const (
	entropyWindowMin = 20
	entropyThreshold = 4.2 // bits/char; typical English prose sits well below this
)

// Scan inspects text for sensitive content. redacted has every finding's
// span replaced with "[REDACTED:<kind>]"; it equals text when hasSensitive
// is false.
func Scan(text string) (hasSensitive bool, findings []Finding, redacted string) {
	findings = append(findings, patternFindings(text)...)
	findings = append(findings, entropyFindings(text, findings)...)

	if len(findings) == 0 {
		return false, nil, text
	}

	sortFindingsByStart(findings)
	redacted = applyRedactions(text, findings)
	return true, findings, redacted
}

func patternFindings(text string) []Finding {
	var out []Finding
	for _, p := range patternBank {
		for _, loc := range p.re.FindAllStringIndex(text, -1) {
			out = append(out, Finding{Kind: p.kind, Match: text[loc[0]:loc[1]], Start: loc[0], End: loc[1]})
		}
	}
	return out
}

// entropyFindings scans whitespace-delimited tokens for high-entropy strings
// not already covered by a pattern match and not matched by the denylist.
func entropyFindings(text string, existing []Finding) []Finding {
	covered := make([]bool, len(text)+1)
	for _, f := range existing {
		for i := f.Start; i < f.End && i < len(covered); i++ {
			covered[i] = true
		}
	}

	var out []Finding
	pos := 0
	for _, tok := range strings.Fields(text) {
		start := strings.Index(text[pos:], tok) + pos
		end := start + len(tok)
		pos = end

		if len(tok) < entropyWindowMin || covered[start] {
			continue
		}
		if isDenylisted(tok) {
			continue
		}
		if shannonEntropy(tok) >= entropyThreshold {
			out = append(out, Finding{Kind: "high_entropy", Match: tok, Start: start, End: end})
		}
	}
	return out
}

func isDenylisted(tok string) bool {
	trimmed := strings.Trim(tok, `,.;:"'()[]{}`)
	for _, re := range denylistPatterns {
		if re.MatchString(trimmed) {
			return true
		}
	}
	return false
}

// shannonEntropy returns bits-per-character Shannon entropy of s.
func shannonEntropy(s string) float64 {
	if len(s) == 0 {
		return 0
	}
	counts := make(map[rune]int)
	for _, r := range s {
		counts[r]++
	}
	n := float64(len(s))
	var entropy float64
	for _, c := range counts {
		p := float64(c) / n
		entropy -= p * math.Log2(p)
	}
	return entropy
}

func sortFindingsByStart(f []Finding) {
	for i := 1; i < len(f); i++ {
		for j := i; j > 0 && f[j-1].Start > f[j].Start; j-- {
			f[j-1], f[j] = f[j], f[j-1]
		}
	}
}

func applyRedactions(text string, findings []Finding) string {
	var b strings.Builder
	last := 0
	for _, f := range findings {
		if f.Start < last {
			continue // overlapping match, already covered
		}
		b.WriteString(text[last:f.Start])
		b.WriteString("[REDACTED:" + f.Kind + "]")
		last = f.End
	}
	b.WriteString(text[last:])
	return b.String()
}
