package idle

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
)

// wordRe tokenizes prose for naive keyword extraction.
var wordRe = regexp.MustCompile(`[A-Za-z][A-Za-z0-9_]{2,}`)

// stopWords excludes common English filler from keyword extraction.
var stopWords = map[string]bool{
	"the": true, "and": true, "for": true, "that": true, "this": true,
	"with": true, "was": true, "were": true, "are": true, "has": true,
	"have": true, "had": true, "from": true, "into": true, "then": true,
}

// ExtractKeywords returns the most frequent non-stopword tokens in text,
// capped at limit.
func ExtractKeywords(text string, limit int) []string {
	counts := make(map[string]int)
	for _, w := range wordRe.FindAllString(strings.ToLower(text), -1) {
		if stopWords[w] {
			continue
		}
		counts[w]++
	}
	keywords := make([]string, 0, len(counts))
	for w := range counts {
		keywords = append(keywords, w)
	}
	sort.Slice(keywords, func(i, j int) bool {
		if counts[keywords[i]] != counts[keywords[j]] {
			return counts[keywords[i]] > counts[keywords[j]]
		}
		return keywords[i] < keywords[j]
	})
	if len(keywords) > limit {
		keywords = keywords[:limit]
	}
	return keywords
}

// Precompute extracts keywords from recentContext, retrieves the top
// matching memories, asks briefer to draft a next-session briefing, and
// atomically writes it to outPath. An existing briefing at outPath is
// archived (renamed with a ".prev" suffix) before the new one lands, so a
// briefing load never races a concurrent precompute write.
func (p *Pipeline) Precompute(ctx context.Context, briefer Briefer, recentContext string, vectors similarityIndex, outPath string) (string, error) {
	if briefer == nil || p.core == nil {
		return "", nil
	}

	keywords := ExtractKeywords(recentContext, 10)
	if len(keywords) == 0 {
		return "", nil
	}

	embedding, err := p.core.EmbedForSearch(ctx, strings.Join(keywords, " "))
	if err != nil {
		return "", fmt.Errorf("idle: precompute embed keywords: %w", err)
	}

	var retrieved []string
	if len(embedding) > 0 && vectors != nil {
		results, err := vectors.Search(ctx, embedding, 10)
		if err != nil {
			return "", fmt.Errorf("idle: precompute vector search: %w", err)
		}
		for _, r := range results {
			m, err := p.db.GetMemory(ctx, r.ID)
			if err != nil {
				return "", err
			}
			if m != nil && m.Active(nowUTC()) {
				retrieved = append(retrieved, m.Content)
			}
		}
	}

	briefing, err := briefer.Brief(ctx, keywords, retrieved)
	if err != nil {
		return "", fmt.Errorf("idle: precompute briefing: %w", err)
	}

	if err := archiveExisting(outPath); err != nil {
		return "", err
	}
	if err := atomicWrite(outPath, briefing); err != nil {
		return "", err
	}

	return briefing, nil
}

func archiveExisting(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	} else if err != nil {
		return err
	}
	return os.Rename(path, path+".prev")
}

func atomicWrite(path, content string) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".precompute-*.tmp")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	if _, err := tmp.WriteString(content); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return err
	}
	return os.Rename(tmpPath, path)
}
