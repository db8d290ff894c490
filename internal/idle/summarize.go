package idle

import (
	"context"
	"fmt"
	"strings"

	"github.com/succ-project/succ/internal/memory"
	"github.com/succ-project/succ/internal/store"
)

// minFactLength drops summarizer output too short to carry standalone
// meaning once divorced from the transcript it was extracted from.
const minFactLength = 50

// SummarizeOutcome reports one extracted fact's fate.
type SummarizeOutcome struct {
	Fact   string
	Saved  bool
	Reason string
}

// Summarize reduces a session transcript to bounded facts via summarizer and
// writes each through the normal memory write path (sensitive filter,
// quality gate, dedup). Facts under minFactLength are dropped before ever
// reaching the write path.
func (p *Pipeline) Summarize(ctx context.Context, summarizer Summarizer, sessionID, transcript string) ([]SummarizeOutcome, error) {
	if summarizer == nil || p.core == nil {
		return nil, nil
	}

	facts, err := summarizer.Summarize(ctx, transcript)
	if err != nil {
		return nil, fmt.Errorf("idle: summarize session %s: %w", sessionID, err)
	}

	outcomes := make([]SummarizeOutcome, 0, len(facts))
	for _, fact := range facts {
		fact = strings.TrimSpace(fact)
		if len(fact) < minFactLength {
			outcomes = append(outcomes, SummarizeOutcome{Fact: fact, Saved: false, Reason: "below minimum fact length"})
			continue
		}

		res, err := p.core.Save(ctx, fact, store.MemoryTypeObservation, memory.SaveOpts{Source: sessionID})
		if err != nil {
			outcomes = append(outcomes, SummarizeOutcome{Fact: fact, Saved: false, Reason: err.Error()})
			continue
		}
		outcomes = append(outcomes, SummarizeOutcome{Fact: fact, Saved: !res.Duplicate, Reason: "ok"})
	}

	return outcomes, nil
}
