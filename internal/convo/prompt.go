package convo

import (
	"fmt"
	"strings"

	"github.com/docfox/docfox/internal/retrieve"
)

// promptInstructions is the fixed system preamble. Source markers in
// the model output are later mapped back to passages for citation.
const promptInstructions = `You are a documentation assistant. Answer the question using only the numbered sources below. Cite every claim with its source marker, for example [S1] or [S2]. If the sources do not contain the answer, say you do not know instead of guessing.`

// BuildPrompt renders the generation prompt from retrieved passages,
// session history, and the current question, keeping the estimated
// token count within budget. Passages take priority over history: when
// over budget, oldest turns are dropped first, then lowest-scoring
// passages. Returns the prompt and the passages actually included, in
// marker order ([S1] is the first returned passage).
func BuildPrompt(history []Turn, passages []retrieve.Passage, question string, tokenBudget int) (string, []retrieve.Passage) {
	budget := tokenBudget - EstimateTokens(promptInstructions) - EstimateTokens(question)

	// Passages arrive sorted by score descending; drop from the tail.
	kept := make([]retrieve.Passage, len(passages))
	copy(kept, passages)
	cost := passagesTokens(kept)
	for len(kept) > 1 && cost > budget {
		cost -= passageTokens(kept[len(kept)-1])
		kept = kept[:len(kept)-1]
	}
	budget -= cost

	// Keep the most recent turns that fit what is left.
	keptHistory := history
	for len(keptHistory) > 0 && historyTokens(keptHistory) > budget {
		keptHistory = keptHistory[1:]
	}

	var sb strings.Builder
	sb.WriteString(promptInstructions)
	sb.WriteString("\n\nSources:\n")
	if len(kept) == 0 {
		sb.WriteString("(no sources matched this question)\n")
	}
	for i, p := range kept {
		fmt.Fprintf(&sb, "[S%d] %s", i+1, p.Path)
		if len(p.Heading) > 0 {
			fmt.Fprintf(&sb, " > %s", strings.Join(p.Heading, " > "))
		}
		sb.WriteString("\n")
		sb.WriteString(p.Text)
		sb.WriteString("\n\n")
	}

	if len(keptHistory) > 0 {
		sb.WriteString("Conversation so far:\n")
		for _, t := range keptHistory {
			fmt.Fprintf(&sb, "User: %s\nAssistant: %s\n", t.User, t.Assistant)
		}
		sb.WriteString("\n")
	}

	fmt.Fprintf(&sb, "Question: %s", question)
	return sb.String(), kept
}

func passageTokens(p retrieve.Passage) int {
	return EstimateTokens(p.Text) + EstimateTokens(p.Path) + 8
}

func passagesTokens(ps []retrieve.Passage) int {
	total := 0
	for _, p := range ps {
		total += passageTokens(p)
	}
	return total
}
