package convo

import (
	"strings"
	"testing"

	"github.com/docfox/docfox/internal/retrieve"
)

func passage(path, text string, score float64) retrieve.Passage {
	return retrieve.Passage{
		ChunkID:    path + ":0000",
		DocumentID: "doc_" + path,
		Path:       path,
		Text:       text,
		Score:      score,
	}
}

func TestBuildPromptMarkers(t *testing.T) {
	passages := []retrieve.Passage{
		passage("install.md", "run the installer", 0.9),
		passage("upgrade.md", "stop the service first", 0.7),
	}
	prompt, kept := BuildPrompt(nil, passages, "how do I upgrade?", 6000)

	if len(kept) != 2 {
		t.Fatalf("kept %d passages, want 2", len(kept))
	}
	for _, want := range []string{"[S1] install.md", "[S2] upgrade.md", "run the installer", "Question: how do I upgrade?"} {
		if !strings.Contains(prompt, want) {
			t.Errorf("prompt missing %q", want)
		}
	}
	if strings.Index(prompt, "[S1]") > strings.Index(prompt, "[S2]") {
		t.Error("markers out of order")
	}
}

func TestBuildPromptHeadingContext(t *testing.T) {
	p := passage("guide.md", "unpack the tarball", 0.8)
	p.Heading = []string{"Install", "Linux"}
	prompt, _ := BuildPrompt(nil, []retrieve.Passage{p}, "q", 6000)

	if !strings.Contains(prompt, "[S1] guide.md > Install > Linux") {
		t.Errorf("prompt missing heading context:\n%s", prompt)
	}
}

func TestBuildPromptNoSources(t *testing.T) {
	prompt, kept := BuildPrompt(nil, nil, "anything?", 6000)
	if len(kept) != 0 {
		t.Errorf("kept %d passages, want 0", len(kept))
	}
	if !strings.Contains(prompt, "no sources matched") {
		t.Error("prompt should state that no sources matched")
	}
}

func TestBuildPromptIncludesHistory(t *testing.T) {
	history := []Turn{
		{User: "what is docfox", Assistant: "a documentation assistant"},
		{User: "does it cite sources", Assistant: "yes, with markers"},
	}
	prompt, _ := BuildPrompt(history, nil, "how?", 6000)

	for _, want := range []string{"User: what is docfox", "Assistant: yes, with markers"} {
		if !strings.Contains(prompt, want) {
			t.Errorf("prompt missing history line %q", want)
		}
	}
}

func TestBuildPromptTrimsHistoryBeforePassages(t *testing.T) {
	long := strings.Repeat("filler text ", 100) // ~300 tokens per side
	history := []Turn{
		{User: long, Assistant: long},
		{User: "recent question", Assistant: "recent answer"},
	}
	passages := []retrieve.Passage{
		passage("a.md", strings.Repeat("passage text ", 60), 0.9),
	}

	// Budget fits instructions, the passage, and the short turn only.
	prompt, kept := BuildPrompt(history, passages, "q", 500)

	if len(kept) != 1 {
		t.Fatalf("passage was dropped before history")
	}
	if strings.Contains(prompt, long) {
		t.Error("oldest turn should have been trimmed")
	}
	if !strings.Contains(prompt, "recent question") {
		t.Error("newest turn should have been kept")
	}
}

func TestBuildPromptDropsLowestScoredPassages(t *testing.T) {
	big := strings.Repeat("chunk body ", 80) // ~220 tokens each
	passages := []retrieve.Passage{
		passage("top.md", big, 0.9),
		passage("mid.md", big, 0.6),
		passage("low.md", big, 0.4),
	}

	_, kept := BuildPrompt(nil, passages, "q", 600)

	if len(kept) == 3 {
		t.Fatal("nothing was dropped despite the tight budget")
	}
	if kept[0].Path != "top.md" {
		t.Errorf("highest-scoring passage dropped first: kept %v", kept)
	}
	for i := 1; i < len(kept); i++ {
		if kept[i-1].Score < kept[i].Score {
			t.Error("kept passages must remain score-ordered")
		}
	}
}

func TestEstimateTokens(t *testing.T) {
	tests := []struct {
		text string
		want int
	}{
		{"", 0},
		{"a", 1},
		{"abcd", 1},
		{"abcde", 2},
		{strings.Repeat("x", 400), 100},
	}
	for _, tt := range tests {
		if got := EstimateTokens(tt.text); got != tt.want {
			t.Errorf("EstimateTokens(%d chars) = %d, want %d", len(tt.text), got, tt.want)
		}
	}
}
