package app

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"fablepress/pkg/ai"
	"fablepress/pkg/domain"
)

// safetyPages reserves room for front and back matter so the sum of all
// units' expected length stays under the vendor page ceiling before padding.
const safetyPages = 4

// Writer drives the two-phase generation contract for one unit: first a
// short structured plan, then final content honoring it.
type Writer struct {
	text ai.TextGenerator
}

// NewWriter wraps a text generator.
func NewWriter(text ai.TextGenerator) *Writer {
	return &Writer{text: text}
}

// UnitPlan is the structured plan for one unit of work.
type UnitPlan struct {
	// Beats are 3-5 discrete narrative beats for a chapter.
	Beats []string `json:"beats,omitempty"`
	// IllustrationPrompt describes the single image for a picture page.
	IllustrationPrompt string `json:"illustrationPrompt,omitempty"`
}

// TargetWords derives the word budget for one textual unit so that all
// units together stay under the vendor's page ceiling.
func TargetWords(p domain.VendorProfile, totalUnits int) int {
	if totalUnits <= 0 || p.WordsPerPage <= 0 {
		return 0
	}
	return (p.MaxPageCount - safetyPages) * p.WordsPerPage / totalUnits
}

// PlanUnit asks the generator for a structured plan for unit seq of total.
// Any upstream failure (safety block, malformed output, transport) surfaces
// as one generation-failed error; the caller decides whether to retry.
func (w *Writer) PlanUnit(ctx context.Context, p domain.Project, seq, total int, prior []domain.Unit, guidance string) (UnitPlan, error) {
	system := planSystemPrompt(p.Type)
	user := planUserPrompt(p, seq, total, prior, guidance)
	raw, err := w.text.GenerateText(ctx, system, user)
	if err != nil {
		return UnitPlan{}, generationFailed("plan unit", err)
	}
	var plan UnitPlan
	if err := json.Unmarshal([]byte(extractJSON(raw)), &plan); err != nil {
		return UnitPlan{}, generationFailed("plan unit: malformed structured output", err)
	}
	switch p.Type {
	case domain.TypeText:
		if len(plan.Beats) < 3 || len(plan.Beats) > 5 {
			return UnitPlan{}, generationFailed(
				fmt.Sprintf("plan unit: expected 3-5 beats, got %d", len(plan.Beats)), nil)
		}
	case domain.TypePicture:
		if strings.TrimSpace(plan.IllustrationPrompt) == "" {
			return UnitPlan{}, generationFailed("plan unit: empty illustration prompt", nil)
		}
	}
	return plan, nil
}

// WriteUnit produces the final chapter text honoring the plan, the word
// budget, and continuity with prior chapters.
func (w *Writer) WriteUnit(ctx context.Context, p domain.Project, plan UnitPlan, seq, total, targetWords int, prior []domain.Unit) (string, error) {
	system := writeSystemPrompt(seq, total, targetWords)
	user := writeUserPrompt(p, plan, seq, total, prior)
	content, err := w.text.GenerateText(ctx, system, user)
	if err != nil {
		return "", generationFailed("write unit", err)
	}
	content = strings.TrimSpace(content)
	if content == "" {
		return "", generationFailed("write unit: empty content", nil)
	}
	return content, nil
}

// generationFailed folds every upstream failure mode into one retryable
// kind; after the worker's bounded retries it halts the chain.
func generationFailed(msg string, err error) error {
	if err != nil {
		return domain.Wrap(domain.KindTransient, "generation failed: "+msg, err)
	}
	return domain.E(domain.KindTransient, "generation failed: "+msg)
}

func planSystemPrompt(t domain.ProjectType) string {
	if t == domain.TypePicture {
		return `You plan illustrations for a children's picture book. ` +
			`Respond with JSON only: {"illustrationPrompt": "..."} describing one image.`
	}
	return `You outline book chapters. Respond with JSON only: ` +
		`{"beats": ["...", "..."]} containing 3 to 5 discrete narrative beats.`
}

func planUserPrompt(p domain.Project, seq, total int, prior []domain.Unit, guidance string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Book: %s\nUnit %d of %d.\n", p.Title, seq, total)
	if len(p.StoryPlan) > 0 {
		fmt.Fprintf(&b, "Story bible:\n%s\n", p.StoryPlan)
	}
	if guidance != "" {
		fmt.Fprintf(&b, "Guidance: %s\n", guidance)
	}
	if summary := priorSummary(prior); summary != "" {
		fmt.Fprintf(&b, "Story so far:\n%s\n", summary)
	}
	return b.String()
}

func writeSystemPrompt(seq, total, targetWords int) string {
	var b strings.Builder
	b.WriteString("You write one book chapter at a time, continuing the story faithfully.")
	if targetWords > 0 {
		fmt.Fprintf(&b, " Aim for about %d words.", targetWords)
	}
	if seq < total {
		b.WriteString(" Do not conclude the story; later chapters follow.")
	} else {
		b.WriteString(" This is the final chapter; bring the story to its conclusion.")
	}
	return b.String()
}

func writeUserPrompt(p domain.Project, plan UnitPlan, seq, total int, prior []domain.Unit) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Book: %s\nWrite chapter %d of %d.\n", p.Title, seq, total)
	if len(plan.Beats) > 0 {
		b.WriteString("Cover these beats in order:\n")
		for i, beat := range plan.Beats {
			fmt.Fprintf(&b, "%d. %s\n", i+1, beat)
		}
	}
	if summary := priorSummary(prior); summary != "" {
		fmt.Fprintf(&b, "Story so far:\n%s\n", summary)
	}
	return b.String()
}

// priorSummary folds completed chapters into accumulated context. Early
// chapters are truncated harder than recent ones.
func priorSummary(prior []domain.Unit) string {
	if len(prior) == 0 {
		return ""
	}
	var b strings.Builder
	for _, u := range prior {
		limit := 400
		if u.Seq == prior[len(prior)-1].Seq {
			limit = 2000
		}
		content := u.Content
		if len(content) > limit {
			content = content[:limit] + "..."
		}
		fmt.Fprintf(&b, "[chapter %d] %s\n", u.Seq, content)
	}
	return b.String()
}

// extractJSON strips markdown fences the model sometimes wraps around
// structured output.
func extractJSON(raw string) string {
	raw = strings.TrimSpace(raw)
	if strings.HasPrefix(raw, "```") {
		raw = strings.TrimPrefix(raw, "```json")
		raw = strings.TrimPrefix(raw, "```")
		raw = strings.TrimSuffix(strings.TrimSpace(raw), "```")
	}
	return strings.TrimSpace(raw)
}
