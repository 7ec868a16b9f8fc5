package ai

import "context"

// TextGenerator produces story plans and chapter prose from a system and
// user prompt pair. The studio never sees which backend is behind it.
type TextGenerator interface {
	GenerateText(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

// ImageGenerator renders one illustration for a prompt and returns the
// encoded image bytes.
type ImageGenerator interface {
	GenerateImage(ctx context.Context, prompt string) ([]byte, error)
}
