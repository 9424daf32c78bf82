package handler

import (
	"context"
	"fmt"

	"github.com/dunamismax/charforge/internal/domain"
)

var warmupSeed int64 = 99999

// Warmup runs a small synthetic job through compile, submit, await and
// extract so the first real request does not pay for model loading.
func (h *Handler) Warmup(ctx context.Context) error {
	req := domain.JobRequest{
		Prompt:         "test",
		NegativePrompt: "ugly",
		Width:          512,
		Height:         512,
		Seed:           &warmupSeed,
		Mode:           domain.ModeFast,
	}
	graph := h.deps.Compiler.Compile(req, domain.PresetFor(domain.ModeFast))

	promptID, err := h.deps.Driver.Submit(ctx, graph)
	if err != nil {
		return fmt.Errorf("warm-up submit: %w", err)
	}
	record, err := h.deps.Driver.AwaitCompletion(ctx, promptID, h.deps.JobTimeout)
	if err != nil {
		return fmt.Errorf("warm-up await: %w", err)
	}

	images := h.deps.Extractor.Extract(record)
	if len(images) == 0 {
		h.logger.Warn().Str("prompt_id", promptID).Msg("warm-up produced no retrievable images")
		return nil
	}
	h.logger.Info().Str("prompt_id", promptID).Int("images", len(images)).Msg("warm-up complete")
	return nil
}
