// Package translate holds the default translator agent, used when no model
// is configured. It keeps the text as is.
package translate

import (
	"context"
	"log/slog"
)

type PassThrough struct {
	logger *slog.Logger
}

func NewPassThrough(logger *slog.Logger) *PassThrough {
	if logger == nil {
		logger = slog.Default()
	}
	return &PassThrough{logger: logger.With("component", "translator")}
}

func (p *PassThrough) Translate(ctx context.Context, text string) (string, error) {
	p.logger.InfoContext(ctx, "Translator Agent: processed input, no translation configured", "chars", len(text))
	return text, nil
}
