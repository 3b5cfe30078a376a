// Package corruption decides what happens when the saved catalog cannot be read.
package corruption

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/invite-crawler/internal/catalog"
	"github.com/JakeFAU/invite-crawler/internal/operator"
)

// Modes accepted by New.
const (
	ModeAuto      = "auto"
	ModeAbort     = "abort"
	ModeOverwrite = "overwrite"
	ModePrompt    = "prompt"
)

// Abort always refuses to touch a corrupt catalog.
type Abort struct{}

// Decide implements catalog.CorruptionPolicy.
func (Abort) Decide(context.Context, *catalog.CorruptionError) (catalog.Decision, error) {
	return catalog.DecisionAbort, nil
}

// Overwrite always continues with an empty catalog.
type Overwrite struct{}

// Decide implements catalog.CorruptionPolicy.
func (Overwrite) Decide(context.Context, *catalog.CorruptionError) (catalog.Decision, error) {
	return catalog.DecisionOverwrite, nil
}

// Confirmer asks the operator a yes/no question.
type Confirmer interface {
	Interactive() bool
	Confirm(ctx context.Context, question string) (bool, error)
}

// Prompt asks the operator and falls back to abort when nobody can answer.
type Prompt struct {
	confirmer Confirmer
	logger    *zap.Logger
}

// NewPrompt builds a prompting policy.
func NewPrompt(confirmer Confirmer, logger *zap.Logger) *Prompt {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Prompt{confirmer: confirmer, logger: logger}
}

// Decide implements catalog.CorruptionPolicy.
func (p *Prompt) Decide(ctx context.Context, cerr *catalog.CorruptionError) (catalog.Decision, error) {
	if p.confirmer == nil || !p.confirmer.Interactive() {
		p.logger.Warn("No terminal attached to confirm overwriting the catalog; aborting")
		return catalog.DecisionAbort, nil
	}
	question := fmt.Sprintf("Saved catalog %s is unreadable (%v). Continue and overwrite it?", cerr.Path, cerr.Err)
	ok, err := p.confirmer.Confirm(ctx, question)
	if err != nil {
		if errors.Is(err, operator.ErrNoInput) {
			return catalog.DecisionAbort, nil
		}
		return catalog.DecisionAbort, fmt.Errorf("confirm overwrite: %w", err)
	}
	if ok {
		return catalog.DecisionOverwrite, nil
	}
	return catalog.DecisionAbort, nil
}

// New selects a policy by mode. Auto prompts when a terminal is attached and
// aborts otherwise.
func New(mode string, confirmer Confirmer, logger *zap.Logger) (catalog.CorruptionPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(mode)) {
	case "", ModeAuto:
		if confirmer != nil && confirmer.Interactive() {
			return NewPrompt(confirmer, logger), nil
		}
		return Abort{}, nil
	case ModeAbort:
		return Abort{}, nil
	case ModeOverwrite:
		return Overwrite{}, nil
	case ModePrompt:
		return NewPrompt(confirmer, logger), nil
	default:
		return nil, fmt.Errorf("unknown corruption policy %q", mode)
	}
}
