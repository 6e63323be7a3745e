package settings

import (
	"context"
	"errors"
	"fmt"

	"docpilot/internal/generate"
)

// Settings are the runtime-tunable knobs. The generation model participates
// in task cache keys, so switching it never serves results produced by the
// previous model.
type Settings struct {
	ID              int    `json:"-"`
	GenerationModel string `json:"generation_model"`
	SummaryStyle    string `json:"summary_style"`
	SearchTopK      int    `json:"search_top_k"`
	ContextBudget   int    `json:"context_budget_tokens"`
}

var ErrInvalid = errors.New("invalid settings")

type Repository interface {
	Get(ctx context.Context) (*Settings, error)
	Update(ctx context.Context, s *Settings) error
}

type Service struct {
	repo Repository
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

func (s *Service) Get(ctx context.Context) (*Settings, error) {
	return s.repo.Get(ctx)
}

func (s *Service) Update(ctx context.Context, set *Settings) error {
	if err := validate(set); err != nil {
		return err
	}
	return s.repo.Update(ctx, set)
}

func validate(s *Settings) error {
	if s.SummaryStyle != "" {
		if _, ok := generate.SummaryStyles[s.SummaryStyle]; !ok {
			return fmt.Errorf("%w: unknown summary style %q", ErrInvalid, s.SummaryStyle)
		}
	}
	if s.SearchTopK < 1 || s.SearchTopK > 50 {
		return fmt.Errorf("%w: search_top_k must be between 1 and 50", ErrInvalid)
	}
	if s.ContextBudget < 100 {
		return fmt.Errorf("%w: context_budget_tokens must be at least 100", ErrInvalid)
	}
	return nil
}
