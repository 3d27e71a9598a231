package settings

import (
	"context"
)

// Settings is the runtime-tunable configuration row. It overrides the
// process-level defaults for retrieval and safety knobs without a restart.
type Settings struct {
	ID                  int     `json:"-"`
	GeminiAPIKey        string  `json:"gemini_api_key"`
	SearchTopK          int     `json:"search_top_k"`
	SimilarityThreshold float32 `json:"similarity_threshold"`
	AdviceHighThreshold int     `json:"advice_high_threshold"`
}

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
	return s.repo.Update(ctx, set)
}
