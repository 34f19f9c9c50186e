package service

import (
	"context"
	"strings"
	"time"

	"therapycore/internal/domain"
	"therapycore/internal/logging"
	"therapycore/internal/models"

	"github.com/rs/zerolog"
)

type ProviderService struct {
	repo    domain.ProviderRepository
	ratings domain.RatingSource
	logger  *zerolog.Logger
}

// NewProviderService builds the directory service. ratings may be nil, then
// providers are returned without a rating.
func NewProviderService(repo domain.ProviderRepository, ratings domain.RatingSource, logger *zerolog.Logger) *ProviderService {
	return &ProviderService{
		repo:    repo,
		ratings: ratings,
		logger:  logging.Component(logger, "providers"),
	}
}

// decorate fills rating fields from the ratings collaborator. A failing
// collaborator never fails the read.
func (s *ProviderService) decorate(ctx context.Context, providers ...*models.Provider) {
	if s.ratings == nil {
		return
	}
	for _, p := range providers {
		rating, count, err := s.ratings.Rating(ctx, p.ID)
		if err != nil {
			s.logger.Warn().Err(err).Int64(logging.FieldProviderID, p.ID).Msg("Rating lookup failed")
			continue
		}
		p.Rating = rating
		p.ReviewCount = count
	}
}

func (s *ProviderService) GetProvider(ctx context.Context, id int64) (*models.Provider, error) {
	p, err := s.repo.GetProvider(ctx, id)
	if err != nil {
		return nil, err
	}
	s.decorate(ctx, p)
	return p, nil
}

func (s *ProviderService) GetProviderByApplicant(ctx context.Context, applicantID string) (*models.Provider, error) {
	p, err := s.repo.GetProviderByApplicant(ctx, applicantID)
	if err != nil {
		return nil, err
	}
	s.decorate(ctx, p)
	return p, nil
}

func (s *ProviderService) ListProviders(ctx context.Context, filter models.ProviderFilter) ([]*models.Provider, error) {
	providers, err := s.repo.ListProviders(ctx, filter)
	if err != nil {
		return nil, err
	}
	s.decorate(ctx, providers...)
	return providers, nil
}

// UpdateProfile applies a patch on behalf of the provider itself or an admin.
func (s *ProviderService) UpdateProfile(ctx context.Context, id int64, actorID string, isAdmin bool, patch models.ProviderPatch) (*models.Provider, error) {
	current, err := s.repo.GetProvider(ctx, id)
	if err != nil {
		return nil, err
	}
	if !isAdmin && current.ApplicantID != actorID {
		s.logger.Warn().Int64(logging.FieldProviderID, id).Str("actor_id", actorID).Msg("Profile update refused")
		return nil, domain.ErrForbidden
	}
	if err := validatePatch(patch); err != nil {
		return nil, err
	}

	updated, err := s.repo.UpdateProvider(ctx, id, patch)
	if err != nil {
		logFailure(s.logger, err).Int64(logging.FieldProviderID, id).Msg("Profile update failed")
		return nil, err
	}

	s.logger.Info().Int64(logging.FieldProviderID, id).Str("actor_id", actorID).Msg("Profile updated")
	s.decorate(ctx, updated)
	return updated, nil
}

func validatePatch(patch models.ProviderPatch) error {
	if patch.DisplayName != nil && strings.TrimSpace(*patch.DisplayName) == "" {
		return invalidInput("display name must not be empty")
	}
	if patch.SessionPrice != nil && patch.SessionPrice.IsNegative() {
		return invalidInput("session price must not be negative")
	}
	if patch.Timezone != nil {
		if _, err := time.LoadLocation(*patch.Timezone); err != nil || *patch.Timezone == "" {
			return invalidInput("unknown timezone %q", *patch.Timezone)
		}
	}
	return nil
}
