package service

import (
	"context"
	"net/mail"
	"strings"

	"therapycore/internal/domain"
	"therapycore/internal/events"
	"therapycore/internal/logging"
	"therapycore/internal/metrics"
	"therapycore/internal/models"

	"github.com/rs/zerolog"
)

type ApplicationService struct {
	repo      domain.ApplicationRepository
	eventBus  domain.EventPublisher
	fastTrack map[string]bool
	provision domain.ProvisionRequest
	logger    *zerolog.Logger
}

// NewApplicationService wires the review pipeline. Applications whose
// specialization is in fastTrack are approved by the system reviewer on submit.
func NewApplicationService(repo domain.ApplicationRepository, eventBus domain.EventPublisher, fastTrack []string, provision domain.ProvisionRequest, logger *zerolog.Logger) *ApplicationService {
	set := make(map[string]bool, len(fastTrack))
	for _, s := range fastTrack {
		if s = normalize(s); s != "" {
			set[s] = true
		}
	}
	return &ApplicationService{
		repo:      repo,
		eventBus:  eventBus,
		fastTrack: set,
		provision: provision,
		logger:    logging.Component(logger, "applications"),
	}
}

func validateForm(form models.ApplicationForm) error {
	switch {
	case strings.TrimSpace(form.DisplayName) == "":
		return invalidInput("display name is required")
	case strings.TrimSpace(form.Specialization) == "":
		return invalidInput("specialization is required")
	case strings.TrimSpace(form.LicenseNumber) == "":
		return invalidInput("license number is required")
	case form.YearsOfExperience < 0:
		return invalidInput("years of experience must not be negative")
	}
	if form.Email != "" {
		if _, err := mail.ParseAddress(form.Email); err != nil {
			return invalidInput("email %q is malformed", form.Email)
		}
	}
	return nil
}

func (s *ApplicationService) Submit(ctx context.Context, applicantID string, form models.ApplicationForm) (*models.Application, error) {
	if strings.TrimSpace(applicantID) == "" {
		return nil, invalidInput("applicant id is required")
	}
	if err := validateForm(form); err != nil {
		return nil, err
	}

	app := &models.Application{ApplicantID: applicantID, ApplicationForm: form}

	var autoApprove *domain.ProvisionRequest
	if s.fastTrack[normalize(form.Specialization)] {
		prov := s.provision
		autoApprove = &prov
	}

	provider, err := s.repo.CreateApplication(ctx, app, autoApprove)
	if err != nil {
		logFailure(s.logger, err).Str("applicant_id", applicantID).Msg("Application submit failed")
		return nil, err
	}

	s.logger.Info().
		Int64(logging.FieldApplicationID, app.ID).
		Str("applicant_id", applicantID).
		Bool("fast_track", autoApprove != nil).
		Msg("Application submitted")

	publish(s.eventBus, s.logger, events.EventApplicationSubmitted, applicationPayload(app))
	if provider != nil {
		metrics.IncDecision(models.DecisionApprove)
		publish(s.eventBus, s.logger, events.EventApplicationApproved, applicationPayload(app))
	}
	return app, nil
}

func (s *ApplicationService) Review(ctx context.Context, applicationID int64, reviewerID, decision, note string) (*models.Application, error) {
	if strings.TrimSpace(reviewerID) == "" {
		return nil, invalidInput("reviewer id is required")
	}
	if decision != models.DecisionApprove && decision != models.DecisionReject {
		return nil, invalidInput("unknown decision %q", decision)
	}

	app, provider, err := s.repo.ReviewApplication(ctx, applicationID, reviewerID, decision, note, s.provision)
	if err != nil {
		logFailure(s.logger, err).Int64(logging.FieldApplicationID, applicationID).Str("decision", decision).Msg("Application review failed")
		return nil, err
	}

	metrics.IncDecision(decision)
	ev := s.logger.Info().Int64(logging.FieldApplicationID, app.ID).Str("decision", decision).Str("reviewer_id", reviewerID)
	if provider != nil {
		ev = ev.Int64(logging.FieldProviderID, provider.ID)
	}
	ev.Msg("Application reviewed")

	eventType := events.EventApplicationRejected
	if decision == models.DecisionApprove {
		eventType = events.EventApplicationApproved
	}
	publish(s.eventBus, s.logger, eventType, applicationPayload(app))
	return app, nil
}

func (s *ApplicationService) GetApplication(ctx context.Context, id int64) (*models.Application, error) {
	return s.repo.GetApplication(ctx, id)
}

func (s *ApplicationService) GetApplicationByApplicant(ctx context.Context, applicantID string) (*models.Application, error) {
	return s.repo.GetApplicationByApplicant(ctx, applicantID)
}

func (s *ApplicationService) ListApplications(ctx context.Context, filter models.ApplicationFilter) ([]*models.Application, error) {
	if filter.Status != "" && filter.Status != models.ApplicationPending &&
		filter.Status != models.ApplicationApproved && filter.Status != models.ApplicationRejected {
		return nil, invalidInput("unknown status %q", filter.Status)
	}
	return s.repo.ListApplications(ctx, filter)
}
