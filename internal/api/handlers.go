package api

import (
	"context"
	"fmt"
	"net/http"
	"path/filepath"
	"strings"

	"therapycore/internal/domain"
	"therapycore/internal/models"

	"github.com/shopspring/decimal"
)

// Applications

func (s *HTTPServer) handleSubmitApplication(w http.ResponseWriter, r *http.Request) {
	caller := CallerFrom(r.Context())
	if err := requireUser(caller); err != nil {
		writeError(w, err)
		return
	}
	var form models.ApplicationForm
	if err := decodeBody(r, &form); err != nil {
		writeError(w, err)
		return
	}
	app, err := s.svc.Applications.Submit(r.Context(), caller.UserID, form)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, app)
}

func (s *HTTPServer) handleListApplications(w http.ResponseWriter, r *http.Request) {
	if err := requireAdmin(CallerFrom(r.Context())); err != nil {
		writeError(w, err)
		return
	}
	page, err := queryInt(r, "page", 1)
	if err != nil {
		writeError(w, err)
		return
	}
	size, err := queryInt(r, "size", models.DefaultPageSize)
	if err != nil {
		writeError(w, err)
		return
	}
	apps, err := s.svc.Applications.ListApplications(r.Context(), models.ApplicationFilter{
		Status: strings.TrimSpace(r.URL.Query().Get("status")),
		Page:   page,
		Size:   size,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"applications": apps})
}

func (s *HTTPServer) handleMyApplication(w http.ResponseWriter, r *http.Request) {
	caller := CallerFrom(r.Context())
	if err := requireUser(caller); err != nil {
		writeError(w, err)
		return
	}
	app, err := s.svc.Applications.GetApplicationByApplicant(r.Context(), caller.UserID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, app)
}

func (s *HTTPServer) handleGetApplication(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}
	app, err := s.svc.Applications.GetApplication(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	caller := CallerFrom(r.Context())
	if !caller.Admin && app.ApplicantID != caller.UserID {
		writeError(w, domain.ErrForbidden)
		return
	}
	writeJSON(w, http.StatusOK, app)
}

func (s *HTTPServer) handleReviewApplication(w http.ResponseWriter, r *http.Request) {
	caller := CallerFrom(r.Context())
	if err := requireAdmin(caller); err != nil {
		writeError(w, err)
		return
	}
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}
	var body struct {
		Decision string `json:"decision"`
		Note     string `json:"note"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, err)
		return
	}
	reviewer := caller.UserID
	if reviewer == "" {
		reviewer = caller.Client
	}
	app, err := s.svc.Applications.Review(r.Context(), id, reviewer, body.Decision, body.Note)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, app)
}

// Providers

func (s *HTTPServer) handleListProviders(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page, err := queryInt(r, "page", 1)
	if err != nil {
		writeError(w, err)
		return
	}
	size, err := queryInt(r, "size", models.DefaultPageSize)
	if err != nil {
		writeError(w, err)
		return
	}
	providers, err := s.svc.Providers.ListProviders(r.Context(), models.ProviderFilter{
		Specialization: strings.TrimSpace(q.Get("specialization")),
		Language:       strings.TrimSpace(q.Get("language")),
		VerifiedOnly:   q.Get("verified") == "true",
		Page:           page,
		Size:           size,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"providers": providers})
}

func (s *HTTPServer) handleGetProvider(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}
	p, err := s.svc.Providers.GetProvider(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *HTTPServer) handleUpdateProvider(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}
	var patch models.ProviderPatch
	if err := decodeBody(r, &patch); err != nil {
		writeError(w, err)
		return
	}
	caller := CallerFrom(r.Context())
	p, err := s.svc.Providers.UpdateProfile(r.Context(), id, caller.UserID, caller.Admin, patch)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// Availability

func (s *HTTPServer) handleListWindows(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}
	windows := []models.AvailabilityWindow{}
	for win, err := range s.svc.Availability.ListWindows(r.Context(), id) {
		if err != nil {
			writeError(w, err)
			return
		}
		windows = append(windows, win)
	}
	writeJSON(w, http.StatusOK, map[string]any{"windows": windows})
}

func (s *HTTPServer) handleSetWindow(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}
	if err := s.svc.authorizeProvider(r.Context(), CallerFrom(r.Context()), id); err != nil {
		writeError(w, err)
		return
	}
	var body struct {
		DayOfWeek int              `json:"day_of_week"`
		StartTime models.ClockTime `json:"start_time"`
		EndTime   models.ClockTime `json:"end_time"`
		Enabled   *bool            `json:"enabled"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, err)
		return
	}
	enabled := body.Enabled == nil || *body.Enabled
	win, err := s.svc.Availability.SetWindow(r.Context(), id, body.DayOfWeek, body.StartTime, body.EndTime, enabled)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, win)
}

// ownedWindow loads the window and checks the caller may change it.
func (s *HTTPServer) ownedWindow(r *http.Request) (*models.AvailabilityWindow, error) {
	id, err := pathID(r, "id")
	if err != nil {
		return nil, err
	}
	win, err := s.svc.Availability.GetWindow(r.Context(), id)
	if err != nil {
		return nil, err
	}
	if err := s.svc.authorizeProvider(r.Context(), CallerFrom(r.Context()), win.ProviderID); err != nil {
		return nil, err
	}
	return win, nil
}

func (s *HTTPServer) handleGetWindow(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}
	win, err := s.svc.Availability.GetWindow(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, win)
}

func (s *HTTPServer) handleRemoveWindow(w http.ResponseWriter, r *http.Request) {
	win, err := s.ownedWindow(r)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := s.svc.Availability.RemoveWindow(r.Context(), win.ID); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *HTTPServer) handleToggleWindow(w http.ResponseWriter, r *http.Request) {
	win, err := s.ownedWindow(r)
	if err != nil {
		writeError(w, err)
		return
	}
	toggled, err := s.svc.Availability.ToggleEnabled(r.Context(), win.ID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toggled)
}

func (s *HTTPServer) handleFreeSlots(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}
	date, err := queryTime(r, "date")
	if err != nil {
		writeError(w, err)
		return
	}
	minutes, err := queryInt(r, "minutes", 60)
	if err != nil {
		writeError(w, err)
		return
	}
	slots, err := s.svc.Availability.FreeSlots(r.Context(), id, date, minutes)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"slots": slots})
}

// Appointments

func (s *HTTPServer) handleBook(w http.ResponseWriter, r *http.Request) {
	caller := CallerFrom(r.Context())
	if err := requireUser(caller); err != nil {
		writeError(w, err)
		return
	}
	var body BookRequest
	if err := decodeBody(r, &body); err != nil {
		writeError(w, err)
		return
	}
	appt, err := s.svc.Booking.Book(r.Context(), models.BookingRequest{
		ProviderID:      body.ProviderID,
		ClientID:        caller.UserID,
		Start:           body.Start,
		DurationMinutes: body.DurationMinutes,
		Price:           body.Price,
		Notes:           body.Notes,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, appt)
}

func (s *HTTPServer) handleMyAppointments(w http.ResponseWriter, r *http.Request) {
	caller := CallerFrom(r.Context())
	if err := requireUser(caller); err != nil {
		writeError(w, err)
		return
	}
	appts, err := s.svc.Booking.ListClientAppointments(r.Context(), caller.UserID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"appointments": appts})
}

func (s *HTTPServer) handleProviderAppointments(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}
	if err := s.svc.authorizeProvider(r.Context(), CallerFrom(r.Context()), id); err != nil {
		writeError(w, err)
		return
	}
	from, err := queryTime(r, "from")
	if err != nil {
		writeError(w, err)
		return
	}
	to, err := queryTime(r, "to")
	if err != nil {
		writeError(w, err)
		return
	}
	appts, err := s.svc.Booking.ListProviderAppointments(r.Context(), id, from, to)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"appointments": appts})
}

func (s *HTTPServer) handleGetAppointment(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}
	appt, err := s.svc.authorizeAppointment(r.Context(), CallerFrom(r.Context()), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, appt)
}

func (s *HTTPServer) handleCancel(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}
	caller := CallerFrom(r.Context())
	appt, err := s.svc.Booking.Cancel(r.Context(), id, caller.UserID, caller.Admin)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, appt)
}

func (s *HTTPServer) handleComplete(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}
	current, err := s.svc.Booking.GetAppointment(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := s.svc.authorizeProvider(r.Context(), CallerFrom(r.Context()), current.ProviderID); err != nil {
		writeError(w, err)
		return
	}
	appt, err := s.svc.Booking.Complete(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, appt)
}

// Ledger

func (s *HTTPServer) handleBalance(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}
	if err := s.svc.authorizeProvider(r.Context(), CallerFrom(r.Context()), id); err != nil {
		writeError(w, err)
		return
	}
	b, err := s.svc.Ledger.Balance(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

func (s *HTTPServer) handleLedgerEntries(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}
	if err := s.svc.authorizeProvider(r.Context(), CallerFrom(r.Context()), id); err != nil {
		writeError(w, err)
		return
	}
	page, err := queryInt(r, "page", 1)
	if err != nil {
		writeError(w, err)
		return
	}
	size, err := queryInt(r, "size", models.DefaultPageSize)
	if err != nil {
		writeError(w, err)
		return
	}
	entries, err := s.svc.Ledger.ListEntries(r.Context(), id, page, size)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}

func (s *HTTPServer) handleWithdrawal(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}
	if err := s.svc.authorizeProvider(r.Context(), CallerFrom(r.Context()), id); err != nil {
		writeError(w, err)
		return
	}
	var body struct {
		Amount decimal.Decimal `json:"amount"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, err)
		return
	}
	entry, err := s.svc.Ledger.RequestWithdrawal(r.Context(), id, body.Amount)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, entry)
}

func (s *HTTPServer) handleStatement(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}
	if err := s.svc.authorizeProvider(r.Context(), CallerFrom(r.Context()), id); err != nil {
		writeError(w, err)
		return
	}
	from, err := queryTime(r, "from")
	if err != nil {
		writeError(w, err)
		return
	}
	to, err := queryTime(r, "to")
	if err != nil {
		writeError(w, err)
		return
	}
	path, err := s.svc.Ledger.ExportStatement(r.Context(), id, from, to)
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filepath.Base(path)))
	http.ServeFile(w, r, path)
}

func (s *HTTPServer) handleRecordEarning(w http.ResponseWriter, r *http.Request) {
	if err := requireAdmin(CallerFrom(r.Context())); err != nil {
		writeError(w, err)
		return
	}
	var body struct {
		ProviderID    int64           `json:"provider_id"`
		AppointmentID int64           `json:"appointment_id"`
		Amount        decimal.Decimal `json:"amount"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, err)
		return
	}
	entry, err := s.svc.Ledger.RecordEarning(r.Context(), body.ProviderID, body.AppointmentID, body.Amount)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, entry)
}

func (s *HTTPServer) handleSettle(w http.ResponseWriter, r *http.Request) {
	s.handleTransition(w, r, s.svc.Ledger.SettleEarning)
}

func (s *HTTPServer) handleVoid(w http.ResponseWriter, r *http.Request) {
	s.handleTransition(w, r, s.svc.Ledger.VoidEarning)
}

func (s *HTTPServer) handleTransition(w http.ResponseWriter, r *http.Request, apply func(ctx context.Context, id int64) (*models.LedgerEntry, error)) {
	if err := requireAdmin(CallerFrom(r.Context())); err != nil {
		writeError(w, err)
		return
	}
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}
	entry, err := apply(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

func (s *HTTPServer) handleDeadLetters(w http.ResponseWriter, r *http.Request) {
	if err := requireAdmin(CallerFrom(r.Context())); err != nil {
		writeError(w, err)
		return
	}
	if s.svc.DeadLetters == nil {
		writeError(w, fmt.Errorf("%w: ledger sync is disabled", domain.ErrUnavailable))
		return
	}
	limit, err := queryInt(r, "limit", 50)
	if err != nil {
		writeError(w, err)
		return
	}
	items, err := s.svc.DeadLetters.DeadLetters(r.Context(), int64(limit))
	if err != nil {
		writeError(w, fmt.Errorf("%w: %v", domain.ErrUnavailable, err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"dead_letters": items})
}
