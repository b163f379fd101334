package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"courtbot/internal/config"
	"courtbot/internal/domain"
	"courtbot/internal/security/secretbox"
	"courtbot/internal/service/booking"
	"courtbot/internal/service/schedule"
	storepkg "courtbot/internal/store"
)

type contextKey string

const contextKeyOperator contextKey = "operator"

// Engine is the running booking core behind the control API. The concrete
// implementation is booking.Scheduler bound to a logged-in platform client.
type Engine interface {
	RefreshVenues(ctx context.Context) error
	Venues() []domain.Venue
	Schedule(ctx context.Context, venueID, date string) (schedule.Grid, error)
	Monitor(venueID, date string, count int) (domain.JobKey, error)
	Order(venueID, date string, fieldID, stockID int, fireAt time.Time) (domain.JobKey, time.Time, error)
	Jobs() []booking.JobInfo
	Cancel(index int) error
	Close()
}

// Connector performs the platform login handshake for the given credentials
// and returns a ready engine.
type Connector func(ctx context.Context, creds domain.Credentials) (Engine, error)

type Server struct {
	cfg       config.Config
	store     storepkg.Store
	connector Connector
	box       *secretbox.Box

	engineMu sync.Mutex
	engine   Engine
}

func NewServer(cfg config.Config, store storepkg.Store, connector Connector, box *secretbox.Box) *Server {
	return &Server{
		cfg:       cfg,
		store:     store,
		connector: connector,
		box:       box,
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Logger, middleware.Recoverer)

	r.Get("/health", s.handleHealth)
	r.Post("/login", s.handleLogin)

	r.Group(func(protected chi.Router) {
		protected.Use(s.requireOperator)
		protected.Post("/logout", s.handleLogout)
		protected.Get("/venues", s.handleListVenues)
		protected.Get("/venues/{venueID}/schedule", s.handleVenueSchedule)
		protected.Post("/listen", s.handleListen)
		protected.Post("/book", s.handleBook)
		protected.Get("/jobs", s.handleListJobs)
		protected.Delete("/jobs/{jobID}", s.handleCancelJob)
		protected.Get("/events", s.handleListEvents)
	})

	return r
}

// SetEngine installs an engine built outside the login handler, e.g. the
// boot-time auto-login. A previous engine is shut down.
func (s *Server) SetEngine(engine Engine) {
	s.engineMu.Lock()
	old := s.engine
	s.engine = engine
	s.engineMu.Unlock()
	if old != nil {
		old.Close()
	}
}

func (s *Server) currentEngine() (Engine, bool) {
	s.engineMu.Lock()
	defer s.engineMu.Unlock()
	return s.engine, s.engine != nil
}

// Close shuts down the active engine, if any.
func (s *Server) Close() {
	s.SetEngine(nil)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	_, connected := s.currentEngine()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "ok",
		"connected": connected,
		"time":      time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Username == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "username and password are required")
		return
	}

	creds := domain.Credentials{Username: req.Username, Password: req.Password}
	// A returning user keeps their device id so the platform's MFA device
	// memory stays warm.
	if saved, ok := s.store.LoadCredentials(); ok && saved.Username == req.Username {
		creds.DeviceID = saved.DeviceID
	}
	if creds.DeviceID == "" {
		creds.DeviceID = strings.ReplaceAll(uuid.NewString(), "-", "")
	}

	engine, err := s.connector(r.Context(), creds)
	if err != nil {
		writeError(w, loginStatus(err), err.Error())
		return
	}
	s.SetEngine(engine)
	s.persistCredentials(creds)

	token, expiresAt, err := s.signOperatorToken(req.Username)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to create session token")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"token":      token,
		"expires_at": expiresAt.Format(time.RFC3339),
		"type":       "Bearer",
	})
}

func loginStatus(err error) int {
	switch {
	case errors.Is(err, domain.ErrBadCredentials), errors.Is(err, domain.ErrMFANotSatisfied):
		return http.StatusUnauthorized
	case errors.Is(err, domain.ErrBlocked):
		return http.StatusForbidden
	case errors.Is(err, domain.ErrUpstream):
		return http.StatusBadGateway
	default:
		return http.StatusBadGateway
	}
}

func (s *Server) persistCredentials(creds domain.Credentials) {
	if s.box == nil {
		return
	}
	encrypted, err := s.box.Encrypt(creds.Password)
	if err != nil {
		return
	}
	creds.Password = encrypted
	_ = s.store.SaveCredentials(creds)
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	s.SetEngine(nil)
	_ = s.store.ClearCredentials()
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) handleListVenues(w http.ResponseWriter, r *http.Request) {
	engine, ok := s.currentEngine()
	if !ok {
		writeError(w, http.StatusConflict, "not logged in to the booking platform")
		return
	}
	venues := engine.Venues()
	if len(venues) == 0 {
		if err := engine.RefreshVenues(r.Context()); err == nil {
			venues = engine.Venues()
		}
	}
	if q := strings.TrimSpace(r.URL.Query().Get("q")); q != "" {
		filtered := venues[:0:0]
		for _, v := range venues {
			if strings.Contains(strings.ToLower(v.Name), strings.ToLower(q)) {
				filtered = append(filtered, v)
			}
		}
		venues = filtered
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"venues": venues,
		"count":  len(venues),
	})
}

func (s *Server) handleVenueSchedule(w http.ResponseWriter, r *http.Request) {
	engine, ok := s.currentEngine()
	if !ok {
		writeError(w, http.StatusConflict, "not logged in to the booking platform")
		return
	}
	venueID := chi.URLParam(r, "venueID")
	date := r.URL.Query().Get("date")
	if err := domain.ValidateDate(date); err != nil {
		writeError(w, http.StatusBadRequest, "date must look like 2006-01-02")
		return
	}
	grid, err := engine.Schedule(r.Context(), venueID, date)
	if err != nil {
		writeError(w, engineStatus(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"venue_id": venueID,
		"date":     date,
		"schedule": grid,
	})
}

func (s *Server) handleListen(w http.ResponseWriter, r *http.Request) {
	engine, ok := s.currentEngine()
	if !ok {
		writeError(w, http.StatusConflict, "not logged in to the booking platform")
		return
	}
	var req struct {
		VenueID string `json:"venue_id"`
		Date    string `json:"date"`
		Count   int    `json:"count"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Count == 0 {
		req.Count = 1
	}
	key, err := engine.Monitor(req.VenueID, req.Date, req.Count)
	if err != nil {
		writeError(w, engineStatus(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"ok":  true,
		"key": key.String(),
	})
}

func (s *Server) handleBook(w http.ResponseWriter, r *http.Request) {
	engine, ok := s.currentEngine()
	if !ok {
		writeError(w, http.StatusConflict, "not logged in to the booking platform")
		return
	}
	var req struct {
		VenueID string `json:"venue_id"`
		Date    string `json:"date"`
		FieldID int    `json:"field_id"`
		StockID int    `json:"stock_id"`
		FireAt  string `json:"fire_at"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var fireAt time.Time
	if req.FireAt != "" {
		parsed, err := time.Parse(time.RFC3339, req.FireAt)
		if err != nil {
			writeError(w, http.StatusBadRequest, "fire_at must be RFC 3339")
			return
		}
		fireAt = parsed
	}
	key, scheduledFor, err := engine.Order(req.VenueID, req.Date, req.FieldID, req.StockID, fireAt)
	if err != nil {
		writeError(w, engineStatus(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"ok":      true,
		"key":     key.String(),
		"fire_at": scheduledFor.Format(time.RFC3339),
	})
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	engine, ok := s.currentEngine()
	if !ok {
		writeError(w, http.StatusConflict, "not logged in to the booking platform")
		return
	}
	jobs := engine.Jobs()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"jobs":  jobs,
		"count": len(jobs),
	})
}

func (s *Server) handleCancelJob(w http.ResponseWriter, r *http.Request) {
	engine, ok := s.currentEngine()
	if !ok {
		writeError(w, http.StatusConflict, "not logged in to the booking platform")
		return
	}
	index, err := strconv.Atoi(chi.URLParam(r, "jobID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "job id must be a number")
		return
	}
	if err := engine.Cancel(index); err != nil {
		writeError(w, engineStatus(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) handleListEvents(w http.ResponseWriter, r *http.Request) {
	limit := parseInt(r.URL.Query().Get("limit"), 20)
	events := s.store.ListEvents(limit)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"events": events,
		"count":  len(events),
	})
}

func engineStatus(err error) int {
	switch {
	case errors.Is(err, domain.ErrInvalidDate):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrNoSuchVenue), errors.Is(err, domain.ErrNoSuchJob):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrSessionExpired), errors.Is(err, domain.ErrNotLoggedIn):
		return http.StatusConflict
	default:
		return http.StatusBadGateway
	}
}

func (s *Server) signOperatorToken(subject string) (string, time.Time, error) {
	expiresAt := time.Now().UTC().Add(12 * time.Hour)
	claims := jwt.MapClaims{
		"sub": subject,
		"exp": expiresAt.Unix(),
		"iat": time.Now().UTC().Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(s.cfg.JWTSecret))
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, expiresAt, nil
}

func (s *Server) requireOperator(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r.Header.Get("Authorization"))
		if token == "" {
			writeError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}
		parsed, err := jwt.Parse(token, func(token *jwt.Token) (interface{}, error) {
			return []byte(s.cfg.JWTSecret), nil
		})
		if err != nil || !parsed.Valid {
			writeError(w, http.StatusUnauthorized, "invalid session token")
			return
		}
		claims, ok := parsed.Claims.(jwt.MapClaims)
		if !ok {
			writeError(w, http.StatusUnauthorized, "invalid session claims")
			return
		}
		sub, _ := claims["sub"].(string)
		ctx := context.WithValue(r.Context(), contextKeyOperator, sub)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func bearerToken(header string) string {
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

func parseInt(raw string, fallback int) int {
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v <= 0 {
		return fallback
	}
	return v
}

func decodeJSON(r *http.Request, target interface{}) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	return decoder.Decode(target)
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
