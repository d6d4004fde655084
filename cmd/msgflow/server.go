package main

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"net/http"
	"time"

	"msgflow/internal/constants"
	apperrors "msgflow/internal/errors"
	"msgflow/internal/features"
	"msgflow/internal/middleware"
	"msgflow/internal/models"
	"msgflow/internal/service"
	"msgflow/internal/validation"
	"msgflow/internal/versioning"
	"msgflow/pkg/provider"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
)

type Server struct {
	router     *mux.Router
	logger     *logrus.Logger
	messages   *service.MessageService
	templates  *service.TemplateService
	reconciler *service.Reconciler
	retries    *service.RetryController
	hub        *service.WebsocketHub
	flags      *features.FlagManager
	cfg        models.ServerConfig
	server     *http.Server
}

func NewServer(
	cfg models.ServerConfig,
	messages *service.MessageService,
	templates *service.TemplateService,
	reconciler *service.Reconciler,
	retries *service.RetryController,
	hub *service.WebsocketHub,
	flags *features.FlagManager,
	logger *logrus.Logger,
) *Server {
	s := &Server{
		router:     mux.NewRouter(),
		logger:     logger,
		messages:   messages,
		templates:  templates,
		reconciler: reconciler,
		retries:    retries,
		hub:        hub,
		flags:      flags,
		cfg:        cfg,
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.HandleFunc("/health", s.handleHealth()).Methods(http.MethodGet)
	s.router.Handle("/metrics", middleware.ObservabilityMiddleware(s.logger)(s.handleMetrics())).Methods(http.MethodGet)

	webhook := s.router.PathPrefix("/webhook/provider").Subrouter()
	webhook.Use(middleware.WebhookObservabilityMiddleware(s.logger))
	webhook.HandleFunc("", s.handleProviderWebhook()).Methods(http.MethodPost)

	api := s.router.PathPrefix("/api").Subrouter()
	api.Use(middleware.ObservabilityMiddleware(s.logger))
	api.Use(versioning.Middleware)

	api.HandleFunc("/messages", s.handleEnqueueMessage()).Methods(http.MethodPost)
	api.HandleFunc("/messages/{id}", s.handleGetMessage()).Methods(http.MethodGet)
	api.HandleFunc("/messages/{id}/events", s.handleListMessageEvents()).Methods(http.MethodGet)
	api.HandleFunc("/messages/{id}/retry", s.handleRetryMessage()).Methods(http.MethodPost)

	api.HandleFunc("/templates", s.handleCreateTemplate()).Methods(http.MethodPost)
	api.HandleFunc("/templates", s.handleListTemplates()).Methods(http.MethodGet)
	api.HandleFunc("/templates/{id}", s.handleGetTemplate()).Methods(http.MethodGet)
	api.HandleFunc("/templates/{id}", s.handleUpdateTemplate()).Methods(http.MethodPut)
	api.HandleFunc("/templates/{id}", s.handleDeleteTemplate()).Methods(http.MethodDelete)
	api.HandleFunc("/templates/{id}/submit", s.handleSubmitTemplate()).Methods(http.MethodPost)
	api.HandleFunc("/templates/{id}/decision", s.handleDecideTemplate()).Methods(http.MethodPost)
	api.HandleFunc("/templates/{id}/archive", s.handleArchiveTemplate()).Methods(http.MethodPost)

	api.HandleFunc("/features", s.handleListFeatures()).Methods(http.MethodGet)

	if s.hub != nil && s.flags.IsEnabled(features.FlagWebsocketEvents) {
		s.router.HandleFunc("/ws/events", s.hub.HandleSubscribe).Methods(http.MethodGet)
	}
}

func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", s.cfg.Port),
		Handler:      s.router,
		ReadTimeout:  time.Duration(s.cfg.ReadTimeoutSec) * time.Second,
		WriteTimeout: time.Duration(s.cfg.WriteTimeoutSec) * time.Second,
		IdleTimeout:  time.Duration(s.cfg.IdleTimeoutSec) * time.Second,
	}

	s.logger.WithField("port", s.cfg.Port).Info("Starting server")
	return s.server.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.hub != nil {
		s.hub.Close()
	}
	return s.server.Shutdown(ctx)
}

func (s *Server) handleHealth() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	}
}

// handleProviderWebhook accepts delivery reports and inbound messages. Every
// path answers 200: an error status only makes the provider redeliver a
// payload we will never accept, so failures are logged and swallowed. A
// transient reconcile failure still gets another chance because its dedup
// key is released before the error surfaces here.
func (s *Server) handleProviderWebhook() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.acceptWebhook(r)
		w.WriteHeader(http.StatusOK)
	}
}

func (s *Server) acceptWebhook(r *http.Request) {
	if err := validation.ValidateHTTPRequestSize(r, constants.MaxWebhookPayloadBytes); err != nil {
		s.logger.WithError(err).Warn("Webhook payload rejected")
		return
	}

	payload, err := provider.ParseWebhook(r)
	if err != nil {
		s.logger.WithError(err).Warn("Webhook payload unparseable")
		return
	}

	if err := s.reconciler.Reconcile(r.Context(), payload); err != nil {
		s.logger.WithError(err).Error("Webhook reconciliation failed")
	}
}

func (s *Server) handleEnqueueMessage() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req service.SendRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.writeError(w, r, apperrors.Wrap(err, apperrors.ErrCodeInvalidInput, "invalid request body"))
			return
		}
		msg, err := s.messages.Enqueue(r.Context(), req)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		s.writeJSON(w, http.StatusAccepted, msg)
	}
}

func (s *Server) handleGetMessage() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := mux.Vars(r)["id"]
		msg, err := s.messages.Get(r.Context(), id)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		if msg == nil {
			s.writeError(w, r, apperrors.New(apperrors.ErrCodeNotFound, "message not found").WithUserMessage("Message not found"))
			return
		}
		s.writeJSON(w, http.StatusOK, msg)
	}
}

func (s *Server) handleListMessageEvents() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := mux.Vars(r)["id"]
		events, err := s.messages.Events(r.Context(), id)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		if events == nil {
			events = []*models.MessageEvent{}
		}
		s.writeJSON(w, http.StatusOK, events)
	}
}

func (s *Server) handleRetryMessage() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := mux.Vars(r)["id"]
		result, err := s.retries.ScheduleByID(r.Context(), id)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		status := http.StatusAccepted
		if !result.Scheduled {
			status = http.StatusConflict
		}
		s.writeJSON(w, status, map[string]interface{}{
			"scheduled":   result.Scheduled,
			"attempt":     result.Attempt,
			"scheduledAt": result.ScheduledAt,
			"reason":      result.Reason,
		})
	}
}

type templateRequest struct {
	Name string `json:"name"`
	Body string `json:"body"`
}

func (s *Server) handleCreateTemplate() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req templateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.writeError(w, r, apperrors.Wrap(err, apperrors.ErrCodeInvalidInput, "invalid request body"))
			return
		}
		tpl, err := s.templates.Create(r.Context(), req.Name, req.Body)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		s.writeJSON(w, http.StatusCreated, tpl)
	}
}

func (s *Server) handleListTemplates() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tpls, err := s.templates.List(r.Context())
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		if tpls == nil {
			tpls = []*models.Template{}
		}
		s.writeJSON(w, http.StatusOK, tpls)
	}
}

func (s *Server) handleGetTemplate() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tpl, err := s.templates.Get(r.Context(), mux.Vars(r)["id"])
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		s.writeJSON(w, http.StatusOK, tpl)
	}
}

func (s *Server) handleUpdateTemplate() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req templateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.writeError(w, r, apperrors.Wrap(err, apperrors.ErrCodeInvalidInput, "invalid request body"))
			return
		}
		tpl, err := s.templates.UpdateBody(r.Context(), mux.Vars(r)["id"], req.Body)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		s.writeJSON(w, http.StatusOK, tpl)
	}
}

func (s *Server) handleDeleteTemplate() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := s.templates.Delete(r.Context(), mux.Vars(r)["id"]); err != nil {
			s.writeError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

type submitRequest struct {
	Requester string `json:"requester"`
}

func (s *Server) handleSubmitTemplate() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req submitRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.writeError(w, r, apperrors.Wrap(err, apperrors.ErrCodeInvalidInput, "invalid request body"))
			return
		}
		tpl, err := s.templates.Submit(r.Context(), mux.Vars(r)["id"], req.Requester)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		s.writeJSON(w, http.StatusOK, tpl)
	}
}

type decisionRequest struct {
	Reviewer string                `json:"reviewer"`
	Decision models.ReviewDecision `json:"decision"`
	Comments *string               `json:"comments,omitempty"`
}

func (s *Server) handleDecideTemplate() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req decisionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.writeError(w, r, apperrors.Wrap(err, apperrors.ErrCodeInvalidInput, "invalid request body"))
			return
		}
		if req.Decision != models.DecisionApproved && req.Decision != models.DecisionRejected {
			s.writeError(w, r, apperrors.New(apperrors.ErrCodeInvalidInput, "decision must be approved or rejected").
				WithUserMessage("Decision must be approved or rejected"))
			return
		}
		tpl, err := s.templates.Decide(r.Context(), mux.Vars(r)["id"], req.Reviewer, req.Decision, req.Comments)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		s.writeJSON(w, http.StatusOK, tpl)
	}
}

func (s *Server) handleArchiveTemplate() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tpl, err := s.templates.Archive(r.Context(), mux.Vars(r)["id"])
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		s.writeJSON(w, http.StatusOK, tpl)
	}
}

func (s *Server) handleListFeatures() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.writeJSON(w, http.StatusOK, s.flags.All())
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.logger.WithError(err).Error("Failed to encode response")
	}
}

// writeError maps application error codes onto HTTP statuses.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	code := apperrors.GetCode(err)

	status := http.StatusInternalServerError
	switch code {
	case apperrors.ErrCodeInvalidInput, apperrors.ErrCodeWebhookPayload,
		apperrors.ErrCodePrecondition, apperrors.ErrCodeMissingDestination:
		status = http.StatusBadRequest
	case apperrors.ErrCodeNotFound, apperrors.ErrCodeTemplateNotFound:
		status = http.StatusNotFound
	case apperrors.ErrCodeTemplateState, apperrors.ErrCodeTemplateNotApproved:
		status = http.StatusConflict
	case apperrors.ErrCodeSendTransient, apperrors.ErrCodeTemplateSync:
		status = http.StatusBadGateway
	}

	if status >= 500 {
		s.logger.WithError(err).WithField("path", r.URL.Path).Error("Request failed")
	} else {
		s.logger.WithError(err).WithField("path", r.URL.Path).Debug("Request rejected")
	}

	message := apperrors.GetUserMessage(err)
	if status < 500 {
		var appErr *apperrors.AppError
		if stderrors.As(err, &appErr) && appErr.UserMessage == "" {
			message = appErr.Message
		}
	}

	s.writeJSON(w, status, map[string]string{
		"error": message,
		"code":  string(code),
	})
}
