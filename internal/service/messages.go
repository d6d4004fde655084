package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"msgflow/internal/constants"
	"msgflow/internal/errors"
	"msgflow/internal/models"
	"msgflow/internal/validation"

	"github.com/sirupsen/logrus"
)

// MessageStore is the slice of the store the intake service needs.
type MessageStore interface {
	CreateMessage(ctx context.Context, msg *models.Message) error
	GetMessage(ctx context.Context, id string) (*models.Message, error)
	InsertMessageEvent(ctx context.Context, event *models.MessageEvent) error
	ListMessageEvents(ctx context.Context, messageID string) ([]*models.MessageEvent, error)
	GetTemplate(ctx context.Context, id string) (*models.Template, error)
}

// SendRequest is the caller-facing shape of one outbound message.
// ScheduledAt defers dispatch until the given time; absent means send on the
// next tick.
type SendRequest struct {
	Channel        models.Channel    `json:"channel"`
	Destination    string            `json:"destination"`
	Body           string            `json:"body,omitempty"`
	Priority       models.Priority   `json:"priority,omitempty"`
	TemplateID     string            `json:"templateId,omitempty"`
	TemplateParams map[string]string `json:"templateParams,omitempty"`
	ScheduledAt    *time.Time        `json:"scheduledAt,omitempty"`
}

// MessageService accepts outbound messages into the queue. Acceptance is
// durable enqueue only; the dispatcher picks the message up on its next
// tick.
type MessageService struct {
	store  MessageStore
	logger *logrus.Logger
}

func NewMessageService(store MessageStore, logger *logrus.Logger) *MessageService {
	return &MessageService{store: store, logger: logger}
}

// Enqueue validates and persists one outbound message as pending.
func (s *MessageService) Enqueue(ctx context.Context, req SendRequest) (*models.Message, error) {
	if err := s.validate(ctx, req); err != nil {
		return nil, err
	}

	msg := &models.Message{
		Channel:     req.Channel,
		Destination: req.Destination,
		Body:        req.Body,
		Status:      models.StatusPending,
		Priority:    req.Priority,
		ScheduledAt: req.ScheduledAt,
	}
	if msg.Priority == "" {
		msg.Priority = models.PriorityNormal
	}
	if req.TemplateID != "" {
		templateID := req.TemplateID
		msg.TemplateID = &templateID
		if len(req.TemplateParams) > 0 {
			raw, err := json.Marshal(req.TemplateParams)
			if err != nil {
				return nil, errors.Wrap(err, errors.ErrCodePrecondition, "invalid template parameters")
			}
			params := string(raw)
			msg.TemplateParams = &params
		}
	}

	if err := s.store.CreateMessage(ctx, msg); err != nil {
		return nil, err
	}
	event := &models.MessageEvent{
		MessageID: msg.ID,
		Kind:      models.EventQueued,
	}
	if err := s.store.InsertMessageEvent(ctx, event); err != nil {
		s.logger.WithError(err).WithField("messageId", msg.ID).Error("Failed to record queued event")
	}

	s.logger.WithFields(logrus.Fields{
		"messageId": msg.ID,
		"channel":   msg.Channel,
		"priority":  msg.Priority,
	}).Info("Enqueued message")
	return msg, nil
}

func (s *MessageService) validate(ctx context.Context, req SendRequest) error {
	if err := validation.ValidateDestination(req.Channel, req.Destination); err != nil {
		return err
	}
	if req.Priority != "" && req.Priority != models.PriorityNormal && req.Priority != models.PriorityHigh {
		return errors.New(errors.ErrCodePrecondition, fmt.Sprintf("unknown priority %q", req.Priority)).
			WithUserMessage("Priority must be normal or high")
	}
	if req.TemplateID == "" && req.Body == "" {
		return errors.New(errors.ErrCodePrecondition, "either body or templateId is required").
			WithUserMessage("Either body or templateId is required")
	}
	if len(req.Body) > constants.MaxBodyLength {
		return errors.New(errors.ErrCodePrecondition, "body exceeds maximum length").
			WithUserMessage("Message body is too long")
	}
	if req.ScheduledAt != nil {
		horizon := time.Now().UTC().Add(constants.MaxScheduleAheadDays * 24 * time.Hour)
		if req.ScheduledAt.After(horizon) {
			return errors.New(errors.ErrCodePrecondition,
				fmt.Sprintf("scheduledAt is more than %d days ahead", constants.MaxScheduleAheadDays)).
				WithUserMessage("Scheduled time is too far in the future")
		}
	}
	if req.TemplateID != "" {
		tpl, err := s.store.GetTemplate(ctx, req.TemplateID)
		if err != nil {
			return err
		}
		if tpl == nil {
			return errors.New(errors.ErrCodeTemplateNotFound, fmt.Sprintf("template %s does not exist", req.TemplateID)).
				WithUserMessage("Template not found")
		}
	}
	return nil
}

// Get returns one message by id, nil when absent.
func (s *MessageService) Get(ctx context.Context, id string) (*models.Message, error) {
	return s.store.GetMessage(ctx, id)
}

// Events returns the lifecycle log for one message.
func (s *MessageService) Events(ctx context.Context, id string) ([]*models.MessageEvent, error) {
	return s.store.ListMessageEvents(ctx, id)
}
