package service

import (
	"context"
	"fmt"
	"time"

	"msgflow/internal/errors"
	"msgflow/internal/models"
	"msgflow/internal/validation"
	"msgflow/pkg/provider"

	"github.com/sirupsen/logrus"
)

// TemplateStore is the slice of the store the template service needs.
type TemplateStore interface {
	CreateTemplate(ctx context.Context, tpl *models.Template) error
	GetTemplate(ctx context.Context, id string) (*models.Template, error)
	ListTemplates(ctx context.Context) ([]*models.Template, error)
	UpdateTemplateBody(ctx context.Context, id, body string) (bool, error)
	MarkTemplateSubmitted(ctx context.Context, id, externalID string) (bool, error)
	SetTemplateStatus(ctx context.Context, id string, status models.TemplateStatus, rejectionReason *string, approvedAt *time.Time) error
	DeleteTemplate(ctx context.Context, id string) (bool, error)
	InsertTemplateRequest(ctx context.Context, req *models.TemplateRequest) error
	LatestPendingTemplateRequest(ctx context.Context, templateID string) (*models.TemplateRequest, error)
	DecideTemplateRequest(ctx context.Context, requestID, reviewer string, decision models.ReviewDecision, comments *string) (bool, error)
}

// TemplateService owns the local template lifecycle: authoring, submission
// for external review, local decisions and deletion. The sync job is the
// only other writer of template status.
type TemplateService struct {
	store    TemplateStore
	provider provider.TemplateProvider
	notify   Notifier
	logger   *logrus.Logger
}

func NewTemplateService(store TemplateStore, tp provider.TemplateProvider, notify Notifier, logger *logrus.Logger) *TemplateService {
	if notify == nil {
		notify = NoopNotifier{}
	}
	return &TemplateService{
		store:    store,
		provider: tp,
		notify:   notify,
		logger:   logger,
	}
}

// Create registers a new draft template.
func (s *TemplateService) Create(ctx context.Context, name, body string) (*models.Template, error) {
	if err := validation.ValidateTemplateName(name); err != nil {
		return nil, err
	}
	if body == "" {
		return nil, errors.New(errors.ErrCodeTemplateState, "template body is required")
	}
	tpl := &models.Template{
		Name:   name,
		Body:   body,
		Status: models.TemplateDraft,
	}
	if err := s.store.CreateTemplate(ctx, tpl); err != nil {
		return nil, err
	}
	s.logger.WithFields(logrus.Fields{
		"templateId": tpl.ID,
		"name":       name,
	}).Info("Created template draft")
	return tpl, nil
}

// UpdateBody edits the body of a draft template. Templates that have entered
// review or beyond are immutable.
func (s *TemplateService) UpdateBody(ctx context.Context, id, body string) (*models.Template, error) {
	tpl, err := s.getExisting(ctx, id)
	if err != nil {
		return nil, err
	}
	if tpl.Status != models.TemplateDraft {
		return nil, errors.New(errors.ErrCodeTemplateState,
			fmt.Sprintf("template is %s and cannot be edited", tpl.Status)).
			WithUserMessage("Only draft templates can be edited")
	}
	updated, err := s.store.UpdateTemplateBody(ctx, id, body)
	if err != nil {
		return nil, err
	}
	if !updated {
		return nil, errors.New(errors.ErrCodeTemplateState, "template state changed concurrently")
	}
	return s.store.GetTemplate(ctx, id)
}

// Submit sends a draft or rejected template to the provider for review and
// records the review request. The external id returned by the provider is
// adopted once and never overwritten on resubmission.
func (s *TemplateService) Submit(ctx context.Context, id, requester string) (*models.Template, error) {
	tpl, err := s.getExisting(ctx, id)
	if err != nil {
		return nil, err
	}
	if !models.CanTransitionTemplate(tpl.Status, models.TemplatePending) {
		return nil, errors.New(errors.ErrCodeTemplateState,
			fmt.Sprintf("template is %s and cannot be submitted", tpl.Status)).
			WithUserMessage("Only draft or rejected templates can be submitted")
	}

	externalID, err := s.provider.SubmitTemplate(ctx, provider.TemplateDefinition{
		Name:         tpl.Name,
		Body:         tpl.Body,
		Placeholders: tpl.Placeholders(),
	})
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeTemplateSync, "provider rejected template submission")
	}

	moved, err := s.store.MarkTemplateSubmitted(ctx, id, externalID)
	if err != nil {
		return nil, err
	}
	if !moved {
		return nil, errors.New(errors.ErrCodeTemplateState, "template state changed concurrently")
	}

	if err := s.store.InsertTemplateRequest(ctx, &models.TemplateRequest{
		TemplateID: id,
		Requester:  requester,
	}); err != nil {
		return nil, err
	}

	s.logger.WithFields(logrus.Fields{
		"templateId": id,
		"externalId": externalID,
		"requester":  requester,
	}).Info("Submitted template for review")
	s.notify.Publish(TopicTemplateStatus, map[string]interface{}{
		"templateId": id,
		"status":     models.TemplatePending,
	})
	return s.store.GetTemplate(ctx, id)
}

// Decide applies a local review decision to a pending template and closes
// its open review request.
func (s *TemplateService) Decide(ctx context.Context, id, reviewer string, decision models.ReviewDecision, comments *string) (*models.Template, error) {
	tpl, err := s.getExisting(ctx, id)
	if err != nil {
		return nil, err
	}

	target := models.TemplateApproved
	if decision == models.DecisionRejected {
		target = models.TemplateRejected
	}
	if !models.CanTransitionTemplate(tpl.Status, target) {
		return nil, errors.New(errors.ErrCodeTemplateState,
			fmt.Sprintf("template is %s and cannot be %s", tpl.Status, decision)).
			WithUserMessage("Only pending templates can be decided")
	}

	var rejectionReason *string
	var approvedAt *time.Time
	if target == models.TemplateRejected {
		rejectionReason = comments
	} else {
		now := time.Now().UTC()
		approvedAt = &now
	}
	if err := s.store.SetTemplateStatus(ctx, id, target, rejectionReason, approvedAt); err != nil {
		return nil, err
	}

	if req, err := s.store.LatestPendingTemplateRequest(ctx, id); err != nil {
		return nil, err
	} else if req != nil {
		if _, err := s.store.DecideTemplateRequest(ctx, req.ID, reviewer, decision, comments); err != nil {
			return nil, err
		}
	}

	s.logger.WithFields(logrus.Fields{
		"templateId": id,
		"decision":   decision,
		"reviewer":   reviewer,
	}).Info("Recorded template decision")
	s.notify.Publish(TopicTemplateStatus, map[string]interface{}{
		"templateId": id,
		"status":     target,
	})
	return s.store.GetTemplate(ctx, id)
}

// Archive retires an approved template.
func (s *TemplateService) Archive(ctx context.Context, id string) (*models.Template, error) {
	tpl, err := s.getExisting(ctx, id)
	if err != nil {
		return nil, err
	}
	if !models.CanTransitionTemplate(tpl.Status, models.TemplateArchived) {
		return nil, errors.New(errors.ErrCodeTemplateState,
			fmt.Sprintf("template is %s and cannot be archived", tpl.Status)).
			WithUserMessage("Only approved templates can be archived")
	}
	if err := s.store.SetTemplateStatus(ctx, id, models.TemplateArchived, nil, nil); err != nil {
		return nil, err
	}
	s.notify.Publish(TopicTemplateStatus, map[string]interface{}{
		"templateId": id,
		"status":     models.TemplateArchived,
	})
	return s.store.GetTemplate(ctx, id)
}

// Delete removes a draft or rejected template.
func (s *TemplateService) Delete(ctx context.Context, id string) error {
	tpl, err := s.getExisting(ctx, id)
	if err != nil {
		return err
	}
	if !tpl.IsDeletable() {
		return errors.New(errors.ErrCodeTemplateState,
			fmt.Sprintf("template is %s and cannot be deleted", tpl.Status)).
			WithUserMessage("Only draft or rejected templates can be deleted")
	}
	deleted, err := s.store.DeleteTemplate(ctx, id)
	if err != nil {
		return err
	}
	if !deleted {
		return errors.New(errors.ErrCodeTemplateState, "template state changed concurrently")
	}
	s.logger.WithField("templateId", id).Info("Deleted template")
	return nil
}

// Get returns one template.
func (s *TemplateService) Get(ctx context.Context, id string) (*models.Template, error) {
	return s.getExisting(ctx, id)
}

// List returns all templates.
func (s *TemplateService) List(ctx context.Context) ([]*models.Template, error) {
	return s.store.ListTemplates(ctx)
}

func (s *TemplateService) getExisting(ctx context.Context, id string) (*models.Template, error) {
	tpl, err := s.store.GetTemplate(ctx, id)
	if err != nil {
		return nil, err
	}
	if tpl == nil {
		return nil, errors.New(errors.ErrCodeTemplateNotFound, fmt.Sprintf("template %s does not exist", id)).
			WithUserMessage("Template not found")
	}
	return tpl, nil
}
