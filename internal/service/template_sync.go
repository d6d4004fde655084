package service

import (
	"context"
	"time"

	"msgflow/internal/metrics"
	"msgflow/internal/models"
	"msgflow/pkg/provider"

	"github.com/sirupsen/logrus"
)

// TemplateSyncStore is the slice of the store the sync job needs.
type TemplateSyncStore interface {
	ListSyncableTemplates(ctx context.Context) ([]*models.Template, error)
	ListApprovedWithoutContentRef(ctx context.Context) ([]*models.Template, error)
	SyncTemplateStatus(ctx context.Context, id string, status models.TemplateStatus, rejectionReason *string, approvedAt *time.Time, providerUpdatedAt time.Time) (bool, error)
	SetTemplateContentRef(ctx context.Context, id, contentRef string) (bool, error)
}

// TemplateSync polls the provider for the authoritative review status of
// submitted templates and reconciles it into the local store. The provider
// wins conflicts by updated_at; a local row touched after the provider's
// report keeps its state until the next poll.
type TemplateSync struct {
	store    TemplateSyncStore
	provider provider.TemplateProvider
	notify   Notifier
	logger   *logrus.Logger
}

func NewTemplateSync(store TemplateSyncStore, tp provider.TemplateProvider, notify Notifier, logger *logrus.Logger) *TemplateSync {
	if notify == nil {
		notify = NoopNotifier{}
	}
	return &TemplateSync{
		store:    store,
		provider: tp,
		notify:   notify,
		logger:   logger,
	}
}

// SyncAll refreshes every submitted, non-archived template from the
// provider. Single-template failures are logged and skipped so one broken
// row cannot stall the rest.
func (s *TemplateSync) SyncAll(ctx context.Context) {
	tpls, err := s.store.ListSyncableTemplates(ctx)
	if err != nil {
		s.logger.WithError(err).Error("Failed to list syncable templates")
		return
	}

	for _, tpl := range tpls {
		if err := s.syncOne(ctx, tpl); err != nil {
			s.logger.WithError(err).WithField("templateId", tpl.ID).Warn("Template sync failed")
		}
	}
}

func (s *TemplateSync) syncOne(ctx context.Context, tpl *models.Template) error {
	info, err := s.provider.GetTemplateStatus(ctx, *tpl.ExternalID)
	if err != nil {
		return err
	}

	status, ok := mapProviderStatus(info.Status)
	if !ok {
		s.logger.WithFields(logrus.Fields{
			"templateId":     tpl.ID,
			"providerStatus": info.Status,
		}).Warn("Ignoring unknown provider template status")
		return nil
	}
	if status == tpl.Status {
		return nil
	}
	if !models.CanTransitionTemplate(tpl.Status, status) {
		// A provider blip reporting in_review for an approved template
		// must not drag it back to pending.
		s.logger.WithFields(logrus.Fields{
			"templateId":     tpl.ID,
			"from":           tpl.Status,
			"to":             status,
			"providerStatus": info.Status,
		}).Warn("Ignoring illegal template transition from provider")
		return nil
	}

	var rejectionReason *string
	var approvedAt *time.Time
	switch status {
	case models.TemplateRejected:
		if info.Reason != "" {
			reason := info.Reason
			rejectionReason = &reason
		}
	case models.TemplateApproved:
		at := info.UpdatedAt.UTC()
		approvedAt = &at
	}

	applied, err := s.store.SyncTemplateStatus(ctx, tpl.ID, status, rejectionReason, approvedAt, info.UpdatedAt)
	if err != nil {
		return err
	}
	if !applied {
		s.logger.WithFields(logrus.Fields{
			"templateId": tpl.ID,
			"status":     status,
		}).Debug("Skipped template sync, local row is newer")
		return nil
	}

	metrics.IncrementCounter(metrics.MetricTemplatesSynced, map[string]string{"status": string(status)}, "Template statuses adopted from the provider")
	s.notify.Publish(TopicTemplateStatus, map[string]interface{}{
		"templateId": tpl.ID,
		"status":     status,
	})
	s.logger.WithFields(logrus.Fields{
		"templateId": tpl.ID,
		"from":       tpl.Status,
		"to":         status,
	}).Info("Synced template status from provider")
	return nil
}

// BackfillContentRefs fetches the deliverable reference for approved
// templates that do not have one yet. Until the backfill lands the
// template stays unsendable.
func (s *TemplateSync) BackfillContentRefs(ctx context.Context) {
	tpls, err := s.store.ListApprovedWithoutContentRef(ctx)
	if err != nil {
		s.logger.WithError(err).Error("Failed to list templates awaiting content ref")
		return
	}

	for _, tpl := range tpls {
		ref, err := s.provider.GetTemplateContentRef(ctx, *tpl.ExternalID)
		if err != nil {
			s.logger.WithError(err).WithField("templateId", tpl.ID).Warn("Content ref fetch failed")
			continue
		}
		if ref == "" {
			continue
		}
		updated, err := s.store.SetTemplateContentRef(ctx, tpl.ID, ref)
		if err != nil {
			s.logger.WithError(err).WithField("templateId", tpl.ID).Warn("Content ref update failed")
			continue
		}
		if updated {
			s.logger.WithFields(logrus.Fields{
				"templateId": tpl.ID,
				"contentRef": ref,
			}).Info("Backfilled template content ref")
		}
	}
}

// mapProviderStatus translates the provider's review vocabulary into the
// local template statuses.
func mapProviderStatus(providerStatus string) (models.TemplateStatus, bool) {
	switch providerStatus {
	case provider.TemplateStatusApproved:
		return models.TemplateApproved, true
	case provider.TemplateStatusRejected:
		return models.TemplateRejected, true
	case provider.TemplateStatusPending, provider.TemplateStatusInReview:
		return models.TemplatePending, true
	case provider.TemplateStatusDisabled, provider.TemplateStatusDeleted:
		return models.TemplateArchived, true
	}
	return "", false
}
