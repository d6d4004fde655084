package service

import (
	"context"
	"testing"
	"time"

	"msgflow/internal/models"
	"msgflow/pkg/provider"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

func syncableTemplate(id, externalID string, status models.TemplateStatus) *models.Template {
	return &models.Template{
		ID:         id,
		Name:       "tpl_" + id,
		Status:     status,
		ExternalID: &externalID,
	}
}

func TestTemplateSync_AdoptsApproval(t *testing.T) {
	store := &mockStore{}
	tp := &mockTemplateProvider{}
	notify := &recordingNotifier{}
	s := NewTemplateSync(store, tp, notify, testLogger())

	tpl := syncableTemplate("tpl-1", "ext-1", models.TemplatePending)
	updatedAt := time.Now().UTC()

	store.On("ListSyncableTemplates", mock.Anything).Return([]*models.Template{tpl}, nil)
	tp.On("GetTemplateStatus", mock.Anything, "ext-1").Return(&provider.TemplateStatusInfo{
		Status:    provider.TemplateStatusApproved,
		UpdatedAt: updatedAt,
	}, nil)
	store.On("SyncTemplateStatus", mock.Anything, "tpl-1", models.TemplateApproved, (*string)(nil),
		mock.MatchedBy(func(at *time.Time) bool { return at != nil }), updatedAt).
		Return(true, nil)

	s.SyncAll(context.Background())

	store.AssertExpectations(t)
	tp.AssertExpectations(t)
	assert.Equal(t, 1, notify.TopicCount(TopicTemplateStatus))
}

func TestTemplateSync_AdoptsRejectionWithReason(t *testing.T) {
	store := &mockStore{}
	tp := &mockTemplateProvider{}
	s := NewTemplateSync(store, tp, nil, testLogger())

	tpl := syncableTemplate("tpl-1", "ext-1", models.TemplatePending)
	updatedAt := time.Now().UTC()

	store.On("ListSyncableTemplates", mock.Anything).Return([]*models.Template{tpl}, nil)
	tp.On("GetTemplateStatus", mock.Anything, "ext-1").Return(&provider.TemplateStatusInfo{
		Status:    provider.TemplateStatusRejected,
		Reason:    "policy violation",
		UpdatedAt: updatedAt,
	}, nil)
	store.On("SyncTemplateStatus", mock.Anything, "tpl-1", models.TemplateRejected,
		mock.MatchedBy(func(reason *string) bool { return reason != nil && *reason == "policy violation" }),
		(*time.Time)(nil), updatedAt).
		Return(true, nil)

	s.SyncAll(context.Background())

	store.AssertExpectations(t)
}

func TestTemplateSync_SameStatusSkipped(t *testing.T) {
	store := &mockStore{}
	tp := &mockTemplateProvider{}
	s := NewTemplateSync(store, tp, nil, testLogger())

	tpl := syncableTemplate("tpl-1", "ext-1", models.TemplateApproved)

	store.On("ListSyncableTemplates", mock.Anything).Return([]*models.Template{tpl}, nil)
	tp.On("GetTemplateStatus", mock.Anything, "ext-1").Return(&provider.TemplateStatusInfo{
		Status:    provider.TemplateStatusApproved,
		UpdatedAt: time.Now().UTC(),
	}, nil)

	s.SyncAll(context.Background())

	store.AssertNotCalled(t, "SyncTemplateStatus",
		mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestTemplateSync_ApprovedNotRegressedByReviewBlip(t *testing.T) {
	store := &mockStore{}
	tp := &mockTemplateProvider{}
	s := NewTemplateSync(store, tp, nil, testLogger())

	// The provider briefly reports in_review for an already approved
	// template. Approved never moves back to pending.
	tpl := syncableTemplate("tpl-1", "ext-1", models.TemplateApproved)

	store.On("ListSyncableTemplates", mock.Anything).Return([]*models.Template{tpl}, nil)
	tp.On("GetTemplateStatus", mock.Anything, "ext-1").Return(&provider.TemplateStatusInfo{
		Status:    provider.TemplateStatusInReview,
		UpdatedAt: time.Now().UTC(),
	}, nil)

	s.SyncAll(context.Background())

	store.AssertNotCalled(t, "SyncTemplateStatus",
		mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestTemplateSync_UnknownProviderStatusIgnored(t *testing.T) {
	store := &mockStore{}
	tp := &mockTemplateProvider{}
	s := NewTemplateSync(store, tp, nil, testLogger())

	tpl := syncableTemplate("tpl-1", "ext-1", models.TemplatePending)

	store.On("ListSyncableTemplates", mock.Anything).Return([]*models.Template{tpl}, nil)
	tp.On("GetTemplateStatus", mock.Anything, "ext-1").Return(&provider.TemplateStatusInfo{
		Status:    "paused",
		UpdatedAt: time.Now().UTC(),
	}, nil)

	s.SyncAll(context.Background())

	store.AssertNotCalled(t, "SyncTemplateStatus",
		mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestTemplateSync_OneFailureDoesNotStallOthers(t *testing.T) {
	store := &mockStore{}
	tp := &mockTemplateProvider{}
	s := NewTemplateSync(store, tp, nil, testLogger())

	broken := syncableTemplate("tpl-1", "ext-1", models.TemplatePending)
	healthy := syncableTemplate("tpl-2", "ext-2", models.TemplatePending)
	updatedAt := time.Now().UTC()

	store.On("ListSyncableTemplates", mock.Anything).Return([]*models.Template{broken, healthy}, nil)
	tp.On("GetTemplateStatus", mock.Anything, "ext-1").Return(nil, assert.AnError)
	tp.On("GetTemplateStatus", mock.Anything, "ext-2").Return(&provider.TemplateStatusInfo{
		Status:    provider.TemplateStatusApproved,
		UpdatedAt: updatedAt,
	}, nil)
	store.On("SyncTemplateStatus", mock.Anything, "tpl-2", models.TemplateApproved, (*string)(nil),
		mock.Anything, updatedAt).
		Return(true, nil)

	s.SyncAll(context.Background())

	store.AssertExpectations(t)
	tp.AssertExpectations(t)
}

func TestTemplateSync_MapProviderStatus(t *testing.T) {
	tests := []struct {
		providerStatus string
		want           models.TemplateStatus
		ok             bool
	}{
		{provider.TemplateStatusApproved, models.TemplateApproved, true},
		{provider.TemplateStatusRejected, models.TemplateRejected, true},
		{provider.TemplateStatusPending, models.TemplatePending, true},
		{provider.TemplateStatusInReview, models.TemplatePending, true},
		{provider.TemplateStatusDisabled, models.TemplateArchived, true},
		{provider.TemplateStatusDeleted, models.TemplateArchived, true},
		{"paused", "", false},
	}

	for _, tt := range tests {
		got, ok := mapProviderStatus(tt.providerStatus)
		assert.Equal(t, tt.ok, ok, tt.providerStatus)
		assert.Equal(t, tt.want, got, tt.providerStatus)
	}
}

func TestTemplateSync_BackfillContentRefs(t *testing.T) {
	store := &mockStore{}
	tp := &mockTemplateProvider{}
	s := NewTemplateSync(store, tp, nil, testLogger())

	waiting := syncableTemplate("tpl-1", "ext-1", models.TemplateApproved)
	notReady := syncableTemplate("tpl-2", "ext-2", models.TemplateApproved)

	store.On("ListApprovedWithoutContentRef", mock.Anything).
		Return([]*models.Template{waiting, notReady}, nil)
	tp.On("GetTemplateContentRef", mock.Anything, "ext-1").Return("ctr-1", nil)
	tp.On("GetTemplateContentRef", mock.Anything, "ext-2").Return("", nil)
	store.On("SetTemplateContentRef", mock.Anything, "tpl-1", "ctr-1").Return(true, nil)

	s.BackfillContentRefs(context.Background())

	store.AssertExpectations(t)
	// Empty refs are skipped until the provider finishes building.
	store.AssertNotCalled(t, "SetTemplateContentRef", mock.Anything, "tpl-2", mock.Anything)
}
