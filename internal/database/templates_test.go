package database

import (
	"context"
	"testing"
	"time"

	"msgflow/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func createTestTemplate(t *testing.T, db *Database, name string) *models.Template {
	t.Helper()

	tpl := &models.Template{
		Name: name,
		Body: "Your code is {{code}}",
	}
	require.NoError(t, db.CreateTemplate(context.Background(), tpl))
	return tpl
}

func TestCreateTemplate_DefaultsToDraft(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	tpl := createTestTemplate(t, db, "otp_code")
	assert.NotEmpty(t, tpl.ID)
	assert.Equal(t, models.TemplateDraft, tpl.Status)

	stored, err := db.GetTemplate(ctx, tpl.ID)
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, "otp_code", stored.Name)
	assert.Nil(t, stored.ExternalID)
	assert.Nil(t, stored.ContentRef)
}

func TestCreateTemplate_DuplicateName(t *testing.T) {
	db := setupTestDB(t)

	createTestTemplate(t, db, "welcome")
	err := db.CreateTemplate(context.Background(), &models.Template{Name: "welcome", Body: "hi"})
	assert.Error(t, err)
}

func TestGetTemplate_NotFound(t *testing.T) {
	db := setupTestDB(t)

	tpl, err := db.GetTemplate(context.Background(), "missing-id")
	require.NoError(t, err)
	assert.Nil(t, tpl)
}

func TestUpdateTemplateBody_OnlyEditableStates(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	tpl := createTestTemplate(t, db, "reminder")

	applied, err := db.UpdateTemplateBody(ctx, tpl.ID, "Updated {{name}}")
	require.NoError(t, err)
	assert.True(t, applied)

	_, err = db.MarkTemplateSubmitted(ctx, tpl.ID, "ext-1")
	require.NoError(t, err)

	applied, err = db.UpdateTemplateBody(ctx, tpl.ID, "Too late")
	require.NoError(t, err)
	assert.False(t, applied)

	stored, err := db.GetTemplate(ctx, tpl.ID)
	require.NoError(t, err)
	assert.Equal(t, "Updated {{name}}", stored.Body)
}

func TestMarkTemplateSubmitted(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	tpl := createTestTemplate(t, db, "shipping_update")

	applied, err := db.MarkTemplateSubmitted(ctx, tpl.ID, "ext-42")
	require.NoError(t, err)
	assert.True(t, applied)

	stored, err := db.GetTemplate(ctx, tpl.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TemplatePending, stored.Status)
	require.NotNil(t, stored.ExternalID)
	assert.Equal(t, "ext-42", *stored.ExternalID)
	assert.NotNil(t, stored.SubmittedAt)

	// A pending template cannot be submitted again.
	applied, err = db.MarkTemplateSubmitted(ctx, tpl.ID, "ext-99")
	require.NoError(t, err)
	assert.False(t, applied)
}

func TestMarkTemplateSubmitted_PreservesExternalID(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	tpl := createTestTemplate(t, db, "promo")

	_, err := db.MarkTemplateSubmitted(ctx, tpl.ID, "ext-first")
	require.NoError(t, err)

	reason := "too promotional"
	require.NoError(t, db.SetTemplateStatus(ctx, tpl.ID, models.TemplateRejected, &reason, nil))

	// Resubmission keeps the identity the provider already knows.
	applied, err := db.MarkTemplateSubmitted(ctx, tpl.ID, "ext-second")
	require.NoError(t, err)
	assert.True(t, applied)

	stored, err := db.GetTemplate(ctx, tpl.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.ExternalID)
	assert.Equal(t, "ext-first", *stored.ExternalID)
	assert.Nil(t, stored.RejectionReason)
	assert.Equal(t, models.TemplatePending, stored.Status)
}

func TestSetTemplateStatus(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	tpl := createTestTemplate(t, db, "alert")
	_, err := db.MarkTemplateSubmitted(ctx, tpl.ID, "ext-1")
	require.NoError(t, err)

	approvedAt := time.Now().UTC()
	require.NoError(t, db.SetTemplateStatus(ctx, tpl.ID, models.TemplateApproved, nil, &approvedAt))

	stored, err := db.GetTemplate(ctx, tpl.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TemplateApproved, stored.Status)
	require.NotNil(t, stored.ApprovedAt)
	assert.WithinDuration(t, approvedAt, *stored.ApprovedAt, time.Second)
}

func TestSyncTemplateStatus_LastWriteWins(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	tpl := createTestTemplate(t, db, "receipt")
	_, err := db.MarkTemplateSubmitted(ctx, tpl.ID, "ext-1")
	require.NoError(t, err)

	// A provider report older than the local row is discarded.
	stale := time.Now().UTC().Add(-time.Hour)
	applied, err := db.SyncTemplateStatus(ctx, tpl.ID, models.TemplateApproved, nil, &stale, stale)
	require.NoError(t, err)
	assert.False(t, applied)

	stored, err := db.GetTemplate(ctx, tpl.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TemplatePending, stored.Status)

	fresh := time.Now().UTC().Add(time.Minute)
	applied, err = db.SyncTemplateStatus(ctx, tpl.ID, models.TemplateApproved, nil, &fresh, fresh)
	require.NoError(t, err)
	assert.True(t, applied)

	stored, err = db.GetTemplate(ctx, tpl.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TemplateApproved, stored.Status)
}

func TestSetTemplateContentRef_NeverOverwrites(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	tpl := createTestTemplate(t, db, "invoice")

	applied, err := db.SetTemplateContentRef(ctx, tpl.ID, "ctr-1")
	require.NoError(t, err)
	assert.True(t, applied)

	applied, err = db.SetTemplateContentRef(ctx, tpl.ID, "ctr-2")
	require.NoError(t, err)
	assert.False(t, applied)

	stored, err := db.GetTemplate(ctx, tpl.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.ContentRef)
	assert.Equal(t, "ctr-1", *stored.ContentRef)
}

func TestDeleteTemplate_OnlyDraftOrRejected(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	draft := createTestTemplate(t, db, "draft_tpl")
	deleted, err := db.DeleteTemplate(ctx, draft.ID)
	require.NoError(t, err)
	assert.True(t, deleted)

	kept := createTestTemplate(t, db, "kept_tpl")
	_, err = db.MarkTemplateSubmitted(ctx, kept.ID, "ext-1")
	require.NoError(t, err)

	deleted, err = db.DeleteTemplate(ctx, kept.ID)
	require.NoError(t, err)
	assert.False(t, deleted)

	stored, err := db.GetTemplate(ctx, kept.ID)
	require.NoError(t, err)
	assert.NotNil(t, stored)
}

func TestListSyncableTemplates(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	createTestTemplate(t, db, "never_submitted")

	submitted := createTestTemplate(t, db, "submitted")
	_, err := db.MarkTemplateSubmitted(ctx, submitted.ID, "ext-1")
	require.NoError(t, err)

	archived := createTestTemplate(t, db, "archived")
	_, err = db.MarkTemplateSubmitted(ctx, archived.ID, "ext-2")
	require.NoError(t, err)
	require.NoError(t, db.SetTemplateStatus(ctx, archived.ID, models.TemplateArchived, nil, nil))

	tpls, err := db.ListSyncableTemplates(ctx)
	require.NoError(t, err)
	require.Len(t, tpls, 1)
	assert.Equal(t, submitted.ID, tpls[0].ID)
}

func TestListApprovedWithoutContentRef(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	now := time.Now().UTC()

	missing := createTestTemplate(t, db, "missing_ref")
	_, err := db.MarkTemplateSubmitted(ctx, missing.ID, "ext-1")
	require.NoError(t, err)
	require.NoError(t, db.SetTemplateStatus(ctx, missing.ID, models.TemplateApproved, nil, &now))

	complete := createTestTemplate(t, db, "complete_ref")
	_, err = db.MarkTemplateSubmitted(ctx, complete.ID, "ext-2")
	require.NoError(t, err)
	require.NoError(t, db.SetTemplateStatus(ctx, complete.ID, models.TemplateApproved, nil, &now))
	_, err = db.SetTemplateContentRef(ctx, complete.ID, "ctr-1")
	require.NoError(t, err)

	tpls, err := db.ListApprovedWithoutContentRef(ctx)
	require.NoError(t, err)
	require.Len(t, tpls, 1)
	assert.Equal(t, missing.ID, tpls[0].ID)
}

func TestTemplateRequests_Lifecycle(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	tpl := createTestTemplate(t, db, "review_me")

	req := &models.TemplateRequest{TemplateID: tpl.ID, Requester: "ops@example.com"}
	require.NoError(t, db.InsertTemplateRequest(ctx, req))
	assert.NotEmpty(t, req.ID)

	pending, err := db.LatestPendingTemplateRequest(ctx, tpl.ID)
	require.NoError(t, err)
	require.NotNil(t, pending)
	assert.Equal(t, req.ID, pending.ID)
	assert.Nil(t, pending.Decision)

	comments := "looks fine"
	applied, err := db.DecideTemplateRequest(ctx, req.ID, "reviewer@example.com", models.DecisionApproved, &comments)
	require.NoError(t, err)
	assert.True(t, applied)

	// Decided requests are no longer actionable.
	pending, err = db.LatestPendingTemplateRequest(ctx, tpl.ID)
	require.NoError(t, err)
	assert.Nil(t, pending)

	applied, err = db.DecideTemplateRequest(ctx, req.ID, "reviewer@example.com", models.DecisionRejected, nil)
	require.NoError(t, err)
	assert.False(t, applied)
}
