package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"msgflow/internal/models"

	"github.com/google/uuid"
)

func (d *Database) CreateTemplate(ctx context.Context, tpl *models.Template) error {
	if tpl.ID == "" {
		tpl.ID = uuid.NewString()
	}
	if tpl.Status == "" {
		tpl.Status = models.TemplateDraft
	}
	return retryableDBOperation(ctx, func() error {
		_, err := d.db.ExecContext(ctx, insertTemplateQuery, tpl.ID, tpl.Name, tpl.Body, tpl.Status)
		if err != nil {
			return fmt.Errorf("failed to save template: %w", err)
		}
		return nil
	}, "create template")
}

func (d *Database) GetTemplate(ctx context.Context, id string) (*models.Template, error) {
	tpl, err := d.scanTemplate(d.db.QueryRowContext(ctx, selectTemplateColumns+` WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get template: %w", err)
	}
	return tpl, nil
}

func (d *Database) ListTemplates(ctx context.Context) ([]*models.Template, error) {
	return d.listTemplates(ctx, selectTemplateColumns+` ORDER BY created_at ASC`)
}

// ListSyncableTemplates returns templates that have been submitted to the
// provider and are not archived; these are the rows the sync job polls.
func (d *Database) ListSyncableTemplates(ctx context.Context) ([]*models.Template, error) {
	return d.listTemplates(ctx, selectTemplateColumns+`
		WHERE external_id IS NOT NULL AND external_id != '' AND status != 'archived'
		ORDER BY created_at ASC`)
}

// ListApprovedWithoutContentRef returns approved templates the provider has
// not yet reported a content reference for.
func (d *Database) ListApprovedWithoutContentRef(ctx context.Context) ([]*models.Template, error) {
	return d.listTemplates(ctx, selectTemplateColumns+`
		WHERE status = 'approved' AND (content_ref IS NULL OR content_ref = '')
		  AND external_id IS NOT NULL AND external_id != ''
		ORDER BY approved_at ASC`)
}

func (d *Database) listTemplates(ctx context.Context, query string, args ...interface{}) ([]*models.Template, error) {
	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list templates: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var tpls []*models.Template
	for rows.Next() {
		tpl, err := d.scanTemplate(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan template: %w", err)
		}
		tpls = append(tpls, tpl)
	}
	return tpls, rows.Err()
}

func (d *Database) scanTemplate(row rowScanner) (*models.Template, error) {
	tpl := &models.Template{}
	var submittedAt, approvedAt sql.NullTime

	err := row.Scan(
		&tpl.ID,
		&tpl.Name,
		&tpl.Body,
		&tpl.Status,
		&tpl.ExternalID,
		&tpl.ContentRef,
		&tpl.RejectionReason,
		&submittedAt,
		&approvedAt,
		&tpl.CreatedAt,
		&tpl.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if submittedAt.Valid {
		t := submittedAt.Time
		tpl.SubmittedAt = &t
	}
	if approvedAt.Valid {
		t := approvedAt.Time
		tpl.ApprovedAt = &t
	}
	return tpl, nil
}

// UpdateTemplateBody edits the draft body. Returns false when the template
// is not editable (submitted, approved or archived).
func (d *Database) UpdateTemplateBody(ctx context.Context, id, body string) (bool, error) {
	res, err := d.db.ExecContext(ctx, updateTemplateBodyQuery, body, time.Now().UTC(), id)
	if err != nil {
		return false, fmt.Errorf("failed to update template body: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to check template update: %w", err)
	}
	return affected == 1, nil
}

// MarkTemplateSubmitted moves a draft or rejected template into pending
// review. The external id is only adopted on first submission and never
// overwritten.
func (d *Database) MarkTemplateSubmitted(ctx context.Context, id, externalID string) (bool, error) {
	now := time.Now().UTC()
	res, err := d.db.ExecContext(ctx, markTemplateSubmittedQuery, externalID, now, now, id)
	if err != nil {
		return false, fmt.Errorf("failed to mark template submitted: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to check template submission: %w", err)
	}
	return affected == 1, nil
}

// SetTemplateStatus applies a local review decision.
func (d *Database) SetTemplateStatus(ctx context.Context, id string, status models.TemplateStatus, rejectionReason *string, approvedAt *time.Time) error {
	_, err := d.db.ExecContext(ctx, setTemplateStatusQuery,
		status, rejectionReason, toUTC(approvedAt), time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to set template status: %w", err)
	}
	return nil
}

// SyncTemplateStatus applies the provider's authoritative status with
// last-write-wins on updated_at. Returns false when the local row is newer
// than the provider's report.
func (d *Database) SyncTemplateStatus(ctx context.Context, id string, status models.TemplateStatus, rejectionReason *string, approvedAt *time.Time, providerUpdatedAt time.Time) (bool, error) {
	res, err := d.db.ExecContext(ctx, syncTemplateStatusQuery,
		status, rejectionReason, toUTC(approvedAt), providerUpdatedAt.UTC(), id, providerUpdatedAt.UTC())
	if err != nil {
		return false, fmt.Errorf("failed to sync template status: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to check template sync: %w", err)
	}
	return affected == 1, nil
}

// SetTemplateContentRef backfills the provider content reference. A
// reference already present is never replaced.
func (d *Database) SetTemplateContentRef(ctx context.Context, id, contentRef string) (bool, error) {
	res, err := d.db.ExecContext(ctx, setTemplateContentRefQuery, contentRef, time.Now().UTC(), id)
	if err != nil {
		return false, fmt.Errorf("failed to set template content ref: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to check content ref update: %w", err)
	}
	return affected == 1, nil
}

// DeleteTemplate removes a draft or rejected template. Returns false when
// the template is in a state that must be kept.
func (d *Database) DeleteTemplate(ctx context.Context, id string) (bool, error) {
	res, err := d.db.ExecContext(ctx, deleteTemplateQuery, id)
	if err != nil {
		return false, fmt.Errorf("failed to delete template: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to check template delete: %w", err)
	}
	return affected == 1, nil
}

func (d *Database) InsertTemplateRequest(ctx context.Context, req *models.TemplateRequest) error {
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	_, err := d.db.ExecContext(ctx, insertTemplateRequestQuery, req.ID, req.TemplateID, req.Requester)
	if err != nil {
		return fmt.Errorf("failed to insert template request: %w", err)
	}
	return nil
}

// LatestPendingTemplateRequest returns the most recent undecided review
// request for the template, or nil when none is actionable.
func (d *Database) LatestPendingTemplateRequest(ctx context.Context, templateID string) (*models.TemplateRequest, error) {
	req := &models.TemplateRequest{}
	var decidedAt sql.NullTime
	err := d.db.QueryRowContext(ctx, selectLatestPendingRequestQuery, templateID).Scan(
		&req.ID,
		&req.TemplateID,
		&req.Requester,
		&req.Reviewer,
		&req.Decision,
		&req.Comments,
		&req.RequestedAt,
		&decidedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get pending template request: %w", err)
	}
	if decidedAt.Valid {
		t := decidedAt.Time
		req.DecidedAt = &t
	}
	return req, nil
}

// DecideTemplateRequest records the reviewer's decision on an open request.
func (d *Database) DecideTemplateRequest(ctx context.Context, requestID, reviewer string, decision models.ReviewDecision, comments *string) (bool, error) {
	res, err := d.db.ExecContext(ctx, decideTemplateRequestQuery,
		reviewer, decision, comments, time.Now().UTC(), requestID)
	if err != nil {
		return false, fmt.Errorf("failed to decide template request: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to check request decision: %w", err)
	}
	return affected == 1, nil
}
