package models

import (
	"regexp"
	"time"
)

type TemplateStatus string

const (
	TemplateDraft    TemplateStatus = "draft"
	TemplatePending  TemplateStatus = "pending"
	TemplateApproved TemplateStatus = "approved"
	TemplateRejected TemplateStatus = "rejected"
	TemplateArchived TemplateStatus = "archived"
)

// Template is a reusable message body with {{placeholder}} markers that must
// pass external review before it can be referenced by outbound messages.
type Template struct {
	ID              string         `json:"id" db:"id"`
	Name            string         `json:"name" db:"name"`
	Body            string         `json:"body" db:"body"`
	Status          TemplateStatus `json:"status" db:"status"`
	ExternalID      *string        `json:"externalId,omitempty" db:"external_id"`
	ContentRef      *string        `json:"contentRef,omitempty" db:"content_ref"`
	RejectionReason *string        `json:"rejectionReason,omitempty" db:"rejection_reason"`
	SubmittedAt     *time.Time     `json:"submittedAt,omitempty" db:"submitted_at"`
	ApprovedAt      *time.Time     `json:"approvedAt,omitempty" db:"approved_at"`
	CreatedAt       time.Time      `json:"createdAt" db:"created_at"`
	UpdatedAt       time.Time      `json:"updatedAt" db:"updated_at"`
}

type ReviewDecision string

const (
	DecisionApproved ReviewDecision = "approved"
	DecisionRejected ReviewDecision = "rejected"
)

// TemplateRequest records one review cycle of a template. Multiple requests
// may exist per template; only the most recent undecided one is actionable.
type TemplateRequest struct {
	ID          string          `json:"id" db:"id"`
	TemplateID  string          `json:"templateId" db:"template_id"`
	Requester   string          `json:"requester" db:"requester"`
	Reviewer    *string         `json:"reviewer,omitempty" db:"reviewer"`
	Decision    *ReviewDecision `json:"decision,omitempty" db:"decision"`
	Comments    *string         `json:"comments,omitempty" db:"comments"`
	RequestedAt time.Time       `json:"requestedAt" db:"requested_at"`
	DecidedAt   *time.Time      `json:"decidedAt,omitempty" db:"decided_at"`
}

// templateTransitions lists the legal forward moves. Rejected templates may
// be resubmitted; approved ones can only be archived, never edited back to
// draft.
var templateTransitions = map[TemplateStatus][]TemplateStatus{
	TemplateDraft:    {TemplatePending},
	TemplatePending:  {TemplateApproved, TemplateRejected},
	TemplateRejected: {TemplatePending},
	TemplateApproved: {TemplateArchived},
}

// CanTransitionTemplate reports whether a template may move between the two
// statuses. A no-op transition (same status) is always allowed so repeated
// sync reports do not error.
func CanTransitionTemplate(from, to TemplateStatus) bool {
	if from == to {
		return true
	}
	for _, next := range templateTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// IsSendable reports whether messages referencing the template may be
// dispatched: approved locally and the provider has finished building the
// deliverable artifact.
func (t *Template) IsSendable() bool {
	return t.Status == TemplateApproved && t.ContentRef != nil && *t.ContentRef != ""
}

// IsDeletable reports whether the template may be removed. Approved and
// archived templates are kept for audit.
func (t *Template) IsDeletable() bool {
	return t.Status == TemplateDraft || t.Status == TemplateRejected
}

var placeholderPattern = regexp.MustCompile(`\{\{\s*([a-zA-Z0-9_]+)\s*\}\}`)

// Placeholders returns the distinct placeholder names in the template body,
// in order of first appearance.
func (t *Template) Placeholders() []string {
	seen := make(map[string]bool)
	var names []string
	for _, m := range placeholderPattern.FindAllStringSubmatch(t.Body, -1) {
		if !seen[m[1]] {
			seen[m[1]] = true
			names = append(names, m[1])
		}
	}
	return names
}
