package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func strPtr(s string) *string { return &s }

func TestCanTransitionTemplate(t *testing.T) {
	tests := []struct {
		name string
		from TemplateStatus
		to   TemplateStatus
		want bool
	}{
		{"draft to pending", TemplateDraft, TemplatePending, true},
		{"pending to approved", TemplatePending, TemplateApproved, true},
		{"pending to rejected", TemplatePending, TemplateRejected, true},
		{"rejected resubmit", TemplateRejected, TemplatePending, true},
		{"approved to archived", TemplateApproved, TemplateArchived, true},
		{"same status no-op", TemplateApproved, TemplateApproved, true},
		{"draft cannot self-approve", TemplateDraft, TemplateApproved, false},
		{"approved cannot revert", TemplateApproved, TemplateDraft, false},
		{"approved cannot be rejected", TemplateApproved, TemplateRejected, false},
		{"archived is final", TemplateArchived, TemplatePending, false},
		{"rejected cannot be approved directly", TemplateRejected, TemplateApproved, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CanTransitionTemplate(tt.from, tt.to))
		})
	}
}

func TestTemplate_IsSendable(t *testing.T) {
	tests := []struct {
		name string
		tpl  Template
		want bool
	}{
		{"approved with content ref", Template{Status: TemplateApproved, ContentRef: strPtr("ctr-1")}, true},
		{"approved without content ref", Template{Status: TemplateApproved}, false},
		{"approved with empty content ref", Template{Status: TemplateApproved, ContentRef: strPtr("")}, false},
		{"pending with content ref", Template{Status: TemplatePending, ContentRef: strPtr("ctr-1")}, false},
		{"draft", Template{Status: TemplateDraft}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.tpl.IsSendable())
		})
	}
}

func TestTemplate_IsDeletable(t *testing.T) {
	assert.True(t, (&Template{Status: TemplateDraft}).IsDeletable())
	assert.True(t, (&Template{Status: TemplateRejected}).IsDeletable())
	assert.False(t, (&Template{Status: TemplatePending}).IsDeletable())
	assert.False(t, (&Template{Status: TemplateApproved}).IsDeletable())
	assert.False(t, (&Template{Status: TemplateArchived}).IsDeletable())
}

func TestTemplate_Placeholders(t *testing.T) {
	tests := []struct {
		name string
		body string
		want []string
	}{
		{"none", "plain text", nil},
		{"single", "Hello {{name}}", []string{"name"}},
		{"ordered by first appearance", "{{last}} then {{first}} then {{last}}", []string{"last", "first"}},
		{"whitespace tolerated", "Hi {{ name }}, code {{code}}", []string{"name", "code"}},
		{"underscores and digits", "{{order_id}} {{item2}}", []string{"order_id", "item2"}},
		{"malformed ignored", "{{bad name}} {{good}}", []string{"good"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tpl := &Template{Body: tt.body}
			assert.Equal(t, tt.want, tpl.Placeholders())
		})
	}
}
