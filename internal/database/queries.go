package database

// Message queries
const (
	insertMessageQuery = `
		INSERT INTO messages (
			id, channel, destination, body, status, priority,
			template_id, template_params, provider_id, retry_count,
			scheduled_at, last_error
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	selectMessageColumns = `
		SELECT id, channel, destination, body, status, priority,
		       template_id, template_params, provider_id, retry_count,
		       scheduled_at, last_error, created_at, updated_at
		FROM messages
	`

	selectDueMessagesQuery = selectMessageColumns + `
		WHERE status = 'pending'
		  AND priority = ?
		  AND retry_count < ?
		  AND (scheduled_at IS NULL OR scheduled_at <= ?)
		ORDER BY scheduled_at ASC
		LIMIT ?
	`

	claimMessageQuery = `
		UPDATE messages
		SET status = 'sending', updated_at = ?
		WHERE id = ? AND status = 'pending'
	`

	markMessageSentQuery = `
		UPDATE messages
		SET status = 'sent', provider_id = ?, last_error = NULL, updated_at = ?
		WHERE id = ? AND status = 'sending'
	`

	markMessageFailedQuery = `
		UPDATE messages
		SET status = 'failed', last_error = ?, updated_at = ?
		WHERE id = ? AND status IN ('pending', 'sending')
	`

	exhaustMessageRetriesQuery = `
		UPDATE messages
		SET retry_count = ?, updated_at = ?
		WHERE id = ? AND status = 'failed'
	`

	scheduleMessageRetryQuery = `
		UPDATE messages
		SET status = 'pending', retry_count = ?, scheduled_at = ?, updated_at = ?
		WHERE id = ? AND status = 'failed' AND retry_count = ?
	`

	updateMessageStatusQuery = `
		UPDATE messages
		SET status = ?, updated_at = ?
		WHERE id = ? AND status = ?
	`

	selectFailedRetryableQuery = selectMessageColumns + `
		WHERE status = 'failed'
		  AND retry_count + 1 < ?
		  AND (scheduled_at IS NULL OR scheduled_at <= ?)
		ORDER BY updated_at ASC
		LIMIT ?
	`

	countStaleSentQuery = `
		SELECT COUNT(*) FROM messages
		WHERE status = 'sent' AND updated_at < ?
	`

	releaseStaleSendingQuery = `
		UPDATE messages
		SET status = 'pending', updated_at = ?
		WHERE status = 'sending' AND updated_at < ?
	`
)

// Message event queries
const (
	insertMessageEventQuery = `
		INSERT INTO message_events (id, message_id, kind, payload, error_detail)
		VALUES (?, ?, ?, ?, ?)
	`

	selectMessageEventsQuery = `
		SELECT id, message_id, kind, payload, error_detail, created_at
		FROM message_events
		WHERE message_id = ?
		ORDER BY created_at ASC, id ASC
	`
)

// Conversation queries
const (
	insertConversationQuery = `
		INSERT INTO conversations (id, remote_address, channel)
		VALUES (?, ?, ?)
		ON CONFLICT(remote_address) DO NOTHING
	`

	selectConversationQuery = `
		SELECT id, remote_address, channel, created_at, last_message_at
		FROM conversations
		WHERE remote_address = ?
	`

	touchConversationQuery = `
		UPDATE conversations
		SET last_message_at = ?
		WHERE remote_address = ?
	`
)

// Template queries
const (
	insertTemplateQuery = `
		INSERT INTO templates (id, name, body, status)
		VALUES (?, ?, ?, ?)
	`

	selectTemplateColumns = `
		SELECT id, name, body, status, external_id, content_ref,
		       rejection_reason, submitted_at, approved_at, created_at, updated_at
		FROM templates
	`

	updateTemplateBodyQuery = `
		UPDATE templates
		SET body = ?, updated_at = ?
		WHERE id = ? AND status IN ('draft', 'rejected')
	`

	markTemplateSubmittedQuery = `
		UPDATE templates
		SET status = 'pending',
		    external_id = COALESCE(external_id, ?),
		    rejection_reason = NULL,
		    submitted_at = ?,
		    updated_at = ?
		WHERE id = ? AND status IN ('draft', 'rejected')
	`

	setTemplateStatusQuery = `
		UPDATE templates
		SET status = ?, rejection_reason = ?, approved_at = COALESCE(?, approved_at), updated_at = ?
		WHERE id = ?
	`

	syncTemplateStatusQuery = `
		UPDATE templates
		SET status = ?, rejection_reason = ?, approved_at = COALESCE(?, approved_at), updated_at = ?
		WHERE id = ? AND updated_at <= ?
	`

	setTemplateContentRefQuery = `
		UPDATE templates
		SET content_ref = ?, updated_at = ?
		WHERE id = ? AND (content_ref IS NULL OR content_ref = '')
	`

	deleteTemplateQuery = `
		DELETE FROM templates
		WHERE id = ? AND status IN ('draft', 'rejected')
	`
)

// Template request queries
const (
	insertTemplateRequestQuery = `
		INSERT INTO template_requests (id, template_id, requester)
		VALUES (?, ?, ?)
	`

	selectLatestPendingRequestQuery = `
		SELECT id, template_id, requester, reviewer, decision, comments,
		       requested_at, decided_at
		FROM template_requests
		WHERE template_id = ? AND decision IS NULL
		ORDER BY requested_at DESC, id DESC
		LIMIT 1
	`

	decideTemplateRequestQuery = `
		UPDATE template_requests
		SET reviewer = ?, decision = ?, comments = ?, decided_at = ?
		WHERE id = ? AND decision IS NULL
	`
)
