package database

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"time"

	"msgflow/internal/migrations"
	"msgflow/internal/models"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

type Database struct {
	db        *sql.DB
	encryptor *encryptor
}

func New(dbPath string) (*Database, error) {
	if len(dbPath) == 0 || dbPath[0] == '\x00' {
		return nil, fmt.Errorf("invalid database path")
	}

	file, err := os.OpenFile(dbPath, os.O_RDWR|os.O_CREATE, 0600)
	if err != nil {
		return nil, fmt.Errorf("failed to create database file: %w", err)
	}
	if err := file.Close(); err != nil {
		return nil, fmt.Errorf("failed to close database file: %w", err)
	}

	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			return nil, fmt.Errorf("failed to ping database: %w (close error: %v)", err, closeErr)
		}
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	schema, err := migrations.GetInitialSchema()
	if err != nil {
		if closeErr := db.Close(); closeErr != nil {
			return nil, fmt.Errorf("failed to read schema: %w (close error: %v)", err, closeErr)
		}
		return nil, fmt.Errorf("failed to read schema: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			return nil, fmt.Errorf("failed to initialize schema: %w (close error: %v)", err, closeErr)
		}
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	encryptor, err := NewEncryptor()
	if err != nil {
		if closeErr := db.Close(); closeErr != nil {
			return nil, fmt.Errorf("failed to initialize encryptor: %w (close error: %v)", err, closeErr)
		}
		return nil, fmt.Errorf("failed to initialize encryptor: %w", err)
	}

	return &Database{db: db, encryptor: encryptor}, nil
}

func (d *Database) Close() error {
	return d.db.Close()
}

func (d *Database) CreateMessage(ctx context.Context, msg *models.Message) error {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.Status == "" {
		msg.Status = models.StatusPending
	}
	if msg.Priority == "" {
		msg.Priority = models.PriorityNormal
	}

	encryptedDestination, err := d.encryptor.EncryptIfEnabled(msg.Destination)
	if err != nil {
		return fmt.Errorf("failed to encrypt destination: %w", err)
	}

	return retryableDBOperation(ctx, func() error {
		_, err := d.db.ExecContext(ctx, insertMessageQuery,
			msg.ID,
			msg.Channel,
			encryptedDestination,
			msg.Body,
			msg.Status,
			msg.Priority,
			msg.TemplateID,
			msg.TemplateParams,
			msg.ProviderID,
			msg.RetryCount,
			toUTC(msg.ScheduledAt),
			msg.LastError,
		)
		if err != nil {
			return fmt.Errorf("failed to save message: %w", err)
		}
		return nil
	}, "create message")
}

func (d *Database) GetMessage(ctx context.Context, id string) (*models.Message, error) {
	return d.getMessage(ctx, selectMessageColumns+` WHERE id = ?`, id)
}

func (d *Database) GetMessageByProviderID(ctx context.Context, providerID string) (*models.Message, error) {
	return d.getMessage(ctx, selectMessageColumns+` WHERE provider_id = ?`, providerID)
}

func (d *Database) getMessage(ctx context.Context, query string, arg interface{}) (*models.Message, error) {
	msg, err := d.scanMessage(d.db.QueryRowContext(ctx, query, arg))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get message: %w", err)
	}
	return msg, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func (d *Database) scanMessage(row rowScanner) (*models.Message, error) {
	msg := &models.Message{}
	var encryptedDestination string
	var scheduledAt sql.NullTime

	err := row.Scan(
		&msg.ID,
		&msg.Channel,
		&encryptedDestination,
		&msg.Body,
		&msg.Status,
		&msg.Priority,
		&msg.TemplateID,
		&msg.TemplateParams,
		&msg.ProviderID,
		&msg.RetryCount,
		&scheduledAt,
		&msg.LastError,
		&msg.CreatedAt,
		&msg.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if scheduledAt.Valid {
		t := scheduledAt.Time
		msg.ScheduledAt = &t
	}

	msg.Destination, err = d.encryptor.DecryptIfEnabled(encryptedDestination)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt destination: %w", err)
	}
	return msg, nil
}

// ClaimDueMessages selects pending messages whose send time has arrived and
// atomically flips each one to 'sending'. A row that another dispatcher
// claimed between the select and the update is skipped, so two ticks never
// dispatch the same message.
func (d *Database) ClaimDueMessages(ctx context.Context, priority models.Priority, maxRetryAttempts, limit int, now time.Time) ([]*models.Message, error) {
	rows, err := d.db.QueryContext(ctx, selectDueMessagesQuery, priority, maxRetryAttempts, now.UTC(), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to select due messages: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var candidates []*models.Message
	for rows.Next() {
		msg, err := d.scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan due message: %w", err)
		}
		candidates = append(candidates, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate due messages: %w", err)
	}

	var claimed []*models.Message
	for _, msg := range candidates {
		res, err := d.db.ExecContext(ctx, claimMessageQuery, now.UTC(), msg.ID)
		if err != nil {
			return claimed, fmt.Errorf("failed to claim message %s: %w", msg.ID, err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return claimed, fmt.Errorf("failed to check claim of message %s: %w", msg.ID, err)
		}
		if affected == 1 {
			msg.Status = models.StatusSending
			claimed = append(claimed, msg)
		}
	}
	return claimed, nil
}

// MarkMessageSent records a successful dispatch: provider id assigned,
// status sent.
func (d *Database) MarkMessageSent(ctx context.Context, id, providerID string) error {
	return retryableDBOperation(ctx, func() error {
		res, err := d.db.ExecContext(ctx, markMessageSentQuery, providerID, time.Now().UTC(), id)
		if err != nil {
			return fmt.Errorf("failed to mark message sent: %w", err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to check sent update: %w", err)
		}
		if affected == 0 {
			return fmt.Errorf("message %s was not in sending state", id)
		}
		return nil
	}, "mark message sent")
}

// MarkMessageFailed moves a pending or in-flight message to failed with the
// error detail recorded on the row.
func (d *Database) MarkMessageFailed(ctx context.Context, id, reason string) error {
	return retryableDBOperation(ctx, func() error {
		_, err := d.db.ExecContext(ctx, markMessageFailedQuery, reason, time.Now().UTC(), id)
		if err != nil {
			return fmt.Errorf("failed to mark message failed: %w", err)
		}
		return nil
	}, "mark message failed")
}

// ExhaustMessageRetries pins retry_count at the maximum so the retry
// controller declines the message from now on. Used for permanent provider
// failures.
func (d *Database) ExhaustMessageRetries(ctx context.Context, id string, maxRetryAttempts int) error {
	_, err := d.db.ExecContext(ctx, exhaustMessageRetriesQuery, maxRetryAttempts, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to exhaust message retries: %w", err)
	}
	return nil
}

// ScheduleMessageRetry flips a failed message back to pending with the next
// attempt's send time. The retry_count guard makes the update optimistic:
// false means another worker already rescheduled (or the row moved on).
func (d *Database) ScheduleMessageRetry(ctx context.Context, id string, newRetryCount int, scheduledAt time.Time) (bool, error) {
	res, err := d.db.ExecContext(ctx, scheduleMessageRetryQuery,
		newRetryCount, scheduledAt.UTC(), time.Now().UTC(), id, newRetryCount-1)
	if err != nil {
		return false, fmt.Errorf("failed to schedule message retry: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to check retry update: %w", err)
	}
	return affected == 1, nil
}

// TransitionMessageStatus performs an optimistic status move guarded by the
// current status. Returns false when the row was not in the expected state.
func (d *Database) TransitionMessageStatus(ctx context.Context, id string, from, to models.MessageStatus) (bool, error) {
	res, err := d.db.ExecContext(ctx, updateMessageStatusQuery, to, time.Now().UTC(), id, from)
	if err != nil {
		return false, fmt.Errorf("failed to transition message status: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to check status transition: %w", err)
	}
	return affected == 1, nil
}

// ListRetryableFailed returns failed messages still below the retry limit
// whose backoff delay has elapsed; the dispatcher sweeps these back into the
// queue in case a crash lost the inline reschedule.
func (d *Database) ListRetryableFailed(ctx context.Context, maxRetryAttempts, limit int, now time.Time) ([]*models.Message, error) {
	rows, err := d.db.QueryContext(ctx, selectFailedRetryableQuery, maxRetryAttempts, now.UTC(), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to select retryable messages: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var msgs []*models.Message
	for rows.Next() {
		msg, err := d.scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan retryable message: %w", err)
		}
		msgs = append(msgs, msg)
	}
	return msgs, rows.Err()
}

func (d *Database) GetStaleMessageCount(ctx context.Context, threshold time.Duration) (int, error) {
	cutoff := time.Now().UTC().Add(-threshold)
	var count int
	if err := d.db.QueryRowContext(ctx, countStaleSentQuery, cutoff).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count stale messages: %w", err)
	}
	return count, nil
}

// ReleaseStaleSending returns messages stuck in sending back to pending.
// A crash between the claim and the provider call leaves the row in
// sending with no provider id, so no webhook will ever move it.
func (d *Database) ReleaseStaleSending(ctx context.Context, threshold time.Duration) (int64, error) {
	now := time.Now().UTC()
	cutoff := now.Add(-threshold)
	result, err := d.db.ExecContext(ctx, releaseStaleSendingQuery, now, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to release stale sending messages: %w", err)
	}
	released, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count released messages: %w", err)
	}
	return released, nil
}

func (d *Database) InsertMessageEvent(ctx context.Context, event *models.MessageEvent) error {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	return retryableDBOperation(ctx, func() error {
		_, err := d.db.ExecContext(ctx, insertMessageEventQuery,
			event.ID, event.MessageID, event.Kind, event.Payload, event.ErrorDetail)
		if err != nil {
			return fmt.Errorf("failed to insert message event: %w", err)
		}
		return nil
	}, "insert message event")
}

func (d *Database) ListMessageEvents(ctx context.Context, messageID string) ([]*models.MessageEvent, error) {
	rows, err := d.db.QueryContext(ctx, selectMessageEventsQuery, messageID)
	if err != nil {
		return nil, fmt.Errorf("failed to list message events: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var events []*models.MessageEvent
	for rows.Next() {
		event := &models.MessageEvent{}
		if err := rows.Scan(
			&event.ID,
			&event.MessageID,
			&event.Kind,
			&event.Payload,
			&event.ErrorDetail,
			&event.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan message event: %w", err)
		}
		events = append(events, event)
	}
	return events, rows.Err()
}

// GetOrCreateConversation bootstraps the conversation for an inbound remote
// address, creating it when no prior exchange exists.
func (d *Database) GetOrCreateConversation(ctx context.Context, remoteAddress string, channel models.Channel) (*models.Conversation, error) {
	lookupAddress, err := d.encryptor.EncryptForLookupIfEnabled(remoteAddress)
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt remote address: %w", err)
	}

	if _, err := d.db.ExecContext(ctx, insertConversationQuery, uuid.NewString(), lookupAddress, channel); err != nil {
		return nil, fmt.Errorf("failed to create conversation: %w", err)
	}
	if _, err := d.db.ExecContext(ctx, touchConversationQuery, time.Now().UTC(), lookupAddress); err != nil {
		return nil, fmt.Errorf("failed to touch conversation: %w", err)
	}

	conv := &models.Conversation{}
	var storedAddress string
	err = d.db.QueryRowContext(ctx, selectConversationQuery, lookupAddress).Scan(
		&conv.ID,
		&storedAddress,
		&conv.Channel,
		&conv.CreatedAt,
		&conv.LastMessageAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get conversation: %w", err)
	}

	conv.RemoteAddress = remoteAddress
	return conv, nil
}

func toUTC(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
