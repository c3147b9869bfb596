// Package storage implements ports.Storage against PostgreSQL, via
// database/sql and lib/pq. Adapted from JeromeDesseaux-test_stoik's
// PostgresStore: same db *sql.DB + ExecContext/QueryRowContext shape,
// sql.ErrNoRows → nil translation, JSONB marshal/unmarshal for the
// extracted-data column. JeromeDesseaux-test_stoik's ad hoc InitSchema() is
// replaced by goose migrations (see migrate.go) since this module owns its
// own schema from scratch rather than prototyping against an existing one.
package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
	"github.com/stoik/mailsub/internal/domain"
)

// PostgresStore implements ports.Storage for PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// Open opens a connection pool and verifies connectivity.
func Open(connStr string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, fmt.Errorf("storage: open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("storage: ping database: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(5 * time.Minute)
	return &PostgresStore{db: db}, nil
}

func (s *PostgresStore) Close() error { return s.db.Close() }

// Ping verifies the pool can still reach the database, for readiness probes.
func (s *PostgresStore) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

// DB exposes the underlying pool, for callers that need it directly
// (goose migrations run against *sql.DB, not ports.Storage).
func (s *PostgresStore) DB() *sql.DB { return s.db }

// querier is satisfied by both *sql.DB and *sql.Tx; execer picks whichever
// WithCursorTx has stashed in ctx so the cursor write it wraps actually
// participates in that transaction.
type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (s *PostgresStore) execer(ctx context.Context) querier {
	if tx, ok := ctx.Value(txKey{}).(*sql.Tx); ok {
		return tx
	}
	return s.db
}

func (s *PostgresStore) GetAccount(ctx context.Context, id uuid.UUID) (*domain.Account, error) {
	const query = `
		SELECT id, user_id, credential_id, mailbox,
		       encrypted_access_token, encrypted_refresh_token, token_expiry,
		       active, sync_status, processing_status,
		       total_emails, processed_emails, emails_to_analyze, emails_analyzed, subscriptions_found,
		       ai_cost_total, is_initial_sync_complete, last_sync,
		       last_page_token, last_processed_message_id, query_hash,
		       processing_started_at, last_error, created_at, updated_at
		FROM accounts WHERE id = $1
	`
	a := &domain.Account{}
	err := s.execer(ctx).QueryRowContext(ctx, query, id).Scan(
		&a.ID, &a.UserID, &a.Credential, &a.Mailbox,
		&a.EncryptedAccessToken, &a.EncryptedRefreshToken, &a.TokenExpiry,
		&a.Active, &a.SyncStatus, &a.ProcessingStatus,
		&a.TotalEmails, &a.ProcessedEmails, &a.EmailsToAnalyze, &a.EmailsAnalyzed, &a.SubscriptionsFound,
		&a.AICostTotal, &a.IsInitialSyncComplete, &a.LastSync,
		&a.LastPageToken, &a.LastProcessedMessageID, &a.QueryHash,
		&a.ProcessingStartedAt, &a.LastError, &a.CreatedAt, &a.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return a, nil
}

func (s *PostgresStore) UpdateAccount(ctx context.Context, a *domain.Account) error {
	const query = `
		UPDATE accounts SET
			user_id = $2, credential_id = $3, mailbox = $4,
			encrypted_access_token = $5, encrypted_refresh_token = $6, token_expiry = $7,
			active = $8, sync_status = $9, processing_status = $10,
			total_emails = $11, processed_emails = $12, emails_to_analyze = $13,
			emails_analyzed = $14, subscriptions_found = $15,
			ai_cost_total = $16, is_initial_sync_complete = $17, last_sync = $18,
			last_page_token = $19, last_processed_message_id = $20, query_hash = $21,
			processing_started_at = $22, last_error = $23, updated_at = NOW()
		WHERE id = $1
	`
	_, err := s.execer(ctx).ExecContext(ctx, query,
		a.ID, a.UserID, a.Credential, a.Mailbox,
		a.EncryptedAccessToken, a.EncryptedRefreshToken, a.TokenExpiry,
		a.Active, a.SyncStatus, a.ProcessingStatus,
		a.TotalEmails, a.ProcessedEmails, a.EmailsToAnalyze, a.EmailsAnalyzed, a.SubscriptionsFound,
		a.AICostTotal, a.IsInitialSyncComplete, a.LastSync,
		a.LastPageToken, a.LastProcessedMessageID, a.QueryHash,
		a.ProcessingStartedAt, a.LastError,
	)
	return err
}

func (s *PostgresStore) ListActiveAccounts(ctx context.Context) ([]domain.Account, error) {
	return s.listAccountsWhere(ctx, "active = TRUE", nil)
}

func (s *PostgresStore) ListAccountsBySyncStatus(ctx context.Context, status domain.SyncStatus) ([]domain.Account, error) {
	return s.listAccountsWhere(ctx, "sync_status = $1", []any{status})
}

func (s *PostgresStore) ListAccountsByProcessingStatus(ctx context.Context, status domain.ProcessingStatus) ([]domain.Account, error) {
	return s.listAccountsWhere(ctx, "processing_status = $1", []any{status})
}

func (s *PostgresStore) listAccountsWhere(ctx context.Context, where string, args []any) ([]domain.Account, error) {
	query := `
		SELECT id, user_id, credential_id, mailbox,
		       encrypted_access_token, encrypted_refresh_token, token_expiry,
		       active, sync_status, processing_status,
		       total_emails, processed_emails, emails_to_analyze, emails_analyzed, subscriptions_found,
		       ai_cost_total, is_initial_sync_complete, last_sync,
		       last_page_token, last_processed_message_id, query_hash,
		       processing_started_at, last_error, created_at, updated_at
		FROM accounts WHERE ` + where
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Account
	for rows.Next() {
		var a domain.Account
		if err := rows.Scan(
			&a.ID, &a.UserID, &a.Credential, &a.Mailbox,
			&a.EncryptedAccessToken, &a.EncryptedRefreshToken, &a.TokenExpiry,
			&a.Active, &a.SyncStatus, &a.ProcessingStatus,
			&a.TotalEmails, &a.ProcessedEmails, &a.EmailsToAnalyze, &a.EmailsAnalyzed, &a.SubscriptionsFound,
			&a.AICostTotal, &a.IsInitialSyncComplete, &a.LastSync,
			&a.LastPageToken, &a.LastProcessedMessageID, &a.QueryHash,
			&a.ProcessingStartedAt, &a.LastError, &a.CreatedAt, &a.UpdatedAt,
		); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *PostgresStore) GetCredential(ctx context.Context, id uuid.UUID) (*domain.Credential, error) {
	const query = `
		SELECT id, user_id, provider, encrypted_secret, token_endpoint, client_id, created_at
		FROM credentials WHERE id = $1
	`
	c := &domain.Credential{}
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&c.ID, &c.UserID, &c.Provider, &c.EncryptedSecret, &c.TokenEndpoint, &c.ClientID, &c.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return c, nil
}

func (s *PostgresStore) UpsertMailRow(ctx context.Context, row *domain.MailRow) error {
	extractedJSON, err := json.Marshal(row.ExtractedData)
	if err != nil {
		return fmt.Errorf("storage: marshal extracted data: %w", err)
	}
	if row.ID == uuid.Nil {
		row.ID = uuid.New()
	}

	const query = `
		INSERT INTO mail_rows (
			id, account_id, remote_message_id, subject, sender_email,
			body_text, body_html, received_at, processed_at,
			is_subscription, subscription_confidence, extracted_data,
			ai_provider, ai_reasoning, analysis_attempts
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		ON CONFLICT (account_id, remote_message_id) DO UPDATE SET
			subject = EXCLUDED.subject,
			sender_email = EXCLUDED.sender_email,
			body_text = EXCLUDED.body_text,
			body_html = EXCLUDED.body_html,
			received_at = EXCLUDED.received_at,
			processed_at = EXCLUDED.processed_at,
			is_subscription = EXCLUDED.is_subscription,
			subscription_confidence = EXCLUDED.subscription_confidence,
			extracted_data = EXCLUDED.extracted_data,
			ai_provider = EXCLUDED.ai_provider,
			ai_reasoning = EXCLUDED.ai_reasoning,
			analysis_attempts = EXCLUDED.analysis_attempts,
			updated_at = NOW()
		RETURNING id
	`
	return s.db.QueryRowContext(ctx, query,
		row.ID, row.AccountID, row.RemoteMessageID, row.Subject, row.SenderEmail,
		row.BodyText, row.BodyHTML, row.ReceivedAt, row.ProcessedAt,
		row.IsSubscription, row.SubscriptionConfidence, extractedJSON,
		row.AIProvider, row.AIReasoning, row.AnalysisAttempts,
	).Scan(&row.ID)
}

func (s *PostgresStore) GetUnprocessedMailRows(ctx context.Context, accountID uuid.UUID, limit int) ([]domain.MailRow, error) {
	const query = `
		SELECT id, account_id, remote_message_id, subject, sender_email,
		       body_text, body_html, received_at, processed_at,
		       is_subscription, subscription_confidence, extracted_data,
		       ai_provider, ai_reasoning, analysis_attempts, created_at, updated_at
		FROM mail_rows
		WHERE account_id = $1 AND processed_at IS NULL
		ORDER BY received_at DESC
		LIMIT $2
	`
	rows, err := s.db.QueryContext(ctx, query, accountID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]domain.MailRow, 0, limit)
	for rows.Next() {
		row, err := scanMailRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

func (s *PostgresStore) CountUnprocessedMailRows(ctx context.Context, accountID uuid.UUID) (int, error) {
	const query = `SELECT COUNT(*) FROM mail_rows WHERE account_id = $1 AND processed_at IS NULL`
	var n int
	err := s.db.QueryRowContext(ctx, query, accountID).Scan(&n)
	return n, err
}

func (s *PostgresStore) MarkMailRowProcessed(ctx context.Context, row *domain.MailRow) error {
	extractedJSON, err := json.Marshal(row.ExtractedData)
	if err != nil {
		return fmt.Errorf("storage: marshal extracted data: %w", err)
	}
	const query = `
		UPDATE mail_rows SET
			processed_at = $2, is_subscription = $3, subscription_confidence = $4,
			extracted_data = $5, ai_provider = $6, ai_reasoning = $7,
			analysis_attempts = $8, updated_at = NOW()
		WHERE id = $1
	`
	_, err = s.db.ExecContext(ctx, query,
		row.ID, row.ProcessedAt, row.IsSubscription, row.SubscriptionConfidence,
		extractedJSON, row.AIProvider, row.AIReasoning, row.AnalysisAttempts,
	)
	return err
}

// UpsertSubscription enforces (user_id, service_name, amount) DO NOTHING —
// a price change intentionally creates a new row rather than updating the
// old one, kept as a distinct priced record. created is false when the
// uniqueness constraint suppressed the insert.
func (s *PostgresStore) UpsertSubscription(ctx context.Context, sub *domain.Subscription) (bool, error) {
	if sub.ID == uuid.Nil {
		sub.ID = uuid.New()
	}
	const query = `
		INSERT INTO subscriptions (
			id, user_id, mail_row_id, service_name, amount, currency,
			billing_cycle, next_billing_date, status, confidence_score,
			user_verified, first_detected, last_updated, category_id, notes
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		ON CONFLICT (user_id, service_name, amount) DO NOTHING
		RETURNING id
	`
	var returnedID uuid.UUID
	err := s.db.QueryRowContext(ctx, query,
		sub.ID, sub.UserID, sub.MailRowID, sub.ServiceName, sub.Amount, sub.Currency,
		sub.BillingCycle, sub.NextBillingDate, sub.Status, sub.ConfidenceScore,
		sub.UserVerified, sub.FirstDetected, sub.LastUpdated, sub.CategoryID, sub.Notes,
	).Scan(&returnedID)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// WithCursorTx wraps fn in a database transaction so the page-token /
// processed-message cursor update is transactional: GetAccount/UpdateAccount
// calls made against ctx inside fn pick up the transaction via execer.
// accountID is unused here (PostgreSQL transactions aren't scoped per-row)
// but kept in the signature so in-memory test doubles can key on it if ever
// needed.
func (s *PostgresStore) WithCursorTx(ctx context.Context, _ uuid.UUID, fn func(ctx context.Context) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	txCtx := context.WithValue(ctx, txKey{}, tx)
	if err := fn(txCtx); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

type txKey struct{}

func scanMailRow(rows *sql.Rows) (domain.MailRow, error) {
	var row domain.MailRow
	var extractedJSON []byte
	err := rows.Scan(
		&row.ID, &row.AccountID, &row.RemoteMessageID, &row.Subject, &row.SenderEmail,
		&row.BodyText, &row.BodyHTML, &row.ReceivedAt, &row.ProcessedAt,
		&row.IsSubscription, &row.SubscriptionConfidence, &extractedJSON,
		&row.AIProvider, &row.AIReasoning, &row.AnalysisAttempts, &row.CreatedAt, &row.UpdatedAt,
	)
	if err != nil {
		return domain.MailRow{}, err
	}
	if len(extractedJSON) > 0 {
		if err := json.Unmarshal(extractedJSON, &row.ExtractedData); err != nil {
			return domain.MailRow{}, fmt.Errorf("storage: unmarshal extracted data: %w", err)
		}
	}
	return row, nil
}
