package ports

import (
	"context"

	"github.com/google/uuid"
	"github.com/stoik/mailsub/internal/domain"
)

// Storage is the Mail Store: persists mailbox artifacts, sync/process
// counters and resume cursors under transactional guarantees. Concrete
// implementation: internal/adapters/storage.
type Storage interface {
	// Account operations
	GetAccount(ctx context.Context, id uuid.UUID) (*domain.Account, error)
	UpdateAccount(ctx context.Context, account *domain.Account) error
	ListActiveAccounts(ctx context.Context) ([]domain.Account, error)
	ListAccountsBySyncStatus(ctx context.Context, status domain.SyncStatus) ([]domain.Account, error)
	ListAccountsByProcessingStatus(ctx context.Context, status domain.ProcessingStatus) ([]domain.Account, error)

	// Credential operations
	GetCredential(ctx context.Context, id uuid.UUID) (*domain.Credential, error)

	// Mail Row operations
	UpsertMailRow(ctx context.Context, row *domain.MailRow) error
	GetUnprocessedMailRows(ctx context.Context, accountID uuid.UUID, limit int) ([]domain.MailRow, error)
	CountUnprocessedMailRows(ctx context.Context, accountID uuid.UUID) (int, error)
	MarkMailRowProcessed(ctx context.Context, row *domain.MailRow) error

	// Subscription operations
	UpsertSubscription(ctx context.Context, sub *domain.Subscription) (created bool, err error)

	// WithCursorTx runs fn inside a single transaction that atomically
	// advances an Account's sync cursor fields (processed_emails,
	// last_page_token, last_processed_message_id). Used by the Sync Runner
	// after each page so a crash mid-page can't leave the cursor ahead of
	// what was actually persisted.
	WithCursorTx(ctx context.Context, accountID uuid.UUID, fn func(ctx context.Context) error) error

	Close() error
}
