package ports

import (
	"context"

	"github.com/google/uuid"
)

// TokenBroker returns a valid bearer for an account, refreshing proactively
// against a 5-minute expiry buffer and decrypting stored secrets on demand.
type TokenBroker interface {
	AccessToken(ctx context.Context, accountID uuid.UUID) (string, error)
}
