// Package tokenbroker implements the Token Broker: it returns a valid
// bearer for an account, refreshing proactively against a configurable
// expiry buffer and decrypting stored secrets on demand. The refresh call is a
// raw application/x-www-form-urlencoded POST against the account's
// credential's token endpoint, in the style of dsmolchanov-nerve's
// internal/billing/stripe.go (CreateCheckoutSession's form-POST idiom) —
// not a provider-specific OAuth2 SDK, since the token endpoint shape is
// generic across mailbox providers rather than any one known service.
package tokenbroker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/stoik/mailsub/internal/crypto"
	"github.com/stoik/mailsub/internal/domain"
	"github.com/stoik/mailsub/internal/ports"
)

// ErrAuthentication is returned when a refresh grant is rejected by the
// token endpoint — classified as an authentication error.
var ErrAuthentication = errors.New("tokenbroker: refresh rejected, reconnect required")

// DefaultRefreshBuffer is how far ahead of expiry a bearer is proactively
// refreshed, used when New is given a zero refreshBuffer.
const DefaultRefreshBuffer = 5 * time.Minute

// Broker is the Token Broker's concrete implementation.
type Broker struct {
	Storage    ports.Storage
	Secretbox  *crypto.Secretbox
	HTTPClient *http.Client
	Now        func() time.Time

	RefreshBuffer time.Duration
}

// New returns a Broker with sane defaults (10s HTTP client timeout, real
// clock). A zero refreshBuffer falls back to DefaultRefreshBuffer.
func New(storage ports.Storage, secretbox *crypto.Secretbox, refreshBuffer time.Duration) *Broker {
	if refreshBuffer == 0 {
		refreshBuffer = DefaultRefreshBuffer
	}
	return &Broker{
		Storage:       storage,
		Secretbox:     secretbox,
		HTTPClient:    &http.Client{Timeout: 10 * time.Second},
		Now:           func() time.Time { return time.Now().UTC() },
		RefreshBuffer: refreshBuffer,
	}
}

// AccessToken satisfies ports.TokenBroker.
func (b *Broker) AccessToken(ctx context.Context, accountID uuid.UUID) (string, error) {
	account, err := b.Storage.GetAccount(ctx, accountID)
	if err != nil {
		return "", fmt.Errorf("tokenbroker: load account: %w", err)
	}

	if account.TokenExpiry.After(b.Now().Add(b.RefreshBuffer)) {
		bearer, err := b.Secretbox.Decrypt(account.EncryptedAccessToken)
		if err != nil {
			return "", fmt.Errorf("tokenbroker: decrypt access token: %w", err)
		}
		return bearer, nil
	}

	return b.refresh(ctx, account)
}

type refreshResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
}

func (b *Broker) refresh(ctx context.Context, account *domain.Account) (string, error) {
	cred, err := b.Storage.GetCredential(ctx, account.Credential)
	if err != nil {
		return "", fmt.Errorf("tokenbroker: load credential: %w", err)
	}
	clientSecret, err := b.Secretbox.Decrypt(cred.EncryptedSecret)
	if err != nil {
		return "", fmt.Errorf("tokenbroker: decrypt client secret: %w", err)
	}
	refreshToken, err := b.Secretbox.Decrypt(account.EncryptedRefreshToken)
	if err != nil {
		return "", fmt.Errorf("tokenbroker: decrypt refresh token: %w", err)
	}

	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("client_id", cred.ClientID)
	form.Set("client_secret", clientSecret)
	form.Set("refresh_token", refreshToken)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, cred.TokenEndpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("tokenbroker: build refresh request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := b.HTTPClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("tokenbroker: refresh request: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return "", fmt.Errorf("%w: %s", ErrAuthentication, string(body))
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("tokenbroker: refresh failed with status %d: %s", resp.StatusCode, string(body))
	}

	var parsed refreshResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", fmt.Errorf("tokenbroker: parse refresh response: %w", err)
	}
	if parsed.AccessToken == "" {
		return "", fmt.Errorf("%w: empty access token in response", ErrAuthentication)
	}

	encrypted, err := b.Secretbox.Encrypt(parsed.AccessToken)
	if err != nil {
		return "", fmt.Errorf("tokenbroker: encrypt new access token: %w", err)
	}

	account.EncryptedAccessToken = encrypted
	account.TokenExpiry = b.Now().Add(time.Duration(parsed.ExpiresIn) * time.Second)
	if err := b.Storage.UpdateAccount(ctx, account); err != nil {
		return "", fmt.Errorf("tokenbroker: persist refreshed token: %w", err)
	}

	return parsed.AccessToken, nil
}
