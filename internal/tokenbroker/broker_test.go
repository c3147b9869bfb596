package tokenbroker

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stoik/mailsub/internal/crypto"
	"github.com/stoik/mailsub/internal/domain"
	"github.com/stoik/mailsub/internal/storetest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testSecretbox(t *testing.T) *crypto.Secretbox {
	t.Helper()
	sb, err := crypto.NewSecretbox(make([]byte, 32))
	require.NoError(t, err)
	return sb
}

func TestAccessToken_UsesCachedTokenWhenFresh(t *testing.T) {
	sb := testSecretbox(t)
	enc, err := sb.Encrypt("cached-bearer")
	require.NoError(t, err)

	store := storetest.New()
	accountID := uuid.New()
	store.Accounts[accountID] = &domain.Account{
		ID:                   accountID,
		EncryptedAccessToken: enc,
		TokenExpiry:          time.Now().Add(time.Hour),
	}

	broker := New(store, sb, 0)
	bearer, err := broker.AccessToken(context.Background(), accountID)
	require.NoError(t, err)
	assert.Equal(t, "cached-bearer", bearer)
}

func TestAccessToken_RefreshesWithinBuffer(t *testing.T) {
	sb := testSecretbox(t)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "refresh_token", r.Form.Get("grant_type"))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"access_token":"fresh-bearer","expires_in":3600}`))
	}))
	defer server.Close()

	encSecret, err := sb.Encrypt("client-secret")
	require.NoError(t, err)
	encRefresh, err := sb.Encrypt("refresh-token")
	require.NoError(t, err)

	store := storetest.New()
	credID := uuid.New()
	store.Credentials[credID] = &domain.Credential{
		ID:              credID,
		TokenEndpoint:   server.URL,
		ClientID:        "client-id",
		EncryptedSecret: encSecret,
	}

	accountID := uuid.New()
	store.Accounts[accountID] = &domain.Account{
		ID:                    accountID,
		Credential:            credID,
		EncryptedRefreshToken: encRefresh,
		TokenExpiry:           time.Now().Add(1 * time.Minute), // inside the 5-minute buffer
	}

	broker := New(store, sb, 0)
	bearer, err := broker.AccessToken(context.Background(), accountID)
	require.NoError(t, err)
	assert.Equal(t, "fresh-bearer", bearer)

	updated, err := store.GetAccount(context.Background(), accountID)
	require.NoError(t, err)
	assert.True(t, updated.TokenExpiry.After(time.Now().Add(time.Hour-time.Minute)))
}

func TestAccessToken_RefreshRejected(t *testing.T) {
	sb := testSecretbox(t)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"error":"invalid_grant"}`))
	}))
	defer server.Close()

	encSecret, _ := sb.Encrypt("client-secret")
	encRefresh, _ := sb.Encrypt("refresh-token")

	store := storetest.New()
	credID := uuid.New()
	store.Credentials[credID] = &domain.Credential{ID: credID, TokenEndpoint: server.URL, EncryptedSecret: encSecret}

	accountID := uuid.New()
	store.Accounts[accountID] = &domain.Account{
		ID:                    accountID,
		Credential:            credID,
		EncryptedRefreshToken: encRefresh,
		TokenExpiry:           time.Now(),
	}

	broker := New(store, sb, 0)
	_, err := broker.AccessToken(context.Background(), accountID)
	assert.ErrorIs(t, err, ErrAuthentication)
}
