// Package storetest provides an in-memory ports.Storage implementation used
// by unit tests across the runner/broker/supervisor packages, so each of
// them can be tested without a live Postgres instance.
package storetest

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/stoik/mailsub/internal/domain"
)

// Memory is a minimal, not-safe-for-heavy-concurrency ports.Storage double.
type Memory struct {
	mu            sync.Mutex
	Accounts      map[uuid.UUID]*domain.Account
	Credentials   map[uuid.UUID]*domain.Credential
	MailRows      map[uuid.UUID]*domain.MailRow
	Subscriptions map[string]*domain.Subscription // keyed by userID|service|amount
}

// New returns an empty Memory store.
func New() *Memory {
	return &Memory{
		Accounts:      map[uuid.UUID]*domain.Account{},
		Credentials:   map[uuid.UUID]*domain.Credential{},
		MailRows:      map[uuid.UUID]*domain.MailRow{},
		Subscriptions: map[string]*domain.Subscription{},
	}
}

func (m *Memory) GetAccount(_ context.Context, id uuid.UUID) (*domain.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.Accounts[id]
	if !ok {
		return nil, nil
	}
	cp := *a
	return &cp, nil
}

func (m *Memory) UpdateAccount(_ context.Context, account *domain.Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *account
	m.Accounts[account.ID] = &cp
	return nil
}

func (m *Memory) ListActiveAccounts(_ context.Context) ([]domain.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Account
	for _, a := range m.Accounts {
		if a.Active {
			out = append(out, *a)
		}
	}
	return out, nil
}

func (m *Memory) ListAccountsBySyncStatus(_ context.Context, status domain.SyncStatus) ([]domain.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Account
	for _, a := range m.Accounts {
		if a.SyncStatus == status {
			out = append(out, *a)
		}
	}
	return out, nil
}

func (m *Memory) ListAccountsByProcessingStatus(_ context.Context, status domain.ProcessingStatus) ([]domain.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Account
	for _, a := range m.Accounts {
		if a.ProcessingStatus == status {
			out = append(out, *a)
		}
	}
	return out, nil
}

func (m *Memory) GetCredential(_ context.Context, id uuid.UUID) (*domain.Credential, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.Credentials[id]
	if !ok {
		return nil, nil
	}
	cp := *c
	return &cp, nil
}

func (m *Memory) UpsertMailRow(_ context.Context, row *domain.MailRow) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.MailRows {
		if existing.AccountID == row.AccountID && existing.RemoteMessageID == row.RemoteMessageID {
			row.ID = existing.ID
			cp := *row
			m.MailRows[existing.ID] = &cp
			return nil
		}
	}
	if row.ID == uuid.Nil {
		row.ID = uuid.New()
	}
	cp := *row
	m.MailRows[row.ID] = &cp
	return nil
}

func (m *Memory) GetUnprocessedMailRows(_ context.Context, accountID uuid.UUID, limit int) ([]domain.MailRow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.MailRow
	for _, r := range m.MailRows {
		if r.AccountID == accountID && r.ProcessedAt == nil {
			out = append(out, *r)
		}
	}
	sortByReceivedAtDesc(out)
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *Memory) CountUnprocessedMailRows(_ context.Context, accountID uuid.UUID) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, r := range m.MailRows {
		if r.AccountID == accountID && r.ProcessedAt == nil {
			n++
		}
	}
	return n, nil
}

func (m *Memory) MarkMailRowProcessed(_ context.Context, row *domain.MailRow) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *row
	m.MailRows[row.ID] = &cp
	return nil
}

func (m *Memory) UpsertSubscription(_ context.Context, sub *domain.Subscription) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := subKey(sub.UserID, sub.ServiceName, sub.Amount)
	if _, exists := m.Subscriptions[key]; exists {
		return false, nil
	}
	if sub.ID == uuid.Nil {
		sub.ID = uuid.New()
	}
	cp := *sub
	m.Subscriptions[key] = &cp
	return true, nil
}

func (m *Memory) WithCursorTx(ctx context.Context, _ uuid.UUID, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

func (m *Memory) Close() error { return nil }

func subKey(userID uuid.UUID, service string, amount float64) string {
	return fmt.Sprintf("%s|%s|%.2f", userID, service, amount)
}

func sortByReceivedAtDesc(rows []domain.MailRow) {
	sort.Slice(rows, func(i, j int) bool {
		return rows[i].ReceivedAt.After(rows[j].ReceivedAt)
	})
}
