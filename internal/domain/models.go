// Package domain holds the entities that the ingestion and subscription
// extraction pipeline operates on. All entities are scoped to a user, all
// identifiers are opaque UUIDs, and all timestamps are UTC.
package domain

import (
	"time"

	"github.com/google/uuid"
)

// SyncStatus tracks the Sync Runner's state machine for an Account.
type SyncStatus string

const (
	SyncPending   SyncStatus = "pending"
	SyncSyncing   SyncStatus = "syncing"
	SyncCompleted SyncStatus = "completed"
	SyncError     SyncStatus = "error"
)

// ProcessingStatus tracks the Process Runner's state machine for an Account.
type ProcessingStatus string

const (
	ProcessingIdle      ProcessingStatus = "idle"
	ProcessingAnalyzing ProcessingStatus = "analyzing"
	ProcessingCompleted ProcessingStatus = "completed"
	ProcessingError     ProcessingStatus = "error"
)

// AIProvider records which classifier ultimately produced a Mail Row's
// verdict.
type AIProvider string

const (
	ProviderKeywords         AIProvider = "keywords"
	ProviderKeywordsFallback AIProvider = "keywords_fallback"
	ProviderClaude           AIProvider = "claude"
	ProviderError            AIProvider = "error"
)

// BillingCycle is the recurrence period a Subscription is believed to charge
// on.
type BillingCycle string

const (
	BillingMonthly   BillingCycle = "monthly"
	BillingYearly    BillingCycle = "yearly"
	BillingWeekly    BillingCycle = "weekly"
	BillingQuarterly BillingCycle = "quarterly"
)

// SubscriptionStatus is the user-facing lifecycle of a detected Subscription.
type SubscriptionStatus string

const (
	SubscriptionActive    SubscriptionStatus = "active"
	SubscriptionCancelled SubscriptionStatus = "cancelled"
	SubscriptionPaused    SubscriptionStatus = "paused"
)

// Account is a bound mailbox. It is mutated only by the Sync Runner, the
// Process Runner, the Token Broker, and the Supervisor.
type Account struct {
	ID         uuid.UUID `json:"id"`
	UserID     uuid.UUID `json:"user_id"`
	Credential uuid.UUID `json:"credential_id"`
	Mailbox    string    `json:"mailbox"`

	EncryptedAccessToken  string    `json:"-"`
	EncryptedRefreshToken string    `json:"-"`
	TokenExpiry           time.Time `json:"token_expiry"`

	Active bool `json:"active"`

	SyncStatus       SyncStatus       `json:"sync_status"`
	ProcessingStatus ProcessingStatus `json:"processing_status"`

	TotalEmails        int `json:"total_emails"`
	ProcessedEmails    int `json:"processed_emails"`
	EmailsToAnalyze    int `json:"emails_to_analyze"`
	EmailsAnalyzed     int `json:"emails_analyzed"`
	SubscriptionsFound int `json:"subscriptions_found"`

	// AICostTotal accrues in USD to 6 decimal places and is non-decreasing
	// for the life of an Account.
	AICostTotal float64 `json:"ai_cost_total"`

	IsInitialSyncComplete bool       `json:"is_initial_sync_complete"`
	LastSync              *time.Time `json:"last_sync,omitempty"`

	// Resume cursor. LastPageToken empty means there is no saved page to
	// resume from.
	LastPageToken          string `json:"last_page_token"`
	LastProcessedMessageID string `json:"last_processed_message_id"`
	QueryHash              string `json:"query_hash"`

	ProcessingStartedAt *time.Time `json:"processing_started_at,omitempty"`
	LastError           string     `json:"last_error,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Credential is a stored OAuth client secret used to mint bearers for one or
// more Accounts. Encrypted at rest; the encryption policy itself is an
// external collaborator's concern (see internal/crypto for the mechanism the
// Token Broker relies on).
type Credential struct {
	ID               uuid.UUID `json:"id"`
	UserID           uuid.UUID `json:"user_id"`
	Provider         string    `json:"provider"`
	EncryptedSecret  string    `json:"-"`
	TokenEndpoint    string    `json:"token_endpoint"`
	ClientID         string    `json:"client_id"`
	CreatedAt        time.Time `json:"created_at"`
}

// MailRow is the persisted normalised form of a remote message. The pair
// (AccountID, RemoteMessageID) is unique.
type MailRow struct {
	ID              uuid.UUID `json:"id"`
	AccountID       uuid.UUID `json:"account_id"`
	RemoteMessageID string    `json:"remote_message_id"`

	Subject     string    `json:"subject"`
	SenderEmail string    `json:"sender_email"`
	BodyText    string    `json:"body_text"`
	BodyHTML    string    `json:"body_html"`
	ReceivedAt  time.Time `json:"received_at"`

	// ProcessedAt is nil until the Process Runner has classified this row.
	ProcessedAt *time.Time `json:"processed_at,omitempty"`

	IsSubscription          bool       `json:"is_subscription"`
	SubscriptionConfidence  float64    `json:"subscription_confidence"`
	ExtractedData           Extracted  `json:"extracted_data"`
	AIProvider              AIProvider `json:"ai_provider,omitempty"`
	AIReasoning             string     `json:"ai_reasoning,omitempty"`

	// AnalysisAttempts increases monotonically on each failed analysis
	// attempt; at 3 the row is burned with AIProvider = error.
	AnalysisAttempts int `json:"analysis_attempts"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Extracted is the candidate subscription shape a classifier (keyword or LM)
// produces for a Mail Row. Fields are nullable because neither classifier is
// guaranteed to fill all of them.
type Extracted struct {
	ServiceName     *string       `json:"service_name,omitempty"`
	Amount          *float64      `json:"amount,omitempty"`
	Currency        *string       `json:"currency,omitempty"`
	BillingCycle    *BillingCycle `json:"billing_cycle,omitempty"`
	NextBillingDate *string       `json:"next_billing_date,omitempty"`
}

// Subscription is a detected recurring charge. Uniqueness is enforced on
// (UserID, ServiceName, Amount); conflicting inserts are silently suppressed,
// so a price change yields a new row rather than updating the old one.
type Subscription struct {
	ID              uuid.UUID          `json:"id"`
	UserID          uuid.UUID          `json:"user_id"`
	MailRowID       *uuid.UUID         `json:"mail_row_id,omitempty"`
	ServiceName     string             `json:"service_name"`
	Amount          float64            `json:"amount"`
	Currency        string             `json:"currency"`
	BillingCycle    BillingCycle       `json:"billing_cycle"`
	NextBillingDate *time.Time         `json:"next_billing_date,omitempty"`
	Status          SubscriptionStatus `json:"status"`
	ConfidenceScore float64            `json:"confidence_score"`
	UserVerified    bool               `json:"user_verified"`
	FirstDetected   time.Time          `json:"first_detected"`
	LastUpdated     time.Time          `json:"last_updated"`
	CategoryID      *uuid.UUID         `json:"category_id,omitempty"`
	Notes           string             `json:"notes,omitempty"`
}
