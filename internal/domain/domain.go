// Package domain defines cross-cutting entity types used across the system.
package domain

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Tenant is the isolation boundary for one publisher. It owns products,
// principals, media buys, creatives, tasks, and audit entries.
type Tenant struct {
	ID        uuid.UUID
	Name      string
	Subdomain string // Unique slug used for routing and tenant hints.

	// AdapterName selects which ad-server adapter this tenant's inventory
	// lives on ("mock", "google_ad_manager", "kevel", "triton").
	AdapterName   string
	AdapterConfig AdapterConfig

	// AutoApproveFormats is the creative format allow-list. Uploads whose
	// format is listed skip human review.
	AutoApproveFormats []string
	// AutoCreateMediaBuys controls whether buys go live without a human
	// approval task. When false every create lands in pending_approval.
	AutoCreateMediaBuys bool
	// PolicyBudgetThreshold flags buys whose budget meets or exceeds it for
	// policy review, regardless of AutoCreateMediaBuys. Zero disables it.
	PolicyBudgetThreshold float64
	// ReconcileCron is the 5-field cron schedule for delivery reconciliation.
	ReconcileCron string

	Enabled   bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// AdapterConfig is the per-tenant adapter configuration, discriminated by
// Tenant.AdapterName. Exactly one member should be set.
type AdapterConfig struct {
	Mock   *MockAdapterConfig          `json:"mock,omitempty"`
	GAM    *GoogleAdManagerConfig      `json:"google_ad_manager,omitempty"`
	Kevel  *KevelAdapterConfig         `json:"kevel,omitempty"`
	Triton *TritonDigitalAdapterConfig `json:"triton,omitempty"`
}

// MockAdapterConfig configures the deterministic simulation adapter.
type MockAdapterConfig struct {
	DailyImpressionCap int64   `json:"daily_impression_cap,omitempty"`
	FillRate           float64 `json:"fill_rate,omitempty"` // 0–1. Default 1.0.
}

// GoogleAdManagerConfig configures the Google Ad Manager adapter.
type GoogleAdManagerConfig struct {
	NetworkCode  string `json:"network_code"`
	RefreshToken string `json:"refresh_token"` // Opaque credential. Never surfaced to callers.
	TraffickerID string `json:"trafficker_id,omitempty"`
	OrderTeamID  string `json:"order_team_id,omitempty"`
	BaseURL      string `json:"base_url,omitempty"` // Override for tests.
}

// KevelAdapterConfig configures the Kevel adapter.
type KevelAdapterConfig struct {
	NetworkID     int    `json:"network_id"`
	APIKey        string `json:"api_key"`
	UserDBEnabled bool   `json:"userdb_enabled,omitempty"` // Required for audience targeting.
	BaseURL       string `json:"base_url,omitempty"`
}

// TritonDigitalAdapterConfig configures the Triton Digital (audio) adapter.
type TritonDigitalAdapterConfig struct {
	StationID string `json:"station_id"`
	APIKey    string `json:"api_key"`
	BaseURL   string `json:"base_url,omitempty"`
}

// Principal is one advertiser identity within a tenant. AccessToken is the
// opaque credential presented on every tool call; it is unique system-wide.
type Principal struct {
	ID       uuid.UUID
	TenantID uuid.UUID
	Name     string
	// AccessToken is an opaque bearer credential. Never logged in full.
	AccessToken string
	// PlatformMappings maps adapter name → platform-specific advertiser IDs.
	// A buy cannot be created until the tenant's configured adapter has an entry.
	PlatformMappings map[string]PlatformMapping
	Enabled          bool
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// PlatformMapping holds the downstream platform's identifiers for a principal.
type PlatformMapping struct {
	AdvertiserID string            `json:"advertiser_id"`
	Extra        map[string]string `json:"extra,omitempty"` // e.g. GAM company_id, Kevel brand_id.
}

// AdapterID returns the platform advertiser ID for the named adapter, or ""
// when the principal has no mapping for it.
func (p *Principal) AdapterID(adapterName string) string {
	m, ok := p.PlatformMappings[adapterName]
	if !ok {
		return ""
	}
	return m.AdvertiserID
}

// DeliveryType distinguishes reserved from auction inventory.
type DeliveryType string

const (
	DeliveryGuaranteed    DeliveryType = "guaranteed"
	DeliveryNonGuaranteed DeliveryType = "non_guaranteed"
)

// Format describes one creative format a product accepts.
type Format struct {
	FormatID string `json:"format_id"`
	Name     string `json:"name"`
	Type     string `json:"type"` // "display", "video", "audio", "native".
	Width    int    `json:"width,omitempty"`
	Height   int    `json:"height,omitempty"`
	Duration int    `json:"duration_seconds,omitempty"` // Video/audio only.
}

// PriceGuidance describes expected clearing prices for non-fixed products.
type PriceGuidance struct {
	Floor float64 `json:"floor"`
	P25   float64 `json:"p25,omitempty"`
	P50   float64 `json:"p50,omitempty"`
	P75   float64 `json:"p75,omitempty"`
	P90   float64 `json:"p90,omitempty"`
}

// Product is a sellable inventory definition. Read-mostly from the core's
// perspective; written by the admin boundary.
type Product struct {
	ProductID     string
	TenantID      uuid.UUID
	Name          string
	Description   string
	Formats       []Format
	Delivery      DeliveryType
	IsFixedPrice  bool
	CPM           float64        // Set when IsFixedPrice.
	PriceGuidance *PriceGuidance // Set otherwise.
	ExpiresAt     *time.Time
	// ImplementationConfig is the ad-server-specific placement config.
	// It is never included in any caller-facing response.
	ImplementationConfig json.RawMessage
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

// Expired reports whether the product can no longer be bought.
func (p *Product) Expired(now time.Time) bool {
	return p.ExpiresAt != nil && now.After(*p.ExpiresAt)
}

// TargetingOverlay is the advertiser-settable targeting criteria carried on
// buy requests. Dimensions follow the any_of/none_of include/exclude pattern.
// Key-value pairs and the aee_* dimensions are reserved for orchestrator-managed
// AEE signals and are rejected when set by a caller.
type TargetingOverlay struct {
	GeoCountryAnyOf  []string `json:"geo_country_any_of,omitempty"`
	GeoCountryNoneOf []string `json:"geo_country_none_of,omitempty"`
	GeoRegionAnyOf   []string `json:"geo_region_any_of,omitempty"`
	GeoRegionNoneOf  []string `json:"geo_region_none_of,omitempty"`
	GeoMetroAnyOf    []string `json:"geo_metro_any_of,omitempty"`
	GeoMetroNoneOf   []string `json:"geo_metro_none_of,omitempty"`

	DeviceTypeAnyOf  []string `json:"device_type_any_of,omitempty"`
	DeviceTypeNoneOf []string `json:"device_type_none_of,omitempty"`
	MediaTypeAnyOf   []string `json:"media_type_any_of,omitempty"`
	MediaTypeNoneOf  []string `json:"media_type_none_of,omitempty"`

	AudiencesAnyOf  []string `json:"audiences_any_of,omitempty"`
	AudiencesNoneOf []string `json:"audiences_none_of,omitempty"`

	// Signals are signal IDs discovered via get_signals.
	Signals []string `json:"signals,omitempty"`

	// KeyValuePairs carries AEE activation signals. Managed-only: settable by
	// the orchestrator, never by a caller request.
	KeyValuePairs map[string]string `json:"key_value_pairs,omitempty"`

	// AEESegment, AEEScore, and AEEContext are managed-only dimensions.
	AEESegment string `json:"aee_segment,omitempty"`
	AEEScore   string `json:"aee_score,omitempty"`
	AEEContext string `json:"aee_context,omitempty"`
}

// IsZero reports whether no dimension is set.
func (t *TargetingOverlay) IsZero() bool {
	if t == nil {
		return true
	}
	return len(t.GeoCountryAnyOf) == 0 && len(t.GeoCountryNoneOf) == 0 &&
		len(t.GeoRegionAnyOf) == 0 && len(t.GeoRegionNoneOf) == 0 &&
		len(t.GeoMetroAnyOf) == 0 && len(t.GeoMetroNoneOf) == 0 &&
		len(t.DeviceTypeAnyOf) == 0 && len(t.DeviceTypeNoneOf) == 0 &&
		len(t.MediaTypeAnyOf) == 0 && len(t.MediaTypeNoneOf) == 0 &&
		len(t.AudiencesAnyOf) == 0 && len(t.AudiencesNoneOf) == 0 &&
		len(t.Signals) == 0 && len(t.KeyValuePairs) == 0 &&
		t.AEESegment == "" && t.AEEScore == "" && t.AEEContext == ""
}

// MediaPackage is one budget/targeting slice of a media buy tied to a product.
type MediaPackage struct {
	PackageID   string            `json:"package_id"`
	ProductID   string            `json:"product_id"`
	Name        string            `json:"name"`
	Delivery    DeliveryType      `json:"delivery_type"`
	CPM         float64           `json:"cpm"`
	Impressions int64             `json:"impressions"`
	Budget      float64           `json:"budget"`
	Targeting   *TargetingOverlay `json:"targeting,omitempty"`
	FormatIDs   []string          `json:"format_ids,omitempty"`
}

// MediaBuyState is the lifecycle state of a media buy.
type MediaBuyState string

const (
	BuyDraft           MediaBuyState = "draft"
	BuyPendingApproval MediaBuyState = "pending_approval"
	BuyActive          MediaBuyState = "active"
	BuyPaused          MediaBuyState = "paused"
	BuyCompleted       MediaBuyState = "completed"
	BuyFailed          MediaBuyState = "failed"
	BuyCancelled       MediaBuyState = "cancelled"
)

// Terminal reports whether no further transitions are allowed from s.
func (s MediaBuyState) Terminal() bool {
	return s == BuyCompleted || s == BuyFailed || s == BuyCancelled
}

// MediaBuy is one campaign tracked through its lifecycle. Never hard-deleted;
// terminal states are completed, failed, and cancelled.
type MediaBuy struct {
	MediaBuyID  string
	TenantID    uuid.UUID
	PrincipalID uuid.UUID
	OrderName   string
	AdapterName string
	// ExternalID is the adapter-assigned campaign identifier. Empty until the
	// remote create succeeds; its presence makes create idempotent.
	ExternalID  string
	Packages    []MediaPackage
	TotalBudget float64
	FlightStart time.Time
	FlightEnd   time.Time
	Targeting   *TargetingOverlay
	State       MediaBuyState
	LastError   string
	// RawRequest preserves the original create request for audit and replay.
	RawRequest  json.RawMessage
	CreatedAt   time.Time
	UpdatedAt   time.Time
	CompletedAt *time.Time
}

// CreativeStatus is the approval state of an uploaded creative.
type CreativeStatus string

const (
	CreativePending       CreativeStatus = "pending"
	CreativeAutoApproved  CreativeStatus = "auto_approved"
	CreativePendingReview CreativeStatus = "pending_review"
	CreativeApproved      CreativeStatus = "approved"
	CreativeRejected      CreativeStatus = "rejected"
)

// Assignable reports whether the creative may be attached to a media buy.
func (s CreativeStatus) Assignable() bool {
	return s == CreativeAutoApproved || s == CreativeApproved
}

// Creative is an uploaded asset owned by a principal.
type Creative struct {
	CreativeID  string
	TenantID    uuid.UUID
	PrincipalID uuid.UUID
	Name        string
	FormatID    string
	ContentURI  string
	ClickURL    string
	Status      CreativeStatus
	Detail      string // Human-readable status detail (review outcome, etc.).
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// CreativeAssignment links an approved creative to a media buy package.
type CreativeAssignment struct {
	ID         uuid.UUID
	TenantID   uuid.UUID
	CreativeID string
	MediaBuyID string
	PackageID  string
	CreatedAt  time.Time
}

// TaskType classifies the human decision a task requires.
type TaskType string

const (
	TaskCreativeReview TaskType = "creative_review"
	TaskPolicyReview   TaskType = "policy_review"
	TaskManualApproval TaskType = "manual_approval"
)

// TaskStatus is the human task lifecycle.
type TaskStatus string

const (
	TaskPending   TaskStatus = "pending"
	TaskAssigned  TaskStatus = "assigned"
	TaskCompleted TaskStatus = "completed"
	TaskVerified  TaskStatus = "verified"
)

// HumanTask represents work requiring a human decision. Created by the
// workflow engine when auto-approval rules do not match; closed by
// completion plus verification.
type HumanTask struct {
	TaskID      uuid.UUID
	TenantID    uuid.UUID
	Type        TaskType
	Status      TaskStatus
	SubjectType string // "creative" or "media_buy".
	SubjectID   string
	Detail      string
	Assignee    string
	// Resolution is "approved" or "rejected" once completed.
	Resolution       string
	ResolutionDetail string
	DueAt            *time.Time
	CreatedAt        time.Time
	UpdatedAt        time.Time
	CompletedAt      *time.Time
	VerifiedAt       *time.Time
}

// AuditEntry is an immutable record of one operation attempt. Append-only.
type AuditEntry struct {
	ID          uuid.UUID
	TenantID    uuid.UUID
	PrincipalID string // May be empty for system operations (reconciliation).
	Operation   string
	Success     bool
	Detail      map[string]any
	CreatedAt   time.Time
}

// Signal is an audience or contextual signal discoverable via get_signals
// and usable in TargetingOverlay.Signals.
type Signal struct {
	SignalID    string   `json:"signal_id"`
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	Type        string   `json:"type"` // "audience" or "contextual".
	CPMUplift   float64  `json:"cpm_uplift,omitempty"`
	Platforms   []string `json:"platforms,omitempty"` // Adapter names the signal deploys to.
}

// NewID generates a new random UUID.
func NewID() uuid.UUID {
	return uuid.New()
}

// NewPrefixedID generates an opaque external identifier such as "buy_a1b2...".
func NewPrefixedID(prefix string) string {
	b := make([]byte, 8)
	if _, err := rand.Read(b); err != nil {
		// crypto/rand failure is unrecoverable; fall back to a UUID.
		return prefix + "_" + uuid.NewString()
	}
	return prefix + "_" + hex.EncodeToString(b)
}
