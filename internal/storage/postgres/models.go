package postgres

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// JSONB stores arbitrary JSON in a jsonb column (TEXT under SQLite).
type JSONB json.RawMessage

// Value implements driver.Valuer.
func (j JSONB) Value() (driver.Value, error) {
	if len(j) == 0 {
		return "{}", nil
	}
	return string(j), nil
}

// Scan implements sql.Scanner.
func (j *JSONB) Scan(value any) error {
	switch v := value.(type) {
	case nil:
		*j = nil
		return nil
	case []byte:
		*j = append((*j)[:0], v...)
		return nil
	case string:
		*j = JSONB(v)
		return nil
	default:
		return fmt.Errorf("unsupported jsonb source type %T", value)
	}
}

// TenantModel maps to the "tenants" table.
type TenantModel struct {
	ID                    uuid.UUID `gorm:"type:uuid;primaryKey"`
	Name                  string    `gorm:"not null"`
	Subdomain             string    `gorm:"not null;uniqueIndex"`
	AdapterName           string    `gorm:"not null"`
	AdapterConfig         JSONB     `gorm:"type:jsonb;not null;default:'{}'"`
	AutoApproveFormats    JSONB     `gorm:"type:jsonb;not null;default:'[]'"`
	AutoCreateMediaBuys   bool      `gorm:"not null;default:false"`
	PolicyBudgetThreshold float64   `gorm:"not null;default:0"`
	ReconcileCron         string
	Enabled               bool `gorm:"not null;default:true"`
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

func (TenantModel) TableName() string { return "tenants" }

// PrincipalModel maps to the "principals" table.
type PrincipalModel struct {
	ID               uuid.UUID `gorm:"type:uuid;primaryKey"`
	TenantID         uuid.UUID `gorm:"type:uuid;not null;index"`
	Name             string    `gorm:"not null"`
	AccessToken      string    `gorm:"not null;uniqueIndex"`
	PlatformMappings JSONB     `gorm:"type:jsonb;not null;default:'{}'"`
	Enabled          bool      `gorm:"not null;default:true"`
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

func (PrincipalModel) TableName() string { return "principals" }

// ProductModel maps to the "products" table.
type ProductModel struct {
	ProductID     string    `gorm:"primaryKey"`
	TenantID      uuid.UUID `gorm:"type:uuid;primaryKey;index"`
	Name          string    `gorm:"not null"`
	Description   string    `gorm:"type:text"`
	Formats       JSONB     `gorm:"type:jsonb;not null;default:'[]'"`
	DeliveryType  string    `gorm:"not null"`
	IsFixedPrice  bool      `gorm:"not null;default:false"`
	CPM           float64   `gorm:"type:numeric(12,4)"`
	PriceGuidance JSONB     `gorm:"type:jsonb"`
	ExpiresAt     *time.Time
	// ImplementationConfig holds the ad-server placement details. Internal
	// only; converters never copy it into caller-facing responses.
	ImplementationConfig JSONB `gorm:"type:jsonb"`
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

func (ProductModel) TableName() string { return "products" }

// MediaBuyModel maps to the "media_buys" table. Rows are never deleted;
// terminal buys stay for audit and reporting.
type MediaBuyModel struct {
	MediaBuyID  string    `gorm:"primaryKey"`
	TenantID    uuid.UUID `gorm:"type:uuid;not null;index"`
	PrincipalID uuid.UUID `gorm:"type:uuid;not null;index"`
	OrderName   string    `gorm:"not null"`
	AdapterName string    `gorm:"not null"`
	ExternalID  string    `gorm:"index"`
	Packages    JSONB     `gorm:"type:jsonb;not null;default:'[]'"`
	TotalBudget float64   `gorm:"type:numeric(14,4);not null"`
	FlightStart time.Time `gorm:"not null"`
	FlightEnd   time.Time `gorm:"not null"`
	Targeting   JSONB     `gorm:"type:jsonb"`
	State       string    `gorm:"not null;index"`
	LastError   string    `gorm:"type:text"`
	RawRequest  JSONB     `gorm:"type:jsonb"`
	CreatedAt   time.Time
	UpdatedAt   time.Time
	CompletedAt *time.Time
}

func (MediaBuyModel) TableName() string { return "media_buys" }

// CreativeModel maps to the "creatives" table.
type CreativeModel struct {
	CreativeID  string    `gorm:"primaryKey"`
	TenantID    uuid.UUID `gorm:"type:uuid;not null;index"`
	PrincipalID uuid.UUID `gorm:"type:uuid;not null;index"`
	Name        string    `gorm:"not null"`
	FormatID    string    `gorm:"not null"`
	ContentURI  string    `gorm:"not null"`
	ClickURL    string
	Status      string `gorm:"not null;index"`
	Detail      string `gorm:"type:text"`
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

func (CreativeModel) TableName() string { return "creatives" }

// CreativeAssignmentModel maps to the "creative_assignments" table.
type CreativeAssignmentModel struct {
	ID         uuid.UUID `gorm:"type:uuid;primaryKey"`
	TenantID   uuid.UUID `gorm:"type:uuid;not null;index"`
	CreativeID string    `gorm:"not null;index"`
	MediaBuyID string    `gorm:"not null;index"`
	PackageID  string    `gorm:"not null"`
	CreatedAt  time.Time
}

func (CreativeAssignmentModel) TableName() string { return "creative_assignments" }

// HumanTaskModel maps to the "human_tasks" table.
type HumanTaskModel struct {
	TaskID           uuid.UUID `gorm:"type:uuid;primaryKey"`
	TenantID         uuid.UUID `gorm:"type:uuid;not null;index"`
	Type             string    `gorm:"not null;index"`
	Status           string    `gorm:"not null;index"`
	SubjectType      string    `gorm:"not null"`
	SubjectID        string    `gorm:"not null;index"`
	Detail           string    `gorm:"type:text"`
	Assignee         string
	Resolution       string
	ResolutionDetail string `gorm:"type:text"`
	DueAt            *time.Time
	CreatedAt        time.Time
	UpdatedAt        time.Time
	CompletedAt      *time.Time
	VerifiedAt       *time.Time
}

func (HumanTaskModel) TableName() string { return "human_tasks" }

// AuditEntryModel maps to the "audit_entries" table.
// No UpdatedAt or DeletedAt: the audit trail is append-only and immutable.
type AuditEntryModel struct {
	ID          uuid.UUID `gorm:"type:uuid;primaryKey"`
	TenantID    uuid.UUID `gorm:"type:uuid;not null;index"`
	PrincipalID string
	Operation   string    `gorm:"not null;index"`
	Success     bool      `gorm:"not null"`
	Detail      JSONB     `gorm:"type:jsonb;not null;default:'{}'"`
	CreatedAt   time.Time `gorm:"index"`
}

func (AuditEntryModel) TableName() string { return "audit_entries" }

// SignalModel maps to the "signals" table.
type SignalModel struct {
	SignalID    string    `gorm:"primaryKey"`
	TenantID    uuid.UUID `gorm:"type:uuid;primaryKey;index"`
	Name        string    `gorm:"not null"`
	Description string    `gorm:"type:text"`
	Type        string    `gorm:"not null;index"`
	CPMUplift   float64   `gorm:"type:numeric(12,4)"`
	Platforms   JSONB     `gorm:"type:jsonb;not null;default:'[]'"`
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

func (SignalModel) TableName() string { return "signals" }

// NotificationEndpointModel maps to the "notification_endpoints" table.
type NotificationEndpointModel struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey"`
	TenantID  uuid.UUID `gorm:"type:uuid;not null;index"`
	Name      string    `gorm:"not null"`
	Kind      string    `gorm:"not null"`
	URL       string    `gorm:"not null"`
	Secret    string
	Events    JSONB `gorm:"type:jsonb;not null;default:'[]'"`
	Enabled   bool  `gorm:"not null;default:true"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (NotificationEndpointModel) TableName() string { return "notification_endpoints" }
