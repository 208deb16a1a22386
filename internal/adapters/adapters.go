// Package adapters abstracts the downstream ad servers. Each adapter converts
// platform-neutral buy operations into one platform's API calls. Adapters in
// dry-run mode never open a network connection: every would-be call is written
// to the recorder instead and a synthetic success is returned.
package adapters

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/admesh/salesagent/internal/domain"
	"github.com/admesh/salesagent/internal/errs"
)

// CreateRequest is the platform-neutral input for creating a campaign.
type CreateRequest struct {
	MediaBuyID   string
	AdvertiserID string // Platform advertiser ID from the principal's mapping.
	OrderName    string
	TotalBudget  float64
	FlightStart  time.Time
	FlightEnd    time.Time
	Packages     []domain.MediaPackage
	Targeting    *domain.TargetingOverlay
}

// CreateResult is the outcome of a successful (or dry-run) create.
type CreateResult struct {
	// ExternalID is the platform campaign identifier. In dry-run it is a
	// synthetic ID so the lifecycle can proceed without a remote campaign.
	ExternalID string
	// Warnings lists targeting dimensions dropped during translation.
	Warnings []string
}

// UpdateRequest carries changed fields of an already-created campaign.
// Zero-valued fields are left untouched on the platform.
type UpdateRequest struct {
	ExternalID  string
	TotalBudget float64
	FlightEnd   time.Time
	Targeting   *domain.TargetingOverlay
}

// Status is a point-in-time snapshot of the remote campaign.
type Status struct {
	ExternalID string
	State      string // Platform-neutral: "active", "paused", "completed".
	AsOf       time.Time
}

// PackageDelivery is delivery for one package within a report window.
type PackageDelivery struct {
	PackageID   string  `json:"package_id"`
	Impressions int64   `json:"impressions"`
	Spend       float64 `json:"spend"`
}

// Performance aggregates campaign delivery over a reporting window.
type Performance struct {
	ExternalID  string            `json:"external_id"`
	Impressions int64             `json:"impressions"`
	Spend       float64           `json:"spend"`
	Packages    []PackageDelivery `json:"packages,omitempty"`
	WindowStart time.Time         `json:"window_start"`
	WindowEnd   time.Time         `json:"window_end"`
}

// AvailsRequest asks a platform for forecasted available inventory.
type AvailsRequest struct {
	Product     *domain.Product
	Targeting   *domain.TargetingOverlay
	FlightStart time.Time
	FlightEnd   time.Time
}

// Avails is the platform's forecast answer.
type Avails struct {
	ProductID        string   `json:"product_id"`
	AvailImpressions int64    `json:"avail_impressions"`
	Warnings         []string `json:"warnings,omitempty"`
}

// Adapter is the contract every ad-server integration implements. All methods
// honor ctx cancellation. Transient platform failures are returned as
// adapter_unavailable so the orchestrator can retry.
type Adapter interface {
	Name() string
	GetAvails(ctx context.Context, req *AvailsRequest) (*Avails, error)
	// CreateMediaBuy creates the remote campaign. Implementations must be
	// repeat-safe: a retry after a crashed persist looks the campaign up by
	// the media buy ID and returns it instead of creating a second one.
	CreateMediaBuy(ctx context.Context, req *CreateRequest) (*CreateResult, error)
	// UpdateMediaBuy pushes budget, flight, and targeting changes to the
	// remote campaign.
	UpdateMediaBuy(ctx context.Context, req *UpdateRequest) error
	Activate(ctx context.Context, externalID string) error
	Pause(ctx context.Context, externalID string) error
	Resume(ctx context.Context, externalID string) error
	GetStatus(ctx context.Context, externalID string) (*Status, error)
	GetPerformance(ctx context.Context, externalID string, start, end time.Time) (*Performance, error)
}

// RecordedCall is one would-be platform call captured in dry-run mode.
type RecordedCall struct {
	Adapter   string
	Method    string // HTTP method or RPC name.
	Target    string // URL or service method.
	Payload   any
	Timestamp time.Time
}

// CallRecorder accumulates dry-run calls. Safe for concurrent use.
type CallRecorder struct {
	mu    sync.Mutex
	calls []RecordedCall
}

func NewCallRecorder() *CallRecorder { return &CallRecorder{} }

func (r *CallRecorder) Record(c RecordedCall) {
	if r == nil {
		return
	}
	c.Timestamp = time.Now().UTC()
	r.mu.Lock()
	r.calls = append(r.calls, c)
	r.mu.Unlock()
}

// Calls returns a copy of everything recorded so far.
func (r *CallRecorder) Calls() []RecordedCall {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]RecordedCall(nil), r.calls...)
}

// Options configure adapter construction.
type Options struct {
	DryRun   bool
	Recorder *CallRecorder
	Logger   *slog.Logger
}

func (o Options) logger() *slog.Logger {
	if o.Logger != nil {
		return o.Logger
	}
	return slog.Default()
}

// Factory builds an adapter from a tenant's adapter configuration.
type Factory func(tenant *domain.Tenant, opts Options) (Adapter, error)

// Registry maps adapter names to factories.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry returns a registry preloaded with every built-in adapter.
func NewRegistry() *Registry {
	r := &Registry{factories: map[string]Factory{}}
	r.Register("mock", newMockAdapter)
	r.Register("google_ad_manager", newGAMAdapter)
	r.Register("kevel", newKevelAdapter)
	r.Register("triton", newTritonAdapter)
	return r
}

func (r *Registry) Register(name string, f Factory) {
	r.mu.Lock()
	r.factories[name] = f
	r.mu.Unlock()
}

// Decorate wraps every adapter the registry constructs, e.g. with
// observability instrumentation. Call before any ForTenant.
func (r *Registry) Decorate(mw func(Adapter) Adapter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for name, f := range r.factories {
		inner := f
		r.factories[name] = func(tenant *domain.Tenant, opts Options) (Adapter, error) {
			a, err := inner(tenant, opts)
			if err != nil {
				return nil, err
			}
			return mw(a), nil
		}
	}
}

// Names returns the registered adapter names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.factories))
	for n := range r.factories {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// ForTenant constructs the adapter a tenant's inventory lives on.
func (r *Registry) ForTenant(tenant *domain.Tenant, opts Options) (Adapter, error) {
	r.mu.RLock()
	f, ok := r.factories[tenant.AdapterName]
	r.mu.RUnlock()
	if !ok {
		return nil, errs.New(errs.KindValidation, "tenant %s references unknown adapter %q", tenant.ID, tenant.AdapterName)
	}
	return f(tenant, opts)
}

func dryRunID(adapterName, mediaBuyID string) string {
	return fmt.Sprintf("dryrun_%s_%s", adapterName, mediaBuyID)
}
