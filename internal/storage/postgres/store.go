package postgres

import (
	"context"
	"sync"

	"github.com/admesh/salesagent/internal/auditlog"
	"github.com/admesh/salesagent/internal/auth"
	"github.com/admesh/salesagent/internal/notification"
	"github.com/admesh/salesagent/internal/orchestrator"
	"github.com/admesh/salesagent/internal/storage"
	"github.com/admesh/salesagent/internal/workflow"
)

// Store implements storage.Store backed by PostgreSQL.
// It wraps the existing DB and lazily creates sub-store repositories.
type Store struct {
	pgDB *DB

	mu          sync.Mutex
	tenants     auth.TenantStore
	principals  auth.PrincipalStore
	products    orchestrator.ProductStore
	signals     orchestrator.SignalStore
	mediaBuys   orchestrator.MediaBuyStore
	creatives   workflow.CreativeStore
	assignments workflow.AssignmentStore
	tasks       workflow.TaskStore
	endpoints   notification.EndpointStore
	audit       auditlog.Store
}

// NewStore wraps an existing DB as a unified Store.
func NewStore(pgDB *DB) *Store {
	return &Store{pgDB: pgDB}
}

func (s *Store) Migrate(_ context.Context) error {
	// PostgreSQL migration is done in Open() via autoMigrate.
	return nil
}

func (s *Store) Close() error {
	return s.pgDB.Close()
}

func (s *Store) Driver() string {
	return storage.DriverPostgres
}

// GormDB returns the underlying DB for direct access when needed.
func (s *Store) GormDB() *DB {
	return s.pgDB
}

// --- Sub-store accessors ---

func (s *Store) Tenants() auth.TenantStore {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tenants == nil {
		s.tenants = NewTenantRepository(s.pgDB.GormDB())
	}
	return s.tenants
}

func (s *Store) Principals() auth.PrincipalStore {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.principals == nil {
		s.principals = NewPrincipalRepository(s.pgDB.GormDB())
	}
	return s.principals
}

func (s *Store) Products() orchestrator.ProductStore {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.products == nil {
		s.products = NewProductRepository(s.pgDB.GormDB())
	}
	return s.products
}

func (s *Store) Signals() orchestrator.SignalStore {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.signals == nil {
		s.signals = NewSignalRepository(s.pgDB.GormDB())
	}
	return s.signals
}

func (s *Store) MediaBuys() orchestrator.MediaBuyStore {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.mediaBuys == nil {
		s.mediaBuys = NewMediaBuyRepository(s.pgDB.GormDB())
	}
	return s.mediaBuys
}

func (s *Store) Creatives() workflow.CreativeStore {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.creatives == nil {
		s.creatives = NewCreativeRepository(s.pgDB.GormDB())
	}
	return s.creatives
}

func (s *Store) Assignments() workflow.AssignmentStore {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.assignments == nil {
		s.assignments = NewAssignmentRepository(s.pgDB.GormDB())
	}
	return s.assignments
}

func (s *Store) Tasks() workflow.TaskStore {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tasks == nil {
		s.tasks = NewTaskRepository(s.pgDB.GormDB())
	}
	return s.tasks
}

func (s *Store) Endpoints() notification.EndpointStore {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.endpoints == nil {
		s.endpoints = NewEndpointRepository(s.pgDB.GormDB())
	}
	return s.endpoints
}

func (s *Store) Audit() auditlog.Store {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.audit == nil {
		s.audit = NewAuditRepository(s.pgDB.GormDB())
	}
	return s.audit
}

// compile-time interface check
var _ storage.Store = (*Store)(nil)
