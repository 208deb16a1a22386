// Package sqlite implements storage.Store backed by SQLite.
// It reuses the postgres package's GORM models and repositories; only the
// driver and migration path differ.
package sqlite

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/admesh/salesagent/internal/auditlog"
	"github.com/admesh/salesagent/internal/auth"
	"github.com/admesh/salesagent/internal/notification"
	"github.com/admesh/salesagent/internal/orchestrator"
	"github.com/admesh/salesagent/internal/storage"
	pgstore "github.com/admesh/salesagent/internal/storage/postgres"
	"github.com/admesh/salesagent/internal/workflow"
)

// Store implements storage.Store backed by a single SQLite file.
type Store struct {
	db     *gorm.DB
	logger *slog.Logger

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

// Open opens (or creates) the SQLite database at path.
// WAL journaling and a busy timeout keep concurrent readers and the single
// writer from tripping over each other.
func Open(path string, slogger *slog.Logger) (*Store, error) {
	if path == "" {
		path = "salesagent.db"
	}
	dsn := path + "?_pragma=journal_mode(wal)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(ON)"

	gormLogger := logger.New(
		slogWriter{slogger},
		logger.Config{
			SlowThreshold:             200 * time.Millisecond,
			LogLevel:                  logger.Warn,
			IgnoreRecordNotFoundError: true,
		},
	)

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:  gormLogger,
		NowFunc: func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		return nil, fmt.Errorf("opening sqlite database %q: %w", path, err)
	}

	slogger.Info("sqlite opened", slog.String("path", path))
	return &Store{db: db, logger: slogger}, nil
}

// Migrate creates/updates tables using the shared model definitions.
func (s *Store) Migrate(_ context.Context) error {
	if err := s.db.AutoMigrate(pgstore.AllModels()...); err != nil {
		return fmt.Errorf("migrating sqlite schema: %w", err)
	}
	return nil
}

func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (s *Store) Driver() string {
	return storage.DriverSQLite
}

// --- Sub-store accessors (lazily constructed; repositories are shared with postgres) ---

func (s *Store) Tenants() auth.TenantStore {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tenants == nil {
		s.tenants = pgstore.NewTenantRepository(s.db)
	}
	return s.tenants
}

func (s *Store) Principals() auth.PrincipalStore {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.principals == nil {
		s.principals = pgstore.NewPrincipalRepository(s.db)
	}
	return s.principals
}

func (s *Store) Products() orchestrator.ProductStore {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.products == nil {
		s.products = pgstore.NewProductRepository(s.db)
	}
	return s.products
}

func (s *Store) Signals() orchestrator.SignalStore {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.signals == nil {
		s.signals = pgstore.NewSignalRepository(s.db)
	}
	return s.signals
}

func (s *Store) MediaBuys() orchestrator.MediaBuyStore {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.mediaBuys == nil {
		s.mediaBuys = pgstore.NewMediaBuyRepository(s.db)
	}
	return s.mediaBuys
}

func (s *Store) Creatives() workflow.CreativeStore {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.creatives == nil {
		s.creatives = pgstore.NewCreativeRepository(s.db)
	}
	return s.creatives
}

func (s *Store) Assignments() workflow.AssignmentStore {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.assignments == nil {
		s.assignments = pgstore.NewAssignmentRepository(s.db)
	}
	return s.assignments
}

func (s *Store) Tasks() workflow.TaskStore {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tasks == nil {
		s.tasks = pgstore.NewTaskRepository(s.db)
	}
	return s.tasks
}

func (s *Store) Endpoints() notification.EndpointStore {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.endpoints == nil {
		s.endpoints = pgstore.NewEndpointRepository(s.db)
	}
	return s.endpoints
}

func (s *Store) Audit() auditlog.Store {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.audit == nil {
		s.audit = pgstore.NewAuditRepository(s.db)
	}
	return s.audit
}

// slogWriter adapts *slog.Logger to GORM's logger.Writer interface.
type slogWriter struct {
	logger *slog.Logger
}

func (w slogWriter) Printf(format string, args ...any) {
	w.logger.Info(fmt.Sprintf(format, args...))
}

// compile-time interface check
var _ storage.Store = (*Store)(nil)
