package testutil

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	_ "github.com/lib/pq"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

const templateDB = "ledger_template"

// ledgerServer is the Postgres instance shared by every test in a package
// binary. Each test gets its own database cloned from a migrated template,
// so tests stay isolated without paying for a container apiece.
type ledgerServer struct {
	admin   *sql.DB
	baseURL *url.URL

	// CREATE DATABASE ... TEMPLATE fails while another clone of the same
	// template is in progress.
	cloneMu sync.Mutex
	seq     atomic.Int64
}

var (
	serverOnce sync.Once
	server     *ledgerServer
	serverErr  error
)

// SetupTestDB returns a fresh, migrated database that is dropped when t ends.
// TEST_DATABASE_URL points the tests at an existing server instead of a container.
func SetupTestDB(t *testing.T) *sql.DB {
	t.Helper()
	if testing.Short() {
		t.Skip("postgres integration test")
	}

	serverOnce.Do(func() { server, serverErr = startServer(context.Background()) })
	if serverErr != nil {
		t.Fatalf("start test postgres: %v", serverErr)
	}

	name := fmt.Sprintf("ledger_t%d_%d", os.Getpid(), server.seq.Add(1))
	server.cloneMu.Lock()
	_, err := server.admin.Exec(fmt.Sprintf(`CREATE DATABASE %s TEMPLATE %s`, name, templateDB))
	server.cloneMu.Unlock()
	if err != nil {
		t.Fatalf("create database %s: %v", name, err)
	}

	db, err := sql.Open("postgres", server.dsn(name))
	if err != nil {
		t.Fatalf("open %s: %v", name, err)
	}

	t.Cleanup(func() {
		db.Close()
		if _, err := server.admin.Exec(fmt.Sprintf(`DROP DATABASE IF EXISTS %s WITH (FORCE)`, name)); err != nil {
			t.Logf("drop database %s: %v", name, err)
		}
	})
	return db
}

func startServer(ctx context.Context) (*ledgerServer, error) {
	connStr := os.Getenv("TEST_DATABASE_URL")
	if connStr == "" {
		// The container is reaped by testcontainers when the test binary exits.
		container, err := postgres.Run(ctx, "postgres:16-alpine",
			postgres.WithDatabase("ledger_test"),
			postgres.WithUsername("test"),
			postgres.WithPassword("test"),
			testcontainers.WithWaitStrategy(
				wait.ForLog("database system is ready to accept connections").
					WithOccurrence(2).
					WithStartupTimeout(30*time.Second),
			),
		)
		if err != nil {
			return nil, fmt.Errorf("start postgres container: %w", err)
		}
		connStr, err = container.ConnectionString(ctx, "sslmode=disable")
		if err != nil {
			return nil, fmt.Errorf("get connection string: %w", err)
		}
	}

	base, err := url.Parse(connStr)
	if err != nil {
		return nil, fmt.Errorf("parse connection string: %w", err)
	}
	admin, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, fmt.Errorf("open admin connection: %w", err)
	}
	s := &ledgerServer{admin: admin, baseURL: base}

	if err := s.buildTemplate(); err != nil {
		admin.Close()
		return nil, err
	}
	return s, nil
}

// buildTemplate (re)creates the template database and applies the migrations to it.
func (s *ledgerServer) buildTemplate() error {
	if _, err := s.admin.Exec(`DROP DATABASE IF EXISTS ` + templateDB + ` WITH (FORCE)`); err != nil {
		return fmt.Errorf("drop template: %w", err)
	}
	if _, err := s.admin.Exec(`CREATE DATABASE ` + templateDB); err != nil {
		return fmt.Errorf("create template: %w", err)
	}

	tmpl, err := sql.Open("postgres", s.dsn(templateDB))
	if err != nil {
		return fmt.Errorf("open template: %w", err)
	}
	// Cloning requires that nobody is connected to the template.
	defer tmpl.Close()

	if err := runMigrations(tmpl); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	return nil
}

func (s *ledgerServer) dsn(database string) string {
	u := *s.baseURL
	u.Path = "/" + database
	return u.String()
}

func runMigrations(db *sql.DB) error {
	migrationsDir := findMigrationsDir()

	entries, err := os.ReadDir(migrationsDir)
	if err != nil {
		return fmt.Errorf("read migrations dir: %w", err)
	}

	var upFiles []string
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), ".up.sql") {
			upFiles = append(upFiles, e.Name())
		}
	}
	sort.Strings(upFiles)

	for _, f := range upFiles {
		content, err := os.ReadFile(filepath.Join(migrationsDir, f))
		if err != nil {
			return fmt.Errorf("read migration %s: %w", f, err)
		}
		if _, err := db.Exec(string(content)); err != nil {
			return fmt.Errorf("execute migration %s: %w", f, err)
		}
	}
	return nil
}

// findMigrationsDir walks up from the package under test to the module's migrations/.
func findMigrationsDir() string {
	dir, err := os.Getwd()
	if err != nil {
		return "migrations"
	}
	for range 10 {
		candidate := filepath.Join(dir, "migrations")
		if info, err := os.Stat(candidate); err == nil && info.IsDir() {
			return candidate
		}
		dir = filepath.Dir(dir)
	}
	return "migrations"
}
