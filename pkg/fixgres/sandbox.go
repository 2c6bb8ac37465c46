package fixgres

import (
	"context"
	"database/sql"
	"fmt"
	"io/fs"
	"net/url"
	"testing"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
)

// Sandbox is a fresh schema on the shared container. DSN points every
// connection at it through search_path.
type Sandbox struct {
	DB     *sql.DB
	DSN    string
	Schema string
	Close  func()
}

type sandboxConfig struct {
	migrations fs.FS
}

type SandboxOption func(*sandboxConfig)

// WithGooseUp applies the migrations in fsys to the new schema.
func WithGooseUp(fsys fs.FS) SandboxOption {
	return func(c *sandboxConfig) { c.migrations = fsys }
}

// NewSandbox creates a schema for the calling test and drops it on
// cleanup. The test is skipped when no container can be started.
func NewSandbox(t testing.TB, opts ...SandboxOption) *Sandbox {
	t.Helper()
	cfg := &sandboxConfig{}
	for _, o := range opts {
		o(cfg)
	}

	bootCtx, cancel := context.WithTimeout(context.Background(), 90*time.Second)
	defer cancel()
	if err := Boot(bootCtx); err != nil {
		t.Skipf("fixgres: postgres unavailable: %v", err)
	}

	mu.Lock()
	base := connString
	mu.Unlock()

	admin, err := sql.Open("pgx", base) // admin connection (no search_path)
	if err != nil {
		t.Fatalf("open admin: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	schema := fmt.Sprintf("t_%x", time.Now().UnixNano())
	if _, err := admin.ExecContext(ctx, `CREATE SCHEMA "`+schema+`"`); err != nil {
		t.Fatalf("create schema: %v", err)
	}

	dsn := withSearchPath(base, schema)
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		t.Fatalf("open sandbox: %v", err)
	}

	sbx := &Sandbox{DB: db, DSN: dsn, Schema: schema}
	sbx.Close = func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_, _ = admin.ExecContext(ctx, `DROP SCHEMA IF EXISTS "`+schema+`" CASCADE`)
		_ = db.Close()
		_ = admin.Close()
	}
	t.Cleanup(sbx.Close)

	if cfg.migrations != nil {
		p, err := goose.NewProvider(goose.DialectPostgres, db, cfg.migrations)
		if err != nil {
			t.Fatalf("goose provider: %v", err)
		}
		if _, err := p.Up(ctx); err != nil {
			t.Fatalf("migrate sandbox %s: %v", schema, err)
		}
	}
	return sbx
}

func withSearchPath(base, schema string) string {
	u, _ := url.Parse(base)
	q := u.Query()
	q.Set("options", fmt.Sprintf("-csearch_path=%s", schema))
	u.RawQuery = q.Encode()
	return u.String()
}
