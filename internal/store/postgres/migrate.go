package postgres

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"

	_ "github.com/lib/pq"
	"github.com/pressly/goose/v3"
	"go.uber.org/zap"
)

//go:embed migrations/*.sql
var embedded embed.FS

// Migrations returns the schema migrations, rooted at the migrations dir.
func Migrations() fs.FS {
	sub, err := fs.Sub(embedded, "migrations")
	if err != nil {
		panic(err)
	}
	return sub
}

// Migrate runs a goose command ("up", "down" or "status") against dsn.
func Migrate(ctx context.Context, dsn, command string, logger *zap.Logger) error {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	p, err := goose.NewProvider(goose.DialectPostgres, db, Migrations())
	if err != nil {
		return fmt.Errorf("goose provider: %w", err)
	}

	switch command {
	case "up":
		results, err := p.Up(ctx)
		for _, r := range results {
			logger.Info("migration applied", zap.Int64("version", r.Source.Version), zap.Duration("took", r.Duration))
		}
		return err
	case "down":
		r, err := p.Down(ctx)
		if r != nil {
			logger.Info("migration rolled back", zap.Int64("version", r.Source.Version))
		}
		return err
	case "status":
		statuses, err := p.Status(ctx)
		if err != nil {
			return err
		}
		for _, s := range statuses {
			logger.Info("migration",
				zap.Int64("version", s.Source.Version),
				zap.String("path", s.Source.Path),
				zap.String("state", string(s.State)),
			)
		}
		return nil
	default:
		return fmt.Errorf("unknown migrate command %q", command)
	}
}
