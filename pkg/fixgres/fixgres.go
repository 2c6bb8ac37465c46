// Package fixgres boots one throwaway Postgres container per test binary
// and hands out isolated schemas on it.
package fixgres

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/testcontainers/testcontainers-go/modules/postgres"
)

type config struct {
	image    string
	dbName   string
	user     string
	password string
}

type Option func(*config)

func WithImage(i string) Option    { return func(c *config) { c.image = i } }
func WithDBName(n string) Option   { return func(c *config) { c.dbName = n } }
func WithUser(u string) Option     { return func(c *config) { c.user = u } }
func WithPassword(p string) Option { return func(c *config) { c.password = p } }

var (
	once       sync.Once
	bootErr    error
	mu         sync.Mutex
	pg         *postgres.PostgresContainer
	connString string
)

// Boot starts the container on first use. Later calls return the first
// call's result and ignore their options.
func Boot(ctx context.Context, opts ...Option) error {
	once.Do(func() {
		c := &config{
			image:    "docker.io/postgres:16-alpine",
			dbName:   "app",
			user:     "postgres",
			password: "pass",
		}
		for _, o := range opts {
			o(c)
		}
		bootErr = boot(ctx, c)
	})
	return bootErr
}

func boot(ctx context.Context, c *config) error {
	container, err := postgres.Run(ctx,
		c.image,
		postgres.WithDatabase(c.dbName),
		postgres.WithUsername(c.user),
		postgres.WithPassword(c.password),
		postgres.BasicWaitStrategies(),
	)
	if err != nil {
		return fmt.Errorf("start postgres container: %w", err)
	}

	host, err := container.Host(ctx)
	if err != nil {
		return err
	}
	port, err := container.MappedPort(ctx, "5432/tcp")
	if err != nil {
		return err
	}

	mu.Lock()
	pg = container
	connString = fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?sslmode=disable",
		c.user, c.password, host, port.Port(), c.dbName,
	)
	mu.Unlock()
	return nil
}

func ShutdownNow() error {
	mu.Lock()
	defer mu.Unlock()
	if pg == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	err := pg.Terminate(ctx)
	pg = nil
	return err
}
