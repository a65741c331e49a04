package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/uptrace/opentelemetry-go-extra/otelsql"
	semconv "go.opentelemetry.io/otel/semconv/v1.17.0"

	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" driver
)

type Config struct {
	// DSN empty runs the service on in-memory repositories.
	DSN             string        `yaml:"dsn" envconfig:"DB_DSN"`
	MaxOpenConns    int           `yaml:"max_open_conns" envconfig:"DB_MAX_OPEN_CONNS" validate:"gte=1"`
	MaxIdleConns    int           `yaml:"max_idle_conns" envconfig:"DB_MAX_IDLE_CONNS" validate:"gte=0"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" envconfig:"DB_CONN_MAX_LIFETIME"`
	// Migrate applies the embedded schema at startup.
	Migrate bool `yaml:"migrate" envconfig:"DB_MIGRATE"`
}

func (c *Config) SetDefaults() {
	c.MaxOpenConns = 25
	c.MaxIdleConns = 5
	c.ConnMaxLifetime = 15 * time.Minute
	c.Migrate = true
}

func (c Config) Enabled() bool { return c.DSN != "" }

// NewPostgres opens an instrumented *sql.DB and fails fast when the server is
// unreachable.
func NewPostgres(ctx context.Context, cfg Config, serviceName string) (*sql.DB, error) {
	db, err := otelsql.Open("pgx", cfg.DSN,
		otelsql.WithAttributes(semconv.ServiceNameKey.String(serviceName)),
		otelsql.WithDBName("postgres"),
	)
	if err != nil {
		return nil, fmt.Errorf("database: failed to open connection: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("database: failed to ping database: %w", err)
	}

	return db, nil
}
