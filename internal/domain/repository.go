// Package domain defines the core types and interfaces shared by the
// forensics engine and the service around it.
package domain

import (
	"context"
	"time"
)

// Repository stores tenant-defined rule configurations and the history of
// analysis runs. Reports themselves live in the cache.
// All methods require tenantID for strict multi-tenancy isolation.
type Repository interface {
	SaveRuleConfig(ctx context.Context, tenantID string, rule *RuleConfig) error
	GetRuleConfig(ctx context.Context, tenantID string, ruleID string) (*RuleConfig, error)
	ListRuleConfigs(ctx context.Context, tenantID string) ([]*RuleConfig, error)
	DeleteRuleConfig(ctx context.Context, tenantID string, ruleID string) error

	SaveAnalysisRun(ctx context.Context, tenantID string, run *AnalysisRun) error
	ListAnalysisRuns(ctx context.Context, tenantID string, limit int) ([]*AnalysisRun, error)

	Ping(ctx context.Context) error
	Close() error
}

// RepositoryConfig holds configuration for repository initialization.
type RepositoryConfig struct {
	// Driver is the database driver: "sqlite" or "postgres"
	Driver string `json:"driver" yaml:"driver" envconfig:"DRIVER" validate:"oneof=sqlite postgres"`

	SQLitePath string `json:"sqlitePath" yaml:"sqlite_path" envconfig:"SQLITE_PATH"`

	PostgresHost     string `json:"postgresHost" yaml:"postgres_host" envconfig:"POSTGRES_HOST"`
	PostgresPort     int    `json:"postgresPort" yaml:"postgres_port" envconfig:"POSTGRES_PORT"`
	PostgresUser     string `json:"postgresUser" yaml:"postgres_user" envconfig:"POSTGRES_USER"`
	PostgresPassword string `json:"-" yaml:"postgres_password" envconfig:"POSTGRES_PASSWORD"`
	PostgresDB       string `json:"postgresDb" yaml:"postgres_db" envconfig:"POSTGRES_DB"`
	PostgresSSLMode  string `json:"postgresSslMode" yaml:"postgres_sslmode" envconfig:"POSTGRES_SSLMODE"`

	MaxOpenConns    int           `json:"maxOpenConns" yaml:"max_open_conns" envconfig:"MAX_OPEN_CONNS"`
	MaxIdleConns    int           `json:"maxIdleConns" yaml:"max_idle_conns" envconfig:"MAX_IDLE_CONNS"`
	ConnMaxLifetime time.Duration `json:"connMaxLifetime" yaml:"conn_max_lifetime" envconfig:"CONN_MAX_LIFETIME"`
}
