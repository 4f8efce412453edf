package config

import (
	"fmt"
	"os"
	"strings"

	"catalograph/internal/loader"
	"catalograph/internal/logger"
	"catalograph/internal/storage"

	"github.com/spf13/viper"
)

const (
	BackendNeo4j    = "neo4j"
	BackendPostgres = "postgres"
	BackendMemory   = "memory"
)

type DataConfig struct {
	In  string `mapstructure:"in"`
	Out string `mapstructure:"out"`
}

type StoreConfig struct {
	Backend string `mapstructure:"backend"`
}

type Neo4jConfig struct {
	URI            string `mapstructure:"uri"`
	User           string `mapstructure:"user"`
	Password       string `mapstructure:"password"`
	Database       string `mapstructure:"database"`
	MaxPoolSize    int    `mapstructure:"max_pool_size"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

type PostgresConfig struct {
	URL string `mapstructure:"url"`
}

type LoadConfig struct {
	BatchSize               int `mapstructure:"batch_size"`
	Retries                 int `mapstructure:"retries"`
	EntityConcurrency       int `mapstructure:"entity_concurrency"`
	RelationshipConcurrency int `mapstructure:"relationship_concurrency"`
}

type TransformConfig struct {
	Concurrency int `mapstructure:"concurrency"`
}

type CatalogConfig struct {
	IdentifierPattern string `mapstructure:"identifier_pattern"`
	SeedInstitutionID string `mapstructure:"seed_institution_id"`
}

type TemporalConfig struct {
	Address   string `mapstructure:"address"`
	TaskQueue string `mapstructure:"task_queue"`
}

type APIConfig struct {
	Addr string `mapstructure:"addr"`
}

type LogConfig struct {
	Mode  string `mapstructure:"mode"`
	Level string `mapstructure:"level"`
	File  string `mapstructure:"file"`
}

// Config is read once at startup and passed by value.
type Config struct {
	Data      DataConfig      `mapstructure:"data"`
	Store     StoreConfig     `mapstructure:"store"`
	Neo4j     Neo4jConfig     `mapstructure:"neo4j"`
	Postgres  PostgresConfig  `mapstructure:"postgres"`
	Load      LoadConfig      `mapstructure:"load"`
	Transform TransformConfig `mapstructure:"transform"`
	Catalog   CatalogConfig   `mapstructure:"catalog"`
	Temporal  TemporalConfig  `mapstructure:"temporal"`
	API       APIConfig       `mapstructure:"api"`
	Log       LogConfig       `mapstructure:"log"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("data.in", "./data/in")
	v.SetDefault("data.out", "./data/out")
	v.SetDefault("store.backend", BackendNeo4j)
	v.SetDefault("neo4j.uri", "neo4j://localhost:7687")
	v.SetDefault("neo4j.user", "neo4j")
	v.SetDefault("neo4j.password", "")
	v.SetDefault("neo4j.database", "")
	v.SetDefault("neo4j.max_pool_size", 50)
	v.SetDefault("neo4j.timeout_seconds", 10)
	// empty disables the run ledger
	v.SetDefault("postgres.url", "")
	v.SetDefault("load.batch_size", 1000)
	v.SetDefault("load.retries", 5)
	v.SetDefault("load.entity_concurrency", 4)
	v.SetDefault("load.relationship_concurrency", 1)
	v.SetDefault("transform.concurrency", 4)
	v.SetDefault("catalog.identifier_pattern", "")
	v.SetDefault("catalog.seed_institution_id", "")
	v.SetDefault("temporal.address", "localhost:7233")
	v.SetDefault("temporal.task_queue", "catalograph")
	v.SetDefault("api.addr", ":8080")
	v.SetDefault("log.mode", "production")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.file", "")
}

// Load builds the configuration from defaults, the optional file named by
// CATALOG_CONFIG_FILE, and CATALOG_* environment variables.
func Load() (Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix("CATALOG")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path := strings.TrimSpace(os.Getenv("CATALOG_CONFIG_FILE")); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config file %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	switch c.Store.Backend {
	case BackendNeo4j, BackendPostgres, BackendMemory:
	default:
		return fmt.Errorf("store.backend must be neo4j, postgres or memory, got %q", c.Store.Backend)
	}
	if c.Store.Backend == BackendPostgres && c.Postgres.URL == "" {
		return fmt.Errorf("store.backend %s needs postgres.url", BackendPostgres)
	}
	if c.Load.BatchSize <= 0 {
		return fmt.Errorf("load.batch_size must be positive, got %d", c.Load.BatchSize)
	}
	if c.Load.Retries < 0 {
		return fmt.Errorf("load.retries must not be negative, got %d", c.Load.Retries)
	}
	return nil
}

func (c Config) LoaderOptions() loader.Options {
	return loader.Options{
		BatchSize:               c.Load.BatchSize,
		Retries:                 c.Load.Retries,
		EntityConcurrency:       c.Load.EntityConcurrency,
		RelationshipConcurrency: c.Load.RelationshipConcurrency,
	}
}

func (c Config) Neo4jClientConfig() storage.Neo4jConfig {
	return storage.Neo4jConfig(c.Neo4j)
}

func (c Config) LoggerConfig() logger.Config {
	return logger.Config{Mode: c.Log.Mode, Level: c.Log.Level, File: c.Log.File}
}
