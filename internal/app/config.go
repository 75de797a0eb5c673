package app

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/yungbote/moldline-backend/internal/data/db"
	"github.com/yungbote/moldline-backend/internal/ingest"
	"github.com/yungbote/moldline-backend/internal/observability"
	"github.com/yungbote/moldline-backend/internal/platform/gcp"
	"github.com/yungbote/moldline-backend/internal/temporalx"
)

// ConfigFileEnv names an optional YAML/TOML/JSON file layered under the
// environment.
const ConfigFileEnv = "MOLDLINE_CONFIG"

type Config struct {
	LogMode string
	Port    string

	Postgres db.PostgresConfig
	Temporal temporalx.Config
	Storage  gcp.ObjectStorageConfig

	GCPProjectID   string
	GCPCredentials string

	ScratchDir          string
	FetchAttemptTimeout time.Duration
	FetchMaxAttempts    int
	FetchBackoffBase    time.Duration
	LoadBatchSize       int

	RedisAddr     string
	RedisPassword string
	RedisDB       int
	IngestLockTTL time.Duration

	// RunWorker starts a Temporal worker next to the API server.
	RunWorker      bool
	MetricsEnabled bool
	CORSOrigins    []string
	Otel           observability.OtelConfig
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log_mode", "development")
	v.SetDefault("port", "8080")

	v.SetDefault("postgres_host", "localhost")
	v.SetDefault("postgres_port", "5432")
	v.SetDefault("postgres_user", "postgres")
	v.SetDefault("postgres_password", "")
	v.SetDefault("postgres_name", "moldline")
	v.SetDefault("postgres_sslmode", "disable")
	v.SetDefault("database_url", "")

	v.SetDefault("temporal_address", "")
	v.SetDefault("temporal_namespace", temporalx.DefaultNamespace)
	v.SetDefault("temporal_task_queue", temporalx.DefaultTaskQueue)
	v.SetDefault("temporal_client_cert_path", "")
	v.SetDefault("temporal_client_key_path", "")
	v.SetDefault("temporal_client_ca_path", "")
	v.SetDefault("temporal_auto_register_namespace", false)
	v.SetDefault("temporal_namespace_retention_days", 7)
	v.SetDefault("temporal_dial_max_wait_seconds", 60)
	v.SetDefault("temporal_worker_concurrency", 4)

	v.SetDefault("object_storage_mode", "")
	v.SetDefault("storage_emulator_host", "")
	v.SetDefault("dataset_bucket_name", "")
	v.SetDefault("object_storage_root", "")
	v.SetDefault("gcp_project_id", "")
	v.SetDefault("google_application_credentials", "")

	v.SetDefault("scratch_dir", "")
	v.SetDefault("fetch_attempt_timeout_seconds", int(ingest.DefaultFetchAttemptTimeout/time.Second))
	v.SetDefault("fetch_max_attempts", ingest.DefaultFetchMaxAttempts)
	v.SetDefault("fetch_backoff_base_ms", int(ingest.DefaultFetchBackoffBase/time.Millisecond))
	v.SetDefault("load_batch_size", ingest.DefaultLoadBatchSize)

	v.SetDefault("redis_addr", "")
	v.SetDefault("redis_password", "")
	v.SetDefault("redis_db", 0)
	v.SetDefault("ingest_lock_ttl_seconds", 45*60)

	v.SetDefault("run_worker", true)
	v.SetDefault("metrics_enabled", true)
	v.SetDefault("cors_allowed_origins", "")

	v.SetDefault("otel_enabled", false)
	v.SetDefault("otel_service_name", "moldline-backend")
	v.SetDefault("otel_environment", "development")
	v.SetDefault("otel_service_version", "")
	v.SetDefault("otel_exporter_otlp_endpoint", "")
	v.SetDefault("otel_exporter_otlp_headers", "")
	v.SetDefault("otel_exporter_otlp_insecure", false)
	v.SetDefault("otel_sample_ratio", 1.0)
}

// newViper layers defaults, the optional config file and the environment.
func newViper() (*viper.Viper, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.BindEnv("config_file", ConfigFileEnv); err != nil {
		return nil, err
	}
	if path := strings.TrimSpace(v.GetString("config_file")); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file %s: %w", path, err)
		}
	}
	return v, nil
}

// LoadConfig resolves the process configuration. Object storage settings
// are validated here so a bad mode fails at startup.
func LoadConfig() (Config, error) {
	v, err := newViper()
	if err != nil {
		return Config{}, err
	}

	storage, err := gcp.ResolveObjectStorageConfig(
		v.GetString("object_storage_mode"),
		v.GetString("storage_emulator_host"),
		v.GetString("dataset_bucket_name"),
		v.GetString("object_storage_root"),
	)
	if err != nil {
		return Config{}, err
	}

	cfg := Config{
		LogMode: v.GetString("log_mode"),
		Port:    v.GetString("port"),
		Postgres: db.PostgresConfig{
			URL:      v.GetString("database_url"),
			Host:     v.GetString("postgres_host"),
			Port:     v.GetString("postgres_port"),
			User:     v.GetString("postgres_user"),
			Password: v.GetString("postgres_password"),
			Name:     v.GetString("postgres_name"),
			SSLMode:  v.GetString("postgres_sslmode"),
		},
		Temporal: temporalx.Config{
			Address:                v.GetString("temporal_address"),
			Namespace:              v.GetString("temporal_namespace"),
			TaskQueue:              v.GetString("temporal_task_queue"),
			ClientCertPath:         v.GetString("temporal_client_cert_path"),
			ClientKeyPath:          v.GetString("temporal_client_key_path"),
			ClientCAPath:           v.GetString("temporal_client_ca_path"),
			AutoRegisterNamespace:  v.GetBool("temporal_auto_register_namespace"),
			NamespaceRetentionDays: v.GetInt("temporal_namespace_retention_days"),
			DialMaxWait:            seconds(v.GetInt("temporal_dial_max_wait_seconds")),
			WorkerConcurrency:      v.GetInt("temporal_worker_concurrency"),
		}.Normalize(),
		Storage:             storage,
		GCPProjectID:        v.GetString("gcp_project_id"),
		GCPCredentials:      v.GetString("google_application_credentials"),
		ScratchDir:          v.GetString("scratch_dir"),
		FetchAttemptTimeout: seconds(v.GetInt("fetch_attempt_timeout_seconds")),
		FetchMaxAttempts:    v.GetInt("fetch_max_attempts"),
		FetchBackoffBase:    time.Duration(v.GetInt("fetch_backoff_base_ms")) * time.Millisecond,
		LoadBatchSize:       v.GetInt("load_batch_size"),
		RedisAddr:           v.GetString("redis_addr"),
		RedisPassword:       v.GetString("redis_password"),
		RedisDB:             v.GetInt("redis_db"),
		IngestLockTTL:       seconds(v.GetInt("ingest_lock_ttl_seconds")),
		RunWorker:           v.GetBool("run_worker"),
		MetricsEnabled:      v.GetBool("metrics_enabled"),
		CORSOrigins:         splitList(v.GetString("cors_allowed_origins")),
		Otel: observability.OtelConfig{
			Enabled:     v.GetBool("otel_enabled"),
			ServiceName: v.GetString("otel_service_name"),
			Environment: v.GetString("otel_environment"),
			Version:     v.GetString("otel_service_version"),
			Endpoint:    v.GetString("otel_exporter_otlp_endpoint"),
			Headers:     v.GetString("otel_exporter_otlp_headers"),
			Insecure:    v.GetBool("otel_exporter_otlp_insecure"),
			SampleRatio: v.GetFloat64("otel_sample_ratio"),
		},
	}
	if cfg.LoadBatchSize <= 0 {
		return Config{}, fmt.Errorf("LOAD_BATCH_SIZE must be positive, got %d", cfg.LoadBatchSize)
	}
	if cfg.FetchMaxAttempts <= 0 {
		return Config{}, fmt.Errorf("FETCH_MAX_ATTEMPTS must be positive, got %d", cfg.FetchMaxAttempts)
	}
	return cfg, nil
}

func seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
