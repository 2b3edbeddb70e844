// ABOUTME: Service configuration loaded from YAML, .env files and DOCREV_* variables
// ABOUTME: Defaults first, then the file, then the environment, then validation

package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/nainya/docrev/pkg/blob"
	"github.com/nainya/docrev/pkg/notify"
	"github.com/nainya/docrev/pkg/retention"
)

// EnvPrefix prefixes every environment override
const EnvPrefix = "DOCREV_"

// Config is the full service configuration
type Config struct {
	DB        DBConfig                    `yaml:"db"`
	Server    ServerConfig                `yaml:"server"`
	Log       LogConfig                   `yaml:"log"`
	Blob      BlobConfig                  `yaml:"blob"`
	Notify    NotifyConfig                `yaml:"notify"`
	Compare   CompareConfig               `yaml:"compare"`
	Sweep     SweepConfig                 `yaml:"sweep"`
	Access    AccessConfig                `yaml:"access"`
	Retention map[string]retention.Policy `yaml:"retention" validate:"dive"`
}

type DBConfig struct {
	Path    string        `yaml:"path" validate:"required"`
	Timeout time.Duration `yaml:"timeout" validate:"gte=0"`
	NoSync  bool          `yaml:"no_sync"`
}

type ServerConfig struct {
	GrpcAddr string `yaml:"grpc_addr" validate:"required"`
	HTTPAddr string `yaml:"http_addr"`
}

type LogConfig struct {
	Level  string `yaml:"level" validate:"oneof=trace debug info warn error fatal panic disabled"`
	Pretty bool   `yaml:"pretty"`
	Caller bool   `yaml:"caller"`
}

type BlobConfig struct {
	Backend string           `yaml:"backend" validate:"oneof=memory file minio"`
	Dir     string           `yaml:"dir" validate:"required_if=Backend file"`
	MinIO   blob.MinIOConfig `yaml:"minio"`
	// CacheMB sizes the read cache; zero disables it
	CacheMB int64            `yaml:"cache_mb" validate:"gte=0"`
}

type NotifyConfig struct {
	BusBuffer   int                `yaml:"bus_buffer" validate:"gte=0"`
	JournalPath string             `yaml:"journal_path"`
	Redis       RedisConfig        `yaml:"redis"`
	Kafka       notify.KafkaConfig `yaml:"kafka"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db" validate:"gte=0"`
	Channel  string `yaml:"channel" validate:"required_with=Addr"`
}

type CompareConfig struct {
	Timeout  time.Duration `yaml:"timeout" validate:"gt=0"`
	Capacity int           `yaml:"capacity" validate:"gt=0"`
}

type SweepConfig struct {
	Locks     time.Duration `yaml:"locks" validate:"gt=0"`
	Retention time.Duration `yaml:"retention" validate:"gt=0"`
}

type AccessConfig struct {
	Managers []string `yaml:"managers"`
	Deleters []string `yaml:"deleters"`
	// AllowAll grants every actor manage and delete rights
	AllowAll bool     `yaml:"allow_all"`
}

// Default returns the configuration used when nothing overrides it
func Default() *Config {
	return &Config{
		DB: DBConfig{
			Path:    "docrev.db",
			Timeout: time.Second,
		},
		Server: ServerConfig{
			GrpcAddr: ":50051",
			HTTPAddr: ":9090",
		},
		Log: LogConfig{
			Level: "info",
		},
		Blob: BlobConfig{
			Backend: "file",
			Dir:     "blobs",
			CacheMB: 64,
		},
		Notify: NotifyConfig{
			BusBuffer: 256,
			Redis:     RedisConfig{Channel: "docrev.events"},
			Kafka:     notify.KafkaConfig{Topic: "docrev.events", BatchTimeout: 10 * time.Millisecond, RequiredAcks: 1},
		},
		Compare: CompareConfig{
			Timeout:  30 * time.Second,
			Capacity: 1024,
		},
		Sweep: SweepConfig{
			Locks:     30 * time.Second,
			Retention: time.Hour,
		},
	}
}

// Load reads defaults, then the YAML file at path if set, then envFiles into
// the process environment, then DOCREV_* overrides, and validates the result.
func Load(path string, envFiles ...string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	for _, f := range envFiles {
		// godotenv never overwrites variables already set
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("load env file %s: %w", f, err)
		}
	}

	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

var validate = validator.New()

// Validate checks field constraints
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if c.Blob.Backend == "minio" && (c.Blob.MinIO.Endpoint == "" || c.Blob.MinIO.Bucket == "") {
		return errors.New("invalid config: minio backend needs endpoint and bucket")
	}
	return nil
}

type lookupFunc func(string) (string, bool)

func (c *Config) applyEnv(lookup lookupFunc) error {
	strs := map[string]*string{
		"DB_PATH":          &c.DB.Path,
		"GRPC_ADDR":        &c.Server.GrpcAddr,
		"HTTP_ADDR":        &c.Server.HTTPAddr,
		"LOG_LEVEL":        &c.Log.Level,
		"BLOB_BACKEND":     &c.Blob.Backend,
		"BLOB_DIR":         &c.Blob.Dir,
		"MINIO_ENDPOINT":   &c.Blob.MinIO.Endpoint,
		"MINIO_ACCESS_KEY": &c.Blob.MinIO.AccessKey,
		"MINIO_SECRET_KEY": &c.Blob.MinIO.SecretKey,
		"MINIO_BUCKET":     &c.Blob.MinIO.Bucket,
		"JOURNAL_PATH":     &c.Notify.JournalPath,
		"REDIS_ADDR":       &c.Notify.Redis.Addr,
		"REDIS_PASSWORD":   &c.Notify.Redis.Password,
		"REDIS_CHANNEL":    &c.Notify.Redis.Channel,
		"KAFKA_TOPIC":      &c.Notify.Kafka.Topic,
	}
	for name, dst := range strs {
		if v, ok := lookup(EnvPrefix + name); ok {
			*dst = v
		}
	}

	bools := map[string]*bool{
		"DB_NO_SYNC": &c.DB.NoSync,
		"LOG_PRETTY": &c.Log.Pretty,
		"MINIO_SSL":  &c.Blob.MinIO.UseSSL,
		"ALLOW_ALL":  &c.Access.AllowAll,
	}
	for name, dst := range bools {
		if v, ok := lookup(EnvPrefix + name); ok {
			b, err := strconv.ParseBool(v)
			if err != nil {
				return fmt.Errorf("%s%s: %w", EnvPrefix, name, err)
			}
			*dst = b
		}
	}

	durations := map[string]*time.Duration{
		"COMPARE_TIMEOUT": &c.Compare.Timeout,
		"LOCK_SWEEP":      &c.Sweep.Locks,
		"RETENTION_SWEEP": &c.Sweep.Retention,
	}
	for name, dst := range durations {
		if v, ok := lookup(EnvPrefix + name); ok {
			d, err := time.ParseDuration(v)
			if err != nil {
				return fmt.Errorf("%s%s: %w", EnvPrefix, name, err)
			}
			*dst = d
		}
	}

	lists := map[string]*[]string{
		"MANAGERS":      &c.Access.Managers,
		"DELETERS":      &c.Access.Deleters,
		"KAFKA_BROKERS": &c.Notify.Kafka.Brokers,
	}
	for name, dst := range lists {
		if v, ok := lookup(EnvPrefix + name); ok {
			*dst = splitList(v)
		}
	}
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
