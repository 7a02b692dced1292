package core

import (
	"log"
	"net"
	"net/mail"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

const devSecretKey = "dev-0q5-wer)enb$+57=dz&uoxh2(h!x)#*c2(#yg4h^$cegm2emy"

type (
	Config struct {
		Env             string
		Build           string
		Debug           bool
		TestMode        bool
		AppName         string
		FrontendBaseURL string
		WorkDir         string

		RollbarToken     string
		SendgridAPIKey   string
		defaultFromEmail string

		Server     ServerConfig
		Mongo      MongoConfig
		Auth       AuthConfig
		Backup     BackupConfig
		Migrations MigrationsConfig
		Alerts     AlertsConfig
		Secrets    SecretsConfig
		RateLimit  RateLimitConfig
	}

	ServerConfig struct {
		Host            string
		Port            string
		DebugHost       string
		ShutdownTimeout time.Duration
		CORSOrigins     []string
		BodyLimit       string
	}

	MongoConfig struct {
		URI            string
		TestURI        string
		Database       string
		ConnectTimeout time.Duration
	}

	AuthConfig struct {
		SecretKey                 string
		JWTExpirationDelta        time.Duration
		JWTRefreshExpirationDelta time.Duration
		PasswordResetTimeoutDelta time.Duration
	}

	BackupConfig struct {
		Dir              string
		Schedule         string
		RetentionDays    int
		Gzip             bool
		GCSBucket        string
		MongodumpPath    string
		MongorestorePath string
	}

	MigrationsConfig struct {
		Dir        string
		Collection string
	}

	AlertsConfig struct {
		Schedule         string
		ErrorRatePercent float64
		ResponseTimeMS   int
		MemoryMB         int
		Cooldown         time.Duration
		Emails           []string
	}

	SecretsConfig struct {
		MasterKey  string
		Collection string
	}

	RateLimitConfig struct {
		RPS   float64
		Burst int
	}
)

// NewConfig loads the configuration from the environment (and `config/.env.<env>` if present).
// It exits when the configuration is unusable.
func NewConfig() *Config {
	conf, err := loadConfig()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	return conf
}

func loadConfig() (*Config, error) {
	v := viper.New()

	// defaults
	v.SetTypeByDefaultValue(true)
	v.SetDefault("debug", true)
	v.SetDefault("build", "develop")
	v.SetDefault("app_name", "Mentora")
	v.SetDefault("frontend_base_url", "http://localhost:3000")
	v.SetDefault("default_from_email", "Mentora <noreply@localhost>")

	v.SetDefault("server_host", "0.0.0.0")
	v.SetDefault("server_port", "8000")
	v.SetDefault("server_debug_host", "0.0.0.0:4000")
	v.SetDefault("server_shutdown_timeout", "5s")
	v.SetDefault("server_cors_origins", "*")
	v.SetDefault("server_body_limit", "1M")

	v.SetDefault("mongodb_uri", "mongodb://localhost:27017")
	v.SetDefault("mongodb_uri_test", "mongodb://localhost:27017")
	v.SetDefault("mongodb_database", "mentora")
	v.SetDefault("mongodb_connect_timeout", "10s")

	v.SetDefault("jwt_secret", devSecretKey)
	v.SetDefault("jwt_expiration", "7d")
	v.SetDefault("jwt_refresh_expiration", "4h")
	v.SetDefault("password_reset_timeout", "3d")

	v.SetDefault("backup_dir", "backups")
	v.SetDefault("backup_schedule", "0 2 * * *")
	v.SetDefault("backup_retention_days", 7)
	v.SetDefault("backup_gzip", true)
	v.SetDefault("backup_gcs_bucket", "")
	v.SetDefault("mongodump_path", "mongodump")
	v.SetDefault("mongorestore_path", "mongorestore")

	v.SetDefault("migrations_dir", "migrations")
	v.SetDefault("migrations_collection", "migrations")

	v.SetDefault("alert_schedule", "*/5 * * * *")
	v.SetDefault("alert_error_rate", 5.0)
	v.SetDefault("alert_response_time_ms", 1000)
	v.SetDefault("alert_memory_mb", 512)
	v.SetDefault("alert_cooldown", "30m")
	v.SetDefault("alert_emails", "")

	v.SetDefault("secrets_master_key", "")
	v.SetDefault("secrets_collection", "secrets")

	v.SetDefault("rate_limit_rps", 5.0)
	v.SetDefault("rate_limit_burst", 20)

	env := strings.ToUpper(os.Getenv("ENV")) // DEV (local; default), TEST, QA, PROD
	if env == "" {
		env = "DEV"
	}
	if env == "TEST" {
		v.SetDefault("test_mode", true)
	}
	if env == "PROD" || env == "QA" {
		v.SetDefault("debug", false)
	}

	workDir := Getwd()

	// load .env if it exists (ignore if it does not)
	dotEnvPath := filepath.Join(workDir, "config", ".env."+strings.ToLower(env))
	if _, err := os.Stat(dotEnvPath); err == nil {
		if err := godotenv.Load(dotEnvPath); err != nil {
			return nil, errors.Wrapf(err, "loading %s", dotEnvPath)
		}
	} else if !os.IsNotExist(err) {
		return nil, errors.Wrapf(err, "reading %s", dotEnvPath)
	}

	v.AutomaticEnv()

	var durationErr error
	duration := func(key string) time.Duration {
		d, err := ParseDuration(v.GetString(key))
		if err != nil && durationErr == nil {
			durationErr = errors.Wrapf(err, "%s", strings.ToUpper(key))
		}
		return d
	}

	conf := &Config{
		Env:              env,
		Build:            v.GetString("build"),
		Debug:            v.GetBool("debug"),
		TestMode:         v.GetBool("test_mode"),
		AppName:          v.GetString("app_name"),
		FrontendBaseURL:  strings.TrimRight(v.GetString("frontend_base_url"), "/"),
		WorkDir:          workDir,
		RollbarToken:     v.GetString("rollbar_token"),
		SendgridAPIKey:   v.GetString("sendgrid_api_key"),
		defaultFromEmail: v.GetString("default_from_email"),
		Server: ServerConfig{
			Host:            v.GetString("server_host"),
			Port:            v.GetString("server_port"),
			DebugHost:       v.GetString("server_debug_host"),
			ShutdownTimeout: duration("server_shutdown_timeout"),
			CORSOrigins:     SplitList(v.GetString("server_cors_origins")),
			BodyLimit:       v.GetString("server_body_limit"),
		},
		Mongo: MongoConfig{
			URI:            v.GetString("mongodb_uri"),
			TestURI:        v.GetString("mongodb_uri_test"),
			Database:       v.GetString("mongodb_database"),
			ConnectTimeout: duration("mongodb_connect_timeout"),
		},
		Auth: AuthConfig{
			SecretKey:                 v.GetString("jwt_secret"),
			JWTExpirationDelta:        duration("jwt_expiration"),
			JWTRefreshExpirationDelta: duration("jwt_refresh_expiration"),
			PasswordResetTimeoutDelta: duration("password_reset_timeout"),
		},
		Backup: BackupConfig{
			Dir:              absPath(workDir, v.GetString("backup_dir")),
			Schedule:         v.GetString("backup_schedule"),
			RetentionDays:    v.GetInt("backup_retention_days"),
			Gzip:             v.GetBool("backup_gzip"),
			GCSBucket:        v.GetString("backup_gcs_bucket"),
			MongodumpPath:    v.GetString("mongodump_path"),
			MongorestorePath: v.GetString("mongorestore_path"),
		},
		Migrations: MigrationsConfig{
			Dir:        absPath(workDir, v.GetString("migrations_dir")),
			Collection: v.GetString("migrations_collection"),
		},
		Alerts: AlertsConfig{
			Schedule:         v.GetString("alert_schedule"),
			ErrorRatePercent: v.GetFloat64("alert_error_rate"),
			ResponseTimeMS:   v.GetInt("alert_response_time_ms"),
			MemoryMB:         v.GetInt("alert_memory_mb"),
			Cooldown:         duration("alert_cooldown"),
			Emails:           SplitList(v.GetString("alert_emails")),
		},
		Secrets: SecretsConfig{
			MasterKey:  v.GetString("secrets_master_key"),
			Collection: v.GetString("secrets_collection"),
		},
		RateLimit: RateLimitConfig{
			RPS:   v.GetFloat64("rate_limit_rps"),
			Burst: v.GetInt("rate_limit_burst"),
		},
	}
	if durationErr != nil {
		return nil, durationErr
	}
	if err := conf.validate(); err != nil {
		return nil, err
	}
	return conf, nil
}

// validate rejects settings that are only acceptable for local development.
func (c *Config) validate() error {
	if c.Env == "PROD" && c.Auth.SecretKey == devSecretKey {
		return errors.New("JWT_SECRET must be set in production")
	}
	return nil
}

// ParseDuration is time.ParseDuration with an extra "d" (24h) unit: "7d", "1d12h".
func ParseDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	i := strings.IndexByte(s, 'd')
	if i < 0 {
		return time.ParseDuration(s)
	}
	days, err := strconv.ParseFloat(s[:i], 64)
	if err != nil || i == 0 {
		return 0, errors.Errorf("invalid duration %q", s)
	}
	d := time.Duration(days * float64(24*time.Hour))
	if rest := s[i+1:]; rest != "" {
		if rest[0] == '-' || rest[0] == '+' {
			return 0, errors.Errorf("invalid duration %q", s)
		}
		r, err := time.ParseDuration(rest)
		if err != nil {
			return 0, errors.Errorf("invalid duration %q", s)
		}
		if days < 0 {
			r = -r
		}
		d += r
	}
	return d, nil
}

// NewTestConfig returns a Config suitable for unit tests; it never reads the environment.
func NewTestConfig() *Config {
	return &Config{
		Env:              "TEST",
		Build:            "test",
		TestMode:         true,
		AppName:          "Mentora",
		FrontendBaseURL:  "http://localhost:3000",
		WorkDir:          os.TempDir(),
		defaultFromEmail: "Mentora <noreply@localhost>",
		Server: ServerConfig{
			Host:            "127.0.0.1",
			Port:            "0",
			ShutdownTimeout: time.Second,
			CORSOrigins:     []string{"*"},
			BodyLimit:       "1M",
		},
		Mongo: MongoConfig{Database: "mentora_test", ConnectTimeout: time.Second},
		Auth: AuthConfig{
			SecretKey:                 "secret",
			JWTExpirationDelta:        10 * time.Minute,
			JWTRefreshExpirationDelta: 4 * time.Hour,
			PasswordResetTimeoutDelta: 3 * 24 * time.Hour,
		},
		Backup:     BackupConfig{RetentionDays: 7, Gzip: true, MongodumpPath: "mongodump", MongorestorePath: "mongorestore"},
		Migrations: MigrationsConfig{Collection: "migrations"},
		Alerts: AlertsConfig{
			ErrorRatePercent: 5,
			ResponseTimeMS:   1000,
			MemoryMB:         512,
			Cooldown:         30 * time.Minute,
		},
		Secrets:   SecretsConfig{MasterKey: "test-master-key", Collection: "secrets"},
		RateLimit: RateLimitConfig{RPS: 100, Burst: 100},
	}
}

func (c *Config) ServerAddress() string {
	return net.JoinHostPort(c.Server.Host, c.Server.Port)
}

// MongoURI returns the test database URI in TEST mode.
func (c *Config) MongoURI() string {
	if c.TestMode && c.Mongo.TestURI != "" {
		return c.Mongo.TestURI
	}
	return c.Mongo.URI
}

func (c *Config) DefaultFromEmail() mail.Address {
	addr, err := mail.ParseAddress(c.defaultFromEmail)
	if err != nil {
		return mail.Address{Name: c.AppName, Address: c.defaultFromEmail}
	}
	return *addr
}

// SplitList splits a comma separated list, dropping blanks.
func SplitList(s string) []string {
	parts := strings.Split(s, ",")
	list := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			list = append(list, p)
		}
	}
	return list
}

func absPath(root, p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(root, p)
}
