package shared

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

type Config struct {
	AppEnv      string
	LogLevel    string
	HTTPAddr    string
	MetricsAddr string

	StoreDriver string // mysql|sqlite
	MySQLDSN    string
	SQLitePath  string

	RedisAddr string
	RedisDB   int
	RedisPass string
	CacheTTL  time.Duration

	AgenciesURL     string
	PropertiesURL   string
	AppKey          string
	KeyHeader       string
	UpstreamTimeout time.Duration
	UpstreamRPS     int

	SyncInterval     time.Duration
	MaxAttempts      int
	RetryStep        time.Duration
	InterAgencyDelay time.Duration
	ReplaceOnEmpty   bool
	BootstrapOnStart bool
}

func Load() Config {
	// .env is optional; real environment variables win over it
	if err := godotenv.Load(); err == nil {
		log.Debug().Msg("loaded .env")
	}

	atoi := func(k string, def int) int {
		if v := os.Getenv(k); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				return n
			}
			log.Warn().Str("key", k).Str("value", v).Msg("ignoring non-integer config value")
		}
		return def
	}
	secs := func(k string, def int) time.Duration { return time.Duration(atoi(k, def)) * time.Second }

	c := Config{
		AppEnv:      env("APP_ENV", "prod"),
		LogLevel:    env("LOG_LEVEL", "info"),
		HTTPAddr:    env("HTTP_ADDR", ":8080"),
		MetricsAddr: env("METRICS_ADDR", ""),

		StoreDriver: strings.ToLower(env("STORE_DRIVER", "mysql")),
		MySQLDSN:    env("MYSQL_DSN", "root:root@tcp(localhost:3306)/pdl?parseTime=true&charset=utf8mb4,utf8&loc=UTC"),
		SQLitePath:  env("SQLITE_PATH", "pdl.db"),

		RedisAddr: env("REDIS_ADDR", ""),
		RedisPass: env("REDIS_PASSWORD", ""),
		RedisDB:   atoi("REDIS_DB", 0),
		CacheTTL:  secs("CACHE_TTL_SECONDS", 300),

		AgenciesURL:     env("UPSTREAM_AGENCIES_URL", "https://api2.4pm.ie/api/Agency/GetAgency"),
		PropertiesURL:   env("UPSTREAM_PROPERTIES_URL", "https://api2.4pm.ie/api/property/json"),
		AppKey:          env("UPSTREAM_APP_KEY", ""),
		KeyHeader:       env("UPSTREAM_KEY_HEADER", "key"),
		UpstreamTimeout: secs("UPSTREAM_TIMEOUT_SECONDS", 30),
		UpstreamRPS:     atoi("UPSTREAM_RPS", 5),

		SyncInterval:     time.Duration(atoi("SYNC_INTERVAL_MINUTES", 60)) * time.Minute,
		MaxAttempts:      atoi("SYNC_MAX_ATTEMPTS", 3),
		RetryStep:        clamp(secs("SYNC_RETRY_STEP_SECONDS", 1), time.Second, 5*time.Second),
		InterAgencyDelay: secs("SYNC_INTER_AGENCY_DELAY_SECONDS", 2),
		ReplaceOnEmpty:   boolEnv("SYNC_REPLACE_ON_EMPTY", false),
		BootstrapOnStart: boolEnv("SYNC_BOOTSTRAP", true),
	}
	if c.AppKey == "" {
		log.Warn().Msg("UPSTREAM_APP_KEY is empty")
	}
	if c.MaxAttempts < 1 {
		c.MaxAttempts = 1
	}
	return c
}

func env(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func boolEnv(k string, def bool) bool {
	if v := os.Getenv(k); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

func clamp(d, lo, hi time.Duration) time.Duration {
	if d < lo {
		return lo
	}
	if d > hi {
		return hi
	}
	return d
}
