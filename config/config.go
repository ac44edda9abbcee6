package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/yeremiapane/settlement-engine/utils"
	"gorm.io/driver/mysql"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type Config struct {
	Port       string
	GinMode    string
	LogLevel   string
	LogFormat  string
	CORSOrigin string

	DBDriver string
	DBDSN    string

	JWTSecret string

	// SearchEnabled is read once and passed to the search index as its capability flag.
	SearchEnabled         bool
	ElasticsearchURLs     []string
	ElasticsearchUsername string
	ElasticsearchPassword string
	SearchIndex           string

	TossSecretKey string
	TossAPIURL    string

	RedisAddr string

	SchedulerPoolSize      int
	ScheduleReloadInterval time.Duration
	JobTimeout             time.Duration

	IndexQueueInterval    time.Duration
	IndexRecoveryInterval time.Duration
	IndexCleanupInterval  time.Duration
	IndexPageSize         int

	SettlementChunkSize int
}

// Load reads .env (when present) and the process environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		utils.InfoLogger.Debugf("No .env file loaded: %v", err)
	}

	cfg := &Config{
		Port:      getEnv("PORT", "8080"),
		GinMode:   getEnv("GIN_MODE", "debug"),
		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "text"),

		CORSOrigin: getEnv("CORS_ORIGIN", "*"),

		DBDriver: getEnv("DB_DRIVER", "sqlite"),
		DBDSN:    getEnv("DB_DSN", "settlement.db"),

		JWTSecret: os.Getenv("JWT_SECRET"),

		ElasticsearchURLs:     splitList(getEnv("ELASTICSEARCH_URLS", "http://localhost:9200")),
		ElasticsearchUsername: os.Getenv("ELASTICSEARCH_USERNAME"),
		ElasticsearchPassword: os.Getenv("ELASTICSEARCH_PASSWORD"),
		SearchIndex:           getEnv("SEARCH_INDEX", "settlement_search"),

		TossSecretKey: os.Getenv("TOSS_SECRET_KEY"),
		TossAPIURL:    getEnv("TOSS_API_URL", "https://api.tosspayments.com/v1/payments/confirm"),

		RedisAddr: os.Getenv("REDIS_ADDR"),
	}

	var err error
	if cfg.SearchEnabled, err = getBool("SEARCH_ENABLED", false); err != nil {
		return nil, err
	}
	if cfg.SchedulerPoolSize, err = getInt("SCHEDULER_POOL_SIZE", 3); err != nil {
		return nil, err
	}
	if cfg.IndexPageSize, err = getInt("INDEX_PAGE_SIZE", 100); err != nil {
		return nil, err
	}
	if cfg.SettlementChunkSize, err = getInt("SETTLEMENT_CHUNK_SIZE", 1000); err != nil {
		return nil, err
	}
	if cfg.ScheduleReloadInterval, err = getDuration("SCHEDULE_RELOAD_INTERVAL", 5*time.Minute); err != nil {
		return nil, err
	}
	if cfg.JobTimeout, err = getDuration("JOB_TIMEOUT", 30*time.Minute); err != nil {
		return nil, err
	}
	if cfg.IndexQueueInterval, err = getDuration("INDEX_QUEUE_INTERVAL", time.Minute); err != nil {
		return nil, err
	}
	if cfg.IndexRecoveryInterval, err = getDuration("INDEX_RECOVERY_INTERVAL", 5*time.Minute); err != nil {
		return nil, err
	}
	if cfg.IndexCleanupInterval, err = getDuration("INDEX_CLEANUP_INTERVAL", 24*time.Hour); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if c.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is required")
	}
	if c.DBDriver != "mysql" && c.DBDriver != "sqlite" {
		return fmt.Errorf("unsupported DB_DRIVER %q", c.DBDriver)
	}
	if c.SchedulerPoolSize < 1 {
		return fmt.Errorf("SCHEDULER_POOL_SIZE must be at least 1")
	}
	if c.SettlementChunkSize < 1 || c.IndexPageSize < 1 {
		return fmt.Errorf("SETTLEMENT_CHUNK_SIZE and INDEX_PAGE_SIZE must be positive")
	}
	if c.SearchEnabled && len(c.ElasticsearchURLs) == 0 {
		return fmt.Errorf("SEARCH_ENABLED requires ELASTICSEARCH_URLS")
	}
	return nil
}

// InitDB opens the relational store all aggregates share.
func InitDB(cfg *Config) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch cfg.DBDriver {
	case "mysql":
		dialector = mysql.Open(cfg.DBDSN)
	default:
		dialector = sqlite.Open(cfg.DBDSN)
	}

	gormLogger := logger.Default.LogMode(logger.Warn)
	db, err := gorm.Open(dialector, &gorm.Config{Logger: gormLogger})
	if err != nil {
		return nil, fmt.Errorf("failed to open %s database: %w", cfg.DBDriver, err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(20)
	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetConnMaxLifetime(time.Hour)

	utils.InfoLogger.Printf("Connected to %s database", cfg.DBDriver)
	return db, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getBool(key string, fallback bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("invalid %s: %w", key, err)
	}
	return b, nil
}

func getInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}

func getDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
