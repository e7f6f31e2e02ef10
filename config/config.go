package config

import (
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"leadflow/models"
)

var (
	DB        *gorm.DB
	AppConfig Config
	envLoaded bool
)

type RedisConfig struct {
	Enabled  bool   `json:"enabled"`
	Address  string `json:"address"`
	Password string `json:"-"`
	DB       int    `json:"db"`
}

// ProviderConfig holds the endpoint settings for one WhatsApp transport.
type ProviderConfig struct {
	BaseURL string `json:"base_url"`
	Token   string `json:"-"`
	// PhoneNumberID is only used by the Meta Cloud API provider.
	PhoneNumberID string `json:"phone_number_id"`
}

type Config struct {
	Environment   string `json:"environment"`
	ServerPort    string `json:"server_port"`
	EncryptionKey string `json:"-"`

	DBHost         string `json:"db_host"`
	DBPort         string `json:"db_port"`
	DBUser         string `json:"db_user"`
	DBPassword     string `json:"-"`
	DBName         string `json:"db_name"`
	DBSSLMode      string `json:"db_ssl_mode"`
	DBMaxIdleConns int    `json:"db_max_idle_conns"`
	DBMaxOpenConns int    `json:"db_max_open_conns"`

	Redis RedisConfig `json:"redis"`

	// Dispatcher tuning
	DispatchIntervalSeconds int `json:"dispatch_interval_seconds"`
	DispatchBatchLimit      int `json:"dispatch_batch_limit"`
	DispatchWorkers         int `json:"dispatch_workers"`
	SendTimeoutSeconds      int `json:"send_timeout_seconds"`

	// WHILE_IN_STATUS re-fire throttle window; 0 disables the throttle
	// and leaves only the pending-entry guard.
	RefireThrottleSeconds int `json:"refire_throttle_seconds"`

	RateLimitTriggers int `json:"rate_limit_triggers"`

	Baileys ProviderConfig `json:"baileys"`
	Meta    ProviderConfig `json:"meta"`
}

func init() {
	// Try to load .env file, but don't fail if it doesn't exist
	_ = godotenv.Load()
	envLoaded = true
}

func LoadConfig() error {
	AppConfig = Config{
		Environment:   getEnv("ENVIRONMENT", "development"),
		ServerPort:    getEnv("SERVER_PORT", "5000"),
		EncryptionKey: getEnv("ENCRYPTION_KEY", ""),

		DBHost:         getEnv("DB_HOST", "localhost"),
		DBPort:         getEnv("DB_PORT", "5432"),
		DBUser:         getEnv("DB_USER", "postgres"),
		DBPassword:     getEnv("DB_PASSWORD", ""),
		DBName:         getEnv("DB_NAME", "leadflow"),
		DBSSLMode:      getEnv("DB_SSL_MODE", "disable"),
		DBMaxIdleConns: getEnvAsInt("DB_MAX_IDLE_CONNS", 10),
		DBMaxOpenConns: getEnvAsInt("DB_MAX_OPEN_CONNS", 100),

		Redis: RedisConfig{
			Enabled:  getEnv("REDIS_ENABLED", "false") == "true",
			Address:  getEnv("REDIS_ADDRESS", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
		},

		DispatchIntervalSeconds: getEnvAsInt("DISPATCH_INTERVAL_SECONDS", 5),
		DispatchBatchLimit:      getEnvAsInt("DISPATCH_BATCH_LIMIT", 100),
		DispatchWorkers:         getEnvAsInt("DISPATCH_WORKERS", 1),
		SendTimeoutSeconds:      getEnvAsInt("SEND_TIMEOUT_SECONDS", 30),
		RefireThrottleSeconds:   getEnvAsInt("REFIRE_THROTTLE_SECONDS", 0),
		RateLimitTriggers:       getEnvAsInt("RATE_LIMIT_TRIGGERS", 120),

		Baileys: ProviderConfig{
			BaseURL: getEnv("BAILEYS_BASE_URL", "http://localhost:3000"),
			Token:   getEnv("BAILEYS_API_TOKEN", ""),
		},
		Meta: ProviderConfig{
			BaseURL:       getEnv("META_GRAPH_URL", "https://graph.facebook.com/v19.0"),
			Token:         getEnv("META_ACCESS_TOKEN", ""),
			PhoneNumberID: getEnv("META_PHONE_NUMBER_ID", ""),
		},
	}

	// Validate required configurations
	if AppConfig.DBPassword == "" {
		return fmt.Errorf("DB_PASSWORD is required")
	}
	if AppConfig.EncryptionKey == "" {
		return fmt.Errorf("ENCRYPTION_KEY is required")
	}
	if AppConfig.DispatchIntervalSeconds < 1 {
		return fmt.Errorf("DISPATCH_INTERVAL_SECONDS must be at least 1")
	}
	if AppConfig.DispatchBatchLimit < 1 {
		return fmt.Errorf("DISPATCH_BATCH_LIMIT must be at least 1")
	}

	logConfig()
	return nil
}

func ConnectDB() error {
	log.Println("Attempting to connect to database...")

	dsn := fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		AppConfig.DBHost,
		AppConfig.DBPort,
		AppConfig.DBUser,
		AppConfig.DBPassword,
		AppConfig.DBName,
		AppConfig.DBSSLMode,
	)
	log.Println("Using connection string:", maskPassword(dsn))

	var err error
	DB, err = gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := DB.DB()
	if err != nil {
		return fmt.Errorf("failed to get DB instance: %w", err)
	}

	sqlDB.SetMaxIdleConns(AppConfig.DBMaxIdleConns)
	sqlDB.SetMaxOpenConns(AppConfig.DBMaxOpenConns)
	sqlDB.SetConnMaxLifetime(time.Hour)
	sqlDB.SetConnMaxIdleTime(30 * time.Minute)

	if err := sqlDB.Ping(); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}

	log.Println("✅ Successfully connected to the database")
	log.Println("🔄 Starting database migration...")
	if err := MigrateDB(DB); err != nil {
		return fmt.Errorf("database migration failed: %w", err)
	}
	log.Println("✅ Database migration completed")
	return nil
}

// Helper functions
func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	if !envLoaded && fallback == "" {
		log.Printf("⚠️ Environment variable %s not found and no fallback provided", key)
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return fallback
	}
	var value int
	_, err := fmt.Sscanf(valueStr, "%d", &value)
	if err != nil {
		return fallback
	}
	return value
}

func maskPassword(dsn string) string {
	const passwordMarker = "password="
	startIdx := strings.Index(dsn, passwordMarker)
	if startIdx == -1 {
		return dsn
	}

	startIdx += len(passwordMarker)
	endIdx := strings.IndexAny(dsn[startIdx:], " ")
	if endIdx == -1 {
		return dsn[:startIdx] + "*****"
	}
	return dsn[:startIdx] + "*****" + dsn[startIdx+endIdx:]
}

func logConfig() {
	log.Println("🔧 Loaded configuration:")
	log.Printf("Environment: %s", AppConfig.Environment)
	log.Printf("Server Port: %s", AppConfig.ServerPort)
	log.Printf("Database: %s@%s:%s/%s",
		AppConfig.DBUser,
		AppConfig.DBHost,
		AppConfig.DBPort,
		AppConfig.DBName)
	log.Printf("Dispatcher: interval=%ds batch=%d workers=%d",
		AppConfig.DispatchIntervalSeconds,
		AppConfig.DispatchBatchLimit,
		AppConfig.DispatchWorkers)
	log.Printf("Providers: baileys(%t), meta(%t)",
		AppConfig.Baileys.BaseURL != "",
		AppConfig.Meta.Token != "")
}

// MigrateDB runs AutoMigrate plus the raw-SQL steps GORM cannot express.
func MigrateDB(db *gorm.DB) error {
	if err := db.AutoMigrate(
		&models.User{},
		&models.LeadStatus{},
		&models.Lead{},
		&models.Rule{},
		&models.RuleStep{},
		&models.QueueEntry{},
	); err != nil {
		return err
	}

	// One pending entry per (rule, lead, step) at a time. Terminal rows are
	// kept for audit, so the uniqueness has to be partial.
	if err := db.Exec(`
        CREATE UNIQUE INDEX IF NOT EXISTS idx_queue_entries_pending_step
        ON queue_entries (rule_id, lead_id, step_index)
        WHERE status = 'pending'
    `).Error; err != nil {
		return fmt.Errorf("failed to create pending uniqueness index: %w", err)
	}

	return nil
}
