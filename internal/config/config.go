package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Matcher  MatcherConfig
	Auth     AuthConfig
	Notes    NotesConfig
	Client   ClientConfig
}

type ServerConfig struct {
	Port string
	Host string
	Env  string
}

type DatabaseConfig struct {
	Host         string
	Port         string
	User         string
	Password     string
	Name         string
	SessionsName string
}

type MatcherConfig struct {
	BaseURL   string
	APIKey    string
	APISecret string
	Timeout   time.Duration
	// MinScore is the 0-100 similarity below which a comparison counts as an
	// authentication failure.
	MinScore int
}

type AuthConfig struct {
	TokenSecret        string
	SessionTTL         time.Duration
	MinFirstNoteLength int
}

type NotesConfig struct {
	PageSize int
}

// ClientConfig holds the throttle thresholds shared with the client engine.
type ClientConfig struct {
	QualityCheckInterval int
	MinQuality           float64
	MaxKeysPerAttempt    int
	ProgressBase         float64
	SaveFlushInterval    time.Duration
}

func Load() (*Config, error) {
	godotenv.Load()

	sessionTTL, err := time.ParseDuration(getEnv("SESSION_TTL", "30m"))
	if err != nil {
		return nil, fmt.Errorf("invalid SESSION_TTL: %w", err)
	}

	matcherTimeout, err := time.ParseDuration(getEnv("MATCHER_TIMEOUT", "5s"))
	if err != nil {
		return nil, fmt.Errorf("invalid MATCHER_TIMEOUT: %w", err)
	}

	return &Config{
		Server: ServerConfig{
			Port: getEnv("PORT", "8080"),
			Host: getEnv("HOST", "0.0.0.0"),
			Env:  getEnv("ENV", "development"),
		},
		Database: DatabaseConfig{
			Host:         getEnv("DB_HOST", "localhost"),
			Port:         getEnv("DB_PORT", "5984"),
			User:         getEnv("DB_USER", "admin"),
			Password:     getEnv("DB_PASSWORD", "password"),
			Name:         getEnv("DB_NAME", "diary"),
			SessionsName: getEnv("DB_SESSIONS_NAME", "diary_sessions"),
		},
		Matcher: MatcherConfig{
			BaseURL:   getEnv("MATCHER_URL", "https://api.typingdna.com"),
			APIKey:    getEnv("MATCHER_API_KEY", ""),
			APISecret: getEnv("MATCHER_API_SECRET", ""),
			Timeout:   matcherTimeout,
			MinScore:  getEnvAsInt("MATCHER_MIN_SCORE", 50),
		},
		Auth: AuthConfig{
			TokenSecret:        getEnv("TOKEN_SECRET", "dev-secret-change-in-production"),
			SessionTTL:         sessionTTL,
			MinFirstNoteLength: getEnvAsInt("MIN_FIRST_NOTE_LENGTH", 120),
		},
		Notes: NotesConfig{
			PageSize: getEnvAsInt("NOTES_PAGE_SIZE", 2),
		},
		Client: ClientConfig{
			QualityCheckInterval: getEnvAsInt("QUALITY_CHECK_INTERVAL", 10),
			MinQuality:           getEnvAsFloat("MIN_PATTERN_QUALITY", 0.5),
			MaxKeysPerAttempt:    getEnvAsInt("MAX_KEYS_PER_ATTEMPT", 40),
			ProgressBase:         getEnvAsFloat("PROGRESS_BASE", 20),
			SaveFlushInterval:    2 * time.Second,
		},
	}, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseFloat(valueStr, 64); err == nil {
		return value
	}
	return defaultValue
}
