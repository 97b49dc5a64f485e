package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	DefaultChatBaseURL = "https://dashscope-intl.aliyuncs.com/compatible-mode/v1"
	DefaultChatModel   = "qwen-plus"
	DefaultGeminiModel = "gemini-1.5-flash"
)

type Config struct {
	Port       string
	Env        string
	GinMode    string
	CORSOrigin string
	UploadMax  int64

	Database DatabaseConfig
	Storage  StorageConfig
	Detector DetectorConfig
	Chat     ChatConfig

	SessionTTL time.Duration

	JWTSecret    string
	AuthRequired bool

	// CleanupOrphanedUploads deletes the stored image when inference fails after a successful upload.
	CleanupOrphanedUploads bool

	LogLevel string
	LogFile  string
}

type DatabaseConfig struct {
	Type     string // postgres, mysql, sqlite
	URL      string
	Host     string
	Port     string
	User     string
	Password string
	Name     string
	SSLMode  string
}

type StorageConfig struct {
	Driver          string // oss, local
	AccessKeyID     string
	AccessKeySecret string
	Bucket          string
	Endpoint        string
	Prefix          string
	LocalDir        string
	LocalBaseURL    string
}

type DetectorConfig struct {
	URL       string
	ModelPath string
	Serialize bool
	Timeout   time.Duration
}

type ChatConfig struct {
	Provider     string // openai, gemini
	APIKey       string
	BaseURL      string
	Model        string
	GeminiAPIKey string
	GeminiModel  string
}

func getEnv(k, def string) string {
	if v := strings.TrimSpace(os.Getenv(k)); v != "" {
		return v
	}
	return def
}

func getInt(k string, def int) int {
	v := getEnv(k, "")
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

func getBool(k string, def bool) bool {
	v := getEnv(k, "")
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

// Load reads the configuration from the environment. Call godotenv.Load first
// if a .env file should be honoured.
func Load() *Config {
	port := getEnv("PORT", "8080")
	return &Config{
		Port:       port,
		Env:        getEnv("ENV", "development"),
		GinMode:    getEnv("GIN_MODE", ""),
		CORSOrigin: getEnv("CORS_ORIGIN", "*"),
		UploadMax:  int64(getInt("UPLOAD_MAX_MB", 20)) << 20,

		Database: DatabaseConfig{
			Type:     strings.ToLower(getEnv("DB_TYPE", "postgres")),
			URL:      getEnv("DATABASE_URL", ""),
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", ""),
			User:     getEnv("DB_USER", ""),
			Password: getEnv("DB_PASSWORD", ""),
			Name:     getEnv("DB_NAME", "oha"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},

		Storage: StorageConfig{
			Driver:          strings.ToLower(getEnv("STORAGE_DRIVER", "oss")),
			AccessKeyID:     getEnv("OSS_ACCESS_KEY_ID", ""),
			AccessKeySecret: getEnv("OSS_ACCESS_KEY_SECRET", ""),
			Bucket:          getEnv("OSS_BUCKET_NAME", ""),
			Endpoint:        getEnv("OSS_ENDPOINT", ""),
			Prefix:          getEnv("OSS_PREFIX", "oha"),
			LocalDir:        getEnv("LOCAL_STORAGE_DIR", "uploads"),
			LocalBaseURL:    getEnv("LOCAL_STORAGE_BASE_URL", "http://localhost:"+port+"/uploads"),
		},

		Detector: DetectorConfig{
			URL:       strings.TrimRight(getEnv("DETECTION_URL", "http://localhost:5000"), "/"),
			ModelPath: getEnv("MODEL_PATH", "aimodels/oha/best.pt"),
			Serialize: getBool("DETECTION_SERIALIZE", false),
			Timeout:   time.Duration(getInt("DETECTION_TIMEOUT_SECONDS", 120)) * time.Second,
		},

		Chat: ChatConfig{
			Provider:     strings.ToLower(getEnv("CHAT_PROVIDER", "openai")),
			APIKey:       getEnv("CHAT_API_KEY", ""),
			BaseURL:      getEnv("CHAT_BASE_URL", DefaultChatBaseURL),
			Model:        getEnv("CHAT_MODEL", DefaultChatModel),
			GeminiAPIKey: getEnv("GEMINI_API_KEY", ""),
			GeminiModel:  getEnv("GEMINI_MODEL", DefaultGeminiModel),
		},

		SessionTTL: time.Duration(getInt("SESSION_TTL_MINUTES", 60)) * time.Minute,

		JWTSecret:    getEnv("JWT_SECRET", ""),
		AuthRequired: getBool("AUTH_REQUIRED", false),

		CleanupOrphanedUploads: getBool("CLEANUP_ORPHANED_UPLOADS", false),

		LogLevel: strings.ToUpper(getEnv("LOG_LEVEL", "INFO")),
		LogFile:  getEnv("LOG_FILE", ""),
	}
}

// Validate checks enum values and the settings each selected backend needs.
// Chat credentials are deliberately not checked here; a missing key fails the
// chat request, not the process.
func (c *Config) Validate() error {
	switch c.Database.Type {
	case "postgres", "postgresql", "mysql", "sqlite":
	default:
		return fmt.Errorf("unsupported DB_TYPE %q", c.Database.Type)
	}

	switch c.Storage.Driver {
	case "oss":
		var missing []string
		if c.Storage.AccessKeyID == "" {
			missing = append(missing, "OSS_ACCESS_KEY_ID")
		}
		if c.Storage.AccessKeySecret == "" {
			missing = append(missing, "OSS_ACCESS_KEY_SECRET")
		}
		if c.Storage.Bucket == "" {
			missing = append(missing, "OSS_BUCKET_NAME")
		}
		if c.Storage.Endpoint == "" {
			missing = append(missing, "OSS_ENDPOINT")
		}
		if len(missing) > 0 {
			return fmt.Errorf("missing object storage settings: %s", strings.Join(missing, ", "))
		}
	case "local":
	default:
		return fmt.Errorf("unsupported STORAGE_DRIVER %q", c.Storage.Driver)
	}

	switch c.Chat.Provider {
	case "openai", "gemini":
	default:
		return fmt.Errorf("unsupported CHAT_PROVIDER %q", c.Chat.Provider)
	}

	if c.AuthRequired && c.JWTSecret == "" {
		return fmt.Errorf("AUTH_REQUIRED is set but JWT_SECRET is empty")
	}
	return nil
}
