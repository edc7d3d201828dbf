package questionbank

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Config is the runtime configuration shared by the binaries
type Config struct {
	Database  DatabaseConfig  `mapstructure:"database"`
	Log       LogConfig       `mapstructure:"log"`
	Server    ServerConfig    `mapstructure:"server"`
	AI        AIConfig        `mapstructure:"ai"`
	WrongBook WrongBookConfig `mapstructure:"wrong_book"`
}

type DatabaseConfig struct {
	Path string `mapstructure:"path" validate:"required"`
}

type ServerConfig struct {
	Port                int    `mapstructure:"port" validate:"min=1,max=65535"`
	SessionSecret       string `mapstructure:"session_secret"`
	LLMLogDir           string `mapstructure:"llm_log_dir"`
	AIRequestsPerMinute int    `mapstructure:"ai_requests_per_minute" validate:"min=1"`
	CleanupSchedule     string `mapstructure:"cleanup_schedule" validate:"required"`
}

// WrongBookConfig seeds the threshold setting of a fresh database
type WrongBookConfig struct {
	Threshold int `mapstructure:"threshold" validate:"min=1,max=999"`
}

var configDefaults = map[string]interface{}{
	"database.path":                 "questionbank.db",
	"log.file":                      "logs/app.log",
	"log.level":                     "info",
	"log.max_size":                  100,
	"log.max_backups":               5,
	"log.max_age":                   30,
	"log.compress":                  true,
	"log.console":                   true,
	"server.port":                   8080,
	"server.llm_log_dir":            "log",
	"server.ai_requests_per_minute": 20,
	"server.cleanup_schedule":       "@every 1h",
	"ai.base_url":                   DefaultAIURL,
	"ai.model":                      DefaultAIModel,
	"ai.provider":                   "custom",
	"wrong_book.threshold":          DefaultWrongBookThreshold,
	"server.session_secret":         "",
	"ai.api_key":                    "",
}

// LoadConfig reads config.yaml from path, then applies QBANK_* environment
// overrides. A missing file is not an error.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	v.AddConfigPath(path)
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	for key, value := range configDefaults {
		v.SetDefault(key, value)
	}

	v.SetEnvPrefix("QBANK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Database
	v.BindEnv("database.path", "QBANK_DB_PATH")

	// Log
	v.BindEnv("log.file", "QBANK_LOG_FILE")
	v.BindEnv("log.level", "QBANK_LOG_LEVEL")

	// Server
	v.BindEnv("server.port", "QBANK_PORT")
	v.BindEnv("server.session_secret", "QBANK_SESSION_SECRET")

	// AI
	v.BindEnv("ai.api_key", "QBANK_AI_API_KEY", "OPENAI_API_KEY")
	v.BindEnv("ai.base_url", "QBANK_AI_BASE_URL")
	v.BindEnv("ai.model", "QBANK_AI_MODEL")
	v.BindEnv("ai.provider", "QBANK_AI_PROVIDER")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := validate.Struct(&cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}
