package services

import (
	"log/slog"
	"strings"
	"time"

	"github.com/krshsl/mockmate/llm"
	"github.com/spf13/viper"
)

// Config holds application configuration
type Config struct {
	Server    ServerConfig
	Log       LogConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	Cache     CacheConfig
	AI        AIConfig
	Search    SearchConfig
	Interview InterviewConfig
	JWT       JWTConfig
	CORS      CORSConfig
	WebSocket WebSocketConfig
}

type ServerConfig struct {
	Port string `validate:"required,numeric"`
}

type LogConfig struct {
	Level string `validate:"oneof=debug info warn error"`
}

type DatabaseConfig struct {
	URL           string
	Seed          bool
	AdminEmail    string `validate:"omitempty,email"`
	AdminPassword string `validate:"omitempty,min=8,max=72"`
	LogLevel      string `validate:"oneof=silent error warn info"`
	MaxIdleConns  int    `validate:"gte=0"`
	MaxOpenConns  int    `validate:"gte=1"`
}

type RedisConfig struct {
	URL string
}

type CacheConfig struct {
	SessionTTL time.Duration `validate:"gt=0"`
	CompanyTTL time.Duration `validate:"gt=0"`
}

type AIConfig struct {
	DefaultProvider llm.ProviderName `validate:"oneof=GOOGLE OPENAI OLLAMA"`
	GoogleAPIKey    string
	OpenAIAPIKey    string
	OpenAIBaseURL   string
	OllamaURL       string
	MaxAttempts     int           `validate:"gte=1,lte=10"`
	BaseBackoff     time.Duration `validate:"gt=0"`
	Temperature     float64       `validate:"gte=0,lte=2"`
	TopP            float64       `validate:"gt=0,lte=1"`
	MaxTokens       int           `validate:"gt=0"`
}

type SearchConfig struct {
	APIKey   string
	EngineID string
}

type InterviewConfig struct {
	TotalQuestions int           `validate:"gte=1,lte=50"`
	IdleTimeout    time.Duration `validate:"gt=0"`
	SweepSchedule  string        `validate:"required"`
}

type JWTConfig struct {
	Secret string
}

type CORSConfig struct {
	AllowedOrigins string
}

type WebSocketConfig struct {
	AllowedOrigins string
}

// GenerationParams returns the sampling settings shared by every provider adapter
func (c AIConfig) GenerationParams() llm.GenerationParams {
	return llm.GenerationParams{
		Temperature: c.Temperature,
		TopP:        c.TopP,
		MaxTokens:   c.MaxTokens,
	}
}

// LoadConfig loads configuration from environment variables and config files
func LoadConfig() *Config {
	viper.SetConfigName(".env")
	viper.SetConfigType("env")
	viper.AddConfigPath(".")
	viper.AutomaticEnv()

	// Set defaults
	viper.SetDefault("server.port", "8080")
	viper.SetDefault("log.level", "info")
	viper.SetDefault("websocket.allowed_origins", "")
	viper.SetDefault("cors.allowed_origins", "")
	viper.SetDefault("jwt.secret", "")
	viper.SetDefault("database.url", "")
	viper.SetDefault("database.seed", "true")
	viper.SetDefault("database.admin_email", "")
	viper.SetDefault("database.admin_password", "")
	viper.SetDefault("database.log_level", "silent")
	viper.SetDefault("database.max_idle_conns", "10")
	viper.SetDefault("database.max_open_conns", "100")
	viper.SetDefault("redis.url", "")
	viper.SetDefault("cache.session_ttl", "2h")
	viper.SetDefault("cache.company_ttl", "24h")
	viper.SetDefault("llm.default_provider", string(llm.ProviderGoogle))
	viper.SetDefault("google.api_key", "")
	viper.SetDefault("openai.api_key", "")
	viper.SetDefault("openai.base_url", "")
	viper.SetDefault("ollama.url", "")
	viper.SetDefault("llm.max_attempts", "3")
	viper.SetDefault("llm.base_backoff", "1s")
	viper.SetDefault("llm.temperature", "0.7")
	viper.SetDefault("llm.top_p", "0.9")
	viper.SetDefault("llm.max_tokens", "2048")
	viper.SetDefault("search.api_key", "")
	viper.SetDefault("search.engine_id", "")
	viper.SetDefault("interview.total_questions", "10")
	viper.SetDefault("interview.idle_timeout", "30m")
	viper.SetDefault("interview.sweep_schedule", "@every 1m")

	// Map environment variables to config keys
	viper.BindEnv("server.port", "SERVER_PORT")
	viper.BindEnv("log.level", "LOG_LEVEL")
	viper.BindEnv("websocket.allowed_origins", "WEBSOCKET_ALLOWED_ORIGINS")
	viper.BindEnv("cors.allowed_origins", "CORS_ALLOWED_ORIGINS")
	viper.BindEnv("jwt.secret", "JWT_SECRET")
	viper.BindEnv("database.url", "DATABASE_URL")
	viper.BindEnv("database.seed", "DATABASE_SEED")
	viper.BindEnv("database.admin_email", "ADMIN_EMAIL")
	viper.BindEnv("database.admin_password", "ADMIN_PASSWORD")
	viper.BindEnv("database.log_level", "DATABASE_LOG_LEVEL")
	viper.BindEnv("database.max_idle_conns", "DATABASE_MAX_IDLE_CONNS")
	viper.BindEnv("database.max_open_conns", "DATABASE_MAX_OPEN_CONNS")
	viper.BindEnv("redis.url", "REDIS_URL")
	viper.BindEnv("cache.session_ttl", "CACHE_SESSION_TTL")
	viper.BindEnv("cache.company_ttl", "CACHE_COMPANY_TTL")
	viper.BindEnv("llm.default_provider", "LLM_DEFAULT_PROVIDER")
	viper.BindEnv("google.api_key", "GOOGLE_API_KEY", "GEMINI_API_KEY")
	viper.BindEnv("openai.api_key", "OPENAI_API_KEY")
	viper.BindEnv("openai.base_url", "OPENAI_BASE_URL")
	viper.BindEnv("ollama.url", "OLLAMA_URL")
	viper.BindEnv("llm.max_attempts", "LLM_MAX_ATTEMPTS")
	viper.BindEnv("llm.base_backoff", "LLM_BASE_BACKOFF")
	viper.BindEnv("llm.temperature", "LLM_TEMPERATURE")
	viper.BindEnv("llm.top_p", "LLM_TOP_P")
	viper.BindEnv("llm.max_tokens", "LLM_MAX_TOKENS")
	viper.BindEnv("search.api_key", "GOOGLE_SEARCH_API_KEY")
	viper.BindEnv("search.engine_id", "GOOGLE_SEARCH_ENGINE_ID")
	viper.BindEnv("interview.total_questions", "INTERVIEW_TOTAL_QUESTIONS")
	viper.BindEnv("interview.idle_timeout", "INTERVIEW_IDLE_TIMEOUT")
	viper.BindEnv("interview.sweep_schedule", "INTERVIEW_SWEEP_SCHEDULE")

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			slog.Warn("Config file not found, using defaults and environment variables")
		} else {
			slog.Error("Error reading config file", "error", err)
		}
	}

	return configFromViper()
}

func configFromViper() *Config {
	return &Config{
		Server: ServerConfig{
			Port: viper.GetString("server.port"),
		},
		Log: LogConfig{
			Level: strings.ToLower(viper.GetString("log.level")),
		},
		Database: DatabaseConfig{
			URL:           viper.GetString("database.url"),
			Seed:          viper.GetBool("database.seed"),
			AdminEmail:    viper.GetString("database.admin_email"),
			AdminPassword: viper.GetString("database.admin_password"),
			LogLevel:      strings.ToLower(viper.GetString("database.log_level")),
			MaxIdleConns:  viper.GetInt("database.max_idle_conns"),
			MaxOpenConns:  viper.GetInt("database.max_open_conns"),
		},
		Redis: RedisConfig{
			URL: viper.GetString("redis.url"),
		},
		Cache: CacheConfig{
			SessionTTL: viper.GetDuration("cache.session_ttl"),
			CompanyTTL: viper.GetDuration("cache.company_ttl"),
		},
		AI: AIConfig{
			DefaultProvider: llm.ProviderName(strings.ToUpper(viper.GetString("llm.default_provider"))),
			GoogleAPIKey:    viper.GetString("google.api_key"),
			OpenAIAPIKey:    viper.GetString("openai.api_key"),
			OpenAIBaseURL:   viper.GetString("openai.base_url"),
			OllamaURL:       viper.GetString("ollama.url"),
			MaxAttempts:     viper.GetInt("llm.max_attempts"),
			BaseBackoff:     viper.GetDuration("llm.base_backoff"),
			Temperature:     viper.GetFloat64("llm.temperature"),
			TopP:            viper.GetFloat64("llm.top_p"),
			MaxTokens:       viper.GetInt("llm.max_tokens"),
		},
		Search: SearchConfig{
			APIKey:   viper.GetString("search.api_key"),
			EngineID: viper.GetString("search.engine_id"),
		},
		Interview: InterviewConfig{
			TotalQuestions: viper.GetInt("interview.total_questions"),
			IdleTimeout:    viper.GetDuration("interview.idle_timeout"),
			SweepSchedule:  viper.GetString("interview.sweep_schedule"),
		},
		JWT: JWTConfig{
			Secret: viper.GetString("jwt.secret"),
		},
		CORS: CORSConfig{
			AllowedOrigins: viper.GetString("cors.allowed_origins"),
		},
		WebSocket: WebSocketConfig{
			AllowedOrigins: viper.GetString("websocket.allowed_origins"),
		},
	}
}

// Validate checks the loaded values against their declared bounds
func (c *Config) Validate() error {
	return validate.Struct(c)
}

// splitOrigins parses a comma-separated origin list
func splitOrigins(s string) []string {
	var origins []string
	for _, o := range strings.Split(s, ",") {
		if o = strings.TrimSpace(o); o != "" {
			origins = append(origins, o)
		}
	}
	return origins
}
