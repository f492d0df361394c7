package app

import "time"

// Config contains all runtime configuration loaded from environment variables.
type Config struct {
	HTTPAddr  string
	LogLevel  string
	LogFormat string

	ReadHeaderTimeout time.Duration
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
	MaxHeaderBytes    int

	DatabaseURL string
	DBSchema    string
	DBMaxConns  int32
	DBMinConns  int32

	// If true:
	// - /readyz returns 503 unless DB is configured and reachable.
	ReadinessRequireDB bool

	// Capability provider.
	OpenAIAPIKey  string
	OpenAIBaseURL string
	ChatModel     string
	ImageModel    string
	ImageSize     string
	SpeechModel   string

	// Conversation shaping.
	SystemPrompt      string
	SessionMaxTurns   int
	SessionSizeBudget int

	// Access policy window in days.
	AccessWindowDays int

	// Message classification.
	ImageTriggers []string

	// Duet dialogue.
	DuetPersonaA  string
	DuetPersonaB  string
	DuetExchanges int
}

// LoadConfig loads Config from environment variables with defaults.
func LoadConfig() Config {
	return Config{
		HTTPAddr:  EnvString("MUSE_HTTP_ADDR", "0.0.0.0:8080"),
		LogLevel:  EnvString("MUSE_LOG_LEVEL", "info"),
		LogFormat: EnvString("MUSE_LOG_FORMAT", "json"),

		ReadHeaderTimeout: EnvDuration("MUSE_HTTP_READ_HEADER_TIMEOUT", 5*time.Second),
		ReadTimeout:       EnvDuration("MUSE_HTTP_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:      EnvDuration("MUSE_HTTP_WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:       EnvDuration("MUSE_HTTP_IDLE_TIMEOUT", 60*time.Second),

		MaxHeaderBytes: EnvInt("MUSE_HTTP_MAX_HEADER_BYTES", 1<<20),

		DatabaseURL: EnvString("MUSE_DATABASE_URL", ""),
		DBSchema:    EnvString("MUSE_DB_SCHEMA", "muse"),
		DBMaxConns:  EnvInt32("MUSE_DB_MAX_CONNS", 10),
		DBMinConns:  EnvInt32("MUSE_DB_MIN_CONNS", 0),

		ReadinessRequireDB: EnvBool("MUSE_READINESS_REQUIRE_DB", false),

		OpenAIAPIKey:  EnvString("MUSE_OPENAI_API_KEY", ""),
		OpenAIBaseURL: EnvString("MUSE_OPENAI_BASE_URL", "https://api.openai.com"),
		ChatModel:     EnvString("MUSE_CHAT_MODEL", "gpt-4o"),
		ImageModel:    EnvString("MUSE_IMAGE_MODEL", "dall-e-3"),
		ImageSize:     EnvString("MUSE_IMAGE_SIZE", "1024x1024"),
		SpeechModel:   EnvString("MUSE_SPEECH_MODEL", "gpt-4o-mini-tts"),

		SystemPrompt:      EnvString("MUSE_SYSTEM_PROMPT", "You are a helpful assistant."),
		SessionMaxTurns:   EnvInt("MUSE_SESSION_MAX_TURNS", 10),
		SessionSizeBudget: EnvInt("MUSE_SESSION_SIZE_BUDGET", 4000),

		AccessWindowDays: EnvInt("MUSE_ACCESS_WINDOW_DAYS", 30),

		ImageTriggers: EnvCSV("MUSE_IMAGE_TRIGGERS", "draw,нарисуй"),

		DuetPersonaA:  EnvString("MUSE_DUET_PERSONA_A", "Socrates"),
		DuetPersonaB:  EnvString("MUSE_DUET_PERSONA_B", "Kant"),
		DuetExchanges: EnvInt("MUSE_DUET_EXCHANGES", 5),
	}
}
