package app

import "errors"

// ValidateConfig enforces startup policy.
//
// Fail-fast is intentional: a gateway that cannot reach its capability
// provider should refuse to start rather than apologize on every message.
func ValidateConfig(cfg Config) error {
	if cfg.OpenAIAPIKey == "" {
		return errors.New("config: MUSE_OPENAI_API_KEY is required")
	}
	if cfg.AccessWindowDays <= 0 {
		return errors.New("config: MUSE_ACCESS_WINDOW_DAYS must be positive")
	}
	if cfg.ReadinessRequireDB && cfg.DatabaseURL == "" {
		return errors.New("config: MUSE_READINESS_REQUIRE_DB=true but MUSE_DATABASE_URL is missing")
	}
	return nil
}
