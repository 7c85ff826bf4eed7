package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// History backends.
const (
	BackendNeo4j    = "neo4j"
	BackendPostgres = "postgres"
	BackendSQLite   = "sqlite"
	BackendMemory   = "memory"
)

type Config struct {
	Port          string
	AllowedOrigin string
	LogLevel      string
	LogFormat     string
	// LLM (Groq, OpenAI-compatible API)
	GroqAPIKey       string
	GroqBaseURL      string
	Model            string
	STTModel         string
	IntentPromptPath string
	// Search providers
	RapidAPIKey        string
	SpoonacularAPIKey  string
	LocationIQAPIKey   string
	ExchangeRateAPIKey string
	HTTPTimeout        time.Duration
	// ElevenLabs TTS
	ElevenAPIKey  string
	ElevenVoiceID string
	ElevenModel   string
	// History store
	HistoryBackend string
	Neo4jURI       string
	Neo4jUsername  string
	Neo4jPassword  string
	Neo4jDatabase  string
	DatabaseURL    string
	DBPath         string
	// Event ingestion (Coral protocol)
	CoralEnabled   bool
	CoralServerURL string
	CoralAuthToken string
	RedisAddr      string
	// Voice turn-taking
	ListenTimeout time.Duration
	PhraseLimit   time.Duration
	SessionTTL    time.Duration
}

// Load reads the environment (and .env when present) into a Config. It does
// not validate; call Validate before serving.
func Load() Config {
	_ = godotenv.Load()
	cfg := Config{
		Port:               getEnvDefault("PORT", "8080"),
		AllowedOrigin:      getEnvDefault("ALLOWED_ORIGIN", "*"),
		LogLevel:           getEnvDefault("LOG_LEVEL", "info"),
		LogFormat:          getEnvDefault("LOG_FORMAT", "console"),
		GroqAPIKey:         os.Getenv("GROQ_API_KEY"),
		GroqBaseURL:        getEnvDefault("GROQ_BASE_URL", "https://api.groq.com/openai/v1"),
		Model:              getEnvDefault("GROQ_MODEL", "llama-3.1-8b-instant"),
		STTModel:           getEnvDefault("GROQ_STT_MODEL", "whisper-large-v3"),
		IntentPromptPath:   os.Getenv("INTENT_PROMPT_PATH"),
		RapidAPIKey:        os.Getenv("RAPIDAPI_KEY"),
		SpoonacularAPIKey:  os.Getenv("SPOONACULAR_API_KEY"),
		LocationIQAPIKey:   os.Getenv("LOCATIONIQ_API_KEY"),
		ExchangeRateAPIKey: os.Getenv("EXCHANGE_RATE_API_KEY"),
		HTTPTimeout:        clampDuration(getEnvDurationDefault("HTTP_TIMEOUT", 15*time.Second), 5*time.Second, 30*time.Second),
		ElevenAPIKey:       os.Getenv("ELEVEN_API_KEY"),
		ElevenVoiceID:      os.Getenv("ELEVEN_VOICE_ID"),
		ElevenModel:        getEnvDefault("ELEVEN_MODEL_ID", "eleven_multilingual_v2"),
		Neo4jURI:           os.Getenv("NEO4J_URI"),
		Neo4jUsername:      os.Getenv("NEO4J_USERNAME"),
		Neo4jPassword:      os.Getenv("NEO4J_PASSWORD"),
		Neo4jDatabase:      getEnvDefault("NEO4J_DATABASE", "neo4j"),
		DatabaseURL:        os.Getenv("DB_URL"),
		DBPath:             getEnvDefault("DB_PATH", "./data/history.db"),
		CoralEnabled:       getEnvBoolDefault("CORAL_PROTOCOL_ENABLED", false),
		CoralServerURL:     getEnvDefault("CORAL_SERVER_URL", "http://localhost:8000"),
		CoralAuthToken:     os.Getenv("CORAL_AUTH_TOKEN"),
		RedisAddr:          os.Getenv("REDIS_ADDR"),
		ListenTimeout:      getEnvDurationDefault("VOICE_LISTEN_TIMEOUT", 45*time.Second),
		PhraseLimit:        getEnvDurationDefault("VOICE_PHRASE_LIMIT", 50*time.Second),
		SessionTTL:         getEnvDurationDefault("SESSION_TTL", 60*time.Minute),
	}
	cfg.HistoryBackend = strings.ToLower(getEnvDefault("HISTORY_BACKEND", defaultBackend(cfg)))
	if cfg.ElevenAPIKey == "" {
		log.Info().Msg("ELEVEN_API_KEY is not set; speech output falls back to browser TTS")
	}
	return cfg
}

// Validate reports missing required configuration. A failure here is the
// only unrecoverable condition; the server refuses to start.
func (c Config) Validate() error {
	var missing []string
	if strings.TrimSpace(c.GroqAPIKey) == "" {
		missing = append(missing, "GROQ_API_KEY")
	}
	if strings.TrimSpace(c.RapidAPIKey) == "" {
		missing = append(missing, "RAPIDAPI_KEY")
	}
	switch c.HistoryBackend {
	case BackendNeo4j:
		if c.Neo4jURI == "" {
			missing = append(missing, "NEO4J_URI")
		}
		if c.Neo4jUsername == "" {
			missing = append(missing, "NEO4J_USERNAME")
		}
		if c.Neo4jPassword == "" {
			missing = append(missing, "NEO4J_PASSWORD")
		}
	case BackendPostgres:
		if c.DatabaseURL == "" {
			missing = append(missing, "DB_URL")
		}
	case BackendSQLite:
		if c.DBPath == "" {
			missing = append(missing, "DB_PATH")
		}
	case BackendMemory:
	default:
		return errors.Errorf("unknown HISTORY_BACKEND %q", c.HistoryBackend)
	}
	if c.CoralEnabled && c.CoralServerURL == "" {
		missing = append(missing, "CORAL_SERVER_URL")
	}
	if len(missing) > 0 {
		return errors.Errorf("missing required configuration: %s", strings.Join(missing, ", "))
	}
	if c.ListenTimeout <= 0 || c.PhraseLimit <= 0 {
		return errors.New("VOICE_LISTEN_TIMEOUT and VOICE_PHRASE_LIMIT must be positive")
	}
	return nil
}

func defaultBackend(c Config) string {
	if c.Neo4jURI != "" {
		return BackendNeo4j
	}
	return BackendSQLite
}

func getEnvDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvBoolDefault(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "1", "true", "yes", "y", "on":
			return true
		case "0", "false", "no", "n", "off":
			return false
		}
	}
	return def
}

func getEnvDurationDefault(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	// Bare integers are seconds.
	if n, err := strconv.Atoi(v); err == nil {
		return time.Duration(n) * time.Second
	}
	return def
}

func clampDuration(d, lo, hi time.Duration) time.Duration {
	if d < lo {
		return lo
	}
	if d > hi {
		return hi
	}
	return d
}
