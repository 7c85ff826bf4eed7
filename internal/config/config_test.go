package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func validConfig() Config {
	return Config{
		GroqAPIKey:     "gsk",
		RapidAPIKey:    "rapid",
		HistoryBackend: BackendMemory,
		ListenTimeout:  45 * time.Second,
		PhraseLimit:    50 * time.Second,
	}
}

func TestValidateAcceptsCompleteConfig(t *testing.T) {
	require.NoError(t, validConfig().Validate())
}

func TestValidateFailsFastOnMissingCredentials(t *testing.T) {
	cfg := validConfig()
	cfg.GroqAPIKey = ""
	cfg.RapidAPIKey = " "
	err := cfg.Validate()
	require.Error(t, err)
	require.Contains(t, err.Error(), "GROQ_API_KEY")
	require.Contains(t, err.Error(), "RAPIDAPI_KEY")
}

func TestValidateNeo4jRequiresCredentials(t *testing.T) {
	cfg := validConfig()
	cfg.HistoryBackend = BackendNeo4j
	cfg.Neo4jURI = "neo4j://localhost:7687"
	err := cfg.Validate()
	require.Error(t, err)
	require.Contains(t, err.Error(), "NEO4J_USERNAME")
	require.Contains(t, err.Error(), "NEO4J_PASSWORD")
}

func TestValidateRejectsUnknownBackend(t *testing.T) {
	cfg := validConfig()
	cfg.HistoryBackend = "cassandra"
	require.Error(t, cfg.Validate())
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv("NEO4J_URI", "")
	t.Setenv("HISTORY_BACKEND", "")
	t.Setenv("HTTP_TIMEOUT", "90s")
	t.Setenv("VOICE_LISTEN_TIMEOUT", "")
	cfg := Load()
	require.Equal(t, BackendSQLite, cfg.HistoryBackend)
	require.Equal(t, 30*time.Second, cfg.HTTPTimeout)
	require.Equal(t, 45*time.Second, cfg.ListenTimeout)
}

func TestDurationAcceptsBareSeconds(t *testing.T) {
	t.Setenv("VOICE_PHRASE_LIMIT", "12")
	require.Equal(t, 12*time.Second, getEnvDurationDefault("VOICE_PHRASE_LIMIT", time.Second))
}
