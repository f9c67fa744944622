// Package config loads process configuration from the environment (and an
// optional .env file) the same way the reference agent binary does.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"

	"github.com/callwave-ai/callwave-orchestrator/pkg/orchestrator"
)

// Config is the fully resolved process configuration: API keys, provider
// selection, and the orchestrator tunables derived from them.
type Config struct {
	GroqKey       string
	OpenAIKey     string
	AnthropicKey  string
	GoogleKey     string
	DeepgramKey   string
	AssemblyAIKey string
	VoiceGridKey  string

	STTProvider string
	LLMProvider string

	TelephonyHost string
	RecordingDir  string
	MetricsAddr   string

	Orchestrator orchestrator.Config
}

// Load reads a .env file if present (missing is not an error, matching
// local-dev-vs-deployed-environment practice) and resolves every setting
// from the process environment, falling back to documented defaults.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil {
		if !os.IsNotExist(err) {
			return Config{}, fmt.Errorf("config: load .env: %w", err)
		}
	}

	cfg := Config{
		GroqKey:       os.Getenv("GROQ_API_KEY"),
		OpenAIKey:     os.Getenv("OPENAI_API_KEY"),
		AnthropicKey:  os.Getenv("ANTHROPIC_API_KEY"),
		GoogleKey:     os.Getenv("GOOGLE_API_KEY"),
		DeepgramKey:   os.Getenv("DEEPGRAM_API_KEY"),
		AssemblyAIKey: os.Getenv("ASSEMBLYAI_API_KEY"),
		VoiceGridKey:  os.Getenv("VOICEGRID_API_KEY"),

		STTProvider: envOr("STT_PROVIDER", "groq"),
		LLMProvider: envOr("LLM_PROVIDER", "groq"),

		TelephonyHost: envOr("TELEPHONY_HOST", ""),
		RecordingDir:  envOr("RECORDING_DIR", "./recordings"),
		MetricsAddr:   envOr("METRICS_ADDR", ":9090"),
	}

	oc := orchestrator.DefaultConfig()
	oc.Language = orchestrator.Language(envOr("AGENT_LANGUAGE", string(orchestrator.LanguageEn)))
	oc.VoiceStyle = orchestrator.Voice(envOr("AGENT_VOICE", string(orchestrator.VoiceF1)))

	if v, ok := envFloat("AGENT_ENERGY_THRESHOLD"); ok {
		oc.EnergyThreshold = v
	}
	if v, ok := envDuration("AGENT_BARGE_IN_GRACE_MS"); ok {
		oc.BargeInGrace = v
	}
	if v, ok := envInt("AGENT_MIN_WORDS_TO_INTERRUPT"); ok {
		oc.MinWordsToInterrupt = v
	}
	cfg.Orchestrator = oc

	return cfg, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envFloat(key string) (float64, bool) {
	raw := os.Getenv(key)
	if raw == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

func envInt(key string) (int, bool) {
	raw := os.Getenv(key)
	if raw == "" {
		return 0, false
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, false
	}
	return v, true
}

func envDuration(key string) (time.Duration, bool) {
	ms, ok := envInt(key)
	if !ok {
		return 0, false
	}
	return time.Duration(ms) * time.Millisecond, true
}
