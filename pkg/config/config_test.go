package config

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/callwave-ai/callwave-orchestrator/pkg/orchestrator"
)

func TestLoadDefaults(t *testing.T) {
	for _, key := range []string{"STT_PROVIDER", "LLM_PROVIDER", "AGENT_LANGUAGE", "AGENT_VOICE", "AGENT_ENERGY_THRESHOLD"} {
		os.Unsetenv(key)
	}

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "groq", cfg.STTProvider)
	assert.Equal(t, "groq", cfg.LLMProvider)
	assert.Equal(t, orchestrator.LanguageEn, cfg.Orchestrator.Language)
	assert.Equal(t, orchestrator.VoiceF1, cfg.Orchestrator.VoiceStyle)
}

func TestLoadOverridesFromEnv(t *testing.T) {
	t.Setenv("STT_PROVIDER", "deepgram")
	t.Setenv("AGENT_LANGUAGE", "es")
	t.Setenv("AGENT_ENERGY_THRESHOLD", "0.05")
	t.Setenv("AGENT_MIN_WORDS_TO_INTERRUPT", "2")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "deepgram", cfg.STTProvider)
	assert.Equal(t, orchestrator.LanguageEs, cfg.Orchestrator.Language)
	assert.InDelta(t, 0.05, cfg.Orchestrator.EnergyThreshold, 1e-9)
	assert.Equal(t, 2, cfg.Orchestrator.MinWordsToInterrupt)
}
