package main

import (
	"context"
	"fmt"
	"log"
	"math"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gen2brain/malgo"

	"github.com/callwave-ai/callwave-orchestrator/pkg/calllog"
	"github.com/callwave-ai/callwave-orchestrator/pkg/config"
	"github.com/callwave-ai/callwave-orchestrator/pkg/orchestrator"
	llmProvider "github.com/callwave-ai/callwave-orchestrator/pkg/providers/llm"
	sttProvider "github.com/callwave-ai/callwave-orchestrator/pkg/providers/stt"
	ttsProvider "github.com/callwave-ai/callwave-orchestrator/pkg/providers/tts"
	"github.com/callwave-ai/callwave-orchestrator/pkg/recording"
	"github.com/callwave-ai/callwave-orchestrator/pkg/telemetry"
)

const sampleRate = 44100

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logger, err := calllog.NewDevelopment()
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()

	stt, err := buildSTT(cfg)
	if err != nil {
		logger.Error("stt setup failed", "error", err)
		os.Exit(1)
	}

	llm, err := buildLLM(cfg)
	if err != nil {
		logger.Error("llm setup failed", "error", err)
		os.Exit(1)
	}

	if cfg.VoiceGridKey == "" {
		logger.Error("VOICEGRID_API_KEY must be set")
		os.Exit(1)
	}
	tts := ttsProvider.NewVoiceGridTTS(cfg.VoiceGridKey)

	metrics := telemetry.New()
	go func() {
		http.Handle("/metrics", metrics.Handler())
		if err := http.ListenAndServe(cfg.MetricsAddr, nil); err != nil {
			logger.Warn("metrics server stopped", "error", err)
		}
	}()

	orch, err := orchestrator.New(stt, llm, tts, nil, cfg.Orchestrator, logger)
	if err != nil {
		logger.Error("orchestrator setup failed", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	session, call, err := orch.NewSessionWithDefaults(ctx, "local-mic-demo")
	if err != nil {
		logger.Error("session setup failed", "error", err)
		os.Exit(1)
	}
	defer orch.EndSession(session.ID)

	systemPrompt := "You are a helpful and concise voice assistant. Use short sentences suitable for speech."
	if cfg.Orchestrator.Language == orchestrator.LanguageEs {
		systemPrompt = "Eres un asistente de voz util y conciso. Usa frases cortas adecuadas para el habla."
	}
	call.SetSystemPrompt(systemPrompt)

	rec := recording.NewRecorder(cfg.RecordingDir, session.ID, sampleRate)
	defer rec.Flush()

	if err := call.StartListening(ctx); err != nil {
		logger.Warn("streaming stt unavailable, falling back to batch", "error", err)
	}

	fmt.Printf("Configured: STT=%s | LLM=%s | TTS=VoiceGrid\n", cfg.STTProvider, cfg.LLMProvider)
	fmt.Printf("VAD Threshold: %.3f | Sample Rate: %dHz | Language: %s\n", cfg.Orchestrator.EnergyThreshold, sampleRate, cfg.Orchestrator.Language)
	fmt.Println("Voice Agent Started! Listening to microphone...")
	fmt.Println("Press Ctrl+C to exit")

	mctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		logger.Error("malgo init failed", "error", err)
		os.Exit(1)
	}
	defer mctx.Uninit()

	var playbackMu sync.Mutex
	var playbackBytes []byte

	var rmsMu sync.Mutex
	lastRMS := 0.0

	onSamples := func(pOutput, pInput []byte, frameCount uint32) {
		if pInput != nil {
			rms := micRMS(pInput)
			rmsMu.Lock()
			lastRMS = rms
			rmsMu.Unlock()

			rec.AppendUserAudio(pInput)
			_ = call.Write(pInput)
		}
		if pOutput != nil {
			playbackMu.Lock()
			n := copy(pOutput, playbackBytes)
			playbackBytes = playbackBytes[n:]
			if n < len(pOutput) {
				for i := n; i < len(pOutput); i++ {
					pOutput[i] = 0
				}
			}
			playbackMu.Unlock()
		}
	}

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Duplex)
	deviceConfig.Capture.Format = malgo.FormatS16
	deviceConfig.Capture.Channels = 1
	deviceConfig.Playback.Format = malgo.FormatS16
	deviceConfig.Playback.Channels = 1
	deviceConfig.SampleRate = sampleRate
	deviceConfig.Alsa.NoMMap = 1

	device, err := malgo.InitDevice(mctx.Context, deviceConfig, malgo.DeviceCallbacks{Data: onSamples})
	if err != nil {
		logger.Error("audio device init failed", "error", err)
		os.Exit(1)
	}
	defer device.Uninit()

	if err := device.Start(); err != nil {
		logger.Error("audio device start failed", "error", err)
		os.Exit(1)
	}

	go func() {
		for {
			rmsMu.Lock()
			level := lastRMS
			rmsMu.Unlock()

			meter := ""
			dots := int(level * 500)
			if dots > 40 {
				dots = 40
			}
			for i := 0; i < dots; i++ {
				meter += "|"
			}
			fmt.Printf("\r[MIC ENERGY: %-40s] RMS: %.5f", meter, level)
			time.Sleep(100 * time.Millisecond)
		}
	}()

	go func() {
		for event := range call.Events() {
			switch event.Type {
			case orchestrator.UserSpeaking:
				fmt.Printf("\r\033[K[USER] Speaking...\n")
			case orchestrator.UserStopped:
				fmt.Printf("\r\033[K[STT] Processing...\n")
			case orchestrator.TranscriptFinal:
				text, _ := event.Data.(string)
				fmt.Printf("\r\033[K[TRANSCRIPT] %s\n", text)
				rec.AppendTranscript("user", text)
			case orchestrator.BotThinking:
				fmt.Printf("\r\033[K[LLM] Thinking...\n")
			case orchestrator.BotSpeaking:
				text, _ := event.Data.(string)
				fmt.Printf("\r\033[K[TTS] Speaking: %s\n", text)
				rec.AppendTranscript("agent", text)
			case orchestrator.FillerPlaying:
				fmt.Printf("\r\033[K[FILLER] %v\n", event.Data)
			case orchestrator.AudioChunk:
				chunk, _ := event.Data.([]byte)
				rec.AppendAgentAudio(chunk)
				playbackMu.Lock()
				playbackBytes = append(playbackBytes, chunk...)
				playbackMu.Unlock()
			case orchestrator.Interrupted:
				fmt.Printf("\r\033[K[INTERRUPTED] User started talking.\n")
				playbackMu.Lock()
				playbackBytes = nil
				playbackMu.Unlock()
			case orchestrator.ErrorEvent:
				fmt.Printf("\r\033[K[ERROR] %v\n", event.Data)
			}
		}
	}()

	if err := call.Greet(ctx, "Hi, thanks for calling. How can I help you today?"); err != nil {
		logger.Warn("greeting failed", "error", err)
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	fmt.Printf("\nShutting down...\n")
}

func micRMS(pcm []byte) float64 {
	var sum float64
	for i := 0; i < len(pcm)-1; i += 2 {
		sample := int16(pcm[i]) | (int16(pcm[i+1]) << 8)
		f := float64(sample) / 32768.0
		sum += f * f
	}
	return math.Sqrt(sum / float64(len(pcm)/2))
}

func buildSTT(cfg config.Config) (orchestrator.STTProvider, error) {
	switch cfg.STTProvider {
	case "openai":
		if cfg.OpenAIKey == "" {
			return nil, fmt.Errorf("OPENAI_API_KEY must be set for openai STT")
		}
		return sttProvider.NewOpenAISTT(cfg.OpenAIKey, "whisper-1"), nil
	case "deepgram":
		if cfg.DeepgramKey == "" {
			return nil, fmt.Errorf("DEEPGRAM_API_KEY must be set for deepgram STT")
		}
		return sttProvider.NewDeepgramSTT(cfg.DeepgramKey), nil
	case "assemblyai":
		if cfg.AssemblyAIKey == "" {
			return nil, fmt.Errorf("ASSEMBLYAI_API_KEY must be set for assemblyai STT")
		}
		return sttProvider.NewAssemblyAISTT(cfg.AssemblyAIKey), nil
	case "groq":
		fallthrough
	default:
		if cfg.GroqKey == "" {
			return nil, fmt.Errorf("GROQ_API_KEY must be set for groq STT")
		}
		return sttProvider.NewGroqSTT(cfg.GroqKey, ""), nil
	}
}

func buildLLM(cfg config.Config) (orchestrator.LLMProvider, error) {
	switch cfg.LLMProvider {
	case "openai":
		if cfg.OpenAIKey == "" {
			return nil, fmt.Errorf("OPENAI_API_KEY must be set for openai LLM")
		}
		return llmProvider.NewOpenAILLM(cfg.OpenAIKey, ""), nil
	case "anthropic":
		if cfg.AnthropicKey == "" {
			return nil, fmt.Errorf("ANTHROPIC_API_KEY must be set for anthropic LLM")
		}
		return llmProvider.NewAnthropicLLM(cfg.AnthropicKey, ""), nil
	case "google":
		if cfg.GoogleKey == "" {
			return nil, fmt.Errorf("GOOGLE_API_KEY must be set for google LLM")
		}
		return llmProvider.NewGoogleLLM(cfg.GoogleKey, ""), nil
	case "groq":
		fallthrough
	default:
		if cfg.GroqKey == "" {
			return nil, fmt.Errorf("GROQ_API_KEY must be set for groq LLM")
		}
		return llmProvider.NewGroqLLM(cfg.GroqKey, ""), nil
	}
}
