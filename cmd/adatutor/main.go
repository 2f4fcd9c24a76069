// Command adatutor is the voice tutoring backend: a WebSocket server that
// mediates between a whiteboard client and the STT, LLM, and TTS providers.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coder/websocket"
	"github.com/joho/godotenv"
	anyllmlib "github.com/mozilla-ai/any-llm-go"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/adatutor/internal/config"
	"github.com/MrWong99/adatutor/internal/gateway"
	"github.com/MrWong99/adatutor/internal/health"
	"github.com/MrWong99/adatutor/internal/observe"
	"github.com/MrWong99/adatutor/internal/orchestrator"
	"github.com/MrWong99/adatutor/internal/session"
	"github.com/MrWong99/adatutor/internal/strokes"
	"github.com/MrWong99/adatutor/pkg/provider/llm"
	"github.com/MrWong99/adatutor/pkg/provider/llm/anthropic"
	"github.com/MrWong99/adatutor/pkg/provider/llm/anyllm"
	"github.com/MrWong99/adatutor/pkg/provider/llm/openai"
	"github.com/MrWong99/adatutor/pkg/provider/stt"
	"github.com/MrWong99/adatutor/pkg/provider/stt/deepgram"
	"github.com/MrWong99/adatutor/pkg/provider/tts"
	"github.com/MrWong99/adatutor/pkg/provider/tts/elevenlabs"
)

const version = "0.3.0"

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	// Local development keeps API keys in a .env next to the binary.
	_ = godotenv.Load()

	cfg, err := config.Load(*configPath)
	if errors.Is(err, os.ErrNotExist) {
		// No config file is fine: defaults plus environment variables cover
		// the common deployment. configs/example.yaml documents the schema.
		cfg, err = config.Default()
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "adatutor: %v\n", err)
		return 1
	}

	logger := newLogger(cfg.Server.LogLevel)
	slog.SetDefault(logger)

	slog.Info("adatutor starting",
		"version", version,
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceVersion: version,
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelShutdown(shutdownCtx); err != nil {
			slog.Warn("telemetry shutdown", "err", err)
		}
	}()
	metrics := observe.DefaultMetrics()

	// ── Providers ─────────────────────────────────────────────────────────────
	llmProvider, err := buildLLM(cfg.Providers.LLM)
	if err != nil {
		slog.Error("failed to build llm provider", "err", err)
		return 1
	}
	sttProvider, err := buildSTT(cfg.Providers.STT)
	if err != nil {
		slog.Error("failed to build stt provider", "err", err)
		return 1
	}
	ttsProvider, err := buildTTS(cfg.Providers.TTS)
	if err != nil {
		slog.Error("failed to build tts provider", "err", err)
		return 1
	}
	voice := resolveVoice(ctx, ttsProvider, cfg)

	slog.Info("providers ready",
		"llm", cfg.Providers.LLM.Name, "llm_model", cfg.Providers.LLM.Model,
		"stt", cfg.Providers.STT.Name,
		"tts", cfg.Providers.TTS.Name, "voice", voice.ID,
	)

	// ── LaTeX renderer ────────────────────────────────────────────────────────
	var latexRenderer *strokes.Renderer
	if cfg.Latex.RenderURL != "" {
		fallback, err := strokes.NewSynthesizer()
		if err != nil {
			slog.Error("failed to build handwriting synthesizer", "err", err)
			return 1
		}
		latexRenderer, err = strokes.NewRenderer(cfg.Latex.RenderURL, fallback,
			strokes.WithTargetHeights(cfg.Latex.TargetHeightPx, cfg.Latex.TargetHeightMinPx, cfg.Latex.TargetHeightMaxPx))
		if err != nil {
			slog.Error("failed to build latex renderer", "err", err)
			return 1
		}
	}

	// ── HTTP surface ──────────────────────────────────────────────────────────
	manager := session.NewManager()
	mux := http.NewServeMux()

	mux.HandleFunc("GET /ws/{session_id}", func(w http.ResponseWriter, r *http.Request) {
		serveSession(w, r, serveDeps{
			manager: manager,
			cfg:     cfg,
			llm:     llmProvider,
			stt:     sttProvider,
			tts:     ttsProvider,
			voice:   voice,
			latex:   latexRenderer,
			metrics: metrics,
		})
	})

	mux.HandleFunc("POST /session/new", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"session_id": session.NewID()})
	})

	checkers := []health.Checker{}
	if cfg.Latex.RenderURL != "" {
		checkers = append(checkers, health.LatexRenderer(cfg.Latex.RenderURL, nil))
	}
	health.New(checkers...).Register(mux)

	mux.Handle("GET /metrics", promhttp.Handler())

	handler := observe.Middleware(metrics)(mux)
	handler = cors.New(cors.Options{
		AllowedOrigins:   cfg.Server.AllowedOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost},
		AllowCredentials: true,
	}).Handler(handler)

	srv := &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	slog.Info("server ready — press Ctrl+C to shut down")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		if cfg.Server.TLS != nil {
			err = srv.ListenAndServeTLS(cfg.Server.TLS.CertFile, cfg.Server.TLS.KeyFile)
		} else {
			err = srv.ListenAndServe()
		}
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("server error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// ── Session serving ───────────────────────────────────────────────────────────

type serveDeps struct {
	manager *session.Manager
	cfg     *config.Config
	llm     llm.Provider
	stt     stt.Provider
	tts     tts.Provider
	voice   tts.VoiceProfile
	latex   *strokes.Renderer
	metrics *observe.Metrics
}

// serveSession owns one WebSocket connection for its whole lifetime.
func serveSession(w http.ResponseWriter, r *http.Request, deps serveDeps) {
	sessionID := r.PathValue("session_id")
	// observe.Logger picks up the trace id the middleware span established,
	// so every session log line correlates with the connection span.
	logger := observe.Logger(r.Context()).With(slog.String("session_id", sessionID))

	conn, err := gateway.Accept(w, r, gateway.Config{
		OriginPatterns: deps.cfg.Server.AllowedOrigins,
		Logger:         logger,
	})
	if err != nil {
		logger.Warn("websocket accept failed", slog.String("error", err.Error()))
		return
	}

	sess := deps.manager.Create(sessionID, "")
	deps.metrics.ActiveSessions.Add(r.Context(), 1)
	defer func() {
		deps.metrics.ActiveSessions.Add(context.Background(), -1)
		deps.manager.Remove(sess.ID)
		_ = conn.Close(websocket.StatusNormalClosure, "session ended")
	}()

	opts := []orchestrator.Option{
		orchestrator.WithLogger(logger),
		orchestrator.WithMetrics(deps.metrics),
	}
	if deps.latex != nil {
		opts = append(opts, orchestrator.WithLatexRenderer(deps.latex))
	}

	orch, err := orchestrator.New(conn, sess,
		orchestrator.Providers{LLM: deps.llm, STT: deps.stt, TTS: deps.tts},
		orchestrator.Config{
			TutorName:   deps.cfg.Tutor.Name,
			Voice:       deps.voice,
			Temperature: deps.cfg.Tutor.Temperature,
			MaxTokens:   deps.cfg.Tutor.MaxTokens,
			WriteX:      deps.cfg.Board.WriteX,
			Timing:      deps.cfg.Timing,
		},
		opts...)
	if err != nil {
		logger.Error("failed to build orchestrator", slog.String("error", err.Error()))
		return
	}

	logger.Info("session connected")
	if err := orch.Run(r.Context(), conn.Inbound()); err != nil && !errors.Is(err, context.Canceled) {
		logger.Warn("session ended with error", slog.String("error", err.Error()))
	}
	logger.Info("session closed")
}

// ── Provider wiring ───────────────────────────────────────────────────────────

func buildLLM(entry config.ProviderEntry) (llm.Provider, error) {
	switch entry.Name {
	case "anthropic":
		var opts []anthropic.Option
		if entry.BaseURL != "" {
			opts = append(opts, anthropic.WithBaseURL(entry.BaseURL))
		}
		return anthropic.New(entry.APIKey, entry.Model, opts...)
	case "openai":
		var opts []openai.Option
		if entry.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(entry.BaseURL))
		}
		return openai.New(entry.APIKey, entry.Model, opts...)
	case "ollama":
		var opts []anyllmlib.Option
		if entry.BaseURL != "" {
			opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
		}
		return anyllm.New("ollama", entry.Model, opts...)
	case "gemini", "deepseek", "mistral", "groq", "llamacpp", "llamafile":
		var opts []anyllmlib.Option
		if entry.APIKey != "" {
			opts = append(opts, anyllmlib.WithAPIKey(entry.APIKey))
		}
		if entry.BaseURL != "" {
			opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
		}
		return anyllm.New(entry.Name, entry.Model, opts...)
	default:
		return nil, fmt.Errorf("unknown llm provider %q", entry.Name)
	}
}

// buildSTT returns nil when speech recognition is not configured; sessions
// then run on manually supplied transcripts.
func buildSTT(entry config.ProviderEntry) (stt.Provider, error) {
	switch entry.Name {
	case "":
		return nil, nil
	case "deepgram":
		if entry.APIKey == "" {
			return nil, nil
		}
		var opts []deepgram.Option
		if entry.Model != "" {
			opts = append(opts, deepgram.WithModel(entry.Model))
		}
		return deepgram.New(entry.APIKey, opts...)
	default:
		return nil, fmt.Errorf("unknown stt provider %q", entry.Name)
	}
}

// buildTTS returns nil when speech synthesis is not configured; the tutor
// then responds with text and board writing only.
func buildTTS(entry config.ProviderEntry) (tts.Provider, error) {
	switch entry.Name {
	case "":
		return nil, nil
	case "elevenlabs":
		if entry.APIKey == "" {
			return nil, nil
		}
		opts := []elevenlabs.Option{
			// The client's playback path decodes raw pcm16le at 22050 Hz.
			elevenlabs.WithOutputFormat("pcm_22050"),
		}
		if entry.Model != "" {
			opts = append(opts, elevenlabs.WithModel(entry.Model))
		}
		return elevenlabs.New(entry.APIKey, opts...)
	default:
		return nil, fmt.Errorf("unknown tts provider %q", entry.Name)
	}
}

// resolveVoice looks the configured voice id up against the provider's voice
// list so a typo surfaces at startup instead of on the first turn. Lookup
// failures degrade to the bare id.
func resolveVoice(ctx context.Context, provider tts.Provider, cfg *config.Config) tts.VoiceProfile {
	voice := tts.VoiceProfile{ID: cfg.Tutor.VoiceID, Name: cfg.Tutor.Name, Provider: cfg.Providers.TTS.Name}
	if provider == nil {
		return voice
	}

	listCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	voices, err := provider.ListVoices(listCtx)
	if err != nil {
		slog.Warn("could not list tts voices", "err", err)
		return voice
	}
	for _, v := range voices {
		if v.ID == cfg.Tutor.VoiceID {
			return v
		}
	}
	slog.Warn("configured voice not found in provider voice list", "voice_id", cfg.Tutor.VoiceID)
	return voice
}

func newLogger(level config.LogLevel) *slog.Logger {
	var lvl slog.Level
	switch level {
	case config.LogDebug:
		lvl = slog.LevelDebug
	case config.LogWarn:
		lvl = slog.LevelWarn
	case config.LogError:
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
