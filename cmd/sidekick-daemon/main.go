package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/lmittmann/tint"
	cli "github.com/spf13/pflag"
	log "log/slog"

	openai "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"

	"sidekick/internal/audio"
	"sidekick/internal/bus"
	"sidekick/internal/chat"
	"sidekick/internal/config"
	"sidekick/internal/httpapi"
	"sidekick/internal/inbox"
	"sidekick/internal/ipc"
	"sidekick/internal/memory"
	"sidekick/internal/notify"
	"sidekick/internal/observability"
	"sidekick/internal/proxy"
	"sidekick/internal/tools"
	"sidekick/internal/tts"
	"sidekick/internal/tts/espeak"
	"sidekick/pkg/stt"
)

var logLevelMap = map[string]log.Level{
	"debug": log.LevelDebug,
	"info":  log.LevelInfo,
	"warn":  log.LevelWarn,
	"error": log.LevelError,
}

func main() {
	cfg, err := config.Load(os.Args[1:])
	if errors.Is(err, cli.ErrHelp) {
		return
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "sidekick-daemon:", err)
		os.Exit(2)
	}

	log.SetDefault(log.New(tint.NewHandler(os.Stderr, &tint.Options{
		Level:      logLevelMap[cfg.LogLevel],
		TimeFormat: time.TimeOnly,
	})))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		log.Error("Daemon failed", "err", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config) error {
	log.Info("Booting up")
	sessionID := uuid.NewString()
	metrics := observability.NewMetrics(cfg.MetricsNamespace)

	if err := os.MkdirAll(cfg.WorkDir, 0o755); err != nil {
		return fmt.Errorf("create work dir: %w", err)
	}

	httpClient, err := proxy.NewHTTPClient(cfg.SocksProxy)
	if err != nil {
		return err
	}
	client := openai.NewClient(
		option.WithAPIKey(cfg.OpenAIAPIKey),
		option.WithHTTPClient(httpClient),
	)
	log.Debug("Loaded model client", "model", cfg.OpenAIModel, "proxy", cfg.SocksProxy)

	store, err := memory.NewStore(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("open transcript store: %w", err)
	}
	defer store.Close()
	archive := memory.NewArchive(store, sessionID)

	transcriber, closeTranscriber, err := newTranscriber(cfg, client)
	if err != nil {
		return err
	}
	defer closeTranscriber.Close()
	log.Debug("Loaded transcriber", "backend", cfg.STTBackend)

	registry, err := newRegistry(cfg, client, transcriber, metrics)
	if err != nil {
		return err
	}
	defer func() {
		if err := registry.Close(); err != nil {
			log.Warn("Failed to release tool resources", "err", err)
		}
	}()

	orch := chat.NewOrchestrator(chat.NewOpenAIModel(client, cfg.OpenAIModel), registry, chat.Options{
		SystemPrompt: chat.DefaultSystemPrompt,
		MaxRounds:    cfg.MaxToolRounds,
		Archive:      archive,
		Metrics:      metrics,
	})

	queue := inbox.NewQueue(metrics)
	mute := inbox.NewMute(cfg.StartMuted)
	mute.OnChange(func(muted bool) { log.Info("Microphone switch", "muted", muted) })

	sinks := chat.NewMultiSink(&console{w: os.Stdout})
	pump := inbox.NewPump(queue, orch, sinks)

	var wg sync.WaitGroup
	spawn := func(name string, fn func(context.Context) error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := fn(ctx); err != nil {
				log.Error("Component stopped", "component", name, "err", err)
			}
		}()
	}

	var speaking audio.MuteSignal
	var hub *bus.Client
	if cfg.BusURL != "" {
		hub = bus.NewClient(cfg.BusURL, cfg.BusName, bus.Inbound(queue, mute))
		sinks.Add(hub)
		mute.OnChange(func(muted bool) {
			if muted {
				hub.Publish(bus.KindMute, "")
			} else {
				hub.Publish(bus.KindUnmute, "")
			}
		})
		spawn("bus", hub.Run)
	}

	if cfg.SpeakAnswers {
		ducker := audio.NewDucker(audio.DuckOptions{
			SelfNames: []string{"espeak"},
			Factor:    cfg.DuckFactor,
			Fade:      300 * time.Millisecond,
		})
		speaker := tts.NewSpeaker(espeak.New(cfg.SpeakVoice), ducker)
		sinks.Add(speaker)
		speaking = inbox.SignalFunc(speaker.Speaking)
		spawn("speaker", speaker.Run)
	}

	mic, err := audio.NewMicrophone(audio.SampleRate, audio.FrameSize)
	if err != nil {
		log.Error("Failed to init audio, voice input disabled", "err", err)
	} else {
		defer mic.Close()
		capturer := audio.NewCapturer(mic, transcriber, captureOptions(cfg, hub, metrics))
		loop := inbox.NewDispatchLoop(capturer, queue, mute)
		if speaking != nil {
			loop.HoldWhile(speaking)
		}
		spawn("capture", loop.Run)
	}

	spawn("pump", pump.Run)
	spawn("control", func(ctx context.Context) error {
		return ipc.Serve(ctx, cfg.ControlSocket, ipc.Controller(queue, mute, pump))
	})

	if cfg.HTTPAddr != "" {
		api := httpapi.New(httpapi.Options{
			Queue:      queue,
			Mute:       mute,
			Turns:      pump,
			Transcript: orch.Transcript(),
			Metrics:    metrics,
			SessionID:  sessionID,
		})
		spawn("http", func(ctx context.Context) error {
			return serveHTTP(ctx, cfg.HTTPAddr, api.Router(), cfg.ShutdownTimeout)
		})
	}

	log.Info("Boot up - successful", "session", sessionID, "muted", mute.Muted())
	<-ctx.Done()
	log.Info("Shutting down")
	wg.Wait()
	return nil
}

func newTranscriber(cfg config.Config, client openai.Client) (audio.Transcriber, io.Closer, error) {
	switch cfg.STTBackend {
	case config.STTWhisper:
		w, err := stt.NewWhisper(cfg.WhisperModelPath, stt.Options{
			Language: cfg.WhisperLanguage,
			Threads:  cfg.WhisperThreads,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("init whisper: %w", err)
		}
		return w, w, nil
	case config.STTWhisperCLI:
		return stt.CLI{
			ExecPath:  cfg.WhisperCLI,
			ModelPath: cfg.WhisperModelPath,
			Language:  cfg.WhisperLanguage,
		}, nopCloser{}, nil
	default:
		return stt.OpenAI{Client: client, Language: cfg.WhisperLanguage}, nopCloser{}, nil
	}
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

func newRegistry(cfg config.Config, client openai.Client, tr audio.Transcriber, metrics *observability.Metrics) (*tools.Registry, error) {
	if cfg.BaseDirectory == "" {
		log.Warn("BASE_DIRECTORY not set, file tools accept absolute paths only")
	}
	lake := tools.Datalake{Dir: cfg.BaseDirectory}
	registry := tools.NewRegistry(metrics)
	for _, t := range []tools.Tool{
		tools.NewAnalyzer(lake, tools.OpenAIAsker{Client: client, Model: cfg.OpenAIModel}).Tool(),
		tools.NewExcel(lake).Tool(),
		tools.NewWord(lake).Tool(),
		lake.ListTool(),
		tools.TranscribeTool(lake, tr),
	} {
		if err := registry.Register(t); err != nil {
			return nil, err
		}
	}
	return registry, nil
}

func captureOptions(cfg config.Config, hub *bus.Client, metrics *observability.Metrics) audio.CaptureOptions {
	opt := audio.CaptureOptions{
		VAD: audio.VADConfig{
			SampleRate: audio.SampleRate,
			FrameSize:  audio.FrameSize,
			Threshold:  cfg.VADThreshold,
			Pause:      cfg.VADPause,
			MinVoiced:  cfg.VADMinVoiced,
			MaxLength:  cfg.VADMaxLength,
		},
		Dir:     cfg.WorkDir,
		Metrics: metrics,
		OnState: func(s audio.State) {
			log.Debug("Capture state", "state", s)
			if hub != nil {
				hub.Publish(bus.KindState, s.String())
			}
		},
	}

	if cfg.BeepPath != "" {
		cue, err := notify.NewCue(cfg.BeepPath)
		if err != nil {
			log.Warn("Capture cue disabled", "err", err)
			return opt
		}
		opt.OnCommit = func() {
			go func() {
				if err := cue.Play(); err != nil {
					log.Warn("Failed to play capture cue", "err", err)
				}
			}()
		}
	}
	return opt
}

func serveHTTP(ctx context.Context, addr string, h http.Handler, shutdownTimeout time.Duration) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		log.Info("HTTP listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
