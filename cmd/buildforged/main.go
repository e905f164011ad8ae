package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"git.home.luguber.info/inful/buildforge/internal/config"
	"git.home.luguber.info/inful/buildforge/internal/metrics"
	"git.home.luguber.info/inful/buildforge/internal/project"
	"git.home.luguber.info/inful/buildforge/internal/protocol"
	"git.home.luguber.info/inful/buildforge/internal/remote"
	"git.home.luguber.info/inful/buildforge/internal/server"
	"git.home.luguber.info/inful/buildforge/internal/session"
	"git.home.luguber.info/inful/buildforge/internal/watch"
)

var CLI struct {
	Config  string `short:"c" help:"Configuration file path" default:"buildforge.yaml"`
	Verbose bool   `short:"v" help:"Enable verbose logging"`

	Serve struct{} `cmd:"" help:"Serve build sessions for a remote controller over NATS"`

	Build struct {
		Project   string   `arg:"" help:"Project path (directory containing project.yaml)"`
		Kind      string   `short:"k" help:"Build kind: clean|make|forced_compilation|project_rebuild" default:"make"`
		Modules   []string `short:"m" help:"Restrict the build to these modules"`
		Files     []string `short:"f" help:"Restrict the build to these files"`
		Artifacts []string `short:"a" help:"Artifacts to produce"`
		Watch     bool     `short:"w" help:"Keep feeding filesystem deltas into the session while it runs"`
	} `cmd:"" help:"Run a single local build session, printing builder messages as JSON lines"`
}

func main() {
	kctx := kong.Parse(&CLI)

	// .env is optional; process env always wins
	_ = godotenv.Load()

	cfg, err := config.Load(CLI.Config)
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	logLevel := parseLevel(cfg.LogLevel)
	if CLI.Verbose {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))
	slog.SetDefault(logger)

	switch kctx.Command() {
	case "serve":
		if err := runServe(cfg); err != nil {
			slog.Error("Server failed", "error", err)
			os.Exit(1)
		}
	case "build <project>":
		if err := runBuild(cfg); err != nil {
			slog.Error("Build session failed", "error", err)
			os.Exit(1)
		}
	}
}

func parseLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}

// deps assembles the session dependencies shared by both commands.
func deps(cfg *config.Config, recorder metrics.Recorder) session.Deps {
	return session.Deps{
		Loader:        project.NewYAMLLoader(slog.Default()),
		Engine:        noopEngine{},
		DataDir:       cfg.DataDir,
		InMemoryDelta: cfg.InMemoryDelta,
		Recorder:      recorder,
		Logger:        slog.Default(),
	}
}

func runServe(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	registry := prom.NewRegistry()
	recorder := metrics.NewPrometheusRecorder(registry)
	if cfg.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
		go func() {
			if err := http.ListenAndServe(cfg.MetricsAddr, mux); err != nil && err != http.ErrServerClosed {
				slog.Error("Metrics endpoint failed", "addr", cfg.MetricsAddr, "error", err)
			}
		}()
		slog.Info("Serving metrics", "addr", cfg.MetricsAddr)
	}

	client, err := remote.Connect(cfg.NATSURL, slog.Default())
	if err != nil {
		return err
	}
	defer func() { _ = client.Close() }()

	srv := server.New(deps(cfg, recorder))
	if err := client.Subscribe(ctx, srv); err != nil {
		return err
	}

	slog.Info("Build server ready", "data_dir", cfg.DataDir)
	<-ctx.Done()

	slog.Info("Shutting down, canceling active sessions", "active", srv.ActiveSessions())
	srv.CancelAll()
	return nil
}

func runBuild(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	params := protocol.BuildParams{
		ProjectPath:   CLI.Build.Project,
		BuildKind:     protocol.BuildKindName(CLI.Build.Kind),
		ModuleNames:   CLI.Build.Modules,
		ArtifactNames: CLI.Build.Artifacts,
		FilePaths:     CLI.Build.Files,
	}

	sess := session.New(uuid.New(), newStdoutChannel(), params, nil, deps(cfg, metrics.NoopRecorder{}))

	var source *watch.DeltaSource
	if CLI.Build.Watch {
		var err error
		source, err = watch.New([]string{CLI.Build.Project}, 1, 500*time.Millisecond, sess.SubmitFSEvent, slog.Default())
		if err != nil {
			return err
		}
		source.Start(ctx)
		defer source.Stop()
	}

	go func() {
		<-ctx.Done()
		sess.Cancel()
	}()

	sess.Run(ctx)
	return nil
}

// stdoutChannel prints builder messages as JSON lines.
type stdoutChannel struct {
	mu  sync.Mutex
	enc *json.Encoder
}

func newStdoutChannel() *stdoutChannel {
	return &stdoutChannel{enc: json.NewEncoder(os.Stdout)}
}

func (ch *stdoutChannel) Send(msg *protocol.BuilderMessage) error {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	return ch.enc.Encode(msg)
}
