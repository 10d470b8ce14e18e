package commands

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/weihanyau/ai-chat-live-document-editor-poc/internal/commentary"
	"github.com/weihanyau/ai-chat-live-document-editor-poc/internal/config"
	"github.com/weihanyau/ai-chat-live-document-editor-poc/internal/discovery"
	"github.com/weihanyau/ai-chat-live-document-editor-poc/internal/dispatch"
	"github.com/weihanyau/ai-chat-live-document-editor-poc/internal/document"
	"github.com/weihanyau/ai-chat-live-document-editor-poc/internal/llm"
	"github.com/weihanyau/ai-chat-live-document-editor-poc/internal/logging"
	"github.com/weihanyau/ai-chat-live-document-editor-poc/internal/metrics"
	"github.com/weihanyau/ai-chat-live-document-editor-poc/internal/mirror"
	"github.com/weihanyau/ai-chat-live-document-editor-poc/internal/registry"
	"github.com/weihanyau/ai-chat-live-document-editor-poc/internal/relay"
	"github.com/weihanyau/ai-chat-live-document-editor-poc/internal/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the document server",
	Long: `Start the websocket document server.

Clients connect to /ws. /health, /document, /document/history and /metrics
are served on the same port.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().IntP("port", "p", 3000, "Port to listen on")
	serveCmd.Flags().String("host", "0.0.0.0", "Interface to listen on")
	serveCmd.Flags().String("provider", llm.ProviderOpenAI, "AI provider (openai|anthropic|ark)")
	serveCmd.Flags().String("redis", "", "Redis address for the broadcast mirror")
	serveCmd.Flags().Bool("mdns", false, "Announce the server over mDNS")

	v.BindPFlag("server.port", serveCmd.Flags().Lookup("port"))
	v.BindPFlag("server.host", serveCmd.Flags().Lookup("host"))
	v.BindPFlag("ai.provider", serveCmd.Flags().Lookup("provider"))
	v.BindPFlag("redis.addr", serveCmd.Flags().Lookup("redis"))
	v.BindPFlag("discovery.enabled", serveCmd.Flags().Lookup("mdns"))
}

func runServe(cmd *cobra.Command, args []string) error {
	logging.Info().Str("version", Version).Msg("starting collabtext")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	promReg := prometheus.NewRegistry()
	promReg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(promReg)

	generator := newGenerator(ctx, cfg)

	var hubOpts []registry.Option
	hubOpts = append(hubOpts, registry.WithMetrics(m))
	var mir *mirror.Mirror
	if cfg.Redis.Addr != "" {
		var err error
		mir, err = mirror.Dial(ctx, cfg.Redis.Addr, cfg.Redis.Channel, 15*time.Second, m)
		if err != nil {
			return err
		}
		hubOpts = append(hubOpts, registry.WithObserver(mir.Observe))
		go mir.Run(ctx)
	}

	hub := registry.New(hubOpts...)
	hubCtx, stopHub := context.WithCancel(ctx)
	defer stopHub()
	go hub.Run(hubCtx)

	store := document.NewStore()
	trigger := commentary.New(ctx, cfg.Document.CommentaryDelay, generator, hub, commentary.WithMetrics(m))
	chat := relay.NewChatRelay(generator, store, hub, cfg.Document.ChatHistoryLimit, m)
	edit := relay.NewEditRelay(generator, store, hub, m)
	edit.OnApplied(func(content string, version uint64) {
		m.SetDocumentVersion(version)
		trigger.OnDocumentChanged(content)
	})
	dispatcher := dispatch.New(store, hub, chat, edit, trigger, m)

	srvCfg := server.DefaultConfig()
	srvCfg.Addr = cfg.Addr()
	srvCfg.AllowedOrigins = cfg.Server.AllowedOrigins
	srv := server.New(ctx, srvCfg, server.Deps{
		Registry:   hub,
		Store:      store,
		Dispatcher: dispatcher,
		Gatherer:   promReg,
	})

	if cfg.Discovery.Enabled {
		announcement, err := discovery.Announce(cfg.Discovery.Service, cfg.Server.Port, Version)
		if err != nil {
			logging.Warn().Err(err).Msg("mDNS announcement disabled")
		} else {
			defer announcement.Shutdown()
		}
	}

	serveErr := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	select {
	case sig := <-quit:
		logging.Info().Str("signal", sig.String()).Msg("shutting down")
	case err := <-serveErr:
		return err
	}

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancelShutdown()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logging.Error().Err(err).Msg("http shutdown")
	}
	trigger.Stop()
	stopHub()
	<-hub.Done()

	relaysDone := make(chan struct{})
	go func() {
		dispatcher.Wait()
		close(relaysDone)
	}()
	select {
	case <-relaysDone:
	case <-shutdownCtx.Done():
		logging.Warn().Msg("abandoning in-flight AI requests")
	}

	cancel()
	if mir != nil {
		<-mir.Done()
	}
	logging.Info().Msg("server stopped")
	return nil
}

// newGenerator falls back to a generator that fails every request, so the
// document server still runs without AI credentials.
func newGenerator(ctx context.Context, cfg *config.Config) llm.Generator {
	gen, err := llm.NewProvider(ctx, cfg.ProviderConfig())
	if err != nil {
		logging.Warn().Err(err).Str("provider", cfg.AI.Provider).Msg("AI features disabled")
		return llm.Unavailable{Reason: err}
	}
	logging.Info().Str("provider", cfg.AI.Provider).Msg("AI provider ready")
	return gen
}
