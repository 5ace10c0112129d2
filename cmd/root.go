package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/adalundhe/courier/core/classify"
	"github.com/adalundhe/courier/core/config"
	"github.com/adalundhe/courier/core/directory"
	"github.com/adalundhe/courier/core/notify"
	"github.com/adalundhe/courier/core/projector"
	"github.com/adalundhe/courier/core/routing"
	"github.com/adalundhe/courier/core/rpc"
	"github.com/adalundhe/courier/core/store"
	"github.com/adalundhe/courier/core/tailer"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "courier",
	Short: "Courier - agent notification and reply routing daemon",
	Long: `Courier watches your coding agent sessions, notifies you when a turn
completes (speech at the desk, a text message when away), and routes
your replies back into the right tmux pane.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runDaemon()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file path")
}

func Execute() error {
	return rootCmd.Execute()
}

func loadConfig() (*config.Config, error) {
	path := configPath
	if path == "" {
		path = config.DefaultPath()
	}
	return config.Load(path)
}

func setupLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
	slog.SetDefault(logger)
	return logger
}

// buildClassifier returns nil when no API key is available; routing then
// falls through to the sticky strategies and notifications use the fixed
// summary.
func buildClassifier(cfg *config.Config, logger *slog.Logger) *classify.AnthropicClassifier {
	apiKey := os.Getenv("ANTHROPIC_API_KEY")
	if apiKey == "" {
		logger.Warn("ANTHROPIC_API_KEY not set, semantic routing and summaries disabled")
		return nil
	}
	classifier, err := classify.NewAnthropicClassifier(classify.AnthropicConfig{
		APIKey:  apiKey,
		Model:   cfg.AI.Model,
		Timeout: cfg.AI.Timeout,
		Logger:  logger,
	})
	if err != nil {
		logger.Warn("classifier unavailable", "error", err)
		return nil
	}
	return classifier
}

func runDaemon() error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := setupLogger(cfg.Log.Level)
	logger.Info("courier starting")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := store.Open(cfg.Store.Path, logger)
	if err != nil {
		return err
	}
	defer st.Close()

	tl, err := tailer.New(tailer.Config{
		DBPath:        cfg.ChatDB.Path,
		HandleIDs:     cfg.ChatDB.HandleIDs,
		ExcludePrefix: notify.OutboundPrefix,
		PollInterval:  cfg.ChatDB.PollInterval,
	}, st, logger)
	if err != nil {
		return err
	}
	defer tl.Close()

	dir := directory.NewTmuxDirectory(nil, logger)
	memory := routing.NewMemory()
	classifier := buildClassifier(cfg, logger)

	messenger := notify.ScriptMessenger{Recipient: cfg.Message.Recipient, Logger: logger}

	// Resolver wants an interface value; a typed nil pointer would not be nil.
	var resolverClassifier classify.Classifier
	var summarizer classify.Summarizer
	if classifier != nil {
		resolverClassifier = classifier
		summarizer = classifier
	}
	resolver := routing.NewResolver(memory, resolverClassifier, cfg.Routing.FallbackLabel, logger)
	router := routing.NewRouter(dir, resolver, memory, operatorReplier{messenger}, logger)

	notifier := &notify.Notifier{
		Speaker:          notify.CommandSpeaker{Command: cfg.TTS.Command, Voice: cfg.TTS.Voice},
		Messenger:        messenger,
		Presence:         notify.ScreenLockPresence{},
		Sessions:         dir,
		Summarizer:       summarizer,
		LastOutgoing:     tl.LastOutgoingText,
		SkipWhenAttached: cfg.Notify.SkipWhenAttached,
		Logger:           logger,
	}

	proj := projector.New(st, notifier, router, memory, logger)
	server := rpc.NewServer(cfg.HTTP.Addr, st, logger)

	var wg sync.WaitGroup
	wg.Add(3)
	go func() {
		defer wg.Done()
		if err := server.Run(ctx); err != nil {
			logger.Error("rpc server failed", "error", err)
			stop()
		}
	}()
	go func() {
		defer wg.Done()
		if err := tl.Run(ctx); err != nil {
			logger.Error("tailer failed", "error", err)
		}
	}()
	go func() {
		defer wg.Done()
		if err := proj.Run(ctx); err != nil {
			logger.Error("projector failed", "error", err)
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown signal received")
	wg.Wait()

	flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := st.Checkpoint(flushCtx); err != nil {
		logger.Warn("final checkpoint failed", "error", err)
	}
	logger.Info("courier stopped")
	return nil
}

// operatorReplier sends routing status back to the operator on the same
// message channel replies arrive on.
type operatorReplier struct {
	messenger notify.ScriptMessenger
}

func (r operatorReplier) Reply(ctx context.Context, text string) error {
	if r.messenger.Recipient == "" {
		return fmt.Errorf("no message recipient configured")
	}
	return r.messenger.Send(ctx, notify.OutboundPrefix+" "+text)
}
