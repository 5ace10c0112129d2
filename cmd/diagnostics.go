package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/adalundhe/courier/core/directory"
	"github.com/adalundhe/courier/core/notify"
	"github.com/adalundhe/courier/core/routing"
)

var diagnosticsDelay time.Duration

var diagnosticsCmd = &cobra.Command{
	Use:   "diagnostics",
	Short: "Probe the environment and print what the daemon would see",
	Long: `Diagnostics checks each capability the daemon depends on: config,
screen-lock detection, live tmux agent sessions, and the resolution of a
few sample replies. Use --delay to lock the screen first and verify
away-mode detection.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runDiagnostics(cmd)
	},
}

func init() {
	diagnosticsCmd.Flags().DurationVar(&diagnosticsDelay, "delay", 0,
		"wait before probing, e.g. 10s to lock the screen first")
	rootCmd.AddCommand(diagnosticsCmd)
}

func runDiagnostics(cmd *cobra.Command) error {
	out := cmd.OutOrStdout()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := setupLogger("error")

	if diagnosticsDelay > 0 {
		fmt.Fprintf(out, "waiting %s before probing...\n", diagnosticsDelay)
		time.Sleep(diagnosticsDelay)
	}

	fmt.Fprintln(out, "== config ==")
	fmt.Fprintf(out, "http addr:        %s\n", cfg.HTTP.Addr)
	fmt.Fprintf(out, "store:            %s\n", cfg.Store.Path)
	fmt.Fprintf(out, "chat db:          %s\n", cfg.ChatDB.Path)
	fmt.Fprintf(out, "handle ids:       %v\n", cfg.ChatDB.HandleIDs)
	fmt.Fprintf(out, "recipient set:    %t\n", cfg.Message.Recipient != "")
	fmt.Fprintf(out, "fallback label:   %s\n", cfg.Routing.FallbackLabel)

	fmt.Fprintln(out, "\n== presence ==")
	locked := notify.ScreenLockPresence{}.ScreenLocked()
	fmt.Fprintf(out, "screen locked:    %t (locked means text messages, unlocked means speech)\n", locked)

	fmt.Fprintln(out, "\n== sessions ==")
	dir := directory.NewTmuxDirectory(nil, logger)
	sessions := dir.Discover()
	if len(sessions) == 0 {
		fmt.Fprintln(out, "no live agent sessions found")
	}
	for _, s := range sessions {
		fmt.Fprintf(out, "%-8s %s\n", s.TargetID, s.Label)
	}

	fmt.Fprintln(out, "\n== resolution ==")
	memory := routing.NewMemory()
	resolver := routing.NewResolver(memory, nil, cfg.Routing.FallbackLabel, logger)
	samples := []string{
		"[" + cfg.Routing.FallbackLabel + "] hello",
		"yes, go ahead",
	}
	for _, sample := range samples {
		tag, body, hasTag := routing.ParseTag(sample)
		target, _, ok := resolver.Resolve(context.Background(), tag, hasTag, body, sessions)
		if ok {
			fmt.Fprintf(out, "%-40q -> [%s]\n", sample, target.Label)
		} else {
			fmt.Fprintf(out, "%-40q -> unresolved\n", sample)
		}
	}

	fmt.Fprintln(out, "\n== notification channels ==")
	fmt.Fprintf(out, "tts command:      %s\n", cfg.TTS.Command)
	if cfg.Message.Recipient == "" {
		fmt.Fprintln(out, "away channel:     DISABLED (no recipient configured)")
	} else {
		fmt.Fprintln(out, "away channel:     configured")
	}
	return nil
}
