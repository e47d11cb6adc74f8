package cli

import (
	"context"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/VladMinzatu/optee-ftrace/internal/symbolizer"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

func NewRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "optee-ftrace [flags] <trace-file>",
		Short: "Symbolize and display OP-TEE function graph traces",
		Long: `Reads a function graph trace dumped by an OP-TEE trusted application,
rebuilds its call tree, resolves addresses against the TA and TEE debug
objects and renders the result as a tree, folded stacks or a profile.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, newViper(), args)
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			if err := setupLogging(cfg.LogLevel, cmd.ErrOrStderr()); err != nil {
				return err
			}
			return run(cmd.Context(), cfg, cmd.OutOrStdout())
		},
	}
	addFlags(cmd.Flags())
	return cmd
}

func addFlags(fs *pflag.FlagSet) {
	fs.StringSliceP("elf", "e", nil, "debug object file or directory to search for <uuid>.elf and tee.elf (repeatable)")
	fs.String("format", FormatText, "output format: text, folded, pprof or otlp")
	fs.StringP("output", "o", "", "output file (default stdout for text and folded)")
	fs.String("otlp-endpoint", "", "gRPC endpoint of an OTLP collector to export the profile to")
	fs.Int("cache-size", symbolizer.DefaultCacheSize, "maximum number of resolved addresses to cache")
	fs.Int("workers", runtime.NumCPU(), "number of concurrent symbol resolutions")
	fs.Bool("fill-depth-gaps", false, "restore skipped nesting levels with placeholder calls instead of failing")
	fs.String("log-level", "info", "log level: debug, info, warn or error")
	fs.String("config", "", "optional configuration file")
}

func setupLogging(level string, w io.Writer) error {
	lvl, err := parseLogLevel(level)
	if err != nil {
		return err
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: lvl})))
	return nil
}

// Execute runs the root command and exits the process on failure.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := NewRootCommand().ExecuteContext(ctx); err != nil {
		slog.Error("optee-ftrace failed", "error", err)
		stop()
		os.Exit(1)
	}
}
