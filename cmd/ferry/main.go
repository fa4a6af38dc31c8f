package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"sync"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ferryfs/ferry/internal/config"
	"github.com/ferryfs/ferry/internal/engine"
	"github.com/ferryfs/ferry/internal/event"
	"github.com/ferryfs/ferry/internal/stats"
	"github.com/ferryfs/ferry/internal/ui"
)

var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	rootCmd := &cobra.Command{
		Use:           "ferry",
		Short:         "Reliable bulk file transfer with resume, verification, and reflinks",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.AddCommand(newCpCmd(), newMvCmd())

	if err := rootCmd.Execute(); err != nil {
		var exitErr *exitError
		if errors.As(err, &exitErr) {
			return exitErr.code
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 2
	}
	return 0
}

// transferFlags are shared by cp and mv.
type transferFlags struct {
	recursive  bool
	overwrite  string
	verify     string
	reflink    string
	parallel   int
	chunkSize  string
	resume     bool
	noAtomic   bool
	failFast   bool
	verbose    bool
	quiet      bool
	noProgress bool
}

func addTransferFlags(cmd *cobra.Command, f *transferFlags) {
	cmd.Flags().StringVar(&f.overwrite, "overwrite", "never", "overwrite policy: never, prompt, always, smart")
	cmd.Flags().StringVar(&f.verify, "verify", "none", "post-transfer verification: none, fast, full")
	cmd.Flags().StringVar(&f.reflink, "reflink", "auto", "copy-on-write clones: auto, always, never")
	cmd.Flags().IntVarP(&f.parallel, "parallel", "n", 0, "parallel workers (default: min(NumCPU*2, 32))")
	cmd.Flags().StringVar(&f.chunkSize, "chunk-size", "", "transfer chunk size (e.g. 64MiB)")
	cmd.Flags().BoolVar(&f.resume, "resume", false, "persist resume state and continue interrupted transfers")
	cmd.Flags().BoolVar(&f.noAtomic, "no-atomic", false, "write destinations in place instead of temp file + rename")
	cmd.Flags().BoolVar(&f.failFast, "fail-fast", false, "abort a directory transfer on the first error")
	cmd.Flags().BoolVarP(&f.verbose, "verbose", "v", false, "verbose output")
	cmd.Flags().BoolVarP(&f.quiet, "quiet", "q", false, "suppress all output except errors")
	cmd.Flags().BoolVar(&f.noProgress, "no-progress", false, "disable progress display")
}

func newCpCmd() *cobra.Command {
	var flags transferFlags
	cmd := &cobra.Command{
		Use:   "cp [flags] <source>... <destination>",
		Short: "Copy files and directories",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTransfer(cmd, args, &flags, false)
		},
	}
	addTransferFlags(cmd, &flags)
	cmd.Flags().BoolVarP(&flags.recursive, "recursive", "r", false, "copy directories recursively")
	return cmd
}

func newMvCmd() *cobra.Command {
	var flags transferFlags
	cmd := &cobra.Command{
		Use:   "mv [flags] <source>... <destination>",
		Short: "Move files and directories",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTransfer(cmd, args, &flags, true)
		},
	}
	addTransferFlags(cmd, &flags)
	return cmd
}

//nolint:gocyclo // CLI entry point ties together config, flags, and presentation
func runTransfer(cmd *cobra.Command, args []string, flags *transferFlags, move bool) error {
	sources := args[:len(args)-1]
	dst := args[len(args)-1]

	cfg, err := config.Load()
	if err != nil {
		slog.Warn("failed to load config", "error", err)
	}
	applyConfigDefaults(cmd, cfg.Defaults, flags)

	logLevel := slog.LevelWarn
	if flags.verbose {
		logLevel = slog.LevelDebug
	} else if !flags.quiet {
		logLevel = slog.LevelInfo
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))
	slog.SetDefault(logger)

	overwrite, err := engine.ParseOverwritePolicy(flags.overwrite)
	if err != nil {
		return fmt.Errorf("invalid --overwrite: %w", err)
	}
	verify, err := engine.ParseVerifyPolicy(flags.verify)
	if err != nil {
		return fmt.Errorf("invalid --verify: %w", err)
	}
	reflink, err := engine.ParseReflinkPolicy(flags.reflink)
	if err != nil {
		return fmt.Errorf("invalid --reflink: %w", err)
	}

	var chunkSize int64
	if flags.chunkSize != "" {
		chunkSize, err = config.ParseSize(flags.chunkSize)
		if err != nil {
			return fmt.Errorf("invalid --chunk-size: %w", err)
		}
	}

	parallel := flags.parallel
	if parallel <= 0 {
		parallel = min(runtime.NumCPU()*2, 32)
	}

	var confirm engine.Confirmer
	if overwrite == engine.OverwritePrompt {
		if !ui.IsTTY(os.Stdin.Fd()) {
			return errors.New("--overwrite=prompt requires a terminal")
		}
		confirm = newStdinConfirmer(os.Stdin, os.Stderr)
	}

	collector := stats.NewCollector()

	req := engine.Request{
		Sources:   sources,
		Dest:      dst,
		Overwrite: overwrite,
		Verify:    verify,
		Reflink:   reflink,
		Recursive: flags.recursive,
		Atomic:    !flags.noAtomic,
		Resume:    flags.resume,
		FailFast:  flags.failFast,
		ChunkSize: chunkSize,
		Parallel:  parallel,
		Stats:     collector,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	events := make(chan event.Event, 256)

	presenter := ui.NewPresenter(ui.Config{
		Writer:     os.Stdout,
		ErrWriter:  os.Stderr,
		Stats:      collector,
		IsTTY:      ui.IsTTY(os.Stderr.Fd()),
		Quiet:      flags.quiet,
		Verbose:    flags.verbose,
		NoProgress: flags.noProgress,
		DstRoot:    dst,
	})

	var presenterWg sync.WaitGroup
	presenterWg.Add(1)
	go func() {
		defer presenterWg.Done()
		_ = presenter.Run(events)
	}()

	var result engine.Result
	if move {
		result = engine.Move(ctx, req, events, confirm)
	} else {
		result = engine.Run(ctx, req, events, confirm)
	}
	stop()
	close(events)
	presenterWg.Wait()

	if result.Err != nil {
		// Temp files from workers that never reached their own cleanup.
		engine.CleanupTmpFiles()
	}

	if !flags.quiet {
		if summary := presenter.Summary(); summary != "" {
			fmt.Fprintln(os.Stderr, summary)
		}
	}

	if result.Err != nil {
		slog.Error("transfer failed", "error", result.Err)
		if result.Stats.FilesCopied > 0 {
			return &exitError{code: 1} // partial failure
		}
		return &exitError{code: 2} // total failure
	}
	return nil
}

// applyConfigDefaults applies config file defaults for flags not explicitly set on the CLI.
func applyConfigDefaults(cmd *cobra.Command, defaults config.DefaultsConfig, f *transferFlags) {
	if !cmd.Flags().Changed("overwrite") && defaults.Overwrite != nil {
		f.overwrite = *defaults.Overwrite
	}
	if !cmd.Flags().Changed("verify") && defaults.Verify != nil {
		f.verify = *defaults.Verify
	}
	if !cmd.Flags().Changed("reflink") && defaults.Reflink != nil {
		f.reflink = *defaults.Reflink
	}
	if !cmd.Flags().Changed("parallel") && defaults.Parallel != nil {
		f.parallel = *defaults.Parallel
	}
	if !cmd.Flags().Changed("chunk-size") && defaults.ChunkSize != nil {
		f.chunkSize = *defaults.ChunkSize
	}
	if !cmd.Flags().Changed("resume") && defaults.Resume != nil {
		f.resume = *defaults.Resume
	}
	if !cmd.Flags().Changed("no-atomic") && defaults.Atomic != nil {
		f.noAtomic = !*defaults.Atomic
	}
	if !cmd.Flags().Changed("no-progress") && defaults.Progress != nil {
		f.noProgress = !*defaults.Progress
	}
}

type exitError struct {
	code int
}

func (e *exitError) Error() string {
	return fmt.Sprintf("exit code %d", e.code)
}
