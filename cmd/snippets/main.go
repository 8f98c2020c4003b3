// Package main runs the record-matching engine snippets: batch loading,
// searching and deleting through the task pipeline, and continuous redo
// processing until interrupted.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/phrazzld/snippet-runner/internal/config"
	"github.com/phrazzld/snippet-runner/internal/platform/logger"
	"github.com/phrazzld/snippet-runner/internal/snippets"
)

// Exit codes.
const (
	exitOK      = 0
	exitFailure = 1
	exitUsage   = 2
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

// run parses args, builds the application and runs the selected snippets.
// Reports go to stdout, logs and usage to stderr.
func run(args []string, stdout, stderr io.Writer) int {
	fs := pflag.NewFlagSet("snippets", pflag.ContinueOnError)
	fs.SetOutput(stderr)
	config.RegisterFlags(fs)
	list := fs.Bool("list", false, "list the available snippets and exit")
	fs.Usage = func() { usage(stderr, fs) }

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return exitOK
		}
		return exitUsage
	}

	if *list {
		printSnippets(stdout)
		return exitOK
	}

	selected, err := snippets.Resolve(snippets.Registry(), fs.Args())
	if err != nil || len(selected) == 0 {
		if err != nil {
			fmt.Fprintf(stderr, "error: %v\n\n", err)
		}
		fs.Usage()
		return exitUsage
	}

	cfg, err := config.Load(fs)
	if err != nil {
		fmt.Fprintf(stderr, "failed to load configuration: %v\n", err)
		return exitFailure
	}

	log, err := logger.SetupWriter(cfg.Log, stderr)
	if err != nil {
		fmt.Fprintf(stderr, "failed to set up logger: %v\n", err)
		return exitFailure
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := newApplication(ctx, cfg, log, stdout)
	if err != nil {
		log.Error("failed to initialize application", "error", err)
		return exitFailure
	}

	runErr := app.Run(ctx, selected)
	app.cleanup()
	if runErr != nil {
		return exitFailure
	}
	return exitOK
}

func usage(w io.Writer, fs *pflag.FlagSet) {
	fmt.Fprint(w, "Usage: snippets [flags] <snippet|group|group/snippet|all>...\n\nFlags:\n")
	fmt.Fprint(w, fs.FlagUsages())
	fmt.Fprint(w, "\nSnippets:\n")
	printSnippets(w)
}

func printSnippets(w io.Writer) {
	for _, s := range snippets.Registry() {
		fmt.Fprintf(w, "  %-38s %s\n", s.ID(), s.Description)
	}
}
