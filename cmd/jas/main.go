// Command jas streams the elements of JSON arrays fetched over HTTP, read from
// files or from stdin, and prints them one by one as they arrive.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"

	"github.com/arnodel/arraystream/internal/format"
)

func main() {
	// Do not handle SIGPIPE, we'll do it ourselves (see error handling at the bottom of main).
	signal.Ignore(syscall.SIGPIPE)

	// Display a stack trace on panic
	defer func() {
		if e := recover(); e != nil {
			fmt.Fprintf(os.Stderr, "%s: %s", e, debug.Stack())
			os.Exit(2)
		}
	}()

	cfg, err := Parse(os.Args)
	if errors.Is(err, ErrHelp) {
		fmt.Println(Usage())
		return
	}
	if err != nil {
		fatalError("Error: %s\n\n%s\n", err, Usage())
	}

	isTerminal := isatty.IsTerminal(os.Stdout.Fd()) || isatty.IsCygwinTerminal(os.Stdout.Fd())
	var colorizer *format.Colorizer
	switch cfg.Color {
	case "always":
		colorizer = &format.DefaultColorizer
	case "auto":
		if isTerminal {
			colorizer = &format.DefaultColorizer
		}
	}

	// Set up stdout for handling colors
	var stdout io.Writer = os.Stdout
	if colorizer != nil {
		stdout = colorable.NewColorableStdout()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger := newLogger(os.Stderr, cfg.LogLevel)
	err = run(ctx, cfg, env{
		Stdin:     os.Stdin,
		Stdout:    stdout,
		Colorizer: colorizer,
		// If we are writing to a terminal, flush after each element so the
		// user gets feedback early.
		FlushLines: isTerminal,
		Logger:     logger,
	})
	if err != nil {
		if errors.Is(err, syscall.EPIPE) {
			// stdout is a pipe and something closed it (e.g. 'head' or 'less').
			// In this case we don't want to complain.
			return
		}
		stop()
		fatalError("error: %s\n", err)
	}
}

func newLogger(w io.Writer, lvl string) log.Logger {
	logger := log.NewLogfmtLogger(log.NewSyncWriter(w))
	logger = level.NewFilter(logger, levelOption(lvl))
	return log.With(logger, "ts", log.DefaultTimestampUTC)
}

func levelOption(lvl string) level.Option {
	switch lvl {
	case "debug":
		return level.AllowDebug()
	case "info":
		return level.AllowInfo()
	case "error":
		return level.AllowError()
	default:
		return level.AllowWarn()
	}
}

func fatalError(msg string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, msg, args...)
	os.Exit(1)
}
