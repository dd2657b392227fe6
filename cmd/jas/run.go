package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/theory/jsonpath"

	"github.com/arnodel/arraystream"
	"github.com/arnodel/arraystream/chunk"
	"github.com/arnodel/arraystream/httpsource"
	"github.com/arnodel/arraystream/internal/format"
)

// errLimitReached stops the processing of inputs once enough elements have
// been printed.
var errLimitReached = errors.New("limit reached")

// An env is what a run needs from the outside world.
type env struct {
	Stdin     io.Reader
	Stdout    io.Writer
	Colorizer *format.Colorizer

	// Flush the output after each element
	FlushLines bool

	Logger log.Logger
}

type runner struct {
	cfg    *Config
	env    env
	client *httpsource.Client
	filter *jsonpath.Path
	enc    *format.Encoder
	count  int
}

// run prints the elements of all the inputs of cfg in order.
func run(ctx context.Context, cfg *Config, e env) (err error) {
	if e.Logger == nil {
		e.Logger = log.NewNopLogger()
	}
	clientCfg, err := cfg.ClientConfig()
	if err != nil {
		return err
	}
	clientCfg.Logger = e.Logger

	r := &runner{
		cfg:    cfg,
		env:    e,
		client: httpsource.NewClient(clientCfg),
	}
	if cfg.Filter != "" {
		r.filter, err = jsonpath.Parse(cfg.Filter)
		if err != nil {
			return fmt.Errorf("invalid filter %s: %w", cfg.Filter, err)
		}
	}

	out := bufio.NewWriter(e.Stdout)
	defer func() {
		if ferr := out.Flush(); err == nil && ferr != nil {
			err = ferr
		}
	}()
	indentSize := cfg.Indent
	if cfg.Compact {
		indentSize = -1
	}
	printer := &format.DefaultPrinter{Writer: out, IndentSize: indentSize}
	if e.FlushLines {
		printer.Flusher = out
	}
	r.enc = &format.Encoder{Printer: printer, Colorizer: e.Colorizer}

	for _, input := range cfg.URLs {
		err := r.processInput(ctx, input)
		if errors.Is(err, errLimitReached) {
			break
		}
		if err != nil {
			return fmt.Errorf("%s: %w", input, err)
		}
	}
	level.Info(e.Logger).Log("msg", "done", "inputs", len(cfg.URLs), "elements", r.count)
	return nil
}

func (r *runner) processInput(ctx context.Context, input string) error {
	stream, err := r.openStream(ctx, input)
	if err != nil {
		return err
	}
	defer stream.Close()
	logger := log.With(r.env.Logger, "input", input)
	for raw, err := range stream.All(ctx) {
		if err != nil {
			return err
		}
		if err := r.print(raw); err != nil {
			return err
		}
		r.count++
		if r.cfg.Limit > 0 && r.count >= r.cfg.Limit {
			level.Debug(logger).Log("msg", "limit reached", "elements", r.count)
			return errLimitReached
		}
	}
	level.Debug(logger).Log("msg", "input done", "elements", stream.Count(), "bytes", stream.Offset())
	return nil
}

func (r *runner) openStream(ctx context.Context, input string) (*arraystream.Stream[json.RawMessage], error) {
	opts := []arraystream.Option{arraystream.WithLogger(log.With(r.env.Logger, "input", input))}
	var src chunk.Source
	switch {
	case isHTTP(input):
		resp, err := r.client.Get(ctx, input)
		if err != nil {
			return nil, err
		}
		src = resp.Source()
	case input == "-":
		// Hide the Close method of stdin
		src = chunk.NewReaderSource(struct{ io.Reader }{r.env.Stdin})
	default:
		f, err := os.Open(input)
		if err != nil {
			return nil, err
		}
		src = chunk.NewReaderSource(f)
	}
	if !isHTTP(input) {
		// Validated by Config.Validate
		enc, _ := chunk.ParseEncoding(r.cfg.Encoding)
		opts = append(opts, arraystream.WithEncoding(enc))
	}
	return arraystream.NewWithDecoder[json.RawMessage](src, arraystream.RawDecoder{}, r.cfg.Level, r.cfg.Capacity, opts...), nil
}

func isHTTP(input string) bool {
	return strings.HasPrefix(input, "http://") || strings.HasPrefix(input, "https://")
}

func (r *runner) print(raw json.RawMessage) error {
	if r.filter == nil {
		return r.enc.Encode(raw)
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return err
	}
	for _, node := range r.filter.Select(v) {
		if err := r.enc.EncodeValue(node); err != nil {
			return err
		}
	}
	return nil
}
