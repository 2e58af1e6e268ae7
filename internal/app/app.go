package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/bytedance/sonic"
	"github.com/urfave/cli/v3"

	"github.com/dmitrijs2005/chaincache/internal/cache"
	"github.com/dmitrijs2005/chaincache/internal/config"
	"github.com/dmitrijs2005/chaincache/internal/filex"
	"github.com/dmitrijs2005/chaincache/internal/loader"
	"github.com/dmitrijs2005/chaincache/internal/logging"
	"github.com/dmitrijs2005/chaincache/internal/origin"
)

var ErrArgRequired = errors.New("argument required")

// Dependencies is what a command action works with.
type Dependencies struct {
	Config *config.Config
	Cache  *cache.Manager
	Loader *loader.Loader
	Logger logging.Logger
}

// App builds the command tree. Output goes to out, logs to logOut.
type App struct {
	out    io.Writer
	logOut io.Writer
	reader origin.Reader
}

type Option func(*App)

// WithReader replaces the contract reader. Without it the reader is loaded
// from the configured fixture, or is empty.
func WithReader(r origin.Reader) Option {
	return func(a *App) { a.reader = r }
}

func WithLogOutput(w io.Writer) Option {
	return func(a *App) { a.logOut = w }
}

func New(out io.Writer, opts ...Option) *App {
	a := &App{out: out, logOut: os.Stderr}
	for _, o := range opts {
		o(a)
	}
	return a
}

// Command returns the root command.
func (a *App) Command() *cli.Command {
	return &cli.Command{
		Name:  "chaincache",
		Usage: "Inspect and maintain the local cache of on-chain social data",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to a JSON config file",
			},
			&cli.StringFlag{
				Name:  "db",
				Usage: "Path to the cache database",
			},
			&cli.StringFlag{
				Name:  "log-format",
				Usage: "Log format: text, json or zap",
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "Log level: debug, info, warn or error",
			},
			&cli.StringFlag{
				Name:  "fixture",
				Usage: "JSON file with contract data to read from",
			},
			&cli.DurationFlag{
				Name:  "ttl",
				Usage: "Freshness window for cached data",
			},
			&cli.StringFlag{
				Name:  "as",
				Usage: "Address whose cache timeout preference sets the freshness window",
			},
		},
		Commands: a.commands(),
	}
}

// action opens the dependencies for one command run and closes them after.
func (a *App) action(fn func(ctx context.Context, c *cli.Command, d *Dependencies) error) cli.ActionFunc {
	return func(ctx context.Context, c *cli.Command) error {
		d, err := a.open(ctx, c)
		if err != nil {
			return err
		}
		defer func() {
			if err := d.Cache.Close(); err != nil {
				d.Logger.Warn(ctx, "close cache", "error", err)
			}
		}()
		return fn(ctx, c, d)
	}
}

func (a *App) open(ctx context.Context, c *cli.Command) (*Dependencies, error) {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return nil, err
	}
	applyFlags(cfg, c)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	log, err := logging.New(cfg.LogFormat, cfg.LogLevel, a.logOut)
	if err != nil {
		return nil, err
	}

	reader := a.reader
	if reader == nil {
		reader, err = loadReader(cfg.FixturePath)
		if err != nil {
			return nil, err
		}
	}

	if err := filex.EnsureDBDir(cfg.DBPath); err != nil {
		return nil, err
	}
	m := cache.New(cfg.DBPath, cache.WithLogger(log))
	if err := m.Initialize(ctx); err != nil {
		_ = m.Close()
		return nil, fmt.Errorf("open cache %s: %w", cfg.DBPath, err)
	}

	opts := []loader.Option{
		loader.WithTTL(cfg.TTLMinutes()),
		loader.WithRetry(cfg.RetryAttempts, 200*time.Millisecond),
		loader.WithLogger(log),
	}
	if c.IsSet("as") {
		opts = append(opts, loader.WithViewer(c.String("as")))
	}
	l := loader.New(m, reader, opts...)
	return &Dependencies{Config: cfg, Cache: m, Loader: l, Logger: log}, nil
}

// applyFlags overrides config values with flags given on the command line.
func applyFlags(cfg *config.Config, c *cli.Command) {
	if c.IsSet("db") {
		cfg.DBPath = c.String("db")
	}
	if c.IsSet("log-format") {
		cfg.LogFormat = c.String("log-format")
	}
	if c.IsSet("log-level") {
		cfg.LogLevel = c.String("log-level")
	}
	if c.IsSet("fixture") {
		cfg.FixturePath = c.String("fixture")
	}
	if c.IsSet("ttl") {
		cfg.DefaultTTL = c.Duration("ttl")
	}
}

func loadReader(path string) (origin.Reader, error) {
	if path == "" {
		return origin.NewMemoryReader(), nil
	}
	return origin.LoadFixture(path)
}

func (a *App) print(v any) error {
	b, err := sonic.ConfigStd.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(a.out, string(b))
	return err
}
