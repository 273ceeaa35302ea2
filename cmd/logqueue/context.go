package main

import (
	"io"
	"log/slog"
	"os"

	"github.com/jirevwe/logqueue"
	"github.com/jirevwe/logqueue/queue/sqlite"
	"github.com/mattn/go-isatty"
)

// commandContext resolves configuration and shared resources lazily for
// subcommands.
type commandContext struct {
	configFlag *string
	dirFlag    *string
	queueFlag  *string

	logOutput io.Writer

	config *logqueue.Config
	logger *slog.Logger
}

func newCommandContext(configFlag, dirFlag, queueFlag *string) *commandContext {
	return &commandContext{
		configFlag: configFlag,
		dirFlag:    dirFlag,
		queueFlag:  queueFlag,
		logOutput:  os.Stderr,
	}
}

func (c *commandContext) ensureConfig() (*logqueue.Config, error) {
	if c.config != nil {
		return c.config, nil
	}

	cfg, err := logqueue.Load(*c.configFlag)
	if err != nil {
		return nil, err
	}
	if *c.dirFlag != "" {
		cfg.Directory = *c.dirFlag
	}
	if *c.queueFlag != "" {
		cfg.Queue = *c.queueFlag
	}
	if err = cfg.Validate(); err != nil {
		return nil, err
	}

	logger, err := newLogger(cfg.Log, c.logOutput)
	if err != nil {
		return nil, err
	}

	c.config = cfg
	c.logger = logger
	return cfg, nil
}

func (c *commandContext) openQueue() (*sqlite.Sqlite, error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, err
	}
	return sqlite.Open(cfg.Directory, cfg.Queue, sqlite.WithLogger(c.logger))
}

// newLogger picks a text handler for terminals and JSON otherwise, unless
// the format is set explicitly.
func newLogger(cfg logqueue.LogConfig, w io.Writer) (*slog.Logger, error) {
	level, err := cfg.SlogLevel()
	if err != nil {
		return nil, err
	}

	format := cfg.Format
	if format == "auto" {
		format = "json"
		if f, ok := w.(*os.File); ok && (isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())) {
			format = "text"
		}
	}

	opts := &slog.HandlerOptions{Level: level}
	if format == "text" {
		return slog.New(slog.NewTextHandler(w, opts)), nil
	}
	return slog.New(slog.NewJSONHandler(w, opts)), nil
}
