// Package cmd provides the CLI commands for agentstate.
package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/fclairamb/agentstate/internal/apperrors"
	"github.com/fclairamb/agentstate/internal/config"
	"github.com/fclairamb/agentstate/internal/history"
	"github.com/fclairamb/agentstate/internal/remote"
	"github.com/fclairamb/agentstate/internal/store"
	"github.com/fclairamb/agentstate/internal/version"
)

const (
	// Default number of snapshots shown by "history log".
	defaultLogLimit = 10
)

// verboseFlag is the shared verbose flag for all commands.
var verboseFlag = &cli.BoolFlag{
	Name:  "verbose",
	Usage: "Enable verbose logging",
}

// application holds what the root Before hook resolves for the subcommands.
type application struct {
	cfg     *config.Config
	engine  *store.Engine
	logger  *slog.Logger
	environ func() []string
}

// setupLogging configures the global logger based on the verbose flag and the log format.
func setupLogging(cmd *cli.Command, format string) *slog.Logger {
	level := slog.LevelInfo
	if cmd.Bool("verbose") {
		level = slog.LevelDebug
	}

	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	switch format {
	case config.LogFormatJSON:
		handler = slog.NewJSONHandler(cmd.Root().ErrWriter, opts)
	default:
		handler = slog.NewTextHandler(cmd.Root().ErrWriter, opts)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)

	if level == slog.LevelDebug {
		logger.Debug("Verbose logging enabled")
	}

	return logger
}

// NewApp creates the CLI application.
func NewApp() *cli.Command {
	return newApp(os.Environ)
}

func newApp(environ func() []string) *cli.Command {
	app := &application{environ: environ}

	return &cli.Command{
		Name:      "agentstate",
		Usage:     "Inspect and edit the agent's local JSON state",
		Version:   version.String(),
		Writer:    os.Stdout,
		ErrWriter: os.Stderr,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "dir",
				Aliases: []string{"d"},
				Usage:   "Data directory (overrides AGENTSTATE_DIR)",
			},
			&cli.StringFlag{
				Name:  "api-url",
				Usage: "Remote API base URL (overrides AGENTSTATE_API_URL)",
			},
			verboseFlag,
		},
		Before: func(ctx context.Context, cmd *cli.Command) (context.Context, error) {
			cfg, err := config.Load(
				config.WithEnviron(app.environ),
				config.WithOverride(config.KeyDir, cmd.String("dir")),
				config.WithOverride(config.KeyAPIURL, cmd.String("api-url")),
			)
			if err != nil {
				return ctx, err
			}

			app.cfg = cfg
			app.logger = setupLogging(cmd, cfg.LogFormat)
			app.engine = store.New(cfg.DataDir, store.WithLogger(app.logger))
			app.logger.DebugContext(ctx, "data directory", "dir", cfg.DataDir, "history", cfg.History)

			return ctx, nil
		},
		Commands: []*cli.Command{
			app.getCommand(),
			app.putCommand(),
			app.deleteCommand(),
			app.queueCommand(),
			app.learnCommand(),
			app.historyCommand(),
			app.pingCommand(),
		},
	}
}

// UserMessage returns the message shown to the user for err. CLI validation
// errors are shown as is, everything else gets its fixed taxonomy message.
// The diagnostic text of other errors is only logged.
func UserMessage(err error) string {
	var appErr *apperrors.Error
	if !errors.As(err, &appErr) && apperrors.IsCLIError(err) {
		return err.Error()
	}
	return apperrors.UserMessage(err)
}

// documentPath resolves a document argument against the data directory.
func (a *application) documentPath(arg string) (string, error) {
	if arg == "" {
		return "", apperrors.ErrPathRequired
	}
	if !filepath.IsLocal(arg) {
		return "", fmt.Errorf("%w: %s", apperrors.ErrInvalidPath, arg)
	}
	return a.engine.Path(arg), nil
}

// readValue parses the JSON value argument, reading stdin when it is "-" or absent.
func readValue(cmd *cli.Command, index int) (any, error) {
	raw := cmd.Args().Get(index)
	if raw == "" || raw == "-" {
		reader := cmd.Root().Reader
		if reader == nil {
			reader = os.Stdin
		}
		data, err := io.ReadAll(reader)
		if err != nil {
			return nil, fmt.Errorf("read stdin: %w", err)
		}
		raw = strings.TrimSpace(string(data))
	}
	if raw == "" {
		return nil, apperrors.ErrValueRequired
	}

	var value any
	if err := json.Unmarshal([]byte(raw), &value); err != nil {
		return nil, fmt.Errorf("%w: %w", apperrors.ErrInvalidValue, err)
	}
	return value, nil
}

// snapshot records a history commit after a mutation when history is enabled.
// Failures are logged: the mutation itself already succeeded.
func (a *application) snapshot(ctx context.Context, message string) {
	if !a.cfg.History {
		return
	}

	rec, err := history.Open(a.cfg.DataDir, history.WithLogger(a.logger))
	if err != nil {
		a.logger.WarnContext(ctx, "failed to open history", "error", err)
		return
	}

	committed, err := rec.Snapshot(ctx, message)
	if err != nil {
		a.logger.WarnContext(ctx, "failed to record snapshot", "error", err)
		return
	}
	if committed {
		a.logger.DebugContext(ctx, "recorded snapshot", "message", message)
	}
}

// getCommand creates the get subcommand.
func (a *application) getCommand() *cli.Command {
	return &cli.Command{
		Name:      "get",
		Usage:     "Print a JSON document",
		ArgsUsage: "<path>",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			path, err := a.documentPath(cmd.Args().First())
			if err != nil {
				return err
			}

			var value any
			found, err := a.engine.SafeRead(ctx, path, &value)
			if err != nil {
				return err
			}
			if !found {
				return apperrors.Storage(apperrors.ReasonNotFound, path, "document does not exist", nil)
			}

			return printJSON(cmd.Root().Writer, value)
		},
	}
}

// putCommand creates the put subcommand.
func (a *application) putCommand() *cli.Command {
	return &cli.Command{
		Name:      "put",
		Usage:     "Atomically write a JSON document",
		ArgsUsage: "<path> [json|-]",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			path, err := a.documentPath(cmd.Args().First())
			if err != nil {
				return err
			}

			value, err := readValue(cmd, 1)
			if err != nil {
				return err
			}

			if err := a.engine.WithLock(ctx, path, a.cfg.LockTimeout, func() error {
				return a.engine.SafeWrite(ctx, path, value)
			}); err != nil {
				return err
			}

			a.snapshot(ctx, "put "+cmd.Args().First())
			return nil
		},
	}
}

// deleteCommand creates the delete subcommand.
func (a *application) deleteCommand() *cli.Command {
	return &cli.Command{
		Name:      "delete",
		Usage:     "Delete a JSON document (no error if it does not exist)",
		ArgsUsage: "<path>",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			path, err := a.documentPath(cmd.Args().First())
			if err != nil {
				return err
			}

			if err := a.engine.WithLock(ctx, path, a.cfg.LockTimeout, func() error {
				return a.engine.Delete(ctx, path)
			}); err != nil {
				return err
			}

			a.snapshot(ctx, "delete "+cmd.Args().First())
			return nil
		},
	}
}

// historyCommand creates the history subcommand.
func (a *application) historyCommand() *cli.Command {
	return &cli.Command{
		Name:  "history",
		Usage: "Inspect snapshots of the data directory",
		Commands: []*cli.Command{
			{
				Name:  "log",
				Usage: "List recent snapshots",
				Flags: []cli.Flag{
					&cli.IntFlag{
						Name:    "limit",
						Aliases: []string{"n"},
						Usage:   "Maximum number of snapshots to show",
						Value:   defaultLogLimit,
					},
				},
				Action: func(ctx context.Context, cmd *cli.Command) error {
					if !a.cfg.History {
						return apperrors.ErrHistoryDisabled
					}

					rec, err := history.Open(a.cfg.DataDir, history.WithLogger(a.logger))
					if err != nil {
						return fmt.Errorf("open history: %w", err)
					}

					snapshots, err := rec.Log(ctx, cmd.Int("limit"))
					if err != nil {
						return fmt.Errorf("read history: %w", err)
					}

					displaySnapshots(cmd.Root().Writer, snapshots)
					return nil
				},
			},
		},
	}
}

// pingCommand creates the ping subcommand.
func (a *application) pingCommand() *cli.Command {
	return &cli.Command{
		Name:  "ping",
		Usage: "Check that the remote API answers",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "path",
				Usage: "Path to request",
				Value: "/",
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			if a.cfg.APIURL == "" {
				return apperrors.ErrAPIURLRequired
			}

			retryCfg := a.cfg.Retry
			retryCfg.Logger = a.logger
			retryCfg.OnRetry = func(err error, attempt int, delay time.Duration) {
				a.logger.WarnContext(ctx, "request failed, retrying",
					"attempt", attempt,
					"delay", delay,
					"error", err)
			}

			opts := []remote.ClientOption{
				remote.WithLogger(a.logger),
				remote.WithRateInterval(a.cfg.APIRate),
				remote.WithRetryConfig(retryCfg),
			}
			if a.cfg.APIModel != "" {
				opts = append(opts, remote.WithAIModel(a.cfg.APIModel))
			}

			client := remote.NewClient(a.cfg.APIURL, a.cfg.APIToken, opts...)

			start := time.Now()
			if err := client.Ping(ctx, cmd.String("path")); err != nil {
				return err
			}

			//nolint:forbidigo // CLI user output
			fmt.Fprintf(cmd.Root().Writer, "OK (%s)\n", time.Since(start).Round(time.Millisecond))
			return nil
		},
	}
}
