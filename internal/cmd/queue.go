package cmd

import (
	"context"
	"fmt"
	"strconv"

	"github.com/urfave/cli/v3"

	"github.com/fclairamb/agentstate/internal/apperrors"
	"github.com/fclairamb/agentstate/internal/learning"
	"github.com/fclairamb/agentstate/internal/queue"
)

func (a *application) queueManager() *queue.Manager {
	return queue.NewManager(a.engine,
		queue.WithLogger(a.logger),
		queue.WithLockTimeout(a.cfg.LockTimeout))
}

func (a *application) learningManager() *learning.Manager {
	return learning.NewManager(a.engine,
		learning.WithLogger(a.logger),
		learning.WithLockTimeout(a.cfg.LockTimeout))
}

func parseItemID(arg string) (int64, error) {
	id, err := strconv.ParseInt(arg, 10, 64)
	if err != nil || id < 1 {
		return 0, fmt.Errorf("%w: %q", apperrors.ErrInvalidItemID, arg)
	}
	return id, nil
}

// queueCommand creates the queue subcommand.
//
//nolint:funlen // CLI command with many subcommands
func (a *application) queueCommand() *cli.Command {
	// itemAction builds the action of a subcommand taking an item ID.
	itemAction := func(verb string, apply func(context.Context, *queue.Manager, int64) error) cli.ActionFunc {
		return func(ctx context.Context, cmd *cli.Command) error {
			id, err := parseItemID(cmd.Args().First())
			if err != nil {
				return err
			}
			if err := apply(ctx, a.queueManager(), id); err != nil {
				return err
			}
			a.snapshot(ctx, fmt.Sprintf("queue %s %d", verb, id))
			return nil
		}
	}

	return &cli.Command{
		Name:  "queue",
		Usage: "Manage the work queue",
		Commands: []*cli.Command{
			{
				Name:      "add",
				Usage:     "Queue an item",
				ArgsUsage: "<type> [payload-json|-]",
				Action: func(ctx context.Context, cmd *cli.Command) error {
					itemType := cmd.Args().First()
					if itemType == "" {
						return fmt.Errorf("%w: item type", apperrors.ErrValueRequired)
					}

					var payload any
					if cmd.Args().Len() > 1 {
						value, err := readValue(cmd, 1)
						if err != nil {
							return err
						}
						payload = value
					}

					item, err := a.queueManager().Add(ctx, itemType, payload)
					if err != nil {
						return err
					}

					a.snapshot(ctx, fmt.Sprintf("queue add %d", item.ID))

					//nolint:forbidigo // CLI user output
					fmt.Fprintf(cmd.Root().Writer, "%d\n", item.ID)
					return nil
				},
			},
			{
				Name:  "list",
				Usage: "List queued items",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    "status",
						Aliases: []string{"s"},
						Usage:   "Only list items with this status (pending, in_progress, done)",
					},
				},
				Action: func(ctx context.Context, cmd *cli.Command) error {
					items, err := a.queueManager().List(ctx, queue.Status(cmd.String("status")))
					if err != nil {
						return err
					}
					displayQueueItems(cmd.Root().Writer, items)
					return nil
				},
			},
			{
				Name:  "pop",
				Usage: "Claim the oldest pending item and print it",
				Action: func(ctx context.Context, cmd *cli.Command) error {
					item, err := a.queueManager().Pop(ctx)
					if err != nil {
						return err
					}
					a.snapshot(ctx, fmt.Sprintf("queue pop %d", item.ID))
					return printJSON(cmd.Root().Writer, item)
				},
			},
			{
				Name:      "done",
				Usage:     "Mark an item as done",
				ArgsUsage: "<id>",
				Action: itemAction("done", func(ctx context.Context, qm *queue.Manager, id int64) error {
					return qm.Complete(ctx, id)
				}),
			},
			{
				Name:      "fail",
				Usage:     "Return an item to the pending state",
				ArgsUsage: "<id>",
				Action: itemAction("fail", func(ctx context.Context, qm *queue.Manager, id int64) error {
					return qm.Fail(ctx, id)
				}),
			},
			{
				Name:      "remove",
				Usage:     "Remove an item",
				ArgsUsage: "<id>",
				Action: itemAction("remove", func(ctx context.Context, qm *queue.Manager, id int64) error {
					return qm.Remove(ctx, id)
				}),
			},
			{
				Name:  "prune",
				Usage: "Remove every done item",
				Action: func(ctx context.Context, cmd *cli.Command) error {
					removed, err := a.queueManager().Prune(ctx)
					if err != nil {
						return err
					}
					if removed > 0 {
						a.snapshot(ctx, fmt.Sprintf("queue prune (%d items)", removed))
					}

					//nolint:forbidigo // CLI user output
					fmt.Fprintf(cmd.Root().Writer, "Removed %d done items\n", removed)
					return nil
				},
			},
		},
	}
}

// learnCommand creates the learn subcommand.
func (a *application) learnCommand() *cli.Command {
	return &cli.Command{
		Name:  "learn",
		Usage: "Record and summarize experiment outcomes",
		Commands: []*cli.Command{
			{
				Name:      "record",
				Usage:     "Record the outcome of a variant",
				ArgsUsage: "<experiment> <variant>",
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  "success",
						Usage: "The variant succeeded",
					},
					&cli.StringFlag{
						Name:  "score",
						Usage: "Numeric score of the outcome",
					},
					&cli.StringFlag{
						Name:  "note",
						Usage: "Free-form note",
					},
				},
				Action: func(ctx context.Context, cmd *cli.Command) error {
					experiment := cmd.Args().Get(0)
					variant := cmd.Args().Get(1)
					if variant == "" {
						return fmt.Errorf("%w: variant", apperrors.ErrValueRequired)
					}

					rec := learning.Record{
						Variant: variant,
						Success: cmd.Bool("success"),
						Note:    cmd.String("note"),
					}
					if raw := cmd.String("score"); raw != "" {
						score, err := strconv.ParseFloat(raw, 64)
						if err != nil {
							return fmt.Errorf("%w: score %q", apperrors.ErrInvalidValue, raw)
						}
						rec.Score = score
					}

					if err := a.learningManager().Record(ctx, experiment, rec); err != nil {
						return err
					}

					a.snapshot(ctx, fmt.Sprintf("learn %s %s", experiment, variant))
					return nil
				},
			},
			{
				Name:      "stats",
				Usage:     "Show per-variant statistics",
				ArgsUsage: "<experiment>",
				Action: func(ctx context.Context, cmd *cli.Command) error {
					stats, err := a.learningManager().Stats(ctx, cmd.Args().First())
					if err != nil {
						return err
					}
					displayVariantStats(cmd.Root().Writer, cmd.Args().First(), stats)
					return nil
				},
			},
		},
	}
}
