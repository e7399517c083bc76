package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	json "github.com/goccy/go-json"
	"github.com/urfave/cli/v3"

	"github.com/rickfelix/EHG-Engineer-sub004/pkg/eventbus/router"
	"github.com/rickfelix/EHG-Engineer-sub004/pkg/eventbus/store"
)

func dlqCommand() *cli.Command {
	return &cli.Command{
		Name:  "dlq",
		Usage: "Inspect and replay the dead-letter queue",
		Commands: []*cli.Command{
			{
				Name:  "list",
				Usage: "List dead-letter entries",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "filter",
						Usage: "Only entries for this event type",
					},
					&cli.BoolFlag{
						Name:  "json",
						Usage: "Emit JSON instead of a table",
					},
					&cli.IntFlag{
						Name:  "limit",
						Value: 50,
						Usage: "Maximum entries to list",
					},
				},
				Action: runDLQList,
			},
			{
				Name:      "replay",
				Usage:     "Replay one entry by ID, or --batch for all dead entries",
				ArgsUsage: "[entry-id]",
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  "batch",
						Usage: "Replay every dead entry (optionally narrowed by --filter)",
					},
					&cli.StringFlag{
						Name:  "filter",
						Usage: "Only entries for this event type (with --batch)",
					},
					&cli.BoolFlag{
						Name:  "dry-run",
						Usage: "Show what would be replayed without running anything",
					},
					&cli.StringFlag{
						Name:  "operator",
						Value: "cli",
						Usage: "Operator name recorded on replayed entries",
					},
				},
				Action: runDLQReplay,
			},
			{
				Name:  "stats",
				Usage: "Summarize the dead-letter queue",
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  "json",
						Usage: "Emit JSON instead of a table",
					},
				},
				Action: runDLQStats,
			},
		},
	}
}

func runDLQList(ctx context.Context, cmd *cli.Command) error {
	st, err := openStore(cmd)
	if err != nil {
		return err
	}
	defer st.Close()

	entries, err := st.ListDLQ(ctx, store.DLQFilter{
		EventType: cmd.String("filter"),
		Limit:     int(cmd.Int("limit")),
	})
	if err != nil {
		return fmt.Errorf("list dlq: %w", err)
	}

	if cmd.Bool("json") {
		return emitJSON(entries)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tEVENT TYPE\tHANDLER\tSTATUS\tREASON\tATTEMPTS\tLAST ATTEMPT")
	for _, e := range entries {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%d\t%s\n",
			e.ID, e.EventType, e.HandlerName, e.Status, e.FailureReason, e.AttemptCount,
			e.LastAttemptAt.Format("2006-01-02 15:04:05"))
	}
	return w.Flush()
}

func runDLQReplay(ctx context.Context, cmd *cli.Command) error {
	st, err := openStore(cmd)
	if err != nil {
		return err
	}
	defer st.Close()

	r, err := router.New(router.Config{Store: st})
	if err != nil {
		return err
	}
	operator := cmd.String("operator")
	dryRun := cmd.Bool("dry-run")

	if cmd.Bool("batch") {
		entries, err := st.ListDLQ(ctx, store.DLQFilter{
			EventType: cmd.String("filter"),
			Status:    store.DLQDead,
		})
		if err != nil {
			return fmt.Errorf("list dlq: %w", err)
		}
		replayed, failed := 0, 0
		for _, entry := range entries {
			if dryRun {
				fmt.Printf("would replay %s (%s)\n", entry.ID, entry.EventType)
				continue
			}
			// Per-entry failures never abort the batch.
			result, err := r.ReplayDLQ(ctx, entry.ID, operator)
			if err != nil {
				failed++
				fmt.Printf("replay %s: error: %v\n", entry.ID, err)
				continue
			}
			if result.Status == router.StatusSuccess {
				replayed++
			} else {
				failed++
			}
			fmt.Printf("replay %s: %s\n", entry.ID, result.Status)
		}
		if !dryRun {
			fmt.Printf("replayed %d, failed %d of %d entries\n", replayed, failed, len(entries))
		}
		return nil
	}

	if cmd.Args().Len() != 1 {
		return fmt.Errorf("exactly one entry ID required (or use --batch)")
	}
	id := cmd.Args().First()
	if dryRun {
		entry, err := st.GetDLQ(ctx, id)
		if err != nil {
			return err
		}
		fmt.Printf("would replay %s (%s, event %s)\n", entry.ID, entry.EventType, entry.EventID)
		return nil
	}

	result, err := r.ReplayDLQ(ctx, id, operator)
	if err != nil {
		return err
	}
	fmt.Printf("replay %s: %s\n", id, result.Status)
	return nil
}

func runDLQStats(ctx context.Context, cmd *cli.Command) error {
	st, err := openStore(cmd)
	if err != nil {
		return err
	}
	defer st.Close()

	counts, err := st.CountDLQ(ctx)
	if err != nil {
		return fmt.Errorf("count dlq: %w", err)
	}

	if cmd.Bool("json") {
		return emitJSON(counts)
	}

	fmt.Printf("dead: %d\nreplayed: %d\n", counts.Dead, counts.Replayed)
	if len(counts.ByType) > 0 {
		fmt.Println("by type:")
		for eventType, n := range counts.ByType {
			fmt.Printf("  %s: %d\n", eventType, n)
		}
	}
	return nil
}

// emitJSON prints v as indented JSON on stdout.
func emitJSON(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}

// openStore opens the SQLite store selected by the global flags.
func openStore(cmd *cli.Command) (store.Store, error) {
	cfg, err := busConfig(cmd)
	if err != nil {
		return nil, err
	}
	return store.NewSQLiteStore(cfg.StorePath)
}
