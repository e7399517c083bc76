package main

import (
	"context"
	"fmt"
	"os"
	"sort"
	"text/tabwriter"

	"github.com/urfave/cli/v3"

	"github.com/rickfelix/EHG-Engineer-sub004/pkg/eventbus/router"
	"github.com/rickfelix/EHG-Engineer-sub004/pkg/eventbus/routing"
	"github.com/rickfelix/EHG-Engineer-sub004/pkg/eventbus/store"
)

func roundsCommand() *cli.Command {
	return &cli.Command{
		Name:  "rounds",
		Usage: "Inspect and drain the ROUND-lane backlog",
		Commands: []*cli.Command{
			{
				Name:   "list",
				Usage:  "List pending ROUND-lane event types with counts",
				Action: runRoundsList,
			},
			{
				Name:      "run",
				Usage:     "Drain one pending event type, or --all for everything",
				ArgsUsage: "[event-type]",
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  "all",
						Usage: "Drain every pending ROUND-lane type",
					},
				},
				Action: runRoundsRun,
			},
		},
	}
}

// pendingRoundEvents returns unprocessed event records that classify into
// the ROUND lane, grouped by event type.
func pendingRoundEvents(ctx context.Context, st store.Store) (map[string][]store.EventRecord, error) {
	unprocessed := false
	records, err := st.ListEvents(ctx, store.EventFilter{Processed: &unprocessed})
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}

	byType := make(map[string][]store.EventRecord)
	for _, rec := range records {
		if routing.ClassifyMode(rec.Type, rec.Payload) == routing.ModeRound {
			byType[rec.Type] = append(byType[rec.Type], rec)
		}
	}
	return byType, nil
}

func runRoundsList(ctx context.Context, cmd *cli.Command) error {
	st, err := openStore(cmd)
	if err != nil {
		return err
	}
	defer st.Close()

	byType, err := pendingRoundEvents(ctx, st)
	if err != nil {
		return err
	}
	if len(byType) == 0 {
		fmt.Println("no pending round events")
		return nil
	}

	types := make([]string, 0, len(byType))
	for t := range byType {
		types = append(types, t)
	}
	sort.Strings(types)

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "EVENT TYPE\tPENDING")
	for _, t := range types {
		fmt.Fprintf(w, "%s\t%d\n", t, len(byType[t]))
	}
	return w.Flush()
}

func runRoundsRun(ctx context.Context, cmd *cli.Command) error {
	st, err := openStore(cmd)
	if err != nil {
		return err
	}
	defer st.Close()

	byType, err := pendingRoundEvents(ctx, st)
	if err != nil {
		return err
	}

	var types []string
	if cmd.Bool("all") {
		for t := range byType {
			types = append(types, t)
		}
		sort.Strings(types)
	} else {
		if cmd.Args().Len() != 1 {
			return fmt.Errorf("exactly one event type required (or use --all)")
		}
		t := cmd.Args().First()
		if len(byType[t]) == 0 {
			fmt.Printf("no pending events for %s\n", t)
			return nil
		}
		types = []string{t}
	}

	r, err := router.New(router.Config{Store: st})
	if err != nil {
		return err
	}
	unprocessed := false
	for _, t := range types {
		report, err := r.ReplayFromLedger(ctx, store.EventFilter{Type: t, Processed: &unprocessed})
		if err != nil {
			fmt.Printf("%s: error: %v\n", t, err)
			continue
		}
		fmt.Printf("%s: processed %d, skipped %d, failed %d of %d\n",
			t, report.Processed, report.Skipped, report.Failed, report.Total)
	}
	return nil
}
