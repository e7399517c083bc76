package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/urfave/cli/v3"

	"github.com/rickfelix/EHG-Engineer-sub004/pkg/eventbus/store"
)

// dashboardReport is the recovery overview emitted by the dashboard
// command: circuit health, dead-letter pressure, and saga outcomes.
type dashboardReport struct {
	Circuits []store.CircuitState `json:"circuits"`
	DLQ      store.DLQCounts      `json:"dlq"`
	Sagas    map[string]int       `json:"sagas"`
}

func dashboardCommand() *cli.Command {
	return &cli.Command{
		Name:  "dashboard",
		Usage: "Show the failure-recovery overview",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "json",
				Usage: "Emit JSON instead of a table",
			},
		},
		Action: runDashboard,
	}
}

func runDashboard(ctx context.Context, cmd *cli.Command) error {
	st, err := openStore(cmd)
	if err != nil {
		return err
	}
	defer st.Close()

	report := dashboardReport{Sagas: make(map[string]int)}

	report.Circuits, err = st.ListCircuits(ctx)
	if err != nil {
		return fmt.Errorf("list circuits: %w", err)
	}
	report.DLQ, err = st.CountDLQ(ctx)
	if err != nil {
		return fmt.Errorf("count dlq: %w", err)
	}
	sagas, err := st.ListSagaLogs(ctx)
	if err != nil {
		return fmt.Errorf("list saga logs: %w", err)
	}
	for _, log := range sagas {
		report.Sagas[log.Status]++
	}

	if cmd.Bool("json") {
		return emitJSON(report)
	}

	fmt.Println("== Circuits ==")
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "SERVICE\tSTATE\tFAILURES\tLAST FAILURE")
	for _, c := range report.Circuits {
		lastFailure := "-"
		if !c.LastFailureAt.IsZero() {
			lastFailure = c.LastFailureAt.Format("2006-01-02 15:04:05")
		}
		fmt.Fprintf(w, "%s\t%s\t%d\t%s\n", c.ServiceName, c.State, c.FailureCount, lastFailure)
	}
	if err := w.Flush(); err != nil {
		return err
	}

	fmt.Printf("\n== Dead-letter queue ==\ndead: %d, replayed: %d\n", report.DLQ.Dead, report.DLQ.Replayed)
	for eventType, n := range report.DLQ.ByType {
		fmt.Printf("  %s: %d\n", eventType, n)
	}

	fmt.Println("\n== Sagas ==")
	if len(report.Sagas) == 0 {
		fmt.Println("no saga runs recorded")
		return nil
	}
	for status, n := range report.Sagas {
		fmt.Printf("  %s: %d\n", status, n)
	}
	return nil
}
