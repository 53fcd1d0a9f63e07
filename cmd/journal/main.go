package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/chrissnell/snowrunner/internal/journal"
	"github.com/chrissnell/snowrunner/internal/log"
)

func main() {
	var (
		dbPath   = flag.String("db", "", "Path to the run journal (journal.db in the output directory)")
		command  = flag.String("command", "runs", "Command: runs, show, last-flush, version")
		runID    = flag.String("run", "", "Run ID for the show command")
		limit    = flag.Int("limit", 20, "Number of runs listed by the runs command")
		helpFlag = flag.Bool("help", false, "Show help")
	)
	flag.Parse()

	if *helpFlag {
		showHelp()
		return
	}
	if *dbPath == "" {
		fmt.Fprintf(os.Stderr, "Error: -db flag is required\n")
		showHelp()
		os.Exit(1)
	}
	if err := log.Init(false); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	// Opening migrates the schema, so this doubles as the upgrade path.
	j, err := journal.Open(*dbPath, log.Named("journal"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open journal: %v\n", err)
		os.Exit(1)
	}
	defer j.Close()

	ctx := context.Background()
	switch *command {
	case "runs":
		err = listRuns(ctx, j, *limit)
	case "show":
		if *runID == "" {
			fmt.Fprintf(os.Stderr, "Error: -run flag is required for show command\n")
			os.Exit(1)
		}
		err = showRun(ctx, j, *runID)
	case "last-flush":
		var (
			t  time.Time
			ok bool
		)
		t, ok, err = j.LastFlush(ctx)
		if err == nil {
			if ok {
				fmt.Println(t.Format(time.RFC3339))
			} else {
				fmt.Println("no output has been flushed")
			}
		}
	case "version":
		var v int
		v, err = j.SchemaVersion()
		if err == nil {
			fmt.Printf("Schema version: %d\n", v)
		}
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", *command)
		showHelp()
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Journal command failed: %v\n", err)
		os.Exit(1)
	}
}

func listRuns(ctx context.Context, j *journal.Journal, limit int) error {
	runs, err := j.Recent(ctx, limit)
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Println("No runs recorded")
		return nil
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSTARTED\tSTATUS\tSTEP\tFLUSHES")
	for _, r := range runs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\n", r.ID, r.StartedAt.Local().Format(time.RFC3339), r.Status, r.LastStep, r.Flushes)
	}
	return w.Flush()
}

func showRun(ctx context.Context, j *journal.Journal, id string) error {
	r, err := j.Lookup(ctx, id)
	if err != nil {
		return err
	}
	fmt.Printf("Run:      %s\n", r.ID)
	fmt.Printf("Started:  %s\n", r.StartedAt.Local().Format(time.RFC3339))
	fmt.Printf("Status:   %s\n", r.Status)
	fmt.Printf("Step:     %d\n", r.LastStep)
	fmt.Printf("Flushes:  %d\n", r.Flushes)
	if r.Failure != "" {
		fmt.Printf("Failure:  %s\n", r.Failure)
	}
	return nil
}

func showHelp() {
	fmt.Println("Run Journal Tool")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  journal [flags]")
	fmt.Println()
	fmt.Println("Flags:")
	fmt.Println("  -db string         Path to the journal database (required)")
	fmt.Println("  -command string    Command (default: runs)")
	fmt.Println("  -run string        Run ID for show")
	fmt.Println("  -limit int         Runs to list (default: 20)")
	fmt.Println("  -help              Show this help message")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  runs               List recent runs, newest first")
	fmt.Println("  show               Show one run and its failure, if any")
	fmt.Println("  last-flush         Print the latest output time (the default restart point)")
	fmt.Println("  version            Show the journal schema version")
	fmt.Println()
	fmt.Println("Examples:")
	fmt.Println("  journal -db output/journal.db")
	fmt.Println("  journal -db output/journal.db -command show -run 6f1c...")
}
