package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/marketops/mpimport/internal/domain"
	"github.com/marketops/mpimport/internal/tracker"
)

func main() {
	serverURL := flag.String("server", "http://localhost:8080", "import server base URL")
	usecase := flag.String("usecase", "u501", "usecase namespace for persisted session state")
	stateDir := flag.String("state-dir", defaultStateDir(), "directory for persisted tracker state")
	interval := flag.Duration("interval", 2*time.Second, "progress poll interval")
	flag.Usage = usage
	flag.Parse()

	if flag.NArg() < 1 {
		usage()
		os.Exit(2)
	}

	store, err := tracker.NewOsFileStore(*stateDir)
	if err != nil {
		log.Fatalf("open state dir: %v", err)
	}
	client := tracker.NewHTTPClient(*serverURL)
	tr := tracker.New(*usecase, client, store, tracker.WithPollInterval(*interval))
	tr.OnProgress = printProgress
	tr.OnError = func(err error) { log.Printf("poll failed: %v", err) }

	ctx := context.Background()

	switch flag.Arg(0) {
	case "start":
		runStart(ctx, tr, flag.Args()[1:])
	case "resume", "watch":
		runResume(ctx, tr)
	case "status":
		runStatus(tr)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n", flag.Arg(0))
		usage()
		os.Exit(2)
	}
}

func runStart(ctx context.Context, tr *tracker.Tracker, args []string) {
	fs := flag.NewFlagSet("start", flag.ExitOnError)
	connection := fs.String("connection", "", "connection identifier (required)")
	aggregates := fs.String("aggregates", "", "comma-separated target aggregates (required)")
	mode := fs.String("mode", string(domain.ImportModeInteractive), "import mode: interactive or scheduled")
	deleteObsolete := fs.Bool("delete-obsolete", false, "delete records absent from this import")
	_ = fs.Parse(args)

	targets := splitList(*aggregates)
	req := domain.ImportRequest{
		ConnectionID:     *connection,
		TargetAggregates: targets,
		Mode:             domain.ImportMode(*mode),
		DeleteObsolete:   *deleteObsolete,
	}

	sessionID, err := tr.Start(ctx, req)
	if err != nil {
		log.Fatalf("start import: %v", err)
	}
	fmt.Printf("session %s started, polling...\n", sessionID)
	waitForIdle(tr)
}

func runResume(ctx context.Context, tr *tracker.Tracker) {
	sessionID, watching := tr.Resume(ctx)
	if sessionID == "" {
		fmt.Println("nothing to resume")
		return
	}
	if !watching {
		fmt.Printf("session %s already finished\n", sessionID)
		return
	}
	fmt.Printf("resumed session %s, polling...\n", sessionID)
	waitForIdle(tr)
}

func runStatus(tr *tracker.Tracker) {
	progress, ok := tr.LastProgress()
	if !ok {
		fmt.Println("no stored progress")
		return
	}
	printProgress(progress)
}

func waitForIdle(tr *tracker.Tracker) {
	for tr.Watching() {
		time.Sleep(200 * time.Millisecond)
	}
}

func printProgress(p domain.ImportProgress) {
	fmt.Printf("[%s] %s processed=%d inserted=%d updated=%d errors=%d\n",
		p.SessionID, p.Status, p.TotalProcessed, p.TotalInserted, p.TotalUpdated, p.TotalErrors)
	for _, agg := range p.Aggregates {
		line := fmt.Sprintf("  %-28s %-10s %d", agg.Name, agg.Status, agg.Processed)
		if agg.Total != nil {
			line += fmt.Sprintf("/%d", *agg.Total)
		}
		if agg.CurrentItem != nil {
			line += " " + *agg.CurrentItem
		}
		fmt.Println(line)
	}
	for _, importErr := range p.Errors {
		scope := "session"
		if importErr.Aggregate != nil {
			scope = *importErr.Aggregate
		}
		fmt.Printf("  error (%s): %s\n", scope, importErr.Message)
	}
}

func splitList(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func defaultStateDir() string {
	if dir, err := os.UserCacheDir(); err == nil {
		return filepath.Join(dir, "mpimport")
	}
	return ".mpimport"
}

func usage() {
	fmt.Fprintf(os.Stderr, `Usage: importctl [flags] <command>

Commands:
  start    start a new import session and watch it
  resume   pick up a previously started session (alias: watch)
  status   print the last persisted progress snapshot

Flags:
`)
	flag.PrintDefaults()
}
