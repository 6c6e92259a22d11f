package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"
	"text/tabwriter"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/fatih/color"

	"github.com/mattjoyce/hackscore/internal/config"
	"github.com/mattjoyce/hackscore/internal/inspect"
	"github.com/mattjoyce/hackscore/internal/lock"
	"github.com/mattjoyce/hackscore/internal/sandbox"
	"github.com/mattjoyce/hackscore/internal/storage"
	"github.com/mattjoyce/hackscore/internal/store"
	"github.com/mattjoyce/hackscore/internal/tui"
)

var (
	okText   = color.New(color.FgGreen).SprintFunc()
	warnText = color.New(color.FgYellow).SprintFunc()
	failText = color.New(color.FgRed).SprintFunc()
)

const requestTimeout = 15 * time.Second

// parseInterspersed parses flags that may follow positional arguments and
// returns the positionals in order.
func parseInterspersed(fs *flag.FlagSet, args []string) ([]string, error) {
	var positional []string
	for {
		if err := fs.Parse(args); err != nil {
			return nil, err
		}
		if fs.NArg() == 0 {
			return positional, nil
		}
		positional = append(positional, fs.Arg(0))
		args = fs.Args()[1:]
	}
}

// --- queue ---

func runQueueStatus(args []string) int {
	fs := flag.NewFlagSet("queue status", flag.ContinueOnError)
	apiURL, apiKey := apiFlags(fs)
	jsonOut := fs.Bool("json", false, "Output raw JSON")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()
	status, err := newOpsClient(*apiURL, *apiKey).QueueStatus(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to read queue: %v\n", err)
		return 1
	}

	if *jsonOut {
		return printJSON(status)
	}

	fmt.Printf("Running: %d/%d  Pending: %d  Poll: %s  Ceiling: %s\n",
		status.Active, status.MaxConcurrent, status.Pending, status.PollInterval, status.JobCeiling)

	if len(status.Processing) > 0 {
		fmt.Println()
		fmt.Println("Processing:")
		for _, id := range status.Processing {
			fmt.Printf("  %s %s\n", warnText("◉"), id)
		}
	}
	if len(status.Jobs) > 0 {
		fmt.Println()
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "POS\tSUBMISSION\tHACKATHON\tPRIORITY\tWAITING")
		for i, j := range status.Jobs {
			fmt.Fprintf(w, "%d\t%s\t%s\t%d\t%s\n",
				i+1, j.SubmissionID, j.HackathonID, j.Priority, time.Since(j.AddedAt).Round(time.Second))
		}
		_ = w.Flush()
	}
	return 0
}

func runQueueTrigger(action string, args []string) int {
	fs := flag.NewFlagSet("queue "+action, flag.ContinueOnError)
	apiURL, apiKey := apiFlags(fs)
	positional, err := parseInterspersed(fs, args)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}
	if len(positional) != 1 {
		fmt.Fprintf(os.Stderr, "Usage: hackscore queue %s <submission_id> [--api-url URL] [--api-key KEY]\n", action)
		return 1
	}

	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()
	client := newOpsClient(*apiURL, *apiKey)

	trigger := client.Score
	if action == "rejudge" {
		trigger = client.Rejudge
	}
	resp, err := trigger(ctx, positional[0])
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s %s\n", failText("✗"), err)
		return 1
	}
	fmt.Printf("%s %s %s (priority %d)\n", okText("✓"), resp.SubmissionID, resp.Status, resp.Priority)
	return 0
}

func runQueueRejudgeAll(args []string) int {
	fs := flag.NewFlagSet("queue rejudge-all", flag.ContinueOnError)
	apiURL, apiKey := apiFlags(fs)
	positional, err := parseInterspersed(fs, args)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}
	if len(positional) != 1 {
		fmt.Fprintln(os.Stderr, "Usage: hackscore queue rejudge-all <hackathon_id> [--api-url URL] [--api-key KEY]")
		return 1
	}

	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()
	resp, err := newOpsClient(*apiURL, *apiKey).RejudgeAll(ctx, positional[0])
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s %s\n", failText("✗"), err)
		return 1
	}
	fmt.Printf("%s rejudging %d submissions of %s\n", okText("✓"), resp.Enqueued, resp.HackathonID)
	return 0
}

func runQueueClear(args []string) int {
	fs := flag.NewFlagSet("queue clear", flag.ContinueOnError)
	apiURL, apiKey := apiFlags(fs)
	hackathonID := fs.String("hackathon", "", "Only drop this hackathon's pending jobs")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()
	resp, err := newOpsClient(*apiURL, *apiKey).Clear(ctx, *hackathonID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s %s\n", failText("✗"), err)
		return 1
	}
	fmt.Printf("%s removed %d pending jobs\n", okText("✓"), resp.Removed)
	return 0
}

// --- submission ---

func runSubmissionInspect(args []string) int {
	fs := flag.NewFlagSet("submission inspect", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	limit := fs.Int("limit", 10, "Maximum number of runs to show")
	jsonOut := fs.Bool("json", false, "Output report as JSON")
	positional, err := parseInterspersed(fs, args)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}
	if len(positional) != 1 {
		fmt.Fprintln(os.Stderr, "Usage: hackscore submission inspect <id> [--config PATH] [--limit N] [--json]")
		return 1
	}

	cfg, _, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}

	ctx := context.Background()
	db, err := storage.OpenSQLite(ctx, cfg.State.Path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open database: %v\n", err)
		return 1
	}
	defer db.Close()

	build := inspect.BuildReport
	if *jsonOut {
		build = inspect.BuildJSONReport
	}
	report, err := build(ctx, store.New(db), cfg.WorkspaceBaseDir(), positional[0], *limit)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to inspect submission: %v\n", err)
		return 1
	}
	fmt.Print(report)
	return 0
}

func runSubmissionScore(args []string) int {
	fs := flag.NewFlagSet("submission score", flag.ContinueOnError)
	apiURL, apiKey := apiFlags(fs)
	score := fs.String("score", "", "Score to record")
	comment := fs.String("comment", "", "Comment shown to the team")
	positional, err := parseInterspersed(fs, args)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}
	if len(positional) != 1 || *score == "" {
		fmt.Fprintln(os.Stderr, "Usage: hackscore submission score <id> --score N [--comment TEXT]")
		return 1
	}
	value, err := strconv.ParseFloat(*score, 64)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid --score %q: %v\n", *score, err)
		return 1
	}

	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()
	resp, err := newOpsClient(*apiURL, *apiKey).SetManualScore(ctx, positional[0], value, *comment)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s %s\n", failText("✗"), err)
		return 1
	}
	fmt.Printf("%s %s scored %g (manual, version %d)\n", okText("✓"), positional[0], value, resp.ScoreVersion)
	return 0
}

// --- data ---

func runDataImport(args []string) int {
	fs := flag.NewFlagSet("data import", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	positional, err := parseInterspersed(fs, args)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}
	if len(positional) != 1 {
		fmt.Fprintln(os.Stderr, "Usage: hackscore data import <fixtures.yaml> [--config PATH]")
		return 1
	}

	cfg, _, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}
	fx, err := store.LoadFixtures(positional[0])
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to read fixtures: %v\n", err)
		return 1
	}

	ctx := context.Background()
	db, err := storage.OpenSQLite(ctx, cfg.State.Path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open database: %v\n", err)
		return 1
	}
	defer db.Close()

	counts, err := store.New(db).Import(ctx, fx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Import failed: %v\n", err)
		return 1
	}
	fmt.Printf("%s imported %d hackathons, %d file formats, %d organizer files, %d submissions\n",
		okText("✓"), counts.Hackathons, counts.FileFormats, counts.ProvidedFiles, counts.Submissions)
	return 0
}

// --- config ---

type checkResult struct {
	Name   string `json:"name"`
	OK     bool   `json:"ok"`
	Detail string `json:"detail,omitempty"`
}

func runConfigCheck(args []string) int {
	fs := flag.NewFlagSet("config check", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	jsonOut := fs.Bool("json", false, "Output results as JSON")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	results := collectChecks(*configPath)
	healthy := true
	for _, r := range results {
		healthy = healthy && r.OK
	}

	if *jsonOut {
		if code := printJSON(map[string]any{"ok": healthy, "checks": results}); code != 0 {
			return code
		}
	} else {
		for _, r := range results {
			mark := okText("✓")
			if !r.OK {
				mark = failText("✗")
			}
			if r.Detail != "" {
				fmt.Printf("%s %-10s %s\n", mark, r.Name, r.Detail)
			} else {
				fmt.Printf("%s %s\n", mark, r.Name)
			}
		}
	}
	if !healthy {
		return 1
	}
	return 0
}

func collectChecks(configPath string) []checkResult {
	cfg, resolved, err := loadConfig(configPath)
	if err != nil {
		return []checkResult{{Name: "config", Detail: err.Error()}}
	}
	results := []checkResult{{Name: "config", OK: true, Detail: resolved}}

	if _, err := sandbox.NewExecRunner(cfg.Sandbox.Command, cfg.Sandbox.GracePeriod); err != nil {
		results = append(results, checkResult{Name: "sandbox", Detail: err.Error()})
	} else {
		results = append(results, checkResult{Name: "sandbox", OK: true, Detail: cfg.Sandbox.Command})
	}

	db, err := storage.OpenSQLite(context.Background(), cfg.State.Path)
	if err != nil {
		results = append(results, checkResult{Name: "database", Detail: err.Error()})
	} else {
		_ = db.Close()
		results = append(results, checkResult{Name: "database", OK: true, Detail: cfg.State.Path})
	}

	lockPath := lock.PathFor(cfg.State.Path)
	l, err := lock.AcquirePIDLock(lockPath)
	switch {
	case errors.Is(err, lock.ErrLocked):
		// A running service is not a failure.
		results = append(results, checkResult{Name: "pid_lock", OK: true, Detail: "service running: " + err.Error()})
	case err != nil:
		results = append(results, checkResult{Name: "pid_lock", Detail: err.Error()})
	default:
		_ = l.Release()
		results = append(results, checkResult{Name: "pid_lock", OK: true, Detail: "service not running"})
	}
	return results
}

func runConfigLock(args []string) int {
	fs := flag.NewFlagSet("config lock", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	if *configPath == "" {
		discovered, err := config.DiscoverConfigDir()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to discover config: %v\n", err)
			return 1
		}
		*configPath = discovered
	}

	checksumPath, err := config.Lock(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to lock config: %v\n", err)
		return 1
	}
	fmt.Printf("%s wrote %s\n", okText("✓"), checksumPath)
	return 0
}

// --- monitor ---

func runMonitor(args []string) int {
	fs := flag.NewFlagSet("monitor", flag.ContinueOnError)
	apiURL, apiKey := apiFlags(fs)
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}
	if *apiKey == "" {
		fmt.Fprintln(os.Stderr, "Error: API key required. Use --api-key or HACKSCORE_API_KEY env var.")
		return 1
	}

	p := tea.NewProgram(tui.NewMonitor(*apiURL, *apiKey))
	if _, err := p.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "TUI error: %v\n", err)
		return 1
	}
	return 0
}

func printJSON(v any) int {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to render JSON: %v\n", err)
		return 1
	}
	fmt.Println(string(data))
	return 0
}
