package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"runtime/debug"
	"strings"
	"time"
)

var (
	version   = "0.1.0-dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

func main() {
	os.Exit(runCLI(os.Args[1:]))
}

func runCLI(cliArgs []string) int {
	if len(cliArgs) < 1 {
		printUsage()
		return 1
	}

	cmd := cliArgs[0]
	args := cliArgs[1:]

	switch cmd {
	// --- NOUNS ---
	case "system":
		return runSystemNoun(args)
	case "queue":
		return runQueueNoun(args)
	case "submission":
		return runSubmissionNoun(args)
	case "data":
		return runDataNoun(args)
	case "config":
		return runConfigNoun(args)

	// --- ROOT ALIASES ---
	case "start":
		return runStart(args)
	case "monitor":
		return runMonitor(args)
	case "inspect":
		return runSubmissionInspect(args)
	case "version", "--version":
		return runVersion(args)
	case "help", "--help", "-h":
		printUsage()
		return 0

	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", cmd)
		printUsage()
		return 1
	}
}

type versionInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildTime string `json:"build_time"`
}

func runVersion(args []string) int {
	fs := flag.NewFlagSet("version", flag.ContinueOnError)
	jsonOut := fs.Bool("json", false, "Output version metadata as JSON")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}
	if fs.NArg() > 0 {
		fmt.Fprintln(os.Stderr, "Usage: hackscore version [--json]")
		return 1
	}

	info := currentVersionInfo()

	if *jsonOut {
		data, err := json.MarshalIndent(info, "", "  ")
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to render version JSON: %v\n", err)
			return 1
		}
		fmt.Println(string(data))
		return 0
	}

	fmt.Printf("hackscore %s\n", info.Version)
	fmt.Printf("commit: %s\n", info.Commit)
	fmt.Printf("built_at: %s\n", info.BuildTime)
	return 0
}

func currentVersionInfo() versionInfo {
	info := versionInfo{
		Version:   strings.TrimSpace(version),
		Commit:    "unknown",
		BuildTime: "unknown",
	}
	if info.Version == "" {
		info.Version = "0.0.0-dev"
	}

	commit := strings.TrimSpace(gitCommit)
	if commit == "" || commit == "unknown" {
		commit = strings.TrimSpace(readBuildSetting("vcs.revision"))
	}
	if commit != "" {
		info.Commit = shortenCommit(commit)
	}

	built := strings.TrimSpace(buildDate)
	if built == "" || built == "unknown" {
		built = strings.TrimSpace(readBuildSetting("vcs.time"))
	}
	if normalized, ok := normalizeBuildTimeUTC(built); ok {
		info.BuildTime = normalized
	}
	return info
}

func shortenCommit(commit string) string {
	if len(commit) <= 12 {
		return commit
	}
	return commit[:12]
}

func normalizeBuildTimeUTC(raw string) (string, bool) {
	if raw == "" || raw == "unknown" {
		return "", false
	}
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return "", false
	}
	return t.UTC().Format(time.RFC3339), true
}

func readBuildSetting(key string) string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return ""
	}
	for _, setting := range info.Settings {
		if setting.Key == key {
			return setting.Value
		}
	}
	return ""
}

func printUsage() {
	fmt.Print(`hackscore - Hackathon submission scoring service

Usage:
  hackscore <noun> <action> [flags]

Core Resources (Nouns):
  system        Service lifecycle
  queue         Scoring queue (via the operator API)
  submission    Submission history and manual scores
  data          Platform data fixtures
  config        Configuration validation and integrity

System Commands:
  system start              Start the scoring service in foreground
  system monitor            Real-time monitoring TUI

Queue Commands:
  queue status              Show pending and running jobs
  queue enqueue <id>        Score a finalized submission
  queue rejudge <id>        Rescore a submission ahead of normal work
  queue rejudge-all <hid>   Rescore every finalized submission of a hackathon
  queue clear               Drop pending jobs (--hackathon to limit)

Submission Commands:
  submission inspect <id>   Show score, run history and kept workspaces
  submission score <id>     Record a manual score (--score, --comment)

Data Commands:
  data import <file.yaml>   Load hackathons, formats and submissions

Config Commands:
  config check              Validate configuration and integrity
  config lock               Write the integrity checksum for the config

General:
  version                   Show version information
  help                      Show this help message

Use 'hackscore <noun> help' for resource-specific flags.
`)
}

// --- NOUN DISPATCHERS ---

func runSystemNoun(args []string) int {
	if len(args) < 1 {
		printNounHelp(os.Stderr, "system", "start, monitor")
		return 1
	}
	if isHelpToken(args[0]) {
		printNounHelp(os.Stdout, "system", "start, monitor")
		return 0
	}

	action, actionArgs := args[0], args[1:]
	switch action {
	case "start":
		if hasHelpFlag(actionArgs) {
			fmt.Println("Usage: hackscore system start [--config PATH]")
			fmt.Println("Start the scoring service in the foreground.")
			return 0
		}
		return runStart(actionArgs)
	case "monitor":
		if hasHelpFlag(actionArgs) {
			fmt.Println("Usage: hackscore system monitor [--api-url URL] [--api-key KEY]")
			fmt.Println("Launch the real-time TUI dashboard.")
			return 0
		}
		return runMonitor(actionArgs)
	default:
		fmt.Fprintf(os.Stderr, "Unknown system action: %s\n", action)
		return 1
	}
}

func runQueueNoun(args []string) int {
	const actions = "status, enqueue, rejudge, rejudge-all, clear"
	if len(args) < 1 {
		printNounHelp(os.Stderr, "queue", actions)
		return 1
	}
	if isHelpToken(args[0]) {
		printNounHelp(os.Stdout, "queue", actions)
		fmt.Println("All queue actions accept --api-url URL and --api-key KEY (or HACKSCORE_API_KEY).")
		return 0
	}

	action, actionArgs := args[0], args[1:]
	switch action {
	case "status":
		return runQueueStatus(actionArgs)
	case "enqueue":
		return runQueueTrigger("enqueue", actionArgs)
	case "rejudge":
		return runQueueTrigger("rejudge", actionArgs)
	case "rejudge-all":
		return runQueueRejudgeAll(actionArgs)
	case "clear":
		return runQueueClear(actionArgs)
	default:
		fmt.Fprintf(os.Stderr, "Unknown queue action: %s\n", action)
		return 1
	}
}

func runSubmissionNoun(args []string) int {
	if len(args) < 1 {
		printNounHelp(os.Stderr, "submission", "inspect, score")
		return 1
	}
	if isHelpToken(args[0]) {
		printNounHelp(os.Stdout, "submission", "inspect, score")
		return 0
	}

	action, actionArgs := args[0], args[1:]
	switch action {
	case "inspect":
		if hasHelpFlag(actionArgs) {
			fmt.Println("Usage: hackscore submission inspect <id> [--config PATH] [--limit N] [--json]")
			fmt.Println("Show the submission's score, run history and kept workspaces.")
			return 0
		}
		return runSubmissionInspect(actionArgs)
	case "score":
		if hasHelpFlag(actionArgs) {
			fmt.Println("Usage: hackscore submission score <id> --score N [--comment TEXT] [--api-url URL] [--api-key KEY]")
			fmt.Println("Record a manual score. Needs a token with the scores:rw scope.")
			return 0
		}
		return runSubmissionScore(actionArgs)
	default:
		fmt.Fprintf(os.Stderr, "Unknown submission action: %s\n", action)
		return 1
	}
}

func runDataNoun(args []string) int {
	if len(args) < 1 {
		printNounHelp(os.Stderr, "data", "import")
		return 1
	}
	if isHelpToken(args[0]) {
		printNounHelp(os.Stdout, "data", "import")
		return 0
	}

	action, actionArgs := args[0], args[1:]
	switch action {
	case "import":
		if hasHelpFlag(actionArgs) {
			fmt.Println("Usage: hackscore data import <fixtures.yaml> [--config PATH]")
			fmt.Println("Load hackathons, file formats, organizer files and submissions into the database.")
			return 0
		}
		return runDataImport(actionArgs)
	default:
		fmt.Fprintf(os.Stderr, "Unknown data action: %s\n", action)
		return 1
	}
}

func runConfigNoun(args []string) int {
	if len(args) < 1 {
		printNounHelp(os.Stderr, "config", "check, lock")
		return 1
	}
	if isHelpToken(args[0]) {
		printNounHelp(os.Stdout, "config", "check, lock")
		return 0
	}

	action, actionArgs := args[0], args[1:]
	switch action {
	case "check":
		if hasHelpFlag(actionArgs) {
			fmt.Println("Usage: hackscore config check [--config PATH] [--json]")
			fmt.Println("Validate configuration syntax and integrity, and report the PID lock.")
			return 0
		}
		return runConfigCheck(actionArgs)
	case "lock":
		if hasHelpFlag(actionArgs) {
			fmt.Println("Usage: hackscore config lock [--config PATH]")
			fmt.Println("Authorize the current config by writing its integrity checksum.")
			return 0
		}
		return runConfigLock(actionArgs)
	default:
		fmt.Fprintf(os.Stderr, "Unknown config action: %s\n", action)
		return 1
	}
}

func isHelpToken(token string) bool {
	return token == "help" || token == "--help" || token == "-h"
}

func hasHelpFlag(args []string) bool {
	for _, arg := range args {
		if arg == "--help" || arg == "-h" {
			return true
		}
	}
	return false
}

func printNounHelp(w *os.File, noun, actions string) {
	fmt.Fprintf(w, "Usage: hackscore %s <action>\n", noun)
	fmt.Fprintf(w, "Actions: %s\n", actions)
}
