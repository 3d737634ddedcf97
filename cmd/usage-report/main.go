package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/raine/microstock-tagger/config"
	"github.com/raine/microstock-tagger/internal/storage"
)

var (
	headingStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	failureStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
)

func main() {
	var dbPath string
	var since time.Duration
	var limit int

	flag.StringVar(&dbPath, "db", "", "Usage ledger path (defaults to USAGE_DB_PATH or usage.db)")
	flag.DurationVar(&since, "since", 24*time.Hour, "Summary window")
	flag.IntVar(&limit, "limit", 20, "Number of recent calls to list")
	flag.Parse()

	// Load env file from user config directory (same as the server)
	config.LoadEnvFile()

	if dbPath == "" {
		dbPath = os.Getenv("USAGE_DB_PATH")
	}
	if dbPath == "" {
		dbPath = "usage.db"
	}
	if _, err := os.Stat(dbPath); err != nil {
		fmt.Fprintf(os.Stderr, "Usage ledger not found: %v\n", err)
		os.Exit(1)
	}

	store, err := storage.NewSQLiteStore(dbPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening usage ledger: %v\n", err)
		os.Exit(1)
	}
	defer store.Close()

	ctx := context.Background()

	summary, err := store.Summary(ctx, time.Now().Add(-since))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	printSummary(summary, since)

	if limit <= 0 {
		return
	}
	records, err := store.Recent(ctx, limit)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	fmt.Println()
	printRecent(records)
}

func printSummary(s *storage.UsageSummary, window time.Duration) {
	fmt.Println(headingStyle.Render(fmt.Sprintf("Last %s", window)))
	fmt.Printf("Calls:     %d (%d ok, %d failed)\n", s.Calls, s.Successes, s.Failures)
	fmt.Printf("Tokens:    %d in / %d out\n", s.InputTokens, s.OutputTokens)
	fmt.Printf("Cost:      $%.6f\n", s.CostUSD)

	for _, m := range s.ByModel {
		fmt.Printf("  %-28s %6d calls  $%.6f\n", m.Model, m.Calls, m.CostUSD)
	}
}

func printRecent(records []storage.UsageRecord) {
	fmt.Println(headingStyle.Render("Recent calls"))
	if len(records) == 0 {
		fmt.Println("No calls recorded")
		return
	}

	fmt.Printf("%-19s  %-9s  %-24s  %-14s  %8s  %10s\n", "TIME", "CALLER", "MODEL", "OUTCOME", "MS", "COST")
	for _, r := range records {
		outcome := fmt.Sprintf("%-14s", r.Outcome)
		if r.Outcome != storage.OutcomeSuccess {
			outcome = failureStyle.Render(outcome)
		}
		fmt.Printf("%-19s  %-9s  %-24s  %s  %8d  $%.6f\n",
			r.CreatedAt.Local().Format("2006-01-02 15:04:05"),
			r.Caller,
			r.Model,
			outcome,
			r.Duration.Milliseconds(),
			r.CostUSD,
		)
	}
}
