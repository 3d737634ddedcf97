package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/raine/microstock-tagger/config"
	"github.com/raine/microstock-tagger/internal/llm"
	"github.com/raine/microstock-tagger/internal/storage"
)

const caller = "cli"

func main() {
	var provider string
	var asJSON, record bool

	flag.StringVar(&provider, "provider", "", "Override AI_PROVIDER: gemini or openai")
	flag.BoolVar(&asJSON, "json", false, "Print one JSON object per image")
	flag.BoolVar(&record, "record", true, "Write calls to the usage ledger at USAGE_DB_PATH")
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [flags] <image-path>...\n\n", filepath.Base(os.Args[0]))
		flag.PrintDefaults()
	}
	flag.Parse()

	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}

	// Load env file from user config directory (same as the server)
	config.LoadEnvFile()
	if provider != "" {
		os.Setenv("AI_PROVIDER", provider)
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	ctx := llm.WithCaller(context.Background(), caller)

	generator, err := llm.NewGenerator(ctx, cfg.AI, nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error creating %s generator: %v\n", cfg.AI.Provider, err)
		os.Exit(1)
	}

	if record && cfg.UsageDBPath != "" {
		store, err := storage.NewSQLiteStore(cfg.UsageDBPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error opening usage ledger: %v\n", err)
			os.Exit(1)
		}
		defer store.Close()
		generator = llm.NewRecordingGenerator(generator, store, cfg.AI.Model())
	}

	failed := 0
	for i, path := range flag.Args() {
		if i > 0 && !asJSON {
			fmt.Println("\n" + strings.Repeat("-", 50) + "\n")
		}
		if err := tagImage(ctx, generator, cfg, path, asJSON); err != nil {
			fmt.Fprintf(os.Stderr, "%s: %v\n", path, err)
			failed++
		}
	}
	if failed > 0 {
		os.Exit(1)
	}
}

func tagImage(ctx context.Context, generator llm.Generator, cfg config.Config, path string, asJSON bool) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open image: %w", err)
	}
	defer f.Close()

	if info, err := f.Stat(); err == nil && info.Size() > cfg.MaxUploadBytes {
		return fmt.Errorf("image is %d bytes, the limit is %d", info.Size(), cfg.MaxUploadBytes)
	}

	image, err := llm.ReadImage(f, "")
	if err != nil {
		return err
	}
	if !llm.IsImageMIME(image.MIMEType) {
		return fmt.Errorf("not an image (%s)", image.MIMEType)
	}

	ctx, cancel := context.WithTimeout(ctx, cfg.GenerationTimeout)
	defer cancel()

	result, err := generator.GenerateMetadata(ctx, image)
	if err != nil {
		return fmt.Errorf("generation failed (%s): %w", llm.KindOf(err), err)
	}

	if asJSON {
		return json.NewEncoder(os.Stdout).Encode(struct {
			File string `json:"file"`
			*llm.StockMetadata
		}{filepath.Base(path), result.Metadata})
	}

	printResult(path, result)
	return nil
}

func printResult(path string, result *llm.GenerationResult) {
	meta := result.Metadata
	fmt.Printf("File:        %s\n", filepath.Base(path))
	fmt.Printf("Title:       %s\n", meta.Title)
	fmt.Printf("Description: %s\n", meta.Description)
	fmt.Printf("Category:    %s\n", meta.Category)
	fmt.Printf("Keywords:    (%d) %s\n", len(meta.Keywords), meta.JoinedKeywords())
	fmt.Println()
	fmt.Printf("Model:       %s\n", result.Model)
	fmt.Printf("Tokens:      %d in / %d out / %d total\n",
		result.Usage.InputTokens, result.Usage.OutputTokens, result.Usage.TotalTokens)
	fmt.Printf("Cost:        $%.6f\n", result.Usage.CostUSD)
}
