// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/urfave/cli/v2"

	"github.com/poiesic/lessonrag"
	"github.com/poiesic/lessonrag/config"
	"github.com/poiesic/lessonrag/core"
	"github.com/poiesic/lessonrag/ingestion"
	"github.com/poiesic/lessonrag/reembed"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := newApp().RunContext(ctx, os.Args); err != nil {
		log.Fatal(err)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:  "lessonrag",
		Usage: "Answer questions over textbook content",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "log-level",
				Aliases: []string{"l"},
				Usage:   "Set logging level (debug, info, warn, error); defaults to log_level from the config",
			},
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to YAML config file",
				EnvVars: []string{"LESSONRAG_CONFIG"},
			},
			&cli.StringFlag{
				Name:    "data-dir",
				Aliases: []string{"d"},
				Usage:   "Path to BadgerDB database directory (overrides config)",
			},
		},
		Before: func(c *cli.Context) error {
			// A missing .env file is normal.
			_ = godotenv.Load()
			return setupLogger(c)
		},
		Commands: []*cli.Command{
			{
				Name:      "ingest",
				Usage:     "Chunk, embed and store plain-text documents",
				ArgsUsage: "FILE...",
				Action:    ingestCommand,
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "class",
						Usage:    "Class grade of the documents",
						Required: true,
					},
					&cli.StringFlag{
						Name:     "subject",
						Usage:    "Subject of the documents",
						Required: true,
					},
				},
			},
			{
				Name:      "query",
				Usage:     "Answer a question from the stored content",
				ArgsUsage: "QUESTION",
				Action:    queryCommand,
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "class",
						Usage: "Only use content for this class grade",
					},
					&cli.StringFlag{
						Name:  "subject",
						Usage: "Only use content for this subject",
					},
					&cli.BoolFlag{
						Name:  "json",
						Usage: "Print the full result as JSON",
					},
				},
			},
			{
				Name:   "stats",
				Usage:  "Summarize the stored corpus",
				Action: statsCommand,
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  "json",
						Usage: "Print statistics as JSON",
					},
				},
			},
			{
				Name:   "reembed",
				Usage:  "Reembed stored chunks with the configured embedding model",
				Action: reembedCommand,
				Flags: []cli.Flag{
					&cli.IntFlag{
						Name:  "batch-size",
						Usage: "Number of chunks to process in each batch",
						Value: reembed.DefaultBatchSize,
					},
					&cli.IntFlag{
						Name:  "report-interval",
						Usage: "Report progress every N chunks",
						Value: 100,
					},
					&cli.IntFlag{
						Name:  "max-retries",
						Usage: "Maximum attempts for each embedding call",
						Value: 3,
					},
					&cli.DurationFlag{
						Name:  "retry-delay",
						Usage: "Base delay for exponential backoff",
						Value: 1 * time.Second,
					},
					&cli.BoolFlag{
						Name:  "only-missing",
						Usage: "Only embed chunks that have no embedding",
					},
					&cli.BoolFlag{
						Name:  "resume",
						Usage: "Continue an interrupted run from its checkpoint",
					},
				},
			},
			{
				Name:  "config",
				Usage: "Manage the configuration file",
				Subcommands: []*cli.Command{
					{
						Name:      "init",
						Usage:     "Write the effective configuration to a YAML file",
						ArgsUsage: "[PATH]",
						Action:    configInitCommand,
						Flags: []cli.Flag{
							&cli.BoolFlag{
								Name:  "force",
								Usage: "Overwrite an existing file",
							},
						},
					},
				},
			},
		},
	}
}

func loadConfig(c *cli.Context) (*config.Config, error) {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return nil, err
	}
	if dir := c.String("data-dir"); dir != "" {
		cfg.DataDir = dir
		cfg.InMemory = false
	}
	return cfg, nil
}

func openEngine(c *cli.Context) (*lessonrag.Engine, error) {
	cfg, err := loadConfig(c)
	if err != nil {
		return nil, err
	}
	engine, err := lessonrag.NewEngine(cfg, lessonrag.WithLogger(slog.Default()))
	if err != nil {
		return nil, fmt.Errorf("failed to open engine: %w", err)
	}
	return engine, nil
}

func ingestCommand(c *cli.Context) error {
	if c.NArg() == 0 {
		return fmt.Errorf("at least one file is required")
	}

	reqs := make([]ingestion.Request, 0, c.NArg())
	for _, path := range c.Args().Slice() {
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", path, err)
		}
		reqs = append(reqs, ingestion.Request{
			Text:           string(data),
			ClassGrade:     c.String("class"),
			Subject:        c.String("subject"),
			SourceFilename: filepath.Base(path),
		})
	}

	engine, err := openEngine(c)
	if err != nil {
		return err
	}
	defer engine.Close()

	out := c.App.Writer
	failed := 0
	total := 0
	for _, res := range engine.IngestAll(c.Context, reqs) {
		if res.Err != nil {
			failed++
			fmt.Fprintf(out, "%s: error: %v\n", res.Request.SourceFilename, res.Err)
			continue
		}
		total += res.Chunks
		fmt.Fprintf(out, "%s: %d chunks\n", res.Request.SourceFilename, res.Chunks)
	}
	fmt.Fprintf(out, "Ingested %d chunks from %d of %d files\n", total, len(reqs)-failed, len(reqs))

	if failed > 0 {
		return fmt.Errorf("%d of %d files failed", failed, len(reqs))
	}
	return nil
}

func queryCommand(c *cli.Context) error {
	question := strings.TrimSpace(strings.Join(c.Args().Slice(), " "))
	if question == "" {
		return fmt.Errorf("a question is required")
	}

	engine, err := openEngine(c)
	if err != nil {
		return err
	}
	defer engine.Close()

	result, err := engine.Query(c.Context, question, core.Filters{
		ClassGrade: c.String("class"),
		Subject:    c.String("subject"),
	})
	if err != nil {
		return err
	}

	if c.Bool("json") {
		return writeJSON(c.App.Writer, result)
	}
	printResult(c.App.Writer, result)
	return nil
}

func printResult(w io.Writer, result *core.QueryResult) {
	fmt.Fprintf(w, "%s\n\n", result.Answer)
	fmt.Fprintf(w, "Model: %s  Tier: %s  Confidence: %.0f%%  Time: %s\n",
		result.Metadata.Model, result.Metadata.Tier, result.Confidence*100, result.Timings.Total().Round(time.Millisecond))
	for _, warning := range result.Metadata.Warnings {
		fmt.Fprintf(w, "Warning: %s\n", warning)
	}
	if len(result.Sources) == 0 {
		return
	}
	fmt.Fprintln(w, "\nSources:")
	for i, src := range result.Sources {
		fmt.Fprintf(w, "%d. Class %s, %s, %s [%.3f]\n", i+1,
			src.Chunk.ClassGrade, src.Chunk.Subject, src.Chunk.Chapter, src.Similarity)
	}
}

func statsCommand(c *cli.Context) error {
	engine, err := openEngine(c)
	if err != nil {
		return err
	}
	defer engine.Close()

	stats, err := engine.Stats(c.Context)
	if err != nil {
		return err
	}
	if c.Bool("json") {
		return writeJSON(c.App.Writer, stats)
	}

	w := c.App.Writer
	fmt.Fprintf(w, "Chunks: %d (%d with embeddings)\n", stats.TotalChunks, stats.WithEmbeddings)
	fmt.Fprintf(w, "Classes: %d  Subjects: %d  Chapters: %d\n", stats.Classes, stats.Subjects, stats.Chapters)
	if len(stats.TopChapters) > 0 {
		fmt.Fprintln(w, "\nTop chapters:")
		for _, ch := range stats.TopChapters {
			fmt.Fprintf(w, "  %4d  Class %s, %s, %s\n", ch.Chunks, ch.ClassGrade, ch.Subject, ch.Chapter)
		}
	}
	if len(stats.Recent) > 0 {
		fmt.Fprintln(w, "\nRecently added:")
		for _, chunk := range stats.Recent {
			fmt.Fprintf(w, "  %s  %s\n", chunk.CreatedAt.Format(time.DateTime), core.Preview(chunk.Content, 60))
		}
	}
	return nil
}

func reembedCommand(c *cli.Context) error {
	reembedConfig := &reembed.Config{
		BatchSize:      c.Int("batch-size"),
		ReportInterval: c.Int("report-interval"),
		MaxRetries:     c.Int("max-retries"),
		RetryDelay:     c.Duration("retry-delay"),
		OnlyMissing:    c.Bool("only-missing"),
		Resume:         c.Bool("resume"),
	}

	// Validate config
	if reembedConfig.BatchSize <= 0 {
		return fmt.Errorf("batch-size must be greater than 0")
	}
	if reembedConfig.ReportInterval <= 0 {
		return fmt.Errorf("report-interval must be greater than 0")
	}
	if reembedConfig.MaxRetries <= 0 {
		return fmt.Errorf("max-retries must be greater than 0")
	}

	engine, err := openEngine(c)
	if err != nil {
		return err
	}
	defer engine.Close()

	progress := c.App.ErrWriter
	reembedder, err := engine.NewReembedder(reembedConfig, progress)
	if err != nil {
		return err
	}

	if err := reembedder.Run(c.Context); err != nil {
		return fmt.Errorf("reembedding failed: %w", err)
	}
	return nil
}

func configInitCommand(c *cli.Context) error {
	path := c.Args().First()
	if path == "" {
		path = "lessonrag.yaml"
	}
	if _, err := os.Stat(path); err == nil && !c.Bool("force") {
		return fmt.Errorf("%s already exists (use --force to overwrite)", path)
	}

	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	// Keys stay in the environment.
	cfg.AI.APIKey = ""
	if err := cfg.WriteYAML(path); err != nil {
		return err
	}
	fmt.Fprintf(c.App.Writer, "Wrote configuration to %s\n", path)
	return nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func setupLogger(c *cli.Context) error {
	// The flag wins; otherwise use the config file and LESSONRAG_LOG_LEVEL.
	levelStr := c.String("log-level")
	if levelStr == "" {
		cfg, err := config.Load(c.String("config"))
		if err != nil {
			return err
		}
		levelStr = cfg.LogLevel
	}
	levelStr = strings.ToLower(strings.TrimSpace(levelStr))

	var level slog.Level
	switch levelStr {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		return fmt.Errorf("invalid log level %q: must be one of debug, info, warn, error", levelStr)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	return nil
}
