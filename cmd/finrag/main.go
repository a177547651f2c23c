// Package main is the finrag CLI entry point.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/meridian/finrag/internal/agent"
	"github.com/meridian/finrag/internal/config"
	"github.com/meridian/finrag/internal/embedding"
	"github.com/meridian/finrag/internal/normalize"
	"github.com/meridian/finrag/internal/pipeline"
	"github.com/meridian/finrag/internal/search"
	"github.com/meridian/finrag/internal/server"
	"github.com/meridian/finrag/internal/source"
	"github.com/meridian/finrag/internal/storage"
	"github.com/meridian/finrag/internal/vector"
	"github.com/meridian/finrag/pkg/utils"
)

var version = "dev"

const defaultConfigPath = "/usr/local/etc/finrag/config.yaml"

// loadConfig loads config from path. When path is the default, it first looks
// for config.yaml in the current directory (for development); if that exists
// it is used instead.
func loadConfig(path string) (*config.Config, string, error) {
	if path == defaultConfigPath {
		if cwd, cwdErr := os.Getwd(); cwdErr == nil {
			fallback := filepath.Join(cwd, "config.yaml")
			if _, statErr := os.Stat(fallback); statErr == nil {
				cfg, loadErr := config.Load(fallback)
				if loadErr != nil {
					return nil, "", loadErr
				}
				return cfg, fallback, nil
			}
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, "", err
	}
	return cfg, path, nil
}

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}
	command := os.Args[1]
	switch command {
	case "serve":
		runServe()
	case "ask":
		runAsk()
	case "analyze":
		runAnalyze()
	case "status":
		runStatus()
	case "version", "--version", "-v":
		fmt.Printf("finrag version %s\n", version)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Printf("Unknown command: %s\n", command)
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Print(`finrag - real-time retrieval-augmented financial decision support

Usage:
  finrag serve   [-config path] [-debug]     run the ingest pipeline and API server
  finrag ask     [-server url] <question>    ask the copilot a question
  finrag analyze [-server url] [-file path]  analyze a portfolio (JSON from file or stdin)
  finrag status  [-server url]               show index size and pipeline counters
  finrag version                             print version
`)
}

func runServe() {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	debug := fs.Bool("debug", false, "enable debug logging")
	_ = fs.Parse(os.Args[2:])

	cfg, resolvedConfigPath, err := loadConfig(*configPath)
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}
	debugMode := cfg.Debug || *debug
	logger, err := utils.NewLogger(debugMode)
	if err != nil {
		fmt.Printf("Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("config loaded",
		zap.String("config_path", resolvedConfigPath),
		zap.Bool("debug", debugMode),
		zap.Int("sources", len(cfg.Sources)),
	)

	embedder, err := buildEmbedder(cfg)
	if err != nil {
		logger.Fatal("Failed to create embedder", zap.Error(err))
	}
	defer embedder.Close()

	metric, err := vector.ParseMetric(cfg.Search.Metric)
	if err != nil {
		logger.Fatal("Invalid similarity metric", zap.Error(err))
	}
	index, err := vector.NewMemoryIndex(embedder.Dimensions(), metric)
	if err != nil {
		logger.Fatal("Failed to create index", zap.Error(err))
	}
	defer index.Close()

	sources, err := buildSources(cfg, logger, debugMode)
	if err != nil {
		logger.Fatal("Failed to create sources", zap.Error(err))
	}

	pipeOpts := []pipeline.Option{
		pipeline.WithLogger(logger),
		pipeline.WithQueueSize(cfg.Pipeline.QueueSize),
		pipeline.WithTombstoneRetention(cfg.Pipeline.TombstoneRetention.Std()),
		pipeline.WithCompactInterval(cfg.Pipeline.CompactInterval.Std()),
	}
	if cfg.Pipeline.Workers > 0 {
		pipeOpts = append(pipeOpts, pipeline.WithWorkers(cfg.Pipeline.Workers))
	}
	if cfg.Storage.DatabasePath != "" {
		store, err := storage.NewSQLiteStore(cfg.Storage.DatabasePath)
		if err != nil {
			logger.Fatal("Failed to open record store", zap.Error(err))
		}
		defer store.Close()
		pipeOpts = append(pipeOpts, pipeline.WithStore(store))
	}

	pipe, err := pipeline.New(normalize.New(), embedder, index, sources, pipeOpts...)
	if err != nil {
		logger.Fatal("Failed to create pipeline", zap.Error(err))
	}
	if err := pipe.Start(context.Background()); err != nil {
		logger.Fatal("Failed to start pipeline", zap.Error(err))
	}

	engine := search.NewEngine(index, embedder, search.Config{
		DefaultTopK: cfg.Search.DefaultTopK,
		MaxTopK:     cfg.Search.MaxTopK,
	}, search.WithLogger(logger))

	generator, err := agent.NewLLMGenerator(agent.LLMConfig{
		BaseURL: cfg.Agent.BaseURL,
		APIKey:  cfg.Agent.APIKey,
		Model:   cfg.Agent.Model,
	})
	if err != nil {
		logger.Fatal("Failed to create generator", zap.Error(err))
	}
	copilot := agent.NewCopilot(engine, generator, agent.NewIndexMarketData(index), agent.WithLogger(logger))

	srv := server.NewServer(copilot, pipe.Metrics(), index, &cfg.Server, logger)
	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Server failed", zap.Error(err))
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info("Shutting down...")
	pipe.Stop()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Stop(ctx)
}

// buildEmbedder creates the configured embedding provider wrapped with the
// cache and retry layers.
func buildEmbedder(cfg *config.Config) (embedding.Embedder, error) {
	var inner embedding.Embedder
	switch cfg.Embedding.Provider {
	case "mock":
		inner = embedding.NewMockEmbedder(cfg.Embedding.Dimensions)
	case "openai":
		e, err := embedding.NewOpenAIEmbedder(embedding.OpenAIConfig{
			BaseURL:    cfg.Embedding.BaseURL,
			Token:      cfg.Embedding.APIKey,
			Model:      cfg.Embedding.Model,
			Dimensions: cfg.Embedding.Dimensions,
		})
		if err != nil {
			return nil, err
		}
		inner = e
	default:
		return nil, fmt.Errorf("unknown embedding provider %q", cfg.Embedding.Provider)
	}
	retrying := embedding.NewRetrying(inner, 3, 500*time.Millisecond)
	return embedding.NewCached(retrying, cfg.Embedding.CacheSize), nil
}

// buildSources creates the enabled sources declared in config.
func buildSources(cfg *config.Config, logger *zap.Logger, debug bool) ([]source.Source, error) {
	var sources []source.Source
	for i := range cfg.Sources {
		sc := &cfg.Sources[i]
		if !sc.EnabledOrDefault() {
			continue
		}
		switch sc.Type {
		case "file":
			var opts []source.FileOption
			if debug {
				opts = append(opts, source.WithFileLogger(logger))
			}
			sources = append(sources, source.NewFileSource(sc.Name, sc.Location, sc.RecursiveOrDefault(), opts...))
		case "poll":
			var opts []source.PollOption
			if debug {
				opts = append(opts, source.WithPollLogger(logger))
			}
			sources = append(sources, source.NewPollSource(sc.Name, sc.Kind, sc.Location, sc.PollInterval.Std(), opts...))
		default:
			return nil, fmt.Errorf("source %q: unknown type %q", sc.Name, sc.Type)
		}
	}
	return sources, nil
}

func runAsk() {
	fs := flag.NewFlagSet("ask", flag.ExitOnError)
	serverURL := fs.String("server", "http://localhost:8090", "server URL")
	_ = fs.Parse(os.Args[2:])

	question := strings.TrimSpace(strings.Join(fs.Args(), " "))
	if question == "" {
		fmt.Println("Usage: finrag ask [-server url] <question>")
		os.Exit(1)
	}
	var res agent.AskResult
	if err := postJSON(*serverURL+"/api/ask", map[string]any{"question": question}, &res); err != nil {
		fmt.Fprintf(os.Stderr, "Ask failed: %v\n", err)
		os.Exit(1)
	}
	if res.Error != "" {
		fmt.Fprintf(os.Stderr, "Error: %s\n", res.Error)
		os.Exit(1)
	}
	fmt.Println(res.Answer)
	if len(res.Sources) > 0 {
		fmt.Println("\nSources:")
		for _, src := range res.Sources {
			fmt.Printf("  %s (%.3f)\n", src.ID, src.Score)
		}
	}
}

func runAnalyze() {
	fs := flag.NewFlagSet("analyze", flag.ExitOnError)
	serverURL := fs.String("server", "http://localhost:8090", "server URL")
	file := fs.String("file", "", "portfolio JSON file (default: stdin)")
	_ = fs.Parse(os.Args[2:])

	var (
		data []byte
		err  error
	)
	if *file != "" {
		data, err = os.ReadFile(*file)
	} else {
		data, err = readAllStdin()
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to read portfolio: %v\n", err)
		os.Exit(1)
	}
	var portfolio agent.Portfolio
	if err := json.Unmarshal(data, &portfolio); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid portfolio JSON: %v\n", err)
		os.Exit(1)
	}
	var rep agent.PortfolioReport
	if err := postJSON(*serverURL+"/api/analyze", map[string]any{"portfolio": portfolio}, &rep); err != nil {
		fmt.Fprintf(os.Stderr, "Analyze failed: %v\n", err)
		os.Exit(1)
	}
	if rep.Error != "" {
		fmt.Fprintf(os.Stderr, "Error: %s\n", rep.Error)
		os.Exit(1)
	}
	fmt.Printf("Portfolio value: %.2f\nDaily change: %+.2f\nRisk score: %.1f/10\n\n%s\n",
		rep.PortfolioValue, rep.DailyChange, rep.RiskScore, rep.Analysis)
}

func runStatus() {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	serverURL := fs.String("server", "http://localhost:8090", "server URL")
	_ = fs.Parse(os.Args[2:])

	resp, err := http.Get(*serverURL + "/api/status")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Status failed: %v\n", err)
		os.Exit(1)
	}
	defer resp.Body.Close()
	var status map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		fmt.Fprintf(os.Stderr, "Status failed: %v\n", err)
		os.Exit(1)
	}
	out, _ := json.MarshalIndent(status, "", "  ")
	fmt.Println(string(out))
}

func postJSON(url string, payload any, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	resp, err := http.Post(url, "application/json", bytes.NewReader(body))
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		var apiErr struct {
			Error string `json:"error"`
		}
		if decodeErr := json.NewDecoder(resp.Body).Decode(&apiErr); decodeErr == nil && apiErr.Error != "" {
			return fmt.Errorf("server returned %s: %s", resp.Status, apiErr.Error)
		}
		return fmt.Errorf("server returned %s", resp.Status)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func readAllStdin() ([]byte, error) {
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(os.Stdin); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
