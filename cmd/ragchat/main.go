package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	chatopenai "ragchat/internal/chat/openai"
	"ragchat/internal/config"
	"ragchat/internal/domain"
	"ragchat/internal/embedding/openai"
	"ragchat/internal/embedding/tfidf"
	"ragchat/internal/loader"
	"ragchat/internal/logger"
	"ragchat/internal/metrics"
	"ragchat/internal/service"
	"ragchat/internal/summarizer"
	"ragchat/internal/tokenizer"
	"ragchat/internal/tui"
	"ragchat/internal/vectorstore/memory"
	"ragchat/internal/vectorstore/qdrant"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

// run returns the process exit code so deferred cleanup runs before exit.
func run(args []string) int {
	_ = godotenv.Load()

	fs := flag.NewFlagSet("ragchat", flag.ContinueOnError)
	var cfgPath, question, metricsAddr string
	fs.StringVar(&cfgPath, "config", "", "Path to YAML config file (optional; uses ~/.config/ragchat/config.yaml if not provided)")
	fs.StringVar(&question, "ask", "", "Answer a single question and exit instead of starting the chat UI")
	fs.StringVar(&metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address (overrides metrics.addr)")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	var cfg *config.AppConfig
	var err error
	if cfgPath == "" {
		cfg, _, err = config.LoadDefault()
	} else {
		cfg, err = config.Load(cfgPath)
	}
	if err != nil {
		return fail("failed to load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		return fail("%v", err)
	}
	if metricsAddr != "" {
		cfg.Metrics.Addr = metricsAddr
	}

	sources := fs.Args()
	if len(sources) == 0 {
		sources = cfg.Ingest.Sources
	}
	sources = loader.Expand(sources)
	if len(sources) == 0 {
		fmt.Fprintln(os.Stderr, "Usage: ragchat [--config=config.yaml] [--ask=question] source [source ...]")
		fmt.Fprintln(os.Stderr, "Sources are files, glob patterns or http(s) URLs.")
		return 2
	}

	interactive := question == ""
	if interactive && cfg.Log.File == "" {
		// the chat UI owns the terminal
		cfg.Log.File = filepath.Join(os.TempDir(), "ragchat.log")
	}
	log, err := logger.New(cfg.Log.Mode, cfg.Log.Level, cfg.Log.File)
	if err != nil {
		return fail("failed to init logger: %v", err)
	}
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	collector := metrics.New("ragchat", reg)
	if cfg.Metrics.Addr != "" {
		srv := serveMetrics(cfg.Metrics.Addr, reg, log)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	pipeline, err := buildPipeline(cfg, collector, log)
	if err != nil {
		log.Error("failed to assemble pipeline", zap.Error(err))
		fmt.Fprintf(os.Stderr, "failed to assemble pipeline: %v\n", err)
		return 1
	}
	defer func() { _ = pipeline.Close() }()

	report, err := pipeline.Ingest(ctx, sources)
	for _, f := range report.Failed {
		fmt.Fprintf(os.Stderr, "skipped %s: %v\n", f.Source, f.Err)
	}
	if err != nil {
		log.Error("ingest failed", zap.Error(err))
		fmt.Fprintf(os.Stderr, "ingest failed: %v\n", err)
		return 1
	}

	if !interactive {
		if err := askOnce(ctx, pipeline, question); err != nil {
			log.Error("question failed", zap.Error(err))
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			return 1
		}
		return 0
	}

	header := fmt.Sprintf("%d document(s), %d chunk(s). %s", report.Documents, report.Chunks, report.Overview)
	m, err := tui.New(pipeline, header)
	if err != nil {
		log.Error("failed to start chat", zap.Error(err))
		return 1
	}
	if _, err := tea.NewProgram(m, tea.WithAltScreen(), tea.WithContext(ctx)).Run(); err != nil && !errors.Is(err, tea.ErrProgramKilled) {
		log.Error("chat UI exited", zap.Error(err))
		return 1
	}
	return 0
}

func buildPipeline(cfg *config.AppConfig, collector *metrics.Collector, log *zap.Logger) (*service.Pipeline, error) {
	var emb domain.Embedder
	batchSize := 0
	switch cfg.Embedder.Type {
	case "tfidf":
		emb = tfidf.NewEmbedder()
	case "openai":
		o := cfg.Embedder.OpenAI
		client, err := openai.NewClient(openai.Config{
			BaseURL:           o.BaseURL,
			APIKeyEnv:         o.APIKeyEnv,
			Model:             o.Model,
			Timeout:           time.Duration(o.TimeoutSecs) * time.Second,
			RequestsPerMinute: o.RequestsPerMinute,
		}, log)
		if err != nil {
			return nil, fmt.Errorf("openai embedder: %w", err)
		}
		emb = client
		batchSize = o.BatchSize
	default:
		return nil, fmt.Errorf("unknown embedder: %s", cfg.Embedder.Type)
	}

	var index domain.VectorIndex
	switch cfg.VectorStore.Type {
	case "memory":
		index = memory.NewStorage()
	case "qdrant":
		q := cfg.VectorStore.Qdrant
		var apiKey string
		if q.APIKeyEnv != "" {
			apiKey = os.Getenv(q.APIKeyEnv)
		}
		index = qdrant.NewStorage(qdrant.Config{
			URL:        q.URL,
			APIKey:     apiKey,
			Collection: q.Collection,
			Timeout:    time.Duration(q.TimeoutSecs) * time.Second,
		})
	default:
		return nil, fmt.Errorf("unknown vector store: %s", cfg.VectorStore.Type)
	}

	chat, err := chatopenai.NewClient(chatopenai.Config{
		BaseURL:           cfg.Chat.BaseURL,
		APIKeyEnv:         cfg.Chat.APIKeyEnv,
		Model:             cfg.Chat.Model,
		Temperature:       cfg.Chat.Temperature,
		MaxTokens:         cfg.Chat.MaxTokens,
		SystemPrompt:      cfg.Chat.SystemPrompt,
		Timeout:           time.Duration(cfg.Chat.TimeoutSecs) * time.Second,
		RequestsPerMinute: cfg.Chat.RequestsPerMinute,
	}, log)
	if err != nil {
		return nil, fmt.Errorf("chat client: %w", err)
	}

	opts := service.DefaultOptions()
	opts.ChunkSize = cfg.Chunker.ChunkSize
	opts.ChunkOverlap = cfg.Chunker.ChunkOverlap
	opts.TopK = cfg.Retrieval.TopK
	opts.ScoreThreshold = cfg.Retrieval.ScoreThreshold
	opts.MaxHistoryTurns = cfg.Memory.MaxHistoryTurns
	opts.MaxHistoryTokens = cfg.Memory.MaxHistoryTokens
	opts.HistoryTokenBudget = cfg.Memory.HistoryTokenBudget
	opts.Concurrency = cfg.Ingest.Concurrency
	opts.SummaryMaxSentences = cfg.Summarizer.MaxSentences
	opts.Instructions = cfg.Chat.Instructions
	if batchSize > 0 {
		opts.EmbedBatchSize = batchSize
	}

	return service.New(service.Dependencies{
		Loader:     loader.New(time.Duration(cfg.Ingest.FetchTimeoutSecs)*time.Second, log),
		Embedder:   emb,
		Index:      index,
		Chat:       chat,
		Summarizer: summarizer.NewFrequencySummarizer(),
		Counter:    tokenizer.New(cfg.Tokenizer.Model, log),
		Metrics:    collector,
		Logger:     log,
	}, opts)
}

func askOnce(ctx context.Context, pipeline *service.Pipeline, question string) error {
	session, err := pipeline.NewSession()
	if err != nil {
		return err
	}
	answer, err := pipeline.Query(ctx, session, question)
	if err != nil {
		return err
	}
	fmt.Println(answer.Text)
	if !answer.Grounded {
		fmt.Println("\n(no matching passages; answer is not grounded in the documents)")
		return nil
	}
	fmt.Println("\nSources:")
	for i, s := range answer.Sources {
		fmt.Printf("  [%d] %s (score %.3f)\n", i+1, s.Source, s.Score)
	}
	return nil
}

func serveMetrics(addr string, reg *prometheus.Registry, log *zap.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("metrics server stopped", zap.Error(err))
		}
	}()
	log.Info("serving metrics", zap.String("addr", addr))
	return srv
}

func fail(format string, args ...any) int {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	return 1
}
