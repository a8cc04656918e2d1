// researchd orchestrates deep-research jobs: a thin HTTP submission/status
// surface, a durable Postgres job queue, and the resumable research
// pipeline and PDF background worker that drain it.
package main

import (
	"context"
	"flag"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"

	"github.com/deepresearch/researchd/pkg/agent"
	"github.com/deepresearch/researchd/pkg/api"
	"github.com/deepresearch/researchd/pkg/browser"
	"github.com/deepresearch/researchd/pkg/config"
	"github.com/deepresearch/researchd/pkg/database"
	"github.com/deepresearch/researchd/pkg/pdf"
	"github.com/deepresearch/researchd/pkg/queue"
	"github.com/deepresearch/researchd/pkg/scrape"
	"github.com/deepresearch/researchd/pkg/session"
	"github.com/deepresearch/researchd/pkg/tools"
	"github.com/deepresearch/researchd/pkg/version"
)

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// slogTranscriptWriter is the seam's default concrete implementation: it
// logs every completed job's result at info level rather than persisting
// to an external chat/message store, since that store lives outside this
// service (see queue.TranscriptWriter's doc comment). A deployment that
// needs the result delivered elsewhere wires its own TranscriptWriter here.
type slogTranscriptWriter struct{}

func (slogTranscriptWriter) AppendAssistantMessage(_ context.Context, sessionID, text string) error {
	slog.Info("research job completed", "session_id", sessionID, "result_chars", len(text))
	return nil
}

func main() {
	configDir := flag.String("config-dir",
		getEnv("CONFIG_DIR", "./deploy/config"),
		"Path to configuration directory")
	flag.Parse()

	envPath := filepath.Join(*configDir, ".env")
	if err := godotenv.Load(envPath); err != nil {
		log.Printf("Warning: Could not load %s file: %v", envPath, err)
		log.Printf("Continuing with existing environment variables...")
	} else {
		log.Printf("Loaded environment from %s", envPath)
	}

	httpPort := getEnv("HTTP_PORT", "8080")
	ginMode := getEnv("GIN_MODE", "release")
	gin.SetMode(ginMode)

	log.Printf("Starting %s", version.Full())
	log.Printf("HTTP Port: %s", httpPort)
	log.Printf("Config Directory: %s", *configDir)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Initialize(ctx, *configDir)
	if err != nil {
		log.Fatalf("Failed to initialize configuration: %v", err)
	}
	if os.Getenv("HTTP_PORT") != "" {
		cfg.Server.Addr = ":" + httpPort
	}

	dbConfig, err := database.LoadConfigFromEnv()
	if err != nil {
		log.Fatalf("Failed to load database config: %v", err)
	}
	dbClient, err := database.NewClient(ctx, dbConfig)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer dbClient.Close()
	log.Println("Connected to PostgreSQL, schema up to date")

	browserMgr := browser.NewManager(cfg.Browser)
	if err := browserMgr.Start(ctx); err != nil {
		log.Fatalf("Failed to launch shared browser: %v", err)
	}
	defer func() {
		if err := browserMgr.Stop(context.Background()); err != nil {
			log.Printf("Error stopping shared browser: %v", err)
		}
	}()

	pdfService := pdf.NewService(cfg.Pdf, nil) // no streaming primary: see DESIGN.md
	scrapePool := scrape.NewPool(browserMgr, pdfService, cfg.Scrape)

	llmClient := agent.NewGenAIClient()
	defer llmClient.Close()

	searchClient := tools.NewCustomSearchClient(cfg.Tools.SearchAPIKeyEnv, cfg.Tools.SearchEngineIDEnv)
	vectorStore := tools.NewPostgresVectorStore(dbClient.Pool)
	pdfJobEnqueuer := tools.NewPostgresPdfJobEnqueuer(dbClient.Pool)

	activeTasks := session.NewActiveTaskTracker(dbClient.Pool)

	researchExecutor := queue.NewResearchJobExecutor(
		dbClient.Pool, cfg, activeTasks, slogTranscriptWriter{},
		llmClient, searchClient, scrapePool, pdfService, vectorStore, pdfJobEnqueuer,
	)
	pdfExecutor := queue.NewPdfJobExecutor(dbClient.Pool, cfg.PdfQueue, pdfService, vectorStore)

	researchPool := queue.NewWorkerPool("researchd", researchExecutor, cfg.ResearchQueue)
	pdfPool := queue.NewWorkerPool("researchd-pdf", pdfExecutor, cfg.PdfQueue)
	researchPool.Start(ctx)
	pdfPool.Start(ctx)
	defer researchPool.Stop()
	defer pdfPool.Stop()

	leaseStopCh := make(chan struct{})
	defer close(leaseStopCh)
	go queue.RunLeaseReclaim(ctx, leaseStopCh, researchExecutor, cfg.ResearchQueue.PollInterval*10)
	go queue.RunLeaseReclaim(ctx, leaseStopCh, pdfExecutor, cfg.PdfQueue.PollInterval*10)

	server := api.NewServer(researchExecutor, activeTasks)

	log.Printf("HTTP server listening on %s", cfg.Server.Addr)
	if err := api.Run(ctx, cfg.Server, server); err != nil && err != http.ErrServerClosed {
		log.Fatalf("HTTP server error: %v", err)
	}

	log.Println("Shutting down")
}
