package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/dvloznov/expense-tracker/internal/api/handlers"
	"github.com/dvloznov/expense-tracker/internal/api/middleware"
	"github.com/dvloznov/expense-tracker/internal/expense"
	"github.com/dvloznov/expense-tracker/internal/extract"
	infraBQ "github.com/dvloznov/expense-tracker/internal/infra/bigquery"
	"github.com/dvloznov/expense-tracker/internal/jobs"
	"github.com/dvloznov/expense-tracker/internal/jobs/inmemory"
	"github.com/dvloznov/expense-tracker/internal/logger"
	"github.com/dvloznov/expense-tracker/internal/ocr"
	"github.com/dvloznov/expense-tracker/internal/pipeline"
	"github.com/dvloznov/expense-tracker/internal/storage"
)

func main() {
	var (
		port          = flag.String("port", "8080", "HTTP server port")
		bucket        = flag.String("bucket", os.Getenv("GCS_BUCKET"), "GCS bucket for receipt images (or set GCS_BUCKET env)")
		project       = flag.String("project", os.Getenv("GCP_PROJECT"), "GCP project ID (or set GCP_PROJECT env)")
		dataset       = flag.String("dataset", "expenses", "BigQuery dataset ID")
		model         = flag.String("model", extract.DefaultModelName, "Gemini model for receipt extraction")
		noModel       = flag.Bool("no-model", false, "Skip the Gemini extractor and use only heuristic extraction")
		sweepInterval = flag.Duration("sweep-interval", time.Hour, "Interval between orphaned artifact sweeps")
		sweepGrace    = flag.Duration("sweep-grace", jobs.DefaultGracePeriod, "Minimum artifact age before the sweep may reclaim it")
	)
	flag.Parse()

	log := logger.New()

	if *bucket == "" {
		log.Fatal().Msg("No GCS bucket configured, set -bucket or GCS_BUCKET")
	}
	if *project == "" {
		log.Fatal().Msg("No GCP project configured, set -project or GCP_PROJECT")
	}

	verifier, err := middleware.NewStaticVerifier(os.Getenv("API_TOKENS"))
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load API tokens, set API_TOKENS as token:owner[,token:owner]")
	}

	ctx := context.Background()

	store, err := storage.NewGCSStore(ctx, *bucket)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create object store")
	}
	defer store.Close()

	detector, err := ocr.NewVisionDetector(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create text detector")
	}

	var extractor extract.Extractor
	if *noModel {
		log.Warn().Msg("Model extraction disabled, running heuristic only")
		extractor = extract.HeuristicExtractor{}
	} else {
		gemini, err := extract.NewGeminiClient(ctx, *model)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to create Gemini client")
		}
		extractor = extract.NewStructuredExtractor(gemini, log)
	}

	repo, err := infraBQ.NewExpenseRepository(ctx, *project, *dataset)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create expense repository")
	}
	defer repo.Close()

	svc := expense.NewService(repo, store, log)
	ingestPipeline := pipeline.New(store, detector, extractor, svc, log)

	// Job infrastructure for the periodic orphan sweep.
	jobStore := inmemory.NewStore()
	jobQueue := inmemory.NewQueue(10, 1, jobStore)
	sweeper := jobs.NewSweeper(store, repo, *sweepGrace, log)

	workerCtx, cancelWorker := context.WithCancel(ctx)
	defer cancelWorker()

	go func() {
		log.Info().Msg("Starting sweep worker")
		if err := jobQueue.Start(workerCtx, sweeper.Handle); err != nil {
			log.Error().Err(err).Msg("Sweep worker stopped with error")
		}
	}()

	go func() {
		ticker := time.NewTicker(*sweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-workerCtx.Done():
				return
			case <-ticker.C:
				job := &jobs.SweepJob{Prefix: storage.KeyPrefix}
				if err := jobQueue.PublishSweep(workerCtx, job); err != nil {
					log.Error().Err(err).Msg("Failed to enqueue sweep job")
				}
			}
		}
	}()

	receiptsHandler := handlers.NewReceiptsHandler(ingestPipeline, svc, store, log)
	expensesHandler := handlers.NewExpensesHandler(svc, store, log)

	mux := http.NewServeMux()

	mux.HandleFunc("/api/receipts/process", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			receiptsHandler.ProcessReceipt(w, r)
		} else {
			middleware.WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
		}
	})

	mux.HandleFunc("/api/receipts/", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			rest := strings.TrimPrefix(r.URL.Path, "/api/receipts/")
			expenseID, ok := strings.CutSuffix(rest, "/url")
			if !ok || expenseID == "" {
				middleware.WriteError(w, http.StatusNotFound, "Not found")
				return
			}
			receiptsHandler.ReceiptURL(w, r, expenseID)
		} else {
			middleware.WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
		}
	})

	mux.HandleFunc("/api/expenses", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			expensesHandler.List(w, r)
		case http.MethodPost:
			expensesHandler.Add(w, r)
		default:
			middleware.WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
		}
	})

	mux.HandleFunc("/api/expenses/", func(w http.ResponseWriter, r *http.Request) {
		expenseID := strings.TrimPrefix(r.URL.Path, "/api/expenses/")
		if expenseID == "" {
			middleware.WriteError(w, http.StatusBadRequest, "Expense ID is required")
			return
		}
		switch r.Method {
		case http.MethodPut:
			expensesHandler.Update(w, r, expenseID)
		case http.MethodDelete:
			expensesHandler.Delete(w, r, expenseID)
		default:
			middleware.WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
		}
	})

	// Health check stays outside auth.
	root := http.NewServeMux()
	root.Handle("/api/", middleware.Auth(verifier)(mux))
	root.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		middleware.WriteJSON(w, http.StatusOK, map[string]string{
			"status": "healthy",
			"time":   time.Now().Format(time.RFC3339),
		})
	})

	handler := middleware.Recovery(log)(
		middleware.Logger(log)(
			middleware.RequestID(
				middleware.CORS(root),
			),
		),
	)

	server := &http.Server{
		Addr:         ":" + *port,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info().Str("port", *port).Msg("Starting API server")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	cancelWorker()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Fatal().Err(err).Msg("Server forced to shutdown")
	}

	if err := jobQueue.Stop(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Error stopping job queue")
	}

	log.Info().Msg("Server exited")
}
