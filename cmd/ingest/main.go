package main

import (
	"context"
	"flag"
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dvloznov/expense-tracker/internal/expense"
	"github.com/dvloznov/expense-tracker/internal/extract"
	infraBQ "github.com/dvloznov/expense-tracker/internal/infra/bigquery"
	"github.com/dvloznov/expense-tracker/internal/logger"
	"github.com/dvloznov/expense-tracker/internal/ocr"
	"github.com/dvloznov/expense-tracker/internal/pipeline"
	"github.com/dvloznov/expense-tracker/internal/storage"
)

func main() {
	log := logger.New()

	var (
		filePath = flag.String("file", "", "Path to a local receipt image (required)")
		owner    = flag.String("owner", "", "Owner ID to record the expense under (required)")
		bucket   = flag.String("bucket", os.Getenv("GCS_BUCKET"), "GCS bucket for receipt images (or set GCS_BUCKET env)")
		project  = flag.String("project", os.Getenv("GCP_PROJECT"), "GCP project ID (or set GCP_PROJECT env)")
		dataset  = flag.String("dataset", "expenses", "BigQuery dataset ID")
		model    = flag.String("model", extract.DefaultModelName, "Gemini model for receipt extraction")
	)
	flag.Parse()

	if *filePath == "" || *owner == "" {
		log.Fatal().Msg("Usage: ingest -file /path/to/receipt.jpg -owner OWNER_ID [-bucket BUCKET] [-project PROJECT]")
	}
	if *bucket == "" || *project == "" {
		log.Fatal().Msg("A GCS bucket and GCP project are required")
	}

	data, err := os.ReadFile(*filePath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to read receipt file")
	}

	contentType := mime.TypeByExtension(strings.ToLower(filepath.Ext(*filePath)))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()
	ctx = logger.WithContext(ctx, log)

	store, err := storage.NewGCSStore(ctx, *bucket)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create object store")
	}
	defer store.Close()

	detector, err := ocr.NewVisionDetector(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create text detector")
	}

	gemini, err := extract.NewGeminiClient(ctx, *model)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create Gemini client")
	}
	extractor := extract.NewStructuredExtractor(gemini, log)

	repo, err := infraBQ.NewExpenseRepository(ctx, *project, *dataset)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create expense repository")
	}
	defer repo.Close()

	svc := expense.NewService(repo, store, log)
	p := pipeline.New(store, detector, extractor, svc, log)

	log.Info().Str("file", *filePath).Str("owner", *owner).Msg("Starting ingestion")

	e, err := p.Ingest(ctx, pipeline.Input{
		OwnerID:     *owner,
		Filename:    filepath.Base(*filePath),
		ContentType: contentType,
		Data:        data,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Ingestion failed")
	}

	fmt.Printf("Committed expense %s: %s %.2f on %s (%s)\n", e.ID, e.Vendor, e.Amount, e.Date, e.Category)
}
