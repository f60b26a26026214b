// Command extract runs a batch of local files through the provider and the
// template engine, then writes the results as CSV or XLSX. Provider and poll
// settings come from the environment, same as the server.
// Usage: go run ./cmd/extract -out results.csv invoice1.pdf invoice2.jpg
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"mime"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"piaoju/internal/batch"
	"piaoju/internal/config"
	"piaoju/internal/domain"
	"piaoju/internal/export"
	"piaoju/internal/provider"
	"piaoju/internal/service"
	"piaoju/internal/template"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	templatesDir := flag.String("templates", "templates", "directory holding template definitions")
	out := flag.String("out", "results.csv", "output file (.csv or .xlsx)")
	flag.Parse()

	files := flag.Args()
	if len(files) == 0 {
		return fmt.Errorf("no input files; usage: extract [-templates dir] [-out file] <files...>")
	}

	format := strings.TrimPrefix(filepath.Ext(*out), ".")
	if format != "csv" && format != "xlsx" {
		return fmt.Errorf("unsupported output extension %q (want .csv or .xlsx)", *out)
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if err := config.InitLogger(cfg.Log); err != nil {
		return fmt.Errorf("failed to init logger: %w", err)
	}
	defer zap.L().Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	repo, err := template.Load(ctx, template.NewFileSource(*templatesDir))
	if err != nil {
		return fmt.Errorf("failed to load templates: %w", err)
	}

	maxSize := cfg.Extract.MaxFileSizeMB * 1024 * 1024
	docs, err := readDocuments(files, maxSize)
	if err != nil {
		return err
	}

	ocr := provider.NewHTTPClient(provider.HTTPOptions{
		BaseURL:    cfg.Provider.BaseURL,
		APIKey:     cfg.Provider.APIKey,
		Timeout:    time.Duration(cfg.Provider.TimeoutSecs) * time.Second,
		MaxRetries: cfg.Provider.MaxRetries,
		RateLimit:  rate.Limit(cfg.Provider.RateLimit),
		RateBurst:  cfg.Provider.RateBurst,
	})

	pollCfg := batch.PollConfig{
		InitialInterval: time.Duration(cfg.Poll.InitialIntervalSecs) * time.Second,
		BackoffFactor:   cfg.Poll.BackoffFactor,
		MaxInterval:     time.Duration(cfg.Poll.MaxIntervalSecs) * time.Second,
		Timeout:         time.Duration(cfg.Poll.TimeoutSecs) * time.Second,
	}

	orch := service.NewOrchestrator(repo, ocr, pollCfg, cfg.Extract.UploadFan, cfg.Extract.ExtractFan)

	results, job, err := orch.ExtractBatch(ctx, docs)
	if err != nil {
		zap.L().Warn("batch finished with error", zap.Error(err), zap.String("state", string(job.State)))
	}

	if err := writeResults(*out, format, results); err != nil {
		return err
	}

	ok, partial, failed := tally(results)
	log.Printf("%d documents: %d completed, %d partial, %d failed → %s", len(results), ok, partial, failed, *out)
	return nil
}

func readDocuments(files []string, maxSize int64) ([]*domain.RawDocument, error) {
	docs := make([]*domain.RawDocument, 0, len(files))
	for _, path := range files {
		payload, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", path, err)
		}

		contentType := mime.TypeByExtension(filepath.Ext(path))
		if contentType == "" {
			contentType = http.DetectContentType(payload)
		}

		doc := domain.NewRawDocument(filepath.Base(path), contentType, payload)
		if err := service.ValidateDocument(doc, maxSize); err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		docs = append(docs, doc)
	}
	return docs, nil
}

func writeResults(path, format string, results []*domain.ExtractionResult) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create output file: %w", err)
	}
	defer func() { _ = f.Close() }()

	if format == "xlsx" {
		data, err := export.ResultsXLSX(results)
		if err != nil {
			return fmt.Errorf("build xlsx: %w", err)
		}
		if _, err := f.Write(data); err != nil {
			return fmt.Errorf("write xlsx: %w", err)
		}
		return nil
	}

	if _, err := f.Write(export.BOM); err != nil {
		return fmt.Errorf("write BOM: %w", err)
	}
	w := export.NewWriter(f)
	if err := w.WriteHeader(); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	if err := w.WriteResults(results); err != nil {
		return fmt.Errorf("write results: %w", err)
	}
	w.Flush()
	return w.Error()
}

func tally(results []*domain.ExtractionResult) (ok, partial, failed int) {
	for _, r := range results {
		switch r.Status {
		case domain.ResultStatusSuccess:
			ok++
		case domain.ResultStatusPartial:
			partial++
		default:
			failed++
		}
	}
	return ok, partial, failed
}
