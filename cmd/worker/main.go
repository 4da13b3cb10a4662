/**
 * OCR Recognition Worker - Main Entry Point
 *
 * Go worker that turns segmented pages into recognized text.
 *
 * Architecture:
 * - Asynq consumer for the Redis-backed job queue
 * - Multi-pass recognition: classify, adapt, pass 2, diacritics,
 *   fuzzy spaces, dictionary and bigram correction, quality rejection
 * - Box-file resegmentation for training data
 * - PostgreSQL persistence for runs and words, Qdrant for training samples
 * - Redis job tracking with live progress events
 */

package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/tesseract-ocr/tesseract-sub021/internal/config"
	"github.com/tesseract-ocr/tesseract-sub021/internal/dictionary"
	"github.com/tesseract-ocr/tesseract-sub021/internal/logging"
	"github.com/tesseract-ocr/tesseract-sub021/internal/processor"
	"github.com/tesseract-ocr/tesseract-sub021/internal/queue"
	"github.com/tesseract-ocr/tesseract-sub021/internal/storage"
)

const statsInterval = time.Minute

func main() {
	if err := godotenv.Load(".env.ocrcore"); err != nil {
		log.Printf("Warning: .env.ocrcore not found, using system environment variables")
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	logging.SetLevel(cfg.LogLevel)

	log.Printf("OCR Worker starting...")
	log.Printf("Configuration loaded: Redis=%s, Qdrant=%s, Languages=%s, Workers=%d",
		cfg.RedisURL, cfg.QdrantURL, strings.Join(cfg.Languages, "+"), cfg.WorkerConcurrency)

	params, err := config.LoadParams(cfg.ParamsFile)
	if err != nil {
		log.Fatalf("Failed to load recognition params: %v", err)
	}

	log.Printf("Connecting to storage (PostgreSQL + Qdrant)...")
	storageManager, err := storage.NewStorageManager(
		cfg.DatabaseURL,
		cfg.QdrantURL,
		cfg.QdrantCollection,
		cfg.QdrantVectorSize,
	)
	if err != nil {
		log.Fatalf("Failed to initialize storage manager: %v", err)
	}
	log.Printf("Storage manager initialized (PostgreSQL + Qdrant)")

	dicts, closeDicts, err := openDictionaries(cfg)
	if err != nil {
		log.Fatalf("Failed to open dictionaries: %v", err)
	}
	log.Printf("Dictionary backend: %s", cfg.DictionaryBackend)

	tracker, err := queue.NewTracker(&queue.TrackerConfig{
		RedisURL:  cfg.RedisURL,
		QueueName: cfg.QueueName,
	})
	if err != nil {
		log.Fatalf("Failed to initialize job tracker: %v", err)
	}

	proc, err := processor.NewPageProcessor(&processor.ProcessorConfig{
		Languages:       cfg.Languages,
		Params:          params,
		Store:           storageManager,
		Dictionaries:    dicts,
		CharsetDir:      cfg.CharsetDir,
		CharsetCapacity: cfg.CharsetCapacity,
		TessdataPrefix:  cfg.TessdataPrefix,
		TempDir:         cfg.TempDir,
		MaxFileSize:     cfg.MaxFileSize,
		Timeout:         time.Duration(cfg.ProcessingTimeout) * time.Millisecond,
		Progress:        tracker.Progress,
	})
	if err != nil {
		log.Fatalf("Failed to initialize page processor: %v", err)
	}
	log.Printf("Page processor initialized")

	log.Printf("Connecting to Redis queue...")
	consumer, err := queue.NewConsumer(&queue.ConsumerConfig{
		RedisURL:          cfg.RedisURL,
		QueueName:         cfg.QueueName,
		Concurrency:       cfg.WorkerConcurrency,
		Processor:         proc,
		Tracker:           tracker,
		ProcessingTimeout: int64(cfg.ProcessingTimeout),
	})
	if err != nil {
		log.Fatalf("Failed to initialize queue consumer: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := consumer.Start(ctx); err != nil {
		log.Fatalf("Failed to start queue consumer: %v", err)
	}
	go reportStats(ctx, storageManager, tracker, consumer)

	log.Printf("===========================================")
	log.Printf("OCR Worker is READY")
	log.Printf("===========================================")
	log.Printf("Queue: %s", cfg.QueueName)
	log.Printf("Workers: %d", cfg.WorkerConcurrency)
	log.Printf("Languages: %s", strings.Join(cfg.Languages, "+"))
	log.Printf("Timeout: %dms per page", cfg.ProcessingTimeout)
	log.Printf("Pass 2: %v, Diacritics: %v, Fuzzy spaces: %v",
		params.Passes.EnablePass2, params.Passes.EnableDiacritics, params.Passes.EnableFuzzySpaces)
	log.Printf("===========================================")
	log.Printf("Waiting for jobs...")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM, syscall.SIGINT)

	sig := <-sigChan
	log.Printf("Received signal %v, initiating graceful shutdown...", sig)
	cancel()

	if err := consumer.Stop(context.Background()); err != nil {
		log.Printf("Error stopping queue consumer: %v", err)
	}
	if err := tracker.Close(); err != nil {
		log.Printf("Error closing job tracker: %v", err)
	}
	if err := closeDicts(); err != nil {
		log.Printf("Error closing dictionary store: %v", err)
	}
	if err := storageManager.Close(); err != nil {
		log.Printf("Error closing storage manager: %v", err)
	} else {
		log.Printf("Storage manager closed")
	}

	log.Printf("Shutdown complete")
}

// openDictionaries returns the configured word-list backend and its closer
func openDictionaries(cfg *config.Config) (processor.DictionaryLoader, func() error, error) {
	noop := func() error { return nil }
	switch cfg.DictionaryBackend {
	case "redis":
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		store, err := dictionary.NewRedisStore(ctx, &dictionary.RedisConfig{RedisURL: cfg.RedisURL})
		if err != nil {
			return nil, nil, err
		}
		return store, store.Close, nil
	case "file":
		return dictionary.FileStore{Dir: cfg.WordListDir}, noop, nil
	case "none":
		return nil, noop, nil
	}
	return nil, nil, fmt.Errorf("unknown dictionary backend %q", cfg.DictionaryBackend)
}

func reportStats(ctx context.Context, sm *storage.StorageManager, tracker *queue.Tracker, consumer *queue.Consumer) {
	ticker := time.NewTicker(statsInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		if stats, err := tracker.GetStats(ctx); err == nil {
			log.Printf("Queue: processing=%d completed=%d failed=%d consumer=%v",
				stats["processing"], stats["completed"], stats["failed"], consumer.GetStatistics())
		}
		if stats, err := sm.GetStats(ctx); err == nil {
			log.Printf("Storage: %v", stats)
		}
	}
}
