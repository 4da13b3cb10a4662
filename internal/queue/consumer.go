/**
 * Queue Consumer for the OCR Worker
 *
 * Consumes recognition and resegmentation jobs from Redis via Asynq and
 * hands them to the page processor. Job state goes to the processor's
 * store (PostgreSQL) and, when a tracker is configured, to Redis.
 */

package queue

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	apperrors "github.com/tesseract-ocr/tesseract-sub021/internal/errors"
	"github.com/tesseract-ocr/tesseract-sub021/internal/logging"
	"github.com/tesseract-ocr/tesseract-sub021/internal/processor"
)

// Task types
const (
	TypeRecognizePage = "recognize-page"
	TypeResegmentPage = "resegment-page"
)

// Storing a cancelled run happens after the processor's own deadline, so
// the handler context outlives it by this much.
const storeGrace = 30 * time.Second

// JobTracker mirrors job state somewhere outside the job store
type JobTracker interface {
	Processing(ctx context.Context, jobID string)
	Completed(ctx context.Context, jobID string, result map[string]interface{})
	Failed(ctx context.Context, jobID string, details map[string]interface{})
}

// Consumer handles job consumption from Redis queue
type Consumer struct {
	client    *asynq.Client
	server    *asynq.Server
	mux       *asynq.ServeMux
	processor processor.PageProcessorInterface
	tracker   JobTracker
	config    *ConsumerConfig
	log       *logging.Logger
}

// ConsumerConfig holds consumer configuration
type ConsumerConfig struct {
	RedisURL    string
	QueueName   string
	Concurrency int
	Processor   processor.PageProcessorInterface
	// Tracker is optional.
	Tracker JobTracker
	// ProcessingTimeout is in milliseconds (default: 300000 = 5 minutes)
	ProcessingTimeout int64
	Logger            *logging.Logger
}

// NewConsumer creates a new queue consumer
func NewConsumer(cfg *ConsumerConfig) (*Consumer, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if cfg.RedisURL == "" {
		return nil, fmt.Errorf("RedisURL is required")
	}
	if cfg.QueueName == "" {
		return nil, fmt.Errorf("QueueName is required")
	}
	if cfg.Processor == nil {
		return nil, fmt.Errorf("Processor is required")
	}

	redisOpt, err := asynq.ParseRedisURI(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	log := cfg.Logger
	if log == nil {
		log = logging.NewLogger("queue")
	}

	client := asynq.NewClient(redisOpt)
	server := asynq.NewServer(
		redisOpt,
		asynq.Config{
			Concurrency: cfg.Concurrency,
			Queues: map[string]int{
				cfg.QueueName: 10,
				"default":     1,
			},
			// Exponential backoff: 5s, 10s, 20s, capped at a minute
			RetryDelayFunc: func(n int, err error, task *asynq.Task) time.Duration {
				delay := time.Duration(5*(1<<uint(n))) * time.Second
				if delay > 60*time.Second {
					delay = 60 * time.Second
				}
				return delay
			},
			ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
				log.Error("Task processing error", "type", task.Type(), "bytes", len(task.Payload()), "error", err)
			}),
		},
	)

	c := &Consumer{
		client:    client,
		server:    server,
		mux:       asynq.NewServeMux(),
		processor: cfg.Processor,
		tracker:   cfg.Tracker,
		config:    cfg,
		log:       log,
	}
	c.mux.HandleFunc(TypeRecognizePage, c.handleRecognize)
	c.mux.HandleFunc(TypeResegmentPage, c.handleResegment)

	return c, nil
}

// Start starts the queue consumer
func (c *Consumer) Start(ctx context.Context) error {
	c.log.Info("Starting queue consumer", "concurrency", c.config.Concurrency, "queue", c.config.QueueName)

	go func() {
		if err := c.server.Run(c.mux); err != nil {
			c.log.Error("Queue consumer error", "error", err)
		}
	}()

	return nil
}

// Stop stops the queue consumer gracefully
func (c *Consumer) Stop(ctx context.Context) error {
	c.log.Info("Stopping queue consumer")

	c.server.Shutdown()
	if err := c.client.Close(); err != nil {
		return fmt.Errorf("failed to close client: %w", err)
	}

	c.log.Info("Queue consumer stopped")
	return nil
}

func (c *Consumer) timeout() time.Duration {
	if c.config.ProcessingTimeout > 0 {
		return time.Duration(c.config.ProcessingTimeout) * time.Millisecond
	}
	return 5 * time.Minute
}

// handleRecognize runs a recognition job
func (c *Consumer) handleRecognize(ctx context.Context, task *asynq.Task) error {
	start := time.Now()

	var req processor.ProcessRequest
	if err := json.Unmarshal(task.Payload(), &req); err != nil {
		return fmt.Errorf("failed to unmarshal job data: %v: %w", err, asynq.SkipRetry)
	}
	if req.JobID == "" {
		req.JobID = uuid.New().String()
	}
	c.log.Info("Recognizing page", "job", req.JobID, "page", req.PageID, "languages", req.Languages)

	c.begin(ctx, req.JobID, processor.KindRecognize)

	processCtx, cancel := context.WithTimeout(ctx, c.timeout()+storeGrace)
	defer cancel()

	result, err := c.processor.ProcessPage(processCtx, &req)
	duration := time.Since(start)
	if err != nil {
		var meta map[string]interface{}
		if result != nil {
			meta = recognizeSummary(result)
		}
		return c.fail(ctx, req.JobID, processor.KindRecognize, processCtx, duration, meta, err)
	}

	meta := recognizeSummary(result)
	meta["processingTimeMs"] = duration.Milliseconds()
	c.log.Info("Recognition completed", "job", req.JobID, "duration", duration, "words", result.Result.Words, "rejects", result.Result.Rejects)

	c.complete(ctx, req.JobID, processor.KindRecognize, meta)
	return nil
}

// handleResegment runs a box-file resegmentation job
func (c *Consumer) handleResegment(ctx context.Context, task *asynq.Task) error {
	start := time.Now()

	var req processor.TrainingRequest
	if err := json.Unmarshal(task.Payload(), &req); err != nil {
		return fmt.Errorf("failed to unmarshal job data: %v: %w", err, asynq.SkipRetry)
	}
	if req.JobID == "" {
		req.JobID = uuid.New().String()
	}
	c.log.Info("Resegmenting page", "job", req.JobID, "page", req.PageID, "language", req.Language)

	c.begin(ctx, req.JobID, processor.KindResegment)

	processCtx, cancel := context.WithTimeout(ctx, c.timeout())
	defer cancel()

	result, err := c.processor.ProcessTraining(processCtx, &req)
	duration := time.Since(start)
	if err != nil {
		return c.fail(ctx, req.JobID, processor.KindResegment, processCtx, duration, nil, err)
	}

	meta := map[string]interface{}{
		"pageId":           result.PageID,
		"samples":          result.Samples,
		"processingTimeMs": duration.Milliseconds(),
	}
	if s := result.Summary; s != nil {
		meta["boxesApplied"] = s.BoxesApplied
		meta["boxFailures"] = s.BoxFailures
		meta["wordsCreated"] = s.WordsCreated
		meta["duplicates"] = s.Duplicates
	}
	c.log.Info("Resegmentation completed", "job", req.JobID, "duration", duration, "samples", result.Samples)

	c.complete(ctx, req.JobID, processor.KindResegment, meta)
	return nil
}

func (c *Consumer) begin(ctx context.Context, jobID, kind string) {
	if err := c.processor.UpdateJobStatus(ctx, jobID, kind, processor.StatusProcessing, 0, nil); err != nil {
		c.log.Warn("Failed to update status to processing", "job", jobID, "error", err)
	}
	if c.tracker != nil {
		c.tracker.Processing(ctx, jobID)
	}
}

func (c *Consumer) complete(ctx context.Context, jobID, kind string, meta map[string]interface{}) {
	if err := c.processor.UpdateJobStatus(ctx, jobID, kind, processor.StatusCompleted, 100, meta); err != nil {
		c.log.Warn("Failed to update status to completed", "job", jobID, "error", err)
	}
	if c.tracker != nil {
		c.tracker.Completed(ctx, jobID, meta)
	}
}

// fail records a failed or cancelled job and returns the error for Asynq.
// Errors that cannot succeed on a retry are marked SkipRetry.
func (c *Consumer) fail(ctx context.Context, jobID, kind string, processCtx context.Context, duration time.Duration, meta map[string]interface{}, err error) error {
	// The handler context may already be cancelled by a shutdown.
	ctx = context.WithoutCancel(ctx)

	if processCtx.Err() == context.DeadlineExceeded && !apperrors.Is(err, apperrors.ErrorProcessingTimeout) {
		err = apperrors.NewProcessingTimeoutError(jobID, duration, err)
	}

	status := processor.StatusFailed
	if apperrors.Is(err, apperrors.ErrorCancellation) || apperrors.Is(err, apperrors.ErrorProcessingTimeout) {
		status = processor.StatusCancelled
	}

	details := errorDetails(jobID, err)
	if meta == nil {
		meta = make(map[string]interface{})
	}
	for k, v := range details {
		meta[k] = v
	}
	meta["processingTimeMs"] = duration.Milliseconds()

	c.log.Warn("Job did not complete", "job", jobID, "kind", kind, "status", status, "duration", duration, "error", err)

	if updateErr := c.processor.UpdateJobStatus(ctx, jobID, kind, status, 100, meta); updateErr != nil {
		c.log.Warn("Failed to update status to "+status, "job", jobID, "error", updateErr)
	}
	if c.tracker != nil {
		c.tracker.Failed(ctx, jobID, meta)
	}

	if !retryable(err) {
		return fmt.Errorf("%s job %s: %v: %w", kind, jobID, err, asynq.SkipRetry)
	}
	return fmt.Errorf("%s job %s: %w", kind, jobID, err)
}

// errorDetails flattens err into the metadata keys the job store reads
func errorDetails(jobID string, err error) map[string]interface{} {
	var re *apperrors.RecognitionError
	if stderrors.As(err, &re) {
		details := re.WithJob(jobID).ToMap()
		details["errorCode"] = string(re.Code)
		details["error"] = err.Error()
		return details
	}
	return map[string]interface{}{"error": err.Error()}
}

// retryable reports whether running the job again could help
func retryable(err error) bool {
	switch {
	case apperrors.Is(err, apperrors.ErrorUnsupportedInput),
		apperrors.Is(err, apperrors.ErrorProcessingTimeout),
		apperrors.IsFatal(err):
		return false
	}
	return true
}

func recognizeSummary(out *processor.ProcessResult) map[string]interface{} {
	meta := map[string]interface{}{"pageId": out.PageID}
	if out.RunID != 0 {
		meta["runId"] = out.RunID
	}
	if r := out.Result; r != nil {
		meta["words"] = r.Words
		meta["chars"] = r.Chars
		meta["rejects"] = r.Rejects
		meta["cancelled"] = r.Cancelled
		if r.Cancelled {
			meta["cancelledIn"] = r.CancelledIn
		}
	}
	return meta
}

// GetStatistics returns consumer statistics
func (c *Consumer) GetStatistics() map[string]interface{} {
	return map[string]interface{}{
		"concurrency": c.config.Concurrency,
		"queue":       c.config.QueueName,
		"timeoutMs":   c.timeout().Milliseconds(),
		"tracking":    c.tracker != nil,
	}
}
