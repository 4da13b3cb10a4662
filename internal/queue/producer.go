package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	"github.com/tesseract-ocr/tesseract-sub021/internal/processor"
)

// Producer submits jobs to the worker queue
type Producer struct {
	client *asynq.Client
	queue  string
	// Retention keeps finished tasks inspectable for this long.
	Retention time.Duration
	MaxRetry  int
}

// NewProducer creates a producer for queue
func NewProducer(redisURL, queue string) (*Producer, error) {
	if queue == "" {
		return nil, fmt.Errorf("queue name is required")
	}
	opt, err := asynq.ParseRedisURI(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}
	return &Producer{
		client:    asynq.NewClient(opt),
		queue:     queue,
		Retention: 24 * time.Hour,
		MaxRetry:  3,
	}, nil
}

// NewRecognizeTask builds a recognition task, assigning a job id if needed
func NewRecognizeTask(req *processor.ProcessRequest) (*asynq.Task, error) {
	if req.Page.Empty() {
		return nil, fmt.Errorf("page source is required")
	}
	if req.JobID == "" {
		req.JobID = uuid.New().String()
	}
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to encode job: %w", err)
	}
	return asynq.NewTask(TypeRecognizePage, payload), nil
}

// NewResegmentTask builds a resegmentation task, assigning a job id if needed
func NewResegmentTask(req *processor.TrainingRequest) (*asynq.Task, error) {
	if req.Page.Empty() || req.Boxes.Empty() {
		return nil, fmt.Errorf("page and box sources are required")
	}
	if req.JobID == "" {
		req.JobID = uuid.New().String()
	}
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to encode job: %w", err)
	}
	return asynq.NewTask(TypeResegmentPage, payload), nil
}

// Enqueue submits task. The job id doubles as the task id, so a job
// submitted twice is rejected by Asynq.
func (p *Producer) Enqueue(ctx context.Context, jobID string, task *asynq.Task) (*asynq.TaskInfo, error) {
	info, err := p.client.EnqueueContext(ctx, task,
		asynq.Queue(p.queue),
		asynq.TaskID(jobID),
		asynq.MaxRetry(p.MaxRetry),
		asynq.Retention(p.Retention),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to enqueue %s: %w", task.Type(), err)
	}
	return info, nil
}

// Close closes the Redis connection
func (p *Producer) Close() error {
	return p.client.Close()
}
