/**
 * Redis Job Tracker for the OCR worker
 *
 * Mirrors job state into Redis for dashboards and WebSocket streaming:
 * - {queue}:processing / :completed / :failed sets
 * - {queue}:results / :errors hashes
 * - {queue}:progress hash, updated while recognition runs
 * - {queue}:events channel, one message per state or progress change
 *
 * Progress arrives from inside recognition passes and must never block
 * them, so it is buffered and flushed by a background goroutine.
 */

package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/tesseract-ocr/tesseract-sub021/internal/logging"
)

// TrackerConfig holds tracker configuration
type TrackerConfig struct {
	RedisURL  string
	QueueName string
	// FlushInterval bounds how often progress is written; default 250ms.
	FlushInterval time.Duration
	Logger        *logging.Logger
}

// Tracker records job state in Redis
type Tracker struct {
	client   *redis.Client
	queue    string
	interval time.Duration
	log      *logging.Logger

	pending *progressBuffer
	wake    chan struct{}
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewTracker connects to Redis and starts the progress flusher
func NewTracker(cfg *TrackerConfig) (*Tracker, error) {
	if cfg == nil || cfg.RedisURL == "" {
		return nil, fmt.Errorf("RedisURL is required")
	}
	if cfg.QueueName == "" {
		return nil, fmt.Errorf("QueueName is required")
	}

	opt, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}
	client := redis.NewClient(opt)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	interval := cfg.FlushInterval
	if interval <= 0 {
		interval = 250 * time.Millisecond
	}
	log := cfg.Logger
	if log == nil {
		log = logging.NewLogger("tracker")
	}

	runCtx, stop := context.WithCancel(context.Background())
	t := &Tracker{
		client:   client,
		queue:    cfg.QueueName,
		interval: interval,
		log:      log,
		pending:  newProgressBuffer(),
		wake:     make(chan struct{}, 1),
		cancel:   stop,
	}
	t.wg.Add(1)
	go t.flushLoop(runCtx)
	return t, nil
}

func (t *Tracker) key(suffix string) string { return t.queue + ":" + suffix }

// Progress records a percentage for jobID without blocking
func (t *Tracker) Progress(jobID string, percent int) {
	if !t.pending.set(jobID, percent) {
		return
	}
	select {
	case t.wake <- struct{}{}:
	default:
	}
}

func (t *Tracker) flushLoop(ctx context.Context) {
	defer t.wg.Done()
	for {
		select {
		case <-ctx.Done():
			t.flush(context.Background())
			return
		case <-t.wake:
			t.flush(ctx)
			// Coalesce bursts: one write per interval at most.
			select {
			case <-time.After(t.interval):
			case <-ctx.Done():
			}
		}
	}
}

func (t *Tracker) flush(ctx context.Context) {
	updates := t.pending.drain()
	if len(updates) == 0 {
		return
	}
	pipe := t.client.Pipeline()
	for jobID, percent := range updates {
		pipe.HSet(ctx, t.key("progress"), jobID, percent)
		pipe.Publish(ctx, t.key("events"), eventJSON("job:progress", jobID, map[string]interface{}{
			"progress": percent,
		}))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		t.log.Warn("Failed to publish progress", "jobs", len(updates), "error", err)
	}
	// Jobs that finished while the pipeline ran had their entry removed
	// before these writes landed.
	if stale := t.pending.settle(updates); len(stale) > 0 {
		if err := t.client.HDel(ctx, t.key("progress"), stale...).Err(); err != nil {
			t.log.Warn("Failed to clear progress of finished jobs", "jobs", len(stale), "error", err)
		}
	}
}

// Processing marks jobID as started
func (t *Tracker) Processing(ctx context.Context, jobID string) {
	pipe := t.client.TxPipeline()
	pipe.SAdd(ctx, t.key("processing"), jobID)
	pipe.HSet(ctx, t.key("progress"), jobID, 0)
	pipe.Publish(ctx, t.key("events"), eventJSON("job:processing", jobID, nil))
	if _, err := pipe.Exec(ctx); err != nil {
		t.log.Warn("Failed to mark job processing", "job", jobID, "error", err)
	}
}

// Completed marks jobID as done and stores its result summary
func (t *Tracker) Completed(ctx context.Context, jobID string, result map[string]interface{}) {
	t.finish(ctx, jobID, "completed", "results", result)
}

// Failed marks jobID as failed and stores the error details
func (t *Tracker) Failed(ctx context.Context, jobID string, details map[string]interface{}) {
	t.finish(ctx, jobID, "failed", "errors", details)
}

func (t *Tracker) finish(ctx context.Context, jobID, status, hash string, data map[string]interface{}) {
	t.pending.forget(jobID)

	pipe := t.client.TxPipeline()
	pipe.SRem(ctx, t.key("processing"), jobID)
	pipe.SAdd(ctx, t.key(status), jobID)
	pipe.HDel(ctx, t.key("progress"), jobID)
	if data != nil {
		encoded, err := json.Marshal(data)
		if err != nil {
			t.log.Warn("Failed to encode job data", "job", jobID, "error", err)
		} else {
			pipe.HSet(ctx, t.key(hash), jobID, encoded)
		}
	}
	pipe.Publish(ctx, t.key("events"), eventJSON("job:"+status, jobID, data))
	if _, err := pipe.Exec(ctx); err != nil {
		t.log.Warn("Failed to mark job "+status, "job", jobID, "error", err)
	}
}

// GetStats returns job counts per state
func (t *Tracker) GetStats(ctx context.Context) (map[string]int64, error) {
	pipe := t.client.Pipeline()
	processing := pipe.SCard(ctx, t.key("processing"))
	completed := pipe.SCard(ctx, t.key("completed"))
	failed := pipe.SCard(ctx, t.key("failed"))
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("failed to read queue stats: %w", err)
	}

	return map[string]int64{
		"processing": processing.Val(),
		"completed":  completed.Val(),
		"failed":     failed.Val(),
	}, nil
}

// Close flushes pending progress and closes the connection
func (t *Tracker) Close() error {
	t.cancel()
	t.wg.Wait()
	return t.client.Close()
}

func eventJSON(event, jobID string, data map[string]interface{}) []byte {
	msg := map[string]interface{}{
		"event":     event,
		"jobId":     jobID,
		"timestamp": time.Now().Format(time.RFC3339),
	}
	if data != nil {
		msg["data"] = data
	}
	encoded, _ := json.Marshal(msg)
	return encoded
}

// progressBuffer keeps the latest unpublished percentage per job. Drained
// values stay in flight until settled, so a job finished in between can be
// cleaned up after the write.
type progressBuffer struct {
	mu       sync.Mutex
	latest   map[string]int
	written  map[string]int
	inflight map[string]bool
	stale    map[string]bool
}

func newProgressBuffer() *progressBuffer {
	return &progressBuffer{
		latest:   make(map[string]int),
		written:  make(map[string]int),
		inflight: make(map[string]bool),
		stale:    make(map[string]bool),
	}
}

// set records percent and reports whether it is news
func (b *progressBuffer) set(jobID string, percent int) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if last, ok := b.written[jobID]; ok && last == percent {
		delete(b.latest, jobID)
		return false
	}
	if cur, ok := b.latest[jobID]; ok && cur == percent {
		return false
	}
	b.latest[jobID] = percent
	return true
}

func (b *progressBuffer) drain() map[string]int {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := b.latest
	b.latest = make(map[string]int)
	for jobID, p := range out {
		b.written[jobID] = p
		b.inflight[jobID] = true
	}
	return out
}

func (b *progressBuffer) forget(jobID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.latest, jobID)
	delete(b.written, jobID)
	if b.inflight[jobID] {
		b.stale[jobID] = true
	}
}

// settle ends the flight of a drained batch and returns, sorted, the jobs
// forgotten while it was being written.
func (b *progressBuffer) settle(drained map[string]int) []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	var stale []string
	for jobID := range drained {
		delete(b.inflight, jobID)
		if b.stale[jobID] {
			delete(b.stale, jobID)
			delete(b.written, jobID)
			stale = append(stale, jobID)
		}
	}
	sort.Strings(stale)
	return stale
}
