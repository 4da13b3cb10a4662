/**
 * Storage Manager for the OCR worker
 *
 * Coordinates storage operations across PostgreSQL (jobs, runs, words,
 * sample rows) and Qdrant (sample shape vectors). Training samples are
 * written to Qdrant first and rolled back there if the relational insert
 * fails, so the two systems never disagree about which samples exist.
 */

package storage

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/google/uuid"
)

// StorageManager coordinates PostgreSQL and Qdrant operations
type StorageManager struct {
	postgres *PostgresClient
	qdrant   *QdrantClient
}

// TrainingSample is one labeled single-blob word ready for export
type TrainingSample struct {
	Label  string
	WordID int
	Clone  bool
	Left   int
	Bottom int
	Right  int
	Top    int
	Vector []float32
}

// NewStorageManager creates a new storage manager
func NewStorageManager(postgresURL string, qdrantAddress string, qdrantCollection string, vectorSize int) (*StorageManager, error) {
	postgres, err := NewPostgresClient(postgresURL)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize PostgreSQL client: %w", err)
	}

	qdrant, err := NewQdrantClient(qdrantAddress, qdrantCollection, vectorSize)
	if err != nil {
		postgres.Close()
		return nil, fmt.Errorf("failed to initialize Qdrant client: %w", err)
	}

	return &StorageManager{
		postgres: postgres,
		qdrant:   qdrant,
	}, nil
}

// VectorSize is the dimension training sample vectors must have
func (sm *StorageManager) VectorSize() int {
	return sm.qdrant.VectorSize()
}

// StoreTrainingSamples stores samples across Qdrant and PostgreSQL and
// returns their point ids in input order.
func (sm *StorageManager) StoreTrainingSamples(ctx context.Context, jobID, pageID string, samples []TrainingSample) ([]string, error) {
	if jobID == "" {
		return nil, fmt.Errorf("job ID is required")
	}
	if len(samples) == 0 {
		return nil, nil
	}

	now := time.Now().Unix()
	points := make([]*VectorPoint, len(samples))
	records := make([]SampleRecord, len(samples))
	ids := make([]string, len(samples))
	for i, s := range samples {
		ids[i] = uuid.New().String()
		points[i] = &VectorPoint{
			ID:     ids[i],
			Vector: s.Vector,
			Metadata: map[string]interface{}{
				"job_id":  jobID,
				"page_id": pageID,
				"label":   s.Label,
				"word_id": s.WordID,
				"clone":   s.Clone,
			},
			Timestamp: now,
		}
		records[i] = SampleRecord{
			PointID: ids[i],
			JobID:   jobID,
			PageID:  pageID,
			Label:   s.Label,
			WordID:  s.WordID,
			Clone:   s.Clone,
			Left:    s.Left,
			Bottom:  s.Bottom,
			Right:   s.Right,
			Top:     s.Top,
		}
	}

	// Qdrant first: it rejects bad vectors before anything is committed.
	if err := sm.qdrant.UpsertVectors(ctx, points); err != nil {
		return nil, fmt.Errorf("failed to store vectors in Qdrant: %w", err)
	}

	if err := sm.postgres.StoreSampleRecords(ctx, records); err != nil {
		if delErr := sm.qdrant.DeleteVectors(ctx, ids); delErr != nil {
			return nil, fmt.Errorf("failed to store samples in PostgreSQL: %w (rollback failed: %v)", err, delErr)
		}
		return nil, fmt.Errorf("failed to store samples in PostgreSQL: %w", err)
	}

	return ids, nil
}

// StoreRun records a run summary and its words, returning the run id
func (sm *StorageManager) StoreRun(ctx context.Context, run *RunSummary, words []WordResult) (int64, error) {
	if run == nil {
		return 0, fmt.Errorf("run is required")
	}
	id, err := sm.postgres.StoreRunSummary(ctx, run)
	if err != nil {
		return 0, err
	}
	if err := sm.postgres.StoreWordResults(ctx, id, words); err != nil {
		return id, fmt.Errorf("run %d stored without words: %w", id, err)
	}
	return id, nil
}

// ClassCounts returns stored samples per label
func (sm *StorageManager) ClassCounts(ctx context.Context) (map[string]int, error) {
	return sm.postgres.ClassCounts(ctx)
}

// UpdateJobStatus updates job status in PostgreSQL
func (sm *StorageManager) UpdateJobStatus(ctx context.Context, update *JobUpdate) error {
	return sm.postgres.UpdateJobStatus(ctx, update)
}

// GetStats returns statistics from both systems
func (sm *StorageManager) GetStats(ctx context.Context) (map[string]interface{}, error) {
	pgStats := sm.postgres.GetStats()

	qdrantStats, err := sm.qdrant.GetCollectionInfo(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get Qdrant stats: %w", err)
	}
	classes, err := sm.ClassCounts(ctx)
	if err != nil {
		return nil, err
	}
	samples := 0
	for _, n := range classes {
		samples += n
	}

	return map[string]interface{}{
		"postgres": map[string]interface{}{
			"max_open_connections": pgStats.MaxOpenConnections,
			"open_connections":     pgStats.OpenConnections,
			"in_use":               pgStats.InUse,
			"idle":                 pgStats.Idle,
			"wait_count":           pgStats.WaitCount,
			"wait_duration":        pgStats.WaitDuration.String(),
		},
		"qdrant":  qdrantStats,
		"samples": map[string]interface{}{
			"classes": len(classes),
			"total":   samples,
		},
	}, nil
}

// Close closes all connections
func (sm *StorageManager) Close() error {
	var pgErr, qdErr error

	if sm.postgres != nil {
		pgErr = sm.postgres.Close()
	}

	if sm.qdrant != nil {
		qdErr = sm.qdrant.Close()
	}

	if pgErr != nil {
		return fmt.Errorf("failed to close PostgreSQL: %w", pgErr)
	}

	if qdErr != nil {
		return fmt.Errorf("failed to close Qdrant: %w", qdErr)
	}

	return nil
}

var (
	nullEscape    = regexp.MustCompile(`\\u0000`)
	controlEscape = regexp.MustCompile(`\\u00[01][0-9a-fA-F]`)
)

// sanitizeJSONForPostgres strips escapes JSONB rejects: \u0000 is removed
// and the other C0 control escapes become a space.
func sanitizeJSONForPostgres(jsonBytes []byte) []byte {
	result := nullEscape.ReplaceAll(jsonBytes, []byte{})
	return controlEscape.ReplaceAll(result, []byte(" "))
}
