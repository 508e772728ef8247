package indexer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/thillai/mandi/internal/storage"
)

// Job type names used on the storage queue.
const (
	JobReindex = "entity_reindex"
	JobUnindex = "entity_unindex"
)

// JobStore abstracts the queue and entity lookup operations the worker needs.
type JobStore interface {
	ClaimNextJob(types []string) (*storage.Job, error)
	CompleteJob(id string) error
	FailJob(id string, errMsg string) error
	GetEntity(id string) (storage.Entity, error)
}

// Worker drains reindex jobs from the storage queue. Enqueueing a job per
// mutation keeps entity writes fast: embedding happens off the request path
// and retries with backoff on provider failures.
type Worker struct {
	store   JobStore
	indexer *Indexer
	poll    time.Duration
	logger  *slog.Logger
}

// NewWorker creates a Worker. pollInterval <= 0 defaults to 500ms.
func NewWorker(store JobStore, ix *Indexer, pollInterval time.Duration) *Worker {
	if pollInterval <= 0 {
		pollInterval = 500 * time.Millisecond
	}
	return &Worker{
		store:   store,
		indexer: ix,
		poll:    pollInterval,
		logger:  slog.Default(),
	}
}

// Run polls for jobs until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		done, err := w.RunOnce(ctx)
		if err != nil {
			w.logger.Error("index worker iteration failed", "error", err)
		}
		if done {
			continue
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(w.poll):
		}
	}
}

// RunOnce claims and processes a single job. Returns true if a job was
// processed, regardless of success.
func (w *Worker) RunOnce(ctx context.Context) (bool, error) {
	job, err := w.store.ClaimNextJob([]string{JobReindex, JobUnindex})
	if err != nil {
		return false, fmt.Errorf("claiming job: %w", err)
	}
	if job == nil {
		return false, nil
	}

	if err := w.processJob(ctx, job); err != nil {
		w.logger.Warn("index job failed", "job_id", job.ID, "type", job.Type, "error", err)
		if failErr := w.store.FailJob(job.ID, err.Error()); failErr != nil {
			w.logger.Error("failed to mark job as failed", "job_id", job.ID, "error", failErr)
		}
		return true, nil
	}

	if err := w.store.CompleteJob(job.ID); err != nil {
		return true, fmt.Errorf("completing job %s: %w", job.ID, err)
	}
	return true, nil
}

// JobPayload is the JSON body of reindex/unindex jobs.
type JobPayload struct {
	EntityID string `json:"entity_id"`
}

func (w *Worker) processJob(ctx context.Context, job *storage.Job) error {
	var payload JobPayload
	if err := json.Unmarshal([]byte(job.PayloadJSON), &payload); err != nil {
		return fmt.Errorf("parsing payload: %w", err)
	}

	switch job.Type {
	case JobUnindex:
		return w.indexer.Unindex(payload.EntityID)

	case JobReindex:
		e, err := w.store.GetEntity(payload.EntityID)
		if errors.Is(err, storage.ErrNotFound) {
			// Entity vanished between enqueue and claim; drop its vectors
			// instead of failing the job.
			return w.indexer.Unindex(payload.EntityID)
		}
		if err != nil {
			return fmt.Errorf("loading entity %s: %w", payload.EntityID, err)
		}
		return w.indexer.Reindex(ctx, e)

	default:
		return fmt.Errorf("unknown job type %q", job.Type)
	}
}

// JobQueue is the enqueue side of the storage job queue.
type JobQueue interface {
	EnqueueJob(storage.Job) error
}

// EnqueueReindex queues an async reindex for an entity.
func EnqueueReindex(queue JobQueue, jobID, entityID string) error {
	return enqueue(queue, jobID, JobReindex, entityID)
}

// EnqueueUnindex queues removal of an entity's vectors.
func EnqueueUnindex(queue JobQueue, jobID, entityID string) error {
	return enqueue(queue, jobID, JobUnindex, entityID)
}

func enqueue(queue JobQueue, jobID, jobType, entityID string) error {
	payload, err := json.Marshal(JobPayload{EntityID: entityID})
	if err != nil {
		return fmt.Errorf("encoding job payload: %w", err)
	}
	return queue.EnqueueJob(storage.Job{ID: jobID, Type: jobType, PayloadJSON: string(payload)})
}
