// Package worker runs the sequential inference loop. One goroutine drains
// the job store oldest-first, drives the configured provider, and pushes
// outcomes back to the application through the callback sender. Jobs are
// never retried; a failed inference is reported and drained like a success.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/neonwatty/meme-search-sub002/internal/callback"
	"github.com/neonwatty/meme-search-sub002/internal/queue"
	"github.com/neonwatty/meme-search-sub002/pkg/models"
)

// Loop is the single-consumer job processor.
type Loop struct {
	store    *queue.Store
	provider models.InferenceProvider
	sender   callback.Sender

	pollInterval     time.Duration
	inferenceTimeout time.Duration
	logger           *slog.Logger
}

// New creates a Loop. pollInterval is the idle sleep between empty polls,
// inferenceTimeout bounds a single provider call.
func New(store *queue.Store, provider models.InferenceProvider, sender callback.Sender, pollInterval, inferenceTimeout time.Duration, logger *slog.Logger) *Loop {
	return &Loop{
		store:            store,
		provider:         provider,
		sender:           sender,
		pollInterval:     pollInterval,
		inferenceTimeout: inferenceTimeout,
		logger:           logger,
	}
}

// Run processes jobs until ctx is cancelled. It always returns ctx.Err().
func (l *Loop) Run(ctx context.Context) error {
	l.logger.Info("worker loop started",
		"provider", l.provider.Name(), "poll_interval", l.pollInterval)

	for {
		if err := ctx.Err(); err != nil {
			l.logger.Info("worker loop stopped")
			return err
		}

		job, err := l.store.NextPending(ctx)
		if err != nil {
			if errors.Is(err, queue.ErrJobNotFound) {
				l.sleep(ctx)
				continue
			}
			l.logger.Error("polling job store failed", "error", err)
			l.sleep(ctx)
			continue
		}

		l.processJob(ctx, job)
	}
}

// processJob runs one job end to end. The callback context is detached from
// inference timeouts so outcome delivery is not cut short by a slow model.
func (l *Loop) processJob(ctx context.Context, job *models.Job) {
	claimed, err := l.store.MarkProcessing(ctx, job.ID)
	if err != nil {
		l.logger.Error("marking job processing failed", "job_id", job.ID, "error", err)
		return
	}
	if !claimed {
		// Removed between poll and claim.
		l.logger.Info("job vanished before processing", "job_id", job.ID)
		return
	}

	l.logger.Info("processing job",
		"job_id", job.ID, "image_id", job.ImageID, "model_id", job.ModelID)

	l.sender.SendStatus(ctx, job.CallbackStatusURL, callback.StatusPayload{
		ImageID: job.ImageID,
		Status:  models.StatusProcessing,
		Seq:     job.Seq,
	})

	description, inferErr := l.describe(ctx, job)

	outcome := models.JobStatusCompleted
	if inferErr != nil {
		outcome = models.JobStatusFailed
	}

	committed, err := l.store.FinishJob(ctx, job.ID, outcome)
	if err != nil {
		l.logger.Error("finishing job failed", "job_id", job.ID, "error", err)
		return
	}
	if !committed {
		// Cancelled while inference was in flight. The application already
		// rolled the image back, so any callback now would be stale.
		l.logger.Info("job cancelled mid-flight, suppressing callbacks", "job_id", job.ID)
		l.drain(ctx, job)
		return
	}

	if inferErr != nil {
		l.logger.Error("inference failed",
			"job_id", job.ID, "image_id", job.ImageID, "error", inferErr)
		l.sender.SendStatus(ctx, job.CallbackStatusURL, callback.StatusPayload{
			ImageID: job.ImageID,
			Status:  models.StatusFailed,
			Seq:     job.Seq,
		})
		l.sender.SendDescription(ctx, job.CallbackDescriptionURL, callback.DescriptionPayload{
			ImageID:     job.ImageID,
			Description: fmt.Sprintf("Error: %v", inferErr),
			Seq:         job.Seq,
		})
	} else {
		l.sender.SendDescription(ctx, job.CallbackDescriptionURL, callback.DescriptionPayload{
			ImageID:     job.ImageID,
			Description: description,
			Seq:         job.Seq,
		})
		l.sender.SendStatus(ctx, job.CallbackStatusURL, callback.StatusPayload{
			ImageID: job.ImageID,
			Status:  models.StatusDone,
			Seq:     job.Seq,
		})
	}

	l.drain(ctx, job)
}

// describe invokes the provider under the inference timeout, converting
// panics into ordinary failures so one bad job cannot take the loop down.
func (l *Loop) describe(ctx context.Context, job *models.Job) (description string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("inference panic: %v", r)
		}
	}()

	inferCtx, cancel := context.WithTimeout(ctx, l.inferenceTimeout)
	defer cancel()

	return l.provider.Describe(inferCtx, job.ImagePath, job.ModelID)
}

// drain removes a terminal job row. The outcome already lives in the
// application store, so losing the row here is harmless.
func (l *Loop) drain(ctx context.Context, job *models.Job) {
	if err := l.store.DeleteJob(ctx, job.ID); err != nil {
		l.logger.Error("deleting finished job failed", "job_id", job.ID, "error", err)
	}
}

func (l *Loop) sleep(ctx context.Context) {
	timer := time.NewTimer(l.pollInterval)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
