// Package aggregator accumulates recording references for a transcription
// until every expected participant leg has reported in, then releases the
// record to the downstream processing pipeline exactly once.
package aggregator

import (
	"context"
	"fmt"
	"time"

	"github.com/callscribe/voice-service/internal/domain"
	"github.com/callscribe/voice-service/internal/repository"
	"github.com/callscribe/voice-service/pkg/logger"
	"go.uber.org/zap"
)

// Submitter hands a completed transcription to downstream processing.
// Implementations own their retry/failure behavior; the aggregator only
// guarantees a single invocation per transcription.
type Submitter interface {
	Submit(ctx context.Context, transcriptionID string)
}

// Status reports barrier progress after an append.
type Status struct {
	Got      int
	Expected int
	Complete bool
}

func (s Status) String() string {
	if s.Complete {
		return "complete"
	}
	return fmt.Sprintf("pending(%d/%d)", s.Got, s.Expected)
}

// Service is the recording aggregator.
type Service struct {
	repos     repository.RepositoryManager
	submitter Submitter
}

// NewService creates the aggregator.
func NewService(repos repository.RepositoryManager, submitter Submitter) *Service {
	return &Service{repos: repos, submitter: submitter}
}

// Append stores one leg's recording reference and checks the barrier. The
// append and the count run atomically against the store; when the count
// reaches expected, the record is claimed with a conditional status flip so
// that concurrent legs observing the same count cannot both trigger the
// pipeline. Duplicate recording SIDs are absorbed without advancing the count.
func (s *Service) Append(ctx context.Context, transcriptionID, recordingSID, recordingURL string, duration, expected int) (Status, error) {
	rec := &domain.Recording{
		RecordingSID: recordingSID,
		URL:          recordingURL,
		Duration:     duration,
	}

	count, appended, err := s.repos.Transcriptions().AppendRecording(ctx, transcriptionID, rec)
	if err != nil {
		return Status{}, fmt.Errorf("failed to append recording: %w", err)
	}

	if !appended {
		logger.Base().Warn("duplicate recording callback absorbed",
			zap.String("transcription_id", transcriptionID),
			zap.String("recording_sid", recordingSID))
	}

	status := Status{Got: count, Expected: expected, Complete: count >= expected}
	if !status.Complete {
		logger.Base().Info("recording appended, waiting for siblings",
			zap.String("transcription_id", transcriptionID),
			zap.Int("got", count),
			zap.Int("expected", expected))
		return status, nil
	}

	claimed, err := s.repos.Transcriptions().ClaimForProcessing(ctx, transcriptionID)
	if err != nil {
		return status, fmt.Errorf("failed to claim transcription: %w", err)
	}
	if !claimed {
		// A sibling leg won the claim; nothing left to do on this one.
		return status, nil
	}

	logger.Base().Info("barrier satisfied, handing off to pipeline",
		zap.String("transcription_id", transcriptionID),
		zap.Int("legs", count))

	// Fire-and-forget: the pipeline owns its own failure handling and must
	// not hold this webhook response open.
	go s.submitter.Submit(context.WithoutCancel(ctx), transcriptionID)

	return status, nil
}

// StartSweepRoutine periodically marks transcriptions that never reached the
// barrier (owner hung up before all legs reported) as abandoned. Partial
// recordings are kept but not submitted.
func (s *Service) StartSweepRoutine(ctx context.Context, interval, maxAge time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	logger.Base().Info("abandoned-call sweep started",
		zap.Duration("interval", interval),
		zap.Duration("max_age", maxAge))

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweepOnce(ctx, maxAge)
		}
	}
}

func (s *Service) sweepOnce(ctx context.Context, maxAge time.Duration) {
	stale, err := s.repos.Transcriptions().FindStalePending(ctx, time.Now().Add(-maxAge))
	if err != nil {
		logger.Base().Error("sweep failed to list stale transcriptions", zap.Error(err))
		return
	}

	for _, t := range stale {
		if err := s.repos.Transcriptions().MarkAbandoned(ctx, t.ID); err != nil {
			logger.Base().Error("sweep failed to mark transcription abandoned",
				zap.String("transcription_id", t.ID), zap.Error(err))
			continue
		}
		logger.Base().Warn("transcription abandoned: barrier never satisfied",
			zap.String("transcription_id", t.ID),
			zap.Int("expected_legs", t.ExpectedLegs),
			zap.Time("last_update", t.UpdatedAt))
	}
}
