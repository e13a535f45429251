package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/callscribe/voice-service/internal/domain"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GormTranscriptionRepository handles database operations for transcriptions
// and their recordings.
type GormTranscriptionRepository struct {
	db *gorm.DB
}

// NewGormTranscriptionRepository creates a new transcription repository.
func NewGormTranscriptionRepository(db *gorm.DB) *GormTranscriptionRepository {
	return &GormTranscriptionRepository{db: db}
}

// Create creates a new transcription record.
func (r *GormTranscriptionRepository) Create(ctx context.Context, t *domain.Transcription) error {
	if t.ID == "" {
		t.ID = uuid.New().String()
	}
	if t.Status == "" {
		t.Status = domain.StatusPending
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now()
	}
	t.UpdatedAt = time.Now()

	if err := r.db.WithContext(ctx).Create(t).Error; err != nil {
		return fmt.Errorf("failed to create transcription: %w", err)
	}
	return nil
}

// Update updates an existing transcription record.
func (r *GormTranscriptionRepository) Update(ctx context.Context, t *domain.Transcription) error {
	t.UpdatedAt = time.Now()
	if err := r.db.WithContext(ctx).Save(t).Error; err != nil {
		return fmt.Errorf("failed to update transcription: %w", err)
	}
	return nil
}

// GetByID retrieves a transcription with its recordings.
func (r *GormTranscriptionRepository) GetByID(ctx context.Context, id string) (*domain.Transcription, error) {
	var t domain.Transcription
	err := r.db.WithContext(ctx).Preload("Recordings", func(db *gorm.DB) *gorm.DB {
		return db.Order("recordings.created_at ASC")
	}).First(&t, "id = ?", id).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get transcription: %w", err)
	}
	return &t, nil
}

// ListByUserID lists a user's transcriptions, newest first.
func (r *GormTranscriptionRepository) ListByUserID(ctx context.Context, userID string) ([]*domain.Transcription, error) {
	var out []*domain.Transcription
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list transcriptions: %w", err)
	}
	return out, nil
}

// AppendRecording appends one leg's recording reference and returns the total
// recording count after the append. The transcription row is locked FOR
// UPDATE for the duration of the transaction, so two legs finishing at the
// same time serialize: each sees an accurate count and exactly one of them
// observes the barrier being reached.
func (r *GormTranscriptionRepository) AppendRecording(ctx context.Context, transcriptionID string, rec *domain.Recording) (int, bool, error) {
	var count int64
	appended := false

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var t domain.Transcription
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			First(&t, "id = ?", transcriptionID).Error; err != nil {
			return fmt.Errorf("failed to lock transcription: %w", err)
		}

		// Duplicate callback for a leg we already stored: keep the count,
		// skip the insert.
		var dup int64
		if err := tx.Model(&domain.Recording{}).
			Where("recording_sid = ?", rec.RecordingSID).
			Count(&dup).Error; err != nil {
			return fmt.Errorf("failed to check duplicate recording: %w", err)
		}

		if dup == 0 {
			if rec.ID == "" {
				rec.ID = uuid.New().String()
			}
			rec.TranscriptionID = transcriptionID
			if rec.CreatedAt.IsZero() {
				rec.CreatedAt = time.Now()
			}
			if err := tx.Create(rec).Error; err != nil {
				return fmt.Errorf("failed to append recording: %w", err)
			}
			appended = true
		}

		if err := tx.Model(&domain.Recording{}).
			Where("transcription_id = ?", transcriptionID).
			Count(&count).Error; err != nil {
			return fmt.Errorf("failed to count recordings: %w", err)
		}

		return tx.Model(&domain.Transcription{}).
			Where("id = ?", transcriptionID).
			Update("updated_at", time.Now()).Error
	})
	if err != nil {
		return 0, false, err
	}

	return int(count), appended, nil
}

// ClaimForProcessing flips status pending -> processing with a conditional
// update. Exactly one concurrent caller gets true.
func (r *GormTranscriptionRepository) ClaimForProcessing(ctx context.Context, transcriptionID string) (bool, error) {
	result := r.db.WithContext(ctx).Model(&domain.Transcription{}).
		Where("id = ? AND status = ?", transcriptionID, domain.StatusPending).
		Updates(map[string]interface{}{
			"status":     domain.StatusProcessing,
			"updated_at": time.Now(),
		})
	if result.Error != nil {
		return false, fmt.Errorf("failed to claim transcription: %w", result.Error)
	}
	return result.RowsAffected == 1, nil
}

// FindStalePending returns pending transcriptions whose last update is older
// than the cutoff. These are calls that never reached the barrier.
func (r *GormTranscriptionRepository) FindStalePending(ctx context.Context, cutoff time.Time) ([]*domain.Transcription, error) {
	var out []*domain.Transcription
	err := r.db.WithContext(ctx).
		Where("status = ? AND updated_at < ?", domain.StatusPending, cutoff).
		Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("failed to find stale transcriptions: %w", err)
	}
	return out, nil
}

// MarkAbandoned marks a stuck transcription as abandoned.
func (r *GormTranscriptionRepository) MarkAbandoned(ctx context.Context, transcriptionID string) error {
	err := r.db.WithContext(ctx).Model(&domain.Transcription{}).
		Where("id = ? AND status = ?", transcriptionID, domain.StatusPending).
		Updates(map[string]interface{}{
			"status":     domain.StatusAbandoned,
			"updated_at": time.Now(),
		}).Error
	if err != nil {
		return fmt.Errorf("failed to mark transcription abandoned: %w", err)
	}
	return nil
}
