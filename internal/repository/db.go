package repository

import (
	"context"
	"time"

	"github.com/callscribe/voice-service/internal/domain"
	"gorm.io/gorm"
)

// UserRepository defines lookup and management operations for users.
type UserRepository interface {
	Create(ctx context.Context, user *domain.User) error
	GetByID(ctx context.Context, id string) (*domain.User, error)
	// GetByPhone returns (nil, nil) when no user owns the number.
	GetByPhone(ctx context.Context, phone string) (*domain.User, error)
}

// TranscriptionRepository defines operations on transcription records. The
// Append/Claim pair is the concurrency-sensitive core: recording callbacks for
// the same transcription arrive interleaved, once per leg.
type TranscriptionRepository interface {
	Create(ctx context.Context, t *domain.Transcription) error
	Update(ctx context.Context, t *domain.Transcription) error
	GetByID(ctx context.Context, id string) (*domain.Transcription, error)
	ListByUserID(ctx context.Context, userID string) ([]*domain.Transcription, error)

	// AppendRecording appends one leg's recording reference and returns the
	// total number of recordings after the append. The append and the count
	// happen atomically; a duplicate RecordingSID returns the current count
	// with appended=false.
	AppendRecording(ctx context.Context, transcriptionID string, rec *domain.Recording) (count int, appended bool, err error)

	// ClaimForProcessing flips status pending -> processing. Returns true for
	// exactly one caller per transcription; the winner hands off downstream.
	ClaimForProcessing(ctx context.Context, transcriptionID string) (bool, error)

	// FindStalePending returns pending transcriptions not updated since the
	// cutoff, for the abandoned-call sweep.
	FindStalePending(ctx context.Context, cutoff time.Time) ([]*domain.Transcription, error)
	MarkAbandoned(ctx context.Context, transcriptionID string) error
}

// RepositoryManager combines all repositories.
type RepositoryManager interface {
	Users() UserRepository
	Transcriptions() TranscriptionRepository

	Ping(ctx context.Context) error
	Close() error
}

// GormRepositoryManager implements RepositoryManager using GORM.
type GormRepositoryManager struct {
	db                *gorm.DB
	userRepo          *GormUserRepository
	transcriptionRepo *GormTranscriptionRepository
}

// NewGormRepositoryManager creates a new GORM repository manager.
func NewGormRepositoryManager(db *gorm.DB) *GormRepositoryManager {
	return &GormRepositoryManager{
		db:                db,
		userRepo:          NewGormUserRepository(db),
		transcriptionRepo: NewGormTranscriptionRepository(db),
	}
}

// Users returns the user repository.
func (m *GormRepositoryManager) Users() UserRepository {
	return m.userRepo
}

// Transcriptions returns the transcription repository.
func (m *GormRepositoryManager) Transcriptions() TranscriptionRepository {
	return m.transcriptionRepo
}

// Ping checks the database connection.
func (m *GormRepositoryManager) Ping(ctx context.Context) error {
	sqlDB, err := m.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Close closes the database connection.
func (m *GormRepositoryManager) Close() error {
	sqlDB, err := m.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
