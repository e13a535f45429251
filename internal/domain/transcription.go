package domain

import (
	"time"
)

// TranscriptionStatus tracks a transcription through its lifecycle.
type TranscriptionStatus string

const (
	// StatusPending: created at subject capture, waiting for recording legs.
	StatusPending TranscriptionStatus = "pending"
	// StatusProcessing: barrier satisfied, claimed by the downstream pipeline.
	StatusProcessing TranscriptionStatus = "processing"
	// StatusCompleted: transcript delivered.
	StatusCompleted TranscriptionStatus = "completed"
	// StatusFailed: downstream processing failed; recordings kept for retry.
	StatusFailed TranscriptionStatus = "failed"
	// StatusAbandoned: never reached the barrier and aged out (owner hung up
	// before every leg reported in).
	StatusAbandoned TranscriptionStatus = "abandoned"
)

// SubjectPlaceholder fills Subject until the subject clip has been transcribed.
const SubjectPlaceholder = "(subject pending)"

// Transcription is one logical recorded call. Created when the subject
// recording finishes, mutated as participant legs deliver their recordings,
// and effectively immutable once Completed is true.
type Transcription struct {
	ID           string              `json:"id" gorm:"column:id;primaryKey"`
	UserID       string              `json:"user_id" gorm:"column:user_id;index"`
	Subject      string              `json:"subject" gorm:"column:subject"`
	SubjectURL   string              `json:"subject_url" gorm:"column:subject_url"`
	ExpectedLegs int                 `json:"expected_legs" gorm:"column:expected_legs"`
	Status       TranscriptionStatus `json:"status" gorm:"column:status;index"`
	Completed    bool                `json:"completed" gorm:"column:completed"`
	Length       int                 `json:"length" gorm:"column:length"`
	Summary      string              `json:"summary,omitempty" gorm:"column:summary"`
	PDFURL       string              `json:"pdf_url,omitempty" gorm:"column:pdf_url"`
	PDFSize      int64               `json:"pdf_size,omitempty" gorm:"column:pdf_size"`
	CreatedAt    time.Time           `json:"created_at" gorm:"column:created_at"`
	UpdatedAt    time.Time           `json:"updated_at" gorm:"column:updated_at"`

	Recordings []Recording `json:"recordings,omitempty" gorm:"foreignKey:TranscriptionID"`
}

func (Transcription) TableName() string {
	return "transcriptions"
}

// Recording is one leg's audio reference, appended as each leg's recording
// callback fires. Rows are append-only; insertion order is call-completion
// order, not participant-join order. The unique index on RecordingSID is the
// authoritative guard against duplicate webhook delivery.
type Recording struct {
	ID              string    `json:"id" gorm:"column:id;primaryKey"`
	TranscriptionID string    `json:"transcription_id" gorm:"column:transcription_id;index"`
	RecordingSID    string    `json:"recording_sid" gorm:"column:recording_sid;uniqueIndex"`
	URL             string    `json:"url" gorm:"column:url"`
	Duration        int       `json:"duration" gorm:"column:duration"`
	CreatedAt       time.Time `json:"created_at" gorm:"column:created_at"`
}

func (Recording) TableName() string {
	return "recordings"
}
