// Package pipeline turns a completed set of call recordings into a delivered
// transcript: download, transcribe, summarize, render to PDF, then deliver by
// email and SMS. It runs asynchronously after the recording barrier releases
// a transcription, exactly once per record.
package pipeline

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/callscribe/voice-service/internal/config"
	"github.com/callscribe/voice-service/internal/domain"
	"github.com/callscribe/voice-service/internal/repository"
	"github.com/callscribe/voice-service/internal/storage"
	"github.com/callscribe/voice-service/pkg/gcs"
	"github.com/callscribe/voice-service/pkg/logger"
	"github.com/callscribe/voice-service/pkg/pubsub"
	"go.uber.org/zap"
)

// MediaStore is the provider side of the pipeline: fetching recorded audio,
// deleting it after processing, and SMS delivery.
type MediaStore interface {
	DownloadRecording(ctx context.Context, recordingURL, destDir, filename string) (string, error)
	DeleteRecording(ctx context.Context, recordingSID string) error
	SendSMS(ctx context.Context, to, body string) error
	IsEnabled() bool
}

// Service processes claimed transcriptions end to end.
type Service struct {
	cfg    *config.Config
	repos  repository.RepositoryManager
	media  MediaStore
	mailer *Mailer
	gcs    *gcs.GCSClient    // nil when no bucket configured
	events *pubsub.PubSubService // nil-safe
}

// NewService creates the pipeline.
func NewService(cfg *config.Config, repos repository.RepositoryManager, media MediaStore, mailer *Mailer, gcsClient *gcs.GCSClient, events *pubsub.PubSubService) *Service {
	return &Service{cfg: cfg, repos: repos, media: media, mailer: mailer, gcs: gcsClient, events: events}
}

// Submit processes one transcription. Invoked in its own goroutine by the
// aggregator; errors mark the record failed and keep the recordings so a
// manual retry stays possible.
func (s *Service) Submit(ctx context.Context, transcriptionID string) {
	start := time.Now()
	if err := s.process(ctx, transcriptionID); err != nil {
		logger.Base().Error("pipeline failed",
			zap.String("transcription_id", transcriptionID),
			zap.Duration("elapsed", time.Since(start)),
			zap.Error(err))
		s.markFailed(ctx, transcriptionID)
		return
	}
	logger.Base().Info("pipeline completed",
		zap.String("transcription_id", transcriptionID),
		zap.Duration("elapsed", time.Since(start)))
}

func (s *Service) process(ctx context.Context, transcriptionID string) error {
	// Recording media is not always fetchable the instant the callback
	// fires; give the provider a moment to finalize it.
	select {
	case <-time.After(s.cfg.SettleDelay):
	case <-ctx.Done():
		return ctx.Err()
	}

	t, err := s.repos.Transcriptions().GetByID(ctx, transcriptionID)
	if err != nil {
		return fmt.Errorf("failed to load transcription: %w", err)
	}
	if t == nil {
		return fmt.Errorf("transcription %s not found", transcriptionID)
	}

	user, err := s.repos.Users().GetByID(ctx, t.UserID)
	if err != nil || user == nil {
		return fmt.Errorf("failed to load owner %s: %w", t.UserID, err)
	}

	workDir := filepath.Join(s.cfg.WorkDir, transcriptionID)
	if err := os.MkdirAll(workDir, 0o755); err != nil {
		return fmt.Errorf("failed to create work dir: %w", err)
	}
	defer os.RemoveAll(workDir)

	// Subject clip first: its transcript replaces the placeholder and names
	// the delivered document.
	subject := t.Subject
	if t.SubjectURL != "" {
		text, err := s.transcribeRemote(ctx, t.SubjectURL, workDir, "subject")
		if err != nil {
			logger.Base().Warn("subject transcription failed, keeping placeholder",
				zap.String("transcription_id", transcriptionID), zap.Error(err))
		} else if cleaned := strings.TrimSpace(text); cleaned != "" {
			subject = cleaned
		}
	}

	segments := make([]storage.TranscriptSegment, 0, len(t.Recordings))
	var merged strings.Builder
	totalSeconds := 0
	for i, rec := range t.Recordings {
		totalSeconds += rec.Duration
		text, err := s.transcribeRemote(ctx, rec.URL, workDir, fmt.Sprintf("leg-%d", i+1))
		if err != nil {
			return fmt.Errorf("failed to transcribe leg %d: %w", i+1, err)
		}
		label := fmt.Sprintf("Participant %d", i+1)
		segments = append(segments, storage.TranscriptSegment{Label: label, Text: strings.TrimSpace(text)})
		fmt.Fprintf(&merged, "%s:\n%s\n\n", label, strings.TrimSpace(text))
	}

	summary, err := s.summarize(ctx, merged.String())
	if err != nil {
		logger.Base().Warn("summarization failed, delivering without summary",
			zap.String("transcription_id", transcriptionID), zap.Error(err))
		summary = ""
	}

	pdfBytes, err := storage.GenerateTranscriptPDF(storage.TranscriptDocument{
		Subject:      subject,
		CallerName:   user.Name,
		Participants: len(t.Recordings),
		Duration:     time.Duration(totalSeconds) * time.Second,
		RecordedAt:   t.CreatedAt,
		Summary:      summary,
		Segments:     segments,
	})
	if err != nil {
		return err
	}

	pdfURL := s.uploadPDF(ctx, transcriptionID, pdfBytes)
	s.deliver(ctx, user, subject, pdfBytes, pdfURL)

	if s.cfg.DeleteRecordings && s.media.IsEnabled() {
		for _, rec := range t.Recordings {
			if err := s.media.DeleteRecording(ctx, rec.RecordingSID); err != nil {
				logger.Base().Warn("failed to delete provider recording",
					zap.String("recording_sid", rec.RecordingSID), zap.Error(err))
			}
		}
	}

	t.Subject = subject
	t.Summary = summary
	t.Length = totalSeconds
	t.PDFURL = pdfURL
	t.PDFSize = int64(len(pdfBytes))
	t.Status = domain.StatusCompleted
	t.Completed = true
	if err := s.repos.Transcriptions().Update(ctx, t); err != nil {
		return fmt.Errorf("failed to finalize transcription: %w", err)
	}

	if err := s.events.PublishTranscriptReady(ctx, pubsub.TranscriptReadyEvent{
		TranscriptionID: t.ID,
		UserID:          t.UserID,
		Subject:         subject,
		Participants:    len(t.Recordings),
		LengthSeconds:   totalSeconds,
		PDFURL:          pdfURL,
		PDFSize:         int64(len(pdfBytes)),
	}); err != nil {
		logger.Base().Warn("failed to publish transcript event",
			zap.String("transcription_id", t.ID), zap.Error(err))
	}

	return nil
}

// transcribeRemote downloads one recording and runs the transcription command
// on it, returning the transcript text.
func (s *Service) transcribeRemote(ctx context.Context, recordingURL, workDir, name string) (string, error) {
	audioPath, err := s.media.DownloadRecording(ctx, recordingURL, workDir, name+".wav")
	if err != nil {
		return "", err
	}
	return s.transcribeFile(ctx, audioPath)
}

// transcribeFile shells out to the configured transcription command. The
// command is expected to write <audio basename>.txt next to its working
// directory, which is how whisperx behaves with --output_format txt.
func (s *Service) transcribeFile(ctx context.Context, audioPath string) (string, error) {
	cmdline := fmt.Sprintf(s.cfg.TranscribeCmd, audioPath)

	cmd := exec.CommandContext(ctx, "/bin/sh", "-c", cmdline)
	cmd.Dir = filepath.Dir(audioPath)
	if out, err := cmd.CombinedOutput(); err != nil {
		return "", fmt.Errorf("transcription command failed: %w: %s", err, truncate(string(out), 500))
	}

	txtPath := strings.TrimSuffix(audioPath, filepath.Ext(audioPath)) + ".txt"
	data, err := os.ReadFile(txtPath)
	if err != nil {
		return "", fmt.Errorf("transcription output not found: %w", err)
	}
	return string(data), nil
}

// summarize pipes the prompt and transcript into the configured summarization
// command and returns its stdout.
func (s *Service) summarize(ctx context.Context, transcript string) (string, error) {
	if strings.TrimSpace(transcript) == "" {
		return "", nil
	}

	cmd := exec.CommandContext(ctx, "/bin/sh", "-c", s.cfg.SummarizeCmd)
	cmd.Stdin = strings.NewReader(s.cfg.SummarizePrompt + "\n\n" + transcript)
	out, err := cmd.Output()
	if err != nil {
		return "", fmt.Errorf("summarize command failed: %w", err)
	}
	return strings.TrimSpace(string(out)), nil
}

// uploadPDF stores the PDF in the configured bucket. Upload failure degrades
// to email-only delivery instead of failing the pipeline.
func (s *Service) uploadPDF(ctx context.Context, transcriptionID string, pdf []byte) string {
	if s.gcs == nil {
		return ""
	}
	objectPath := fmt.Sprintf("transcripts/%s/%s.pdf", time.Now().Format("2006/01"), transcriptionID)
	url, err := s.gcs.Upload(ctx, objectPath, strings.NewReader(string(pdf)))
	if err != nil {
		logger.Base().Warn("pdf upload failed",
			zap.String("transcription_id", transcriptionID), zap.Error(err))
		return ""
	}
	return url
}

// deliver sends the transcript by email (attachment) and SMS (link). Each
// channel fails independently; delivery problems never fail the pipeline.
func (s *Service) deliver(ctx context.Context, user *domain.User, subject string, pdf []byte, pdfURL string) {
	if s.mailer.Enabled() && user.Email != "" {
		body := fmt.Sprintf("Hi %s,\n\nYour transcript for %q is attached.\n", user.Name, subject)
		if err := s.mailer.SendTranscript(user.Email, "Your call transcript: "+subject, body, "transcript.pdf", pdf); err != nil {
			logger.Base().Warn("email delivery failed",
				zap.String("user_id", user.ID), zap.Error(err))
		}
	}

	if s.media.IsEnabled() && user.Phone != "" {
		body := fmt.Sprintf("Your transcript for %q is ready.", subject)
		if pdfURL != "" {
			body += " Download: " + pdfURL
		}
		if err := s.media.SendSMS(ctx, "+1"+user.Phone, body); err != nil {
			logger.Base().Warn("sms delivery failed",
				zap.String("user_id", user.ID), zap.Error(err))
		}
	}
}

func (s *Service) markFailed(ctx context.Context, transcriptionID string) {
	t, err := s.repos.Transcriptions().GetByID(ctx, transcriptionID)
	if err != nil || t == nil {
		logger.Base().Error("failed to load transcription to mark failed",
			zap.String("transcription_id", transcriptionID), zap.Error(err))
		return
	}
	t.Status = domain.StatusFailed
	if err := s.repos.Transcriptions().Update(ctx, t); err != nil {
		logger.Base().Error("failed to mark transcription failed",
			zap.String("transcription_id", transcriptionID), zap.Error(err))
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
