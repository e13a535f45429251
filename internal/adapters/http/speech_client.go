// Package http holds outbound HTTP adapters for external APIs.
package http

import (
	"bytes"
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/callscribe/voice-service/pkg/logger"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// SpeechClient synthesizes the personalized greeting clip through an
// ElevenLabs-style text-to-speech API and caches the result on disk, keyed by
// the spoken text. Repeat callers cost no API credits.
type SpeechClient struct {
	httpClient *http.Client
	limiter    *rate.Limiter
	baseURL    string
	apiKey     string
	voiceID    string
	outputDir  string
}

// NewSpeechClient creates the client. outputDir receives the synthesized MP3
// files; the audio handler serves them back to the telephony provider.
func NewSpeechClient(baseURL, apiKey, voiceID, outputDir string, ratePerMinute int) *SpeechClient {
	if ratePerMinute <= 0 {
		ratePerMinute = 20
	}
	return &SpeechClient{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		limiter:    rate.NewLimiter(rate.Every(time.Minute/time.Duration(ratePerMinute)), 1),
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		voiceID:    voiceID,
		outputDir:  outputDir,
	}
}

type synthesizeRequest struct {
	Text          string         `json:"text"`
	ModelID       string         `json:"model_id"`
	VoiceSettings map[string]any `json:"voice_settings,omitempty"`
}

// SynthesizeGreeting produces "Welcome back, <name>." as an MP3 and returns
// the filename under the output directory. Served from cache when the same
// name has been synthesized before.
func (c *SpeechClient) SynthesizeGreeting(ctx context.Context, name string) (string, error) {
	text := fmt.Sprintf("Welcome back, %s.", name)
	filename := greetingFilename(text)
	outPath := filepath.Join(c.outputDir, filename)

	if _, err := os.Stat(outPath); err == nil {
		return filename, nil
	}

	if c.apiKey == "" {
		return "", fmt.Errorf("speech synthesis is not configured")
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("rate limit wait aborted: %w", err)
	}

	body, err := json.Marshal(synthesizeRequest{
		Text:    text,
		ModelID: "eleven_monolingual_v1",
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal synthesis request: %w", err)
	}

	url := fmt.Sprintf("%s/v1/text-to-speech/%s", c.baseURL, c.voiceID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to build synthesis request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "audio/mpeg")
	req.Header.Set("xi-api-key", c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("synthesis request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("synthesis API returned status %d: %s", resp.StatusCode, string(detail))
	}

	if err := os.MkdirAll(c.outputDir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create audio dir: %w", err)
	}

	// Write to a temp file first so a partially written clip is never served.
	tmp, err := os.CreateTemp(c.outputDir, "synth-*.tmp")
	if err != nil {
		return "", fmt.Errorf("failed to create temp audio file: %w", err)
	}
	if _, err := io.Copy(tmp, resp.Body); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", fmt.Errorf("failed to write audio: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("failed to close audio file: %w", err)
	}
	if err := os.Rename(tmp.Name(), outPath); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("failed to move audio file: %w", err)
	}

	logger.Base().Info("greeting synthesized",
		zap.String("file", filename),
		zap.Int("bytes", mustSize(outPath)))
	return filename, nil
}

// greetingFilename derives a stable filename from the spoken text so the
// cache key survives restarts.
func greetingFilename(text string) string {
	sum := sha1.Sum([]byte(text))
	return "greeting-" + hex.EncodeToString(sum[:8]) + ".mp3"
}

func mustSize(path string) int {
	info, err := os.Stat(path)
	if err != nil {
		return 0
	}
	return int(info.Size())
}
