package twilio

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/callscribe/voice-service/pkg/logger"
	"github.com/twilio/twilio-go"
	twclient "github.com/twilio/twilio-go/client"
	api "github.com/twilio/twilio-go/rest/api/v2010"
	"go.uber.org/zap"
)

// Client wraps the Twilio REST API for the operations the orchestrator and
// pipeline need: outbound dial-out, live-call redirect, SMS delivery, and
// recording download/cleanup.
type Client struct {
	rest       *twilio.RestClient
	validator  twclient.RequestValidator
	httpClient *http.Client
	accountSID string
	authToken  string
	fromNumber string
	enabled    bool
}

// NewClient creates a Twilio client. If credentials are missing the client is
// disabled and every operation returns an error; the webhook surface still
// works, which keeps local development possible without an account.
func NewClient(accountSID, authToken, fromNumber string) *Client {
	if accountSID == "" || authToken == "" {
		logger.Base().Warn("Twilio credentials not provided, REST client disabled")
		return &Client{enabled: false}
	}

	return &Client{
		rest:       twilio.NewRestClientWithParams(twilio.ClientParams{Username: accountSID, Password: authToken}),
		validator:  twclient.NewRequestValidator(authToken),
		httpClient: &http.Client{Timeout: 60 * time.Second},
		accountSID: accountSID,
		authToken:  authToken,
		fromNumber: fromNumber,
		enabled:    true,
	}
}

// IsEnabled reports whether REST operations are available.
func (c *Client) IsEnabled() bool {
	return c.enabled
}

// Validator returns the request validator for webhook signature checks.
func (c *Client) Validator() twclient.RequestValidator {
	return c.validator
}

// StartOutboundCall places a call to a new participant. answerURL is fetched
// when the callee picks up; statusCallbackURL fires on the "answered" event so
// the orchestrator can update the owner's live call.
func (c *Client) StartOutboundCall(ctx context.Context, to, answerURL, statusCallbackURL string) (string, error) {
	if !c.enabled {
		return "", fmt.Errorf("twilio client is disabled")
	}

	params := &api.CreateCallParams{}
	params.SetTo(to)
	params.SetFrom(c.fromNumber)
	params.SetUrl(answerURL)
	params.SetMethod(http.MethodPost)
	params.SetStatusCallback(statusCallbackURL)
	params.SetStatusCallbackEvent([]string{"answered"})
	params.SetStatusCallbackMethod(http.MethodPost)

	resp, err := c.rest.Api.CreateCall(params)
	if err != nil {
		return "", fmt.Errorf("failed to create outbound call: %w", err)
	}
	if resp.Sid == nil {
		return "", fmt.Errorf("outbound call created without sid")
	}

	logger.Base().Info("outbound call placed",
		zap.String("call_sid", *resp.Sid),
		zap.String("to", to))
	return *resp.Sid, nil
}

// RedirectCall pushes new voice instructions into an in-progress call. This is
// the only way to change what a connected leg hears outside of its own
// webhook cycle.
func (c *Client) RedirectCall(ctx context.Context, callSID, url string) error {
	if !c.enabled {
		return fmt.Errorf("twilio client is disabled")
	}

	params := &api.UpdateCallParams{}
	params.SetUrl(url)
	params.SetMethod(http.MethodPost)

	if _, err := c.rest.Api.UpdateCall(callSID, params); err != nil {
		return fmt.Errorf("failed to redirect call %s: %w", callSID, err)
	}

	logger.Base().Info("live call redirected",
		zap.String("call_sid", callSID),
		zap.String("url", url))
	return nil
}

// SendSMS sends a text message from the service number.
func (c *Client) SendSMS(ctx context.Context, to, body string) error {
	if !c.enabled {
		return fmt.Errorf("twilio client is disabled")
	}

	params := &api.CreateMessageParams{}
	params.SetTo(to)
	params.SetFrom(c.fromNumber)
	params.SetBody(body)

	if _, err := c.rest.Api.CreateMessage(params); err != nil {
		return fmt.Errorf("failed to send sms to %s: %w", to, err)
	}
	return nil
}

// DownloadRecording fetches a recording by its media URL into destDir and
// returns the local file path. Recording media requires basic auth.
func (c *Client) DownloadRecording(ctx context.Context, recordingURL, destDir, filename string) (string, error) {
	if !c.enabled {
		return "", fmt.Errorf("twilio client is disabled")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, recordingURL, nil)
	if err != nil {
		return "", fmt.Errorf("failed to build recording request: %w", err)
	}
	req.SetBasicAuth(c.accountSID, c.authToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to fetch recording: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("recording fetch returned status %d", resp.StatusCode)
	}

	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create download dir: %w", err)
	}

	outPath := filepath.Join(destDir, filename)
	out, err := os.Create(outPath)
	if err != nil {
		return "", fmt.Errorf("failed to create recording file: %w", err)
	}
	defer out.Close()

	if _, err := io.Copy(out, resp.Body); err != nil {
		return "", fmt.Errorf("failed to write recording file: %w", err)
	}

	return outPath, nil
}

// DeleteRecording removes a recording from Twilio once it has been processed.
func (c *Client) DeleteRecording(ctx context.Context, recordingSID string) error {
	if !c.enabled {
		return fmt.Errorf("twilio client is disabled")
	}

	if err := c.rest.Api.DeleteRecording(recordingSID, &api.DeleteRecordingParams{}); err != nil {
		return fmt.Errorf("failed to delete recording %s: %w", recordingSID, err)
	}

	logger.Base().Info("recording deleted", zap.String("recording_sid", recordingSID))
	return nil
}
