package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds the service configuration, loaded from environment variables.
// A .env file is loaded in main for local development.
type Config struct {
	Port          string
	PublicBaseURL string // externally reachable base URL for webhook callbacks
	SecretKey     string // JWT secret for the management API; empty disables auth

	// Twilio
	TwilioAccountSID   string
	TwilioAuthToken    string
	TwilioPhoneNumber  string
	ValidateSignatures bool

	// Speech synthesis (personalized greeting)
	SpeechAPIKey        string
	SpeechBaseURL       string
	SpeechVoiceID       string
	SpeechRatePerMinute int

	// Audio assets and pipeline scratch space
	AudioDir string
	WorkDir  string

	// Call shape
	SubjectMaxSeconds   int
	GatherTimeoutSecs   int
	MaxRecordingSeconds int

	// Downstream pipeline
	SettleDelay      time.Duration // wait before fetching recordings from the provider
	TranscribeCmd    string        // command template, %s replaced with audio path
	SummarizeCmd     string        // command reading the prompt on stdin
	SummarizePrompt  string
	SweepInterval    time.Duration
	SweepMaxAge      time.Duration
	DeleteRecordings bool

	// Delivery
	SMTPHost string
	SMTPPort string
	SMTPUser string
	SMTPPass string
	SMTPFrom string

	// Cloud (optional)
	GCSBucket     string
	PubSubProject string
	PubSubTopic   string

	// Redis
	RedisHost     string
	RedisPort     string
	RedisPassword string
}

// LoadFromEnv loads configuration from environment variables with defaults
// suitable for local development.
func LoadFromEnv() *Config {
	return &Config{
		Port:          getEnvOrDefault("PORT", "8080"),
		PublicBaseURL: getEnvOrDefault("PUBLIC_BASE_URL", "http://localhost:8080"),
		SecretKey:     getEnvOrDefault("SECRET_KEY", ""),

		TwilioAccountSID:   getEnvOrDefault("TWILIO_ACCOUNT_SID", ""),
		TwilioAuthToken:    getEnvOrDefault("TWILIO_AUTH_TOKEN", ""),
		TwilioPhoneNumber:  getEnvOrDefault("TWILIO_PHONE_NUMBER", ""),
		ValidateSignatures: getEnvAsBoolOrDefault("TWILIO_VALIDATE_SIGNATURES", false),

		SpeechAPIKey:        getEnvOrDefault("SPEECH_API_KEY", ""),
		SpeechBaseURL:       getEnvOrDefault("SPEECH_BASE_URL", "https://api.elevenlabs.io"),
		SpeechVoiceID:       getEnvOrDefault("SPEECH_VOICE_ID", "21m00Tcm4TlvDq8ikWAM"),
		SpeechRatePerMinute: getEnvAsIntOrDefault("SPEECH_RATE_PER_MINUTE", 20),

		AudioDir: getEnvOrDefault("AUDIO_DIR", "static/audio"),
		WorkDir:  getEnvOrDefault("WORK_DIR", "/tmp/callscribe"),

		SubjectMaxSeconds:   getEnvAsIntOrDefault("SUBJECT_MAX_SECONDS", 5),
		GatherTimeoutSecs:   getEnvAsIntOrDefault("GATHER_TIMEOUT_SECONDS", 5),
		MaxRecordingSeconds: getEnvAsIntOrDefault("MAX_RECORDING_SECONDS", 600),

		SettleDelay:      time.Duration(getEnvAsIntOrDefault("PIPELINE_SETTLE_DELAY_SECONDS", 5)) * time.Second,
		TranscribeCmd:    getEnvOrDefault("TRANSCRIBE_CMD", "whisperx %s --model large-v2 --language en --compute_type int8 --output_format txt"),
		SummarizeCmd:     getEnvOrDefault("SUMMARIZE_CMD", "ollama run llama3"),
		SummarizePrompt:  getEnvOrDefault("SUMMARIZE_PROMPT", "Create a short summary of the following transcription and do not include anything other than the summary:"),
		SweepInterval:    time.Duration(getEnvAsIntOrDefault("SWEEP_INTERVAL_MINUTES", 15)) * time.Minute,
		SweepMaxAge:      time.Duration(getEnvAsIntOrDefault("SWEEP_MAX_AGE_MINUTES", 120)) * time.Minute,
		DeleteRecordings: getEnvAsBoolOrDefault("DELETE_PROVIDER_RECORDINGS", true),

		SMTPHost: getEnvOrDefault("SMTP_HOST", ""),
		SMTPPort: getEnvOrDefault("SMTP_PORT", "587"),
		SMTPUser: getEnvOrDefault("SMTP_USER", ""),
		SMTPPass: getEnvOrDefault("SMTP_PASS", ""),
		SMTPFrom: getEnvOrDefault("SMTP_FROM", ""),

		GCSBucket:     getEnvOrDefault("GCS_BUCKET", ""),
		PubSubProject: getEnvOrDefault("PUBSUB_PROJECT_ID", ""),
		PubSubTopic:   getEnvOrDefault("PUBSUB_TOPIC", "callscribe-transcripts"),

		RedisHost:     getEnvOrDefault("REDIS_HOST", "localhost"),
		RedisPort:     getEnvOrDefault("REDIS_PORT", "6379"),
		RedisPassword: getEnvOrDefault("REDIS_PASSWORD", ""),
	}
}

// getEnvOrDefault gets environment variable or returns default.
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsIntOrDefault gets environment variable as int or returns default.
func getEnvAsIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// getEnvAsBoolOrDefault gets environment variable as bool or returns default.
func getEnvAsBoolOrDefault(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}
