package handler

import (
	"context"
	"path/filepath"

	httpadapter "github.com/callscribe/voice-service/internal/adapters/http"
	"github.com/callscribe/voice-service/internal/config"
	"github.com/callscribe/voice-service/internal/repository"
	"github.com/callscribe/voice-service/internal/services/aggregator"
	"github.com/callscribe/voice-service/internal/services/call"
	"github.com/callscribe/voice-service/internal/services/pipeline"
	"github.com/callscribe/voice-service/pkg/gcs"
	"github.com/callscribe/voice-service/pkg/logger"
	"github.com/callscribe/voice-service/pkg/pubsub"
	"github.com/callscribe/voice-service/pkg/redis"
	twilioclient "github.com/callscribe/voice-service/pkg/twilio"
	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

// HandlerManager wires the service graph and registers all routes.
type HandlerManager struct {
	config      *config.Config
	repoManager repository.RepositoryManager
	twilio      *twilioclient.Client
	callService *call.Service
	aggregator  *aggregator.Service
	pipeline    *pipeline.Service
	events      *pubsub.PubSubService
	gcsClient   *gcs.GCSClient
}

// NewHandlerManager creates and initializes all services and handlers.
func NewHandlerManager(ctx context.Context, cfg *config.Config) (*HandlerManager, error) {
	repoManager, err := repository.NewRepositoryManager()
	if err != nil {
		logger.Base().Error("failed to connect to database", zap.Error(err))
		return nil, err
	}

	redisSvc, err := redis.NewRedisService(&redis.RedisConfig{
		Host:     cfg.RedisHost,
		Port:     cfg.RedisPort,
		Password: cfg.RedisPassword,
		DB:       0,
	})
	if err != nil {
		logger.Base().Error("failed to connect to redis", zap.Error(err))
		return nil, err
	}

	twilioClient := twilioclient.NewClient(cfg.TwilioAccountSID, cfg.TwilioAuthToken, cfg.TwilioPhoneNumber)

	var gcsClient *gcs.GCSClient
	if cfg.GCSBucket != "" {
		gcsClient, err = gcs.NewGCSClient(ctx, cfg.GCSBucket)
		if err != nil {
			logger.Base().Warn("failed to initialize gcs client, pdf upload disabled", zap.Error(err))
			gcsClient = nil
		}
	}

	var events *pubsub.PubSubService
	if cfg.PubSubProject != "" {
		events, err = pubsub.NewPubSubService(ctx, &pubsub.PubSubConfig{
			ProjectID: cfg.PubSubProject,
			TopicName: cfg.PubSubTopic,
		})
		if err != nil {
			logger.Base().Warn("failed to initialize pubsub, events disabled", zap.Error(err))
			events = nil
		}
	}

	mailer := pipeline.NewMailer(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUser, cfg.SMTPPass, cfg.SMTPFrom)
	pipelineSvc := pipeline.NewService(cfg, repoManager, twilioClient, mailer, gcsClient, events)

	aggregatorSvc := aggregator.NewService(repoManager, pipelineSvc)

	speechClient := httpadapter.NewSpeechClient(
		cfg.SpeechBaseURL,
		cfg.SpeechAPIKey,
		cfg.SpeechVoiceID,
		filepath.Join(cfg.AudioDir, "personalized"),
		cfg.SpeechRatePerMinute,
	)

	callService := call.NewService(cfg, repoManager, twilioClient, speechClient, redisSvc, aggregatorSvc)

	// Sweep abandoned calls in the background for the life of the process.
	go aggregatorSvc.StartSweepRoutine(ctx, cfg.SweepInterval, cfg.SweepMaxAge)

	return &HandlerManager{
		config:      cfg,
		repoManager: repoManager,
		twilio:      twilioClient,
		callService: callService,
		aggregator:  aggregatorSvc,
		pipeline:    pipelineSvc,
		events:      events,
		gcsClient:   gcsClient,
	}, nil
}

// SetupAllRoutes sets up all routes with middleware.
func (hm *HandlerManager) SetupAllRoutes(router *mux.Router) {
	router.Use(GlobalLoggingMiddleware)

	hm.SetupVoiceRoutes(router)
	hm.SetupAudioRoutes(router)
	hm.SetupAPIRoutes(router)

	logger.Base().Info("all application routes registered")
}

// SetupVoiceRoutes registers the provider webhook endpoints with signature
// validation.
func (hm *HandlerManager) SetupVoiceRoutes(router *mux.Router) {
	voiceRouter := router.NewRoute().Subrouter()
	voiceRouter.Use(TwilioSignatureMiddleware(
		hm.twilio.Validator(),
		hm.config.PublicBaseURL,
		hm.config.ValidateSignatures && hm.twilio.IsEnabled(),
	))

	NewVoiceWebhookHandler(hm.callService).SetupVoiceRoutes(voiceRouter)
}

// SetupAudioRoutes registers the prompt-clip endpoints.
func (hm *HandlerManager) SetupAudioRoutes(router *mux.Router) {
	NewAudioHandler(hm.config.AudioDir).SetupAudioRoutes(router)
}

// SetupAPIRoutes registers the management API behind key auth and CORS.
func (hm *HandlerManager) SetupAPIRoutes(router *mux.Router) {
	apiRouter := router.PathPrefix("/api").Subrouter()
	apiRouter.Use(CORSMiddleware)
	apiRouter.Use(APIKeyMiddleware(hm.config.SecretKey))

	NewAPIHandler(hm.repoManager).SetupAPIRoutes(apiRouter)
}

// GetRepoManager returns the repository manager.
func (hm *HandlerManager) GetRepoManager() repository.RepositoryManager {
	return hm.repoManager
}

// Close releases the manager's external connections.
func (hm *HandlerManager) Close() {
	if hm.gcsClient != nil {
		if err := hm.gcsClient.Close(); err != nil {
			logger.Base().Warn("failed to close gcs client", zap.Error(err))
		}
	}
	if err := hm.events.Close(); err != nil {
		logger.Base().Warn("failed to close pubsub", zap.Error(err))
	}
	if err := hm.repoManager.Close(); err != nil {
		logger.Base().Warn("failed to close database", zap.Error(err))
	}
}
