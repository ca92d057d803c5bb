package router

import (
	"context"
	"net/http"
	"strings"
	"time"

	"app/internal/api/v1/handler"
	"app/internal/config"
	"app/internal/middleware"
	"app/internal/pgmq"
	"app/internal/pubsub"
	"app/internal/repository"
	"app/internal/service"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	awsmiddleware "github.com/aws/smithy-go/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/cors"
	"github.com/rs/zerolog"
)

func New(cfg *config.Config, logger zerolog.Logger) (http.Handler, *pgxpool.Pool, error) {
	logger.Info().Str("environment", cfg.Environment).Msg("Router initializing")

	// 1. Open DB connection pool
	poolCfg, err := pgxpool.ParseConfig(cfg.DatabaseURL())
	if err != nil {
		logger.Fatal().Msgf("Failed to parse DB config: %v", err)
		return nil, nil, err
	}
	poolCfg.MaxConns = 25
	poolCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(context.Background(), poolCfg)
	if err != nil {
		logger.Fatal().Msgf("Failed to open DB connection: %v", err)
		return nil, nil, err
	}
	if err := pool.Ping(context.Background()); err != nil {
		logger.Fatal().Msgf("Failed to ping DB: %v", err)
		return nil, nil, err
	}
	logger.Info().Msg("Database connection successful")

	// 2. Initialize S3 client
	s3Config, err := awsconfig.LoadDefaultConfig(context.TODO(),
		awsconfig.WithRegion(cfg.S3Region),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(cfg.S3AccessKey, cfg.S3SecretKey, "")),
		awsconfig.WithAPIOptions([]func(*awsmiddleware.Stack) error{removeDisableGzip()}),
	)
	if err != nil {
		logger.Fatal().Msgf("Failed to load S3 config: %v", err)
	}
	s3Client := s3.NewFromConfig(s3Config, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(cfg.S3URL)
		o.UsePathStyle = true
	})

	// 3. Initialize validator
	validate := validator.New(validator.WithRequiredStructEnabled())

	// 4. Initialize Pub/Sub publisher. Billing events are best-effort, so a
	// missing project just disables them.
	var publisher pubsub.Publisher
	if cfg.GCPProjectID != "" {
		p, err := pubsub.NewPublisher(context.Background(), cfg)
		if err != nil {
			logger.Fatal().Msgf("Failed to create Pub/Sub publisher: %v", err)
			return nil, nil, err
		}
		publisher = p
	} else {
		logger.Warn().Msg("GCP_PROJECT_ID not set, billing events disabled")
	}

	// 5. Initialize repositories & services & handlers
	userRepo := repository.NewUserRepo(pool)
	walletRepo := repository.NewWalletRepo(pool)
	planRepo := repository.NewPlanRepo(pool)
	provisionRepo := repository.NewProvisionRepo(pool)

	queueClient := pgmq.New(pool)

	walletSvc := service.NewWalletService(walletRepo, publisher, cfg.BillingEventsTopic, logger)
	planSvc := service.NewPlanService(planRepo, userRepo, logger)
	usageSvc := service.NewUsageService(userRepo, planSvc, logger)
	provider := service.NewInfraProvider(cfg)
	provisioningSvc := service.NewProvisioningService(provisionRepo, walletSvc, provider, queueClient, cfg.ProvisionQueueName, publisher, cfg.BillingEventsTopic, logger)
	uploadSvc := service.NewUploadService(userRepo, planSvc, usageSvc, walletSvc, s3Client, cfg.S3Bucket, logger)
	feedbackSvc := service.NewFeedbackService(cfg, usageSvc, logger)
	stripeSvc := service.NewStripeService(cfg, userRepo, planSvc, walletSvc, provisioningSvc, logger)

	walletHandler := handler.NewWalletHandler(walletSvc, stripeSvc, validate, logger)
	usageHandler := handler.NewUsageHandler(usageSvc, validate, logger)
	provisionHandler := handler.NewProvisionHandler(provisioningSvc, planSvc, logger)
	planHandler := handler.NewPlanHandler(planSvc, stripeSvc, cfg, validate, logger)
	uploadHandler := handler.NewUploadHandler(uploadSvc, validate, logger)
	feedbackHandler := handler.NewFeedbackHandler(feedbackSvc, validate, logger)

	// 6. Initialize middleware
	authMiddleware := middleware.AuthMiddleware(cfg.JWTSecret)

	// 7. Create ServeMux router
	mux := http.NewServeMux()

	apiV1Mux := http.NewServeMux()
	walletHandler.RegisterRoutes(apiV1Mux, authMiddleware)
	usageHandler.RegisterRoutes(apiV1Mux, authMiddleware)
	provisionHandler.RegisterRoutes(apiV1Mux, authMiddleware)
	planHandler.RegisterRoutes(apiV1Mux, authMiddleware)
	uploadHandler.RegisterRoutes(apiV1Mux, authMiddleware)
	feedbackHandler.RegisterRoutes(apiV1Mux, authMiddleware)

	// Stripe signs the webhook itself; no bearer auth here.
	apiV1Mux.HandleFunc("/billing/webhook", stripeSvc.HandleWebhook)

	// Mount the API v1 routes under /v1
	mux.Handle("/v1/", http.StripPrefix("/v1", apiV1Mux))

	// Redirect all other root-level requests to /v1/{path}
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.URL.Path, "/v1/") {
			http.NotFound(w, r)
			return
		}
		http.Redirect(w, r, "/v1"+r.URL.Path, http.StatusMovedPermanently)
	})

	// 8. Apply CORS middleware
	c := cors.New(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
		Debug:            false,
	})

	return middleware.LoggerMiddleware(c.Handler(mux)), pool, nil
}

// removeDisableGzip is a workaround for S3 signature errors with some S3-compatible services.
// See: https://github.com/supabase/storage/issues/577
func removeDisableGzip() func(*awsmiddleware.Stack) error {
	return func(stack *awsmiddleware.Stack) error {
		// Only remove the middleware if it exists, so presigned URL operations
		// that inspect the stack keep working.
		if _, ok := stack.Finalize.Get("DisableAcceptEncodingGzip"); ok {
			_, err := stack.Finalize.Remove("DisableAcceptEncodingGzip")
			return err
		}
		return nil
	}
}
