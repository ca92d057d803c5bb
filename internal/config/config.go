package config

import (
	"fmt"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	Environment string `envconfig:"ENV" default:"development"`
	Port        string `envconfig:"PORT" default:"8080"`
	DBHost      string `envconfig:"DB_HOST" required:"true"`
	DBPort      int    `envconfig:"DB_PORT" default:"5432"`
	DBUser      string `envconfig:"DB_USER" required:"true"`
	DBPassword  string `envconfig:"DB_PASSWORD" required:"true"`
	DBName      string `envconfig:"DB_NAME" required:"true"`
	JWTSecret   string `envconfig:"JWT_SECRET" required:"true"`

	// Upload storage (S3-compatible)
	S3URL       string `envconfig:"S3_URL" required:"true"`
	S3Bucket    string `envconfig:"S3_BUCKET" required:"true"`
	S3Region    string `envconfig:"S3_REGION" required:"true"`
	S3AccessKey string `envconfig:"S3_ACCESS_KEY" required:"true"`
	S3SecretKey string `envconfig:"S3_SECRET_KEY" required:"true"`

	// Stripe billing
	StripeSecretKey     string `envconfig:"STRIPE_SECRET_KEY" required:"true"`
	StripeWebhookSecret string `envconfig:"STRIPE_WEBHOOK_SECRET" required:"true"`
	StripeReturnURL     string `envconfig:"STRIPE_RETURN_URL" required:"true"`
	StripePriceBasic    string `envconfig:"STRIPE_PRICE_BASIC"`
	StripePricePro      string `envconfig:"STRIPE_PRICE_PRO"`
	StripePriceProPlus  string `envconfig:"STRIPE_PRICE_PRO_PLUS"`
	StripePriceCreator  string `envconfig:"STRIPE_PRICE_CREATOR"`

	// Event publishing
	GCPProjectID       string `envconfig:"GCP_PROJECT_ID"`
	BillingEventsTopic string `envconfig:"BILLING_EVENTS_TOPIC" default:"billing-events"`

	// Infrastructure provisioner. An empty base URL switches the client into
	// simulation mode for local development.
	ProvisionerBaseURL string `envconfig:"PROVISIONER_BASE_URL"`
	ProvisionerAPIKey  string `envconfig:"PROVISIONER_API_KEY"`
	ProvisionerRegion  string `envconfig:"PROVISIONER_REGION" default:"us-east-1"`

	// Provisioning worker settings
	ProvisionQueueName      string `envconfig:"PROVISION_QUEUE_NAME" default:"provision_jobs"`
	ProvisionPollTimeoutSec int    `envconfig:"PROVISION_POLL_TIMEOUT_SEC" default:"30"`
	ProvisionPollMaxMsg     int    `envconfig:"PROVISION_POLL_MAX_MSG" default:"1"`

	// Reconciler settings
	ReconcileDrainBatch int `envconfig:"RECONCILE_DRAIN_BATCH" default:"20"`

	// Inference API for artwork feedback
	InferenceBaseURL string `envconfig:"INFERENCE_BASE_URL" default:"https://api.openai.com/v1"`
	InferenceAPIKey  string `envconfig:"INFERENCE_API_KEY"`
	InferenceModel   string `envconfig:"INFERENCE_MODEL" default:"gpt-4o-mini"`
}

// DatabaseURL builds the Postgres connection string from the DB_* settings.
// Local development disables SSL; everything else keeps the driver default.
func (c *Config) DatabaseURL() string {
	dsn := fmt.Sprintf("postgres://%s:%s@%s:%d/%s", c.DBUser, c.DBPassword, c.DBHost, c.DBPort, c.DBName)
	if c.Environment == "development" {
		dsn += "?sslmode=disable"
	}
	return dsn
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}
