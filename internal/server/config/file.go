package config

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/dmitrijs2005/scanrebate/internal/flagx"
	"github.com/dmitrijs2005/scanrebate/internal/timex"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// FileConfig is the on-disk shape of the configuration, readable from JSON
// or YAML. Durations use timex.Duration so both "30s" and integer
// nanoseconds are accepted.
type FileConfig struct {
	HTTPAddr       string `json:"http_addr" yaml:"http_addr"`
	GRPCAddr       string `json:"grpc_addr" yaml:"grpc_addr"`
	StorageBackend string `json:"storage_backend" yaml:"storage_backend"`
	DatabaseDSN    string `json:"database_dsn" yaml:"database_dsn"`
	LogLevel       string `json:"log_level" yaml:"log_level"`

	SecretKey                   string            `json:"secret_key" yaml:"secret_key"`
	AccessTokenValidityDuration timex.Duration    `json:"access_token_validity_duration" yaml:"access_token_validity_duration"`
	Operators                   map[string]string `json:"operators" yaml:"operators"`

	S3RootUser          string         `json:"s3_root_user" yaml:"s3_root_user"`
	S3RootPassword      string         `json:"s3_root_password" yaml:"s3_root_password"`
	S3Bucket            string         `json:"s3_bucket" yaml:"s3_bucket"`
	S3Region            string         `json:"s3_region" yaml:"s3_region"`
	S3BaseEndpoint      string         `json:"s3_base_endpoint" yaml:"s3_base_endpoint"`
	EvidenceURLValidity timex.Duration `json:"evidence_url_validity" yaml:"evidence_url_validity"`

	Classifier struct {
		Mode    string         `json:"mode" yaml:"mode"`
		URL     string         `json:"url" yaml:"url"`
		Timeout timex.Duration `json:"timeout" yaml:"timeout"`
	} `json:"classifier" yaml:"classifier"`

	Payout struct {
		BaseURL          string         `json:"base_url" yaml:"base_url"`
		TokenURL         string         `json:"token_url" yaml:"token_url"`
		ClientID         string         `json:"client_id" yaml:"client_id"`
		ClientSecret     string         `json:"client_secret" yaml:"client_secret"`
		WebhookSecret    string         `json:"webhook_secret" yaml:"webhook_secret"`
		Timeout          timex.Duration `json:"timeout" yaml:"timeout"`
		WebhookTolerance timex.Duration `json:"webhook_tolerance" yaml:"webhook_tolerance"`
	} `json:"payout" yaml:"payout"`

	Review struct {
		Workers    int            `json:"workers" yaml:"workers"`
		QueueSize  int            `json:"queue_size" yaml:"queue_size"`
		JobTimeout timex.Duration `json:"job_timeout" yaml:"job_timeout"`
	} `json:"review" yaml:"review"`

	Policy struct {
		ScanCeiling         int                        `json:"scan_ceiling" yaml:"scan_ceiling"`
		ScanWindow          timex.Duration             `json:"scan_window" yaml:"scan_window"`
		PayoutCeiling       int                        `json:"payout_ceiling" yaml:"payout_ceiling"`
		PayoutWindow        timex.Duration             `json:"payout_window" yaml:"payout_window"`
		SessionValidity     timex.Duration             `json:"session_validity" yaml:"session_validity"`
		SessionPrefix       string                     `json:"session_prefix" yaml:"session_prefix"`
		ConfidenceThreshold float64                    `json:"confidence_threshold" yaml:"confidence_threshold"`
		MinImageBytes       int64                      `json:"min_image_bytes" yaml:"min_image_bytes"`
		MaxImageBytes       int64                      `json:"max_image_bytes" yaml:"max_image_bytes"`
		AllowedFormats      []string                   `json:"allowed_formats" yaml:"allowed_formats"`
		Currency            string                     `json:"currency" yaml:"currency"`
		DefaultRebate       decimal.Decimal            `json:"default_rebate" yaml:"default_rebate"`
		RebateTiers         map[string]decimal.Decimal `json:"rebate_tiers" yaml:"rebate_tiers"`
	} `json:"policy" yaml:"policy"`
}

// parseFile overlays values from the file named by -c/-config onto config.
// Keys absent from the file keep their current values.
func parseFile(config *Config, args []string) error {
	path := flagx.ConfigFileFlag(args)

	// nothing to load
	if path == "" {
		return nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}

	fc := toFile(config)
	if flagx.IsYAML(path) {
		err = yaml.Unmarshal(data, fc)
	} else {
		err = json.Unmarshal(data, fc)
	}
	if err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}

	fromFile(config, fc)
	return nil
}

func toFile(c *Config) *FileConfig {
	fc := &FileConfig{
		HTTPAddr:                    c.HTTPAddr,
		GRPCAddr:                    c.GRPCAddr,
		StorageBackend:              c.StorageBackend,
		DatabaseDSN:                 c.DatabaseDSN,
		LogLevel:                    c.LogLevel,
		SecretKey:                   c.SecretKey,
		AccessTokenValidityDuration: timex.Duration{Duration: c.AccessTokenValidityDuration},
		Operators:                   c.Operators,
		S3RootUser:                  c.S3RootUser,
		S3RootPassword:              c.S3RootPassword,
		S3Bucket:                    c.S3Bucket,
		S3Region:                    c.S3Region,
		S3BaseEndpoint:              c.S3BaseEndpoint,
		EvidenceURLValidity:         timex.Duration{Duration: c.EvidenceURLValidity},
	}

	fc.Classifier.Mode = c.ClassifierMode
	fc.Classifier.URL = c.ClassifierURL
	fc.Classifier.Timeout.Duration = c.ClassifierTimeout

	fc.Payout.BaseURL = c.PayoutBaseURL
	fc.Payout.TokenURL = c.PayoutTokenURL
	fc.Payout.ClientID = c.PayoutClientID
	fc.Payout.ClientSecret = c.PayoutClientSecret
	fc.Payout.WebhookSecret = c.PayoutWebhookSecret
	fc.Payout.Timeout.Duration = c.PayoutTimeout
	fc.Payout.WebhookTolerance.Duration = c.WebhookTolerance

	fc.Review.Workers = c.ReviewWorkers
	fc.Review.QueueSize = c.ReviewQueueSize
	fc.Review.JobTimeout.Duration = c.ReviewJobTimeout

	p := c.Policy
	fc.Policy.ScanCeiling = p.ScanCeiling
	fc.Policy.ScanWindow.Duration = p.ScanWindow
	fc.Policy.PayoutCeiling = p.PayoutCeiling
	fc.Policy.PayoutWindow.Duration = p.PayoutWindow
	fc.Policy.SessionValidity.Duration = p.SessionValidity
	fc.Policy.SessionPrefix = p.SessionPrefix
	fc.Policy.ConfidenceThreshold = p.ConfidenceThreshold
	fc.Policy.MinImageBytes = p.MinImageBytes
	fc.Policy.MaxImageBytes = p.MaxImageBytes
	fc.Policy.AllowedFormats = p.AllowedFormats
	fc.Policy.Currency = p.Currency
	fc.Policy.DefaultRebate = p.DefaultRebate
	fc.Policy.RebateTiers = p.RebateTiers

	return fc
}

func fromFile(c *Config, fc *FileConfig) {
	c.HTTPAddr = fc.HTTPAddr
	c.GRPCAddr = fc.GRPCAddr
	c.StorageBackend = fc.StorageBackend
	c.DatabaseDSN = fc.DatabaseDSN
	c.LogLevel = fc.LogLevel
	c.SecretKey = fc.SecretKey
	c.AccessTokenValidityDuration = fc.AccessTokenValidityDuration.Duration
	c.Operators = fc.Operators
	c.S3RootUser = fc.S3RootUser
	c.S3RootPassword = fc.S3RootPassword
	c.S3Bucket = fc.S3Bucket
	c.S3Region = fc.S3Region
	c.S3BaseEndpoint = fc.S3BaseEndpoint
	c.EvidenceURLValidity = fc.EvidenceURLValidity.Duration

	c.ClassifierMode = fc.Classifier.Mode
	c.ClassifierURL = fc.Classifier.URL
	c.ClassifierTimeout = fc.Classifier.Timeout.Duration

	c.PayoutBaseURL = fc.Payout.BaseURL
	c.PayoutTokenURL = fc.Payout.TokenURL
	c.PayoutClientID = fc.Payout.ClientID
	c.PayoutClientSecret = fc.Payout.ClientSecret
	c.PayoutWebhookSecret = fc.Payout.WebhookSecret
	c.PayoutTimeout = fc.Payout.Timeout.Duration
	c.WebhookTolerance = fc.Payout.WebhookTolerance.Duration

	c.ReviewWorkers = fc.Review.Workers
	c.ReviewQueueSize = fc.Review.QueueSize
	c.ReviewJobTimeout = fc.Review.JobTimeout.Duration

	c.Policy = Policy{
		ScanCeiling:         fc.Policy.ScanCeiling,
		ScanWindow:          fc.Policy.ScanWindow.Duration,
		PayoutCeiling:       fc.Policy.PayoutCeiling,
		PayoutWindow:        fc.Policy.PayoutWindow.Duration,
		SessionValidity:     fc.Policy.SessionValidity.Duration,
		SessionPrefix:       fc.Policy.SessionPrefix,
		ConfidenceThreshold: fc.Policy.ConfidenceThreshold,
		MinImageBytes:       fc.Policy.MinImageBytes,
		MaxImageBytes:       fc.Policy.MaxImageBytes,
		AllowedFormats:      fc.Policy.AllowedFormats,
		Currency:            fc.Policy.Currency,
		DefaultRebate:       fc.Policy.DefaultRebate,
		RebateTiers:         fc.Policy.RebateTiers,
	}
}
