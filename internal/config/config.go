/**
 * @description
 * This package handles the configuration management for the deal-service. It
 * uses Viper to read settings from environment variables and an optional
 * .env file, then normalises and validates them.
 *
 * @dependencies
 * - github.com/spf13/viper: A popular library for Go application configuration.
 */

package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/leadflow/deal-service/internal/domain"
	"github.com/leadflow/deal-service/pkg/crmauth"
	"github.com/leadflow/deal-service/pkg/crmclient"
	"github.com/spf13/viper"
)

// Config holds all the configuration variables for the deal-service.
type Config struct {
	ServerPort  string `mapstructure:"SERVER_PORT"`
	DatabaseURL string `mapstructure:"DATABASE_URL"`
	RedisURL    string `mapstructure:"REDIS_URL"`

	RabbitMQURL        string `mapstructure:"RABBITMQ_URL"`
	DealEventsExchange string `mapstructure:"DEAL_EVENTS_EXCHANGE"`
	DealSyncQueue      string `mapstructure:"DEAL_SYNC_QUEUE"`

	CRMAccountsBaseURL      string  `mapstructure:"CRM_ACCOUNTS_BASE_URL"`
	CRMAPIBaseURL           string  `mapstructure:"CRM_API_BASE_URL"`
	CRMClientID             string  `mapstructure:"CRM_CLIENT_ID"`
	CRMClientSecret         string  `mapstructure:"CRM_CLIENT_SECRET"`
	CRMRefreshToken         string  `mapstructure:"CRM_REFRESH_TOKEN"`
	CRMHTTPTimeoutSeconds   int     `mapstructure:"CRM_HTTP_TIMEOUT_SECONDS"`
	CRMTokenEndpoint        string  `mapstructure:"CRM_TOKEN_ENDPOINT"`
	CRMAccountsEndpoint     string  `mapstructure:"CRM_ACCOUNTS_ENDPOINT"`
	CRMDealsEndpoint        string  `mapstructure:"CRM_DEALS_ENDPOINT"`
	CRMFieldAccountName     string  `mapstructure:"CRM_FIELD_ACCOUNT_NAME"`
	CRMFieldEmail           string  `mapstructure:"CRM_FIELD_EMAIL"`
	CRMFieldDealName        string  `mapstructure:"CRM_FIELD_DEAL_NAME"`
	CRMFieldAccountLookup   string  `mapstructure:"CRM_FIELD_ACCOUNT_LOOKUP"`
	CRMFieldStage           string  `mapstructure:"CRM_FIELD_STAGE"`
	CRMFieldOwner           string  `mapstructure:"CRM_FIELD_OWNER"`
	CRMFieldManagerEmail    string  `mapstructure:"CRM_FIELD_MANAGER_EMAIL"`
	CRMDefaultStage         string  `mapstructure:"CRM_DEFAULT_STAGE"`
	CRMDefaultOwnerID       string  `mapstructure:"CRM_DEFAULT_OWNER_ID"`
	CRMTokenCacheKey        string  `mapstructure:"CRM_TOKEN_CACHE_KEY"`
	CRMMaxRequestsPerSecond float64 `mapstructure:"CRM_MAX_REQUESTS_PER_SECOND"`
	CRMPushMode             string  `mapstructure:"CRM_PUSH_MODE"`

	AssignmentSource1Email      string `mapstructure:"ASSIGNMENT_SOURCE1_EMAIL"`
	AssignmentSource2Pool       string `mapstructure:"ASSIGNMENT_SOURCE2_POOL"`
	AssignmentDefaultPool       string `mapstructure:"ASSIGNMENT_DEFAULT_POOL"`
	AssignmentBackfillSchedule  string `mapstructure:"ASSIGNMENT_BACKFILL_SCHEDULE"`
	AssignmentBackfillChunkSize int    `mapstructure:"ASSIGNMENT_BACKFILL_CHUNK"`

	PushBatchChunk   int `mapstructure:"PUSH_BATCH_CHUNK"`
	PushBatchDelayMS int `mapstructure:"PUSH_BATCH_DELAY_MS"`
	PushBatchPauseMS int `mapstructure:"PUSH_BATCH_PAUSE_MS"`
}

var defaults = map[string]any{
	"SERVER_PORT":                  "8080",
	"DEAL_EVENTS_EXCHANGE":         "deals.events",
	"DEAL_SYNC_QUEUE":              "deal_service.crm_sync",
	"CRM_HTTP_TIMEOUT_SECONDS":     20,
	"CRM_TOKEN_ENDPOINT":           "/oauth/v2/token",
	"CRM_ACCOUNTS_ENDPOINT":        "/crm/v3/Accounts",
	"CRM_DEALS_ENDPOINT":           "/crm/v3/Deals",
	"CRM_FIELD_ACCOUNT_NAME":       "Account_Name",
	"CRM_FIELD_EMAIL":              "Email",
	"CRM_FIELD_DEAL_NAME":          "Deal_Name",
	"CRM_FIELD_ACCOUNT_LOOKUP":     "Account_Name",
	"CRM_FIELD_STAGE":              "Stage",
	"CRM_FIELD_OWNER":              "Owner",
	"CRM_FIELD_MANAGER_EMAIL":      "Manager_Email",
	"CRM_DEFAULT_STAGE":            "Qualification",
	"CRM_TOKEN_CACHE_KEY":          crmauth.DefaultCacheKey,
	"CRM_MAX_REQUESTS_PER_SECOND":  0,
	"CRM_PUSH_MODE":                "inline",
	"ASSIGNMENT_BACKFILL_SCHEDULE": "*/15 * * * *",
	"ASSIGNMENT_BACKFILL_CHUNK":    100,
	"PUSH_BATCH_CHUNK":             20,
	"PUSH_BATCH_DELAY_MS":          250,
	"PUSH_BATCH_PAUSE_MS":          1500,
}

var envKeys = []string{
	"SERVER_PORT",
	"DATABASE_URL",
	"REDIS_URL",
	"RABBITMQ_URL",
	"DEAL_EVENTS_EXCHANGE",
	"DEAL_SYNC_QUEUE",
	"CRM_ACCOUNTS_BASE_URL",
	"CRM_API_BASE_URL",
	"CRM_CLIENT_ID",
	"CRM_CLIENT_SECRET",
	"CRM_REFRESH_TOKEN",
	"CRM_HTTP_TIMEOUT_SECONDS",
	"CRM_TOKEN_ENDPOINT",
	"CRM_ACCOUNTS_ENDPOINT",
	"CRM_DEALS_ENDPOINT",
	"CRM_FIELD_ACCOUNT_NAME",
	"CRM_FIELD_EMAIL",
	"CRM_FIELD_DEAL_NAME",
	"CRM_FIELD_ACCOUNT_LOOKUP",
	"CRM_FIELD_STAGE",
	"CRM_FIELD_OWNER",
	"CRM_FIELD_MANAGER_EMAIL",
	"CRM_DEFAULT_STAGE",
	"CRM_DEFAULT_OWNER_ID",
	"CRM_TOKEN_CACHE_KEY",
	"CRM_MAX_REQUESTS_PER_SECOND",
	"CRM_PUSH_MODE",
	"ASSIGNMENT_SOURCE1_EMAIL",
	"ASSIGNMENT_SOURCE2_POOL",
	"ASSIGNMENT_DEFAULT_POOL",
	"ASSIGNMENT_BACKFILL_SCHEDULE",
	"ASSIGNMENT_BACKFILL_CHUNK",
	"PUSH_BATCH_CHUNK",
	"PUSH_BATCH_DELAY_MS",
	"PUSH_BATCH_PAUSE_MS",
}

// LoadConfig reads configuration from environment variables and an optional
// .env file in path.
func LoadConfig(path string) (config Config, err error) {
	viper.AddConfigPath(path)
	viper.SetConfigName(".env")
	viper.SetConfigType("env")

	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	for key, value := range defaults {
		viper.SetDefault(key, value)
	}

	// Bind environment variables explicitly to ensure they appear in Unmarshal
	for _, key := range envKeys {
		_ = viper.BindEnv(key)
	}
	_ = viper.BindEnv("PORT")

	// Attempt to read the config file. It's okay if it doesn't exist.
	if err = viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			log.Printf("level=warn component=config msg=\"failed to read config file; using environment values\" err=%v", err)
		}
		err = nil
	}

	if err = viper.Unmarshal(&config); err != nil {
		return
	}

	if port := strings.TrimSpace(os.Getenv("PORT")); port != "" {
		config.ServerPort = port
	}
	config.normalize()
	err = config.Validate()
	return
}

func (c *Config) normalize() {
	for _, field := range []*string{
		&c.ServerPort, &c.DatabaseURL, &c.RedisURL, &c.RabbitMQURL,
		&c.DealEventsExchange, &c.DealSyncQueue,
		&c.CRMAccountsBaseURL, &c.CRMAPIBaseURL, &c.CRMClientID, &c.CRMClientSecret, &c.CRMRefreshToken,
		&c.CRMTokenEndpoint, &c.CRMAccountsEndpoint, &c.CRMDealsEndpoint,
		&c.CRMDefaultStage, &c.CRMDefaultOwnerID, &c.CRMTokenCacheKey,
		&c.AssignmentSource1Email, &c.AssignmentBackfillSchedule,
	} {
		*field = strings.TrimSpace(*field)
	}
	fieldDefaults := crmclient.DefaultFieldMap()
	for _, f := range []struct {
		value    *string
		fallback string
	}{
		{&c.CRMFieldAccountName, fieldDefaults.AccountName},
		{&c.CRMFieldEmail, fieldDefaults.Email},
		{&c.CRMFieldDealName, fieldDefaults.DealName},
		{&c.CRMFieldAccountLookup, fieldDefaults.AccountLookup},
		{&c.CRMFieldStage, fieldDefaults.Stage},
		{&c.CRMFieldOwner, fieldDefaults.Owner},
		{&c.CRMFieldManagerEmail, fieldDefaults.ManagerEmail},
	} {
		if *f.value = strings.TrimSpace(*f.value); *f.value == "" {
			*f.value = f.fallback
		}
	}

	switch strings.ToLower(c.AssignmentBackfillSchedule) {
	case "off", "disabled", "none":
		c.AssignmentBackfillSchedule = ""
	}

	c.CRMPushMode = strings.ToLower(strings.TrimSpace(c.CRMPushMode))
	if c.CRMPushMode == "" {
		c.CRMPushMode = "inline"
	}
	if c.CRMTokenCacheKey == "" {
		c.CRMTokenCacheKey = crmauth.DefaultCacheKey
	}

	c.CRMHTTPTimeoutSeconds = positiveOrDefault("CRM_HTTP_TIMEOUT_SECONDS", c.CRMHTTPTimeoutSeconds, 20)
	c.AssignmentBackfillChunkSize = positiveOrDefault("ASSIGNMENT_BACKFILL_CHUNK", c.AssignmentBackfillChunkSize, 100)
	c.PushBatchChunk = positiveOrDefault("PUSH_BATCH_CHUNK", c.PushBatchChunk, 20)
	if c.PushBatchDelayMS < 0 {
		log.Printf("level=warn component=config msg=\"negative batch delay configured; coercing to zero\" delay_ms=%d", c.PushBatchDelayMS)
		c.PushBatchDelayMS = 0
	}
	if c.PushBatchPauseMS < 0 {
		log.Printf("level=warn component=config msg=\"negative batch pause configured; coercing to zero\" pause_ms=%d", c.PushBatchPauseMS)
		c.PushBatchPauseMS = 0
	}
	if c.CRMMaxRequestsPerSecond < 0 {
		log.Printf("level=warn component=config msg=\"negative crm request rate configured; disabling pacing\" rate=%f", c.CRMMaxRequestsPerSecond)
		c.CRMMaxRequestsPerSecond = 0
	}
}

func positiveOrDefault(key string, value, fallback int) int {
	if value > 0 {
		return value
	}
	log.Printf("level=warn component=config msg=\"non-positive value configured; using default\" key=%s value=%d default=%d", key, value, fallback)
	return fallback
}

// Validate reports every invalid setting at once.
func (c Config) Validate() error {
	var errs []error
	if c.CRMPushMode != "inline" && c.CRMPushMode != "async" {
		errs = append(errs, fmt.Errorf("CRM_PUSH_MODE must be inline or async, got %q", c.CRMPushMode))
	}
	if err := c.Assignment().Validate(); err != nil {
		errs = append(errs, fmt.Errorf("assignment pools: %w", err))
	}
	return errors.Join(errs...)
}

// Assignment returns the process-level pools layered over the built-in ones.
func (c Config) Assignment() domain.AssignmentConfig {
	return domain.DefaultAssignmentConfig().Merge(&domain.AssignmentOverride{
		Source1Email:      c.AssignmentSource1Email,
		Source2PoolEmails: domain.SplitEmailList(c.AssignmentSource2Pool),
		DefaultPoolEmails: domain.SplitEmailList(c.AssignmentDefaultPool),
	})
}

func (c Config) CRMTimeout() time.Duration {
	return time.Duration(c.CRMHTTPTimeoutSeconds) * time.Second
}

func (c Config) CRMAuth() crmauth.Config {
	return crmauth.Config{
		AccountsBaseURL: c.CRMAccountsBaseURL,
		TokenEndpoint:   c.CRMTokenEndpoint,
		ClientID:        c.CRMClientID,
		ClientSecret:    c.CRMClientSecret,
		RefreshToken:    c.CRMRefreshToken,
		CacheKey:        c.CRMTokenCacheKey,
	}
}

func (c Config) CRMClient() crmclient.Config {
	return crmclient.Config{
		APIBaseURL:       c.CRMAPIBaseURL,
		AccountsEndpoint: c.CRMAccountsEndpoint,
		DealsEndpoint:    c.CRMDealsEndpoint,
		Fields: crmclient.FieldMap{
			AccountName:   c.CRMFieldAccountName,
			Email:         c.CRMFieldEmail,
			DealName:      c.CRMFieldDealName,
			AccountLookup: c.CRMFieldAccountLookup,
			Stage:         c.CRMFieldStage,
			Owner:         c.CRMFieldOwner,
			ManagerEmail:  c.CRMFieldManagerEmail,
		},
		DefaultStage:         c.CRMDefaultStage,
		DefaultOwnerID:       c.CRMDefaultOwnerID,
		Timeout:              c.CRMTimeout(),
		MaxRequestsPerSecond: c.CRMMaxRequestsPerSecond,
	}
}

func (c Config) PushBatchDelay() time.Duration {
	return time.Duration(c.PushBatchDelayMS) * time.Millisecond
}

func (c Config) PushBatchPause() time.Duration {
	return time.Duration(c.PushBatchPauseMS) * time.Millisecond
}
