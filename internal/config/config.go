package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"

	"github.com/acs-lambda/delete-user/internal/domain"
)

// UserPoolIDParameter is read below PARAM_PREFIX when COGNITO_USER_POOL_ID is unset.
const UserPoolIDParameter = "cognito/user_pool_id"

type Config struct {
	UserPoolID       string `validate:"required_without=ParamPrefix"`
	ParamPrefix      string
	CORSFunctionName string

	ProfileTable        string `validate:"required"`
	ProfileIndex        string `validate:"required"`
	ProfileKeyAttribute string `validate:"required"`
	ConversationsTable  string `validate:"required"`
	ConversationsIndex  string `validate:"required"`
	ThreadsTable        string `validate:"required"`
	ThreadsIndex        string `validate:"required"`

	CascadeConcurrency int    `validate:"min=1,max=64"`
	LogLevel           string `validate:"oneof=debug info warn error"`

	OTelEnabled  bool
	OTelEndpoint string
}

// ParamGetter reads a parameter below the configured prefix.
type ParamGetter interface {
	Get(ctx context.Context, key string) (string, error)
}

// Load reads configuration from the environment. A .env file in the working
// directory is honoured for local runs.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		UserPoolID:       getEnv("COGNITO_USER_POOL_ID", ""),
		ParamPrefix:      getEnv("PARAM_PREFIX", ""),
		CORSFunctionName: getEnv("CORS_FUNCTION_NAME", ""),

		ProfileTable:        getEnv("PROFILE_TABLE", "Users"),
		ProfileIndex:        getEnv("PROFILE_INDEX", "id-index"),
		ProfileKeyAttribute: getEnv("PROFILE_KEY_ATTRIBUTE", "id"),
		ConversationsTable:  getEnv("CONVERSATIONS_TABLE", "Conversations"),
		ConversationsIndex:  getEnv("CONVERSATIONS_INDEX", "associated_account-index"),
		ThreadsTable:        getEnv("THREADS_TABLE", "Threads"),
		ThreadsIndex:        getEnv("THREADS_INDEX", "associated_accounts-index"),

		CascadeConcurrency: getEnvAsInt("CASCADE_CONCURRENCY", 8),
		LogLevel:           strings.ToLower(getEnv("LOG_LEVEL", "info")),

		OTelEnabled:  getEnv("OTEL_ENABLED", "") == "true",
		OTelEndpoint: getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4318"),
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}

// ResolveUserPoolID fills UserPoolID from the parameter store when it was not
// set directly.
func (c *Config) ResolveUserPoolID(ctx context.Context, params ParamGetter) error {
	if c.UserPoolID != "" {
		return nil
	}
	if params == nil {
		return errors.New("config: user pool id is unset and no parameter store is available")
	}
	id, err := params.Get(ctx, UserPoolIDParameter)
	if err != nil {
		return fmt.Errorf("config: resolve user pool id: %w", err)
	}
	c.UserPoolID = id
	return nil
}

func (c *Config) Conversations() domain.Collection {
	return domain.Collection{
		Name:                 domain.CollectionConversations,
		Table:                c.ConversationsTable,
		Index:                c.ConversationsIndex,
		AssociationAttribute: "associated_account",
		PartitionKey:         "conversation_id",
		SortKey:              "response_id",
	}
}

func (c *Config) Threads() domain.Collection {
	return domain.Collection{
		Name:                 domain.CollectionThreads,
		Table:                c.ThreadsTable,
		Index:                c.ThreadsIndex,
		AssociationAttribute: "associated_accounts",
		PartitionKey:         "thread_id",
		SortKey:              "message_id",
	}
}

func getEnv(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	v := getEnv(key, "")
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}
