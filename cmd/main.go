package main

import (
	"context"
	"fmt"
	"os"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awscognito "github.com/aws/aws-sdk-go-v2/service/cognitoidentityprovider"
	awsdynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	awslambda "github.com/aws/aws-sdk-go-v2/service/lambda"
	awsssm "github.com/aws/aws-sdk-go-v2/service/ssm"
	"go.uber.org/zap"

	"github.com/acs-lambda/delete-user/handler"
	"github.com/acs-lambda/delete-user/internal/config"
	"github.com/acs-lambda/delete-user/internal/integrations/cognito"
	"github.com/acs-lambda/delete-user/internal/integrations/corsprovider"
	"github.com/acs-lambda/delete-user/internal/integrations/paramstore"
	"github.com/acs-lambda/delete-user/internal/logger"
	"github.com/acs-lambda/delete-user/internal/repository"
	"github.com/acs-lambda/delete-user/internal/tracer"
	"github.com/acs-lambda/delete-user/internal/usecase"
)

func main() {
	ctx := context.Background()

	// ---- Configuration (read only here) ----
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "failed to load config:", err)
		os.Exit(1)
	}

	log, err := logger.New(cfg.LogLevel)
	if err != nil {
		fmt.Fprintln(os.Stderr, "failed to create logger:", err)
		os.Exit(1)
	}

	tp, err := tracer.Init(ctx, tracer.Options{
		Enabled:     cfg.OTelEnabled,
		Endpoint:    cfg.OTelEndpoint,
		ServiceName: "delete-user",
	})
	if err != nil {
		log.Fatal("failed to init tracer", zap.Error(err))
	}

	// ---- AWS SDK config ----
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		log.Fatal("failed to load AWS config", zap.Error(err))
	}

	// ---- Clients ----
	if cfg.ParamPrefix != "" {
		params, err := paramstore.New(awsssm.NewFromConfig(awsCfg), cfg.ParamPrefix)
		if err != nil {
			log.Fatal("failed to create SSM client", zap.Error(err))
		}
		if err := cfg.ResolveUserPoolID(ctx, params); err != nil {
			log.Fatal("failed to resolve user pool id", zap.Error(err))
		}
	}

	directory, err := cognito.New(awscognito.NewFromConfig(awsCfg), cfg.UserPoolID)
	if err != nil {
		log.Fatal("failed to create identity directory client", zap.Error(err))
	}

	store, err := repository.New(
		awsdynamodb.NewFromConfig(awsCfg),
		repository.ProfileTable{Name: cfg.ProfileTable, Index: cfg.ProfileIndex, KeyAttribute: cfg.ProfileKeyAttribute},
		repository.WithConcurrency(cfg.CascadeConcurrency),
	)
	if err != nil {
		log.Fatal("failed to create store client", zap.Error(err))
	}

	cors, err := newCORSProvider(awsCfg, cfg.CORSFunctionName, log)
	if err != nil {
		log.Fatal("failed to create cors provider", zap.Error(err))
	}

	// ---- Handler ----
	svc, err := usecase.NewDeleteUserService(store, directory, cfg.Conversations(), cfg.Threads(), log)
	if err != nil {
		log.Fatal("failed to create delete user service", zap.Error(err))
	}

	h, err := handler.NewHandler(svc, cors, log)
	if err != nil {
		log.Fatal("failed to create handler", zap.Error(err))
	}

	lambda.Start(func(ctx context.Context, event events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
		resp, err := h.Handle(ctx, event)
		if ferr := tp.ForceFlush(ctx); ferr != nil {
			log.Warn("failed to flush traces", zap.Error(ferr))
		}
		_ = log.Sync()
		return resp, err
	})
}

func newCORSProvider(awsCfg aws.Config, functionName string, log *zap.Logger) (corsprovider.Provider, error) {
	static := corsprovider.Static(corsprovider.DefaultHeaders())
	if functionName == "" {
		return static, nil
	}
	remote, err := corsprovider.NewRemote(awslambda.NewFromConfig(awsCfg), functionName)
	if err != nil {
		return nil, err
	}
	return corsprovider.NewFallback(remote, static, log)
}
