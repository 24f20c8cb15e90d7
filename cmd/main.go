package main

import (
	"context"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/aws/aws-sdk-go-v2/config"
	awsdynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"
	awssqs "github.com/aws/aws-sdk-go-v2/service/sqs"
	awsssm "github.com/aws/aws-sdk-go-v2/service/ssm"

	"grievance-intake/handler"
	"grievance-intake/internal/conversation"
	"grievance-intake/internal/domain"
	"grievance-intake/internal/integrations/blobstore"
	"grievance-intake/internal/integrations/paramstore"
	"grievance-intake/internal/integrations/queue"
	"grievance-intake/internal/integrations/telegram"
	"grievance-intake/internal/repository"
	"grievance-intake/internal/session"
	"grievance-intake/internal/usecase"
)

func main() {
	ctx := context.Background()

	// ---- Configuration (read only here) ----
	tableName := mustEnv("TABLE_NAME")
	evidenceBucket := mustEnv("EVIDENCE_BUCKET")
	queueURL := mustEnv("DISPATCH_QUEUE_URL")
	paramPrefix := strings.TrimRight(mustEnv("PARAM_PREFIX"), "/")
	sessionBackend := envString("SESSION_BACKEND", "dynamodb")
	sessionTTL := time.Duration(envInt("SESSION_TTL_MINUTES", 30)) * time.Minute
	evidenceURLTTL := time.Duration(envInt("EVIDENCE_URL_TTL_MINUTES", 15)) * time.Minute
	verifySecrets := envBool("VERIFY_SECRETS", true)

	duplicates, err := usecase.ParseDuplicatePolicy(os.Getenv("CALLBACK_DUPLICATES"))
	if err != nil {
		slog.Error("invalid CALLBACK_DUPLICATES", "err", err)
		os.Exit(1)
	}

	// ---- AWS SDK config ----
	cfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		slog.Error("failed to load AWS config", "err", err)
		os.Exit(1)
	}

	// ---- Clients ----
	ssmClient, err := paramstore.New(awsssm.NewFromConfig(cfg))
	if err != nil {
		slog.Error("failed to create SSM client", "err", err)
		os.Exit(1)
	}
	params, err := paramstore.NewCache(ssmClient)
	if err != nil {
		slog.Error("failed to create parameter cache", "err", err)
		os.Exit(1)
	}

	dynamoClient := awsdynamodb.NewFromConfig(cfg)
	repo, err := repository.New(dynamoClient, tableName)
	if err != nil {
		slog.Error("failed to create repository", "err", err)
		os.Exit(1)
	}

	s3Client := awss3.NewFromConfig(cfg)
	blobs, err := blobstore.New(s3Client, awss3.NewPresignClient(s3Client), evidenceBucket)
	if err != nil {
		slog.Error("failed to create blob store", "err", err)
		os.Exit(1)
	}

	dispatch, err := queue.New(awssqs.NewFromConfig(cfg), queueURL)
	if err != nil {
		slog.Error("failed to create queue client", "err", err)
		os.Exit(1)
	}

	bot, err := telegram.NewClient(params, paramPrefix)
	if err != nil {
		slog.Error("failed to create Telegram client", "err", err)
		os.Exit(1)
	}

	var sessions session.Store
	switch sessionBackend {
	case "dynamodb":
		sessions, err = session.NewDynamoStore(dynamoClient, tableName, sessionTTL)
		if err != nil {
			slog.Error("failed to create session store", "err", err)
			os.Exit(1)
		}
	case "memory":
		slog.Warn("sessions are kept in memory and are lost on restart")
		sessions = session.NewMemoryStore(sessionTTL)
	default:
		slog.Error("unknown SESSION_BACKEND", "value", sessionBackend)
		os.Exit(1)
	}

	// ---- Use cases ----
	submitService, err := usecase.NewSubmitService(repo, blobs, dispatch)
	if err != nil {
		slog.Error("failed to create submit service", "err", err)
		os.Exit(1)
	}
	lookupService, err := usecase.NewLookupService(repo, blobs, evidenceURLTTL)
	if err != nil {
		slog.Error("failed to create lookup service", "err", err)
		os.Exit(1)
	}
	botNotifier, err := telegram.NewNotifier(bot)
	if err != nil {
		slog.Error("failed to create bot notifier", "err", err)
		os.Exit(1)
	}
	callbackService, err := usecase.NewCallbackService(repo, map[domain.Channel]usecase.Notifier{
		domain.ChannelTelegram: botNotifier,
		domain.ChannelWeb:      handler.WebNotifier{},
	}, duplicates)
	if err != nil {
		slog.Error("failed to create callback service", "err", err)
		os.Exit(1)
	}
	dialogue, err := conversation.NewBot(domain.ChannelTelegram, sessions, session.NewLocker(), repo, submitService, bot)
	if err != nil {
		slog.Error("failed to create conversation bot", "err", err)
		os.Exit(1)
	}

	// ---- Handler ----
	var webhookSecret, callbackSecret string
	if verifySecrets {
		webhookSecret = paramPrefix + "/webhook-secret"
		callbackSecret = paramPrefix + "/callback-secret"
	}
	web, err := handler.NewWebHandler(repo, submitService, lookupService)
	if err != nil {
		slog.Error("failed to create web handler", "err", err)
		os.Exit(1)
	}
	webhook, err := handler.NewBotWebhook(dialogue, bot, params, webhookSecret)
	if err != nil {
		slog.Error("failed to create bot webhook", "err", err)
		os.Exit(1)
	}
	callbacks, err := handler.NewCallbackHandler(callbackService, params, callbackSecret)
	if err != nil {
		slog.Error("failed to create callback handler", "err", err)
		os.Exit(1)
	}
	router, err := handler.NewRouter(web, webhook, callbacks)
	if err != nil {
		slog.Error("failed to create router", "err", err)
		os.Exit(1)
	}

	lambda.Start(router.Handle)
}

func mustEnv(key string) string {
	v := os.Getenv(key)
	if v == "" {
		slog.Error("required environment variable is not set", "key", key)
		os.Exit(1)
	}
	return v
}

func envString(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return strings.ToLower(v)
	}
	return def
}

func envInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

func envBool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}
