// Command tensorzero-gateway loads a tensorzero.toml config, wires the
// configured providers into a Model Router, and serves the inference/batch/
// feedback HTTP surface (spec §6). Grounded on the teacher's cmd/ cobra
// entrypoints (mihaisavezi-claude-code-open/cmd/root.go): a single root
// command, flags bound via cobra, slog for startup logging.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/tensorzero/gateway/features/batch"
	"github.com/tensorzero/gateway/features/feedback"
	"github.com/tensorzero/gateway/features/gateway"
	"github.com/tensorzero/gateway/features/inference"
	"github.com/tensorzero/gateway/features/olap"
	"github.com/tensorzero/gateway/features/providers/anthropic"
	"github.com/tensorzero/gateway/features/providers/bedrock"
	"github.com/tensorzero/gateway/features/providers/openaicompat"
	"github.com/tensorzero/gateway/runtime/config"
	"github.com/tensorzero/gateway/runtime/errors"
	"github.com/tensorzero/gateway/runtime/model"
	"github.com/tensorzero/gateway/runtime/router"
	"github.com/tensorzero/gateway/runtime/telemetry"
)

// Version is overridden at build time via -ldflags.
var Version = "dev"

var (
	mongoURI string
	mongoDB  string
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "tensorzero-gateway [path/to/tensorzero.toml]",
		Short:   "Model inference gateway",
		Version: Version,
		Args:    cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "./tensorzero.toml"
			if len(args) == 1 {
				path = args[0]
			}
			return run(path)
		},
	}
	cmd.Flags().StringVar(&mongoURI, "mongo-uri", "mongodb://localhost:27017", "MongoDB connection string for the OLAP store")
	cmd.Flags().StringVar(&mongoDB, "mongo-db", "tensorzero", "MongoDB database name for the OLAP store")
	return cmd
}

func run(path string) error {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))

	cfg, err := config.Load(path)
	if err != nil {
		logger.Error("failed to load config", "path", path, "error", err)
		return err
	}
	errors.SetVerbose(cfg.Gateway.VerboseErrors)

	ctx := context.Background()

	client, err := mongo.Connect(options.Client().ApplyURI(mongoURI))
	if err != nil {
		logger.Error("failed to connect to mongo", "error", err)
		return err
	}
	defer client.Disconnect(ctx)
	store := olap.NewMongoStore(client.Database(mongoDB))

	// A Redis URL is optional: per-provider rate limits without a
	// cluster_key stay process-local (runtime/ratelimit.New), so the
	// gateway runs standalone with no Redis dependency unless an operator
	// opts into cross-instance budget sharing. The router is only handed a
	// ClusterStore when one was actually constructed, since handing it a
	// nil-but-typed *redis.Client would make the interface value non-nil.
	r, err := buildRouter(ctx, cfg)
	if err != nil {
		logger.Error("failed to build model router", "error", err)
		return err
	}

	orc := inference.New(cfg, r, store)
	batcher := batch.New(cfg, r, store)
	fb := feedback.New(cfg, store)

	gwLogger := telemetry.NewSlogLogger(logger)
	srv := gateway.New(orc, batcher, fb, cfg.Gateway.BasePath, gwLogger)
	gateway.Version = Version

	addr := cfg.Gateway.BindAddress
	if addr == "" {
		addr = ":3000"
	}
	logger.Info("starting gateway", "addr", addr, "base_path", cfg.Gateway.BasePath)
	return http.ListenAndServe(addr, srv.Handler())
}

// buildRouter constructs the Model Router, wiring a shared redis.Client into
// it only when TENSORZERO_REDIS_URL is set, so a standalone gateway with no
// provider rate_limit.cluster_key configured never dials Redis at all.
func buildRouter(ctx context.Context, cfg *config.Config) (*router.Router, error) {
	redisURL := os.Getenv("TENSORZERO_REDIS_URL")
	if redisURL == "" {
		return router.New(cfg, providerBuilders(ctx))
	}
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parsing TENSORZERO_REDIS_URL: %w", err)
	}
	cluster := redis.NewClient(opts)
	return router.NewWithCluster(ctx, cfg, providerBuilders(ctx), cluster)
}

// providerBuilders registers one Builder per vendor the gateway ships
// adapters for; Mistral/TGI/SGLang/Ollama all speak the OpenAI-compatible
// wire format (spec §3 "Provider"), so they share the openaicompat.Client.
func providerBuilders(ctx context.Context) map[config.ProviderKind]router.Builder {
	return map[config.ProviderKind]router.Builder{
		config.ProviderAnthropic: func(pc config.ProviderConfig) (model.Provider, error) {
			return anthropic.NewFromDefault(), nil
		},
		config.ProviderOpenAI: func(pc config.ProviderConfig) (model.Provider, error) {
			baseURL := pc.BaseURL
			if baseURL == "" {
				baseURL = "https://api.openai.com/v1"
			}
			return openaicompat.New(baseURL), nil
		},
		config.ProviderMistral: func(pc config.ProviderConfig) (model.Provider, error) {
			return openaicompat.New(pc.BaseURL), nil
		},
		config.ProviderTGI: func(pc config.ProviderConfig) (model.Provider, error) {
			return openaicompat.New(pc.BaseURL), nil
		},
		config.ProviderSGLang: func(pc config.ProviderConfig) (model.Provider, error) {
			return openaicompat.New(pc.BaseURL), nil
		},
		config.ProviderOllama: func(pc config.ProviderConfig) (model.Provider, error) {
			baseURL := pc.BaseURL
			if baseURL == "" {
				baseURL = "http://localhost:11434/v1"
			}
			return openaicompat.New(baseURL), nil
		},
		config.ProviderBedrock: func(pc config.ProviderConfig) (model.Provider, error) {
			awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(pc.Region))
			if err != nil {
				return nil, fmt.Errorf("loading aws config for bedrock provider: %w", err)
			}
			return bedrock.New(bedrockruntime.NewFromConfig(awsCfg)), nil
		},
	}
}
