package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	awsssm "github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"cart-recovery-agent/handler"
	"cart-recovery-agent/internal/integrations/gateway"
	"cart-recovery-agent/internal/integrations/gemini"
	"cart-recovery-agent/internal/integrations/openai"
	"cart-recovery-agent/internal/integrations/paramstore"
	"cart-recovery-agent/internal/repository"
	"cart-recovery-agent/internal/usecase"
)

const shutdownTimeout = 10 * time.Second

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the webhook server, gateway connection and conversation pipeline.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, newLogger(os.Stderr))
		},
	}

	cmd.Flags().String("addr", ":3000", "HTTP listen address.")
	cmd.Flags().String("gateway-url", "", "Chat gateway websocket URL.")
	cmd.Flags().String("data-dir", "", "Directory for state and message log files.")
	_ = viper.BindPFlag("http.addr", cmd.Flags().Lookup("addr"))
	_ = viper.BindPFlag("gateway.url", cmd.Flags().Lookup("gateway-url"))
	_ = viper.BindPFlag("data_dir", cmd.Flags().Lookup("data-dir"))
	return cmd
}

func serve(ctx context.Context, logger zerolog.Logger) error {
	awsCfg := lazyAWSConfig()

	sink, closeSink, err := newSnapshotSink(ctx, awsCfg)
	if err != nil {
		return fmt.Errorf("create snapshot sink: %w", err)
	}
	defer func() { _ = closeSink() }()

	state, err := repository.NewState(sink, logger)
	if err != nil {
		return err
	}
	state.Load(ctx)

	messageLog, err := repository.NewMessageLog(
		filepath.Join(viper.GetString("data_dir"), "wpp_store.json"),
		viper.GetInt("message_log.limit"),
		logger,
	)
	if err != nil {
		return err
	}
	messageLog.Load()

	bus := gateway.NewBus(logger)
	defer func() { _ = bus.Close() }()
	gw, err := gateway.New(viper.GetString("gateway.url"), bus, logger,
		gateway.WithRequestTimeout(viper.GetDuration("gateway.request_timeout")),
		gateway.WithReconnectDelay(viper.GetDuration("gateway.reconnect_delay")),
	)
	if err != nil {
		return err
	}

	var transport usecase.Transport = gw

	llm, err := newLLMClient(ctx, awsCfg)
	if err != nil {
		return fmt.Errorf("create llm client: %w", err)
	}
	responder, err := usecase.NewResponder(llm, viper.GetString("llm.model"), viper.GetString("campaign.coupon"))
	if err != nil {
		return err
	}

	engine, err := usecase.NewEngine(state, transport, responder, logger,
		usecase.WithTypingDelay(viper.GetDuration("session.typing_delay")),
		usecase.WithCampaignMedia(viper.GetString("campaign.media_url")),
	)
	if err != nil {
		return err
	}
	resolver, err := usecase.NewResolver(state, transport, logger)
	if err != nil {
		return err
	}
	buffer, err := usecase.NewBuffer(viper.GetDuration("session.debounce"), engine.Advance, logger)
	if err != nil {
		return err
	}
	inbound, err := usecase.NewInbound(resolver, state, buffer, messageLog, logger)
	if err != nil {
		return err
	}
	campaign, err := usecase.NewCampaign(transport, engine, logger)
	if err != nil {
		return err
	}

	webhook, err := handler.NewHandler(campaign, logger)
	if err != nil {
		return err
	}
	srv, err := handler.NewServer(webhook, gw, logger)
	if err != nil {
		return err
	}

	conversations, aliases, allowed := state.Stats()
	logger.Info().
		Int("conversations", conversations).
		Int("aliases", aliases).
		Int("allowed", allowed).
		Str("store", viper.GetString("store.backend")).
		Str("llm", viper.GetString("llm.provider")).
		Msg("starting cart agent")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return gw.Run(gctx) })
	g.Go(func() error { return gateway.Consume(gctx, bus, inbound.Handle) })
	g.Go(func() error { return messageLog.Run(gctx, viper.GetDuration("message_log.flush_interval")) })
	g.Go(func() error {
		if err := srv.Listen(viper.GetString("http.addr")); err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info().Msg("shutting down")
		buffer.Stop()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), shutdownTimeout)
		defer cancel()
		return srv.ShutdownWithContext(shutdownCtx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// lazyAWSConfig loads the default AWS config on first use, so deployments
// without a DynamoDB store or SSM secrets never need credentials.
func lazyAWSConfig() func(context.Context) (aws.Config, error) {
	var (
		once sync.Once
		cfg  aws.Config
		err  error
	)
	return func(ctx context.Context) (aws.Config, error) {
		once.Do(func() {
			cfg, err = config.LoadDefaultConfig(ctx)
			if err != nil {
				err = fmt.Errorf("load AWS config: %w", err)
			}
		})
		return cfg, err
	}
}

func newLLMClient(ctx context.Context, awsCfg func(context.Context) (aws.Config, error)) (usecase.LLMClient, error) {
	apiKey := strings.TrimSpace(viper.GetString("llm.api_key"))
	prefix := strings.TrimSpace(viper.GetString("param_prefix"))

	var getter paramstore.Getter
	if apiKey == "" && prefix != "" {
		cfg, err := awsCfg(ctx)
		if err != nil {
			return nil, err
		}
		ssmClient, err := paramstore.New(awsssm.NewFromConfig(cfg))
		if err != nil {
			return nil, err
		}
		getter = ssmClient
	}

	switch provider := strings.ToLower(strings.TrimSpace(viper.GetString("llm.provider"))); provider {
	case "", "gemini":
		opts := []gemini.Option{gemini.WithTemperature(float32(viper.GetFloat64("llm.temperature")))}
		if apiKey != "" {
			opts = append(opts, gemini.WithAPIKey(apiKey))
		} else if getter != nil {
			opts = append(opts, gemini.WithParamStore(getter, prefix))
		}
		return gemini.NewClient(opts...)
	case "openai":
		opts := []openai.Option{openai.WithTemperature(viper.GetFloat64("llm.temperature"))}
		if baseURL := strings.TrimSpace(viper.GetString("llm.base_url")); baseURL != "" {
			opts = append(opts, openai.WithBaseURL(baseURL))
		}
		if apiKey != "" {
			opts = append(opts, openai.WithAPIKey(apiKey))
		} else if getter != nil {
			opts = append(opts, openai.WithParamStore(getter, prefix))
		}
		return openai.NewClient(opts...)
	default:
		return nil, fmt.Errorf("unknown llm provider %q", provider)
	}
}
