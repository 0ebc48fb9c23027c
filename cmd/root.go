package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"cart-recovery-agent/internal/usecase"
)

const envPrefix = "CART_AGENT"

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:          "cart-agent",
		Short:        "Abandoned-cart recovery chat agent",
		SilenceUsage: true,
	}

	cobra.OnInitialize(initConfig)

	cmd.PersistentFlags().String("config", "", "Config file path (optional).")
	cmd.PersistentFlags().String("log-level", "info", "Logging level: trace|debug|info|warn|error.")
	cmd.PersistentFlags().String("log-format", "console", "Logging format: console|json.")
	_ = viper.BindPFlag("config", cmd.PersistentFlags().Lookup("config"))
	_ = viper.BindPFlag("logging.level", cmd.PersistentFlags().Lookup("log-level"))
	_ = viper.BindPFlag("logging.format", cmd.PersistentFlags().Lookup("log-format"))

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newStateCmd())
	return cmd
}

func initConfig() {
	initViperDefaults()

	viper.SetEnvPrefix(envPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	viper.AutomaticEnv()

	cfgFile := strings.TrimSpace(viper.GetString("config"))
	if cfgFile == "" {
		return
	}
	viper.SetConfigFile(cfgFile)
	if err := viper.ReadInConfig(); err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "Failed to read config: %v\n", err)
	}
}

func initViperDefaults() {
	viper.SetDefault("http.addr", ":3000")
	viper.SetDefault("data_dir", ".")

	viper.SetDefault("store.backend", "file")
	viper.SetDefault("store.name", "bot_state")
	viper.SetDefault("store.dynamodb.table", "")
	viper.SetDefault("store.sqlite.dsn", "")
	viper.SetDefault("store.redis.addr", "localhost:6379")
	viper.SetDefault("store.redis.password", "")
	viper.SetDefault("store.redis.db", 0)
	viper.SetDefault("store.redis.key", "cart-agent:state")

	viper.SetDefault("message_log.limit", 50)
	viper.SetDefault("message_log.flush_interval", 30*time.Second)

	viper.SetDefault("session.debounce", usecase.DefaultDebounceWindow)
	viper.SetDefault("session.typing_delay", usecase.DefaultTypingDelay)

	viper.SetDefault("llm.provider", "gemini")
	viper.SetDefault("llm.model", "gemini-2.5-flash")
	viper.SetDefault("llm.api_key", "")
	viper.SetDefault("llm.base_url", "")
	viper.SetDefault("llm.temperature", 0.7)
	viper.SetDefault("param_prefix", "")

	viper.SetDefault("gateway.url", "ws://localhost:8081/ws")
	viper.SetDefault("gateway.request_timeout", 30*time.Second)
	viper.SetDefault("gateway.reconnect_delay", 5*time.Second)

	viper.SetDefault("campaign.media_url", "")
	viper.SetDefault("campaign.coupon", usecase.DefaultCoupon)

	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "console")
}

func newLogger(w io.Writer) zerolog.Logger {
	level, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(viper.GetString("logging.level"))))
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	if strings.EqualFold(viper.GetString("logging.format"), "json") {
		return zerolog.New(w).Level(level).With().Timestamp().Logger()
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}).
		Level(level).With().Timestamp().Logger()
}
