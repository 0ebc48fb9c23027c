package main

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsdynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/viper"

	"cart-recovery-agent/internal/repository"
)

// newSnapshotSink builds the durable store backend selected by store.backend.
// The returned close func is never nil.
func newSnapshotSink(ctx context.Context, awsCfg func(context.Context) (aws.Config, error)) (repository.SnapshotSink, func() error, error) {
	noop := func() error { return nil }
	name := viper.GetString("store.name")

	switch backend := strings.ToLower(strings.TrimSpace(viper.GetString("store.backend"))); backend {
	case "", "file":
		sink, err := repository.NewFileSink(filepath.Join(viper.GetString("data_dir"), name+".json"))
		return sink, noop, err
	case "memory":
		return repository.NewMemorySink(), noop, nil
	case "dynamodb":
		cfg, err := awsCfg(ctx)
		if err != nil {
			return nil, noop, err
		}
		sink, err := repository.NewDynamoSink(awsdynamodb.NewFromConfig(cfg), viper.GetString("store.dynamodb.table"), name)
		return sink, noop, err
	case "sqlite":
		dsn := viper.GetString("store.sqlite.dsn")
		if strings.TrimSpace(dsn) == "" {
			dsn = filepath.Join(viper.GetString("data_dir"), "bot_state.db")
		}
		sink, err := repository.NewSQLiteSink(dsn, name)
		if err != nil {
			return nil, noop, err
		}
		return sink, sink.Close, nil
	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     viper.GetString("store.redis.addr"),
			Password: viper.GetString("store.redis.password"),
			DB:       viper.GetInt("store.redis.db"),
		})
		sink, err := repository.NewRedisSink(client, viper.GetString("store.redis.key"))
		if err != nil {
			_ = client.Close()
			return nil, noop, err
		}
		return sink, client.Close, nil
	default:
		return nil, noop, fmt.Errorf("unknown store backend %q", backend)
	}
}
