package main

import (
	"context"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/diwise/field-sync/internal/pkg/infrastructure/kvstore"
	"github.com/diwise/service-chassis/pkg/infrastructure/buildinfo"
	"github.com/diwise/service-chassis/pkg/infrastructure/env"
	"github.com/diwise/service-chassis/pkg/infrastructure/o11y"
)

const (
	appName string = "store-cleaner"
)

const modelKeyPrefix string = "model/"

func main() {
	appVersion := buildinfo.SourceVersion()

	ctx, log, cleanup := o11y.Init(context.Background(), appName, appVersion, "json")
	defer cleanup()

	log.Debug("begin clean store")

	cfg, err := LoadConfiguration(ctx)
	if err != nil {
		log.Error("invalid configuration", "err", err.Error())
		os.Exit(1)
	}

	s, err := connect(ctx, cfg)
	if err != nil {
		log.Error("failed to connect to store", "err", err.Error())
		os.Exit(1)
	}
	defer s.Close()

	keys, err := s.Keys(ctx, modelKeyPrefix)
	if err != nil {
		log.Error("failed to get cached models", "err", err.Error())
		os.Exit(1)
	}

	log.Debug("number of cached models", "count", len(keys))

	expired, err := findExpired(ctx, s, keys, cfg.maxAge, time.Now())
	if err != nil {
		log.Error("failed to find expired models", "err", err.Error())
		os.Exit(1)
	}

	for _, key := range expired {
		l := log.With(slog.String("key", key))

		if err = s.RemoveItem(ctx, key); err != nil {
			l.Error("failed to remove expired model", "err", err.Error())
			os.Exit(1)
		}

		l.Debug("removed expired model")
	}

	log.Info("done cleaning", slog.Int("total", len(expired)))
}

type Config struct {
	dsn    string
	maxAge time.Duration
}

func LoadConfiguration(ctx context.Context) (Config, error) {
	maxAge, err := time.ParseDuration(env.GetVariableOrDefault(ctx, "MODEL_MAX_AGE", "168h"))
	if err != nil {
		return Config{}, err
	}

	return Config{
		dsn:    env.GetVariableOrDefault(ctx, "FIELD_SYNC_STORE", ""),
		maxAge: maxAge,
	}, nil
}

func connect(ctx context.Context, cfg Config) (kvstore.Store, error) {
	s, err := kvstore.Open(ctx, cfg.dsn)
	if err != nil {
		return nil, err
	}

	err = s.Ready(ctx)
	if err != nil {
		s.Close()
		return nil, err
	}

	return s, nil
}

// findExpired returns the model keys that were written more than maxAge before now
func findExpired(ctx context.Context, s kvstore.Store, keys []string, maxAge time.Duration, now time.Time) ([]string, error) {
	expired := make([]string, 0)

	for _, key := range keys {
		if !strings.HasPrefix(key, modelKeyPrefix) {
			continue
		}

		entry, err := s.GetItem(ctx, key)
		if err != nil {
			return nil, err
		}

		if !kvstore.IsFresh(entry.Timestamp, maxAge, now) {
			expired = append(expired, key)
		}
	}

	return expired, nil
}
