package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/diwise/field-sync/internal/pkg/application/connectivity"
	"github.com/diwise/field-sync/internal/pkg/application/syncengine"
	"github.com/diwise/field-sync/internal/pkg/infrastructure/kvstore"
	"github.com/diwise/field-sync/internal/pkg/infrastructure/router"
	"github.com/diwise/field-sync/internal/pkg/presentation/api"
	"github.com/diwise/field-sync/pkg/jsonapi/client"
	"github.com/diwise/service-chassis/pkg/infrastructure/buildinfo"
	"github.com/diwise/service-chassis/pkg/infrastructure/env"
	"github.com/diwise/service-chassis/pkg/infrastructure/o11y"
	"github.com/diwise/service-chassis/pkg/infrastructure/o11y/logging"
	gojson "github.com/goccy/go-json"
	"github.com/spf13/cobra"
)

const serviceName string = "field-sync"

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	flags := FlagMap{}

	root := &cobra.Command{
		Use:          serviceName,
		Short:        "Offline capable data layer in front of a JSON:API farm record store",
		SilenceUsage: true,
	}

	var cfgPath, policiesPath, dsn, port, origins, format string

	root.PersistentFlags().StringVar(&cfgPath, "config", "/opt/diwise/config/field-sync.yaml", "path to the engine configuration file")
	root.PersistentFlags().StringVar(&dsn, "store", "", "overrides the durable store named in the configuration file")
	root.PersistentFlags().StringVar(&format, "log-format", "json", "log output format")

	root.PersistentPreRun = func(cmd *cobra.Command, args []string) {
		ctx := cmd.Context()
		flags[configPath] = env.GetVariableOrDefault(ctx, "FIELD_SYNC_CONFIG", cfgPath)
		flags[storeDSN] = env.GetVariableOrDefault(ctx, "FIELD_SYNC_STORE", dsn)
		flags[logFormat] = format
	}

	serve := &cobra.Command{
		Use:   "serve",
		Short: "Serve the local api and keep the local records in sync with the remote store",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			flags[opaPath] = env.GetVariableOrDefault(ctx, "OPA_POLICIES", policiesPath)
			flags[servicePort] = env.GetVariableOrDefault(ctx, "SERVICE_PORT", port)
			flags[allowedOrigins] = origins

			ctx, log, cleanup := o11y.Init(ctx, serviceName, buildinfo.SourceVersion(), flags[logFormat])
			defer cleanup()

			appCfg := &AppConfig{}

			app, err := initialize(ctx, flags, appCfg)
			if err != nil {
				log.Error("failed to initialize service", "err", err.Error())
				return err
			}

			return app.Run(ctx)
		},
	}

	serve.Flags().StringVar(&policiesPath, "policies", "/opt/diwise/config/authz.rego", "path to the rego access policies")
	serve.Flags().StringVar(&port, "port", "8080", "port to listen on")
	serve.Flags().StringVar(&origins, "allowed-origins", "", "comma separated list of allowed cors origins")

	purge := &cobra.Command{
		Use:   "purge",
		Short: "Permanently delete every local record, pending write and cached model",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, log, cleanup := o11y.Init(cmd.Context(), serviceName, buildinfo.SourceVersion(), flags[logFormat])
			defer cleanup()

			engine, store, err := openEngine(ctx, flags, &AppConfig{})
			if err != nil {
				log.Error("failed to open sync engine", "err", err.Error())
				return err
			}
			defer store.Close()

			return engine.PermanentlyDeleteLocalData(ctx)
		},
	}

	var resubmit bool

	deadLetters := &cobra.Command{
		Use:   "dead-letters",
		Short: "List the transforms the remote store kept rejecting",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, log, cleanup := o11y.Init(cmd.Context(), serviceName, buildinfo.SourceVersion(), flags[logFormat])
			defer cleanup()

			engine, store, err := openEngine(ctx, flags, &AppConfig{})
			if err != nil {
				log.Error("failed to open sync engine", "err", err.Error())
				return err
			}
			defer store.Close()
			defer engine.Halt(ctx)

			b, err := gojson.MarshalIndent(engine.DeadLetters(), "", "  ")
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(b))

			if resubmit {
				engine.ResubmitDeadLetters()
				log.Info("dead letters queued for the next sync")
			}

			return nil
		},
	}

	deadLetters.Flags().BoolVar(&resubmit, "resubmit", false, "queue the dead letters for another attempt")

	root.AddCommand(serve, purge, deadLetters)

	return root
}

type application struct {
	flags   FlagMap
	appCfg  *AppConfig
	store   kvstore.Store
	engine  *syncengine.SyncEngine
	watcher connectivity.Watcher
	server  *http.Server
}

// openEngine loads the configuration and starts an offline sync engine on top
// of the configured durable store
func openEngine(ctx context.Context, flags FlagMap, appCfg *AppConfig) (*syncengine.SyncEngine, kvstore.Store, error) {
	var err error

	if appCfg.engineConfig == nil {
		appCfg.engineConfig, err = os.Open(flags[configPath])
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open configuration file: %w", err)
		}
	}
	defer appCfg.engineConfig.Close()

	appCfg.cfg, err = syncengine.LoadConfiguration(appCfg.engineConfig)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	if flags[storeDSN] != "" {
		appCfg.cfg.Store = flags[storeDSN]
	}

	store, err := kvstore.Open(ctx, appCfg.cfg.Store)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open durable store: %w", err)
	}

	if err = store.Ready(ctx); err != nil {
		store.Close()
		return nil, nil, err
	}

	debug := client.Debug(env.GetVariableOrDefault(ctx, "JSONAPI_CLIENT_DEBUG", "false"))

	c := client.NewClient(appCfg.cfg.Remote.Endpoint, debug)
	if appCfg.cfg.Remote.SessionTokenPath != "" {
		c = client.NewClient(appCfg.cfg.Remote.Endpoint, debug, client.SessionTokenEndpoint(appCfg.cfg.Remote.SessionTokenPath))
	}

	engine, err := syncengine.New(ctx, appCfg.cfg, store, c, syncengine.Online(false))
	if err != nil {
		store.Close()
		return nil, nil, err
	}

	return engine, store, nil
}

func initialize(ctx context.Context, flags FlagMap, appCfg *AppConfig) (*application, error) {
	engine, store, err := openEngine(ctx, flags, appCfg)
	if err != nil {
		return nil, err
	}

	app := &application{flags: flags, appCfg: appCfg, store: store, engine: engine}

	app.watcher, err = connectivity.NewWatcher(ctx, engine.Client(), engine)
	if err != nil {
		return nil, err
	}

	if appCfg.opaConfig == nil {
		appCfg.opaConfig, err = os.Open(flags[opaPath])
		if err != nil {
			return nil, fmt.Errorf("failed to open opa policy file: %w", err)
		}
	}
	defer appCfg.opaConfig.Close()

	origins := []string{}
	for _, o := range strings.Split(flags[allowedOrigins], ",") {
		if o = strings.TrimSpace(o); o != "" {
			origins = append(origins, o)
		}
	}

	r := router.New(serviceName, origins...)

	if err = api.RegisterHandlers(ctx, r, appCfg.opaConfig, engine); err != nil {
		return nil, err
	}

	appCfg.listener, err = net.Listen("tcp", net.JoinHostPort(flags[listenAddress], flags[servicePort]))
	if err != nil {
		return nil, fmt.Errorf("failed to listen for connections: %w", err)
	}

	_, appCfg.publicPort, _ = net.SplitHostPort(appCfg.listener.Addr().String())

	app.server = &http.Server{Handler: r, ReadHeaderTimeout: 10 * time.Second}

	return app, nil
}

// Run serves the api until ctx is done. Any workers are run in order once the
// server is up, and the service shuts down when they are done.
func (app *application) Run(ctx context.Context, workers ...func(context.Context, *AppConfig) error) error {
	log := logging.GetFromContext(ctx)

	if app.flags[startOffline] != "true" {
		if err := app.watcher.Start(); err != nil {
			return err
		}
		defer app.watcher.Stop()
	}

	serverErr := make(chan error, 1)

	go func() {
		log.Info("starting to listen for connections", "port", app.appCfg.publicPort)
		serverErr <- app.server.Serve(app.appCfg.listener)
	}()

	var err error

	if len(workers) > 0 {
		for _, work := range workers {
			if err = work(ctx, app.appCfg); err != nil {
				break
			}
		}
	} else {
		select {
		case <-ctx.Done():
		case err = <-serverErr:
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	app.server.Shutdown(shutdownCtx)
	app.engine.Halt(shutdownCtx)
	app.store.Close()

	if errors.Is(err, http.ErrServerClosed) {
		err = nil
	}

	return err
}
