// zkgroupd is a small host around the zkgroup library: it registers this
// process with a ZooKeeper ensemble, serves a Prometheus metrics endpoint,
// and periodically logs membership and leadership until signalled.
package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/dmontgomery/zkgroup"
	zkstore "github.com/dmontgomery/zkgroup/coord/zk"
)

var (
	configPath  = flag.String("config", "", "path to a config file (yaml/toml/json)")
	connect     = flag.String("connect", "127.0.0.1:2181", "comma-separated store server addresses")
	service     = flag.String("service", "demo", "service name to register under")
	node        = flag.String("node", "default", "node group name")
	host        = flag.String("host", "", "public host or IP to advertise")
	port        = flag.Int("port", 0, "public port to advertise")
	metricsAddr = flag.String("metrics-addr", ":9400", "prometheus listen address")
	debug       = flag.Bool("debug", false, "debug logging")
)

func main() {
	flag.Parse()

	log := newLogger(*debug)
	defer func() { _ = log.Sync() }()

	settings, err := loadSettings()
	if err != nil {
		log.Fatal("configuration invalid", zap.Error(err))
	}

	store, err := zkstore.New(zkstore.Options{
		Servers:        settings.Servers(),
		SessionTimeout: 10 * time.Second,
		Logger:         log.Named("zk"),
	})
	if err != nil {
		log.Fatal("store dial failed", zap.Error(err))
	}

	guardian, err := zkgroup.NewGuardian(settings, store, log)
	if err != nil {
		log.Fatal("guardian construction failed", zap.Error(err))
	}
	if err := guardian.Start(); err != nil {
		log.Fatal("guardian start failed", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: *metricsAddr, Handler: mux}

	grp, gctx := errgroup.WithContext(ctx)
	grp.Go(func() error {
		log.Info("serving metrics", zap.String("addr", *metricsAddr))
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	grp.Go(func() error {
		<-gctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})
	grp.Go(func() error {
		ticker := time.NewTicker(15 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C:
				lookCtx, cancel := context.WithTimeout(gctx, settings.OperationTimeout)
				targets := guardian.Lookup(lookCtx, settings.ServiceName)
				leader := guardian.IsLeader(lookCtx)
				cancel()
				log.Info("membership",
					zap.Int("members", len(targets)),
					zap.Bool("leader", leader))
			}
		}
	})

	<-ctx.Done()
	log.Info("shutting down")
	shutCtx, cancel := context.WithTimeout(context.Background(), settings.ShutdownGrace+2*time.Second)
	if err := guardian.Stop(shutCtx); err != nil {
		log.Warn("guardian stop incomplete", zap.Error(err))
	}
	cancel()
	if err := grp.Wait(); err != nil {
		log.Error("agent exited with error", zap.Error(err))
	}
}

func newLogger(debug bool) *zap.Logger {
	var (
		log *zap.Logger
		err error
	)
	if debug {
		log, err = zap.NewDevelopment()
	} else {
		log, err = zap.NewProduction()
	}
	if err != nil {
		panic(err)
	}
	return log
}

// loadSettings layers configuration: flag values act as defaults, a config
// file and ZKGROUP_* environment variables override them.
func loadSettings() (zkgroup.Settings, error) {
	v := viper.New()
	v.SetEnvPrefix("zkgroup")
	v.AutomaticEnv()
	v.SetDefault("connect", *connect)
	v.SetDefault("service", *service)
	v.SetDefault("node", *node)
	v.SetDefault("host", *host)
	v.SetDefault("port", *port)
	if *configPath != "" {
		v.SetConfigFile(*configPath)
		if err := v.ReadInConfig(); err != nil {
			return zkgroup.Settings{}, err
		}
	}

	settings := zkgroup.DefaultSettings()
	settings.ConnectionString = v.GetString("connect")
	settings.ServiceName = v.GetString("service")
	settings.NodeName = v.GetString("node")
	settings.Host = v.GetString("host")
	settings.Port = v.GetInt("port")
	if d := v.GetDuration("operation_timeout"); d > 0 {
		settings.OperationTimeout = d
	}
	if d := v.GetDuration("retry_backoff_base"); d > 0 {
		settings.RetryBackoffBase = d
	}
	if d := v.GetDuration("retry_backoff_max"); d > 0 {
		settings.RetryBackoffMax = d
	}
	if d := v.GetDuration("shutdown_grace"); d > 0 {
		settings.ShutdownGrace = d
	}
	return settings, settings.Validate()
}
