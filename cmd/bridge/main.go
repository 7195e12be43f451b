package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/omni/bridge-core/alerts"
	"github.com/omni/bridge-core/bridge"
	"github.com/omni/bridge-core/config"
	"github.com/omni/bridge-core/db"
	"github.com/omni/bridge-core/ethadapter"
	"github.com/omni/bridge-core/ethclient"
	"github.com/omni/bridge-core/logging"
	"github.com/omni/bridge-core/oracle"
	"github.com/omni/bridge-core/presenter"
	"github.com/omni/bridge-core/repository"
	"github.com/omni/bridge-core/scheduler"
)

func main() {
	logger := logging.New()

	cfgPath := os.Getenv("CONFIG_PATH")
	if cfgPath == "" {
		cfgPath = "config.yml"
	}
	cfg, err := config.ReadConfigFromFile(cfgPath)
	if err != nil {
		logger.WithError(err).Fatal("can't read config")
	}
	logger.SetLevel(cfg.LogLevel)

	dbConn, err := db.ConnectToDBAndMigrate(cfg.DBConfig)
	if err != nil {
		logger.WithError(err).Fatal("can't connect to database and apply migrations")
	}
	defer dbConn.Close()

	metricsHost := cfg.MetricsHost
	if metricsHost == "" {
		metricsHost = ":2112"
	}
	http.Handle("/metrics", promhttp.Handler())
	go func() {
		err2 := http.ListenAndServe(metricsHost, nil)
		if err2 != nil {
			logger.WithError(err2).Fatal("can't start listener for prometheus metrics")
		}
	}()

	repo := repository.NewRepo(dbConn)

	clients := make(map[string]ethclient.Client, len(cfg.Chains))
	for name, chainCfg := range cfg.Chains {
		client, err2 := ethclient.NewClient(chainCfg.RPC.Host, chainCfg.RPC.Timeout, chainCfg.ChainID)
		if err2 != nil {
			logger.WithError(err2).WithField("chain", name).Fatal("can't dial chain rpc client")
		}
		clients[name] = client
	}
	relayer := ethadapter.NewRelayerClient(cfg.Adapter.RelayerURL, cfg.Adapter.Timeout)
	adapter := ethadapter.NewAdapter(logger.WithField("service", "adapter"), relayer, clients)

	priceOracle := oracle.NewPriceOracle(
		logger.WithField("service", "price_oracle"),
		oracle.NewHTTPPriceProvider(cfg.Oracle.PriceURL, cfg.Oracle.Timeout),
		cfg.Oracle,
	)
	gasOracle := oracle.NewGasOracle(
		logger.WithField("service", "gas_oracle"),
		oracle.NewHTTPGasProvider(cfg.Oracle.GasURL, cfg.Oracle.Timeout),
		cfg.Oracle,
	)
	routes := bridge.NewRoutes(cfg.Routes)
	estimator := bridge.NewFeeEstimator(routes, priceOracle, gasOracle, cfg.ProtocolFeeRate)

	ctx, cancel := context.WithCancel(context.Background())

	sched := scheduler.NewScheduler(logger.WithField("service", "scheduler"), cfg.Scheduler, repo, adapter)
	if err = sched.RecoverState(ctx); err != nil {
		logger.WithError(err).Fatal("can't recover scheduler state")
	}
	go sched.Start(ctx)

	alertManager := alerts.NewAlertManager(logger.WithField("service", "alerts"), dbConn)
	alertManager.Start(ctx)

	service := bridge.NewService(
		logger.WithField("service", "bridge"),
		repo, cfg.Chains, routes, estimator, adapter, sched,
	)
	if cfg.Presenter != nil {
		pr := presenter.NewPresenter(logger.WithField("service", "presenter"), service)
		go func() {
			err2 := pr.Serve(cfg.Presenter.Host)
			if err2 != nil {
				logger.WithError(err2).Fatal("can't serve presenter")
			}
		}()
	}

	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt)
	for range c {
		cancel()
		logger.Warn("caught CTRL-C, gracefully terminating")
		return
	}
}
