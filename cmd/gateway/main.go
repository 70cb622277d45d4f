// Command gateway runs the monetizing reverse-proxy HTTP server: it
// loads configuration, wires every component from internal/, and serves
// until a termination signal triggers a graceful drain.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/meterly/gateway/internal/advertiser"
	"github.com/meterly/gateway/internal/chainreg"
	"github.com/meterly/gateway/internal/circuitbreaker"
	"github.com/meterly/gateway/internal/config"
	"github.com/meterly/gateway/internal/creds"
	"github.com/meterly/gateway/internal/dbpool"
	"github.com/meterly/gateway/internal/dispatcher"
	"github.com/meterly/gateway/internal/facilitator"
	"github.com/meterly/gateway/internal/gatewaymw"
	"github.com/meterly/gateway/internal/httpgateway"
	"github.com/meterly/gateway/internal/httputil"
	"github.com/meterly/gateway/internal/ledger"
	"github.com/meterly/gateway/internal/lifecycle"
	"github.com/meterly/gateway/internal/logger"
	"github.com/meterly/gateway/internal/metrics"
	"github.com/meterly/gateway/internal/monitoring"
	"github.com/meterly/gateway/internal/onchain"
	"github.com/meterly/gateway/internal/svcreg"
)

func main() {
	os.Exit(run())
}

// run wires the process and blocks until shutdown, returning the exit
// code required by spec §6: 0 on graceful shutdown, non-zero on init
// failure.
func run() int {
	configPath := os.Getenv("GATEWAY_CONFIG_PATH")
	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "gateway: load config: %v\n", err)
		return 1
	}

	log := logger.New(logger.Config{
		Level:       cfg.Logging.Level,
		Format:      cfg.Logging.Format,
		Service:     "gateway",
		Environment: cfg.Logging.Environment,
	})

	lc := lifecycle.NewManager()
	defer lc.Close()

	if err := registerChains(*cfg); err != nil {
		log.Error().Err(err).Msg("gateway.chain_registration_failed")
		return 1
	}

	registry, err := svcreg.Load(cfg.Catalog.Path)
	if err != nil {
		log.Error().Err(err).Msg("gateway.catalog_load_failed")
		return 1
	}

	pool, err := dbpool.NewSharedPool(cfg.Database.PostgresURL, cfg.Database.PostgresPool)
	if err != nil {
		log.Error().Err(err).Msg("gateway.db_open_failed")
		return 1
	}
	lc.Register("db", pool)

	gatewayMetrics := metrics.New(nil)

	led, err := ledger.New(pool.DB(), cfg.Database, log)
	if err != nil {
		log.Error().Err(err).Msg("gateway.ledger_init_failed")
		return 1
	}
	led.WithMetrics(gatewayMetrics)
	lc.Register("ledger", led)

	breakers := circuitbreaker.NewManagerFromConfig(cfg.CircuitBreaker)

	verifier := onchain.New(cfg.Rails.Fast.RPCURL, cfg.Rails.Fast.StablecoinAddress, cfg.Rails.Fast.CAIP2, led, breakers)

	credPool := creds.NewPool()
	for tag, secrets := range cfg.Providers {
		credPool.Register(tag, secrets)
	}

	facilitatorHTTP := httputil.NewClient(cfg.Facilitator.Timeout.Duration)
	fastFacilitator := facilitator.NewFastRail(cfg.Rails.Fast.CAIP2, "", "", verifier.Verify)
	slowA := facilitator.NewRemote(cfg.Facilitator.URL, cfg.Rails.SlowA.CAIP2, "exact",
		map[string]string{"name": cfg.Rails.SlowA.PermitName, "version": cfg.Rails.SlowA.PermitVersion},
		facilitatorHTTP, breakers)
	slowB := facilitator.NewRemote(cfg.Facilitator.URL, cfg.Rails.SlowB.CAIP2, "exact",
		map[string]string{"feePayer": cfg.Rails.SlowB.FeePayer},
		facilitatorHTTP, breakers)
	facilitatorRails := []httpgateway.FacilitatorRail{
		{Name: "fast", Client: fastFacilitator, PayTo: cfg.Rails.Fast.RecipientAddress, StablecoinAddress: cfg.Rails.Fast.StablecoinAddress},
		{Name: "slow-a", Client: slowA, PayTo: cfg.Rails.SlowA.RecipientAddress, StablecoinAddress: cfg.Rails.SlowA.StablecoinAsset},
		{Name: "slow-b", Client: slowB, PayTo: cfg.Rails.SlowB.RecipientAddress, StablecoinAddress: cfg.Rails.SlowB.StablecoinAsset},
	}

	railClients := gatewaymw.RailClients{
		SlowA: gatewaymw.RailBinding{Client: slowA, PayTo: cfg.Rails.SlowA.RecipientAddress, StablecoinAddress: cfg.Rails.SlowA.StablecoinAsset},
		SlowB: gatewaymw.RailBinding{Client: slowB, PayTo: cfg.Rails.SlowB.RecipientAddress, StablecoinAddress: cfg.Rails.SlowB.StablecoinAsset},
	}

	if cfg.Monitoring.Enabled && cfg.Rails.SlowB.FeePayer != "" {
		monitor, err := monitoring.NewBalanceMonitor(cfg.Monitoring, cfg.Rails.SlowB.FeePayer)
		if err != nil {
			log.Error().Err(err).Msg("gateway.balance_monitor_init_failed")
			return 1
		}
		monitorCtx, stopMonitor := context.WithCancel(context.Background())
		monitor.Start(monitorCtx)
		lc.Register("balance-monitor", monitor)
		lc.RegisterFunc("balance-monitor-ctx", func() error { stopMonitor(); return nil })
	}

	disp := dispatcher.New(credPool, breakers, httputil.NewClient(30*time.Second), led, log).WithMetrics(gatewayMetrics)

	routes, err := buildRoutes(registry)
	if err != nil {
		log.Error().Err(err).Msg("gateway.route_build_failed")
		return 1
	}

	rails := []advertiser.RailInfo{
		{CAIP2: cfg.Rails.Fast.CAIP2, PayTo: cfg.Rails.Fast.RecipientAddress, MaxTimeoutSeconds: int(cfg.Rails.Fast.ReceiptTimeout.Duration.Seconds())},
		{CAIP2: cfg.Rails.SlowA.CAIP2, PayTo: cfg.Rails.SlowA.RecipientAddress, MaxTimeoutSeconds: int(cfg.Facilitator.Timeout.Duration.Seconds()),
			Extra: map[string]string{"name": cfg.Rails.SlowA.PermitName, "version": cfg.Rails.SlowA.PermitVersion}},
		{CAIP2: cfg.Rails.SlowB.CAIP2, PayTo: cfg.Rails.SlowB.RecipientAddress, MaxTimeoutSeconds: int(cfg.Facilitator.Timeout.Duration.Seconds()),
			Extra: map[string]string{"feePayer": cfg.Rails.SlowB.FeePayer}},
	}

	assembler := &httpgateway.Assembler{
		Config:           *cfg,
		Registry:         registry,
		Routes:           routes,
		Advertiser:       advertiser.New(rails),
		FastPayTo:        cfg.Rails.Fast.RecipientAddress,
		FastVerify:       verifier.Verify,
		RailClients:      railClients,
		Dispatcher:       disp,
		Log:              led,
		Logger:           log,
		AdminAPIKey:      cfg.Server.AdminMetricsAPIKey,
		FacilitatorRails: facilitatorRails,
		Stats:            led,
		Metrics:          gatewayMetrics,
		UploadGate:       dispatcher.NewUploadGate(cfg.Server.UploadConcurrency),
	}

	srv := &http.Server{
		Addr:         cfg.Server.Address,
		Handler:      assembler.Router(),
		ReadTimeout:  cfg.Server.ReadTimeout.Duration,
		WriteTimeout: cfg.Server.WriteTimeout.Duration,
		IdleTimeout:  cfg.Server.IdleTimeout.Duration,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Info().Str("address", cfg.Server.Address).Msg("gateway.listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
			return
		}
		serveErr <- nil
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	select {
	case <-ctx.Done():
		log.Info().Msg("gateway.shutdown_signal_received")
	case err := <-serveErr:
		if err != nil {
			log.Error().Err(err).Msg("gateway.listen_failed")
			return 1
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("gateway.shutdown_failed")
		return 1
	}

	return 0
}

func registerChains(cfg config.Config) error {
	if err := chainreg.Register(chainreg.Chain{
		CAIP2:       cfg.Rails.Fast.CAIP2,
		DisplayName: "fast",
		RPCURL:      cfg.Rails.Fast.RPCURL,
		Stablecoin:  chainreg.Stablecoin{Symbol: "USDF", ContractAddress: cfg.Rails.Fast.StablecoinAddress, Decimals: 18},
	}); err != nil {
		return err
	}
	if err := chainreg.Register(chainreg.Chain{
		CAIP2:       cfg.Rails.SlowA.CAIP2,
		DisplayName: "slow-a",
		Stablecoin:  chainreg.Stablecoin{Symbol: "USDC", ContractAddress: cfg.Rails.SlowA.StablecoinAsset, Decimals: 6},
	}); err != nil {
		return err
	}
	if err := chainreg.Register(chainreg.Chain{
		CAIP2:       cfg.Rails.SlowB.CAIP2,
		DisplayName: "slow-b",
		Stablecoin:  chainreg.Stablecoin{Symbol: "USDC", ContractAddress: cfg.Rails.SlowB.StablecoinAsset, Decimals: 6},
	}); err != nil {
		return err
	}
	return nil
}

// buildRoutes derives one dispatcher.Route per cataloged service from
// its Metadata map: upstream_url is required, everything else falls
// back to a sensible JSONGet default. This keeps the catalog file the
// single source of truth for what routes exist and how they're served,
// rather than hardcoding a route table in the binary.
func buildRoutes(registry *svcreg.Registry) ([]httpgateway.RouteConfig, error) {
	services := registry.All()
	routes := make([]httpgateway.RouteConfig, 0, len(services))
	for _, svc := range services {
		upstreamURL := svc.Metadata["upstream_url"]
		if upstreamURL == "" {
			return nil, fmt.Errorf("service %s: metadata.upstream_url is required", svc.ID)
		}

		var params []string
		if raw := svc.Metadata["required_params"]; raw != "" {
			params = strings.Split(raw, ",")
		}

		credentialHeader := svc.Metadata["credential_header"]
		if credentialHeader == "" && svc.UpstreamTag != "" {
			credentialHeader = "Authorization"
		}
		bearer := credentialHeader == "Authorization"
		if raw := svc.Metadata["bearer"]; raw != "" {
			if parsed, err := strconv.ParseBool(raw); err == nil {
				bearer = parsed
			}
		}

		cacheTTL := 30 * time.Second
		if raw := svc.Metadata["cache_ttl"]; raw != "" {
			if parsed, err := time.ParseDuration(raw); err == nil {
				cacheTTL = parsed
			}
		}

		routes = append(routes, httpgateway.RouteConfig{
			Service: svc,
			Route: dispatcher.Route{
				Adapter: dispatcher.JSONGet{
					UpstreamURL:      upstreamURL,
					RequiredParams:   params,
					CredentialHeader: credentialHeader,
					BearerPrefix:     bearer,
				},
				CacheTTL: cacheTTL,
			},
		})
	}
	return routes, nil
}
