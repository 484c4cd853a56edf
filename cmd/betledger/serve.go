package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/alexbotov/betledger/internal/access"
	"github.com/alexbotov/betledger/internal/api"
	"github.com/alexbotov/betledger/internal/audit"
	"github.com/alexbotov/betledger/internal/auth"
	"github.com/alexbotov/betledger/internal/config"
	"github.com/alexbotov/betledger/internal/control"
	"github.com/alexbotov/betledger/internal/database"
	"github.com/alexbotov/betledger/internal/domain"
	"github.com/alexbotov/betledger/internal/fee"
	"github.com/alexbotov/betledger/internal/ledger"
	"github.com/alexbotov/betledger/internal/logging"
	"github.com/alexbotov/betledger/internal/metrics"
	"github.com/alexbotov/betledger/internal/transport"
	"github.com/alexbotov/betledger/pkg/custody"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the ledger HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}
			seeds, _ := cmd.Flags().GetStringSlice("seed-wallet")

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg, seeds)
		},
	}
	cmd.Flags().StringSlice("seed-wallet", nil, "address:amount to mint into memory wallets (memory transport only)")
	return cmd
}

// stores groups the persistence backends for one run
type stores struct {
	db       *database.DB
	accounts ledger.Store
	audit    audit.Store
	roles    access.Store
	state    control.StateStore
}

func openStores(cfg *config.Config) (*stores, error) {
	if cfg.Database.Driver != "postgres" {
		return &stores{
			accounts: ledger.NewMemoryStore(),
			audit:    audit.NewMemoryStore(),
		}, nil
	}

	db, err := database.New(cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		return nil, err
	}
	if err := db.Migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return &stores{
		db:       db,
		accounts: database.NewAccountStore(db),
		audit:    audit.NewPostgresStore(db.DB),
		roles:    database.NewRoleStore(db),
		state:    database.NewStateStore(db),
	}, nil
}

func (s *stores) health(ctx context.Context) error {
	if s.db == nil {
		return nil
	}
	return s.db.Health(ctx)
}

func newTransport(cfg *config.Config, custodyAddr domain.Address, seeds []string) (transport.Transport, error) {
	if cfg.Transport.Mode == "remote" {
		if len(seeds) > 0 {
			return nil, errors.New("--seed-wallet needs the memory transport")
		}
		client := custody.NewClient(&custody.ClientConfig{
			BaseURL:    cfg.Transport.BaseURL,
			APIKey:     cfg.Transport.APIKey,
			APISecret:  cfg.Transport.APISecret,
			Asset:      cfg.Transport.Asset,
			Timeout:    cfg.Transport.Timeout,
			RetryCount: cfg.Transport.RetryCount,
		})
		return transport.NewRemote(client, custodyAddr, cfg.Transport.Decimals), nil
	}

	mem := transport.NewMemory(custodyAddr)
	for _, seed := range seeds {
		addrStr, amountStr, ok := strings.Cut(seed, ":")
		if !ok {
			return nil, fmt.Errorf("invalid seed %q, want address:amount", seed)
		}
		addr, err := domain.ParseAddress(addrStr)
		if err != nil {
			return nil, fmt.Errorf("invalid seed address %q: %w", addrStr, err)
		}
		amount, err := strconv.ParseInt(amountStr, 10, 64)
		if err != nil || amount <= 0 {
			return nil, fmt.Errorf("invalid seed amount %q", amountStr)
		}
		mem.Mint(addr, amount)
	}
	return mem, nil
}

const (
	publishQueueSize = 4096
	publishTimeout   = 10 * time.Second
)

func serve(ctx context.Context, cfg *config.Config, seeds []string) error {
	logger, err := logging.New(cfg.ServiceName, cfg.Env, cfg.Log)
	if err != nil {
		return fmt.Errorf("failed to build logger: %w", err)
	}
	defer logger.Sync()
	logger.Info("starting service",
		zap.String("database", cfg.Database.Driver),
		zap.String("transport", cfg.Transport.Mode))

	st, err := openStores(cfg)
	if err != nil {
		return err
	}
	if st.db != nil {
		defer st.db.Close()
	}

	// Audit publishers
	hub := api.NewHub(logger)
	defer hub.Close()
	publishers := []audit.Sink{hub}

	// broker sinks are queued so publishing never runs under ledger locks
	if len(cfg.Events.KafkaBrokers) > 0 {
		sink := audit.NewAsyncSink("kafka",
			audit.NewKafkaSink(strings.Join(cfg.Events.KafkaBrokers, ","), cfg.Events.KafkaTopic),
			publishQueueSize, publishTimeout, logger)
		defer sink.Close()
		publishers = append(publishers, sink)
		logger.Info("publishing events to kafka", zap.Strings("brokers", cfg.Events.KafkaBrokers))
	}
	if cfg.Events.RedisAddr != "" {
		rdb, err := audit.ConnectRedis(ctx, cfg.Events.RedisAddr)
		if err != nil {
			return fmt.Errorf("failed to connect redis: %w", err)
		}
		defer rdb.Close()
		sink := audit.NewAsyncSink("redis", audit.NewRedisSink(rdb, cfg.Events.RedisChannel),
			publishQueueSize, publishTimeout, logger)
		defer sink.Close()
		publishers = append(publishers, sink)
		logger.Info("publishing events to redis", zap.String("addr", cfg.Events.RedisAddr))
	}

	auditSvc := audit.New(st.audit, logger, publishers...)
	if err := auditSvc.Restore(ctx); err != nil {
		return err
	}

	// Roles and pause switch
	admins, _ := cfg.Ledger.AdminAddresses()
	accessSvc, err := access.New(auditSvc, st.roles, admins...)
	if err != nil {
		return err
	}
	if err := accessSvc.LoadState(ctx); err != nil {
		return err
	}
	operators, _ := cfg.Ledger.OperatorAddresses()
	for _, op := range operators {
		if err := accessSvc.AddOperator(ctx, admins[0], op); err != nil && !errors.Is(err, access.ErrAlreadyOperator) {
			return fmt.Errorf("failed to seed operator %s: %w", op, err)
		}
	}

	controlSvc := control.New(accessSvc, auditSvc, st.state)
	if err := controlSvc.LoadState(ctx); err != nil {
		return err
	}

	// Ledger
	feesAddr, _ := domain.ParseAddress(cfg.Ledger.FeesAddress)
	custodyAddr, _ := domain.ParseAddress(cfg.Ledger.CustodyAddress)
	fees, err := fee.NewConfig(cfg.Ledger.FeePercent, feesAddr)
	if err != nil {
		return err
	}
	tr, err := newTransport(cfg, custodyAddr, seeds)
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	ledgerSvc := ledger.New(st.accounts, tr, accessSvc, controlSvc, fees, auditSvc,
		ledger.WithLogger(logger),
		ledger.WithMetrics(metrics.NewLedger(reg)),
		ledger.WithCustodyAddress(custodyAddr),
		ledger.WithStateStore(st.state),
	)
	if err := ledgerSvc.LoadState(ctx); err != nil {
		return err
	}
	if err := ledgerSvc.CheckConservation(ctx); err != nil {
		logger.Error("ledger totals disagree with accounts", zap.Error(err))
	}

	// Servers
	metricsSrv := metrics.StartServer(cfg.Metrics.Port, reg, st.health)
	logger.Info("metrics/health listening", zap.String("addr", metricsSrv.Addr))

	handler := api.New(auth.New(&cfg.Auth, auditSvc), ledgerSvc, accessSvc, controlSvc, auditSvc, hub, logger)
	apiSrv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      handler.SetupRouter(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("api listening", zap.String("addr", apiSrv.Addr))
		if err := apiSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("api server: %w", err)
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var errs []error
	if err := apiSrv.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("api shutdown: %w", err))
	}
	if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("metrics shutdown: %w", err))
	}
	return errors.Join(errs...)
}
