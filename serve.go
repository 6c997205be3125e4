package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/hexresearch/hexstody-sub000/adapter"
	"github.com/hexresearch/hexstody-sub000/config"
	"github.com/hexresearch/hexstody-sub000/handler"
	"github.com/hexresearch/hexstody-sub000/logger"
	"github.com/hexresearch/hexstody-sub000/model"
	"github.com/hexresearch/hexstody-sub000/repository"
	"github.com/hexresearch/hexstody-sub000/router"
	"github.com/hexresearch/hexstody-sub000/service"
	"github.com/hexresearch/hexstody-sub000/signature"
	"github.com/hexresearch/hexstody-sub000/user_service"
)

const (
	sessionIssuer = "hexstody"
	sessionTTL    = 24 * time.Hour
	shutdownGrace = 10 * time.Second
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Replay the update log and serve the user and operator APIs",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return fmt.Errorf("config: %w", err)
			}
			log, err := logger.New(cfg.Log.Level, cfg.Log.Development)
			if err != nil {
				return fmt.Errorf("logger: %w", err)
			}
			logger.SetGlobal(log)
			defer func() { _ = log.Sync() }()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg, log)
		},
	}
}

// ----------------- 初始化数据库 -----------------

func openDB(cfg *config.Config) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(cfg.Database.DSN), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := model.AutoMigrate(db); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return db, nil
}

func serve(ctx context.Context, cfg *config.Config, log *zap.Logger) error {
	db, err := openDB(cfg)
	if err != nil {
		return err
	}
	if sqlDB, err := db.DB(); err == nil {
		defer sqlDB.Close()
	}

	network := cfg.NetworkValue()
	updates := repository.NewUpdateRepository(db)
	st, folded, err := updates.QueryState(ctx, network)
	if err != nil {
		return fmt.Errorf("replay: %w", err)
	}
	log.Info("state restored", zap.String("network", string(network)), zap.Int("updates", folded), zap.Int("users", len(st.Users)))

	gate, err := signature.LoadGate(cfg.OperatorPublicKeys)
	if err != nil {
		return err
	}
	// files with the same key count once
	if gate.Len() < cfg.Quorum() {
		return fmt.Errorf("operator_public_keys hold %d distinct keys, thresholds need %d", gate.Len(), cfg.Quorum())
	}
	secret, err := cfg.Secret()
	if err != nil {
		return err
	}

	shared := service.NewSharedState(st)
	worker := service.NewWorker(service.WorkerConfig{
		QueueCapacity: cfg.Worker.QueueCapacity,
		SnapshotEvery: cfg.Worker.SnapshotEvery,
		SendTimeout:   cfg.Worker.SendTimeout,
		AppendTimeout: cfg.Worker.AppendTimeout,
		AppendBudget:  cfg.Worker.AppendBudget,
	}, updates, shared, log.Named("worker"))

	var (
		btc       *adapter.BtcClient
		ethWallet *adapter.EthWalletClient
		ethNode   *adapter.EthClient
	)
	if cfg.Btc.AdapterURL != "" {
		btc = adapter.NewBtcClient(cfg.Btc.AdapterURL, cfg.Ingest.RPCTimeout)
	}
	if cfg.Eth.AdapterURL != "" {
		ethWallet = adapter.NewEthWalletClient(cfg.Eth.AdapterURL, cfg.Ingest.RPCTimeout)
	}
	if cfg.Eth.RPCURL != "" {
		dialCtx, cancel := context.WithTimeout(ctx, cfg.Ingest.RPCTimeout)
		ethNode, err = adapter.DialEth(dialCtx, cfg.Eth.RPCURL)
		cancel()
		if err != nil {
			return fmt.Errorf("dial eth node: %w", err)
		}
	}

	// typed nil pointers must not reach the interfaces below
	var (
		btcChain, ethChain adapter.ChainAdapter
		btcHot, ethHot     service.HotBalancer
		fees               service.FeeEstimator
		tokens             service.TokenBalances
	)
	if btc != nil {
		btcChain, btcHot, fees = btc, btc, btc
	}
	if ethWallet != nil {
		ethChain, ethHot = ethWallet, ethWallet
	}
	if ethNode != nil {
		tokens = ethNode
	}

	var addresses service.AddressSource = service.AdapterAddressSource{Btc: btcChain, Eth: ethChain}
	if cfg.HD.Mnemonic != "" {
		pool, err := service.NewHDAddressPool(cfg.HD.Mnemonic, network)
		if err != nil {
			return fmt.Errorf("hd pool: %w", err)
		}
		addresses = pool
		log.Info("deposit addresses derived locally")
	}

	thresholds := service.Thresholds{
		Withdraw:    cfg.Confirmations.Withdraw,
		ChangeLimit: cfg.Confirmations.ChangeLimit,
		Exchange:    cfg.Confirmations.Exchange,
	}
	wallet := service.NewWalletService(shared, worker, addresses, tokens, fees, thresholds)
	operator := service.NewOperatorService(shared, worker, btcHot, ethHot, thresholds)
	sessions := user_service.NewTokenManager(secret, sessionIssuer, sessionTTL)
	users := user_service.NewService(wallet, sessions)

	servers := []*http.Server{
		{
			Addr:              cfg.Listen.Public,
			Handler:           router.NewPublicRouter(log.Named("public"), handler.NewWalletHandler(wallet, users), sessions),
			ReadHeaderTimeout: 10 * time.Second,
		},
		{
			Addr:              cfg.Listen.Operator,
			Handler:           router.NewOperatorRouter(log.Named("operator"), handler.NewOperatorHandler(operator), gate, cfg.OperatorAPIDomain),
			ReadHeaderTimeout: 10 * time.Second,
		},
	}

	ingest := service.IngestConfig{
		PollInterval: cfg.Ingest.PollInterval,
		ErrorBackoff: cfg.Ingest.ErrorBackoff,
		RPCTimeout:   cfg.Ingest.RPCTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		worker.Run(gctx)
		return nil
	})
	g.Go(func() error {
		service.NewDispatcher(btcChain, ethChain, worker, shared, ingest.PollInterval, log.Named("dispatcher")).Run(gctx, worker.Derived())
		return nil
	})
	if btc != nil {
		g.Go(func() error {
			service.NewBtcIngestor(ingest, btc, worker, shared, log.Named("btc")).Run(gctx)
			return nil
		})
	}
	if ethNode != nil {
		blocks := repository.NewBlockRepository(db, "eth")
		g.Go(func() error {
			service.NewEthScanner(ingest, cfg.Eth.Confirmations, ethNode, blocks, worker, shared, log.Named("eth")).Run(gctx)
			return nil
		})
	}
	for _, srv := range servers {
		srv := srv
		g.Go(func() error {
			log.Info("HTTP server listening", zap.String("addr", srv.Addr))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("listen %s: %w", srv.Addr, err)
			}
			return nil
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down servers...")
		sctx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		for _, srv := range servers {
			if err := srv.Shutdown(sctx); err != nil {
				log.Error("graceful shutdown failed", zap.String("addr", srv.Addr), zap.Error(err))
			}
		}
		return nil
	})

	err = g.Wait()
	log.Info("server stopped")
	return err
}

func newLogCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "log",
		Short: "Print the newest records of the update log",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return fmt.Errorf("config: %w", err)
			}
			db, err := openDB(cfg)
			if err != nil {
				return err
			}
			repo := repository.NewUpdateRepository(db)
			total, err := repo.Count(cmd.Context())
			if err != nil {
				return err
			}
			recs, err := repo.Tail(cmd.Context(), limit)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%d updates\n", total)
			for _, r := range recs {
				fmt.Fprintf(out, "%8d  %s  %-32s v%d\n", r.ID, r.Created.UTC().Format(time.RFC3339), r.Tag, r.Version)
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "records to print")
	return cmd
}
