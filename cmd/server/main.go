package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/benbjohnson/clock"
	_ "github.com/lib/pq"
	"github.com/sirupsen/logrus"

	"github.com/sheikh-saqib/crowdfunding-ledger/internal/api"
	"github.com/sheikh-saqib/crowdfunding-ledger/internal/config"
	"github.com/sheikh-saqib/crowdfunding-ledger/internal/events/fanout"
	"github.com/sheikh-saqib/crowdfunding-ledger/internal/events/kafka"
	"github.com/sheikh-saqib/crowdfunding-ledger/internal/events/logging"
	eventsmemory "github.com/sheikh-saqib/crowdfunding-ledger/internal/events/memory"
	interfaces "github.com/sheikh-saqib/crowdfunding-ledger/internal/interfaces"
	"github.com/sheikh-saqib/crowdfunding-ledger/internal/ledger"
	"github.com/sheikh-saqib/crowdfunding-ledger/internal/payout"
	"github.com/sheikh-saqib/crowdfunding-ledger/internal/storage/memory"
	"github.com/sheikh-saqib/crowdfunding-ledger/internal/storage/postgres"
)

const recentEvents = 1000

func main() {
	if err := run(os.Args[1:]); err != nil {
		logrus.WithError(err).Fatal("server stopped")
	}
}

func run(args []string) error {
	cfg, err := config.Load(args)
	if err != nil {
		return err
	}
	log, err := cfg.NewLogger()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	recorder := eventsmemory.NewBoundedRecorder(recentEvents)
	publishers := []interfaces.EventPublisher{logging.NewPublisher(log), recorder}
	if len(cfg.KafkaBrokers) > 0 {
		kp := kafka.NewPublisher(cfg.KafkaBrokers, cfg.KafkaTopicPrefix)
		defer kp.Close()
		publishers = append(publishers, kp)
		log.WithField("brokers", cfg.KafkaBrokers).Info("publishing fund events to kafka")
	}

	clk := clock.New()
	opts := []ledger.Option{
		ledger.WithClock(clk),
		ledger.WithTransferer(payout.NewVault(log, payout.WithClock(clk))),
		ledger.WithPublisher(fanout.New(publishers...)),
		ledger.WithLogger(log),
	}
	fund, err := ledger.Restore(ctx, store, opts...)
	if errors.Is(err, ledger.ErrNoFund) {
		fund, err = ledger.NewLedger(ctx, store, ledger.Config{
			Admin:           cfg.AdminID,
			Goal:            cfg.ContributionGoal,
			Duration:        cfg.Duration(),
			MinContribution: cfg.MinContribution,
		}, opts...)
	}
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           api.NewHandler(fund, log).WithEvents(recorder).Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.WithField("addr", cfg.HTTPAddr).Info("starting server")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func openStore(ctx context.Context, cfg config.Config) (interfaces.FundStore, func(), error) {
	if cfg.StoreDriver != config.DriverPostgres {
		return memory.NewMemoryFundStore(), func() {}, nil
	}

	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		return nil, nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("ping postgres: %w", err)
	}

	store := postgres.NewPostgresFundStore(db)
	if err := store.Migrate(ctx); err != nil {
		db.Close()
		return nil, nil, err
	}
	return store, func() { db.Close() }, nil
}
