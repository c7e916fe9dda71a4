// Package scheduler runs the periodic account and position refresh jobs.
package scheduler

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"signalbridge/cmd/bootstrap"
	"signalbridge/src/refresher"
	"signalbridge/src/repository"

	"github.com/sirupsen/logrus"
)

type Scheduler struct{}

func (s *Scheduler) Start() error {
	ctx, stop := signal.NotifyContext(
		context.Background(),
		os.Interrupt,
		syscall.SIGTERM,
	)
	defer stop()

	if err := bootstrap.InitDatabases(); err != nil {
		logrus.WithError(err).Error("Failed to connect to database")
		return err
	}

	exchange, rdb, err := bootstrap.NewExchange(ctx)
	if err != nil {
		logrus.WithError(err).Error("Failed to set up exchange client")
		return err
	}
	if rdb != nil {
		defer func() { _ = rdb.Close() }()
	}

	cfg := refresher.GetConfig()
	r := refresher.New(exchange, repository.NewAccountSnapshotRepository(), repository.NewPositionRepository())

	runner := refresher.NewRunner(ctx)
	if err := r.Schedule(runner, cfg); err != nil {
		logrus.WithError(err).Error("Invalid refresh schedule")
		return err
	}

	logrus.WithFields(logrus.Fields{
		"snapshot_schedule": cfg.SnapshotSchedule,
		"position_schedule": cfg.PositionSchedule,
	}).Info("Starting refresher")

	runner.Start()
	<-ctx.Done()
	runner.Stop()
	return nil
}
