// Package api runs the HTTP service: webhook intake, dashboards and the execution stream.
package api

import (
	"context"

	"signalbridge/cmd/bootstrap"
	"signalbridge/src/controller"
	"signalbridge/src/database"
	"signalbridge/src/handler"
	"signalbridge/src/pipeline"
	"signalbridge/src/recorder"
	"signalbridge/src/repository"
	"signalbridge/src/server"
	"signalbridge/src/stream"

	"github.com/sirupsen/logrus"
)

type API struct{}

func (a *API) Start() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

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

	hub := stream.NewHub(rdb)
	go func() { _ = hub.Run(ctx) }()

	pipelineCfg := pipeline.GetConfig()
	handlerCfg := handler.GetConfig()
	serverCfg := server.GetConfig()
	serviceName := controller.GetConfig().ServiceName

	preferences := repository.NewPreferenceRepository()
	snapshots := repository.NewAccountSnapshotRepository()
	positions := repository.NewPositionRepository()

	signals := pipeline.New(pipelineCfg, pipeline.Deps{
		Preferences: preferences,
		Exchange:    exchange,
		Recorder:    recorder.New(database.MainDB),
		Positions:   positions,
		Snapshots:   snapshots,
		Commissions: repository.NewOrderRepository(),
		Executions:  repository.NewExecutionRepository(),
		Publisher:   hub,
		Exceptions:  repository.NewExceptionRepository(),
		ServiceName: serviceName,
	})

	router := server.NewRouter(server.Handlers{
		Webhook:           handler.WebhookHandler(signals, handlerCfg),
		Executions:        handler.DefaultListExecutionsHandler(),
		AccountSummary:    handler.AccountSummaryHandler(snapshots, exchange),
		Positions:         handler.ListPositionsHandler(positions),
		CurrentPreference: handler.CurrentPreferenceHandler(preferences, pipelineCfg.UserScope),
		PreferenceOptions: handler.PreferenceOptionsHandler(),
		UpdatePreference:  handler.UpdatePreferenceHandler(preferences, pipelineCfg.UserScope),
		PreferenceHistory: handler.PreferenceHistoryHandler(preferences, pipelineCfg.UserScope),
		ExecutionStream:   hub.HandleWS,
	})

	logrus.WithFields(logrus.Fields{
		"service": serviceName,
		"scope":   pipelineCfg.UserScope,
	}).Info("Starting API")

	server.StartServer(serverCfg.Port, router, serverCfg.ShutdownTimeout)
	return nil
}
