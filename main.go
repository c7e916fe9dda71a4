package main

import (
	"fmt"
	"os"
	"time"

	"signalbridge/cmd/api"
	"signalbridge/cmd/bootstrap"

	logger "github.com/sirupsen/logrus"
)

var APP_NAME = os.Getenv("APP_NAME")

func main() {
	bootstrap.LoadEnv()
	bootstrap.SetupLogger()
	defer handlePanic()

	if err := (&api.API{}).Start(); err != nil {
		logger.WithError(err).Fatal("API stopped with error")
	}
}

func handlePanic() {
	if r := recover(); r != nil {
		logger.WithError(fmt.Errorf("%+v", r)).Error(fmt.Sprintf("Application %s panic", APP_NAME))
		//nolint
		time.Sleep(time.Second * 5)
	}
}
