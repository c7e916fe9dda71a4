package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"signalbridge/cmd/api"
	"signalbridge/cmd/bootstrap"
	"signalbridge/cmd/scheduler"
	"signalbridge/src/database"
	"signalbridge/src/model"
	"signalbridge/src/refresher"
	"signalbridge/src/repository"

	"github.com/sirupsen/logrus"
	"github.com/urfave/cli"
	"golang.org/x/crypto/bcrypt"
)

var Version string

func main() {
	bootstrap.LoadEnv()
	bootstrap.SetupLogger()

	app := cli.NewApp()
	app.Name = "signalbridge"
	app.Usage = "Signal to exchange order bridge"
	app.Version = Version

	app.Commands = []cli.Command{
		apiCMD,
		refresherCMD,
		snapshotCMD,
		syncPositionsCMD,
		migrateCMD,
		preferenceCMD,
		passphraseCMD,
	}

	if err := app.Run(os.Args); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var (
	apiCMD = cli.Command{
		Name:        "api",
		Usage:       "run the HTTP API",
		Action:      apiAction,
		Description: `Serve the webhook, dashboard endpoints and the execution stream`,
	}
	refresherCMD = cli.Command{
		Name:        "refresher",
		Usage:       "run scheduled account and position refresh",
		Action:      refresherAction,
		Description: `Run SNAPSHOT_SCHEDULE and POSITION_SCHEDULE jobs until interrupted`,
	}
	snapshotCMD = cli.Command{
		Name:   "snapshot",
		Usage:  "store one account snapshot now",
		Action: snapshotAction,
	}
	syncPositionsCMD = cli.Command{
		Name:   "sync-positions",
		Usage:  "reconcile cached positions with the exchange once",
		Action: syncPositionsAction,
	}
	migrateCMD = cli.Command{
		Name:   "migrate",
		Usage:  "apply database migrations and exit",
		Action: migrateAction,
	}
	preferenceCMD = cli.Command{
		Name:      "preference",
		Usage:     "set one trading preference",
		ArgsUsage: "<field> <value>",
		Action:    preferenceAction,
		Flags: []cli.Flag{
			cli.StringFlag{Name: "scope", Value: model.DefaultUserScope, Usage: "user scope"},
			cli.StringFlag{Name: "changed-by", Value: "cli", Usage: "name written to the audit trail"},
		},
		Description: `Fields: product, strategy, direction_mode, leverage, capital_allocation_percent.
   An empty value clears product or strategy.`,
	}
	passphraseCMD = cli.Command{
		Name:      "hash-passphrase",
		Usage:     "print the bcrypt hash for WEBHOOK_PASSPHRASE_HASH",
		ArgsUsage: "<passphrase>",
		Action:    passphraseAction,
	}
)

func apiAction(_ *cli.Context) error {
	logrus.WithField("cmd", "api").Info("Starting api CMD")
	return (&api.API{}).Start()
}

func refresherAction(_ *cli.Context) error {
	logrus.WithField("cmd", "refresher").Info("Starting refresher CMD")
	return (&scheduler.Scheduler{}).Start()
}

func newRefresher(ctx context.Context) (*refresher.Refresher, func(), error) {
	if err := database.InitMainDB(); err != nil {
		return nil, nil, err
	}
	exchange, rdb, err := bootstrap.NewExchange(ctx)
	if err != nil {
		return nil, nil, err
	}
	cleanup := func() {
		if rdb != nil {
			_ = rdb.Close()
		}
	}
	r := refresher.New(exchange, repository.NewAccountSnapshotRepository(), repository.NewPositionRepository())
	return r, cleanup, nil
}

func snapshotAction(_ *cli.Context) error {
	ctx := context.Background()
	r, cleanup, err := newRefresher(ctx)
	if err != nil {
		return err
	}
	defer cleanup()
	return r.SnapshotAccount(ctx, model.SnapshotTriggerManual)
}

func syncPositionsAction(_ *cli.Context) error {
	ctx := context.Background()
	r, cleanup, err := newRefresher(ctx)
	if err != nil {
		return err
	}
	defer cleanup()
	return r.SyncPositions(ctx)
}

func migrateAction(_ *cli.Context) error {
	// InitMainDB migrates on connect.
	if err := database.InitMainDB(); err != nil {
		logrus.WithError(err).Error("Migration failed")
		return err
	}
	logrus.Info("Database is up to date")
	return nil
}

func preferenceAction(c *cli.Context) error {
	if c.NArg() < 1 {
		return errors.New("usage: preference <field> [value]")
	}
	field := strings.TrimSpace(c.Args().Get(0))

	var value interface{}
	if c.NArg() > 1 {
		value = strings.Join(c.Args().Tail(), " ")
	}

	if err := database.InitMainDB(); err != nil {
		return err
	}

	pref, err := repository.NewPreferenceRepository().
		Update(context.Background(), c.String("scope"), field, value, c.String("changed-by"))
	if err != nil {
		return err
	}

	logrus.WithFields(logrus.Fields{
		"scope":     pref.UserScope,
		"direction": pref.Direction(),
		"leverage":  pref.EffectiveLeverage().String(),
	}).Info("Preference updated")
	return nil
}

func passphraseAction(c *cli.Context) error {
	if c.NArg() != 1 {
		return errors.New("usage: hash-passphrase <passphrase>")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(c.Args().First()), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	fmt.Println(string(hash))
	return nil
}
