package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli"

	"orderengine/cmd/demo"
	"orderengine/src/client"
	"orderengine/src/database"
	"orderengine/src/server"
	"orderengine/src/utils"
)

var Version string

func main() {
	_ = godotenv.Load()
	utils.SetupLogger(os.Getenv("LOG_LEVEL"), os.Getenv("LOG_FORMAT"))

	app := cli.NewApp()
	app.Name = "Order Engine CMD"
	app.Usage = "The order execution engine command line interface"
	app.Version = Version

	app.Commands = []cli.Command{
		serverCMD,
		demoCMD,
		metricsCMD,
	}

	if err := app.Run(os.Args); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var urlFlag = cli.StringFlag{
	Name:   "url",
	Usage:  "base URL of a running engine",
	EnvVar: "ENGINE_URL",
	Value:  "http://localhost:3000",
}

var (
	serverCMD = cli.Command{
		Name:        "server",
		Usage:       "run the order engine",
		Action:      serverAction,
		ArgsUsage:   "",
		Flags:       []cli.Flag{},
		Description: `Run the HTTP and WebSocket order engine`,
	}
	demoCMD = cli.Command{
		Name:      "demo",
		Usage:     "submit a burst of orders and follow them",
		Action:    demoAction,
		ArgsUsage: "",
		Flags: []cli.Flag{
			urlFlag,
			cli.IntFlag{Name: "orders", Usage: "number of orders to submit", EnvVar: "DEMO_ORDERS", Value: 5},
		},
		Description: `Submit orders to a running engine and print a summary of their fills`,
	}
	metricsCMD = cli.Command{
		Name:        "metrics",
		Usage:       "print queue metrics",
		Action:      metricsAction,
		ArgsUsage:   "",
		Flags:       []cli.Flag{urlFlag},
		Description: `Print the queue and connection counters of a running engine`,
	}
)

func serverAction(_ *cli.Context) error {
	logrus.WithField("cmd", "server").Info("Starting order engine CMD")

	if err := database.InitMainDB(); err != nil {
		logrus.WithError(err).Error("Failed to connect to database")
		return err
	}
	defer func() {
		if err := database.Close(); err != nil {
			logrus.WithError(err).Error("Failed to close database")
		}
	}()

	return server.StartServer()
}

func demoAction(c *cli.Context) error {
	log := logrus.WithField("cmd", "demo")
	log.Info("Starting demo CMD")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg := demo.GetConfig()
	cfg.Orders = c.Int("orders")

	d := &demo.Demo{
		Log:    log,
		Client: client.New(c.String("url"), client.GetConfig().Timeout),
		Config: cfg,
	}
	summary, err := d.Start(ctx)
	if summary != nil {
		summary.Print(os.Stdout)
	}
	if err != nil {
		log.WithError(err).Error("Demo run failed")
		return err
	}
	return nil
}

func metricsAction(c *cli.Context) error {
	m, err := client.New(c.String("url"), client.GetConfig().Timeout).Metrics(context.Background())
	if err != nil {
		logrus.WithError(err).Error("Failed to fetch metrics")
		return err
	}

	fmt.Printf("waiting=%d active=%d completed=%d failed=%d total=%d connections=%d\n",
		m.Waiting, m.Active, m.Completed, m.Failed, m.Total, m.ActiveConnections)
	return nil
}
