//
// Copyright: (C) 2019 Nestybox Inc.  All rights reserved.
//

package main

import (
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/remountd/remountd/config"
	"github.com/remountd/remountd/domain"
	"github.com/remountd/remountd/handler"
	"github.com/remountd/remountd/nsenter"
	"github.com/remountd/remountd/process"
	"github.com/remountd/remountd/server"
	"github.com/remountd/remountd/sysio"

	"github.com/sirupsen/logrus"
	"github.com/urfave/cli"
)

const (
	usage = `remount daemon

remountd is a privileged daemon that lets unprivileged callers toggle a
pre-approved set of bind-mounted subtrees between read-only and read-write,
inside the mount namespace of a caller-designated process.
`
)

// Globals to be populated at build time during Makefile processing.
var (
	version  string // extracted from VERSION file
	commitId string // latest git commit-id
	builtAt  string // build time
	builtBy  string // build owner
)

//
// Signal forwarder: collapses SIGINT/SIGTERM into a wakeup byte on the
// termination pipe so the event loop can exit its epoll wait.
//
func signalForwarder(signalChan chan os.Signal) {

	for s := range signalChan {
		logrus.Warnf("Caught OS signal: %s", s)
		sysio.NotifyTermination()
	}
}

// printAllowList writes the formatted allow-list to stdout (--list).
func printAllowList(cfg domain.ConfigIface) {

	fmt.Printf("Allowed mount points (%s):\n", cfg.ConfigPath())
	for _, amp := range cfg.AllowedMountPoints() {
		fmt.Printf("  %s %s\n", amp.Name, amp.Path)
	}
}

//
// remountd main function
//
func main() {

	app := cli.NewApp()
	app.Name = "remountd"
	app.Usage = usage
	app.Version = version

	app.Flags = []cli.Flag{
		cli.StringFlag{
			Name:  "config",
			Value: domain.DefaultConfigPath,
			Usage: "config file path",
		},
		cli.StringFlag{
			Name:  "socket",
			Usage: "override the configured socket path",
		},
		cli.BoolFlag{
			Name:  "inetd",
			Usage: "serve the already-connected socket passed on stdin, then exit",
		},
		cli.BoolFlag{
			Name:  "list",
			Usage: "print the configured allow-list and exit",
		},
		cli.StringFlag{
			Name:  "log",
			Value: "/dev/stdout",
			Usage: "log file path",
		},
		cli.StringFlag{
			Name:  "log-level",
			Value: "info",
			Usage: "log categories to include (debug, info, warning, error, fatal)",
		},
	}

	// show-version specialization.
	cli.VersionPrinter = func(c *cli.Context) {
		fmt.Printf("remountd\n"+
			"\tversion: \t%s\n"+
			"\tcommit: \t%s\n"+
			"\tbuilt at: \t%s\n"+
			"\tbuilt by: \t%s\n",
			c.App.Version, commitId, builtAt, builtBy)
	}

	// Define 'debug' and 'log' settings.
	app.Before = func(ctx *cli.Context) error {

		// Create/set the log-file destination.
		if path := ctx.GlobalString("log"); path != "" {
			f, err := os.OpenFile(
				path,
				os.O_CREATE|os.O_WRONLY|os.O_APPEND|os.O_SYNC,
				0666,
			)
			if err != nil {
				logrus.Fatalf(
					"Error opening log file %v: %v. Exiting ...",
					path, err,
				)
				return err
			}

			// Set a proper logging formatter.
			logrus.SetFormatter(&logrus.TextFormatter{
				ForceColors:     true,
				TimestampFormat: "2006-01-02 15:04:05",
				FullTimestamp:   true,
			})
			logrus.SetOutput(f)
			log.SetOutput(f)
		}

		// Set desired log-level.
		if logLevel := ctx.GlobalString("log-level"); logLevel != "" {
			switch logLevel {
			case "debug":
				logrus.SetLevel(logrus.DebugLevel)
			case "info":
				logrus.SetLevel(logrus.InfoLevel)
			case "warning":
				logrus.SetLevel(logrus.WarnLevel)
			case "error":
				logrus.SetLevel(logrus.ErrorLevel)
			case "fatal":
				logrus.SetLevel(logrus.FatalLevel)
			default:
				logrus.Fatalf(
					"log-level option '%v' not recognized. Exiting ...",
					logLevel,
				)
			}
		} else {
			// Set 'info' as our default log-level.
			logrus.SetLevel(logrus.InfoLevel)
		}

		return nil
	}

	// remountd main-loop execution.
	app.Action = func(ctx *cli.Context) error {

		if ctx.NArg() > 0 {
			return fmt.Errorf("unknown argument: %s", ctx.Args().First())
		}

		cfg, err := config.Load(
			ctx.GlobalString("config"),
			ctx.GlobalString("socket"),
		)
		if err != nil {
			return err
		}

		if ctx.Bool("list") {
			printAllowList(cfg)
			return nil
		}

		// Initialize remountd's services.

		var processProber = process.NewProcessProber()

		var remounterService = nsenter.NewRemounterService()

		var commandHandler = handler.NewCommandHandler(
			cfg,
			processProber,
			remounterService,
		)

		term, err := sysio.NewTerminationPipe()
		if err != nil {
			return err
		}
		defer term.Close()

		// Forward termination signals into the pipe the loop watches;
		// restored to default dispositions on the way out.
		var signalChan = make(chan os.Signal, 1)
		signal.Notify(
			signalChan,
			syscall.SIGINT,
			syscall.SIGTERM)
		go signalForwarder(signalChan)
		defer func() {
			signal.Reset(syscall.SIGINT, syscall.SIGTERM)
			close(signalChan)
		}()

		endpoint, err := server.OpenEndpoint(cfg, ctx.Bool("inetd"))
		if err != nil {
			return err
		}
		defer endpoint.Close()

		srv := server.New(endpoint, term, commandHandler, nil)

		return srv.Run()
	}

	if err := app.Run(os.Args); err != nil {
		logrus.Fatal(err)
	}
}
