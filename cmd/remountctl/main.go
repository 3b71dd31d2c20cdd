//
// Copyright: (C) 2019 Nestybox Inc.  All rights reserved.
//

package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/remountd/remountd/client"
	"github.com/remountd/remountd/config"
	"github.com/remountd/remountd/domain"

	"github.com/urfave/cli"
)

const (
	usage = `remount control client

remountctl sends one command to the remountd daemon over its UNIX socket
and reports the reply. Commands: list, ro <name> [pid], rw <name> [pid],
quit. When the pid is omitted remountctl's own pid is used.
`
)

// Globals to be populated at build time during Makefile processing.
var (
	version  string
	commitId string
	builtAt  string
	builtBy  string
)

// run executes one client invocation; the int is the process exit code.
func run(ctx *cli.Context) (int, error) {

	args := []string(ctx.Args())
	if len(args) == 0 {
		fmt.Fprintf(os.Stderr, "ERROR: missing command.\n")
		return 1, nil
	}

	// The config file is needed to resolve the socket path (unless
	// overridden) and to validate the identifier of a two-token ro/rw
	// command before appending our own pid.
	socketPath := ctx.GlobalString("socket")
	appendOwnPid := len(args) == 2 && (args[0] == "ro" || args[0] == "rw")

	if socketPath == "" || appendOwnPid {
		cfg, err := config.Load(ctx.GlobalString("config"), socketPath)
		if err != nil {
			return 1, err
		}
		socketPath = cfg.SocketPath()

		if appendOwnPid {
			if _, ok := cfg.LookupAllowedPath(args[1]); !ok {
				fmt.Fprintf(os.Stderr, "ERROR: %s is not an allowed identifier in %s.\n",
					args[1], cfg.ConfigPath())
				return 1, nil
			}
			args = append(args, strconv.Itoa(os.Getpid()))
		}
	}

	message := strings.Join(args, " ") + "\n"

	reply, err := client.Send(socketPath, message)
	if err != nil {
		return 1, err
	}

	if reply == "OK\n" {
		return 0, nil
	}

	// 'quit' is acknowledged by the daemon closing the session, not by a
	// reply line.
	if args[0] == "quit" && reply == "" {
		return 0, nil
	}

	fmt.Fprint(os.Stderr, reply)
	return 1, nil
}

//
// remountctl main function
//
func main() {

	app := cli.NewApp()
	app.Name = "remountctl"
	app.Usage = usage
	app.Version = version
	app.ArgsUsage = "<command...>"

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
	}

	cli.VersionPrinter = func(c *cli.Context) {
		fmt.Printf("remountctl\n"+
			"\tversion: \t%s\n"+
			"\tcommit: \t%s\n"+
			"\tbuilt at: \t%s\n"+
			"\tbuilt by: \t%s\n",
			c.App.Version, commitId, builtAt, builtBy)
	}

	app.Action = func(ctx *cli.Context) error {
		code, err := run(ctx)
		if err != nil {
			return err
		}
		if code != 0 {
			return cli.NewExitError("", code)
		}
		return nil
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "remountctl: %v\n", err)
		os.Exit(1)
	}
}
