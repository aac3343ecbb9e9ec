package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"mushqueue/internal/app"
	"mushqueue/internal/storage"

	"github.com/dustin/go-humanize"
	"github.com/urfave/cli"
)

var configFlag = cli.StringFlag{
	Name:   "config, c",
	Value:  "./mushqueue.yaml",
	Usage:  "path to the YAML or JSON config",
	EnvVar: "MUSHQUEUE_CONFIG",
}

func newCLI() *cli.App {
	a := cli.NewApp()
	a.Name = "mushqueue"
	a.HelpName = "mushqueue"
	a.Usage = "a MUSH command queue driven from the console"
	a.UsageText = "mushqueue [--config FILE] <command> [arguments...]"
	a.Version = version
	a.Flags = []cli.Flag{configFlag}
	a.Action = run
	a.Commands = []cli.Command{
		{
			Name:   "run",
			Usage:  "run the queue, reading commands from stdin",
			Action: run,
		},
		{
			Name:      "stat",
			Usage:     "print the accounting state of an object",
			ArgsUsage: "<#obj>",
			Action:    stat,
		},
	}
	return a
}

func execute(args []string) error {
	return newCLI().Run(args)
}

func configPath(ctx *cli.Context) string {
	if p := ctx.String("config"); p != "" {
		return p
	}
	return ctx.GlobalString("config")
}

func run(ctx *cli.Context) error {
	sigCtx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	a, err := app.NewApp(configPath(ctx))
	if err != nil {
		return err
	}
	if err := a.Start(sigCtx); err != nil {
		stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer stopCancel()
		_ = a.Stop(stopCtx, app.StopFatalError)
		return err
	}

	reason := app.StopSIGINT
	select {
	case <-sigCtx.Done():
	case <-a.InputDone():
		reason = app.StopInputEOF
	case <-a.Done():
		reason = app.StopFatalError
	}

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer stopCancel()
	_ = a.Stop(stopCtx, reason)
	return a.Err()
}

func stat(ctx *cli.Context) error {
	if ctx.NArg() != 1 {
		return errors.New("stat: expected one object reference")
	}
	ref, err := storage.ParseDBRef(ctx.Args().First())
	if err != nil {
		return err
	}
	c := context.Background()
	st, err := app.OpenStore(c, configPath(ctx))
	if err != nil {
		return err
	}
	defer st.Close()
	return printStat(c, ctx.App.Writer, st, ref)
}

func printStat(ctx context.Context, w io.Writer, st storage.Store, ref storage.DBRef) error {
	o, err := st.Get(ctx, ref)
	if errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("no such object: %s", ref)
	}
	if err != nil {
		return err
	}
	queueMax := "default"
	if o.QueueMax != nil {
		queueMax = humanize.Comma(int64(*o.QueueMax))
	}
	fmt.Fprintf(w, "%s(%s)  owner %s\n", o.Name, o.Ref, o.Owner)
	fmt.Fprintf(w, "  money   %s\n", humanize.Comma(o.Money))
	fmt.Fprintf(w, "  queue   %s (max %s)\n", humanize.Comma(int64(o.Queue)), queueMax)
	fmt.Fprintf(w, "  cpu     %s\n", o.CPU)
	fmt.Fprintf(w, "  halted  %t\n", o.Halted)
	return nil
}
