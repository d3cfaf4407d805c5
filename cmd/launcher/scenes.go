package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/conix/hybridlauncher/agent"
	"github.com/conix/hybridlauncher/lifecycle"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
)

const waitPollInterval = 250 * time.Millisecond

var adminAddrFlag = &cli.StringFlag{
	Name:  "admin-addr",
	Usage: "Address of a running launcher's admin API. Defaults to the configured listen address.",
}

var waitFlag = &cli.DurationFlag{
	Name:  "wait",
	Usage: "Wait up to this long for the launcher's admin API to come up.",
}

func adminClient(ctx *cli.Context) (*agent.Client, error) {
	addr := ctx.String("admin-addr")
	if addr == "" {
		cfg, err := loadConfig(ctx)
		if err != nil {
			return nil, err
		}
		addr = cfg.Admin.ListenAddr
	}
	client := agent.NewClient(zap.NewNop().Sugar(), addr, agent.WithClientWaitInterval(waitPollInterval))

	if wait := ctx.Duration("wait"); wait > 0 {
		waitCtx, cancel := context.WithTimeout(ctx.Context, wait)
		defer cancel()
		if err := client.WaitForServer(waitCtx); err != nil {
			return nil, fmt.Errorf("waiting for launcher at %s: %w", addr, err)
		}
	}
	return client, nil
}

var scenesCommand = &cli.Command{
	Name:  "scenes",
	Usage: "list the scenes a running launcher is serving",
	Flags: []cli.Flag{
		adminAddrFlag,
		waitFlag,
		&cli.BoolFlag{
			Name:  "json",
			Usage: "Print the raw JSON response.",
		},
	},
	Action: func(ctx *cli.Context) error {
		client, err := adminClient(ctx)
		if err != nil {
			return err
		}
		resp, err := client.Scenes(ctx.Context)
		if err != nil {
			return fmt.Errorf("fetching scenes: %w", err)
		}

		if ctx.Bool("json") {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(resp)
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "SCENE\tLAUNCH\tRENDERING\tCLIENTS")
		for _, s := range resp.Scenes {
			rendering := "-"
			if s.Rendering != nil {
				rendering = fmt.Sprintf("%t", *s.Rendering)
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", s.SceneID, s.LaunchID, rendering, strings.Join(s.Clients, ","))
		}
		for _, id := range resp.Pending {
			fmt.Fprintf(w, "-\t%s\t-\t-\n", id)
		}
		return w.Flush()
	},
}

var eventsCommand = &cli.Command{
	Name:  "events",
	Usage: "stream lifecycle transitions from a running launcher",
	Flags: []cli.Flag{adminAddrFlag, waitFlag},
	Action: func(ctx *cli.Context) error {
		client, err := adminClient(ctx)
		if err != nil {
			return err
		}
		return client.Events(ctx.Context, func(t lifecycle.Transition) error {
			fmt.Printf("%s %s", t.Time.Format("15:04:05.000"), t.Event)
			if len(t.Effects) > 0 {
				fmt.Printf(" -> %s", strings.Join(t.Effects, "; "))
			}
			fmt.Println()
			return nil
		})
	},
}
