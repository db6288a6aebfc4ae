// Package cli owns the command surface and the interactive terminal
// session: it renders the client's state snapshots and turns typed
// lines into user intents.
package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/Dyastin-0/lanchat/client"
	"github.com/Dyastin-0/lanchat/discovery"
	"github.com/Dyastin-0/lanchat/logger"
	"github.com/Dyastin-0/lanchat/styles"
	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/huh/spinner"
	"github.com/urfave/cli/v3"
)

const VERSION = "0.1.0"

func New() *cli.Command {
	return &cli.Command{
		Name:    "lanchat",
		Usage:   "serverless chat and file sharing for your local network",
		Version: VERSION,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "name",
				Aliases: []string{"n"},
				Usage:   "display name, defaults to the hostname",
			},
			&cli.StringFlag{
				Name:    "maddr",
				Aliases: []string{"m"},
				Usage:   "multicast discovery group",
				Value:   discovery.DefaultGroup,
			},
			&cli.IntFlag{
				Name:    "port",
				Aliases: []string{"p"},
				Usage:   "tcp listen port",
				Value:   client.DefaultPort,
			},
			&cli.StringFlag{
				Name:    "dir",
				Aliases: []string{"d"},
				Usage:   "directory for received files",
			},
			&cli.StringFlag{
				Name:    "log",
				Aliases: []string{"l"},
				Usage:   "log file path",
			},
		},
		Action: chatAction,
	}
}

func chatAction(ctx context.Context, cmd *cli.Command) error {
	name := cmd.String("name")
	if name == "" {
		form := huh.NewForm(
			huh.NewGroup(
				huh.NewInput().
					Title("What should we call you?").
					Value(&name),
			),
		)

		if err := form.Run(); err != nil {
			return err
		}
	}

	logPath := cmd.String("log")
	if logPath == "" {
		logPath, _ = logger.LogPath()
	}

	c := client.New(client.Config{
		Username:      name,
		MulticastAddr: cmd.String("maddr"),
		Port:          int(cmd.Int("port")),
		DownloadDir:   cmd.String("dir"),
		LogPath:       logPath,
	})

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	errch := make(chan error, 1)
	go func() {
		errch <- c.Run(ctx)
	}()

	// Give the first announcements a beat to land before the prompt.
	spinner.New().Title("joining the lan...").Action(func() {
		time.Sleep(1500 * time.Millisecond)
	}).Run()

	select {
	case err := <-errch:
		// Startup failed before the event loop began.
		return err
	default:
	}

	fmt.Println(styles.TITLE.Render(" lanchat "))
	fmt.Println(styles.INFO.Render(fmt.Sprintf("running as %s (%s), /send to share a file, /quit to exit", c.Self.Name, c.Self.IPAddress)))

	term := newTerminal(c)
	go term.renderLoop(ctx)
	go term.inputLoop()

	return <-errch
}
