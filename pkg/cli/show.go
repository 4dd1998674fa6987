package cli

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/saga/pkg/model"
	"github.com/m-mizutani/saga/pkg/usecase/session"
	"github.com/urfave/cli/v3"
)

func showCommand() *cli.Command {
	var (
		cfg       config
		sessionID model.SessionID
		text      bool
		version   int64
	)

	flags := []cli.Flag{
		&cli.StringFlag{
			Name:        "session-id",
			Aliases:     []string{"id"},
			Usage:       "Session ID to show",
			Sources:     cli.EnvVars("SAGA_SESSION_ID"),
			Destination: (*string)(&sessionID),
			Required:    true,
		},
		&cli.BoolFlag{
			Name:        "biography",
			Aliases:     []string{"b"},
			Usage:       "Print only the biography text",
			Destination: &text,
		},
		&cli.IntFlag{
			Name:        "version",
			Usage:       "Biography version to print (0 for the final version)",
			Destination: &version,
		},
	}
	flags = append(flags, globalFlags(&cfg)...)

	return &cli.Command{
		Name:  "show",
		Usage: "Show a session with all its artifacts",
		Flags: flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			ctx = cfg.setupLogger(ctx)

			repo, closeRepo, err := cfg.newRepository(ctx)
			if err != nil {
				return err
			}
			defer closeRepo()

			uc := session.New(repo)

			if text {
				v, err := uc.Biography(ctx, sessionID, int(version))
				if err != nil {
					return goerr.Wrap(err, "failed to get biography")
				}
				fmt.Fprintf(c.Root().Writer, "%s\n", v.Text)
				return nil
			}

			detail, err := uc.Show(ctx, sessionID)
			if err != nil {
				return goerr.Wrap(err, "failed to show session")
			}

			data, err := json.MarshalIndent(detail, "", "  ")
			if err != nil {
				return goerr.Wrap(err, "failed to marshal session")
			}

			fmt.Fprintf(c.Root().Writer, "%s\n", string(data))
			return nil
		},
	}
}
