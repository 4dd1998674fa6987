package cli

import (
	"context"
	"fmt"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/saga/pkg/model"
	"github.com/m-mizutani/saga/pkg/usecase/session"
	"github.com/urfave/cli/v3"
)

func listCommand() *cli.Command {
	var (
		cfg    config
		status string
		offset int64
		limit  int64
	)

	flags := []cli.Flag{
		&cli.StringFlag{
			Name:        "status",
			Aliases:     []string{"s"},
			Usage:       "Only sessions in this status (complete, aborted, ...)",
			Sources:     cli.EnvVars("SAGA_LIST_STATUS"),
			Destination: &status,
		},
		&cli.IntFlag{
			Name:        "offset",
			Usage:       "Offset for pagination",
			Value:       0,
			Sources:     cli.EnvVars("SAGA_LIST_OFFSET"),
			Destination: &offset,
		},
		&cli.IntFlag{
			Name:        "limit",
			Usage:       "Maximum number of sessions to list",
			Value:       100,
			Sources:     cli.EnvVars("SAGA_LIST_LIMIT"),
			Destination: &limit,
		},
	}
	flags = append(flags, globalFlags(&cfg)...)

	return &cli.Command{
		Name:  "list",
		Usage: "List persisted sessions",
		Flags: flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			ctx = cfg.setupLogger(ctx)

			repo, closeRepo, err := cfg.newRepository(ctx)
			if err != nil {
				return err
			}
			defer closeRepo()

			records, err := session.New(repo).List(ctx, session.ListOptions{
				Status: model.Phase(status),
				Offset: int(offset),
				Limit:  int(limit),
			})
			if err != nil {
				return goerr.Wrap(err, "failed to list sessions")
			}

			for _, r := range records {
				name := ""
				if r.Subject != nil {
					name = r.Subject.Name
				}
				score := "-"
				if r.FinalVersion > 0 && r.FinalScore > 0 {
					score = fmt.Sprintf("%.2f", r.FinalScore)
				}
				fmt.Fprintf(c.Root().Writer, "%s\t%s\t%s\t%s\t%s\n",
					r.ID, name, r.Status, score, r.CreatedAt.Format("2006-01-02 15:04"))
			}
			return nil
		},
	}
}
