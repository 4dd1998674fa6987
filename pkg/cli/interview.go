package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/saga/pkg/model"
	"github.com/m-mizutani/saga/pkg/subject"
	"github.com/m-mizutani/saga/pkg/utils/logging"
	"github.com/urfave/cli/v3"
)

func interviewCommand() *cli.Command {
	var (
		cfg      config
		profile  string
		name     string
		simulate bool
		output   string
	)

	registry := newSearch()
	flags := []cli.Flag{
		&cli.StringFlag{
			Name:        "profile",
			Usage:       "Path to a subject profile YAML file",
			Sources:     cli.EnvVars("SAGA_PROFILE"),
			Destination: &profile,
		},
		&cli.StringFlag{
			Name:        "name",
			Aliases:     []string{"n"},
			Usage:       "Subject name when no profile is given",
			Destination: &name,
		},
		&cli.BoolFlag{
			Name:        "simulate",
			Usage:       "Let the model answer in character from the profile",
			Sources:     cli.EnvVars("SAGA_SIMULATE"),
			Destination: &simulate,
		},
		&cli.StringFlag{
			Name:        "output",
			Aliases:     []string{"o"},
			Usage:       "Write the final biography to this file",
			Destination: &output,
		},
	}
	flags = append(flags, globalFlags(&cfg)...)
	flags = append(flags, storageFlags(&cfg)...)
	flags = append(flags, llmFlags(&cfg)...)
	flags = append(flags, coordinatorFlags(&cfg)...)
	flags = append(flags, registry.Flags()...)

	return &cli.Command{
		Name:  "interview",
		Usage: "Interview a subject and write their biography",
		Flags: flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			ctx = cfg.setupLogger(ctx)

			subj, err := loadSubject(profile, name)
			if err != nil {
				return err
			}
			if simulate && profile == "" {
				return goerr.New("--simulate requires --profile")
			}

			// Initialize dependencies
			repo, closeRepo, err := cfg.newRepository(ctx)
			if err != nil {
				return err
			}
			defer closeRepo()

			storage, err := cfg.newStorage(ctx)
			if err != nil {
				return err
			}

			llm, err := cfg.newLLM(ctx)
			if err != nil {
				return err
			}

			if err := registry.Init(ctx); err != nil {
				return err
			}
			defer func() {
				if err := registry.Close(); err != nil {
					logging.From(ctx).Warn("failed to close search providers", "error", err)
				}
			}()

			var ch subject.Channel
			if simulate {
				ch = subject.NewSimulated(llm, subj)
			} else {
				console, err := subject.NewConsole(os.Stdin, c.Root().Writer)
				if err != nil {
					return err
				}
				defer func() { _ = console.Close() }()
				fmt.Fprintf(c.Root().Writer, "Interview with %s started. Type 'end' to finish early, Ctrl-C to withdraw.\n", subj.Name)
				ch = console
			}

			p := newProgress(os.Stderr)
			defer p.stop()

			coordinator, err := cfg.newCoordinator(ctx, coordinatorInput{
				LLM:      llm,
				Repo:     repo,
				Storage:  storage,
				Search:   registry,
				Pool:     cfg.newPool(),
				Progress: p.update,
			})
			if err != nil {
				return err
			}

			report, err := coordinator.Run(ctx, subj, p.channel(ch))
			p.stop()
			if report != nil {
				printReport(c, report)
				if output != "" && report.FinalVersion > 0 {
					if werr := os.WriteFile(output, []byte(report.Markdown()), 0o644); werr != nil {
						return goerr.Wrap(werr, "failed to write biography", goerr.V("path", output))
					}
				}
			}
			if err != nil {
				return goerr.Wrap(err, "interview session failed")
			}
			return nil
		},
	}
}

func loadSubject(profile, name string) (*model.Subject, error) {
	if profile != "" {
		return model.LoadSubject(profile)
	}
	subj := &model.Subject{Name: name}
	if err := subj.Validate(); err != nil {
		return nil, goerr.Wrap(err, "either --profile or --name is required")
	}
	return subj, nil
}
