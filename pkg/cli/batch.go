package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/saga/pkg/adapter"
	"github.com/m-mizutani/saga/pkg/model"
	"github.com/m-mizutani/saga/pkg/subject"
	"github.com/m-mizutani/saga/pkg/usecase/batch"
	"github.com/m-mizutani/saga/pkg/utils/logging"
	"github.com/urfave/cli/v3"
)

func batchCommand() *cli.Command {
	var (
		cfg         config
		concurrency int64
		bqProject   string
		bqDataset   string
		bqTable     string
		output      string
	)

	registry := newSearch()
	flags := []cli.Flag{
		&cli.IntFlag{
			Name:        "concurrency",
			Usage:       "Sessions run in parallel",
			Value:       4,
			Sources:     cli.EnvVars("SAGA_CONCURRENCY"),
			Destination: &concurrency,
		},
		&cli.StringFlag{
			Name:        "bigquery-project",
			Usage:       "Google Cloud project ID for the BigQuery export",
			Sources:     cli.EnvVars("SAGA_BIGQUERY_PROJECT"),
			Destination: &bqProject,
		},
		&cli.StringFlag{
			Name:        "bigquery-dataset",
			Usage:       "BigQuery dataset for the export. Export is disabled when empty",
			Sources:     cli.EnvVars("SAGA_BIGQUERY_DATASET"),
			Destination: &bqDataset,
		},
		&cli.StringFlag{
			Name:        "bigquery-table",
			Usage:       "BigQuery table for the export",
			Value:       "sessions",
			Sources:     cli.EnvVars("SAGA_BIGQUERY_TABLE"),
			Destination: &bqTable,
		},
		&cli.StringFlag{
			Name:        "output",
			Aliases:     []string{"o"},
			Usage:       "Write the batch summary as JSON to this file",
			Destination: &output,
		},
	}
	flags = append(flags, globalFlags(&cfg)...)
	flags = append(flags, storageFlags(&cfg)...)
	flags = append(flags, llmFlags(&cfg)...)
	flags = append(flags, coordinatorFlags(&cfg)...)
	flags = append(flags, registry.Flags()...)

	return &cli.Command{
		Name:      "batch",
		Usage:     "Run simulated interviews for many subject profiles in parallel",
		ArgsUsage: "<profile.yaml>...",
		Flags:     flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			ctx = cfg.setupLogger(ctx)

			subjects, err := model.LoadSubjects(c.Args().Slice())
			if err != nil {
				return err
			}
			if len(subjects) == 0 {
				return goerr.New("at least one subject profile is required")
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

			coordinator, err := cfg.newCoordinator(ctx, coordinatorInput{
				LLM:     llm,
				Repo:    repo,
				Storage: storage,
				Search:  registry,
				Pool:    cfg.newPool(),
			})
			if err != nil {
				return err
			}

			opts := []batch.Option{batch.WithConcurrency(int(concurrency))}
			if bqDataset != "" {
				project := bqProject
				if project == "" {
					project = cfg.project
				}
				bq, err := adapter.NewBigQuery(ctx, project)
				if err != nil {
					return err
				}
				opts = append(opts, batch.WithExport(bq, bqDataset, bqTable))
			}

			channels := func(subj *model.Subject) (subject.Channel, error) {
				return subject.NewSimulated(llm, subj), nil
			}

			summary, err := batch.New(coordinator, channels, opts...).Run(ctx, subjects)
			if summary != nil {
				printSummary(c, summary)
				if output != "" {
					raw, merr := json.MarshalIndent(summary, "", "  ")
					if merr != nil {
						return goerr.Wrap(merr, "failed to marshal summary")
					}
					if werr := os.WriteFile(output, raw, 0o644); werr != nil {
						return goerr.Wrap(werr, "failed to write summary", goerr.V("path", output))
					}
				}
			}
			if err != nil {
				return goerr.Wrap(err, "batch failed")
			}
			return nil
		},
	}
}

func printSummary(c *cli.Command, s *batch.Summary) {
	w := c.Root().Writer
	for _, r := range s.Results {
		score := "-"
		if r.Scored {
			score = fmt.Sprintf("%.2f", r.Score)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", r.SessionID, r.Subject, r.Status, score)
	}
	fmt.Fprintf(w, "\nBatch %s: %d subjects, %d completed, %d aborted, %d met the threshold\n",
		s.BatchID, s.Total, s.Completed, s.Aborted, s.ThresholdMet)
	if s.Completed > 0 {
		fmt.Fprintf(w, "Scores: avg %.2f, max %.2f, min %.2f\n", s.AvgScore, s.MaxScore, s.MinScore)
	}
}
