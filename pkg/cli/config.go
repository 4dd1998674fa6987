package cli

import (
	"context"
	"os"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/saga/pkg/adapter"
	"github.com/m-mizutani/saga/pkg/model"
	"github.com/m-mizutani/saga/pkg/policy"
	"github.com/m-mizutani/saga/pkg/repository"
	"github.com/m-mizutani/saga/pkg/search"
	"github.com/m-mizutani/saga/pkg/usecase/biography"
	"github.com/m-mizutani/saga/pkg/utils/logging"
	"github.com/urfave/cli/v3"
)

// config holds configuration values
type config struct {
	logLevel string

	// Repository
	project  string
	database string
	bucket   string

	// Adapters
	llm             string
	anthropicAPIKey string
	claudeModel     string
	geminiProject   string
	geminiLocation  string
	geminiModel     string

	// Coordinator
	mode           string
	minRounds      int64
	maxRounds      int64
	maxRefinements int64
	threshold      float64
	retries        int64
	workers        int64
	rate           float64
	policyDir      string
	judge          string
}

// globalFlags returns common flags used across commands with destination config
func globalFlags(cfg *config) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "log-level",
			Usage:       "Log level (debug, info, warn, error)",
			Value:       "info",
			Sources:     cli.EnvVars("SAGA_LOG_LEVEL"),
			Destination: &cfg.logLevel,
		},
		&cli.StringFlag{
			Name:        "project",
			Aliases:     []string{"p"},
			Usage:       "Google Cloud project ID for Firestore. In-memory storage is used when empty",
			Sources:     cli.EnvVars("SAGA_PROJECT", "GOOGLE_CLOUD_PROJECT"),
			Destination: &cfg.project,
		},
		&cli.StringFlag{
			Name:        "database",
			Aliases:     []string{"d"},
			Usage:       "Firestore database ID",
			Value:       "(default)",
			Sources:     cli.EnvVars("SAGA_DATABASE", "FIRESTORE_DATABASE_ID"),
			Destination: &cfg.database,
		},
	}
}

// storageFlags returns flags for the object archive
func storageFlags(cfg *config) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "bucket",
			Usage:       "Cloud Storage bucket for biography and report archives",
			Sources:     cli.EnvVars("SAGA_BUCKET"),
			Destination: &cfg.bucket,
		},
	}
}

// llmFlags returns flags for LLM-related configuration with destination config
func llmFlags(cfg *config) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "llm",
			Usage:       "Model provider (gemini, claude)",
			Value:       "gemini",
			Sources:     cli.EnvVars("SAGA_LLM"),
			Destination: &cfg.llm,
		},
		&cli.StringFlag{
			Name:        "anthropic-api-key",
			Usage:       "Anthropic API key",
			Sources:     cli.EnvVars("SAGA_ANTHROPIC_API_KEY", "ANTHROPIC_API_KEY"),
			Destination: &cfg.anthropicAPIKey,
		},
		&cli.StringFlag{
			Name:        "claude-model",
			Usage:       "Claude model name",
			Value:       "claude-sonnet-4-5",
			Sources:     cli.EnvVars("SAGA_CLAUDE_MODEL"),
			Destination: &cfg.claudeModel,
		},
		&cli.StringFlag{
			Name:        "gemini-project",
			Usage:       "Google Cloud project ID for Gemini",
			Sources:     cli.EnvVars("SAGA_GEMINI_PROJECT", "GEMINI_PROJECT_ID"),
			Destination: &cfg.geminiProject,
		},
		&cli.StringFlag{
			Name:        "gemini-location",
			Usage:       "Google Cloud location for Gemini",
			Value:       "us-central1",
			Sources:     cli.EnvVars("SAGA_GEMINI_LOCATION", "GEMINI_LOCATION"),
			Destination: &cfg.geminiLocation,
		},
		&cli.StringFlag{
			Name:        "gemini-model",
			Usage:       "Gemini model name",
			Value:       "gemini-2.5-flash",
			Sources:     cli.EnvVars("SAGA_GEMINI_MODEL"),
			Destination: &cfg.geminiModel,
		},
	}
}

// coordinatorFlags returns flags for interview length, quality budget and
// collaborator call limits
func coordinatorFlags(cfg *config) []cli.Flag {
	def := biography.DefaultConfig()
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "mode",
			Usage:       "Interview mode (adaptive, fixed)",
			Value:       def.Mode,
			Sources:     cli.EnvVars("SAGA_MODE"),
			Destination: &cfg.mode,
		},
		&cli.IntFlag{
			Name:        "min-rounds",
			Usage:       "Minimum interview rounds before saturation may end the interview",
			Value:       int64(def.MinRounds),
			Sources:     cli.EnvVars("SAGA_MIN_ROUNDS"),
			Destination: &cfg.minRounds,
		},
		&cli.IntFlag{
			Name:        "max-rounds",
			Usage:       "Maximum interview rounds",
			Value:       int64(def.MaxRounds),
			Sources:     cli.EnvVars("SAGA_MAX_ROUNDS"),
			Destination: &cfg.maxRounds,
		},
		&cli.IntFlag{
			Name:        "max-refinements",
			Usage:       "Maximum number of biography drafts",
			Value:       int64(def.MaxRefinements),
			Sources:     cli.EnvVars("SAGA_MAX_REFINEMENTS"),
			Destination: &cfg.maxRefinements,
		},
		&cli.FloatFlag{
			Name:        "threshold",
			Usage:       "Quality score (0-10) accepted without further refinement",
			Value:       def.Threshold,
			Sources:     cli.EnvVars("SAGA_THRESHOLD"),
			Destination: &cfg.threshold,
		},
		&cli.IntFlag{
			Name:        "retries",
			Usage:       "Retries of a failed collaborator call",
			Value:       3,
			Sources:     cli.EnvVars("SAGA_RETRIES"),
			Destination: &cfg.retries,
		},
		&cli.IntFlag{
			Name:        "workers",
			Usage:       "Concurrent collaborator calls across sessions",
			Value:       4,
			Sources:     cli.EnvVars("SAGA_WORKERS"),
			Destination: &cfg.workers,
		},
		&cli.FloatFlag{
			Name:        "rate",
			Usage:       "Collaborator calls per second (0 for unlimited)",
			Sources:     cli.EnvVars("SAGA_RATE"),
			Destination: &cfg.rate,
		},
		&cli.StringFlag{
			Name:        "policy-dir",
			Usage:       "Directory of Rego policies for research and saturation rubrics",
			Sources:     cli.EnvVars("SAGA_POLICY_DIR"),
			Destination: &cfg.policyDir,
		},
		&cli.StringFlag{
			Name:        "judge",
			Usage:       "Continuation judge (model, policy)",
			Value:       "model",
			Sources:     cli.EnvVars("SAGA_JUDGE"),
			Destination: &cfg.judge,
		},
	}
}

// setupLogger configures the default logger and attaches it to ctx
func (cfg *config) setupLogger(ctx context.Context) context.Context {
	logger := logging.New(cfg.logLevel, os.Stderr)
	logging.SetDefault(logger)
	return logging.With(ctx, logger)
}

// newRepository creates a new repository instance. The returned function
// releases the client.
func (cfg *config) newRepository(ctx context.Context) (repository.Repository, func(), error) {
	if cfg.project == "" {
		logging.From(ctx).Warn("no project given, sessions are kept in memory only")
		return repository.NewMemory(), func() {}, nil
	}
	if cfg.database == "" {
		return nil, nil, goerr.New("database is required")
	}

	repo, err := repository.NewFirestore(ctx, cfg.project, cfg.database)
	if err != nil {
		return nil, nil, goerr.Wrap(err, "failed to create repository")
	}
	return repo, func() {
		if err := repo.Close(); err != nil {
			logging.From(ctx).Warn("failed to close repository", "error", err)
		}
	}, nil
}

// newStorage creates a new Storage adapter instance, or nil without a bucket
func (cfg *config) newStorage(ctx context.Context) (adapter.Storage, error) {
	if cfg.bucket == "" {
		return nil, nil
	}

	storage, err := adapter.NewStorage(ctx, cfg.bucket, adapter.WithStoragePrefix("saga/"))
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create storage")
	}
	return storage, nil
}

// newLLM creates the model client of the selected provider
func (cfg *config) newLLM(ctx context.Context) (adapter.LLM, error) {
	switch cfg.llm {
	case "gemini":
		if cfg.geminiProject == "" {
			return nil, goerr.New("gemini-project is required")
		}
		if cfg.geminiLocation == "" {
			return nil, goerr.New("gemini-location is required")
		}
		gemini, err := adapter.NewGemini(ctx, cfg.geminiProject, cfg.geminiLocation, adapter.WithGenerativeModel(cfg.geminiModel))
		if err != nil {
			return nil, err
		}
		return adapter.NewGeminiLLM(gemini), nil

	case "claude":
		if cfg.anthropicAPIKey == "" {
			return nil, goerr.New("anthropic-api-key is required")
		}
		return adapter.NewClaudeLLM(adapter.NewClaude(cfg.anthropicAPIKey), adapter.WithClaudeModel(cfg.claudeModel)), nil
	}

	return nil, goerr.New("unknown llm provider", goerr.V("llm", cfg.llm))
}

func (cfg *config) biographyConfig() biography.Config {
	return biography.Config{
		Mode:           cfg.mode,
		MinRounds:      int(cfg.minRounds),
		MaxRounds:      int(cfg.maxRounds),
		MaxRefinements: int(cfg.maxRefinements),
		Threshold:      cfg.threshold,
	}
}

func (cfg *config) newPool() *biography.Pool {
	return biography.NewPool(int(cfg.workers),
		biography.WithRetries(int(cfg.retries)),
		biography.WithRate(cfg.rate, int(cfg.workers)),
		biography.WithBackoff(time.Second, 30*time.Second),
	)
}

// coordinatorInput is what a command supplies to build a coordinator
type coordinatorInput struct {
	LLM      adapter.LLM
	Repo     repository.Repository
	Storage  adapter.Storage
	Search   *search.Registry
	Pool     *biography.Pool
	Progress func(ctx context.Context, s *model.Session, action biography.Action)
}

// newCoordinator wires the biography components, policies and archiver
func (cfg *config) newCoordinator(ctx context.Context, in coordinatorInput) (*biography.Coordinator, error) {
	engine, err := policy.New(ctx, cfg.policyDir, nil)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to load policies", goerr.V("policy_dir", cfg.policyDir))
	}

	var judge policy.ContinuationJudge
	switch cfg.judge {
	case "model":
		judge = biography.NewModelJudge(in.LLM, engine)
	case "policy":
		judge = engine
	default:
		return nil, goerr.New("unknown judge", goerr.V("judge", cfg.judge))
	}

	if !in.Search.Enabled() {
		logging.From(ctx).Warn("no search provider configured, historical research finds nothing")
	}

	var archiveOpts []biography.ArchiverOption
	if in.Storage != nil {
		archiveOpts = append(archiveOpts, biography.WithArchiveStorage(in.Storage))
	}

	opts := []biography.Option{
		biography.WithPool(in.Pool),
		biography.WithJudge(judge),
		biography.WithResearchPolicy(engine),
		biography.WithArchiver(biography.NewArchiver(in.Repo, archiveOpts...)),
	}
	if in.Progress != nil {
		opts = append(opts, biography.WithProgress(in.Progress))
	}

	return biography.New(cfg.biographyConfig(), biography.Components{
		Interviewer: biography.NewInterviewer(in.LLM),
		Extractor:   biography.NewExtractor(in.LLM),
		Researcher:  biography.NewResearcher(in.Search),
		Writer:      biography.NewWriter(in.LLM),
		Evaluator:   biography.NewEvaluator(in.LLM),
	}, opts...)
}

// newSearch returns the registry of every known search provider
func newSearch() *search.Registry {
	return search.New(search.NewTavily(), search.NewMCP())
}
