package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/apresai/conceptlab/internal/config"
	"github.com/apresai/conceptlab/internal/interview"
	"github.com/apresai/conceptlab/internal/llm"
	"github.com/apresai/conceptlab/internal/model"
	"github.com/apresai/conceptlab/internal/observability"
	"github.com/apresai/conceptlab/internal/pipeline"
	"github.com/apresai/conceptlab/internal/progress"
	"github.com/apresai/conceptlab/internal/retrieval"
	"github.com/spf13/cobra"
)

var Version = "dev"

// OutputBaseDir holds results and log files written by the CLI.
const OutputBaseDir = "conceptlab-output"

var rootCmd = &cobra.Command{
	Use:   "conceptlab",
	Short: "Evaluate product concepts through adaptive interviews with synthetic consumers",
	RunE: func(cmd *cobra.Command, args []string) error {
		flagTUI = true
		return runEvaluate(cmd, args)
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "conceptlab %s\n", Version)
	},
}

var evaluateCmd = &cobra.Command{
	Use:   "evaluate",
	Short: "Interview personas about a concept and synthesize insights",
	RunE:  runEvaluate,
}

var scriptCmd = &cobra.Command{
	Use:   "script",
	Short: "Print or save the question script for a concept",
	RunE:  runScript,
}

var listModelsCmd = &cobra.Command{
	Use:   "list-models",
	Short: "List the generation models and the credential each needs",
	Run: func(cmd *cobra.Command, args []string) {
		printModels(cmd.OutOrStdout())
	},
}

var (
	flagConcept         string
	flagPersonas        string
	flagContext         string
	flagRetrieve        bool
	flagOutput          string
	flagScript          string
	flagConfig          string
	flagModel           string
	flagAdaptiveMode    string
	flagTopicMode       string
	flagConcurrency     int
	flagNoCritic        bool
	flagVerbose         bool
	flagTUI             bool
	flagReview          bool
	flagAnthropicAPIKey string
	flagGeminiAPIKey    string
)

func init() {
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(evaluateCmd)
	rootCmd.AddCommand(scriptCmd)
	rootCmd.AddCommand(listModelsCmd)

	for _, cmd := range []*cobra.Command{rootCmd, evaluateCmd, scriptCmd} {
		cmd.Flags().StringVarP(&flagConcept, "concept", "c", "", "Concept file (JSON or YAML)")
		cmd.Flags().StringVar(&flagConfig, "config", "", "Settings file (YAML)")
		cmd.Flags().StringVarP(&flagModel, "model", "m", "", "Generation model: "+strings.Join(llm.ModelNames(), ", "))
		cmd.Flags().BoolVarP(&flagVerbose, "verbose", "v", false, "Log to stderr instead of a log file")
		cmd.Flags().StringVar(&flagAnthropicAPIKey, "anthropic-api-key", "", "Anthropic API key (overrides ANTHROPIC_API_KEY env var)")
		cmd.Flags().StringVar(&flagGeminiAPIKey, "gemini-api-key", "", "Gemini API key (overrides GEMINI_API_KEY env var)")
	}
	for _, cmd := range []*cobra.Command{rootCmd, evaluateCmd} {
		cmd.Flags().StringVarP(&flagPersonas, "personas", "p", "", "Persona file: one persona or a list (JSON or YAML)")
		cmd.Flags().StringVarP(&flagContext, "context", "x", "", "Market context source (URL, PDF, JSON or text file)")
		cmd.Flags().BoolVarP(&flagRetrieve, "retrieve", "r", false, "Query the retrieval backend for market context")
		cmd.Flags().StringVarP(&flagOutput, "output", "o", "", "Results file (JSON)")
		cmd.Flags().StringVarP(&flagScript, "script", "s", "", "Custom question script (JSON or YAML)")
		cmd.Flags().StringVarP(&flagAdaptiveMode, "adaptive-mode", "a", "", "Follow-up eagerness: conservative, moderate, aggressive")
		cmd.Flags().StringVar(&flagTopicMode, "topic-mode", "", "Insight topics: fixed or dynamic")
		cmd.Flags().IntVarP(&flagConcurrency, "concurrency", "n", 0, "Personas evaluated at once")
		cmd.Flags().BoolVar(&flagNoCritic, "no-critic", false, "Record quality issues without regenerating")
		cmd.Flags().BoolVarP(&flagTUI, "tui", "t", false, "Interactive setup wizard for evaluation options")
	}
	scriptCmd.Flags().BoolVar(&flagReview, "review", false, "Have the moderator adapt the questions to the concept")
	scriptCmd.Flags().StringVarP(&flagOutput, "output", "o", "", "Write the script to a file instead of stdout")
}

func Execute() error {
	return rootCmd.Execute()
}

// ExecuteContext runs the CLI with ctx, which is cancelled on interrupt.
func ExecuteContext(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}

// loadConfig reads the settings file and applies flag overrides.
func loadConfig() (config.Config, error) {
	cfg, err := config.Load(flagConfig)
	if err != nil {
		return cfg, err
	}
	if flagModel != "" {
		cfg.Model = flagModel
	}
	if flagAdaptiveMode != "" {
		cfg.Adaptive.AdaptiveMode = model.AdaptiveMode(strings.ToLower(flagAdaptiveMode))
	}
	if flagTopicMode != "" {
		cfg.Topics.Mode = flagTopicMode
	}
	if flagConcurrency != 0 {
		cfg.Concurrency = flagConcurrency
	}
	if flagNoCritic {
		cfg.Critic.Enabled = false
	}
	if flagAnthropicAPIKey != "" {
		cfg.AnthropicAPIKey = flagAnthropicAPIKey
	}
	if flagGeminiAPIKey != "" {
		cfg.GeminiAPIKey = flagGeminiAPIKey
	}
	return cfg, cfg.Validate()
}

// checkAPIKeys fails early when the selected model has no credential.
func checkAPIKeys(cfg config.Config) error {
	var missing string
	switch llm.ProviderFor(cfg.Model) {
	case "anthropic":
		if cfg.AnthropicAPIKey == "" {
			missing = "ANTHROPIC_API_KEY"
		}
	case "gemini":
		if cfg.GeminiAPIKey == "" {
			missing = "GEMINI_API_KEY"
		}
	}
	if missing != "" {
		return fmt.Errorf("missing required environment variable %s\nYou can also pass it via --anthropic-api-key or --gemini-api-key", missing)
	}
	return nil
}

// newLogger logs to stderr in verbose mode and to a file otherwise, so the
// progress bar owns the terminal. The returned closer is never nil.
func newLogger(cfg config.Config, stamp string) (*slog.Logger, func() error, error) {
	if flagVerbose {
		return observability.InitLogger(observability.LogOptions{Level: "debug", Format: "text"}), func() error { return nil }, nil
	}
	dir := filepath.Join(OutputBaseDir, "logs")
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, nil, fmt.Errorf("create log dir: %w", err)
	}
	f, err := os.Create(filepath.Join(dir, stamp+".log"))
	if err != nil {
		return nil, nil, fmt.Errorf("create log file: %w", err)
	}
	logger := observability.InitLogger(observability.LogOptions{Level: cfg.Log.Level, Format: cfg.Log.Format, Output: f})
	return logger, f.Close, nil
}

func newEvaluator(ctx context.Context, cfg config.Config, logger *slog.Logger) (*pipeline.Evaluator, error) {
	backend, err := llm.NewBackend(ctx, cfg.Model, cfg.Credentials())
	if err != nil {
		return nil, fmt.Errorf("create backend: %w", err)
	}
	opts := cfg.PipelineOptions()
	if flagScript != "" {
		if opts.Script, err = interview.LoadScript(flagScript); err != nil {
			return nil, err
		}
	}
	client := llm.NewClient(backend, llm.WithTimeout(cfg.CallTimeout), llm.WithLogger(logger))
	return pipeline.NewEvaluator(client, logger, opts), nil
}

func runEvaluate(cmd *cobra.Command, args []string) error {
	if flagTUI {
		if err := runInteractiveSetup(); err != nil {
			return err
		}
	}
	if flagConcept == "" || flagPersonas == "" {
		return fmt.Errorf("--concept (-c) and --personas (-p) are required")
	}
	if flagContext != "" && flagRetrieve {
		return fmt.Errorf("--context and --retrieve are mutually exclusive")
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := checkAPIKeys(cfg); err != nil {
		return err
	}

	concept, err := LoadConcept(flagConcept)
	if err != nil {
		return err
	}
	personas, err := LoadPersonas(flagPersonas)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	stamp := time.Now().Format("20060102-150405")
	logger, closeLog, err := newLogger(cfg, stamp)
	if err != nil {
		return err
	}
	defer closeLog()

	ragContext, err := resolveContext(ctx, cfg, concept, logger)
	if err != nil {
		return err
	}

	evaluator, err := newEvaluator(ctx, cfg, logger)
	if err != nil {
		return err
	}

	outputPath := flagOutput
	if outputPath == "" {
		outputPath = filepath.Join(OutputBaseDir, fmt.Sprintf("%s-%s.json", slug(concept), stamp))
	}

	var onProgress progress.Callback
	var renderer *progress.BarRenderer
	if !flagVerbose {
		renderer = progress.NewBarRenderer(os.Stdout)
		onProgress = renderer.Handle
	}

	res, runErr := evaluator.GenerateCompleteEvaluation(ctx, concept, personas, ragContext, onProgress)
	if res == nil {
		if renderer != nil {
			renderer.Finish()
		}
		return runErr
	}

	if err := WriteResults(outputPath, concept, res); err != nil {
		return err
	}
	if renderer != nil {
		renderer.Handle(progress.Event{
			Stage:       progress.StageComplete,
			Message:     "Evaluation complete",
			Evaluations: len(res.Evaluations),
			Failures:    len(res.Failures),
			OutputFile:  outputPath,
		})
		renderer.Finish()
	}

	fmt.Fprintln(cmd.OutOrStdout(), RenderReport(concept, res))
	if len(res.Evaluations) == 0 {
		return fmt.Errorf("no persona produced an evaluation: %w", runErr)
	}
	return nil
}

// resolveContext loads market context from --context, or queries the
// retrieval backend when --retrieve is set. A failed query only warns.
func resolveContext(ctx context.Context, cfg config.Config, c model.Concept, logger *slog.Logger) (string, error) {
	switch {
	case flagContext != "":
		rc, err := retrieval.Load(ctx, flagContext)
		if err != nil {
			return "", fmt.Errorf("load context: %w", err)
		}
		logger.Info("Loaded context", "source", rc.Source, "title", rc.Title, "words", rc.WordCount)
		return rc.Text, nil
	case flagRetrieve:
		if cfg.Retrieval.URL == "" {
			return "", fmt.Errorf("--retrieve requires retrieval.url (CONCEPTLAB_RETRIEVAL_URL)")
		}
		client := retrieval.NewClient(cfg.Retrieval.URL, cfg.Retrieval.APIKey, cfg.Retrieval.Timeout)
		rc, err := client.Query(ctx, c)
		if err != nil {
			logger.Warn("Retrieval query failed, continuing without context", "error", err)
			fmt.Fprintf(os.Stderr, "Warning: retrieval failed, continuing without context: %v\n", err)
			return "", nil
		}
		logger.Info("Retrieved context", "title", rc.Title, "words", rc.WordCount)
		return rc.Text, nil
	}
	return "", nil
}

func runScript(cmd *cobra.Command, args []string) error {
	if flagConcept == "" {
		return fmt.Errorf("--concept (-c) is required")
	}
	concept, err := LoadConcept(flagConcept)
	if err != nil {
		return err
	}

	questions := interview.Substitute(interview.DefaultScript(), concept)
	if flagReview {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if err := checkAPIKeys(cfg); err != nil {
			return err
		}
		logger, closeLog, err := newLogger(cfg, time.Now().Format("20060102-150405"))
		if err != nil {
			return err
		}
		defer closeLog()
		evaluator, err := newEvaluator(cmd.Context(), cfg, logger)
		if err != nil {
			return err
		}
		if questions, err = evaluator.ReviewScript(cmd.Context(), concept); err != nil {
			return err
		}
	}

	if flagOutput != "" {
		if err := interview.SaveScript(questions, flagOutput); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Script saved to %s\n", flagOutput)
		return nil
	}
	fmt.Fprint(cmd.OutOrStdout(), RenderScript(questions))
	return nil
}

func printModels(w io.Writer) {
	needs := map[string]string{
		"anthropic": "ANTHROPIC_API_KEY",
		"gemini":    "GEMINI_API_KEY",
		"bedrock":   "AWS credentials",
		"http":      "CONCEPTLAB_GENERATION_URL",
	}
	fmt.Fprintln(w, "\nAvailable models:")
	fmt.Fprintf(w, "  %s\n", strings.Repeat("─", 50))
	fmt.Fprintf(w, "  %-14s %-10s %s\n", "MODEL", "PROVIDER", "REQUIRES")
	for _, name := range llm.ModelNames() {
		p := llm.ProviderFor(name)
		fmt.Fprintf(w, "  %-14s %-10s %s\n", name, p, needs[p])
	}
	fmt.Fprintln(w)
}

func slug(c model.Concept) string {
	s := c.ID
	if s == "" {
		s = c.Name
	}
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			return r
		}
		return '-'
	}, s)
	s = strings.Trim(s, "-")
	if s == "" {
		return "concept"
	}
	return s
}
