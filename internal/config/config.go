// Package config loads evaluation settings from a YAML file, a .env file and
// the environment, in that order of increasing precedence.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/apresai/conceptlab/internal/insight"
	"github.com/apresai/conceptlab/internal/interview"
	"github.com/apresai/conceptlab/internal/llm"
	"github.com/apresai/conceptlab/internal/model"
	"github.com/apresai/conceptlab/internal/pipeline"
	"github.com/apresai/conceptlab/internal/quality"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds every tunable of an evaluation run.
type Config struct {
	Model       string        `yaml:"model"`
	CallTimeout time.Duration `yaml:"callTimeout"`
	Concurrency int           `yaml:"concurrency"`

	Adaptive  model.AdaptiveConfig     `yaml:"adaptive"`
	Interview InterviewConfig          `yaml:"interview"`
	Topics    TopicsConfig             `yaml:"topics"`
	Coherence quality.CoherenceOptions `yaml:"coherence"`
	Critic    quality.CriticOptions    `yaml:"critic"`

	Generation EndpointConfig `yaml:"generation"`
	Retrieval  EndpointConfig `yaml:"retrieval"`
	Log        LogConfig      `yaml:"log"`

	// Keys are only read from the environment or flags.
	AnthropicAPIKey string `yaml:"-"`
	GeminiAPIKey    string `yaml:"-"`
}

type InterviewConfig struct {
	WordFloor    int     `yaml:"wordFloor"`
	MaxTokens    int     `yaml:"maxTokens"`
	Temperature  float64 `yaml:"temperature"`
	ContextLimit int     `yaml:"contextLimit"`
}

type TopicsConfig struct {
	Mode  string        `yaml:"mode"`
	Delay time.Duration `yaml:"delay"`
}

// EndpointConfig addresses an HTTP backend speaking the generation or retrieval contract.
type EndpointConfig struct {
	URL     string        `yaml:"url"`
	APIKey  string        `yaml:"-"`
	Timeout time.Duration `yaml:"timeout"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns the built-in settings.
func Default() Config {
	iv := interview.DefaultOptions()
	return Config{
		Model:       "haiku",
		CallTimeout: llm.DefaultCallTimeout,
		Concurrency: 3,
		Adaptive:    model.DefaultAdaptiveConfig(),
		Interview: InterviewConfig{
			WordFloor:    iv.WordFloor,
			MaxTokens:    iv.MaxTokens,
			Temperature:  iv.Temperature,
			ContextLimit: iv.ContextLimit,
		},
		Topics:     TopicsConfig{Mode: string(insight.TopicsFixed), Delay: time.Second},
		Coherence:  quality.DefaultCoherenceOptions(),
		Critic:     quality.DefaultCriticOptions(),
		Generation: EndpointConfig{Timeout: llm.DefaultCallTimeout},
		Retrieval:  EndpointConfig{Timeout: 30 * time.Second},
		Log:        LogConfig{Level: "info", Format: "json"},
	}
}

// Load reads path (optional), then .env in the working directory, then the
// environment, and validates the result.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return cfg, fmt.Errorf("load .env: %w", err)
	}
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return cfg, err
	}
	return cfg, cfg.Validate()
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	str("ANTHROPIC_API_KEY", &c.AnthropicAPIKey)
	str("GEMINI_API_KEY", &c.GeminiAPIKey)
	str("CONCEPTLAB_MODEL", &c.Model)
	str("CONCEPTLAB_GENERATION_URL", &c.Generation.URL)
	str("CONCEPTLAB_GENERATION_KEY", &c.Generation.APIKey)
	str("CONCEPTLAB_RETRIEVAL_URL", &c.Retrieval.URL)
	str("CONCEPTLAB_RETRIEVAL_KEY", &c.Retrieval.APIKey)
	str("CONCEPTLAB_TOPIC_MODE", &c.Topics.Mode)
	str("CONCEPTLAB_LOG_LEVEL", &c.Log.Level)
	str("CONCEPTLAB_LOG_FORMAT", &c.Log.Format)

	var mode string
	str("CONCEPTLAB_ADAPTIVE_MODE", &mode)
	if mode != "" {
		c.Adaptive.AdaptiveMode = model.AdaptiveMode(strings.ToLower(mode))
	}
	if v, ok := lookup("CONCEPTLAB_CONCURRENCY"); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("CONCEPTLAB_CONCURRENCY: %w", err)
		}
		c.Concurrency = n
	}
	if v, ok := lookup("CONCEPTLAB_CALL_TIMEOUT"); ok && v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("CONCEPTLAB_CALL_TIMEOUT: %w", err)
		}
		c.CallTimeout = d
	}
	return nil
}

// Validate reports every out-of-range setting at once.
func (c Config) Validate() error {
	var errs []error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Errorf(format, args...))
		}
	}

	check(llm.ProviderFor(c.Model) != "", "model %q must be one of %s", c.Model, strings.Join(llm.ModelNames(), ", "))
	check(c.Model != "http" || c.Generation.URL != "", "model http requires generation.url (CONCEPTLAB_GENERATION_URL)")
	check(c.CallTimeout > 0, "callTimeout must be positive")
	check(c.Concurrency >= 1 && c.Concurrency <= 32, "concurrency must be between 1 and 32, got %d", c.Concurrency)

	check(c.Adaptive.AdaptiveMode.Valid(), "adaptive.adaptiveMode %q must be conservative, moderate or aggressive", c.Adaptive.AdaptiveMode)
	check(c.Adaptive.EmotionThreshold >= 0 && c.Adaptive.EmotionThreshold <= 1, "adaptive.emotionThreshold must be within [0, 1]")
	check(c.Adaptive.MaxDynamicQuestions >= 0 && c.Adaptive.MaxDynamicQuestions <= 5, "adaptive.maxDynamicQuestions must be between 0 and 5")

	check(c.Interview.WordFloor > 0, "interview.wordFloor must be positive")
	check(c.Interview.MaxTokens > 0, "interview.maxTokens must be positive")
	check(c.Interview.Temperature >= 0 && c.Interview.Temperature <= 2, "interview.temperature must be within [0, 2]")

	check(slices.Contains([]string{string(insight.TopicsFixed), string(insight.TopicsDynamic)}, c.Topics.Mode),
		"topics.mode %q must be fixed or dynamic", c.Topics.Mode)
	check(c.Topics.Delay >= 0, "topics.delay must not be negative")

	check(c.Coherence.Baseline >= 0 && c.Coherence.Baseline <= 1, "coherence.baseline must be within [0, 1]")
	check(c.Coherence.Increment >= 0, "coherence.increment must not be negative")

	check(c.Critic.MinWords >= 0 && c.Critic.MaxShortAnswers >= 0 && c.Critic.MaxIssues >= 0 && c.Critic.MinVocabulary >= 0,
		"critic thresholds must not be negative")
	check(c.Critic.MinCoherence >= 0 && c.Critic.MinCoherence <= 1, "critic.minCoherence must be within [0, 1]")

	check(slices.Contains([]string{"debug", "info", "warn", "error"}, strings.ToLower(c.Log.Level)), "log.level %q is not recognized", c.Log.Level)
	check(c.Log.Format == "json" || c.Log.Format == "text", "log.format must be json or text")

	return errors.Join(errs...)
}

// Credentials returns the keys and endpoints handed to llm.NewBackend.
func (c Config) Credentials() llm.Credentials {
	return llm.Credentials{
		AnthropicAPIKey: c.AnthropicAPIKey,
		GeminiAPIKey:    c.GeminiAPIKey,
		HTTPEndpoint:    c.Generation.URL,
		HTTPAPIKey:      c.Generation.APIKey,
		HTTPTimeout:     c.Generation.Timeout,
	}
}

// PipelineOptions maps the configuration onto the evaluator's options.
func (c Config) PipelineOptions() pipeline.Options {
	return pipeline.Options{
		Model:    c.Model,
		Adaptive: c.Adaptive,
		Interview: interview.Options{
			WordFloor:    c.Interview.WordFloor,
			MaxTokens:    c.Interview.MaxTokens,
			Temperature:  c.Interview.Temperature,
			ContextLimit: c.Interview.ContextLimit,
		},
		Insight: insight.Options{
			Mode:  insight.TopicMode(c.Topics.Mode),
			Delay: c.Topics.Delay,
		},
		Coherence:   c.Coherence,
		Critic:      c.Critic,
		Concurrency: c.Concurrency,
	}
}
