// Package config provides application configuration management with
// multi-source priority.
//
// Configuration sources (highest to lowest priority):
//  1. Environment variables (runtime override)
//  2. Config file (~/.quarry/config.yaml)
//  3. Default values (sensible defaults for quick start)
//
// Main configuration categories:
//   - Region and model selection (see models.go for the per-region catalog)
//   - Inference parameters per model family (text, image, video)
//   - Retrieval: knowledge base query settings
//   - Provisioning: knowledge base infrastructure settings (see kb.go)
//
// Validation: fail-fast range checks with sentinel errors so callers can
// test with errors.Is().
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"

	"github.com/spf13/viper"
)

var (
	// ErrConfigNil indicates the configuration is nil.
	ErrConfigNil = errors.New("configuration is nil")

	// ErrUnsupportedRegion indicates the region is not served by Bedrock
	// knowledge bases.
	ErrUnsupportedRegion = errors.New("unsupported region")

	// ErrUnknownModel indicates the model name resolves to no catalog entry.
	ErrUnknownModel = errors.New("unknown model")

	// ErrInvalidTemperature indicates the temperature value is out of range.
	ErrInvalidTemperature = errors.New("invalid temperature")

	// ErrInvalidTopK indicates the sampling top_k value is out of range.
	ErrInvalidTopK = errors.New("invalid top_k")

	// ErrInvalidRetrievalResults indicates the retrieval result count is out of range.
	ErrInvalidRetrievalResults = errors.New("invalid retrieval result count")

	// ErrInvalidHistoryLimit indicates the history limit is out of range.
	ErrInvalidHistoryLimit = errors.New("invalid history limit")

	// ErrInvalidChunking indicates an unsupported chunking strategy name.
	ErrInvalidChunking = errors.New("invalid chunking strategy")

	// ErrInvalidVectorDimension indicates a non-positive vector dimension.
	ErrInvalidVectorDimension = errors.New("invalid vector dimension")
)

// AllowedRegions lists the regions where the knowledge base stack
// (Bedrock knowledge bases + OpenSearch Serverless) is available.
var AllowedRegions = []string{
	"us-east-1",
	"us-west-2",
	"ap-south-1",
	"ap-southeast-2",
	"ca-central-1",
	"eu-central-1",
	"eu-west-1",
	"eu-west-2",
	"eu-west-3",
}

const (
	// DefaultStartMessage opens every chat session.
	DefaultStartMessage = "Hello! Ask me anything, or pick a knowledge base to ground my answers."

	// DefaultMaxHistoryMessages bounds conversation history per session.
	DefaultMaxHistoryMessages = 100

	// MaxAllowedHistoryMessages is the absolute maximum to prevent OOM.
	MaxAllowedHistoryMessages = 10000
)

// Config stores application configuration.
type Config struct {
	// Region and model selection
	Region string `mapstructure:"region" json:"region"`
	Model  string `mapstructure:"model" json:"model"` // Catalog name (e.g. "Nova Lite") or raw model ID

	// Extra catalog entries merged over the built-in per-region catalog.
	Models map[string]string `mapstructure:"models" json:"models"`

	// Conversation settings
	Streaming          bool   `mapstructure:"streaming" json:"streaming"`
	StartMessage       string `mapstructure:"start_message" json:"start_message"`
	MaxHistoryMessages int    `mapstructure:"max_history_messages" json:"max_history_messages"`

	// Inference parameters
	Temperature float32 `mapstructure:"temperature" json:"temperature"`
	TopK        int     `mapstructure:"top_k" json:"top_k"`

	// Image generation (Nova Canvas)
	Image ImageParams `mapstructure:"image" json:"image"`

	// Video generation (Nova Reel)
	Video VideoParams `mapstructure:"video" json:"video"`

	// Retrieval configuration
	RetrievalResults int `mapstructure:"retrieval_results" json:"retrieval_results"`

	// Knowledge base provisioning (see kb.go)
	KB KBConfig `mapstructure:"kb" json:"kb"`
}

// ImageParams configures Nova Canvas image generation.
type ImageParams struct {
	Width    int     `mapstructure:"width" json:"width"`
	Height   int     `mapstructure:"height" json:"height"`
	Quality  string  `mapstructure:"quality" json:"quality"`
	Count    int     `mapstructure:"count" json:"count"`
	CFGScale float32 `mapstructure:"cfg_scale" json:"cfg_scale"`
}

// VideoParams configures Nova Reel video generation.
type VideoParams struct {
	DurationSeconds int    `mapstructure:"duration_seconds" json:"duration_seconds"`
	FPS             int    `mapstructure:"fps" json:"fps"`
	Dimension       string `mapstructure:"dimension" json:"dimension"`
	OutputBucket    string `mapstructure:"output_bucket" json:"output_bucket"` // Without s3:// prefix; account default when empty
}

// Dir returns the quarry configuration directory (~/.quarry),
// creating it if needed.
func Dir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("getting user home directory: %w", err)
	}
	dir := filepath.Join(home, ".quarry")
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return "", fmt.Errorf("creating config directory: %w", err)
	}
	return dir, nil
}

// Load loads configuration.
// Priority: Environment variables > Configuration file > Default values
func Load() (*Config, error) {
	configDir, err := Dir()
	if err != nil {
		return nil, err
	}

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(configDir)
	viper.AddConfigPath(".") // Also support current directory

	setDefaults()
	bindEnvVariables()

	if err := viper.ReadInConfig(); err != nil {
		// A missing config file is not an error; defaults apply.
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		slog.Debug("configuration file not found, using default values",
			"search_paths", []string{configDir, "."})
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating configuration: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets all default configuration values.
func setDefaults() {
	viper.SetDefault("region", "eu-central-1")
	viper.SetDefault("model", "Nova Lite")
	viper.SetDefault("streaming", true)
	viper.SetDefault("start_message", DefaultStartMessage)
	viper.SetDefault("max_history_messages", DefaultMaxHistoryMessages)

	viper.SetDefault("temperature", 0.0)
	viper.SetDefault("top_k", 100)

	viper.SetDefault("image.width", 1024)
	viper.SetDefault("image.height", 1024)
	viper.SetDefault("image.quality", "standard")
	viper.SetDefault("image.count", 1)
	viper.SetDefault("image.cfg_scale", 8.0)

	viper.SetDefault("video.duration_seconds", 6)
	viper.SetDefault("video.fps", 24)
	viper.SetDefault("video.dimension", "1280x720")

	viper.SetDefault("retrieval_results", 5)

	setKBDefaults()
}

// bindEnvVariables binds environment variable overrides explicitly.
func bindEnvVariables() {
	// Panic on bind errors: hardcoded keys can only fail on a programming bug.
	mustBind := func(key string, envVars ...string) {
		if err := viper.BindEnv(append([]string{key}, envVars...)...); err != nil {
			panic(fmt.Sprintf("BUG: failed to bind %q: %v", key, err))
		}
	}

	mustBind("region", "QUARRY_REGION", "AWS_REGION")
	mustBind("model", "QUARRY_MODEL")
	mustBind("video.output_bucket", "QUARRY_VIDEO_BUCKET")
	mustBind("kb.data_dir", "QUARRY_KB_DATA_DIR")
}

// Validate checks configuration values, failing fast with sentinel errors.
func (c *Config) Validate() error {
	if c == nil {
		return ErrConfigNil
	}
	if !slices.Contains(AllowedRegions, c.Region) {
		return fmt.Errorf("%w: %q (must be one of %v)", ErrUnsupportedRegion, c.Region, AllowedRegions)
	}
	if _, err := c.ModelID(); err != nil {
		return err
	}
	if c.Temperature < 0 || c.Temperature > 1 {
		return fmt.Errorf("%w: %v (must be in [0,1])", ErrInvalidTemperature, c.Temperature)
	}
	if c.TopK < 0 || c.TopK > 500 {
		return fmt.Errorf("%w: %d (must be in [0,500])", ErrInvalidTopK, c.TopK)
	}
	if c.RetrievalResults < 1 || c.RetrievalResults > 100 {
		return fmt.Errorf("%w: %d (must be in [1,100])", ErrInvalidRetrievalResults, c.RetrievalResults)
	}
	if c.MaxHistoryMessages < 2 || c.MaxHistoryMessages > MaxAllowedHistoryMessages {
		return fmt.Errorf("%w: %d (must be in [2,%d])", ErrInvalidHistoryLimit,
			c.MaxHistoryMessages, MaxAllowedHistoryMessages)
	}
	if err := c.KB.validate(); err != nil {
		return err
	}
	return nil
}
