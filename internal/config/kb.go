package config

import (
	"fmt"
	"slices"
	"time"

	"github.com/spf13/viper"
)

// Chunking strategy names accepted by `quarry kb create --chunking`.
// These are passed through to the data source configuration unchanged;
// quarry implements no chunking of its own.
const (
	ChunkingFixedSize    = "FIXED_SIZE"
	ChunkingHierarchical = "HIERARCHICAL"
	ChunkingSemantic     = "SEMANTIC"
)

// ChunkingStrategies lists the supported pass-through strategies.
var ChunkingStrategies = []string{ChunkingFixedSize, ChunkingHierarchical, ChunkingSemantic}

// KBConfig configures knowledge base provisioning.
//
// The poll intervals and settle delays mirror the service's observed
// eventual-consistency behavior: collection creation takes minutes,
// data-access policy enforcement and index visibility take up to a
// minute each. Tests shrink them to keep the workflow fast.
type KBConfig struct {
	// EmbeddingModelID embeds ingested documents and realtime queries.
	EmbeddingModelID string `mapstructure:"embedding_model_id" json:"embedding_model_id"`

	// VectorDimension must match the embedding model output width.
	VectorDimension int `mapstructure:"vector_dimension" json:"vector_dimension"`

	// Chunking is the default ingestion chunking strategy.
	Chunking string `mapstructure:"chunking" json:"chunking"`

	// DataDir is the default local directory uploaded as the data source.
	DataDir string `mapstructure:"data_dir" json:"data_dir"`

	// CollectionPollInterval paces BatchGetCollection status checks.
	CollectionPollInterval time.Duration `mapstructure:"collection_poll_interval" json:"collection_poll_interval"`

	// KBPollInterval paces GetKnowledgeBase status checks.
	KBPollInterval time.Duration `mapstructure:"kb_poll_interval" json:"kb_poll_interval"`

	// KBPollAttempts bounds GetKnowledgeBase polling before giving up.
	KBPollAttempts int `mapstructure:"kb_poll_attempts" json:"kb_poll_attempts"`

	// IngestionPollInterval paces GetIngestionJob status checks.
	IngestionPollInterval time.Duration `mapstructure:"ingestion_poll_interval" json:"ingestion_poll_interval"`

	// SettleDelay is the fixed wait after access-policy attachment and
	// index creation before dependent calls are attempted.
	SettleDelay time.Duration `mapstructure:"settle_delay" json:"settle_delay"`
}

func setKBDefaults() {
	viper.SetDefault("kb.embedding_model_id", "amazon.titan-embed-text-v1")
	viper.SetDefault("kb.vector_dimension", 1536)
	viper.SetDefault("kb.chunking", ChunkingFixedSize)
	viper.SetDefault("kb.data_dir", "./data")
	viper.SetDefault("kb.collection_poll_interval", 30*time.Second)
	viper.SetDefault("kb.kb_poll_interval", 30*time.Second)
	viper.SetDefault("kb.kb_poll_attempts", 20)
	viper.SetDefault("kb.ingestion_poll_interval", 5*time.Second)
	viper.SetDefault("kb.settle_delay", 60*time.Second)
}

func (k KBConfig) validate() error {
	if !slices.Contains(ChunkingStrategies, k.Chunking) {
		return fmt.Errorf("%w: %q (must be one of %v)", ErrInvalidChunking, k.Chunking, ChunkingStrategies)
	}
	if k.VectorDimension <= 0 {
		return fmt.Errorf("%w: %d", ErrInvalidVectorDimension, k.VectorDimension)
	}
	return nil
}
