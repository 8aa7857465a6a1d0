package kb

import (
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	agenttypes "github.com/aws/aws-sdk-go-v2/service/bedrockagent/types"

	"github.com/quarry-ai/quarry/internal/config"
)

// chunkingConfiguration maps a chunking strategy name to the ingestion
// configuration applied when documents are split for embedding.
func chunkingConfiguration(strategy string) (*agenttypes.ChunkingConfiguration, error) {
	switch strategy {
	case config.ChunkingFixedSize:
		return &agenttypes.ChunkingConfiguration{
			ChunkingStrategy: agenttypes.ChunkingStrategyFixedSize,
			FixedSizeChunkingConfiguration: &agenttypes.FixedSizeChunkingConfiguration{
				MaxTokens:         aws.Int32(512),
				OverlapPercentage: aws.Int32(20),
			},
		}, nil
	case config.ChunkingHierarchical:
		return &agenttypes.ChunkingConfiguration{
			ChunkingStrategy: agenttypes.ChunkingStrategyHierarchical,
			HierarchicalChunkingConfiguration: &agenttypes.HierarchicalChunkingConfiguration{
				LevelConfigurations: []agenttypes.HierarchicalChunkingLevelConfiguration{
					{MaxTokens: aws.Int32(1500)},
					{MaxTokens: aws.Int32(300)},
				},
				OverlapTokens: aws.Int32(60),
			},
		}, nil
	case config.ChunkingSemantic:
		return &agenttypes.ChunkingConfiguration{
			ChunkingStrategy: agenttypes.ChunkingStrategySemantic,
			SemanticChunkingConfiguration: &agenttypes.SemanticChunkingConfiguration{
				MaxTokens:                     aws.Int32(512),
				BufferSize:                    aws.Int32(1),
				BreakpointPercentileThreshold: aws.Int32(95),
			},
		}, nil
	default:
		return nil, fmt.Errorf("%w: %q", config.ErrInvalidChunking, strategy)
	}
}
