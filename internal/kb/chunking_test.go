package kb

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	agenttypes "github.com/aws/aws-sdk-go-v2/service/bedrockagent/types"

	"github.com/quarry-ai/quarry/internal/config"
)

func TestChunkingConfiguration(t *testing.T) {
	tests := []struct {
		strategy string
		check    func(t *testing.T, cfg *agenttypes.ChunkingConfiguration)
	}{
		{
			strategy: config.ChunkingFixedSize,
			check: func(t *testing.T, cfg *agenttypes.ChunkingConfiguration) {
				fixed := cfg.FixedSizeChunkingConfiguration
				if aws.ToInt32(fixed.MaxTokens) != 512 || aws.ToInt32(fixed.OverlapPercentage) != 20 {
					t.Errorf("fixed size config = %+v", fixed)
				}
			},
		},
		{
			strategy: config.ChunkingHierarchical,
			check: func(t *testing.T, cfg *agenttypes.ChunkingConfiguration) {
				h := cfg.HierarchicalChunkingConfiguration
				if len(h.LevelConfigurations) != 2 {
					t.Fatalf("levels = %d, want 2", len(h.LevelConfigurations))
				}
				if aws.ToInt32(h.LevelConfigurations[0].MaxTokens) != 1500 ||
					aws.ToInt32(h.LevelConfigurations[1].MaxTokens) != 300 ||
					aws.ToInt32(h.OverlapTokens) != 60 {
					t.Errorf("hierarchical config = %+v", h)
				}
			},
		},
		{
			strategy: config.ChunkingSemantic,
			check: func(t *testing.T, cfg *agenttypes.ChunkingConfiguration) {
				s := cfg.SemanticChunkingConfiguration
				if aws.ToInt32(s.MaxTokens) != 512 || aws.ToInt32(s.BufferSize) != 1 ||
					aws.ToInt32(s.BreakpointPercentileThreshold) != 95 {
					t.Errorf("semantic config = %+v", s)
				}
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.strategy, func(t *testing.T) {
			cfg, err := chunkingConfiguration(tt.strategy)
			if err != nil {
				t.Fatalf("chunkingConfiguration() error = %v", err)
			}
			tt.check(t, cfg)
		})
	}
}

func TestChunkingConfigurationUnknown(t *testing.T) {
	_, err := chunkingConfiguration("SLIDING_WINDOW")
	if !errors.Is(err, config.ErrInvalidChunking) {
		t.Fatalf("chunkingConfiguration() error = %v, want ErrInvalidChunking", err)
	}
}

func TestPolicyDocuments(t *testing.T) {
	doc, err := marshalPolicy(assumeRolePolicy(testAccount))
	if err != nil {
		t.Fatalf("marshalPolicy() error = %v", err)
	}
	var parsed map[string]any
	if err := json.Unmarshal([]byte(doc), &parsed); err != nil {
		t.Fatalf("assume role policy is not valid JSON: %v", err)
	}
	for _, want := range []string{"bedrock.amazonaws.com", "sts:AssumeRole", testAccount} {
		if !strings.Contains(doc, want) {
			t.Errorf("assume role policy missing %q: %s", want, doc)
		}
	}

	bucketDoc, err := marshalPolicy(bucketAccessPolicy("quarry-kb-eu-central-1-"+testAccount, testAccount))
	if err != nil {
		t.Fatalf("marshalPolicy() error = %v", err)
	}
	if !strings.Contains(bucketDoc, "arn:aws:s3:::quarry-kb-eu-central-1-"+testAccount+"/*") {
		t.Errorf("bucket policy missing object resource: %s", bucketDoc)
	}
}

func TestVectorIndexBody(t *testing.T) {
	body := strings.Replace(vectorIndexBody, "%d", "1536", 1)
	var parsed map[string]any
	if err := json.Unmarshal([]byte(body), &parsed); err != nil {
		t.Fatalf("index body is not valid JSON: %v", err)
	}
	if !strings.Contains(body, `"knn_vector"`) || !strings.Contains(body, `"faiss"`) {
		t.Errorf("index body missing vector field definition: %s", body)
	}
}
