package retrieval

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockagent"
)

// Agent is the subset of the Bedrock agent (control plane) client used
// to enumerate knowledge bases.
type Agent interface {
	ListKnowledgeBases(ctx context.Context, params *bedrockagent.ListKnowledgeBasesInput,
		optFns ...func(*bedrockagent.Options)) (*bedrockagent.ListKnowledgeBasesOutput, error)
}

// listPageSize bounds each ListKnowledgeBases page.
const listPageSize = 10

// ListKnowledgeBases returns all knowledge bases in the region as a
// name → ID map for selection by name.
func ListKnowledgeBases(ctx context.Context, client Agent) (map[string]string, error) {
	kbs := make(map[string]string)
	var nextToken *string
	for {
		out, err := client.ListKnowledgeBases(ctx, &bedrockagent.ListKnowledgeBasesInput{
			MaxResults: aws.Int32(listPageSize),
			NextToken:  nextToken,
		})
		if err != nil {
			return nil, fmt.Errorf("list knowledge bases: %w", err)
		}
		for _, summary := range out.KnowledgeBaseSummaries {
			kbs[aws.ToString(summary.Name)] = aws.ToString(summary.KnowledgeBaseId)
		}
		if out.NextToken == nil {
			return kbs, nil
		}
		nextToken = out.NextToken
	}
}
