// Package retrieval wraps Bedrock knowledge base queries.
//
// A Retriever bound to no knowledge base is a no-op: Retrieve returns
// nothing and the chat proceeds ungrounded. This keeps the call site
// free of "is retrieval enabled" branching.
package retrieval

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockagentruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockagentruntime/types"

	"github.com/quarry-ai/quarry/internal/log"
)

// AgentRuntime is the subset of the Bedrock agent runtime client used
// by Retriever. Consumer-defined so tests can substitute fakes.
type AgentRuntime interface {
	Retrieve(ctx context.Context, params *bedrockagentruntime.RetrieveInput,
		optFns ...func(*bedrockagentruntime.Options)) (*bedrockagentruntime.RetrieveOutput, error)
}

// Document is one retrieved chunk with its source and relevance score.
type Document struct {
	Text     string
	Location string
	Score    float64
}

// Retriever queries a single knowledge base.
type Retriever struct {
	client     AgentRuntime
	kbID       string // Empty disables retrieval
	numResults int32
	logger     log.Logger
}

// New creates a Retriever. An empty kbID produces a disabled retriever.
func New(client AgentRuntime, kbID string, numResults int, logger log.Logger) *Retriever {
	return &Retriever{
		client:     client,
		kbID:       kbID,
		numResults: int32(numResults),
		logger:     logger,
	}
}

// Enabled reports whether a knowledge base is selected.
func (r *Retriever) Enabled() bool { return r.kbID != "" }

// Retrieve returns the documents most relevant to the query, or nil
// when no knowledge base is selected.
func (r *Retriever) Retrieve(ctx context.Context, query string) ([]Document, error) {
	if !r.Enabled() {
		return nil, nil
	}

	out, err := r.client.Retrieve(ctx, &bedrockagentruntime.RetrieveInput{
		KnowledgeBaseId: aws.String(r.kbID),
		RetrievalQuery:  &types.KnowledgeBaseQuery{Text: aws.String(query)},
		RetrievalConfiguration: &types.KnowledgeBaseRetrievalConfiguration{
			VectorSearchConfiguration: &types.KnowledgeBaseVectorSearchConfiguration{
				NumberOfResults: aws.Int32(r.numResults),
			},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("retrieve from knowledge base %s: %w", r.kbID, err)
	}

	docs := make([]Document, 0, len(out.RetrievalResults))
	for _, result := range out.RetrievalResults {
		docs = append(docs, Document{
			Text:     contentText(result.Content),
			Location: locationURI(result.Location),
			Score:    aws.ToFloat64(result.Score),
		})
	}
	r.logger.Debug("retrieved documents", "knowledge_base", r.kbID, "count", len(docs))
	return docs, nil
}

// ContextText renders documents as grounding context for the model.
func ContextText(docs []Document) string {
	if len(docs) == 0 {
		return ""
	}
	parts := make([]string, len(docs))
	for i, doc := range docs {
		parts[i] = fmt.Sprintf("Document %d: %s", i+1, doc.Text)
	}
	return strings.Join(parts, "\n\n")
}

// FormatReferences renders documents as a human-readable source list
// with location and score, for a "show sources" display.
func FormatReferences(docs []Document) string {
	var b strings.Builder
	for i, doc := range docs {
		fmt.Fprintf(&b, "Document %d (score %.3f)\n", i+1, doc.Score)
		if doc.Location != "" {
			fmt.Fprintf(&b, "  source: %s\n", doc.Location)
		}
		text := doc.Text
		const maxPreview = 300
		if len(text) > maxPreview {
			// Cut on a rune boundary so multi-byte text stays valid.
			cut := maxPreview
			for cut > 0 && !utf8.RuneStart(text[cut]) {
				cut--
			}
			text = text[:cut] + "…"
		}
		fmt.Fprintf(&b, "  %s\n", text)
	}
	return b.String()
}

func contentText(content *types.RetrievalResultContent) string {
	if content == nil {
		return ""
	}
	return aws.ToString(content.Text)
}

func locationURI(location *types.RetrievalResultLocation) string {
	if location == nil {
		return ""
	}
	if location.S3Location != nil {
		return aws.ToString(location.S3Location.Uri)
	}
	if location.WebLocation != nil {
		return aws.ToString(location.WebLocation.Url)
	}
	return string(location.Type)
}
