package kb

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockagent"
	agenttypes "github.com/aws/aws-sdk-go-v2/service/bedrockagent/types"
)

// IngestionSummary describes one ingestion job.
type IngestionSummary struct {
	ID      string
	Status  string
	Started time.Time
	Updated time.Time
}

// Status is a point-in-time view of a knowledge base and its recent
// ingestion jobs.
type Status struct {
	KnowledgeBaseStatus string
	Ingestions          []IngestionSummary
}

const statusJobLimit = 5

// Status fetches the knowledge base status and its most recent
// ingestion jobs, newest first.
func (p *Provisioner) Status(ctx context.Context, info *Info) (*Status, error) {
	out, err := p.clients.Agent.GetKnowledgeBase(ctx, &bedrockagent.GetKnowledgeBaseInput{
		KnowledgeBaseId: aws.String(info.KnowledgeBaseID),
	})
	if err != nil {
		return nil, fmt.Errorf("get knowledge base: %w", err)
	}
	status := &Status{KnowledgeBaseStatus: string(out.KnowledgeBase.Status)}

	if info.DataSourceID == "" {
		return status, nil
	}
	jobs, err := p.clients.Agent.ListIngestionJobs(ctx, &bedrockagent.ListIngestionJobsInput{
		KnowledgeBaseId: aws.String(info.KnowledgeBaseID),
		DataSourceId:    aws.String(info.DataSourceID),
		MaxResults:      aws.Int32(statusJobLimit),
		SortBy: &agenttypes.IngestionJobSortBy{
			Attribute: agenttypes.IngestionJobSortByAttributeStartedAt,
			Order:     agenttypes.SortOrderDescending,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("list ingestion jobs: %w", err)
	}
	for _, job := range jobs.IngestionJobSummaries {
		status.Ingestions = append(status.Ingestions, IngestionSummary{
			ID:      aws.ToString(job.IngestionJobId),
			Status:  string(job.Status),
			Started: aws.ToTime(job.StartedAt),
			Updated: aws.ToTime(job.UpdatedAt),
		})
	}
	return status, nil
}
