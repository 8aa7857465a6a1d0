package kb

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockagent"
	"github.com/aws/aws-sdk-go-v2/service/opensearchserverless"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// TeardownOptions controls teardown behavior.
type TeardownOptions struct {
	// Force continues past step failures, collecting errors instead
	// of aborting. Already-deleted resources never count as failures.
	Force bool
	// KeepBucket leaves the data bucket and its objects in place.
	KeepBucket bool
}

// Teardown deletes every resource recorded in info, in reverse order
// of creation.
func (p *Provisioner) Teardown(ctx context.Context, info *Info, opts TeardownOptions) error {
	accountID, _, err := p.identity(ctx)
	if err != nil {
		return err
	}

	var collected []error
	run := func(step string, fn func() error) error {
		p.logger.Info("teardown", "step", step, "name", info.Name)
		err := fn()
		if err == nil || isNotFound(err) {
			return nil
		}
		if opts.Force {
			p.logger.Warn("teardown step failed, continuing", "step", step, "error", err)
			collected = append(collected, fmt.Errorf("%s: %w", step, err))
			return nil
		}
		return fmt.Errorf("%s: %w", step, err)
	}

	if info.DataSourceID != "" {
		if err := run("delete data source", func() error {
			_, err := p.clients.Agent.DeleteDataSource(ctx, &bedrockagent.DeleteDataSourceInput{
				KnowledgeBaseId: aws.String(info.KnowledgeBaseID),
				DataSourceId:    aws.String(info.DataSourceID),
			})
			return err
		}); err != nil {
			return err
		}
	}
	if info.KnowledgeBaseID != "" {
		if err := run("delete knowledge base", func() error {
			_, err := p.clients.Agent.DeleteKnowledgeBase(ctx, &bedrockagent.DeleteKnowledgeBaseInput{
				KnowledgeBaseId: aws.String(info.KnowledgeBaseID),
			})
			return err
		}); err != nil {
			return err
		}
	}
	if info.CollectionEndpoint != "" && info.IndexName != "" {
		if err := run("delete vector index", func() error {
			return p.clients.Index.DeleteVectorIndex(ctx, info.CollectionEndpoint, info.IndexName)
		}); err != nil {
			return err
		}
	}
	if info.CollectionID != "" {
		if err := run("delete collection", func() error {
			_, err := p.clients.AOSS.DeleteCollection(ctx, &opensearchserverless.DeleteCollectionInput{
				Id: aws.String(info.CollectionID),
			})
			return err
		}); err != nil {
			return err
		}
	}
	if err := run("delete collection policies", func() error {
		return p.deleteCollectionPolicies(ctx, info)
	}); err != nil {
		return err
	}
	if info.ExecutionRoleName != "" {
		if err := run("delete execution role", func() error {
			return p.deleteExecutionRole(ctx, info, accountID)
		}); err != nil {
			return err
		}
	}
	if !opts.KeepBucket && info.BucketName != "" {
		if err := run("delete bucket", func() error {
			return p.deleteBucket(ctx, info.BucketName)
		}); err != nil {
			return err
		}
	}

	if len(collected) > 0 {
		return errors.Join(collected...)
	}
	p.logger.Info("teardown complete", "name", info.Name)
	return nil
}

// deleteBucket empties the bucket page by page, then removes it.
func (p *Provisioner) deleteBucket(ctx context.Context, bucket string) error {
	var token *string
	for {
		page, err := p.clients.S3.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
			Bucket:            aws.String(bucket),
			ContinuationToken: token,
		})
		if err != nil {
			return fmt.Errorf("list bucket %s: %w", bucket, err)
		}
		if len(page.Contents) > 0 {
			objects := make([]s3types.ObjectIdentifier, 0, len(page.Contents))
			for _, obj := range page.Contents {
				objects = append(objects, s3types.ObjectIdentifier{Key: obj.Key})
			}
			if _, err := p.clients.S3.DeleteObjects(ctx, &s3.DeleteObjectsInput{
				Bucket: aws.String(bucket),
				Delete: &s3types.Delete{Objects: objects, Quiet: aws.Bool(true)},
			}); err != nil {
				return fmt.Errorf("empty bucket %s: %w", bucket, err)
			}
		}
		if !aws.ToBool(page.IsTruncated) {
			break
		}
		token = page.NextContinuationToken
	}
	if _, err := p.clients.S3.DeleteBucket(ctx, &s3.DeleteBucketInput{
		Bucket: aws.String(bucket),
	}); err != nil {
		return fmt.Errorf("delete bucket %s: %w", bucket, err)
	}
	return nil
}
