// Package kb provisions Amazon Bedrock knowledge bases backed by
// OpenSearch Serverless vector stores, and tears them down again.
//
// A provisioning run creates the data bucket, the IAM execution role
// and its policies, the collection security policies, the collection
// itself, the vector index, the knowledge base and its data source,
// then uploads documents and runs the first ingestion job. Every
// resource identifier is recorded in an Info value so teardown can
// undo the run in reverse order.
package kb

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/bedrockagent"
	agenttypes "github.com/aws/aws-sdk-go-v2/service/bedrockagent/types"
	"github.com/aws/aws-sdk-go-v2/service/iam"
	"github.com/aws/aws-sdk-go-v2/service/opensearchserverless"
	osstypes "github.com/aws/aws-sdk-go-v2/service/opensearchserverless/types"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/aws-sdk-go-v2/service/sts"
	"github.com/aws/smithy-go"
	"github.com/google/uuid"

	"github.com/quarry-ai/quarry/internal/config"
	"github.com/quarry-ai/quarry/internal/log"
)

// Sentinel errors for provisioning failures.
var (
	ErrInvalidName      = errors.New("invalid knowledge base name")
	ErrMissingClient    = errors.New("missing AWS client")
	ErrCollectionFailed = errors.New("collection creation failed")
	ErrCreateTimeout    = errors.New("knowledge base did not become active")
	ErrIngestionFailed  = errors.New("ingestion job failed")
)

// S3API is the subset of the S3 client the provisioner uses.
type S3API interface {
	HeadBucket(ctx context.Context, in *s3.HeadBucketInput, opts ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
	CreateBucket(ctx context.Context, in *s3.CreateBucketInput, opts ...func(*s3.Options)) (*s3.CreateBucketOutput, error)
	ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, opts ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
	DeleteObjects(ctx context.Context, in *s3.DeleteObjectsInput, opts ...func(*s3.Options)) (*s3.DeleteObjectsOutput, error)
	DeleteBucket(ctx context.Context, in *s3.DeleteBucketInput, opts ...func(*s3.Options)) (*s3.DeleteBucketOutput, error)
}

// IAMAPI is the subset of the IAM client the provisioner uses.
type IAMAPI interface {
	CreatePolicy(ctx context.Context, in *iam.CreatePolicyInput, opts ...func(*iam.Options)) (*iam.CreatePolicyOutput, error)
	CreateRole(ctx context.Context, in *iam.CreateRoleInput, opts ...func(*iam.Options)) (*iam.CreateRoleOutput, error)
	AttachRolePolicy(ctx context.Context, in *iam.AttachRolePolicyInput, opts ...func(*iam.Options)) (*iam.AttachRolePolicyOutput, error)
	DetachRolePolicy(ctx context.Context, in *iam.DetachRolePolicyInput, opts ...func(*iam.Options)) (*iam.DetachRolePolicyOutput, error)
	DeletePolicy(ctx context.Context, in *iam.DeletePolicyInput, opts ...func(*iam.Options)) (*iam.DeletePolicyOutput, error)
	DeleteRole(ctx context.Context, in *iam.DeleteRoleInput, opts ...func(*iam.Options)) (*iam.DeleteRoleOutput, error)
}

// AOSSAPI is the subset of the OpenSearch Serverless client the
// provisioner uses.
type AOSSAPI interface {
	CreateSecurityPolicy(ctx context.Context, in *opensearchserverless.CreateSecurityPolicyInput, opts ...func(*opensearchserverless.Options)) (*opensearchserverless.CreateSecurityPolicyOutput, error)
	CreateAccessPolicy(ctx context.Context, in *opensearchserverless.CreateAccessPolicyInput, opts ...func(*opensearchserverless.Options)) (*opensearchserverless.CreateAccessPolicyOutput, error)
	CreateCollection(ctx context.Context, in *opensearchserverless.CreateCollectionInput, opts ...func(*opensearchserverless.Options)) (*opensearchserverless.CreateCollectionOutput, error)
	BatchGetCollection(ctx context.Context, in *opensearchserverless.BatchGetCollectionInput, opts ...func(*opensearchserverless.Options)) (*opensearchserverless.BatchGetCollectionOutput, error)
	DeleteCollection(ctx context.Context, in *opensearchserverless.DeleteCollectionInput, opts ...func(*opensearchserverless.Options)) (*opensearchserverless.DeleteCollectionOutput, error)
	DeleteSecurityPolicy(ctx context.Context, in *opensearchserverless.DeleteSecurityPolicyInput, opts ...func(*opensearchserverless.Options)) (*opensearchserverless.DeleteSecurityPolicyOutput, error)
	DeleteAccessPolicy(ctx context.Context, in *opensearchserverless.DeleteAccessPolicyInput, opts ...func(*opensearchserverless.Options)) (*opensearchserverless.DeleteAccessPolicyOutput, error)
}

// AgentAPI is the subset of the Bedrock Agent client the provisioner
// uses.
type AgentAPI interface {
	CreateKnowledgeBase(ctx context.Context, in *bedrockagent.CreateKnowledgeBaseInput, opts ...func(*bedrockagent.Options)) (*bedrockagent.CreateKnowledgeBaseOutput, error)
	GetKnowledgeBase(ctx context.Context, in *bedrockagent.GetKnowledgeBaseInput, opts ...func(*bedrockagent.Options)) (*bedrockagent.GetKnowledgeBaseOutput, error)
	DeleteKnowledgeBase(ctx context.Context, in *bedrockagent.DeleteKnowledgeBaseInput, opts ...func(*bedrockagent.Options)) (*bedrockagent.DeleteKnowledgeBaseOutput, error)
	CreateDataSource(ctx context.Context, in *bedrockagent.CreateDataSourceInput, opts ...func(*bedrockagent.Options)) (*bedrockagent.CreateDataSourceOutput, error)
	DeleteDataSource(ctx context.Context, in *bedrockagent.DeleteDataSourceInput, opts ...func(*bedrockagent.Options)) (*bedrockagent.DeleteDataSourceOutput, error)
	StartIngestionJob(ctx context.Context, in *bedrockagent.StartIngestionJobInput, opts ...func(*bedrockagent.Options)) (*bedrockagent.StartIngestionJobOutput, error)
	GetIngestionJob(ctx context.Context, in *bedrockagent.GetIngestionJobInput, opts ...func(*bedrockagent.Options)) (*bedrockagent.GetIngestionJobOutput, error)
	ListIngestionJobs(ctx context.Context, in *bedrockagent.ListIngestionJobsInput, opts ...func(*bedrockagent.Options)) (*bedrockagent.ListIngestionJobsOutput, error)
}

// STSAPI resolves the caller identity for policy scoping and bucket
// naming.
type STSAPI interface {
	GetCallerIdentity(ctx context.Context, in *sts.GetCallerIdentityInput, opts ...func(*sts.Options)) (*sts.GetCallerIdentityOutput, error)
}

// UploaderAPI uploads document files to the data bucket.
type UploaderAPI interface {
	Upload(ctx context.Context, in *s3.PutObjectInput, opts ...func(*manager.Uploader)) (*manager.UploadOutput, error)
}

// IndexAPI manages vector indexes on a collection endpoint.
type IndexAPI interface {
	CreateVectorIndex(ctx context.Context, endpoint, name string, dimension int) error
	DeleteVectorIndex(ctx context.Context, endpoint, name string) error
}

// Clients bundles the AWS clients a Provisioner needs.
type Clients struct {
	S3       S3API
	IAM      IAMAPI
	AOSS     AOSSAPI
	Agent    AgentAPI
	STS      STSAPI
	Uploader UploaderAPI
	Index    IndexAPI
}

// Provisioner runs the knowledge base provisioning workflow.
type Provisioner struct {
	clients Clients
	cfg     config.KBConfig
	region  string
	logger  log.Logger
}

// New validates the client bundle and returns a Provisioner.
func New(clients Clients, cfg config.KBConfig, region string, logger log.Logger) (*Provisioner, error) {
	for name, c := range map[string]any{
		"s3": clients.S3, "iam": clients.IAM, "aoss": clients.AOSS,
		"agent": clients.Agent, "sts": clients.STS,
		"uploader": clients.Uploader, "index": clients.Index,
	} {
		if c == nil {
			return nil, fmt.Errorf("%w: %s", ErrMissingClient, name)
		}
	}
	if logger == nil {
		logger = log.NewNop()
	}
	return &Provisioner{clients: clients, cfg: cfg, region: region, logger: logger}, nil
}

// CreateParams controls a provisioning run.
type CreateParams struct {
	// Name is the knowledge base name, also used to derive resource
	// names. Lowercase letters, digits and hyphens only.
	Name string
	// BucketName overrides the data bucket name. Empty means
	// quarry-kb-<region>-<account>.
	BucketName string
	// DataDir is the local directory of documents to upload.
	DataDir string
	// Chunking selects the document chunking strategy. Empty falls
	// back to the configured default.
	Chunking string
	// SkipUpload provisions infrastructure without uploading
	// documents or running an ingestion job.
	SkipUpload bool
}

func validName(name string) bool {
	if name == "" || len(name) > 40 {
		return false
	}
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z':
		case r >= '0' && r <= '9':
		case r == '-':
		default:
			return false
		}
	}
	return true
}

func nameSuffix() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
}

func (p *Provisioner) identity(ctx context.Context) (accountID, callerARN string, err error) {
	out, err := p.clients.STS.GetCallerIdentity(ctx, &sts.GetCallerIdentityInput{})
	if err != nil {
		return "", "", fmt.Errorf("resolve caller identity: %w", err)
	}
	return aws.ToString(out.Account), aws.ToString(out.Arn), nil
}

// sleepCtx waits for d or until ctx is cancelled.
func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

var notFoundCodes = map[string]bool{
	"ResourceNotFoundException": true,
	"NoSuchEntity":              true,
	"NoSuchBucket":              true,
	"NotFoundException":         true,
	"NotFound":                  true,
}

// isNotFound reports whether err means the resource is already gone.
func isNotFound(err error) bool {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		return notFoundCodes[apiErr.ErrorCode()]
	}
	return false
}

// Create runs the full provisioning workflow. The returned Info is
// non-nil even on error so a partially provisioned run can be torn
// down with the resources created so far.
func (p *Provisioner) Create(ctx context.Context, params CreateParams) (*Info, error) {
	if !validName(params.Name) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidName, params.Name)
	}
	chunking := params.Chunking
	if chunking == "" {
		chunking = p.cfg.Chunking
	}
	if _, err := chunkingConfiguration(chunking); err != nil {
		return nil, err
	}

	accountID, callerARN, err := p.identity(ctx)
	if err != nil {
		return nil, err
	}

	suffix := nameSuffix()
	info := &Info{
		Name:                 params.Name,
		Region:               p.region,
		CreatedAt:            time.Now().UTC(),
		BucketName:           params.BucketName,
		VectorStoreName:      "quarry-rag-" + suffix,
		IndexName:            "quarry-rag-index-" + suffix,
		ExecutionRoleName:    "QuarryBedrockExecutionRole-" + suffix,
		FMPolicyName:         "QuarryBedrockFMPolicy-" + suffix,
		S3PolicyName:         "QuarryBedrockS3Policy-" + suffix,
		OSSPolicyName:        "QuarryBedrockOSSPolicy-" + suffix,
		EncryptionPolicyName: "quarry-rag-sp-" + suffix,
		NetworkPolicyName:    "quarry-rag-np-" + suffix,
		AccessPolicyName:     "quarry-rag-ap-" + suffix,
		EmbeddingModelID:     p.cfg.EmbeddingModelID,
		Chunking:             chunking,
	}
	if info.BucketName == "" {
		info.BucketName = fmt.Sprintf("quarry-kb-%s-%s", p.region, accountID)
	}

	p.logger.Info("provisioning knowledge base", "name", params.Name, "region", p.region, "bucket", info.BucketName)

	if err := p.ensureBucket(ctx, info.BucketName); err != nil {
		return info, err
	}
	if err := p.createExecutionRole(ctx, info, accountID); err != nil {
		return info, err
	}
	if err := p.createSecurityPolicies(ctx, info); err != nil {
		return info, err
	}
	if err := p.createCollection(ctx, info); err != nil {
		return info, err
	}
	if err := p.attachCollectionPolicy(ctx, info); err != nil {
		return info, err
	}
	if err := p.createAccessPolicy(ctx, info, callerARN); err != nil {
		return info, err
	}

	// Data access grants take a while to propagate to the collection.
	p.logger.Info("waiting for access policy propagation", "delay", p.cfg.SettleDelay)
	if err := sleepCtx(ctx, p.cfg.SettleDelay); err != nil {
		return info, err
	}

	p.logger.Info("creating vector index", "index", info.IndexName, "dimension", p.cfg.VectorDimension)
	if err := p.clients.Index.CreateVectorIndex(ctx, info.CollectionEndpoint, info.IndexName, p.cfg.VectorDimension); err != nil {
		return info, err
	}
	if err := sleepCtx(ctx, p.cfg.SettleDelay); err != nil {
		return info, err
	}

	if !params.SkipUpload && params.DataDir != "" {
		n, err := p.uploadData(ctx, info.BucketName, params.DataDir)
		if err != nil {
			return info, err
		}
		p.logger.Info("uploaded documents", "count", n, "bucket", info.BucketName)
	}

	if err := p.createKnowledgeBase(ctx, info); err != nil {
		return info, err
	}
	if err := p.createDataSource(ctx, info, chunking); err != nil {
		return info, err
	}
	if err := p.waitForKnowledgeBase(ctx, info); err != nil {
		return info, err
	}

	if !params.SkipUpload && params.DataDir != "" {
		if err := p.runIngestion(ctx, info); err != nil {
			return info, err
		}
	}

	p.logger.Info("knowledge base ready", "kb_id", info.KnowledgeBaseID)
	return info, nil
}

func (p *Provisioner) ensureBucket(ctx context.Context, bucket string) error {
	_, err := p.clients.S3.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(bucket)})
	if err == nil {
		p.logger.Info("bucket already exists", "bucket", bucket)
		return nil
	}
	if !isNotFound(err) {
		return fmt.Errorf("check bucket %s: %w", bucket, err)
	}
	in := &s3.CreateBucketInput{Bucket: aws.String(bucket)}
	// us-east-1 rejects an explicit location constraint.
	if p.region != "us-east-1" {
		in.CreateBucketConfiguration = &s3types.CreateBucketConfiguration{
			LocationConstraint: s3types.BucketLocationConstraint(p.region),
		}
	}
	if _, err := p.clients.S3.CreateBucket(ctx, in); err != nil {
		return fmt.Errorf("create bucket %s: %w", bucket, err)
	}
	p.logger.Info("created bucket", "bucket", bucket)
	return nil
}

func (p *Provisioner) createCollection(ctx context.Context, info *Info) error {
	out, err := p.clients.AOSS.CreateCollection(ctx, &opensearchserverless.CreateCollectionInput{
		Name: aws.String(info.VectorStoreName),
		Type: osstypes.CollectionTypeVectorsearch,
	})
	if err != nil {
		return fmt.Errorf("create collection: %w", err)
	}
	info.CollectionID = aws.ToString(out.CreateCollectionDetail.Id)
	info.CollectionARN = aws.ToString(out.CreateCollectionDetail.Arn)

	p.logger.Info("waiting for collection", "collection", info.VectorStoreName)
	for {
		batch, err := p.clients.AOSS.BatchGetCollection(ctx, &opensearchserverless.BatchGetCollectionInput{
			Names: []string{info.VectorStoreName},
		})
		if err != nil {
			return fmt.Errorf("poll collection: %w", err)
		}
		if len(batch.CollectionDetails) == 0 {
			return fmt.Errorf("%w: collection %s disappeared", ErrCollectionFailed, info.VectorStoreName)
		}
		detail := batch.CollectionDetails[0]
		switch detail.Status {
		case osstypes.CollectionStatusActive:
			info.CollectionEndpoint = aws.ToString(detail.CollectionEndpoint)
			p.logger.Info("collection active", "endpoint", info.CollectionEndpoint)
			return nil
		case osstypes.CollectionStatusFailed:
			return fmt.Errorf("%w: collection %s", ErrCollectionFailed, info.VectorStoreName)
		}
		if err := sleepCtx(ctx, p.cfg.CollectionPollInterval); err != nil {
			return err
		}
	}
}

// kbCreateAttempts bounds the retry loop around CreateKnowledgeBase,
// which fails with validation errors until the execution role has
// propagated through IAM.
const kbCreateAttempts = 7

func (p *Provisioner) createKnowledgeBase(ctx context.Context, info *Info) error {
	in := &bedrockagent.CreateKnowledgeBaseInput{
		Name:        aws.String(info.Name),
		Description: aws.String("Knowledge base provisioned by quarry"),
		RoleArn:     aws.String(info.ExecutionRoleARN),
		KnowledgeBaseConfiguration: &agenttypes.KnowledgeBaseConfiguration{
			Type: agenttypes.KnowledgeBaseTypeVector,
			VectorKnowledgeBaseConfiguration: &agenttypes.VectorKnowledgeBaseConfiguration{
				EmbeddingModelArn: aws.String(fmt.Sprintf(
					"arn:aws:bedrock:%s::foundation-model/%s", p.region, info.EmbeddingModelID)),
			},
		},
		StorageConfiguration: &agenttypes.StorageConfiguration{
			Type: agenttypes.KnowledgeBaseStorageTypeOpensearchServerless,
			OpensearchServerlessConfiguration: &agenttypes.OpenSearchServerlessConfiguration{
				CollectionArn:   aws.String(info.CollectionARN),
				VectorIndexName: aws.String(info.IndexName),
				FieldMapping: &agenttypes.OpenSearchServerlessFieldMapping{
					VectorField:   aws.String("vector"),
					TextField:     aws.String("text"),
					MetadataField: aws.String("text-metadata"),
				},
			},
		},
	}

	delay := 2 * time.Second
	var lastErr error
	for attempt := 1; attempt <= kbCreateAttempts; attempt++ {
		out, err := p.clients.Agent.CreateKnowledgeBase(ctx, in)
		if err == nil {
			info.KnowledgeBaseID = aws.ToString(out.KnowledgeBase.KnowledgeBaseId)
			p.logger.Info("created knowledge base", "kb_id", info.KnowledgeBaseID)
			return nil
		}
		lastErr = err
		if attempt == kbCreateAttempts {
			break
		}
		p.logger.Warn("create knowledge base failed, retrying", "attempt", attempt, "error", err)
		if err := sleepCtx(ctx, delay+rand.N(time.Second)); err != nil {
			return err
		}
		if delay < 30*time.Second {
			delay *= 2
		}
	}
	return fmt.Errorf("create knowledge base: %w", lastErr)
}

func (p *Provisioner) createDataSource(ctx context.Context, info *Info, chunking string) error {
	chunkCfg, err := chunkingConfiguration(chunking)
	if err != nil {
		return err
	}
	out, err := p.clients.Agent.CreateDataSource(ctx, &bedrockagent.CreateDataSourceInput{
		KnowledgeBaseId: aws.String(info.KnowledgeBaseID),
		Name:            aws.String(info.Name),
		Description:     aws.String("S3 data source for " + info.Name),
		DataSourceConfiguration: &agenttypes.DataSourceConfiguration{
			Type: agenttypes.DataSourceTypeS3,
			S3Configuration: &agenttypes.S3DataSourceConfiguration{
				BucketArn: aws.String("arn:aws:s3:::" + info.BucketName),
			},
		},
		VectorIngestionConfiguration: &agenttypes.VectorIngestionConfiguration{
			ChunkingConfiguration: chunkCfg,
		},
	})
	if err != nil {
		return fmt.Errorf("create data source: %w", err)
	}
	info.DataSourceID = aws.ToString(out.DataSource.DataSourceId)
	return nil
}

func (p *Provisioner) waitForKnowledgeBase(ctx context.Context, info *Info) error {
	for attempt := 0; attempt < p.cfg.KBPollAttempts; attempt++ {
		out, err := p.clients.Agent.GetKnowledgeBase(ctx, &bedrockagent.GetKnowledgeBaseInput{
			KnowledgeBaseId: aws.String(info.KnowledgeBaseID),
		})
		if err != nil {
			return fmt.Errorf("poll knowledge base: %w", err)
		}
		status := out.KnowledgeBase.Status
		if status != agenttypes.KnowledgeBaseStatusCreating {
			if status == agenttypes.KnowledgeBaseStatusFailed {
				return fmt.Errorf("%w: status %s", ErrCreateTimeout, status)
			}
			p.logger.Info("knowledge base active", "status", status)
			return nil
		}
		if err := sleepCtx(ctx, p.cfg.KBPollInterval); err != nil {
			return err
		}
	}
	return fmt.Errorf("%w after %d polls", ErrCreateTimeout, p.cfg.KBPollAttempts)
}

// runIngestion starts an ingestion job and waits for it to finish.
func (p *Provisioner) runIngestion(ctx context.Context, info *Info) error {
	out, err := p.clients.Agent.StartIngestionJob(ctx, &bedrockagent.StartIngestionJobInput{
		KnowledgeBaseId: aws.String(info.KnowledgeBaseID),
		DataSourceId:    aws.String(info.DataSourceID),
	})
	if err != nil {
		return fmt.Errorf("start ingestion job: %w", err)
	}
	jobID := aws.ToString(out.IngestionJob.IngestionJobId)
	p.logger.Info("started ingestion job", "job_id", jobID)

	for {
		job, err := p.clients.Agent.GetIngestionJob(ctx, &bedrockagent.GetIngestionJobInput{
			KnowledgeBaseId: aws.String(info.KnowledgeBaseID),
			DataSourceId:    aws.String(info.DataSourceID),
			IngestionJobId:  aws.String(jobID),
		})
		if err != nil {
			return fmt.Errorf("poll ingestion job: %w", err)
		}
		switch status := job.IngestionJob.Status; status {
		case agenttypes.IngestionJobStatusComplete:
			p.logger.Info("ingestion complete", "job_id", jobID)
			return nil
		case agenttypes.IngestionJobStatusFailed:
			return fmt.Errorf("%w: %s", ErrIngestionFailed, strings.Join(job.IngestionJob.FailureReasons, "; "))
		default:
			p.logger.Debug("ingestion in progress", "job_id", jobID, "status", status)
		}
		if err := sleepCtx(ctx, p.cfg.IngestionPollInterval); err != nil {
			return err
		}
	}
}
