package kb

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/bedrockagent"
	agenttypes "github.com/aws/aws-sdk-go-v2/service/bedrockagent/types"
	"github.com/aws/aws-sdk-go-v2/service/iam"
	iamtypes "github.com/aws/aws-sdk-go-v2/service/iam/types"
	"github.com/aws/aws-sdk-go-v2/service/opensearchserverless"
	osstypes "github.com/aws/aws-sdk-go-v2/service/opensearchserverless/types"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/aws-sdk-go-v2/service/sts"
	"github.com/aws/smithy-go"

	"github.com/quarry-ai/quarry/internal/config"
)

const (
	testAccount = "123456789012"
	testCaller  = "arn:aws:iam::123456789012:user/tester"
)

func notFoundErr(code string) error {
	return &smithy.GenericAPIError{Code: code, Message: "gone"}
}

type fakeS3 struct {
	headErr        error
	createdBuckets []string
	objects        []s3types.Object
	deletedKeys    []string
	deletedBuckets []string
}

func (f *fakeS3) HeadBucket(_ context.Context, _ *s3.HeadBucketInput, _ ...func(*s3.Options)) (*s3.HeadBucketOutput, error) {
	if f.headErr != nil {
		return nil, f.headErr
	}
	return &s3.HeadBucketOutput{}, nil
}

func (f *fakeS3) CreateBucket(_ context.Context, in *s3.CreateBucketInput, _ ...func(*s3.Options)) (*s3.CreateBucketOutput, error) {
	f.createdBuckets = append(f.createdBuckets, aws.ToString(in.Bucket))
	return &s3.CreateBucketOutput{}, nil
}

func (f *fakeS3) ListObjectsV2(_ context.Context, _ *s3.ListObjectsV2Input, _ ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	return &s3.ListObjectsV2Output{
		Contents:    f.objects,
		IsTruncated: aws.Bool(false),
	}, nil
}

func (f *fakeS3) DeleteObjects(_ context.Context, in *s3.DeleteObjectsInput, _ ...func(*s3.Options)) (*s3.DeleteObjectsOutput, error) {
	for _, obj := range in.Delete.Objects {
		f.deletedKeys = append(f.deletedKeys, aws.ToString(obj.Key))
	}
	return &s3.DeleteObjectsOutput{}, nil
}

func (f *fakeS3) DeleteBucket(_ context.Context, in *s3.DeleteBucketInput, _ ...func(*s3.Options)) (*s3.DeleteBucketOutput, error) {
	f.deletedBuckets = append(f.deletedBuckets, aws.ToString(in.Bucket))
	return &s3.DeleteBucketOutput{}, nil
}

type fakeIAM struct {
	createdPolicies  []string
	createdRoles     []string
	attachedPolicies []string
	detachedPolicies []string
	deletedPolicies  []string
	deletedRoles     []string
}

func (f *fakeIAM) CreatePolicy(_ context.Context, in *iam.CreatePolicyInput, _ ...func(*iam.Options)) (*iam.CreatePolicyOutput, error) {
	name := aws.ToString(in.PolicyName)
	f.createdPolicies = append(f.createdPolicies, name)
	return &iam.CreatePolicyOutput{Policy: &iamtypes.Policy{
		Arn: aws.String(policyARN(testAccount, name)),
	}}, nil
}

func (f *fakeIAM) CreateRole(_ context.Context, in *iam.CreateRoleInput, _ ...func(*iam.Options)) (*iam.CreateRoleOutput, error) {
	name := aws.ToString(in.RoleName)
	f.createdRoles = append(f.createdRoles, name)
	return &iam.CreateRoleOutput{Role: &iamtypes.Role{
		Arn: aws.String("arn:aws:iam::" + testAccount + ":role/" + name),
	}}, nil
}

func (f *fakeIAM) AttachRolePolicy(_ context.Context, in *iam.AttachRolePolicyInput, _ ...func(*iam.Options)) (*iam.AttachRolePolicyOutput, error) {
	f.attachedPolicies = append(f.attachedPolicies, aws.ToString(in.PolicyArn))
	return &iam.AttachRolePolicyOutput{}, nil
}

func (f *fakeIAM) DetachRolePolicy(_ context.Context, in *iam.DetachRolePolicyInput, _ ...func(*iam.Options)) (*iam.DetachRolePolicyOutput, error) {
	f.detachedPolicies = append(f.detachedPolicies, aws.ToString(in.PolicyArn))
	return &iam.DetachRolePolicyOutput{}, nil
}

func (f *fakeIAM) DeletePolicy(_ context.Context, in *iam.DeletePolicyInput, _ ...func(*iam.Options)) (*iam.DeletePolicyOutput, error) {
	f.deletedPolicies = append(f.deletedPolicies, aws.ToString(in.PolicyArn))
	return &iam.DeletePolicyOutput{}, nil
}

func (f *fakeIAM) DeleteRole(_ context.Context, in *iam.DeleteRoleInput, _ ...func(*iam.Options)) (*iam.DeleteRoleOutput, error) {
	f.deletedRoles = append(f.deletedRoles, aws.ToString(in.RoleName))
	return &iam.DeleteRoleOutput{}, nil
}

type fakeAOSS struct {
	collectionStatuses []osstypes.CollectionStatus
	securityPolicies   []string
	accessPolicies     []string
	deletedCollections []string
	deletedSecurity    []string
	deletedAccess      []string
}

func (f *fakeAOSS) CreateSecurityPolicy(_ context.Context, in *opensearchserverless.CreateSecurityPolicyInput, _ ...func(*opensearchserverless.Options)) (*opensearchserverless.CreateSecurityPolicyOutput, error) {
	f.securityPolicies = append(f.securityPolicies, aws.ToString(in.Name))
	return &opensearchserverless.CreateSecurityPolicyOutput{}, nil
}

func (f *fakeAOSS) CreateAccessPolicy(_ context.Context, in *opensearchserverless.CreateAccessPolicyInput, _ ...func(*opensearchserverless.Options)) (*opensearchserverless.CreateAccessPolicyOutput, error) {
	f.accessPolicies = append(f.accessPolicies, aws.ToString(in.Name))
	return &opensearchserverless.CreateAccessPolicyOutput{}, nil
}

func (f *fakeAOSS) CreateCollection(_ context.Context, in *opensearchserverless.CreateCollectionInput, _ ...func(*opensearchserverless.Options)) (*opensearchserverless.CreateCollectionOutput, error) {
	name := aws.ToString(in.Name)
	return &opensearchserverless.CreateCollectionOutput{
		CreateCollectionDetail: &osstypes.CreateCollectionDetail{
			Id:  aws.String("coll-1234"),
			Arn: aws.String("arn:aws:aoss:eu-central-1:" + testAccount + ":collection/" + name),
		},
	}, nil
}

func (f *fakeAOSS) BatchGetCollection(_ context.Context, in *opensearchserverless.BatchGetCollectionInput, _ ...func(*opensearchserverless.Options)) (*opensearchserverless.BatchGetCollectionOutput, error) {
	status := osstypes.CollectionStatusActive
	if len(f.collectionStatuses) > 0 {
		status = f.collectionStatuses[0]
		f.collectionStatuses = f.collectionStatuses[1:]
	}
	return &opensearchserverless.BatchGetCollectionOutput{
		CollectionDetails: []osstypes.CollectionDetail{{
			Id:                 aws.String("coll-1234"),
			Status:             status,
			CollectionEndpoint: aws.String("https://coll-1234.eu-central-1.aoss.amazonaws.com"),
		}},
	}, nil
}

func (f *fakeAOSS) DeleteCollection(_ context.Context, in *opensearchserverless.DeleteCollectionInput, _ ...func(*opensearchserverless.Options)) (*opensearchserverless.DeleteCollectionOutput, error) {
	f.deletedCollections = append(f.deletedCollections, aws.ToString(in.Id))
	return &opensearchserverless.DeleteCollectionOutput{}, nil
}

func (f *fakeAOSS) DeleteSecurityPolicy(_ context.Context, in *opensearchserverless.DeleteSecurityPolicyInput, _ ...func(*opensearchserverless.Options)) (*opensearchserverless.DeleteSecurityPolicyOutput, error) {
	f.deletedSecurity = append(f.deletedSecurity, aws.ToString(in.Name))
	return &opensearchserverless.DeleteSecurityPolicyOutput{}, nil
}

func (f *fakeAOSS) DeleteAccessPolicy(_ context.Context, in *opensearchserverless.DeleteAccessPolicyInput, _ ...func(*opensearchserverless.Options)) (*opensearchserverless.DeleteAccessPolicyOutput, error) {
	f.deletedAccess = append(f.deletedAccess, aws.ToString(in.Name))
	return &opensearchserverless.DeleteAccessPolicyOutput{}, nil
}

type fakeAgent struct {
	createKBErrs      []error
	createKBAttempts  int
	kbStatuses        []agenttypes.KnowledgeBaseStatus
	ingestionStatuses []agenttypes.IngestionJobStatus
	failureReasons    []string
	deleteKBErr       error
	deletedKBs        []string
	deletedSources    []string
	jobSummaries      []agenttypes.IngestionJobSummary
	chunking          *agenttypes.ChunkingConfiguration
}

func (f *fakeAgent) CreateKnowledgeBase(_ context.Context, in *bedrockagent.CreateKnowledgeBaseInput, _ ...func(*bedrockagent.Options)) (*bedrockagent.CreateKnowledgeBaseOutput, error) {
	f.createKBAttempts++
	if len(f.createKBErrs) > 0 {
		err := f.createKBErrs[0]
		f.createKBErrs = f.createKBErrs[1:]
		if err != nil {
			return nil, err
		}
	}
	return &bedrockagent.CreateKnowledgeBaseOutput{
		KnowledgeBase: &agenttypes.KnowledgeBase{
			KnowledgeBaseId: aws.String("KB123456"),
			Name:            in.Name,
		},
	}, nil
}

func (f *fakeAgent) GetKnowledgeBase(_ context.Context, _ *bedrockagent.GetKnowledgeBaseInput, _ ...func(*bedrockagent.Options)) (*bedrockagent.GetKnowledgeBaseOutput, error) {
	status := agenttypes.KnowledgeBaseStatusActive
	if len(f.kbStatuses) > 0 {
		status = f.kbStatuses[0]
		f.kbStatuses = f.kbStatuses[1:]
	}
	return &bedrockagent.GetKnowledgeBaseOutput{
		KnowledgeBase: &agenttypes.KnowledgeBase{
			KnowledgeBaseId: aws.String("KB123456"),
			Status:          status,
		},
	}, nil
}

func (f *fakeAgent) DeleteKnowledgeBase(_ context.Context, in *bedrockagent.DeleteKnowledgeBaseInput, _ ...func(*bedrockagent.Options)) (*bedrockagent.DeleteKnowledgeBaseOutput, error) {
	if f.deleteKBErr != nil {
		return nil, f.deleteKBErr
	}
	f.deletedKBs = append(f.deletedKBs, aws.ToString(in.KnowledgeBaseId))
	return &bedrockagent.DeleteKnowledgeBaseOutput{}, nil
}

func (f *fakeAgent) CreateDataSource(_ context.Context, in *bedrockagent.CreateDataSourceInput, _ ...func(*bedrockagent.Options)) (*bedrockagent.CreateDataSourceOutput, error) {
	if in.VectorIngestionConfiguration != nil {
		f.chunking = in.VectorIngestionConfiguration.ChunkingConfiguration
	}
	return &bedrockagent.CreateDataSourceOutput{
		DataSource: &agenttypes.DataSource{DataSourceId: aws.String("DS123456")},
	}, nil
}

func (f *fakeAgent) DeleteDataSource(_ context.Context, in *bedrockagent.DeleteDataSourceInput, _ ...func(*bedrockagent.Options)) (*bedrockagent.DeleteDataSourceOutput, error) {
	f.deletedSources = append(f.deletedSources, aws.ToString(in.DataSourceId))
	return &bedrockagent.DeleteDataSourceOutput{}, nil
}

func (f *fakeAgent) StartIngestionJob(_ context.Context, _ *bedrockagent.StartIngestionJobInput, _ ...func(*bedrockagent.Options)) (*bedrockagent.StartIngestionJobOutput, error) {
	return &bedrockagent.StartIngestionJobOutput{
		IngestionJob: &agenttypes.IngestionJob{IngestionJobId: aws.String("JOB123")},
	}, nil
}

func (f *fakeAgent) GetIngestionJob(_ context.Context, _ *bedrockagent.GetIngestionJobInput, _ ...func(*bedrockagent.Options)) (*bedrockagent.GetIngestionJobOutput, error) {
	status := agenttypes.IngestionJobStatusComplete
	if len(f.ingestionStatuses) > 0 {
		status = f.ingestionStatuses[0]
		f.ingestionStatuses = f.ingestionStatuses[1:]
	}
	return &bedrockagent.GetIngestionJobOutput{
		IngestionJob: &agenttypes.IngestionJob{
			IngestionJobId: aws.String("JOB123"),
			Status:         status,
			FailureReasons: f.failureReasons,
		},
	}, nil
}

func (f *fakeAgent) ListIngestionJobs(_ context.Context, _ *bedrockagent.ListIngestionJobsInput, _ ...func(*bedrockagent.Options)) (*bedrockagent.ListIngestionJobsOutput, error) {
	return &bedrockagent.ListIngestionJobsOutput{IngestionJobSummaries: f.jobSummaries}, nil
}

type fakeSTS struct{}

func (fakeSTS) GetCallerIdentity(_ context.Context, _ *sts.GetCallerIdentityInput, _ ...func(*sts.Options)) (*sts.GetCallerIdentityOutput, error) {
	return &sts.GetCallerIdentityOutput{
		Account: aws.String(testAccount),
		Arn:     aws.String(testCaller),
	}, nil
}

type fakeUploader struct {
	keys []string
}

func (f *fakeUploader) Upload(_ context.Context, in *s3.PutObjectInput, _ ...func(*manager.Uploader)) (*manager.UploadOutput, error) {
	f.keys = append(f.keys, aws.ToString(in.Key))
	return &manager.UploadOutput{}, nil
}

type fakeIndex struct {
	created   []string
	deleted   []string
	dimension int
	createErr error
}

func (f *fakeIndex) CreateVectorIndex(_ context.Context, _, name string, dimension int) error {
	if f.createErr != nil {
		return f.createErr
	}
	f.created = append(f.created, name)
	f.dimension = dimension
	return nil
}

func (f *fakeIndex) DeleteVectorIndex(_ context.Context, _, name string) error {
	f.deleted = append(f.deleted, name)
	return nil
}

type testClients struct {
	s3       *fakeS3
	iam      *fakeIAM
	aoss     *fakeAOSS
	agent    *fakeAgent
	uploader *fakeUploader
	index    *fakeIndex
}

func newTestProvisioner(t *testing.T) (*Provisioner, *testClients) {
	t.Helper()
	tc := &testClients{
		s3:       &fakeS3{headErr: notFoundErr("NotFound")},
		iam:      &fakeIAM{},
		aoss:     &fakeAOSS{},
		agent:    &fakeAgent{},
		uploader: &fakeUploader{},
		index:    &fakeIndex{},
	}
	cfg := config.KBConfig{
		EmbeddingModelID:       "amazon.titan-embed-text-v1",
		VectorDimension:        1536,
		Chunking:               config.ChunkingFixedSize,
		CollectionPollInterval: time.Millisecond,
		KBPollInterval:         time.Millisecond,
		KBPollAttempts:         5,
		IngestionPollInterval:  time.Millisecond,
		SettleDelay:            time.Millisecond,
	}
	p, err := New(Clients{
		S3:       tc.s3,
		IAM:      tc.iam,
		AOSS:     tc.aoss,
		Agent:    tc.agent,
		STS:      fakeSTS{},
		Uploader: tc.uploader,
		Index:    tc.index,
	}, cfg, "eu-central-1", nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return p, tc
}

func writeDataDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	files := map[string]string{
		"guide.md":        "# Guide",
		"nested/notes.md": "notes",
		".hidden":         "skip me",
	}
	for name, content := range files {
		path := filepath.Join(dir, filepath.FromSlash(name))
		if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, []byte(content), 0o640); err != nil {
			t.Fatal(err)
		}
	}
	return dir
}

func TestNewMissingClient(t *testing.T) {
	_, err := New(Clients{}, config.KBConfig{}, "eu-central-1", nil)
	if !errors.Is(err, ErrMissingClient) {
		t.Fatalf("New() error = %v, want ErrMissingClient", err)
	}
}

func TestCreateInvalidName(t *testing.T) {
	p, _ := newTestProvisioner(t)
	for _, name := range []string{"", "Has Spaces", "UPPER", "way-too-long-name-that-exceeds-the-forty-character-limit"} {
		if _, err := p.Create(context.Background(), CreateParams{Name: name}); !errors.Is(err, ErrInvalidName) {
			t.Errorf("Create(%q) error = %v, want ErrInvalidName", name, err)
		}
	}
}

func TestCreateProvisionsEverything(t *testing.T) {
	p, tc := newTestProvisioner(t)
	tc.aoss.collectionStatuses = []osstypes.CollectionStatus{
		osstypes.CollectionStatusCreating,
		osstypes.CollectionStatusActive,
	}
	tc.agent.kbStatuses = []agenttypes.KnowledgeBaseStatus{
		agenttypes.KnowledgeBaseStatusCreating,
		agenttypes.KnowledgeBaseStatusActive,
	}
	tc.agent.ingestionStatuses = []agenttypes.IngestionJobStatus{
		agenttypes.IngestionJobStatusInProgress,
		agenttypes.IngestionJobStatusComplete,
	}

	info, err := p.Create(context.Background(), CreateParams{
		Name:    "docs",
		DataDir: writeDataDir(t),
	})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	if info.KnowledgeBaseID != "KB123456" {
		t.Errorf("KnowledgeBaseID = %q, want KB123456", info.KnowledgeBaseID)
	}
	if info.DataSourceID != "DS123456" {
		t.Errorf("DataSourceID = %q, want DS123456", info.DataSourceID)
	}
	wantBucket := "quarry-kb-eu-central-1-" + testAccount
	if info.BucketName != wantBucket {
		t.Errorf("BucketName = %q, want %q", info.BucketName, wantBucket)
	}
	if len(tc.s3.createdBuckets) != 1 {
		t.Errorf("created buckets = %v, want one", tc.s3.createdBuckets)
	}
	if len(tc.iam.createdRoles) != 1 || len(tc.iam.createdPolicies) != 4 {
		t.Errorf("IAM roles = %v policies = %v", tc.iam.createdRoles, tc.iam.createdPolicies)
	}
	if len(tc.aoss.securityPolicies) != 2 || len(tc.aoss.accessPolicies) != 1 {
		t.Errorf("collection policies = %v / %v", tc.aoss.securityPolicies, tc.aoss.accessPolicies)
	}
	if tc.index.dimension != 1536 {
		t.Errorf("index dimension = %d, want 1536", tc.index.dimension)
	}
	if len(tc.uploader.keys) != 2 {
		t.Errorf("uploaded keys = %v, want guide.md and nested/notes.md", tc.uploader.keys)
	}
	if tc.agent.chunking == nil || tc.agent.chunking.ChunkingStrategy != agenttypes.ChunkingStrategyFixedSize {
		t.Errorf("chunking = %+v, want fixed size", tc.agent.chunking)
	}
}

func TestCreateRetriesKnowledgeBase(t *testing.T) {
	p, tc := newTestProvisioner(t)
	tc.agent.createKBErrs = []error{
		&smithy.GenericAPIError{Code: "ValidationException", Message: "role cannot be assumed"},
		&smithy.GenericAPIError{Code: "ValidationException", Message: "role cannot be assumed"},
	}

	_, err := p.Create(context.Background(), CreateParams{Name: "docs", SkipUpload: true})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if tc.agent.createKBAttempts != 3 {
		t.Errorf("CreateKnowledgeBase attempts = %d, want 3", tc.agent.createKBAttempts)
	}
}

func TestCreateCollectionFailed(t *testing.T) {
	p, tc := newTestProvisioner(t)
	tc.aoss.collectionStatuses = []osstypes.CollectionStatus{osstypes.CollectionStatusFailed}

	_, err := p.Create(context.Background(), CreateParams{Name: "docs", SkipUpload: true})
	if !errors.Is(err, ErrCollectionFailed) {
		t.Fatalf("Create() error = %v, want ErrCollectionFailed", err)
	}
}

func TestCreateKnowledgeBaseTimeout(t *testing.T) {
	p, tc := newTestProvisioner(t)
	p.cfg.KBPollAttempts = 2
	tc.agent.kbStatuses = []agenttypes.KnowledgeBaseStatus{
		agenttypes.KnowledgeBaseStatusCreating,
		agenttypes.KnowledgeBaseStatusCreating,
	}

	_, err := p.Create(context.Background(), CreateParams{Name: "docs", SkipUpload: true})
	if !errors.Is(err, ErrCreateTimeout) {
		t.Fatalf("Create() error = %v, want ErrCreateTimeout", err)
	}
}

func TestCreateIngestionFailed(t *testing.T) {
	p, tc := newTestProvisioner(t)
	tc.agent.ingestionStatuses = []agenttypes.IngestionJobStatus{agenttypes.IngestionJobStatusFailed}
	tc.agent.failureReasons = []string{"access denied to bucket"}

	_, err := p.Create(context.Background(), CreateParams{Name: "docs", DataDir: writeDataDir(t)})
	if !errors.Is(err, ErrIngestionFailed) {
		t.Fatalf("Create() error = %v, want ErrIngestionFailed", err)
	}
}

func teardownInfo() *Info {
	return &Info{
		Name:                 "docs",
		Region:               "eu-central-1",
		BucketName:           "quarry-kb-eu-central-1-" + testAccount,
		VectorStoreName:      "quarry-rag-abc12345",
		IndexName:            "quarry-rag-index-abc12345",
		CollectionID:         "coll-1234",
		CollectionEndpoint:   "https://coll-1234.eu-central-1.aoss.amazonaws.com",
		KnowledgeBaseID:      "KB123456",
		DataSourceID:         "DS123456",
		ExecutionRoleName:    "QuarryBedrockExecutionRole-abc12345",
		FMPolicyName:         "QuarryBedrockFMPolicy-abc12345",
		S3PolicyName:         "QuarryBedrockS3Policy-abc12345",
		OSSPolicyName:        "QuarryBedrockOSSPolicy-abc12345",
		EncryptionPolicyName: "quarry-rag-sp-abc12345",
		NetworkPolicyName:    "quarry-rag-np-abc12345",
		AccessPolicyName:     "quarry-rag-ap-abc12345",
	}
}

func TestTeardownDeletesEverything(t *testing.T) {
	p, tc := newTestProvisioner(t)
	tc.s3.objects = []s3types.Object{{Key: aws.String("guide.md")}}

	if err := p.Teardown(context.Background(), teardownInfo(), TeardownOptions{}); err != nil {
		t.Fatalf("Teardown() error = %v", err)
	}

	if len(tc.agent.deletedSources) != 1 || len(tc.agent.deletedKBs) != 1 {
		t.Errorf("agent deletions = %v / %v", tc.agent.deletedSources, tc.agent.deletedKBs)
	}
	if len(tc.index.deleted) != 1 {
		t.Errorf("index deletions = %v, want one", tc.index.deleted)
	}
	if len(tc.aoss.deletedCollections) != 1 {
		t.Errorf("collection deletions = %v, want one", tc.aoss.deletedCollections)
	}
	if len(tc.aoss.deletedAccess) != 1 || len(tc.aoss.deletedSecurity) != 2 {
		t.Errorf("policy deletions = %v / %v", tc.aoss.deletedAccess, tc.aoss.deletedSecurity)
	}
	if len(tc.iam.detachedPolicies) != 3 || len(tc.iam.deletedRoles) != 1 {
		t.Errorf("IAM deletions = %v / %v", tc.iam.detachedPolicies, tc.iam.deletedRoles)
	}
	if len(tc.s3.deletedKeys) != 1 || len(tc.s3.deletedBuckets) != 1 {
		t.Errorf("bucket deletions = %v / %v", tc.s3.deletedKeys, tc.s3.deletedBuckets)
	}
}

func TestTeardownKeepBucket(t *testing.T) {
	p, tc := newTestProvisioner(t)

	if err := p.Teardown(context.Background(), teardownInfo(), TeardownOptions{KeepBucket: true}); err != nil {
		t.Fatalf("Teardown() error = %v", err)
	}
	if len(tc.s3.deletedBuckets) != 0 {
		t.Errorf("deleted buckets = %v, want none", tc.s3.deletedBuckets)
	}
}

func TestTeardownToleratesMissingResources(t *testing.T) {
	p, tc := newTestProvisioner(t)
	tc.agent.deleteKBErr = notFoundErr("ResourceNotFoundException")

	if err := p.Teardown(context.Background(), teardownInfo(), TeardownOptions{}); err != nil {
		t.Fatalf("Teardown() error = %v, want nil for missing resources", err)
	}
}

func TestTeardownAbortsOnFailure(t *testing.T) {
	p, tc := newTestProvisioner(t)
	tc.agent.deleteKBErr = &smithy.GenericAPIError{Code: "ConflictException", Message: "busy"}

	err := p.Teardown(context.Background(), teardownInfo(), TeardownOptions{})
	if err == nil {
		t.Fatal("Teardown() error = nil, want failure")
	}
	if len(tc.aoss.deletedCollections) != 0 {
		t.Errorf("collection deleted after abort: %v", tc.aoss.deletedCollections)
	}
}

func TestTeardownForceContinues(t *testing.T) {
	p, tc := newTestProvisioner(t)
	tc.agent.deleteKBErr = &smithy.GenericAPIError{Code: "ConflictException", Message: "busy"}

	err := p.Teardown(context.Background(), teardownInfo(), TeardownOptions{Force: true})
	if err == nil {
		t.Fatal("Teardown() error = nil, want collected failure")
	}
	if len(tc.aoss.deletedCollections) != 1 {
		t.Errorf("collection deletions = %v, want one despite earlier failure", tc.aoss.deletedCollections)
	}
	if len(tc.s3.deletedBuckets) != 1 {
		t.Errorf("bucket deletions = %v, want one despite earlier failure", tc.s3.deletedBuckets)
	}
}

func TestSyncUploadsAndIngests(t *testing.T) {
	p, tc := newTestProvisioner(t)
	info := teardownInfo()

	if err := p.Sync(context.Background(), info, writeDataDir(t)); err != nil {
		t.Fatalf("Sync() error = %v", err)
	}
	if len(tc.uploader.keys) != 2 {
		t.Errorf("uploaded keys = %v, want two", tc.uploader.keys)
	}
}

func TestSyncWithoutDataSource(t *testing.T) {
	p, _ := newTestProvisioner(t)
	info := teardownInfo()
	info.DataSourceID = ""

	if err := p.Sync(context.Background(), info, t.TempDir()); err == nil {
		t.Fatal("Sync() error = nil, want failure for missing data source")
	}
}

func TestStatusReportsIngestions(t *testing.T) {
	p, tc := newTestProvisioner(t)
	started := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	tc.agent.jobSummaries = []agenttypes.IngestionJobSummary{{
		IngestionJobId: aws.String("JOB123"),
		Status:         agenttypes.IngestionJobStatusComplete,
		StartedAt:      aws.Time(started),
		UpdatedAt:      aws.Time(started.Add(time.Minute)),
	}}

	status, err := p.Status(context.Background(), teardownInfo())
	if err != nil {
		t.Fatalf("Status() error = %v", err)
	}
	if status.KnowledgeBaseStatus != string(agenttypes.KnowledgeBaseStatusActive) {
		t.Errorf("KnowledgeBaseStatus = %q", status.KnowledgeBaseStatus)
	}
	if len(status.Ingestions) != 1 || status.Ingestions[0].ID != "JOB123" {
		t.Errorf("Ingestions = %+v", status.Ingestions)
	}
}

func TestIsNotFound(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"resource not found", notFoundErr("ResourceNotFoundException"), true},
		{"iam no such entity", notFoundErr("NoSuchEntity"), true},
		{"s3 no such bucket", notFoundErr("NoSuchBucket"), true},
		{"conflict", &smithy.GenericAPIError{Code: "ConflictException"}, false},
		{"plain error", errors.New("boom"), false},
		{"nil", nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := isNotFound(tt.err); got != tt.want {
				t.Errorf("isNotFound() = %v, want %v", got, tt.want)
			}
		})
	}
}
