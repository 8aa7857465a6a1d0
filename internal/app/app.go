// Package app wires configuration, AWS clients and application
// components into a ready-to-use runtime. It is the single place
// entry points (chat TUI, one-shot ask, knowledge base commands)
// go through for initialization.
package app

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/bedrockagent"
	"github.com/aws/aws-sdk-go-v2/service/bedrockagentruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/iam"
	"github.com/aws/aws-sdk-go-v2/service/opensearchserverless"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sts"

	"github.com/quarry-ai/quarry/internal/config"
	"github.com/quarry-ai/quarry/internal/kb"
	"github.com/quarry-ai/quarry/internal/log"
)

// Clients bundles the AWS service clients quarry talks to. All share
// one resolved aws.Config, so credentials and region are consistent
// across services.
type Clients struct {
	AWS          aws.Config
	Bedrock      *bedrockruntime.Client
	Agent        *bedrockagent.Client
	AgentRuntime *bedrockagentruntime.Client
	S3           *s3.Client
	IAM          *iam.Client
	AOSS         *opensearchserverless.Client
	STS          *sts.Client
	Uploader     *manager.Uploader
}

// NewClients resolves the default AWS credential chain for region and
// constructs all service clients.
func NewClients(ctx context.Context, region string) (*Clients, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("load AWS configuration: %w", err)
	}
	s3Client := s3.NewFromConfig(awsCfg)
	return &Clients{
		AWS:          awsCfg,
		Bedrock:      bedrockruntime.NewFromConfig(awsCfg),
		Agent:        bedrockagent.NewFromConfig(awsCfg),
		AgentRuntime: bedrockagentruntime.NewFromConfig(awsCfg),
		S3:           s3Client,
		IAM:          iam.NewFromConfig(awsCfg),
		AOSS:         opensearchserverless.NewFromConfig(awsCfg),
		STS:          sts.NewFromConfig(awsCfg),
		Uploader:     manager.NewUploader(s3Client),
	}, nil
}

// Provisioner builds a knowledge base provisioner on top of the
// client bundle.
func (c *Clients) Provisioner(cfg config.KBConfig, region string, logger log.Logger) (*kb.Provisioner, error) {
	return kb.New(kb.Clients{
		S3:       c.S3,
		IAM:      c.IAM,
		AOSS:     c.AOSS,
		Agent:    c.Agent,
		STS:      c.STS,
		Uploader: c.Uploader,
		Index:    kb.NewIndexManager(c.AWS),
	}, cfg, region, logger)
}
