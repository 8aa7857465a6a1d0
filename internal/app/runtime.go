package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sts"
	"golang.org/x/time/rate"

	"github.com/quarry-ai/quarry/internal/bedrock"
	"github.com/quarry-ai/quarry/internal/chat"
	"github.com/quarry-ai/quarry/internal/config"
	"github.com/quarry-ai/quarry/internal/log"
	"github.com/quarry-ai/quarry/internal/retrieval"
)

// Default proactive rate limit for Bedrock calls: steady two requests
// per second with small bursts, comfortably inside account quotas.
const (
	defaultRequestsPerSecond = 2
	defaultBurst             = 4
)

// Runtime is a fully initialized application: configuration, logger
// and AWS clients ready for any entry point.
type Runtime struct {
	Config  *config.Config
	Logger  log.Logger
	Clients *Clients
}

// NewRuntime loads configuration, builds the logger and constructs
// the AWS client bundle. Verbose logging is enabled when QUARRY_DEBUG
// is set.
func NewRuntime(ctx context.Context) (*Runtime, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load configuration: %w", err)
	}

	level := slog.LevelInfo
	if os.Getenv("QUARRY_DEBUG") != "" {
		level = slog.LevelDebug
	}
	logger := log.New(log.Config{Level: level})

	clients, err := NewClients(ctx, cfg.Region)
	if err != nil {
		return nil, err
	}

	return &Runtime{
		Config:  cfg,
		Logger:  logger,
		Clients: clients,
	}, nil
}

// NewSession builds a chat session for the configured model. A
// non-empty kbName grounds text answers on that knowledge base;
// the name is resolved against the account's knowledge bases.
func (r *Runtime) NewSession(ctx context.Context, kbName string) (*chat.Session, error) {
	modelID, err := r.Config.ModelID()
	if err != nil {
		return nil, err
	}
	family, err := r.Config.ModelFamily()
	if err != nil {
		return nil, err
	}

	invoker, err := bedrock.New(bedrock.Config{
		Runtime:     r.Clients.Bedrock,
		ModelID:     modelID,
		Logger:      r.Logger,
		Temperature: r.Config.Temperature,
		TopK:        r.Config.TopK,
		Image: bedrock.ImageOptions{
			Width:    r.Config.Image.Width,
			Height:   r.Config.Image.Height,
			Quality:  r.Config.Image.Quality,
			Count:    r.Config.Image.Count,
			CFGScale: r.Config.Image.CFGScale,
		},
		Video: bedrock.VideoOptions{
			DurationSeconds: r.Config.Video.DurationSeconds,
			FPS:             r.Config.Video.FPS,
			Dimension:       r.Config.Video.Dimension,
		},
		RateLimiter: rate.NewLimiter(rate.Limit(defaultRequestsPerSecond), defaultBurst),
	})
	if err != nil {
		return nil, err
	}

	var retriever chat.DocumentSource
	if kbName != "" {
		kbID, err := r.resolveKnowledgeBase(ctx, kbName)
		if err != nil {
			return nil, err
		}
		retriever = retrieval.New(r.Clients.AgentRuntime, kbID, r.Config.RetrievalResults, r.Logger)
	}

	sessionCfg := chat.Config{
		Model:      invoker,
		Family:     family,
		Logger:     r.Logger,
		Retriever:  retriever,
		MaxHistory: r.Config.MaxHistoryMessages,
	}
	if family == config.FamilyVideo {
		uri, err := r.videoOutputURI(ctx)
		if err != nil {
			return nil, err
		}
		sessionCfg.VideoOutputURI = uri
		sessionCfg.VideoLister = r.Clients.S3
	}

	return chat.New(sessionCfg)
}

// resolveKnowledgeBase maps a knowledge base name to its ID, listing
// the account's knowledge bases. A raw ID that matches no name is
// passed through unchanged.
func (r *Runtime) resolveKnowledgeBase(ctx context.Context, name string) (string, error) {
	bases, err := retrieval.ListKnowledgeBases(ctx, r.Clients.Agent)
	if err != nil {
		return "", fmt.Errorf("list knowledge bases: %w", err)
	}
	if id, ok := bases[name]; ok {
		return id, nil
	}
	for _, id := range bases {
		if id == name {
			return name, nil
		}
	}
	return "", fmt.Errorf("knowledge base %q not found; run 'quarry kb list'", name)
}

// videoOutputURI returns the s3:// location video jobs write to,
// deriving an account-scoped default bucket name when none is
// configured.
func (r *Runtime) videoOutputURI(ctx context.Context) (string, error) {
	bucket := r.Config.Video.OutputBucket
	if bucket == "" {
		identity, err := r.Clients.STS.GetCallerIdentity(ctx, &sts.GetCallerIdentityInput{})
		if err != nil {
			return "", fmt.Errorf("resolve caller identity: %w", err)
		}
		bucket = fmt.Sprintf("quarry-video-%s-%s", r.Config.Region, aws.ToString(identity.Account))
	}
	return "s3://" + bucket, nil
}

// StateDir returns the directory knowledge base state files live in.
func (r *Runtime) StateDir() (string, error) {
	dir, err := config.Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "kb"), nil
}

// ImageDir returns the directory generated images are written to.
func (r *Runtime) ImageDir() (string, error) {
	dir, err := config.Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "images"), nil
}
