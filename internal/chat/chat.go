// Package chat implements the conversation loop: history management,
// retrieval-augmented prompting and dispatch to the model family the
// configured model belongs to.
package chat

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"

	"github.com/quarry-ai/quarry/internal/bedrock"
	"github.com/quarry-ai/quarry/internal/config"
	"github.com/quarry-ai/quarry/internal/log"
	"github.com/quarry-ai/quarry/internal/retrieval"
)

const (
	// defaultVideoPollInterval is how often async video jobs are polled.
	defaultVideoPollInterval = 10 * time.Second

	// videoOutputSettle is the extra wait when a completed job has not
	// written its .mp4 to S3 yet.
	videoOutputSettle = 2 * time.Second
)

// Sentinel errors for session operations.
var (
	// ErrNoModel indicates the session was built without a model.
	ErrNoModel = errors.New("model is required")

	// ErrNoVideoOutput indicates video generation was requested without
	// a configured S3 output location.
	ErrNoVideoOutput = errors.New("video output location is not configured")

	// ErrVideoFailed indicates the async video job did not complete.
	ErrVideoFailed = errors.New("video generation failed")
)

// Model is the subset of the Bedrock invoker the session uses.
type Model interface {
	Converse(ctx context.Context, messages []types.Message) (string, error)
	ConverseStream(ctx context.Context, messages []types.Message, onText bedrock.StreamFunc) (string, error)
	GenerateImage(ctx context.Context, prompt string) ([]byte, error)
	StartVideo(ctx context.Context, prompt, s3URI string, image *bedrock.Attachment) (bedrock.VideoJob, error)
	VideoJobStatus(ctx context.Context, invocationARN string) bedrock.VideoStatus
}

// DocumentSource retrieves knowledge base passages for a query.
type DocumentSource interface {
	Enabled() bool
	Retrieve(ctx context.Context, query string) ([]retrieval.Document, error)
}

// Turn is the result of one completed text exchange.
type Turn struct {
	Response  string               // Model's final text output
	Documents []retrieval.Document // Passages that grounded the answer, if any
}

// Config contains all required parameters for a Session.
type Config struct {
	Model     Model
	Family    config.Family
	Logger    log.Logger
	Retriever DocumentSource // nil = retrieval disabled

	// MaxHistory bounds the conversation window sent to the model.
	MaxHistory int

	// VideoOutputURI is the s3:// location async video jobs write to.
	VideoOutputURI string
	// VideoLister confirms video output objects exist. Required for
	// the video family.
	VideoLister bedrock.S3Lister
	// VideoPollInterval overrides the async job poll cadence.
	VideoPollInterval time.Duration
}

// Session drives a conversation against a single model. Text models
// keep history and can be grounded on retrieved passages; image and
// video models are single-shot.
type Session struct {
	model     Model
	family    config.Family
	retriever DocumentSource
	history   *History
	logger    log.Logger

	videoOutputURI    string
	videoLister       bedrock.S3Lister
	videoPollInterval time.Duration
}

// New validates cfg and creates a Session.
func New(cfg Config) (*Session, error) {
	if cfg.Model == nil {
		return nil, ErrNoModel
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.NewNop()
	}
	interval := cfg.VideoPollInterval
	if interval <= 0 {
		interval = defaultVideoPollInterval
	}
	return &Session{
		model:             cfg.Model,
		family:            cfg.Family,
		retriever:         cfg.Retriever,
		history:           NewHistory(cfg.MaxHistory),
		logger:            logger,
		videoOutputURI:    cfg.VideoOutputURI,
		videoLister:       cfg.VideoLister,
		videoPollInterval: interval,
	}, nil
}

// Family returns the model family this session dispatches to.
func (s *Session) Family() config.Family {
	return s.family
}

// History returns the session's conversation history.
func (s *Session) History() *History {
	return s.history
}

// Reset clears the conversation history.
func (s *Session) Reset() {
	s.history.Clear()
}

// Ask runs one text exchange. When a retriever is configured and
// enabled, retrieved passages are prepended to the prompt as context.
// A non-nil onText streams partial output as it arrives. The exchange
// is added to history only on success, so a failed call leaves the
// conversation unchanged.
func (s *Session) Ask(ctx context.Context, prompt string, attachments []bedrock.Attachment, onText bedrock.StreamFunc) (*Turn, error) {
	var docs []retrieval.Document
	if s.retriever != nil && s.retriever.Enabled() {
		var err error
		docs, err = s.retriever.Retrieve(ctx, prompt)
		if err != nil {
			return nil, fmt.Errorf("retrieve context: %w", err)
		}
		s.logger.Debug("retrieved context", "documents", len(docs))
	}

	userMsg := bedrock.UserMessage(prompt, retrieval.ContextText(docs), attachments)
	messages := append(s.history.Messages(), userMsg)

	var reply string
	var err error
	if onText != nil {
		reply, err = s.model.ConverseStream(ctx, messages, onText)
	} else {
		reply, err = s.model.Converse(ctx, messages)
	}
	if err != nil {
		return nil, err
	}

	s.history.Add(userMsg)
	s.history.Add(bedrock.AssistantMessage(reply))
	return &Turn{Response: reply, Documents: docs}, nil
}

// GenerateImage produces image bytes from a prompt. History is not
// involved; image models are single-shot.
func (s *Session) GenerateImage(ctx context.Context, prompt string) ([]byte, error) {
	return s.model.GenerateImage(ctx, prompt)
}

// GenerateVideo starts an async video job and polls it to completion,
// then confirms the .mp4 exists in the output bucket. notify, if
// non-nil, receives human-readable progress updates. Returns the final
// s3:// location of the video.
func (s *Session) GenerateVideo(ctx context.Context, prompt string, image *bedrock.Attachment, notify func(status string)) (string, error) {
	if s.videoOutputURI == "" || s.videoLister == nil {
		return "", ErrNoVideoOutput
	}
	if notify == nil {
		notify = func(string) {}
	}

	job, err := s.model.StartVideo(ctx, prompt, s.videoOutputURI, image)
	if err != nil {
		return "", err
	}
	s.logger.Info("started video generation", "invocation_arn", job.InvocationARN)
	notify("Video generation started, this can take a few minutes.")

	for {
		status := s.model.VideoJobStatus(ctx, job.InvocationARN)
		switch {
		case status.Failed:
			return "", fmt.Errorf("%w: %s", ErrVideoFailed, status.Error)
		case status.Completed:
			key, found, err := bedrock.FindVideoOutput(ctx, s.videoLister, job)
			if err != nil {
				return "", err
			}
			if !found {
				// Output upload lags job completion.
				if err := sleepCtx(ctx, videoOutputSettle); err != nil {
					return "", err
				}
				continue
			}
			location := fmt.Sprintf("s3://%s/%s", job.Bucket, key)
			s.logger.Info("video generation complete", "location", location)
			return location, nil
		default:
			notify(fmt.Sprintf("Video generation in progress (%s)...", status.Status))
		}
		if err := sleepCtx(ctx, s.videoPollInterval); err != nil {
			return "", err
		}
	}
}

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
