// Package bedrock adapts logical model families to Amazon Bedrock
// request shapes and response parsing.
//
// Dispatch is by model family (see config.DetectFamily):
//   - text models use the Converse / ConverseStream API and may carry
//     image or document attachments,
//   - Nova Canvas uses InvokeModel with a TEXT_IMAGE task,
//   - Nova Reel uses the async invoke API with an S3 output location.
//
// All invocations go through a shared retry with exponential backoff
// (throttling and transient server errors only) and an optional
// proactive rate limiter.
package bedrock

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/document"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	"golang.org/x/time/rate"

	"github.com/quarry-ai/quarry/internal/log"
)

// ErrEmptyResponse indicates the model returned no usable content.
var ErrEmptyResponse = errors.New("model returned empty response")

// Runtime is the subset of the Bedrock runtime client used by Invoker.
// Consumer-defined so tests can substitute fakes.
type Runtime interface {
	Converse(ctx context.Context, params *bedrockruntime.ConverseInput,
		optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseOutput, error)
	ConverseStream(ctx context.Context, params *bedrockruntime.ConverseStreamInput,
		optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseStreamOutput, error)
	InvokeModel(ctx context.Context, params *bedrockruntime.InvokeModelInput,
		optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.InvokeModelOutput, error)
	StartAsyncInvoke(ctx context.Context, params *bedrockruntime.StartAsyncInvokeInput,
		optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.StartAsyncInvokeOutput, error)
	GetAsyncInvoke(ctx context.Context, params *bedrockruntime.GetAsyncInvokeInput,
		optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.GetAsyncInvokeOutput, error)
}

// StreamFunc receives each text delta of a streaming response.
// Returning an error aborts the stream.
type StreamFunc func(text string) error

// Config contains all required parameters for Invoker.
type Config struct {
	Runtime     Runtime
	ModelID     string
	Logger      log.Logger
	Temperature float32
	TopK        int // Passed via additionalModelRequestFields; 0 omits it

	// Generation parameters for the non-conversational families.
	// Ignored by text models.
	Image ImageOptions
	Video VideoOptions

	RetryConfig RetryConfig   // Zero value uses defaults
	RateLimiter *rate.Limiter // Optional proactive rate limiting (nil = disabled)
}

func (cfg Config) validate() error {
	if cfg.Runtime == nil {
		return errors.New("runtime client is required")
	}
	if cfg.ModelID == "" {
		return errors.New("model ID is required")
	}
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	return nil
}

// Invoker sends conversations to a single Bedrock model.
// All configuration is captured immutably at construction time.
type Invoker struct {
	runtime     Runtime
	modelID     string
	temperature float32
	topK        int
	imageOpts   ImageOptions
	videoOpts   VideoOptions

	retryConfig RetryConfig
	rateLimiter *rate.Limiter
	logger      log.Logger
}

// New creates an Invoker. Returns an error if required dependencies
// are missing.
func New(cfg Config) (*Invoker, error) {
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("bedrock.New: %w", err)
	}
	retryConfig := cfg.RetryConfig
	if retryConfig.MaxRetries == 0 {
		retryConfig = DefaultRetryConfig()
	}
	return &Invoker{
		runtime:     cfg.Runtime,
		modelID:     cfg.ModelID,
		temperature: cfg.Temperature,
		topK:        cfg.TopK,
		imageOpts:   cfg.Image,
		videoOpts:   cfg.Video,
		retryConfig: retryConfig,
		rateLimiter: cfg.RateLimiter,
		logger:      cfg.Logger,
	}, nil
}

// ModelID returns the model this Invoker is bound to.
func (inv *Invoker) ModelID() string { return inv.modelID }

// inferenceConfig builds the shared inference configuration.
func (inv *Invoker) inferenceConfig() *types.InferenceConfiguration {
	return &types.InferenceConfiguration{
		Temperature: aws.Float32(inv.temperature),
	}
}

// additionalFields carries model-specific sampling parameters that the
// Converse API does not model, currently only top_k.
func (inv *Invoker) additionalFields() document.Interface {
	if inv.topK <= 0 {
		return nil
	}
	return document.NewLazyDocument(map[string]any{"top_k": inv.topK})
}

// Converse sends the conversation and returns the complete response text.
func (inv *Invoker) Converse(ctx context.Context, messages []types.Message) (string, error) {
	out, err := withRetry(ctx, inv.retryConfig, inv.rateLimiter, inv.logger,
		func(ctx context.Context) (*bedrockruntime.ConverseOutput, error) {
			return inv.runtime.Converse(ctx, &bedrockruntime.ConverseInput{
				ModelId:                      aws.String(inv.modelID),
				Messages:                     messages,
				InferenceConfig:              inv.inferenceConfig(),
				AdditionalModelRequestFields: inv.additionalFields(),
			})
		})
	if err != nil {
		return "", fmt.Errorf("converse %s: %w", inv.modelID, err)
	}

	text := outputText(out.Output)
	if text == "" {
		return "", ErrEmptyResponse
	}
	return text, nil
}

// ConverseStream sends the conversation, forwarding each text delta to
// onText, and returns the accumulated response text.
func (inv *Invoker) ConverseStream(ctx context.Context, messages []types.Message, onText StreamFunc) (string, error) {
	out, err := withRetry(ctx, inv.retryConfig, inv.rateLimiter, inv.logger,
		func(ctx context.Context) (*bedrockruntime.ConverseStreamOutput, error) {
			return inv.runtime.ConverseStream(ctx, &bedrockruntime.ConverseStreamInput{
				ModelId:                      aws.String(inv.modelID),
				Messages:                     messages,
				InferenceConfig:              inv.inferenceConfig(),
				AdditionalModelRequestFields: inv.additionalFields(),
			})
		})
	if err != nil {
		return "", fmt.Errorf("converse stream %s: %w", inv.modelID, err)
	}

	return inv.consumeStream(out.GetStream(), onText)
}

// eventStream is the event-reading surface of ConverseStreamEventStream,
// split out so the consume loop is testable without a live stream.
type eventStream interface {
	Events() <-chan types.ConverseStreamOutput
	Close() error
	Err() error
}

// consumeStream drains the event stream, forwarding text deltas and
// accumulating the full response.
func (inv *Invoker) consumeStream(stream eventStream, onText StreamFunc) (string, error) {
	defer func() {
		if closeErr := stream.Close(); closeErr != nil {
			inv.logger.Warn("closing converse stream", "error", closeErr)
		}
	}()

	var b strings.Builder
	for event := range stream.Events() {
		delta, ok := event.(*types.ConverseStreamOutputMemberContentBlockDelta)
		if !ok {
			continue
		}
		text, ok := delta.Value.Delta.(*types.ContentBlockDeltaMemberText)
		if !ok || text.Value == "" {
			continue
		}
		b.WriteString(text.Value)
		if onText != nil {
			if err := onText(text.Value); err != nil {
				return b.String(), fmt.Errorf("stream callback: %w", err)
			}
		}
	}
	if err := stream.Err(); err != nil {
		return b.String(), fmt.Errorf("converse stream %s: %w", inv.modelID, err)
	}
	if b.Len() == 0 {
		return "", ErrEmptyResponse
	}
	return b.String(), nil
}

// outputText extracts the concatenated text blocks of a converse output.
func outputText(output types.ConverseOutput) string {
	msg, ok := output.(*types.ConverseOutputMemberMessage)
	if !ok {
		return ""
	}
	var b strings.Builder
	for _, block := range msg.Value.Content {
		if text, ok := block.(*types.ContentBlockMemberText); ok {
			b.WriteString(text.Value)
		}
	}
	return b.String()
}
