package bedrock

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math/rand/v2"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
)

// ImageOptions configures Nova Canvas image generation.
type ImageOptions struct {
	Width    int
	Height   int
	Quality  string
	Count    int
	CFGScale float32
}

// canvasRequest is the Nova Canvas InvokeModel body.
type canvasRequest struct {
	TaskType          string            `json:"taskType"`
	TextToImageParams textToImageParams `json:"textToImageParams"`
	ImageGenConfig    imageGenConfig    `json:"imageGenerationConfig"`
}

type textToImageParams struct {
	Text string `json:"text"`
}

type imageGenConfig struct {
	NumberOfImages int     `json:"numberOfImages"`
	Width          int     `json:"width"`
	Height         int     `json:"height"`
	Quality        string  `json:"quality"`
	CFGScale       float32 `json:"cfgScale"`
	Seed           int     `json:"seed"`
}

// canvasResponse is the Nova Canvas InvokeModel response body.
type canvasResponse struct {
	Images []string `json:"images"`
	Error  string   `json:"error"`
}

// GenerateImage invokes a Nova Canvas model and returns the decoded
// image bytes of the first generated image.
func (inv *Invoker) GenerateImage(ctx context.Context, prompt string) ([]byte, error) {
	opts := inv.imageOpts
	if opts.Count <= 0 {
		opts.Count = 1
	}

	body, err := json.Marshal(canvasRequest{
		TaskType:          "TEXT_IMAGE",
		TextToImageParams: textToImageParams{Text: prompt},
		ImageGenConfig: imageGenConfig{
			NumberOfImages: opts.Count,
			Width:          opts.Width,
			Height:         opts.Height,
			Quality:        opts.Quality,
			CFGScale:       opts.CFGScale,
			Seed:           rand.IntN(858993460), // Service-defined seed ceiling
		},
	})
	if err != nil {
		return nil, fmt.Errorf("marshal canvas request: %w", err)
	}

	out, err := withRetry(ctx, inv.retryConfig, inv.rateLimiter, inv.logger,
		func(ctx context.Context) (*bedrockruntime.InvokeModelOutput, error) {
			return inv.runtime.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
				ModelId:     aws.String(inv.modelID),
				Body:        body,
				ContentType: aws.String("application/json"),
				Accept:      aws.String("application/json"),
			})
		})
	if err != nil {
		return nil, fmt.Errorf("invoke %s: %w", inv.modelID, err)
	}

	var resp canvasResponse
	if err := json.Unmarshal(out.Body, &resp); err != nil {
		return nil, fmt.Errorf("parse canvas response: %w", err)
	}
	if resp.Error != "" {
		return nil, fmt.Errorf("image generation failed: %s", resp.Error)
	}
	if len(resp.Images) == 0 {
		return nil, ErrEmptyResponse
	}

	image, err := base64.StdEncoding.DecodeString(resp.Images[0])
	if err != nil {
		return nil, fmt.Errorf("decode generated image: %w", err)
	}
	return image, nil
}
