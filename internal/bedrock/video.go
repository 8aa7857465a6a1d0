package bedrock

import (
	"context"
	"encoding/base64"
	"fmt"
	"math/rand/v2"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/document"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// S3Lister is the subset of the S3 client used to confirm video output.
type S3Lister interface {
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input,
		optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

// VideoOptions configures Nova Reel video generation.
type VideoOptions struct {
	DurationSeconds int
	FPS             int
	Dimension       string
}

// VideoJob identifies a started async video generation.
type VideoJob struct {
	InvocationARN string `json:"invocation_arn"`
	Bucket        string `json:"bucket"`
	Prefix        string `json:"prefix"`
}

// VideoStatus is a snapshot of an async invocation.
type VideoStatus struct {
	Status    string
	Completed bool
	Failed    bool
	Error     string
}

// StartVideo begins async video generation writing to s3URI
// (s3://bucket[/prefix]). An optional reference image conditions the
// first frame. The returned job carries the bucket and the
// invocation-scoped prefix under which the service writes output.
func (inv *Invoker) StartVideo(ctx context.Context, prompt, s3URI string, image *Attachment) (VideoJob, error) {
	bucket, ok := strings.CutPrefix(s3URI, "s3://")
	if !ok || bucket == "" {
		return VideoJob{}, fmt.Errorf("invalid S3 output location %q", s3URI)
	}
	bucket, _, _ = strings.Cut(bucket, "/")

	textToVideo := map[string]any{"text": prompt}
	if image != nil {
		format := extension(image.Name)
		textToVideo["images"] = []map[string]any{{
			"format": format,
			"source": map[string]any{
				"bytes": base64.StdEncoding.EncodeToString(image.Data),
			},
		}}
	}

	modelInput := map[string]any{
		"taskType":          "TEXT_VIDEO",
		"textToVideoParams": textToVideo,
		"videoGenerationConfig": map[string]any{
			"durationSeconds": inv.videoOpts.DurationSeconds,
			"fps":             inv.videoOpts.FPS,
			"dimension":       inv.videoOpts.Dimension,
			"seed":            rand.IntN(2147483646),
		},
	}

	out, err := withRetry(ctx, inv.retryConfig, inv.rateLimiter, inv.logger,
		func(ctx context.Context) (*bedrockruntime.StartAsyncInvokeOutput, error) {
			return inv.runtime.StartAsyncInvoke(ctx, &bedrockruntime.StartAsyncInvokeInput{
				ModelId:    aws.String(inv.modelID),
				ModelInput: document.NewLazyDocument(modelInput),
				OutputDataConfig: &types.AsyncInvokeOutputDataConfigMemberS3OutputDataConfig{
					Value: types.AsyncInvokeS3OutputDataConfig{
						S3Uri: aws.String(s3URI),
					},
				},
			})
		})
	if err != nil {
		return VideoJob{}, fmt.Errorf("start async invoke %s: %w", inv.modelID, err)
	}

	arn := aws.ToString(out.InvocationArn)
	return VideoJob{
		InvocationARN: arn,
		Bucket:        bucket,
		Prefix:        invocationID(arn),
	}, nil
}

// VideoJobStatus fetches the current status of an async invocation.
// API errors are folded into a failed status rather than returned,
// so pollers treat them the same as a Failed job.
func (inv *Invoker) VideoJobStatus(ctx context.Context, invocationARN string) VideoStatus {
	out, err := inv.runtime.GetAsyncInvoke(ctx, &bedrockruntime.GetAsyncInvokeInput{
		InvocationArn: aws.String(invocationARN),
	})
	if err != nil {
		return VideoStatus{Status: "Error", Failed: true, Error: err.Error()}
	}
	return VideoStatus{
		Status:    string(out.Status),
		Completed: out.Status == types.AsyncInvokeStatusCompleted,
		Failed:    out.Status == types.AsyncInvokeStatusFailed,
		Error:     aws.ToString(out.FailureMessage),
	}
}

// FindVideoOutput looks for the generated .mp4 under the job's prefix.
// Completion of the invocation precedes the S3 upload, so a completed
// job with no object yet is not an error; callers re-poll.
func FindVideoOutput(ctx context.Context, client S3Lister, job VideoJob) (string, bool, error) {
	out, err := client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
		Bucket: aws.String(job.Bucket),
		Prefix: aws.String(job.Prefix),
	})
	if err != nil {
		return "", false, fmt.Errorf("list video output objects: %w", err)
	}
	for _, obj := range out.Contents {
		key := aws.ToString(obj.Key)
		if strings.HasSuffix(key, ".mp4") {
			return key, true, nil
		}
	}
	return "", false, nil
}

// invocationID returns the last ARN path segment, which is also the S3
// prefix the service writes output under.
func invocationID(arn string) string {
	if i := strings.LastIndex(arn, "/"); i >= 0 {
		return arn[i+1:]
	}
	return arn
}
