package bedrock

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"

	"github.com/quarry-ai/quarry/internal/log"
)

func newCanvasInvoker(t *testing.T, rt Runtime) *Invoker {
	t.Helper()
	inv, err := New(Config{
		Runtime: rt,
		ModelID: "amazon.nova-canvas-v1:0",
		Logger:  log.NewNop(),
		Image: ImageOptions{
			Width: 1024, Height: 1024, Quality: "standard", Count: 1, CFGScale: 8,
		},
		RetryConfig: fastRetry(),
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return inv
}

func TestGenerateImage(t *testing.T) {
	imageBytes := []byte{0x89, 'P', 'N', 'G'}
	respBody, _ := json.Marshal(canvasResponse{
		Images: []string{base64.StdEncoding.EncodeToString(imageBytes)},
	})
	rt := &fakeRuntime{invokeOut: &bedrockruntime.InvokeModelOutput{Body: respBody}}
	inv := newCanvasInvoker(t, rt)

	got, err := inv.GenerateImage(context.Background(), "a lighthouse at dusk")
	if err != nil {
		t.Fatalf("GenerateImage() error = %v", err)
	}
	if string(got) != string(imageBytes) {
		t.Errorf("image bytes = %v, want %v", got, imageBytes)
	}

	// Request body carries the TEXT_IMAGE task and the prompt.
	var req canvasRequest
	if err := json.Unmarshal(rt.invokeIn.Body, &req); err != nil {
		t.Fatalf("request body is not valid JSON: %v", err)
	}
	if req.TaskType != "TEXT_IMAGE" {
		t.Errorf("taskType = %q, want TEXT_IMAGE", req.TaskType)
	}
	if req.TextToImageParams.Text != "a lighthouse at dusk" {
		t.Errorf("prompt = %q", req.TextToImageParams.Text)
	}
	if req.ImageGenConfig.Width != 1024 || req.ImageGenConfig.NumberOfImages != 1 {
		t.Errorf("generation config = %+v", req.ImageGenConfig)
	}
}

func TestGenerateImageServiceError(t *testing.T) {
	respBody, _ := json.Marshal(canvasResponse{Error: "content policy violation"})
	rt := &fakeRuntime{invokeOut: &bedrockruntime.InvokeModelOutput{Body: respBody}}
	inv := newCanvasInvoker(t, rt)

	_, err := inv.GenerateImage(context.Background(), "blocked prompt")
	if err == nil || !strings.Contains(err.Error(), "content policy violation") {
		t.Errorf("GenerateImage() error = %v, want service error surfaced", err)
	}
}

func TestGenerateImageNoImages(t *testing.T) {
	respBody, _ := json.Marshal(canvasResponse{})
	rt := &fakeRuntime{invokeOut: &bedrockruntime.InvokeModelOutput{Body: respBody}}
	inv := newCanvasInvoker(t, rt)

	if _, err := inv.GenerateImage(context.Background(), "x"); !errors.Is(err, ErrEmptyResponse) {
		t.Errorf("GenerateImage() error = %v, want ErrEmptyResponse", err)
	}
}
