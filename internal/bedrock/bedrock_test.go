package bedrock

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	"github.com/aws/smithy-go"

	"github.com/quarry-ai/quarry/internal/log"
)

// fakeRuntime implements Runtime for tests. Each call pops the next
// queued error before returning the configured output.
type fakeRuntime struct {
	converseOut  *bedrockruntime.ConverseOutput
	invokeOut    *bedrockruntime.InvokeModelOutput
	startOut     *bedrockruntime.StartAsyncInvokeOutput
	getAsyncOut  *bedrockruntime.GetAsyncInvokeOutput
	errs         []error
	converseIn   *bedrockruntime.ConverseInput
	invokeIn     *bedrockruntime.InvokeModelInput
	startIn      *bedrockruntime.StartAsyncInvokeInput
	converseCall int
}

func (f *fakeRuntime) nextErr() error {
	if len(f.errs) == 0 {
		return nil
	}
	err := f.errs[0]
	f.errs = f.errs[1:]
	return err
}

func (f *fakeRuntime) Converse(_ context.Context, in *bedrockruntime.ConverseInput,
	_ ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseOutput, error) {
	f.converseCall++
	f.converseIn = in
	if err := f.nextErr(); err != nil {
		return nil, err
	}
	return f.converseOut, nil
}

func (f *fakeRuntime) ConverseStream(_ context.Context, _ *bedrockruntime.ConverseStreamInput,
	_ ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseStreamOutput, error) {
	if err := f.nextErr(); err != nil {
		return nil, err
	}
	return &bedrockruntime.ConverseStreamOutput{}, nil
}

func (f *fakeRuntime) InvokeModel(_ context.Context, in *bedrockruntime.InvokeModelInput,
	_ ...func(*bedrockruntime.Options)) (*bedrockruntime.InvokeModelOutput, error) {
	f.invokeIn = in
	if err := f.nextErr(); err != nil {
		return nil, err
	}
	return f.invokeOut, nil
}

func (f *fakeRuntime) StartAsyncInvoke(_ context.Context, in *bedrockruntime.StartAsyncInvokeInput,
	_ ...func(*bedrockruntime.Options)) (*bedrockruntime.StartAsyncInvokeOutput, error) {
	f.startIn = in
	if err := f.nextErr(); err != nil {
		return nil, err
	}
	return f.startOut, nil
}

func (f *fakeRuntime) GetAsyncInvoke(_ context.Context, _ *bedrockruntime.GetAsyncInvokeInput,
	_ ...func(*bedrockruntime.Options)) (*bedrockruntime.GetAsyncInvokeOutput, error) {
	if err := f.nextErr(); err != nil {
		return nil, err
	}
	return f.getAsyncOut, nil
}

func converseTextOutput(text string) *bedrockruntime.ConverseOutput {
	return &bedrockruntime.ConverseOutput{
		Output: &types.ConverseOutputMemberMessage{
			Value: types.Message{
				Role: types.ConversationRoleAssistant,
				Content: []types.ContentBlock{
					&types.ContentBlockMemberText{Value: text},
				},
			},
		},
	}
}

func newTestInvoker(t *testing.T, rt Runtime) *Invoker {
	t.Helper()
	inv, err := New(Config{
		Runtime:     rt,
		ModelID:     "eu.amazon.nova-lite-v1:0",
		Logger:      log.NewNop(),
		Temperature: 0,
		TopK:        100,
		RetryConfig: fastRetry(),
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return inv
}

func TestNewValidation(t *testing.T) {
	if _, err := New(Config{ModelID: "m", Logger: log.NewNop()}); err == nil {
		t.Error("New() without runtime should fail")
	}
	if _, err := New(Config{Runtime: &fakeRuntime{}, Logger: log.NewNop()}); err == nil {
		t.Error("New() without model ID should fail")
	}
	if _, err := New(Config{Runtime: &fakeRuntime{}, ModelID: "m"}); err == nil {
		t.Error("New() without logger should fail")
	}
}

func TestConverse(t *testing.T) {
	rt := &fakeRuntime{converseOut: converseTextOutput("hello there")}
	inv := newTestInvoker(t, rt)

	got, err := inv.Converse(context.Background(), []types.Message{UserMessage("hi", "", nil)})
	if err != nil {
		t.Fatalf("Converse() error = %v", err)
	}
	if got != "hello there" {
		t.Errorf("Converse() = %q, want %q", got, "hello there")
	}

	if aws.ToString(rt.converseIn.ModelId) != "eu.amazon.nova-lite-v1:0" {
		t.Errorf("ModelId = %v", rt.converseIn.ModelId)
	}
	if rt.converseIn.InferenceConfig == nil || rt.converseIn.InferenceConfig.Temperature == nil {
		t.Fatal("inference config temperature not set")
	}
	if rt.converseIn.AdditionalModelRequestFields == nil {
		t.Error("additional model request fields (top_k) not set")
	}
}

func TestConverseRetriesThrottling(t *testing.T) {
	rt := &fakeRuntime{
		converseOut: converseTextOutput("eventually"),
		errs:        []error{&smithy.GenericAPIError{Code: "ThrottlingException"}},
	}
	inv := newTestInvoker(t, rt)

	got, err := inv.Converse(context.Background(), nil)
	if err != nil {
		t.Fatalf("Converse() error = %v", err)
	}
	if got != "eventually" {
		t.Errorf("Converse() = %q", got)
	}
	if rt.converseCall != 2 {
		t.Errorf("converse calls = %d, want 2", rt.converseCall)
	}
}

func TestConverseEmptyResponse(t *testing.T) {
	rt := &fakeRuntime{converseOut: converseTextOutput("")}
	inv := newTestInvoker(t, rt)

	if _, err := inv.Converse(context.Background(), nil); !errors.Is(err, ErrEmptyResponse) {
		t.Errorf("Converse() error = %v, want ErrEmptyResponse", err)
	}
}

// fakeEventStream implements eventStream over a prepared event slice.
type fakeEventStream struct {
	events []types.ConverseStreamOutput
	err    error
	closed bool
}

func (f *fakeEventStream) Events() <-chan types.ConverseStreamOutput {
	ch := make(chan types.ConverseStreamOutput, len(f.events))
	for _, e := range f.events {
		ch <- e
	}
	close(ch)
	return ch
}

func (f *fakeEventStream) Close() error { f.closed = true; return nil }
func (f *fakeEventStream) Err() error   { return f.err }

func textDelta(text string) types.ConverseStreamOutput {
	return &types.ConverseStreamOutputMemberContentBlockDelta{
		Value: types.ContentBlockDeltaEvent{
			Delta: &types.ContentBlockDeltaMemberText{Value: text},
		},
	}
}

func TestConsumeStream(t *testing.T) {
	inv := newTestInvoker(t, &fakeRuntime{})
	stream := &fakeEventStream{events: []types.ConverseStreamOutput{
		textDelta("Hel"),
		&types.ConverseStreamOutputMemberMessageStop{}, // non-delta events are skipped
		textDelta("lo"),
	}}

	var chunks []string
	got, err := inv.consumeStream(stream, func(text string) error {
		chunks = append(chunks, text)
		return nil
	})
	if err != nil {
		t.Fatalf("consumeStream() error = %v", err)
	}
	if got != "Hello" {
		t.Errorf("accumulated = %q, want Hello", got)
	}
	if len(chunks) != 2 || chunks[0] != "Hel" || chunks[1] != "lo" {
		t.Errorf("chunks = %v", chunks)
	}
	if !stream.closed {
		t.Error("stream was not closed")
	}
}

func TestConsumeStreamCallbackAbort(t *testing.T) {
	inv := newTestInvoker(t, &fakeRuntime{})
	stream := &fakeEventStream{events: []types.ConverseStreamOutput{textDelta("x")}}

	abort := errors.New("user canceled")
	_, err := inv.consumeStream(stream, func(string) error { return abort })
	if !errors.Is(err, abort) {
		t.Errorf("consumeStream() error = %v, want callback abort", err)
	}
}

func TestConsumeStreamPropagatesStreamError(t *testing.T) {
	inv := newTestInvoker(t, &fakeRuntime{})
	streamErr := errors.New("event stream broken")
	stream := &fakeEventStream{
		events: []types.ConverseStreamOutput{textDelta("partial")},
		err:    streamErr,
	}

	got, err := inv.consumeStream(stream, nil)
	if !errors.Is(err, streamErr) {
		t.Errorf("consumeStream() error = %v, want stream error", err)
	}
	if got != "partial" {
		t.Errorf("partial text = %q, want %q", got, "partial")
	}
}

func TestConsumeStreamEmpty(t *testing.T) {
	inv := newTestInvoker(t, &fakeRuntime{})
	stream := &fakeEventStream{}

	if _, err := inv.consumeStream(stream, nil); !errors.Is(err, ErrEmptyResponse) {
		t.Errorf("consumeStream() error = %v, want ErrEmptyResponse", err)
	}
}
