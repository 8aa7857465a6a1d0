package bedrock

import (
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
)

func TestUserMessagePlain(t *testing.T) {
	msg := UserMessage("what is bedrock?", "", nil)

	if msg.Role != types.ConversationRoleUser {
		t.Errorf("Role = %v, want user", msg.Role)
	}
	if len(msg.Content) != 1 {
		t.Fatalf("len(Content) = %d, want 1", len(msg.Content))
	}
	text := MessageText(msg)
	if text != "question: what is bedrock?" {
		t.Errorf("text = %q", text)
	}
}

func TestUserMessageWithContext(t *testing.T) {
	msg := UserMessage("summarize", "Document 1: facts here", nil)

	text := MessageText(msg)
	if !strings.Contains(text, "answer the following question based on the provided context") {
		t.Errorf("context preamble missing: %q", text)
	}
	if !strings.Contains(text, "Document 1: facts here") {
		t.Errorf("context body missing: %q", text)
	}
	if !strings.HasSuffix(text, "question: summarize") {
		t.Errorf("question not last: %q", text)
	}
}

func TestUserMessageAttachments(t *testing.T) {
	attachments := []Attachment{
		{Name: "diagram.PNG", Data: []byte{1, 2}},
		{Name: "report.pdf", Data: []byte{3, 4}},
		{Name: "binary.exe", Data: []byte{5, 6}}, // unsupported, skipped
	}

	msg := UserMessage("describe these", "", attachments)

	var images, docs int
	for _, block := range msg.Content {
		switch b := block.(type) {
		case *types.ContentBlockMemberImage:
			images++
			if b.Value.Format != types.ImageFormatPng {
				t.Errorf("image format = %v, want png", b.Value.Format)
			}
		case *types.ContentBlockMemberDocument:
			docs++
			if b.Value.Format != types.DocumentFormatPdf {
				t.Errorf("document format = %v, want pdf", b.Value.Format)
			}
			if b.Value.Name == nil || *b.Value.Name == "" {
				t.Error("document name must be set")
			}
		}
	}
	if images != 1 || docs != 1 {
		t.Errorf("images = %d, docs = %d, want 1 and 1", images, docs)
	}
}

func TestAssistantMessageRoundTrip(t *testing.T) {
	msg := AssistantMessage("the answer")

	if msg.Role != types.ConversationRoleAssistant {
		t.Errorf("Role = %v, want assistant", msg.Role)
	}
	if got := MessageText(msg); got != "the answer" {
		t.Errorf("MessageText = %q, want %q", got, "the answer")
	}
}

func TestExtension(t *testing.T) {
	tests := []struct{ name, want string }{
		{"a/b/photo.JPEG", "jpeg"},
		{"notes.md", "md"},
		{"noext", ""},
		{"dir.with.dots/file.txt", "txt"},
	}
	for _, tt := range tests {
		if got := extension(tt.name); got != tt.want {
			t.Errorf("extension(%q) = %q, want %q", tt.name, got, tt.want)
		}
	}
}
