package bedrock

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	"github.com/google/uuid"
)

// contextPreamble frames retrieved documents for grounded answers.
const contextPreamble = "You are a helpful assistant, answer the following question based on the provided context: \n\n %s \n\n "

// Attachment is a user-supplied file sent alongside a prompt.
type Attachment struct {
	Name string
	Data []byte
}

// imageFormats maps file extensions to Converse image block formats.
var imageFormats = map[string]types.ImageFormat{
	"png":  types.ImageFormatPng,
	"jpeg": types.ImageFormatJpeg,
	"jpg":  types.ImageFormatJpeg,
	"gif":  types.ImageFormatGif,
	"webp": types.ImageFormatWebp,
}

// documentFormats maps file extensions to Converse document block formats.
var documentFormats = map[string]types.DocumentFormat{
	"pdf":  types.DocumentFormatPdf,
	"csv":  types.DocumentFormatCsv,
	"doc":  types.DocumentFormatDoc,
	"docx": types.DocumentFormatDocx,
	"xls":  types.DocumentFormatXls,
	"xlsx": types.DocumentFormatXlsx,
	"html": types.DocumentFormatHtml,
	"txt":  types.DocumentFormatTxt,
	"md":   types.DocumentFormatMd,
}

// extension returns the lowercased file extension without the dot.
func extension(name string) string {
	return strings.ToLower(strings.TrimPrefix(filepath.Ext(name), "."))
}

// UserMessage builds a user turn. When context is non-empty it is
// prefixed with the grounding preamble; attachments are classified by
// extension into image or document blocks. Unsupported extensions are
// silently skipped, matching the lenient upload behavior of the UI.
func UserMessage(prompt, context string, attachments []Attachment) types.Message {
	text := "question: " + prompt
	if context != "" {
		text = fmt.Sprintf(contextPreamble, context) + text
	}

	content := []types.ContentBlock{
		&types.ContentBlockMemberText{Value: text},
	}

	for _, att := range attachments {
		ext := extension(att.Name)
		if format, ok := imageFormats[ext]; ok {
			content = append(content, &types.ContentBlockMemberImage{
				Value: types.ImageBlock{
					Format: format,
					Source: &types.ImageSourceMemberBytes{Value: att.Data},
				},
			})
			continue
		}
		if format, ok := documentFormats[ext]; ok {
			content = append(content, &types.ContentBlockMemberDocument{
				Value: types.DocumentBlock{
					Format: format,
					// Document names must be unique within a conversation;
					// the original filename may repeat across turns.
					Name:   aws.String("doc-" + uuid.NewString()),
					Source: &types.DocumentSourceMemberBytes{Value: att.Data},
				},
			})
		}
	}

	return types.Message{
		Role:    types.ConversationRoleUser,
		Content: content,
	}
}

// AssistantMessage builds an assistant turn from response text.
func AssistantMessage(text string) types.Message {
	return types.Message{
		Role: types.ConversationRoleAssistant,
		Content: []types.ContentBlock{
			&types.ContentBlockMemberText{Value: text},
		},
	}
}

// MessageText extracts the concatenated text blocks of a message.
func MessageText(msg types.Message) string {
	var b strings.Builder
	for _, block := range msg.Content {
		if text, ok := block.(*types.ContentBlockMemberText); ok {
			b.WriteString(text.Value)
		}
	}
	return b.String()
}
