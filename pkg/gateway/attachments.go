package gateway

import (
	"context"
	"errors"
	"os"
	"path/filepath"

	"github.com/maestro-dev/maestro/pkg/agent"
	"github.com/maestro-dev/maestro/pkg/protocol"
	"github.com/maestro-dev/maestro/pkg/rag"
)

// attachmentSnippets validates uploads and turns each into a bounded
// prompt snippet: only the first AttachmentSlice code points of the
// extracted text enter the context.
func (g *Gateway) attachmentSnippets(attachments []protocol.Attachment) ([]agent.AttachmentSnippet, error) {
	if len(attachments) == 0 {
		return nil, nil
	}

	snippets := make([]agent.AttachmentSnippet, 0, len(attachments))
	for _, att := range attachments {
		if att.Name == "" {
			return nil, protocol.NewError(protocol.KindInvalidInput, "attachment name cannot be empty", nil)
		}
		if int64(len(att.Data)) > g.cfg.MaxAttachmentSize {
			return nil, protocol.Errorf(protocol.KindInvalidInput,
				"attachment %s exceeds the %d byte limit", att.Name, g.cfg.MaxAttachmentSize)
		}

		text, err := g.extractAttachment(att)
		if err != nil {
			if errors.Is(err, rag.ErrBinaryFile) {
				return nil, protocol.Errorf(protocol.KindInvalidInput,
					"attachment %s is binary and cannot be read as text", att.Name)
			}
			return nil, protocol.Errorf(protocol.KindInvalidInput,
				"failed to read attachment %s: %v", att.Name, err)
		}

		snippets = append(snippets, agent.AttachmentSnippet{
			Name:    att.Name,
			Content: sliceRunes(text, g.cfg.AttachmentSlice),
		})
	}
	return snippets, nil
}

// extractAttachment runs the document extractors over the uploaded
// bytes. The extractors work on paths, so the payload is staged in a
// temp file that is removed before returning.
func (g *Gateway) extractAttachment(att protocol.Attachment) (string, error) {
	dir, err := os.MkdirTemp("", "maestro-attachment-*")
	if err != nil {
		return "", err
	}
	defer os.RemoveAll(dir)

	path := filepath.Join(dir, filepath.Base(att.Name))
	if err := os.WriteFile(path, att.Data, 0600); err != nil {
		return "", err
	}
	return rag.ExtractText(context.Background(), path)
}

// sliceRunes keeps the first n code points of s.
func sliceRunes(s string, n int) string {
	if n <= 0 {
		return s
	}
	count := 0
	for i := range s {
		if count == n {
			return s[:i]
		}
		count++
	}
	return s
}
