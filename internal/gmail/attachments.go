package gmail

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	gmail "google.golang.org/api/gmail/v1"
)

// MaxAttachmentSize bounds attachment downloads (25MB). The declared size
// is checked before the payload is decoded.
const MaxAttachmentSize = 25 * 1024 * 1024

// ErrAttachmentNotFound indicates no part of the message carries the
// requested filename.
var ErrAttachmentNotFound = errors.New("attachment not found in message")

// ErrAttachmentTooLarge indicates the declared attachment size exceeds
// MaxAttachmentSize.
var ErrAttachmentTooLarge = errors.New("attachment exceeds size limit")

// AttachmentInfo describes an attachment part of a message.
type AttachmentInfo struct {
	MessageID    string
	AttachmentID string
	Filename     string
	MimeType     string
	Size         int64
}

// ListAttachments returns metadata for every attachment part of a message.
func (c *Client) ListAttachments(ctx context.Context, messageID string) ([]*AttachmentInfo, error) {
	msg, err := c.GetMessage(ctx, messageID)
	if err != nil {
		return nil, err
	}

	var attachments []*AttachmentInfo
	walkParts(msg.Payload, func(part *gmail.MessagePart) {
		if part.Filename != "" && part.Body != nil && part.Body.AttachmentId != "" {
			attachments = append(attachments, &AttachmentInfo{
				MessageID:    messageID,
				AttachmentID: part.Body.AttachmentId,
				Filename:     part.Filename,
				MimeType:     part.MimeType,
				Size:         part.Body.Size,
			})
		}
	})
	return attachments, nil
}

// FindAttachmentByFilename locates an attachment part by exact filename,
// searching nested multipart structures depth first.
func FindAttachmentByFilename(msg *gmail.Message, filename string) (*AttachmentInfo, error) {
	var found *AttachmentInfo
	walkParts(msg.Payload, func(part *gmail.MessagePart) {
		if found != nil {
			return
		}
		if part.Filename == filename && part.Body != nil && part.Body.AttachmentId != "" {
			mimeType := part.MimeType
			if mimeType == "" {
				mimeType = "application/octet-stream"
			}
			found = &AttachmentInfo{
				MessageID:    msg.Id,
				AttachmentID: part.Body.AttachmentId,
				Filename:     part.Filename,
				MimeType:     mimeType,
				Size:         part.Body.Size,
			}
		}
	})
	if found == nil {
		return nil, fmt.Errorf("%w: %q", ErrAttachmentNotFound, filename)
	}
	return found, nil
}

// GetAttachment downloads and decodes an attachment body. The size
// declared by the API is checked against MaxAttachmentSize before the
// base64 payload is touched.
func (c *Client) GetAttachment(ctx context.Context, messageID, attachmentID string) ([]byte, error) {
	if messageID == "" {
		return nil, fmt.Errorf("messageID is required")
	}
	if attachmentID == "" {
		return nil, fmt.Errorf("attachmentID is required")
	}

	attachment, err := c.svc.Messages.Attachments.Get(userID, messageID, attachmentID).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("getting attachment %s: %w", attachmentID, err)
	}

	if attachment.Size > MaxAttachmentSize {
		return nil, fmt.Errorf("%w: %d bytes, limit %d", ErrAttachmentTooLarge, attachment.Size, MaxAttachmentSize)
	}

	data, err := decodeBase64(attachment.Data)
	if err != nil {
		return nil, fmt.Errorf("decoding attachment data: %w", err)
	}
	return data, nil
}

// decodeBase64 handles the encodings seen in Gmail API payloads: RFC 4648
// base64url with or without padding, with a standard base64 fallback.
func decodeBase64(s string) ([]byte, error) {
	if data, err := base64.URLEncoding.DecodeString(s); err == nil {
		return data, nil
	}
	if data, err := base64.RawURLEncoding.DecodeString(s); err == nil {
		return data, nil
	}
	if data, err := base64.StdEncoding.DecodeString(s); err == nil {
		return data, nil
	}
	return base64.RawStdEncoding.DecodeString(s)
}

// walkParts visits every part of a message payload depth first.
func walkParts(part *gmail.MessagePart, fn func(*gmail.MessagePart)) {
	if part == nil {
		return
	}
	fn(part)
	for _, subpart := range part.Parts {
		walkParts(subpart, fn)
	}
}

// SanitizeFilename strips path separators and traversal sequences so an
// attachment name from a remote message cannot escape the download
// directory.
func SanitizeFilename(filename string) string {
	filename = strings.ReplaceAll(filename, "/", "_")
	filename = strings.ReplaceAll(filename, "\\", "_")
	filename = strings.ReplaceAll(filename, "..", "_")
	return filename
}
