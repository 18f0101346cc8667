package gmail_tools

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	mcpgo "github.com/mark3labs/mcp-go/mcp"

	"github.com/teemow/gmailmcp/internal/extract"
	"github.com/teemow/gmailmcp/internal/gmail"
	"github.com/teemow/gmailmcp/internal/mcp"
)

func registerAttachmentTools(registry *mcp.Registry, svc *Service) {
	extractTool := mcpgo.NewTool("extract_attachment_by_filename",
		mcpgo.WithDescription("Extract text from an email attachment by filename"),
		mcpgo.WithString("message_id",
			mcpgo.Required(),
			mcpgo.Description("Gmail message ID"),
		),
		mcpgo.WithString("filename",
			mcpgo.Required(),
			mcpgo.Description("Attachment filename"),
		),
	)
	registry.Add(extractTool, func(ctx context.Context, request mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error) {
		return svc.handleExtractAttachment(ctx, request)
	})
}

// registerDownloadTool is kept out of registerAttachmentTools: downloading
// writes to the server's disk, so it is gated with the other write tools.
func registerDownloadTool(registry *mcp.Registry, svc *Service) {
	downloadTool := mcpgo.NewTool("download_attachment",
		mcpgo.WithDescription("Download an attachment to a local file"),
		mcpgo.WithString("message_id",
			mcpgo.Required(),
			mcpgo.Description("Gmail message ID"),
		),
		mcpgo.WithString("filename",
			mcpgo.Required(),
			mcpgo.Description("Attachment filename"),
		),
		mcpgo.WithString("download_dir",
			mcpgo.Description("Optional download directory (default: current directory)"),
		),
	)
	registry.Add(downloadTool, func(ctx context.Context, request mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error) {
		return svc.handleDownloadAttachment(ctx, request)
	})
}

// fetchAttachment resolves an attachment by filename and downloads its
// decoded content.
func (s *Service) fetchAttachment(ctx context.Context, client *gmail.Client, messageID, filename string) (*gmail.AttachmentInfo, []byte, error) {
	msg, err := client.GetMessage(ctx, messageID)
	if err != nil {
		return nil, nil, err
	}
	info, err := gmail.FindAttachmentByFilename(msg, filename)
	if err != nil {
		return nil, nil, fmt.Errorf("attachment %q not found in message", filename)
	}
	data, err := client.GetAttachment(ctx, messageID, info.AttachmentID)
	if err != nil {
		return nil, nil, err
	}
	return info, data, nil
}

func (s *Service) handleExtractAttachment(ctx context.Context, request mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error) {
	args := request.GetArguments()
	messageID, _ := args["message_id"].(string)
	filename, _ := args["filename"].(string)
	if messageID == "" || filename == "" {
		return mcpgo.NewToolResultError("message_id and filename are required"), nil
	}

	client, err := s.gmailClient(ctx)
	if err != nil {
		return s.fail("extract_attachment_by_filename", err)
	}

	info, data, err := s.fetchAttachment(ctx, client, messageID, filename)
	if err != nil {
		return s.fail("extract_attachment_by_filename", err)
	}

	if !extract.Supported(info.MimeType, filename) {
		return jsonResult(map[string]any{
			"filename":       filename,
			"mime_type":      info.MimeType,
			"size":           len(data),
			"extracted_text": nil,
			"error":          "File type not supported for text extraction",
		})
	}

	text, err := extract.Text(data, info.MimeType, filename, extract.DefaultMaxSize)
	if err != nil {
		return s.fail("extract_attachment_by_filename", fmt.Errorf("extracting text from %q: %w", filename, err))
	}

	return jsonResult(map[string]any{
		"filename":       filename,
		"mime_type":      info.MimeType,
		"size":           len(data),
		"extracted_text": text,
	})
}

func (s *Service) handleDownloadAttachment(ctx context.Context, request mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error) {
	args := request.GetArguments()
	messageID, _ := args["message_id"].(string)
	filename, _ := args["filename"].(string)
	if messageID == "" || filename == "" {
		return mcpgo.NewToolResultError("message_id and filename are required"), nil
	}

	dir, _ := args["download_dir"].(string)
	if dir == "" {
		dir = s.downloadDir
	}
	if dir == "" {
		cwd, err := os.Getwd()
		if err != nil {
			return s.fail("download_attachment", err)
		}
		dir = cwd
	}

	client, err := s.gmailClient(ctx)
	if err != nil {
		return s.fail("download_attachment", err)
	}

	info, data, err := s.fetchAttachment(ctx, client, messageID, filename)
	if err != nil {
		return s.fail("download_attachment", err)
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return s.fail("download_attachment", fmt.Errorf("creating download directory: %w", err))
	}

	// The attachment name comes from the message and cannot be trusted
	// as a path.
	path := filepath.Join(dir, gmail.SanitizeFilename(filename))
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return s.fail("download_attachment", fmt.Errorf("writing attachment file: %w", err))
	}

	return jsonResult(map[string]any{
		"filename":  filename,
		"mime_type": info.MimeType,
		"size":      len(data),
		"path":      path,
	})
}
