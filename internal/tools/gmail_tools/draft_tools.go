package gmail_tools

import (
	"context"

	mcpgo "github.com/mark3labs/mcp-go/mcp"

	"github.com/teemow/gmailmcp/internal/gmail"
	"github.com/teemow/gmailmcp/internal/mcp"
)

func registerDraftTools(registry *mcp.Registry, svc *Service) {
	createTool := mcpgo.NewTool("create_draft",
		mcpgo.WithDescription("Create a Gmail draft"),
		mcpgo.WithString("to",
			mcpgo.Required(),
			mcpgo.Description("Recipient email address"),
		),
		mcpgo.WithString("subject",
			mcpgo.Required(),
			mcpgo.Description("Email subject"),
		),
		mcpgo.WithString("body",
			mcpgo.Required(),
			mcpgo.Description("Email body text"),
		),
		mcpgo.WithString("thread_id",
			mcpgo.Description("Optional thread ID to reply to"),
		),
	)
	registry.Add(createTool, func(ctx context.Context, request mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error) {
		return svc.handleCreateDraft(ctx, request)
	})

	forwardTool := mcpgo.NewTool("forward_email",
		mcpgo.WithDescription("Forward an email"),
		mcpgo.WithString("message_id",
			mcpgo.Required(),
			mcpgo.Description("Gmail message ID to forward"),
		),
		mcpgo.WithString("to",
			mcpgo.Required(),
			mcpgo.Description("Recipient email address"),
		),
		mcpgo.WithString("subject",
			mcpgo.Required(),
			mcpgo.Description("Forward subject"),
		),
		mcpgo.WithString("body",
			mcpgo.Required(),
			mcpgo.Description("Forward body text"),
		),
	)
	registry.Add(forwardTool, func(ctx context.Context, request mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error) {
		return svc.handleForwardEmail(ctx, request)
	})

	sendTool := mcpgo.NewTool("send_draft",
		mcpgo.WithDescription("Send a draft email"),
		mcpgo.WithString("draft_id",
			mcpgo.Required(),
			mcpgo.Description("Gmail draft ID to send"),
		),
	)
	registry.Add(sendTool, func(ctx context.Context, request mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error) {
		return svc.handleSendDraft(ctx, request)
	})
}

func (s *Service) handleCreateDraft(ctx context.Context, request mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error) {
	args := request.GetArguments()
	to, _ := args["to"].(string)
	subject, _ := args["subject"].(string)
	body, _ := args["body"].(string)
	if to == "" || subject == "" {
		return mcpgo.NewToolResultError("to and subject are required"), nil
	}
	threadID, _ := args["thread_id"].(string)

	client, err := s.gmailClient(ctx)
	if err != nil {
		return s.fail("create_draft", err)
	}

	raw := gmail.BuildMessage(to, subject, body)
	draft, err := client.CreateDraft(ctx, raw, threadID)
	if err != nil {
		return s.fail("create_draft", err)
	}
	return jsonResult(draft)
}

func (s *Service) handleForwardEmail(ctx context.Context, request mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error) {
	args := request.GetArguments()
	messageID, _ := args["message_id"].(string)
	to, _ := args["to"].(string)
	subject, _ := args["subject"].(string)
	body, _ := args["body"].(string)
	if messageID == "" || to == "" {
		return mcpgo.NewToolResultError("message_id and to are required"), nil
	}

	client, err := s.gmailClient(ctx)
	if err != nil {
		return s.fail("forward_email", err)
	}

	original, err := client.GetMessage(ctx, messageID)
	if err != nil {
		return s.fail("forward_email", err)
	}

	raw := gmail.BuildForward(to, subject, body, original)
	sent, err := client.SendRaw(ctx, raw)
	if err != nil {
		return s.fail("forward_email", err)
	}
	return jsonResult(sent)
}

func (s *Service) handleSendDraft(ctx context.Context, request mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error) {
	args := request.GetArguments()
	draftID, _ := args["draft_id"].(string)
	if draftID == "" {
		return mcpgo.NewToolResultError("draft_id is required"), nil
	}

	client, err := s.gmailClient(ctx)
	if err != nil {
		return s.fail("send_draft", err)
	}

	sent, err := client.SendDraft(ctx, draftID)
	if err != nil {
		return s.fail("send_draft", err)
	}
	return jsonResult(sent)
}
