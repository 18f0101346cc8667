package gmail_tools

import (
	"context"
	"fmt"
	"log/slog"

	mcpgo "github.com/mark3labs/mcp-go/mcp"
	gmail_v1 "google.golang.org/api/gmail/v1"

	"github.com/teemow/gmailmcp/internal/gmail"
	"github.com/teemow/gmailmcp/internal/logging"
	"github.com/teemow/gmailmcp/internal/mcp"
	"github.com/teemow/gmailmcp/internal/tools/batch"
)

func registerThreadTools(registry *mcp.Registry, svc *Service) {
	searchTool := mcpgo.NewTool("search_threads",
		mcpgo.WithDescription("Search Gmail threads using a query string"),
		mcpgo.WithString("query",
			mcpgo.Required(),
			mcpgo.Description("Gmail search query (e.g., 'from:example@gmail.com', 'subject:meeting')"),
		),
		mcpgo.WithNumber("max_results",
			mcpgo.Description("Maximum number of results to return (default: 10)"),
		),
	)
	registry.Add(searchTool, func(ctx context.Context, request mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error) {
		return svc.handleSearchThreads(ctx, request)
	})

	fetchTool := mcpgo.NewTool("fetch_email_bodies",
		mcpgo.WithDescription("Fetch email bodies for thread IDs"),
		mcpgo.WithArray("thread_ids",
			mcpgo.Required(),
			mcpgo.Description("List of thread IDs to fetch"),
		),
	)
	registry.Add(fetchTool, func(ctx context.Context, request mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error) {
		return svc.handleFetchEmailBodies(ctx, request)
	})
}

type threadSummary struct {
	ID      string `json:"id"`
	Snippet string `json:"snippet,omitempty"`
}

func (s *Service) handleSearchThreads(ctx context.Context, request mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error) {
	args := request.GetArguments()

	query, ok := args["query"].(string)
	if !ok || query == "" {
		return mcpgo.NewToolResultError("query is required"), nil
	}

	maxResults := int64(10)
	if v, ok := args["max_results"].(float64); ok {
		maxResults = int64(v)
	}

	client, err := s.gmailClient(ctx)
	if err != nil {
		return s.fail("search_threads", err)
	}

	threads, err := client.SearchThreads(ctx, query, maxResults)
	if err != nil {
		return s.fail("search_threads", err)
	}

	summaries := make([]threadSummary, 0, len(threads))
	for _, t := range threads {
		summaries = append(summaries, threadSummary{ID: t.Id, Snippet: t.Snippet})
	}
	return jsonResult(map[string]any{
		"threads":            summaries,
		"resultSizeEstimate": len(summaries),
	})
}

type messageBody struct {
	MessageID string `json:"message_id"`
	From      string `json:"from"`
	Subject   string `json:"subject"`
	Date      string `json:"date"`
	Body      string `json:"body"`
}

type threadBodies struct {
	ThreadID string        `json:"thread_id"`
	Messages []messageBody `json:"messages,omitempty"`
	Error    string        `json:"error,omitempty"`
}

func (s *Service) handleFetchEmailBodies(ctx context.Context, request mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error) {
	args := request.GetArguments()

	threadIDs, err := batch.ParseStringOrArray(args["thread_ids"], "thread_ids")
	if err != nil {
		return mcpgo.NewToolResultError(err.Error()), nil
	}

	client, err := s.gmailClient(ctx)
	if err != nil {
		return s.fail("fetch_email_bodies", err)
	}

	outcomes := batch.Run(threadIDs, func(threadID string) ([]messageBody, error) {
		thread, err := client.GetThread(ctx, threadID)
		if err != nil {
			return nil, fmt.Errorf("fetching thread: %w", err)
		}
		return messageBodies(thread), nil
	})

	results := make([]threadBodies, 0, len(outcomes))
	for _, o := range outcomes {
		entry := threadBodies{ThreadID: o.ID, Messages: o.Value}
		if o.Err != nil {
			entry.Error = o.Err.Error()
		}
		results = append(results, entry)
	}
	if failed := batch.Failed(outcomes); failed > 0 {
		s.logger.Warn("some threads could not be fetched",
			logging.Tool("fetch_email_bodies"),
			slog.Int("failed", failed),
			slog.Int("requested", len(threadIDs)))
	}
	return jsonResult(map[string]any{"threads": results})
}

// messageBodies flattens a full thread into per-message header and body
// summaries. Messages without an extractable body get an empty string
// rather than failing the whole thread.
func messageBodies(thread *gmail_v1.Thread) []messageBody {
	bodies := make([]messageBody, 0, len(thread.Messages))
	for _, msg := range thread.Messages {
		body, _ := gmail.ExtractBody(msg)
		bodies = append(bodies, messageBody{
			MessageID: msg.Id,
			From:      gmail.HeaderValue(msg, "From"),
			Subject:   gmail.HeaderValue(msg, "Subject"),
			Date:      gmail.HeaderValue(msg, "Date"),
			Body:      body,
		})
	}
	return bodies
}
