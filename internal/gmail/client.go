package gmail

import (
	"context"
	"fmt"

	gmail "google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"
)

// userID addresses the authenticated mailbox in every API call.
const userID = "me"

// Client wraps the Gmail Users service for the authenticated mailbox.
type Client struct {
	svc *gmail.UsersService
}

// NewClient builds a Gmail client. Pass option.WithTokenSource for
// production use; tests substitute option.WithEndpoint and
// option.WithHTTPClient to point at a fake API.
func NewClient(ctx context.Context, opts ...option.ClientOption) (*Client, error) {
	svc, err := gmail.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating Gmail service: %w", err)
	}
	return &Client{svc: svc.Users}, nil
}

// SearchThreads lists threads matching the query, paginating until
// maxResults threads are collected or the results run out.
func (c *Client) SearchThreads(ctx context.Context, query string, maxResults int64) ([]*gmail.Thread, error) {
	if maxResults <= 0 {
		maxResults = 10
	}

	var threads []*gmail.Thread
	pageToken := ""
	for {
		remaining := maxResults - int64(len(threads))
		if remaining <= 0 {
			break
		}
		// The API caps page sizes at 100.
		pageSize := remaining
		if pageSize > 100 {
			pageSize = 100
		}

		req := c.svc.Threads.List(userID).Q(query).MaxResults(pageSize).Context(ctx)
		if pageToken != "" {
			req = req.PageToken(pageToken)
		}
		res, err := req.Do()
		if err != nil {
			return nil, fmt.Errorf("searching threads: %w", err)
		}

		threads = append(threads, res.Threads...)
		if res.NextPageToken == "" || int64(len(threads)) >= maxResults {
			break
		}
		pageToken = res.NextPageToken
	}

	if int64(len(threads)) > maxResults {
		threads = threads[:maxResults]
	}
	return threads, nil
}

// GetThread retrieves a full thread with all its messages.
func (c *Client) GetThread(ctx context.Context, threadID string) (*gmail.Thread, error) {
	thread, err := c.svc.Threads.Get(userID, threadID).Format("full").Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("getting thread %s: %w", threadID, err)
	}
	return thread, nil
}

// GetMessage retrieves a full message.
func (c *Client) GetMessage(ctx context.Context, messageID string) (*gmail.Message, error) {
	msg, err := c.svc.Messages.Get(userID, messageID).Format("full").Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("getting message %s: %w", messageID, err)
	}
	return msg, nil
}

// CreateDraft creates a draft from a raw RFC 2822 message. An optional
// threadID attaches the draft to an existing conversation.
func (c *Client) CreateDraft(ctx context.Context, raw, threadID string) (*gmail.Draft, error) {
	msg := &gmail.Message{Raw: raw}
	if threadID != "" {
		msg.ThreadId = threadID
	}
	draft, err := c.svc.Drafts.Create(userID, &gmail.Draft{Message: msg}).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("creating draft: %w", err)
	}
	return draft, nil
}

// SendDraft sends an existing draft by ID.
func (c *Client) SendDraft(ctx context.Context, draftID string) (*gmail.Message, error) {
	sent, err := c.svc.Drafts.Send(userID, &gmail.Draft{Id: draftID}).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("sending draft %s: %w", draftID, err)
	}
	return sent, nil
}

// SendRaw sends a raw RFC 2822 message.
func (c *Client) SendRaw(ctx context.Context, raw string) (*gmail.Message, error) {
	sent, err := c.svc.Messages.Send(userID, &gmail.Message{Raw: raw}).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("sending message: %w", err)
	}
	return sent, nil
}
