package gmail

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	gmail "google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"
)

// fakeAPI serves canned Gmail API responses keyed by URL path.
func fakeAPI(t *testing.T, responses map[string]any) *Client {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, ok := responses[r.URL.Path]
		if !ok {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		require.NoError(t, json.NewEncoder(w).Encode(body))
	}))
	t.Cleanup(srv.Close)

	client, err := NewClient(context.Background(),
		option.WithEndpoint(srv.URL),
		option.WithHTTPClient(srv.Client()))
	require.NoError(t, err)
	return client
}

func TestFindAttachmentByFilename(t *testing.T) {
	msg := &gmail.Message{
		Id: "msg1",
		Payload: &gmail.MessagePart{
			MimeType: "multipart/mixed",
			Parts: []*gmail.MessagePart{
				{MimeType: "text/plain", Body: &gmail.MessagePartBody{Data: "aGk="}},
				{
					MimeType: "multipart/mixed",
					Parts: []*gmail.MessagePart{
						{
							Filename: "report.pdf",
							MimeType: "application/pdf",
							Body:     &gmail.MessagePartBody{AttachmentId: "att42", Size: 1234},
						},
					},
				},
			},
		},
	}

	t.Run("found in nested part", func(t *testing.T) {
		info, err := FindAttachmentByFilename(msg, "report.pdf")
		require.NoError(t, err)
		assert.Equal(t, "att42", info.AttachmentID)
		assert.Equal(t, "application/pdf", info.MimeType)
		assert.Equal(t, int64(1234), info.Size)
		assert.Equal(t, "msg1", info.MessageID)
	})

	t.Run("not found", func(t *testing.T) {
		_, err := FindAttachmentByFilename(msg, "missing.txt")
		assert.ErrorIs(t, err, ErrAttachmentNotFound)
	})
}

func TestGetAttachment(t *testing.T) {
	payload := []byte("attachment bytes")
	client := fakeAPI(t, map[string]any{
		"/gmail/v1/users/me/messages/msg1/attachments/att1": &gmail.MessagePartBody{
			Size: int64(len(payload)),
			Data: base64.URLEncoding.EncodeToString(payload),
		},
		"/gmail/v1/users/me/messages/msg1/attachments/huge": &gmail.MessagePartBody{
			Size: MaxAttachmentSize + 1,
			Data: "aWdub3JlZA==",
		},
	})

	t.Run("decodes payload", func(t *testing.T) {
		data, err := client.GetAttachment(context.Background(), "msg1", "att1")
		require.NoError(t, err)
		assert.Equal(t, payload, data)
	})

	t.Run("size guard runs before decode", func(t *testing.T) {
		_, err := client.GetAttachment(context.Background(), "msg1", "huge")
		assert.ErrorIs(t, err, ErrAttachmentTooLarge)
	})

	t.Run("missing arguments", func(t *testing.T) {
		_, err := client.GetAttachment(context.Background(), "", "att1")
		assert.Error(t, err)
		_, err = client.GetAttachment(context.Background(), "msg1", "")
		assert.Error(t, err)
	})
}

func TestListAttachments(t *testing.T) {
	client := fakeAPI(t, map[string]any{
		"/gmail/v1/users/me/messages/msg1": &gmail.Message{
			Id: "msg1",
			Payload: &gmail.MessagePart{
				MimeType: "multipart/mixed",
				Parts: []*gmail.MessagePart{
					{MimeType: "text/plain", Body: &gmail.MessagePartBody{Data: "aGk="}},
					{Filename: "a.pdf", MimeType: "application/pdf", Body: &gmail.MessagePartBody{AttachmentId: "att-a", Size: 10}},
					{Filename: "b.docx", MimeType: "application/vnd.openxmlformats-officedocument.wordprocessingml.document", Body: &gmail.MessagePartBody{AttachmentId: "att-b", Size: 20}},
				},
			},
		},
	})

	attachments, err := client.ListAttachments(context.Background(), "msg1")
	require.NoError(t, err)
	require.Len(t, attachments, 2)
	assert.Equal(t, "a.pdf", attachments[0].Filename)
	assert.Equal(t, "att-b", attachments[1].AttachmentID)
}

func TestDecodeBase64Variants(t *testing.T) {
	raw := []byte{0xfb, 0xff, 0x01, 0x02}
	encodings := []string{
		base64.URLEncoding.EncodeToString(raw),
		base64.RawURLEncoding.EncodeToString(raw),
		base64.StdEncoding.EncodeToString(raw),
	}
	for _, enc := range encodings {
		data, err := decodeBase64(enc)
		require.NoError(t, err)
		assert.Equal(t, raw, data)
	}
}

func TestSanitizeFilename(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"report.pdf", "report.pdf"},
		{"../../etc/passwd", "____etc_passwd"},
		{"dir/file.txt", "dir_file.txt"},
		{"win\\path.doc", "win_path.doc"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, SanitizeFilename(tt.in))
	}
}
