package gmail

import (
	"encoding/base64"
	"errors"
	"fmt"
	"mime"
	"strings"

	gmail "google.golang.org/api/gmail/v1"
)

// ErrNoBody indicates no decodable text body was found in a message.
var ErrNoBody = errors.New("message has no extractable body")

// HeaderValue returns the value of a named header from a message payload,
// or "" if absent.
func HeaderValue(msg *gmail.Message, name string) string {
	if msg == nil || msg.Payload == nil {
		return ""
	}
	for _, h := range msg.Payload.Headers {
		if strings.EqualFold(h.Name, name) {
			return h.Value
		}
	}
	return ""
}

// ExtractBody pulls the best text body out of a message. Preference
// order: the payload's own body, then a top level text/plain part, then
// text/html, then the same search one level into nested multiparts.
func ExtractBody(msg *gmail.Message) (string, error) {
	if msg == nil || msg.Payload == nil {
		return "", ErrNoBody
	}
	payload := msg.Payload

	if payload.Body != nil && payload.Body.Data != "" {
		return decodeBodyData(payload.Body.Data)
	}

	if body, ok := partBody(payload.Parts, "text/plain"); ok {
		return decodeBodyData(body)
	}
	if body, ok := partBody(payload.Parts, "text/html"); ok {
		return decodeBodyData(body)
	}

	for _, part := range payload.Parts {
		if body, ok := partBody(part.Parts, "text/plain"); ok {
			return decodeBodyData(body)
		}
	}
	for _, part := range payload.Parts {
		if body, ok := partBody(part.Parts, "text/html"); ok {
			return decodeBodyData(body)
		}
	}
	return "", ErrNoBody
}

func partBody(parts []*gmail.MessagePart, mimeType string) (string, bool) {
	for _, part := range parts {
		if part.MimeType == mimeType && part.Body != nil && part.Body.Data != "" {
			return part.Body.Data, true
		}
	}
	return "", false
}

func decodeBodyData(data string) (string, error) {
	decoded, err := decodeBase64(data)
	if err != nil {
		return "", fmt.Errorf("decoding message body: %w", err)
	}
	return string(decoded), nil
}

// encodeRFC2047 encodes a header value for non-ASCII content.
func encodeRFC2047(s string) string {
	for _, r := range s {
		if r > 127 {
			return mime.BEncoding.Encode("UTF-8", s)
		}
	}
	return s
}

// BuildMessage assembles a plain text RFC 2822 message and returns it
// base64url encoded, ready for the API's raw field.
func BuildMessage(to, subject, body string) string {
	var b strings.Builder
	b.WriteString("To: ")
	b.WriteString(to)
	b.WriteString("\r\n")
	b.WriteString("Subject: ")
	b.WriteString(encodeRFC2047(subject))
	b.WriteString("\r\n")
	b.WriteString("Content-Type: text/plain; charset=utf-8\r\n")
	b.WriteString("\r\n")
	b.WriteString(body)
	return base64.URLEncoding.EncodeToString([]byte(b.String()))
}

// BuildForward assembles a forward of an original message: the new body
// first, then a forwarded-message block quoting the original headers and
// body. Returns the base64url encoded raw message.
func BuildForward(to, subject, body string, original *gmail.Message) string {
	var b strings.Builder
	b.WriteString("To: ")
	b.WriteString(to)
	b.WriteString("\r\n")
	b.WriteString("Subject: ")
	b.WriteString(encodeRFC2047(subject))
	b.WriteString("\r\n")
	b.WriteString("Content-Type: text/plain; charset=utf-8\r\n")
	b.WriteString("\r\n")
	b.WriteString(body)
	b.WriteString("\r\n\r\n")
	b.WriteString("---------- Forwarded message ----------\r\n")
	if from := HeaderValue(original, "From"); from != "" {
		b.WriteString("From: " + from + "\r\n")
	}
	if date := HeaderValue(original, "Date"); date != "" {
		b.WriteString("Date: " + date + "\r\n")
	}
	if subj := HeaderValue(original, "Subject"); subj != "" {
		b.WriteString("Subject: " + subj + "\r\n")
	}
	b.WriteString("\r\n")
	if originalBody, err := ExtractBody(original); err == nil {
		b.WriteString(originalBody)
	}
	return base64.URLEncoding.EncodeToString([]byte(b.String()))
}
