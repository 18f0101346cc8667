// Package extract converts document attachments to plain text. Parsing is
// purely structural; embedded scripts, macros, and external references are
// never evaluated.
package extract

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"mime"
	"strings"

	"github.com/ledongthuc/pdf"
	"github.com/nguyenthenguyen/docx"
	"golang.org/x/net/html/charset"
)

// DefaultMaxSize is the upper bound on attachment payloads accepted for
// extraction.
const DefaultMaxSize = 25 << 20

// maxPDFPages caps how many pages are processed per document.
const maxPDFPages = 50

const wordprocessingNS = "http://schemas.openxmlformats.org/wordprocessingml/2006/main"

var (
	// ErrContentTooLarge indicates the payload exceeds the size limit.
	// The check runs before any parsing.
	ErrContentTooLarge = errors.New("attachment exceeds size limit")

	// ErrUnsupportedFormat indicates neither the MIME type nor the file
	// extension maps to a known document format.
	ErrUnsupportedFormat = errors.New("unsupported document format")

	// ErrCorruptDocument indicates the payload claimed a supported format
	// but could not be parsed.
	ErrCorruptDocument = errors.New("document could not be parsed")
)

// Text extracts plain text from an attachment payload. Format dispatch
// uses the MIME type first and falls back to the filename extension.
// maxSize of 0 applies DefaultMaxSize.
func Text(data []byte, mimeType, filename string, maxSize int64) (string, error) {
	if maxSize <= 0 {
		maxSize = DefaultMaxSize
	}
	if int64(len(data)) > maxSize {
		return "", fmt.Errorf("%w: %d bytes, limit %d", ErrContentTooLarge, len(data), maxSize)
	}

	switch normalizeMIME(mimeType) {
	case "application/pdf":
		return pdfText(data)
	case "application/vnd.openxmlformats-officedocument.wordprocessingml.document":
		return docxText(data)
	case "text/plain":
		return plainText(data, mimeType)
	}

	switch {
	case hasExtension(filename, ".pdf"):
		return pdfText(data)
	case hasExtension(filename, ".docx"):
		return docxText(data)
	case hasExtension(filename, ".txt"):
		return plainText(data, mimeType)
	}
	return "", fmt.Errorf("%w: mime type %q, filename %q", ErrUnsupportedFormat, mimeType, filename)
}

// Supported reports whether an attachment with the given MIME type or
// filename can be extracted.
func Supported(mimeType, filename string) bool {
	switch normalizeMIME(mimeType) {
	case "application/pdf",
		"application/vnd.openxmlformats-officedocument.wordprocessingml.document",
		"text/plain":
		return true
	}
	return hasExtension(filename, ".pdf") || hasExtension(filename, ".docx") || hasExtension(filename, ".txt")
}

func normalizeMIME(mimeType string) string {
	if mimeType == "" {
		return ""
	}
	mediaType, _, err := mime.ParseMediaType(mimeType)
	if err != nil {
		return strings.ToLower(strings.TrimSpace(mimeType))
	}
	return mediaType
}

func hasExtension(filename, ext string) bool {
	return strings.HasSuffix(strings.ToLower(filename), ext)
}

// plainText decodes text data to UTF-8, honoring a charset parameter on
// the MIME type when present and sniffing the encoding otherwise.
func plainText(data []byte, mimeType string) (string, error) {
	reader, err := charset.NewReader(bytes.NewReader(data), mimeType)
	if err != nil {
		return string(data), nil
	}
	decoded, err := io.ReadAll(reader)
	if err != nil {
		return string(data), nil
	}
	return string(decoded), nil
}

func pdfText(data []byte) (string, error) {
	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrCorruptDocument, err)
	}

	numPages := reader.NumPage()
	pages := numPages
	if pages > maxPDFPages {
		pages = maxPDFPages
	}

	var out strings.Builder
	for i := 1; i <= pages; i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(map[string]*pdf.Font{})
		if err != nil {
			// A single damaged page does not fail the document.
			continue
		}
		out.WriteString(text)
		out.WriteString("\n\n")
	}

	result := strings.TrimSpace(out.String())
	if result == "" {
		return "", fmt.Errorf("%w: no extractable text", ErrCorruptDocument)
	}
	if numPages > maxPDFPages {
		result += fmt.Sprintf("\n\n[truncated: %d of %d pages processed]", maxPDFPages, numPages)
	}
	return result, nil
}

func docxText(data []byte) (string, error) {
	doc, err := docx.ReadDocxFromMemory(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrCorruptDocument, err)
	}
	defer doc.Close()

	content := doc.Editable().GetContent()
	if strings.TrimSpace(content) == "" {
		return "", fmt.Errorf("%w: empty document body", ErrCorruptDocument)
	}

	text := wordXMLText(content)
	if text != "" {
		return text, nil
	}
	return content, nil
}

// wordXMLText pulls the character data out of w:t runs in a WordprocessingML
// document body.
func wordXMLText(content string) string {
	decoder := xml.NewDecoder(strings.NewReader(content))
	var (
		parts  []string
		inText bool
	)
	for {
		token, err := decoder.Token()
		if err != nil {
			break
		}
		switch t := token.(type) {
		case xml.StartElement:
			if t.Name.Local == "t" && t.Name.Space == wordprocessingNS {
				inText = true
			}
		case xml.EndElement:
			if t.Name.Local == "t" && t.Name.Space == wordprocessingNS {
				inText = false
			}
		case xml.CharData:
			if inText {
				parts = append(parts, string(t))
			}
		}
	}
	return strings.TrimSpace(strings.Join(parts, " "))
}
