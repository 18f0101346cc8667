// Package gmail_tools registers the Gmail MCP tools: search_threads,
// fetch_email_bodies, extract_attachment_by_filename,
// download_attachment, create_draft, forward_email and send_draft.
//
// Read tools are always registered. The tools that create or send mail
// are skipped when the server runs in read-only mode.
package gmail_tools
