package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"path/filepath"
	"strings"

	"github.com/charlesng35/marketlive/internal/payload"
)

// ListConversations fetches the caller's conversations as raw records.
func (c *Client) ListConversations(ctx context.Context) ([]json.RawMessage, error) {
	raw, err := c.doJSON(ctx, http.MethodGet, "/chat/conversations", "/chat/conversations", nil, nil)
	if err != nil {
		return nil, err
	}
	return decodeList(raw)
}

// ListMessages fetches one page of a conversation's history.
func (c *Client) ListMessages(ctx context.Context, conversationID string, page, size int) ([]json.RawMessage, error) {
	if strings.TrimSpace(conversationID) == "" {
		return nil, fmt.Errorf("backend: conversation id is required")
	}
	path := "/chat/conversations/" + url.PathEscape(conversationID) + "/messages"
	raw, err := c.doJSON(ctx, http.MethodGet, path, "/chat/conversations/:id/messages", pageQuery(page, size), nil)
	if err != nil {
		return nil, err
	}
	return decodeList(raw)
}

// MarkConversationRead resets the caller's unread counter for a conversation.
func (c *Client) MarkConversationRead(ctx context.Context, conversationID string) error {
	if strings.TrimSpace(conversationID) == "" {
		return fmt.Errorf("backend: conversation id is required")
	}
	path := "/chat/conversations/" + url.PathEscape(conversationID) + "/read"
	_, err := c.doJSON(ctx, http.MethodPut, path, "/chat/conversations/:id/read", nil, nil)
	return err
}

// SendMessage posts a chat message over REST. Used when the realtime transport is unavailable.
func (c *Client) SendMessage(ctx context.Context, message any) (json.RawMessage, error) {
	return c.doJSON(ctx, http.MethodPost, "/chat/messages", "/chat/messages", nil, message)
}

// RecallMessage withdraws a previously sent message.
func (c *Client) RecallMessage(ctx context.Context, messageID string) error {
	if strings.TrimSpace(messageID) == "" {
		return fmt.Errorf("backend: message id is required")
	}
	path := "/chat/messages/" + url.PathEscape(messageID) + "/recall"
	_, err := c.doJSON(ctx, http.MethodPut, path, "/chat/messages/:id/recall", nil, nil)
	return err
}

// UploadChatFile uploads an attachment and returns the URL the backend stored it under.
func (c *Client) UploadChatFile(ctx context.Context, name string, content io.Reader) (string, error) {
	if content == nil {
		return "", fmt.Errorf("backend: upload content is required")
	}
	name = filepath.Base(strings.TrimSpace(name))
	if name == "" || name == "." || name == "/" {
		name = "attachment"
	}

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile("file", name)
	if err != nil {
		return "", fmt.Errorf("backend: create form file: %w", err)
	}
	if _, err := io.Copy(part, content); err != nil {
		return "", fmt.Errorf("backend: read upload: %w", err)
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("backend: finalise upload: %w", err)
	}

	raw, err := c.do(ctx, request{
		method:   http.MethodPost,
		path:     "/chat/upload",
		endpoint: "/chat/upload",
		body:     &body,
		header:   http.Header{"Content-Type": []string{writer.FormDataContentType()}},
	})
	if err != nil {
		return "", err
	}
	return decodeUploadURL(raw)
}

func decodeUploadURL(raw json.RawMessage) (string, error) {
	var direct string
	if err := json.Unmarshal(raw, &direct); err == nil && strings.TrimSpace(direct) != "" {
		return direct, nil
	}
	fields, err := payload.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("backend: decode upload response: %w", err)
	}
	if u := fields.String("url", "fileUrl", "file_url", "secureUrl", "secure_url"); u != "" {
		return u, nil
	}
	return "", fmt.Errorf("backend: upload response has no url")
}
