package assistant

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/cexll/testpilot/internal/poller"
	"github.com/sashabaranov/go-openai"
)

const (
	defaultModel     = openai.GPT3Dot5Turbo
	defaultMaxTokens = 1000
	messagePageSize  = 100
	fileSearchTool   = "file_search"
)

// Config holds the settings for the OpenAI-backed client.
type Config struct {
	APIKey      string
	BaseURL     string // Optional: custom API endpoint
	Model       string
	MaxTokens   int
	Temperature float32
	HTTPClient  *http.Client
}

// FileHandle identifies a file staged with the remote service.
type FileHandle struct {
	ID   string
	Name string
}

// CompletionRequest is a single system+user chat completion.
type CompletionRequest struct {
	System string
	User   string
	JSON   bool
}

// Client wraps the Assistants, Files and Chat APIs.
type Client struct {
	api         *openai.Client
	model       string
	maxTokens   int
	temperature float32
}

// NewClient creates a client for the given configuration.
func NewClient(cfg Config) *Client {
	apiCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		apiCfg.BaseURL = strings.TrimSuffix(cfg.BaseURL, "/")
	}
	if cfg.HTTPClient != nil {
		apiCfg.HTTPClient = cfg.HTTPClient
	}

	model := cfg.Model
	if model == "" {
		model = defaultModel
	}
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}

	return &Client{
		api:         openai.NewClientWithConfig(apiCfg),
		model:       model,
		maxTokens:   maxTokens,
		temperature: cfg.Temperature,
	}
}

// Submit creates a thread, posts content with the given files attached and starts a run.
func (c *Client) Submit(ctx context.Context, assistantID, content string, fileIDs []string) (poller.Job, error) {
	thread, err := c.api.CreateThread(ctx, openai.ThreadRequest{})
	if err != nil {
		return poller.Job{}, fmt.Errorf("create thread: %w", err)
	}

	attachments := make([]openai.ThreadAttachment, 0, len(fileIDs))
	for _, id := range fileIDs {
		attachments = append(attachments, openai.ThreadAttachment{
			FileID: id,
			Tools:  []openai.ThreadAttachmentTool{{Type: fileSearchTool}},
		})
	}

	_, err = c.api.CreateMessage(ctx, thread.ID, openai.MessageRequest{
		Role:        string(openai.ThreadMessageRoleUser),
		Content:     content,
		Attachments: attachments,
	})
	if err != nil {
		return poller.Job{}, fmt.Errorf("post message to thread %s: %w", thread.ID, err)
	}

	run, err := c.api.CreateRun(ctx, thread.ID, openai.RunRequest{AssistantID: assistantID})
	if err != nil {
		return poller.Job{}, fmt.Errorf("create run on thread %s: %w", thread.ID, err)
	}

	log.Printf("[Assistant] Run %s created on thread %s (status: %s)", run.ID, thread.ID, run.Status)
	return poller.Job{ID: run.ID, ThreadID: thread.ID}, nil
}

// RetrieveStatus returns the current status of job's run.
func (c *Client) RetrieveStatus(ctx context.Context, job poller.Job) (poller.Status, error) {
	run, err := c.api.RetrieveRun(ctx, job.ThreadID, job.ID)
	if err != nil {
		return "", err
	}
	return poller.Status(run.Status), nil
}

// ListMessages returns every message of a thread, oldest first.
func (c *Client) ListMessages(ctx context.Context, threadID string) ([]poller.Message, error) {
	limit := messagePageSize
	order := "asc"
	var after *string
	var out []poller.Message

	for {
		page, err := c.api.ListMessage(ctx, threadID, &limit, &order, after, nil, nil)
		if err != nil {
			return nil, err
		}
		for _, msg := range page.Messages {
			out = append(out, poller.Message{Role: msg.Role, Text: messageText(msg)})
		}
		if !page.HasMore || page.LastID == nil || *page.LastID == "" {
			return out, nil
		}
		after = page.LastID
	}
}

// messageText returns the last text block of a message.
func messageText(msg openai.Message) string {
	text := ""
	for _, block := range msg.Content {
		if block.Text != nil && block.Text.Value != "" {
			text = block.Text.Value
		}
	}
	return text
}

// Upload stages data as an assistants file.
func (c *Client) Upload(ctx context.Context, name string, data []byte) (FileHandle, error) {
	start := time.Now()
	file, err := c.api.CreateFileBytes(ctx, openai.FileBytesRequest{
		Name:    name,
		Bytes:   data,
		Purpose: openai.PurposeAssistants,
	})
	if err != nil {
		return FileHandle{}, fmt.Errorf("upload %s: %w", name, err)
	}
	log.Printf("[Assistant] Uploaded %s as %s in %v", name, file.ID, time.Since(start))
	return FileHandle{ID: file.ID, Name: name}, nil
}

// Delete removes a staged file. A file that is already gone counts as deleted.
func (c *Client) Delete(ctx context.Context, fileID string) error {
	err := c.api.DeleteFile(ctx, fileID)
	if err == nil {
		log.Printf("[Assistant] Deleted file %s", fileID)
		return nil
	}
	if IsNotFound(err) {
		log.Printf("[Assistant] File %s already deleted", fileID)
		return nil
	}
	return fmt.Errorf("delete file %s: %w", fileID, err)
}

// List returns all files currently staged with the remote service.
func (c *Client) List(ctx context.Context) ([]FileHandle, error) {
	files, err := c.api.ListFiles(ctx)
	if err != nil {
		return nil, fmt.Errorf("list files: %w", err)
	}
	out := make([]FileHandle, 0, len(files.Files))
	for _, f := range files.Files {
		out = append(out, FileHandle{ID: f.ID, Name: f.FileName})
	}
	return out, nil
}

// Complete runs a chat completion and returns the first choice's content.
func (c *Client) Complete(ctx context.Context, req CompletionRequest) (string, error) {
	chatReq := openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: req.System},
			{Role: openai.ChatMessageRoleUser, Content: req.User},
		},
		Temperature: c.temperature,
		MaxTokens:   c.maxTokens,
	}
	if req.JSON {
		chatReq.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		}
	}

	resp, err := c.api.CreateChatCompletion(ctx, chatReq)
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("chat completion returned no choices")
	}
	return resp.Choices[0].Message.Content, nil
}

// IsNotFound reports whether err is a 404 from the remote service.
func IsNotFound(err error) bool {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode == http.StatusNotFound
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return reqErr.HTTPStatusCode == http.StatusNotFound
	}
	return false
}
