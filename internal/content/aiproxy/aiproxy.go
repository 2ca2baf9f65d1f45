package aiproxy

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/vidbrief/vidbrief/internal/common"
	"github.com/vidbrief/vidbrief/internal/config"
	"github.com/vidbrief/vidbrief/internal/content"
	"github.com/vidbrief/vidbrief/internal/jobs"
)

var _ content.Generator = (*Client)(nil)

const (
	// Headers
	headerContentType   = "Content-Type"
	headerAuthorization = "Authorization"

	// Auth
	authSchemeBearer = "Bearer"

	// Endpoints
	endpointChatCompletions = "v1/chat/completions"

	// Timeouts and limits
	defaultTimeout    = 60 * time.Second
	errorSnippetLimit = 400

	transcriptionSystemPrompt = "You are a video transcription assistant. Given a video described by name and size, produce a plausible full transcription of its audio track as plain prose. Output only the transcription."
	keyFramesSystemPrompt     = "You are a video analysis assistant. Identify the key moments of the described video. Respond with a JSON array of objects with fields \"timestamp\" (format M:SS, strictly increasing) and \"description\". Output only the JSON array."
	summarySystemPrompt       = "You are a video summarization assistant. Given a transcription and a list of key frames, write a concise summary paragraph of the video. Output only the summary."
)

// Role represents the sender role for a chat message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Client implements content.Generator by calling an OpenAI-compatible AI Proxy.
type Client struct {
	httpClient  *http.Client
	baseURL     string
	apiKey      string
	model       string
	temperature *float32
	maxTokens   *int
}

// New creates a new AI Proxy content generator.
func New(cfg config.AIProxySettings) *Client {
	return &Client{
		httpClient:  &http.Client{Timeout: defaultTimeout},
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:      cfg.APIKey,
		model:       cfg.Model,
		temperature: optionalFloat32(cfg.Temperature),
		maxTokens:   optionalInt(cfg.MaxTokens),
	}
}

func (c *Client) Transcription(ctx context.Context, video jobs.Video) (string, error) {
	prompt := fmt.Sprintf("Transcribe the audio of the video %q (%d bytes).", video.Name, video.SizeBytes)
	return c.complete(ctx, transcriptionSystemPrompt, prompt)
}

func (c *Client) KeyFrames(ctx context.Context, video jobs.Video) ([]jobs.KeyFrame, error) {
	prompt := fmt.Sprintf("List the key moments of the video %q (%d bytes).", video.Name, video.SizeBytes)
	out, err := c.complete(ctx, keyFramesSystemPrompt, prompt)
	if err != nil {
		return nil, err
	}
	var frames []jobs.KeyFrame
	if err := json.Unmarshal([]byte(stripCodeFence(out)), &frames); err != nil {
		return nil, fmt.Errorf("parse key frames: %w", err)
	}
	if len(frames) == 0 {
		return nil, fmt.Errorf("empty key frame list")
	}
	if err := validateKeyFrameOrder(frames); err != nil {
		return nil, err
	}
	return frames, nil
}

// validateKeyFrameOrder rejects frame lists whose timestamps are malformed or
// not strictly increasing; models do not reliably honor the format despite
// the prompt.
func validateKeyFrameOrder(frames []jobs.KeyFrame) error {
	prev := -1
	for _, f := range frames {
		secs, err := parseTimestamp(f.Timestamp)
		if err != nil {
			return fmt.Errorf("key frame timestamp %q: %w", f.Timestamp, err)
		}
		if secs <= prev {
			return fmt.Errorf("key frame timestamps not strictly increasing at %q", f.Timestamp)
		}
		prev = secs
	}
	return nil
}

// parseTimestamp converts an M:SS string to total seconds.
func parseTimestamp(ts string) (int, error) {
	parts := strings.SplitN(ts, ":", 2)
	if len(parts) != 2 || len(parts[1]) != 2 {
		return 0, fmt.Errorf("not in M:SS format")
	}
	m, err := strconv.Atoi(parts[0])
	if err != nil || m < 0 {
		return 0, fmt.Errorf("invalid minutes")
	}
	s, err := strconv.Atoi(parts[1])
	if err != nil || s < 0 || s > 59 {
		return 0, fmt.Errorf("invalid seconds")
	}
	return m*60 + s, nil
}

func (c *Client) Summary(ctx context.Context, video jobs.Video, transcription string, frames []jobs.KeyFrame) (string, error) {
	framesJSON, err := json.Marshal(frames)
	if err != nil {
		return "", fmt.Errorf("marshal key frames: %w", err)
	}
	prompt := fmt.Sprintf("Summarize the video %q.\nTranscription: %s\nKey frames: %s",
		video.Name, transcription, string(framesJSON))
	return c.complete(ctx, summarySystemPrompt, prompt)
}

// complete sends one chat completion request and returns the first choice's content.
func (c *Client) complete(ctx context.Context, system, user string) (string, error) {
	reqBody := chatCompletionRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: RoleSystem, Content: system},
			{Role: RoleUser, Content: user},
		},
		Stream: false,
	}
	if c.temperature != nil {
		reqBody.Temperature = c.temperature
	}
	if c.maxTokens != nil {
		reqBody.MaxTokens = c.maxTokens
	}

	u, err := url.JoinPath(c.baseURL, endpointChatCompletions)
	if err != nil {
		return "", fmt.Errorf("join url: %w", err)
	}

	bodyBytes, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(bodyBytes))
	if err != nil {
		return "", fmt.Errorf("new request: %w", err)
	}
	req.Header.Set(headerContentType, common.ContentTypeJSON)
	if strings.TrimSpace(c.apiKey) != "" {
		req.Header.Set(headerAuthorization, authSchemeBearer+" "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", fmt.Errorf("http do: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	var respBuf bytes.Buffer
	_, _ = respBuf.ReadFrom(resp.Body)
	respBytes := respBuf.Bytes()
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return "", fmt.Errorf("aiproxy status %d: %s", resp.StatusCode, truncate(string(respBytes), errorSnippetLimit))
	}

	var comp chatCompletionResponse
	if err := json.Unmarshal(respBytes, &comp); err != nil {
		return "", fmt.Errorf("parse response: %w", err)
	}
	if len(comp.Choices) == 0 || comp.Choices[0].Message.Content == "" {
		return "", fmt.Errorf("empty completion")
	}
	return comp.Choices[0].Message.Content, nil
}

// stripCodeFence removes a surrounding markdown code fence, which some models
// wrap JSON output in despite instructions.
func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

func optionalFloat32(v float32) *float32 {
	if v == 0 {
		return nil
	}
	return &v
}

func optionalInt(v int) *int {
	if v == 0 {
		return nil
	}
	return &v
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// OpenAI-compatible Chat Completions request/response types

type chatCompletionRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature *float32      `json:"temperature,omitempty"`
	MaxTokens   *int          `json:"max_tokens,omitempty"`
	Stream      bool          `json:"stream,omitempty"`
}

type chatMessage struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
	Name    string `json:"name,omitempty"`
}

type chatCompletionResponse struct {
	ID      string                 `json:"id"`
	Object  string                 `json:"object"`
	Created int64                  `json:"created"`
	Choices []chatCompletionChoice `json:"choices"`
	Usage   *chatCompletionUsage   `json:"usage,omitempty"`
}

type chatCompletionChoice struct {
	Index        int         `json:"index"`
	Message      responseMsg `json:"message"`
	FinishReason string      `json:"finish_reason"`
}

type responseMsg struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatCompletionUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}
