package gemini

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"WalletPilot/internal/llm"

	"google.golang.org/genai"
)

const defaultModelName = "gemini-2.0-flash"

// Config 描述了调用 Gemini API 所需的信息。
type Config struct {
	APIKey  string
	BaseURL string
	Model   string
	// HTTPClient 为空时由 genai 自行创建。
	HTTPClient *http.Client
}

// Client 通过 google.golang.org/genai 调用 Gemini。
type Client struct {
	client *genai.Client
	model  string
}

var _ llm.Client = (*Client)(nil)

// NewClient 根据配置创建 Gemini 客户端。
func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, errors.New("未提供 Gemini API Key")
	}
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = defaultModelName
	}

	clientCfg := &genai.ClientConfig{
		APIKey:     apiKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: cfg.HTTPClient,
	}
	if baseURL := strings.TrimSpace(cfg.BaseURL); baseURL != "" {
		clientCfg.HTTPOptions = genai.HTTPOptions{BaseURL: strings.TrimRight(baseURL, "/") + "/"}
	}

	client, err := genai.NewClient(ctx, clientCfg)
	if err != nil {
		return nil, fmt.Errorf("创建 Gemini 客户端失败: %w", err)
	}
	return &Client{client: client, model: model}, nil
}

// Generate 调用 Gemini 获取分类结果，返回原始文本。
func (c *Client) Generate(ctx context.Context, req llm.Request) (*llm.Response, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	config := &genai.GenerateContentConfig{
		Temperature: genai.Ptr(float32(req.Temperature)),
	}
	if system := strings.TrimSpace(req.SystemPrompt); system != "" {
		config.SystemInstruction = genai.NewContentFromText(system, genai.RoleUser)
	}
	if req.JSONOnly {
		config.ResponseMIMEType = "application/json"
	}

	contents := []*genai.Content{genai.NewContentFromText(req.UserMessage, genai.RoleUser)}
	resp, err := c.client.Models.GenerateContent(ctx, c.model, contents, config)
	if err != nil {
		return nil, fmt.Errorf("请求 Gemini 失败: %w", err)
	}

	content := strings.TrimSpace(resp.Text())
	if content == "" {
		return nil, llm.ErrEmptyResponse
	}
	model := resp.ModelVersion
	if model == "" {
		model = c.model
	}
	return &llm.Response{Content: content, Model: model}, nil
}
