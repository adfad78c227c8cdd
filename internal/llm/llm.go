package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Request 描述一次分类调用。
type Request struct {
	SystemPrompt string
	UserMessage  string
	Temperature  float64
	// JSONOnly 要求提供方只返回 JSON 对象（若其支持）。
	JSONOnly bool
}

// Response 是大模型返回的原始文本。
type Response struct {
	Content string
	Model   string
}

// Client 定义了调用大模型的统一接口。
type Client interface {
	Generate(ctx context.Context, req Request) (*Response, error)
}

// ClientFunc 允许用函数实现 Client，主要用于测试。
type ClientFunc func(ctx context.Context, req Request) (*Response, error)

// Generate 实现 Client。
func (f ClientFunc) Generate(ctx context.Context, req Request) (*Response, error) {
	return f(ctx, req)
}

// ErrEmptyResponse 表示提供方没有返回任何内容。
var ErrEmptyResponse = errors.New("大模型响应内容为空")

// Validate 检查请求是否可发送。
func (r Request) Validate() error {
	if strings.TrimSpace(r.UserMessage) == "" {
		return errors.New("用户消息为空")
	}
	if r.Temperature < 0 || r.Temperature > 2 {
		return fmt.Errorf("temperature 超出范围: %v", r.Temperature)
	}
	return nil
}
