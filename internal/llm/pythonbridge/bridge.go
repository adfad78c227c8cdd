package pythonbridge

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"WalletPilot/internal/llm"
)

// waitDelay 限制进程被取消后等待输出管道关闭的时间。
const waitDelay = 2 * time.Second

// Client 通过调用 Python 脚本实现大模型推理。脚本从 stdin 读取
// {"system_prompt","user_message","temperature","json_only","timestamp"}，向 stdout
// 写出 {"content","model"}。
type Client struct {
	pythonExec string
	scriptPath string
	workingDir string
}

var _ llm.Client = (*Client)(nil)

// NewClient 创建 Python Bridge 客户端。
func NewClient(pythonExec, scriptPath, workingDir string) (*Client, error) {
	if scriptPath == "" {
		return nil, fmt.Errorf("未指定 Python 脚本路径")
	}
	if pythonExec == "" {
		pythonExec = "python3"
	}
	return &Client{
		pythonExec: pythonExec,
		scriptPath: scriptPath,
		workingDir: workingDir,
	}, nil
}

// Generate 调用外部脚本，并解析输出。
func (c *Client) Generate(ctx context.Context, req llm.Request) (*llm.Response, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	payload := map[string]any{
		"system_prompt": req.SystemPrompt,
		"user_message":  req.UserMessage,
		"temperature":   req.Temperature,
		"json_only":     req.JSONOnly,
		"timestamp":     time.Now().Unix(),
	}

	encoded, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("序列化请求失败: %w", err)
	}

	command := exec.CommandContext(ctx, c.pythonExec, c.scriptPath)
	if c.workingDir != "" {
		command.Dir = c.workingDir
	}
	command.Stdin = bytes.NewReader(encoded)
	command.WaitDelay = waitDelay

	var stdout, stderr bytes.Buffer
	command.Stdout = &stdout
	command.Stderr = &stderr

	if err := command.Run(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("Python 脚本被中断: %w", ctxErr)
		}
		return nil, fmt.Errorf("执行 Python 脚本失败: %v, stderr=%s", err, strings.TrimSpace(stderr.String()))
	}

	var resp struct {
		Content string `json:"content"`
		Model   string `json:"model"`
	}
	if err := json.Unmarshal(stdout.Bytes(), &resp); err != nil {
		return nil, fmt.Errorf("解析 Python 输出失败: %w", err)
	}
	if strings.TrimSpace(resp.Content) == "" {
		return nil, llm.ErrEmptyResponse
	}

	model := resp.Model
	if model == "" {
		model = "python_bridge"
	}
	return &llm.Response{Content: strings.TrimSpace(resp.Content), Model: model}, nil
}

// ResolveScriptPath 根据工作目录推导脚本绝对路径。
func ResolveScriptPath(baseDir, script string) string {
	if script == "" {
		return ""
	}
	if filepath.IsAbs(script) {
		return script
	}
	if baseDir == "" {
		return script
	}
	return filepath.Join(baseDir, script)
}
