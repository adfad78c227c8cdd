package pythonbridge

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"WalletPilot/internal/llm"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeScript creates a shell script standing in for the Python program; the
// bridge only cares about the stdin/stdout contract.
func writeScript(t *testing.T, body string) (string, string) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell scripts are not available on windows")
	}
	shell, err := exec.LookPath("sh")
	if err != nil {
		t.Skip("sh not found")
	}
	dir := t.TempDir()
	path := filepath.Join(dir, "bridge.sh")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o700))
	return shell, path
}

func TestGenerateReadsContent(t *testing.T) {
	shell, script := writeScript(t, `#!/bin/sh
input=$(cat)
case "$input" in
  *user_message*) ;;
  *) echo "unexpected input: $input" >&2; exit 3 ;;
esac
printf '%s' '{"content": "{\"operationType\": 0, \"message\": \"[$balance]\"}", "model": "local"}'
`)
	client, err := NewClient(shell, script, filepath.Dir(script))
	require.NoError(t, err)

	resp, err := client.Generate(context.Background(), llm.Request{SystemPrompt: "classify", UserMessage: "What's my balance?"})
	require.NoError(t, err)
	assert.Equal(t, `{"operationType": 0, "message": "[$balance]"}`, resp.Content)
	assert.Equal(t, "local", resp.Model)
}

func TestGenerateScriptFailure(t *testing.T) {
	shell, script := writeScript(t, "#!/bin/sh\necho 'model unavailable' >&2\nexit 1\n")
	client, err := NewClient(shell, script, "")
	require.NoError(t, err)

	_, err = client.Generate(context.Background(), llm.Request{UserMessage: "hi"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "model unavailable")
}

func TestGenerateEmptyContent(t *testing.T) {
	shell, script := writeScript(t, "#!/bin/sh\ncat >/dev/null\necho '{\"content\": \"\"}'\n")
	client, err := NewClient(shell, script, "")
	require.NoError(t, err)

	_, err = client.Generate(context.Background(), llm.Request{UserMessage: "hi"})
	assert.ErrorIs(t, err, llm.ErrEmptyResponse)
}

func TestGenerateTimeout(t *testing.T) {
	shell, script := writeScript(t, "#!/bin/sh\nexec sleep 5\n")
	client, err := NewClient(shell, script, "")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	_, err = client.Generate(ctx, llm.Request{UserMessage: "hi"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.DeadlineExceeded), "got %v", err)
}

func TestResolveScriptPath(t *testing.T) {
	assert.Equal(t, "", ResolveScriptPath("/srv", ""))
	assert.Equal(t, "/opt/bridge.py", ResolveScriptPath("/srv", "/opt/bridge.py"))
	assert.Equal(t, filepath.Join("/srv", "scripts/bridge.py"), ResolveScriptPath("/srv", "scripts/bridge.py"))
	assert.Equal(t, "bridge.py", ResolveScriptPath("", "bridge.py"))

	_, err := NewClient("", "", "")
	assert.Error(t, err)
}
