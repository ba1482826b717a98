package openai

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"moechat-server-go/internal/core/chat"
	"moechat-server-go/internal/core/providers/llm"
	"moechat-server-go/internal/platform/config"
	"moechat-server-go/internal/platform/errors"
	"moechat-server-go/internal/utils"
)

func testLogger(t *testing.T) *utils.Logger {
	t.Helper()
	logger, err := utils.NewLogger(&utils.LogCfg{LogLevel: "error", LogDir: t.TempDir()})
	require.NoError(t, err)
	return logger
}

func sseChunk(content string) string {
	return fmt.Sprintf(`data: {"choices":[{"delta":{"content":%q}}]}`+"\n\n", content)
}

func newTestProvider(t *testing.T, endpoint string) *Provider {
	t.Helper()
	p, err := NewProvider(&config.LLMConfig{
		Provider:    "openai",
		Endpoint:    endpoint,
		APIKey:      "test-key",
		Model:       "gpt-4o-mini",
		Temperature: 0.7,
		FirstByteMS: 2000,
		IdleMS:      2000,
	}, testLogger(t))
	require.NoError(t, err)
	return p
}

func collect(t *testing.T, deltas <-chan llm.Delta) (string, error) {
	t.Helper()
	var text string
	for d := range deltas {
		if d.Err != nil {
			return text, d.Err
		}
		text += d.Text
	}
	return text, nil
}

func TestStreamConcatenatesDeltas(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, sseChunk("你好"))
		fmt.Fprint(w, sseChunk("！"))
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer srv.Close()

	p := newTestProvider(t, srv.URL)
	deltas, err := p.Stream(context.Background(), []chat.Message{{Role: "user", Content: "打招呼"}})
	require.NoError(t, err)

	text, streamErr := collect(t, deltas)
	require.NoError(t, streamErr)
	assert.Equal(t, "你好！", text)
}

func TestStreamServerErrorSurfacesAsLLMError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":{"message":"boom"}}`, http.StatusInternalServerError)
	}))
	defer srv.Close()

	p := newTestProvider(t, srv.URL)
	deltas, err := p.Stream(context.Background(), nil)
	require.NoError(t, err)

	_, streamErr := collect(t, deltas)
	require.Error(t, streamErr)
	assert.True(t, errors.IsKind(streamErr, errors.KindLLM))
}

func TestStreamCancellationStopsQuietly(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, sseChunk("第一段"))
		if f, ok := w.(http.Flusher); ok {
			f.Flush()
		}
		<-release
	}))
	defer srv.Close()
	defer close(release)

	ctx, cancel := context.WithCancel(context.Background())
	p := newTestProvider(t, srv.URL)
	deltas, err := p.Stream(ctx, nil)
	require.NoError(t, err)

	first := <-deltas
	assert.Equal(t, "第一段", first.Text)
	cancel()

	// 取消后通道应尽快关闭且不产出错误增量
	deadline := time.After(2 * time.Second)
	for {
		select {
		case d, ok := <-deltas:
			if !ok {
				return
			}
			assert.NoError(t, d.Err, "主动取消不应产生错误增量")
		case <-deadline:
			t.Fatal("取消后流未及时关闭")
		}
	}
}

func TestStreamIdleTimeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, sseChunk("开头"))
		if f, ok := w.(http.Flusher); ok {
			f.Flush()
		}
		<-release
	}))
	defer srv.Close()
	defer close(release)

	p, err := NewProvider(&config.LLMConfig{
		Endpoint:    srv.URL,
		APIKey:      "test-key",
		Model:       "gpt-4o-mini",
		FirstByteMS: 1000,
		IdleMS:      100,
	}, testLogger(t))
	require.NoError(t, err)

	deltas, err := p.Stream(context.Background(), nil)
	require.NoError(t, err)

	text, streamErr := collect(t, deltas)
	assert.Equal(t, "开头", text, "超时前的增量仍然有效")
	require.Error(t, streamErr)
	assert.True(t, errors.IsKind(streamErr, errors.KindLLM))
}
