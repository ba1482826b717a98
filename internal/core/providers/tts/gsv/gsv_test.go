package gsv

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/bytedance/sonic"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

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

func testConfig(endpoint string) *config.TTSConfig {
	return &config.TTSConfig{
		Provider:        "gsv",
		Endpoint:        endpoint,
		DefaultRefAudio: "ref/default.wav",
		DefaultRefText:  "默认参考文本",
		TextLang:        "zh",
		PromptLang:      "zh",
		TimeoutMS:       5000,
		Extra:           map[string]interface{}{"top_k": 5, "seed": 42},
	}
}

func testStyles() map[string]config.StyleRef {
	return map[string]config.StyleRef{
		"happy": {RefAudioPath: "ref/happy.wav", RefText: "开心的参考"},
	}
}

func TestSynthesizeDefaultVoice(t *testing.T) {
	audio := []byte("fake-audio-bytes")
	var got map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		require.NoError(t, sonic.Unmarshal(raw, &got))
		w.Write(audio)
	}))
	defer srv.Close()

	p, err := NewProvider(testConfig(srv.URL), testStyles(), testLogger(t))
	require.NoError(t, err)

	blob, err := p.Synthesize(context.Background(), "你好！", "")
	require.NoError(t, err)
	assert.Equal(t, audio, blob)
	assert.Equal(t, "你好！", got["text"])
	assert.Equal(t, "ref/default.wav", got["ref_audio_path"])
	assert.Equal(t, "默认参考文本", got["prompt_text"])
	assert.Equal(t, float64(5), got["top_k"], "ex_config应并入请求")
}

func TestSynthesizeStyleOverride(t *testing.T) {
	var got map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		require.NoError(t, sonic.Unmarshal(raw, &got))
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	p, err := NewProvider(testConfig(srv.URL), testStyles(), testLogger(t))
	require.NoError(t, err)

	_, err = p.Synthesize(context.Background(), "太好了！", "happy")
	require.NoError(t, err)
	assert.Equal(t, "ref/happy.wav", got["ref_audio_path"])
	assert.Equal(t, "开心的参考", got["prompt_text"])
}

func TestSynthesizeUnknownStyleFallsBack(t *testing.T) {
	var got map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		require.NoError(t, sonic.Unmarshal(raw, &got))
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	p, err := NewProvider(testConfig(srv.URL), testStyles(), testLogger(t))
	require.NoError(t, err)

	_, err = p.Synthesize(context.Background(), "好的。", "angry")
	require.NoError(t, err)
	assert.Equal(t, "ref/default.wav", got["ref_audio_path"])
}

func TestSynthesizeEmptyAfterCleaning(t *testing.T) {
	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	defer srv.Close()

	p, err := NewProvider(testConfig(srv.URL), nil, testLogger(t))
	require.NoError(t, err)

	blob, err := p.Synthesize(context.Background(), "（只有动作描写）", "")
	require.NoError(t, err)
	assert.Nil(t, blob, "清洗后为空应跳过而不报错")
	assert.False(t, called, "不应发出请求")
}

func TestSynthesizeServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad ref audio", http.StatusBadRequest)
	}))
	defer srv.Close()

	p, err := NewProvider(testConfig(srv.URL), nil, testLogger(t))
	require.NoError(t, err)

	_, err = p.Synthesize(context.Background(), "你好。", "")
	require.Error(t, err)
	assert.True(t, errors.IsKind(err, errors.KindTTS))
}
