package gsv

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"time"

	"github.com/bytedance/sonic"

	"moechat-server-go/internal/core/providers/tts"
	"moechat-server-go/internal/platform/config"
	"moechat-server-go/internal/platform/errors"
	"moechat-server-go/internal/utils"
)

func init() {
	tts.Register("gsv", func(cfg *config.TTSConfig, styles map[string]config.StyleRef, logger *utils.Logger) (tts.Provider, error) {
		return NewProvider(cfg, styles, logger)
	})
}

// Provider 对接GPT-SoVITS合成服务的HTTP适配器。
// 情绪标签命中StyleReferenceMap时用对应参考音频覆盖默认音色。
type Provider struct {
	cfg     *config.TTSConfig
	styles  map[string]config.StyleRef
	timeout time.Duration
	client  *http.Client
	logger  *utils.Logger
}

func NewProvider(cfg *config.TTSConfig, styles map[string]config.StyleRef, logger *utils.Logger) (*Provider, error) {
	if cfg.Endpoint == "" {
		return nil, errors.New(errors.KindConfig, "tts:gsv", "未配置合成服务地址")
	}
	timeout := time.Duration(cfg.TimeoutMS) * time.Millisecond
	return &Provider{
		cfg:     cfg,
		styles:  styles,
		timeout: timeout,
		client:  &http.Client{Timeout: timeout},
		logger:  logger,
	}, nil
}

func (p *Provider) Synthesize(ctx context.Context, text, styleRef string) ([]byte, error) {
	cleaned := utils.CleanText(text)
	if cleaned == "" {
		return nil, nil
	}

	payload := map[string]interface{}{
		"text":           cleaned,
		"text_lang":      p.cfg.TextLang,
		"ref_audio_path": p.cfg.DefaultRefAudio,
		"prompt_text":    p.cfg.DefaultRefText,
		"prompt_lang":    p.cfg.PromptLang,
	}
	for k, v := range p.cfg.Extra {
		payload[k] = v
	}
	if ref, ok := p.styles[styleRef]; ok && styleRef != "" {
		payload["ref_audio_path"] = ref.RefAudioPath
		payload["prompt_text"] = ref.RefText
	}

	body, err := sonic.Marshal(payload)
	if err != nil {
		return nil, errors.Wrap(errors.KindTTS, "tts:synthesize", "请求序列化失败", err)
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, "POST", p.cfg.Endpoint, bytes.NewBuffer(body))
	if err != nil {
		return nil, errors.Wrap(errors.KindTTS, "tts:synthesize", "创建请求失败", err)
	}
	req.Header.Set("Content-Type", "application/json")

	started := time.Now()
	resp, err := p.client.Do(req)
	if err != nil {
		return nil, errors.Wrap(errors.KindTTS, "tts:synthesize", "合成服务不可达", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(resp.Body)
		return nil, errors.New(errors.KindTTS, "tts:synthesize",
			"合成服务错误 "+resp.Status+": "+utils.SanitizeForLog(string(raw)))
	}

	audio, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrap(errors.KindTTS, "tts:synthesize", "读取音频失败", err)
	}
	p.logger.InfoTiming("合成耗时 %dms: %s", time.Since(started).Milliseconds(), utils.SanitizeForLog(cleaned))
	return audio, nil
}

func (p *Provider) Close() error {
	p.client.CloseIdleConnections()
	return nil
}
