package sensevoice

import (
	"bytes"
	"context"
	"encoding/base64"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/bytedance/sonic"

	"moechat-server-go/internal/core/providers/asr"
	"moechat-server-go/internal/core/vad"
	"moechat-server-go/internal/platform/config"
	"moechat-server-go/internal/platform/errors"
	"moechat-server-go/internal/utils"
)

func init() {
	asr.Register("sensevoice", func(cfg *config.ASRConfig, logger *utils.Logger) (asr.Provider, error) {
		return NewProvider(cfg, logger)
	})
}

// Provider 对接SenseVoice识别服务的HTTP适配器
type Provider struct {
	endpoint string
	language string
	timeout  time.Duration
	client   *http.Client
	logger   *utils.Logger
}

type request struct {
	Audio    string `json:"audio"`
	Language string `json:"language"`
}

type response struct {
	Text string `json:"text"`
}

func NewProvider(cfg *config.ASRConfig, logger *utils.Logger) (*Provider, error) {
	if cfg.Endpoint == "" {
		return nil, errors.New(errors.KindConfig, "asr:sensevoice", "未配置识别服务地址")
	}
	timeout := time.Duration(cfg.TimeoutMS) * time.Millisecond
	return &Provider{
		endpoint: cfg.Endpoint,
		language: cfg.Language,
		timeout:  timeout,
		client:   &http.Client{Timeout: timeout},
		logger:   logger,
	}, nil
}

// Transcribe 整段提交识别。超时按未识别处理返回空串，转写一段语音只发一次请求。
func (p *Provider) Transcribe(ctx context.Context, utt vad.Utterance) (string, error) {
	if len(utt.WAV) == 0 {
		return "", nil
	}
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	body, err := sonic.Marshal(request{
		Audio:    base64.URLEncoding.EncodeToString(utt.WAV),
		Language: p.language,
	})
	if err != nil {
		return "", errors.Wrap(errors.KindASR, "asr:transcribe", "请求序列化失败", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", p.endpoint, bytes.NewBuffer(body))
	if err != nil {
		return "", errors.Wrap(errors.KindASR, "asr:transcribe", "创建请求失败", err)
	}
	req.Header.Set("Content-Type", "application/json")

	started := time.Now()
	resp, err := p.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			p.logger.WarnTag("ASR", "识别超时(%v)，丢弃本段", p.timeout)
			return "", nil
		}
		return "", errors.Wrap(errors.KindASR, "asr:transcribe", "识别服务不可达", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(resp.Body)
		return "", errors.New(errors.KindASR, "asr:transcribe",
			"识别服务错误 "+resp.Status+": "+utils.SanitizeForLog(string(raw)))
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", errors.Wrap(errors.KindASR, "asr:transcribe", "读取响应失败", err)
	}
	var res response
	if err := sonic.Unmarshal(raw, &res); err != nil {
		return "", errors.Wrap(errors.KindASR, "asr:transcribe", "响应解析失败", err)
	}

	// 识别结果里的空格对中文没有意义，与上游后处理保持一致直接去掉
	text := strings.ReplaceAll(res.Text, " ", "")
	p.logger.InfoTiming("识别耗时 %dms: %s", time.Since(started).Milliseconds(), utils.SanitizeForLog(text))
	return text, nil
}

func (p *Provider) Close() error {
	p.client.CloseIdleConnections()
	return nil
}
