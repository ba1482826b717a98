package edge

import (
	"context"
	"time"

	"github.com/wujunwei928/edge-tts-go/edge_tts"

	"moechat-server-go/internal/core/providers/tts"
	"moechat-server-go/internal/platform/config"
	"moechat-server-go/internal/platform/errors"
	"moechat-server-go/internal/utils"
)

func init() {
	tts.Register("edge", func(cfg *config.TTSConfig, styles map[string]config.StyleRef, logger *utils.Logger) (tts.Provider, error) {
		return NewProvider(cfg, logger)
	})
}

const defaultVoice = "zh-CN-XiaoxiaoNeural"

// Provider 微软Edge在线合成，输出MP3。
// 免费接口不支持参考音频，styleRef会被忽略。
type Provider struct {
	voice   string
	timeout time.Duration
	logger  *utils.Logger
}

func NewProvider(cfg *config.TTSConfig, logger *utils.Logger) (*Provider, error) {
	voice := cfg.Voice
	if voice == "" {
		voice = defaultVoice
	}
	return &Provider{
		voice:   voice,
		timeout: time.Duration(cfg.TimeoutMS) * time.Millisecond,
		logger:  logger,
	}, nil
}

func (p *Provider) Synthesize(ctx context.Context, text, styleRef string) ([]byte, error) {
	cleaned := utils.CleanText(text)
	if cleaned == "" {
		return nil, nil
	}

	type result struct {
		audio []byte
		err   error
	}
	done := make(chan result, 1)
	go func() {
		communicate, err := edge_tts.NewCommunicate(cleaned, edge_tts.SetVoice(p.voice))
		if err != nil {
			done <- result{err: err}
			return
		}
		audio, err := communicate.Stream()
		done <- result{audio: audio, err: err}
	}()

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	select {
	case res := <-done:
		if res.err != nil {
			return nil, errors.Wrap(errors.KindTTS, "tts:edge", "Edge合成失败", res.err)
		}
		return res.audio, nil
	case <-ctx.Done():
		return nil, errors.Wrap(errors.KindTTS, "tts:edge", "Edge合成超时", ctx.Err())
	}
}

func (p *Provider) Close() error {
	return nil
}
