package asr

import (
	"context"
	"fmt"

	"moechat-server-go/internal/core/vad"
	"moechat-server-go/internal/platform/config"
	"moechat-server-go/internal/utils"
)

// Provider ASR提供者接口。识别不出内容时返回空串而不是错误。
type Provider interface {
	Transcribe(ctx context.Context, utt vad.Utterance) (string, error)
	Close() error
}

// SpeakerFilter 声纹过滤，在转写前拒掉非注册说话人的语音段
type SpeakerFilter interface {
	CheckSpeaker(ctx context.Context, wav []byte) (bool, error)
}

// Factory ASR提供者工厂函数
type Factory func(cfg *config.ASRConfig, logger *utils.Logger) (Provider, error)

var factories = make(map[string]Factory)

// Register 注册ASR提供者工厂
func Register(name string, factory Factory) {
	factories[name] = factory
}

// Create 创建ASR提供者实例
func Create(name string, cfg *config.ASRConfig, logger *utils.Logger) (Provider, error) {
	factory, ok := factories[name]
	if !ok {
		return nil, fmt.Errorf("未知的ASR提供者: %s", name)
	}
	provider, err := factory(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("创建ASR提供者失败: %v", err)
	}
	return provider, nil
}

// Engine 组合声纹过滤和转写。filter为nil时直接转写。
type Engine struct {
	provider Provider
	filter   SpeakerFilter
	logger   *utils.Logger
}

func NewEngine(provider Provider, filter SpeakerFilter, logger *utils.Logger) *Engine {
	return &Engine{provider: provider, filter: filter, logger: logger}
}

// Transcribe 先过声纹再转写，被拒的语音段返回空串
func (e *Engine) Transcribe(ctx context.Context, utt vad.Utterance) (string, error) {
	if e.filter != nil {
		ok, err := e.filter.CheckSpeaker(ctx, utt.WAV)
		if err != nil {
			e.logger.WarnTag("ASR", "声纹校验失败，放行转写: %v", err)
		} else if !ok {
			e.logger.InfoTag("ASR", "声纹不匹配，丢弃语音段")
			return "", nil
		}
	}
	return e.provider.Transcribe(ctx, utt)
}

func (e *Engine) Close() error {
	return e.provider.Close()
}
