package tts

import (
	"context"
	"encoding/binary"
	"fmt"

	"moechat-server-go/internal/platform/config"
	"moechat-server-go/internal/utils"
)

// Provider TTS提供者接口。合成成功返回音频字节(MP3或WAV)；
// 文本清洗后为空时返回(nil, nil)表示跳过；合成失败返回错误。
// 单次调用无共享状态，styleRef为空时用默认参考音色。
type Provider interface {
	Synthesize(ctx context.Context, text, styleRef string) ([]byte, error)
	Close() error
}

// Factory TTS提供者工厂函数
type Factory func(cfg *config.TTSConfig, styles map[string]config.StyleRef, logger *utils.Logger) (Provider, error)

var factories = make(map[string]Factory)

// Register 注册TTS提供者工厂
func Register(name string, factory Factory) {
	factories[name] = factory
}

// Create 创建TTS提供者实例
func Create(name string, cfg *config.TTSConfig, styles map[string]config.StyleRef, logger *utils.Logger) (Provider, error) {
	factory, ok := factories[name]
	if !ok {
		return nil, fmt.Errorf("未知的TTS提供者: %s", name)
	}
	provider, err := factory(cfg, styles, logger)
	if err != nil {
		return nil, fmt.Errorf("创建TTS提供者失败: %v", err)
	}
	return provider, nil
}

// EstimateDurationMS 估算音频时长。只有WAV能从头部精确算出，其余返回0。
func EstimateDurationMS(blob []byte) int {
	if len(blob) < 44 || string(blob[0:4]) != "RIFF" || string(blob[8:12]) != "WAVE" {
		return 0
	}
	rate := int(binary.LittleEndian.Uint32(blob[24:28]))
	blockAlign := int(binary.LittleEndian.Uint16(blob[32:34]))
	if rate <= 0 || blockAlign <= 0 {
		return 0
	}
	pcm, err := utils.WavToPCM(blob)
	if err != nil {
		return 0
	}
	return len(pcm) * 1000 / (rate * blockAlign)
}
