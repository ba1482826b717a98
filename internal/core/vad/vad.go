package vad

import (
	"fmt"

	"moechat-server-go/internal/platform/config"
	"moechat-server-go/internal/utils"
)

// Detector 判定一帧音频是否包含人声
type Detector interface {
	IsSpeech(samples []int16, sampleRate int) (bool, error)
	Reset()
	Close() error
}

// Factory VAD检测器工厂函数
type Factory func(cfg *config.VADConfig, logger *utils.Logger) (Detector, error)

var factories = make(map[string]Factory)

// Register 注册VAD检测器工厂
func Register(name string, factory Factory) {
	factories[name] = factory
}

// Create 创建VAD检测器实例
func Create(name string, cfg *config.VADConfig, logger *utils.Logger) (Detector, error) {
	factory, ok := factories[name]
	if !ok {
		return nil, fmt.Errorf("未知的VAD提供者: %s", name)
	}
	detector, err := factory(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("创建VAD检测器失败: %v", err)
	}
	return detector, nil
}
