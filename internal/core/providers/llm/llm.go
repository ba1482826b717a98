package llm

import (
	"context"
	"fmt"

	"moechat-server-go/internal/core/chat"
	"moechat-server-go/internal/platform/config"
	"moechat-server-go/internal/utils"
)

// Delta 流式回复的一个文本增量。Err非空表示流异常终止，之后通道关闭，
// 此前的增量仍然有效。
type Delta struct {
	Text string
	Err  error
}

// Provider LLM提供者接口。返回的通道在流结束或出错后关闭，
// ctx取消后一次迭代内停止产出。提供者不得改写增量文本。
type Provider interface {
	Stream(ctx context.Context, messages []chat.Message) (<-chan Delta, error)
	Close() error
}

// Factory LLM提供者工厂函数
type Factory func(cfg *config.LLMConfig, logger *utils.Logger) (Provider, error)

var factories = make(map[string]Factory)

// Register 注册LLM提供者工厂
func Register(name string, factory Factory) {
	factories[name] = factory
}

// Create 创建LLM提供者实例
func Create(name string, cfg *config.LLMConfig, logger *utils.Logger) (Provider, error) {
	factory, ok := factories[name]
	if !ok {
		return nil, fmt.Errorf("未知的LLM提供者: %s", name)
	}
	provider, err := factory(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("创建LLM提供者失败: %v", err)
	}
	return provider, nil
}
