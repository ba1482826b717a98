package openai

import (
	"context"
	"errors"
	"io"
	"sync/atomic"
	"time"

	"github.com/sashabaranov/go-openai"

	"moechat-server-go/internal/core/chat"
	"moechat-server-go/internal/core/providers/llm"
	"moechat-server-go/internal/platform/config"
	platerrors "moechat-server-go/internal/platform/errors"
	"moechat-server-go/internal/utils"
)

func init() {
	llm.Register("openai", func(cfg *config.LLMConfig, logger *utils.Logger) (llm.Provider, error) {
		return NewProvider(cfg, logger)
	})
}

// Provider 兼容OpenAI协议的流式LLM提供者
type Provider struct {
	client      *openai.Client
	model       string
	temperature float32
	maxTokens   int
	firstByte   time.Duration
	idle        time.Duration
	logger      *utils.Logger
}

func NewProvider(cfg *config.LLMConfig, logger *utils.Logger) (*Provider, error) {
	if cfg.APIKey == "" {
		return nil, platerrors.New(platerrors.KindConfig, "llm:openai", "未配置API密钥")
	}
	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.Endpoint != "" {
		clientConfig.BaseURL = cfg.Endpoint
	}

	maxTokens := 0
	if v, ok := cfg.Extra["max_tokens"]; ok {
		if n, ok := v.(int); ok {
			maxTokens = n
		}
	}

	return &Provider{
		client:      openai.NewClientWithConfig(clientConfig),
		model:       cfg.Model,
		temperature: float32(cfg.Temperature),
		maxTokens:   maxTokens,
		firstByte:   time.Duration(cfg.FirstByteMS) * time.Millisecond,
		idle:        time.Duration(cfg.IdleMS) * time.Millisecond,
		logger:      logger,
	}, nil
}

// Stream 提交对话历史，增量写入返回通道。
// 首包和相邻增量各有一个超时看门狗，超时后以LLM错误终止流。
func (p *Provider) Stream(ctx context.Context, messages []chat.Message) (<-chan llm.Delta, error) {
	deltas := make(chan llm.Delta, 10)

	go func() {
		defer close(deltas)

		chatMessages := make([]openai.ChatCompletionMessage, len(messages))
		for i, msg := range messages {
			chatMessages[i] = openai.ChatCompletionMessage{
				Role:    msg.Role,
				Content: msg.Content,
			}
		}

		streamCtx, cancel := context.WithCancel(ctx)
		defer cancel()

		var timedOut atomic.Bool
		watchdog := time.AfterFunc(p.firstByte, func() {
			timedOut.Store(true)
			cancel()
		})
		defer watchdog.Stop()

		started := time.Now()
		stream, err := p.client.CreateChatCompletionStream(streamCtx, openai.ChatCompletionRequest{
			Model:       p.model,
			Messages:    chatMessages,
			Temperature: p.temperature,
			MaxTokens:   p.maxTokens,
			Stream:      true,
		})
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			deltas <- llm.Delta{Err: platerrors.Wrap(platerrors.KindLLM, "llm:connect", "LLM服务连接失败", err)}
			return
		}
		defer stream.Close()

		first := true
		for {
			response, err := stream.Recv()
			if err != nil {
				if errors.Is(err, io.EOF) {
					return
				}
				if ctx.Err() != nil {
					// 上游主动取消，静默收尾
					return
				}
				if timedOut.Load() {
					deltas <- llm.Delta{Err: platerrors.New(platerrors.KindLLM, "llm:stream", "LLM流超时")}
					return
				}
				deltas <- llm.Delta{Err: platerrors.Wrap(platerrors.KindLLM, "llm:stream", "LLM流读取失败", err)}
				return
			}
			watchdog.Reset(p.idle)

			if len(response.Choices) == 0 {
				continue
			}
			content := response.Choices[0].Delta.Content
			if content == "" {
				continue
			}
			if first {
				p.logger.InfoTiming("LLM首包耗时 %dms", time.Since(started).Milliseconds())
				first = false
			}
			select {
			case deltas <- llm.Delta{Text: content}:
			case <-ctx.Done():
				return
			}
		}
	}()

	return deltas, nil
}

func (p *Provider) Close() error {
	return nil
}
