package pipeline

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"moechat-server-go/internal/core/chat"
	"moechat-server-go/internal/core/providers/llm"
	"moechat-server-go/internal/core/providers/tts"
	"moechat-server-go/internal/core/segment"
	"moechat-server-go/internal/platform/config"
	"moechat-server-go/internal/utils"
)

// audioItem 每个分段恰好产出一个，失败和跳过也占位，保证发射端能推进序号
type audioItem struct {
	order int
	text  string
	style string
	blob  []byte
	err   error
}

// TurnResult 一轮结束后的汇总
type TurnResult struct {
	FullText  string // 清洗后的全文，取消时可能只有部分
	Completed bool   // 正常走完并发出turn_done
}

// Coordinator 驱动一轮回复:
//
//	LLM工作协程 → [分段队列] → TTS工作协程 → [音频队列] → 发射协程
//
// 两个有界队列向上游施加背压。取消通过ctx传递，取消后不再发出任何事件。
type Coordinator struct {
	cfg    *config.Config
	llm    llm.Provider
	tts    tts.Provider
	styles []string
	logger *utils.Logger
}

func NewCoordinator(cfg *config.Config, llmProvider llm.Provider, ttsProvider tts.Provider, logger *utils.Logger) *Coordinator {
	styles := make([]string, 0, len(cfg.Style))
	for tag := range cfg.Style {
		styles = append(styles, tag)
	}
	return &Coordinator{
		cfg:    cfg,
		llm:    llmProvider,
		tts:    ttsProvider,
		styles: styles,
		logger: logger,
	}
}

// RunTurn 端到端跑完一轮，事件写入out。阻塞直到本轮结束或被取消。
func (c *Coordinator) RunTurn(ctx context.Context, turnID int64, history []chat.Message, out chan<- Event) TurnResult {
	ctx, cancel := context.WithTimeout(ctx, time.Duration(c.cfg.FSM.MaxTurnMS)*time.Millisecond)
	defer cancel()

	phraseCh := make(chan segment.Phrase, c.cfg.Pipeline.PhraseQueueCap)
	audioCh := make(chan audioItem, c.cfg.Pipeline.AudioQueueCap)

	var fullText string
	var llmFailed atomic.Bool

	emit := func(ev Event) bool {
		if ctx.Err() != nil {
			return false
		}
		ev.TurnID = turnID
		select {
		case out <- ev:
			return true
		case <-ctx.Done():
			return false
		}
	}

	g, gctx := errgroup.WithContext(ctx)

	// LLM工作协程: 拉增量喂分段器，分段进队列，增量直接上屏
	g.Go(func() error {
		defer close(phraseCh)

		seg := segment.New(c.styles,
			func(p segment.Phrase) {
				select {
				case phraseCh <- p:
				case <-gctx.Done():
				}
			},
			func(ctl segment.Control) {
				emit(Event{Type: EventControl, Kind: ctl.Kind, Payload: ctl.Payload})
			},
		)

		deltas, err := c.llm.Stream(gctx, history)
		if err != nil {
			llmFailed.Store(true)
			emit(Event{Type: EventError, Where: "llm", Message: err.Error()})
			return nil
		}
		for d := range deltas {
			if gctx.Err() != nil {
				seg.Abort()
				return nil
			}
			if d.Err != nil {
				// 流中途出错: 已有增量仍然有效，剩余缓冲照常冲刷上嘴
				llmFailed.Store(true)
				emit(Event{Type: EventError, Where: "llm", Message: d.Err.Error()})
				break
			}
			emit(Event{Type: EventTextDelta, Text: d.Text})
			seg.Feed(d.Text)
		}
		if gctx.Err() != nil {
			seg.Abort()
			return nil
		}
		fullText = seg.Finish()
		return nil
	})

	// TTS工作协程池: 单协程天然有序，多协程由发射端按序号重排
	var ttsWG sync.WaitGroup
	workers := c.cfg.Pipeline.TTSWorkers
	if workers < 1 {
		workers = 1
	}
	for i := 0; i < workers; i++ {
		ttsWG.Add(1)
		g.Go(func() error {
			defer ttsWG.Done()
			for phrase := range phraseCh {
				if gctx.Err() != nil {
					continue
				}
				// 表情符号不送合成，纯表情分段以空blob占位
				ttsText := utils.RemoveAllEmoji(phrase.Text)
				var blob []byte
				var err error
				if ttsText != "" {
					// 取消时放任在途合成自己收尾，结果在发射端丢弃
					blob, err = c.tts.Synthesize(context.WithoutCancel(gctx), ttsText, phrase.StyleRef)
				}
				item := audioItem{order: phrase.OrderIndex, text: phrase.Text, style: phrase.StyleRef, blob: blob, err: err}
				select {
				case audioCh <- item:
				case <-gctx.Done():
				}
			}
			return nil
		})
	}
	go func() {
		ttsWG.Wait()
		close(audioCh)
	}()

	// 发射协程: 按order连续推进，失败的分段以带序号的错误事件占位
	g.Go(func() error {
		next := 0
		pending := make(map[int]audioItem)
		for item := range audioCh {
			pending[item.order] = item
			for {
				cur, ok := pending[next]
				if !ok {
					break
				}
				delete(pending, next)
				c.emitItem(emit, cur)
				next++
			}
		}
		return nil
	})

	g.Wait()

	completed := false
	if ctx.Err() == nil && !llmFailed.Load() {
		completed = emit(Event{Type: EventTurnDone, Text: fullText})
	}
	if ctx.Err() != nil {
		c.logger.InfoTag("管道", "第%d轮被取消", turnID)
	}
	return TurnResult{FullText: fullText, Completed: completed}
}

func (c *Coordinator) emitItem(emit func(Event) bool, item audioItem) {
	switch {
	case item.err != nil:
		c.logger.WarnTag("TTS", "第%d段合成失败: %v", item.order, item.err)
		emit(Event{Type: EventError, Where: "tts", Order: item.order, Message: item.err.Error()})
	case item.blob == nil:
		// 清洗后为空的分段静默跳过
	default:
		emit(Event{
			Type:           EventAudioReady,
			Order:          item.order,
			Blob:           item.blob,
			Text:           item.text,
			Style:          item.style,
			DurationHintMS: tts.EstimateDurationMS(item.blob),
		})
	}
}
