package session

import (
	"encoding/base64"
	"sync"

	"github.com/bytedance/sonic"

	"moechat-server-go/internal/core/eventbus"
	"moechat-server-go/internal/core/pipeline"
	"moechat-server-go/internal/utils"
)

// record 发往UI的一条JSON事件
type record map[string]interface{}

// broadcaster 把序列化后的事件按订阅者扇出。
// 订阅者消费过慢时丢最旧的事件，保证会话主流程不被堵住。
type broadcaster struct {
	mu   sync.Mutex
	seq  int
	subs map[int]chan []byte
}

func newBroadcaster() *broadcaster {
	return &broadcaster{subs: make(map[int]chan []byte)}
}

// Subscribe 返回事件通道和退订函数
func (b *broadcaster) Subscribe() (<-chan []byte, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.seq
	b.seq++
	ch := make(chan []byte, 64)
	b.subs[id] = ch
	return ch, func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if c, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(c)
		}
	}
}

func (b *broadcaster) publish(data []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subs {
		select {
		case ch <- data:
		default:
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- data:
			default:
			}
		}
	}
}

func (b *broadcaster) close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for id, ch := range b.subs {
		delete(b.subs, id)
		close(ch)
	}
}

// emit 序列化一条事件记录并广播
func (s *Session) emit(rec record) {
	data, err := sonic.Marshal(rec)
	if err != nil {
		s.logger.ErrorTag("会话", "事件序列化失败: %v", err)
		return
	}
	s.events.publish(data)
	s.bus.Publish(eventbus.TopicSessionEvent, data)
}

// emitPipelineEvent 把管道事件翻译成UI记录
func (s *Session) emitPipelineEvent(ev pipeline.Event) {
	switch ev.Type {
	case pipeline.EventAudioReady:
		rec := record{
			"type":     "audio",
			"order":    ev.Order,
			"blob_b64": base64.URLEncoding.EncodeToString(ev.Blob),
			"text":     ev.Text,
		}
		if ev.Style != "" {
			rec["style"] = ev.Style
			rec["emotion"] = utils.GetEmotionEmoji(ev.Style)
		}
		s.emit(rec)
	case pipeline.EventTextDelta:
		s.emit(record{"type": "text_delta", "text": ev.Text})
	case pipeline.EventControl:
		s.emit(record{"type": "control", "kind": ev.Kind, "payload": ev.Payload})
	case pipeline.EventTurnDone:
		s.emit(record{"type": "turn_done", "full_text": ev.Text})
	case pipeline.EventError:
		rec := record{"type": "error", "where": ev.Where, "message": ev.Message}
		if ev.Where == "tts" {
			rec["order"] = ev.Order
		}
		s.bus.Publish(eventbus.TopicError, ev.Where, ev.Message)
		s.emit(rec)
	}
}
