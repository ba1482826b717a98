package eventbus

import (
	evbus "github.com/asaskevich/EventBus"
)

// 会话内广播主题
const (
	TopicStateChanged = "session:state_changed" // args: old, new string
	TopicSessionEvent = "session:event"         // args: 序列化后的事件JSON
	TopicError        = "session:error"         // args: where, message string
)

// Bus 会话级事件总线，随会话注入而不是进程级单例
type Bus struct {
	bus evbus.Bus
}

func New() *Bus {
	return &Bus{bus: evbus.New()}
}

// Publish 同步发布事件
func (b *Bus) Publish(topic string, args ...interface{}) {
	b.bus.Publish(topic, args...)
}

// Subscribe 订阅事件
func (b *Bus) Subscribe(topic string, fn interface{}) error {
	return b.bus.Subscribe(topic, fn)
}

// SubscribeAsync 异步订阅事件，transactional=false允许并发回调
func (b *Bus) SubscribeAsync(topic string, fn interface{}) error {
	return b.bus.SubscribeAsync(topic, fn, false)
}

// Unsubscribe 退订事件
func (b *Bus) Unsubscribe(topic string, fn interface{}) error {
	return b.bus.Unsubscribe(topic, fn)
}

// Close 等待异步回调全部完成
func (b *Bus) Close() {
	b.bus.WaitAsync()
}
