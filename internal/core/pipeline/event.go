package pipeline

// EventType 管道对外事件类型
type EventType string

const (
	EventAudioReady EventType = "audio"
	EventTextDelta  EventType = "text_delta"
	EventControl    EventType = "control"
	EventTurnDone   EventType = "turn_done"
	EventError      EventType = "error"
)

// Event 管道产出的一个对外事件。不同类型只填各自相关的字段。
type Event struct {
	Type   EventType
	TurnID int64

	// EventAudioReady / EventError(带序号的降级错误)
	Order          int
	Blob           []byte
	DurationHintMS int

	// EventAudioReady的分段文本 / EventTextDelta的增量 / EventTurnDone的全文
	Text string

	// EventAudioReady的情绪标签，空串表示默认音色
	Style string

	// EventControl
	Kind    string
	Payload string

	// EventError
	Where   string
	Message string
}
