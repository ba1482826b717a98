package chat

import (
	"sync"
	"time"

	"moechat-server-go/internal/utils"
)

// Message 对话历史中的一条消息
type Message struct {
	Role      string    `json:"role"` // system / user / assistant / tool
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// DialogueManager 管理单个会话的对话历史。
// 状态机是唯一写入方，LLM工作协程在轮次开始时做一次快照读取。
type DialogueManager struct {
	mu       sync.RWMutex
	logger   *utils.Logger
	system   Message
	dialogue []Message
	maxTurns int // 保留的最大历史条数，0表示不限制
}

// NewDialogueManager 创建对话管理器
func NewDialogueManager(logger *utils.Logger) *DialogueManager {
	return &DialogueManager{
		logger:   logger,
		maxTurns: 40,
	}
}

// SetSystemMessage 设置系统提示词
func (dm *DialogueManager) SetSystemMessage(prompt string) {
	dm.mu.Lock()
	defer dm.mu.Unlock()
	dm.system = Message{
		Role:      "system",
		Content:   prompt,
		CreatedAt: time.Now(),
	}
}

// Put 追加一条消息
func (dm *DialogueManager) Put(msg Message) {
	dm.mu.Lock()
	defer dm.mu.Unlock()
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}
	dm.dialogue = append(dm.dialogue, msg)
	// 裁剪过长历史，成对丢弃最早的消息
	if dm.maxTurns > 0 && len(dm.dialogue) > dm.maxTurns {
		dm.dialogue = dm.dialogue[len(dm.dialogue)-dm.maxTurns:]
	}
}

// Snapshot 返回供LLM使用的完整对话快照，系统提示在最前
func (dm *DialogueManager) Snapshot() []Message {
	dm.mu.RLock()
	defer dm.mu.RUnlock()
	out := make([]Message, 0, len(dm.dialogue)+1)
	if dm.system.Content != "" {
		out = append(out, dm.system)
	}
	out = append(out, dm.dialogue...)
	return out
}

// SnapshotWithSystem 用覆盖的系统提示生成快照，原历史不变（用于poke等一次性提示）
func (dm *DialogueManager) SnapshotWithSystem(prompt string) []Message {
	dm.mu.RLock()
	defer dm.mu.RUnlock()
	out := make([]Message, 0, len(dm.dialogue)+1)
	out = append(out, Message{Role: "system", Content: prompt, CreatedAt: time.Now()})
	out = append(out, dm.dialogue...)
	return out
}

// Len 当前历史条数（不含系统提示）
func (dm *DialogueManager) Len() int {
	dm.mu.RLock()
	defer dm.mu.RUnlock()
	return len(dm.dialogue)
}

// Clear 清空历史，系统提示保留
func (dm *DialogueManager) Clear() {
	dm.mu.Lock()
	defer dm.mu.Unlock()
	dm.dialogue = nil
}
