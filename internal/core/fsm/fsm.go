package fsm

import (
	"context"
	"sync/atomic"
	"time"

	"moechat-server-go/internal/core/eventbus"
	"moechat-server-go/internal/platform/config"
	"moechat-server-go/internal/utils"
)

// State 会话全局状态
type State string

const (
	StateIdle         State = "idle"
	StateListening    State = "listening"
	StateUserSpeaking State = "user_speaking"
	StateProcessing   State = "processing"
	StateAISpeaking   State = "ai_speaking"
	StateCooldown     State = "cooldown"
	StateError        State = "error"
)

// Actions 状态机向数据面下发的动作，由会话层实现。
// 所有方法必须快速返回，不得阻塞控制面。
type Actions interface {
	StartTurn(turnID int64, userText string)
	CancelTurn()
	StopPlayback()
	SetMute(muted bool)
}

type eventKind int

const (
	evStartVoice eventKind = iota
	evStopVoice
	evVADStart
	evVADEnd
	evUserUtterance
	evSendText
	evFirstOutput
	evTurnFinished
	evInterrupt
	evCooldownExpired
	evFatalError
)

type event struct {
	kind     eventKind
	text     string
	turnID   int64
	turnOK   bool
	cooldown uint64 // 冷却代数，过期定时器据此丢弃
	reply    chan bool
}

// Machine 单协程邮箱驱动的会话状态机。
// 所有转移都发生在Run协程里，对外方法只投递事件，线程安全。
type Machine struct {
	cfg     *config.FSMConfig
	actions Actions
	bus     *eventbus.Bus
	logger  *utils.Logger

	mailbox chan event
	state   atomic.Value // State
	turnSeq atomic.Int64
	inTurn  atomic.Bool

	lastAccepted time.Time
	cooldownGen  uint64
}

func NewMachine(cfg *config.FSMConfig, actions Actions, bus *eventbus.Bus, logger *utils.Logger) *Machine {
	m := &Machine{
		cfg:     cfg,
		actions: actions,
		bus:     bus,
		logger:  logger,
		mailbox: make(chan event, 32),
	}
	m.state.Store(StateIdle)
	return m
}

// State 当前状态快照
func (m *Machine) State() State {
	return m.state.Load().(State)
}

// InTurn 当前是否有存活的轮次
func (m *Machine) InTurn() bool {
	return m.inTurn.Load()
}

// CurrentTurnID 最近铸出的轮次号
func (m *Machine) CurrentTurnID() int64 {
	return m.turnSeq.Load()
}

// Run 驱动邮箱循环直到ctx取消
func (m *Machine) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-m.mailbox:
			m.handle(ev)
		}
	}
}

// StartVoice 进入收音。只在Idle有效，Error要先StopVoice复位。
func (m *Machine) StartVoice() bool {
	return m.post(event{kind: evStartVoice, reply: make(chan bool, 1)})
}

// StopVoice 任意状态回到Idle
func (m *Machine) StopVoice() bool {
	return m.post(event{kind: evStopVoice, reply: make(chan bool, 1)})
}

// Interrupt 打断当前轮次
func (m *Machine) Interrupt() bool {
	return m.post(event{kind: evInterrupt, reply: make(chan bool, 1)})
}

// OnVADStart 检测到用户开口
func (m *Machine) OnVADStart() {
	m.mailbox <- event{kind: evVADStart}
}

// OnVADEnd 用户语音段闭合，转写进行中
func (m *Machine) OnVADEnd() {
	m.mailbox <- event{kind: evVADEnd}
}

// OnUserUtterance 转写完成。text为空表示本段作废。
func (m *Machine) OnUserUtterance(text string) {
	m.mailbox <- event{kind: evUserUtterance, text: text}
}

// SendText 注入一条文本輸入的用户轮
func (m *Machine) SendText(text string) bool {
	return m.post(event{kind: evSendText, text: text, reply: make(chan bool, 1)})
}

// OnFirstOutput 本轮第一个音频或文本增量就绪
func (m *Machine) OnFirstOutput() {
	m.mailbox <- event{kind: evFirstOutput}
}

// OnTurnFinished 协调器已返回且播放队列排空。
// turnID不是当前轮时视为迟到的陈旧通知，直接忽略。
func (m *Machine) OnTurnFinished(turnID int64, completed bool) {
	m.mailbox <- event{kind: evTurnFinished, turnID: turnID, turnOK: completed}
}

// OnFatalError 设备级错误，需要stop_voice+start_voice才能恢复
func (m *Machine) OnFatalError() {
	m.mailbox <- event{kind: evFatalError}
}

func (m *Machine) post(ev event) bool {
	m.mailbox <- ev
	return <-ev.reply
}

func (m *Machine) handle(ev event) {
	ok := false
	switch ev.kind {
	case evStartVoice:
		ok = m.handleStartVoice()
	case evStopVoice:
		ok = m.handleStopVoice()
	case evVADStart:
		m.handleVADStart()
	case evVADEnd:
		m.handleVADEnd()
	case evUserUtterance:
		m.handleUserUtterance(ev.text)
	case evSendText:
		ok = m.handleSendText(ev.text)
	case evFirstOutput:
		m.handleFirstOutput()
	case evTurnFinished:
		m.handleTurnFinished(ev.turnID)
	case evInterrupt:
		ok = m.handleInterrupt()
	case evCooldownExpired:
		m.handleCooldownExpired(ev.cooldown)
	case evFatalError:
		m.transition(StateError)
		if m.inTurn.Load() {
			m.actions.CancelTurn()
			m.actions.StopPlayback()
			m.inTurn.Store(false)
		}
	}
	if ev.reply != nil {
		ev.reply <- ok
	}
}

func (m *Machine) handleStartVoice() bool {
	switch m.State() {
	case StateIdle:
		m.transition(StateListening)
		return true
	default:
		return false
	}
}

func (m *Machine) handleStopVoice() bool {
	if m.inTurn.Load() {
		m.actions.CancelTurn()
		m.actions.StopPlayback()
		m.inTurn.Store(false)
	}
	m.actions.SetMute(false)
	m.transition(StateIdle)
	return true
}

func (m *Machine) handleVADStart() {
	switch m.State() {
	case StateListening:
		m.transition(StateUserSpeaking)
	case StateAISpeaking:
		// 语音打断: 取消当前轮并继续收完打断语音段
		m.logger.InfoTag("状态机", "检测到语音打断，取消第%d轮", m.turnSeq.Load())
		m.bargeIn()
		m.transition(StateUserSpeaking)
	}
}

func (m *Machine) handleVADEnd() {
	if m.State() == StateUserSpeaking {
		m.transition(StateProcessing)
	}
}

func (m *Machine) handleUserUtterance(text string) {
	if m.State() != StateProcessing {
		m.logger.DebugTag("状态机", "非Processing状态下的转写结果被忽略")
		return
	}
	if text == "" {
		// 识别失败或被声纹拒绝，本轮作废
		m.enterCooldown()
		return
	}
	if !m.lastAccepted.IsZero() && time.Since(m.lastAccepted) < time.Duration(m.cfg.MinUserIntervalMS)*time.Millisecond {
		m.logger.InfoTag("状态机", "用户输入间隔过短，丢弃: %s", utils.SanitizeForLog(text))
		m.enterCooldown()
		return
	}
	m.acceptTurn(text)
}

func (m *Machine) handleSendText(text string) bool {
	if text == "" {
		return false
	}
	switch m.State() {
	case StateIdle, StateListening:
		m.transition(StateProcessing)
		m.acceptTurn(text)
		return true
	default:
		return false
	}
}

func (m *Machine) handleFirstOutput() {
	if m.State() == StateProcessing {
		m.actions.SetMute(true)
		m.transition(StateAISpeaking)
	}
}

func (m *Machine) handleTurnFinished(turnID int64) {
	if turnID != m.turnSeq.Load() {
		return
	}
	m.inTurn.Store(false)
	switch m.State() {
	case StateProcessing, StateAISpeaking:
		m.enterCooldown()
	}
}

func (m *Machine) handleInterrupt() bool {
	switch m.State() {
	case StateAISpeaking, StateProcessing:
		m.bargeIn()
		m.transition(StateListening)
		return true
	default:
		return false
	}
}

func (m *Machine) handleCooldownExpired(gen uint64) {
	if gen != m.cooldownGen || m.State() != StateCooldown {
		return
	}
	m.actions.SetMute(false)
	m.transition(StateListening)
}

// acceptTurn 铸出新轮次号并启动协调器
func (m *Machine) acceptTurn(text string) {
	// 防御: 不允许两轮并存
	if m.inTurn.Load() {
		m.actions.CancelTurn()
	}
	m.lastAccepted = time.Now()
	turnID := m.turnSeq.Add(1)
	m.inTurn.Store(true)
	m.logger.InfoTag("状态机", "第%d轮开始: %s", turnID, utils.SanitizeForLog(text))
	m.actions.StartTurn(turnID, text)
}

// bargeIn 打断路径: 取消协调器、掐断播放、解除静音
func (m *Machine) bargeIn() {
	m.actions.CancelTurn()
	m.actions.StopPlayback()
	m.actions.SetMute(false)
	m.inTurn.Store(false)
}

// enterCooldown 进入冷却，到点回到Listening
func (m *Machine) enterCooldown() {
	m.transition(StateCooldown)
	m.cooldownGen++
	gen := m.cooldownGen
	time.AfterFunc(time.Duration(m.cfg.CooldownMS)*time.Millisecond, func() {
		m.mailbox <- event{kind: evCooldownExpired, cooldown: gen}
	})
}

func (m *Machine) transition(to State) {
	from := m.State()
	if from == to {
		return
	}
	m.state.Store(to)
	m.logger.DebugTag("状态机", "%s -> %s", from, to)
	if m.bus != nil {
		m.bus.Publish(eventbus.TopicStateChanged, string(from), string(to))
	}
}
