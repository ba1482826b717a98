package session

import (
	"context"
	"math"
	"sync"
	"sync/atomic"

	"moechat-server-go/internal/core/audio"
	"moechat-server-go/internal/core/chat"
	"moechat-server-go/internal/core/eventbus"
	"moechat-server-go/internal/core/fsm"
	"moechat-server-go/internal/core/pipeline"
	"moechat-server-go/internal/core/providers/asr"
	"moechat-server-go/internal/core/providers/llm"
	"moechat-server-go/internal/core/providers/tts"
	"moechat-server-go/internal/core/vad"
	"moechat-server-go/internal/platform/config"
	"moechat-server-go/internal/utils"
)

// 戳一戳注入的用户消息
const pokeUserText = "（用户戳了戳你）"

// FrameSource 麦克风抽象，便于无设备环境下替换
type FrameSource interface {
	Start(ctx context.Context) error
	Frames() <-chan audio.Frame
	SetMuted(muted bool)
	DroppedFrames() int64
}

// Playback 扬声器抽象
type Playback interface {
	Play(blob []byte) error
	Stop()
}

// Deps 会话的全部外部依赖，构造后不再变化
type Deps struct {
	LLM      llm.Provider
	TTS      tts.Provider
	ASR      *asr.Engine
	Detector vad.Detector
	Recorder FrameSource // nil表示纯文本会话
	Player   Playback    // nil表示不在本机放音
	Logger   *utils.Logger
	Bus      *eventbus.Bus
}

type playItem struct {
	turnID int64
	blob   []byte
	wg     *sync.WaitGroup
}

// Session 对外会话门面。控制面全部串行到状态机邮箱，
// 本类型的公开方法可以从任意协程调用。
type Session struct {
	cfg    *config.Config
	logger *utils.Logger
	bus    *eventbus.Bus

	dialogue *chat.DialogueManager
	machine  *fsm.Machine
	coord    *pipeline.Coordinator
	deps     Deps
	events   *broadcaster

	ctx    context.Context
	cancel context.CancelFunc

	turnMu     sync.Mutex
	turnCancel context.CancelFunc

	// 播放队列按轮次号过滤，被取消轮次的遗留音频直接跳过
	playQueue      chan playItem
	discardThrough atomic.Int64

	voiceMu     sync.Mutex
	voiceCancel context.CancelFunc
	voiceDone   chan struct{}

	pokePending   atomic.Bool
	talkRounds    atomic.Int64
	audioSegments atomic.Int64
}

func New(cfg *config.Config, deps Deps) *Session {
	s := &Session{
		cfg:       cfg,
		logger:    deps.Logger,
		bus:       deps.Bus,
		dialogue:  chat.NewDialogueManager(deps.Logger),
		coord:     pipeline.NewCoordinator(cfg, deps.LLM, deps.TTS, deps.Logger),
		deps:      deps,
		events:    newBroadcaster(),
		playQueue: make(chan playItem, cfg.Pipeline.AudioQueueCap),
	}
	s.dialogue.SetSystemMessage(cfg.System.DefaultPrompt)
	s.machine = fsm.NewMachine(&cfg.FSM, s, deps.Bus, deps.Logger)
	return s
}

// Start 启动控制面循环和播放协程
func (s *Session) Start(ctx context.Context) error {
	s.ctx, s.cancel = context.WithCancel(ctx)

	if err := s.bus.Subscribe(eventbus.TopicStateChanged, s.onStateChanged); err != nil {
		return err
	}
	go s.machine.Run(s.ctx)
	go s.playbackWorker()
	s.logger.InfoTag("会话", "会话启动")
	return nil
}

// Close 结束会话并释放订阅者
func (s *Session) Close() {
	if s.cancel != nil {
		s.cancel()
	}
	s.stopVoiceLoop()
	s.bus.Unsubscribe(eventbus.TopicStateChanged, s.onStateChanged)
	s.events.close()
	s.logger.InfoTag("会话", "会话关闭")
}

func (s *Session) onStateChanged(from, to string) {
	s.emit(record{"type": "state", "state": to})
}

// Subscribe 订阅UI事件流
func (s *Session) Subscribe() (<-chan []byte, func()) {
	return s.events.Subscribe()
}

// SendText 注入一条文本用户轮
func (s *Session) SendText(text string) bool {
	return s.machine.SendText(text)
}

// StartVoice 打开麦克风进入收音
func (s *Session) StartVoice() bool {
	if s.deps.Recorder == nil {
		s.logger.WarnTag("会话", "没有可用的音频输入设备")
		return false
	}
	if !s.machine.StartVoice() {
		return false
	}
	if err := s.startVoiceLoop(); err != nil {
		s.logger.ErrorTag("会话", "启动语音链路失败: %v", err)
		s.machine.OnFatalError()
		return false
	}
	return true
}

// StopVoice 关麦并回到Idle
func (s *Session) StopVoice() bool {
	s.stopVoiceLoop()
	return s.machine.StopVoice()
}

// Interrupt 打断当前播报
func (s *Session) Interrupt() bool {
	return s.machine.Interrupt()
}

// Poke 戳一戳: 用专属系统提示词发起一轮，效果等同一次特殊的文本输入
func (s *Session) Poke() bool {
	s.pokePending.Store(true)
	ok := s.machine.SendText(pokeUserText)
	if !ok {
		s.pokePending.Store(false)
	}
	return ok
}

// StartTurn fsm.Actions实现，在控制面协程被调用，必须立即返回
func (s *Session) StartTurn(turnID int64, userText string) {
	var history []chat.Message
	if s.pokePending.Swap(false) {
		history = append(s.dialogue.SnapshotWithSystem(s.cfg.System.PokePrompt),
			chat.Message{Role: "user", Content: userText})
	} else {
		s.dialogue.Put(chat.Message{Role: "user", Content: userText})
		history = s.dialogue.Snapshot()
	}

	turnCtx, cancel := context.WithCancel(s.ctx)
	s.turnMu.Lock()
	s.turnCancel = cancel
	s.turnMu.Unlock()

	go s.runTurn(turnCtx, turnID, history)
}

// CancelTurn fsm.Actions实现
func (s *Session) CancelTurn() {
	s.turnMu.Lock()
	cancel := s.turnCancel
	s.turnCancel = nil
	s.turnMu.Unlock()
	if cancel != nil {
		cancel()
	}
	s.discardThrough.Store(s.machine.CurrentTurnID())
}

// StopPlayback fsm.Actions实现
func (s *Session) StopPlayback() {
	if s.deps.Player != nil {
		s.deps.Player.Stop()
	}
}

// SetMute fsm.Actions实现
func (s *Session) SetMute(muted bool) {
	if s.deps.Recorder != nil && s.cfg.Audio.MuteDuringPlayback {
		s.deps.Recorder.SetMuted(muted)
	}
}

// runTurn 驱动一轮并在播放排空后通知状态机
func (s *Session) runTurn(ctx context.Context, turnID int64, history []chat.Message) {
	out := make(chan pipeline.Event, 16)
	var playbackWG sync.WaitGroup
	consumerDone := make(chan struct{})

	go func() {
		defer close(consumerDone)
		first := true
		for ev := range out {
			if first && (ev.Type == pipeline.EventTextDelta || ev.Type == pipeline.EventAudioReady) {
				first = false
				s.machine.OnFirstOutput()
			}
			if ev.Type == pipeline.EventAudioReady {
				s.audioSegments.Add(1)
				playbackWG.Add(1)
				select {
				case s.playQueue <- playItem{turnID: turnID, blob: ev.Blob, wg: &playbackWG}:
				case <-s.ctx.Done():
					playbackWG.Done()
				}
			}
			s.emitPipelineEvent(ev)
		}
	}()

	result := s.coord.RunTurn(ctx, turnID, history, out)
	close(out)
	<-consumerDone
	playbackWG.Wait()

	if result.Completed && result.FullText != "" {
		s.dialogue.Put(chat.Message{Role: "assistant", Content: result.FullText})
		s.talkRounds.Add(1)
	}
	s.machine.OnTurnFinished(turnID, result.Completed)
}

// playbackWorker 单写者串行放音
func (s *Session) playbackWorker() {
	for {
		select {
		case <-s.ctx.Done():
			return
		case item := <-s.playQueue:
			if item.turnID != math.MaxInt64 && item.turnID <= s.discardThrough.Load() {
				item.wg.Done()
				continue
			}
			if s.deps.Player != nil {
				if err := s.deps.Player.Play(item.blob); err != nil {
					s.logger.WarnTag("音频", "播放失败: %v", err)
				}
			}
			item.wg.Done()
		}
	}
}

// startVoiceLoop 组装 麦克风→VAD→ASR→状态机 的数据链路
func (s *Session) startVoiceLoop() error {
	s.voiceMu.Lock()
	defer s.voiceMu.Unlock()
	if s.voiceCancel != nil {
		return nil
	}
	voiceCtx, cancel := context.WithCancel(s.ctx)

	if err := s.deps.Recorder.Start(voiceCtx); err != nil {
		cancel()
		return err
	}
	s.voiceCancel = cancel
	done := make(chan struct{})
	s.voiceDone = done

	segmenter := vad.NewSegmenter(&s.cfg.VAD, s.deps.Detector, s.logger)
	segmenter.OnSpeechStart = s.machine.OnVADStart
	utterances := make(chan vad.Utterance, 4)

	go func() {
		defer close(utterances)
		segmenter.Run(voiceCtx, s.deps.Recorder.Frames(), utterances)
	}()
	go func() {
		defer close(done)
		for utt := range utterances {
			s.handleUtterance(voiceCtx, utt)
		}
	}()
	return nil
}

func (s *Session) stopVoiceLoop() {
	s.voiceMu.Lock()
	defer s.voiceMu.Unlock()
	if s.voiceCancel == nil {
		return
	}
	s.voiceCancel()
	s.voiceCancel = nil
	// 等旧链路放开帧通道，避免与下一次启动抢帧
	<-s.voiceDone
	s.voiceDone = nil
}

// handleUtterance 闭合语音段: 转写、命令识别、送入状态机
func (s *Session) handleUtterance(ctx context.Context, utt vad.Utterance) {
	s.machine.OnVADEnd()

	text, err := s.deps.ASR.Transcribe(ctx, utt)
	if err != nil {
		s.logger.ErrorTag("ASR", "转写失败: %v", err)
		s.bus.Publish(eventbus.TopicError, "asr", err.Error())
		s.emit(record{"type": "error", "where": "asr", "message": err.Error()})
		s.machine.OnUserUtterance("")
		return
	}
	if text == "" {
		s.machine.OnUserUtterance("")
		return
	}
	s.emit(record{"type": "user_text", "text": text})

	plain := utils.RemoveAllPunctuation(text)
	if s.isExitCommand(plain) {
		s.logger.InfoTag("会话", "命中退出口令: %s", utils.SanitizeForLog(text))
		s.machine.OnUserUtterance("")
		// 本goroutine就是语音链路的一环，异步停麦防止自锁
		go s.StopVoice()
		return
	}
	if reply, ok := s.matchWakeWord(plain); ok {
		s.machine.OnUserUtterance("")
		s.quickReply(ctx, reply)
		return
	}
	s.machine.OnUserUtterance(text)
}

func (s *Session) isExitCommand(plain string) bool {
	for _, cmd := range s.cfg.System.CMDExit {
		if plain == utils.RemoveAllPunctuation(cmd) {
			return true
		}
	}
	return false
}

// matchWakeWord 纯唤醒词输入走快捷答复，免去一次LLM往返
func (s *Session) matchWakeWord(plain string) (string, bool) {
	if !s.cfg.QuickReply.Enabled || len(s.cfg.QuickReply.Words) == 0 {
		return "", false
	}
	for _, w := range s.cfg.System.WakeWords {
		if plain == utils.RemoveAllPunctuation(w) {
			idx := int(s.talkRounds.Load()) % len(s.cfg.QuickReply.Words)
			return s.cfg.QuickReply.Words[idx], true
		}
	}
	return "", false
}

// quickReply 直接合成并播放快捷答复，不占用轮次
func (s *Session) quickReply(ctx context.Context, reply string) {
	s.emit(record{"type": "text_delta", "text": reply})
	blob, err := s.deps.TTS.Synthesize(ctx, reply, "")
	if err != nil || blob == nil {
		if err != nil {
			s.logger.WarnTag("TTS", "快捷答复合成失败: %v", err)
		}
		return
	}
	var wg sync.WaitGroup
	wg.Add(1)
	select {
	case s.playQueue <- playItem{turnID: math.MaxInt64, blob: blob, wg: &wg}:
		wg.Wait()
	case <-s.ctx.Done():
		wg.Done()
	}
}
