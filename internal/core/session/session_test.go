package session

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bytedance/sonic"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"moechat-server-go/internal/core/chat"
	"moechat-server-go/internal/core/eventbus"
	"moechat-server-go/internal/core/providers/llm"
	"moechat-server-go/internal/platform/config"
	"moechat-server-go/internal/platform/errors"
	"moechat-server-go/internal/utils"
)

type fakeLLM struct {
	mu      sync.Mutex
	reply   []string
	history [][]chat.Message
}

func (f *fakeLLM) Stream(ctx context.Context, messages []chat.Message) (<-chan llm.Delta, error) {
	f.mu.Lock()
	snapshot := make([]chat.Message, len(messages))
	copy(snapshot, messages)
	f.history = append(f.history, snapshot)
	reply := f.reply
	f.mu.Unlock()

	out := make(chan llm.Delta, len(reply))
	go func() {
		defer close(out)
		for _, d := range reply {
			select {
			case out <- llm.Delta{Text: d}:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

func (f *fakeLLM) Close() error { return nil }

func (f *fakeLLM) lastHistory() []chat.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.history) == 0 {
		return nil
	}
	return f.history[len(f.history)-1]
}

type fakeTTS struct {
	calls   atomic.Int64
	delay   time.Duration
	failErr error
}

func (f *fakeTTS) Synthesize(ctx context.Context, text, styleRef string) ([]byte, error) {
	f.calls.Add(1)
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.failErr != nil {
		return nil, f.failErr
	}
	return []byte("audio:" + text), nil
}

func (f *fakeTTS) Close() error { return nil }

type fakePlayer struct {
	mu      sync.Mutex
	played  [][]byte
	stops   atomic.Int64
	perPlay time.Duration
	stopped atomic.Bool
}

func (f *fakePlayer) Play(blob []byte) error {
	f.mu.Lock()
	f.played = append(f.played, blob)
	f.mu.Unlock()
	if f.perPlay > 0 {
		deadline := time.Now().Add(f.perPlay)
		for time.Now().Before(deadline) {
			if f.stopped.Load() {
				return nil
			}
			time.Sleep(5 * time.Millisecond)
		}
	}
	return nil
}

func (f *fakePlayer) Stop() {
	f.stops.Add(1)
	f.stopped.Store(true)
}

func (f *fakePlayer) playedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.played)
}

func testConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.FSM.MinUserIntervalMS = 0
	cfg.FSM.CooldownMS = 20
	cfg.System.WakeWords = []string{"小助手"}
	return cfg
}

func newTestSession(t *testing.T, cfg *config.Config, llmProv *fakeLLM, ttsProv *fakeTTS, player *fakePlayer) *Session {
	t.Helper()
	logger, err := utils.NewLogger(&utils.LogCfg{LogLevel: "error", LogDir: t.TempDir()})
	require.NoError(t, err)

	s := New(cfg, Deps{
		LLM:    llmProv,
		TTS:    ttsProv,
		Logger: logger,
		Bus:    eventbus.New(),
		Player: player,
	})
	require.NoError(t, s.Start(context.Background()))
	t.Cleanup(s.Close)
	return s
}

// collect 读取事件流直到出现目标类型或超时，返回途中所有记录
func collect(t *testing.T, events <-chan []byte, until string, timeout time.Duration) []map[string]interface{} {
	t.Helper()
	deadline := time.After(timeout)
	var out []map[string]interface{}
	for {
		select {
		case raw, ok := <-events:
			if !ok {
				return out
			}
			var rec map[string]interface{}
			require.NoError(t, sonic.Unmarshal(raw, &rec))
			out = append(out, rec)
			if rec["type"] == until {
				return out
			}
		case <-deadline:
			t.Fatalf("等待 %s 事件超时, 已收到 %d 条", until, len(out))
		}
	}
}

func typesOf(records []map[string]interface{}) []string {
	var out []string
	for _, r := range records {
		out = append(out, r["type"].(string))
	}
	return out
}

func TestTextTurnEndToEnd(t *testing.T) {
	llmProv := &fakeLLM{reply: []string{"你好呀！", "今天想聊点什么？"}}
	ttsProv := &fakeTTS{}
	player := &fakePlayer{}
	s := newTestSession(t, testConfig(), llmProv, ttsProv, player)

	events, unsub := s.Subscribe()
	defer unsub()

	require.True(t, s.SendText("你好"))
	records := collect(t, events, "turn_done", 5*time.Second)

	types := typesOf(records)
	assert.Contains(t, types, "text_delta")
	assert.Contains(t, types, "audio")
	last := records[len(records)-1]
	assert.Equal(t, "你好呀！今天想聊点什么？", last["full_text"])

	assert.Eventually(t, func() bool {
		return player.playedCount() == 2
	}, 2*time.Second, 20*time.Millisecond)
	assert.Eventually(t, func() bool {
		return s.GetStatus().HistoryLen == 2 // user + assistant
	}, 2*time.Second, 20*time.Millisecond)
	assert.Eventually(t, func() bool {
		return s.GetStatus().TalkRounds == 1
	}, 2*time.Second, 20*time.Millisecond)
}

func TestHistoryCarriesAcrossTurns(t *testing.T) {
	llmProv := &fakeLLM{reply: []string{"好的。"}}
	s := newTestSession(t, testConfig(), llmProv, &fakeTTS{}, &fakePlayer{})

	events, unsub := s.Subscribe()
	defer unsub()

	require.True(t, s.SendText("第一句"))
	collect(t, events, "turn_done", 5*time.Second)
	assert.Eventually(t, func() bool {
		return s.machine.State() == "listening" || s.machine.State() == "idle"
	}, 2*time.Second, 20*time.Millisecond)

	require.True(t, s.SendText("第二句"))
	collect(t, events, "turn_done", 5*time.Second)

	history := llmProv.lastHistory()
	require.NotNil(t, history)
	// system + 第一轮的user/assistant + 本轮user
	require.Len(t, history, 4)
	assert.Equal(t, "system", history[0].Role)
	assert.Equal(t, "第一句", history[1].Content)
	assert.Equal(t, "好的。", history[2].Content)
	assert.Equal(t, "第二句", history[3].Content)
}

func TestPokeOverridesSystemPrompt(t *testing.T) {
	cfg := testConfig()
	cfg.System.PokePrompt = "被戳了就撒个娇。"
	llmProv := &fakeLLM{reply: []string{"哎呀，别戳啦！"}}
	s := newTestSession(t, cfg, llmProv, &fakeTTS{}, &fakePlayer{})

	events, unsub := s.Subscribe()
	defer unsub()

	require.True(t, s.Poke())
	collect(t, events, "turn_done", 5*time.Second)

	history := llmProv.lastHistory()
	require.NotEmpty(t, history)
	assert.Equal(t, "system", history[0].Role)
	assert.Equal(t, "被戳了就撒个娇。", history[0].Content)
	assert.Equal(t, pokeUserText, history[len(history)-1].Content)
}

func TestInterruptStopsPlayback(t *testing.T) {
	llmProv := &fakeLLM{reply: []string{"这是一段很长很长的回复。", "后面还有第二句。", "以及第三句。"}}
	player := &fakePlayer{perPlay: 300 * time.Millisecond}
	s := newTestSession(t, testConfig(), llmProv, &fakeTTS{}, player)

	require.True(t, s.SendText("说点什么"))
	require.Eventually(t, func() bool {
		return s.machine.State() == "ai_speaking"
	}, 5*time.Second, 10*time.Millisecond)

	require.True(t, s.Interrupt())
	assert.Eventually(t, func() bool {
		return player.stops.Load() >= 1 && s.machine.State() == "listening"
	}, 2*time.Second, 10*time.Millisecond)
}

func TestExitCommandIgnoresPunctuation(t *testing.T) {
	cfg := testConfig()
	cfg.System.CMDExit = []string{"再见", "退下吧"}
	s := newTestSession(t, cfg, &fakeLLM{}, &fakeTTS{}, &fakePlayer{})

	assert.True(t, s.isExitCommand(utils.RemoveAllPunctuation("再见！")))
	assert.True(t, s.isExitCommand(utils.RemoveAllPunctuation("退下吧。")))
	assert.False(t, s.isExitCommand(utils.RemoveAllPunctuation("再见了我的朋友")))
}

func TestWakeWordQuickReply(t *testing.T) {
	cfg := testConfig()
	cfg.QuickReply.Words = []string{"在呢"}
	ttsProv := &fakeTTS{}
	player := &fakePlayer{}
	s := newTestSession(t, cfg, &fakeLLM{}, ttsProv, player)

	reply, ok := s.matchWakeWord(utils.RemoveAllPunctuation("小助手！"))
	require.True(t, ok)
	assert.Equal(t, "在呢", reply)

	s.quickReply(context.Background(), reply)
	assert.Equal(t, 1, player.playedCount())
	assert.Equal(t, int64(1), ttsProv.calls.Load())

	_, ok = s.matchWakeWord(utils.RemoveAllPunctuation("小助手今天天气怎么样"))
	assert.False(t, ok)
}

func TestPlaybackSkipsCancelledTurn(t *testing.T) {
	player := &fakePlayer{}
	s := newTestSession(t, testConfig(), &fakeLLM{}, &fakeTTS{}, player)

	s.discardThrough.Store(5)
	var wg sync.WaitGroup
	wg.Add(1)
	s.playQueue <- playItem{turnID: 3, blob: []byte("stale"), wg: &wg}
	wg.Wait()
	assert.Equal(t, 0, player.playedCount())

	wg.Add(1)
	s.playQueue <- playItem{turnID: 6, blob: []byte("fresh"), wg: &wg}
	wg.Wait()
	assert.Equal(t, 1, player.playedCount())
}

func TestStatusSnapshot(t *testing.T) {
	s := newTestSession(t, testConfig(), &fakeLLM{}, &fakeTTS{}, &fakePlayer{})

	st := s.GetStatus()
	assert.Equal(t, "idle", st.State)
	assert.False(t, st.InTurn)
	assert.Zero(t, st.TalkRounds)
	assert.Positive(t, st.Goroutines)
}

func TestAISpeakingStartsOnFirstTextDelta(t *testing.T) {
	llmProv := &fakeLLM{reply: []string{"稍等一下。"}}
	ttsProv := &fakeTTS{delay: 500 * time.Millisecond}
	player := &fakePlayer{}
	s := newTestSession(t, testConfig(), llmProv, ttsProv, player)

	require.True(t, s.SendText("你好"))
	assert.Eventually(t, func() bool {
		return s.machine.State() == "ai_speaking"
	}, 2*time.Second, 5*time.Millisecond)
	// 合成还没回来，转移由首个文本增量触发
	assert.Zero(t, player.playedCount())
}

func TestTTSFailurePublishedOnErrorTopic(t *testing.T) {
	llmProv := &fakeLLM{reply: []string{"好的。"}}
	ttsProv := &fakeTTS{failErr: errors.New(errors.KindTTS, "tts:synthesize", "合成失败")}
	player := &fakePlayer{}
	s := newTestSession(t, testConfig(), llmProv, ttsProv, player)

	type busErr struct{ where, message string }
	errCh := make(chan busErr, 4)
	require.NoError(t, s.bus.SubscribeAsync(eventbus.TopicError, func(where, message string) {
		errCh <- busErr{where: where, message: message}
	}))

	events, unsub := s.Subscribe()
	defer unsub()

	require.True(t, s.SendText("你好"))
	records := collect(t, events, "turn_done", 5*time.Second)
	assert.Contains(t, typesOf(records), "error")

	select {
	case got := <-errCh:
		assert.Equal(t, "tts", got.where)
		assert.Contains(t, got.message, "合成失败")
	case <-time.After(2 * time.Second):
		t.Fatal("等待错误主题回调超时")
	}
}
