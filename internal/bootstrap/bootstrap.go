package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	coreaudio "moechat-server-go/internal/core/audio"
	"moechat-server-go/internal/core/eventbus"
	"moechat-server-go/internal/core/providers/asr"
	"moechat-server-go/internal/core/providers/asr/sensevoice"
	"moechat-server-go/internal/core/providers/llm"
	"moechat-server-go/internal/core/providers/tts"
	"moechat-server-go/internal/core/session"
	"moechat-server-go/internal/core/vad"
	platformconfig "moechat-server-go/internal/platform/config"
	platformerrors "moechat-server-go/internal/platform/errors"
	"moechat-server-go/internal/transport/web"
	"moechat-server-go/internal/utils"

	// 各提供者通过init注册到工厂表
	_ "moechat-server-go/internal/core/providers/llm/openai"
	_ "moechat-server-go/internal/core/providers/tts/edge"
	_ "moechat-server-go/internal/core/providers/tts/gsv"
)

// Options 启动参数
type Options struct {
	ConfigPath string
	// Headless 不打开本机音频设备，仅保留文本与Web接口
	Headless bool
}

type stepFn func(context.Context, *appState) error

type initStep struct {
	ID        string
	Title     string
	DependsOn []string
	Kind      platformerrors.Kind
	Execute   stepFn
}

type appState struct {
	opts       Options
	config     *platformconfig.Config
	configPath string
	logger     *utils.Logger
	bus        *eventbus.Bus

	detector vad.Detector
	asrEng   *asr.Engine
	llmProv  llm.Provider
	ttsProv  tts.Provider
	recorder *coreaudio.Recorder
	player   *coreaudio.Player

	audioReady bool
	session    *session.Session
}

// Run 启动整个服务生命周期，负责加载配置、装配会话和优雅关停
func Run(ctx context.Context, opts Options) error {
	state := &appState{opts: opts}

	if err := executeInitSteps(ctx, InitGraph(), state); err != nil {
		return err
	}

	logger := state.logger
	logger.InfoTag("引导", "配置已加载 %s", state.configPath)

	defer func() {
		state.session.Close()
		if state.recorder != nil {
			if err := state.recorder.Close(); err != nil {
				logger.WarnTag("音频", "录音设备未正常关闭: %v", err)
			}
		}
		closeProviders(state)
		state.bus.Close()
		if state.audioReady {
			if err := coreaudio.Terminate(); err != nil {
				logger.WarnTag("音频", "音频子系统未正常关闭: %v", err)
			}
		}
		logger.Close()
	}()

	rootCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	signalCtx, stop := signal.NotifyContext(rootCtx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	group, groupCtx := errgroup.WithContext(rootCtx)

	if err := state.session.Start(groupCtx); err != nil {
		return platformerrors.Wrap(platformerrors.KindBootstrap, "session:start", "会话启动失败", err)
	}

	if state.config.Web.Enabled {
		server := web.NewServer(state.config, state.session, logger)
		group.Go(func() error {
			return server.Start(groupCtx)
		})
	}

	logger.InfoTag("引导", "服务已成功启动")
	return waitForShutdown(signalCtx, cancel, logger, group)
}

// InitGraph 初始化步骤及其依赖关系
func InitGraph() []initStep {
	return []initStep{
		{
			ID:      "config:load",
			Title:   "加载配置",
			Kind:    platformerrors.KindConfig,
			Execute: loadConfigStep,
		},
		{
			ID:        "logging:init",
			Title:     "初始化日志",
			DependsOn: []string{"config:load"},
			Kind:      platformerrors.KindBootstrap,
			Execute:   initLoggingStep,
		},
		{
			ID:        "audio:init",
			Title:     "初始化音频设备",
			DependsOn: []string{"logging:init"},
			Kind:      platformerrors.KindAudio,
			Execute:   initAudioStep,
		},
		{
			ID:        "vad:init",
			Title:     "初始化语音活动检测",
			DependsOn: []string{"logging:init"},
			Kind:      platformerrors.KindVAD,
			Execute:   initVADStep,
		},
		{
			ID:        "asr:init",
			Title:     "初始化语音识别",
			DependsOn: []string{"logging:init"},
			Kind:      platformerrors.KindASR,
			Execute:   initASRStep,
		},
		{
			ID:        "llm:init",
			Title:     "初始化大模型",
			DependsOn: []string{"logging:init"},
			Kind:      platformerrors.KindLLM,
			Execute:   initLLMStep,
		},
		{
			ID:        "tts:init",
			Title:     "初始化语音合成",
			DependsOn: []string{"logging:init"},
			Kind:      platformerrors.KindTTS,
			Execute:   initTTSStep,
		},
		{
			ID:        "session:init",
			Title:     "装配会话",
			DependsOn: []string{"audio:init", "vad:init", "asr:init", "llm:init", "tts:init"},
			Kind:      platformerrors.KindBootstrap,
			Execute:   initSessionStep,
		},
	}
}

func executeInitSteps(ctx context.Context, steps []initStep, state *appState) error {
	completed := make(map[string]struct{}, len(steps))
	for _, step := range steps {
		for _, dep := range step.DependsOn {
			if _, ok := completed[dep]; !ok {
				return platformerrors.New(
					platformerrors.KindBootstrap,
					step.ID,
					fmt.Sprintf("依赖 %s 未满足", dep),
				)
			}
		}
		if err := step.Execute(ctx, state); err != nil {
			var typed *platformerrors.Error
			if errors.As(err, &typed) {
				return err
			}
			return platformerrors.Wrap(step.Kind, step.ID, "初始化步骤失败", err)
		}
		completed[step.ID] = struct{}{}
	}
	return nil
}

func loadConfigStep(_ context.Context, state *appState) error {
	result, err := platformconfig.NewLoader(state.opts.ConfigPath).Load()
	if err != nil {
		return err
	}
	state.config = result.Config
	state.configPath = result.Path
	if state.configPath == "" {
		state.configPath = "(默认配置)"
	}
	return nil
}

func initLoggingStep(_ context.Context, state *appState) error {
	logger, err := utils.NewLogger(&utils.LogCfg{
		LogLevel: state.config.Log.Level,
		LogDir:   state.config.Log.Dir,
		LogFile:  state.config.Log.File,
	})
	if err != nil {
		return platformerrors.Wrap(platformerrors.KindBootstrap, "logging:init", "日志初始化失败", err)
	}
	state.logger = logger
	state.bus = eventbus.New()
	return nil
}

func initAudioStep(_ context.Context, state *appState) error {
	if state.opts.Headless {
		state.logger.InfoTag("音频", "无设备模式，跳过音频初始化")
		return nil
	}
	if err := coreaudio.Init(); err != nil {
		return platformerrors.Wrap(platformerrors.KindAudio, "audio:init", "音频子系统初始化失败", err)
	}
	state.audioReady = true

	recorder, err := coreaudio.NewRecorder(state.config.Audio.InputRate, state.config.Audio.FrameMS, state.logger)
	if err != nil {
		// 没有麦克风不阻断启动，语音入口会拒绝
		state.logger.WarnTag("音频", "打开录音设备失败，语音输入不可用: %v", err)
	} else {
		state.recorder = recorder
	}

	player, err := coreaudio.NewPlayer(state.config.Audio.OutputRate, state.logger)
	if err != nil {
		state.logger.WarnTag("音频", "打开播放设备失败，本机播放不可用: %v", err)
	} else {
		state.player = player
	}
	return nil
}

func initVADStep(_ context.Context, state *appState) error {
	detector, err := vad.Create(state.config.VAD.Provider, &state.config.VAD, state.logger)
	if err != nil {
		return platformerrors.Wrap(platformerrors.KindVAD, "vad:init", "创建VAD检测器失败", err)
	}
	state.detector = detector
	return nil
}

func initASRStep(_ context.Context, state *appState) error {
	provider, err := asr.Create(state.config.ASR.Provider, &state.config.ASR, state.logger)
	if err != nil {
		return platformerrors.Wrap(platformerrors.KindASR, "asr:init", "创建ASR提供者失败", err)
	}

	var filter asr.SpeakerFilter
	if state.config.ASR.SpeakerFilterEnabled {
		sf, err := sensevoice.NewSpeakerFilter(&state.config.ASR, state.logger)
		if err != nil {
			return platformerrors.Wrap(platformerrors.KindASR, "asr:init", "创建声纹过滤器失败", err)
		}
		filter = sf
	}
	state.asrEng = asr.NewEngine(provider, filter, state.logger)
	return nil
}

func initLLMStep(_ context.Context, state *appState) error {
	provider, err := llm.Create(state.config.LLM.Provider, &state.config.LLM, state.logger)
	if err != nil {
		return platformerrors.Wrap(platformerrors.KindLLM, "llm:init", "创建LLM提供者失败", err)
	}
	state.llmProv = provider
	return nil
}

func initTTSStep(_ context.Context, state *appState) error {
	provider, err := tts.Create(state.config.TTS.Provider, &state.config.TTS, state.config.Style, state.logger)
	if err != nil {
		return platformerrors.Wrap(platformerrors.KindTTS, "tts:init", "创建TTS提供者失败", err)
	}
	state.ttsProv = provider
	return nil
}

func initSessionStep(_ context.Context, state *appState) error {
	deps := session.Deps{
		LLM:      state.llmProv,
		TTS:      state.ttsProv,
		ASR:      state.asrEng,
		Detector: state.detector,
		Logger:   state.logger,
		Bus:      state.bus,
	}
	if state.recorder != nil {
		deps.Recorder = state.recorder
	}
	if state.player != nil {
		deps.Player = state.player
	}
	// 子组件错误统一落日志，回调异步执行不阻塞会话主流程
	logger := state.logger
	if err := state.bus.SubscribeAsync(eventbus.TopicError, func(where, message string) {
		logger.ErrorTag("会话", "组件错误 [%s]: %s", where, message)
	}); err != nil {
		return platformerrors.Wrap(platformerrors.KindBootstrap, "session:init", "订阅错误主题失败", err)
	}
	state.session = session.New(state.config, deps)
	return nil
}

func closeProviders(state *appState) {
	if state.asrEng != nil {
		if err := state.asrEng.Close(); err != nil {
			state.logger.WarnTag("ASR", "关闭失败: %v", err)
		}
	}
	if state.llmProv != nil {
		if err := state.llmProv.Close(); err != nil {
			state.logger.WarnTag("LLM", "关闭失败: %v", err)
		}
	}
	if state.ttsProv != nil {
		if err := state.ttsProv.Close(); err != nil {
			state.logger.WarnTag("TTS", "关闭失败: %v", err)
		}
	}
	if state.detector != nil {
		state.detector.Close()
	}
}

func waitForShutdown(
	ctx context.Context,
	cancel context.CancelFunc,
	logger *utils.Logger,
	g *errgroup.Group,
) error {
	<-ctx.Done()
	logger.InfoTag("引导", "收到退出信号，正在进行资源清理")

	cancel()

	done := make(chan error, 1)
	go func() {
		done <- g.Wait()
	}()

	select {
	case err := <-done:
		if err != nil {
			logger.ErrorTag("引导", "服务关闭过程中出现错误: %v", err)
			return err
		}
		logger.InfoTag("引导", "所有服务已成功关闭")
	case <-time.After(15 * time.Second):
		logger.ErrorTag("引导", "服务关闭超时，已强制退出")
		return errors.New("服务关闭超时")
	}
	return nil
}
