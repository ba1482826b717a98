package config

import (
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	platformerrors "moechat-server-go/internal/platform/errors"
)

// Loader 从yaml文件加载配置，.env 中的密钥覆盖文件内容
type Loader struct {
	path      string
	useDotEnv bool
}

// NewLoader 创建配置加载器，path为空时按默认位置查找
func NewLoader(path string) *Loader {
	return &Loader{
		path:      path,
		useDotEnv: true,
	}
}

// WithDotEnv 控制是否读取 .env 文件
func (l *Loader) WithDotEnv(enabled bool) *Loader {
	l.useDotEnv = enabled
	return l
}

// Result 加载结果，带上实际使用的配置路径
type Result struct {
	Config *Config
	Path   string
}

// Load 读取配置文件，合并默认值与环境变量，并做启动期校验
func (l *Loader) Load() (*Result, error) {
	if l.useDotEnv {
		// 没有.env文件不算错误，继续使用系统环境变量
		_ = godotenv.Load()
	}

	path := l.path
	if path == "" {
		for _, candidate := range []string{".config.yaml", "config.yaml"} {
			if _, err := os.Stat(candidate); err == nil {
				path = candidate
				break
			}
		}
	}

	cfg := DefaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, platformerrors.Wrap(platformerrors.KindConfig, "load", "读取配置文件失败", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, platformerrors.Wrap(platformerrors.KindConfig, "load", "解析配置文件失败", err)
		}
		path, _ = filepath.Abs(path)
	}

	applyEnvOverrides(cfg)

	if err := Validate(cfg); err != nil {
		return nil, err
	}

	return &Result{Config: cfg, Path: path}, nil
}

// applyEnvOverrides 敏感字段允许用环境变量覆盖
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("LLM_API_KEY"); v != "" {
		cfg.LLM.APIKey = v
	}
	if v := os.Getenv("LLM_ENDPOINT"); v != "" {
		cfg.LLM.Endpoint = v
	}
	if v := os.Getenv("TTS_ENDPOINT"); v != "" {
		cfg.TTS.Endpoint = v
	}
	if v := os.Getenv("ASR_ENDPOINT"); v != "" {
		cfg.ASR.Endpoint = v
	}
}

// Validate 启动期配置校验，错误一律归为 config 类
func Validate(cfg *Config) error {
	const op = "validate"
	if cfg.Audio.FrameMS < 10 || cfg.Audio.FrameMS > 200 {
		return platformerrors.New(platformerrors.KindConfig, op, "audio.frame_ms 必须在 10~200 之间")
	}
	if cfg.Audio.InputRate <= 0 || cfg.Audio.OutputRate <= 0 {
		return platformerrors.New(platformerrors.KindConfig, op, "音频采样率必须为正")
	}
	if cfg.VAD.MinUtteranceMS >= cfg.VAD.MaxUtteranceMS {
		return platformerrors.New(platformerrors.KindConfig, op, "vad.min_utterance_ms 必须小于 max_utterance_ms")
	}
	if cfg.VAD.EndThreshold > cfg.VAD.StartThreshold {
		return platformerrors.New(platformerrors.KindConfig, op, "vad.end_threshold 不能高于 start_threshold")
	}
	if cfg.Pipeline.PhraseQueueCap <= 0 || cfg.Pipeline.AudioQueueCap <= 0 {
		return platformerrors.New(platformerrors.KindConfig, op, "pipeline 队列容量必须为正")
	}
	if cfg.Pipeline.TTSWorkers <= 0 {
		return platformerrors.New(platformerrors.KindConfig, op, "pipeline.tts_workers 必须为正")
	}
	if cfg.FSM.CooldownMS < 0 || cfg.FSM.MinUserIntervalMS < 0 {
		return platformerrors.New(platformerrors.KindConfig, op, "fsm 时间参数不能为负")
	}
	return nil
}
