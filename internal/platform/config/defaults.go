package config

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			IP:   "0.0.0.0",
			Port: 8000,
		},
		Log: LogConfig{
			Level: "INFO",
			Dir:   "data/logs",
			File:  "server.log",
		},
		Web: WebConfig{
			Enabled: true,
			Port:    8080,
		},
		System: SystemConfig{
			DefaultPrompt: "你是一个温柔体贴的语音助手，回复要口语化、简短自然，可以在句首用[happy]、[sad]这样的情绪标签。",
			PokePrompt:    "用户戳了戳你，请用一句简短俏皮的话回应。",
			CMDExit:       []string{"退下吧", "再见", "退出"},
		},
		QuickReply: QuickReplyConfig{
			Enabled: true,
			Words:   []string{"在呢", "您好", "我在听", "请讲"},
		},
		Audio: AudioConfig{
			InputRate:          16000,
			OutputRate:         24000,
			FrameMS:            20,
			MuteDuringPlayback: true,
		},
		VAD: VADConfig{
			Provider:       "energy",
			StartThreshold: 0.6,
			EndThreshold:   0.35,
			SilenceTailMS:  300,
			MinUtteranceMS: 300,
			MaxUtteranceMS: 30000,
			LeadPadMS:      100,
		},
		ASR: ASRConfig{
			Provider:  "sensevoice",
			TimeoutMS: 10000,
			Language:  "zh",
		},
		LLM: LLMConfig{
			Provider:    "openai",
			Model:       "gpt-4o-mini",
			Temperature: 0.7,
			FirstByteMS: 15000,
			IdleMS:      30000,
		},
		TTS: TTSConfig{
			Provider:   "gsv",
			TextLang:   "zh",
			PromptLang: "zh",
			TimeoutMS:  10000,
		},
		FSM: FSMConfig{
			MinUserIntervalMS: 2000,
			CooldownMS:        1000,
			MaxTurnMS:         120000,
		},
		Pipeline: PipelineConfig{
			PhraseQueueCap: 8,
			AudioQueueCap:  8,
			TTSWorkers:     1,
		},
	}
}
