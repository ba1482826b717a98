package config

// Config 核心注入配置。启动时装配完成后不可变，核心代码不允许全局可变状态。
type Config struct {
	Server     ServerConfig         `yaml:"server"`
	Log        LogConfig            `yaml:"log"`
	Web        WebConfig            `yaml:"web"`
	System     SystemConfig         `yaml:"system"`
	QuickReply QuickReplyConfig     `yaml:"quick_reply"`
	Audio      AudioConfig          `yaml:"audio"`
	VAD        VADConfig            `yaml:"vad"`
	ASR        ASRConfig            `yaml:"asr"`
	LLM        LLMConfig            `yaml:"llm"`
	TTS        TTSConfig            `yaml:"tts"`
	Style      map[string]StyleRef  `yaml:"extra_ref_audio"`
	FSM        FSMConfig            `yaml:"fsm"`
	Pipeline   PipelineConfig       `yaml:"pipeline"`
}

type ServerConfig struct {
	IP   string `yaml:"ip"`
	Port int    `yaml:"port"`
}

type LogConfig struct {
	Level string `yaml:"log_level"`
	Dir   string `yaml:"log_dir"`
	File  string `yaml:"log_file"`
}

type WebConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

type SystemConfig struct {
	DefaultPrompt string   `yaml:"default_prompt"`
	PokePrompt    string   `yaml:"poke_prompt"`
	CMDExit       []string `yaml:"cmd_exit"`
	WakeWords     []string `yaml:"wake_words"`
}

type QuickReplyConfig struct {
	Enabled bool     `yaml:"enabled"`
	Words   []string `yaml:"words"`
}

type AudioConfig struct {
	InputRate          int  `yaml:"input_rate"`
	OutputRate         int  `yaml:"output_rate"`
	FrameMS            int  `yaml:"frame_ms"`
	MuteDuringPlayback bool `yaml:"mute_during_playback"`
}

type VADConfig struct {
	Provider       string  `yaml:"provider"`
	StartThreshold float64 `yaml:"start_threshold"`
	EndThreshold   float64 `yaml:"end_threshold"`
	SilenceTailMS  int     `yaml:"silence_tail_ms"`
	MinUtteranceMS int     `yaml:"min_utterance_ms"`
	MaxUtteranceMS int     `yaml:"max_utterance_ms"`
	LeadPadMS      int     `yaml:"lead_pad_ms"`
}

type ASRConfig struct {
	Provider             string `yaml:"provider"`
	Endpoint             string `yaml:"endpoint"`
	TimeoutMS            int    `yaml:"timeout_ms"`
	Language             string `yaml:"language"`
	SpeakerFilterEnabled bool   `yaml:"speaker_filter_enabled"`
}

type LLMConfig struct {
	Provider    string                 `yaml:"provider"`
	Endpoint    string                 `yaml:"endpoint"`
	APIKey      string                 `yaml:"api_key"`
	Model       string                 `yaml:"model"`
	Temperature float64                `yaml:"temperature"`
	FirstByteMS int                    `yaml:"first_byte_ms"`
	IdleMS      int                    `yaml:"idle_ms"`
	Extra       map[string]interface{} `yaml:",inline"`
}

type TTSConfig struct {
	Provider        string                 `yaml:"provider"`
	Endpoint        string                 `yaml:"endpoint"`
	Voice           string                 `yaml:"voice"`
	DefaultRefAudio string                 `yaml:"default_ref_audio"`
	DefaultRefText  string                 `yaml:"default_ref_text"`
	TextLang        string                 `yaml:"text_lang"`
	PromptLang      string                 `yaml:"prompt_lang"`
	TimeoutMS       int                    `yaml:"timeout_ms"`
	Extra           map[string]interface{} `yaml:"ex_config"`
}

// StyleRef 情绪标签对应的参考音频与参考文本
type StyleRef struct {
	RefAudioPath string `yaml:"ref_audio_path"`
	RefText      string `yaml:"ref_text"`
}

type FSMConfig struct {
	MinUserIntervalMS int `yaml:"min_user_interval_ms"`
	CooldownMS        int `yaml:"cooldown_ms"`
	MaxTurnMS         int `yaml:"max_turn_ms"`
}

type PipelineConfig struct {
	PhraseQueueCap int `yaml:"phrase_queue_cap"`
	AudioQueueCap  int `yaml:"audio_queue_cap"`
	TTSWorkers     int `yaml:"tts_workers"`
}
