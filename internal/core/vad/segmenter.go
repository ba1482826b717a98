package vad

import (
	"context"

	"moechat-server-go/internal/core/audio"
	"moechat-server-go/internal/platform/config"
	"moechat-server-go/internal/utils"
)

// Utterance 一段闭合的用户语音，WAV封装，带前导垫音和尾部静音
type Utterance struct {
	WAV       []byte
	StartTS   int64
	EndTS     int64
	SpeakerID string
}

// Segmenter 把连续的音频帧切成一条条语音段。
// 前导垫音保住起音的第一个音节，尾部静音窗决定语音段何时闭合。
type Segmenter struct {
	cfg      *config.VADConfig
	detector Detector
	logger   *utils.Logger

	// OnSpeechStart 在语音段起点触发，用于通知控制面，可为nil
	OnSpeechStart func()

	active      bool
	lead        []audio.Frame // 待命时滚动保留的前导帧
	buffer      []audio.Frame // 语音段累积帧
	startTS     int64
	lastVoiceTS int64
	silenceMS   int
}

func NewSegmenter(cfg *config.VADConfig, detector Detector, logger *utils.Logger) *Segmenter {
	return &Segmenter{cfg: cfg, detector: detector, logger: logger}
}

// Run 消费帧通道直到通道关闭或ctx取消，产出的语音段写入out
func (s *Segmenter) Run(ctx context.Context, frames <-chan audio.Frame, out chan<- Utterance) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case frame, ok := <-frames:
			if !ok {
				return nil
			}
			utt, emit := s.Push(frame)
			if !emit {
				continue
			}
			select {
			case out <- utt:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
}

// Push 送入一帧，语音段闭合时返回(utterance, true)
func (s *Segmenter) Push(frame audio.Frame) (Utterance, bool) {
	frameMS := len(frame.Samples) * 1000 / frame.SampleRate

	voice, err := s.detector.IsSpeech(frame.Samples, frame.SampleRate)
	if err != nil {
		// 瞬时检测失败按静音帧容忍
		s.logger.DebugTag("VAD", "检测失败，按静音处理: %v", err)
		voice = false
	}

	if !s.active {
		s.pushLead(frame, frameMS)
		if voice {
			s.begin(frame)
		}
		return Utterance{}, false
	}

	s.buffer = append(s.buffer, frame)
	if voice {
		s.silenceMS = 0
		s.lastVoiceTS = frame.TimestampMS + int64(frameMS)
	} else {
		s.silenceMS += frameMS
	}

	if s.silenceMS >= s.cfg.SilenceTailMS {
		return s.close(false)
	}
	if frame.TimestampMS+int64(frameMS)-s.startTS >= int64(s.cfg.MaxUtteranceMS) {
		return s.close(true)
	}
	return Utterance{}, false
}

// Reset 丢弃当前累积状态，回到待命
func (s *Segmenter) Reset() {
	s.active = false
	s.buffer = nil
	s.lead = nil
	s.silenceMS = 0
	s.detector.Reset()
}

// pushLead 维护总时长不低于lead_pad_ms的前导帧窗口
func (s *Segmenter) pushLead(frame audio.Frame, frameMS int) {
	s.lead = append(s.lead, frame)
	total := len(s.lead) * frameMS
	for total > s.cfg.LeadPadMS && len(s.lead) > 1 {
		s.lead = s.lead[1:]
		total -= frameMS
	}
}

func (s *Segmenter) begin(frame audio.Frame) {
	s.active = true
	if s.OnSpeechStart != nil {
		s.OnSpeechStart()
	}
	s.startTS = frame.TimestampMS
	s.lastVoiceTS = frame.TimestampMS
	s.silenceMS = 0
	s.buffer = append([]audio.Frame{}, s.lead...)
	s.lead = nil
}

// close 闭合当前语音段。时长不超过最小阈值的视为误触发直接丢弃，
// 强制闭合的超长段不受最小时长约束。
func (s *Segmenter) close(forced bool) (Utterance, bool) {
	buffer := s.buffer
	startTS := s.startTS
	endTS := s.lastVoiceTS
	s.active = false
	s.buffer = nil
	s.silenceMS = 0

	if !forced && endTS-startTS <= int64(s.cfg.MinUtteranceMS) {
		s.logger.DebugTag("VAD", "语音段过短(%dms)，按误触发丢弃", endTS-startTS)
		return Utterance{}, false
	}

	var pcm []byte
	rate := buffer[0].SampleRate
	for _, f := range buffer {
		pcm = append(pcm, utils.SamplesToPCM(f.Samples)...)
	}
	s.logger.InfoTag("VAD", "语音段闭合: %d-%dms, %d帧", startTS, endTS, len(buffer))
	return Utterance{
		WAV:     utils.PCMToWav(pcm, rate),
		StartTS: startTS,
		EndTS:   endTS,
	}, true
}
