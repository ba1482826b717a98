package vad

import (
	"sync"

	"github.com/baabaaox/go-webrtcvad"

	"moechat-server-go/internal/platform/config"
	"moechat-server-go/internal/platform/errors"
	"moechat-server-go/internal/utils"
)

// WebRTC VAD 敏感度模式 (0: 最不敏感, 3: 最敏感)
const webrtcMode = 2

func init() {
	Register("webrtc", func(cfg *config.VADConfig, logger *utils.Logger) (Detector, error) {
		return NewWebRTCDetector()
	})
}

// WebRTCDetector 基于WebRTC GMM模型的检测器。
// 仅支持 8000/16000/32000/48000 采样率和 10/20/30ms 帧长。
type WebRTCDetector struct {
	mu   sync.Mutex
	inst webrtcvad.VadInst
}

func NewWebRTCDetector() (*WebRTCDetector, error) {
	inst := webrtcvad.Create()
	if inst == nil {
		return nil, errors.New(errors.KindVAD, "vad:webrtc", "创建WebRTC VAD实例失败")
	}
	if err := webrtcvad.Init(inst); err != nil {
		webrtcvad.Free(inst)
		return nil, errors.Wrap(errors.KindVAD, "vad:webrtc", "初始化WebRTC VAD失败", err)
	}
	if err := webrtcvad.SetMode(inst, webrtcMode); err != nil {
		webrtcvad.Free(inst)
		return nil, errors.Wrap(errors.KindVAD, "vad:webrtc", "设置WebRTC VAD模式失败", err)
	}
	return &WebRTCDetector{inst: inst}, nil
}

func (d *WebRTCDetector) IsSpeech(samples []int16, sampleRate int) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.inst == nil {
		return false, errors.New(errors.KindVAD, "vad:webrtc", "检测器已关闭")
	}
	frame := utils.SamplesToPCM(samples)
	active, err := webrtcvad.Process(d.inst, sampleRate, frame, len(samples))
	if err != nil {
		return false, errors.Wrap(errors.KindVAD, "vad:webrtc", "VAD处理失败", err)
	}
	return active, nil
}

func (d *WebRTCDetector) Reset() {
	// WebRTC VAD无内部会话状态
}

func (d *WebRTCDetector) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.inst != nil {
		webrtcvad.Free(d.inst)
		d.inst = nil
	}
	return nil
}
