package audio

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/gordonklaus/portaudio"

	"moechat-server-go/internal/platform/errors"
	"moechat-server-go/internal/utils"
)

// Recorder 持续采集麦克风，按固定帧长往外发帧。
// 静音标志用于AI播报期间抑制回声，置位时帧直接丢弃，不计入溢出指标。
type Recorder struct {
	logger     *utils.Logger
	sampleRate int
	frameMS    int

	stream *portaudio.Stream
	buf    []int16

	frames  chan Frame
	muted   atomic.Bool
	dropped atomic.Int64

	startedAt time.Time
}

// NewRecorder 打开默认输入设备，失败视为设备不可用
func NewRecorder(sampleRate, frameMS int, logger *utils.Logger) (*Recorder, error) {
	if err := Init(); err != nil {
		return nil, err
	}
	samplesPerFrame := sampleRate * frameMS / 1000
	r := &Recorder{
		logger:     logger,
		sampleRate: sampleRate,
		frameMS:    frameMS,
		buf:        make([]int16, samplesPerFrame),
		frames:     make(chan Frame, 16),
	}
	stream, err := portaudio.OpenDefaultStream(1, 0, float64(sampleRate), samplesPerFrame, r.buf)
	if err != nil {
		return nil, errors.Wrap(errors.KindAudio, "audio:recorder", "打开输入设备失败", err)
	}
	r.stream = stream
	return r, nil
}

// Start 启动采集协程，ctx取消后暂停输入流。可以再次Start开始新一轮采集。
func (r *Recorder) Start(ctx context.Context) error {
	if err := r.stream.Start(); err != nil {
		return errors.Wrap(errors.KindAudio, "audio:recorder", "启动输入流失败", err)
	}
	r.startedAt = time.Now()
	go r.loop(ctx)
	return nil
}

func (r *Recorder) loop(ctx context.Context) {
	defer func() {
		r.stream.Stop()
	}()
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		if err := r.stream.Read(); err != nil {
			// 读取失败多为瞬时溢出，丢帧继续
			r.dropped.Add(1)
			continue
		}
		if r.muted.Load() {
			continue
		}
		samples := make([]int16, len(r.buf))
		copy(samples, r.buf)
		frame := Frame{
			Samples:     samples,
			SampleRate:  r.sampleRate,
			TimestampMS: time.Since(r.startedAt).Milliseconds(),
		}
		select {
		case r.frames <- frame:
		default:
			// 下游堵住时丢最新帧，计入指标
			r.dropped.Add(1)
		}
	}
}

// Frames 返回帧通道。暂停期间不产帧，通道保持打开直到Close。
func (r *Recorder) Frames() <-chan Frame {
	return r.frames
}

// Close 释放输入设备，之后不可再Start
func (r *Recorder) Close() error {
	close(r.frames)
	if err := r.stream.Close(); err != nil {
		return errors.Wrap(errors.KindAudio, "audio:recorder", "关闭输入流失败", err)
	}
	return nil
}

// SetMuted 设置软件静音标志
func (r *Recorder) SetMuted(muted bool) {
	r.muted.Store(muted)
}

// Muted 返回当前静音状态
func (r *Recorder) Muted() bool {
	return r.muted.Load()
}

// DroppedFrames 返回累计丢帧数
func (r *Recorder) DroppedFrames() int64 {
	return r.dropped.Load()
}
