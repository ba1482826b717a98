package audio

import (
	"sync"

	"github.com/gordonklaus/portaudio"

	"moechat-server-go/internal/platform/errors"
)

// Frame 一帧定长的单声道16bit采样
type Frame struct {
	Samples     []int16
	SampleRate  int
	TimestampMS int64
}

var (
	initOnce sync.Once
	initErr  error
)

// Init 初始化底层音频库，进程内只会真正执行一次
func Init() error {
	initOnce.Do(func() {
		if err := portaudio.Initialize(); err != nil {
			initErr = errors.Wrap(errors.KindAudio, "audio:init", "音频设备初始化失败", err)
		}
	})
	return initErr
}

// Terminate 释放底层音频库
func Terminate() error {
	return portaudio.Terminate()
}
