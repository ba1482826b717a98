package audio

import (
	"bytes"
	"encoding/binary"
	"io"
	"sync"
	"sync/atomic"

	"github.com/gordonklaus/portaudio"
	"github.com/hajimehoshi/go-mp3"

	"moechat-server-go/internal/platform/errors"
	"moechat-server-go/internal/utils"
)

// Player 阻塞式扬声器回放，同一时刻只允许一次Play。
// Stop用于打断，会让进行中的Play尽快返回。
type Player struct {
	logger     *utils.Logger
	outputRate int

	mu      sync.Mutex
	stopped atomic.Bool
}

func NewPlayer(outputRate int, logger *utils.Logger) (*Player, error) {
	if err := Init(); err != nil {
		return nil, err
	}
	return &Player{logger: logger, outputRate: outputRate}, nil
}

// Play 解码并播放一个音频块，设备排空后返回。被Stop打断时返回nil。
func (p *Player) Play(blob []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stopped.Store(false)

	samples, rate, err := DecodeBlob(blob, p.outputRate)
	if err != nil {
		return err
	}
	if len(samples) == 0 {
		return nil
	}

	const chunk = 1024
	out := make([]int16, chunk)
	stream, err := portaudio.OpenDefaultStream(0, 1, float64(rate), chunk, out)
	if err != nil {
		return errors.Wrap(errors.KindAudio, "audio:player", "打开输出设备失败", err)
	}
	defer stream.Close()
	if err := stream.Start(); err != nil {
		return errors.Wrap(errors.KindAudio, "audio:player", "启动输出流失败", err)
	}
	defer stream.Stop()

	for off := 0; off < len(samples); off += chunk {
		if p.stopped.Load() {
			return nil
		}
		n := copy(out, samples[off:])
		for i := n; i < chunk; i++ {
			out[i] = 0
		}
		if err := stream.Write(); err != nil {
			// 输出欠载不致命，继续写后续块
			p.logger.WarnTag("音频", "播放写入异常: %v", err)
		}
	}
	return nil
}

// Stop 打断当前播放，幂等
func (p *Player) Stop() {
	p.stopped.Store(true)
}

// DecodeBlob 把MP3/WAV/裸PCM统一解码为单声道16bit采样。
// fallbackRate用于裸PCM这种自身不带采样率的数据。
func DecodeBlob(blob []byte, fallbackRate int) ([]int16, int, error) {
	switch {
	case looksLikeMP3(blob):
		return decodeMP3(blob)
	case looksLikeWAV(blob):
		return decodeWAV(blob, fallbackRate)
	default:
		return utils.PCMToSamples(blob), fallbackRate, nil
	}
}

func looksLikeMP3(blob []byte) bool {
	if len(blob) < 3 {
		return false
	}
	if bytes.HasPrefix(blob, []byte("ID3")) {
		return true
	}
	return blob[0] == 0xFF && blob[1]&0xE0 == 0xE0
}

func looksLikeWAV(blob []byte) bool {
	return len(blob) >= 12 && bytes.HasPrefix(blob, []byte("RIFF")) && string(blob[8:12]) == "WAVE"
}

// decodeMP3 解出16bit立体声再混成单声道
func decodeMP3(blob []byte) ([]int16, int, error) {
	decoder, err := mp3.NewDecoder(bytes.NewReader(blob))
	if err != nil {
		return nil, 0, errors.Wrap(errors.KindAudio, "audio:decode", "MP3解码失败", err)
	}
	raw, err := io.ReadAll(decoder)
	if err != nil {
		return nil, 0, errors.Wrap(errors.KindAudio, "audio:decode", "MP3读取失败", err)
	}
	stereo := utils.PCMToSamples(raw)
	mono := make([]int16, len(stereo)/2)
	for i := range mono {
		mono[i] = int16((int32(stereo[i*2]) + int32(stereo[i*2+1])) / 2)
	}
	return mono, decoder.SampleRate(), nil
}

func decodeWAV(blob []byte, fallbackRate int) ([]int16, int, error) {
	pcm, err := utils.WavToPCM(blob)
	if err != nil {
		return nil, 0, errors.Wrap(errors.KindAudio, "audio:decode", "WAV解析失败", err)
	}
	rate := fallbackRate
	if len(blob) >= 28 {
		rate = int(binary.LittleEndian.Uint32(blob[24:28]))
	}
	return utils.PCMToSamples(pcm), rate, nil
}
