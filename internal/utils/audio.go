package utils

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
)

// PCMToWav 将16bit单声道PCM封装为WAV字节流
func PCMToWav(pcm []byte, sampleRate int) []byte {
	var buf bytes.Buffer
	writeWavHeader(&buf, len(pcm), sampleRate, 1, 16)
	buf.Write(pcm)
	return buf.Bytes()
}

// writeWavHeader 写入44字节的标准WAV头
func writeWavHeader(buf *bytes.Buffer, dataLen, sampleRate, channels, bitsPerSample int) {
	byteRate := sampleRate * channels * bitsPerSample / 8
	blockAlign := channels * bitsPerSample / 8

	buf.WriteString("RIFF")
	binary.Write(buf, binary.LittleEndian, uint32(36+dataLen))
	buf.WriteString("WAVE")
	buf.WriteString("fmt ")
	binary.Write(buf, binary.LittleEndian, uint32(16))
	binary.Write(buf, binary.LittleEndian, uint16(1)) // PCM
	binary.Write(buf, binary.LittleEndian, uint16(channels))
	binary.Write(buf, binary.LittleEndian, uint32(sampleRate))
	binary.Write(buf, binary.LittleEndian, uint32(byteRate))
	binary.Write(buf, binary.LittleEndian, uint16(blockAlign))
	binary.Write(buf, binary.LittleEndian, uint16(bitsPerSample))
	buf.WriteString("data")
	binary.Write(buf, binary.LittleEndian, uint32(dataLen))
}

// WavToPCM 剥掉WAV头取出PCM数据，找不到data块时返回错误
func WavToPCM(wav []byte) ([]byte, error) {
	if len(wav) < 12 || string(wav[0:4]) != "RIFF" || string(wav[8:12]) != "WAVE" {
		return nil, fmt.Errorf("不是合法的WAV数据")
	}
	offset := 12
	for offset+8 <= len(wav) {
		chunkID := string(wav[offset : offset+4])
		chunkLen := int(binary.LittleEndian.Uint32(wav[offset+4 : offset+8]))
		if chunkID == "data" {
			end := offset + 8 + chunkLen
			if end > len(wav) {
				end = len(wav)
			}
			return wav[offset+8 : end], nil
		}
		offset += 8 + chunkLen
	}
	return nil, fmt.Errorf("WAV数据缺少data块")
}

// PCMToSamples 把小端16bit PCM字节转为采样点
func PCMToSamples(pcm []byte) []int16 {
	samples := make([]int16, len(pcm)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(pcm[i*2 : i*2+2]))
	}
	return samples
}

// SamplesToPCM 把采样点序列化为小端16bit PCM字节
func SamplesToPCM(samples []int16) []byte {
	pcm := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(pcm[i*2:i*2+2], uint16(s))
	}
	return pcm
}

// FrameRMS 计算一帧16bit PCM的归一化均方根能量，范围[0,1]
func FrameRMS(pcm []byte) float64 {
	if len(pcm) < 2 {
		return 0
	}
	var sum float64
	n := len(pcm) / 2
	for i := 0; i < n; i++ {
		s := float64(int16(binary.LittleEndian.Uint16(pcm[i*2 : i*2+2])))
		sum += s * s
	}
	return math.Sqrt(sum/float64(n)) / 32768.0
}
