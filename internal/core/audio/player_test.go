package audio

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"moechat-server-go/internal/utils"
)

func TestDecodeBlobWav(t *testing.T) {
	samples := []int16{0, 1000, -1000, 500}
	wav := utils.PCMToWav(utils.SamplesToPCM(samples), 24000)

	got, rate, err := DecodeBlob(wav, 16000)
	require.NoError(t, err)
	assert.Equal(t, 24000, rate, "采样率应来自WAV头而不是回退值")
	assert.Equal(t, samples, got)
}

func TestDecodeBlobRawPCM(t *testing.T) {
	samples := []int16{42, -42}
	got, rate, err := DecodeBlob(utils.SamplesToPCM(samples), 16000)
	require.NoError(t, err)
	assert.Equal(t, 16000, rate)
	assert.Equal(t, samples, got)
}

func TestLooksLikeMP3(t *testing.T) {
	assert.True(t, looksLikeMP3([]byte("ID3\x04\x00")))
	assert.True(t, looksLikeMP3([]byte{0xFF, 0xFB, 0x90}))
	assert.False(t, looksLikeMP3([]byte("RIFF....WAVE")))
}
