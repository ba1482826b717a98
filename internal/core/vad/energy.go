package vad

import (
	"moechat-server-go/internal/platform/config"
	"moechat-server-go/internal/utils"
)

func init() {
	Register("energy", func(cfg *config.VADConfig, logger *utils.Logger) (Detector, error) {
		return NewEnergyDetector(cfg.StartThreshold, cfg.EndThreshold), nil
	})
}

// EnergyDetector 基于帧能量的简易检测器。
// 起止双阈值构成迟滞区间，能量落在区间内时沿用上一帧的判定，避免临界抖动。
type EnergyDetector struct {
	startThreshold float64
	endThreshold   float64
	active         bool
}

func NewEnergyDetector(startThreshold, endThreshold float64) *EnergyDetector {
	return &EnergyDetector{
		startThreshold: startThreshold,
		endThreshold:   endThreshold,
	}
}

func (d *EnergyDetector) IsSpeech(samples []int16, sampleRate int) (bool, error) {
	rms := utils.FrameRMS(utils.SamplesToPCM(samples))
	switch {
	case rms >= d.startThreshold:
		d.active = true
	case rms <= d.endThreshold:
		d.active = false
	}
	return d.active, nil
}

func (d *EnergyDetector) Reset() {
	d.active = false
}

func (d *EnergyDetector) Close() error {
	return nil
}
