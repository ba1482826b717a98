package session

import (
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
)

// Status 会话与进程的运行快照
type Status struct {
	State         string  `json:"state"`
	InTurn        bool    `json:"in_turn"`
	TurnID        int64   `json:"turn_id"`
	TalkRounds    int64   `json:"talk_rounds"`
	AudioSegments int64   `json:"audio_segments"`
	HistoryLen    int     `json:"history_len"`
	DroppedFrames int64   `json:"dropped_frames"`
	Goroutines    int     `json:"goroutines"`
	CPUPercent    float64 `json:"cpu_percent"`
	MemPercent    float64 `json:"mem_percent"`
	MemUsedMB     uint64  `json:"mem_used_mb"`
}

// GetStatus 汇总当前状态，采样失败的指标置零不报错
func (s *Session) GetStatus() Status {
	st := Status{
		State:         string(s.machine.State()),
		InTurn:        s.machine.InTurn(),
		TurnID:        s.machine.CurrentTurnID(),
		TalkRounds:    s.talkRounds.Load(),
		AudioSegments: s.audioSegments.Load(),
		HistoryLen:    s.dialogue.Len(),
		Goroutines:    runtime.NumGoroutine(),
	}
	if s.deps.Recorder != nil {
		st.DroppedFrames = s.deps.Recorder.DroppedFrames()
	}
	if percents, err := cpu.Percent(time.Duration(0), false); err == nil && len(percents) > 0 {
		st.CPUPercent = percents[0]
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		st.MemPercent = vm.UsedPercent
		st.MemUsedMB = vm.Used / 1024 / 1024
	}
	return st
}
