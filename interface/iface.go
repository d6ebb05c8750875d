package iface

import "FacePoseServer/challenge"

// RetData 是 Backend 的统一返回，Data 在成功时为 challenge.Feedback，
// 失败时为错误描述字符串
type RetData struct {
	Success bool
	Data    any
}

// EngineConfig 每个会话的配置。SnapshotDir 只能由服务端配置，
// 不从客户端 JSON 读取
type EngineConfig struct {
	Description string `json:"description" yaml:"description"`
	// NoFacePolicy 取值 reset / keep
	NoFacePolicy     string  `json:"noFacePolicy" yaml:"NoFacePolicy"`
	MaxFPS           float64 `json:"maxFPS" yaml:"MaxFPS"`
	FailureHintAfter int     `json:"failureHintAfter" yaml:"FailureHintAfter"`
	SnapshotDir      string  `json:"-" yaml:"SnapshotDir"`
}

// Merge 用 o 中的非零字段覆盖 c，SnapshotDir 不参与覆盖
func (c EngineConfig) Merge(o EngineConfig) EngineConfig {
	if o.Description != "" {
		c.Description = o.Description
	}
	if o.NoFacePolicy != "" {
		c.NoFacePolicy = o.NoFacePolicy
	}
	if o.MaxFPS > 0 {
		c.MaxFPS = o.MaxFPS
	}
	if o.FailureHintAfter > 0 {
		c.FailureHintAfter = o.FailureHintAfter
	}
	return c
}

type Backend interface {
	New(cfg EngineConfig) error
	Process(frame challenge.Frame) RetData
	Reset()
	Status() challenge.Status
	CheckConfig() EngineConfig
	Destroy()
}
