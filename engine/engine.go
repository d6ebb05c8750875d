package engine

import (
	"context"
	"fmt"
	"path/filepath"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"FacePoseServer/challenge"
	iface "FacePoseServer/interface"
	"FacePoseServer/logger"
	"FacePoseServer/monitor"
	"FacePoseServer/store"
)

const UNREGISTERED = 0x0001
const REGISTERED = 0x0002
const IDLE = 0x0003
const BUSY = 0x0004

// Process 失败时 RetData.Data 中的消息
const (
	MsgNotRegistered = "Engine not registered"
	MsgNotReady      = "Engine not ready"
	MsgBusy          = "Engine is busy"
	MsgRateLimited   = "Frame rate exceeded"
)

type processor interface {
	Process(frame challenge.Frame) (challenge.Feedback, error)
	Reset()
	Snapshot() challenge.Status
}

// Engine 对应一个挑战会话，同一时刻只处理一帧，忙时直接丢帧
type Engine struct {
	ID string

	cfg        iface.EngineConfig
	session    processor
	limiter    *rate.Limiter
	store      store.Store
	state      atomic.Int32
	lastActive atomic.Int64
}

// NewEngine 创建未注册的 Engine，需要再调用 New
func NewEngine(id string, st store.Store) *Engine {
	e := &Engine{ID: id, store: st}
	e.state.Store(UNREGISTERED)
	e.touch()
	return e
}

func (e *Engine) New(cfg iface.EngineConfig) error {
	policy, err := challenge.ParseNoFacePolicy(cfg.NoFacePolicy)
	if err != nil {
		return err
	}
	if cfg.MaxFPS < 0 {
		return fmt.Errorf("MaxFPS must not be negative, got %f", cfg.MaxFPS)
	}
	e.state.Store(REGISTERED)
	e.cfg = cfg
	e.session = challenge.NewSession(challenge.Options{
		NoFacePolicy:     policy,
		FailureHintAfter: cfg.FailureHintAfter,
	})
	if cfg.MaxFPS > 0 {
		e.limiter = rate.NewLimiter(rate.Limit(cfg.MaxFPS), 1)
	}
	e.state.Store(IDLE)
	return nil
}

func (e *Engine) touch() {
	e.lastActive.Store(time.Now().UnixNano())
}

// LastActive 最近一次收到帧或操作的时间
func (e *Engine) LastActive() time.Time {
	return time.Unix(0, e.lastActive.Load())
}

func (e *Engine) State() int {
	return int(e.state.Load())
}

func (e *Engine) Process(frame challenge.Frame) iface.RetData {
	e.touch()
	switch e.state.Load() {
	case UNREGISTERED:
		return iface.RetData{Success: false, Data: MsgNotRegistered}
	case REGISTERED:
		return iface.RetData{Success: false, Data: MsgNotReady}
	}
	if !e.state.CompareAndSwap(IDLE, BUSY) {
		monitor.FramesTotal.WithLabelValues(monitor.FrameDropped).Inc()
		return iface.RetData{Success: false, Data: MsgBusy}
	}
	defer e.state.CompareAndSwap(BUSY, IDLE)

	if e.limiter != nil && !e.limiter.Allow() {
		monitor.FramesTotal.WithLabelValues(monitor.FrameDropped).Inc()
		return iface.RetData{Success: false, Data: MsgRateLimited}
	}

	fb, err := e.session.Process(frame)
	if err != nil {
		monitor.FramesTotal.WithLabelValues(monitor.FrameInvalid).Inc()
		return iface.RetData{Success: false, Data: err.Error()}
	}
	switch {
	case fb.Skipped:
		monitor.FramesTotal.WithLabelValues(monitor.FrameSkipped).Inc()
	case fb.Instruction == challenge.MsgNoFace:
		monitor.FramesTotal.WithLabelValues(monitor.FrameNoFace).Inc()
	default:
		monitor.FramesTotal.WithLabelValues(monitor.FrameAccepted).Inc()
	}
	if fb.Completed {
		e.complete()
	}
	if e.cfg.SnapshotDir != "" && frame.Image != "" {
		path := filepath.Join(e.cfg.SnapshotDir, e.ID+".jpg")
		if err := writeSnapshot(path, frame, fb); err != nil {
			logger.Log().Warn("snapshot failed", zap.String("ID", e.ID), zap.Error(err))
		}
	}
	return iface.RetData{Success: true, Data: fb}
}

func (e *Engine) complete() {
	monitor.ChallengesCompleted.Inc()
	st := e.session.Snapshot()
	logger.Log().Info("Challenge completed", zap.String("ID", e.ID), zap.Int("frames", st.Frames))
	if e.store == nil {
		return
	}
	rec := store.Record{
		SessionID:   e.ID,
		Description: e.cfg.Description,
		CompletedAt: time.Now().UTC(),
		Frames:      st.Frames,
		Flags:       st.Flags,
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := e.store.Save(ctx, rec); err != nil {
		logger.Log().Error("saving challenge result failed", zap.String("ID", e.ID), zap.Error(err))
	}
}

func (e *Engine) Reset() {
	e.touch()
	if e.session != nil {
		e.session.Reset()
	}
}

func (e *Engine) Status() challenge.Status {
	if e.session == nil {
		return challenge.Status{}
	}
	return e.session.Snapshot()
}

func (e *Engine) CheckConfig() iface.EngineConfig {
	return e.cfg
}

// Destroy 之后 Process 一律返回未注册，正在处理的帧照常完成
func (e *Engine) Destroy() {
	e.state.Store(UNREGISTERED)
}

var _ iface.Backend = (*Engine)(nil)
