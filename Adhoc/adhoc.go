package Adhoc

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"FacePoseServer/logger"
)

const TimeOutSeconds = 5

type RegisterRequest struct {
	Id             string `json:"id"`
	IP             string `json:"ip"`
	Port           int    `json:"port"`
	ActiveSessions int    `json:"activeSessions"`
	Capacity       int    `json:"capacity"`
	TimeStamp      int64  `json:"timestamp"`
}

type RegisterResponse struct {
	Id      string `json:"id"`
	Success bool   `json:"success"`
}

type RegServerConfig struct {
	Port int
	Addr string
	// Interval 心跳间隔，默认 TimeOutSeconds 秒
	Interval time.Duration
}

func (reg *RegServerConfig) SetAddress(addr string, port int) {
	reg.Addr = addr
	reg.Port = port
}

func (reg RegServerConfig) url() string {
	return fmt.Sprintf("http://%s:%d/api/register", reg.Addr, reg.Port)
}

// Load 上报当前负载
type Load interface {
	Len() int
	Capacity() int
}

// SendAliveMessage 周期性向注册中心上报本实例，直到 ctx 取消
func SendAliveMessage(ctx context.Context, cfg RegServerConfig, ip string, port int, load Load, wg *sync.WaitGroup) {
	defer wg.Done()
	interval := cfg.Interval
	if interval <= 0 {
		interval = TimeOutSeconds * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	client := resty.New().SetTimeout(TimeOutSeconds * time.Second) // 总超时
	id := uuid.NewString()
	url := cfg.url()

	safeDoRequest := func() {
		defer func() {
			if r := recover(); r != nil {
				logger.Log().Error(fmt.Sprintf("SendAliveMessage panic recovered: %v", r))
			}
		}()
		var respBody RegisterResponse
		reqBody := RegisterRequest{
			Id:             id,
			IP:             ip,
			Port:           port,
			ActiveSessions: load.Len(),
			Capacity:       load.Capacity(),
			TimeStamp:      time.Now().Unix(),
		}
		resp, err := client.R().
			SetContext(ctx).
			SetHeader("Content-Type", "application/json").
			SetBody(reqBody).     // 可以直接传 struct，resty 会 JSON 编码
			SetResult(&respBody). // 2xx 自动反序列化到 respBody
			Post(url)
		if err != nil {
			logger.Log().Error("register request error", zap.Error(err))
			return
		}
		// 检查 HTTP 状态码
		if resp.IsError() {
			logger.Log().Error("register server returned error", zap.String("status", resp.Status()), zap.String("body", resp.String()))
			return
		}
		if !respBody.Success {
			logger.Log().Warn("register server rejected heartbeat", zap.String("id", id))
		}
	}
	safeDoRequest()
	for {
		select {
		case <-ctx.Done():
			logger.Log().Info("SendAliveMessage context cancelled, exiting goroutine.")
			return
		case <-ticker.C:
			safeDoRequest()
		}
	}
}
