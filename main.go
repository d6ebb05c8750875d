package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"sync"
	"syscall"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	adhoc "FacePoseServer/Adhoc"
	"FacePoseServer/config"
	"FacePoseServer/engine"
	backend "FacePoseServer/gRPC"
	"FacePoseServer/logger"
	"FacePoseServer/monitor"
	"FacePoseServer/store"
)

func GetOutboundIP() (string, error) {
	// 8.8.8.8 只是为了让内核选出本地出口 IP，不会真的发包
	conn, err := net.Dial("udp", "8.8.8.8:80")
	if err != nil {
		return "", err
	}
	defer conn.Close()

	localAddr := conn.LocalAddr().(*net.UDPAddr)

	return localAddr.IP.String(), nil
}

// openStore 优先使用 Redis，连不上时退回内存存储
func openStore(ctx context.Context, cfg config.Config) store.Store {
	if cfg.Store == "redis" {
		st, err := store.NewRedis(ctx, store.RedisOptions{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
			TTL:      cfg.ResultTTL(),
		})
		if err == nil {
			return st
		}
		logger.Log().Error("redis unavailable, falling back to memory store", zap.String("addr", cfg.RedisAddr), zap.Error(err))
	}
	return store.NewMemory(cfg.ResultTTL())
}

func main() {
	configPath := flag.String("config", "config.yaml", "path to the yaml config")
	envFile := flag.String("env", ".env", "optional dotenv file")
	flag.Parse()

	cfg, err := config.Load(*configPath, *envFile)
	if err != nil {
		fmt.Println("Failed to load config:", err)
		os.Exit(1)
	}
	if err := logger.Init(logger.Options{Development: cfg.Development, File: cfg.LogFile}); err != nil {
		fmt.Println("Failed to init logger:", err)
		os.Exit(1)
	}
	defer logger.Sync()

	ip, err := GetOutboundIP()
	if err != nil {
		logger.Log().Warn("Failed to get outbound IP", zap.Error(err))
		ip = "127.0.0.1"
	}

	fmt.Println(strings.Repeat("#", 64))
	CPUNum := runtime.NumCPU()
	fmt.Printf("CPU Cores: %d\n", CPUNum)
	fmt.Println("Outbound IP:", ip)
	fmt.Println(" HTTP  Port:", cfg.HTTPPort)
	fmt.Println(" gRPC  Port:", cfg.RPCPort)
	fmt.Println(" Adhoc Port:", cfg.AdhocPort)
	fmt.Println("Configured Workers Num:", cfg.WorkersNum)
	fmt.Println(strings.Repeat("#", 64))
	if cfg.WorkersNum <= 0 {
		cfg.WorkersNum = 1
		fmt.Println("Invalid workersNum in config, defaulting to 1")
	} else if cfg.WorkersNum > CPUNum {
		fmt.Println("Please noted that workersNum exceeds CPU cores, which may lead to performance degradation.")
	}
	logger.Log().Info("config loaded", zap.Stringer("config", cfg))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st := openStore(ctx, cfg)
	reg := engine.NewRegistry(st, cfg.EngineDefaults(), cfg.IdleTimeout(), cfg.MaxSessions)

	backend.JobQueue = make(chan backend.JobPackage, cfg.WorkersNum)
	backend.StartWorker(cfg.WorkersNum)

	fmt.Println("Starting gRPC Server")
	grpcServer, grpcAddr, err := backend.StartGRPCServer(fmt.Sprintf(":%d", cfg.RPCPort), reg)
	if err != nil {
		logger.Log().Fatal("gRPC server failed to start", zap.Error(err))
	}
	logger.Log().Info("gRPC ready", zap.String("addr", grpcAddr.String()))

	httpSrv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:           newHTTPServer(reg).router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	ctx, cancel := context.WithCancel(ctx)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		reg.Run(gctx)
		return nil
	})
	g.Go(func() error {
		monitor.StartMon(gctx, cfg.AdhocPort)
		return nil
	})
	g.Go(func() error {
		logger.Log().Info("HTTP server listening", zap.String("addr", httpSrv.Addr))
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	var wg sync.WaitGroup
	if cfg.UseRegServer {
		regCfg := adhoc.RegServerConfig{}
		regCfg.SetAddress(cfg.RegServerHost, cfg.RegServerPort)
		wg.Add(1)
		go adhoc.SendAliveMessage(gctx, regCfg, ip, cfg.RPCPort, reg, &wg)
	} else {
		fmt.Println("UseRegServer is set to false, skipping registration")
	}
	g.Go(func() error {
		select {
		case <-backend.CloseChannel:
			logger.Log().Info("shutdown requested")
		case <-gctx.Done():
		}
		cancel()

		shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
		defer done()
		err := httpSrv.Shutdown(shutdownCtx)
		grpcServer.GracefulStop()
		reg.Close()
		close(backend.JobQueue)
		return multierr.Append(err, st.Close())
	})

	if err := g.Wait(); err != nil {
		logger.Log().Error("server stopped with error", zap.Error(err))
	}
	wg.Wait()
	fmt.Println("Safely exited")
}
