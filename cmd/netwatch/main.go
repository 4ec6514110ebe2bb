package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hitushen/netwatch/internal/config"
	"github.com/hitushen/netwatch/internal/engine"
	"github.com/hitushen/netwatch/internal/netcheck"
	"github.com/hitushen/netwatch/internal/probe"
	"github.com/hitushen/netwatch/internal/realtime"
	"github.com/hitushen/netwatch/internal/scanner"
	"github.com/hitushen/netwatch/internal/server"
	"github.com/hitushen/netwatch/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	st, err := store.New(cfg.DBPath)
	if err != nil {
		log.Fatalf("store: %v", err)
	}
	defer st.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := st.EnsureAdmin(ctx, cfg.AdminUser, cfg.AdminPassword); err != nil {
		log.Fatalf("ensure admin: %v", err)
	}

	gate := netcheck.New(netcheck.Config{
		Targets: cfg.GateTargets,
		Port:    cfg.GatePort,
		Timeout: cfg.GateTimeout,
		Mode:    cfg.GateMode,
	})

	var ports probe.PortProber = probe.NewDialer()
	if cfg.PortEngine == "naabu" {
		ports = probe.NewNaabu(cfg.NaabuRate)
	}

	eng := engine.New(gate, ports, probe.NewPinger(), engine.Defaults{
		Ports:          cfg.DefaultPorts,
		PingCount:      cfg.PingCount,
		TimeoutSeconds: cfg.TimeoutSeconds,
		RetryCount:     cfg.RetryCount,
	})

	broker := realtime.NewBroker()
	defer broker.Close()

	mgr := scanner.NewManager(st, eng, broker, scanner.Options{
		Workers:         4,
		ScanConcurrency: cfg.ScanConcurrency,
		ScanDeadline:    cfg.ScanDeadline,
	})
	defer mgr.Close()
	mgr.StartTicker(cfg.ScanInterval)

	httpServer := &http.Server{
		Addr:    cfg.Addr,
		Handler: server.New(cfg, st, mgr, broker).Handler(),
	}

	go func() {
		log.Printf("netwatch listening on %s (port engine=%s, gate mode=%s, interval=%s)", cfg.Addr, cfg.PortEngine, cfg.GateMode, cfg.ScanInterval)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("http server: %v", err)
		}
	}()

	// 优雅地关闭服务
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop
	log.Println("shutting down...")

	broker.Close()
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown error: %v", err)
	}
}
