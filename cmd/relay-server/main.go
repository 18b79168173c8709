package main

import (
	"fmt"
	"time"

	"github.com/peerlink-dev/peerlink-go-chat-relay/internal/config"
	"github.com/peerlink-dev/peerlink-go-chat-relay/internal/event"
	"github.com/peerlink-dev/peerlink-go-chat-relay/internal/logger"
	"github.com/peerlink-dev/peerlink-go-chat-relay/internal/monitor"
	"github.com/peerlink-dev/peerlink-go-chat-relay/internal/registry"
	"github.com/peerlink-dev/peerlink-go-chat-relay/internal/router"
	"github.com/peerlink-dev/peerlink-go-chat-relay/internal/server"
	"github.com/peerlink-dev/peerlink-go-chat-relay/internal/store"
	"github.com/peerlink-dev/peerlink-go-chat-relay/internal/utils"
)

func main() {
	cfg, err := config.ReadConfig()
	if err != nil {
		logger.FatalF("Error occurred while reading config %v", err)
		return
	}
	loggerCallback := logger.Init()
	logger.Debug("Application initializing...")

	cleaner := event.NewCleaner()
	cleaner.Init(loggerCallback)

	timeout := utils.ParseStringTime(cfg.Heartbeat.Timeout)
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	tick := utils.ParseStringTime(cfg.Heartbeat.MonitorTick)
	if tick == 0 {
		tick = 5 * time.Second
	}
	grace := utils.ParseStringTime(cfg.Heartbeat.SessionGrace)

	offlineStore := store.NewOfflineStore(cfg)
	reg := registry.NewRegistry()
	reg.SetWriteTimeout(timeout)
	rt := router.New(reg, offlineStore)

	mon := monitor.New(reg, tick, timeout, grace)
	mon.Start()
	cleaner.Add(mon)

	srv := server.NewServer(reg, rt, timeout)
	cleaner.Add(srv)

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	if err := srv.Listen(addr); err != nil {
		logger.FatalF("Relay server start error: %v", err)
	}
}
