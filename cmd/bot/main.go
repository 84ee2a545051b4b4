package main

import (
	"log"
	"os"
	"os/signal"
	"syscall"

	"refgate-bot/internal/bot"
	"refgate-bot/internal/cache"
	"refgate-bot/internal/config"
	"refgate-bot/internal/coordinator"
	"refgate-bot/internal/health"
	"refgate-bot/internal/ledger"
	"refgate-bot/internal/persist"
	"refgate-bot/internal/registry"
	"refgate-bot/internal/store"
	"refgate-bot/internal/verifier"
	"refgate-bot/internal/worker"
)

func main() {
	// Load Configuration
	cfg := config.LoadConfig()
	if cfg.BotToken == "" {
		log.Fatal("TELEGRAM_BOT_TOKEN is required")
	}

	// Open Storage
	st := store.Open(cfg)
	defer st.Close()
	log.Printf("Using %s storage", st.Name())

	// Channel Registry: environment first, stored channels as fallback
	reg := registry.Parse(cfg.Channels)
	if reg.Len() == 0 {
		if channels, err := st.LoadChannels(); err == nil && len(channels) > 0 {
			reg = registry.FromChannels(channels)
		}
	}
	for _, ch := range reg.Channels() {
		if err := st.SaveChannel(ch); err != nil {
			log.Printf("Failed to persist channel %s: %v", ch.ChatID, err)
		}
	}
	log.Printf("Gate configured with %d channel(s)", reg.Len())

	// Cache and Write-Behind Queue: redis when configured, in-process
	// fallbacks otherwise
	var c cache.Cache
	var queue persist.Queue
	var persistWorker *persist.Worker

	if addr := cfg.RedisAddr(); addr != "" {
		rc, err := cache.ConnectRedis(addr, cfg.RedisPassword)
		if err != nil {
			log.Printf("Redis unavailable, using in-memory cache and direct persistence: %v", err)
			c = cache.NewMemory()
			queue = persist.NewDirect(st)
		} else {
			c = rc
			queue = persist.NewAsynqQueue(addr, cfg.RedisPassword)
			persistWorker = persist.NewWorker(addr, cfg.RedisPassword, st)
			if err := persistWorker.Start(); err != nil {
				log.Fatalf("Could not start persistence worker: %v", err)
			}
		}
	} else {
		c = cache.NewMemory()
		queue = persist.NewDirect(st)
	}

	// Ledger
	l := ledger.New(queue)
	if err := l.LoadFrom(st); err != nil {
		log.Fatalf("Could not load ledger state: %v", err)
	}

	// Bot and Verifier
	tgBot, err := bot.NewBot(cfg.BotToken, nil, l, reg, cfg)
	if err != nil {
		log.Fatalf("Could not create bot: %v", err)
	}

	v := verifier.New(verifier.NewTelegramChatAPI(tgBot.Instance), reg, c)
	tgBot.Coordinator = coordinator.New(l, v)

	// Health Endpoint
	healthServer := health.NewServer(l, reg, st.Name())
	go healthServer.Run(cfg.Port)

	// Background Maintenance
	sweeper := worker.NewSweeper(l, st)
	sweeper.Start()

	// Graceful shutdown: stop the sweeper (final flush included) before
	// the process exits.
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sig
		log.Println("Shutting down...")
		sweeper.Stop()
		if persistWorker != nil {
			persistWorker.Shutdown()
		}
		_ = st.Close()
		os.Exit(0)
	}()

	log.Println("Service started successfully")
	tgBot.Start()
}
