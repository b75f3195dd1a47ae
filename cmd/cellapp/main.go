package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/l1jgo/cellapp/internal/config"
	"github.com/l1jgo/cellapp/internal/core/ecs"
	"github.com/l1jgo/cellapp/internal/core/event"
	coresys "github.com/l1jgo/cellapp/internal/core/system"
	"github.com/l1jgo/cellapp/internal/data"
	"github.com/l1jgo/cellapp/internal/ghost"
	"github.com/l1jgo/cellapp/internal/handler"
	"github.com/l1jgo/cellapp/internal/interconnect"
	gonet "github.com/l1jgo/cellapp/internal/net"
	"github.com/l1jgo/cellapp/internal/net/packet"
	"github.com/l1jgo/cellapp/internal/persist"
	"github.com/l1jgo/cellapp/internal/scripting"
	"github.com/l1jgo/cellapp/internal/system"
	"github.com/l1jgo/cellapp/internal/viewer"
	"github.com/l1jgo/cellapp/internal/world"
	"github.com/pkg/profile"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func main() {
	// CELLAPP_PROFILE=cpu|mem writes a pprof file to the working directory.
	switch os.Getenv("CELLAPP_PROFILE") {
	case "cpu":
		defer profile.Start(profile.CPUProfile, profile.ProfilePath("."), profile.NoShutdownHook).Stop()
	case "mem":
		defer profile.Start(profile.MemProfile, profile.ProfilePath("."), profile.NoShutdownHook).Stop()
	}

	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

// ── Startup display helpers ────────────────────────────────────────

func printBanner(name string, cellID uint64) {
	fmt.Println()
	fmt.Println("\033[36;1m  ┌───────────────────────────────────────────┐\033[0m")
	fmt.Println("\033[36;1m  │\033[0m              cellapp  v0.1.0              \033[36;1m│\033[0m")
	fmt.Println("\033[36;1m  │\033[0m       空間 · 視野 · ghost 同步伺服器      \033[36;1m│\033[0m")
	fmt.Println("\033[36;1m  └───────────────────────────────────────────┘\033[0m")
	fmt.Println()
	fmt.Printf("  \033[1m伺服器:\033[0m %s \033[90m(cell: %d)\033[0m\n\n", name, cellID)
}

// displayWidth counts CJK characters as two columns.
func displayWidth(s string) int {
	w := 0
	for _, r := range s {
		if r > 0x7F {
			w += 2
		} else {
			w++
		}
	}
	return w
}

func printSection(title string) {
	lineLen := 46 - displayWidth(title) - 1
	if lineLen < 3 {
		lineLen = 3
	}
	fmt.Printf("  \033[33m── %s %s\033[0m\n", title, strings.Repeat("─", lineLen))
}

func printStat(label string, count int) {
	numStr := fmt.Sprintf("%d", count)
	dotsLen := 42 - displayWidth(label) - len(numStr)
	if dotsLen < 3 {
		dotsLen = 3
	}
	fmt.Printf("  %s \033[90m%s\033[0m \033[32m%s\033[0m\n", label, strings.Repeat("·", dotsLen), numStr)
}

func printOK(msg string) {
	fmt.Printf("  \033[32m✓\033[0m %s\n", msg)
}

func printSkip(msg string) {
	fmt.Printf("  \033[90m- %s\033[0m\n", msg)
}

func printReady(msg string) {
	fmt.Printf("  \033[32m▶\033[0m %s\n", msg)
}

// ── Main server logic ─────────────────────────────────────────────

func run() error {
	// 1. Load config
	cfgPath := "config/cellapp.toml"
	if p := os.Getenv("CELLAPP_CONFIG"); p != "" {
		cfgPath = p
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	// 2. Init logger
	log, err := newLogger(cfg.Logging)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer log.Sync()

	if err := packet.UseCharset(cfg.Network.ClientCharset); err != nil {
		return fmt.Errorf("client charset: %w", err)
	}

	printBanner(cfg.Server.Name, cfg.Server.ComponentID)

	// 3. Cell and entity definitions
	printSection("空間資料")
	cell := world.NewCell(ecs.ComponentID(cfg.Server.ComponentID), cellOptions(cfg.Cell), event.NewBus(), log)
	defs, err := data.LoadEntityDefs(cfg.Data.EntityDefs)
	if err != nil {
		return fmt.Errorf("entity defs: %w", err)
	}
	defs.Register(cell)
	printStat("實體類型", defs.Count())
	printStat("空間", len(defs.Spaces()))
	fmt.Println()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 4. Cross-cell transport
	printSection("跨 cell 傳輸")
	var (
		transport ghost.Transport = interconnect.Disabled{}
		inbox     <-chan interconnect.Inbound
	)
	if cfg.Interconnect.Enabled {
		kt := interconnect.NewTransport(ecs.ComponentID(cfg.Server.ComponentID), interconnect.Config{
			Brokers:     cfg.Interconnect.Brokers,
			TopicPrefix: cfg.Interconnect.TopicPrefix,
		}, log)
		kt.Run(ctx)
		defer kt.Close()
		transport, inbox = kt, kt.Inbox()
		printOK(fmt.Sprintf("Kafka %s", strings.Join(cfg.Interconnect.Brokers, ",")))
	} else {
		printSkip("單機模式，未啟用")
	}
	ghosts := ghost.NewManager(cell, transport, ghost.Config{
		SyncInterval:  cfg.Ghost.SyncInterval,
		RouteTimeout:  cfg.Ghost.RouteTimeout,
		CheckInterval: cfg.Ghost.RouteCheckInterval,
	}, log)
	fmt.Println()

	// 5. Handoff journal
	printSection("資料庫")
	var journal system.Journal = system.NopJournal{}
	if cfg.Database.Enabled {
		dbCtx, dbCancel := context.WithTimeout(ctx, 30*time.Second)
		db, err := persist.NewDB(dbCtx, cfg.Database, cfg.Server.Name, log)
		if err != nil {
			dbCancel()
			return fmt.Errorf("database: %w", err)
		}
		defer db.Close()
		printOK("PostgreSQL 連線成功")
		err = persist.RunMigrations(dbCtx, db.Pool, log)
		dbCancel()
		if err != nil {
			return fmt.Errorf("migrations: %w", err)
		}
		printOK("資料庫遷移完成")

		j := persist.NewJournal(persist.NewJournalRepo(db), 0, time.Second, log)
		j.Start(ctx)
		defer j.Stop()
		journal = j
	} else {
		printSkip("交接日誌未啟用")
	}
	fmt.Println()

	// 6. Scripts
	printSection("腳本")
	engine, err := scripting.NewEngine(cfg.Scripting.Dir, log)
	if err != nil {
		return fmt.Errorf("scripts: %w", err)
	}
	defer engine.Close()
	engine.Bind(cell)
	engine.SetPropertySink(ghosts.SetProperty)
	migrations := system.NewMigrationSystem(cell, ghosts, journal, log)
	engine.SetMigrator(migrations.Request)
	printOK(fmt.Sprintf("Lua 腳本載入完成 (%s)", cfg.Scripting.Dir))
	fmt.Println()

	// 7. Network server
	netServer, err := gonet.NewServer(
		cfg.Network.BindAddress,
		cfg.Network.InQueueSize,
		cfg.Network.OutQueueSize,
		cfg.Network.PacketsPerSecond,
		log,
	)
	if err != nil {
		return fmt.Errorf("net server: %w", err)
	}
	go netServer.AcceptLoop()

	sessions := gonet.NewSessionStore()
	deps := &handler.Deps{
		Config:   cfg,
		Log:      log,
		Cell:     cell,
		Sessions: sessions,
		Scripts:  engine,
	}
	pktReg := packet.NewRegistry(log)
	handler.RegisterAll(pktReg, deps)

	// 8. Create systems and register with runner
	system.SubscribeCellEvents(cell, ghosts, journal, log)

	runner := coresys.NewRunner()
	runner.Register(system.NewInputSystem(netServer, pktReg, deps, ghosts, inbox, system.InputConfig{
		MaxPacketsPerTick: cfg.Network.MaxPacketsPerTick,
		HeartbeatTimeout:  cfg.Network.HeartbeatTimeout,
	}, log))
	runner.Register(system.NewEventSystem(cell))
	runner.Register(system.NewControllerSystem(cell))
	runner.Register(migrations)
	runner.Register(system.NewGhostSystem(ghosts))
	runner.Register(system.NewOutputSystem(cell, sessions))
	runner.Register(system.NewCleanupSystem(cell))

	var view *viewer.Server
	if cfg.Viewer.Enabled {
		view = viewer.NewServer(cfg.Viewer.BindAddress, log)
		view.Start()
		runner.Register(system.NewSnapshotSystem(cell, view, cfg.Viewer.PublishEveryTicks))
	}

	// 9. Start tick loop
	shutdownCh := make(chan os.Signal, 1)
	signal.Notify(shutdownCh, syscall.SIGINT, syscall.SIGTERM)

	ticker := time.NewTicker(cfg.Cell.TickRate)
	defer ticker.Stop()

	printSection("伺服器就緒")
	printReady(fmt.Sprintf("監聽位址 %s", netServer.Addr().String()))
	if view != nil {
		printReady(fmt.Sprintf("空間檢視器 http://%s", cfg.Viewer.BindAddress))
	}
	printReady(fmt.Sprintf("遊戲迴圈啟動 (tick: %s)", cfg.Cell.TickRate))
	fmt.Println()

	for {
		select {
		case <-ticker.C:
			if took := runner.Tick(cfg.Cell.TickRate); took > cfg.Cell.TickRate {
				phase, pd := runner.SlowestPhase()
				log.Warn("tick 超時",
					zap.Duration("took", took),
					zap.Stringer("phase", phase),
					zap.Duration("phase_took", pd),
					zap.Uint64("tick", cell.Tick()),
				)
			}
		case sig := <-shutdownCh:
			log.Info("收到關閉信號", zap.String("signal", sig.String()))
			// last batches out before the transport closes
			ghosts.Flush(true)
			netServer.Shutdown()
			if view != nil {
				stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
				if err := view.Stop(stopCtx); err != nil {
					log.Warn("空間檢視器關閉失敗", zap.Error(err))
				}
				stopCancel()
			}
			st := ghosts.Stats()
			ps := pktReg.Stats()
			log.Info("伺服器已停止",
				zap.Uint64("tick", cell.Tick()),
				zap.Uint64("batches", st.Batches),
				zap.Uint64("undeliverable", st.Undeliverable),
				zap.Uint64("send_errors", st.SendErrors),
				zap.Uint64("packets", ps.Handled),
				zap.Uint64("rejected_packets", ps.Rejected),
				zap.Int("script_errors", engine.Errors()),
			)
			return nil
		}
	}
}

func cellOptions(c config.CellConfig) world.Options {
	return world.Options{
		HasY:                    c.HasY,
		DefaultViewRadius:       c.DefaultViewRadius,
		DefaultViewLag:          c.DefaultViewLagArea,
		PosDirAdditionalUpdates: c.PosDirAdditionalUpdates,
		AliasEntityID:           c.AliasEntityID,
		RestoreViewEntities:     c.RestoreViewEntities,
		MaxPackRange:            c.MaxPackRange,
	}
}

func newLogger(cfg config.LoggingConfig) (*zap.Logger, error) {
	var level zapcore.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = zapcore.InfoLevel
	}

	var zapCfg zap.Config
	if cfg.Format == "json" {
		zapCfg = zap.NewProductionConfig()
	} else {
		zapCfg = zap.NewDevelopmentConfig()
		zapCfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		zapCfg.EncoderConfig.EncodeTime = zapcore.TimeEncoderOfLayout("15:04:05")
		zapCfg.EncoderConfig.ConsoleSeparator = "  "
		zapCfg.DisableCaller = true
		zapCfg.DisableStacktrace = true
	}
	zapCfg.Level = zap.NewAtomicLevelAt(level)

	return zapCfg.Build()
}
