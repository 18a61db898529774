package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/annel0/world-sync/internal/api"
	"github.com/annel0/world-sync/internal/auth"
	"github.com/annel0/world-sync/internal/config"
	"github.com/annel0/world-sync/internal/eventbus"
	"github.com/annel0/world-sync/internal/logging"
	"github.com/annel0/world-sync/internal/network"
	"github.com/annel0/world-sync/internal/observability"
	"github.com/annel0/world-sync/internal/storage"
	"github.com/annel0/world-sync/internal/sync"
	"github.com/annel0/world-sync/internal/vcs"
	"github.com/annel0/world-sync/internal/world"
)

func main() {
	configPath := flag.String("config", "", "путь к YAML конфигурации")
	flag.Parse()

	// Инициализируем систему логирования
	if err := logging.InitDefaultLogger("server"); err != nil {
		log.Fatalf("❌ Ошибка инициализации логирования: %v", err)
	}
	defer logging.CloseDefaultLogger()

	logging.Info("🌍 Запуск World Sync Server (синхронизация + версионирование мира)...")

	cfg, err := config.Load(*configPath)
	if err != nil {
		logging.Error("❌ Ошибка чтения конфигурации: %v", err)
		log.Fatalf("❌ Ошибка чтения конфигурации: %v", err)
	}
	if cfg == nil {
		cfg = &config.Config{}
		logging.Info("📋 Конфигурация не задана, используются значения по умолчанию")
	}

	restPort := cfg.Server.GetRESTPort()
	metricsPort := cfg.Server.GetMetricsPort()
	logging.Info("📡 Конфигурация: REST=:%d, metrics=:%d, backend=%s",
		restPort, metricsPort, cfg.Storage.GetBackend())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// OpenTelemetry (необязателен: без коллектора сервер продолжает работу)
	shutdownTelemetry, err := observability.InitTelemetry(ctx, "world-sync")
	if err != nil {
		logging.Warn("⚠️ OpenTelemetry недоступен: %v", err)
		shutdownTelemetry = func(context.Context) error { return nil }
	}

	// === ШИНА СОБЫТИЙ ===
	var bus eventbus.EventBus
	if cfg.EventBus.URL != "" {
		retention := time.Duration(cfg.EventBus.Retention) * time.Hour
		if retention <= 0 {
			retention = 24 * time.Hour
		}
		jsBus, err := eventbus.NewJetStreamBus(cfg.EventBus.URL, cfg.EventBus.Stream, retention)
		if err != nil {
			logging.Error("❌ Ошибка подключения к NATS: %v", err)
			log.Fatalf("❌ Ошибка подключения к NATS: %v", err)
		}
		defer jsBus.Close()
		bus = jsBus
		logging.Info("✅ Шина событий: NATS JetStream (%s)", cfg.EventBus.URL)
	} else {
		buffer := cfg.EventBus.Buffer
		if buffer <= 0 {
			buffer = 1024
		}
		bus = eventbus.NewMemoryBus(buffer)
		logging.Info("✅ Шина событий: in-memory (buffer=%d)", buffer)
	}

	if err := eventbus.StartLoggingListener(bus); err != nil {
		logging.Warn("⚠️ Не удалось запустить слушатель логов шины: %v", err)
	}
	busMetrics := eventbus.NewMetricsExporter(bus)
	busMetrics.Start(fmt.Sprintf(":%d", metricsPort))
	defer busMetrics.Stop()

	// === ПЕРСИСТЕНТНОСТЬ ===
	repoStore, err := buildRepoStore(ctx, &cfg.Storage)
	if err != nil {
		logging.Error("❌ Ошибка инициализации хранилища: %v", err)
		log.Fatalf("❌ Ошибка инициализации хранилища: %v", err)
	}
	defer repoStore.Close()

	cursorTTL := time.Duration(cfg.Sync.CursorTTLSeconds) * time.Second
	var cursors storage.CursorRepo
	if cfg.Storage.Redis != "" {
		redisCfg := storage.DefaultRedisCursorConfig()
		redisCfg.Addr = cfg.Storage.Redis
		if cursorTTL > 0 {
			redisCfg.TTL = cursorTTL
		}
		cursors, err = storage.NewRedisCursorRepo(ctx, redisCfg)
		if err != nil {
			logging.Error("❌ Ошибка подключения к Redis: %v", err)
			log.Fatalf("❌ Ошибка подключения к Redis: %v", err)
		}
		logging.Info("✅ Курсоры: Redis (%s)", cfg.Storage.Redis)
	} else {
		cursors = storage.NewMemoryCursorRepo(cursorTTL)
		logging.Info("✅ Курсоры: in-memory (TTL=%s)", cursorTTL)
	}
	defer cursors.Close()

	// === РЕПОЗИТОРИЙ ИСТОРИИ МИРА ===
	repoCfg := cfg.Repo
	if repoCfg.DefaultBranch == "" {
		repoCfg = vcs.DefaultRepositoryConfig()
	}
	repo := vcs.NewRepository(repoCfg, bus)
	if err := repo.LoadState(ctx, repoStore); err != nil {
		if errors.Is(err, world.ErrNotFound) {
			logging.Info("📂 Сохранённое состояние не найдено, создан новый репозиторий")
		} else {
			logging.Warn("⚠️ Не удалось загрузить состояние репозитория: %v", err)
		}
	} else {
		logging.Info("💾 Состояние репозитория восстановлено (ветка %s)", repo.CurrentBranch())
	}

	// === ДВИЖОК СИНХРОНИЗАЦИИ ===
	snapshot := world.NewSharedSnapshot(nil)
	engine := sync.NewEngine(snapshot, network.NewBusSender(bus, "server"), bus)
	engine.SetMetrics(sync.NewMetrics(nil))
	if cfg.Sync.FullSyncSeconds > 0 {
		engine.SetFullSyncInterval(time.Duration(cfg.Sync.FullSyncSeconds) * time.Second)
	}

	// === ПОЛЬЗОВАТЕЛИ И REST API ===
	users, err := auth.NewMemoryUserRepo()
	if err != nil {
		log.Fatalf("❌ Ошибка инициализации пользователей: %v", err)
	}
	if cfg.Auth.TokenTTLHours > 0 {
		auth.SetTokenTTL(time.Duration(cfg.Auth.TokenTTLHours) * time.Hour)
	}

	restServer, err := api.NewRestServer(api.Config{
		Port:     fmt.Sprintf(":%d", restPort),
		JWTToken: cfg.Auth.GetJWTSecret(),
	}, engine, repo, cursors, users)
	if err != nil {
		logging.Error("❌ Ошибка создания REST API: %v", err)
		log.Fatalf("❌ Ошибка создания REST API: %v", err)
	}

	go func() {
		if err := restServer.Start(); err != nil {
			logging.Error("❌ REST API завершился с ошибкой: %v", err)
		}
	}()

	// === ТИК ДВИЖКА ===
	tickRate := time.Duration(cfg.Sync.GetTickRateMs()) * time.Millisecond
	go func() {
		ticker := time.NewTicker(tickRate)
		defer ticker.Stop()
		dt := float32(tickRate.Seconds())
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := engine.Update(dt); err != nil {
					logging.Error("❌ Ошибка тика движка: %v", err)
				}
			}
		}
	}()

	logging.Info("✅ Все сервисы запущены")
	logging.Info("   🌐 REST API: http://localhost:%d", restPort)
	logging.Info("   📊 Метрики: http://localhost:%d/metrics", metricsPort)
	logging.Info("   ❤️  Health check: http://localhost:%d/health", restPort)
	logging.Info("   🔄 Тик движка: %s, полная рассылка: каждые %ds",
		tickRate, cfg.Sync.FullSyncSeconds)

	// Ждём сигнала завершения
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logging.Info("📡 Получен сигнал %v, завершение работы...", sig)

	// === GRACEFUL SHUTDOWN ===
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := restServer.Shutdown(shutdownCtx); err != nil {
		logging.Warn("⚠️ Ошибка остановки REST API: %v", err)
	}
	if err := repo.SaveState(shutdownCtx, repoStore); err != nil {
		logging.Error("❌ Не удалось сохранить состояние репозитория: %v", err)
	} else {
		logging.Info("💾 Состояние репозитория сохранено")
	}
	if err := shutdownTelemetry(shutdownCtx); err != nil {
		logging.Warn("⚠️ Ошибка остановки телеметрии: %v", err)
	}

	logging.Info("✅ Сервер остановлен")
}

// buildRepoStore выбирает бэкенд персистентности репозитория по конфигурации.
func buildRepoStore(ctx context.Context, cfg *config.StorageConfig) (vcs.RepoStore, error) {
	switch cfg.GetBackend() {
	case "badger":
		dataPath := cfg.DataPath
		if dataPath == "" {
			dataPath = "./data"
		}
		return storage.NewBadgerRepoStore(dataPath)
	case "maria":
		if cfg.MariaDSN == "" {
			return nil, fmt.Errorf("бэкенд maria требует maria_dsn")
		}
		return storage.NewMariaRepoStore(cfg.MariaDSN)
	case "mongo":
		if cfg.MongoURI == "" {
			return nil, fmt.Errorf("бэкенд mongo требует mongo_uri")
		}
		db := cfg.MongoDB
		if db == "" {
			db = "worldsync"
		}
		return storage.NewMongoRepoStore(ctx, cfg.MongoURI, db)
	case "memory":
		return vcs.NewMemoryRepoStore(), nil
	default:
		return nil, fmt.Errorf("неизвестный бэкенд хранилища: %s", cfg.Backend)
	}
}
