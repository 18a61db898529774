package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	gosync "sync"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/annel0/world-sync/internal/auth"
	"github.com/annel0/world-sync/internal/logging"
	"github.com/annel0/world-sync/internal/middleware"
	"github.com/annel0/world-sync/internal/storage"
	"github.com/annel0/world-sync/internal/sync"
	"github.com/annel0/world-sync/internal/vcs"
	"github.com/annel0/world-sync/internal/vec"
	"github.com/annel0/world-sync/internal/world"
)

// RestServer — HTTP-фасад над движком синхронизации и репозиторием истории.
// Репозиторий не имеет внутренних блокировок, поэтому все обращения к нему
// из хендлеров идут под repoMu.
type RestServer struct {
	router   *gin.Engine
	port     string
	engine   *sync.Engine
	repo     *vcs.Repository
	repoMu   gosync.Mutex
	cursors  storage.CursorRepo
	userRepo auth.UserRepository
	metrics  *ServerMetrics
	httpSrv  *http.Server
}

// Config конфигурация REST сервера
type Config struct {
	Port     string // ":8088"
	JWTToken string // секретный ключ для JWT (опционально)
}

// NewRestServer создаёт новый REST сервер с подключёнными middleware.
func NewRestServer(config Config, engine *sync.Engine, repo *vcs.Repository,
	cursors storage.CursorRepo, userRepo auth.UserRepository) (*RestServer, error) {

	if config.JWTToken != "" {
		if err := auth.SetJWTSecret(config.JWTToken); err != nil {
			return nil, fmt.Errorf("не удалось установить JWT секрет: %w", err)
		}
	}

	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.NewRequestLogger().Handler())
	router.Use(otelgin.Middleware("rest_api"))

	prometheusMW := middleware.NewPrometheusMiddleware("rest_api")
	router.Use(prometheusMW.Handler())
	prometheusMW.RegisterMetricsEndpoint(router)

	rs := &RestServer{
		router:   router,
		port:     config.Port,
		engine:   engine,
		repo:     repo,
		cursors:  cursors,
		userRepo: userRepo,
		metrics:  NewServerMetrics(),
	}

	rs.setupRoutes()

	logging.Info("✅ REST API сервер инициализирован на порту %s", config.Port)
	return rs, nil
}

// setupRoutes настраивает маршруты API
func (rs *RestServer) setupRoutes() {
	// CORS middleware
	rs.router.Use(func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Authorization")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	})

	// Публичные маршруты
	api := rs.router.Group("/api")
	{
		api.POST("/auth/login", rs.handleLogin)
	}

	// Защищённые маршруты (требуют JWT)
	protected := rs.router.Group("/api")
	protected.Use(middleware.AuthRequired())
	{
		protected.GET("/stats", rs.handleStats)
		protected.GET("/world", rs.handleWorldSnapshot)

		protected.GET("/cursors", rs.handleGetCursors)
		protected.POST("/cursors", rs.handleUpdateCursor)

		protected.GET("/branches", rs.handleGetBranches)
		protected.POST("/branches", rs.handleCreateBranch)
		protected.POST("/branches/switch", rs.handleSwitchBranch)
		protected.GET("/history", rs.handleHistory)
		protected.GET("/commits/:id", rs.handleGetCommit)
		protected.POST("/stage", rs.handleStage)
		protected.POST("/commit", rs.handleCommit)
		protected.POST("/merge", rs.handleMerge)
		protected.GET("/conflicts", rs.handleGetConflicts)
		protected.POST("/conflicts/:id/resolve", rs.handleResolveConflict)

		// Административные маршруты
		admin := protected.Group("/admin")
		admin.Use(middleware.AdminRequired())
		{
			admin.POST("/register", rs.handleAdminRegister)
			admin.POST("/gc", rs.handleGarbageCollect)
		}
	}

	// Health check
	rs.router.GET("/health", rs.handleHealth)
}

// LoginRequest представляет запрос на вход
type LoginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// LoginResponse представляет ответ на вход
type LoginResponse struct {
	Success bool   `json:"success"`
	Token   string `json:"token,omitempty"`
	Message string `json:"message"`
	UserID  uint64 `json:"user_id,omitempty"`
	IsAdmin bool   `json:"is_admin,omitempty"`
}

// RegisterRequest представляет запрос на регистрацию
type RegisterRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
	IsAdmin  bool   `json:"is_admin"`
}

// GenericResponse представляет общий ответ API
type GenericResponse struct {
	Success bool        `json:"success"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// StageRequest — правка мира для staging area.
type StageRequest struct {
	ChangeType vcs.ChangeType    `json:"change_type" binding:"required"`
	ChunkID    string            `json:"chunk_id" binding:"required"`
	Position   vec.Vec3i         `json:"position"`
	Area       *vcs.WorldBounds  `json:"area,omitempty"`
	Before     []byte            `json:"before_state,omitempty"`
	After      []byte            `json:"after_state" binding:"required"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// CommitRequest — запрос на фиксацию staging area.
type CommitRequest struct {
	Message string `json:"message" binding:"required"`
}

// BranchRequest — создание ветки; from_commit пустой = от текущей головы.
type BranchRequest struct {
	Name       string `json:"name" binding:"required"`
	FromCommit string `json:"from_commit"`
}

// SwitchRequest — переключение текущей ветки.
type SwitchRequest struct {
	Name string `json:"name" binding:"required"`
}

// MergeRequest — слияние source в target.
type MergeRequest struct {
	Source string `json:"source" binding:"required"`
	Target string `json:"target" binding:"required"`
}

// ResolveRequest — разрешение конфликта; state обязателен только для manual.
type ResolveRequest struct {
	Strategy vcs.ResolutionStrategy `json:"strategy" binding:"required"`
	State    []byte                 `json:"state,omitempty"`
}

// currentEditor восстанавливает идентификатор редактора из JWT-контекста.
func (rs *RestServer) currentEditor(c *gin.Context) (world.UserID, bool) {
	raw, exists := c.Get("user_id")
	if !exists {
		return "", false
	}
	id, ok := raw.(uint64)
	if !ok {
		return "", false
	}
	user, err := rs.userRepo.GetUserByID(id)
	if err != nil {
		return "", false
	}
	return user.EditorID(), true
}

// handleLogin обрабатывает запрос на вход
func (rs *RestServer) handleLogin(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, LoginResponse{
			Success: false,
			Message: "Неверный формат запроса",
		})
		return
	}

	user, err := rs.userRepo.ValidateCredentials(req.Username, req.Password)
	if err != nil {
		c.JSON(http.StatusUnauthorized, LoginResponse{
			Success: false,
			Message: "Неверное имя пользователя или пароль",
		})
		return
	}

	token, err := auth.GenerateJWT(user)
	if err != nil {
		logging.Error("❌ Ошибка генерации JWT: %v", err)
		c.JSON(http.StatusInternalServerError, LoginResponse{
			Success: false,
			Message: "Внутренняя ошибка сервера",
		})
		return
	}

	c.JSON(http.StatusOK, LoginResponse{
		Success: true,
		Token:   token,
		Message: "Вход выполнен успешно",
		UserID:  user.ID,
		IsAdmin: user.IsAdmin,
	})
}

// handleAdminRegister регистрирует нового пользователя (только для админов)
func (rs *RestServer) handleAdminRegister(c *gin.Context) {
	var req RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, GenericResponse{
			Success: false,
			Message: "Неверный формат запроса",
		})
		return
	}

	if len(req.Username) < 3 || len(req.Username) > 30 {
		c.JSON(http.StatusBadRequest, GenericResponse{
			Success: false,
			Message: "Имя пользователя должно быть от 3 до 30 символов",
		})
		return
	}
	if len(req.Password) < 6 {
		c.JSON(http.StatusBadRequest, GenericResponse{
			Success: false,
			Message: "Пароль должен содержать минимум 6 символов",
		})
		return
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		c.JSON(http.StatusInternalServerError, GenericResponse{
			Success: false,
			Message: "Внутренняя ошибка сервера",
		})
		return
	}

	user, err := rs.userRepo.CreateUser(req.Username, hash, req.IsAdmin)
	if err != nil {
		if errors.Is(err, auth.ErrUserExists) {
			c.JSON(http.StatusConflict, GenericResponse{
				Success: false,
				Message: "Пользователь с таким именем уже существует",
			})
			return
		}
		c.JSON(http.StatusInternalServerError, GenericResponse{
			Success: false,
			Message: "Не удалось создать пользователя",
		})
		return
	}

	logging.Info("✅ Зарегистрирован пользователь %s (admin=%v)", user.Username, user.IsAdmin)
	c.JSON(http.StatusCreated, GenericResponse{
		Success: true,
		Message: "Пользователь создан",
		Data: map[string]interface{}{
			"user_id":  user.ID,
			"username": user.Username,
			"is_admin": user.IsAdmin,
		},
	})
}

// handleStats возвращает сводную статистику: синхронизация, история, ресурсы.
func (rs *RestServer) handleStats(c *gin.Context) {
	syncStats := rs.engine.Stats()

	rs.repoMu.Lock()
	repoStats := rs.repo.Stats()
	currentBranch := rs.repo.CurrentBranch()
	rs.repoMu.Unlock()

	memoryMB, _ := rs.metrics.GetMemoryUsage()
	cpuPercent, _ := rs.metrics.GetCPUUsage()

	c.JSON(http.StatusOK, GenericResponse{
		Success: true,
		Message: "Статистика получена",
		Data: map[string]interface{}{
			"sync": syncStats,
			"repository": map[string]interface{}{
				"current_branch":     currentBranch,
				"total_commits":      repoStats.TotalCommits,
				"total_branches":     repoStats.TotalBranches,
				"total_merges":       repoStats.TotalMerges,
				"conflicts_resolved": repoStats.ConflictsResolved,
				"gc_runs":            repoStats.GCRuns,
			},
			"server": map[string]interface{}{
				"uptime":      rs.metrics.GetUptime(),
				"memory_mb":   fmt.Sprintf("%.1f", memoryMB),
				"cpu_percent": fmt.Sprintf("%.1f", cpuPercent),
				"memory":      rs.metrics.GetDetailedMemoryStats(),
			},
		},
	})
}

// handleWorldSnapshot возвращает глубокую копию текущего снапшота мира.
func (rs *RestServer) handleWorldSnapshot(c *gin.Context) {
	snapshot := rs.engine.Snapshot().CloneLocked()
	c.JSON(http.StatusOK, GenericResponse{
		Success: true,
		Message: "Снапшот мира",
		Data:    snapshot,
	})
}

// handleGetCursors возвращает живые курсоры всех редакторов.
func (rs *RestServer) handleGetCursors(c *gin.Context) {
	cursors := rs.engine.UserCursors()
	c.JSON(http.StatusOK, GenericResponse{
		Success: true,
		Message: "Курсоры получены",
		Data: map[string]interface{}{
			"cursors": cursors,
			"total":   len(cursors),
		},
	})
}

// handleUpdateCursor обновляет курсор текущего пользователя.
func (rs *RestServer) handleUpdateCursor(c *gin.Context) {
	editor, ok := rs.currentEditor(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, GenericResponse{
			Success: false,
			Message: "Пользователь не найден",
		})
		return
	}

	var cursor world.UserCursor
	if err := c.ShouldBindJSON(&cursor); err != nil {
		c.JSON(http.StatusBadRequest, GenericResponse{
			Success: false,
			Message: "Неверный формат курсора: " + err.Error(),
		})
		return
	}
	cursor.UserID = editor

	if err := rs.engine.UpdateUserCursor(editor, cursor); err != nil {
		c.JSON(http.StatusInternalServerError, GenericResponse{
			Success: false,
			Message: "Не удалось обновить курсор",
		})
		return
	}
	if rs.cursors != nil {
		if err := rs.cursors.Save(c.Request.Context(), cursor); err != nil {
			logging.Warn("⚠️ Не удалось сохранить курсор %s: %v", editor, err)
		}
	}

	c.JSON(http.StatusOK, GenericResponse{
		Success: true,
		Message: "Курсор обновлён",
	})
}

// handleGetBranches возвращает список веток репозитория.
func (rs *RestServer) handleGetBranches(c *gin.Context) {
	rs.repoMu.Lock()
	branches := rs.repo.Branches()
	current := rs.repo.CurrentBranch()
	rs.repoMu.Unlock()

	c.JSON(http.StatusOK, GenericResponse{
		Success: true,
		Message: "Список веток",
		Data: map[string]interface{}{
			"branches": branches,
			"current":  current,
			"total":    len(branches),
		},
	})
}

// handleCreateBranch создаёт новую ветку.
func (rs *RestServer) handleCreateBranch(c *gin.Context) {
	editor, ok := rs.currentEditor(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, GenericResponse{
			Success: false,
			Message: "Пользователь не найден",
		})
		return
	}

	var req BranchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, GenericResponse{
			Success: false,
			Message: "Неверный формат запроса",
		})
		return
	}

	rs.repoMu.Lock()
	err := rs.repo.CreateBranch(req.Name, editor, req.FromCommit)
	rs.repoMu.Unlock()
	if err != nil {
		rs.repoError(c, err, "Не удалось создать ветку")
		return
	}

	c.JSON(http.StatusCreated, GenericResponse{
		Success: true,
		Message: fmt.Sprintf("Ветка %s создана", req.Name),
	})
}

// handleSwitchBranch переключает текущую ветку.
func (rs *RestServer) handleSwitchBranch(c *gin.Context) {
	var req SwitchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, GenericResponse{
			Success: false,
			Message: "Неверный формат запроса",
		})
		return
	}

	rs.repoMu.Lock()
	err := rs.repo.SwitchBranch(req.Name)
	rs.repoMu.Unlock()
	if err != nil {
		rs.repoError(c, err, "Не удалось переключить ветку")
		return
	}

	c.JSON(http.StatusOK, GenericResponse{
		Success: true,
		Message: fmt.Sprintf("Текущая ветка: %s", req.Name),
	})
}

// handleHistory возвращает историю коммитов ветки (новые сверху).
func (rs *RestServer) handleHistory(c *gin.Context) {
	branch := c.Query("branch")
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if limit < 0 {
		limit = 0
	}

	rs.repoMu.Lock()
	commits, err := rs.repo.CommitHistory(branch, limit)
	rs.repoMu.Unlock()
	if err != nil {
		rs.repoError(c, err, "Не удалось получить историю")
		return
	}

	c.JSON(http.StatusOK, GenericResponse{
		Success: true,
		Message: "История коммитов",
		Data: map[string]interface{}{
			"commits": commits,
			"total":   len(commits),
		},
	})
}

// handleGetCommit возвращает коммит по идентификатору.
func (rs *RestServer) handleGetCommit(c *gin.Context) {
	rs.repoMu.Lock()
	commit, err := rs.repo.GetCommit(c.Param("id"))
	rs.repoMu.Unlock()
	if err != nil {
		rs.repoError(c, err, "Коммит не найден")
		return
	}

	c.JSON(http.StatusOK, GenericResponse{
		Success: true,
		Message: "Коммит найден",
		Data:    commit,
	})
}

// handleStage добавляет правку в staging area.
func (rs *RestServer) handleStage(c *gin.Context) {
	var req StageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, GenericResponse{
			Success: false,
			Message: "Неверный формат правки: " + err.Error(),
		})
		return
	}

	var change vcs.WorldChange
	if req.Area != nil {
		change = vcs.NewAreaChange(req.ChangeType, req.ChunkID, *req.Area, req.Before, req.After)
	} else {
		change = vcs.NewBlockChange(req.ChangeType, req.ChunkID, req.Position, req.Before, req.After)
	}
	for k, v := range req.Metadata {
		change = change.WithMetadata(k, v)
	}

	rs.repoMu.Lock()
	rs.repo.StageChange(change)
	staged := len(rs.repo.StagingArea())
	rs.repoMu.Unlock()

	c.JSON(http.StatusOK, GenericResponse{
		Success: true,
		Message: "Правка добавлена в staging",
		Data: map[string]interface{}{
			"change_id": change.ID,
			"staged":    staged,
		},
	})
}

// handleCommit фиксирует staging area в коммит.
func (rs *RestServer) handleCommit(c *gin.Context) {
	editor, ok := rs.currentEditor(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, GenericResponse{
			Success: false,
			Message: "Пользователь не найден",
		})
		return
	}

	var req CommitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, GenericResponse{
			Success: false,
			Message: "Неверный формат запроса",
		})
		return
	}

	rs.repoMu.Lock()
	commitID, err := rs.repo.Commit(editor, req.Message)
	rs.repoMu.Unlock()
	if err != nil {
		rs.repoError(c, err, "Не удалось создать коммит")
		return
	}

	c.JSON(http.StatusCreated, GenericResponse{
		Success: true,
		Message: "Коммит создан",
		Data:    map[string]interface{}{"commit_id": commitID},
	})
}

// handleMerge сливает source-ветку в target-ветку.
func (rs *RestServer) handleMerge(c *gin.Context) {
	editor, ok := rs.currentEditor(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, GenericResponse{
			Success: false,
			Message: "Пользователь не найден",
		})
		return
	}

	var req MergeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, GenericResponse{
			Success: false,
			Message: "Неверный формат запроса",
		})
		return
	}

	rs.repoMu.Lock()
	mergeID, err := rs.repo.MergeBranch(req.Source, req.Target, editor)
	conflicts := rs.repo.Conflicts()
	rs.repoMu.Unlock()
	if err != nil {
		if errors.Is(err, world.ErrInvalidState) {
			// Слияние отклонено из-за конфликтов: отдаём их клиенту.
			unresolved := make([]*vcs.ConflictResolution, 0, len(conflicts))
			for _, cf := range conflicts {
				if !cf.IsResolved() {
					unresolved = append(unresolved, cf)
				}
			}
			c.JSON(http.StatusConflict, GenericResponse{
				Success: false,
				Message: "Слияние отклонено: есть конфликты",
				Data: map[string]interface{}{
					"conflicts": unresolved,
					"total":     len(unresolved),
				},
			})
			return
		}
		rs.repoError(c, err, "Не удалось выполнить слияние")
		return
	}

	c.JSON(http.StatusOK, GenericResponse{
		Success: true,
		Message: fmt.Sprintf("Ветка %s слита в %s", req.Source, req.Target),
		Data:    map[string]interface{}{"commit_id": mergeID},
	})
}

// handleGetConflicts возвращает все зарегистрированные конфликты слияний.
func (rs *RestServer) handleGetConflicts(c *gin.Context) {
	rs.repoMu.Lock()
	conflicts := rs.repo.Conflicts()
	rs.repoMu.Unlock()

	c.JSON(http.StatusOK, GenericResponse{
		Success: true,
		Message: "Список конфликтов",
		Data: map[string]interface{}{
			"conflicts": conflicts,
			"total":     len(conflicts),
		},
	})
}

// handleResolveConflict разрешает конфликт указанной стратегией.
func (rs *RestServer) handleResolveConflict(c *gin.Context) {
	editor, ok := rs.currentEditor(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, GenericResponse{
			Success: false,
			Message: "Пользователь не найден",
		})
		return
	}

	var req ResolveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, GenericResponse{
			Success: false,
			Message: "Неверный формат запроса",
		})
		return
	}

	conflictID := c.Param("id")

	rs.repoMu.Lock()
	var err error
	if req.Strategy == vcs.ResolveManual {
		err = rs.repo.ResolveConflictManual(conflictID, editor, req.State)
	} else {
		err = rs.repo.ResolveConflict(conflictID, req.Strategy, editor)
	}
	rs.repoMu.Unlock()
	if err != nil {
		rs.repoError(c, err, "Не удалось разрешить конфликт")
		return
	}

	c.JSON(http.StatusOK, GenericResponse{
		Success: true,
		Message: fmt.Sprintf("Конфликт %s разрешён (%s)", conflictID, req.Strategy),
	})
}

// handleGarbageCollect запускает сборку мусора истории (только для админов).
func (rs *RestServer) handleGarbageCollect(c *gin.Context) {
	rs.repoMu.Lock()
	removed := rs.repo.GarbageCollect()
	rs.repoMu.Unlock()

	logging.Info("🗑️ GC по запросу администратора: удалено %d коммитов", removed)
	c.JSON(http.StatusOK, GenericResponse{
		Success: true,
		Message: "Сборка мусора завершена",
		Data:    map[string]interface{}{"removed": removed},
	})
}

// handleHealth проверка состояния сервера
func (rs *RestServer) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"time":   time.Now().Unix(),
	})
}

// repoError переводит доменные ошибки репозитория в HTTP-статусы.
func (rs *RestServer) repoError(c *gin.Context, err error, message string) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, world.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, world.ErrInvalidState):
		status = http.StatusConflict
	}
	c.JSON(status, GenericResponse{
		Success: false,
		Message: message + ": " + err.Error(),
	})
}

// Router отдаёт роутер (для httptest).
func (rs *RestServer) Router() *gin.Engine { return rs.router }

// Start запускает REST сервер (блокирующий вызов).
func (rs *RestServer) Start() error {
	rs.httpSrv = &http.Server{
		Addr:    rs.port,
		Handler: rs.router,
	}
	if err := rs.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown останавливает REST сервер с ожиданием активных запросов.
func (rs *RestServer) Shutdown(ctx context.Context) error {
	if rs.httpSrv == nil {
		return nil
	}
	return rs.httpSrv.Shutdown(ctx)
}
