package vcs

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/annel0/world-sync/internal/eventbus"
	"github.com/annel0/world-sync/internal/logging"
	"github.com/annel0/world-sync/internal/world"
)

// RepositoryConfig — настройки репозитория истории мира.
type RepositoryConfig struct {
	DefaultBranch       string `yaml:"default_branch" json:"default_branch"`
	AutoGCEnabled       bool   `yaml:"auto_gc_enabled" json:"auto_gc_enabled"`
	MaxHistoryDays      uint32 `yaml:"max_history_days" json:"max_history_days"`
	CompressOldCommits  bool   `yaml:"compress_old_commits" json:"compress_old_commits"`
	BackupIntervalHours uint32 `yaml:"backup_interval_hours" json:"backup_interval_hours"`
}

// DefaultRepositoryConfig возвращает настройки по умолчанию.
func DefaultRepositoryConfig() RepositoryConfig {
	return RepositoryConfig{
		DefaultBranch:       "main",
		AutoGCEnabled:       true,
		MaxHistoryDays:      365,
		CompressOldCommits:  true,
		BackupIntervalHours: 24,
	}
}

// Stats — счётчики репозитория.
type Stats struct {
	TotalCommits      uint64 `json:"total_commits"`
	TotalBranches     uint64 `json:"total_branches"`
	TotalMerges       uint64 `json:"total_merges"`
	ConflictsResolved uint64 `json:"conflicts_resolved"`
	DataSizeBytes     uint64 `json:"data_size_bytes"`
	GCRuns            uint64 `json:"gc_runs"`
}

// Repository — версионная история мира: DAG коммитов, ветки, staging,
// конфликты слияний. Внутренних блокировок нет: писатели сериализуются
// внешним слоем (один staging на ветку — ответственность вызывающего).
type Repository struct {
	commits       map[string]*Commit
	branches      map[string]*Branch
	currentBranch string
	stagingArea   []WorldChange
	conflicts     map[string]*ConflictResolution
	config        RepositoryConfig
	stats         Stats

	bus eventbus.EventBus
	now func() time.Time
}

// NewRepository создаёт репозиторий с корневым коммитом и защищённой
// веткой по умолчанию.
func NewRepository(config RepositoryConfig, bus eventbus.EventBus) *Repository {
	if config.DefaultBranch == "" {
		config = DefaultRepositoryConfig()
	}
	repo := &Repository{
		commits:   make(map[string]*Commit),
		branches:  make(map[string]*Branch),
		conflicts: make(map[string]*ConflictResolution),
		config:    config,
		bus:       bus,
		now:       time.Now,
	}
	repo.initialize()
	return repo
}

func (r *Repository) initialize() {
	initial := NewCommit(world.SystemUser, "Initial commit", r.config.DefaultBranch)
	r.commits[initial.ID] = initial

	main := NewBranch(r.config.DefaultBranch, initial.ID, world.SystemUser)
	main.Description = "Main development branch"
	main.Protected = true
	r.branches[main.Name] = main
	r.currentBranch = main.Name

	r.stats.TotalCommits = 1
	r.stats.TotalBranches = 1

	logging.Info("✅ Repository: история инициализирована, ветка '%s'", r.currentBranch)
}

// StageChange добавляет правку в staging текущей ветки.
func (r *Repository) StageChange(change WorldChange) {
	r.stagingArea = append(r.stagingArea, change)
}

// Commit фиксирует staging в новый коммит и двигает голову текущей ветки.
// Пустой staging — ошибка.
func (r *Repository) Commit(author world.UserID, message string) (string, error) {
	if len(r.stagingArea) == 0 {
		return "", fmt.Errorf("%w: нет застейдженных правок", world.ErrInvalidState)
	}

	commit := NewCommit(author, message, r.currentBranch)
	if head := r.currentHead(); head != "" {
		commit.ParentIDs = append(commit.ParentIDs, head)
	}
	commit.Changes = append(commit.Changes, r.stagingArea...)
	r.stagingArea = nil

	r.commits[commit.ID] = commit
	if branch, ok := r.branches[r.currentBranch]; ok {
		branch.HeadCommit = commit.ID
		branch.CommitCount++
	}
	r.stats.TotalCommits++

	logging.Info("✅ Repository: коммит %s на ветке '%s' (%d правок)", commit.ShortID(), r.currentBranch, len(commit.Changes))
	r.publishEvent(eventbus.EventRepoCommit, commit)
	return commit.ID, nil
}

// CreateBranch создаёт ветку от указанного коммита (или от текущей головы).
func (r *Repository) CreateBranch(name string, createdBy world.UserID, fromCommit string) error {
	if _, exists := r.branches[name]; exists {
		return fmt.Errorf("%w: ветка '%s' уже существует", world.ErrInvalidState, name)
	}

	head := fromCommit
	if head == "" {
		head = r.currentHead()
		if head == "" {
			return fmt.Errorf("%w: не от чего ветвиться", world.ErrNotFound)
		}
	} else if _, ok := r.commits[head]; !ok {
		return fmt.Errorf("%w: коммит '%s'", world.ErrNotFound, head)
	}

	r.branches[name] = NewBranch(name, head, createdBy)
	r.stats.TotalBranches++
	logging.Info("✅ Repository: создана ветка '%s'", name)
	return nil
}

// SwitchBranch переключает текущую ветку.
// Непустой staging блокирует переключение: сначала commit или discard.
func (r *Repository) SwitchBranch(name string) error {
	if _, ok := r.branches[name]; !ok {
		return fmt.Errorf("%w: ветка '%s'", world.ErrNotFound, name)
	}
	if len(r.stagingArea) > 0 {
		return fmt.Errorf("%w: незакоммиченные правки в staging", world.ErrInvalidState)
	}
	r.currentBranch = name
	logging.Info("🔄 Repository: переключение на ветку '%s'", name)
	return nil
}

// MergeBranch вливает source в target. Если target — предок source,
// выполняется fast-forward без нового коммита. Иначе трёхстороннее слияние:
// конфликты откладываются на разрешение, слияние отклоняется; без
// конфликтов создаётся merge-коммит с двумя родителями.
func (r *Repository) MergeBranch(sourceBranch, targetBranch string, merger world.UserID) (string, error) {
	source, ok := r.branches[sourceBranch]
	if !ok {
		return "", fmt.Errorf("%w: ветка-источник '%s'", world.ErrNotFound, sourceBranch)
	}
	target, ok := r.branches[targetBranch]
	if !ok {
		return "", fmt.Errorf("%w: целевая ветка '%s'", world.ErrNotFound, targetBranch)
	}

	sourceHead := source.HeadCommit
	targetHead := target.HeadCommit

	if r.isAncestor(targetHead, sourceHead) {
		target.HeadCommit = sourceHead
		logging.Info("✅ Repository: fast-forward '%s' → '%s'", sourceBranch, targetBranch)
		r.publishEvent(eventbus.EventRepoMerge, map[string]string{
			"source": sourceBranch, "target": targetBranch, "head": sourceHead, "kind": "fast_forward",
		})
		return sourceHead, nil
	}

	mergeBase := r.findMergeBase(sourceHead, targetHead)
	conflicts := r.detectConflicts(mergeBase, sourceHead, targetHead)

	if len(conflicts) > 0 {
		for _, c := range conflicts {
			r.conflicts[c.ConflictID] = c
		}
		return "", fmt.Errorf("%w: слияние отклонено, конфликтов к разрешению: %d", world.ErrInvalidState, len(r.conflicts))
	}

	mergeCommit := NewCommit(merger, fmt.Sprintf("Merge branch '%s' into '%s'", sourceBranch, targetBranch), targetBranch)
	mergeCommit.ParentIDs = []string{targetHead, sourceHead}
	mergeCommit.MergeBase = mergeBase

	r.commits[mergeCommit.ID] = mergeCommit
	target.HeadCommit = mergeCommit.ID
	r.stats.TotalCommits++
	r.stats.TotalMerges++

	logging.Info("✅ Repository: '%s' влита в '%s' коммитом %s", sourceBranch, targetBranch, mergeCommit.ShortID())
	r.publishEvent(eventbus.EventRepoMerge, mergeCommit)
	return mergeCommit.ID, nil
}

// detectConflicts сравнивает правки обеих сторон с момента merge base.
// Конфликт — пара правок одного (chunk_id, position) с разным after_state.
func (r *Repository) detectConflicts(mergeBase, sourceHead, targetHead string) []*ConflictResolution {
	var conflicts []*ConflictResolution

	sourceChanges := r.changesSince(mergeBase, sourceHead)
	targetChanges := r.changesSince(mergeBase, targetHead)

	for i := range sourceChanges {
		for j := range targetChanges {
			if changesConflict(&sourceChanges[i], &targetChanges[j]) {
				conflict := NewConflict(
					sourceChanges[i].Location,
					targetChanges[j].AfterState, // local = target
					sourceChanges[i].AfterState, // remote = source
				)
				conflicts = append(conflicts, conflict)
			}
		}
	}
	return conflicts
}

func changesConflict(a, b *WorldChange) bool {
	return a.Location.ChunkID == b.Location.ChunkID &&
		a.Location.Position == b.Location.Position &&
		!bytes.Equal(a.AfterState, b.AfterState)
}

// changesSince собирает правки всех коммитов от head до fromCommit
// (не включая последний) обходом родительских ссылок в ширину.
func (r *Repository) changesSince(fromCommit, toCommit string) []WorldChange {
	var changes []WorldChange
	visited := make(map[string]bool)
	queue := []string{toCommit}

	for len(queue) > 0 {
		commitID := queue[0]
		queue = queue[1:]
		if visited[commitID] {
			continue
		}
		if fromCommit != "" && commitID == fromCommit {
			break
		}
		visited[commitID] = true

		if commit, ok := r.commits[commitID]; ok {
			changes = append(changes, commit.Changes...)
			queue = append(queue, commit.ParentIDs...)
		}
	}
	return changes
}

// findMergeBase возвращает первого общего предка в порядке BFS-обхода
// от первого коммита. Это не строгий LCA: при нелинейной истории выбор
// может быть неминимальным.
func (r *Repository) findMergeBase(commit1, commit2 string) string {
	ancestors2 := r.ancestors(commit2)

	visited := make(map[string]bool)
	queue := []string{commit1}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		if visited[id] {
			continue
		}
		visited[id] = true

		if ancestors2[id] {
			return id
		}
		if commit, ok := r.commits[id]; ok {
			queue = append(queue, commit.ParentIDs...)
		}
	}
	return ""
}

// ancestors возвращает множество предков коммита, включая его самого.
func (r *Repository) ancestors(commitID string) map[string]bool {
	ancestors := make(map[string]bool)
	queue := []string{commitID}

	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		if ancestors[id] {
			continue
		}
		ancestors[id] = true
		if commit, ok := r.commits[id]; ok {
			queue = append(queue, commit.ParentIDs...)
		}
	}
	return ancestors
}

func (r *Repository) isAncestor(ancestorID, descendantID string) bool {
	return r.ancestors(descendantID)[ancestorID]
}

// ResolveConflict применяет стратегию к сохранённому конфликту.
// Manual здесь запрещён — для него есть ResolveConflictManual.
func (r *Repository) ResolveConflict(conflictID string, strategy ResolutionStrategy, resolvedBy world.UserID) error {
	conflict, ok := r.conflicts[conflictID]
	if !ok {
		return fmt.Errorf("%w: конфликт '%s'", world.ErrNotFound, conflictID)
	}
	if err := conflict.Resolve(strategy, resolvedBy); err != nil {
		return err
	}
	r.stats.ConflictsResolved++
	logging.Info("✅ Repository: конфликт %s разрешён (%s)", conflictID, strategy)
	return nil
}

// ResolveConflictManual разрешает конфликт явно поданным состоянием.
func (r *Repository) ResolveConflictManual(conflictID string, resolvedBy world.UserID, state []byte) error {
	conflict, ok := r.conflicts[conflictID]
	if !ok {
		return fmt.Errorf("%w: конфликт '%s'", world.ErrNotFound, conflictID)
	}
	if err := conflict.ResolveWithState(resolvedBy, state); err != nil {
		return err
	}
	r.stats.ConflictsResolved++
	return nil
}

func (r *Repository) currentHead() string {
	if branch, ok := r.branches[r.currentBranch]; ok {
		return branch.HeadCommit
	}
	return ""
}

// CommitHistory возвращает историю ветки (по умолчанию текущей),
// отсортированную от новых к старым. limit <= 0 — без ограничения.
func (r *Repository) CommitHistory(branchName string, limit int) ([]*Commit, error) {
	if branchName == "" {
		branchName = r.currentBranch
	}
	branch, ok := r.branches[branchName]
	if !ok {
		return nil, fmt.Errorf("%w: ветка '%s'", world.ErrNotFound, branchName)
	}

	var history []*Commit
	visited := make(map[string]bool)
	queue := []string{branch.HeadCommit}

	for len(queue) > 0 {
		commitID := queue[0]
		queue = queue[1:]
		if visited[commitID] {
			continue
		}
		if limit > 0 && len(history) >= limit {
			break
		}
		visited[commitID] = true

		if commit, ok := r.commits[commitID]; ok {
			history = append(history, commit)
			queue = append(queue, commit.ParentIDs...)
		}
	}

	sort.Slice(history, func(i, j int) bool { return history[i].Timestamp > history[j].Timestamp })
	return history, nil
}

// Branches возвращает все ветки, отсортированные по имени.
func (r *Repository) Branches() []*Branch {
	out := make([]*Branch, 0, len(r.branches))
	for _, b := range r.branches {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Branch возвращает ветку по имени.
func (r *Repository) Branch(name string) (*Branch, error) {
	branch, ok := r.branches[name]
	if !ok {
		return nil, fmt.Errorf("%w: ветка '%s'", world.ErrNotFound, name)
	}
	return branch, nil
}

// GetCommit возвращает коммит по id.
func (r *Repository) GetCommit(id string) (*Commit, error) {
	commit, ok := r.commits[id]
	if !ok {
		return nil, fmt.Errorf("%w: коммит '%s'", world.ErrNotFound, id)
	}
	return commit, nil
}

// CurrentBranch возвращает имя текущей ветки.
func (r *Repository) CurrentBranch() string { return r.currentBranch }

// StagingArea возвращает копию staging.
func (r *Repository) StagingArea() []WorldChange {
	return append([]WorldChange(nil), r.stagingArea...)
}

// ClearStagingArea отбрасывает незакоммиченные правки.
func (r *Repository) ClearStagingArea() { r.stagingArea = nil }

// Conflicts возвращает сохранённые конфликты слияний.
func (r *Repository) Conflicts() []*ConflictResolution {
	out := make([]*ConflictResolution, 0, len(r.conflicts))
	for _, c := range r.conflicts {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ConflictID < out[j].ConflictID })
	return out
}

// Stats возвращает счётчики репозитория.
func (r *Repository) Stats() Stats { return r.stats }

// GarbageCollect удаляет коммиты старше max_history_days без тегов.
// Достижимость от голов веток не проверяется.
func (r *Repository) GarbageCollect() int {
	if !r.config.AutoGCEnabled {
		return 0
	}

	cutoff := float64(r.now().UnixNano())/1e9 - float64(r.config.MaxHistoryDays)*24*3600

	removed := 0
	for id, commit := range r.commits {
		if commit.Timestamp < cutoff && len(commit.Tags) == 0 {
			delete(r.commits, id)
			removed++
		}
	}
	r.stats.GCRuns++
	logging.Info("🗑️ Repository: GC завершён, удалено коммитов: %d", removed)
	return removed
}

// SaveState сериализует репозиторий в переданное хранилище.
func (r *Repository) SaveState(ctx context.Context, store RepoStore) error {
	state := r.ExportState()
	if err := store.Save(ctx, state); err != nil {
		return err
	}
	logging.Info("💾 Repository: состояние сохранено (%d коммитов, %d веток)", len(state.Commits), len(state.Branches))
	return nil
}

// LoadState восстанавливает репозиторий из хранилища.
func (r *Repository) LoadState(ctx context.Context, store RepoStore) error {
	state, err := store.Load(ctx)
	if err != nil {
		return err
	}
	r.ImportState(state)
	logging.Info("💾 Repository: состояние загружено (%d коммитов)", len(state.Commits))
	return nil
}

// ExportState снимает сериализуемый слепок репозитория.
func (r *Repository) ExportState() *RepositoryState {
	state := &RepositoryState{
		CurrentBranch: r.currentBranch,
		StagingArea:   append([]WorldChange(nil), r.stagingArea...),
		Config:        r.config,
		Stats:         r.stats,
	}
	for _, c := range r.commits {
		state.Commits = append(state.Commits, c)
	}
	for _, b := range r.branches {
		state.Branches = append(state.Branches, b)
	}
	for _, cf := range r.conflicts {
		state.Conflicts = append(state.Conflicts, cf)
	}
	sort.Slice(state.Commits, func(i, j int) bool { return state.Commits[i].Timestamp < state.Commits[j].Timestamp })
	sort.Slice(state.Branches, func(i, j int) bool { return state.Branches[i].Name < state.Branches[j].Name })
	return state
}

// ImportState замещает содержимое репозитория слепком.
func (r *Repository) ImportState(state *RepositoryState) {
	r.commits = make(map[string]*Commit, len(state.Commits))
	for _, c := range state.Commits {
		r.commits[c.ID] = c
	}
	r.branches = make(map[string]*Branch, len(state.Branches))
	for _, b := range state.Branches {
		r.branches[b.Name] = b
	}
	r.conflicts = make(map[string]*ConflictResolution, len(state.Conflicts))
	for _, cf := range state.Conflicts {
		r.conflicts[cf.ConflictID] = cf
	}
	r.currentBranch = state.CurrentBranch
	r.stagingArea = append([]WorldChange(nil), state.StagingArea...)
	if state.Config.DefaultBranch != "" {
		r.config = state.Config
	}
	r.stats = state.Stats
}

func (r *Repository) publishEvent(eventType string, payload interface{}) {
	if r.bus == nil {
		return
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	env := eventbus.NewEnvelope("vcs-repository", eventType, 5, data)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := r.bus.Publish(ctx, env); err != nil {
		logging.Trace("Repository: событие %s не опубликовано: %v", eventType, err)
	}
}
