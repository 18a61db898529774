package vcs

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/annel0/world-sync/internal/vec"
	"github.com/annel0/world-sync/internal/world"
)

func newTestRepo(t *testing.T) *Repository {
	t.Helper()
	return NewRepository(DefaultRepositoryConfig(), nil)
}

func stageBlock(r *Repository, chunkID string, pos vec.Vec3i, after []byte) {
	r.StageChange(NewBlockChange(ChangeBlockPlaced, chunkID, pos, nil, after))
}

func TestRepository_Initialization(t *testing.T) {
	repo := newTestRepo(t)

	assert.Equal(t, "main", repo.CurrentBranch())
	assert.Equal(t, uint64(1), repo.Stats().TotalCommits)
	assert.Equal(t, uint64(1), repo.Stats().TotalBranches)

	main, err := repo.Branch("main")
	require.NoError(t, err)
	assert.True(t, main.Protected)
	assert.NotEmpty(t, main.HeadCommit)
}

func TestRepository_CommitRequiresStagedChanges(t *testing.T) {
	repo := newTestRepo(t)

	_, err := repo.Commit("alice", "empty")
	require.Error(t, err)
	assert.True(t, errors.Is(err, world.ErrInvalidState))
}

func TestRepository_CommitAdvancesHead(t *testing.T) {
	repo := newTestRepo(t)
	main, _ := repo.Branch("main")
	root := main.HeadCommit

	stageBlock(repo, "0,0", vec.Vec3i{X: 1, Y: 0, Z: 1}, []byte{1})
	id, err := repo.Commit("alice", "place block")
	require.NoError(t, err)

	assert.Equal(t, id, main.HeadCommit)
	assert.Empty(t, repo.StagingArea())

	commit, err := repo.GetCommit(id)
	require.NoError(t, err)
	require.Len(t, commit.ParentIDs, 1)
	assert.Equal(t, root, commit.ParentIDs[0])
	assert.False(t, commit.IsMergeCommit())
}

func TestRepository_CommitHistoryNewestFirst(t *testing.T) {
	repo := newTestRepo(t)

	const n = 5
	for i := 0; i < n; i++ {
		stageBlock(repo, "0,0", vec.Vec3i{X: int32(i)}, []byte{byte(i)})
		_, err := repo.Commit("alice", "step")
		require.NoError(t, err)
	}

	history, err := repo.CommitHistory("main", 0)
	require.NoError(t, err)
	require.Len(t, history, n+1) // n коммитов + корневой

	for i := 1; i < len(history); i++ {
		assert.GreaterOrEqual(t, history[i-1].Timestamp, history[i].Timestamp)
	}
	assert.Equal(t, "Initial commit", history[len(history)-1].Message)
}

func TestRepository_CommitHistoryLimit(t *testing.T) {
	repo := newTestRepo(t)
	for i := 0; i < 4; i++ {
		stageBlock(repo, "0,0", vec.Vec3i{X: int32(i)}, []byte{byte(i)})
		_, err := repo.Commit("alice", "step")
		require.NoError(t, err)
	}

	history, err := repo.CommitHistory("main", 2)
	require.NoError(t, err)
	assert.Len(t, history, 2)

	_, err = repo.CommitHistory("ghost", 0)
	assert.True(t, errors.Is(err, world.ErrNotFound))
}

func TestRepository_SwitchBranchGuardedByStaging(t *testing.T) {
	repo := newTestRepo(t)
	require.NoError(t, repo.CreateBranch("feature", "alice", ""))

	stageBlock(repo, "0,0", vec.Vec3i{X: 1}, []byte{1})
	err := repo.SwitchBranch("feature")
	require.Error(t, err)
	assert.True(t, errors.Is(err, world.ErrInvalidState))
	assert.Equal(t, "main", repo.CurrentBranch())

	repo.ClearStagingArea()
	require.NoError(t, repo.SwitchBranch("feature"))
	assert.Equal(t, "feature", repo.CurrentBranch())
}

func TestRepository_CreateBranchErrors(t *testing.T) {
	repo := newTestRepo(t)

	require.NoError(t, repo.CreateBranch("feature", "alice", ""))
	err := repo.CreateBranch("feature", "alice", "")
	assert.True(t, errors.Is(err, world.ErrInvalidState))

	err = repo.CreateBranch("orphan", "alice", "commit_missing")
	assert.True(t, errors.Is(err, world.ErrNotFound))
}

func TestRepository_FastForwardMerge(t *testing.T) {
	repo := newTestRepo(t)
	before := repo.Stats().TotalCommits

	// feature уходит вперёд от main, main не двигается.
	require.NoError(t, repo.CreateBranch("feature", "alice", ""))
	require.NoError(t, repo.SwitchBranch("feature"))
	stageBlock(repo, "0,0", vec.Vec3i{X: 1}, []byte{1})
	c1, err := repo.Commit("alice", "feature work")
	require.NoError(t, err)

	merged, err := repo.MergeBranch("feature", "main", "alice")
	require.NoError(t, err)
	assert.Equal(t, c1, merged)

	main, _ := repo.Branch("main")
	assert.Equal(t, c1, main.HeadCommit)
	// Fast-forward не создаёт нового коммита.
	assert.Equal(t, before+1, repo.Stats().TotalCommits)
}

func TestRepository_ConflictingMergeRejected(t *testing.T) {
	repo := newTestRepo(t)
	pos := vec.Vec3i{X: 1, Y: 0, Z: 1}

	require.NoError(t, repo.CreateBranch("feature", "bob", ""))

	// main правит (0,0 / pos) значением X.
	stageBlock(repo, "0,0", pos, []byte("X"))
	_, err := repo.Commit("alice", "main edit")
	require.NoError(t, err)

	// feature правит ту же точку значением Y.
	require.NoError(t, repo.SwitchBranch("feature"))
	stageBlock(repo, "0,0", pos, []byte("Y"))
	_, err = repo.Commit("bob", "feature edit")
	require.NoError(t, err)

	_, err = repo.MergeBranch("feature", "main", "carol")
	require.Error(t, err)
	assert.True(t, errors.Is(err, world.ErrInvalidState))

	conflicts := repo.Conflicts()
	require.Len(t, conflicts, 1)
	assert.Equal(t, []byte("X"), conflicts[0].LocalState)
	assert.Equal(t, []byte("Y"), conflicts[0].RemoteState)
	assert.False(t, conflicts[0].IsResolved())
}

func TestRepository_DivergentNonConflictingMergeCreatesMergeCommit(t *testing.T) {
	repo := newTestRepo(t)

	require.NoError(t, repo.CreateBranch("feature", "bob", ""))

	stageBlock(repo, "0,0", vec.Vec3i{X: 1}, []byte("A"))
	_, err := repo.Commit("alice", "main edit")
	require.NoError(t, err)

	require.NoError(t, repo.SwitchBranch("feature"))
	stageBlock(repo, "1,0", vec.Vec3i{X: 99}, []byte("B"))
	_, err = repo.Commit("bob", "feature edit")
	require.NoError(t, err)

	mergeID, err := repo.MergeBranch("feature", "main", "carol")
	require.NoError(t, err)

	mergeCommit, err := repo.GetCommit(mergeID)
	require.NoError(t, err)
	assert.True(t, mergeCommit.IsMergeCommit())
	assert.Len(t, mergeCommit.ParentIDs, 2)
	assert.NotEmpty(t, mergeCommit.MergeBase)
	assert.Equal(t, uint64(1), repo.Stats().TotalMerges)

	main, _ := repo.Branch("main")
	assert.Equal(t, mergeID, main.HeadCommit)
}

func TestRepository_MergeUnknownBranch(t *testing.T) {
	repo := newTestRepo(t)

	_, err := repo.MergeBranch("ghost", "main", "alice")
	assert.True(t, errors.Is(err, world.ErrNotFound))

	_, err = repo.MergeBranch("main", "ghost", "alice")
	assert.True(t, errors.Is(err, world.ErrNotFound))
}

func TestConflictResolutionStrategies(t *testing.T) {
	loc := WorldLocation{ChunkID: "0,0", Position: vec.Vec3i{X: 1}}

	t.Run("use_local", func(t *testing.T) {
		c := NewConflict(loc, []byte("local"), []byte("remote"))
		require.NoError(t, c.Resolve(ResolveUseLocal, "alice"))
		assert.Equal(t, []byte("local"), c.ResolvedState)
		assert.True(t, c.IsResolved())
	})

	t.Run("use_remote", func(t *testing.T) {
		c := NewConflict(loc, []byte("local"), []byte("remote"))
		require.NoError(t, c.Resolve(ResolveUseRemote, "alice"))
		assert.Equal(t, []byte("remote"), c.ResolvedState)
	})

	t.Run("use_base_falls_back_to_local", func(t *testing.T) {
		c := NewConflict(loc, []byte("local"), []byte("remote"))
		require.NoError(t, c.Resolve(ResolveUseBase, "alice"))
		assert.Equal(t, []byte("local"), c.ResolvedState)

		c2 := NewConflict(loc, []byte("local"), []byte("remote"))
		c2.BaseState = []byte("base")
		require.NoError(t, c2.Resolve(ResolveUseBase, "alice"))
		assert.Equal(t, []byte("base"), c2.ResolvedState)
	})

	t.Run("manual_without_state_errors", func(t *testing.T) {
		c := NewConflict(loc, []byte("local"), []byte("remote"))
		err := c.Resolve(ResolveManual, "alice")
		require.Error(t, err)
		assert.True(t, errors.Is(err, world.ErrInvalidState))

		require.NoError(t, c.ResolveWithState("alice", []byte("merged")))
		assert.Equal(t, []byte("merged"), c.ResolvedState)
	})

	t.Run("skip_yields_empty_state", func(t *testing.T) {
		c := NewConflict(loc, []byte("local"), []byte("remote"))
		require.NoError(t, c.Resolve(ResolveSkip, "alice"))
		assert.Equal(t, []byte{}, c.ResolvedState)
	})

	t.Run("automated", func(t *testing.T) {
		// Идентичные состояния — тривиально.
		c := NewConflict(loc, []byte("same"), []byte("same"))
		require.NoError(t, c.Resolve(ResolveAutomated, "alice"))
		assert.Equal(t, []byte("same"), c.ResolvedState)

		// local не отошёл от базы — берём remote.
		c2 := NewConflict(loc, []byte("base"), []byte("new"))
		c2.BaseState = []byte("base")
		require.NoError(t, c2.Resolve(ResolveAutomated, "alice"))
		assert.Equal(t, []byte("new"), c2.ResolvedState)

		// Обе стороны отошли — по умолчанию remote.
		c3 := NewConflict(loc, []byte("a"), []byte("b"))
		c3.BaseState = []byte("base")
		require.NoError(t, c3.Resolve(ResolveAutomated, "alice"))
		assert.Equal(t, []byte("b"), c3.ResolvedState)
	})
}

func TestRepository_ResolveConflictByID(t *testing.T) {
	repo := newTestRepo(t)
	pos := vec.Vec3i{X: 2}

	require.NoError(t, repo.CreateBranch("feature", "bob", ""))
	stageBlock(repo, "0,0", pos, []byte("X"))
	_, _ = repo.Commit("alice", "main edit")
	require.NoError(t, repo.SwitchBranch("feature"))
	stageBlock(repo, "0,0", pos, []byte("Y"))
	_, _ = repo.Commit("bob", "feature edit")
	_, err := repo.MergeBranch("feature", "main", "carol")
	require.Error(t, err)

	conflicts := repo.Conflicts()
	require.Len(t, conflicts, 1)

	require.NoError(t, repo.ResolveConflict(conflicts[0].ConflictID, ResolveUseRemote, "carol"))
	assert.Equal(t, uint64(1), repo.Stats().ConflictsResolved)

	err = repo.ResolveConflict("conflict_missing", ResolveUseLocal, "carol")
	assert.True(t, errors.Is(err, world.ErrNotFound))
}

func TestRepository_GarbageCollect(t *testing.T) {
	repo := newTestRepo(t)

	stageBlock(repo, "0,0", vec.Vec3i{X: 1}, []byte{1})
	taggedID, err := repo.Commit("alice", "tagged")
	require.NoError(t, err)
	tagged, _ := repo.GetCommit(taggedID)
	tagged.Tags = append(tagged.Tags, "v1.0")

	stageBlock(repo, "0,0", vec.Vec3i{X: 2}, []byte{2})
	plainID, err := repo.Commit("alice", "plain")
	require.NoError(t, err)

	// Сдвигаем "сейчас" за горизонт хранения.
	repo.now = func() time.Time {
		return time.Now().Add(time.Duration(repo.config.MaxHistoryDays+1) * 24 * time.Hour)
	}

	removed := repo.GarbageCollect()
	assert.Greater(t, removed, 0)
	assert.Equal(t, uint64(1), repo.Stats().GCRuns)

	// Тегированный коммит пережил GC, обычный — нет.
	_, err = repo.GetCommit(taggedID)
	assert.NoError(t, err)
	_, err = repo.GetCommit(plainID)
	assert.True(t, errors.Is(err, world.ErrNotFound))
}

func TestRepository_GarbageCollectDisabled(t *testing.T) {
	cfg := DefaultRepositoryConfig()
	cfg.AutoGCEnabled = false
	repo := NewRepository(cfg, nil)

	repo.now = func() time.Time { return time.Now().Add(10000 * 24 * time.Hour) }
	assert.Equal(t, 0, repo.GarbageCollect())
}

func TestRepository_SaveLoadRoundTrip(t *testing.T) {
	repo := newTestRepo(t)
	store := NewMemoryRepoStore()
	ctx := context.Background()

	require.NoError(t, repo.CreateBranch("feature", "bob", ""))
	stageBlock(repo, "0,0", vec.Vec3i{X: 3}, []byte{3})
	_, err := repo.Commit("alice", "work")
	require.NoError(t, err)

	require.NoError(t, repo.SaveState(ctx, store))

	restored := NewRepository(DefaultRepositoryConfig(), nil)
	require.NoError(t, restored.LoadState(ctx, store))

	assert.Equal(t, repo.CurrentBranch(), restored.CurrentBranch())
	assert.Equal(t, repo.Stats().TotalCommits, restored.Stats().TotalCommits)
	assert.Len(t, restored.Branches(), 2)

	origHistory, _ := repo.CommitHistory("main", 0)
	restHistory, _ := restored.CommitHistory("main", 0)
	require.Equal(t, len(origHistory), len(restHistory))
	assert.Equal(t, origHistory[0].ID, restHistory[0].ID)
}

func TestMemoryRepoStore_LoadEmpty(t *testing.T) {
	store := NewMemoryRepoStore()
	_, err := store.Load(context.Background())
	assert.True(t, errors.Is(err, world.ErrNotFound))
}

func TestCommit_AffectsLocation(t *testing.T) {
	commit := NewCommit("alice", "test", "main")
	commit.Changes = append(commit.Changes, NewAreaChange(
		ChangeStructureBuilt, "0,0",
		WorldBounds{Min: vec.Vec3i{}, Max: vec.Vec3i{X: 10, Y: 10, Z: 10}},
		nil, []byte{1},
	))

	overlapping := WorldLocation{
		ChunkID:  "0,0",
		Position: vec.Vec3i{X: 5, Y: 5, Z: 5},
		Area:     &WorldBounds{Min: vec.Vec3i{X: 5, Y: 5, Z: 5}, Max: vec.Vec3i{X: 15, Y: 15, Z: 15}},
	}
	assert.True(t, commit.AffectsLocation(overlapping))

	otherChunk := overlapping
	otherChunk.ChunkID = "7,7"
	assert.False(t, commit.AffectsLocation(otherChunk))
}
