package vcs

import (
	"time"

	"github.com/annel0/world-sync/internal/world"
)

// MergeStrategy — предпочитаемая стратегия слияния ветки.
type MergeStrategy string

const (
	MergeThreeWay    MergeStrategy = "three_way"
	MergeFastForward MergeStrategy = "fast_forward"
	MergeSquash      MergeStrategy = "squash"
	MergeRecursive   MergeStrategy = "recursive"
	MergeOctopus     MergeStrategy = "octopus"
)

// Branch — именованный указатель на голову истории.
type Branch struct {
	Name          string        `json:"name"`
	HeadCommit    string        `json:"head_commit"`
	CreatedBy     world.UserID  `json:"created_by"`
	CreatedAt     float64       `json:"created_at"`
	Description   string        `json:"description,omitempty"`
	Protected     bool          `json:"protected"`
	MergeStrategy MergeStrategy `json:"merge_strategy"`
	CommitCount   uint64        `json:"commit_count"`
}

// NewBranch создаёт ветку, указывающую на head.
func NewBranch(name, headCommit string, createdBy world.UserID) *Branch {
	return &Branch{
		Name:          name,
		HeadCommit:    headCommit,
		CreatedBy:     createdBy,
		CreatedAt:     float64(time.Now().UnixNano()) / 1e9,
		MergeStrategy: MergeThreeWay,
	}
}
