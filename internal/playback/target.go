package playback

import (
	"errors"

	"github.com/aiwuxian/codelove/internal/models"
)

// ErrResolutionMiss 跳转目标无法映射到数组位置，调用方按顺序前进处理
var ErrResolutionMiss = errors.New("跳转目标无法解析")

// blockSize 旧剧本按百位分组编写节点
const blockSize = 100

// TargetResolver 把跳转目标换算成数组位置
type TargetResolver struct {
	// BlockFallback 兼容按百位分块的旧剧本：精确和位置解析都失败时，
	// 取同一百位块内 index 不小于目标的第一个节点
	BlockFallback bool
}

// Resolve 先按 index 精确匹配，再当作数组位置，最后（可选）按块匹配
func (r TargetResolver) Resolve(target int, lookup map[int]int, nodes []models.ScriptNode) (int, bool) {
	if pos, ok := lookup[target]; ok {
		return pos, true
	}
	if target >= 0 && target < len(nodes) {
		return target, true
	}
	if !r.BlockFallback || target < 0 {
		return 0, false
	}
	block := target / blockSize
	for pos, n := range nodes {
		if n.Index >= target && n.Index/blockSize == block {
			return pos, true
		}
	}
	return 0, false
}

// ResolveIn 依次尝试候选目标，返回第一个能解析的
func (r TargetResolver) ResolveIn(script *Script, targets ...*int) (int, error) {
	if script == nil {
		return 0, ErrResolutionMiss
	}
	for _, t := range targets {
		if t == nil {
			continue
		}
		if pos, ok := r.Resolve(*t, script.lookup, script.nodes); ok {
			return pos, nil
		}
	}
	return 0, ErrResolutionMiss
}

func anyTarget(targets ...*int) bool {
	for _, t := range targets {
		if t != nil {
			return true
		}
	}
	return false
}
