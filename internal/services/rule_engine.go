package services

import (
	"github.com/aiwuxian/codelove/internal/models"
)

// RuleEngine 好感度规则
type RuleEngine struct {
	config models.GameConfig
}

func NewRuleEngine(config models.GameConfig) *RuleEngine {
	return &RuleEngine{config: config}
}

// Clamp 限制在配置的好感度范围内
func (re *RuleEngine) Clamp(value int) int {
	if value < re.config.MinAffinity {
		return re.config.MinAffinity
	}
	if value > re.config.MaxAffinity {
		return re.config.MaxAffinity
	}
	return value
}

// StartAffinity 没有记录时的初始好感度
func (re *RuleEngine) StartAffinity() int {
	return re.Clamp(re.config.StartAffinity)
}

// Apply 计算变化后的好感度
func (re *RuleEngine) Apply(current, delta int) int {
	return re.Clamp(current + delta)
}

// SubmissionDelta 评测通过/失败的好感度奖励
func (re *RuleEngine) SubmissionDelta(passed bool) int {
	if passed {
		return re.config.PassAffinity
	}
	return re.config.FailAffinity
}

// RewardHeroine 题目奖励给谁：题目指定 > 说话的角色 > 第一个角色
func (re *RuleEngine) RewardHeroine(story *models.Story, problem *models.Problem, speaker string) string {
	if problem != nil && problem.Heroine != "" {
		return problem.Heroine
	}
	for _, h := range story.Heroines {
		if h.Name == speaker {
			return h.Name
		}
	}
	if len(story.Heroines) > 0 {
		return story.Heroines[0].Name
	}
	return ""
}

// PickRoute 好感度最高的角色对应的结局，同分取先声明的角色
func (re *RuleEngine) PickRoute(story *models.Story, likes map[string]int) (models.StoryID, string) {
	best := ""
	bestValue := 0
	for _, h := range story.Heroines {
		value, ok := likes[h.Name]
		if !ok {
			value = re.StartAffinity()
		}
		if best == "" || value > bestValue {
			best = h.Name
			bestValue = value
		}
	}

	if best != "" {
		if route, ok := story.EndingRoutes[best]; ok && route != "" {
			return route, best
		}
	}
	return story.DefaultEnding, ""
}
