package services

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/aiwuxian/codelove/internal/models"
)

// RouteService 按好感度决定结局
type RouteService struct {
	stories *StoryService
	meta    *MetaService
	rules   *RuleEngine
	log     *zap.Logger
}

func NewRouteService(stories *StoryService, meta *MetaService, rules *RuleEngine, log *zap.Logger) *RouteService {
	return &RouteService{
		stories: stories,
		meta:    meta,
		rules:   rules,
		log:     log.Named("route"),
	}
}

// ResolveEnding 好感度最高的角色的结局故事
func (rs *RouteService) ResolveEnding(playerID string, storyID models.StoryID) (*models.EndingResult, error) {
	story, err := rs.stories.Get(storyID)
	if err != nil {
		return nil, err
	}
	likes, err := rs.meta.AffinityMap(playerID)
	if err != nil {
		return nil, fmt.Errorf("读取好感度失败: %w", err)
	}

	route, heroine := rs.rules.PickRoute(story, likes)
	if route == "" {
		return nil, fmt.Errorf("故事 %s 没有可用的结局: %w", storyID, models.ErrNotFound)
	}
	if _, err := rs.stories.Get(route); err != nil {
		return nil, fmt.Errorf("结局故事: %w", err)
	}

	rs.log.Info("结局分支",
		zap.String("player_id", playerID),
		zap.String("story_id", storyID.String()),
		zap.String("heroine", heroine),
		zap.String("ending", route.String()))

	return &models.EndingResult{StoryID: route, Heroine: heroine}, nil
}
