package services

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/aiwuxian/codelove/internal/models"
)

// ChoiceService 需要服务器裁决的选项
type ChoiceService struct {
	stories *StoryService
	meta    *MetaService
	log     *zap.Logger
}

func NewChoiceService(stories *StoryService, meta *MetaService, log *zap.Logger) *ChoiceService {
	return &ChoiceService{
		stories: stories,
		meta:    meta,
		log:     log.Named("choice"),
	}
}

// Select 以服务器上的剧本为准；找不到对应选项时使用请求里的选项
func (cs *ChoiceService) Select(playerID string, req models.ChoiceRequest) (*models.ChoiceDecision, error) {
	story, err := cs.stories.Get(req.StoryID)
	if err != nil {
		return nil, err
	}

	choice := req.Choice
	if node, ok := FindNode(story, req.CurrentLineIndex); ok && node.Type == models.NodeChoice {
		if req.ChoiceIndex >= 0 && req.ChoiceIndex < len(node.Choices) {
			choice = node.Choices[req.ChoiceIndex]
		}
	} else {
		cs.log.Warn("选项节点不存在，使用客户端提交的选项",
			zap.String("story_id", req.StoryID.String()),
			zap.Int("index", req.CurrentLineIndex))
	}

	decision := &models.ChoiceDecision{Action: models.ActionNavigate, Condition: choice.Condition}

	if choice.HeroineName != "" && choice.AffinityDelta != nil {
		applied, err := cs.meta.ApplyAffinity(playerID, choice.HeroineName, *choice.AffinityDelta)
		if err != nil {
			return nil, err
		}
		decision.LikeValue = &applied.LikeValue
	}

	if choice.BranchStoryID != "" {
		if _, err := cs.stories.Get(choice.BranchStoryID); err != nil {
			return nil, fmt.Errorf("分支故事: %w", err)
		}
		decision.Action = models.ActionBranch
		decision.StoryID = choice.BranchStoryID
		return decision, nil
	}

	for _, t := range choice.Targets() {
		if t != nil {
			target := *t
			decision.TargetIndex = &target
			break
		}
	}
	return decision, nil
}
