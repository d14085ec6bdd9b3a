package services

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/aiwuxian/codelove/internal/models"
	"github.com/aiwuxian/codelove/internal/storage"
)

// MetaService 玩家的好感度与存档
type MetaService struct {
	storage *storage.Storage
	rules   *RuleEngine
	log     *zap.Logger
}

func NewMetaService(storage *storage.Storage, rules *RuleEngine, log *zap.Logger) *MetaService {
	return &MetaService{
		storage: storage,
		rules:   rules,
		log:     log.Named("meta"),
	}
}

// Affinity 当前好感度，没有记录时返回初始值
func (ms *MetaService) Affinity(playerID, heroine string) (int, error) {
	value, err := ms.storage.GetAffinity(playerID, heroine)
	if errors.Is(err, models.ErrNotFound) {
		return ms.rules.StartAffinity(), nil
	}
	return value, err
}

// ApplyAffinity 应用好感度变化并返回结果
func (ms *MetaService) ApplyAffinity(playerID, heroine string, delta int) (*models.AppliedAffinity, error) {
	current, value, err := ms.storage.UpdateAffinity(playerID, heroine, ms.rules.StartAffinity(), func(v int) int {
		return ms.rules.Apply(v, delta)
	})
	if err != nil {
		return nil, fmt.Errorf("保存好感度失败: %w", err)
	}

	ms.log.Debug("好感度变化",
		zap.String("player_id", playerID),
		zap.String("heroine", heroine),
		zap.Int("delta", delta),
		zap.Int("value", value))

	return &models.AppliedAffinity{Heroine: heroine, Delta: value - current, LikeValue: value}, nil
}

// Affinities 全部好感度
func (ms *MetaService) Affinities(playerID string) ([]models.HeroineLike, error) {
	likes, err := ms.storage.ListAffinities(playerID)
	if err != nil {
		return nil, err
	}
	if likes == nil {
		likes = []models.HeroineLike{}
	}
	return likes, nil
}

// AffinityMap 按角色名索引
func (ms *MetaService) AffinityMap(playerID string) (map[string]int, error) {
	likes, err := ms.storage.ListAffinities(playerID)
	if err != nil {
		return nil, err
	}
	out := make(map[string]int, len(likes))
	for _, l := range likes {
		out[l.Heroine] = l.LikeValue
	}
	return out, nil
}

// Save 写入存档槽，未带好感度快照时使用当前记录
func (ms *MetaService) Save(playerID string, req models.SaveRequest) (*models.SaveSlot, error) {
	likes := req.HeroineLikes
	if len(likes) == 0 {
		current, err := ms.storage.ListAffinities(playerID)
		if err != nil {
			return nil, err
		}
		likes = current
	}

	save := &models.SaveSlot{
		ID:           uuid.New().String(),
		PlayerID:     playerID,
		Slot:         req.Slot,
		StoryID:      req.StoryID,
		LineIndex:    req.LineIndex,
		HeroineLikes: likes,
	}
	if err := ms.storage.UpsertSaveSlot(save); err != nil {
		return nil, fmt.Errorf("保存存档失败: %w", err)
	}

	return ms.storage.GetSaveSlot(playerID, req.Slot)
}

// Load 读取存档并恢复好感度快照
func (ms *MetaService) Load(playerID string, slot int) (*models.SaveSlot, error) {
	save, err := ms.storage.GetSaveSlot(playerID, slot)
	if err != nil {
		return nil, err
	}

	for _, like := range save.HeroineLikes {
		if err := ms.storage.SetAffinity(playerID, like.Heroine, ms.rules.Clamp(like.LikeValue)); err != nil {
			return nil, fmt.Errorf("恢复好感度失败: %w", err)
		}
	}

	ms.log.Info("读取存档",
		zap.String("player_id", playerID),
		zap.Int("slot", slot),
		zap.String("story_id", save.StoryID.String()),
		zap.Int("line_index", save.LineIndex),
		zap.Duration("age", time.Since(save.UpdatedAt)))

	return save, nil
}

// ListSaves 全部存档
func (ms *MetaService) ListSaves(playerID string) ([]models.SaveSlot, error) {
	saves, err := ms.storage.ListSaveSlots(playerID)
	if err != nil {
		return nil, err
	}
	if saves == nil {
		saves = []models.SaveSlot{}
	}
	return saves, nil
}

// DeleteSave 删除存档
func (ms *MetaService) DeleteSave(playerID string, slot int) error {
	return ms.storage.DeleteSaveSlot(playerID, slot)
}
