package services

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/aiwuxian/codelove/internal/models"
	"github.com/aiwuxian/codelove/internal/storage"
)

// StoryService 故事、剧本与题目
type StoryService struct {
	storage *storage.Storage
	log     *zap.Logger
}

func NewStoryService(storage *storage.Storage, log *zap.Logger) *StoryService {
	return &StoryService{
		storage: storage,
		log:     log.Named("story"),
	}
}

// List 故事列表
func (ss *StoryService) List() ([]models.StoryMeta, error) {
	stories, err := ss.storage.ListStories()
	if err != nil {
		return nil, fmt.Errorf("获取故事列表失败: %w", err)
	}
	if stories == nil {
		stories = []models.StoryMeta{}
	}
	return stories, nil
}

// Get 完整故事
func (ss *StoryService) Get(id models.StoryID) (*models.Story, error) {
	story, err := ss.storage.GetStory(id)
	if err != nil {
		return nil, fmt.Errorf("获取故事 %s 失败: %w", id, err)
	}
	return story, nil
}

// Meta 客户端需要的元信息
func (ss *StoryService) Meta(id models.StoryID) (*models.StoryMeta, error) {
	story, err := ss.Get(id)
	if err != nil {
		return nil, err
	}
	return story.Meta(), nil
}

// Script 剧本原始 JSON
func (ss *StoryService) Script(id models.StoryID) (json.RawMessage, error) {
	script, err := ss.storage.GetScript(id)
	if err != nil {
		return nil, fmt.Errorf("获取剧本 %s 失败: %w", id, err)
	}
	return script, nil
}

// Upsert 校验后写入
func (ss *StoryService) Upsert(story *models.Story) error {
	if err := ss.validate(story); err != nil {
		return err
	}
	if err := ss.storage.UpsertStory(story); err != nil {
		return fmt.Errorf("保存故事 %s 失败: %w", story.ID, err)
	}
	return nil
}

func (ss *StoryService) validate(story *models.Story) error {
	if story.ID == "" {
		return errors.New("故事缺少 id")
	}
	if story.Title == "" {
		return fmt.Errorf("故事 %s 缺少标题", story.ID)
	}

	problems := make(map[string]bool, len(story.Problems))
	for _, p := range story.Problems {
		problems[p.ID] = true
	}
	heroines := make(map[string]bool, len(story.Heroines))
	for _, h := range story.Heroines {
		heroines[h.Name] = true
	}

	seen := make(map[int]bool, len(story.Script))
	for _, node := range story.Script {
		if seen[node.Index] {
			ss.log.Warn("节点 index 重复，后者生效",
				zap.String("story_id", story.ID.String()),
				zap.Int("index", node.Index))
		}
		seen[node.Index] = true

		if node.Type == models.NodeProblem && !problems[node.Meta.ProblemID] {
			ss.log.Warn("题目不存在",
				zap.String("story_id", story.ID.String()),
				zap.Int("index", node.Index),
				zap.String("problem_id", node.Meta.ProblemID))
		}
	}
	for heroine := range story.EndingRoutes {
		if !heroines[heroine] {
			return fmt.Errorf("故事 %s 的结局路线指向未知角色 %s", story.ID, heroine)
		}
	}
	return nil
}

// SeedFromDir 从故事包目录（*.yml / *.yaml）导入
func (ss *StoryService) SeedFromDir(dir string) (int, error) {
	entries, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		ss.log.Info("故事包目录不存在，跳过导入", zap.String("dir", dir))
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("读取故事包目录失败: %w", err)
	}

	var files []string
	for _, e := range entries {
		ext := strings.ToLower(filepath.Ext(e.Name()))
		if !e.IsDir() && (ext == ".yml" || ext == ".yaml") {
			files = append(files, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(files)

	count := 0
	for _, file := range files {
		story, err := loadStoryFile(file)
		if err != nil {
			return count, err
		}
		if err := ss.Upsert(story); err != nil {
			return count, fmt.Errorf("%s: %w", file, err)
		}
		count++
		ss.log.Info("导入故事",
			zap.String("file", file),
			zap.String("story_id", story.ID.String()),
			zap.Int("nodes", len(story.Script)))
	}
	return count, nil
}

func loadStoryFile(path string) (*models.Story, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("读取 %s 失败: %w", path, err)
	}
	var story models.Story
	if err := yaml.Unmarshal(data, &story); err != nil {
		return nil, fmt.Errorf("解析 %s 失败: %w", path, err)
	}
	return &story, nil
}

// FindProblem 故事内的题目
func FindProblem(story *models.Story, problemID string) (*models.Problem, bool) {
	for i := range story.Problems {
		if story.Problems[i].ID == problemID {
			return &story.Problems[i], true
		}
	}
	return nil, false
}

// FindNode 按 index 查节点，重复时取最后一个
func FindNode(story *models.Story, index int) (*models.ScriptNode, bool) {
	var found *models.ScriptNode
	for i := range story.Script {
		if story.Script[i].Index == index {
			found = &story.Script[i]
		}
	}
	return found, found != nil
}
