package models

import (
	"bytes"
	"encoding/json"
	"time"
)

// StoryID 故事标识（接口里可能是数字也可能是字符串）
type StoryID string

func (id StoryID) String() string { return string(id) }

// UnmarshalJSON 同时接受 1 和 "1" 两种写法
func (id *StoryID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*id = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = StoryID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*id = StoryID(n.String())
	return nil
}

// NodeType 剧本节点类型
type NodeType string

const (
	NodeDialogue  NodeType = "dialogue"
	NodeNarration NodeType = "narration"
	NodeChoice    NodeType = "choice"
	NodeProblem   NodeType = "problem"
	NodeIllust    NodeType = "illust"
	NodeEnd       NodeType = "end"
	NodeEnding    NodeType = "ending"
	NodeStoryEnd  NodeType = "storyEnd"
)

// Meta 节点元信息（加载时统一成单个对象，不再出现单元素数组）
type Meta struct {
	Condition     string  `json:"condition,omitempty" yaml:"condition,omitempty"`
	Image         string  `json:"image,omitempty" yaml:"image,omitempty"`
	Duration      float64 `json:"duration,omitempty" yaml:"duration,omitempty"` // 秒
	NextStoryCode StoryID `json:"nextStoryCode,omitempty" yaml:"nextStoryCode,omitempty"`
	ProblemID     string  `json:"problemId,omitempty" yaml:"problemId,omitempty"`
	SubmitTarget  *int    `json:"onSubmitTargetIndex,omitempty" yaml:"onSubmitTargetIndex,omitempty"` // 提交后跳转的节点index
}

// Choice 选项
type Choice struct {
	Text                string  `json:"text" yaml:"text"`
	Condition           string  `json:"condition,omitempty" yaml:"condition,omitempty"`
	TargetIndex         *int    `json:"targetIndex,omitempty" yaml:"targetIndex,omitempty"`
	Target              *int    `json:"target,omitempty" yaml:"target,omitempty"`
	NextIndex           *int    `json:"nextIndex,omitempty" yaml:"nextIndex,omitempty"`
	OnSubmitTargetIndex *int    `json:"onSubmitTargetIndex,omitempty" yaml:"onSubmitTargetIndex,omitempty"`
	HeroineName         string  `json:"heroineName,omitempty" yaml:"heroineName,omitempty"`
	AffinityDelta       *int    `json:"affinityDelta,omitempty" yaml:"affinityDelta,omitempty"`
	BranchStoryID       StoryID `json:"branchStoryId,omitempty" yaml:"branchStoryId,omitempty"`
}

// Targets 按优先级返回选项里写的跳转目标
func (c Choice) Targets() []*int {
	return []*int{c.TargetIndex, c.Target, c.NextIndex, c.OnSubmitTargetIndex}
}

// NeedsServer 好感度、角色、跨故事分支都需要服务器裁决
func (c Choice) NeedsServer() bool {
	return c.HeroineName != "" || c.AffinityDelta != nil || c.BranchStoryID != ""
}

// ScriptNode 剧本节点
type ScriptNode struct {
	Index     int      `json:"index" yaml:"index"` // 编写时分配，存档和跳转都用它
	Type      NodeType `json:"type" yaml:"type"`
	Speaker   string   `json:"speaker,omitempty" yaml:"speaker,omitempty"`
	Text      string   `json:"text,omitempty" yaml:"text,omitempty"`
	Meta      Meta     `json:"meta" yaml:"meta,omitempty"`
	Choices   []Choice `json:"choices,omitempty" yaml:"choices,omitempty"`
	ShowThree bool     `json:"showThree,omitempty" yaml:"showThree,omitempty"`
}

// Judge0 语言ID
const (
	LanguageC      = 50
	LanguagePython = 71
	LanguageJava   = 91
)

// Heroine 女主角
type Heroine struct {
	Name       string `json:"name" yaml:"name"`
	LanguageID int    `json:"languageId,omitempty" yaml:"languageId,omitempty"` // Judge0 语言ID
	Language   string `json:"language,omitempty" yaml:"language,omitempty"`
}

// TestCase 公开测试用例
type TestCase struct {
	Input    string `json:"input" yaml:"input"`
	Expected string `json:"expected" yaml:"expected"`
}

// Problem 编程题
type Problem struct {
	ID         string     `json:"id" yaml:"id"`
	Title      string     `json:"title" yaml:"title"`
	Content    string     `json:"content" yaml:"content"`
	TestCases  []TestCase `json:"testcases" yaml:"testcases"`
	LanguageID int        `json:"languageId,omitempty" yaml:"languageId,omitempty"`
	Heroine    string     `json:"heroine,omitempty" yaml:"heroine,omitempty"` // 奖励好感度的角色
}

// StoryMeta 故事元信息
type StoryMeta struct {
	ID              StoryID   `json:"id"`
	Title           string    `json:"title"`
	Heroines        []Heroine `json:"heroines"`
	Problems        []Problem `json:"problems"`
	BackgroundImage string    `json:"backgroundImage"`
}

// Story 故事（服务端完整记录，含剧本与结局路线）
type Story struct {
	ID              StoryID            `json:"id" yaml:"id"`
	Title           string             `json:"title" yaml:"title"`
	BackgroundImage string             `json:"backgroundImage" yaml:"background_image"`
	Heroines        []Heroine          `json:"heroines" yaml:"heroines"`
	Problems        []Problem          `json:"problems" yaml:"problems"`
	Script          []ScriptNode       `json:"script" yaml:"script"`
	EndingRoutes    map[string]StoryID `json:"endingRoutes,omitempty" yaml:"ending_routes"` // 角色名 -> 结局故事
	DefaultEnding   StoryID            `json:"defaultEnding,omitempty" yaml:"default_ending"`
	CreatedAt       time.Time          `json:"created_at" yaml:"-"`
}

// Meta 提取客户端需要的元信息
func (s *Story) Meta() *StoryMeta {
	return &StoryMeta{
		ID:              s.ID,
		Title:           s.Title,
		Heroines:        s.Heroines,
		Problems:        s.Problems,
		BackgroundImage: s.BackgroundImage,
	}
}

// ChoiceRequest 选项裁决请求
type ChoiceRequest struct {
	StoryID          StoryID `json:"storyId" binding:"required"`
	CurrentLineIndex int     `json:"currentLineIndex"`
	ChoiceIndex      int     `json:"choiceIndex"`
	Choice           Choice  `json:"choice"`
}

// ChoiceAction 服务器裁决结果类型
type ChoiceAction string

const (
	ActionBranch   ChoiceAction = "branch"
	ActionNavigate ChoiceAction = "navigate"
)

// ChoiceDecision 选项裁决结果
type ChoiceDecision struct {
	Action      ChoiceAction `json:"action"`
	StoryID     StoryID      `json:"storyId,omitempty"`
	TargetIndex *int         `json:"targetIndex,omitempty"`
	Condition   string       `json:"condition,omitempty"`
	LikeValue   *int         `json:"likeValue,omitempty"`
}

// SubmissionRequest 代码提交
type SubmissionRequest struct {
	StoryID    StoryID `json:"storyId"`
	NodeIndex  int     `json:"nodeIndex"`
	ProblemID  string  `json:"problemId" binding:"required"`
	SourceCode string  `json:"sourceCode"`
	LanguageID int     `json:"languageId"`
}

// TestResult 单个测试用例结果
type TestResult struct {
	OK       bool    `json:"ok"`
	Input    string  `json:"input"`
	Expected string  `json:"expected"`
	Actual   string  `json:"actual,omitempty"`
	Time     float64 `json:"time"`   // 秒
	Memory   int     `json:"memory"` // KB
}

// AppliedAffinity 已生效的好感度变化
type AppliedAffinity struct {
	Heroine   string `json:"heroine"`
	Delta     int    `json:"delta"`
	LikeValue int    `json:"likeValue"`
}

// SubmissionResult 评测结果
type SubmissionResult struct {
	ID                string            `json:"id,omitempty"`
	Passed            bool              `json:"passed"`
	TestResults       []TestResult      `json:"testResults"`
	AppliedAffinities []AppliedAffinity `json:"appliedAffinities"`
}

// OKCount 通过的用例数
func (r *SubmissionResult) OKCount() int {
	n := 0
	for _, t := range r.TestResults {
		if t.OK {
			n++
		}
	}
	return n
}

// EndingRequest 结局分支请求
type EndingRequest struct {
	StoryID StoryID `json:"storyId" binding:"required"`
}

// EndingResult 结局分支结果
type EndingResult struct {
	StoryID StoryID `json:"storyId"`
	Heroine string  `json:"heroine,omitempty"`
}

// HeroineLike 好感度快照
type HeroineLike struct {
	Heroine   string `json:"heroine"`
	LikeValue int    `json:"likeValue"`
}

// SaveSlot 存档槽
type SaveSlot struct {
	ID           string        `json:"id"`
	PlayerID     string        `json:"playerId"`
	Slot         int           `json:"slot"`
	StoryID      StoryID       `json:"storyId"`
	LineIndex    int           `json:"lineIndex"` // 节点index，不是数组位置
	HeroineLikes []HeroineLike `json:"heroineLikes"`
	CreatedAt    time.Time     `json:"created_at"`
	UpdatedAt    time.Time     `json:"updated_at"`
}

// SaveRequest 存档请求
type SaveRequest struct {
	Slot         int           `json:"slot"`
	StoryID      StoryID       `json:"storyId" binding:"required"`
	LineIndex    int           `json:"lineIndex"`
	HeroineLikes []HeroineLike `json:"heroineLikes"`
}

// Envelope 统一响应格式
type Envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// Submission 评测记录
type Submission struct {
	ID         string    `json:"id"`
	PlayerID   string    `json:"playerId"`
	StoryID    StoryID   `json:"storyId"`
	ProblemID  string    `json:"problemId"`
	LanguageID int       `json:"languageId"`
	Passed     bool      `json:"passed"`
	OKCount    int       `json:"okCount"`
	Total      int       `json:"total"`
	CreatedAt  time.Time `json:"created_at"`
}
