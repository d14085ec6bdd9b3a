package playback

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync"

	"github.com/aiwuxian/codelove/internal/models"
)

// ErrLoad 剧本拉取失败或格式错误
var ErrLoad = errors.New("剧本加载失败")

// ScriptSource 拉取原始剧本
type ScriptSource interface {
	StoryScript(ctx context.Context, storyID models.StoryID) (json.RawMessage, error)
}

// Script 已加载的剧本，加载后不再修改
type Script struct {
	StoryID models.StoryID
	nodes   []models.ScriptNode
	lookup  map[int]int // index -> 数组位置
}

// NewScript 按最终 index 建立查找表
func NewScript(storyID models.StoryID, nodes []models.ScriptNode) *Script {
	lookup := make(map[int]int, len(nodes))
	for pos, n := range nodes {
		lookup[n.Index] = pos
	}
	return &Script{StoryID: storyID, nodes: nodes, lookup: lookup}
}

func (s *Script) Len() int {
	if s == nil {
		return 0
	}
	return len(s.nodes)
}

func (s *Script) Node(pos int) (models.ScriptNode, bool) {
	if s == nil || pos < 0 || pos >= len(s.nodes) {
		return models.ScriptNode{}, false
	}
	return s.nodes[pos], true
}

// Nodes 返回副本
func (s *Script) Nodes() []models.ScriptNode {
	if s == nil {
		return nil
	}
	return append([]models.ScriptNode(nil), s.nodes...)
}

// Position 按 index 查数组位置
func (s *Script) Position(index int) (int, bool) {
	if s == nil {
		return 0, false
	}
	pos, ok := s.lookup[index]
	return pos, ok
}

// IndexLookup 返回查找表副本
func (s *Script) IndexLookup() map[int]int {
	out := make(map[int]int, s.Len())
	if s == nil {
		return out
	}
	for k, v := range s.lookup {
		out[k] = v
	}
	return out
}

// FirstDisplayable 第一个对白、旁白、选项或有说话人的节点
func (s *Script) FirstDisplayable() int {
	for pos, n := range s.Nodes() {
		switch n.Type {
		case models.NodeDialogue, models.NodeNarration, models.NodeChoice:
			return pos
		}
		if n.Speaker != "" {
			return pos
		}
	}
	return 0
}

// ScanCondition 从 from 之后向前找第一个 meta.condition 命中的节点
func (s *Script) ScanCondition(from int, tags ...string) (int, bool) {
	if s == nil {
		return 0, false
	}
	for pos := from + 1; pos < len(s.nodes); pos++ {
		cond := s.nodes[pos].Meta.Condition
		if cond == "" {
			continue
		}
		for _, tag := range tags {
			if tag != "" && cond == tag {
				return pos, true
			}
		}
	}
	return 0, false
}

// LoadTicket 标记一次加载属于哪个故事
type LoadTicket struct {
	StoryID models.StoryID
	gen     uint64
}

// ScriptStore 持有当前故事的剧本，丢弃过期的加载结果
type ScriptStore struct {
	source ScriptSource

	mu      sync.Mutex
	gen     uint64
	current models.StoryID
	script  *Script
}

func NewScriptStore(source ScriptSource) *ScriptStore {
	return &ScriptStore{source: source}
}

// Begin 切换到新故事，之前发出的加载全部作废
func (s *ScriptStore) Begin(storyID models.StoryID) LoadTicket {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gen++
	s.current = storyID
	s.script = NewScript(storyID, nil)
	return LoadTicket{StoryID: storyID, gen: s.gen}
}

// Fetch 拉取并归一化，失败时返回空剧本和 ErrLoad
func (s *ScriptStore) Fetch(ctx context.Context, ticket LoadTicket) (*Script, error) {
	raw, err := s.source.StoryScript(ctx, ticket.StoryID)
	if err != nil {
		return NewScript(ticket.StoryID, nil), fmt.Errorf("%w: %w", ErrLoad, err)
	}
	nodes, err := DecodeScript(raw)
	if err != nil {
		return NewScript(ticket.StoryID, nil), err
	}
	return NewScript(ticket.StoryID, nodes), nil
}

// Commit 只接受当前故事的最新加载
func (s *ScriptStore) Commit(ticket LoadTicket, script *Script) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ticket.gen != s.gen || ticket.StoryID != s.current {
		return false
	}
	s.script = script
	return true
}

// Load 同步加载
func (s *ScriptStore) Load(ctx context.Context, storyID models.StoryID) (*Script, error) {
	ticket := s.Begin(storyID)
	script, err := s.Fetch(ctx, ticket)
	if !s.Commit(ticket, script) {
		return NewScript(storyID, nil), fmt.Errorf("%w: 故事已切换", ErrLoad)
	}
	return script, err
}

// Current 当前剧本（可能为空）
func (s *ScriptStore) Current() *Script {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.script
}

// DecodeScript 把各种形态的剧本数据归一化成节点列表
func DecodeScript(data []byte) ([]models.ScriptNode, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil, nil
	}

	switch data[0] {
	case '"':
		var inner string
		if err := json.Unmarshal(data, &inner); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrLoad, err)
		}
		return DecodeScript([]byte(inner))
	case '{':
		var wrapper map[string]json.RawMessage
		if err := json.Unmarshal(data, &wrapper); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrLoad, err)
		}
		for _, key := range []string{"lines", "nodes", "line", "script"} {
			if inner, ok := wrapper[key]; ok {
				return DecodeScript(inner)
			}
		}
		return nil, fmt.Errorf("%w: 剧本不是数组", ErrLoad)
	case '[':
	default:
		return nil, fmt.Errorf("%w: 剧本不是数组", ErrLoad)
	}

	var raws []json.RawMessage
	if err := json.Unmarshal(data, &raws); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrLoad, err)
	}

	nodes := make([]models.ScriptNode, 0, len(raws))
	for pos, raw := range raws {
		node, err := decodeNode(raw, pos)
		if err != nil {
			return nil, fmt.Errorf("%w: 第%d个节点: %w", ErrLoad, pos, err)
		}
		nodes = append(nodes, node)
	}
	return nodes, nil
}

type rawNode struct {
	Index       json.RawMessage   `json:"index"`
	Type        string            `json:"type"`
	Speaker     json.RawMessage   `json:"speaker"`
	Text        json.RawMessage   `json:"text"`
	Meta        json.RawMessage   `json:"meta"`
	Choices     []json.RawMessage `json:"choices"`
	ProblemID   json.RawMessage   `json:"problemId"`
	CodeProblem *rawTargets       `json:"codeProblem"`
	ShowThree   bool              `json:"showThree"`
}

type rawTargets struct {
	OnSubmitTargetIndex json.RawMessage `json:"onSubmitTargetIndex"`
	TargetIndex         json.RawMessage `json:"targetIndex"`
}

type rawMeta struct {
	Condition     json.RawMessage `json:"condition"`
	Image         json.RawMessage `json:"image"`
	Duration      json.RawMessage `json:"duration"`
	NextStoryCode json.RawMessage `json:"nextStoryCode"`
	ProblemID     json.RawMessage `json:"problemId"`
	rawTargets
}

type rawChoice struct {
	Text                json.RawMessage `json:"text"`
	Label               json.RawMessage `json:"label"`
	Condition           json.RawMessage `json:"condition"`
	TargetIndex         json.RawMessage `json:"targetIndex"`
	Target              json.RawMessage `json:"target"`
	NextIndex           json.RawMessage `json:"nextIndex"`
	OnSubmitTargetIndex json.RawMessage `json:"onSubmitTargetIndex"`
	HeroineName         json.RawMessage `json:"heroineName"`
	AffinityDelta       json.RawMessage `json:"affinityDelta"`
	BranchStoryID       json.RawMessage `json:"branchStoryId"`
}

func decodeNode(data json.RawMessage, pos int) (models.ScriptNode, error) {
	var raw rawNode
	if err := json.Unmarshal(data, &raw); err != nil {
		return models.ScriptNode{}, err
	}

	node := models.ScriptNode{
		Type:      normalizeType(raw.Type),
		Speaker:   flexString(raw.Speaker),
		Text:      flexString(raw.Text),
		ShowThree: raw.ShowThree,
	}
	if idx := flexInt(raw.Index); idx != nil {
		node.Index = *idx
	} else {
		node.Index = pos
	}

	meta, err := decodeMeta(raw.Meta)
	if err != nil {
		return models.ScriptNode{}, err
	}
	if meta.ProblemID == "" {
		meta.ProblemID = flexString(raw.ProblemID)
	}
	if meta.SubmitTarget == nil && raw.CodeProblem != nil {
		meta.SubmitTarget = firstInt(raw.CodeProblem.OnSubmitTargetIndex, raw.CodeProblem.TargetIndex)
	}
	node.Meta = meta

	for _, rc := range raw.Choices {
		node.Choices = append(node.Choices, decodeChoice(rc))
	}
	return node, nil
}

// decodeMeta meta 可能是对象，也可能被包成单元素数组
func decodeMeta(data json.RawMessage) (models.Meta, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return models.Meta{}, nil
	}
	if data[0] == '[' {
		var list []json.RawMessage
		if err := json.Unmarshal(data, &list); err != nil {
			return models.Meta{}, err
		}
		if len(list) == 0 {
			return models.Meta{}, nil
		}
		return decodeMeta(list[0])
	}
	if data[0] != '{' {
		return models.Meta{}, nil
	}

	var raw rawMeta
	if err := json.Unmarshal(data, &raw); err != nil {
		return models.Meta{}, err
	}
	meta := models.Meta{
		Condition:     flexString(raw.Condition),
		Image:         flexString(raw.Image),
		NextStoryCode: models.StoryID(flexString(raw.NextStoryCode)),
		ProblemID:     flexString(raw.ProblemID),
		SubmitTarget:  firstInt(raw.OnSubmitTargetIndex, raw.TargetIndex),
	}
	if d, ok := flexFloat(raw.Duration); ok {
		meta.Duration = d
	}
	return meta, nil
}

// decodeChoice 选项可以是纯字符串或对象（text/label）
func decodeChoice(data json.RawMessage) models.Choice {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		return models.Choice{Text: flexString(data)}
	}
	var raw rawChoice
	if err := json.Unmarshal(data, &raw); err != nil {
		return models.Choice{}
	}
	text := flexString(raw.Text)
	if text == "" {
		text = flexString(raw.Label)
	}
	return models.Choice{
		Text:                text,
		Condition:           flexString(raw.Condition),
		TargetIndex:         flexInt(raw.TargetIndex),
		Target:              flexInt(raw.Target),
		NextIndex:           flexInt(raw.NextIndex),
		OnSubmitTargetIndex: flexInt(raw.OnSubmitTargetIndex),
		HeroineName:         flexString(raw.HeroineName),
		AffinityDelta:       flexInt(raw.AffinityDelta),
		BranchStoryID:       models.StoryID(flexString(raw.BranchStoryID)),
	}
}

func normalizeType(s string) models.NodeType {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "dialogue":
		return models.NodeDialogue
	case "narration":
		return models.NodeNarration
	case "choice":
		return models.NodeChoice
	case "problem":
		return models.NodeProblem
	case "illust":
		return models.NodeIllust
	case "end":
		return models.NodeEnd
	case "ending":
		return models.NodeEnding
	case "storyend":
		return models.NodeStoryEnd
	}
	return models.NodeType(s)
}

func flexString(data json.RawMessage) string {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return ""
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err == nil {
			return s
		}
		return ""
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err == nil {
		return n.String()
	}
	return ""
}

func flexFloat(data json.RawMessage) (float64, bool) {
	s := flexString(data)
	if s == "" {
		return 0, false
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

func flexInt(data json.RawMessage) *int {
	f, ok := flexFloat(data)
	if !ok || f != math.Trunc(f) {
		return nil
	}
	n := int(f)
	return &n
}

func firstInt(candidates ...json.RawMessage) *int {
	for _, c := range candidates {
		if n := flexInt(c); n != nil {
			return n
		}
	}
	return nil
}
