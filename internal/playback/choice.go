package playback

import (
	"errors"
	"fmt"

	"github.com/aiwuxian/codelove/internal/models"
)

// DecisionKind 导航决定的类型
type DecisionKind int

const (
	DecideSequential DecisionKind = iota
	DecideGoto
	DecideBranch
	DecideServer
)

func (k DecisionKind) String() string {
	switch k {
	case DecideGoto:
		return "goto"
	case DecideBranch:
		return "branch"
	case DecideServer:
		return "server"
	}
	return "sequential"
}

// Decision 子组件给出的导航决定，由 Engine 执行
type Decision struct {
	Kind      DecisionKind
	Position  int
	StoryID   models.StoryID
	Condition string // 执行前写入 active condition
	Request   *models.ChoiceRequest
	Err       error
}

// ChoiceResolver 选项的展示与裁决
type ChoiceResolver struct {
	targets TargetResolver
	visible bool
}

func NewChoiceResolver(targets TargetResolver) *ChoiceResolver {
	return &ChoiceResolver{targets: targets}
}

func (c *ChoiceResolver) Visible() bool { return c.visible }
func (c *ChoiceResolver) Open() { c.visible = true }
func (c *ChoiceResolver) Close() { c.visible = false }

// Present 选项显示文本
func Present(node models.ScriptNode) []string {
	labels := make([]string, 0, len(node.Choices))
	for _, ch := range node.Choices {
		labels = append(labels, ch.Text)
	}
	return labels
}

// Select 处理玩家选择，总是先关闭选项层
func (c *ChoiceResolver) Select(storyID models.StoryID, script *Script, pos, choiceIndex int) Decision {
	c.Close()

	node, ok := script.Node(pos)
	if !ok || choiceIndex < 0 || choiceIndex >= len(node.Choices) {
		return Decision{Kind: DecideSequential, Err: fmt.Errorf("选项 %d 不存在", choiceIndex)}
	}
	choice := node.Choices[choiceIndex]

	if choice.Condition != "" {
		if target, found := script.ScanCondition(pos, choice.Condition); found {
			return Decision{Kind: DecideGoto, Position: target, Condition: choice.Condition}
		}
		return Decision{Kind: DecideSequential, Condition: choice.Condition, Err: ErrResolutionMiss}
	}

	if choice.NeedsServer() {
		return Decision{
			Kind: DecideServer,
			Request: &models.ChoiceRequest{
				StoryID:          storyID,
				CurrentLineIndex: node.Index,
				ChoiceIndex:      choiceIndex,
				Choice:           choice,
			},
		}
	}

	return c.local(script, choice.Targets()...)
}

// Adjudicate 把服务器的裁决换算成导航决定；请求失败时顺序前进
func (c *ChoiceResolver) Adjudicate(script *Script, pos int, req models.ChoiceRequest, resp *models.ChoiceDecision, err error) Decision {
	if err != nil {
		return Decision{Kind: DecideSequential, Err: err}
	}
	if resp == nil {
		return Decision{Kind: DecideSequential, Err: errors.New("选项裁决为空")}
	}

	switch resp.Action {
	case models.ActionBranch:
		if resp.StoryID != "" {
			return Decision{Kind: DecideBranch, StoryID: resp.StoryID}
		}
	case models.ActionNavigate:
		if resp.Condition != "" {
			if target, found := script.ScanCondition(pos, resp.Condition); found {
				return Decision{Kind: DecideGoto, Position: target, Condition: resp.Condition}
			}
		}
		targets := append([]*int{resp.TargetIndex}, req.Choice.Targets()...)
		d := c.local(script, targets...)
		d.Condition = resp.Condition
		return d
	}
	return Decision{Kind: DecideSequential, Err: fmt.Errorf("未知的裁决 %q", resp.Action)}
}

func (c *ChoiceResolver) local(script *Script, targets ...*int) Decision {
	pos, err := c.targets.ResolveIn(script, targets...)
	if err == nil {
		return Decision{Kind: DecideGoto, Position: pos}
	}
	if anyTarget(targets...) {
		return Decision{Kind: DecideSequential, Err: err}
	}
	return Decision{Kind: DecideSequential}
}
