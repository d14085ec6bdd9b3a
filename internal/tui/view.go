package tui

import (
	"fmt"
	"strings"

	"github.com/aiwuxian/codelove/internal/models"
	"github.com/aiwuxian/codelove/internal/playback"
)

func (m Model) View() string {
	var b strings.Builder
	v := m.view

	if m.home {
		b.WriteString(m.styles.title.Render("CodeLove"))
		b.WriteString("\n\n")
		if line := likesLine(v.Affinities); line != "" {
			b.WriteString(m.styles.likes.Render(line) + "\n\n")
		}
		b.WriteString(m.footer("enter 开始  l 读档  q 退出"))
		return b.String()
	}

	title := v.Title
	if title == "" {
		title = "CodeLove"
	}
	b.WriteString(m.styles.title.Render(title))
	if line := likesLine(v.Affinities); line != "" {
		b.WriteString("  " + m.styles.likes.Render(line))
	}
	b.WriteString("\n\n")

	switch {
	case v.Loading:
		b.WriteString("加载中...\n")
	case v.Empty:
		b.WriteString("这个故事没有内容。\n")
	case v.Ending:
		b.WriteString(m.styles.ending.Render(v.EndMessage) + "\n")
	case v.Illustrating:
		b.WriteString(m.styles.illust.Render("［插画］"+v.IllustrationImage) + "\n")
	default:
		m.renderNode(&b, v)
	}

	if v.ProblemOverlay && v.Problem != nil {
		b.WriteString("\n" + m.renderProblem(v) + "\n")
	}
	if v.Result != nil {
		b.WriteString("\n" + m.renderResult(v.Result) + "\n")
	}

	return b.String() + "\n" + m.footer(m.help(v))
}

func (m Model) renderNode(b *strings.Builder, v playback.View) {
	if v.ShowHeroines && len(v.Heroines) > 0 {
		b.WriteString(m.styles.heroines.Render(heroineLine(v)) + "\n\n")
	}
	if v.Speaker != "" {
		b.WriteString(m.styles.speaker.Render(v.Speaker) + "\n")
	}
	if v.Text != "" {
		b.WriteString(m.styles.text.Render(v.Text) + "\n")
	}
	if v.ChoicesVisible {
		b.WriteString("\n")
		for i, c := range v.Choices {
			b.WriteString(m.styles.choice.Render(fmt.Sprintf("[%d] %s", i+1, c)) + "\n")
		}
	}
	if v.ChoicePending {
		b.WriteString(m.styles.help.Render("等待服务器...") + "\n")
	}
}

// heroineLine 单人模式只显示说话的角色（没有时取第一个）
func heroineLine(v playback.View) string {
	if v.HeroineMode == playback.HeroineModeOne {
		name := v.Heroines[0].Name
		for _, h := range v.Heroines {
			if h.Name == v.Speaker {
				name = h.Name
			}
		}
		return name
	}
	names := make([]string, 0, 3)
	for i, h := range v.Heroines {
		if i == 3 {
			break
		}
		names = append(names, h.Name)
	}
	return strings.Join(names, " · ")
}

func (m Model) renderProblem(v playback.View) string {
	p := v.Problem
	var b strings.Builder
	b.WriteString(m.styles.title.Render(p.Title) + "\n")
	if p.Content != "" {
		b.WriteString(p.Content + "\n")
	}
	for i, tc := range p.TestCases {
		fmt.Fprintf(&b, "样例 %d: 输入 %q 输出 %q\n", i+1, tc.Input, tc.Expected)
	}

	lang := languageName(m.language)
	if m.language == 0 {
		lang = fmt.Sprintf("自动（%s）", languageName(v.LanguageID))
	}
	b.WriteString("语言: " + lang + "\n")
	b.WriteString(m.styles.editor.Render(m.draft+"▌") + "\n")

	switch {
	case v.Submitting:
		b.WriteString(m.styles.help.Render("评测中..."))
	case v.SubmitError != "":
		b.WriteString(m.styles.failed.Render(v.SubmitError))
	}
	return m.styles.box.Render(b.String())
}

func (m Model) renderResult(res *models.SubmissionResult) string {
	lines := ResultSummary(res)
	style := m.styles.failed
	if res.Passed {
		style = m.styles.passed
	}
	lines[0] = style.Render(lines[0])
	return m.styles.box.Render(strings.Join(lines, "\n"))
}

func (m Model) help(v playback.View) string {
	switch {
	case v.Result != nil:
		return "enter 继续"
	case v.ProblemOverlay:
		return "ctrl+d 提交  ctrl+l 切换语言  esc 关闭"
	case v.ChoicesVisible:
		return "1-9 选择  s 存档  q 退出"
	}
	return "空格/enter 继续  tab 跳过打字  s 存档  l 读档  q 退出"
}

func (m Model) footer(help string) string {
	var b strings.Builder
	if m.notice != "" {
		b.WriteString(m.styles.notice.Render(m.notice) + "\n")
	}
	if m.status != "" {
		b.WriteString(m.styles.help.Render(m.status) + "\n")
	}
	b.WriteString(m.styles.help.Render(help))
	return b.String()
}
