package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/aiwuxian/codelove/internal/models"
)

var _ Judge = (*OpenAIJudge)(nil)

const judgeSystemPrompt = `你是一个严格的代码评测机。根据给出的源代码、语言和测试用例，推断程序对每个输入的标准输出。
只输出 JSON：{"results":[{"ok":true,"actual":"程序输出"}]}，results 与测试用例一一对应。
输出与期望值在去掉首尾空白后完全一致才算 ok。`

// OpenAIJudge 没有 Judge0 时用大模型推断运行结果
type OpenAIJudge struct {
	client *openai.Client
	model  string
	log    *zap.Logger
}

func NewOpenAIJudge(cfg models.JudgeConfig, log *zap.Logger) *OpenAIJudge {
	config := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		config.BaseURL = strings.TrimSuffix(cfg.BaseURL, "/")
	}
	model := cfg.Model
	if model == "" {
		model = openai.GPT4oMini
	}
	return &OpenAIJudge{
		client: openai.NewClientWithConfig(config),
		model:  model,
		log:    log.Named("openai_judge"),
	}
}

func (j *OpenAIJudge) Name() string { return "openai" }

type judgeVerdict struct {
	Results []struct {
		Actual string `json:"actual"`
	} `json:"results"`
}

func (j *OpenAIJudge) Run(ctx context.Context, problem models.Problem, languageID int, source string) ([]models.TestResult, error) {
	var sb strings.Builder
	fmt.Fprintf(&sb, "题目: %s\n%s\n\n语言: %s\n\n源代码:\n%s\n\n测试用例:\n", problem.Title, problem.Content, languageName(languageID), source)
	for i, tc := range problem.TestCases {
		fmt.Fprintf(&sb, "%d. 输入: %q 期望输出: %q\n", i+1, tc.Input, tc.Expected)
	}

	resp, err := j.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: j.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: judgeSystemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: sb.String()},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{Type: openai.ChatCompletionResponseFormatTypeJSONObject},
		Temperature:    0,
	})
	if err != nil {
		return nil, fmt.Errorf("调用模型失败: %w", err)
	}
	if len(resp.Choices) == 0 || resp.Choices[0].Message.Content == "" {
		return nil, errors.New("模型返回空结果")
	}

	var verdict judgeVerdict
	if err := json.Unmarshal([]byte(resp.Choices[0].Message.Content), &verdict); err != nil {
		return nil, fmt.Errorf("解析模型结果失败: %w", err)
	}
	if len(verdict.Results) != len(problem.TestCases) {
		return nil, fmt.Errorf("模型返回 %d 个结果，期望 %d 个", len(verdict.Results), len(problem.TestCases))
	}

	j.log.Debug("模型评测完成",
		zap.String("problem_id", problem.ID),
		zap.Int("total_tokens", resp.Usage.TotalTokens))

	results := make([]models.TestResult, 0, len(problem.TestCases))
	for i, tc := range problem.TestCases {
		actual := verdict.Results[i].Actual
		results = append(results, models.TestResult{
			OK:       strings.TrimSpace(actual) == strings.TrimSpace(tc.Expected),
			Input:    tc.Input,
			Expected: tc.Expected,
			Actual:   actual,
		})
	}
	return results, nil
}

func languageName(id int) string {
	switch id {
	case models.LanguageC:
		return "C"
	case models.LanguageJava:
		return "Java"
	case models.LanguagePython:
		return "Python"
	}
	return fmt.Sprintf("Judge0 语言 %d", id)
}

// NewJudge 按配置选择评测后端
func NewJudge(cfg models.JudgeConfig, log *zap.Logger) (Judge, error) {
	switch strings.ToLower(cfg.Provider) {
	case "", "judge0":
		return NewJudge0Judge(cfg, log), nil
	case "openai":
		return NewOpenAIJudge(cfg, log), nil
	}
	return nil, fmt.Errorf("未知的评测后端: %s", cfg.Provider)
}
