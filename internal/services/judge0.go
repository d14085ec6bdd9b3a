package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/aiwuxian/codelove/internal/models"
)

var _ Judge = (*Judge0Judge)(nil)

// judge0Accepted Judge0 的 Accepted 状态
const judge0Accepted = 3

// Judge0Judge 调用 Judge0 逐个运行测试用例
type Judge0Judge struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	log        *zap.Logger
}

func NewJudge0Judge(cfg models.JudgeConfig, log *zap.Logger) *Judge0Judge {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	return &Judge0Judge{
		baseURL:    strings.TrimSuffix(cfg.BaseURL, "/"),
		apiKey:     cfg.APIKey,
		httpClient: &http.Client{Timeout: timeout},
		log:        log.Named("judge0"),
	}
}

func (j *Judge0Judge) Name() string { return "judge0" }

type judge0Request struct {
	SourceCode     string `json:"source_code"`
	LanguageID     int    `json:"language_id"`
	Stdin          string `json:"stdin"`
	ExpectedOutput string `json:"expected_output"`
}

type judge0Response struct {
	Stdout        *string `json:"stdout"`
	Stderr        *string `json:"stderr"`
	CompileOutput *string `json:"compile_output"`
	Time          *string `json:"time"`
	Memory        *int    `json:"memory"`
	Status        struct {
		ID          int    `json:"id"`
		Description string `json:"description"`
	} `json:"status"`
}

// Run 每个测试用例提交一次（wait=true 同步返回）
func (j *Judge0Judge) Run(ctx context.Context, problem models.Problem, languageID int, source string) ([]models.TestResult, error) {
	results := make([]models.TestResult, 0, len(problem.TestCases))
	for i, tc := range problem.TestCases {
		resp, err := j.submit(ctx, judge0Request{
			SourceCode:     source,
			LanguageID:     languageID,
			Stdin:          tc.Input,
			ExpectedOutput: tc.Expected,
		})
		if err != nil {
			return nil, fmt.Errorf("测试用例 %d: %w", i+1, err)
		}

		result := models.TestResult{
			OK:       resp.Status.ID == judge0Accepted,
			Input:    tc.Input,
			Expected: tc.Expected,
			Actual:   strings.TrimRight(deref(resp.Stdout), "\n"),
		}
		if result.Actual == "" && resp.CompileOutput != nil {
			result.Actual = strings.TrimSpace(*resp.CompileOutput)
		}
		if resp.Time != nil {
			result.Time, _ = strconv.ParseFloat(*resp.Time, 64)
		}
		if resp.Memory != nil {
			result.Memory = *resp.Memory
		}
		j.log.Debug("测试用例完成",
			zap.String("problem_id", problem.ID),
			zap.Int("case", i+1),
			zap.String("status", resp.Status.Description))
		results = append(results, result)
	}
	return results, nil
}

func (j *Judge0Judge) submit(ctx context.Context, body judge0Request) (*judge0Response, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("序列化请求失败: %w", err)
	}

	url := j.baseURL + "/submissions?base64_encoded=false&wait=true"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("创建请求失败: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if j.apiKey != "" {
		req.Header.Set("X-Auth-Token", j.apiKey)
	}

	resp, err := j.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("请求 Judge0 失败: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("Judge0 返回 %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var out judge0Response
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("解析 Judge0 响应失败: %w", err)
	}
	return &out, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
