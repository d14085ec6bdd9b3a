package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/aiwuxian/codelove/internal/models"
	"github.com/aiwuxian/codelove/internal/playback"
)

var _ playback.Backend = (*Client)(nil)

// Client 访问 CodeLove 服务端
type Client struct {
	baseURL    string
	token      string
	playerID   string
	httpClient *http.Client
	log        *zap.Logger
}

func New(baseURL, token, playerID string, timeout time.Duration, log *zap.Logger) *Client {
	if timeout <= 0 {
		timeout = playback.DefaultRequestTimeout
	}
	return &Client{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		token:      token,
		playerID:   playerID,
		httpClient: &http.Client{Timeout: timeout},
		log:        log.Named("client"),
	}
}

// APIError 服务端返回的非 2xx 响应
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("服务端返回 %d", e.Status)
	}
	return fmt.Sprintf("服务端返回 %d: %s", e.Status, e.Message)
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("序列化请求失败: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("创建请求失败: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if c.playerID != "" {
		req.Header.Set("X-Player-ID", c.playerID)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	var env models.Envelope
	decodeErr := json.NewDecoder(resp.Body).Decode(&env)

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return models.ErrAuthRequired
	case resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("%s %s: %w", method, path, models.ErrNotFound)
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return &APIError{Status: resp.StatusCode, Message: env.Error}
	case decodeErr != nil:
		return fmt.Errorf("解析响应失败: %w", decodeErr)
	case !env.Success:
		return &APIError{Status: resp.StatusCode, Message: env.Error}
	}

	if out == nil || len(env.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("解析响应数据失败: %w", err)
	}
	return nil
}

func storyPath(id models.StoryID) string {
	return "/api/stories/" + url.PathEscape(id.String())
}

// StoryScript 原始剧本，交给 playback 容错解析
func (c *Client) StoryScript(ctx context.Context, storyID models.StoryID) (json.RawMessage, error) {
	var raw json.RawMessage
	if err := c.do(ctx, http.MethodGet, storyPath(storyID)+"/script", nil, &raw); err != nil {
		return nil, err
	}
	return raw, nil
}

func (c *Client) StoryMeta(ctx context.Context, storyID models.StoryID) (*models.StoryMeta, error) {
	var meta models.StoryMeta
	if err := c.do(ctx, http.MethodGet, storyPath(storyID), nil, &meta); err != nil {
		return nil, err
	}
	return &meta, nil
}

func (c *Client) ListStories(ctx context.Context) ([]models.StoryMeta, error) {
	var stories []models.StoryMeta
	err := c.do(ctx, http.MethodGet, "/api/stories", nil, &stories)
	return stories, err
}

func (c *Client) SelectChoice(ctx context.Context, req models.ChoiceRequest) (*models.ChoiceDecision, error) {
	var d models.ChoiceDecision
	if err := c.do(ctx, http.MethodPost, "/api/choices/select", req, &d); err != nil {
		return nil, err
	}
	return &d, nil
}

func (c *Client) SubmitCode(ctx context.Context, req models.SubmissionRequest) (*models.SubmissionResult, error) {
	var res models.SubmissionResult
	path := "/api/problems/" + url.PathEscape(req.StoryID.String()) + "/submit-code"
	if err := c.do(ctx, http.MethodPost, path, req, &res); err != nil {
		return nil, err
	}
	c.log.Debug("评测结果",
		zap.String("problem_id", req.ProblemID),
		zap.Bool("passed", res.Passed),
		zap.Int("ok", res.OKCount()),
		zap.Int("total", len(res.TestResults)))
	return &res, nil
}

func (c *Client) ResolveEnding(ctx context.Context, storyID models.StoryID) (models.StoryID, error) {
	var res models.EndingResult
	if err := c.do(ctx, http.MethodPost, "/api/endings/resolve", models.EndingRequest{StoryID: storyID}, &res); err != nil {
		return "", err
	}
	if res.StoryID == "" {
		return "", errors.New("服务端没有返回结局故事")
	}
	return res.StoryID, nil
}

// Affinities 当前好感度
func (c *Client) Affinities(ctx context.Context) ([]models.HeroineLike, error) {
	var likes []models.HeroineLike
	err := c.do(ctx, http.MethodGet, "/api/affinities", nil, &likes)
	return likes, err
}

// ListSaves 存档列表
func (c *Client) ListSaves(ctx context.Context) ([]models.SaveSlot, error) {
	var saves []models.SaveSlot
	err := c.do(ctx, http.MethodGet, "/api/progress/saves", nil, &saves)
	return saves, err
}

// Save 保存当前故事和节点 index
func (c *Client) Save(ctx context.Context, req models.SaveRequest) (*models.SaveSlot, error) {
	var save models.SaveSlot
	if err := c.do(ctx, http.MethodPut, "/api/progress/save", req, &save); err != nil {
		return nil, err
	}
	return &save, nil
}

// Load 读取存档槽，服务端同时恢复好感度
func (c *Client) Load(ctx context.Context, slot int) (*models.SaveSlot, error) {
	var save models.SaveSlot
	if err := c.do(ctx, http.MethodGet, "/api/progress/save?slot="+strconv.Itoa(slot), nil, &save); err != nil {
		return nil, err
	}
	return &save, nil
}
