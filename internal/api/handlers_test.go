package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/aiwuxian/codelove/internal/models"
	"github.com/aiwuxian/codelove/internal/services"
	"github.com/aiwuxian/codelove/internal/storage"
)

type stubJudge struct {
	err error
}

func (j stubJudge) Name() string { return "stub" }

func (j stubJudge) Run(_ context.Context, problem models.Problem, _ int, source string) ([]models.TestResult, error) {
	if j.err != nil {
		return nil, j.err
	}
	results := make([]models.TestResult, 0, len(problem.TestCases))
	for _, tc := range problem.TestCases {
		results = append(results, models.TestResult{OK: strings.TrimSpace(source) == tc.Expected, Input: tc.Input, Expected: tc.Expected})
	}
	return results, nil
}

func intp(v int) *int { return &v }

func newTestRouter(t *testing.T, judge services.Judge, token string) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	store, err := storage.New(filepath.Join(t.TempDir(), "api.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	log := zaptest.NewLogger(t)
	rules := services.NewRuleEngine(models.GameConfig{PassAffinity: 5, FailAffinity: -2, MaxAffinity: 100, StartAffinity: 50})
	stories := services.NewStoryService(store, log)
	meta := services.NewMetaService(store, rules, log)

	require.NoError(t, stories.Upsert(&models.Story{
		ID:       "1",
		Title:    "初遇",
		Heroines: []models.Heroine{{Name: "林晓", Language: "python"}},
		Problems: []models.Problem{{ID: "p1", Title: "输出3", TestCases: []models.TestCase{{Input: "", Expected: "3"}}}},
		Script: []models.ScriptNode{
			{Index: 0, Type: models.NodeDialogue, Speaker: "林晓", Text: "你好"},
			{Index: 1, Type: models.NodeChoice, Choices: []models.Choice{
				{Text: "好", HeroineName: "林晓", AffinityDelta: intp(3), TargetIndex: intp(2)},
				{Text: "去天台", BranchStoryID: "2"},
			}},
			{Index: 2, Type: models.NodeProblem, Speaker: "林晓", Meta: models.Meta{ProblemID: "p1"}},
		},
		EndingRoutes:  map[string]models.StoryID{"林晓": "2"},
		DefaultEnding: "2",
	}))
	require.NoError(t, stories.Upsert(&models.Story{ID: "2", Title: "天台"}))

	h := NewHandler(
		stories,
		services.NewChoiceService(stories, meta, log),
		services.NewJudgeService(judge, stories, meta, rules, store, log),
		services.NewRouteService(stories, meta, rules, log),
		meta,
		log,
	)
	return NewRouter(h, models.ServerConfig{APIToken: token}, log)
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
}

func do(t *testing.T, r http.Handler, method, path, body string, headers ...string) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(PlayerHeader, "p")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	var env envelope
	if strings.HasPrefix(path, "/api") {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env), w.Body.String())
	}
	return w, env
}

func TestStoryEndpoints(t *testing.T) {
	r := newTestRouter(t, stubJudge{}, "")

	w, env := do(t, r, http.MethodGet, "/api/stories", "")
	assert.Equal(t, http.StatusOK, w.Code)
	var list []models.StoryMeta
	require.NoError(t, json.Unmarshal(env.Data, &list))
	assert.Len(t, list, 2)

	w, env = do(t, r, http.MethodGet, "/api/stories/1", "")
	assert.Equal(t, http.StatusOK, w.Code)
	var meta models.StoryMeta
	require.NoError(t, json.Unmarshal(env.Data, &meta))
	assert.Equal(t, "林晓", meta.Heroines[0].Name)
	assert.Equal(t, "p1", meta.Problems[0].ID)

	w, env = do(t, r, http.MethodGet, "/api/stories/1/script", "")
	assert.Equal(t, http.StatusOK, w.Code)
	var nodes []models.ScriptNode
	require.NoError(t, json.Unmarshal(env.Data, &nodes))
	assert.Len(t, nodes, 3)

	w, env = do(t, r, http.MethodGet, "/api/stories/404", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.False(t, env.Success)
	assert.NotEmpty(t, env.Error)
}

func TestChoiceEndpoint(t *testing.T) {
	r := newTestRouter(t, stubJudge{}, "")

	w, env := do(t, r, http.MethodPost, "/api/choices/select", `{"storyId":1,"currentLineIndex":1,"choiceIndex":0}`)
	require.Equal(t, http.StatusOK, w.Code)
	var d models.ChoiceDecision
	require.NoError(t, json.Unmarshal(env.Data, &d))
	assert.Equal(t, models.ActionNavigate, d.Action)
	require.NotNil(t, d.TargetIndex)
	assert.Equal(t, 2, *d.TargetIndex)
	require.NotNil(t, d.LikeValue)
	assert.Equal(t, 53, *d.LikeValue)

	_, env = do(t, r, http.MethodPost, "/api/choices/select", `{"storyId":"1","currentLineIndex":1,"choiceIndex":1}`)
	require.NoError(t, json.Unmarshal(env.Data, &d))
	assert.Equal(t, models.ActionBranch, d.Action)
	assert.Equal(t, models.StoryID("2"), d.StoryID)

	w, _ = do(t, r, http.MethodPost, "/api/choices/select", `{"choiceIndex":1}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSubmitEndpoint(t *testing.T) {
	r := newTestRouter(t, stubJudge{}, "")

	w, env := do(t, r, http.MethodPost, "/api/problems/1/submit-code", `{"nodeIndex":2,"problemId":"p1","sourceCode":"3","languageId":71}`)
	require.Equal(t, http.StatusOK, w.Code)
	var res models.SubmissionResult
	require.NoError(t, json.Unmarshal(env.Data, &res))
	assert.True(t, res.Passed)
	require.Len(t, res.AppliedAffinities, 1)
	assert.Equal(t, 55, res.AppliedAffinities[0].LikeValue)

	w, env = do(t, r, http.MethodGet, "/api/submissions", "")
	assert.Equal(t, http.StatusOK, w.Code)
	var subs []models.Submission
	require.NoError(t, json.Unmarshal(env.Data, &subs))
	assert.Len(t, subs, 1)

	w, _ = do(t, r, http.MethodPost, "/api/problems/1/submit-code", `{"problemId":"nope","sourceCode":"3"}`)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestSubmitEndpointJudgeDown(t *testing.T) {
	r := newTestRouter(t, stubJudge{err: assert.AnError}, "")

	w, env := do(t, r, http.MethodPost, "/api/problems/1/submit-code", `{"problemId":"p1","sourceCode":"3"}`)
	assert.Equal(t, http.StatusBadGateway, w.Code)
	assert.False(t, env.Success)
}

func TestEndingEndpoint(t *testing.T) {
	r := newTestRouter(t, stubJudge{}, "")

	w, env := do(t, r, http.MethodPost, "/api/endings/resolve", `{"storyId":"1"}`)
	require.Equal(t, http.StatusOK, w.Code)
	var res models.EndingResult
	require.NoError(t, json.Unmarshal(env.Data, &res))
	assert.Equal(t, models.StoryID("2"), res.StoryID)
	assert.Equal(t, "林晓", res.Heroine)
}

func TestSaveEndpoints(t *testing.T) {
	r := newTestRouter(t, stubJudge{}, "")

	w, env := do(t, r, http.MethodPut, "/api/progress/save", `{"slot":2,"storyId":"1","lineIndex":2,"heroineLikes":[{"heroine":"林晓","likeValue":70}]}`)
	require.Equal(t, http.StatusOK, w.Code)
	var save models.SaveSlot
	require.NoError(t, json.Unmarshal(env.Data, &save))
	assert.Equal(t, 2, save.Slot)
	assert.NotEmpty(t, save.ID)

	w, env = do(t, r, http.MethodGet, "/api/progress/save?slot=2", "")
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(env.Data, &save))
	assert.Equal(t, 2, save.LineIndex)

	_, env = do(t, r, http.MethodGet, "/api/affinities", "")
	var likes []models.HeroineLike
	require.NoError(t, json.Unmarshal(env.Data, &likes))
	assert.Equal(t, []models.HeroineLike{{Heroine: "林晓", LikeValue: 70}}, likes)

	_, env = do(t, r, http.MethodGet, "/api/progress/saves", "")
	var saves []models.SaveSlot
	require.NoError(t, json.Unmarshal(env.Data, &saves))
	assert.Len(t, saves, 1)

	w, _ = do(t, r, http.MethodGet, "/api/progress/save?slot=x", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, _ = do(t, r, http.MethodDelete, "/api/progress/save?slot=2", "")
	assert.Equal(t, http.StatusOK, w.Code)
	w, _ = do(t, r, http.MethodGet, "/api/progress/save?slot=2", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestTokenAuth(t *testing.T) {
	r := newTestRouter(t, stubJudge{}, "s3cret")

	w, env := do(t, r, http.MethodGet, "/api/stories", "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.False(t, env.Success)

	w, _ = do(t, r, http.MethodGet, "/api/stories", "", "Authorization", "Bearer wrong")
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w, _ = do(t, r, http.MethodGet, "/api/stories", "", "Authorization", "Bearer s3cret")
	assert.Equal(t, http.StatusOK, w.Code)

	// 健康检查不需要 token
	w, _ = do(t, r, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRequestIDHeader(t *testing.T) {
	r := newTestRouter(t, stubJudge{}, "")

	w, _ := do(t, r, http.MethodGet, "/api/stories", "")
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))

	w, _ = do(t, r, http.MethodGet, "/api/stories", "", "X-Request-ID", "abc")
	assert.Equal(t, "abc", w.Header().Get("X-Request-ID"))

	w, _ = do(t, r, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, w.Header().Get("X-Request-ID"))
}
