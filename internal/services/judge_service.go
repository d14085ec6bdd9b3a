package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/aiwuxian/codelove/internal/models"
	"github.com/aiwuxian/codelove/internal/storage"
)

// ErrJudgeUnavailable 评测后端失败
var ErrJudgeUnavailable = errors.New("评测服务不可用")

// Judge 运行代码并逐个比对测试用例
type Judge interface {
	Name() string
	Run(ctx context.Context, problem models.Problem, languageID int, source string) ([]models.TestResult, error)
}

// JudgeService 处理代码提交：评测、发放好感度、记录
type JudgeService struct {
	judge   Judge
	stories *StoryService
	meta    *MetaService
	rules   *RuleEngine
	storage *storage.Storage
	log     *zap.Logger
}

func NewJudgeService(judge Judge, stories *StoryService, meta *MetaService, rules *RuleEngine,
	storage *storage.Storage, log *zap.Logger) *JudgeService {
	return &JudgeService{
		judge:   judge,
		stories: stories,
		meta:    meta,
		rules:   rules,
		storage: storage,
		log:     log.Named("judge"),
	}
}

// Submit 评测一次提交
func (js *JudgeService) Submit(ctx context.Context, playerID string, req models.SubmissionRequest) (*models.SubmissionResult, error) {
	story, err := js.stories.Get(req.StoryID)
	if err != nil {
		return nil, err
	}
	problem, ok := FindProblem(story, req.ProblemID)
	if !ok {
		return nil, fmt.Errorf("题目 %s: %w", req.ProblemID, models.ErrNotFound)
	}

	language := req.LanguageID
	if language <= 0 {
		language = problem.LanguageID
	}
	if language <= 0 {
		language = models.LanguagePython
	}

	results, err := js.judge.Run(ctx, *problem, language, req.SourceCode)
	if err != nil {
		js.log.Warn("评测失败",
			zap.String("judge", js.judge.Name()),
			zap.String("problem_id", problem.ID),
			zap.Error(err))
		return nil, fmt.Errorf("%w: %w", ErrJudgeUnavailable, err)
	}

	result := &models.SubmissionResult{
		ID:                uuid.New().String(),
		Passed:            allPassed(results),
		TestResults:       results,
		AppliedAffinities: []models.AppliedAffinity{},
	}

	speaker := ""
	if node, ok := FindNode(story, req.NodeIndex); ok {
		speaker = node.Speaker
	}
	if heroine := js.rules.RewardHeroine(story, problem, speaker); heroine != "" {
		if delta := js.rules.SubmissionDelta(result.Passed); delta != 0 {
			applied, err := js.meta.ApplyAffinity(playerID, heroine, delta)
			if err != nil {
				return nil, err
			}
			result.AppliedAffinities = append(result.AppliedAffinities, *applied)
		}
	}

	record := &models.Submission{
		ID:         result.ID,
		PlayerID:   playerID,
		StoryID:    story.ID,
		ProblemID:  problem.ID,
		LanguageID: language,
		Passed:     result.Passed,
		OKCount:    result.OKCount(),
		Total:      len(results),
	}
	if err := js.storage.CreateSubmission(record); err != nil {
		js.log.Error("保存评测记录失败", zap.String("id", record.ID), zap.Error(err))
	}

	js.log.Info("评测完成",
		zap.String("player_id", playerID),
		zap.String("problem_id", problem.ID),
		zap.Int("language_id", language),
		zap.Bool("passed", result.Passed),
		zap.Int("ok", record.OKCount),
		zap.Int("total", record.Total))

	return result, nil
}

// History 玩家的评测记录
func (js *JudgeService) History(playerID string) ([]models.Submission, error) {
	subs, err := js.storage.ListSubmissions(playerID)
	if err != nil {
		return nil, err
	}
	if subs == nil {
		subs = []models.Submission{}
	}
	return subs, nil
}

func allPassed(results []models.TestResult) bool {
	if len(results) == 0 {
		return false
	}
	for _, r := range results {
		if !r.OK {
			return false
		}
	}
	return true
}
