package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/aiwuxian/codelove/internal/models"
	"github.com/aiwuxian/codelove/internal/services"
)

// PlayerHeader 玩家标识请求头
const PlayerHeader = "X-Player-ID"

const defaultPlayer = "default"

type Handler struct {
	storyService  *services.StoryService
	choiceService *services.ChoiceService
	judgeService  *services.JudgeService
	routeService  *services.RouteService
	metaService   *services.MetaService
	log           *zap.Logger
}

func NewHandler(storyService *services.StoryService, choiceService *services.ChoiceService,
	judgeService *services.JudgeService, routeService *services.RouteService,
	metaService *services.MetaService, log *zap.Logger) *Handler {
	return &Handler{
		storyService:  storyService,
		choiceService: choiceService,
		judgeService:  judgeService,
		routeService:  routeService,
		metaService:   metaService,
		log:           log.Named("api"),
	}
}

func ok(c *gin.Context, data any) {
	c.JSON(http.StatusOK, gin.H{"success": true, "data": data})
}

func fail(c *gin.Context, status int, msg string) {
	c.AbortWithStatusJSON(status, gin.H{"success": false, "error": msg})
}

// handleServiceError 把服务层错误映射成状态码
func (h *Handler) handleServiceError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, models.ErrNotFound):
		fail(c, http.StatusNotFound, err.Error())
	case errors.Is(err, services.ErrJudgeUnavailable):
		fail(c, http.StatusBadGateway, err.Error())
	default:
		c.Error(err)
		fail(c, http.StatusInternalServerError, "服务器内部错误")
	}
}

func playerID(c *gin.Context) string {
	if id := c.GetHeader(PlayerHeader); id != "" {
		return id
	}
	return defaultPlayer
}

// ListStories 故事列表
func (h *Handler) ListStories(c *gin.Context) {
	stories, err := h.storyService.List()
	if err != nil {
		h.handleServiceError(c, err)
		return
	}
	ok(c, stories)
}

// GetStory 故事元信息（角色、题目、背景）
func (h *Handler) GetStory(c *gin.Context) {
	meta, err := h.storyService.Meta(models.StoryID(c.Param("id")))
	if err != nil {
		h.handleServiceError(c, err)
		return
	}
	ok(c, meta)
}

// GetScript 剧本节点列表
func (h *Handler) GetScript(c *gin.Context) {
	script, err := h.storyService.Script(models.StoryID(c.Param("id")))
	if err != nil {
		h.handleServiceError(c, err)
		return
	}
	ok(c, script)
}

// SelectChoice 服务器裁决选项
func (h *Handler) SelectChoice(c *gin.Context) {
	var req models.ChoiceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "参数错误")
		return
	}

	decision, err := h.choiceService.Select(playerID(c), req)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}
	choicesTotal.WithLabelValues(string(decision.Action)).Inc()
	ok(c, decision)
}

// SubmitCode 提交代码评测
func (h *Handler) SubmitCode(c *gin.Context) {
	var req models.SubmissionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "参数错误")
		return
	}
	req.StoryID = models.StoryID(c.Param("storyId"))

	result, err := h.judgeService.Submit(c.Request.Context(), playerID(c), req)
	if err != nil {
		submissionsTotal.WithLabelValues("error").Inc()
		h.handleServiceError(c, err)
		return
	}
	if result.Passed {
		submissionsTotal.WithLabelValues("passed").Inc()
	} else {
		submissionsTotal.WithLabelValues("failed").Inc()
	}
	ok(c, result)
}

// ResolveEnding 按好感度选择结局
func (h *Handler) ResolveEnding(c *gin.Context) {
	var req models.EndingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "参数错误")
		return
	}

	result, err := h.routeService.ResolveEnding(playerID(c), req.StoryID)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}
	endingsTotal.WithLabelValues(result.Heroine).Inc()
	ok(c, result)
}

// ListAffinities 当前好感度
func (h *Handler) ListAffinities(c *gin.Context) {
	likes, err := h.metaService.Affinities(playerID(c))
	if err != nil {
		h.handleServiceError(c, err)
		return
	}
	ok(c, likes)
}

// ListSubmissions 评测记录
func (h *Handler) ListSubmissions(c *gin.Context) {
	subs, err := h.judgeService.History(playerID(c))
	if err != nil {
		h.handleServiceError(c, err)
		return
	}
	ok(c, subs)
}

// ListSaves 存档列表
func (h *Handler) ListSaves(c *gin.Context) {
	saves, err := h.metaService.ListSaves(playerID(c))
	if err != nil {
		h.handleServiceError(c, err)
		return
	}
	ok(c, saves)
}

// SaveGame 写入存档槽
func (h *Handler) SaveGame(c *gin.Context) {
	var req models.SaveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "参数错误")
		return
	}
	if req.Slot < 0 {
		fail(c, http.StatusBadRequest, "存档槽无效")
		return
	}

	save, err := h.metaService.Save(playerID(c), req)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}
	ok(c, save)
}

// LoadGame 读取存档槽
func (h *Handler) LoadGame(c *gin.Context) {
	slot, valid := slotParam(c)
	if !valid {
		return
	}

	save, err := h.metaService.Load(playerID(c), slot)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}
	ok(c, save)
}

// DeleteSave 删除存档槽
func (h *Handler) DeleteSave(c *gin.Context) {
	slot, valid := slotParam(c)
	if !valid {
		return
	}

	if err := h.metaService.DeleteSave(playerID(c), slot); err != nil {
		h.handleServiceError(c, err)
		return
	}
	ok(c, gin.H{"slot": slot})
}

func slotParam(c *gin.Context) (int, bool) {
	slot, err := strconv.Atoi(c.DefaultQuery("slot", "0"))
	if err != nil || slot < 0 {
		fail(c, http.StatusBadRequest, "存档槽无效")
		return 0, false
	}
	return slot, true
}
