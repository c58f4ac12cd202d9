package handler

import (
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/d60-Lab/shieldcomment/internal/cache"
	"github.com/d60-Lab/shieldcomment/internal/repository"
	"github.com/d60-Lab/shieldcomment/pkg/response"
)

// Handler 审核状态只读接口（提交侧的 CRUD 由上游服务负责）
type Handler struct {
	repo  repository.ModerationRepository
	cache *cache.StatusCache
}

func New(repo repository.ModerationRepository, statusCache *cache.StatusCache) *Handler {
	return &Handler{repo: repo, cache: statusCache}
}

// Register mounts the read-only moderation routes.
func (h *Handler) Register(r *gin.Engine) {
	r.GET("/healthz", h.Health)
	v1 := r.Group("/api/v1/moderation")
	v1.GET("/users/:user_id", h.UserStatus)
	v1.GET("/recent", h.Recent)
	v1.GET("/stats", h.Stats)
}

// UserStatus 查询用户的审核状态
// @Summary 用户审核状态（提交侧封禁判定用）
// @Param user_id path int true "用户ID"
// @Success 200 {object} response.Response{data=cache.UserStatus}
// @Router /api/v1/moderation/users/{user_id} [get]
func (h *Handler) UserStatus(c *gin.Context) {
	userID, err := strconv.ParseInt(c.Param("user_id"), 10, 64)
	if err != nil {
		response.BadRequest(c, "invalid user_id")
		return
	}

	if h.cache != nil {
		if st, ok := h.cache.Get(c.Request.Context(), userID); ok {
			response.Success(c, st)
			return
		}
	}

	user, err := h.repo.GetUserState(c.Request.Context(), userID)
	if err != nil {
		response.InternalError(c, err)
		return
	}
	st := cache.StatusFromUser(user)
	if h.cache != nil {
		h.cache.Set(c.Request.Context(), st)
	}
	response.Success(c, st)
}

// Recent 最近的分析记录
// @Summary 最近分析记录
// @Param limit query int false "数量" default(20)
// @Success 200 {object} response.Response
// @Router /api/v1/moderation/recent [get]
func (h *Handler) Recent(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	records, err := h.repo.RecentAnalyses(c.Request.Context(), limit)
	if err != nil {
		response.InternalError(c, err)
		return
	}
	response.Success(c, gin.H{"list": records})
}

// Stats 按分类统计
// @Summary 毒性分类统计
// @Success 200 {object} response.Response
// @Router /api/v1/moderation/stats [get]
func (h *Handler) Stats(c *gin.Context) {
	stats, err := h.repo.ClassificationStats(c.Request.Context())
	if err != nil {
		response.InternalError(c, err)
		return
	}
	response.Success(c, stats)
}

func (h *Handler) Health(c *gin.Context) {
	response.Success(c, gin.H{"status": "ok"})
}
