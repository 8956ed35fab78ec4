package api

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	apperrors "github.com/wfunc/coin-hopper/internal/errors"
	"github.com/wfunc/coin-hopper/internal/models"
	"github.com/wfunc/coin-hopper/internal/service"
)

// SerialLogAPI 串口日志API
type SerialLogAPI struct {
	service *service.SerialLogService
}

// NewSerialLogAPI 创建串口日志API
func NewSerialLogAPI(service *service.SerialLogService) *SerialLogAPI {
	return &SerialLogAPI{
		service: service,
	}
}

// RegisterRoutes 注册路由，清理接口需要管理权限
func (api *SerialLogAPI) RegisterRoutes(router *gin.RouterGroup, guard gin.HandlerFunc) {
	logs := router.Group("/serial-logs")
	{
		logs.GET("", api.QueryLogs)                   // 查询日志列表
		logs.POST("/cleanup", guard, api.CleanupLogs) // 清理旧日志
	}
}

// QueryLogs 查询日志列表
func (api *SerialLogAPI) QueryLogs(c *gin.Context) {
	start, end, err := parseTimeRange(c)
	if err != nil {
		respondError(c, err)
		return
	}

	query := &models.SerialLogQuery{
		Direction: c.Query("direction"),
		SessionID: c.Query("session_id"),
		StartTime: start,
		EndTime:   end,
	}

	// 命令码支持 0x12 或 18
	if cmd := c.Query("command"); cmd != "" {
		v, err := strconv.ParseUint(cmd, 0, 8)
		if err != nil {
			respondError(c, apperrors.Newf(apperrors.ErrInvalidParam, "invalid command %q", cmd))
			return
		}
		query.Command = fmt.Sprintf("0x%02X", v)
	}

	query.Limit, _ = strconv.Atoi(c.DefaultQuery("limit", "100"))
	query.Offset, _ = strconv.Atoi(c.DefaultQuery("offset", "0"))

	logs, total, err := api.service.Query(c.Request.Context(), query)
	if err != nil {
		respondError(c, apperrors.Wrap(err, apperrors.ErrDatabaseQuery))
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"items":      logs,
		"total":      total,
		"session_id": api.service.SessionID(),
	})
}

// CleanupLogs 清理 days 天之前的日志
func (api *SerialLogAPI) CleanupLogs(c *gin.Context) {
	days, err := strconv.Atoi(c.DefaultQuery("days", "7"))
	if err != nil || days < 1 {
		respondError(c, apperrors.New(apperrors.ErrInvalidParam, "days must be a positive integer"))
		return
	}

	deleted, err := api.service.CleanupOldLogs(c.Request.Context(), days)
	if err != nil {
		respondError(c, apperrors.Wrap(err, apperrors.ErrDatabaseQuery))
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"deleted": deleted,
		"days":    days,
	})
}
