package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	apperrors "github.com/wfunc/coin-hopper/internal/errors"
	"github.com/wfunc/coin-hopper/internal/ledger"
	"github.com/wfunc/coin-hopper/internal/models"
	"github.com/wfunc/coin-hopper/internal/repository"
	"github.com/wfunc/coin-hopper/internal/service"
)

// LogHandler 系统日志与出币记录查询
type LogHandler struct {
	controller Controller
	recorder   *service.Recorder
}

// NewLogHandler 创建日志处理器，recorder 为空时只提供内存日志
func NewLogHandler(controller Controller, recorder *service.Recorder) *LogHandler {
	return &LogHandler{
		controller: controller,
		recorder:   recorder,
	}
}

// LogsResponse 内存日志响应
type LogsResponse struct {
	Entries []ledger.Entry `json:"entries"`
	LastSeq uint64         `json:"last_seq"`
}

// ListResponse 分页列表响应
type ListResponse struct {
	Items      interface{}            `json:"items"`
	Pagination *repository.Pagination `json:"pagination"`
}

// GetLogs 查询内存窗口内序号大于 since 的日志
func (h *LogHandler) GetLogs(c *gin.Context) {
	var since uint64
	if s := c.Query("since"); s != "" {
		v, err := strconv.ParseUint(s, 10, 64)
		if err != nil {
			respondError(c, apperrors.Newf(apperrors.ErrInvalidParam, "invalid since %q", s))
			return
		}
		since = v
	}

	syslog := h.controller.Log()
	c.JSON(http.StatusOK, LogsResponse{
		Entries: syslog.Since(since),
		LastSeq: syslog.LastSeq(),
	})
}

// GetHistory 查询持久化的系统日志
func (h *LogHandler) GetHistory(c *gin.Context) {
	start, end, err := parseTimeRange(c)
	if err != nil {
		respondError(c, err)
		return
	}

	query := &models.EventLogQuery{
		Kind:      c.Query("kind"),
		BootID:    c.Query("boot_id"),
		StartTime: start,
		EndTime:   end,
	}
	pagination := parsePagination(c)

	logs, err := h.recorder.EventLogs(c.Request.Context(), query, pagination)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, ListResponse{Items: logs, Pagination: pagination})
}

// GetPayouts 查询出币记录
func (h *LogHandler) GetPayouts(c *gin.Context) {
	start, end, err := parseTimeRange(c)
	if err != nil {
		respondError(c, err)
		return
	}

	query := &models.PayoutRecordQuery{
		Outcome:   c.Query("outcome"),
		StartTime: start,
		EndTime:   end,
	}
	pagination := parsePagination(c)

	records, err := h.recorder.PayoutRecords(c.Request.Context(), query, pagination)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, ListResponse{Items: records, Pagination: pagination})
}

// GetPayout 按出币ID查询记录
func (h *LogHandler) GetPayout(c *gin.Context) {
	record, err := h.recorder.PayoutRecord(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, record)
}

// GetPayoutStats 出币统计
func (h *LogHandler) GetPayoutStats(c *gin.Context) {
	start, end, err := parseTimeRange(c)
	if err != nil {
		respondError(c, err)
		return
	}

	stats, err := h.recorder.PayoutStats(c.Request.Context(), start, end)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

// CleanupHistory 删除 days 天之前的持久化系统日志
func (h *LogHandler) CleanupHistory(c *gin.Context) {
	days, err := strconv.Atoi(c.DefaultQuery("days", "30"))
	if err != nil || days < 1 {
		respondError(c, apperrors.New(apperrors.ErrInvalidParam, "days must be a positive integer"))
		return
	}

	deleted, err := h.recorder.CleanupEventLogs(c.Request.Context(), days)
	if err != nil {
		respondError(c, apperrors.Wrap(err, apperrors.ErrDatabaseQuery))
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"deleted": deleted,
		"days":    days,
	})
}

// parsePagination 解析分页参数，非法值使用默认值
func parsePagination(c *gin.Context) *repository.Pagination {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "10"))
	return repository.NewPagination(page, pageSize)
}

// parseTimeRange 解析 RFC3339 格式的 start_time/end_time
func parseTimeRange(c *gin.Context) (start, end *time.Time, err error) {
	if s := c.Query("start_time"); s != "" {
		t, perr := time.Parse(time.RFC3339, s)
		if perr != nil {
			return nil, nil, apperrors.Newf(apperrors.ErrInvalidParam, "invalid start_time %q", s)
		}
		start = &t
	}
	if s := c.Query("end_time"); s != "" {
		t, perr := time.Parse(time.RFC3339, s)
		if perr != nil {
			return nil, nil, apperrors.Newf(apperrors.ErrInvalidParam, "invalid end_time %q", s)
		}
		end = &t
	}
	return start, end, nil
}
