// Package httpapi 提供规则管理与运行状态查询的 HTTP 接口
package httpapi

import (
	"context"
	"log"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"sms-forwarder/internal/modem"
	"sms-forwarder/internal/push"
	"sms-forwarder/internal/sms"
	"sms-forwarder/internal/store"
)

// ==================== 数据模型定义 ====================

// UnifiedResponse 统一的 API 响应格式
type UnifiedResponse struct {
	Code int         `json:"code"`
	Data interface{} `json:"data,omitempty"`
	Msg  string      `json:"msg"`
}

// TestMatchRequest 规则匹配试算请求
type TestMatchRequest struct {
	RuleID  int64  `json:"rule_id" binding:"required"`
	Sender  string `json:"sender" binding:"required"`
	Content string `json:"content"`
}

// ReForwardRequest 手动重推请求
type ReForwardRequest struct {
	RuleID   int64 `json:"rule_id" binding:"required"`
	RecordID int64 `json:"record_id" binding:"required"`
}

// ChannelInfo 通道目录条目
type ChannelInfo struct {
	Name          string `json:"name"`
	Description   string `json:"description"`
	ConfigExample string `json:"config_example"`
}

// ==================== 服务接口 ====================

// Diagnoser 模块诊断接口
type Diagnoser interface {
	Diagnose() modem.Report
}

// ForwardService 转发引擎接口
// 解耦 HTTP 层与业务实现
type ForwardService interface {
	TestMatch(ctx context.Context, ruleID int64, sender, content string) (bool, error)
	ForwardWithRule(ctx context.Context, ruleID int64, msg push.CompletedMessage) push.RuleOutcome
}

// ReceiveStatsProvider 接收管线计数接口
type ReceiveStatsProvider interface {
	Stats() sms.ReceiveStats
}

// ==================== Handler 处理器 ====================

// Handler 管理接口处理器
type Handler struct {
	rules     store.RuleStore
	records   store.RecordStore
	registry  *push.Registry
	forwarder ForwardService
	receiver  ReceiveStatsProvider
	diagnoser Diagnoser
}

// NewHandler 创建管理接口处理器
func NewHandler(
	rules store.RuleStore,
	records store.RecordStore,
	registry *push.Registry,
	forwarder ForwardService,
	receiver ReceiveStatsProvider,
	diagnoser Diagnoser,
) *Handler {
	return &Handler{
		rules:     rules,
		records:   records,
		registry:  registry,
		forwarder: forwarder,
		receiver:  receiver,
		diagnoser: diagnoser,
	}
}

// RegisterRoutes 注册全部管理接口路由
func (handler *Handler) RegisterRoutes(engine *gin.Engine) {
	engine.Use(corsMiddleware())

	api := engine.Group("/api/v1")
	{
		api.GET("/rules", handler.handleListRules)
		api.POST("/rules", handler.handleAddRule)
		api.PUT("/rules/:id", handler.handleUpdateRule)
		api.DELETE("/rules/:id", handler.handleDeleteRule)
		api.POST("/rules/:id/enable", handler.handleEnableRule)
		api.POST("/rules/:id/disable", handler.handleDisableRule)
		api.POST("/rules/test-match", handler.handleTestMatch)

		api.GET("/records", handler.handleListRecords)
		api.POST("/records/re-forward", handler.handleReForward)

		api.GET("/channels", handler.handleListChannels)
		api.GET("/status/receive", handler.handleReceiveStats)
		api.GET("/status/diagnose", handler.handleDiagnose)
	}
}

// ==================== 处理器 - 规则相关 ====================

// handleListRules 查询全部规则
func (handler *Handler) handleListRules(context *gin.Context) {
	rules, err := handler.rules.ListRules(context.Request.Context())
	if err != nil {
		log.Printf("[API] 查询规则失败: %v", err)
		sendErrorResponse(context, http.StatusInternalServerError, "查询规则失败")
		return
	}
	sendSuccessResponse(context, rules)
}

// handleAddRule 新增规则
// 通道名称必须已注册,拒绝写入指向不存在通道的规则
func (handler *Handler) handleAddRule(context *gin.Context) {
	var rule store.Rule
	if err := context.ShouldBindJSON(&rule); err != nil {
		sendErrorResponse(context, http.StatusBadRequest, "请求格式错误: "+err.Error())
		return
	}
	if handler.registry.Resolve(rule.ChannelName) == nil {
		sendErrorResponse(context, http.StatusBadRequest, "通道未注册: "+rule.ChannelName)
		return
	}

	id, err := handler.rules.AddRule(context.Request.Context(), rule)
	if err != nil {
		log.Printf("[API] 新增规则失败: %v", err)
		sendErrorResponse(context, http.StatusInternalServerError, "新增规则失败")
		return
	}
	sendSuccessResponse(context, map[string]interface{}{"id": id})
}

// handleUpdateRule 更新规则
func (handler *Handler) handleUpdateRule(context *gin.Context) {
	id, ok := parseIDParam(context)
	if !ok {
		return
	}

	var rule store.Rule
	if err := context.ShouldBindJSON(&rule); err != nil {
		sendErrorResponse(context, http.StatusBadRequest, "请求格式错误: "+err.Error())
		return
	}
	rule.ID = id

	if handler.registry.Resolve(rule.ChannelName) == nil {
		sendErrorResponse(context, http.StatusBadRequest, "通道未注册: "+rule.ChannelName)
		return
	}

	updated, err := handler.rules.UpdateRule(context.Request.Context(), rule)
	if err != nil {
		log.Printf("[API] 更新规则失败: %v", err)
		sendErrorResponse(context, http.StatusInternalServerError, "更新规则失败")
		return
	}
	if !updated {
		sendErrorResponse(context, http.StatusNotFound, "规则不存在")
		return
	}
	sendSuccessResponse(context, nil)
}

// handleDeleteRule 删除规则
func (handler *Handler) handleDeleteRule(context *gin.Context) {
	id, ok := parseIDParam(context)
	if !ok {
		return
	}

	deleted, err := handler.rules.DeleteRule(context.Request.Context(), id)
	if err != nil {
		log.Printf("[API] 删除规则失败: %v", err)
		sendErrorResponse(context, http.StatusInternalServerError, "删除规则失败")
		return
	}
	if !deleted {
		sendErrorResponse(context, http.StatusNotFound, "规则不存在")
		return
	}
	sendSuccessResponse(context, nil)
}

// handleEnableRule 启用规则
func (handler *Handler) handleEnableRule(context *gin.Context) {
	handler.setRuleEnabled(context, true)
}

// handleDisableRule 停用规则
func (handler *Handler) handleDisableRule(context *gin.Context) {
	handler.setRuleEnabled(context, false)
}

// setRuleEnabled 启用/停用规则的公共逻辑
func (handler *Handler) setRuleEnabled(context *gin.Context, enabled bool) {
	id, ok := parseIDParam(context)
	if !ok {
		return
	}

	updated, err := handler.rules.SetRuleEnabled(context.Request.Context(), id, enabled)
	if err != nil {
		log.Printf("[API] 切换规则状态失败: %v", err)
		sendErrorResponse(context, http.StatusInternalServerError, "切换规则状态失败")
		return
	}
	if !updated {
		sendErrorResponse(context, http.StatusNotFound, "规则不存在")
		return
	}
	sendSuccessResponse(context, map[string]interface{}{"enabled": enabled})
}

// handleTestMatch 规则匹配试算
// 只做匹配判定,不触发真实推送
func (handler *Handler) handleTestMatch(context *gin.Context) {
	var request TestMatchRequest
	if err := context.ShouldBindJSON(&request); err != nil {
		sendErrorResponse(context, http.StatusBadRequest, "参数验证失败: "+err.Error())
		return
	}

	matched, err := handler.forwarder.TestMatch(
		context.Request.Context(), request.RuleID, request.Sender, request.Content)
	if err != nil {
		sendErrorResponse(context, http.StatusBadRequest, err.Error())
		return
	}
	sendSuccessResponse(context, map[string]interface{}{"matched": matched})
}

// ==================== 处理器 - 记录相关 ====================

// handleListRecords 查询短信记录
func (handler *Handler) handleListRecords(context *gin.Context) {
	limit, err := strconv.ParseInt(context.DefaultQuery("limit", "20"), 10, 64)
	if err != nil || limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}

	records, err := handler.records.ListRecords(context.Request.Context(), limit)
	if err != nil {
		log.Printf("[API] 查询短信记录失败: %v", err)
		sendErrorResponse(context, http.StatusInternalServerError, "查询短信记录失败")
		return
	}
	sendSuccessResponse(context, records)
}

// handleReForward 按指定规则手动重推一条历史短信
func (handler *Handler) handleReForward(context *gin.Context) {
	var request ReForwardRequest
	if err := context.ShouldBindJSON(&request); err != nil {
		sendErrorResponse(context, http.StatusBadRequest, "参数验证失败: "+err.Error())
		return
	}

	record, err := handler.records.GetRecordByID(context.Request.Context(), request.RecordID)
	if err != nil {
		log.Printf("[API] 查询短信记录失败: %v", err)
		sendErrorResponse(context, http.StatusInternalServerError, "查询短信记录失败")
		return
	}
	if record == nil {
		sendErrorResponse(context, http.StatusNotFound, "短信记录不存在")
		return
	}

	outcome := handler.forwarder.ForwardWithRule(context.Request.Context(), request.RuleID, push.CompletedMessage{
		Sender:       record.Sender,
		Content:      record.Content,
		TimestampRaw: record.ReceivedAt,
		RecordID:     record.ID,
	})
	sendSuccessResponse(context, outcome)
}

// ==================== 处理器 - 状态相关 ====================

// handleListChannels 通道目录
func (handler *Handler) handleListChannels(context *gin.Context) {
	names := handler.registry.Names()
	channels := make([]ChannelInfo, 0, len(names))
	for _, name := range names {
		channel := handler.registry.Create(name)
		channels = append(channels, ChannelInfo{
			Name:          name,
			Description:   channel.Describe(),
			ConfigExample: channel.ValidateConfigExample(),
		})
	}
	sendSuccessResponse(context, channels)
}

// handleReceiveStats 接收管线计数
func (handler *Handler) handleReceiveStats(context *gin.Context) {
	sendSuccessResponse(context, handler.receiver.Stats())
}

// handleDiagnose 模块健康诊断
// 会占用串口执行探测命令,仅限人工排障时调用
func (handler *Handler) handleDiagnose(context *gin.Context) {
	sendSuccessResponse(context, handler.diagnoser.Diagnose())
}

// ==================== 辅助函数 - 响应处理 ====================

// sendSuccessResponse 发送成功响应
func sendSuccessResponse(context *gin.Context, data interface{}) {
	context.JSON(http.StatusOK, UnifiedResponse{
		Code: http.StatusOK,
		Data: data,
		Msg:  "success",
	})
}

// sendErrorResponse 发送错误响应
func sendErrorResponse(context *gin.Context, httpStatus int, message string) {
	context.JSON(httpStatus, UnifiedResponse{
		Code: httpStatus,
		Data: nil,
		Msg:  message,
	})
}

// parseIDParam 解析路径中的规则标识
func parseIDParam(context *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(context.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		sendErrorResponse(context, http.StatusBadRequest, "非法的规则标识")
		return 0, false
	}
	return id, true
}

// ==================== 中间件 ====================

// corsMiddleware 跨域资源共享中间件
// 允许所有来源访问,便于前端开发和集成
func corsMiddleware() gin.HandlerFunc {
	return func(context *gin.Context) {
		context.Header("Access-Control-Allow-Origin", "*")
		context.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		context.Header("Access-Control-Allow-Headers", "Content-Type, Accept, Authorization")

		if context.Request.Method == "OPTIONS" {
			context.AbortWithStatus(http.StatusNoContent)
			return
		}

		context.Next()
	}
}
