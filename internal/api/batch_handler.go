// Package api 批次与库存线查询相关的HTTP处理器。
package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/chainsyncstore/chainsync/internal/domain"
	"github.com/chainsyncstore/chainsync/internal/middleware"
	"github.com/chainsyncstore/chainsync/internal/resp"
	"github.com/chainsyncstore/chainsync/internal/service"
)

// BatchHandler 批次维护与查询的HTTP处理器
type BatchHandler struct {
	inventoryService service.InventoryService
	logger           *zap.Logger
}

// NewBatchHandler 创建批次处理器实例
func NewBatchHandler(inventoryService service.InventoryService, logger *zap.Logger) *BatchHandler {
	return &BatchHandler{
		inventoryService: inventoryService,
		logger:           logger,
	}
}

// CreateBatch 创建批次（入库）
// POST /api/v1/batches
// 需要管理员权限
func (h *BatchHandler) CreateBatch(w http.ResponseWriter, r *http.Request) {
	reqID := middleware.RequestIDFromContext(r.Context())

	var record domain.BatchRecord
	if err := json.NewDecoder(r.Body).Decode(&record); err != nil {
		h.logger.Warn("invalid request body", zap.String("request_id", reqID), zap.Error(err))
		resp.Error(w, http.StatusBadRequest, resp.CodeInvalidParam, "invalid request body", reqID, "")
		return
	}

	batch, err := h.inventoryService.CreateBatch(r.Context(), &record)
	if err != nil {
		writeDomainError(w, h.logger, reqID, "create batch", err)
		return
	}

	resp.OK(w, batch, reqID, "")
}

// GetInventoryLine 获取库存线的批次视图
// GET /api/v1/stores/{store_id}/products/{product_id}/batches?include_expired=true
func (h *BatchHandler) GetInventoryLine(w http.ResponseWriter, r *http.Request) {
	reqID := middleware.RequestIDFromContext(r.Context())

	storeID, productID, ok := h.parseLinePath(w, r, reqID)
	if !ok {
		return
	}

	includeExpired := false
	if s := r.URL.Query().Get("include_expired"); s != "" {
		if v, err := strconv.ParseBool(s); err == nil {
			includeExpired = v
		}
	}

	line, err := h.inventoryService.GetInventoryLine(r.Context(), storeID, productID, includeExpired)
	if err != nil {
		writeDomainError(w, h.logger, reqID, "get inventory line", err)
		return
	}

	resp.OK(w, line, reqID, "")
}

// CheckStockLevel 检查库存线总量是否低于给定阈值
// GET /api/v1/stores/{store_id}/products/{product_id}/stock-level?minimum=10
func (h *BatchHandler) CheckStockLevel(w http.ResponseWriter, r *http.Request) {
	reqID := middleware.RequestIDFromContext(r.Context())

	storeID, productID, ok := h.parseLinePath(w, r, reqID)
	if !ok {
		return
	}

	minimum := 0
	if s := r.URL.Query().Get("minimum"); s != "" {
		v, err := strconv.Atoi(s)
		if err != nil || v < 0 {
			resp.Error(w, http.StatusBadRequest, resp.CodeInvalidParam, "invalid minimum", reqID, "")
			return
		}
		minimum = v
	}

	report, err := h.inventoryService.CheckStockLevel(r.Context(), storeID, productID, minimum)
	if err != nil {
		writeDomainError(w, h.logger, reqID, "check stock level", err)
		return
	}

	resp.OK(w, report, reqID, "")
}

// GetBatchHistory 获取批次的完整审计历史
// GET /api/v1/batches/{id}/history
func (h *BatchHandler) GetBatchHistory(w http.ResponseWriter, r *http.Request) {
	reqID := middleware.RequestIDFromContext(r.Context())

	// /api/v1/batches/{id}/history
	parts := strings.Split(r.URL.Path, "/")
	if len(parts) < 6 {
		resp.Error(w, http.StatusBadRequest, resp.CodeInvalidParam, "invalid batch ID", reqID, "")
		return
	}

	batchID, err := strconv.ParseInt(parts[4], 10, 64)
	if err != nil || batchID <= 0 {
		resp.Error(w, http.StatusBadRequest, resp.CodeInvalidParam, "invalid batch ID", reqID, "")
		return
	}

	history, err := h.inventoryService.GetBatchHistory(r.Context(), batchID)
	if err != nil {
		writeDomainError(w, h.logger, reqID, "get batch history", err)
		return
	}

	resp.OK(w, history, reqID, "")
}

// parseLinePath 解析 /api/v1/stores/{store_id}/products/{product_id}/... 形式的路径
func (h *BatchHandler) parseLinePath(w http.ResponseWriter, r *http.Request, reqID string) (storeID, productID int64, ok bool) {
	parts := strings.Split(r.URL.Path, "/")
	if len(parts) < 7 {
		resp.Error(w, http.StatusBadRequest, resp.CodeInvalidParam, "invalid path", reqID, "")
		return 0, 0, false
	}

	storeID, err := strconv.ParseInt(parts[4], 10, 64)
	if err != nil || storeID <= 0 {
		resp.Error(w, http.StatusBadRequest, resp.CodeInvalidParam, "invalid store ID", reqID, "")
		return 0, 0, false
	}

	productID, err = strconv.ParseInt(parts[6], 10, 64)
	if err != nil || productID <= 0 {
		resp.Error(w, http.StatusBadRequest, resp.CodeInvalidParam, "invalid product ID", reqID, "")
		return 0, 0, false
	}

	return storeID, productID, true
}
