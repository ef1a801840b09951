// Package api 退货与人工调整相关的HTTP处理器。
package api

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"github.com/chainsyncstore/chainsync/internal/domain"
	"github.com/chainsyncstore/chainsync/internal/middleware"
	"github.com/chainsyncstore/chainsync/internal/resp"
	"github.com/chainsyncstore/chainsync/internal/service"
)

// RestockHandler 退货入库与人工调整的HTTP处理器
type RestockHandler struct {
	restockService service.RestockService
	logger         *zap.Logger
}

// NewRestockHandler 创建退货处理器实例
func NewRestockHandler(restockService service.RestockService, logger *zap.Logger) *RestockHandler {
	return &RestockHandler{
		restockService: restockService,
		logger:         logger,
	}
}

// ReturnStock 退货入库：回补原批次或铸造新批次
// POST /api/v1/stock/return
func (h *RestockHandler) ReturnStock(w http.ResponseWriter, r *http.Request) {
	reqID := middleware.RequestIDFromContext(r.Context())

	actor := middleware.ActorFromContext(r.Context())
	if actor == nil {
		resp.Error(w, http.StatusUnauthorized, resp.CodeUnauthorized, "authentication required", reqID, "")
		return
	}

	var req domain.ReturnRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.Warn("invalid request body", zap.String("request_id", reqID), zap.Error(err))
		resp.Error(w, http.StatusBadRequest, resp.CodeInvalidParam, "invalid request body", reqID, "")
		return
	}

	if req.StoreID <= 0 || req.ProductID <= 0 {
		resp.Error(w, http.StatusBadRequest, resp.CodeInvalidParam, "store_id and product_id are required", reqID, "")
		return
	}
	if req.Quantity <= 0 {
		resp.Error(w, http.StatusBadRequest, resp.CodeInvalidParam, "quantity must be greater than 0", reqID, "")
		return
	}

	batch, err := h.restockService.ReturnToBatch(r.Context(), &req, actor.UserID)
	if err != nil {
		writeDomainError(w, h.logger, reqID, "return stock", err)
		return
	}

	resp.OK(w, batch, reqID, "")
}

// AdjustBatch 人工调整批次数量（如清理过期库存、盘点纠偏）
// POST /api/v1/stock/adjust
// 需要管理员权限
func (h *RestockHandler) AdjustBatch(w http.ResponseWriter, r *http.Request) {
	reqID := middleware.RequestIDFromContext(r.Context())

	actor := middleware.ActorFromContext(r.Context())
	if actor == nil {
		resp.Error(w, http.StatusUnauthorized, resp.CodeUnauthorized, "authentication required", reqID, "")
		return
	}

	var req domain.AdjustRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.Warn("invalid request body", zap.String("request_id", reqID), zap.Error(err))
		resp.Error(w, http.StatusBadRequest, resp.CodeInvalidParam, "invalid request body", reqID, "")
		return
	}

	if req.BatchID <= 0 {
		resp.Error(w, http.StatusBadRequest, resp.CodeInvalidParam, "batch_id is required", reqID, "")
		return
	}
	if req.Delta == 0 {
		resp.Error(w, http.StatusBadRequest, resp.CodeInvalidParam, "delta cannot be zero", reqID, "")
		return
	}
	if req.Reason == "" {
		resp.Error(w, http.StatusBadRequest, resp.CodeInvalidParam, "reason is required", reqID, "")
		return
	}

	batch, err := h.restockService.AdjustBatch(r.Context(), &req, actor.UserID)
	if err != nil {
		writeDomainError(w, h.logger, reqID, "adjust batch", err)
		return
	}

	resp.OK(w, batch, reqID, "")
}
