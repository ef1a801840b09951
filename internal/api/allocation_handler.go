// Package api 销售分配相关的HTTP处理器。
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

// AllocationHandler 销售分配的HTTP处理器
type AllocationHandler struct {
	allocationService service.AllocationService
	logger            *zap.Logger
}

// NewAllocationHandler 创建销售分配处理器实例
func NewAllocationHandler(allocationService service.AllocationService, logger *zap.Logger) *AllocationHandler {
	return &AllocationHandler{
		allocationService: allocationService,
		logger:            logger,
	}
}

// AllocateForSale 按先到期先出原则分配销售数量
// POST /api/v1/stock/allocate
func (h *AllocationHandler) AllocateForSale(w http.ResponseWriter, r *http.Request) {
	reqID := middleware.RequestIDFromContext(r.Context())

	actor := middleware.ActorFromContext(r.Context())
	if actor == nil {
		resp.Error(w, http.StatusUnauthorized, resp.CodeUnauthorized, "authentication required", reqID, "")
		return
	}

	// 解析请求体
	var req domain.AllocateRequest
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

	result, err := h.allocationService.AllocateForSale(
		r.Context(), req.StoreID, req.ProductID, req.Quantity, actor.UserID, req.Reference)
	if err != nil {
		writeDomainError(w, h.logger, reqID, "allocate stock", err)
		return
	}

	resp.OK(w, result, reqID, "")
}
