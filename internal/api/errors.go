// Package api 提供批次台账相关的HTTP API处理器实现。
package api

import (
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/chainsyncstore/chainsync/internal/domain"
	"github.com/chainsyncstore/chainsync/internal/resp"
)

// writeDomainError 把领域错误映射为统一的响应封装。
// 所有处理器共用同一张映射表，保证同类错误在任何接口上表现一致。
func writeDomainError(w http.ResponseWriter, logger *zap.Logger, reqID, op string, err error) {
	var (
		ve  *domain.ValidationError
		ise *domain.InsufficientStockError
		ese *domain.ExpiredStockError
		bme *domain.BatchMismatchError
		ive *domain.InvariantViolationError
		ate *domain.AllocationTimeoutError
	)

	switch {
	case errors.As(err, &ve):
		resp.Error(w, http.StatusBadRequest, resp.CodeInvalidParam, ve.Error(), reqID, "")

	case errors.Is(err, domain.ErrBatchNotFound):
		resp.Error(w, http.StatusNotFound, resp.CodeNotFound, "batch not found", reqID, "")

	case errors.As(err, &ise):
		// 带上精确缺口，收银端可据此提示可售数量
		resp.ErrorWithData(w, http.StatusUnprocessableEntity, resp.CodeInsufficientStock,
			"insufficient stock", map[string]interface{}{
				"required":  ise.Required,
				"available": ise.Available,
				"shortfall": ise.Required - ise.Available,
			}, reqID, "")

	case errors.As(err, &ese):
		resp.ErrorWithData(w, http.StatusUnprocessableEntity, resp.CodeExpiredStock,
			"expired stock blocks sale", map[string]interface{}{
				"batch_id":     ese.BatchID,
				"batch_number": ese.BatchNumber,
				"expiry_date":  ese.ExpiryDate.Format("2006-01-02"),
			}, reqID, "")

	case errors.As(err, &bme):
		resp.Error(w, http.StatusConflict, resp.CodeConflict, bme.Error(), reqID, "")

	case errors.As(err, &ive):
		resp.Error(w, http.StatusConflict, resp.CodeConflict, ive.Error(), reqID, "")

	case errors.As(err, &ate):
		resp.Error(w, http.StatusGatewayTimeout, resp.CodeTimeout,
			"allocation timed out, safe to retry", reqID, "")

	default:
		logger.Error(op+" failed", zap.String("request_id", reqID), zap.Error(err))
		resp.Error(w, http.StatusInternalServerError, resp.CodeInternalError, op+" failed", reqID, "")
	}
}
