package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/pharmaguard-pgx-server/internal/domain"
	"github.com/pharmaguard-pgx-server/internal/middleware"
)

// statusFor maps any pipeline error onto an HTTP status and error code.
func statusFor(err error) (int, domain.ErrorCode) {
	var tooBig *http.MaxBytesError
	switch {
	case errors.As(err, &tooBig):
		return http.StatusRequestEntityTooLarge, domain.CodeFileTooLarge
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, domain.CodeTimeout
	}

	code := domain.CodeOf(err)
	switch code {
	case domain.CodeFileTooLarge:
		return http.StatusRequestEntityTooLarge, code
	case domain.CodeInvalidFormat:
		return http.StatusUnsupportedMediaType, code
	case domain.CodeParse, domain.CodeInvalidInput, domain.CodeInvalidDrugName:
		return http.StatusBadRequest, code
	case domain.CodeQuality:
		return http.StatusUnprocessableEntity, code
	case domain.CodeUnsupportedDrug:
		return http.StatusNotFound, code
	case domain.CodeRateLimit:
		return http.StatusTooManyRequests, code
	case domain.CodeTimeout:
		return http.StatusGatewayTimeout, code
	default:
		return http.StatusInternalServerError, domain.CodeInternal
	}
}

// respondError writes the error envelope. Internal failures are logged and reported generically.
func (s *Server) respondError(c *gin.Context, err error) {
	status, code := statusFor(err)
	correlationID := c.GetString(middleware.CorrelationIDKey)

	message := err.Error()
	switch code {
	case domain.CodeInternal:
		s.logger.WithFields(logrus.Fields{
			"correlation_id": correlationID,
			"error":          err.Error(),
		}).Error("Analysis request failed")
		message = "internal server error"
	case domain.CodeTimeout:
		message = "analysis did not complete within the request timeout"
	}

	c.AbortWithStatusJSON(status, domain.NewAPIError(code, message, "", correlationID))
}
