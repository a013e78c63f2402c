package handlers

import (
	"errors"

	"github.com/gin-gonic/gin"

	"github.com/charlesng35/marketlive/internal/backend"
	"github.com/charlesng35/marketlive/internal/notifications"
	apperrors "github.com/charlesng35/marketlive/pkg/errors"
	"github.com/charlesng35/marketlive/pkg/response"
	appValidator "github.com/charlesng35/marketlive/pkg/validator"
)

// writeError renders validation, store and backend failures with the local envelope.
func writeError(c *gin.Context, err error) {
	var verrs appValidator.ValidationErrors
	switch {
	case errors.As(err, &verrs):
		response.Error(c, apperrors.NewBadRequest(formatValidationError(verrs)))
	case errors.Is(err, notifications.ErrNotFound):
		response.Error(c, apperrors.ErrNotFound)
	default:
		response.Error(c, backend.AsAppError(err))
	}
}
