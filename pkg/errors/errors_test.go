package errors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMessageForCodeFallsBackToGeneric(t *testing.T) {
	require.Equal(t, "Sản phẩm đã hết hàng", MessageForCode(CodeOutOfStock))
	require.Equal(t, GenericMessage, MessageForCode(424242))
	require.True(t, KnownCode(CodeRecallExpired))
	require.False(t, KnownCode(-1))
}

func TestFromBusinessCodeStatus(t *testing.T) {
	appErr := FromBusinessCode(CodeUnauthenticated, http.StatusOK)
	require.Equal(t, http.StatusUnauthorized, appErr.StatusCode)
	require.Equal(t, "BUSINESS_1006", appErr.Code)

	appErr = FromBusinessCode(CodeOutOfStock, 0)
	require.Equal(t, http.StatusBadRequest, appErr.StatusCode)

	appErr = FromBusinessCode(77, http.StatusConflict)
	require.Equal(t, http.StatusConflict, appErr.StatusCode)
	require.Equal(t, GenericMessage, appErr.Message)
}

func TestWithInternalKeepsSentinelIdentity(t *testing.T) {
	cause := errors.New("dial tcp: refused")
	wrapped := fmt.Errorf("backend: %w", ErrBackendUnavailable.WithInternal(cause))

	require.ErrorIs(t, wrapped, ErrBackendUnavailable)
	require.ErrorIs(t, wrapped, cause)
	require.NotErrorIs(t, wrapped, ErrNotFound)
}

func TestFromErrorDefaultsToInternal(t *testing.T) {
	require.Nil(t, FromError(nil))

	appErr := FromError(errors.New("boom"))
	require.Equal(t, ErrInternalServer.Code, appErr.Code)

	appErr = FromError(fmt.Errorf("wrapped: %w", ErrForbidden))
	require.Equal(t, ErrForbidden.Code, appErr.Code)
}
