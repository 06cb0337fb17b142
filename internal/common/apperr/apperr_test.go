package apperr

import (
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNotFound_HTTPStatus(t *testing.T) {
	err := NotFound("agent", "alias-1")
	require.Equal(t, http.StatusNotFound, HTTPStatus(err))
	require.True(t, IsNotFound(err))
	require.False(t, IsConflict(err))
}

func TestGone_CarriesSuccessorAlias(t *testing.T) {
	err := Gone("recipient retired", "ops-2")
	require.True(t, IsGone(err))
	body := err.Body()
	require.Equal(t, "ops-2", body["successor_alias"])
	require.Equal(t, "recipient retired", body["detail"])
}

func TestGone_NoSuccessorAliasOmitsExtra(t *testing.T) {
	err := Gone("recipient retired", "")
	body := err.Body()
	_, ok := body["successor_alias"]
	require.False(t, ok)
}

func TestWrap_PreservesAppErrorCode(t *testing.T) {
	inner := Conflict("reservation held")
	wrapped := Wrap(inner, "acquire failed")

	require.Equal(t, CodeConflict, wrapped.Code)
	require.Equal(t, http.StatusConflict, wrapped.HTTPStatus)
	require.True(t, IsConflict(wrapped))
}

func TestWrap_PlainErrorBecomesInternal(t *testing.T) {
	wrapped := Wrap(errors.New("boom"), "store failed")
	require.Equal(t, CodeInternal, wrapped.Code)
	require.Equal(t, http.StatusInternalServerError, HTTPStatus(wrapped))
}

func TestWrap_Nil(t *testing.T) {
	require.Nil(t, Wrap(nil, "unused"))
}

func TestAliasExhausted(t *testing.T) {
	err := AliasExhausted("acme")
	require.Equal(t, CodeAliasExhausted, err.Code)
	require.Equal(t, http.StatusConflict, err.HTTPStatus)
}
