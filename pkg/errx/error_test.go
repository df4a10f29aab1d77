package errx_test

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/Abraxas-365/jobrelay/pkg/errx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	testErrors  = errx.NewRegistry("TEST")
	errMissing  = testErrors.Register("MISSING", errx.TypeNotFound, 0, "thing is missing")
	errDown     = testErrors.Register("DOWN", errx.TypeUnavailable, 0, "store is down")
	errConflict = testErrors.Register("CONFLICT", errx.TypeConflict, 409, "bad transition")
)

func TestRegistryPrefixesCodes(t *testing.T) {
	assert.Equal(t, "TEST_MISSING", errMissing.Code)
	assert.Equal(t, http.StatusNotFound, errMissing.HTTPStatus)
	assert.Equal(t, http.StatusServiceUnavailable, errDown.HTTPStatus)

	got, ok := testErrors.Get("DOWN")
	require.True(t, ok)
	assert.Same(t, errDown, got)
	assert.Len(t, testErrors.Codes(), 3)
}

func TestIsMatchesByCode(t *testing.T) {
	err := testErrors.New(errMissing).WithDetail("job_id", "j1")
	wrapped := fmt.Errorf("lookup: %w", err)

	assert.True(t, errors.Is(wrapped, testErrors.New(errMissing)))
	assert.False(t, errors.Is(wrapped, testErrors.New(errConflict)))
	assert.True(t, errx.IsCode(wrapped, errMissing))
	assert.False(t, errx.IsCode(wrapped, errDown))
	assert.False(t, errx.IsCode(errors.New("plain"), errDown))
}

func TestIsCodeSeesNestedCause(t *testing.T) {
	inner := testErrors.New(errConflict)
	outer := testErrors.NewWithCause(errDown, inner)

	assert.True(t, errx.IsCode(outer, errDown))
	assert.True(t, errx.IsCode(outer, errConflict))
	assert.True(t, errx.IsType(outer, errx.TypeUnavailable))
	assert.Equal(t, http.StatusServiceUnavailable, errx.StatusOf(outer))
	assert.Equal(t, http.StatusInternalServerError, errx.StatusOf(errors.New("plain")))
}

func TestWrapPreservesCode(t *testing.T) {
	base := testErrors.New(errMissing)
	w := errx.Wrap(base, "while loading", errx.TypeNotFound)

	assert.Equal(t, "TEST_MISSING", w.Code)
	assert.Nil(t, errx.Wrap(nil, "noop", errx.TypeInternal))
	assert.Contains(t, w.Error(), "while loading")

	resp := w.ToHTTPResponse()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
