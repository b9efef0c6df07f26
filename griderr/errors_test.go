package griderr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorIsKind(t *testing.T) {
	err := New(ErrInvalidColumn, "salary", "not declared on employees")

	assert.True(t, errors.Is(err, ErrInvalidColumn))
	assert.False(t, errors.Is(err, ErrStore))
	assert.Equal(t, `invalid column "salary": not declared on employees`, err.Error())
}

func TestWrapKeepsCause(t *testing.T) {
	cause := errors.New("connection refused")
	err := fmt.Errorf("fetch page: %w", Wrap(ErrStore, "employees", cause))

	assert.True(t, errors.Is(err, ErrStore))
	assert.True(t, errors.Is(err, cause))
	assert.True(t, Fatal(err))
	assert.False(t, Fatal(New(ErrCacheUnavailable, "", "")))
}
