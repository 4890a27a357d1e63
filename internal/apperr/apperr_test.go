package apperr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCodeOf(t *testing.T) {
	wrapped := fmt.Errorf("edit: %w", NotOwner("not yours"))
	assert.Equal(t, CodeNotOwner, CodeOf(wrapped))
	assert.Equal(t, CodeInternal, CodeOf(errors.New("boom")))
}

func TestIsMatchesByCode(t *testing.T) {
	err := fmt.Errorf("delete: %w", AlreadyDeleted("gone"))
	assert.True(t, errors.Is(err, AlreadyDeleted("")))
	assert.False(t, errors.Is(err, NotOwner("")))
}

func TestMalformedFrameKeepsCause(t *testing.T) {
	cause := errors.New("unexpected EOF")
	err := MalformedFrame("bad json", cause)
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "bad json: unexpected EOF", err.Error())
}
