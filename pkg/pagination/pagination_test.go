package pagination

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalize(t *testing.T) {
	assert.Equal(t, Params{Page: 1, Limit: DefaultLimit}, Params{}.Normalize())
	assert.Equal(t, Params{Page: 3, Limit: MaxLimit}, Params{Page: 3, Limit: 500}.Normalize())
	assert.Equal(t, Params{Page: 1, Limit: 5}, Params{Page: -2, Limit: 5}.Normalize())
}

func TestOffset(t *testing.T) {
	assert.Equal(t, 0, Params{}.Offset())
	assert.Equal(t, 20, Params{Page: 3, Limit: 10}.Offset())
}

func TestNewMeta(t *testing.T) {
	assert.Equal(t, Meta{Page: 1, Limit: 10, Total: 0, TotalPages: 0}, NewMeta(Params{}, 0))
	assert.Equal(t, Meta{Page: 2, Limit: 10, Total: 21, TotalPages: 3}, NewMeta(Params{Page: 2}, 21))
	assert.Equal(t, Meta{Page: 1, Limit: 20, Total: 20, TotalPages: 1}, NewMeta(Params{Limit: 20}, 20))
}
