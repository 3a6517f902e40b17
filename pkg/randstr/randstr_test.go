package randstr

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGenerateRandomString(t *testing.T) {
	g := New([]byte("ab"))

	s := g.GenerateRandomString(32)
	assert.Len(t, s, 32)
	assert.Empty(t, strings.Trim(s, "ab"))

	assert.Len(t, New(nil).GenerateRandomString(8), 8)
}
