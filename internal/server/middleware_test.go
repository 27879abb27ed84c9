package server

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRedactQueryMasksToken(t *testing.T) {
	out := redactQuery("token=secret123&limit=5")
	assert.NotContains(t, out, "secret123")
	assert.Contains(t, out, "token=REDACTED")
	assert.Contains(t, out, "limit=5")
}

func TestRedactQueryPassesThroughBenignParams(t *testing.T) {
	assert.Equal(t, "limit=5", redactQuery("limit=5"))
}

func TestRedactQueryUnparseable(t *testing.T) {
	assert.Equal(t, "<unparseable>", redactQuery("%zz"))
}
