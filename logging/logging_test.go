package logging

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNoOp_DoesNotPanicOrWrite(t *testing.T) {
	l := NoOp()
	require.NotNil(t, l)
	assert.NotPanics(t, func() {
		l.Info().Str("category", CategoryEventLoop).Str("msg", "hello").Log("tick")
	})
}

func TestNew_WritesJSONLines(t *testing.T) {
	var buf bytes.Buffer
	l := New(WithWriter(&buf), WithLevel(7))
	l.Info().Str("category", CategoryTransport).Log("listening")
	assert.Contains(t, buf.String(), "listening")
	assert.Contains(t, buf.String(), "transport")
}
