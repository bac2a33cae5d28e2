package client

import (
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/PabloGalante/finadvisor/internal/domain"
)

func TestDecoderReadsFrames(t *testing.T) {
	stream := ": keep-alive\n\n" +
		"data: {\"type\":\"status\",\"content\":\"Analyzing (1/30)...\"}\n\n" +
		"data:{\"type\":\"message\",\"content\":\"line one\\nline two\"}\n\n"

	dec := NewDecoder(strings.NewReader(stream))

	ev, err := dec.Next()
	require.NoError(t, err)
	require.Equal(t, domain.StatusEvent("Analyzing (1/30)..."), ev)

	ev, err = dec.Next()
	require.NoError(t, err)
	require.Equal(t, domain.MessageEvent("line one\nline two"), ev)

	_, err = dec.Next()
	require.ErrorIs(t, err, io.EOF)
}

func TestDecoderRejectsMalformedPayload(t *testing.T) {
	dec := NewDecoder(strings.NewReader("data: {not json}\n\n"))

	_, err := dec.Next()
	require.Error(t, err)
	require.NotErrorIs(t, err, io.EOF)
}
