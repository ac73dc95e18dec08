package qrcode

import (
	"bytes"
	"encoding/base64"
	"image/png"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDataURLIsDecodablePNG(t *testing.T) {
	url, err := DataURL("tg://login?token=AQID")
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(url, dataURLPrefix))

	raw, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(url, dataURLPrefix))
	require.NoError(t, err)
	img, err := png.Decode(bytes.NewReader(raw))
	require.NoError(t, err)
	assert.Greater(t, img.Bounds().Dx(), 0)
}

func TestDataURLRejectsEmpty(t *testing.T) {
	_, err := DataURL("")
	assert.Error(t, err)
}
