package notify

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChimeWAV_HasValidHeader(t *testing.T) {
	wav := ChimeWAV()
	require.Greater(t, len(wav), 44, "must be larger than a bare RIFF header")

	assert.Equal(t, "RIFF", string(wav[0:4]))
	assert.Equal(t, "WAVE", string(wav[8:12]))
	assert.Equal(t, "fmt ", string(wav[12:16]))
	assert.Equal(t, "data", string(wav[36:40]))

	riffLen := binary.LittleEndian.Uint32(wav[4:8])
	assert.Equal(t, uint32(len(wav)-8), riffLen)

	assert.Equal(t, uint16(1), binary.LittleEndian.Uint16(wav[20:22]), "PCM format")
	assert.Equal(t, uint16(1), binary.LittleEndian.Uint16(wav[22:24]), "mono")
	assert.Equal(t, uint32(16000), binary.LittleEndian.Uint32(wav[24:28]))
	assert.Equal(t, uint16(16), binary.LittleEndian.Uint16(wav[34:36]), "bits per sample")

	dataLen := binary.LittleEndian.Uint32(wav[40:44])
	assert.Equal(t, uint32(len(wav)-44), dataLen)
}

func TestChimeWAV_IsCached(t *testing.T) {
	first := ChimeWAV()
	second := ChimeWAV()
	require.NotEmpty(t, first)
	assert.Same(t, &first[0], &second[0], "same backing array on repeat calls")
}
