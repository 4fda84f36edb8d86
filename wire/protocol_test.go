package wire

import (
	"testing"

	"github.com/BeatGlow/kms/alloc"
	"github.com/BeatGlow/kms/pixel"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeHeader(t *testing.T) {
	b, err := encode(MsgRelease, &Release{BufferID: 7})
	require.NoError(t, err)
	assert.Equal(t, []byte{
		'K', 'M', 'S', 'F',
		MsgRelease, 0, 0, 0,
		4, 0, 0, 0,
		7, 0, 0, 0,
	}, b)

	b, err = encode(MsgHello, nil)
	require.NoError(t, err)
	assert.Len(t, b, headerSize)
}

func TestFrameMessage(t *testing.T) {
	d := &alloc.Dmabuf{
		Width:    1920,
		Height:   1080,
		Format:   pixel.NV12,
		Modifier: pixel.ModInvalid,
		Planes: []alloc.Plane{
			{Fd: 5, Stride: 1920},
			{Fd: 6, Stride: 1920, Offset: 1920 * 1080},
		},
	}
	payload, fds, err := NewFrame(3, d)
	require.NoError(t, err)
	assert.Equal(t, []int{5, 6}, fds)

	b, err := encode(MsgFrame, payload)
	require.NoError(t, err)
	assert.Len(t, b, headerSize+60)

	m, err := decode(b)
	require.NoError(t, err)
	m.Fds = []int{15, 16} // as received
	id, got, err := m.Frame()
	require.NoError(t, err)
	assert.Equal(t, uint32(3), id)
	assert.Equal(t, d.Width, got.Width)
	assert.Equal(t, d.Format, got.Format)
	assert.Equal(t, d.Modifier, got.Modifier)
	assert.Equal(t, []alloc.Plane{
		{Fd: 15, Stride: 1920},
		{Fd: 16, Stride: 1920, Offset: 1920 * 1080},
	}, got.Planes)
}

func TestFrameMessageErrors(t *testing.T) {
	frame := func(planes uint32, fds ...int) *Message {
		b, err := encode(MsgFrame, &FramePayload{BufferID: 1, Width: 64, Height: 64, PlaneCount: planes})
		require.NoError(t, err)
		m, err := decode(b)
		require.NoError(t, err)
		m.Fds = fds
		return m
	}

	_, _, err := frame(5).Frame()
	assert.ErrorIs(t, err, alloc.ErrPlaneCount)

	id, _, err := frame(2, 10).Frame()
	assert.ErrorIs(t, err, ErrProtocol)
	assert.Equal(t, uint32(1), id)

	_, _, err = NewFrame(1, &alloc.Dmabuf{Planes: make([]alloc.Plane, 5)})
	assert.ErrorIs(t, err, alloc.ErrPlaneCount)

	hello, err := decode([]byte{'K', 'M', 'S', 'F', MsgHello, 0, 0, 0, 0, 0, 0, 0})
	require.NoError(t, err)
	_, _, err = hello.Frame()
	assert.ErrorIs(t, err, ErrProtocol)
}

func TestDecodeErrors(t *testing.T) {
	_, err := decode([]byte{'K', 'M', 'S'})
	assert.ErrorIs(t, err, ErrTruncated)

	_, err = decode([]byte{'X', 'M', 'S', 'F', MsgHello, 0, 0, 0, 0, 0, 0, 0})
	assert.ErrorIs(t, err, ErrMagic)

	_, err = decode([]byte{'K', 'M', 'S', 'F', MsgRelease, 0, 0, 0, 4, 0, 0, 0, 1})
	assert.ErrorIs(t, err, ErrTruncated)

	m, err := decode([]byte{'K', 'M', 'S', 'F', MsgRelease, 0, 0, 0, 2, 0, 0, 0, 1, 0})
	require.NoError(t, err)
	var r Release
	assert.ErrorIs(t, m.Decode(&r), ErrTruncated)
}
