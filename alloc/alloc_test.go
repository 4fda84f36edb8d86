package alloc

import (
	"errors"
	"testing"

	"github.com/BeatGlow/kms/drm"
	"github.com/BeatGlow/kms/pixel"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePrime struct {
	handles map[int]uint32 // fd to GEM handle
	fail    map[int]bool
	imports int
	closed  []uint32
}

func newFakePrime() *fakePrime {
	return &fakePrime{
		handles: map[int]uint32{10: 1, 11: 2, 12: 3},
		fail:    make(map[int]bool),
	}
}

func (f *fakePrime) PrimeFDToHandle(fd int) (uint32, error) {
	f.imports++
	if f.fail[fd] {
		return 0, errors.New("EINVAL")
	}
	return f.handles[fd], nil
}

func (f *fakePrime) GemClose(handle uint32) error {
	f.closed = append(f.closed, handle)
	return nil
}

func dmabuf(fds ...int) *Dmabuf {
	d := &Dmabuf{
		Width:    1920,
		Height:   1080,
		Format:   pixel.XRGB8888,
		Modifier: pixel.ModInvalid,
	}
	for _, fd := range fds {
		d.Planes = append(d.Planes, Plane{Fd: fd, Stride: 7680})
	}
	return d
}

func TestValidate(t *testing.T) {
	assert.NoError(t, dmabuf(10).Validate())
	assert.ErrorIs(t, dmabuf().Validate(), ErrPlaneCount)
	assert.ErrorIs(t, dmabuf(10, 10, 10, 10, 10).Validate(), ErrPlaneCount)
	assert.ErrorIs(t, dmabuf(-1).Validate(), ErrFormat)

	d := dmabuf(10)
	d.Height = 0
	assert.ErrorIs(t, d.Validate(), ErrFormat)
}

func TestPrimeImport(t *testing.T) {
	dev := newFakePrime()
	p := NewPrime(dev, zerolog.Nop())

	b, err := p.Import(dmabuf(10))
	require.NoError(t, err)
	assert.Equal(t, uint32(1), b.Handles[0])
	assert.Equal(t, uint32(7680), b.Strides[0])
	assert.Equal(t, 1, b.Planes)
	assert.Equal(t, 1, p.Handles())

	b.Release()
	b.Release()
	assert.True(t, b.Released())
	assert.Equal(t, []uint32{1}, dev.closed)
	assert.Zero(t, p.Handles())
}

func TestPrimeImportSharedHandle(t *testing.T) {
	dev := newFakePrime()
	p := NewPrime(dev, zerolog.Nop())

	// The client resubmits the same dma-buf before the first import is retired.
	a, err := p.Import(dmabuf(10))
	require.NoError(t, err)
	b, err := p.Import(dmabuf(10))
	require.NoError(t, err)
	assert.Equal(t, a.Handles[0], b.Handles[0])

	a.Release()
	assert.Empty(t, dev.closed, "handle still in use")
	b.Release()
	assert.Equal(t, []uint32{1}, dev.closed)
}

func TestPrimeImportRejectsBadPlaneCount(t *testing.T) {
	dev := newFakePrime()
	p := NewPrime(dev, zerolog.Nop())

	_, err := p.Import(dmabuf())
	assert.ErrorIs(t, err, ErrPlaneCount)
	_, err = p.Import(dmabuf(10, 11, 12, 10, 11))
	assert.ErrorIs(t, err, ErrPlaneCount)
	assert.Zero(t, dev.imports)
}

func TestPrimeImportFailureUnwinds(t *testing.T) {
	dev := newFakePrime()
	dev.fail[12] = true
	p := NewPrime(dev, zerolog.Nop())

	_, err := p.Import(dmabuf(10, 11, 12))
	require.Error(t, err)
	assert.ElementsMatch(t, []uint32{1, 2}, dev.closed)
	assert.Zero(t, p.Handles())
}

func TestPrimeClose(t *testing.T) {
	dev := newFakePrime()
	p := NewPrime(dev, zerolog.Nop())

	b, err := p.Import(dmabuf(10, 11))
	require.NoError(t, err)
	require.NoError(t, p.Close())
	assert.ElementsMatch(t, []uint32{1, 2}, dev.closed)

	// Late release must not close the handles again.
	b.Release()
	assert.Len(t, dev.closed, 2)
	assert.Nil(t, p.NativeDevice())
}

func TestBufferFramebuffer(t *testing.T) {
	d := dmabuf(10, 11)
	d.Format = pixel.NV12
	d.Modifier = 0x0100000000000001
	d.Planes[1].Offset = 1920 * 1080

	b := NewBuffer(d, [drm.MaxPlanes]uint32{1, 2}, nil)

	fb := b.Framebuffer(false)
	assert.Zero(t, fb.Flags)
	assert.Equal(t, [drm.MaxPlanes]uint64{}, fb.Modifiers)
	assert.Equal(t, uint32(pixel.NV12), fb.Format)
	assert.Equal(t, uint32(1920*1080), fb.Offsets[1])

	fb = b.Framebuffer(true)
	assert.Equal(t, uint32(drm.FBModifiers), fb.Flags)
	assert.Equal(t, [drm.MaxPlanes]uint64{d.Modifier, d.Modifier}, fb.Modifiers)
}
