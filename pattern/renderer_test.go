package pattern

import (
	"errors"
	"testing"

	"github.com/BeatGlow/kms/drm"
	"github.com/BeatGlow/kms/pixel"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

type fakeDevice struct {
	handle     uint32
	destroyed  []uint32
	unmapped   int
	failExport bool
}

func (d *fakeDevice) CreateDumb(width, height, bpp uint32) (*drm.DumbBuffer, error) {
	d.handle++
	pitch := (width*bpp/8 + 63) &^ 63
	return &drm.DumbBuffer{
		Handle: d.handle,
		Width:  width,
		Height: height,
		BPP:    bpp,
		Pitch:  pitch,
		Size:   uint64(pitch * height),
	}, nil
}

func (d *fakeDevice) MapDumb(buf *drm.DumbBuffer) ([]byte, error) {
	return make([]byte, buf.Size), nil
}

func (d *fakeDevice) UnmapDumb([]byte) error {
	d.unmapped++
	return nil
}

func (d *fakeDevice) DestroyDumb(handle uint32) error {
	d.destroyed = append(d.destroyed, handle)
	return nil
}

func (d *fakeDevice) PrimeHandleToFD(handle, flags uint32) (int, error) {
	if d.failExport {
		return -1, unix.ENOSYS
	}
	return unix.Open("/dev/null", unix.O_RDONLY|unix.O_CLOEXEC, 0)
}

func newRenderer(t *testing.T, dev *fakeDevice, n int) *Renderer {
	t.Helper()
	p, err := NewPainter("test")
	require.NoError(t, err)
	r, err := NewRenderer(dev, p, pixel.XRGB8888, 60, 40, n)
	require.NoError(t, err)
	return r
}

func TestRenderer(t *testing.T) {
	dev := new(fakeDevice)
	r := newRenderer(t, dev, 2)
	require.Len(t, r.Frames(), 2)

	f := r.Frames()[0]
	assert.Equal(t, uint32(1), f.ID)
	assert.Equal(t, uint32(60), f.Dmabuf.Width)
	assert.Equal(t, uint32(40), f.Dmabuf.Height)
	assert.Equal(t, pixel.XRGB8888, f.Dmabuf.Format)
	assert.Equal(t, pixel.ModLinear, f.Dmabuf.Modifier)
	require.Len(t, f.Dmabuf.Planes, 1)
	assert.Equal(t, uint32(256), f.Dmabuf.Planes[0].Stride)
	assert.Equal(t, 256, f.Image.(*pixel.XRGB8888Image).Stride)
	assert.NoError(t, f.Dmabuf.Validate())

	a, err := r.Next()
	require.NoError(t, err)
	b, err := r.Next()
	require.NoError(t, err)
	assert.NotEqual(t, a.ID, b.ID)
	assert.True(t, a.Busy())

	_, err = r.Next()
	assert.ErrorIs(t, err, ErrBusy)

	assert.True(t, r.Release(a.ID))
	assert.False(t, r.Release(99))
	c, err := r.Next()
	require.NoError(t, err)
	assert.Equal(t, a.ID, c.ID)
	assert.Equal(t, 3, r.Count())

	require.NoError(t, r.Close())
	assert.ElementsMatch(t, []uint32{1, 2}, dev.destroyed)
	assert.Equal(t, 2, dev.unmapped)
}

func TestRendererExportFailure(t *testing.T) {
	dev := &fakeDevice{failExport: true}
	p, err := NewPainter("")
	require.NoError(t, err)

	_, err = NewRenderer(dev, p, pixel.XRGB8888, 60, 40, 2)
	assert.ErrorIs(t, err, unix.ENOSYS)
	assert.Equal(t, []uint32{1}, dev.destroyed)
	assert.Equal(t, 1, dev.unmapped)

	_, err = NewRenderer(dev, p, pixel.XRGB8888, 0, 40, 2)
	assert.Error(t, err)

	_, err = NewRenderer(dev, p, pixel.NV12, 60, 40, 2)
	assert.ErrorIs(t, err, ErrFormat)
}

func TestRendererRGB565(t *testing.T) {
	p, err := NewPainter("")
	require.NoError(t, err)
	r, err := NewRenderer(new(fakeDevice), p, pixel.RGB565, 60, 40, 0)
	require.NoError(t, err)
	defer r.Close()

	assert.Len(t, r.Frames(), DefaultFrames)
	assert.Equal(t, pixel.RGB565, r.Format())

	f, err := r.Next()
	require.NoError(t, err)
	img, ok := f.Image.(*pixel.RGB565Image)
	require.True(t, ok)
	// 120 bytes of pixels per row, padded.
	assert.Equal(t, 128, img.Stride)
	assert.Equal(t, uint32(128), f.Dmabuf.Planes[0].Stride)
	assert.Equal(t, pixel.RGB565Model.Convert(borderColor), img.At(59, 39))
}

func TestPlayer(t *testing.T) {
	r := newRenderer(t, new(fakeDevice), 2)
	defer r.Close()

	var submitted []uint32
	p := NewPlayer(r, func(f *Frame) error {
		submitted = append(submitted, f.ID)
		return nil
	}, 3, zerolog.Nop())

	require.NoError(t, p.Start())
	assert.Equal(t, []uint32{1}, submitted)

	// Completion of the first frame; it stays on screen.
	p.FrameComplete()
	assert.Equal(t, []uint32{1, 2}, submitted)

	// The second frame replaces the first.
	p.ReleaseBuffer(uint32(1))
	p.FrameComplete()
	assert.Equal(t, []uint32{1, 2, 1}, submitted)
	assert.Equal(t, 2, p.Presented())

	p.ReleaseBuffer(uint32(2))
	p.FrameComplete()
	select {
	case <-p.Done():
	default:
		t.Fatal("player did not stop at its limit")
	}
	assert.NoError(t, p.Err())
	assert.Equal(t, []uint32{1, 2, 1}, submitted)

	// Late callbacks are ignored.
	p.FrameComplete()
	p.ReleaseBuffer("bogus")
	assert.Equal(t, 3, p.Presented())
}

func TestPlayerStall(t *testing.T) {
	r := newRenderer(t, new(fakeDevice), 1)
	defer r.Close()

	p := NewPlayer(r, func(*Frame) error { return nil }, 0, zerolog.Nop())
	require.NoError(t, p.Start())

	// The only frame was never released.
	p.FrameComplete()
	<-p.Done()
	assert.ErrorIs(t, p.Err(), ErrBusy)
}

func TestPlayerSubmitError(t *testing.T) {
	r := newRenderer(t, new(fakeDevice), 2)
	defer r.Close()

	errRefused := errors.New("refused")
	p := NewPlayer(r, func(*Frame) error { return errRefused }, 0, zerolog.Nop())
	assert.ErrorIs(t, p.Start(), errRefused)
	<-p.Done()
	assert.ErrorIs(t, p.Err(), errRefused)
}
