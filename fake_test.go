package kms

import (
	"errors"
	"fmt"
	"unsafe"

	"github.com/BeatGlow/kms/alloc"
	"github.com/BeatGlow/kms/drm"
	"github.com/BeatGlow/kms/pixel"
	"github.com/rs/zerolog"
	"golang.org/x/sys/unix"
)

var errFake = errors.New("fake: EINVAL")

type flipCall struct {
	crtc, fb uint32
	userData uint64
}

// fakeDevice is a DRM device with one CRTC and the connectors given.
type fakeDevice struct {
	resources  *drm.Resources
	resErr     error
	connectors map[uint32]*drm.Connector
	encoders   map[uint32]*drm.Encoder
	caps       map[uint64]uint64

	nextFB   uint32
	fbs      map[uint32]*drm.Framebuffer
	addFB2   []*drm.Framebuffer
	removed  []uint32
	modesets []uint32 // framebuffers
	flips    []flipCall
	events   []byte
	closed   bool

	failAddFB2   error
	failSetCrtc  error
	failPageFlip error
}

func newFakeDevice(connectors ...*drm.Connector) *fakeDevice {
	dev := &fakeDevice{
		resources:  &drm.Resources{Crtcs: []uint32{40, 41}},
		connectors: make(map[uint32]*drm.Connector),
		encoders: map[uint32]*drm.Encoder{
			30: {ID: 30, CrtcID: 41, PossibleCrtcs: 0b11},
		},
		caps:   make(map[uint64]uint64),
		nextFB: 100,
		fbs:    make(map[uint32]*drm.Framebuffer),
	}
	for _, c := range connectors {
		dev.resources.Connectors = append(dev.resources.Connectors, c.ID)
		dev.connectors[c.ID] = c
	}
	return dev
}

func mode(w, h uint16, preferred bool) drm.ModeInfo {
	m := drm.ModeInfo{Hdisplay: w, Vdisplay: h, Vrefresh: 60}
	if preferred {
		m.Type |= drm.ModeTypePreferred
	}
	copy(m.Name[:], fmt.Sprintf("%dx%d", w, h))
	return m
}

func connected(id uint32, modes ...drm.ModeInfo) *drm.Connector {
	return &drm.Connector{ID: id, EncoderID: 30, Connection: drm.Connected, Modes: modes}
}

func disconnected(id uint32) *drm.Connector {
	return &drm.Connector{ID: id, Connection: drm.Disconnected}
}

func (d *fakeDevice) mutations() int {
	return len(d.addFB2) + len(d.removed) + len(d.modesets) + len(d.flips)
}

func (d *fakeDevice) Name() string { return "fake" }
func (d *fakeDevice) Fd() int      { return -1 }

func (d *fakeDevice) Close() error {
	d.closed = true
	return nil
}

func (d *fakeDevice) GetCap(capability uint64) (uint64, error) {
	value, ok := d.caps[capability]
	if !ok {
		return 0, errFake
	}
	return value, nil
}

func (d *fakeDevice) Resources() (*drm.Resources, error) {
	if d.resErr != nil {
		return nil, d.resErr
	}
	return d.resources, nil
}

func (d *fakeDevice) Connector(id uint32) (*drm.Connector, error) {
	c, ok := d.connectors[id]
	if !ok {
		return nil, errFake
	}
	return c, nil
}

func (d *fakeDevice) Encoder(id uint32) (*drm.Encoder, error) {
	e, ok := d.encoders[id]
	if !ok {
		return nil, errFake
	}
	return e, nil
}

func (d *fakeDevice) SetCrtc(crtcID, fbID, x, y uint32, connectors []uint32, mode *drm.ModeInfo) error {
	if d.failSetCrtc != nil {
		return d.failSetCrtc
	}
	d.modesets = append(d.modesets, fbID)
	return nil
}

func (d *fakeDevice) AddFB2(fb *drm.Framebuffer) (uint32, error) {
	d.addFB2 = append(d.addFB2, fb)
	if d.failAddFB2 != nil {
		return 0, d.failAddFB2
	}
	d.nextFB++
	d.fbs[d.nextFB] = fb
	return d.nextFB, nil
}

func (d *fakeDevice) RmFB(fbID uint32) error {
	if _, ok := d.fbs[fbID]; !ok {
		return errFake
	}
	delete(d.fbs, fbID)
	d.removed = append(d.removed, fbID)
	return nil
}

func (d *fakeDevice) PageFlip(crtcID, fbID, flags uint32, userData uint64) error {
	if d.failPageFlip != nil {
		return d.failPageFlip
	}
	d.flips = append(d.flips, flipCall{crtc: crtcID, fb: fbID, userData: userData})
	return nil
}

func (d *fakeDevice) Read(p []byte) (int, error) {
	if len(d.events) == 0 {
		return 0, unix.EAGAIN
	}
	n := copy(p, d.events)
	d.events = d.events[n:]
	return n, nil
}

// completeFlip queues the flip completion event for the last page flip.
func (d *fakeDevice) completeFlip(sequence uint32) {
	flip := d.flips[len(d.flips)-1]
	d.events = drm.AppendEvent(d.events, drm.VBlankEvent{
		Type:     drm.EventFlipComplete,
		UserData: flip.userData,
		Sequence: sequence,
		CrtcID:   flip.crtc,
	})
}

// fakeAllocator hands out buffers and tracks their release.
type fakeAllocator struct {
	imported []*alloc.Buffer
	released int
	fail     error
	closed   bool
}

func (a *fakeAllocator) Import(d *alloc.Dmabuf) (*alloc.Buffer, error) {
	if a.fail != nil {
		return nil, a.fail
	}
	var handles [drm.MaxPlanes]uint32
	for i := range d.Planes {
		handles[i] = uint32(len(a.imported)*drm.MaxPlanes + i + 1)
	}
	b := alloc.NewBuffer(d, handles, func() { a.released++ })
	a.imported = append(a.imported, b)
	return b, nil
}

func (a *fakeAllocator) NativeDevice() unsafe.Pointer { return nil }

func (a *fakeAllocator) Close() error {
	a.closed = true
	return nil
}

// fakeClient records presentation feedback.
type fakeClient struct {
	completed int
	released  []Resource
}

func (c *fakeClient) FrameComplete() { c.completed++ }

func (c *fakeClient) ReleaseBuffer(r Resource) { c.released = append(c.released, r) }

func (c *fakeClient) releases(r Resource) int {
	var n int
	for _, v := range c.released {
		if v == r {
			n++
		}
	}
	return n
}

func frame(w, h uint32, planes int) *alloc.Dmabuf {
	d := &alloc.Dmabuf{
		Width:    w,
		Height:   h,
		Format:   pixel.XRGB8888,
		Modifier: pixel.ModInvalid,
	}
	for i := 0; i < planes; i++ {
		d.Planes = append(d.Planes, alloc.Plane{Fd: 10 + i, Stride: w * 4})
	}
	return d
}

func testTarget(dev *fakeDevice) *Target {
	target, err := Discover(dev, zerolog.Nop())
	if err != nil {
		panic(err)
	}
	return target
}

func objectFor(d *alloc.Dmabuf) *alloc.Buffer {
	return alloc.NewBuffer(d, [drm.MaxPlanes]uint32{1}, nil)
}
