// Package drm is a thin binding of the Linux DRM/KMS uapi: mode resources,
// connectors, encoders, framebuffers, CRTCs, page flips, PRIME buffer sharing
// and the event stream read from the device file descriptor.
package drm

import (
	"fmt"
	"os"
	"runtime"
	"unsafe"

	"github.com/BeatGlow/kms/internal/ioctl"
	"golang.org/x/sys/unix"
)

// IOCTLBase is the DRM ioctl type, 'd'.
const IOCTLBase = 'd'

// Connection states.
const (
	Connected         = 1
	Disconnected      = 2
	UnknownConnection = 3
)

// Mode type flags.
const (
	ModeTypeBuiltin   = 1 << 0
	ModeTypePreferred = 1 << 3
	ModeTypeDefault   = 1 << 4
	ModeTypeUserdef   = 1 << 5
	ModeTypeDriver    = 1 << 6
)

// Framebuffer and page flip flags.
const (
	FBModifiers   = 1 << 1 // DRM_MODE_FB_MODIFIERS
	PageFlipEvent = 0x01   // DRM_MODE_PAGE_FLIP_EVENT
	PageFlipAsync = 0x02   // DRM_MODE_PAGE_FLIP_ASYNC
)

// Capabilities for GetCap.
const (
	CapDumbBuffer         = 0x1
	CapPrime              = 0x5
	CapTimestampMonotonic = 0x6
	CapAsyncPageFlip      = 0x7
	CapAddFB2Modifiers    = 0x10
)

// PRIME capability bits and flags.
const (
	PrimeCapImport = 0x1
	PrimeCapExport = 0x2

	// Flags for PrimeHandleToFD.
	CloseOnExec = unix.O_CLOEXEC
	ReadWrite   = unix.O_RDWR
)

// MaxPlanes is the number of planes a framebuffer can reference.
const MaxPlanes = 4

// DisplayModeLen is the length of a mode name.
const DisplayModeLen = 32

type (
	sysResources struct {
		fbIDPtr              uint64
		crtcIDPtr            uint64
		connectorIDPtr       uint64
		encoderIDPtr         uint64
		countFbs             uint32
		countCrtcs           uint32
		countConnectors      uint32
		countEncoders        uint32
		minWidth, maxWidth   uint32
		minHeight, maxHeight uint32
	}

	sysGetConnector struct {
		encodersPtr   uint64
		modesPtr      uint64
		propsPtr      uint64
		propValuesPtr uint64

		countModes    uint32
		countProps    uint32
		countEncoders uint32

		encoderID       uint32
		connectorID     uint32
		connectorType   uint32
		connectorTypeID uint32

		connection        uint32
		mmWidth, mmHeight uint32
		subpixel          uint32
		pad               uint32
	}

	sysGetEncoder struct {
		encoderID      uint32
		encoderType    uint32
		crtcID         uint32
		possibleCrtcs  uint32
		possibleClones uint32
	}

	sysCrtc struct {
		setConnectorsPtr uint64
		countConnectors  uint32

		crtcID uint32
		fbID   uint32

		x, y uint32

		gammaSize uint32
		modeValid uint32
		mode      ModeInfo
	}

	sysFBCmd2 struct {
		fbID          uint32
		width, height uint32
		pixelFormat   uint32
		flags         uint32
		handles       [MaxPlanes]uint32
		pitches       [MaxPlanes]uint32
		offsets       [MaxPlanes]uint32
		modifier      [MaxPlanes]uint64
	}

	sysPageFlip struct {
		crtcID   uint32
		fbID     uint32
		flags    uint32
		reserved uint32
		userData uint64
	}

	sysPrimeHandle struct {
		handle uint32
		flags  uint32
		fd     int32
	}

	sysGemClose struct {
		handle uint32
		pad    uint32
	}

	sysGetCap struct {
		capability uint64
		value      uint64
	}

	sysCreateDumb struct {
		height, width uint32
		bpp           uint32
		flags         uint32
		handle        uint32
		pitch         uint32
		size          uint64
	}

	sysMapDumb struct {
		handle uint32
		pad    uint32
		offset uint64
	}

	sysDestroyDumb struct {
		handle uint32
	}
)

var (
	ioctlSetMaster        = ioctl.IO(IOCTLBase, 0x1e)
	ioctlDropMaster       = ioctl.IO(IOCTLBase, 0x1f)
	ioctlGemClose         = ioctl.IOW(IOCTLBase, 0x09, unsafe.Sizeof(sysGemClose{}))
	ioctlGetCap           = ioctl.IOWR(IOCTLBase, 0x0c, unsafe.Sizeof(sysGetCap{}))
	ioctlPrimeHandleToFD  = ioctl.IOWR(IOCTLBase, 0x2d, unsafe.Sizeof(sysPrimeHandle{}))
	ioctlPrimeFDToHandle  = ioctl.IOWR(IOCTLBase, 0x2e, unsafe.Sizeof(sysPrimeHandle{}))
	ioctlModeGetResources = ioctl.IOWR(IOCTLBase, 0xa0, unsafe.Sizeof(sysResources{}))
	ioctlModeGetCrtc      = ioctl.IOWR(IOCTLBase, 0xa1, unsafe.Sizeof(sysCrtc{}))
	ioctlModeSetCrtc      = ioctl.IOWR(IOCTLBase, 0xa2, unsafe.Sizeof(sysCrtc{}))
	ioctlModeGetEncoder   = ioctl.IOWR(IOCTLBase, 0xa6, unsafe.Sizeof(sysGetEncoder{}))
	ioctlModeGetConnector = ioctl.IOWR(IOCTLBase, 0xa7, unsafe.Sizeof(sysGetConnector{}))
	ioctlModeRmFB         = ioctl.IOWR(IOCTLBase, 0xaf, unsafe.Sizeof(uint32(0)))
	ioctlModePageFlip     = ioctl.IOWR(IOCTLBase, 0xb0, unsafe.Sizeof(sysPageFlip{}))
	ioctlModeCreateDumb   = ioctl.IOWR(IOCTLBase, 0xb2, unsafe.Sizeof(sysCreateDumb{}))
	ioctlModeMapDumb      = ioctl.IOWR(IOCTLBase, 0xb3, unsafe.Sizeof(sysMapDumb{}))
	ioctlModeDestroyDumb  = ioctl.IOWR(IOCTLBase, 0xb4, unsafe.Sizeof(sysDestroyDumb{}))
	ioctlModeAddFB2       = ioctl.IOWR(IOCTLBase, 0xb8, unsafe.Sizeof(sysFBCmd2{}))
)

// ModeInfo is struct drm_mode_modeinfo.
type ModeInfo struct {
	Clock                                         uint32
	Hdisplay, HsyncStart, HsyncEnd, Htotal, Hskew uint16
	Vdisplay, VsyncStart, VsyncEnd, Vtotal, Vscan uint16

	Vrefresh uint32

	Flags uint32
	Type  uint32
	Name  [DisplayModeLen]uint8
}

// Width of the mode in pixels.
func (m *ModeInfo) Width() int { return int(m.Hdisplay) }

// Height of the mode in pixels.
func (m *ModeInfo) Height() int { return int(m.Vdisplay) }

// Area is the number of visible pixels.
func (m *ModeInfo) Area() int { return int(m.Hdisplay) * int(m.Vdisplay) }

// Preferred reports whether the kernel flagged the mode as preferred.
func (m *ModeInfo) Preferred() bool { return m.Type&ModeTypePreferred != 0 }

func (m *ModeInfo) String() string {
	name := m.Name[:]
	for i, b := range name {
		if b == 0 {
			name = name[:i]
			break
		}
	}
	if len(name) == 0 {
		return fmt.Sprintf("%dx%d@%d", m.Hdisplay, m.Vdisplay, m.Vrefresh)
	}
	return fmt.Sprintf("%s@%d", name, m.Vrefresh)
}

// Resources lists the mode objects of a device.
type Resources struct {
	Fbs        []uint32
	Crtcs      []uint32
	Connectors []uint32
	Encoders   []uint32

	MinWidth, MaxWidth   uint32
	MinHeight, MaxHeight uint32
}

// Connector is a display sink.
type Connector struct {
	ID         uint32
	EncoderID  uint32 // current encoder, 0 if none
	Type       uint32
	TypeID     uint32
	Connection uint32

	// Physical size in millimeters.
	MMWidth, MMHeight uint32

	Modes    []ModeInfo
	Encoders []uint32
}

var connectorTypeNames = []string{
	"Unknown", "VGA", "DVI-I", "DVI-D", "DVI-A", "Composite", "SVIDEO", "LVDS",
	"Component", "DIN", "DP", "HDMI-A", "HDMI-B", "TV", "eDP", "Virtual", "DSI",
	"DPI", "Writeback", "SPI", "USB",
}

// Name is the connector name the kernel uses, like HDMI-A-1.
func (c *Connector) Name() string {
	name := "Unknown"
	if int(c.Type) < len(connectorTypeNames) {
		name = connectorTypeNames[c.Type]
	}
	return fmt.Sprintf("%s-%d", name, c.TypeID)
}

// Encoder routes a CRTC to connectors.
type Encoder struct {
	ID             uint32
	Type           uint32
	CrtcID         uint32
	PossibleCrtcs  uint32
	PossibleClones uint32
}

// Crtc is the current state of a CRTC.
type Crtc struct {
	ID        uint32
	BufferID  uint32
	X, Y      uint32
	ModeValid bool
	Mode      ModeInfo
	GammaSize uint32
}

// Framebuffer describes a multi-planar framebuffer to register with AddFB2.
type Framebuffer struct {
	Width, Height uint32
	Format        uint32
	Flags         uint32
	Handles       [MaxPlanes]uint32
	Pitches       [MaxPlanes]uint32
	Offsets       [MaxPlanes]uint32
	Modifiers     [MaxPlanes]uint64
}

// DumbBuffer is a CPU-mappable scanout buffer.
type DumbBuffer struct {
	Handle        uint32
	Width, Height uint32
	BPP           uint32
	Pitch         uint32
	Size          uint64
}

// Card is an open DRM device node.
type Card struct {
	fd    int
	name  string
	owned bool
}

// Open a DRM device node, typically /dev/dri/card0. The descriptor is
// non-blocking so reading the event stream never stalls the caller.
func Open(name string) (*Card, error) {
	fd, err := unix.Open(name, unix.O_RDWR|unix.O_CLOEXEC|unix.O_NONBLOCK, 0)
	if err != nil {
		return nil, &os.PathError{Op: "open", Path: name, Err: err}
	}
	return &Card{fd: fd, name: name, owned: true}, nil
}

// NewCard wraps an already opened device descriptor, for example one handed
// out by logind. The card owns the descriptor.
func NewCard(fd int, name string) *Card {
	return &Card{fd: fd, name: name, owned: true}
}

// Borrow wraps a descriptor owned by someone else; Close leaves it open.
func Borrow(fd int) *Card {
	return &Card{fd: fd, name: fmt.Sprintf("fd:%d", fd)}
}

// Name of the device node.
func (c *Card) Name() string { return c.name }

// Fd returns the device file descriptor.
func (c *Card) Fd() int { return c.fd }

// Close the device.
func (c *Card) Close() error {
	if !c.owned || c.fd < 0 {
		return nil
	}
	fd := c.fd
	c.fd = -1
	return unix.Close(fd)
}

func (c *Card) ioctl(cmd ioctl.Command, arg unsafe.Pointer) error {
	return ioctl.Do(uintptr(c.fd), cmd, arg)
}

// SetMaster acquires DRM master.
func (c *Card) SetMaster() error {
	return ioctl.Call(uintptr(c.fd), uintptr(ioctlSetMaster), 0)
}

// DropMaster releases DRM master.
func (c *Card) DropMaster() error {
	return ioctl.Call(uintptr(c.fd), uintptr(ioctlDropMaster), 0)
}

// GetCap queries a device capability.
func (c *Card) GetCap(capability uint64) (uint64, error) {
	req := &sysGetCap{capability: capability}
	if err := c.ioctl(ioctlGetCap, unsafe.Pointer(req)); err != nil {
		return 0, err
	}
	return req.value, nil
}

// Resources retrieves the mode resources of the device.
func (c *Card) Resources() (*Resources, error) {
	// The object counts can change between the two calls when something is
	// hot-plugged; retry until the kernel and our buffers agree.
	for {
		res := &sysResources{}
		if err := c.ioctl(ioctlModeGetResources, unsafe.Pointer(res)); err != nil {
			return nil, err
		}

		var (
			counts = *res
			out    = &Resources{
				Fbs:        make([]uint32, res.countFbs),
				Crtcs:      make([]uint32, res.countCrtcs),
				Connectors: make([]uint32, res.countConnectors),
				Encoders:   make([]uint32, res.countEncoders),
			}
		)
		res.fbIDPtr = slicePtr(out.Fbs)
		res.crtcIDPtr = slicePtr(out.Crtcs)
		res.connectorIDPtr = slicePtr(out.Connectors)
		res.encoderIDPtr = slicePtr(out.Encoders)
		if err := c.ioctl(ioctlModeGetResources, unsafe.Pointer(res)); err != nil {
			return nil, err
		}
		if res.countFbs > counts.countFbs || res.countCrtcs > counts.countCrtcs ||
			res.countConnectors > counts.countConnectors || res.countEncoders > counts.countEncoders {
			continue
		}

		out.Fbs = out.Fbs[:res.countFbs]
		out.Crtcs = out.Crtcs[:res.countCrtcs]
		out.Connectors = out.Connectors[:res.countConnectors]
		out.Encoders = out.Encoders[:res.countEncoders]
		out.MinWidth, out.MaxWidth = res.minWidth, res.maxWidth
		out.MinHeight, out.MaxHeight = res.minHeight, res.maxHeight
		return out, nil
	}
}

// Connector retrieves a connector and its modes.
func (c *Card) Connector(id uint32) (*Connector, error) {
	for {
		conn := &sysGetConnector{connectorID: id}
		if err := c.ioctl(ioctlModeGetConnector, unsafe.Pointer(conn)); err != nil {
			return nil, err
		}

		var (
			counts   = *conn
			modes    = make([]ModeInfo, conn.countModes)
			encoders = make([]uint32, conn.countEncoders)
		)
		// Properties are not used; ask for none.
		conn.countProps = 0
		if len(modes) > 0 {
			conn.modesPtr = uint64(uintptr(unsafe.Pointer(&modes[0])))
		}
		conn.encodersPtr = slicePtr(encoders)
		if err := c.ioctl(ioctlModeGetConnector, unsafe.Pointer(conn)); err != nil {
			return nil, err
		}
		if conn.countModes > counts.countModes || conn.countEncoders > counts.countEncoders {
			continue
		}

		return &Connector{
			ID:         conn.connectorID,
			EncoderID:  conn.encoderID,
			Type:       conn.connectorType,
			TypeID:     conn.connectorTypeID,
			Connection: conn.connection,
			MMWidth:    conn.mmWidth,
			MMHeight:   conn.mmHeight,
			Modes:      modes[:conn.countModes],
			Encoders:   encoders[:conn.countEncoders],
		}, nil
	}
}

// Encoder retrieves an encoder.
func (c *Card) Encoder(id uint32) (*Encoder, error) {
	enc := &sysGetEncoder{encoderID: id}
	if err := c.ioctl(ioctlModeGetEncoder, unsafe.Pointer(enc)); err != nil {
		return nil, err
	}
	return &Encoder{
		ID:             enc.encoderID,
		Type:           enc.encoderType,
		CrtcID:         enc.crtcID,
		PossibleCrtcs:  enc.possibleCrtcs,
		PossibleClones: enc.possibleClones,
	}, nil
}

// Crtc retrieves the current state of a CRTC.
func (c *Card) Crtc(id uint32) (*Crtc, error) {
	crtc := &sysCrtc{crtcID: id}
	if err := c.ioctl(ioctlModeGetCrtc, unsafe.Pointer(crtc)); err != nil {
		return nil, err
	}
	return &Crtc{
		ID:        crtc.crtcID,
		BufferID:  crtc.fbID,
		X:         crtc.x,
		Y:         crtc.y,
		ModeValid: crtc.modeValid != 0,
		Mode:      crtc.mode,
		GammaSize: crtc.gammaSize,
	}, nil
}

// SetCrtc performs a legacy modeset: it binds the connectors and the mode to the
// CRTC, scanning out framebuffer fbID at (x, y). A nil mode disables the CRTC.
func (c *Card) SetCrtc(crtcID, fbID, x, y uint32, connectors []uint32, mode *ModeInfo) error {
	crtc := &sysCrtc{
		crtcID:           crtcID,
		fbID:             fbID,
		x:                x,
		y:                y,
		setConnectorsPtr: slicePtr(connectors),
		countConnectors:  uint32(len(connectors)),
	}
	if mode != nil {
		crtc.mode = *mode
		crtc.modeValid = 1
	}
	err := c.ioctl(ioctlModeSetCrtc, unsafe.Pointer(crtc))
	// The kernel reads connectors through a plain address.
	runtime.KeepAlive(connectors)
	return err
}

// AddFB2 registers a framebuffer and returns its id.
func (c *Card) AddFB2(fb *Framebuffer) (uint32, error) {
	req := &sysFBCmd2{
		width:       fb.Width,
		height:      fb.Height,
		pixelFormat: fb.Format,
		flags:       fb.Flags,
		handles:     fb.Handles,
		pitches:     fb.Pitches,
		offsets:     fb.Offsets,
		modifier:    fb.Modifiers,
	}
	if err := c.ioctl(ioctlModeAddFB2, unsafe.Pointer(req)); err != nil {
		return 0, err
	}
	return req.fbID, nil
}

// RmFB removes a framebuffer.
func (c *Card) RmFB(fbID uint32) error {
	id := fbID
	return c.ioctl(ioctlModeRmFB, unsafe.Pointer(&id))
}

// PageFlip schedules fbID to be scanned out by the CRTC at the next vblank.
// With PageFlipEvent set, completion is reported as an event carrying userData.
func (c *Card) PageFlip(crtcID, fbID, flags uint32, userData uint64) error {
	req := &sysPageFlip{
		crtcID:   crtcID,
		fbID:     fbID,
		flags:    flags,
		userData: userData,
	}
	return c.ioctl(ioctlModePageFlip, unsafe.Pointer(req))
}

// PrimeFDToHandle imports a dma-buf file descriptor as a GEM handle.
func (c *Card) PrimeFDToHandle(fd int) (uint32, error) {
	req := &sysPrimeHandle{fd: int32(fd)}
	if err := c.ioctl(ioctlPrimeFDToHandle, unsafe.Pointer(req)); err != nil {
		return 0, err
	}
	return req.handle, nil
}

// PrimeHandleToFD exports a GEM handle as a dma-buf file descriptor.
func (c *Card) PrimeHandleToFD(handle uint32, flags uint32) (int, error) {
	req := &sysPrimeHandle{handle: handle, flags: flags, fd: -1}
	if err := c.ioctl(ioctlPrimeHandleToFD, unsafe.Pointer(req)); err != nil {
		return -1, err
	}
	return int(req.fd), nil
}

// GemClose releases a GEM handle.
func (c *Card) GemClose(handle uint32) error {
	return c.ioctl(ioctlGemClose, unsafe.Pointer(&sysGemClose{handle: handle}))
}

// CreateDumb allocates a dumb buffer.
func (c *Card) CreateDumb(width, height, bpp uint32) (*DumbBuffer, error) {
	req := &sysCreateDumb{width: width, height: height, bpp: bpp}
	if err := c.ioctl(ioctlModeCreateDumb, unsafe.Pointer(req)); err != nil {
		return nil, err
	}
	return &DumbBuffer{
		Handle: req.handle,
		Width:  req.width,
		Height: req.height,
		BPP:    req.bpp,
		Pitch:  req.pitch,
		Size:   req.size,
	}, nil
}

// MapDumb maps a dumb buffer into memory.
func (c *Card) MapDumb(buf *DumbBuffer) ([]byte, error) {
	req := &sysMapDumb{handle: buf.Handle}
	if err := c.ioctl(ioctlModeMapDumb, unsafe.Pointer(req)); err != nil {
		return nil, err
	}
	return unix.Mmap(c.fd, int64(req.offset), int(buf.Size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
}

// UnmapDumb unmaps memory returned by MapDumb.
func (c *Card) UnmapDumb(mem []byte) error {
	return unix.Munmap(mem)
}

// DestroyDumb frees a dumb buffer.
func (c *Card) DestroyDumb(handle uint32) error {
	return c.ioctl(ioctlModeDestroyDumb, unsafe.Pointer(&sysDestroyDumb{handle: handle}))
}

// Read queued events from the device. The descriptor must be readable; the
// caller is expected to poll it first.
func (c *Card) Read(p []byte) (int, error) {
	return unix.Read(c.fd, p)
}

func slicePtr(s []uint32) uint64 {
	if len(s) == 0 {
		return 0
	}
	return uint64(uintptr(unsafe.Pointer(&s[0])))
}
