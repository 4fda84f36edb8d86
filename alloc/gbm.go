//go:build linux && cgo && gbm

package alloc

/*
#cgo pkg-config: gbm
#include <stdint.h>
#include <gbm.h>

static uint32_t bo_plane_handle(struct gbm_bo *bo, int plane) {
	return gbm_bo_get_handle_for_plane(bo, plane).u32;
}
*/
import "C"

import (
	"fmt"
	"unsafe"

	"github.com/BeatGlow/kms/drm"
	"github.com/BeatGlow/kms/pixel"
	"github.com/rs/zerolog"
)

// GBM imports dma-bufs through libgbm.
type GBM struct {
	dev *C.struct_gbm_device
	log zerolog.Logger
}

// Open a libgbm device on the DRM device descriptor fd. The descriptor stays
// owned by the caller.
func Open(fd int, log zerolog.Logger) (Allocator, error) {
	dev := C.gbm_create_device(C.int(fd))
	if dev == nil {
		return nil, fmt.Errorf("%w: gbm_create_device failed", ErrUnsupported)
	}
	log.Debug().Str("backend", C.GoString(C.gbm_device_get_backend_name(dev))).Msg("gbm device")
	return &GBM{dev: dev, log: log}, nil
}

func (g *GBM) Import(d *Dmabuf) (*Buffer, error) {
	if err := d.Validate(); err != nil {
		return nil, err
	}

	var data C.struct_gbm_import_fd_modifier_data
	data.width = C.uint32_t(d.Width)
	data.height = C.uint32_t(d.Height)
	data.format = C.uint32_t(d.Format)
	data.num_fds = C.uint32_t(len(d.Planes))
	for i, p := range d.Planes {
		data.fds[i] = C.int(p.Fd)
		data.strides[i] = C.int(p.Stride)
		data.offsets[i] = C.int(p.Offset)
	}
	data.modifier = C.uint64_t(d.Modifier)

	bo := C.gbm_bo_import(g.dev, C.GBM_BO_IMPORT_FD_MODIFIER, unsafe.Pointer(&data), C.GBM_BO_USE_SCANOUT)
	if bo == nil {
		return nil, fmt.Errorf("kms: gbm_bo_import %s failed", d)
	}

	var (
		handles [drm.MaxPlanes]uint32
		planes  = int(C.gbm_bo_get_plane_count(bo))
	)
	if planes > drm.MaxPlanes {
		C.gbm_bo_destroy(bo)
		return nil, fmt.Errorf("%w: %d", ErrPlaneCount, planes)
	}
	for i := 0; i < planes; i++ {
		handles[i] = uint32(C.bo_plane_handle(bo, C.int(i)))
	}
	b := NewBuffer(d, handles, func() { C.gbm_bo_destroy(bo) })

	// The driver may have picked a layout of its own.
	b.Planes = planes
	b.Format = pixel.Format(C.gbm_bo_get_format(bo))
	b.Modifier = uint64(C.gbm_bo_get_modifier(bo))
	for i := 0; i < planes; i++ {
		b.Strides[i] = uint32(C.gbm_bo_get_stride_for_plane(bo, C.int(i)))
		b.Offsets[i] = uint32(C.gbm_bo_get_offset(bo, C.int(i)))
	}
	return b, nil
}

// NativeDevice is the struct gbm_device.
func (g *GBM) NativeDevice() unsafe.Pointer {
	return unsafe.Pointer(g.dev)
}

func (g *GBM) Close() error {
	if g.dev != nil {
		C.gbm_device_destroy(g.dev)
		g.dev = nil
	}
	return nil
}
