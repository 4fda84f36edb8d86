// Package pixel implements DRM pixel formats and images over scanout memory.
//
// Formats are fourcc codes as used by the kernel mode setting interfaces. The
// image types are compatible with Go's native [color.Color] and
// [image.Image] / [draw.Image] interfaces and can wrap mapped buffer memory
// with padded rows.
package pixel
