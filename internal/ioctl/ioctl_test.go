package ioctl

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"golang.org/x/sys/unix"
)

func TestEncode(t *testing.T) {
	tests := []struct {
		name string
		cmd  Command
		want uintptr
	}{
		// Values from <drm/drm.h> as compiled on amd64.
		{"SET_MASTER", IO('d', 0x1e), 0x641e},
		{"MODE_SETCRTC", IOWR('d', 0xa2, 104), 0xc06864a2},
		{"MODE_GETRESOURCES", IOWR('d', 0xa0, 64), 0xc04064a0},
		{"MODE_REVOKE_LEASE", IOW('d', 0xc9, 4), 0x400464c9},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			assert.Equal(t, test.want, uintptr(test.cmd))
		})
	}
}

func TestCommandString(t *testing.T) {
	assert.Equal(t, "ioctl write read (104 bytes) 'd' 0xa2", IOWR('d', 0xa2, 104).String())
	assert.Equal(t, "ioctl (0 bytes) 'd' 0x1e", IO('d', 0x1e).String())
}

func TestErrno(t *testing.T) {
	err := fmt.Errorf("page flip: %w", &Error{Command: IO('d', 0xb0), Errno: unix.EBUSY})
	assert.True(t, errors.Is(err, unix.EBUSY))
	assert.Equal(t, unix.EBUSY, Errno(err))
	assert.Equal(t, unix.Errno(0), Errno(errors.New("other")))
}
