// Package ioctl encodes and issues Linux ioctl requests.
package ioctl

import (
	"errors"
	"fmt"
	"unsafe"

	"golang.org/x/sys/unix"
)

// Mode is the IOCTL mode.
type Mode uint8

// Modes
const (
	None  Mode = iota
	Write      // userspace writes the argument
	Read       // kernel writes the argument
)

// Command to be sent over ioctl.
type Command uintptr

func (c Command) String() string {
	var (
		mode = Mode(c >> 30 & 0x03)
		size = c >> 16 & 0x3fff
		typ  = c >> 8 & 0xff
		nr   = c & 0xff
		str  string
	)
	if mode&Write > 0 {
		str += " write"
	}
	if mode&Read > 0 {
		str += " read"
	}
	return fmt.Sprintf("ioctl%s (%d bytes) '%c' 0x%02x", str, size, rune(typ), uintptr(nr))
}

// Error is a failed ioctl call.
type Error struct {
	Command Command
	Errno   unix.Errno
}

func (err *Error) Error() string {
	return fmt.Sprintf("%s failed: %v", err.Command, err.Errno)
}

// Unwrap returns the errno so callers can use errors.Is(err, unix.EBUSY).
func (err *Error) Unwrap() error {
	return err.Errno
}

// Errno extracts the errno from an ioctl error, or 0.
func Errno(err error) unix.Errno {
	var e *Error
	if errors.As(err, &e) {
		return e.Errno
	}
	return 0
}

// Do executes the ioctl call with a pointer argument. Interrupted calls are
// restarted, like libdrm's drmIoctl.
func Do(fd uintptr, command Command, arg unsafe.Pointer) error {
	for {
		_, _, errno := unix.Syscall(unix.SYS_IOCTL, fd, uintptr(command), uintptr(arg))
		switch errno {
		case 0:
			return nil
		case unix.EINTR, unix.EAGAIN:
			continue
		default:
			return &Error{Command: command, Errno: errno}
		}
	}
}

// Call does a plain ioctl system call.
func Call(fd, command, arg uintptr) error {
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, fd, command, arg)
	if errno != 0 {
		return &Error{Command: Command(command), Errno: errno}
	}
	return nil
}

// Encode an ioctl command.
func Encode(mode Mode, size uint16, typ, nr uint8) Command {
	return Command(mode)<<30 | Command(size)<<16 | Command(typ)<<8 | Command(nr)
}

// IO is _IO(typ, nr).
func IO(typ, nr uint8) Command {
	return Encode(None, 0, typ, nr)
}

// IOW is _IOW(typ, nr, size).
func IOW(typ, nr uint8, size uintptr) Command {
	return Encode(Write, uint16(size), typ, nr)
}

// IOWR is _IOWR(typ, nr, size).
func IOWR(typ, nr uint8, size uintptr) Command {
	return Encode(Read|Write, uint16(size), typ, nr)
}
