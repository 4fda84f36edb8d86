// Package seat opens DRM devices through systemd-logind, so the backend can run
// without root and without holding the device across VT switches.
package seat

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/godbus/dbus/v5"
	"github.com/rs/zerolog"
	"golang.org/x/sys/unix"
)

const (
	login1Bus    = "org.freedesktop.login1"
	login1Path   = dbus.ObjectPath("/org/freedesktop/login1")
	managerIface = login1Bus + ".Manager"
	sessionIface = login1Bus + ".Session"
)

// Session is the logind session of this process, with control taken.
type Session struct {
	log     zerolog.Logger
	conn    *dbus.Conn
	session dbus.BusObject
	path    dbus.ObjectPath

	mu      sync.Mutex
	devices map[string]Device
}

// Device is a device node identified by its device number.
type Device struct {
	Major, Minor uint32
}

// DeviceNumber looks up the device number of a device node.
func DeviceNumber(name string) (Device, error) {
	var st unix.Stat_t
	if err := unix.Stat(name, &st); err != nil {
		return Device{}, &os.PathError{Op: "stat", Path: name, Err: err}
	}
	if st.Mode&unix.S_IFMT != unix.S_IFCHR {
		return Device{}, fmt.Errorf("kms: %s is not a character device", name)
	}
	return Device{Major: unix.Major(uint64(st.Rdev)), Minor: unix.Minor(uint64(st.Rdev))}, nil
}

// Open connects to the system bus and takes control of the session this
// process belongs to.
func Open(ctx context.Context, log zerolog.Logger) (*Session, error) {
	conn, err := dbus.ConnectSystemBus(dbus.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("kms: connect to system bus: %w", err)
	}

	var path dbus.ObjectPath
	manager := conn.Object(login1Bus, login1Path)
	if err = manager.CallWithContext(ctx, managerIface+".GetSessionByPID", 0, uint32(os.Getpid())).Store(&path); err != nil {
		conn.Close()
		return nil, fmt.Errorf("kms: find logind session: %w", err)
	}

	session := conn.Object(login1Bus, path)
	if err = session.CallWithContext(ctx, sessionIface+".TakeControl", 0, false).Err; err != nil {
		conn.Close()
		return nil, fmt.Errorf("kms: take control of session %s: %w", path, err)
	}
	log.Debug().Str("session", string(path)).Msg("took session control")

	return &Session{
		log:     log,
		conn:    conn,
		session: session,
		path:    path,
		devices: make(map[string]Device),
	}, nil
}

// TakeDevice asks logind for a descriptor to the device node. The descriptor
// is switched to non-blocking mode and belongs to the caller.
func (s *Session) TakeDevice(ctx context.Context, name string) (int, error) {
	dev, err := DeviceNumber(name)
	if err != nil {
		return -1, err
	}

	var (
		fd       dbus.UnixFD
		inactive bool
	)
	if err = s.session.CallWithContext(ctx, sessionIface+".TakeDevice", 0, dev.Major, dev.Minor).Store(&fd, &inactive); err != nil {
		return -1, fmt.Errorf("kms: take device %s: %w", name, err)
	}
	if err = unix.SetNonblock(int(fd), true); err != nil {
		unix.Close(int(fd))
		return -1, err
	}
	if inactive {
		s.log.Warn().Str("device", name).Msg("session is inactive, device is paused")
	}

	s.mu.Lock()
	s.devices[name] = dev
	s.mu.Unlock()
	return int(fd), nil
}

// ReleaseDevice hands the device back to logind. The descriptor returned by
// TakeDevice is not closed.
func (s *Session) ReleaseDevice(ctx context.Context, name string) error {
	s.mu.Lock()
	dev, ok := s.devices[name]
	delete(s.devices, name)
	s.mu.Unlock()
	if !ok {
		return nil
	}
	return s.session.CallWithContext(ctx, sessionIface+".ReleaseDevice", 0, dev.Major, dev.Minor).Err
}

// Close releases all devices, gives up control and disconnects.
func (s *Session) Close() error {
	ctx := context.Background()

	s.mu.Lock()
	names := make([]string, 0, len(s.devices))
	for name := range s.devices {
		names = append(names, name)
	}
	s.mu.Unlock()

	for _, name := range names {
		if err := s.ReleaseDevice(ctx, name); err != nil {
			s.log.Warn().Err(err).Str("device", name).Msg("release device")
		}
	}
	if err := s.session.CallWithContext(ctx, sessionIface+".ReleaseControl", 0).Err; err != nil {
		s.log.Warn().Err(err).Msg("release session control")
	}
	return s.conn.Close()
}
