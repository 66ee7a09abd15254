//go:build linux

package serialport

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sys/unix"
)

type termiosPort struct {
	mu   sync.Mutex
	fd   int
	path string
}

func openNative(path string, baud int) (Port, error) {
	flag := unix.O_RDWR | unix.O_NOCTTY
	fd, err := unix.Open(path, flag, 0)
	if err != nil {
		return nil, err
	}

	// Best-effort: if anything below fails, close fd.
	ok := false
	defer func() {
		if !ok {
			_ = unix.Close(fd)
		}
	}()

	if err := configure(fd, baud); err != nil {
		return nil, fmt.Errorf("serialport %s: %w", path, err)
	}
	ok = true
	return &termiosPort{fd: fd, path: path}, nil
}

func configure(fd, baud int) error {
	t, err := unix.IoctlGetTermios(fd, unix.TCGETS)
	if err != nil {
		return err
	}

	spd, err := baudToUnix(baud)
	if err != nil {
		return err
	}

	// Raw mode, 8N1, no flow control.
	t.Iflag &^= unix.IGNBRK | unix.BRKINT | unix.PARMRK | unix.ISTRIP | unix.INLCR | unix.IGNCR | unix.ICRNL | unix.IXON | unix.IXOFF
	t.Oflag &^= unix.OPOST
	t.Lflag &^= unix.ECHO | unix.ECHONL | unix.ICANON | unix.ISIG | unix.IEXTEN
	t.Cflag &^= unix.CSIZE | unix.PARENB | unix.CSTOPB | unix.CRTSCTS
	t.Cflag |= unix.CS8 | unix.CREAD | unix.CLOCAL

	// Polling read: return immediately with whatever is buffered.
	t.Cc[unix.VMIN] = 0
	t.Cc[unix.VTIME] = 0

	t.Cflag &^= unix.CBAUD
	t.Cflag |= spd
	t.Ispeed = spd
	t.Ospeed = spd

	if err := unix.IoctlSetTermios(fd, unix.TCSETS, t); err != nil {
		return err
	}
	return unix.IoctlSetInt(fd, unix.TCFLSH, unix.TCIOFLUSH)
}

func (p *termiosPort) handle() (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.fd < 0 {
		return -1, ErrClosed
	}
	return p.fd, nil
}

func (p *termiosPort) Read(b []byte) (int, error) {
	fd, err := p.handle()
	if err != nil {
		return 0, err
	}
	n, err := unix.Read(fd, b)
	if err != nil {
		if errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EINTR) {
			return 0, nil
		}
		return 0, err
	}
	if n < 0 {
		return 0, nil
	}
	return n, nil
}

func (p *termiosPort) Write(b []byte) (int, error) {
	fd, err := p.handle()
	if err != nil {
		return 0, err
	}
	written := 0
	for written < len(b) {
		n, err := unix.Write(fd, b[written:])
		if err != nil {
			if errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EINTR) {
				time.Sleep(time.Millisecond)
				continue
			}
			return written, err
		}
		written += n
	}
	return written, nil
}

func (p *termiosPort) SetBaud(baud int) error {
	if !Supported(baud) {
		return fmt.Errorf("serialport: unsupported baud %d", baud)
	}
	fd, err := p.handle()
	if err != nil {
		return err
	}
	// Let queued output leave at the old rate.
	_ = unix.IoctlSetInt(fd, unix.TCSBRK, 1)
	return configure(fd, baud)
}

func (p *termiosPort) Flush() error {
	fd, err := p.handle()
	if err != nil {
		return err
	}
	return unix.IoctlSetInt(fd, unix.TCFLSH, unix.TCIFLUSH)
}

func (p *termiosPort) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.fd < 0 {
		return nil
	}
	err := unix.Close(p.fd)
	p.fd = -1
	return err
}

func baudToUnix(baud int) (uint32, error) {
	switch baud {
	case 4800:
		return unix.B4800, nil
	case 9600:
		return unix.B9600, nil
	case 19200:
		return unix.B19200, nil
	case 38400:
		return unix.B38400, nil
	case 57600:
		return unix.B57600, nil
	case 115200:
		return unix.B115200, nil
	case 230400:
		return unix.B230400, nil
	case 460800:
		return unix.B460800, nil
	case 500000:
		return unix.B500000, nil
	case 576000:
		return unix.B576000, nil
	case 921600:
		return unix.B921600, nil
	default:
		return 0, fmt.Errorf("unsupported baud %d", baud)
	}
}
