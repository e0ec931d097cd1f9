//go:build !tinygo

package link

import (
	"errors"
	"io"
	"runtime"

	"github.com/tarm/serial"
)

// DefaultBaud is the link speed used when none is given.
const DefaultBaud = 115200

// candidates lists the devices to try for dev on the host OS.
func candidates(goos, dev string) []string {
	if dev != "" {
		return []string{dev}
	}
	switch goos {
	case "windows":
		return []string{"COM3"}
	case "linux":
		return []string{"/dev/ttyACM0", "/dev/ttyUSB0"}
	case "darwin":
		return []string{"/dev/tty.usbmodem1"}
	}
	return nil
}

// Open opens the serial device dev at baud, or the first default
// device that opens when dev is empty. A zero baud selects
// DefaultBaud.
func Open(dev string, baud int) (io.ReadWriteCloser, error) {
	if baud == 0 {
		baud = DefaultBaud
	}
	if baud < 0 {
		return nil, errors.New("link: negative baud rate")
	}
	devs := candidates(runtime.GOOS, dev)
	if len(devs) == 0 {
		return nil, errors.New("link: no device specified")
	}
	var errs []error
	for _, d := range devs {
		s, err := serial.OpenPort(&serial.Config{Name: d, Baud: baud})
		if err == nil {
			return s, nil
		}
		errs = append(errs, err)
	}
	return nil, errors.Join(errs...)
}
