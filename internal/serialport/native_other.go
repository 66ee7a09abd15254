//go:build !linux

package serialport

func openNative(path string, baud int) (Port, error) {
	return OpenPump(path, baud)
}
