package ubx

// PingCommand polls MON-VER; any MON-VER answer proves the link.
var PingCommand = Command{0xB5, 0x62, 0x0A, 0x04, 0x00, 0x00, 0x0E, 0x34}

// NMEA output on UART1 (0x10730002) and USB (0x10740002), RAM layer.
var (
	disableNMEA = Command{
		0xB5, 0x62, 0x06, 0x8A, 0x0E, 0x00, 0x00, 0x01, 0x00,
		0x00, 0x02, 0x00, 0x73, 0x10, 0x00, 0x02, 0x00, 0x74,
		0x10, 0x00, 0xAA, 0x25,
	}
	enableNMEA = Command{
		0xB5, 0x62, 0x06, 0x8A, 0x0E, 0x00, 0x00, 0x01, 0x00,
		0x00, 0x02, 0x00, 0x74, 0x10, 0x01, 0x02, 0x00, 0x73,
		0x10, 0x01, 0xAC, 0x31,
	}
)

var (
	DisableNMEA = Sequence{disableNMEA}
	EnableNMEA  = Sequence{enableNMEA}
)
