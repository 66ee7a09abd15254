// Package gps runs a u-blox receiver: startup configuration over UBX,
// profile changes, NMEA position parsing, status derivation and fan-out to
// publishers. It also switches the UART into a raw relay for serial
// passthrough.
//
// The Engine is single threaded. Loop owns it and serializes outside
// requests onto the tick goroutine.
package gps
