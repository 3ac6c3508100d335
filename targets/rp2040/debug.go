//go:build rp2040

package main

import (
	"machine"
)

var debugUART *machine.UART

// InitDebugUART starts UART0 on GPIO0 (TX) and GPIO1 (RX) at 115200 baud
// and routes core debug output to it.
func InitDebugUART() {
	uart := machine.UART0
	err := uart.Configure(machine.UARTConfig{
		BaudRate: 115200,
		TX:       machine.GPIO0,
		RX:       machine.GPIO1,
	})
	if err != nil {
		return
	}
	debugUART = uart
}

// DebugPrintln writes a string to the debug UART with newline
func DebugPrintln(s string) {
	if debugUART == nil {
		return
	}
	debugUART.Write([]byte(s))
	debugUART.Write([]byte("\r\n"))
}
