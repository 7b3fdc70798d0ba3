//go:build tinygo

package main

import (
	"time"

	"machine"

	"github.com/itohio/lorameter/pkg/adc"
)

const (
	// ADS1115 on I2C0, ADDR tied to GND
	PIN_SDA         = machine.SDA_PIN
	PIN_SCL         = machine.SCL_PIN
	I2C_FREQUENCY   = 400 * machine.KHz
	ADS1115_ADDRESS = adc.DefaultAddress
	ADS1115_GAIN    = adc.GainTwo // +/-2.048V, 0.0625 mV per bit

	// RUI3 modem on UART1
	PIN_MODEM_TX = machine.UART_TX_PIN
	PIN_MODEM_RX = machine.UART_RX_PIN

	// Delay between status LED blinks after a fatal error
	HALT_BLINK = 500 * time.Millisecond
)
