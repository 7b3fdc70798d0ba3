//go:build tinygo

//go:generate tinygo flash -target=xiao -ldflags="-X main.devAddr=26011F3A -X main.nwkSKey=... -X main.appSKey=..."

package main

import (
	"context"
	"time"

	"machine"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"

	"github.com/itohio/lorameter/pkg/adc"
	"github.com/itohio/lorameter/pkg/config"
	"github.com/itohio/lorameter/pkg/lorawan/atmodem"
	"github.com/itohio/lorameter/pkg/meter"
	"github.com/itohio/lorameter/pkg/payload"
	"github.com/itohio/lorameter/pkg/region"
	"github.com/itohio/lorameter/pkg/sample"
	"github.com/itohio/lorameter/pkg/store"
	"github.com/itohio/lorameter/pkg/uplink"
)

// Session keys are linked in at build time.
var (
	devAddr string
	nwkSKey string
	appSKey string
)

func main() {
	logger := log.NewLogfmtLogger(machine.Serial)
	logger = level.NewFilter(logger, level.AllowInfo())

	cfg := config.Default()
	cfg.Session = config.SessionConfig{DevAddr: devAddr, NwkSKey: nwkSKey, AppSKey: appSKey}

	machine.LED.Configure(machine.PinConfig{Mode: machine.PinOutput})

	machine.I2C0.Configure(machine.I2CConfig{
		SDA:       PIN_SDA,
		SCL:       PIN_SCL,
		Frequency: I2C_FREQUENCY,
	})
	sensor := adc.NewADS1115(machine.I2C0, ADS1115_ADDRESS)

	uart := machine.UART1
	uart.Configure(machine.UARTConfig{
		BaudRate: atmodem.DefaultBaudRate,
		TX:       PIN_MODEM_TX,
		RX:       PIN_MODEM_RX,
	})
	modem := atmodem.New(&uartPort{uart: uart}, atmodem.Options{
		Plan:   region.EU868,
		FPort:  cfg.Uplink.FPort,
		Logger: logger,
	})

	ctx := context.Background()

	if err := sensor.SetGain(ADS1115_GAIN); err != nil {
		halt(logger, "failed to set adc gain", err)
	}
	if err := sensor.Begin(ctx); err != nil {
		halt(logger, "failed to start the sensor", err)
	}

	creds, err := uplink.ParseCredentials(cfg.Session)
	if err != nil {
		halt(logger, "invalid session", err)
	}
	initial := uplink.DataRate(cfg.Uplink.InitialDataRate)
	if err := uplink.Activate(ctx, modem, creds, initial, cfg.Uplink.DutyCycle); err != nil {
		halt(logger, "failed to activate the session", err)
	}

	scheduler, err := uplink.New(sample.New(sensor, nil), modem, uplink.Options{
		Samples:     cfg.Sampling.Samples,
		Calibration: meter.CalibrationFromConfig(cfg.Calibration),
		Encoder:     payload.Text{Precision: cfg.Uplink.Precision},
		Schedule:    uplink.NewSchedule(cfg.Uplink.BinWidth),
		Interval:    cfg.Uplink.Interval,
		Logger:      logger,
		Store:       store.NewMemory(),
	})
	if err != nil {
		halt(logger, "failed to create the scheduler", err)
	}

	scheduler.OnUpdate(func(st uplink.Status) {
		machine.LED.Set(st.State == uplink.Sending)
	})

	if err := scheduler.Run(ctx); err != nil {
		halt(logger, "uplink loop stopped", err)
	}
}

// halt logs a fatal error and blinks the LED forever.
func halt(logger log.Logger, msg string, err error) {
	level.Error(logger).Log("msg", msg, "error", err)
	for {
		machine.LED.Set(!machine.LED.Get())
		time.Sleep(HALT_BLINK)
	}
}

// uartPort adapts the non-blocking UART to the blocking reads the modem
// line reader expects.
type uartPort struct {
	uart *machine.UART
}

func (p *uartPort) Read(b []byte) (int, error) {
	for p.uart.Buffered() == 0 {
		time.Sleep(time.Millisecond)
	}
	return p.uart.Read(b)
}

func (p *uartPort) Write(b []byte) (int, error) {
	return p.uart.Write(b)
}

func (p *uartPort) Close() error {
	return nil
}
