package main

import (
	"context"
	"fmt"
	"math"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"

	"github.com/itohio/lorameter/pkg/adc"
	"github.com/itohio/lorameter/pkg/config"
	"github.com/itohio/lorameter/pkg/lorawan/atmodem"
	"github.com/itohio/lorameter/pkg/lorawan/semtech"
	"github.com/itohio/lorameter/pkg/region"
	"github.com/itohio/lorameter/pkg/store"
	"github.com/itohio/lorameter/pkg/store/badger"
	"github.com/itohio/lorameter/pkg/store/sqlite"
	"github.com/itohio/lorameter/pkg/uplink"
)

// radioSession is a LoRaWAN session backend.
type radioSession interface {
	uplink.Session
	uplink.Activator
	Close() error
}

func openStore(ctx context.Context, cfg config.StoreConfig) (store.CounterStore, error) {
	switch cfg.Backend {
	case "sqlite":
		return sqlite.Open(ctx, cfg.Path)
	case "badger":
		return badger.Open(cfg.Path)
	default:
		return store.NewMemory(), nil
	}
}

// openADC opens and starts the sensor ADC with the configured gain.
func openADC(ctx context.Context, cfg *config.Config, logger log.Logger) (adc.Device, error) {
	gain, err := adc.ParseGain(cfg.ADC.Gain)
	if err != nil {
		return nil, err
	}

	var dev adc.Device
	switch cfg.ADC.Backend {
	case "mock":
		dev = adc.NewMock(&cfg.Mock)
	default:
		d, err := adc.OpenADS1115(cfg.ADC.Bus, cfg.ADC.Address)
		if err != nil {
			return nil, err
		}
		dev = d
	}

	if err := dev.SetGain(gain); err != nil {
		dev.Close()
		return nil, err
	}
	if err := dev.Begin(ctx); err != nil {
		dev.Close()
		return nil, err
	}

	if mv := gain.MillivoltsPerBit(); math.Abs(mv-cfg.Calibration.MillivoltsPerBit) > 1e-9 {
		level.Warn(logger).Log("msg", "calibration resolution does not match the adc gain", "gain", gain, "gain_mv_per_bit", mv, "calibration_mv_per_bit", cfg.Calibration.MillivoltsPerBit)
	}

	level.Info(logger).Log("msg", "sensor started", "backend", cfg.ADC.Backend, "gain", gain)
	return dev, nil
}

func openRadio(cfg *config.Config, counters store.CounterStore, logger log.Logger) (radioSession, error) {
	plan, err := region.Lookup(cfg.Radio.Region)
	if err != nil {
		return nil, err
	}

	switch cfg.Radio.Backend {
	case "semtech":
		eui, err := semtech.ParseEUI(cfg.Radio.GatewayEUI)
		if err != nil {
			return nil, err
		}
		return semtech.New(semtech.Options{
			Address:    cfg.Radio.Address,
			GatewayEUI: eui,
			Plan:       plan,
			FPort:      cfg.Uplink.FPort,
			AckTimeout: cfg.Radio.CommandTimeout,
			RX1Delay:   cfg.Radio.RX1Delay,
			Store:      counters,
			Logger:     logger,
		}), nil
	case "atmodem":
		return atmodem.Open(cfg.Radio.Port, cfg.Radio.BaudRate, atmodem.Options{
			Plan:           plan,
			FPort:          cfg.Uplink.FPort,
			CommandTimeout: cfg.Radio.CommandTimeout,
			TxTimeout:      cfg.Radio.TxTimeout,
			Logger:         logger,
		})
	}
	return nil, fmt.Errorf("unknown radio backend %q", cfg.Radio.Backend)
}
