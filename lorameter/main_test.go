package main

import (
	"bytes"
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-kit/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/itohio/lorameter/pkg/config"
	"github.com/itohio/lorameter/pkg/store"
	"github.com/itohio/lorameter/pkg/store/badger"
)

func TestDecode(t *testing.T) {
	var out bytes.Buffer
	// "c|1.016202"
	require.Equal(t, 0, decode(&out, 1, []string{"637c312e303136323032"}))

	var fields map[string]interface{}
	require.NoError(t, json.Unmarshal(out.Bytes(), &fields))
	assert.Equal(t, "text", fields["format"])
	assert.InDelta(t, 1.016202, fields["current_a"], 1e-6)

	assert.Equal(t, 1, decode(&out, 1, nil))
	assert.Equal(t, 1, decode(&out, 1, []string{"zz"}))
}

func TestOpenStore(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	for _, backend := range []string{"memory", "sqlite", "badger"} {
		t.Run(backend, func(t *testing.T) {
			s, err := openStore(ctx, config.StoreConfig{Backend: backend, Path: filepath.Join(dir, backend)})
			require.NoError(t, err)
			defer s.Close()

			require.NoError(t, s.Save(ctx, store.Sweep, 1500))
			v, err := s.Load(ctx, store.Sweep)
			require.NoError(t, err)
			assert.Equal(t, uint32(1500), v)
		})
	}
}

func TestOpenADC_Mock(t *testing.T) {
	cfg := config.Default()
	cfg.ADC.Backend = "mock"
	cfg.Mock.SampleRate = time.Microsecond

	dev, err := openADC(context.Background(), cfg, log.NewNopLogger())
	require.NoError(t, err)
	defer dev.Close()

	_, err = dev.ReadDifferential(context.Background())
	assert.NoError(t, err)

	cfg.ADC.Gain = "seven"
	_, err = openADC(context.Background(), cfg, log.NewNopLogger())
	assert.Error(t, err)
}

func TestOpenRadio_Errors(t *testing.T) {
	cfg := config.Default()

	cfg.Radio.Region = "XX000"
	_, err := openRadio(cfg, store.NewMemory(), log.NewNopLogger())
	assert.Error(t, err)

	cfg.Radio.Region = "EU868"
	cfg.Radio.Backend = "semtech"
	cfg.Radio.GatewayEUI = "01"
	_, err = openRadio(cfg, store.NewMemory(), log.NewNopLogger())
	assert.Error(t, err)

	cfg.Radio.GatewayEUI = "0000000000000001"
	r, err := openRadio(cfg, store.NewMemory(), log.NewNopLogger())
	require.NoError(t, err)
	assert.NoError(t, r.Close())
}

func TestRun_StartupFailureClosesStore(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(cfg *config.Config)
	}{
		{name: "radio", mutate: func(cfg *config.Config) {
			cfg.Radio.Backend = "atmodem"
			cfg.Radio.Port = filepath.Join(t.TempDir(), "ttyUSB9")
		}},
		{name: "activation", mutate: func(cfg *config.Config) {
			cfg.Radio.Backend = "semtech"
			cfg.Radio.Address = "127.0.0.1:1"
			cfg.Radio.GatewayEUI = "0000000000000001"
			cfg.Radio.CommandTimeout = 50 * time.Millisecond
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.Default()
			cfg.ADC.Backend = "mock"
			cfg.Mock.SampleRate = time.Microsecond
			cfg.Store = config.StoreConfig{Backend: "badger", Path: filepath.Join(t.TempDir(), "counters")}
			cfg.Session = config.SessionConfig{
				DevAddr: "26011F3A",
				NwkSKey: "2B7E151628AED2A6ABF7158809CF4F3C",
				AppSKey: "000102030405060708090A0B0C0D0E0F",
			}
			tt.mutate(cfg)

			assert.Equal(t, 2, run(context.Background(), cfg, log.NewNopLogger()))

			// the directory lock is released
			db, err := badger.Open(cfg.Store.Path)
			require.NoError(t, err)
			assert.NoError(t, db.Close())
		})
	}
}
