package uplink

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/itohio/lorameter/pkg/config"
)

var (
	// ErrInitialization is returned when the ADC or the radio fails to start.
	ErrInitialization = errors.New("initialization failed")
	// ErrActivation is returned when the ABP session cannot be activated.
	ErrActivation = errors.New("activation failed")
	// ErrInvalidCredentials is returned by ParseCredentials.
	ErrInvalidCredentials = errors.New("invalid session credentials")
)

// Session is the radio session used by the scheduler.
type Session interface {
	SetDataRate(ctx context.Context, dr DataRate) error
	// SendReceive blocks until the uplink and its receive windows are done.
	// Negative results are errors, 0 means no downlink and positive
	// results give the receive window of a downlink.
	SendReceive(ctx context.Context, payload []byte) int
}

// Activator brings a session up with pre-provisioned keys.
type Activator interface {
	Begin(ctx context.Context) error
	ActivateABP(ctx context.Context, creds Credentials, initial DataRate) error
	SetDutyCycle(ctx context.Context, enabled bool) error
}

// Credentials are the pre-provisioned ABP session parameters.
type Credentials struct {
	DevAddr [4]byte // most significant byte first
	NwkSKey [16]byte
	AppSKey [16]byte
}

// ParseCredentials decodes the hex session configuration.
func ParseCredentials(cfg config.SessionConfig) (Credentials, error) {
	var c Credentials
	fields := []struct {
		name string
		in   string
		out  []byte
	}{
		{"dev_addr", cfg.DevAddr, c.DevAddr[:]},
		{"nwk_s_key", cfg.NwkSKey, c.NwkSKey[:]},
		{"app_s_key", cfg.AppSKey, c.AppSKey[:]},
	}
	for _, f := range fields {
		b, err := hex.DecodeString(f.in)
		if err != nil {
			return Credentials{}, fmt.Errorf("%w: %s: %v", ErrInvalidCredentials, f.name, err)
		}
		if len(b) != len(f.out) {
			return Credentials{}, fmt.Errorf("%w: %s must be %d bytes, got %d", ErrInvalidCredentials, f.name, len(f.out), len(b))
		}
		copy(f.out, b)
	}
	return c, nil
}

// DevAddrString returns the device address as upper case hex.
func (c Credentials) DevAddrString() string {
	return fmt.Sprintf("%X", c.DevAddr[:])
}

// Activate starts the radio, disables or enables duty cycle enforcement
// and activates the session. Failures wrap ErrInitialization or
// ErrActivation and are meant to be fatal.
func Activate(ctx context.Context, a Activator, creds Credentials, initial DataRate, dutyCycle bool) error {
	if err := a.Begin(ctx); err != nil {
		return fmt.Errorf("%w: radio: %w", ErrInitialization, err)
	}
	if err := a.ActivateABP(ctx, creds, initial); err != nil {
		return fmt.Errorf("%w: %w", ErrActivation, err)
	}
	if err := a.SetDutyCycle(ctx, dutyCycle); err != nil {
		return fmt.Errorf("%w: duty cycle: %w", ErrActivation, err)
	}
	return nil
}
