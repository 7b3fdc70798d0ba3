package semtech

import (
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/brocaar/lorawan"
	"go.thethings.network/lorawan-stack/v3/pkg/crypto"
	"go.thethings.network/lorawan-stack/v3/pkg/types"

	"github.com/itohio/lorameter/pkg/uplink"
)

// MHDR of an unconfirmed data up frame, LoRaWAN R1.
const mhdrUnconfirmedUp = 0x40

var (
	errNotDataDown = errors.New("not a data down frame")
	errOtherDevice = errors.New("frame addressed to another device")
	errInvalidMIC  = errors.New("invalid mic")
)

// Structure of an uplink PHYPayload:
// | MHDR | DevAddr | FCtrl | FCnt | FPort | FRMPayload | MIC |
// | 1 B  |  4 B LE |  1 B  | 2 B  |  1 B  |  variable  | 4 B |
func uplinkFrame(creds uplink.Credentials, fCnt uint32, fPort uint8, payload []byte) ([]byte, error) {
	addr := types.DevAddr(creds.DevAddr)

	encrypted, err := crypto.EncryptUplink(types.AES128Key(creds.AppSKey), addr, fCnt, payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt payload: %w", err)
	}

	b := make([]byte, 0, 13+len(encrypted))
	b = append(b, mhdrUnconfirmedUp)
	for i := len(creds.DevAddr) - 1; i >= 0; i-- {
		b = append(b, creds.DevAddr[i])
	}
	b = append(b, 0x00) // FCtrl: no ADR, no ACK, no FOpts
	b = binary.LittleEndian.AppendUint16(b, uint16(fCnt))
	b = append(b, fPort)
	b = append(b, encrypted...)

	mic, err := crypto.ComputeLegacyUplinkMIC(types.AES128Key(creds.NwkSKey), addr, fCnt, b)
	if err != nil {
		return nil, fmt.Errorf("failed to compute mic: %w", err)
	}

	return append(b, mic[:]...), nil
}

// Downlink is a validated and decrypted downlink frame.
type Downlink struct {
	FCnt    uint32
	FPort   int // -1 without FPort
	ACK     bool
	Payload []byte
}

// decodeDownlink validates a data down frame for the session and decrypts
// its payload.
func decodeDownlink(creds uplink.Credentials, b []byte) (Downlink, error) {
	var phy lorawan.PHYPayload
	if err := phy.UnmarshalBinary(b); err != nil {
		return Downlink{}, err
	}

	switch phy.MHDR.MType {
	case lorawan.UnconfirmedDataDown, lorawan.ConfirmedDataDown:
	default:
		return Downlink{}, errNotDataDown
	}

	macPL, ok := phy.MACPayload.(*lorawan.MACPayload)
	if !ok {
		return Downlink{}, errors.New("MACPayload expected")
	}
	if macPL.FHDR.DevAddr != lorawan.DevAddr(creds.DevAddr) {
		return Downlink{}, errOtherDevice
	}

	ok, err := phy.ValidateDownlinkDataMIC(lorawan.LoRaWAN1_0, 0, lorawan.AES128Key(creds.NwkSKey))
	if err != nil {
		return Downlink{}, err
	}
	if !ok {
		return Downlink{}, errInvalidMIC
	}

	dl := Downlink{
		FCnt:  macPL.FHDR.FCnt,
		FPort: -1,
		ACK:   macPL.FHDR.FCtrl.ACK,
	}
	if macPL.FPort == nil {
		return dl, nil
	}
	dl.FPort = int(*macPL.FPort)

	key := lorawan.AES128Key(creds.AppSKey)
	if dl.FPort == 0 {
		key = lorawan.AES128Key(creds.NwkSKey)
	}
	if err := phy.DecryptFRMPayload(key); err != nil {
		return Downlink{}, err
	}
	if len(macPL.FRMPayload) > 0 {
		if pl, ok := macPL.FRMPayload[0].(*lorawan.DataPayload); ok {
			dl.Payload = pl.Bytes
		}
	}

	return dl, nil
}

// Airtime returns the time on air of a PHYPayload of n bytes at 125 kHz,
// coding rate 4/5, 8 symbol preamble, explicit header and CRC.
func Airtime(sf, n int) time.Duration {
	symbol := time.Duration(1<<sf) * 8 * time.Microsecond // 2^SF / 125 kHz

	de := 0
	if sf >= 11 {
		de = 1 // low data rate optimisation
	}

	num := 8*n - 4*sf + 28 + 16
	den := 4 * (sf - 2*de)
	symbols := 8
	if num > 0 {
		symbols += (num + den - 1) / den * 5
	}

	// 8 preamble symbols plus 4.25 sync symbols
	preamble := symbol*12 + symbol/4
	return preamble + time.Duration(symbols)*symbol
}
