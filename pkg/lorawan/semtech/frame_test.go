package semtech

import (
	"testing"
	"time"

	"github.com/brocaar/lorawan"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/itohio/lorameter/pkg/config"
	"github.com/itohio/lorameter/pkg/uplink"
)

func testCredentials(t *testing.T) uplink.Credentials {
	t.Helper()
	creds, err := uplink.ParseCredentials(config.SessionConfig{
		DevAddr: "26011F3A",
		NwkSKey: "2B7E151628AED2A6ABF7158809CF4F3C",
		AppSKey: "000102030405060708090A0B0C0D0E0F",
	})
	require.NoError(t, err)
	return creds
}

// downlinkFrame builds a data down frame the way a network server does.
func downlinkFrame(t *testing.T, creds uplink.Credentials, fCnt uint32, data []byte) []byte {
	t.Helper()
	fPort := uint8(10)
	phy := lorawan.PHYPayload{
		MHDR: lorawan.MHDR{MType: lorawan.UnconfirmedDataDown, Major: lorawan.LoRaWANR1},
		MACPayload: &lorawan.MACPayload{
			FHDR: lorawan.FHDR{
				DevAddr: lorawan.DevAddr(creds.DevAddr),
				FCnt:    fCnt,
			},
			FPort:      &fPort,
			FRMPayload: []lorawan.Payload{&lorawan.DataPayload{Bytes: data}},
		},
	}
	require.NoError(t, phy.EncryptFRMPayload(lorawan.AES128Key(creds.AppSKey)))
	require.NoError(t, phy.SetDownlinkDataMIC(lorawan.LoRaWAN1_0, 0, lorawan.AES128Key(creds.NwkSKey)))
	b, err := phy.MarshalBinary()
	require.NoError(t, err)
	return b
}

// decodeUplink validates and decrypts an uplink the way a network server does.
func decodeUplink(t *testing.T, creds uplink.Credentials, b []byte) (*lorawan.MACPayload, []byte) {
	t.Helper()
	var phy lorawan.PHYPayload
	require.NoError(t, phy.UnmarshalBinary(b))
	assert.Equal(t, lorawan.UnconfirmedDataUp, phy.MHDR.MType)

	ok, err := phy.ValidateUplinkDataMIC(lorawan.LoRaWAN1_0, 0, 0, 0, lorawan.AES128Key(creds.NwkSKey), lorawan.AES128Key{})
	require.NoError(t, err)
	require.True(t, ok, "mic")

	require.NoError(t, phy.DecryptFRMPayload(lorawan.AES128Key(creds.AppSKey)))
	macPL, ok := phy.MACPayload.(*lorawan.MACPayload)
	require.True(t, ok)
	require.Len(t, macPL.FRMPayload, 1)
	pl, ok := macPL.FRMPayload[0].(*lorawan.DataPayload)
	require.True(t, ok)
	return macPL, pl.Bytes
}

func TestUplinkFrame(t *testing.T) {
	creds := testCredentials(t)

	b, err := uplinkFrame(creds, 4464, 1, []byte("c|1.016202"))
	require.NoError(t, err)
	assert.Len(t, b, 13+10)
	assert.Equal(t, []byte{0x40, 0x3A, 0x1F, 0x01, 0x26, 0x00, 0x70, 0x11}, b[:8])

	macPL, data := decodeUplink(t, creds, b)
	assert.Equal(t, lorawan.DevAddr{0x26, 0x01, 0x1F, 0x3A}, macPL.FHDR.DevAddr)
	assert.Equal(t, uint32(4464), macPL.FHDR.FCnt)
	require.NotNil(t, macPL.FPort)
	assert.Equal(t, uint8(1), *macPL.FPort)
	assert.Equal(t, "c|1.016202", string(data))
}

func TestDecodeDownlink(t *testing.T) {
	creds := testCredentials(t)

	dl, err := decodeDownlink(creds, downlinkFrame(t, creds, 3, []byte{0xCA, 0xFE}))
	require.NoError(t, err)
	assert.Equal(t, uint32(3), dl.FCnt)
	assert.Equal(t, 10, dl.FPort)
	assert.Equal(t, []byte{0xCA, 0xFE}, dl.Payload)
}

func TestDecodeDownlink_Rejects(t *testing.T) {
	creds := testCredentials(t)

	other := creds
	other.DevAddr = [4]byte{0x26, 0x01, 0x00, 0x01}
	_, err := decodeDownlink(creds, downlinkFrame(t, other, 1, []byte{1}))
	assert.ErrorIs(t, err, errOtherDevice)

	wrongKey := creds
	wrongKey.NwkSKey[0] ^= 0xff
	_, err = decodeDownlink(creds, downlinkFrame(t, wrongKey, 1, []byte{1}))
	assert.ErrorIs(t, err, errInvalidMIC)

	up, err := uplinkFrame(creds, 1, 1, []byte{1})
	require.NoError(t, err)
	_, err = decodeDownlink(creds, up)
	assert.ErrorIs(t, err, errNotDataDown)

	_, err = decodeDownlink(creds, []byte{0x60})
	assert.Error(t, err)
}

func TestAirtime(t *testing.T) {
	tests := []struct {
		sf   int
		size int
		want time.Duration
	}{
		{sf: 7, size: 13, want: 46336 * time.Microsecond},
		{sf: 12, size: 13, want: 1155072 * time.Microsecond},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, Airtime(tt.sf, tt.size), "SF%d %d bytes", tt.sf, tt.size)
	}

	assert.Less(t, Airtime(7, 20), Airtime(8, 20))
	assert.Less(t, Airtime(7, 20), Airtime(7, 40))
}
