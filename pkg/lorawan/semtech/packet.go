package semtech

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ProtocolVersion of the packet forwarder protocol.
const ProtocolVersion = 2

// Packet identifiers.
const (
	PushData byte = 0x00
	PushAck  byte = 0x01
	PullData byte = 0x02
	PullResp byte = 0x03
	PullAck  byte = 0x04
	TxAck    byte = 0x05
)

var (
	errShortPacket = errors.New("invalid packet length")
	errVersion     = errors.New("invalid packet protocol version")
)

// Upstream is the JSON object of a PUSH_DATA packet.
type Upstream struct {
	Rxpk []RXPacket `json:"rxpk"`
}

// RXPacket is a received radio packet as reported by a gateway.
type RXPacket struct {
	Time time.Time `json:"time"` // UTC time of pkt RX
	Tmst uint32    `json:"tmst"` // internal timestamp of "RX finished" event
	Freq float64   `json:"freq"` // MHz
	Chan int       `json:"chan"`
	Rfch int       `json:"rfch"`
	Stat int       `json:"stat"` // CRC status: 1 = OK, -1 = fail, 0 = no CRC
	Modu string    `json:"modu"`
	Datr string    `json:"datr"`
	Codr string    `json:"codr"`
	Rssi int       `json:"rssi"`
	Lsnr float64   `json:"lsnr"`
	Size int       `json:"size"`
	Data []byte    `json:"data"` // base64 on the wire
}

// Downstream is the JSON object of a PULL_RESP packet.
type Downstream struct {
	Txpk TXPacket `json:"txpk"`
}

// TXPacket is a packet the network server wants transmitted.
type TXPacket struct {
	Imme bool    `json:"imme,omitempty"`
	Tmst uint32  `json:"tmst,omitempty"`
	Freq float64 `json:"freq"`
	Rfch int     `json:"rfch"`
	Powe int     `json:"powe,omitempty"`
	Modu string  `json:"modu"`
	Datr string  `json:"datr"`
	Codr string  `json:"codr"`
	Ipol bool    `json:"ipol"`
	Size int     `json:"size"`
	Data []byte  `json:"data"`
}

// Header is the fixed part of every packet.
type Header struct {
	Token      uint16
	Identifier byte
}

// marshalPacket builds a gateway to server packet. body is appended after
// the gateway EUI.
func marshalPacket(token uint16, id byte, eui [8]byte, body []byte) []byte {
	b := make([]byte, 12, 12+len(body))
	b[0] = ProtocolVersion
	binary.BigEndian.PutUint16(b[1:3], token)
	b[3] = id
	copy(b[4:12], eui[:])
	return append(b, body...)
}

// marshalPushData builds a PUSH_DATA packet carrying rxpk.
func marshalPushData(token uint16, eui [8]byte, rxpk RXPacket) ([]byte, error) {
	body, err := json.Marshal(Upstream{Rxpk: []RXPacket{rxpk}})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal rxpk: %w", err)
	}
	return marshalPacket(token, PushData, eui, body), nil
}

// parseHeader reads the header of a server to gateway packet and returns
// the JSON body, if any.
func parseHeader(p []byte) (Header, []byte, error) {
	if len(p) < 4 {
		return Header{}, nil, errShortPacket
	}
	if p[0] != ProtocolVersion {
		return Header{}, nil, errVersion
	}
	return Header{
		Token:      binary.BigEndian.Uint16(p[1:3]),
		Identifier: p[3],
	}, p[4:], nil
}

// parsePullResp decodes the txpk of a PULL_RESP body.
func parsePullResp(body []byte) (TXPacket, error) {
	var d Downstream
	if err := json.Unmarshal(body, &d); err != nil {
		return TXPacket{}, fmt.Errorf("failed to parse txpk: %w", err)
	}
	if len(d.Txpk.Data) == 0 {
		return TXPacket{}, errors.New("txpk without data")
	}
	return d.Txpk, nil
}
