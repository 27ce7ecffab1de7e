package protocol

import (
	"bytes"
	"encoding/binary"
	"errors"
)

// UDP discovery beacon wire format:
//
//	[magic(8)] [peerId(4)] [tcpPort(2, big-endian)] [token(variable)]
//
// The whole datagram must fit the fixed receive buffer.
const (
	BeaconMagic = "KVMSHARE"

	// BeaconIDSize is the fixed peer id length.
	BeaconIDSize = 4

	// MaxBeaconSize bounds the receive buffer for discovery datagrams.
	MaxBeaconSize = 1024

	beaconHeaderSize = len(BeaconMagic) + BeaconIDSize + 2
)

var (
	// ErrBeaconInvalid indicates a malformed or forged discovery datagram.
	// Always non-fatal: the datagram is dropped.
	ErrBeaconInvalid = errors.New("protocol: invalid beacon")
)

// Beacon is a UDP presence announcement.
type Beacon struct {
	PeerID  [BeaconIDSize]byte
	TCPPort uint16
	Token   string
}

// EncodeBeacon serializes b to wire format. A token long enough to push the
// datagram past MaxBeaconSize is rejected; receivers drop oversized datagrams.
func EncodeBeacon(b Beacon) ([]byte, error) {
	if beaconHeaderSize+len(b.Token) > MaxBeaconSize {
		return nil, ErrBeaconInvalid
	}
	buf := make([]byte, 0, beaconHeaderSize+len(b.Token))
	buf = append(buf, BeaconMagic...)
	buf = append(buf, b.PeerID[:]...)
	buf = binary.BigEndian.AppendUint16(buf, b.TCPPort)
	buf = append(buf, b.Token...)
	return buf, nil
}

// DecodeBeacon parses wire bytes. The trailing token is returned for the
// receiver to compare against its shared secret; DecodeBeacon itself only
// validates structure and the magic prefix.
func DecodeBeacon(data []byte) (*Beacon, error) {
	if len(data) < beaconHeaderSize {
		return nil, ErrBeaconInvalid
	}
	if len(data) > MaxBeaconSize {
		return nil, ErrBeaconInvalid
	}
	if !bytes.HasPrefix(data, []byte(BeaconMagic)) {
		return nil, ErrBeaconInvalid
	}

	b := &Beacon{}
	copy(b.PeerID[:], data[len(BeaconMagic):len(BeaconMagic)+BeaconIDSize])
	b.TCPPort = binary.BigEndian.Uint16(data[len(BeaconMagic)+BeaconIDSize : beaconHeaderSize])
	b.Token = string(data[beaconHeaderSize:])
	return b, nil
}
