package udp

import (
	"encoding/json"
	"fmt"
	"net"
	"time"

	"radiosonde-ng/internal/rs41"
)

type udpConn interface {
	Write(p []byte) (int, error)
	Close() error
}

type resolveFunc func(network, address string) (*net.UDPAddr, error)
type dialFunc func(network string, laddr, raddr *net.UDPAddr) (udpConn, error)

// Broadcaster sends one JSON datagram per telemetry record, for consumers
// such as chase-car mapping tools listening on the LAN.
type Broadcaster struct {
	dest string
	conn udpConn
}

// Datagram is the JSON body of every record sent.
type Datagram struct {
	TimeUTC string `json:"time_utc"`
	rs41.SondeData
}

func NewBroadcaster(dest string) (*Broadcaster, error) {
	return newBroadcaster(dest, net.ResolveUDPAddr, func(network string, laddr, raddr *net.UDPAddr) (udpConn, error) {
		return net.DialUDP(network, laddr, raddr)
	})
}

func newBroadcaster(dest string, resolve resolveFunc, dial dialFunc) (*Broadcaster, error) {
	addr, err := resolve("udp", dest)
	if err != nil {
		return nil, fmt.Errorf("resolve dest: %w", err)
	}

	// DialUDP selects a suitable local address automatically.
	conn, err := dial("udp", nil, addr)
	if err != nil {
		return nil, fmt.Errorf("dial udp: %w", err)
	}

	return &Broadcaster{dest: dest, conn: conn}, nil
}

func (b *Broadcaster) Dest() string { return b.dest }

func (b *Broadcaster) Send(payload []byte) error {
	if len(payload) == 0 {
		return nil
	}
	_, err := b.conn.Write(payload)
	return err
}

// SendRecord sends d as a Datagram. Records without a serial are skipped.
func (b *Broadcaster) SendRecord(now time.Time, d *rs41.SondeData) error {
	if d == nil || d.Serial == "" {
		return nil
	}
	payload, err := json.Marshal(Datagram{TimeUTC: now.UTC().Format(time.RFC3339Nano), SondeData: *d})
	if err != nil {
		return err
	}
	return b.Send(payload)
}

func (b *Broadcaster) Close() error {
	if b.conn == nil {
		return nil
	}
	return b.conn.Close()
}
