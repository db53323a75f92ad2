package udp

import (
	"encoding/json"
	"errors"
	"net"
	"testing"
	"time"

	"radiosonde-ng/internal/rs41"
)

type fakeConn struct {
	writes    [][]byte
	writeErr  error
	closed    bool
	closeErr  error
	writeHits int
}

func (c *fakeConn) Write(p []byte) (int, error) {
	c.writeHits++
	if c.writeErr != nil {
		return 0, c.writeErr
	}
	cp := append([]byte(nil), p...)
	c.writes = append(c.writes, cp)
	return len(p), nil
}

func (c *fakeConn) Close() error {
	c.closed = true
	return c.closeErr
}

func TestNewBroadcaster_DialsResolvedAddr(t *testing.T) {
	var gotNetwork string
	var gotRaddr *net.UDPAddr
	fc := &fakeConn{}

	resolve := func(network, address string) (*net.UDPAddr, error) {
		return net.ResolveUDPAddr(network, address)
	}

	dial := func(network string, laddr, raddr *net.UDPAddr) (udpConn, error) {
		gotNetwork = network
		gotRaddr = raddr
		return fc, nil
	}

	b, err := newBroadcaster("127.0.0.1:4000", resolve, dial)
	if err != nil {
		t.Fatalf("newBroadcaster() error: %v", err)
	}
	defer b.Close()

	if gotNetwork != "udp" {
		t.Fatalf("network=%q want %q", gotNetwork, "udp")
	}
	if gotRaddr == nil || gotRaddr.Port != 4000 || !gotRaddr.IP.Equal(net.IPv4(127, 0, 0, 1)) {
		t.Fatalf("raddr=%v want 127.0.0.1:4000", gotRaddr)
	}
}

func TestNewBroadcaster_ResolveFailure(t *testing.T) {
	resolveErr := errors.New("nope")
	resolve := func(network, address string) (*net.UDPAddr, error) {
		return nil, resolveErr
	}
	dial := func(network string, laddr, raddr *net.UDPAddr) (udpConn, error) {
		return &fakeConn{}, nil
	}

	_, err := newBroadcaster("bad:addr", resolve, dial)
	if !errors.Is(err, resolveErr) {
		t.Fatalf("err=%v want %v", err, resolveErr)
	}
}

func TestBroadcaster_Send_EmptyNoWrite(t *testing.T) {
	fc := &fakeConn{}
	b := &Broadcaster{dest: "x", conn: fc}

	if err := b.Send(nil); err != nil {
		t.Fatalf("Send(nil) error: %v", err)
	}
	if err := b.Send([]byte{}); err != nil {
		t.Fatalf("Send(empty) error: %v", err)
	}
	if fc.writeHits != 0 {
		t.Fatalf("expected no writes, got %d", fc.writeHits)
	}
}

func TestBroadcaster_Send_WritesPayload(t *testing.T) {
	fc := &fakeConn{}
	b := &Broadcaster{dest: "x", conn: fc}

	p := []byte{0x01, 0x02, 0x03}
	if err := b.Send(p); err != nil {
		t.Fatalf("Send() error: %v", err)
	}
	if fc.writeHits != 1 {
		t.Fatalf("expected 1 write, got %d", fc.writeHits)
	}
	if len(fc.writes) != 1 {
		t.Fatalf("expected 1 captured write, got %d", len(fc.writes))
	}
	if string(fc.writes[0]) != string(p) {
		t.Fatalf("write=%v want %v", fc.writes[0], p)
	}
}

func TestBroadcaster_Send_PropagatesError(t *testing.T) {
	wantErr := errors.New("boom")
	fc := &fakeConn{writeErr: wantErr}
	b := &Broadcaster{dest: "x", conn: fc}

	err := b.Send([]byte{0x01})
	if !errors.Is(err, wantErr) {
		t.Fatalf("err=%v want %v", err, wantErr)
	}
}

func TestBroadcaster_Close_NilConnNoPanic(t *testing.T) {
	b := &Broadcaster{}
	if err := b.Close(); err != nil {
		t.Fatalf("Close() error: %v", err)
	}
}

func TestBroadcaster_SendRecord_JSON(t *testing.T) {
	fc := &fakeConn{}
	b := &Broadcaster{dest: "x", conn: fc}

	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	if err := b.SendRecord(now, &rs41.SondeData{}); err != nil {
		t.Fatalf("SendRecord(no serial) error: %v", err)
	}
	if fc.writeHits != 0 {
		t.Fatalf("record without serial was sent")
	}

	d := &rs41.SondeData{Serial: "S1111111", Seq: 7, BurstKill: -1, Alt: 1234.5, HasPosition: true}
	if err := b.SendRecord(now, d); err != nil {
		t.Fatalf("SendRecord() error: %v", err)
	}
	if len(fc.writes) != 1 {
		t.Fatalf("writes=%d want 1", len(fc.writes))
	}
	var got map[string]any
	if err := json.Unmarshal(fc.writes[0], &got); err != nil {
		t.Fatalf("payload is not JSON: %v", err)
	}
	if got["time_utc"] != "2024-05-01T12:00:00Z" || got["serial"] != "S1111111" || got["alt"] != 1234.5 || got["burst_kill"] != -1.0 {
		t.Fatalf("payload=%v", got)
	}
	if _, ok := got["HasPosition"]; ok {
		t.Fatalf("internal flags leaked: %v", got)
	}
}

func TestBroadcaster_Loopback(t *testing.T) {
	ln, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Fatalf("ListenUDP: %v", err)
	}
	defer ln.Close()

	b, err := NewBroadcaster(ln.LocalAddr().String())
	if err != nil {
		t.Fatalf("NewBroadcaster() error: %v", err)
	}
	defer b.Close()

	if err := b.SendRecord(time.Now(), &rs41.SondeData{Serial: "L2222222"}); err != nil {
		t.Fatalf("SendRecord() error: %v", err)
	}
	_ = ln.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 2048)
	n, _, err := ln.ReadFromUDP(buf)
	if err != nil {
		t.Fatalf("ReadFromUDP: %v", err)
	}
	var dg Datagram
	if err := json.Unmarshal(buf[:n], &dg); err != nil || dg.Serial != "L2222222" {
		t.Fatalf("datagram=%+v err=%v", dg, err)
	}
}
