package ams

import (
	"bytes"
	"testing"
)

func TestHeaderRoundTrip(t *testing.T) {
	h := Header{
		TargetNetID: NetID{5, 24, 37, 144, 1, 1},
		TargetPort:  851,
		SourceNetID: NetID{10, 0, 0, 50, 1, 1},
		SourcePort:  30000,
		CommandID:   uint16(2),
		StateFlags:  StateFlagsTCPRequest,
		DataLength:  12,
		ErrorCode:   0,
		InvokeID:    7,
	}
	buf, err := h.MarshalBinary()
	if err != nil {
		t.Fatalf("MarshalBinary: %v", err)
	}
	if len(buf) != 32 {
		t.Fatalf("expected 32 bytes, got %d", len(buf))
	}

	var got Header
	if err := got.UnmarshalBinary(buf); err != nil {
		t.Fatalf("UnmarshalBinary: %v", err)
	}
	if got != h {
		t.Fatalf("round trip mismatch: got %+v, want %+v", got, h)
	}
}

func TestHeaderRequestResponseFlags(t *testing.T) {
	h := Header{StateFlags: StateFlagsTCPRequest}
	if !h.IsRequest() || h.IsResponse() {
		t.Fatal("expected request flags to report IsRequest")
	}
	h.StateFlags = StateFlagsTCPResponse
	if h.IsRequest() || !h.IsResponse() {
		t.Fatal("expected response flags to report IsResponse")
	}
}

func TestPacketRoundTripViaReadWrite(t *testing.T) {
	data := []byte{0x01, 0x02, 0x03, 0x04}
	pkt := NewRequestPacket(
		NetID{5, 24, 37, 144, 1, 1}, 851,
		NetID{10, 0, 0, 50, 1, 1}, 30000,
		uint16(2), 99, data,
	)

	var buf bytes.Buffer
	if err := WritePacket(&buf, pkt); err != nil {
		t.Fatalf("WritePacket: %v", err)
	}

	got, err := ReadPacket(&buf)
	if err != nil {
		t.Fatalf("ReadPacket: %v", err)
	}
	if got.Header.InvokeID != 99 || !bytes.Equal(got.Data, data) {
		t.Fatalf("unexpected packet: %+v data=%v", got.Header, got.Data)
	}
	if got.Header.CommandID != 2 {
		t.Fatalf("unexpected command id: %d", got.Header.CommandID)
	}
}

func TestReadPacketShortHeaderErrors(t *testing.T) {
	var buf bytes.Buffer
	buf.Write([]byte{0, 0, 1, 0}) // 4 bytes, short of the 6-byte TCP header
	if _, err := ReadPacket(&buf); err == nil {
		t.Fatal("expected error reading a truncated TCP header")
	}
}

func TestStateFlagValues(t *testing.T) {
	if StateFlagUDP != 0x0040 {
		t.Fatalf("AMS_UDP must be 0x0040 per the wire protocol, got 0x%04X", StateFlagUDP)
	}
	if StateFlagsUDPRequest != (StateFlagADS | StateFlagUDP) {
		t.Fatalf("unexpected UDP request flags: 0x%04X", StateFlagsUDPRequest)
	}
}
