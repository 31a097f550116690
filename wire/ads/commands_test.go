package ads

import "testing"

func TestReadRequestMarshal(t *testing.T) {
	req := ReadRequest{IndexGroup: 0x4020, IndexOffset: 1, Length: 4}
	buf, err := req.MarshalBinary()
	if err != nil {
		t.Fatalf("MarshalBinary: %v", err)
	}
	if len(buf) != 12 {
		t.Fatalf("expected 12 bytes, got %d", len(buf))
	}
}

func TestReadResponseUnmarshal(t *testing.T) {
	buf := append([]byte{0, 0, 0, 0, 4, 0, 0, 0}, []byte{1, 2, 3, 4}...)
	var resp ReadResponse
	if err := resp.UnmarshalBinary(buf); err != nil {
		t.Fatalf("UnmarshalBinary: %v", err)
	}
	if resp.Result != 0 || resp.Length != 4 || len(resp.Data) != 4 {
		t.Fatalf("unexpected response: %+v", resp)
	}
}

func TestAddDeviceNotificationRequestMarshalLength(t *testing.T) {
	req := AddDeviceNotificationRequest{
		IndexGroup:       0x4020,
		IndexOffset:      0,
		Length:           2,
		TransmissionMode: TransmissionModeServerOnChange,
		MaxDelay:         0,
		CycleTime:        10,
	}
	buf, err := req.MarshalBinary()
	if err != nil {
		t.Fatalf("MarshalBinary: %v", err)
	}
	if len(buf) != 40 {
		t.Fatalf("expected 40 bytes (24 fields + 16 reserved), got %d", len(buf))
	}
}

func TestDeviceNotificationRequestUnmarshal(t *testing.T) {
	buf := []byte{}
	buf = append(buf, 0, 0, 0, 0)         // outer length, unused
	buf = append(buf, 1, 0, 0, 0)         // 1 stamp
	buf = append(buf, make([]byte, 8)...) // timestamp
	buf = append(buf, 2, 0, 0, 0)         // 2 samples
	buf = append(buf, 7, 0, 0, 0)         // handle 7
	buf = append(buf, 2, 0, 0, 0)         // sample len 2
	buf = append(buf, 0xAA, 0xBB)
	buf = append(buf, 8, 0, 0, 0) // handle 8
	buf = append(buf, 1, 0, 0, 0) // sample len 1
	buf = append(buf, 0xCC)

	var req DeviceNotificationRequest
	if err := req.UnmarshalBinary(buf); err != nil {
		t.Fatalf("UnmarshalBinary: %v", err)
	}
	if len(req.StampHeaders) != 1 {
		t.Fatalf("expected 1 stamp, got %d", len(req.StampHeaders))
	}
	samples := req.StampHeaders[0].Samples
	if len(samples) != 2 {
		t.Fatalf("expected 2 samples, got %d", len(samples))
	}
	if samples[0].NotificationHandle != 7 || samples[0].Data[0] != 0xAA {
		t.Fatalf("unexpected first sample: %+v", samples[0])
	}
	if samples[1].NotificationHandle != 8 || samples[1].Data[0] != 0xCC {
		t.Fatalf("unexpected second sample: %+v", samples[1])
	}
}

func TestDeviceNotificationRequestTruncatedSampleData(t *testing.T) {
	buf := []byte{}
	buf = append(buf, 0, 0, 0, 0)
	buf = append(buf, 1, 0, 0, 0)
	buf = append(buf, make([]byte, 8)...)
	buf = append(buf, 1, 0, 0, 0)
	buf = append(buf, 1, 0, 0, 0)
	buf = append(buf, 4, 0, 0, 0) // claims 4 bytes of sample data
	buf = append(buf, 0x01)       // only 1 provided

	var req DeviceNotificationRequest
	if err := req.UnmarshalBinary(buf); err == nil {
		t.Fatal("expected truncation error")
	}
}

func TestErrorStringFallback(t *testing.T) {
	e := Error(0x9999)
	s := e.Error()
	if s == "" {
		t.Fatal("expected non-empty error string")
	}
}

func TestErrorIsError(t *testing.T) {
	if ErrNoError.IsError() {
		t.Fatal("ErrNoError must not report IsError")
	}
	if !ErrDeviceBusy.IsError() {
		t.Fatal("ErrDeviceBusy must report IsError")
	}
}
