package cid

import "testing"

func TestFromBytesDeterministic(t *testing.T) {
	a, err := FromBytes([]byte("hello world"))
	if err != nil {
		t.Fatalf("FromBytes: %v", err)
	}
	b, err := FromBytes([]byte("hello world"))
	if err != nil {
		t.Fatalf("FromBytes: %v", err)
	}
	if !a.Equal(b) {
		t.Fatalf("equal inputs produced different CIDs: %s != %s", a, b)
	}
}

func TestFromBytesSensitive(t *testing.T) {
	a, _ := FromBytes([]byte("hello world"))
	b, _ := FromBytes([]byte("hello world!"))
	if a.Equal(b) {
		t.Fatalf("different inputs produced equal CIDs")
	}
}

func TestRoundTripString(t *testing.T) {
	a, _ := FromBytes([]byte("payload"))
	s := a.String()
	b, err := FromString(s)
	if err != nil {
		t.Fatalf("FromString: %v", err)
	}
	if !a.Equal(b) {
		t.Fatalf("round trip mismatch: %s != %s", a, b)
	}
}

func TestRoundTripBytes(t *testing.T) {
	a, _ := FromBytes([]byte("payload"))
	raw := a.Bytes()
	b, err := FromRawBytes(raw)
	if err != nil {
		t.Fatalf("FromRawBytes: %v", err)
	}
	if !a.Equal(b) {
		t.Fatalf("round trip mismatch: %s != %s", a, b)
	}
}

func TestFromStringInvalid(t *testing.T) {
	if _, err := FromString("not-a-cid"); err == nil {
		t.Fatalf("expected error for invalid CID string")
	}
}

func TestCBORRoundTrip(t *testing.T) {
	a, _ := FromBytes([]byte("payload"))
	data, err := a.MarshalCBOR()
	if err != nil {
		t.Fatalf("MarshalCBOR: %v", err)
	}
	var b CID
	if err := b.UnmarshalCBOR(data); err != nil {
		t.Fatalf("UnmarshalCBOR: %v", err)
	}
	if !a.Equal(b) {
		t.Fatalf("cbor round trip mismatch: %s != %s", a, b)
	}
}

func TestZeroCID(t *testing.T) {
	var z CID
	if !z.IsZero() {
		t.Fatalf("zero value should be zero")
	}
	if z.String() != "" {
		t.Fatalf("zero CID should stringify to empty")
	}
}
