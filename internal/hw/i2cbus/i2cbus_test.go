package i2cbus

import (
	"testing"

	"periph.io/x/conn/v3/i2c/i2ctest"
)

func TestTraced_ForwardsTx(t *testing.T) {
	pb := &i2ctest.Playback{
		Ops: []i2ctest.IO{
			{Addr: 0x68, W: []byte{0x00}, R: []byte{0x30, 0x45, 0x12}},
		},
		DontPanic: true,
	}
	bus := Traced{Bus: pb}

	r := make([]byte, 3)
	if err := bus.Tx(0x68, []byte{0x00}, r); err != nil {
		t.Fatalf("Tx: %v", err)
	}
	if r[1] != 0x45 || r[2] != 0x12 {
		t.Errorf("read = % x, want 30 45 12", r)
	}
	if err := pb.Close(); err != nil {
		t.Errorf("playback not fully consumed: %v", err)
	}
}

func TestTraced_WrapsError(t *testing.T) {
	pb := &i2ctest.Playback{DontPanic: true}
	bus := Traced{Bus: pb}
	if err := bus.Tx(0x20, []byte{0xFF}, nil); err == nil {
		t.Error("expected error for unexpected transaction")
	}
}
