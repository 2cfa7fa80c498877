package sdr

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"testing"
	"time"
)

type rtlCommand struct {
	Cmd   uint8
	Param uint32
}

// startRTLTCPServer mimics rtl_tcp: it sends the dongle header, records the
// expected number of commands, then streams samples.
func startRTLTCPServer(t *testing.T, commands int, samples []byte) (string, chan []rtlCommand, chan error) {
	t.Helper()
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to listen: %v", err)
	}
	t.Cleanup(func() { listener.Close() })

	cmdCh := make(chan []rtlCommand, 1)
	errCh := make(chan error, 1)
	go func() {
		conn, err := listener.Accept()
		if err != nil {
			errCh <- err
			return
		}
		defer conn.Close()

		header := []byte("RTL0")
		header = binary.BigEndian.AppendUint32(header, 5)
		header = binary.BigEndian.AppendUint32(header, 29)
		if _, err := conn.Write(header); err != nil {
			errCh <- err
			return
		}
		got := make([]rtlCommand, commands)
		for i := range got {
			if err := binary.Read(conn, binary.BigEndian, &got[i]); err != nil {
				errCh <- fmt.Errorf("read command %d: %w", i, err)
				return
			}
		}
		cmdCh <- got
		if _, err := conn.Write(samples); err != nil {
			errCh <- err
			return
		}
		// Hold the connection until the client hangs up.
		io.Copy(io.Discard, conn)
		errCh <- nil
	}()
	return listener.Addr().String(), cmdCh, errCh
}

func TestRTLTCPTunesAndConverts(t *testing.T) {
	addr, cmdCh, errCh := startRTLTCPServer(t, 4, []byte{255, 0, 128, 127, 0, 255, 191, 64})

	r := NewRTLTCP(nil)
	cfg := Config{URI: addr, CenterFreq: 1.09e9, SampleRate: 2.4e6, Gain: 49.6, Channels: []int{0}, BufferSize: 4}
	if err := r.Init(context.Background(), cfg); err != nil {
		t.Fatalf("Init returned error: %v", err)
	}
	cmds := <-cmdCh
	want := []rtlCommand{
		{Cmd: 0x02, Param: 2400000},
		{Cmd: 0x01, Param: 1090000000},
		{Cmd: 0x03, Param: 1},
		{Cmd: 0x04, Param: 496},
	}
	for i := range want {
		if cmds[i] != want[i] {
			t.Fatalf("command %d = %+v, want %+v", i, cmds[i], want[i])
		}
	}

	blocks, err := r.RX(context.Background())
	if err != nil {
		t.Fatalf("RX returned error: %v", err)
	}
	if len(blocks) != 1 || len(blocks[0]) != 4 {
		t.Fatalf("unexpected block shape")
	}
	if blocks[0][0] != complex(1, -1) || blocks[0][2] != complex(-1, 1) {
		t.Fatalf("unexpected conversion %v", blocks[0])
	}
	if err := r.Close(); err != nil {
		t.Fatalf("Close returned error: %v", err)
	}
	if err := <-errCh; err != nil {
		t.Fatalf("server: %v", err)
	}
}

func TestRTLTCPRXHonoursContext(t *testing.T) {
	addr, cmdCh, _ := startRTLTCPServer(t, 4, nil)
	r := NewRTLTCP(nil)
	if err := r.Init(context.Background(), Config{URI: addr, CenterFreq: 1e8, SampleRate: 1e6, Channels: []int{0}, BufferSize: 16}); err != nil {
		t.Fatalf("Init returned error: %v", err)
	}
	defer r.Close()
	<-cmdCh

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, err := r.RX(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}

func TestRTLTCPRejectsSecondChannel(t *testing.T) {
	r := NewRTLTCP(nil)
	if err := r.Init(context.Background(), Config{SampleRate: 1e6, CenterFreq: 1e8, Channels: []int{0, 1}}); !errors.Is(err, ErrUnsupportedChannel) {
		t.Fatalf("expected ErrUnsupportedChannel, got %v", err)
	}
}

func TestRTLTCPRejectsUnrepresentableTuning(t *testing.T) {
	base := Config{SampleRate: 2.4e6, CenterFreq: 1.09e9, Gain: 20, Channels: []int{0}}
	tests := []struct {
		name   string
		modify func(*Config)
		want   string
	}{
		{"negative gain", func(c *Config) { c.Gain = -1 }, "gain"},
		{"huge gain", func(c *Config) { c.Gain = 1e9 }, "gain"},
		{"rate above 32 bits", func(c *Config) { c.SampleRate = 5e9 }, "sample rate"},
		{"freq above 32 bits", func(c *Config) { c.CenterFreq = 5.8e9 }, "center frequency"},
		{"zero rate", func(c *Config) { c.SampleRate = 0 }, "must be positive"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := base
			tc.modify(&cfg)
			// No server: validation must fail before dialing.
			cfg.URI = "127.0.0.1:1"
			err := NewRTLTCP(nil).Init(context.Background(), cfg)
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("expected error mentioning %q, got %v", tc.want, err)
			}
		})
	}
}

func TestRTLTCPZeroGainIsManual(t *testing.T) {
	addr, cmdCh, _ := startRTLTCPServer(t, 4, nil)
	r := NewRTLTCP(nil)
	if err := r.Init(context.Background(), Config{URI: addr, CenterFreq: 1e8, SampleRate: 1e6, Gain: 0, Channels: []int{0}}); err != nil {
		t.Fatalf("Init returned error: %v", err)
	}
	defer r.Close()
	cmds := <-cmdCh
	if cmds[2] != (rtlCommand{Cmd: 0x03, Param: 1}) || cmds[3] != (rtlCommand{Cmd: 0x04, Param: 0}) {
		t.Fatalf("unexpected gain commands %+v %+v", cmds[2], cmds[3])
	}
}

func TestU8ToComplex(t *testing.T) {
	out := u8ToComplex([]byte{0, 255, 127, 128, 9})
	if len(out) != 2 {
		t.Fatalf("odd trailing byte should be dropped, got %d samples", len(out))
	}
	if out[0] != complex(-1, 1) {
		t.Fatalf("unexpected full-scale conversion %v", out[0])
	}
	if real(out[1]) >= 0 || imag(out[1]) <= 0 || real(out[1]) != -imag(out[1]) {
		t.Fatalf("expected symmetric values around 127.5, got %v", out[1])
	}
}
