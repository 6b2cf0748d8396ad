package capture

import (
	"bytes"
	"net"
	"testing"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
)

func TestCaptureWritesBothDirections(t *testing.T) {
	var buf bytes.Buffer
	c, err := New(&buf, "10.100.10.185:44818")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	c.now = func() time.Time { return time.Unix(1759320000, 0) }

	request := []byte{0x65, 0x00, 0x04, 0x00, 0, 0, 0, 0}
	reply := []byte{0x65, 0x00, 0x04, 0x00, 1, 2, 3, 4, 0xAA}
	c.Outbound(request)
	c.Inbound(reply)
	c.Outbound(request)
	if err := c.Err(); err != nil {
		t.Fatalf("Err: %v", err)
	}
	if c.PacketCount() != 3 {
		t.Fatalf("packets = %d", c.PacketCount())
	}

	r, err := pcapgo.NewReader(&buf)
	if err != nil {
		t.Fatalf("NewReader: %v", err)
	}
	if r.LinkType() != layers.LinkTypeEthernet {
		t.Errorf("link type = %v", r.LinkType())
	}

	type want struct {
		srcIP   string
		dstPort layers.TCPPort
		seq     uint32
		ack     uint32
		payload []byte
	}
	wants := []want{
		{"192.168.100.10", 44818, 1, 1, request},
		{"10.100.10.185", 50000, 1, 1 + uint32(len(request)), reply},
		{"192.168.100.10", 44818, 1 + uint32(len(request)), 1 + uint32(len(reply)), request},
	}
	for i, w := range wants {
		data, ci, err := r.ReadPacketData()
		if err != nil {
			t.Fatalf("packet %d: %v", i, err)
		}
		if !ci.Timestamp.Equal(time.Unix(1759320000, 0)) {
			t.Errorf("packet %d timestamp = %v", i, ci.Timestamp)
		}
		pkt := gopacket.NewPacket(data, layers.LayerTypeEthernet, gopacket.Default)
		ip, _ := pkt.Layer(layers.LayerTypeIPv4).(*layers.IPv4)
		tcp, _ := pkt.Layer(layers.LayerTypeTCP).(*layers.TCP)
		if ip == nil || tcp == nil {
			t.Fatalf("packet %d missing layers", i)
		}
		if ip.SrcIP.String() != w.srcIP || tcp.DstPort != w.dstPort {
			t.Errorf("packet %d: %s -> :%d", i, ip.SrcIP, tcp.DstPort)
		}
		if tcp.Seq != w.seq || tcp.Ack != w.ack {
			t.Errorf("packet %d: seq=%d ack=%d, want %d/%d", i, tcp.Seq, tcp.Ack, w.seq, w.ack)
		}
		if !bytes.Equal(tcp.Payload, w.payload) {
			t.Errorf("packet %d payload = % x", i, tcp.Payload)
		}
	}
}

func TestParseEndpoint(t *testing.T) {
	tests := []struct {
		addr string
		ip   net.IP
		port uint16
	}{
		{"10.0.0.7:2222", net.IPv4(10, 0, 0, 7), 2222},
		{"plc.local:44818", defaultServerIP, 44818},
		{"172.16.1.1", net.IPv4(172, 16, 1, 1), defaultServerPort},
		{"", defaultServerIP, defaultServerPort},
	}
	for _, tt := range tests {
		ep := parseEndpoint(tt.addr)
		if !ep.ip.Equal(tt.ip) || ep.port != tt.port {
			t.Errorf("parseEndpoint(%q) = %v:%d", tt.addr, ep.ip, ep.port)
		}
	}
}
