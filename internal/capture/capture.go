package capture

// Wire trace of a controller session written as an Ethernet pcap. Frames
// are taken from the session itself, so no capture privileges are needed;
// Ethernet/IPv4/TCP headers are synthesized around each ENIP frame.

import (
	"fmt"
	"io"
	"net"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
)

const snapLen = 65535

var (
	clientMAC = net.HardwareAddr{0x00, 0x00, 0x00, 0x00, 0x00, 0x01}
	serverMAC = net.HardwareAddr{0x00, 0x00, 0x00, 0x00, 0x00, 0x02}

	defaultClientIP = net.IPv4(192, 168, 100, 10).To4()
	defaultServerIP = net.IPv4(192, 168, 100, 20).To4()
)

const (
	defaultClientPort = 50000
	defaultServerPort = 44818
)

type endpoint struct {
	ip   net.IP
	port uint16
	seq  uint32
}

// Capture records ENIP frames in both directions as one TCP flow. It
// implements client.Tracer and is safe for concurrent use.
type Capture struct {
	mu      sync.Mutex
	writer  *pcapgo.Writer
	closer  io.Closer
	client  endpoint
	server  endpoint
	packets int
	err     error
	now     func() time.Time
}

// New writes the pcap file header to w. serverAddr is the controller's
// host:port; a non-IP host is replaced by a placeholder address.
func New(w io.Writer, serverAddr string) (*Capture, error) {
	pw := pcapgo.NewWriter(w)
	if err := pw.WriteFileHeader(snapLen, layers.LinkTypeEthernet); err != nil {
		return nil, fmt.Errorf("write pcap header: %w", err)
	}
	c := &Capture{
		writer: pw,
		client: endpoint{ip: defaultClientIP, port: defaultClientPort, seq: 1},
		server: parseEndpoint(serverAddr),
		now:    time.Now,
	}
	if cl, ok := w.(io.Closer); ok {
		c.closer = cl
	}
	return c, nil
}

// Create opens path for writing and returns a Capture over it.
func Create(path, serverAddr string) (*Capture, error) {
	file, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create pcap file: %w", err)
	}
	c, err := New(file, serverAddr)
	if err != nil {
		file.Close()
		return nil, err
	}
	return c, nil
}

func parseEndpoint(addr string) endpoint {
	ep := endpoint{ip: defaultServerIP, port: defaultServerPort, seq: 1}
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		host = addr
	} else if p, err := strconv.ParseUint(portStr, 10, 16); err == nil {
		ep.port = uint16(p)
	}
	if ip := net.ParseIP(host).To4(); ip != nil {
		ep.ip = ip
	}
	return ep
}

// Outbound records a client-to-controller frame.
func (c *Capture) Outbound(frame []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.record(&c.client, &c.server, clientMAC, serverMAC, frame)
}

// Inbound records a controller-to-client frame.
func (c *Capture) Inbound(frame []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.record(&c.server, &c.client, serverMAC, clientMAC, frame)
}

func (c *Capture) record(src, dst *endpoint, srcMAC, dstMAC net.HardwareAddr, frame []byte) {
	if c.err != nil {
		return
	}
	buffer := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{
		FixLengths:       true,
		ComputeChecksums: true,
	}
	ethernet := &layers.Ethernet{
		SrcMAC:       srcMAC,
		DstMAC:       dstMAC,
		EthernetType: layers.EthernetTypeIPv4,
	}
	ip := &layers.IPv4{
		Version:  4,
		TTL:      64,
		Protocol: layers.IPProtocolTCP,
		SrcIP:    src.ip,
		DstIP:    dst.ip,
	}
	tcp := &layers.TCP{
		SrcPort: layers.TCPPort(src.port),
		DstPort: layers.TCPPort(dst.port),
		ACK:     true,
		PSH:     true,
		Seq:     src.seq,
		Ack:     dst.seq,
		Window:  65535,
	}
	_ = tcp.SetNetworkLayerForChecksum(ip)
	src.seq += uint32(len(frame))

	if err := gopacket.SerializeLayers(buffer, opts, ethernet, ip, tcp, gopacket.Payload(frame)); err != nil {
		c.err = fmt.Errorf("serialize packet: %w", err)
		return
	}
	data := buffer.Bytes()
	ci := gopacket.CaptureInfo{
		Timestamp:     c.now(),
		CaptureLength: len(data),
		Length:        len(data),
	}
	if err := c.writer.WritePacket(ci, data); err != nil {
		c.err = fmt.Errorf("write packet: %w", err)
		return
	}
	c.packets++
}

// PacketCount returns the number of packets written.
func (c *Capture) PacketCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.packets
}

// Err returns the first write error. Recording stops after an error.
func (c *Capture) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Close closes the underlying file if the Capture owns one.
func (c *Capture) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closer == nil {
		return c.err
	}
	err := c.closer.Close()
	c.closer = nil
	if err != nil {
		return err
	}
	return c.err
}
