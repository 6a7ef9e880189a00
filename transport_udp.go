package rtsp

import (
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"net"
	"sync"
)

const (
	minClientPort   = 10000
	maxClientPort   = 65000
	maxBindAttempts = 100
	rtcpPacketSize  = 0x800
)

type udpPair struct {
	src      *source
	muxed    bool
	rtpConn  *net.UDPConn
	rtcpConn *net.UDPConn
}

func (p *udpPair) loop(wg *sync.WaitGroup, conn *net.UDPConn, size int, rtcpOnly bool, log *slog.Logger) {
	defer wg.Done()

	buf := make([]byte, size)

	for {
		n, _, err := conn.ReadFromUDP(buf)
		if err != nil {
			if !errors.Is(err, net.ErrClosed) {
				log.Warn("udp transport failed", "substream", p.src.index, "err", err)
			}
			return
		}

		packet := buf[:n]

		switch {
		case rtcpOnly:
			p.src.pushRTCP(packet)
		case p.muxed && isRTCP(packet):
			p.src.pushRTCP(packet)
		default:
			p.src.pushRTP(packet)
		}
	}
}

func (p *udpPair) close() {
	if p.rtpConn != nil {
		p.rtpConn.Close()
	}

	if p.rtcpConn != nil {
		p.rtcpConn.Close()
	}
}

// transportUDP receives RTP and RTCP on local port pairs.
type transportUDP struct {
	log *slog.Logger

	mu        sync.Mutex
	pairs     []*udpPair
	wg        sync.WaitGroup
	closeOnce sync.Once
}

func newTransportUDP(log *slog.Logger) *transportUDP {
	return &transportUDP{
		log: log,
	}
}

func listenUDP(port int) (*net.UDPConn, error) {
	return net.ListenUDP("udp", &net.UDPAddr{
		IP:   net.IPv4zero,
		Port: port,
	})
}

// bind opens an even RTP port and, unless RTCP is muxed, the next odd one.
func bind(muxed bool) (rtpConn, rtcpConn *net.UDPConn, err error) {
	for i := 0; i < maxBindAttempts; i++ {
		// rtpPort random number in range 10000-65000, should be even
		rtpPort := minClientPort + rand.Intn(maxClientPort-minClientPort)
		rtpPort &^= 1

		if rtpConn, err = listenUDP(rtpPort); err != nil {
			continue
		}

		if muxed {
			return rtpConn, nil, nil
		}

		if rtcpConn, err = listenUDP(rtpPort + 1); err != nil {
			rtpConn.Close()
			continue
		}

		return rtpConn, rtcpConn, nil
	}

	return nil, nil, fmt.Errorf("bind client ports: %w", err)
}

func (t *transportUDP) setup(sub *Substream, src *source) (string, error) {
	rtpConn, rtcpConn, err := bind(sub.RTCPMuxed)
	if err != nil {
		return "", err
	}

	pair := &udpPair{
		src:      src,
		muxed:    sub.RTCPMuxed,
		rtpConn:  rtpConn,
		rtcpConn: rtcpConn,
	}

	t.mu.Lock()
	t.pairs = append(t.pairs, pair)
	t.mu.Unlock()

	src.setCloseHandler(func() {
		t.release(pair)
	})

	sub.ClientPort = rtpConn.LocalAddr().(*net.UDPAddr).Port

	if sub.RTCPMuxed {
		return fmt.Sprintf("RTP/AVP;unicast;client_port=%d", sub.ClientPort), nil
	}

	return fmt.Sprintf("RTP/AVP;unicast;client_port=%d-%d", sub.ClientPort, sub.ClientPort+1), nil
}

// release closes the ports of a substream whose source was closed.
func (t *transportUDP) release(pair *udpPair) {
	t.mu.Lock()
	pairs := make([]*udpPair, 0, len(t.pairs))
	for _, p := range t.pairs {
		if p != pair {
			pairs = append(pairs, p)
		}
	}
	t.pairs = pairs
	t.mu.Unlock()

	pair.close()
}

func (t *transportUDP) play() {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, p := range t.pairs {
		t.wg.Add(1)
		go p.loop(&t.wg, p.rtpConn, interleavedPacketSize, false, t.log)

		if p.rtcpConn != nil {
			t.wg.Add(1)
			go p.loop(&t.wg, p.rtcpConn, rtcpPacketSize, true, t.log)
		}
	}
}

func (t *transportUDP) close() {
	t.closeOnce.Do(func() {
		t.mu.Lock()
		pairs := t.pairs
		t.mu.Unlock()

		for _, p := range pairs {
			p.close()
			p.src.Close()
		}

		t.wg.Wait()
	})
}
