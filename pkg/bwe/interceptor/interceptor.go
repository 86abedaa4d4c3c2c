// Package interceptor provides a Pion WebRTC interceptor for receiver-side
// bandwidth estimation using the Google Congestion Control (GCC) algorithm.
package interceptor

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/pion/interceptor"
	"github.com/pion/logging"
	"github.com/pion/rtcp"

	"github.com/rtpflow/gccbwe/pkg/bwe"
	"github.com/rtpflow/gccbwe/pkg/header"
)

const (
	// streamTimeout is how long to keep tracking an inactive stream.
	// Streams with no packets for this duration are removed.
	streamTimeout = 2 * time.Second
)

// BWEInterceptor is a Pion interceptor that performs receiver-side bandwidth
// estimation using the GCC algorithm. It observes incoming RTP packets,
// extracts timing information from header extensions, and feeds them to
// the estimator.
//
// Usage:
//
//	estimator := bwe.New(nil)
//	interceptor := NewBWEInterceptor(estimator)
//	// Add to interceptor registry...
type BWEInterceptor struct {
	interceptor.NoOp // Embed for interface compliance

	estimator     *bwe.DelayBasedBwe
	rembScheduler *bwe.REMBScheduler
	streams       sync.Map // SSRC (uint32) -> *streamState
	log           logging.LeveledLogger

	// extMap resolves negotiated one-byte extension ids to the types the
	// header parser recognizes. Built once the first stream's extension
	// ids are known; every stream in a session is assumed to negotiate the
	// same ids, matching how SDP extmap negotiation actually works.
	extMap   atomic.Pointer[header.ExtensionMap]
	absExtID atomic.Uint32

	// RTCP writer and REMB scheduling
	mu           sync.Mutex
	rtcpWriter   interceptor.RTCPWriter
	rembInterval time.Duration
	senderSSRC   uint32
	onREMB       func(bitrate float32, ssrcs []uint32)

	// Lifecycle
	closed    chan struct{}
	wg        sync.WaitGroup
	startOnce sync.Once // Ensures cleanup loop starts only once
}

// InterceptorOption is a functional option for configuring BWEInterceptor.
type InterceptorOption func(*BWEInterceptor)

// WithREMBInterval sets the interval for sending REMB packets.
// Default is 1 second (1Hz).
func WithREMBInterval(d time.Duration) InterceptorOption {
	return func(i *BWEInterceptor) {
		i.rembInterval = d
	}
}

// WithSenderSSRC sets the sender SSRC to use in REMB packets.
// This is typically the SSRC of the local receiver's RTCP packets.
func WithSenderSSRC(ssrc uint32) InterceptorOption {
	return func(i *BWEInterceptor) {
		i.senderSSRC = ssrc
	}
}

// WithOnREMB sets a callback that is invoked each time a REMB packet is sent.
// The callback receives the bitrate estimate and the SSRCs included in the REMB.
func WithOnREMB(fn func(bitrate float32, ssrcs []uint32)) InterceptorOption {
	return func(i *BWEInterceptor) {
		i.onREMB = fn
	}
}

// WithLogger sets the logger used for parse-failure and extension warnings.
func WithLogger(log logging.LeveledLogger) InterceptorOption {
	return func(i *BWEInterceptor) {
		i.log = log
	}
}

// NewBWEInterceptor creates a new bandwidth estimation interceptor wrapping
// an already-constructed estimator.
//
// Options can be provided to customize behavior:
//   - WithREMBInterval: Set REMB sending interval (default 1s)
//   - WithSenderSSRC: Set sender SSRC for REMB packets
func NewBWEInterceptor(estimator *bwe.DelayBasedBwe, opts ...InterceptorOption) *BWEInterceptor {
	i := &BWEInterceptor{
		estimator:    estimator,
		closed:       make(chan struct{}),
		rembInterval: time.Second, // default 1Hz
		log:          logging.NewDefaultLoggerFactory().NewLogger("bwe_interceptor"),
	}
	for _, opt := range opts {
		opt(i)
	}

	rembConfig := bwe.DefaultREMBSchedulerConfig()
	rembConfig.Interval = i.rembInterval
	rembConfig.SenderSSRC = i.senderSSRC
	i.rembScheduler = bwe.NewREMBScheduler(rembConfig)

	return i
}

// Close shuts down the interceptor and releases resources.
func (i *BWEInterceptor) Close() error {
	close(i.closed)
	i.wg.Wait()
	return nil
}

// BindRTCPWriter is called by Pion when the RTCP writer is ready.
// It captures the writer for sending REMB packets and starts the REMB loop.
func (i *BWEInterceptor) BindRTCPWriter(writer interceptor.RTCPWriter) interceptor.RTCPWriter {
	i.mu.Lock()
	i.rtcpWriter = writer
	i.mu.Unlock()

	i.wg.Add(1)
	go i.rembLoop()

	return writer // Pass through unchanged
}

// BindRemoteStream is called by Pion when a new remote stream is detected.
// It extracts RTP header extension IDs and wraps the reader to observe packets.
func (i *BWEInterceptor) BindRemoteStream(info *interceptor.StreamInfo, reader interceptor.RTPReader) interceptor.RTPReader {
	i.startOnce.Do(func() {
		i.wg.Add(1)
		go i.cleanupLoop()
	})

	if absID := FindAbsSendTimeID(info.RTPHeaderExtensions); absID != 0 {
		if i.absExtID.CompareAndSwap(0, uint32(absID)) {
			m := header.ExtensionMap{absID: header.ExtensionAbsoluteSendTime}
			i.extMap.Store(&m)
		}
	}

	state := newStreamState(info.SSRC)
	i.streams.Store(info.SSRC, state)

	return interceptor.RTPReaderFunc(func(b []byte, a interceptor.Attributes) (int, interceptor.Attributes, error) {
		n, a, err := reader.Read(b, a)
		if err == nil && n > 0 {
			i.processRTP(b[:n], info.SSRC)
		}
		return n, a, err
	})
}

// UnbindRemoteStream is called by Pion when a remote stream is removed.
func (i *BWEInterceptor) UnbindRemoteStream(info *interceptor.StreamInfo) {
	i.streams.Delete(info.SSRC)
	i.estimator.RemoveStream(info.SSRC)
}

// processRTP parses an RTP packet and feeds timing information to the estimator.
// A packet that fails to parse, or that lacks an abs-send-time extension, is
// logged and dropped rather than fed to the estimator.
func (i *BWEInterceptor) processRTP(raw []byte, ssrc uint32) {
	now := time.Now()

	if state, ok := i.streams.Load(ssrc); ok {
		state.(*streamState).UpdateLastPacket(now)
	}

	var extMap header.ExtensionMap
	if m := i.extMap.Load(); m != nil {
		extMap = *m
	}

	h, err := header.Parse(raw, extMap, i.log)
	if err != nil {
		i.log.Warnf("bwe: dropping unparseable RTP packet from ssrc %d: %v", ssrc, err)
		return
	}
	if !h.Extensions.HasAbsoluteSendTime {
		i.log.Debugf("bwe: dropping packet from ssrc %d with no abs-send-time extension", ssrc)
		return
	}

	i.estimator.IncomingPacketInfo(bwe.PacketArrival{
		ArrivalMs:      now.UnixMilli(),
		SendTime24:     h.Extensions.AbsoluteSendTime,
		PayloadSize:    len(raw),
		SSRC:           h.SSRC,
		ProbeClusterID: bwe.ProbeClusterNone,
	})
}

// rembLoop runs periodically to send REMB packets.
// It uses the configured rembInterval (default 1s).
func (i *BWEInterceptor) rembLoop() {
	defer i.wg.Done()

	ticker := time.NewTicker(i.rembInterval)
	defer ticker.Stop()

	for {
		select {
		case <-i.closed:
			return
		case now := <-ticker.C:
			i.maybeSendREMB(now)
		}
	}
}

// maybeSendREMB checks if a REMB should be sent and sends it via the RTCPWriter.
func (i *BWEInterceptor) maybeSendREMB(now time.Time) {
	est, ok := i.estimator.LatestEstimate()
	if !ok {
		return
	}

	data, shouldSend, err := i.rembScheduler.MaybeSendREMB(int64(est.BitrateBps), est.SSRCs, now)
	if err != nil || !shouldSend || len(data) == 0 {
		return
	}

	i.mu.Lock()
	writer := i.rtcpWriter
	i.mu.Unlock()
	if writer == nil {
		return // Not bound yet, skip
	}

	pkts, err := rtcp.Unmarshal(data)
	if err != nil {
		return // Should never happen with our own REMB bytes
	}

	_, _ = writer.Write(pkts, nil) // Ignore errors (network issues)

	if i.onREMB != nil {
		if remb, ok := pkts[0].(*rtcp.ReceiverEstimatedMaximumBitrate); ok {
			i.onREMB(remb.Bitrate, remb.SSRCs)
		}
	}
}

// cleanupLoop runs periodically to remove inactive streams.
// It checks every second and removes streams that haven't received
// packets for longer than streamTimeout (2 seconds).
func (i *BWEInterceptor) cleanupLoop() {
	defer i.wg.Done()

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-i.closed:
			return
		case now := <-ticker.C:
			i.cleanupInactiveStreams(now)
		}
	}
}

// cleanupInactiveStreams removes streams that haven't received packets
// for longer than streamTimeout. Uses sync.Map.Range for thread-safe iteration.
func (i *BWEInterceptor) cleanupInactiveStreams(now time.Time) {
	i.streams.Range(func(key, value any) bool {
		state := value.(*streamState)
		if now.Sub(state.LastPacket()) > streamTimeout {
			i.streams.Delete(key)
			i.estimator.RemoveStream(key.(uint32))
		}
		return true // Continue iteration
	})
}
