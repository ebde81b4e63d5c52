// Package peer implements the per-remote-peer protocol state
// machine — sync handshake, input
// send/receive with delta compression, quality reporting, and
// disconnect detection.
package peer

import (
	"fmt"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/wallstop/fortress"
	"github.com/wallstop/fortress/codec"
	"github.com/wallstop/fortress/frameinfo"
	"github.com/wallstop/fortress/rng"
	"github.com/wallstop/fortress/telemetry"
	"github.com/wallstop/fortress/wire"
)

const nullFrame = int32(-1)

// State is the FSM's lifecycle stage. Transitions are monotone:
// Initializing -> Synchronizing -> Running -> Disconnected -> Shutdown.
// Reverse transitions are forbidden.
type State int

const (
	StateInitializing State = iota
	StateSynchronizing
	StateRunning
	StateDisconnected
	StateShutdown
)

// String implements fmt.Stringer.
func (s State) String() string {
	switch s {
	case StateInitializing:
		return "Initializing"
	case StateSynchronizing:
		return "Synchronizing"
	case StateRunning:
		return "Running"
	case StateDisconnected:
		return "Disconnected"
	case StateShutdown:
		return "Shutdown"
	default:
		return "unknown"
	}
}

type pendingInput struct {
	frame int32
	bytes []byte
}

// FSM is the per-peer protocol state machine, generic over the host's
// transport address type A.
type FSM[A comparable] struct {
	addr A
	obs  telemetry.Observer

	state     State
	magic     uint16 // this side's outbound magic, chosen once at construction
	peerMagic uint16 // 0 until the sync handshake authenticates the peer

	syncCfg  fortress.SyncConfig
	protoCfg fortress.ProtocolConfig
	rng      *rng.PCG32

	// Synchronizing-phase bookkeeping.
	outstandingTokens      *gocache.Cache
	syncRequestsSent       uint32
	syncRemainingRoundtrips uint32
	syncWarned             bool
	syncDurationWarned     bool
	syncStart              time.Time

	lastSend          time.Time
	lastRecv          time.Time
	lastQualityReport time.Time
	lastInputSend     time.Time
	statsStart        time.Time
	shutdownAt        time.Time

	disconnectNotifySent bool

	pendingOutput  []pendingInput
	lastAckedBytes []byte
	nextSendFrame  int32 // next frame SendInput must be called with, nullFrame until the first call
	lastRecvFrame  int32 // highest frame accepted from this peer's Input packets

	receivedInputs map[int32][]byte
	checksums      map[int32]fortress.Checksum128

	peerConnectStatus []frameinfo.ConnectStatus

	localFrameAdvantage  int32
	remoteFrameAdvantage int32
	roundTripMs          int64

	outbound []wire.Message
	events   []fortress.FortressEvent[A]
}

// New builds an FSM in Initializing, with an outbound magic drawn from
// seeder (a nonzero random u16, so two sessions sharing an address pair
// across restarts cannot be confused).
func New[A comparable](addr A, seeder *rng.PCG32, syncCfg fortress.SyncConfig, protoCfg fortress.ProtocolConfig, obs telemetry.Observer) *FSM[A] {
	return &FSM[A]{
		addr:           addr,
		obs:            obs,
		state:          StateInitializing,
		magic:          seeder.NextNonzeroUint16(),
		syncCfg:        syncCfg,
		protoCfg:       protoCfg,
		rng:            seeder,
		outstandingTokens: gocache.New(syncTokenTTL(syncCfg), syncTokenTTL(syncCfg)),
		nextSendFrame:  nullFrame,
		lastRecvFrame:  nullFrame,
		receivedInputs: make(map[int32][]byte),
		checksums:      make(map[int32]fortress.Checksum128),
	}
}

func syncTokenTTL(cfg fortress.SyncConfig) time.Duration {
	ttl := cfg.SyncRetryInterval * 4
	if ttl <= 0 {
		ttl = time.Second
	}
	return ttl
}

// State returns the FSM's current lifecycle stage.
func (f *FSM[A]) State() State { return f.state }

// Magic returns this side's outbound magic.
func (f *FSM[A]) Magic() uint16 { return f.magic }

// Addr returns the remote address this FSM tracks.
func (f *FSM[A]) Addr() A { return f.addr }

// PeerConnectStatus returns this peer's merged view of every
// participant's connect status, as received in Input packets.
func (f *FSM[A]) PeerConnectStatus() []frameinfo.ConnectStatus {
	return f.peerConnectStatus
}

// LastRecvFrame returns the highest frame accepted from this peer.
func (f *FSM[A]) LastRecvFrame() int32 { return f.lastRecvFrame }

// LocalFrameAdvantage / RemoteFrameAdvantage are fed to the time-sync
// filter and read
// back by the orchestrator for QualityReport and wait-recommendation.
// RemoteFrameAdvantage is taken from the peer's QualityReport; nothing in
// this package sets the local advantage, so LocalFrameAdvantage (and the
// advantage sent in QualityReport) stays 0.
func (f *FSM[A]) LocalFrameAdvantage() int32  { return f.localFrameAdvantage }
func (f *FSM[A]) RemoteFrameAdvantage() int32 { return f.remoteFrameAdvantage }
func (f *FSM[A]) RoundTripMs() int64          { return f.roundTripMs }

func (f *FSM[A]) emit(kind fortress.FortressEventKind, fill func(*fortress.FortressEvent[A])) {
	ev := fortress.FortressEvent[A]{Kind: kind, Addr: f.addr}
	if fill != nil {
		fill(&ev)
	}
	f.events = append(f.events, ev)
}

// DrainEvents empties and returns the FSM's accumulated event stream.
func (f *FSM[A]) DrainEvents() []fortress.FortressEvent[A] {
	ev := f.events
	f.events = nil
	return ev
}

// DrainOutbound empties and returns datagrams queued for transmission.
func (f *FSM[A]) DrainOutbound() []wire.Message {
	out := f.outbound
	f.outbound = nil
	return out
}

func (f *FSM[A]) send(now time.Time, msg wire.Message) {
	msg.Magic = f.magic
	f.outbound = append(f.outbound, msg)
	f.lastSend = now
}

// Synchronize transitions Initializing -> Synchronizing and queues the
// first SyncRequest.
func (f *FSM[A]) Synchronize(now time.Time) error {
	if f.state != StateInitializing {
		return invalid(f.obs, "Synchronize called from state %s, expected Initializing", f.state)
	}
	f.state = StateSynchronizing
	f.statsStart = now
	f.syncStart = now
	f.syncRemainingRoundtrips = f.syncCfg.NumSyncPackets
	f.issueSyncRequest(now)
	return nil
}

func (f *FSM[A]) issueSyncRequest(now time.Time) {
	token := f.rng.NextUint32()
	f.outstandingTokens.SetDefault(tokenKey(token), struct{}{})
	f.syncRequestsSent++
	f.send(now, wire.Message{Tag: wire.TagSyncRequest, SyncRequest: wire.SyncRequest{Random: token}})

	if f.syncRequestsSent >= f.protoCfg.SyncRetryWarningThreshold && !f.syncWarned {
		f.syncWarned = true
		telemetry.Report(f.obs, telemetry.SeverityWarning, telemetry.KindProtocol,
			"peer %v: sync_requests_sent=%d crossed warning threshold %d", f.addr, f.syncRequestsSent, f.protoCfg.SyncRetryWarningThreshold)
	}
}

func tokenKey(token uint32) string { return fmt.Sprintf("%d", token) }

// Poll drives interval-gated duties: sync retries, quality reports,
// input retransmission, keepalives, and disconnect-timeout detection.
// No operation blocks; all waiting is "has this interval elapsed"
// checks against now.
func (f *FSM[A]) Poll(now time.Time) {
	switch f.state {
	case StateSynchronizing:
		f.pollSynchronizing(now)
	case StateRunning:
		f.pollRunning(now)
	case StateDisconnected:
		if !f.shutdownAt.IsZero() && !now.Before(f.shutdownAt) {
			f.state = StateShutdown
		}
	case StateInitializing, StateShutdown:
		// nothing to do
	}
}

func (f *FSM[A]) pollSynchronizing(now time.Time) {
	if f.lastSend.IsZero() || now.Sub(f.lastSend) >= f.syncCfg.SyncRetryInterval {
		f.issueSyncRequest(now)
	}
	if f.syncCfg.SyncTimeout > 0 && !f.syncDurationWarned && now.Sub(f.syncStart) >= f.syncCfg.SyncTimeout {
		f.syncDurationWarned = true
		f.emit(fortress.EventSyncTimeout, func(ev *fortress.FortressEvent[A]) {
			ev.ElapsedMs = uint64(now.Sub(f.syncStart).Milliseconds())
		})
	}
}

func (f *FSM[A]) pollRunning(now time.Time) {
	if f.lastQualityReport.IsZero() || now.Sub(f.lastQualityReport) >= f.protoCfg.QualityReportInterval {
		f.lastQualityReport = now
		f.send(now, wire.Message{
			Tag: wire.TagQualityReport,
			QualityReport: wire.QualityReport{
				FrameAdvantage: clampInt16(f.localFrameAdvantage),
				PingMs:         now.UnixMilli(),
			},
		})
	}

	if len(f.pendingOutput) > 0 && now.Sub(f.lastInputSend) >= f.syncCfg.RunningRetryInterval {
		f.resendPendingInput(now)
	}

	if now.Sub(f.lastSend) >= f.syncCfg.KeepaliveInterval && len(f.pendingOutput) == 0 {
		f.send(now, wire.Message{Tag: wire.TagKeepAlive})
	}

	disconnectNotifyStart := f.syncCfg.DisconnectNotifyStart
	disconnectTimeout := f.syncCfg.DisconnectTimeout
	if !f.lastRecv.IsZero() {
		since := now.Sub(f.lastRecv)
		if since >= disconnectNotifyStart && !f.disconnectNotifySent {
			f.disconnectNotifySent = true
			f.emit(fortress.EventNetworkInterrupted, func(ev *fortress.FortressEvent[A]) {
				ev.DisconnectTimeoutMs = uint64((disconnectTimeout - since).Milliseconds())
			})
		}
		if since >= disconnectTimeout {
			f.emit(fortress.EventDisconnected, nil)
		}
	}
}

func clampInt16(v int32) int16 {
	if v > 32767 {
		return 32767
	}
	if v < -32768 {
		return -32768
	}
	return int16(v)
}

// HandleMessage processes an inbound datagram. It is a no-op in
// Shutdown. Packets bearing a magic that conflicts with an already
// authenticated peer_magic are dropped silently.
func (f *FSM[A]) HandleMessage(now time.Time, msg wire.Message) {
	if f.state == StateShutdown {
		return
	}
	if f.peerMagic != 0 && msg.Magic != f.peerMagic {
		return
	}

	f.lastRecv = now
	if f.disconnectNotifySent && f.state == StateRunning {
		f.disconnectNotifySent = false
		f.emit(fortress.EventNetworkResumed, nil)
	}

	switch msg.Tag {
	case wire.TagSyncRequest:
		f.send(now, wire.Message{Tag: wire.TagSyncReply, SyncReply: wire.SyncReply{Random: msg.SyncRequest.Random}})
	case wire.TagSyncReply:
		f.handleSyncReply(now, msg)
	case wire.TagInput:
		f.handleInput(now, msg)
	case wire.TagInputAck:
		f.ackPendingOutput(msg.InputAck.AckFrame)
	case wire.TagQualityReport:
		f.remoteFrameAdvantage = int32(msg.QualityReport.FrameAdvantage)
		f.send(now, wire.Message{Tag: wire.TagQualityReply, QualityReply: wire.QualityReply{PongMs: msg.QualityReport.PingMs}})
	case wire.TagQualityReply:
		f.roundTripMs = now.UnixMilli() - msg.QualityReply.PongMs
	case wire.TagKeepAlive:
		// lastRecv already updated above; nothing else to do.
	case wire.TagChecksumReport:
		f.checksums[msg.ChecksumReport.Frame] = fortress.NewChecksum128(msg.ChecksumReport.ChecksumHi, msg.ChecksumReport.ChecksumLo)
	default:
		telemetry.Report(f.obs, telemetry.SeverityWarning, telemetry.KindProtocol, "peer %v: dropped unrecognized tag %d", f.addr, msg.Tag)
	}
}

func (f *FSM[A]) handleSyncReply(now time.Time, msg wire.Message) {
	if f.state != StateSynchronizing {
		return
	}
	key := tokenKey(msg.SyncReply.Random)
	if _, found := f.outstandingTokens.Get(key); !found {
		return
	}
	f.outstandingTokens.Delete(key)
	if f.syncRemainingRoundtrips == 0 {
		return
	}
	f.syncRemainingRoundtrips--

	if f.syncRemainingRoundtrips > 0 {
		f.emit(fortress.EventSynchronizing, func(ev *fortress.FortressEvent[A]) {
			ev.Total = f.syncCfg.NumSyncPackets
			ev.Count = f.syncCfg.NumSyncPackets - f.syncRemainingRoundtrips
			ev.TotalRequestsSent = f.syncRequestsSent
			ev.ElapsedMs = uint64(now.Sub(f.syncStart).Milliseconds())
		})
		f.issueSyncRequest(now)
		return
	}

	f.peerMagic = msg.Magic
	f.state = StateRunning
	f.emit(fortress.EventSynchronized, nil)
}

// ChecksumsSince returns every pending received checksum at a frame
// strictly less than before, for the orchestrator's desync pass. Matched
// entries are removed from the FSM's history.
func (f *FSM[A]) ChecksumsSince(before int32) map[int32]fortress.Checksum128 {
	out := make(map[int32]fortress.Checksum128)
	for frame, sum := range f.checksums {
		if frame < before {
			out[frame] = sum
			delete(f.checksums, frame)
		}
	}
	return out
}

// SendChecksumReport queues a ChecksumReport to this peer.
func (f *FSM[A]) SendChecksumReport(now time.Time, frame int32, sum fortress.Checksum128) {
	f.send(now, wire.Message{Tag: wire.TagChecksumReport, ChecksumReport: wire.ChecksumReport{Frame: frame, ChecksumHi: sum.Hi, ChecksumLo: sum.Lo}})
}

func (f *FSM[A]) handleInput(now time.Time, msg wire.Message) {
	in := msg.Input

	// Step 1: pop pending output up to ack_frame; the last popped
	// becomes the new compression reference.
	f.ackPendingOutput(in.AckFrame)

	// Step 2: a disconnect-requested flag ends things here.
	if in.DisconnectRequested {
		f.emit(fortress.EventDisconnected, nil)
		return
	}

	// Step 3: merge peer_connect_status (max last_frame, OR disconnected).
	if len(f.peerConnectStatus) < len(in.PeerConnectStatus) {
		grown := make([]frameinfo.ConnectStatus, len(in.PeerConnectStatus))
		copy(grown, f.peerConnectStatus)
		f.peerConnectStatus = grown
	}
	for i, cs := range in.PeerConnectStatus {
		f.peerConnectStatus[i].Merge(frameinfo.ConnectStatus{Disconnected: cs.Disconnected, LastFrame: cs.LastFrame})
	}

	// Step 4: last_recv_frame must precede start_frame.
	if f.lastRecvFrame != nullFrame && f.lastRecvFrame > in.StartFrame-1 {
		return
	}

	// Step 5: decode against the reference input for start_frame-1 (or
	// a zero blob for the very first packet).
	reference := f.receivedInputs[in.StartFrame-1]
	records, err := codec.DecodeInputBatch(reference, in.EncodedBytes, inputRecordSize(reference, in.EncodedBytes))
	if err != nil {
		telemetry.Report(f.obs, telemetry.SeverityError, telemetry.KindProtocol, "peer %v: dropped malformed input packet: %v", f.addr, err)
		return
	}
	for i, rec := range records {
		frame := in.StartFrame + int32(i)
		if f.lastRecvFrame != nullFrame && frame <= f.lastRecvFrame {
			continue
		}
		f.receivedInputs[frame] = rec
		f.lastRecvFrame = frame
	}

	// Step 6: ack the new last_recv_frame.
	f.send(now, wire.Message{Tag: wire.TagInputAck, InputAck: wire.InputAck{AckFrame: f.lastRecvFrame}})

	// Step 7: prune received-input history to the configured window.
	f.pruneReceivedInputs()
}

// inputRecordSize infers the per-record byte width from whichever of
// reference/encoded is non-empty; callers that need an exact width
// should track it alongside the session's player count and input codec
// instead of relying on this heuristic in new code.
func inputRecordSize(reference []byte, _ []byte) int {
	if len(reference) > 0 {
		return len(reference)
	}
	return 1
}

func (f *FSM[A]) pruneReceivedInputs() {
	if f.lastRecvFrame == nullFrame {
		return
	}
	horizon := f.lastRecvFrame - int32(f.protoCfg.InputHistoryMultiplier)*horizonWindow(f.protoCfg)
	for frame := range f.receivedInputs {
		if frame < horizon {
			delete(f.receivedInputs, frame)
		}
	}
}

func horizonWindow(cfg fortress.ProtocolConfig) int32 {
	// A fixed, conservative stand-in for max_prediction, which this
	// package does not itself own.
	return 64
}

// ReceivedInput returns the raw decoded input blob received for frame,
// if still retained.
func (f *FSM[A]) ReceivedInput(frame int32) ([]byte, bool) {
	b, ok := f.receivedInputs[frame]
	return b, ok
}

func (f *FSM[A]) ackPendingOutput(ackFrame int32) {
	if ackFrame == nullFrame {
		return
	}
	i := 0
	for ; i < len(f.pendingOutput); i++ {
		if f.pendingOutput[i].frame > ackFrame {
			break
		}
		f.lastAckedBytes = f.pendingOutput[i].bytes
	}
	f.pendingOutput = f.pendingOutput[i:]
}

// SendInput pushes one player-keyed input record for frame and
// transmits the whole pending batch, delta-encoded against the last
// acknowledged input.
func (f *FSM[A]) SendInput(now time.Time, frame int32, recordBytes []byte, ackFrame int32, localConnectStatus []frameinfo.ConnectStatus, disconnectRequested bool) error {
	if f.nextSendFrame != nullFrame && frame != f.nextSendFrame {
		return invalid(f.obs, "SendInput frame %d is not contiguous with expected next frame %d", frame, f.nextSendFrame)
	}
	f.nextSendFrame = frame + 1
	f.pendingOutput = append(f.pendingOutput, pendingInput{frame: frame, bytes: recordBytes})
	if len(f.pendingOutput) > f.protoCfg.PendingOutputLimit {
		f.emit(fortress.EventDisconnected, nil)
	}

	f.lastInputSend = now
	f.transmitPendingBatch(now, ackFrame, localConnectStatus, disconnectRequested)
	return nil
}

func (f *FSM[A]) resendPendingInput(now time.Time) {
	if len(f.pendingOutput) == 0 {
		return
	}
	f.lastInputSend = now
	f.transmitPendingBatch(now, f.lastRecvFrame, nil, f.state == StateDisconnected)
}

func (f *FSM[A]) transmitPendingBatch(now time.Time, ackFrame int32, localConnectStatus []frameinfo.ConnectStatus, disconnectRequested bool) {
	if len(f.pendingOutput) == 0 {
		return
	}
	records := make([][]byte, len(f.pendingOutput))
	for i, p := range f.pendingOutput {
		records[i] = p.bytes
	}
	recordSize := len(records[0])
	encoded := codec.EncodeInputBatch(f.lastAckedBytes, records, recordSize)

	wireStatus := make([]wire.ConnectStatusWire, len(localConnectStatus))
	for i, cs := range localConnectStatus {
		wireStatus[i] = wire.ConnectStatusWire{Disconnected: cs.Disconnected, LastFrame: cs.LastFrame}
	}

	f.send(now, wire.Message{
		Tag: wire.TagInput,
		Input: wire.Input{
			StartFrame:          f.pendingOutput[0].frame,
			AckFrame:            ackFrame,
			DisconnectRequested: disconnectRequested,
			PeerConnectStatus:   wireStatus,
			EncodedBytes:        encoded,
		},
	})

	if len(encoded) > idealMTU {
		telemetry.Report(f.obs, telemetry.SeverityWarning, telemetry.KindTransport, "peer %v: input packet of %d bytes exceeds ideal MTU %d", f.addr, len(encoded), idealMTU)
	}
}

// idealMTU is the per-packet budget to avoid IP fragmentation.
const idealMTU = 508

// Disconnect forces the FSM into Disconnected, scheduling a shutdown
// delay. Idempotent: calling it again (including from Disconnected or
// Shutdown) is a no-op.
func (f *FSM[A]) Disconnect(now time.Time) {
	if f.state == StateDisconnected || f.state == StateShutdown {
		return
	}
	f.state = StateDisconnected
	f.shutdownAt = now.Add(f.protoCfg.ShutdownDelay)
}

func invalid(obs telemetry.Observer, format string, args ...any) error {
	msg := fmt.Sprintf(format, args...)
	telemetry.Report(obs, telemetry.SeverityWarning, telemetry.KindProtocol, "%s", msg)
	return fmt.Errorf("peer: %s", msg)
}
