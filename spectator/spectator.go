// Package spectator implements the reduced spectator façade: a
// fire-and-forget feed of confirmed input, no local input, no
// rollback. It reuses the peer protocol FSM for the handshake and
// keepalive machinery but, unlike the full Session, never predicts and
// never rolls back — it only ever replays what the source has already
// confirmed.
package spectator

import (
	"context"
	"time"

	"github.com/wallstop/fortress"
	"github.com/wallstop/fortress/peer"
	"github.com/wallstop/fortress/rng"
	"github.com/wallstop/fortress/telemetry"
	"github.com/wallstop/fortress/transport"
	"github.com/wallstop/fortress/wire"
)

const maxEventQueueSize = 100

// Config tunes a spectator feed.
type Config struct {
	NumPlayers int
	Spectator  fortress.SpectatorConfig
	Sync       fortress.SyncConfig
	Protocol   fortress.ProtocolConfig
	Observer   telemetry.Observer
}

// Session is a single spectator connection to one source peer.
// InputWidth is the fixed per-player encoded width the source
// broadcasts with (see fortress.Session.encodeConfirmedInputs); every
// confirmed frame carries exactly NumPlayers*InputWidth bytes.
type Session[I any, A comparable] struct {
	cfg        Config
	obs        telemetry.Observer
	fsm        *peer.FSM[A]
	trans      transport.Transport[A]
	sourceAddr A

	inputWidth  int
	decodeInput func([]byte) I

	nextPlayFrame int32
	events        []fortress.FortressEvent[A]
}

// New builds a spectator session dialing sourceAddr, the machine
// hosting the match.
func New[I any, A comparable](cfg Config, trans transport.Transport[A], sourceAddr A, inputWidth int, decodeInput func([]byte) I) (*Session[I, A], error) {
	if inputWidth <= 0 {
		return nil, &fortress.Error{Kind: fortress.ErrInvalidRequest, Msg: "spectator: inputWidth must be > 0"}
	}
	if decodeInput == nil {
		return nil, &fortress.Error{Kind: fortress.ErrInvalidRequest, Msg: "spectator: decodeInput is required"}
	}
	if cfg.Observer == nil {
		cfg.Observer = telemetry.NopObserver{}
	}
	seeder := rng.FromEntropy()
	if cfg.Protocol.ProtocolRNGSeed != nil {
		seeder = rng.Seed(*cfg.Protocol.ProtocolRNGSeed)
	}
	fsm := peer.New[A](sourceAddr, seeder, cfg.Sync, cfg.Protocol, cfg.Observer)
	return &Session[I, A]{
		cfg:         cfg,
		obs:         cfg.Observer,
		fsm:         fsm,
		trans:       trans,
		sourceAddr:  sourceAddr,
		inputWidth:  inputWidth * cfg.NumPlayers,
		decodeInput: decodeInput,
	}, nil
}

// Synchronize starts the handshake with the source.
func (s *Session[I, A]) Synchronize(now time.Time) error {
	return s.fsm.Synchronize(now)
}

// IsSynchronized reports whether the handshake with the source has
// completed.
func (s *Session[I, A]) IsSynchronized() bool {
	return s.fsm.State() == peer.StateRunning
}

// Events drains the public event queue.
func (s *Session[I, A]) Events() []fortress.FortressEvent[A] {
	ev := s.events
	s.events = nil
	return ev
}

func (s *Session[I, A]) pushEvent(ev fortress.FortressEvent[A]) {
	s.events = append(s.events, ev)
	if len(s.events) > maxEventQueueSize {
		s.events = s.events[len(s.events)-maxEventQueueSize:]
	}
}

// Poll pumps transport I/O and the FSM's timers. Call on every tick,
// independent of whether a confirmed frame is available yet.
func (s *Session[I, A]) Poll(ctx context.Context, now time.Time) error {
	datagrams, err := s.trans.ReceiveAll(ctx)
	if err != nil {
		return err
	}
	for _, dg := range datagrams {
		if dg.From != s.sourceAddr {
			continue
		}
		msg, err := wire.Decode(dg.Payload)
		if err != nil {
			telemetry.Report(s.obs, telemetry.SeverityError, telemetry.KindProtocol, "spectator: dropped malformed datagram: %v", err)
			continue
		}
		s.fsm.HandleMessage(now, msg)
	}
	s.fsm.Poll(now)
	for _, ev := range s.fsm.DrainEvents() {
		s.pushEvent(ev)
	}
	for _, msg := range s.fsm.DrainOutbound() {
		_ = s.trans.SendTo(ctx, s.sourceAddr, wire.Encode(msg))
	}
	return nil
}

// NextConfirmedFrame returns the next frame's decoded per-player
// inputs, advancing the playback cursor. ok is false when the source
// hasn't confirmed that frame yet. When the spectator has fallen more
// than MaxFramesBehind behind the source's latest received frame, the
// cursor jumps forward by CatchupSpeed frames instead of 1.
func (s *Session[I, A]) NextConfirmedFrame() (frame int32, inputs []I, ok bool) {
	latest := s.fsm.LastRecvFrame()
	behind := latest - s.nextPlayFrame
	step := int32(1)
	if s.cfg.Spectator.MaxFramesBehind > 0 && behind > int32(s.cfg.Spectator.MaxFramesBehind) {
		step = int32(s.cfg.Spectator.CatchupSpeed)
		if step < 1 {
			step = 1
		}
	}

	raw, have := s.fsm.ReceivedInput(s.nextPlayFrame)
	if !have || len(raw) != s.inputWidth {
		return 0, nil, false
	}

	perPlayer := s.inputWidth / s.cfg.NumPlayers
	out := make([]I, s.cfg.NumPlayers)
	for i := range out {
		out[i] = s.decodeInput(raw[i*perPlayer : (i+1)*perPlayer])
	}

	frame = s.nextPlayFrame
	s.nextPlayFrame += step
	return frame, out, true
}
