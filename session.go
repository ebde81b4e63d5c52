package fortress

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/wallstop/fortress/frameinfo"
	"github.com/wallstop/fortress/peer"
	"github.com/wallstop/fortress/rng"
	"github.com/wallstop/fortress/synclayer"
	"github.com/wallstop/fortress/telemetry"
	"github.com/wallstop/fortress/timesync"
	"github.com/wallstop/fortress/transport"
	"github.com/wallstop/fortress/wire"
)

// maxEventQueueSize bounds the public event queue; the oldest event
// drops on overflow rather than blocking the orchestrator.
const maxEventQueueSize = 100

// minRecommendation and recommendationInterval gate the
// WaitRecommendation heuristic: a peer must be at least this many
// frames ahead, and the orchestrator won't re-recommend more often than
// once per interval.
const (
	minRecommendation      = 3
	recommendationInterval = 60
)

// SessionConfig collects every session-construction option.
type SessionConfig struct {
	NumPlayers      int
	MaxPrediction   int
	InputDelay      int
	InputQueue      InputQueueConfig
	SaveMode        SaveMode
	Desync          DesyncDetection
	Sync            SyncConfig
	Protocol        ProtocolConfig
	Spectator       SpectatorConfig
	FPS             int
	Observer        telemetry.Observer
	ProtocolRNGSeed *uint64
}

// Validate checks the configuration's numeric bounds.
func (c SessionConfig) Validate() error {
	if c.NumPlayers < 1 {
		return invalidRequest("NumPlayers must be >= 1, got %d", c.NumPlayers)
	}
	if c.MaxPrediction < 0 {
		return invalidRequest("MaxPrediction must be >= 0, got %d", c.MaxPrediction)
	}
	if c.InputDelay < 0 || c.InputDelay >= c.InputQueue.QueueLength {
		return invalidRequest("InputDelay must be in [0, %d), got %d", c.InputQueue.QueueLength, c.InputDelay)
	}
	if err := c.InputQueue.Validate(); err != nil {
		return err
	}
	return c.Protocol.Validate()
}

// isLockstep reports whether MaxPrediction == 0: sparse saving is
// coerced off and advance requires full confirmation.
func (c SessionConfig) isLockstep() bool { return c.MaxPrediction == 0 }

type remoteEntry[A comparable] struct {
	handle  PlayerHandle
	addr    A
	fsm     *peer.FSM[A]
	ts      *timesync.Filter
	ingested int32
}

// Session is the orchestrator that ties the sync layer, the peer
// protocol, and the host's request loop together. I
// must be byte-serializable; encodeInput/decodeInput are the host's
// hooks for that, since a generic I carries no serialization method set
// of its own.
type Session[I any, S any, A comparable] struct {
	cfg SessionConfig
	obs telemetry.Observer

	layer *synclayer.Layer[I, S]
	trans transport.Transport[A]
	seed  *rng.PCG32

	defaultInput I
	encodeInput  func(I) []byte
	decodeInput  func([]byte) I
	inputWidth   int

	localHandles map[PlayerHandle]bool
	localBuffer  map[PlayerHandle]I

	remotes      map[PlayerHandle]*remoteEntry[A]
	addrToHandle map[A]PlayerHandle

	spectators         []*peer.FSM[A]
	nextSpectatorFrame int32

	localConnectStatus []frameinfo.ConnectStatus

	state SessionState

	events []FortressEvent[A]

	lastVerifiedFrame    int32
	nextRecommendedSleep int32

	localChecksums map[int32]Checksum128
}

// NewSession builds a Session from cfg, wired to trans for remote I/O.
// defaultInput is the blank input every queue and disconnected slot
// reports. encodeInput/decodeInput turn a single player's input to and
// from the fixed-width byte record the wire protocol carries; every
// call must produce the same length for the lifetime of the session.
func NewSession[I any, S any, A comparable](cfg SessionConfig, trans transport.Transport[A], defaultInput I, encodeInput func(I) []byte, decodeInput func([]byte) I) (*Session[I, S, A], error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Observer == nil {
		cfg.Observer = telemetry.NopObserver{}
	}
	if encodeInput == nil || decodeInput == nil {
		return nil, invalidRequest("NewSession: encodeInput and decodeInput are required")
	}

	var seed *rng.PCG32
	if cfg.ProtocolRNGSeed != nil {
		seed = rng.Seed(*cfg.ProtocolRNGSeed)
	} else if cfg.Protocol.ProtocolRNGSeed != nil {
		seed = rng.Seed(*cfg.Protocol.ProtocolRNGSeed)
	} else {
		seed = rng.FromEntropy()
	}

	maxPrediction := cfg.MaxPrediction
	saveMode := cfg.SaveMode
	if cfg.isLockstep() {
		saveMode = SaveEveryFrame
	}
	cfg.SaveMode = saveMode

	s := &Session[I, S, A]{
		cfg:                cfg,
		obs:                cfg.Observer,
		layer:              synclayer.New[I, S](cfg.NumPlayers, maxPrediction, cfg.InputQueue.QueueLength, defaultInput),
		trans:              trans,
		seed:               seed,
		defaultInput:       defaultInput,
		encodeInput:        encodeInput,
		decodeInput:        decodeInput,
		inputWidth:         len(encodeInput(defaultInput)),
		localHandles:       make(map[PlayerHandle]bool),
		localBuffer:        make(map[PlayerHandle]I),
		remotes:            make(map[PlayerHandle]*remoteEntry[A]),
		addrToHandle:       make(map[A]PlayerHandle),
		localConnectStatus: make([]frameinfo.ConnectStatus, cfg.NumPlayers),
		state:              StateSynchronizing,
		lastVerifiedFrame:  NullFrame,
		localChecksums:     make(map[int32]Checksum128),
	}
	for h := 0; h < cfg.NumPlayers; h++ {
		s.layer.SetFrameDelay(h, int32(cfg.InputDelay))
	}
	return s, nil
}

// AddLocalPlayer marks handle as locally controlled.
func (s *Session[I, S, A]) AddLocalPlayer(handle PlayerHandle) error {
	if !handle.IsValidPlayerFor(uint32(s.cfg.NumPlayers)) {
		return invalidPlayerHandle("handle %s is not a player in a %d-player session", handle, s.cfg.NumPlayers)
	}
	s.localHandles[handle] = true
	return nil
}

// AddRemotePlayer wires handle to a peer FSM dialing addr. One address
// maps to exactly one handle; a remote machine that controls more than
// one player needs one AddRemotePlayer call (and one connection) per
// handle.
func (s *Session[I, S, A]) AddRemotePlayer(handle PlayerHandle, addr A) error {
	if !handle.IsValidPlayerFor(uint32(s.cfg.NumPlayers)) {
		return invalidPlayerHandle("handle %s is not a player in a %d-player session", handle, s.cfg.NumPlayers)
	}
	fsm := peer.New[A](addr, s.seed, s.cfg.Sync, s.cfg.Protocol, s.obs)
	s.remotes[handle] = &remoteEntry[A]{handle: handle, addr: addr, fsm: fsm, ts: timesync.New(), ingested: NullFrame}
	s.addrToHandle[addr] = handle
	return nil
}

// AddSpectator registers a fire-and-forget spectator feed at addr.
func (s *Session[I, S, A]) AddSpectator(addr A) error {
	fsm := peer.New[A](addr, s.seed, s.cfg.Sync, s.cfg.Protocol, s.obs)
	s.spectators = append(s.spectators, fsm)
	return nil
}

// Synchronize kicks off the sync handshake on every remote and
// spectator FSM. Call once after every participant is registered.
func (s *Session[I, S, A]) Synchronize(now time.Time) error {
	for _, r := range s.remotes {
		if err := r.fsm.Synchronize(now); err != nil {
			return err
		}
	}
	for _, sp := range s.spectators {
		if err := sp.Synchronize(now); err != nil {
			return err
		}
	}
	return nil
}

// AddLocalInput buffers input for handle's current frame. Rejects a
// handle that isn't local.
func (s *Session[I, S, A]) AddLocalInput(handle PlayerHandle, input I) error {
	if !s.localHandles[handle] {
		return invalidRequest("AddLocalInput: handle %s is not a local player", handle)
	}
	s.localBuffer[handle] = input
	return nil
}

// DisconnectPlayer forces a remote handle to Disconnected. Rejects
// local handles. Idempotent.
func (s *Session[I, S, A]) DisconnectPlayer(handle PlayerHandle, now time.Time) error {
	if s.localHandles[handle] {
		return invalidRequest("DisconnectPlayer: handle %s is local", handle)
	}
	r, ok := s.remotes[handle]
	if !ok {
		return invalidPlayerHandle("DisconnectPlayer: handle %s has no remote entry", handle)
	}
	r.fsm.Disconnect(now)
	if int(handle) < len(s.localConnectStatus) {
		s.localConnectStatus[handle].Disconnected = true
		s.localConnectStatus[handle].LastFrame = s.layer.CurrentFrame()
	}
	return nil
}

func (s *Session[I, S, A]) pushEvent(ev FortressEvent[A]) {
	s.events = append(s.events, ev)
	if len(s.events) > maxEventQueueSize {
		s.events = s.events[len(s.events)-maxEventQueueSize:]
	}
}

// Events drains the public event queue.
func (s *Session[I, S, A]) Events() []FortressEvent[A] {
	ev := s.events
	s.events = nil
	return ev
}

// CurrentFrame, LastVerifiedFrame, IsSynchronized are the orchestrator's
// introspection surface.
func (s *Session[I, S, A]) CurrentFrame() Frame      { return NewFrame(s.layer.CurrentFrame()) }
func (s *Session[I, S, A]) LastVerifiedFrame() Frame { return NewFrame(s.lastVerifiedFrame) }
func (s *Session[I, S, A]) IsSynchronized() bool     { return s.state == StateRunning }

// ConfirmedFrame is the minimum local_connect_status.last_frame across
// connected players. With no connected players it returns 0 and logs a
// warning.
func (s *Session[I, S, A]) ConfirmedFrame() Frame {
	min := int32(-1)
	anyConnected := false
	for i, cs := range s.localConnectStatus {
		if cs.Disconnected {
			continue
		}
		anyConnected = true
		lf := cs.LastFrame
		if i < s.cfg.NumPlayers && s.localHandles[PlayerHandle(i)] {
			lf = s.layer.CurrentFrame()
		}
		if min == -1 || lf < min {
			min = lf
		}
	}
	if !anyConnected {
		telemetry.Report(s.obs, telemetry.SeverityWarning, telemetry.KindSync, "ConfirmedFrame: no connected players")
		return NewFrame(0)
	}
	return NewFrame(min)
}

// NetworkStats reports a remote peer's ping and frame advantages for
// host diagnostics overlays. SendQueueLength and KbpsSent are not filled
// in by Session.NetworkStats and are always 0.
type NetworkStats struct {
	PingMs               int64
	SendQueueLength      int
	LocalFrameAdvantage  int32
	RemoteFrameAdvantage int32
	KbpsSent             float64
}

// NetworkStats returns introspection data for a remote handle.
func (s *Session[I, S, A]) NetworkStats(handle PlayerHandle) (NetworkStats, error) {
	r, ok := s.remotes[handle]
	if !ok {
		return NetworkStats{}, invalidPlayerHandle("NetworkStats: handle %s has no remote entry", handle)
	}
	return NetworkStats{
		PingMs:               r.fsm.RoundTripMs(),
		LocalFrameAdvantage:  r.fsm.LocalFrameAdvantage(),
		RemoteFrameAdvantage: r.fsm.RemoteFrameAdvantage(),
	}, nil
}

// SyncHealth reports a remote peer's FSM lifecycle stage and round-trip
// estimate, coarser than NetworkStats but available pre-Running.
type SyncHealth struct {
	State  peer.State
	PingMs int64
}

// SyncHealth returns introspection data for a remote handle, valid even
// before the session reaches Running.
func (s *Session[I, S, A]) SyncHealth(handle PlayerHandle) (SyncHealth, error) {
	r, ok := s.remotes[handle]
	if !ok {
		return SyncHealth{}, invalidPlayerHandle("SyncHealth: handle %s has no remote entry", handle)
	}
	return SyncHealth{State: r.fsm.State(), PingMs: r.fsm.RoundTripMs()}, nil
}

// PollRemoteClients pumps transport receive, dispatches to FSMs, polls
// timers, ingests newly received remote input, and forwards FSM events
// into the public queue. Exposed so callers can tick networking
// independent of simulation rate.
func (s *Session[I, S, A]) PollRemoteClients(ctx context.Context, now time.Time) error {
	datagrams, err := s.trans.ReceiveAll(ctx)
	if err != nil {
		return err
	}
	for _, dg := range datagrams {
		handle, isPlayer := s.addrToHandle[dg.From]
		if isPlayer {
			s.dispatchToFSM(s.remotes[handle].fsm, now, dg.Payload)
			continue
		}
		for _, sp := range s.spectators {
			if sp.Addr() == dg.From {
				s.dispatchToFSM(sp, now, dg.Payload)
				break
			}
		}
	}

	for _, r := range s.remotes {
		r.fsm.Poll(now)
		s.drainFSM(ctx, r)
	}
	for _, sp := range s.spectators {
		sp.Poll(now)
		s.drainFSMRaw(ctx, sp)
	}

	s.ingestRemoteInputs()

	if s.state != StateRunning {
		allSynced := true
		for _, r := range s.remotes {
			if r.fsm.State() != peer.StateRunning {
				allSynced = false
			}
		}
		if allSynced {
			s.state = StateRunning
		}
	}
	return nil
}

func (s *Session[I, S, A]) dispatchToFSM(fsm *peer.FSM[A], now time.Time, payload []byte) {
	msg, err := wire.Decode(payload)
	if err != nil {
		telemetry.Report(s.obs, telemetry.SeverityError, telemetry.KindProtocol, "dropped malformed datagram: %v", err)
		return
	}
	fsm.HandleMessage(now, msg)
}

func (s *Session[I, S, A]) drainFSM(ctx context.Context, r *remoteEntry[A]) {
	for _, ev := range r.fsm.DrainEvents() {
		s.onFSMEvent(r.handle, ev)
	}
	r.ts.Push(s.layer.CurrentFrame(), r.fsm.LocalFrameAdvantage(), r.fsm.RemoteFrameAdvantage())
	s.sendOutbound(ctx, r.fsm)
}

func (s *Session[I, S, A]) drainFSMRaw(ctx context.Context, fsm *peer.FSM[A]) {
	fsm.DrainEvents()
	s.sendOutbound(ctx, fsm)
}

func (s *Session[I, S, A]) sendOutbound(ctx context.Context, fsm *peer.FSM[A]) {
	for _, msg := range fsm.DrainOutbound() {
		_ = s.trans.SendTo(ctx, fsm.Addr(), wire.Encode(msg))
	}
}

func (s *Session[I, S, A]) onFSMEvent(handle PlayerHandle, ev FortressEvent[A]) {
	if ev.Kind == EventDisconnected {
		if int(handle) < len(s.localConnectStatus) {
			s.localConnectStatus[handle].Disconnected = true
		}
	}
	s.pushEvent(ev)
}

// ingestRemoteInputs pulls every newly received input frame off each
// remote's FSM and hands it to that handle's queue. A remote's
// connection is assumed to carry exactly its own handle's input.
func (s *Session[I, S, A]) ingestRemoteInputs() {
	for _, r := range s.remotes {
		last := r.fsm.LastRecvFrame()
		for f := r.ingested + 1; f <= last; f++ {
			raw, ok := r.fsm.ReceivedInput(f)
			if !ok || len(raw) < s.inputWidth {
				break
			}
			input := s.decodeInput(raw[:s.inputWidth])
			s.layer.AddRemoteInput(int(r.handle), frameinfo.PlayerInput[I]{Frame: f, Input: input})
			r.ingested = f
		}
	}
}

// AdvanceFrame is the work tick: poll remotes, desync-check, save frame 0,
// disconnect-propagate, roll back if needed, save the current frame, fan
// out to spectators, confirm, recommend a wait if a remote has pulled too
// far ahead, send local inputs, and advance.
// The returned requests are strictly ordered; the host must fulfill
// them in order.
func (s *Session[I, S, A]) AdvanceFrame(ctx context.Context, now time.Time) ([]FortressRequest[I, S], error) {
	if err := s.PollRemoteClients(ctx, now); err != nil {
		return nil, err
	}

	if s.state != StateRunning {
		return nil, notSynchronized("AdvanceFrame: session has not reached Running")
	}
	for h := range s.localHandles {
		if _, ok := s.localBuffer[h]; !ok {
			return nil, invalidRequest("AdvanceFrame: missing buffered local input for handle %s", h)
		}
	}

	var reqs []FortressRequest[I, S]

	s.desyncPass(now)

	if s.layer.CurrentFrame() == 0 && !s.cfg.isLockstep() {
		save := s.layer.SaveCurrentState()
		reqs = append(reqs, FortressRequest[I, S]{Kind: RequestSaveGameState, Cell: save.Cell, Frame: NewFrame(save.Frame)})
	}

	s.propagateDisconnects()

	if err := s.consistencyPass(&reqs); err != nil {
		return nil, err
	}

	if !s.cfg.isLockstep() {
		switch s.cfg.SaveMode {
		case SaveEveryFrame:
			save := s.layer.SaveCurrentState()
			reqs = append(reqs, FortressRequest[I, S]{Kind: RequestSaveGameState, Cell: save.Cell, Frame: NewFrame(save.Frame)})
		case SaveSparse:
			if s.layer.CurrentFrame()-s.layer.LastSavedFrame() >= s.layer.MaxPrediction() {
				save := s.layer.SaveCurrentState()
				reqs = append(reqs, FortressRequest[I, S]{Kind: RequestSaveGameState, Cell: save.Cell, Frame: NewFrame(save.Frame)})
			}
		}
	}

	s.spectatorFanOut(ctx, now)

	s.layer.SetLastConfirmedFrame(s.ConfirmedFrame().Int32(), s.cfg.SaveMode == SaveSparse)

	s.waitRecommendation()

	s.ingestLocalAndSend(ctx, now)

	s.advanceIfAllowed(&reqs)

	return reqs, nil
}

// desyncPass: at the configured interval, report a checksum for a
// frame already confirmed and saved, then compare every pending remote
// report against the locally recorded value.
func (s *Session[I, S, A]) desyncPass(now time.Time) {
	if !s.cfg.Desync.Enabled {
		return
	}
	cur := s.layer.CurrentFrame()
	if cur%int32(s.cfg.Desync.Interval) == 0 && cur <= s.layer.LastConfirmedFrame() && cur <= s.layer.LastSavedFrame() {
		cell := s.layer.RingCellFor(cur)
		if hi, lo, ok := cell.Checksum(); ok {
			sum := NewChecksum128(hi, lo)
			s.localChecksums[cur] = sum
			for _, r := range s.remotes {
				r.fsm.SendChecksumReport(now, cur, sum)
			}
		}
	}

	for _, r := range s.remotes {
		pending := r.fsm.ChecksumsSince(s.layer.LastConfirmedFrame())
		for frame, remote := range pending {
			local, ok := s.localChecksums[frame]
			if !ok {
				continue
			}
			if local.Equal(remote) {
				if frame > s.lastVerifiedFrame {
					s.lastVerifiedFrame = frame
				}
			} else {
				s.pushEvent(FortressEvent[A]{Kind: EventDesyncDetected, Addr: r.addr, Frame: NewFrame(frame), LocalChecksum: local, RemoteChecksum: remote})
			}
			delete(s.localChecksums, frame)
		}
	}
}

func (s *Session[I, S, A]) propagateDisconnects() {
	for handle, r := range s.remotes {
		peerStatus := r.fsm.PeerConnectStatus()
		if int(handle) >= len(peerStatus) {
			continue
		}
		ps := peerStatus[handle]
		if ps.Disconnected && !s.localConnectStatus[handle].Disconnected {
			s.localConnectStatus[handle].Disconnected = true
			s.localConnectStatus[handle].LastFrame = ps.LastFrame
		}
	}
}

func (s *Session[I, S, A]) consistencyPass(reqs *[]FortressRequest[I, S]) error {
	firstIncorrect := s.layer.CheckSimulationConsistency()
	if firstIncorrect == NullFrame {
		return nil
	}

	frameToLoad := firstIncorrect
	if s.cfg.SaveMode == SaveSparse {
		frameToLoad = s.layer.LastSavedFrame()
	}

	if frameToLoad >= s.layer.CurrentFrame() {
		s.layer.ResetPredictions()
		return nil
	}

	preRollbackFrame := s.layer.CurrentFrame()
	load, err := s.layer.LoadFrame(frameToLoad)
	if err != nil {
		if errors.Is(err, synclayer.ErrInvalidFrame) {
			return invalidFrame("%v", err)
		}
		return internalError(s.obs, "consistencyPass: %v", err)
	}
	*reqs = append(*reqs, FortressRequest[I, S]{Kind: RequestLoadGameState, Cell: load.Cell, Frame: NewFrame(load.Frame)})
	s.layer.ResetPredictions()

	for s.layer.CurrentFrame() < preRollbackFrame {
		synced := s.layer.SynchronizedInputs(s.localConnectStatus, s.defaultInput)
		*reqs = append(*reqs, FortressRequest[I, S]{Kind: RequestAdvanceFrame, Inputs: toRootInputs(synced)})

		if s.cfg.SaveMode == SaveEveryFrame || s.layer.CurrentFrame() == s.layer.LastSavedFrame()+1 {
			save := s.layer.SaveCurrentState()
			*reqs = append(*reqs, FortressRequest[I, S]{Kind: RequestSaveGameState, Cell: save.Cell, Frame: NewFrame(save.Frame)})
		}
		s.layer.AdvanceFrame()
	}
	return nil
}

func (s *Session[I, S, A]) spectatorFanOut(ctx context.Context, now time.Time) {
	confirmed := s.layer.LastConfirmedFrame()
	for frame := s.nextSpectatorFrame; frame <= confirmed; frame++ {
		inputs, err := s.layer.ConfirmedInputs(frame, s.localConnectStatus, s.defaultInput)
		if err != nil {
			break
		}
		blob := s.encodeConfirmedInputs(inputs)
		for _, sp := range s.spectators {
			_ = sp.SendInput(now, frame, blob, NullFrame, nil, false)
		}
		s.nextSpectatorFrame = frame + 1
	}
	s.sendSpectatorOutbound(ctx)
}

func (s *Session[I, S, A]) sendSpectatorOutbound(ctx context.Context) {
	for _, sp := range s.spectators {
		s.sendOutbound(ctx, sp)
	}
}

func (s *Session[I, S, A]) waitRecommendation() {
	var maxAdv int32
	for _, r := range s.remotes {
		if adv := int32(r.ts.AverageRemoteAdvantage()); adv > maxAdv {
			maxAdv = adv
		}
	}
	cur := s.layer.CurrentFrame()
	if maxAdv >= minRecommendation && cur > s.nextRecommendedSleep {
		s.pushEvent(FortressEvent[A]{Kind: EventWaitRecommendation, SkipFrames: uint32(maxAdv)})
		s.nextRecommendedSleep = cur + recommendationInterval
	}
}

// localBlob concatenates every local handle's current-frame input, in
// ascending handle order, into the single fixed-width record every
// remote connection carries.
func (s *Session[I, S, A]) localBlob() []byte {
	handles := make([]PlayerHandle, 0, len(s.localHandles))
	for h := range s.localHandles {
		handles = append(handles, h)
	}
	sort.Slice(handles, func(i, j int) bool { return handles[i] < handles[j] })

	out := make([]byte, 0, s.inputWidth*len(handles))
	for _, h := range handles {
		input, ok := s.localBuffer[h]
		if !ok {
			input = s.defaultInput
		}
		out = append(out, s.encodeInput(input)...)
	}
	return out
}

// encodeConfirmedInputs concatenates every player's confirmed input for
// one frame, in player-handle order, for the spectator broadcast.
func (s *Session[I, S, A]) encodeConfirmedInputs(inputs []synclayer.InputWithStatus[I]) []byte {
	out := make([]byte, 0, s.inputWidth*len(inputs))
	for _, in := range inputs {
		out = append(out, s.encodeInput(in.Input)...)
	}
	return out
}

func (s *Session[I, S, A]) ingestLocalAndSend(ctx context.Context, now time.Time) {
	for handle := range s.localHandles {
		input, ok := s.localBuffer[handle]
		if !ok {
			continue
		}
		s.layer.AddLocalInput(int(handle), input)
		if int(handle) < len(s.localConnectStatus) {
			s.localConnectStatus[handle].LastFrame = s.layer.CurrentFrame()
		}
	}

	blob := s.localBlob()
	for _, r := range s.remotes {
		_ = r.fsm.SendInput(now, s.layer.CurrentFrame(), blob, r.fsm.LastRecvFrame(), s.localConnectStatus, false)
	}
	s.sendSpectatorOutbound(ctx)
	for _, r := range s.remotes {
		s.sendOutbound(ctx, r.fsm)
	}
}

func (s *Session[I, S, A]) advanceIfAllowed(reqs *[]FortressRequest[I, S]) {
	cur := s.layer.CurrentFrame()
	confirmed := s.layer.LastConfirmedFrame()

	var allowed bool
	if s.cfg.isLockstep() {
		allowed = confirmed == cur
	} else {
		allowed = cur-confirmed < s.layer.MaxPrediction()
	}
	if !allowed {
		return
	}

	synced := s.layer.SynchronizedInputs(s.localConnectStatus, s.defaultInput)
	*reqs = append(*reqs, FortressRequest[I, S]{Kind: RequestAdvanceFrame, Inputs: toRootInputs(synced)})
	s.layer.AdvanceFrame()
	s.localBuffer = make(map[PlayerHandle]I)
}

func toRootInputs[I any](in []synclayer.InputWithStatus[I]) []InputWithStatus[I] {
	out := make([]InputWithStatus[I], len(in))
	for i, v := range in {
		out[i] = InputWithStatus[I]{Input: v.Input, Status: InputStatus(v.Status)}
	}
	return out
}
