package fortress

// SessionState is the coarse state of a Session, queryable at any time.
type SessionState int

const (
	// StateSynchronizing: the session is attempting to establish
	// connections to its remote peers.
	StateSynchronizing SessionState = iota
	// StateRunning: the session has synchronized and is exchanging
	// input/advancing frames.
	StateRunning
)

// String implements fmt.Stringer.
func (s SessionState) String() string {
	switch s {
	case StateSynchronizing:
		return "synchronizing"
	case StateRunning:
		return "running"
	default:
		return "unknown"
	}
}

// InputStatus accompanies every input handed to the host in an
// AdvanceFrame request.
type InputStatus int

const (
	// StatusConfirmed: this is an actually-received input for this frame.
	StatusConfirmed InputStatus = iota
	// StatusPredicted: the true input hasn't arrived; this is a
	// copy-forward prediction.
	StatusPredicted
	// StatusDisconnected: the player disconnected at or before this
	// frame; this is the input type's default/blank value.
	StatusDisconnected
)

// String implements fmt.Stringer.
func (s InputStatus) String() string {
	switch s {
	case StatusConfirmed:
		return "confirmed"
	case StatusPredicted:
		return "predicted"
	case StatusDisconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

// DesyncDetection configures whether/how often peers exchange checksums
// to catch state divergence.
type DesyncDetection struct {
	// Enabled turns on checksum exchange.
	Enabled bool
	// Interval is the frame cadence at which a checksum is reported,
	// when Enabled is true. An interval of 10 at 60hz means 6 reports/sec.
	Interval uint32
}

// DesyncOff is the zero-value DesyncDetection: checksum exchange disabled.
var DesyncOff = DesyncDetection{Enabled: false}

// DesyncOn builds an enabled DesyncDetection at the given frame interval.
func DesyncOn(interval uint32) DesyncDetection {
	return DesyncDetection{Enabled: true, Interval: interval}
}

// FortressEventKind discriminates FortressEvent payloads.
type FortressEventKind int

const (
	EventSynchronizing FortressEventKind = iota
	EventSynchronized
	EventDisconnected
	EventNetworkInterrupted
	EventNetworkResumed
	EventWaitRecommendation
	EventDesyncDetected
	EventSyncTimeout
)

// String implements fmt.Stringer.
func (k FortressEventKind) String() string {
	switch k {
	case EventSynchronizing:
		return "Synchronizing"
	case EventSynchronized:
		return "Synchronized"
	case EventDisconnected:
		return "Disconnected"
	case EventNetworkInterrupted:
		return "NetworkInterrupted"
	case EventNetworkResumed:
		return "NetworkResumed"
	case EventWaitRecommendation:
		return "WaitRecommendation"
	case EventDesyncDetected:
		return "DesyncDetected"
	case EventSyncTimeout:
		return "SyncTimeout"
	default:
		return "unknown"
	}
}

// FortressEvent is an observer-grade notification surfaced from
// Session.Events(). A is the host's address type.
type FortressEvent[A comparable] struct {
	Kind FortressEventKind
	Addr A

	// Synchronizing
	Total             uint32
	Count             uint32
	TotalRequestsSent uint32
	ElapsedMs         uint64

	// NetworkInterrupted
	DisconnectTimeoutMs uint64

	// WaitRecommendation
	SkipFrames uint32

	// DesyncDetected
	Frame          Frame
	LocalChecksum  Checksum128
	RemoteChecksum Checksum128

	// SyncTimeout
	// (reuses ElapsedMs)
}

// Checksum128 is a minimal 128-bit unsigned integer, enough to carry a
// checksum value end to end without truncation. Go has no builtin
// 128-bit integer type; state checksums are opaque 128-bit quantities,
// so we carry them as two uint64 halves rather than reaching for a
// bignum library nothing else in this domain needs.
type Checksum128 struct {
	Hi, Lo uint64
}

// NewChecksum128 constructs a Checksum128 from its big-endian halves.
func NewChecksum128(hi, lo uint64) Checksum128 {
	return Checksum128{Hi: hi, Lo: lo}
}

// Equal reports value equality.
func (u Checksum128) Equal(o Checksum128) bool {
	return u.Hi == o.Hi && u.Lo == o.Lo
}
