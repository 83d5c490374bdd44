package broker

import "encoding/json"

// Role is one of the three fixed participant kinds: the camera source,
// the viewing sink, and the auxiliary analysis worker.
type Role string

// The fixed roles. At most one live connection holds each at any time.
const (
	RoleSource Role = "source"
	RoleSink   Role = "sink"
	RoleWorker Role = "worker"
)

// Valid reports whether r names one of the fixed roles.
func (r Role) Valid() bool {
	return r == RoleSource || r == RoleSink || r == RoleWorker
}

// Message type discriminators of the relay protocol.
const (
	TypeRegister         = "register"
	TypeRegistered       = "registered"
	TypePeerReady        = "peer-ready"
	TypePeerDisconnected = "peer-disconnected"
	TypeOffer            = "handshake-offer"
	TypeAnswer           = "handshake-answer"
	TypeCandidate        = "negotiation-candidate"
	TypeCaptureImage     = "capture-image"
	TypeCaptureResult    = "capture-result"
	TypeError            = "error"
)

// Message is the wire envelope for every message crossing the relay.
// Payload is opaque to the broker except for registration; relayed
// payloads pass through untouched.
type Message struct {
	Type    string          `json:"type"`
	Role    Role            `json:"role,omitempty"`    // register, registered, peer-ready, peer-disconnected
	Peers   *PeerFlags      `json:"peers,omitempty"`   // registered ack only
	Message string          `json:"message,omitempty"` // error envelope only
	Payload json.RawMessage `json:"payload,omitempty"`
}

// PeerFlags reports which roles are currently registered. Included in
// the registration acknowledgment so a client knows immediately whether
// its counterparts are ready.
type PeerFlags struct {
	Source bool `json:"source"`
	Sink   bool `json:"sink"`
	Worker bool `json:"worker"`
}

// CloseRoleConflict is the close code sent to a connection that tried to
// register an occupied role. Application range per RFC 6455.
const CloseRoleConflict = 4001

// route identifies one entry of the fixed dispatch table.
type route struct {
	from    Role
	msgType string
}

// routes is the complete relay dispatch table. Anything not listed is
// either handled locally (register) or ignored as unknown.
var routes = map[route]Role{
	{RoleSource, TypeOffer}:         RoleSink,
	{RoleSink, TypeAnswer}:          RoleSource,
	{RoleSource, TypeCandidate}:     RoleSink,
	{RoleSink, TypeCandidate}:       RoleSource,
	{RoleSink, TypeCaptureImage}:    RoleWorker,
	{RoleWorker, TypeCaptureResult}: RoleSink,
}

// counterparts lists, per role, the roles that care about its presence.
// Source and sink exchange the media handshake; sink and worker exchange
// captures.
var counterparts = map[Role][]Role{
	RoleSource: {RoleSink},
	RoleSink:   {RoleSource, RoleWorker},
	RoleWorker: {RoleSink},
}
