package peer

import (
	"github.com/pion/webrtc/v4"
)

// DefaultSTUN is used when Options.STUNURLs is empty.
var DefaultSTUN = []string{"stun:stun.l.google.com:19302"}

// Role decides which side creates the offer and the data channel.
type Role int

const (
	RoleAnswerer Role = iota
	RoleOfferer
)

func (r Role) String() string {
	if r == RoleOfferer {
		return "offerer"
	}
	return "answerer"
}

// TurnCredentials contains TURN server credentials
type TurnCredentials struct {
	Username string   `json:"username" yaml:"username"`
	Password string   `json:"password" yaml:"password"`
	TTL      int      `json:"ttl" yaml:"ttl"`
	URLs     []string `json:"urls" yaml:"urls"`
}

// Options configures a Peer.
type Options struct {
	Role     Role
	Label    string // data channel label, default "test123"
	STUNURLs []string
	NoSTUN   bool
	Turn     *TurnCredentials

	// IncludeLoopback gathers 127.0.0.1 host candidates so two peers on one
	// machine without a routable interface can still connect.
	IncludeLoopback bool
}

func (o Options) label() string {
	if o.Label == "" {
		return "test123"
	}
	return o.Label
}

func generateTurnServer(turn *TurnCredentials) webrtc.ICEServer {
	return webrtc.ICEServer{
		Username:       turn.Username,
		Credential:     turn.Password,
		CredentialType: webrtc.ICECredentialTypePassword,
		URLs:           turn.URLs,
	}
}

func iceServers(o Options) []webrtc.ICEServer {
	var servers []webrtc.ICEServer
	if !o.NoSTUN {
		urls := o.STUNURLs
		if len(urls) == 0 {
			urls = DefaultSTUN
		}
		servers = append(servers, webrtc.ICEServer{URLs: urls})
	}
	if o.Turn != nil && len(o.Turn.URLs) > 0 {
		servers = append(servers, generateTurnServer(o.Turn))
	}
	return servers
}

func createPeerConnection(o Options) (*webrtc.PeerConnection, error) {
	config := webrtc.Configuration{
		ICEServers: iceServers(o),
	}

	var se webrtc.SettingEngine
	if o.IncludeLoopback {
		se.SetIncludeLoopbackCandidate(true)
		se.SetNetworkTypes([]webrtc.NetworkType{webrtc.NetworkTypeUDP4})
	}

	api := webrtc.NewAPI(webrtc.WithSettingEngine(se))
	return api.NewPeerConnection(config)
}
