package orchestration

import "time"

// TravelKind says which gameplay transition a TravelEvent requests.
type TravelKind string

const (
	// TravelListen asks for a listen server on the session's map.
	TravelListen TravelKind = "listen"
	// TravelConnect reports a client connecting to a host address.
	TravelConnect TravelKind = "connect"
	// TravelStart moves a ready lobby into the match.
	TravelStart TravelKind = "start"
	// TravelClose tears down the listen server of a lobby its host left.
	TravelClose TravelKind = "close"
)

// TravelEvent is published by lobby agents on the travel topic.
type TravelEvent struct {
	EventID   string     `json:"eventID"`
	Kind      TravelKind `json:"kind"`
	SessionID string     `json:"sessionID"`
	MapName   string     `json:"mapName"`
	Address   string     `json:"address,omitempty"`
	PlayerID  string     `json:"playerID"`
	IssuedAt  time.Time  `json:"issuedAt"`
}

// GameServerReadyEvent is the payload for our outgoing events.
type GameServerReadyEvent struct {
	SessionID  string `json:"sessionID"`
	MapName    string `json:"mapName"`
	HostID     string `json:"hostID"`
	ServerAddr string `json:"serverAddr"`
}
