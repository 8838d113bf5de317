package roomctrl

// ConnectionStatus represents the lifecycle state of the Room Controller link
type ConnectionStatus string

const (
	StatusDisconnected ConnectionStatus = "disconnected"
	StatusConnecting   ConnectionStatus = "connecting"
	StatusConnected    ConnectionStatus = "connected"
)

// RoomInfo identifies the room the controller is serving. It is set once per
// connection epoch from the hello message and replaced on reconnect.
type RoomInfo struct {
	Name string `json:"name"`
}

// Sensor is a single input on a prop
type Sensor struct {
	SensorID  string `json:"sensorId"`
	Label     string `json:"label"`
	Triggered bool   `json:"triggered"`
}

// Prop represents one puzzle element in the room. Timestamps are milliseconds
// since epoch; nil means unset. SolvedAt is non-nil only when Solved is true.
type Prop struct {
	PropID    string   `json:"propId"`
	Name      string   `json:"name"`
	Online    bool     `json:"online"`
	Solved    bool     `json:"solved"`
	Override  bool     `json:"override"`
	StartedAt *int64   `json:"startedAt"`
	SolvedAt  *int64   `json:"solvedAt"`
	Order     int      `json:"order"`
	Sensors   []Sensor `json:"sensors"`
}

// Session is the game-session lifecycle record as reported by the Room
// Controller. PausedAt non-nil implies Active and currently paused.
type Session struct {
	Active        bool   `json:"active"`
	StartedAt     *int64 `json:"startedAt"`
	EndedAt       *int64 `json:"endedAt"`
	PausedAt      *int64 `json:"pausedAt"`
	TotalPausedMs int64  `json:"totalPausedMs"`
	HintsGiven    int    `json:"hintsGiven"`
}
