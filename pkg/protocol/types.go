package protocol

type MessageType uint16

const (
	TypeError             MessageType = 1
	TypeTokenIssued       MessageType = 10
	TypeDispatchRequested MessageType = 11
	TypeDispatchResult    MessageType = 12
	TypeProxyError        MessageType = 13
	TypeJobDecision       MessageType = 20
	TypeSessionStarted    MessageType = 21
	TypeSessionEnded      MessageType = 22
	TypeTranscriptEvent   MessageType = 23
	TypeFallbackServed    MessageType = 24
	TypeRoomCleaned       MessageType = 30
	TypeMonitorDispatch   MessageType = 31
	TypeSubscribe         MessageType = 40
	TypeSubscribeAck      MessageType = 42
)

func (t MessageType) String() string {
	switch t {
	case TypeError:
		return "Error"
	case TypeTokenIssued:
		return "TokenIssued"
	case TypeDispatchRequested:
		return "DispatchRequested"
	case TypeDispatchResult:
		return "DispatchResult"
	case TypeProxyError:
		return "ProxyError"
	case TypeJobDecision:
		return "JobDecision"
	case TypeSessionStarted:
		return "SessionStarted"
	case TypeSessionEnded:
		return "SessionEnded"
	case TypeTranscriptEvent:
		return "TranscriptEvent"
	case TypeFallbackServed:
		return "FallbackServed"
	case TypeRoomCleaned:
		return "RoomCleaned"
	case TypeMonitorDispatch:
		return "MonitorDispatch"
	case TypeSubscribe:
		return "Subscribe"
	case TypeSubscribeAck:
		return "SubscribeAck"
	default:
		return "Unknown"
	}
}

type Error struct {
	Code    string `msgpack:"code" json:"code"`
	Message string `msgpack:"message" json:"message"`
	Room    string `msgpack:"room,omitempty" json:"room,omitempty"`
}

type TokenIssued struct {
	Room     string `msgpack:"room" json:"room"`
	Identity string `msgpack:"identity" json:"identity"`
	TTLHours int    `msgpack:"ttlHours" json:"ttlHours"`
}

type DispatchRequested struct {
	Room   string `msgpack:"room" json:"room"`
	Source string `msgpack:"source" json:"source"` // "api" or "monitor"
}

type DispatchResult struct {
	Room        string `msgpack:"room" json:"room"`
	DispatchID  string `msgpack:"dispatchId,omitempty" json:"dispatchId,omitempty"`
	RoomExisted bool   `msgpack:"roomExisted" json:"roomExisted"`
	Success     bool   `msgpack:"success" json:"success"`
	Error       string `msgpack:"error,omitempty" json:"error,omitempty"`
}

type ProxyError struct {
	Path   string `msgpack:"path" json:"path"`
	Status int    `msgpack:"status" json:"status"`
	Error  string `msgpack:"error,omitempty" json:"error,omitempty"`
}

type JobDecision struct {
	JobID    string `msgpack:"jobId" json:"jobId"`
	Room     string `msgpack:"room" json:"room"`
	Accepted bool   `msgpack:"accepted" json:"accepted"`
	Reason   string `msgpack:"reason,omitempty" json:"reason,omitempty"`
}

type SessionStarted struct {
	Room      string `msgpack:"room" json:"room"`
	AgentID   string `msgpack:"agentId" json:"agentId"`
	AgentName string `msgpack:"agentName" json:"agentName"`
}

type SessionEnded struct {
	Room    string `msgpack:"room" json:"room"`
	AgentID string `msgpack:"agentId" json:"agentId"`
	Reason  string `msgpack:"reason,omitempty" json:"reason,omitempty"`
}

type TranscriptEvent struct {
	Room string `msgpack:"room" json:"room"`
	Role string `msgpack:"role" json:"role"`
	Text string `msgpack:"text" json:"text"`
}

type FallbackServed struct {
	Room   string `msgpack:"room" json:"room"`
	Reason string `msgpack:"reason" json:"reason"`
}

type RoomCleaned struct {
	Room         string `msgpack:"room" json:"room"`
	Deleted      bool   `msgpack:"deleted" json:"deleted"`
	AgentsKicked int    `msgpack:"agentsKicked,omitempty" json:"agentsKicked,omitempty"`
}

type MonitorDispatch struct {
	Room   string `msgpack:"room" json:"room"`
	Humans int    `msgpack:"humans" json:"humans"`
}

type Subscribe struct {
	Room string `msgpack:"room,omitempty" json:"room,omitempty"` // empty subscribes to all rooms
}

type SubscribeAck struct {
	Room    string `msgpack:"room,omitempty" json:"room,omitempty"`
	Success bool   `msgpack:"success" json:"success"`
	Error   string `msgpack:"error,omitempty" json:"error,omitempty"`
}
