package view

// Frames sent by the browser tab.
const (
	TypeVisibility = "visibility"
	TypeFocus      = "focus"
	TypeRefresh    = "refresh"
	TypeSignOut    = "signout"
)

// Frames sent to the browser tab.
const (
	TypeHello  = "hello"
	TypeReload = "reload"
	TypeError  = "error"
)

// ClientMessage is one frame from the tab. Visible is only set on visibility frames.
type ClientMessage struct {
	Type    string `json:"type"`
	Visible *bool  `json:"visible,omitempty"`
}

// ServerMessage is one frame to the tab.
type ServerMessage struct {
	Type    string `json:"type"`
	ViewID  string `json:"view_id,omitempty"`
	Reason  string `json:"reason,omitempty"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
}

func errorMessage(code, message string) ServerMessage {
	return ServerMessage{Type: TypeError, Code: code, Message: message}
}
