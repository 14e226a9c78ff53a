package domain

// ClientClass distinguishes operator consoles from mobile agents at
// handshake time.
type ClientClass string

const (
	ClientConsole     ClientClass = "console"
	ClientMobileAgent ClientClass = "mobile-agent"
)
