package domain

// ConnectionState is the lifecycle position of a channel session.
type ConnectionState int

const (
	Disconnected ConnectionState = iota
	Connecting
	Subscribed
)

func (s ConnectionState) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Subscribed:
		return "subscribed"
	default:
		return "disconnected"
	}
}
