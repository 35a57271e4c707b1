package courier

import "time"

// Delivery channels handled by the gateway.
const (
	ChannelEmail    = "email"
	ChannelWhatsApp = "whatsapp"
)

// MessageRequest asks the gateway to render a template and deliver it.
type MessageRequest struct {
	Channel   string            `json:"channel"` // "email", "whatsapp"
	To        string            `json:"to"`
	Template  string            `json:"template"`
	Subject   string            `json:"subject,omitempty"`
	Variables map[string]string `json:"variables,omitempty"`
}

// MessageResult is the gateway's acknowledgement of a delivery request.
type MessageResult struct {
	ID         string    `json:"id"`
	Status     string    `json:"status"` // queued, sent
	Channel    string    `json:"channel"`
	AcceptedAt time.Time `json:"accepted_at"`
}

// ErrorResponse is the gateway's error envelope.
type ErrorResponse struct {
	Error     string `json:"error"`
	ErrorCode string `json:"error_code"`
}

// Config holds courier gateway connection settings.
type Config struct {
	BaseURL    string
	APIKey     string
	Timeout    time.Duration
	MaxRetries int
	RetryDelay time.Duration
}

// DefaultConfig returns settings suitable for local development.
func DefaultConfig() *Config {
	return &Config{
		BaseURL:    "http://localhost:9100",
		Timeout:    15 * time.Second,
		MaxRetries: 3,
		RetryDelay: 500 * time.Millisecond,
	}
}
