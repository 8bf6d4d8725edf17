package main

import (
	"flag"
	"os"
	"strconv"
	"time"
)

// Config holds the application configuration
type Config struct {
	// BindAddress is the address the server listens on (e.g. "0.0.0.0:8080")
	BindAddress string
	// SerialPort is the path to the modem's serial port (e.g. "/dev/ttyUSB0")
	SerialPort string
	// BaudRate is the baud rate for serial communication with the modem (e.g. 115200)
	BaudRate int
	// BootDelay is how long to wait after opening the serial port before
	// talking to the modem
	BootDelay time.Duration
	// LogLevel sets the logging level (e.g. "debug", "info", "warn", "error")
	LogLevel string
	// SimPIN is the SIM card PIN code
	SimPIN string

	// DBPath is the SQLite file backing the job queue
	DBPath string

	// InboundEnabled turns on +CMTI notifications and the inbound pipeline
	InboundEnabled bool
	// WebhookURL receives inbound messages as JSON POSTs; empty disables
	// delivery (inbound jobs then fail their webhook attempts)
	WebhookURL string

	// SuccessDelay and FailureDelay are the scheduler pauses after a
	// dispatched job
	SuccessDelay time.Duration
	FailureDelay time.Duration
	// MaxSendAttempts caps outbound SMS and voice retries
	MaxSendAttempts int
	// MaxWebhookAttempts caps inbound delivery retries
	MaxWebhookAttempts int

	// TTS provider (OpenAI-compatible speech endpoint)
	TTSEndpoint string
	TTSAPIKey   string
	TTSModel    string
	TTSVoice    string

	// Realtime voice provider (websocket)
	RealtimeURL          string
	RealtimeAPIKey       string
	RealtimeInstructions string

	// ALSA devices for call audio; empty means the system default
	PlaybackDevice string
	CaptureDevice  string
}

// ConfigOption is a function that modifies a Config
type ConfigOption func(*Config) error

// LoadConfig creates a new config by applying the given options in order
func LoadConfig(opts ...ConfigOption) (*Config, error) {
	config := &Config{}

	for _, opt := range opts {
		if err := opt(config); err != nil {
			return nil, err
		}
	}

	return config, nil
}

// WithDefaults applies default configuration values
func WithDefaults() ConfigOption {
	return func(c *Config) error {
		c.BindAddress = "0.0.0.0:8080"
		c.SerialPort = "/dev/ttyUSB0"
		c.BaudRate = 115200
		c.BootDelay = 3 * time.Second
		c.LogLevel = "info"
		c.DBPath = "smsgw.db"
		c.SuccessDelay = 5 * time.Second
		c.FailureDelay = 30 * time.Second
		c.MaxSendAttempts = 3
		c.MaxWebhookAttempts = 5
		c.TTSEndpoint = "https://api.openai.com/v1/audio/speech"
		c.RealtimeURL = "wss://api.openai.com/v1/realtime?model=gpt-realtime"
		return nil
	}
}

// WithEnv loads configuration from environment variables
func WithEnv() ConfigOption {
	return func(c *Config) error {
		setString(&c.BindAddress, "BIND_ADDRESS")
		setString(&c.SerialPort, "SERIAL_PORT")
		setInt(&c.BaudRate, "BAUD_RATE")
		setDuration(&c.BootDelay, "MODEM_BOOT_DELAY")
		setString(&c.LogLevel, "LOG_LEVEL")
		setString(&c.SimPIN, "SIM_PIN")
		setString(&c.DBPath, "DB_PATH")
		setBool(&c.InboundEnabled, "INBOUND_ENABLED")
		setString(&c.WebhookURL, "WEBHOOK_URL")
		setDuration(&c.SuccessDelay, "SUCCESS_DELAY")
		setDuration(&c.FailureDelay, "FAILURE_DELAY")
		setInt(&c.MaxSendAttempts, "MAX_SEND_ATTEMPTS")
		setInt(&c.MaxWebhookAttempts, "MAX_WEBHOOK_ATTEMPTS")
		setString(&c.TTSEndpoint, "TTS_ENDPOINT")
		setString(&c.TTSAPIKey, "TTS_API_KEY")
		setString(&c.TTSModel, "TTS_MODEL")
		setString(&c.TTSVoice, "TTS_VOICE")
		setString(&c.RealtimeURL, "REALTIME_URL")
		setString(&c.RealtimeAPIKey, "REALTIME_API_KEY")
		setString(&c.RealtimeInstructions, "REALTIME_INSTRUCTIONS")
		setString(&c.PlaybackDevice, "PLAYBACK_DEVICE")
		setString(&c.CaptureDevice, "CAPTURE_DEVICE")
		return nil
	}
}

// WithFlags loads configuration from command-line flags
func WithFlags(fSet *flag.FlagSet) ConfigOption {
	return func(c *Config) error {
		fSet.Visit(func(f *flag.Flag) {
			switch f.Name {
			case "bind-address":
				c.BindAddress = f.Value.String()
			case "serial-port":
				c.SerialPort = f.Value.String()
			case "baud-rate":
				if b, err := strconv.Atoi(f.Value.String()); err == nil {
					c.BaudRate = b
				}
			case "log-level":
				c.LogLevel = f.Value.String()
			case "sim-pin":
				c.SimPIN = f.Value.String()
			case "db-path":
				c.DBPath = f.Value.String()
			case "webhook-url":
				c.WebhookURL = f.Value.String()
			case "inbound":
				c.InboundEnabled = f.Value.String() == "true"
			}
		})
		return nil
	}
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

// setDuration accepts Go duration strings ("5s", "2m") and, for convenience,
// bare integers interpreted as seconds.
func setDuration(dst *time.Duration, key string) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	if d, err := time.ParseDuration(v); err == nil {
		*dst = d
		return
	}
	if n, err := strconv.Atoi(v); err == nil {
		*dst = time.Duration(n) * time.Second
	}
}
