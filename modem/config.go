package modem

import (
	"time"
)

// Config controls modem construction and the timeout budget of the AT
// command engine. Build one via NewConfigBuilder.
type Config struct {
	Dialer Dialer
	SimPIN string

	// ATTimeout is the default budget for a command to reach its terminal token.
	ATTimeout time.Duration
	// InitTimeout bounds the whole initialization sequence in New.
	InitTimeout time.Duration
	// PromptTimeout bounds the wait for the "> " SMS body prompt.
	PromptTimeout time.Duration
	// SendTimeout bounds the wait for +CMGS network confirmation; the network
	// leg is much slower than local command turnaround.
	SendTimeout time.Duration
	// DialTimeout bounds ATD command acceptance. Dial responses are ambiguous
	// across firmwares (OK immediately, or only after connect/fail), so this
	// is deliberately long.
	DialTimeout time.Duration
	// CommandSettle is a short pause before each command write, giving the
	// modem time to quiesce after the previous exchange.
	CommandSettle time.Duration
	// ProbeAttempts and ProbeDelay drive the EnsureReady AT probe loop.
	ProbeAttempts int
	ProbeDelay    time.Duration
	// EnableInbound turns on new-message URCs (AT+CNMI) during init.
	EnableInbound bool
}

func (c *Config) validate() error {
	if c.Dialer == nil {
		return ErrNoDialer
	}
	return nil
}

func (c *Config) setDefaults() {
	if c.ATTimeout == 0 {
		c.ATTimeout = 5 * time.Second
	}
	if c.InitTimeout == 0 {
		c.InitTimeout = 30 * time.Second
	}
	if c.PromptTimeout == 0 {
		c.PromptTimeout = 5 * time.Second
	}
	if c.SendTimeout == 0 {
		c.SendTimeout = 60 * time.Second
	}
	if c.DialTimeout == 0 {
		c.DialTimeout = 20 * time.Second
	}
	if c.ProbeAttempts == 0 {
		c.ProbeAttempts = 3
	}
	if c.ProbeDelay == 0 {
		c.ProbeDelay = 3 * time.Second
	}
}

// ConfigBuilder assembles a Config fluently.
type ConfigBuilder struct {
	config Config
}

func NewConfigBuilder() *ConfigBuilder {
	return &ConfigBuilder{}
}

func (b *ConfigBuilder) WithDialer(d Dialer) *ConfigBuilder {
	b.config.Dialer = d
	return b
}

func (b *ConfigBuilder) WithSimPIN(pin string) *ConfigBuilder {
	b.config.SimPIN = pin
	return b
}

func (b *ConfigBuilder) WithATTimeout(d time.Duration) *ConfigBuilder {
	b.config.ATTimeout = d
	return b
}

func (b *ConfigBuilder) WithInitTimeout(d time.Duration) *ConfigBuilder {
	b.config.InitTimeout = d
	return b
}

func (b *ConfigBuilder) WithPromptTimeout(d time.Duration) *ConfigBuilder {
	b.config.PromptTimeout = d
	return b
}

func (b *ConfigBuilder) WithSendTimeout(d time.Duration) *ConfigBuilder {
	b.config.SendTimeout = d
	return b
}

func (b *ConfigBuilder) WithDialTimeout(d time.Duration) *ConfigBuilder {
	b.config.DialTimeout = d
	return b
}

func (b *ConfigBuilder) WithCommandSettle(d time.Duration) *ConfigBuilder {
	b.config.CommandSettle = d
	return b
}

func (b *ConfigBuilder) WithProbe(attempts int, delay time.Duration) *ConfigBuilder {
	b.config.ProbeAttempts = attempts
	b.config.ProbeDelay = delay
	return b
}

func (b *ConfigBuilder) WithInbound(enabled bool) *ConfigBuilder {
	b.config.EnableInbound = enabled
	return b
}

func (b *ConfigBuilder) Build() (Config, error) {
	if err := b.config.validate(); err != nil {
		return Config{}, err
	}
	b.config.setDefaults()
	return b.config, nil
}
