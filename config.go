package taurus

import (
	"fmt"
	"math"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var ErrConfig = fmt.Errorf("invalid taurus config")

// Config is shared by the Connector and its backend.
// Start from NewConfig() and adjust; the zero Config is
// not valid.
type Config struct {
	// Name labels metrics and log lines.
	Name string

	// CompressAlgo is applied to every outgoing message:
	// "" (none), "s2", "lz4", "zstd:01", "zstd:03",
	// "zstd:07", or "zstd:11". Receivers decode whatever
	// the sender chose.
	CompressAlgo string

	// MaxMessageSize bounds a single message, before and
	// after compression. Larger frames are never
	// allocated; the stream resynchronizes past them.
	MaxMessageSize int

	// ConnectTimeout bounds Dial, and the QUIC handshake.
	ConnectTimeout time.Duration

	// WriteTimeout bounds one frame write. 0 means none.
	WriteTimeout time.Duration

	// IdleTimeout disconnects a peer with ReasonTimedOut
	// after this long without receiving anything. 0
	// means none for TCP; QUIC requires it.
	IdleTimeout time.Duration

	// KeepAlive is the QUIC keep-alive period, and the
	// TCP keep-alive probe interval. 0 disables.
	KeepAlive time.Duration

	// ServiceInterval is how often a backend service
	// goroutine polls for requests when not woken.
	ServiceInterval time.Duration

	// CloseTimeout bounds Connector.Close waiting for the
	// backend to confirm every disconnect.
	CloseTimeout time.Duration

	// MaxConnections limits simultaneous inbound TCP
	// connections. 0 means no limit.
	MaxConnections int

	// Metrics, when set, receives the connector's
	// prometheus collectors.
	Metrics prometheus.Registerer
}

func NewConfig() *Config {
	return &Config{
		Name:            "taurus",
		CompressAlgo:    "s2",
		MaxMessageSize:  DefaultMaxMessageSize,
		ConnectTimeout:  10 * time.Second,
		WriteTimeout:    10 * time.Second,
		IdleTimeout:     30 * time.Second,
		KeepAlive:       5 * time.Second,
		ServiceInterval: 10 * time.Millisecond,
		CloseTimeout:    10 * time.Second,
	}
}

func (c *Config) Clone() *Config {
	cp := *c
	return &cp
}

func checkRange(name string, d, lo, hi time.Duration) error {
	if d < lo || d > hi {
		return fmt.Errorf("%w: %v = %v out of range [%v, %v]", ErrConfig, name, d, lo, hi)
	}
	return nil
}

// Validate reports the first problem found, wrapping
// ErrConfig.
func (c *Config) Validate() error {
	if c == nil {
		return fmt.Errorf("%w: nil Config", ErrConfig)
	}
	if _, err := encodePressTag(c.CompressAlgo); err != nil {
		return fmt.Errorf("%w: %v", ErrConfig, err)
	}
	if c.MaxMessageSize <= 0 || c.MaxMessageSize > math.MaxInt32-frameHeaderLen {
		return fmt.Errorf("%w: MaxMessageSize = %v must be in [1, %v]", ErrConfig, c.MaxMessageSize, math.MaxInt32-frameHeaderLen)
	}
	if err := checkRange("ConnectTimeout", c.ConnectTimeout, time.Millisecond, 5*time.Minute); err != nil {
		return err
	}
	if err := checkRange("WriteTimeout", c.WriteTimeout, 0, 5*time.Minute); err != nil {
		return err
	}
	if err := checkRange("IdleTimeout", c.IdleTimeout, 0, 24*time.Hour); err != nil {
		return err
	}
	if err := checkRange("KeepAlive", c.KeepAlive, 0, time.Hour); err != nil {
		return err
	}
	if c.IdleTimeout > 0 && c.KeepAlive >= c.IdleTimeout {
		return fmt.Errorf("%w: KeepAlive %v must be shorter than IdleTimeout %v", ErrConfig, c.KeepAlive, c.IdleTimeout)
	}
	if err := checkRange("ServiceInterval", c.ServiceInterval, 100*time.Microsecond, time.Second); err != nil {
		return err
	}
	if err := checkRange("CloseTimeout", c.CloseTimeout, time.Millisecond, 10*time.Minute); err != nil {
		return err
	}
	if c.MaxConnections < 0 {
		return fmt.Errorf("%w: MaxConnections = %v is negative", ErrConfig, c.MaxConnections)
	}
	return nil
}
