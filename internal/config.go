package internal

import (
	"fmt"
	"time"
)

type Config struct {
	Host           string `env:"HOST,required=true"`
	Port           int    `env:"PORT,required=true"`
	LogLevel       string `env:"LOG_LEVEL,required=true"`
	BadgerFilepath string `env:"BADGER_FILEPATH,required=true"`
	JwtSecret      string `env:"JWT_SECRET,required=true"`

	SendTimeout      time.Duration `env:"SEND_TIMEOUT,default=2s"`
	WriteTimeout     time.Duration `env:"WRITE_TIMEOUT,default=5s"`
	PongTimeout      time.Duration `env:"PONG_TIMEOUT,default=60s"`
	MaxMessageSize   int64         `env:"MAX_MESSAGE_SIZE,default=65536"`
	MaxContentLength int           `env:"MAX_CONTENT_LENGTH,default=4000"`
	FramesPerSecond  float64       `env:"FRAMES_PER_SECOND,default=20"`
	FramesBurst      int           `env:"FRAMES_BURST,default=40"`

	RevalidateSessionPerEvent bool          `env:"REVALIDATE_SESSION_PER_EVENT,default=true"`
	MetricInterval            time.Duration `env:"METRIC_INTERVAL,default=10s"`
	RestartInterval           time.Duration `env:"RESTART_INTERVAL,default=200ms"`
	SessionDuration           time.Duration `env:"SESSION_DURATION,default=24h"`
	DebugPort                 int           `env:"DEBUG_PORT,default=6060"`
	ValueLogGCInterval        time.Duration `env:"VALUE_LOG_GC_INTERVAL,default=5m"`
}

// Validate catches values go-env accepts but the dispatcher cannot run with.
func (c Config) Validate() error {
	switch {
	case len(c.JwtSecret) < 16:
		return fmt.Errorf("JWT_SECRET must be at least 16 characters")
	case c.PongTimeout <= 0 || c.WriteTimeout <= 0 || c.SendTimeout <= 0:
		return fmt.Errorf("PONG_TIMEOUT, WRITE_TIMEOUT and SEND_TIMEOUT must be positive")
	case c.FramesPerSecond <= 0 || c.FramesBurst <= 0:
		return fmt.Errorf("FRAMES_PER_SECOND and FRAMES_BURST must be positive")
	case c.MetricInterval <= 0 || c.ValueLogGCInterval <= 0:
		return fmt.Errorf("METRIC_INTERVAL and VALUE_LOG_GC_INTERVAL must be positive")
	}
	return nil
}

func (c Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
