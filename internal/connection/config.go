package connection

import "time"

// Config holds the connection tunables.
//
// Zero delays and grace periods are valid and mean "no wait". Zero timeouts,
// an empty probe property and a zero attempt ceiling are replaced with the
// values from DefaultConfig by NewManager.
type Config struct {
	// ProbeProperty is read by the health probe.
	ProbeProperty string

	// ConnectTimeout bounds discovery during Connect.
	ConnectTimeout time.Duration

	// ReconnectTimeout bounds each supervisor discovery after an ordinary loss.
	ReconnectTimeout time.Duration

	// RebootReconnectTimeout bounds each supervisor discovery while rebooting.
	RebootReconnectTimeout time.Duration

	// RebootGracePeriod delays the first supervisor attempt after a
	// protected operation starts.
	RebootGracePeriod time.Duration

	// RebootCheckGrace is how long CheckConnection refuses to probe a
	// rebooting device.
	RebootCheckGrace time.Duration

	// RetryDelay separates failed attempts after an ordinary loss.
	RetryDelay time.Duration

	// RebootRetryDelay separates failed attempts while rebooting.
	RebootRetryDelay time.Duration

	// MaxReconnectAttempts is the attempt ceiling for one loss episode.
	MaxReconnectAttempts int

	// PollInterval is the watchdog period used by Run. 0 disables polling.
	PollInterval time.Duration

	// ScanTimeout bounds Scan.
	ScanTimeout time.Duration

	// ReturnTimeout bounds the wait between save and reboot in SaveAndReboot.
	ReturnTimeout time.Duration

	// RecoveryAfterAttempts is the number of failed attempts in one episode
	// before the Recoverer runs. It runs at most once per episode.
	// 0 disables the recovery action.
	RecoveryAfterAttempts int

	// RecoveryTimeout bounds a single Recoverer call. It must cover the
	// recoverer's own worst case.
	RecoveryTimeout time.Duration
}

// DefaultConfig returns the tunables the device was characterised with.
func DefaultConfig() Config {
	return Config{
		ProbeProperty:          "vbus_voltage",
		ConnectTimeout:         10 * time.Second,
		ReconnectTimeout:       2 * time.Second,
		RebootReconnectTimeout: 3 * time.Second,
		RebootGracePeriod:      5 * time.Second,
		RebootCheckGrace:       8 * time.Second,
		RetryDelay:             1 * time.Second,
		RebootRetryDelay:       2 * time.Second,
		MaxReconnectAttempts:   10,
		PollInterval:           2 * time.Second,
		ScanTimeout:            5 * time.Second,
		ReturnTimeout:          10 * time.Second,
		RecoveryTimeout:        20 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.ProbeProperty == "" {
		c.ProbeProperty = d.ProbeProperty
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = d.ConnectTimeout
	}
	if c.ReconnectTimeout <= 0 {
		c.ReconnectTimeout = d.ReconnectTimeout
	}
	if c.RebootReconnectTimeout <= 0 {
		c.RebootReconnectTimeout = d.RebootReconnectTimeout
	}
	if c.MaxReconnectAttempts <= 0 {
		c.MaxReconnectAttempts = d.MaxReconnectAttempts
	}
	if c.ScanTimeout <= 0 {
		c.ScanTimeout = d.ScanTimeout
	}
	if c.ReturnTimeout <= 0 {
		c.ReturnTimeout = d.ReturnTimeout
	}
	if c.RecoveryTimeout <= 0 {
		c.RecoveryTimeout = d.RecoveryTimeout
	}
	return c
}
