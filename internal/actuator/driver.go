package actuator

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/nerrad567/lightlink/internal/infrastructure/config"
)

// Driver sets the physical (or emulated) output.
type Driver interface {
	// Drive sets the output to s. The caller only commits s as the new
	// state when Drive returns nil.
	Drive(ctx context.Context, s State) error

	// Name identifies the driver in logs.
	Name() string
}

// Logger is the logging surface used by the log driver.
type Logger interface {
	Info(msg string, args ...any)
}

// New selects the driver named by cfg.Driver.
func New(cfg config.ActuatorConfig, logger Logger) (Driver, error) {
	switch cfg.Driver {
	case "", "log":
		return NewLogDriver(logger), nil
	case "gpio":
		return NewGPIODriver(cfg.GPIO.ValuePath, cfg.GPIO.ActiveLow), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownDriver, cfg.Driver)
	}
}

// LogDriver emulates the LED by writing one log line per change.
type LogDriver struct {
	logger Logger
}

// NewLogDriver creates a LogDriver.
func NewLogDriver(logger Logger) *LogDriver {
	return &LogDriver{logger: logger}
}

// Drive implements Driver.
func (d *LogDriver) Drive(_ context.Context, s State) error {
	if d.logger != nil {
		d.logger.Info("LED", "state", s.String())
	}
	return nil
}

// Name implements Driver.
func (d *LogDriver) Name() string { return "log" }

// GPIODriver writes "1" or "0" to a sysfs-style GPIO value file,
// e.g. /sys/class/gpio/gpio18/value. The line must already be exported
// and configured as an output.
type GPIODriver struct {
	path      string
	activeLow bool
	mu        sync.Mutex
}

// NewGPIODriver creates a GPIODriver.
func NewGPIODriver(path string, activeLow bool) *GPIODriver {
	return &GPIODriver{path: path, activeLow: activeLow}
}

// Drive implements Driver.
func (d *GPIODriver) Drive(ctx context.Context, s State) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %w", ErrDriveFailed, err)
	}

	level := bool(s)
	if d.activeLow {
		level = !level
	}
	value := []byte("0")
	if level {
		value = []byte("1")
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	f, err := os.OpenFile(d.path, os.O_WRONLY|os.O_TRUNC, 0)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrDriveFailed, err)
	}
	if _, err := f.Write(value); err != nil {
		f.Close()
		return fmt.Errorf("%w: writing %s: %w", ErrDriveFailed, d.path, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("%w: closing %s: %w", ErrDriveFailed, d.path, err)
	}
	return nil
}

// Name implements Driver.
func (d *GPIODriver) Name() string { return "gpio" }
