package hwmon

import (
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"periph.io/x/conn/v3/driver/driverreg"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/host/v3"
)

// GPIOFanPrefix marks a synthetic PWM path as a GPIO-driven software-PWM fan
// rather than a sysfs pwmN file. Boards like the teacher's RockPi Penta
// expose case-fan control only through a GPIO line, never through hwmon, so
// the write_pwm path in this package dispatches on this prefix (spec
// SPEC_FULL.md §2 "GPIO fan backend").
const GPIOFanPrefix = "gpio://"

// softwarePWMResolution mirrors the teacher's pkg/hardware/fan.go constant:
// higher values give smoother PWM at the cost of more wakeups.
const softwarePWMResolution = 100

var (
	periphOnce sync.Once
	periphErr  error
)

func ensurePeriph() error {
	periphOnce.Do(func() {
		if _, err := host.Init(); err != nil {
			periphErr = err
			return
		}
		if _, err := driverreg.Init(); err != nil {
			periphErr = err
		}
	})
	return periphErr
}

// GPIOFan drives a single GPIO line as a software PWM output, the way the
// teacher's softwarePWMFan goroutine does (pkg/hardware/fan/fan.go), adapted
// here to take raw 0..=255 values instead of a 0..1 duty cycle so it slots
// into the same write_pwm/read_pwm contract as a sysfs PWM channel.
type GPIOFan struct {
	pin         gpio.PinIO
	period      time.Duration
	currentDuty atomic.Uint64 // duty * softwarePWMResolution, integer
	lastRaw     atomic.Uint32
	dutyChan    chan float64
	stopChan    chan struct{}
}

var (
	gpioFansMu sync.RWMutex
	gpioFans   = map[string]*GPIOFan{}
)

// RegisterGPIOFan initializes a GPIO line as a software-PWM fan and makes it
// addressable as path GPIOFanPrefix+chipName+"/"+line for
// WritePwmAtPath/ReadPwmAtPath.
func RegisterGPIOFan(chipName, line string, period time.Duration) (string, error) {
	if err := ensurePeriph(); err != nil {
		return "", fmt.Errorf("periph init: %w", err)
	}
	pinName := chipName + "/" + line
	p := gpioreg.ByName(pinName)
	if p == nil {
		p = gpioreg.ByName(line)
	}
	if p == nil {
		return "", fmt.Errorf("NotFound: gpio line %s not found", pinName)
	}
	if err := p.Out(gpio.Low); err != nil {
		return "", fmt.Errorf("failed to set %s to output: %w", p.Name(), err)
	}

	f := &GPIOFan{pin: p, period: period, dutyChan: make(chan float64, 1), stopChan: make(chan struct{})}
	go f.run()

	path := GPIOFanPrefix + chipName + "/" + line
	gpioFansMu.Lock()
	gpioFans[path] = f
	gpioFansMu.Unlock()
	return path, nil
}

func (f *GPIOFan) run() {
	ticker := time.NewTicker(f.period / softwarePWMResolution)
	defer ticker.Stop()
	pinState := gpio.Low
	counter := 0
	for {
		select {
		case duty := <-f.dutyChan:
			if duty <= 0 {
				f.pin.Out(gpio.Low)
				pinState = gpio.Low
			} else if duty >= 1 {
				f.pin.Out(gpio.High)
				pinState = gpio.High
			}
			f.currentDuty.Store(uint64(duty * softwarePWMResolution))
			counter = 0
		case <-ticker.C:
			duty := float64(f.currentDuty.Load()) / softwarePWMResolution
			if duty <= 0 || duty >= 1 {
				continue
			}
			counter = (counter + 1) % softwarePWMResolution
			threshold := int(duty * softwarePWMResolution)
			want := gpio.Low
			if counter < threshold {
				want = gpio.High
			}
			if want != pinState {
				f.pin.Out(want)
				pinState = want
			}
		case <-f.stopChan:
			f.pin.Out(gpio.Low)
			return
		}
	}
}

// SetRaw sets the fan to raw/255 duty cycle. A duty that the PWM goroutine
// has not yet picked up is replaced by the newer one.
func (f *GPIOFan) SetRaw(raw uint8) {
	f.lastRaw.Store(uint32(raw))
	duty := float64(raw) / 255.0
	select {
	case f.dutyChan <- duty:
	default:
		select {
		case <-f.dutyChan:
		default:
		}
		f.dutyChan <- duty
	}
}

// Stop halts the PWM goroutine and leaves the pin low.
func (f *GPIOFan) Stop() { close(f.stopChan) }

// IsGPIOFanPath reports whether path addresses a registered GPIO fan.
func IsGPIOFanPath(path string) bool { return strings.HasPrefix(path, GPIOFanPrefix) }

// WriteGPIOFan writes a raw value to a previously registered GPIO fan.
func WriteGPIOFan(path string, raw uint8) error {
	gpioFansMu.RLock()
	f, ok := gpioFans[path]
	gpioFansMu.RUnlock()
	if !ok {
		return ErrNotFound
	}
	f.SetRaw(raw)
	return nil
}

// ReadGPIOFan returns the last raw value written to a registered GPIO fan.
func ReadGPIOFan(path string) (uint8, error) {
	gpioFansMu.RLock()
	f, ok := gpioFans[path]
	gpioFansMu.RUnlock()
	if !ok {
		return 0, ErrNotFound
	}
	return uint8(f.lastRaw.Load()), nil
}
