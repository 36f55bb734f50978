// Package devicecfg reads the fleet's device list.
//
// The format is line oriented:
//
//	# comment
//	name,identifier,host[,status]
//
// Display model and OS version are inferred from the name through a
// swappable lookup; nothing downstream depends on them.
package devicecfg

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"os"
	"strings"

	"github.com/teslashibe/go-fleet/internal/httpc"
	"github.com/teslashibe/go-fleet/pkg/device"
)

var (
	// ErrFieldCount indicates a data line without name, identifier and host.
	ErrFieldCount = errors.New("devicecfg: expected name,identifier,host[,status]")

	// ErrEmptyField indicates a blank name, identifier or host.
	ErrEmptyField = errors.New("devicecfg: empty field")

	// ErrDuplicateID indicates an identifier already defined earlier in the file.
	ErrDuplicateID = errors.New("devicecfg: duplicate identifier")
)

// LineError describes a skipped line.
type LineError struct {
	Line int
	Text string
	Err  error
}

func (e *LineError) Error() string {
	return fmt.Sprintf("line %d %q: %v", e.Line, e.Text, e.Err)
}

func (e *LineError) Unwrap() error {
	return e.Err
}

// InferFunc derives a display model and OS version from a device name.
type InferFunc func(name string) (model, osVersion string)

type options struct {
	infer InferFunc
	rng   *rand.Rand
}

// Option configures Parse.
type Option func(*options)

// WithInfer replaces the model/OS lookup.
func WithInfer(fn InferFunc) Option {
	return func(o *options) { o.infer = fn }
}

// WithRand sets the source used for initial battery levels.
func WithRand(r *rand.Rand) Option {
	return func(o *options) { o.rng = r }
}

// Parse reads device definitions. Malformed lines are skipped and returned
// as LineErrors; they never abort the parse.
func Parse(r io.Reader, opts ...Option) ([]device.Device, []*LineError) {
	o := options{infer: DefaultInfer}
	for _, opt := range opts {
		opt(&o)
	}
	if o.rng == nil {
		o.rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}

	var (
		devices []device.Device
		errs    []*LineError
		seen    = make(map[string]bool)
	)

	sc := bufio.NewScanner(r)
	for n := 1; sc.Scan(); n++ {
		raw := sc.Text()
		line := strings.TrimSpace(raw)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		d, err := parseLine(line, o)
		if err == nil && seen[d.ID] {
			err = fmt.Errorf("%w: %s", ErrDuplicateID, d.ID)
		}
		if err != nil {
			errs = append(errs, &LineError{Line: n, Text: raw, Err: err})
			continue
		}
		seen[d.ID] = true
		devices = append(devices, d)
	}
	if err := sc.Err(); err != nil {
		errs = append(errs, &LineError{Line: -1, Err: err})
	}
	return devices, errs
}

func parseLine(line string, o options) (device.Device, error) {
	fields := strings.Split(line, ",")
	if len(fields) < 3 || len(fields) > 4 {
		return device.Device{}, ErrFieldCount
	}
	for i := range fields {
		fields[i] = strings.TrimSpace(fields[i])
	}
	name, id, host := fields[0], fields[1], fields[2]
	if name == "" || id == "" || host == "" {
		return device.Device{}, ErrEmptyField
	}

	status := device.StatusConnected
	if len(fields) == 4 {
		s, err := device.ParseStatus(strings.ToLower(fields[3]))
		if err != nil {
			return device.Device{}, err
		}
		status = s
	}

	model, osVersion := o.infer(name)
	return device.Device{
		ID:        id,
		Name:      name,
		Model:     model,
		OSVersion: osVersion,
		Host:      host,
		Status:    status,
		Battery:   20 + o.rng.IntN(81),
		ActiveApp: device.HomeScreen,
	}, nil
}

// Load reads a device list from a file path or an http(s) URL.
func Load(ctx context.Context, src string, opts ...Option) ([]device.Device, []*LineError, error) {
	var data []byte
	var err error
	if strings.HasPrefix(src, "http://") || strings.HasPrefix(src, "https://") {
		data, err = httpc.Fetch(ctx, src)
	} else {
		data, err = os.ReadFile(src)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("devicecfg: load %s: %w", src, err)
	}

	devices, lineErrs := Parse(strings.NewReader(string(data)), opts...)
	return devices, lineErrs, nil
}
