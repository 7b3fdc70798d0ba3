//go:build !tinygo

package payload

import (
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/robertkrimen/otto"
)

//go:embed formatter.js
var formatterScript string

var (
	errScriptTimeout   = errors.New("execution timeout")
	errUnexpectedValue = errors.New("formatter returned unexpected data type")
)

// Formatter runs a JavaScript uplink formatter exposing Decode(fPort, bytes),
// the way network servers decode device payloads.
type Formatter struct {
	script  string
	timeout time.Duration
}

// NewFormatter creates a formatter for script. An empty script selects the
// formatter shipped with the node.
func NewFormatter(script string) *Formatter {
	if script == "" {
		script = formatterScript
	}
	return &Formatter{
		script:  script,
		timeout: 100 * time.Millisecond,
	}
}

// Script returns the formatter source.
func (f *Formatter) Script() string {
	return f.script
}

// Decode runs the formatter on an uplink payload.
func (f *Formatter) Decode(fPort uint8, b []byte) (map[string]interface{}, error) {
	v, err := f.run(f.script+"\n\nDecode(fPort, bytes);\n", map[string]interface{}{
		"fPort": fPort,
		"bytes": b,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to run formatter: %w", err)
	}

	fields, ok := v.(map[string]interface{})
	if !ok {
		return nil, errUnexpectedValue
	}
	return fields, nil
}

func (f *Formatter) run(script string, vars map[string]interface{}) (out interface{}, err error) {
	defer func() {
		if caught := recover(); caught != nil {
			if e, ok := caught.(error); ok {
				err = e
				return
			}
			err = fmt.Errorf("%v", caught)
		}
	}()

	vm := otto.New()
	vm.Interrupt = make(chan func(), 1)
	vm.SetStackDepthLimit(32)

	for k, v := range vars {
		if err := vm.Set(k, v); err != nil {
			return nil, err
		}
	}

	timer := time.AfterFunc(f.timeout, func() {
		vm.Interrupt <- func() {
			panic(errScriptTimeout)
		}
	})
	defer timer.Stop()

	val, err := vm.Run(script)
	if err != nil {
		return nil, err
	}
	return val.Export()
}

// Number extracts a numeric field from decoded formatter output.
func Number(fields map[string]interface{}, key string) (float64, bool) {
	switch v := fields[key].(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int64:
		return float64(v), true
	case int32:
		return float64(v), true
	case int:
		return float64(v), true
	}
	return 0, false
}
