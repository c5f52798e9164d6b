// Package processes holds the stock process types launched from the console.
package processes

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/mitsuyoshi-yamazaki/AntOS-sub007/internal/models"
	"github.com/mitsuyoshi-yamazaki/AntOS-sub007/internal/process"
	"github.com/mitsuyoshi-yamazaki/AntOS-sub007/internal/world"
)

// Registrar accepts process types. *kernel.Kernel implements it.
type Registrar interface {
	Register(t process.Type) error
}

// Types returns every stock process type.
func Types() []process.Type {
	return []process.Type{haulType, sentryType, monitorType, scoutType}
}

// Register installs every stock process type.
func Register(r Registrar) error {
	for _, t := range Types() {
		if err := r.Register(t); err != nil {
			return fmt.Errorf("register %s: %w", t.Tag, err)
		}
	}
	return nil
}

// decoder builds a process.Decoder for a process whose whole state is S.
func decoder[S any](build func(process.Meta, S) process.Process) process.Decoder {
	return func(rec models.ProcessRecord) (process.Process, error) {
		var st S
		if err := process.DecodeState(rec, &st); err != nil {
			return nil, err
		}
		return build(process.MetaFromRecord(rec), st), nil
	}
}

// parsePosition parses "room:x:y".
func parsePosition(s string) (world.Position, error) {
	parts := strings.Split(s, ":")
	if len(parts) != 3 || parts[0] == "" {
		return world.Position{}, fmt.Errorf("position %q is not room:x:y", s)
	}
	x, err := strconv.Atoi(parts[1])
	if err != nil {
		return world.Position{}, fmt.Errorf("position %q: %w", s, err)
	}
	y, err := strconv.Atoi(parts[2])
	if err != nil {
		return world.Position{}, fmt.Errorf("position %q: %w", s, err)
	}
	return world.Position{Room: parts[0], X: x, Y: y}, nil
}

// parseRoute parses comma separated positions.
func parseRoute(s string) ([]world.Position, error) {
	var route []world.Position
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part == "" {
			continue
		}
		p, err := parsePosition(part)
		if err != nil {
			return nil, err
		}
		route = append(route, p)
	}
	if len(route) == 0 {
		return nil, fmt.Errorf("route is empty")
	}
	return route, nil
}

func positive(args process.Args, key string, def int) (int, error) {
	n, err := args.Int(key, def)
	if err != nil {
		return 0, err
	}
	if n < 1 {
		return 0, fmt.Errorf("argument %s must be at least 1", key)
	}
	return n, nil
}

// command splits a console message into its verb and arguments.
func command(text string) (string, []string) {
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return "", nil
	}
	return strings.ToLower(fields[0]), fields[1:]
}
