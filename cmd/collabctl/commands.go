package main

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
)

var commandHelp = []string{
	"cursor <x> <y>",
	"select <id,id,...>",
	"lock <id>",
	"unlock <id>",
	"edit <id> <key=value>...",
	"quit",
}

// participant is the part of session.Session the stdin commands drive.
type participant interface {
	SendCursorMove(x, y float64)
	SendSelectionChange(ids []string)
	LockComponent(objectID string) bool
	UnlockComponent(objectID string)
	SendComponentUpdate(objectID string, data map[string]any) bool
}

// execute runs one stdin command against p and reports whether the loop should stop.
func execute(p participant, line string) (bool, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return false, nil
	}

	switch cmd, args := fields[0], fields[1:]; cmd {
	case "quit", "exit":
		return true, nil

	case "cursor":
		if len(args) != 2 {
			return false, fmt.Errorf("usage: cursor <x> <y>")
		}
		x, err := strconv.ParseFloat(args[0], 64)
		if err != nil {
			return false, fmt.Errorf("bad x: %w", err)
		}
		y, err := strconv.ParseFloat(args[1], 64)
		if err != nil {
			return false, fmt.Errorf("bad y: %w", err)
		}
		p.SendCursorMove(x, y)

	case "select":
		var ids []string
		if len(args) > 0 {
			for _, id := range strings.Split(args[0], ",") {
				if id = strings.TrimSpace(id); id != "" {
					ids = append(ids, id)
				}
			}
		}
		p.SendSelectionChange(ids)

	case "lock":
		if len(args) != 1 {
			return false, fmt.Errorf("usage: lock <id>")
		}
		if !p.LockComponent(args[0]) {
			return false, fmt.Errorf("cannot lock %s", args[0])
		}

	case "unlock":
		if len(args) != 1 {
			return false, fmt.Errorf("usage: unlock <id>")
		}
		p.UnlockComponent(args[0])

	case "edit":
		if len(args) < 2 {
			return false, fmt.Errorf("usage: edit <id> <key=value>...")
		}
		data := make(map[string]any, len(args)-1)
		for _, kv := range args[1:] {
			k, v, ok := strings.Cut(kv, "=")
			if !ok || k == "" {
				return false, fmt.Errorf("bad field %q, want key=value", kv)
			}
			data[k] = v
		}
		if !p.SendComponentUpdate(args[0], data) {
			return false, fmt.Errorf("cannot edit %s", args[0])
		}

	default:
		return false, fmt.Errorf("unknown command %q (try: %s)", cmd, strings.Join(commandHelp, ", "))
	}
	return false, nil
}

func scanLines(r io.Reader, out chan<- string) {
	defer close(out)
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		out <- scanner.Text()
	}
}
