package softcode

import (
	"context"
	"strconv"
	"strings"
	"time"

	"mushqueue/internal/storage"
	"mushqueue/internal/task/queue"
)

// userError is a message for the actor, not a failure of the queue.
type userError string

func (e userError) Error() string { return string(e) }

const (
	errNoMatch    userError = "I don't see that here."
	errBadCount   userError = "That's not a valid count."
	errBadWait    userError = "Invalid wait specification."
	errPermission userError = "Permission denied."
)

// splitCommands splits s on ';' outside braces and brackets.
func splitCommands(s string) []string {
	var parts []string
	depth, start := 0, 0
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '{', '[':
			depth++
		case '}', ']':
			if depth > 0 {
				depth--
			}
		case '\\':
			i++
		case ';':
			if depth == 0 {
				parts = append(parts, s[start:i])
				start = i + 1
			}
		}
	}
	return append(parts, s[start:])
}

// stripBraces removes one pair of braces wrapping all of s.
func stripBraces(s string) string {
	s = strings.TrimSpace(s)
	if len(s) < 2 || s[0] != '{' || s[len(s)-1] != '}' {
		return s
	}
	depth := 0
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 && i != len(s)-1 {
				return s
			}
		}
	}
	return strings.TrimSpace(s[1 : len(s)-1])
}

func substitute(ac *queue.ActorContext, s string) string {
	if !strings.ContainsRune(s, '%') {
		return s
	}
	var b strings.Builder
	depth := 0
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c == '{':
			depth++
		case c == '}' && depth > 0:
			depth--
		case c == '%' && depth == 0 && i+1 < len(s):
			n := s[i+1]
			switch {
			case n >= '0' && n <= '9':
				b.WriteString(ac.Arg(int(n - '0')))
				i++
				continue
			case (n == 'q' || n == 'Q') && i+2 < len(s) && s[i+2] >= '0' && s[i+2] <= '9':
				b.WriteString(ac.Register(int(s[i+2] - '0')))
				i += 2
				continue
			case n == '#':
				b.WriteString(ac.Cause.String())
				i++
				continue
			case n == '!':
				b.WriteString(ac.Player.String())
				i++
				continue
			case n == '%':
				b.WriteByte('%')
				i++
				continue
			}
		}
		b.WriteByte(c)
	}
	return b.String()
}

// splitCommand returns the lowercased command word, its switches and the
// rest of the line.
func splitCommand(line string) (name string, switches []string, args string) {
	name = line
	if i := strings.IndexByte(line, ' '); i >= 0 {
		name, args = line[:i], strings.TrimSpace(line[i+1:])
	}
	name = strings.ToLower(name)
	if i := strings.IndexByte(name, '/'); i >= 0 {
		switches = strings.Split(name[i+1:], "/")
		name = name[:i]
	}
	return name, switches, args
}

func hasSwitch(switches []string, name string) bool {
	for _, s := range switches {
		if strings.EqualFold(s, name) {
			return true
		}
	}
	return false
}

// splitEq splits "left=right"; ok is false when there is no '='.
func splitEq(s string) (left, right string, ok bool) {
	i := strings.IndexByte(s, '=')
	if i < 0 {
		return strings.TrimSpace(s), "", false
	}
	return strings.TrimSpace(s[:i]), strings.TrimSpace(s[i+1:]), true
}

// resolve turns "me", "#n" or a bare number into an existing object.
func resolve(ctx context.Context, ac *queue.ActorContext, s string) (storage.DBRef, error) {
	s = strings.TrimSpace(s)
	var ref storage.DBRef
	switch strings.ToLower(s) {
	case "me":
		ref = ac.Player
	case "":
		return storage.Nothing, errNoMatch
	default:
		r, err := storage.ParseDBRef(s)
		if err != nil {
			return storage.Nothing, errNoMatch
		}
		ref = r
	}
	if _, err := ac.Queue.Store().Get(ctx, ref); err != nil {
		return storage.Nothing, errNoMatch
	}
	return ref, nil
}

// resolveAttr parses "obj" or "obj/attr". A missing attribute is 0, which
// the queue reads as the default semaphore.
func resolveAttr(ctx context.Context, ac *queue.ActorContext, s string) (storage.DBRef, storage.AttrID, error) {
	obj, attr, _ := strings.Cut(s, "/")
	ref, err := resolve(ctx, ac, obj)
	if err != nil {
		return storage.Nothing, 0, err
	}
	if attr = strings.TrimSpace(attr); attr == "" {
		return ref, 0, nil
	}
	return ref, storage.Attr(attr), nil
}

// parseSeconds accepts a non-negative decimal number of seconds. Negative
// values clamp to zero.
func parseSeconds(s string) (time.Duration, bool) {
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0, false
	}
	if f < 0 {
		f = 0
	}
	return time.Duration(f * float64(time.Second)), true
}

// waitSpec parses "<secs>", "obj", "obj/attr", "obj/secs" or
// "obj/attr/secs".
func waitSpec(ctx context.Context, ac *queue.ActorContext, s string) (queue.WaitSpec, error) {
	if d, ok := parseSeconds(s); ok {
		return queue.Timed(d), nil
	}
	parts := strings.Split(s, "/")
	target, err := resolve(ctx, ac, parts[0])
	if err != nil {
		return queue.WaitSpec{}, err
	}
	ws := queue.WaitSpec{Sem: target}
	switch len(parts) {
	case 1:
	case 2:
		if d, ok := parseSeconds(parts[1]); ok {
			ws.Delay = d
		} else if name := strings.TrimSpace(parts[1]); name != "" {
			ws.Attr = storage.Attr(name)
		}
	case 3:
		d, ok := parseSeconds(parts[2])
		if !ok {
			return queue.WaitSpec{}, errBadWait
		}
		ws.Delay = d
		if name := strings.TrimSpace(parts[1]); name != "" {
			ws.Attr = storage.Attr(name)
		}
	default:
		return queue.WaitSpec{}, errBadWait
	}
	return ws, nil
}
