// Package protocol implements the line format spoken between clients and the
// server.
//
// A line is TYPE|ARG|ARG...\n. Inside an argument, the characters | , \ and
// newlines are backslash-escaped. List replies put comma-separated items after
// the type (TYPE|ITEM,ITEM), where each item is itself |-separated escaped
// fields.
package protocol

import (
	"errors"
	"strings"
	"time"

	"hitme/models"
)

var ErrInvalidPacket = errors.New("invalid packet format")

// TimeLayout is used for every timestamp on the wire.
const TimeLayout = time.RFC3339

type Packet struct {
	Type string
	Args []string
}

// Arg returns the i-th argument, or "" if the packet is shorter.
func (p *Packet) Arg(i int) string {
	if i < 0 || i >= len(p.Args) {
		return ""
	}
	return p.Args[i]
}

func ParsePacket(line string) (*Packet, error) {
	line = strings.TrimRight(line, "\r\n")
	if line == "" {
		return nil, ErrInvalidPacket
	}

	parts := splitUnescaped(line, '|')
	pkt := &Packet{Type: unescape(parts[0])}
	if pkt.Type == "" {
		return nil, ErrInvalidPacket
	}
	for _, part := range parts[1:] {
		pkt.Args = append(pkt.Args, unescape(part))
	}
	return pkt, nil
}

// FormatPacket escapes every field and terminates the line.
func FormatPacket(pktType string, args ...string) string {
	return Item(append([]string{pktType}, args...)...) + "\n"
}

// Item joins escaped fields with |, for use inside a list.
func Item(fields ...string) string {
	escaped := make([]string, len(fields))
	for i, f := range fields {
		escaped[i] = Escape(f)
	}
	return strings.Join(escaped, "|")
}

// FormatList builds TYPE|HEAD...|ITEM,ITEM. head fields are escaped; items
// must already be built with Item.
func FormatList(pktType string, head []string, items []string) string {
	prefix := Item(append([]string{pktType}, head...)...)
	return prefix + "|" + strings.Join(items, ",") + "\n"
}

// ParseList undoes FormatList for a list with headLen head fields.
func ParseList(line string, headLen int) (pktType string, head []string, items [][]string, err error) {
	line = strings.TrimRight(line, "\r\n")
	parts := splitUnescaped(line, '|')
	if len(parts) < headLen+1 {
		return "", nil, nil, ErrInvalidPacket
	}
	pktType = unescape(parts[0])
	for _, h := range parts[1 : headLen+1] {
		head = append(head, unescape(h))
	}

	body := strings.Join(parts[headLen+1:], "|")
	if body == "" {
		return pktType, head, nil, nil
	}
	for _, raw := range splitUnescaped(body, ',') {
		var fields []string
		for _, f := range splitUnescaped(raw, '|') {
			fields = append(fields, unescape(f))
		}
		items = append(items, fields)
	}
	return pktType, head, items, nil
}

func FormatTime(t time.Time) string {
	return t.UTC().Format(TimeLayout)
}

// FormatOptionalTime renders nil as the empty field.
func FormatOptionalTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return FormatTime(*t)
}

// RequestItem encodes id|sender|receiver|topic|urgency|status|created|expires.
// A favorite has an empty expires field.
func RequestItem(r models.HitRequest) string {
	return Item(
		r.ID,
		r.SenderID,
		r.ReceiverID,
		r.Topic,
		r.Urgency.String(),
		string(r.Status),
		FormatTime(r.CreatedAt),
		FormatOptionalTime(r.ExpiresAt),
	)
}

// ContactItem encodes id|name|phone|modes|last_online with modes space
// separated.
func ContactItem(c models.Contact) string {
	return Item(c.ID, c.Name, c.Phone, strings.Join(c.Modes, " "), FormatOptionalTime(c.LastOnline))
}

// splitUnescaped splits on sep, leaving escape sequences in place.
func splitUnescaped(s string, sep rune) []string {
	var parts []string
	var current strings.Builder
	escaped := false

	for _, r := range s {
		switch {
		case escaped:
			current.WriteRune(r)
			escaped = false
		case r == '\\':
			current.WriteRune(r)
			escaped = true
		case r == sep:
			parts = append(parts, current.String())
			current.Reset()
		default:
			current.WriteRune(r)
		}
	}
	return append(parts, current.String())
}

var unescapes = map[rune]rune{
	'|':  '|',
	',':  ',',
	'\\': '\\',
	'n':  '\n',
	'r':  '\r',
}

func unescape(s string) string {
	var out strings.Builder
	escaped := false

	for _, r := range s {
		if escaped {
			if u, ok := unescapes[r]; ok {
				out.WriteRune(u)
			} else {
				out.WriteRune('\\')
				out.WriteRune(r)
			}
			escaped = false
			continue
		}
		if r == '\\' {
			escaped = true
			continue
		}
		out.WriteRune(r)
	}
	// a trailing lone backslash is kept literally
	if escaped {
		out.WriteRune('\\')
	}
	return out.String()
}

func Escape(s string) string {
	var out strings.Builder
	for _, r := range s {
		switch r {
		case '|':
			out.WriteString(`\|`)
		case ',':
			out.WriteString(`\,`)
		case '\\':
			out.WriteString(`\\`)
		case '\n':
			out.WriteString(`\n`)
		case '\r':
			out.WriteString(`\r`)
		default:
			out.WriteRune(r)
		}
	}
	return out.String()
}
