package wire

import "strings"

// encodeName writes domain (dotted notation, e.g. "www.example.com" or
// "www.example.com.") in DNS wire format: a sequence of length-prefixed
// labels terminated by a zero-length label. It never emits a
// compression pointer — this forwarder only ever originates its own
// questions and answers, it doesn't need to shrink them.
func encodeName(name string) ([]byte, error) {
	name = strings.TrimSuffix(name, ".")
	if name == "" {
		return []byte{0x00}, nil
	}

	labels := strings.Split(name, ".")
	var out []byte
	for _, label := range labels {
		if len(label) > MaxLabelLength {
			return nil, ErrLabelTooLong
		}
		out = append(out, byte(len(label)))
		out = append(out, label...)
	}
	out = append(out, 0x00)
	if len(out) > MaxDomainLength {
		return nil, ErrNameTooLong
	}
	return out, nil
}

// decodeName reads a name starting at msg[offset]. If the name begins
// with a compression pointer (top two bits of the first byte set), the
// pointer is consumed as its 2-byte wire width but is never followed —
// the decoded name comes back empty. This mirrors the original
// forwarder's shortcut: it only ever reads the pointer from the very
// first byte of a name and otherwise decodes labels until a zero byte,
// with no support for a pointer appearing mid-name. Real resolvers
// fully expand compression; this one doesn't need to, because it never
// needs the decompressed name of anything but the leading question.
func decodeName(msg []byte, offset int) (name string, consumed int, err error) {
	if offset >= len(msg) {
		return "", 0, ErrMessageTooShort
	}

	if msg[offset]&0xC0 == 0xC0 {
		if offset+2 > len(msg) {
			return "", 0, ErrMessageTooShort
		}
		return "", 2, nil
	}

	var labels []string
	pos := offset
	for {
		if pos >= len(msg) {
			return "", 0, ErrMessageTooShort
		}
		length := int(msg[pos])
		if length&0xC0 == 0xC0 {
			// A pointer appearing after the first label: not supported,
			// matches the original decoder's lack of mid-name expansion.
			return "", 0, ErrInvalidPointer
		}
		pos++
		if length == 0 {
			break
		}
		if length > MaxLabelLength {
			return "", 0, ErrLabelTooLong
		}
		if pos+length > len(msg) {
			return "", 0, ErrMessageTooShort
		}
		labels = append(labels, string(msg[pos:pos+length]))
		pos += length
	}

	consumed = pos - offset
	if len(labels) == 0 {
		// A bare zero-length label decodes to "." (the root), the same
		// value encodeName("") produces — the wire format has no way to
		// distinguish a root query from an originally-empty name, so
		// the two are intentionally collapsed here rather than treated
		// as a round-trip mismatch.
		return ".", consumed, nil
	}

	full := strings.Join(labels, ".") + "."
	if len(full) > MaxDomainLength {
		return "", 0, ErrNameTooLong
	}
	return full, consumed, nil
}
