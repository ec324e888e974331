package wire

import "encoding/binary"

// Pack serializes a Message into wire format, returning the encoded
// bytes. Question entries are packed as name+type+class; answer,
// authority and additional entries additionally carry ttl+rdlength+rdata,
// matching the original forwarder's dns_rr_pack (which only appends the
// TTL/length/data trailer when the record actually carries data).
func Pack(m *Message) ([]byte, error) {
	buf := make([]byte, HeaderSize)
	h := m.Header
	h.QDCount = uint16(len(m.Question))
	h.ANCount = uint16(len(m.Answer))
	h.NSCount = uint16(len(m.Authority))
	h.ARCount = uint16(len(m.Additional))
	writeHeader(buf, h)

	for _, q := range m.Question {
		enc, err := packQuestion(q)
		if err != nil {
			return nil, wrapf("pack question", err)
		}
		buf = append(buf, enc...)
	}
	for _, rr := range m.Answer {
		enc, err := packRR(rr)
		if err != nil {
			return nil, wrapf("pack answer", err)
		}
		buf = append(buf, enc...)
	}
	for _, rr := range m.Authority {
		enc, err := packRR(rr)
		if err != nil {
			return nil, wrapf("pack authority", err)
		}
		buf = append(buf, enc...)
	}
	for _, rr := range m.Additional {
		enc, err := packRR(rr)
		if err != nil {
			return nil, wrapf("pack additional", err)
		}
		buf = append(buf, enc...)
	}

	if len(buf) > MaxMessageSize {
		return nil, ErrBufferTooSmall
	}
	return buf, nil
}

func packQuestion(q Question) ([]byte, error) {
	name, err := encodeName(q.Name)
	if err != nil {
		return nil, err
	}
	out := make([]byte, 0, len(name)+4)
	out = append(out, name...)
	var tail [4]byte
	binary.BigEndian.PutUint16(tail[0:2], q.Type)
	binary.BigEndian.PutUint16(tail[2:4], q.Class)
	return append(out, tail[:]...), nil
}

func packRR(rr ResourceRecord) ([]byte, error) {
	name, err := encodeName(rr.Name)
	if err != nil {
		return nil, err
	}
	out := make([]byte, 0, len(name)+10+len(rr.RData))
	out = append(out, name...)
	var head [4]byte
	binary.BigEndian.PutUint16(head[0:2], rr.Type)
	binary.BigEndian.PutUint16(head[2:4], rr.Class)
	out = append(out, head[:]...)

	var trailer [6]byte
	binary.BigEndian.PutUint32(trailer[0:4], rr.TTL)
	binary.BigEndian.PutUint16(trailer[4:6], uint16(len(rr.RData)))
	out = append(out, trailer[:]...)
	out = append(out, rr.RData...)
	return out, nil
}

// Unpack parses a raw DNS datagram into a Message.
func Unpack(msg []byte) (*Message, error) {
	if len(msg) < HeaderSize {
		return nil, ErrMessageTooShort
	}

	m := &Message{Header: readHeader(msg)}
	off := HeaderSize

	m.Question = make([]Question, 0, m.Header.QDCount)
	for i := 0; i < int(m.Header.QDCount); i++ {
		q, n, err := unpackQuestion(msg, off)
		if err != nil {
			return nil, wrapf("unpack question", err)
		}
		m.Question = append(m.Question, q)
		off = n
	}

	var err error
	m.Answer, off, err = unpackRRSection(msg, off, int(m.Header.ANCount))
	if err != nil {
		return nil, wrapf("unpack answer", err)
	}
	m.Authority, off, err = unpackRRSection(msg, off, int(m.Header.NSCount))
	if err != nil {
		return nil, wrapf("unpack authority", err)
	}
	m.Additional, off, err = unpackRRSection(msg, off, int(m.Header.ARCount))
	if err != nil {
		return nil, wrapf("unpack additional", err)
	}
	// Trailing bytes past off are ignored rather than rejected here;
	// nothing this forwarder does needs them, and the original decoder
	// makes the same choice, leaving any "did the datagram have extra
	// junk" check to the caller if it ever wants one.
	_ = off

	return m, nil
}

func unpackQuestion(msg []byte, offset int) (Question, int, error) {
	name, n, err := decodeName(msg, offset)
	if err != nil {
		return Question{}, 0, err
	}
	offset += n
	if offset+4 > len(msg) {
		return Question{}, 0, ErrMessageTooShort
	}
	q := Question{
		Name:  name,
		Type:  binary.BigEndian.Uint16(msg[offset : offset+2]),
		Class: binary.BigEndian.Uint16(msg[offset+2 : offset+4]),
	}
	return q, offset + 4, nil
}

func unpackRRSection(msg []byte, offset, count int) ([]ResourceRecord, int, error) {
	rrs := make([]ResourceRecord, 0, count)
	for i := 0; i < count; i++ {
		rr, n, err := unpackRR(msg, offset)
		if err != nil {
			return nil, 0, err
		}
		rrs = append(rrs, rr)
		offset = n
	}
	return rrs, offset, nil
}

func unpackRR(msg []byte, offset int) (ResourceRecord, int, error) {
	name, n, err := decodeName(msg, offset)
	if err != nil {
		return ResourceRecord{}, 0, err
	}
	offset += n
	if offset+10 > len(msg) {
		return ResourceRecord{}, 0, ErrMessageTooShort
	}

	rr := ResourceRecord{
		Name:  name,
		Type:  binary.BigEndian.Uint16(msg[offset : offset+2]),
		Class: binary.BigEndian.Uint16(msg[offset+2 : offset+4]),
		TTL:   binary.BigEndian.Uint32(msg[offset+4 : offset+8]),
	}
	rdlen := int(binary.BigEndian.Uint16(msg[offset+8 : offset+10]))
	offset += 10

	if offset+rdlen > len(msg) {
		return ResourceRecord{}, 0, ErrMessageTooShort
	}
	rr.RData = make([]byte, rdlen)
	copy(rr.RData, msg[offset:offset+rdlen])
	offset += rdlen

	return rr, offset, nil
}
