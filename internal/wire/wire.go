// Package wire implements a hand-rolled encoder/decoder for the RFC 1035
// DNS wire format: 12-byte header, question section, and the three
// resource-record sections (answer, authority, additional).
//
// It intentionally does not depend on github.com/miekg/dns — the codec
// is the one piece of this repository meant to show the wire format
// worked out by hand, the way the original C forwarder this system is
// modeled on does it.
package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// Header and section size limits (RFC 1035).
const (
	HeaderSize      = 12
	MaxLabelLength  = 63
	MaxDomainLength = 255
	MaxMessageSize  = 65535
)

// Record types this forwarder understands on the wire.
const (
	TypeA     uint16 = 1
	TypeNS    uint16 = 2
	TypeCNAME uint16 = 5
	TypeSOA   uint16 = 6
	TypePTR   uint16 = 12
	TypeMX    uint16 = 15
	TypeAAAA  uint16 = 28
	TypeANY   uint16 = 255
)

// ClassIN is the only record class this forwarder serves.
const ClassIN uint16 = 1

// Response codes used by the dispatcher.
const (
	RcodeNoError  uint8 = 0
	RcodeFormErr  uint8 = 1
	RcodeServFail uint8 = 2
	RcodeNXDomain uint8 = 3
)

var (
	// ErrMessageTooShort indicates a datagram that ends before its
	// header, or a name, question or record it declares, is complete.
	ErrMessageTooShort = errors.New("wire: message too short")

	// ErrInvalidPointer indicates a compression pointer after the first
	// label of a name, which the decoder does not support.
	ErrInvalidPointer = errors.New("wire: invalid compression pointer")

	// ErrLabelTooLong indicates a label exceeding 63 bytes.
	ErrLabelTooLong = errors.New("wire: label too long")

	// ErrNameTooLong indicates an encoded or decoded name exceeding 255 bytes.
	ErrNameTooLong = errors.New("wire: name too long")

	// ErrBufferTooSmall indicates a packed message larger than MaxMessageSize.
	ErrBufferTooSmall = errors.New("wire: destination buffer too small")
)

// Header mirrors the 12-byte DNS header, already unpacked into its
// individual bitfields (RFC 1035 §4.1.1). It is always handled via
// explicit bit shifts on a big-endian uint16, never a byte-order
// dependent struct layout.
type Header struct {
	ID      uint16
	QR      bool
	Opcode  uint8
	AA      bool
	TC      bool
	RD      bool
	RA      bool
	Z       uint8
	Rcode   uint8
	QDCount uint16
	ANCount uint16
	NSCount uint16
	ARCount uint16
}

// Question is a DNS question-section entry: a name plus the requested
// type and class, with no TTL or RDATA.
type Question struct {
	Name  string
	Type  uint16
	Class uint16
}

// ResourceRecord is a DNS answer/authority/additional-section entry.
type ResourceRecord struct {
	Name  string
	Type  uint16
	Class uint16
	TTL   uint32
	RData []byte
}

// Message is a fully decoded DNS message.
type Message struct {
	Header     Header
	Question   []Question
	Answer     []ResourceRecord
	Authority  []ResourceRecord
	Additional []ResourceRecord
}

func flagsWord(h Header) uint16 {
	var f uint16
	if h.QR {
		f |= 0x8000
	}
	f |= uint16(h.Opcode&0x0F) << 11
	if h.AA {
		f |= 0x0400
	}
	if h.TC {
		f |= 0x0200
	}
	if h.RD {
		f |= 0x0100
	}
	if h.RA {
		f |= 0x0080
	}
	f |= uint16(h.Z&0x07) << 4
	f |= uint16(h.Rcode & 0x0F)
	return f
}

func parseFlagsWord(f uint16, h *Header) {
	h.QR = f&0x8000 != 0
	h.Opcode = uint8((f >> 11) & 0x0F)
	h.AA = f&0x0400 != 0
	h.TC = f&0x0200 != 0
	h.RD = f&0x0100 != 0
	h.RA = f&0x0080 != 0
	h.Z = uint8((f >> 4) & 0x07)
	h.Rcode = uint8(f & 0x0F)
}

func writeHeader(buf []byte, h Header) {
	binary.BigEndian.PutUint16(buf[0:2], h.ID)
	binary.BigEndian.PutUint16(buf[2:4], flagsWord(h))
	binary.BigEndian.PutUint16(buf[4:6], h.QDCount)
	binary.BigEndian.PutUint16(buf[6:8], h.ANCount)
	binary.BigEndian.PutUint16(buf[8:10], h.NSCount)
	binary.BigEndian.PutUint16(buf[10:12], h.ARCount)
}

func readHeader(buf []byte) Header {
	var h Header
	h.ID = binary.BigEndian.Uint16(buf[0:2])
	parseFlagsWord(binary.BigEndian.Uint16(buf[2:4]), &h)
	h.QDCount = binary.BigEndian.Uint16(buf[4:6])
	h.ANCount = binary.BigEndian.Uint16(buf[6:8])
	h.NSCount = binary.BigEndian.Uint16(buf[8:10])
	h.ARCount = binary.BigEndian.Uint16(buf[10:12])
	return h
}

func wrapf(op string, err error) error {
	return fmt.Errorf("wire: %s: %w", op, err)
}
