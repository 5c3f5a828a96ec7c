package util

import (
	"encoding/binary"
	"math"

	"github.com/miekg/dns"
	"github.com/pkg/errors"
)

const (
	// HeaderLen is the fixed size of a DNS message header, RFC 1035 Section 4.1.1
	HeaderLen = 12

	flagQR = 1 << 15
	flagTC = 1 << 9

	// rrFixedLen is type(2) + class(2) + ttl(4) + rdlength(2)
	rrFixedLen = 10
)

// ErrMalformed is returned for messages too short or too broken to be handled.
var ErrMalformed = errors.New("malformed dns message")

// Header is the decoded fixed part of a DNS message.
type Header struct {
	ID      uint16
	Flags   uint16
	QDCount uint16
	ANCount uint16
	NSCount uint16
	ARCount uint16
}

// Response reports whether the QR bit is set.
func (h Header) Response() bool { return h.Flags&flagQR != 0 }

// Truncated reports whether the TC bit is set.
func (h Header) Truncated() bool { return h.Flags&flagTC != 0 }

// Rcode is the 4-bit response code of the header, 0 is NOERROR.
func (h Header) Rcode() int { return int(h.Flags & 0x000F) }

// ParseHeader decodes the 12-byte header, ErrMalformed when b is shorter.
func ParseHeader(b []byte) (Header, error) {
	if len(b) < HeaderLen {
		return Header{}, errors.Wrapf(ErrMalformed, "header needs %d bytes, got %d", HeaderLen, len(b))
	}

	return Header{
		ID:      binary.BigEndian.Uint16(b[0:]),
		Flags:   binary.BigEndian.Uint16(b[2:]),
		QDCount: binary.BigEndian.Uint16(b[4:]),
		ANCount: binary.BigEndian.Uint16(b[6:]),
		NSCount: binary.BigEndian.Uint16(b[8:]),
		ARCount: binary.BigEndian.Uint16(b[10:]),
	}, nil
}

// ReadID returns the transaction id of b.
func ReadID(b []byte) (uint16, error) {
	if len(b) < 2 {
		return 0, errors.Wrapf(ErrMalformed, "transaction id needs 2 bytes, got %d", len(b))
	}
	return binary.BigEndian.Uint16(b), nil
}

// WriteID overwrites the transaction id of b in place.
func WriteID(b []byte, id uint16) error {
	if len(b) < 2 {
		return errors.Wrapf(ErrMalformed, "transaction id needs 2 bytes, got %d", len(b))
	}
	binary.BigEndian.PutUint16(b, id)
	return nil
}

// ExtractQuestion returns the question section of b, every question included.
// The returned slice shares memory with b.
func ExtractQuestion(b []byte) ([]byte, error) {
	h, err := ParseHeader(b)
	if err != nil {
		return nil, err
	}

	if h.QDCount == 0 {
		return nil, errors.Wrap(ErrMalformed, "no question")
	}

	off, err := skipQuestions(b, h.QDCount)
	if err != nil {
		return nil, err
	}

	return b[HeaderLen:off], nil
}

// MinAnswerTTL returns the smallest TTL of the answer section. ok is false when
// the answer section is empty or any of its records can not be unpacked.
func MinAnswerTTL(b []byte) (ttl uint32, ok bool) {
	h, err := ParseHeader(b)
	if err != nil || h.ANCount == 0 {
		return 0, false
	}

	off, err := skipQuestions(b, h.QDCount)
	if err != nil {
		return 0, false
	}

	var rr dns.RR
	ttl = math.MaxUint32
	for i := 0; i < int(h.ANCount); i++ {
		if rr, off, err = dns.UnpackRR(b, off); err != nil || rr == nil {
			return 0, false
		}
		if rr.Header().Ttl < ttl {
			ttl = rr.Header().Ttl
		}
	}

	return ttl, true
}

// AgeTTLs subtracts elapsed seconds from the TTL of every answer and authority
// record of b in place, stopping at zero. OPT records are left alone.
func AgeTTLs(b []byte, elapsed uint32) error {
	h, err := ParseHeader(b)
	if err != nil {
		return err
	}

	off, err := skipQuestions(b, h.QDCount)
	if err != nil {
		return err
	}

	for i := 0; i < int(h.ANCount)+int(h.NSCount); i++ {
		if _, off, err = dns.UnpackDomainName(b, off); err != nil {
			return errors.Wrapf(ErrMalformed, "record %d name: %v", i, err)
		}

		if off+rrFixedLen > len(b) {
			return errors.Wrapf(ErrMalformed, "record %d truncated", i)
		}

		if binary.BigEndian.Uint16(b[off:]) != dns.TypeOPT {
			ttl := binary.BigEndian.Uint32(b[off+4:])
			if ttl > elapsed {
				ttl -= elapsed
			} else {
				ttl = 0
			}
			binary.BigEndian.PutUint32(b[off+4:], ttl)
		}

		off += rrFixedLen + int(binary.BigEndian.Uint16(b[off+8:]))
		if off > len(b) {
			return errors.Wrapf(ErrMalformed, "record %d rdata truncated", i)
		}
	}

	return nil
}

// QuestionString returns the first question of b in presentation format,
// or an empty string when it can not be decoded.
func QuestionString(b []byte) string {
	if len(b) < HeaderLen {
		return ""
	}

	name, off, err := dns.UnpackDomainName(b, HeaderLen)
	if err != nil || off+4 > len(b) {
		return ""
	}

	q := dns.Question{
		Name:   name,
		Qtype:  binary.BigEndian.Uint16(b[off:]),
		Qclass: binary.BigEndian.Uint16(b[off+2:]),
	}
	return q.String()
}

// skipQuestions returns the offset of the first byte after n questions.
func skipQuestions(b []byte, n uint16) (int, error) {
	var err error
	off := HeaderLen
	for i := 0; i < int(n); i++ {
		if _, off, err = dns.UnpackDomainName(b, off); err != nil {
			return 0, errors.Wrapf(ErrMalformed, "question %d name: %v", i, err)
		}
		if off+4 > len(b) {
			return 0, errors.Wrapf(ErrMalformed, "question %d misses type or class", i)
		}
		off += 4
	}
	return off, nil
}
