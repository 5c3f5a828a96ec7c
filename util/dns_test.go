package util

import (
	"testing"

	"github.com/miekg/dns"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newQuery(t *testing.T, name string, qType uint16, id uint16) []byte {
	t.Helper()
	m := new(dns.Msg)
	m.SetQuestion(name, qType)
	m.Id = id
	b, err := m.Pack()
	require.NoError(t, err)
	return b
}

func newResponse(t *testing.T, name string, id uint16, answers, authority []string) []byte {
	t.Helper()
	req := new(dns.Msg)
	req.SetQuestion(name, dns.TypeA)
	req.Id = id

	resp := new(dns.Msg)
	resp.SetReply(req)
	for _, s := range answers {
		rr, err := dns.NewRR(s)
		require.NoError(t, err)
		resp.Answer = append(resp.Answer, rr)
	}
	for _, s := range authority {
		rr, err := dns.NewRR(s)
		require.NoError(t, err)
		resp.Ns = append(resp.Ns, rr)
	}
	resp.SetEdns0(dns.DefaultMsgSize, false)

	b, err := resp.Pack()
	require.NoError(t, err)
	return b
}

func TestReadID(t *testing.T) {
	tests := []struct {
		name    string
		b       []byte
		want    uint16
		wantErr bool
	}{
		{name: "empty", b: nil, wantErr: true},
		{name: "one byte", b: []byte{0x12}, wantErr: true},
		{name: "two bytes", b: []byte{0x12, 0x34}, want: 0x1234},
		{name: "query", b: newQuery(t, "example.com.", dns.TypeA, 0xBEEF), want: 0xBEEF},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ReadID(tt.b)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.Is(err, ErrMalformed))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestWriteID(t *testing.T) {
	b := newQuery(t, "example.com.", dns.TypeA, 0x0001)
	require.NoError(t, WriteID(b, 0x1234))

	id, err := ReadID(b)
	require.NoError(t, err)
	assert.Equal(t, uint16(0x1234), id)

	m := new(dns.Msg)
	require.NoError(t, m.Unpack(b))
	assert.Equal(t, "example.com.", m.Question[0].Name)

	err = WriteID([]byte{0x01}, 0x1234)
	assert.True(t, errors.Is(err, ErrMalformed))
}

func TestExtractQuestion(t *testing.T) {
	header := func(qd byte) []byte {
		return []byte{0x12, 0x34, 0x01, 0x00, 0x00, qd, 0, 0, 0, 0, 0, 0}
	}

	tests := []struct {
		name    string
		b       []byte
		wantErr bool
	}{
		{name: "valid", b: newQuery(t, "example.com.", dns.TypeA, 1)},
		{name: "one byte", b: []byte{0x01}, wantErr: true},
		{name: "header only", b: header(0), wantErr: true},
		{name: "missing question", b: header(1), wantErr: true},
		{name: "label past end", b: append(header(1), 0x3F, 'a'), wantErr: true},
		{name: "pointer out of range", b: append(header(1), 0xC0, 0xFF, 0, 1, 0, 1), wantErr: true},
		{name: "missing class", b: append(header(1), 1, 'a', 0, 0, 1), wantErr: true},
		{name: "root name", b: append(header(1), 0, 0, 2, 0, 1)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ExtractQuestion(tt.b)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.Is(err, ErrMalformed), "%v", err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.b[HeaderLen:], got)
		})
	}
}

func TestExtractQuestionIgnoresID(t *testing.T) {
	q1, err := ExtractQuestion(newQuery(t, "example.com.", dns.TypeA, 0x1111))
	require.NoError(t, err)
	q2, err := ExtractQuestion(newQuery(t, "example.com.", dns.TypeA, 0x2222))
	require.NoError(t, err)
	q3, err := ExtractQuestion(newQuery(t, "example.com.", dns.TypeAAAA, 0x1111))
	require.NoError(t, err)

	assert.Equal(t, q1, q2)
	assert.NotEqual(t, q1, q3)
}

func TestMinAnswerTTL(t *testing.T) {
	full := newResponse(t, "example.com.", 1, []string{
		"example.com. 300 IN A 192.0.2.1",
		"example.com. 60 IN A 192.0.2.2",
	}, nil)

	tests := []struct {
		name   string
		b      []byte
		want   uint32
		wantOK bool
	}{
		{name: "min of two", b: full, want: 60, wantOK: true},
		{name: "single", b: newResponse(t, "example.com.", 1, []string{"example.com. 300 IN A 192.0.2.1"}, nil), want: 300, wantOK: true},
		{name: "zero", b: newResponse(t, "example.com.", 1, []string{"example.com. 0 IN A 192.0.2.1"}, nil), want: 0, wantOK: true},
		{name: "no answer", b: newResponse(t, "example.com.", 1, nil, []string{"example.com. 900 IN SOA ns. host. 1 2 3 4 5"})},
		{name: "truncated", b: full[:len(full)-13]},
		{name: "header only", b: full[:HeaderLen]},
		{name: "short", b: []byte{0x01}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := MinAnswerTTL(tt.b)
			assert.Equal(t, tt.wantOK, ok)
			if tt.wantOK {
				assert.Equal(t, tt.want, got)
			}
		})
	}
}

func TestAgeTTLs(t *testing.T) {
	b := newResponse(t, "example.com.", 1,
		[]string{"example.com. 300 IN A 192.0.2.1", "example.com. 120 IN A 192.0.2.2"},
		[]string{"example.com. 900 IN NS ns.example.com."},
	)

	require.NoError(t, AgeTTLs(b, 100))

	m := new(dns.Msg)
	require.NoError(t, m.Unpack(b))
	assert.Equal(t, uint32(200), m.Answer[0].Header().Ttl)
	assert.Equal(t, uint32(20), m.Answer[1].Header().Ttl)
	assert.Equal(t, uint32(800), m.Ns[0].Header().Ttl)
	require.NotNil(t, m.IsEdns0())
	assert.Equal(t, uint16(dns.DefaultMsgSize), m.IsEdns0().UDPSize())

	require.NoError(t, AgeTTLs(b, 500))
	ttl, ok := MinAnswerTTL(b)
	assert.True(t, ok)
	assert.Equal(t, uint32(0), ttl)

	assert.Error(t, AgeTTLs(b[:len(b)-20], 1))
}

func TestParseHeader(t *testing.T) {
	q := newQuery(t, "example.com.", dns.TypeA, 7)
	h, err := ParseHeader(q)
	require.NoError(t, err)
	assert.False(t, h.Response())
	assert.Equal(t, uint16(1), h.QDCount)

	r := newResponse(t, "example.com.", 7, []string{"example.com. 1 IN A 192.0.2.1"}, nil)
	h, err = ParseHeader(r)
	require.NoError(t, err)
	assert.True(t, h.Response())
	assert.False(t, h.Truncated())
	assert.Equal(t, dns.RcodeSuccess, h.Rcode())
	assert.Equal(t, uint16(1), h.ANCount)

	_, err = ParseHeader(r[:5])
	assert.True(t, errors.Is(err, ErrMalformed))
}

func TestQuestionString(t *testing.T) {
	s := QuestionString(newQuery(t, "example.com.", dns.TypeAAAA, 1))
	assert.Contains(t, s, "example.com.")
	assert.Contains(t, s, "AAAA")
	assert.Empty(t, QuestionString([]byte{1, 2, 3}))
}
