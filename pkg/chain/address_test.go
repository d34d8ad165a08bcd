package chain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeAddress(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{
			name: "short form is padded",
			in:   "0x1",
			want: "0000000000000000000000000000000000000000000000000000000000000001",
		},
		{
			name: "mixed case is lowered",
			in:   "0xABCdef12",
			want: "00000000000000000000000000000000000000000000000000000000abcdef12",
		},
		{
			name: "long form is untouched apart from prefix",
			in:   "0x" + "00000000000000000000000000000000000000000000000000000000abcdef12",
			want: "00000000000000000000000000000000000000000000000000000000abcdef12",
		},
		{
			name: "surrounding whitespace is ignored",
			in:   "  0x1 ",
			want: "0000000000000000000000000000000000000000000000000000000000000001",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, NormalizeAddress(tt.in))
		})
	}
}

func TestAddressesEqual(t *testing.T) {
	tests := []struct {
		name string
		a, b string
		want bool
	}{
		{name: "identical", a: "0xabc", b: "0xabc", want: true},
		{name: "case folded", a: "0xABC", b: "0xabc", want: true},
		{name: "short vs padded", a: "0x1", b: "0x0001", want: true},
		{name: "prefix optional", a: "abc", b: "0xabc", want: true},
		{name: "different accounts", a: "0xabc", b: "0xabd", want: false},
		{name: "different length same suffix", a: "0x1abc", b: "0xabc", want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, AddressesEqual(tt.a, tt.b))
		})
	}
}

func TestValidAddress(t *testing.T) {
	assert.True(t, ValidAddress("0x1"))
	assert.True(t, ValidAddress("0xABCdef12"))
	assert.True(t, ValidAddress("abcdef12"))
	assert.False(t, ValidAddress(""))
	assert.False(t, ValidAddress("0x"))
	assert.False(t, ValidAddress("0xzzz"))
	assert.False(t, ValidAddress("0x"+string(make([]byte, 70))))
}
