package adapter

import (
	"regexp"
	"testing"

	"github.com/leapstack-labs/leapbatch/pkg/core"
	"github.com/stretchr/testify/assert"
)

func TestDeduper(t *testing.T) {
	var d Deduper
	msg := core.Message{Number: 50000, Severity: core.SeverityError, Text: "boom", Line: 3}

	assert.False(t, d.Seen(msg))
	assert.True(t, d.Seen(msg))

	other := msg
	other.Line = 4
	assert.False(t, d.Seen(other), "different line is a different message")

	d.Reset()
	assert.False(t, d.Seen(msg))
}

func TestLineAtOffset(t *testing.T) {
	text := "select 1\nfrom\nwhere x"
	tests := []struct {
		pos  int
		want int
	}{
		{0, 0},
		{1, 1},
		{9, 1},
		{10, 2},
		{15, 3},
		{len(text) + 1, 3},
		{len(text) + 2, 0},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, LineAtOffset(text, tt.pos), "pos %d", tt.pos)
	}
}

func TestLineFromMessage(t *testing.T) {
	re := regexp.MustCompile(`at line (\d+)`)
	assert.Equal(t, 7, LineFromMessage(re, "You have an error near 'x' at line 7"))
	assert.Equal(t, 0, LineFromMessage(re, "no line here"))
}

func TestDecodeOptions(t *testing.T) {
	type params struct {
		Encrypt  string            `mapstructure:"encrypt"`
		Packet   int               `mapstructure:"packet_size"`
		Settings map[string]string `mapstructure:"settings"`
	}

	var p params
	err := DecodeOptions(map[string]any{
		"encrypt":     "strict",
		"packet_size": "4096",
		"settings":    map[string]any{"threads": "4"},
	}, &p)
	assert.NoError(t, err)
	assert.Equal(t, params{Encrypt: "strict", Packet: 4096, Settings: map[string]string{"threads": "4"}}, p)

	err = DecodeOptions(map[string]any{"encrpyt": "x"}, &p)
	assert.Error(t, err, "unknown keys are rejected")

	assert.NoError(t, DecodeOptions(nil, &p))
}
