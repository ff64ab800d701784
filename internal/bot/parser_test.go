package bot

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseCommand(t *testing.T) {
	p := NewCommandParser()

	tests := []struct {
		text    string
		cmd     string
		args    []string
		command bool
	}{
		{"!buy SWORD 2", "buy", []string{"SWORD", "2"}, true},
		{"  .Balance ", "balance", nil, true},
		{"/buy@GrowStoreBot AXE", "buy", []string{"AXE"}, true},
		{"привет", "", nil, false},
		{"!", "", nil, false},
		{"! ", "", nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			cmd, args, ok := p.ParseCommand(tt.text)
			assert.Equal(t, tt.command, ok)
			assert.Equal(t, tt.cmd, cmd)
			assert.Equal(t, tt.args, args)
		})
	}
}
