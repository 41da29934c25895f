package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSessionKey(t *testing.T) {
	tests := []struct {
		name    string
		session string
		file    string
		want    string
	}{
		{name: "bare file", session: "s1", file: "session.edf", want: "s1/session.edf"},
		{name: "directory dropped", session: "s1", file: "data/out/metrics.jsonl", want: "s1/metrics.jsonl"},
		{name: "absolute path", session: "0b6c", file: "/var/lib/bci/session.edf", want: "0b6c/session.edf"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, SessionKey(tt.session, tt.file))
		})
	}
}
