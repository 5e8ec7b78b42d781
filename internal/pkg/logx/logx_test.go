package logx

import (
	"bytes"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestParticipantScopesLogger(t *testing.T) {
	var buf bytes.Buffer
	InitWriterLogger(&buf, zerolog.DebugLevel)

	l := Participant("hub", "s1", "alice")
	l.Info().Msg("joined")
	out := buf.String()
	for _, want := range []string{"hub", "s1", "alice", "joined"} {
		if !strings.Contains(out, want) {
			t.Fatalf("log line %q lacks %q", out, want)
		}
	}

	buf.Reset()
	l = Participant("hub", "s1", "")
	l.Info().Msg("started")
	if strings.Contains(buf.String(), "user_id") {
		t.Fatalf("session logger carries a user: %q", buf.String())
	}
}

func TestOddFieldsAreDropped(t *testing.T) {
	var buf bytes.Buffer
	InitWriterLogger(&buf, zerolog.DebugLevel)

	Info("hello", "dangling")
	out := buf.String()
	if !strings.Contains(out, "odd number of fields") || !strings.Contains(out, "hello") {
		t.Fatalf("out = %q", out)
	}
}
