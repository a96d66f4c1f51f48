package protocol

import "testing"

func TestRunSubject(t *testing.T) {
	if got := RunSubject("done"); got != "voiceclone.run.done" {
		t.Fatalf("unexpected subject %q", got)
	}
}
