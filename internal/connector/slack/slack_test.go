package slackconn

import "testing"

func TestStripMention(t *testing.T) {
	got := StripMention("<@U123> preciso abrir um chamado", "U123")
	want := "preciso abrir um chamado"
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}

	if got := StripMention("sem menção", "U123"); got != "sem menção" {
		t.Errorf("got %q", got)
	}
}

func TestSplitChatID(t *testing.T) {
	channel, ts := splitChatID("C42:1700000000.000100")
	if channel != "C42" || ts != "1700000000.000100" {
		t.Errorf("got %q %q", channel, ts)
	}

	channel, ts = splitChatID("C42")
	if channel != "C42" || ts != "" {
		t.Errorf("got %q %q", channel, ts)
	}
}
