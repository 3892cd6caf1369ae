package reply

import (
	"strings"
	"testing"
)

func TestFinish(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain", "docker compose is great", "docker compose is great"},
		{"think block", "<think>user wants logs</think>alice said it at 14:02", "alice said it at 14:02"},
		{"thinking multiline", "<THINKING>\nline one\nline two\n</THINKING>\n\nHere you go", "Here you go"},
		{"thought", "<thought>hmm</thought>Sure.", "Sure."},
		{"reasoning", "<reasoning>a</reasoning>ok", "ok"},
		{"non greedy", "<think>a</think>keep<think>b</think> this", "keep this"},
		{"echoed prefix angle", "[14:05] <Terra> alice mentioned docker", "alice mentioned docker"},
		{"echoed prefix colon", "[14:05] Terra: on it", "on it"},
		{"bare timestamp", "[09:00] good morning", "good morning"},
		{"prefix after reasoning", "<think>x</think>\n[14:05] <Terra> hi", "hi"},
		{"timestamp mid text kept", "see [14:05] above", "see [14:05] above"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Finish(tt.in); got != tt.want {
				t.Errorf("Finish(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestSplit_FitsUnsplit(t *testing.T) {
	got := Split("short answer. with two sentences.", 400)
	if len(got) != 1 || got[0] != "short answer. with two sentences." {
		t.Errorf("Split = %q", got)
	}
	if got := Split("   ", 400); got != nil {
		t.Errorf("Split(blank) = %q, want nil", got)
	}
}

func TestSplit_WordBoundaries(t *testing.T) {
	words := []string{"alpha", "bravo", "charlie", "delta", "echo", "foxtrot", "golf"}
	var b strings.Builder
	for i := 0; b.Len() < 900; i++ {
		if b.Len() > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(words[i%len(words)])
	}
	text := b.String()[:900]
	text = strings.TrimSpace(text)

	chunks := Split(text, 400)
	if len(chunks) < 3 {
		t.Fatalf("chunks = %d, want at least 3", len(chunks))
	}
	for i, c := range chunks {
		if len(c) > 400 {
			t.Errorf("chunk %d has %d bytes", i, len(c))
		}
		for _, w := range strings.Fields(c) {
			if !strings.Contains(text, w) {
				t.Errorf("chunk %d contains broken word %q", i, w)
			}
		}
	}
	if strings.Join(chunks, " ") != text {
		t.Error("chunks do not reassemble the original text")
	}
	// A word cut at a break would show up as two fields.
	if got, want := len(strings.Fields(strings.Join(chunks, " "))), len(strings.Fields(text)); got != want {
		t.Errorf("word count = %d, want %d", got, want)
	}
}

func TestSplit_PrefersSentences(t *testing.T) {
	s1 := strings.Repeat("a", 150) + "."
	s2 := strings.Repeat("b", 150) + "!"
	s3 := strings.Repeat("c", 150) + "?"
	chunks := Split(s1+" "+s2+" "+s3, 400)
	if len(chunks) != 2 {
		t.Fatalf("chunks = %d, want 2", len(chunks))
	}
	if chunks[0] != s1+" "+s2 || chunks[1] != s3 {
		t.Errorf("chunks = %q", chunks)
	}
}

func TestSplit_OversizedWord(t *testing.T) {
	long := strings.Repeat("é", 300) // 600 bytes
	chunks := Split("see "+long, 100)
	for i, c := range chunks {
		if len(c) > 100 {
			t.Errorf("chunk %d has %d bytes", i, len(c))
		}
		if !strings.HasPrefix(c, "see") && strings.ContainsRune(c, '�') {
			t.Errorf("chunk %d split a rune", i)
		}
	}
	if strings.ReplaceAll(strings.Join(chunks, ""), " ", "") != "see"+long {
		t.Error("oversized word lost bytes")
	}
}

func TestSentences(t *testing.T) {
	got := sentences("One. Two! Three? Four...five")
	want := []string{"One.", "Two!", "Three?", "Four...five"}
	if strings.Join(got, "|") != strings.Join(want, "|") {
		t.Errorf("sentences = %q, want %q", got, want)
	}
}
