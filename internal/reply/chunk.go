package reply

import (
	"strings"
	"unicode/utf8"
)

// Split breaks text into pieces of at most limit bytes. Text that fits
// is returned whole. Otherwise it is packed sentence by sentence, and
// sentences longer than limit are packed word by word. Words are never
// broken unless a single word alone exceeds limit.
func Split(text string, limit int) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	if limit <= 0 || len(text) <= limit {
		return []string{text}
	}

	var p packer
	p.limit = limit
	for _, sentence := range sentences(text) {
		if len(sentence) <= limit {
			p.add(sentence)
			continue
		}
		for _, word := range strings.Fields(sentence) {
			for len(word) > limit {
				head := cutRunes(word, limit)
				p.add(head)
				word = word[len(head):]
			}
			p.add(word)
		}
	}
	return p.done()
}

// packer joins pieces with single spaces into chunks under limit.
type packer struct {
	limit  int
	cur    strings.Builder
	chunks []string
}

func (p *packer) add(piece string) {
	if piece == "" {
		return
	}
	if p.cur.Len() > 0 && p.cur.Len()+1+len(piece) > p.limit {
		p.flush()
	}
	if p.cur.Len() > 0 {
		p.cur.WriteByte(' ')
	}
	p.cur.WriteString(piece)
}

func (p *packer) flush() {
	if p.cur.Len() > 0 {
		p.chunks = append(p.chunks, p.cur.String())
		p.cur.Reset()
	}
}

func (p *packer) done() []string {
	p.flush()
	return p.chunks
}

// sentences splits after ". ", "! " and "? ", keeping the punctuation
// with its sentence.
func sentences(text string) []string {
	var out []string
	start := 0
	for i := 0; i+1 < len(text); i++ {
		switch text[i] {
		case '.', '!', '?':
			if text[i+1] == ' ' {
				if s := strings.TrimSpace(text[start : i+1]); s != "" {
					out = append(out, s)
				}
				start = i + 2
			}
		}
	}
	if s := strings.TrimSpace(text[start:]); s != "" {
		out = append(out, s)
	}
	return out
}

// cutRunes returns the longest prefix of s that fits in n bytes
// without splitting a UTF-8 sequence.
func cutRunes(s string, n int) string {
	if len(s) <= n {
		return s
	}
	cut := n
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	if cut == 0 {
		_, size := utf8.DecodeRuneInString(s)
		cut = size
	}
	return s[:cut]
}
