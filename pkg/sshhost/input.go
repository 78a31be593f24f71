package sshhost

import (
	"bufio"
	"strings"
)

// MaxLineLength caps a chat line, in runes.
const MaxLineLength = 512

// readLines calls onLine for every complete line read from r until EOF,
// Ctrl+C or Ctrl+D. A PTY sends raw keystrokes, so input is echoed and
// backspace edits the pending line; without a PTY lines end in '\n'.
func readLines(r *bufio.Reader, pty bool, c *client, onLine func(string)) {
	var buf []rune
	flush := func() {
		line := string(buf)
		buf = buf[:0]
		if pty {
			c.echo("\r\n")
		}
		onLine(line)
	}

	for {
		ch, _, err := r.ReadRune()
		if err != nil {
			if !pty && len(buf) > 0 {
				onLine(string(buf))
			}
			return
		}

		switch ch {
		case '\r':
			flush()
		case '\n':
			// A PTY sends '\r' for Enter.
			if !pty {
				flush()
			}
		case 127, '\b':
			if len(buf) > 0 {
				buf = buf[:len(buf)-1]
				if pty {
					c.echo("\b \b")
				}
			}
		case 3, 4: // Ctrl+C, Ctrl+D
			return
		case '\x1b':
			skipEscape(r)
		default:
			if isControlRune(ch) || len(buf) >= MaxLineLength {
				continue
			}
			buf = append(buf, ch)
			if pty {
				c.echo(string(ch))
			}
		}
	}
}

// skipEscape consumes a CSI sequence such as an arrow key.
func skipEscape(r *bufio.Reader) {
	b, err := r.ReadByte()
	if err != nil || b != '[' {
		return
	}
	for {
		b, err := r.ReadByte()
		if err != nil {
			return
		}
		// Final byte of a CSI sequence.
		if b >= 0x40 && b <= 0x7e {
			return
		}
	}
}

func isControlRune(r rune) bool {
	return r < 32 || r == 127
}

// stripControl removes control characters from text sent to players.
func stripControl(s string) string {
	return strings.Map(func(r rune) rune {
		if isControlRune(r) {
			return -1
		}
		return r
	}, s)
}
