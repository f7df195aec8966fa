package detector

// stripANSI removes ANSI escape sequences (CSI, OSC, and bare control
// bytes) with a single linear pass. Implemented by hand rather than
// with regexp so the detector's per-analysis time budget (§4.3, ≤5ms)
// is a guarantee, not a hope: a hand-rolled scanner has no backtracking
// to run away on adversarial input.
func stripANSI(s string) string {
	out := make([]byte, 0, len(s))
	i := 0
	for i < len(s) {
		c := s[i]
		if c == 0x1b && i+1 < len(s) {
			next := s[i+1]
			switch next {
			case '[': // CSI: ESC [ ... final byte in 0x40-0x7e
				j := i + 2
				for j < len(s) && !(s[j] >= 0x40 && s[j] <= 0x7e) {
					j++
				}
				if j < len(s) {
					j++
				}
				i = j
				continue
			case ']': // OSC: ESC ] ... terminated by BEL or ST (ESC \)
				j := i + 2
				for j < len(s) {
					if s[j] == 0x07 {
						j++
						break
					}
					if s[j] == 0x1b && j+1 < len(s) && s[j+1] == '\\' {
						j += 2
						break
					}
					j++
				}
				i = j
				continue
			default:
				// Two-byte escape (e.g. ESC c, ESC =): skip both.
				i += 2
				continue
			}
		}
		if c < 0x20 && c != '\n' && c != '\t' {
			i++
			continue
		}
		out = append(out, c)
		i++
	}
	return string(out)
}

// normalizeNewlines rewrites CRLF to LF and bare CR to LF.
func normalizeNewlines(s string) string {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c == '\r' {
			if i+1 < len(s) && s[i+1] == '\n' {
				continue
			}
			out = append(out, '\n')
			continue
		}
		out = append(out, c)
	}
	return string(out)
}
