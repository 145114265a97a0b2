package protocol

import "errors"

var errBadEscape = errors.New("invalid percent escape in form body")

// decodeForm scans a x-www-form-urlencoded body left to right, splitting on
// '=' and '&', rewriting '+' to space and decoding %XX escapes. A pending
// key with no value is inserted with the empty value. Invalid escapes reject
// the whole body.
func decodeForm(body []byte, form map[string]string) error {
	if len(body) == 0 {
		return nil
	}
	var key string
	seg := make([]byte, 0, len(body))
	for i := 0; i < len(body); i++ {
		switch c := body[i]; c {
		case '=':
			key = string(seg)
			seg = seg[:0]
		case '&':
			if key != "" {
				form[key] = string(seg)
			}
			key = ""
			seg = seg[:0]
		case '+':
			seg = append(seg, ' ')
		case '%':
			if i+2 >= len(body) {
				return errBadEscape
			}
			hi := hexVal(body[i+1])
			lo := hexVal(body[i+2])
			if hi < 0 || lo < 0 {
				return errBadEscape
			}
			seg = append(seg, byte(hi*16+lo))
			i += 2
		default:
			seg = append(seg, c)
		}
	}
	if key != "" {
		form[key] = string(seg)
	}
	return nil
}

// hexVal maps one hex digit to its value, or -1 for any other byte.
func hexVal(c byte) int {
	switch {
	case c >= '0' && c <= '9':
		return int(c - '0')
	case c >= 'a' && c <= 'f':
		return int(c-'a') + 10
	case c >= 'A' && c <= 'F':
		return int(c-'A') + 10
	}
	return -1
}
