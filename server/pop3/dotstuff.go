package pop3

import "strings"

// dotStuff byte-stuffs a message body for a multi-line response. Any line
// beginning with '.' gets an extra '.' prepended so the body can never be
// mistaken for the response terminator (RFC 1939 §3).
func dotStuff(body string) string {
	if body == "" {
		return body
	}

	lines := strings.Split(body, "\r\n")
	stuffed := false
	for i, line := range lines {
		if strings.HasPrefix(line, ".") {
			lines[i] = "." + line
			stuffed = true
		}
	}
	if !stuffed {
		return body
	}
	return strings.Join(lines, "\r\n")
}
