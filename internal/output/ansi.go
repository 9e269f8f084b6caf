package output

import "regexp"

// Applied in order; CSI first so OSC bodies are matched after parameter
// sequences are gone.
var ansiPatterns = []*regexp.Regexp{
	regexp.MustCompile("\x1b\\[[0-?]*[ -/]*[@-~]"), // CSI
	regexp.MustCompile("\x1b\\][^\x07]*\x07"),      // OSC, BEL terminated
	regexp.MustCompile("\x1b\\][^\x1b]*\x1b\\\\"),  // OSC, ST terminated
	regexp.MustCompile("\x1b[PX^_].*?\x1b\\\\"),    // DCS, SOS, PM, APC
	regexp.MustCompile("\x1b[@-Z\\\\-_]"),          // two-byte escapes
}

// StripANSI removes terminal escape sequences from s.
func StripANSI(s string) string {
	for _, re := range ansiPatterns {
		s = re.ReplaceAllString(s, "")
	}
	return s
}

// StripANSIBytes is StripANSI for byte slices.
func StripANSIBytes(b []byte) []byte {
	for _, re := range ansiPatterns {
		b = re.ReplaceAll(b, nil)
	}
	return b
}
