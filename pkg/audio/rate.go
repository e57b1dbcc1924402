package audio

import (
	"regexp"
	"strconv"
)

var rateParam = regexp.MustCompile(`(?i)rate=(\d+)`)

// ParseRate returns the sample rate encoded in a content-type hint such as
// "audio/pcm;rate=24000". An empty hint, a hint without a rate parameter, or
// a rate that does not fit a positive int resolves to [OutputSampleRate].
// ParseRate never fails.
func ParseRate(hint string) int {
	if hint == "" {
		return OutputSampleRate
	}
	m := rateParam.FindStringSubmatch(hint)
	if m == nil {
		return OutputSampleRate
	}
	rate, err := strconv.Atoi(m[1])
	if err != nil || rate <= 0 {
		return OutputSampleRate
	}
	return rate
}
