package audio

// Drain reads from ch until the channel is closed, discarding all values.
// Use this to prevent goroutine leaks when a session's audio or transcript
// channel is no longer consumed.
func Drain[T any](ch <-chan T) {
	for range ch {
	}
}
