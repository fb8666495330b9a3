package domain

// TypingPattern is an opaque serialized typing-rhythm sample. The server
// never inspects its contents; it only stores patterns and forwards them to
// the external matcher for comparison.
type TypingPattern string

func (p TypingPattern) Empty() bool {
	return p == ""
}
