package service

var Excerpt = excerpt

func NewTailBuffer(limit int) interface {
	Write(p []byte) (int, error)
	String() string
	Truncated() bool
} {
	return newTailBuffer(limit)
}
