package randstr

import "math/rand"

var DefaultCharset = []byte("abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789")

type Generator struct {
	charset []byte
}

func New(charset []byte) *Generator {
	if len(charset) == 0 {
		charset = DefaultCharset
	}

	return &Generator{charset: charset}
}

func (g *Generator) GenerateRandomString(length int) string {
	b := make([]byte, length)
	for i := range b {
		b[i] = g.charset[rand.Intn(len(g.charset))]
	}

	return string(b)
}
