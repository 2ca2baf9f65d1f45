package util

import (
	"crypto/rand"
)

const (
	jobIDPrefix = "job_"
	jobIDLength = 12
	idAlphabet  = "abcdefghijklmnopqrstuvwxyz0123456789"
)

// NewJobID returns a random job identifier of the form "job_<token>"
// where token is a lowercase base36 string. Collisions are overwhelmingly
// unlikely within a session (36^12 tokens).
func NewJobID() string {
	var b [jobIDLength]byte
	_, _ = rand.Read(b[:])
	out := make([]byte, 0, len(jobIDPrefix)+jobIDLength)
	out = append(out, jobIDPrefix...)
	for _, c := range b {
		out = append(out, idAlphabet[int(c)%len(idAlphabet)])
	}
	return string(out)
}
