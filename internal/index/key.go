package index

import (
	"bytes"
	"encoding/binary"

	"github.com/Adithya-Monish-Kumar-K/Incremental-Phrase-Table/internal/model"
)

// Key namespaces. Domain-scoped keys carry the domain id after the namespace
// byte, so a domain's keys form one contiguous, prefix-addressable range.
const (
	nsDomainSource byte = 0x01
	nsGlobalSource byte = 0x02
	nsGlobalTarget byte = 0x03
)

const tokenWidth = 4

type keySpace struct {
	prefix []byte
}

func domainSpace(d model.Domain) keySpace {
	p := make([]byte, 5)
	p[0] = nsDomainSource
	binary.BigEndian.PutUint32(p[1:], uint32(d))
	return keySpace{prefix: p}
}

var (
	globalSourceSpace = keySpace{prefix: []byte{nsGlobalSource}}
	globalTargetSpace = keySpace{prefix: []byte{nsGlobalTarget}}
)

// encode appends the key of tokens in this namespace to dst.
func (s keySpace) encode(dst []byte, tokens []model.Wid) []byte {
	dst = append(dst, s.prefix...)
	for _, w := range tokens {
		dst = binary.BigEndian.AppendUint32(dst, uint32(w))
	}
	return dst
}

// decode returns the tokens of a key produced by encode in this namespace.
func (s keySpace) decode(key []byte) []model.Wid {
	if !bytes.HasPrefix(key, s.prefix) {
		return nil
	}
	body := key[len(s.prefix):]
	out := make([]model.Wid, len(body)/tokenWidth)
	for i := range out {
		out[i] = model.Wid(binary.BigEndian.Uint32(body[i*tokenWidth:]))
	}
	return out
}

// windows calls fn with every window of up to n tokens starting at each
// position of tokens. Windows are truncated at the end of the sentence.
func windows(tokens []model.Wid, n int, fn func(offset int, window []model.Wid)) {
	for i := range tokens {
		end := min(i+n, len(tokens))
		fn(i, tokens[i:end])
	}
}
