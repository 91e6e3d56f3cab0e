package corpus

import (
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/klauspost/compress/zstd"

	"github.com/Adithya-Monish-Kumar-K/Incremental-Phrase-Table/internal/model"
	apperrors "github.com/Adithya-Monish-Kumar-K/Incremental-Phrase-Table/pkg/errors"
)

var (
	encoderPool sync.Pool
	decoderPool sync.Pool
)

func getEncoder() *zstd.Encoder {
	if v := encoderPool.Get(); v != nil {
		return v.(*zstd.Encoder)
	}
	enc, _ := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedFastest))
	return enc
}

func getDecoder() *zstd.Decoder {
	if v := decoderPool.Get(); v != nil {
		return v.(*zstd.Decoder)
	}
	dec, _ := zstd.NewReader(nil, zstd.WithDecoderConcurrency(1))
	return dec
}

// encodeRecord serialises a record as varints:
// domain, |source|, source..., |target|, target..., |alignment|, (s, t)...
func encodeRecord(dst []byte, r model.Record) []byte {
	dst = binary.AppendUvarint(dst, uint64(r.Domain))
	dst = binary.AppendUvarint(dst, uint64(len(r.Source)))
	for _, w := range r.Source {
		dst = binary.AppendUvarint(dst, uint64(w))
	}
	dst = binary.AppendUvarint(dst, uint64(len(r.Target)))
	for _, w := range r.Target {
		dst = binary.AppendUvarint(dst, uint64(w))
	}
	dst = binary.AppendUvarint(dst, uint64(len(r.Alignment)))
	for _, a := range r.Alignment {
		dst = binary.AppendUvarint(dst, uint64(a.Source))
		dst = binary.AppendUvarint(dst, uint64(a.Target))
	}
	return dst
}

type recordDecoder struct {
	buf []byte
	err error
}

func (d *recordDecoder) uvarint() uint64 {
	if d.err != nil {
		return 0
	}
	v, n := binary.Uvarint(d.buf)
	if n <= 0 {
		d.err = fmt.Errorf("%w: truncated varint", apperrors.ErrCorruptRecord)
		return 0
	}
	d.buf = d.buf[n:]
	return v
}

func (d *recordDecoder) length() int {
	n := d.uvarint()
	if n > uint64(len(d.buf)) {
		if d.err == nil {
			d.err = fmt.Errorf("%w: length %d exceeds payload", apperrors.ErrCorruptRecord, n)
		}
		return 0
	}
	return int(n)
}

func (d *recordDecoder) words() []model.Wid {
	n := d.length()
	words := make([]model.Wid, n)
	for i := range words {
		words[i] = model.Wid(d.uvarint())
	}
	return words
}

func decodeRecord(payload []byte) (model.Record, error) {
	d := &recordDecoder{buf: payload}
	var r model.Record
	r.Domain = model.Domain(d.uvarint())
	r.Source = d.words()
	r.Target = d.words()
	n := d.length()
	r.Alignment = make(model.Alignment, n)
	for i := range r.Alignment {
		r.Alignment[i].Source = uint16(d.uvarint())
		r.Alignment[i].Target = uint16(d.uvarint())
	}
	if d.err != nil {
		return model.Record{}, d.err
	}
	return r, nil
}

func compress(raw []byte) []byte {
	enc := getEncoder()
	defer encoderPool.Put(enc)
	return enc.EncodeAll(raw, nil)
}

func decompress(data []byte) ([]byte, error) {
	dec := getDecoder()
	defer decoderPool.Put(dec)
	raw, err := dec.DecodeAll(data, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", apperrors.ErrCorruptRecord, err)
	}
	return raw, nil
}
