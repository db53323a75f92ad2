package input

import "io"

// BitPacker turns a stream carrying one bit per byte (in the LSB) into
// packed bytes, first bit most significant. Bits that do not yet fill a
// byte are held until the next Read.
type BitPacker struct {
	r   io.Reader
	buf []byte
	acc byte
	n   int
}

func NewBitPacker(r io.Reader) *BitPacker {
	return &BitPacker{r: r, buf: make([]byte, 8*4096)}
}

func (b *BitPacker) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	for {
		want := min(8*len(p)-b.n, len(b.buf))
		n, err := b.r.Read(b.buf[:want])

		out := 0
		for _, v := range b.buf[:n] {
			b.acc = b.acc<<1 | v&1
			b.n++
			if b.n == 8 {
				p[out] = b.acc
				out++
				b.acc, b.n = 0, 0
			}
		}
		if out > 0 || err != nil {
			return out, err
		}
	}
}
