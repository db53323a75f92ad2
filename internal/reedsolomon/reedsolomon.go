// Package reedsolomon implements a Reed-Solomon codec over GF(2^8).
//
// The codec follows Phil Karn's classic formulation: the code is described by
// the field generator polynomial, the first consecutive root of the generator
// (in index form), the primitive element used to step between roots, and the
// number of roots (parity symbols). Blocks are always full length (255
// symbols); shortened codes are handled by the caller zero-padding the
// message. Symbol 0 of a block is the highest-degree coefficient and the
// parity symbols occupy the tail of the block.
package reedsolomon

import (
	"errors"
	"fmt"
)

const (
	symbolBits = 8

	// BlockLen is the number of symbols in a full codeword.
	BlockLen = 1<<symbolBits - 1

	nn = BlockLen
	a0 = nn // log(0) in index form
)

// ErrUncorrectable is returned by Decode when a block holds more errors than
// the code can locate.
var ErrUncorrectable = errors.New("reedsolomon: uncorrectable block")

// Codec holds the field tables and generator polynomial for one code.
// A Codec is immutable after New and safe for concurrent use.
type Codec struct {
	nroots int
	fcr    int
	prim   int
	iprim  int

	alphaTo [nn + 1]int
	indexOf [nn + 1]int
	genpoly []int // index form
}

// New builds a codec. gfpoly is the field generator polynomial including the
// x^8 term (e.g. 0x11D), fcr the first consecutive root of the code generator
// in index form, prim the primitive element step between roots, and nroots
// the number of parity symbols (the code corrects nroots/2 symbol errors).
func New(gfpoly, fcr, prim, nroots int) (*Codec, error) {
	if fcr < 0 || fcr >= nn+1 {
		return nil, fmt.Errorf("reedsolomon: fcr %d out of range", fcr)
	}
	if prim <= 0 || prim >= nn+1 {
		return nil, fmt.Errorf("reedsolomon: prim %d out of range", prim)
	}
	if nroots <= 0 || nroots >= nn {
		return nil, fmt.Errorf("reedsolomon: nroots %d out of range", nroots)
	}

	c := &Codec{nroots: nroots, fcr: fcr, prim: prim}

	c.indexOf[0] = a0
	c.alphaTo[a0] = 0
	sr := 1
	for i := 0; i < nn; i++ {
		c.indexOf[sr] = i
		c.alphaTo[i] = sr
		sr <<= 1
		if sr&(1<<symbolBits) != 0 {
			sr ^= gfpoly
		}
		sr &= nn
	}
	if sr != 1 {
		return nil, fmt.Errorf("reedsolomon: field polynomial 0x%x is not primitive", gfpoly)
	}

	// prim-th root of 1, used by the Chien search.
	iprim := 1
	for iprim%prim != 0 {
		iprim += nn
	}
	c.iprim = iprim / prim

	gen := make([]int, nroots+1)
	gen[0] = 1
	for i, root := 0, fcr*prim; i < nroots; i, root = i+1, root+prim {
		gen[i+1] = 1
		for j := i; j > 0; j-- {
			if gen[j] != 0 {
				gen[j] = gen[j-1] ^ c.alphaTo[c.modnn(c.indexOf[gen[j]]+root)]
			} else {
				gen[j] = gen[j-1]
			}
		}
		gen[0] = c.alphaTo[c.modnn(c.indexOf[gen[0]]+root)]
	}
	for i := range gen {
		gen[i] = c.indexOf[gen[i]]
	}
	c.genpoly = gen
	return c, nil
}

// Roots returns the number of parity symbols per block.
func (c *Codec) Roots() int { return c.nroots }

// MessageLen returns the number of message symbols per block.
func (c *Codec) MessageLen() int { return nn - c.nroots }

func (c *Codec) modnn(x int) int {
	for x >= nn {
		x -= nn
		x = (x >> symbolBits) + (x & nn)
	}
	return x
}

// Encode computes the parity for msg (MessageLen symbols) and writes it into
// parity (Roots symbols).
func (c *Codec) Encode(msg, parity []byte) error {
	if len(msg) != c.MessageLen() {
		return fmt.Errorf("reedsolomon: message length %d, want %d", len(msg), c.MessageLen())
	}
	if len(parity) != c.nroots {
		return fmt.Errorf("reedsolomon: parity length %d, want %d", len(parity), c.nroots)
	}

	for i := range parity {
		parity[i] = 0
	}
	for _, sym := range msg {
		feedback := c.indexOf[int(sym^parity[0])]
		if feedback != a0 {
			for j := 1; j < c.nroots; j++ {
				parity[j] ^= byte(c.alphaTo[c.modnn(feedback+c.genpoly[c.nroots-j])])
			}
		}
		copy(parity, parity[1:])
		if feedback != a0 {
			parity[c.nroots-1] = byte(c.alphaTo[c.modnn(feedback+c.genpoly[0])])
		} else {
			parity[c.nroots-1] = 0
		}
	}
	return nil
}

// Decode corrects block in place. block must hold BlockLen symbols: the
// message followed by its parity. It returns the number of corrected symbols,
// or ErrUncorrectable when the error pattern cannot be located; in that case
// block is left unmodified.
func (c *Codec) Decode(block []byte) (int, error) {
	if len(block) != nn {
		return 0, fmt.Errorf("reedsolomon: block length %d, want %d", len(block), nn)
	}
	nroots := c.nroots

	// Syndromes: evaluate block(x) at the roots of g(x).
	s := make([]int, nroots)
	for i := range s {
		s[i] = int(block[0])
	}
	for j := 1; j < nn; j++ {
		for i := range s {
			if s[i] == 0 {
				s[i] = int(block[j])
			} else {
				s[i] = int(block[j]) ^ c.alphaTo[c.modnn(c.indexOf[s[i]]+(c.fcr+i)*c.prim)]
			}
		}
	}
	synError := 0
	for i := range s {
		synError |= s[i]
		s[i] = c.indexOf[s[i]]
	}
	if synError == 0 {
		return 0, nil
	}

	// Berlekamp-Massey.
	lambda := make([]int, nroots+1)
	b := make([]int, nroots+1)
	t := make([]int, nroots+1)
	lambda[0] = 1
	for i := range b {
		b[i] = c.indexOf[lambda[i]]
	}
	el := 0
	for r := 1; r <= nroots; r++ {
		discr := 0
		for i := 0; i < r; i++ {
			if lambda[i] != 0 && s[r-i-1] != a0 {
				discr ^= c.alphaTo[c.modnn(c.indexOf[lambda[i]]+s[r-i-1])]
			}
		}
		discr = c.indexOf[discr]
		if discr == a0 {
			copy(b[1:], b[:nroots])
			b[0] = a0
			continue
		}

		t[0] = lambda[0]
		for i := 0; i < nroots; i++ {
			if b[i] != a0 {
				t[i+1] = lambda[i+1] ^ c.alphaTo[c.modnn(discr+b[i])]
			} else {
				t[i+1] = lambda[i+1]
			}
		}
		if 2*el <= r-1 {
			el = r - el
			for i := 0; i <= nroots; i++ {
				if lambda[i] == 0 {
					b[i] = a0
				} else {
					b[i] = c.modnn(c.indexOf[lambda[i]] - discr + nn)
				}
			}
		} else {
			copy(b[1:], b[:nroots])
			b[0] = a0
		}
		copy(lambda, t)
	}

	degLambda := 0
	for i := range lambda {
		lambda[i] = c.indexOf[lambda[i]]
		if lambda[i] != a0 {
			degLambda = i
		}
	}

	// Chien search for the roots of the error locator.
	reg := make([]int, nroots+1)
	copy(reg[1:], lambda[1:])
	root := make([]int, 0, nroots)
	loc := make([]int, 0, nroots)
	for i, k := 1, c.iprim-1; i <= nn; i, k = i+1, c.modnn(k+c.iprim) {
		q := 1
		for j := degLambda; j > 0; j-- {
			if reg[j] != a0 {
				reg[j] = c.modnn(reg[j] + j)
				q ^= c.alphaTo[reg[j]]
			}
		}
		if q != 0 {
			continue
		}
		root = append(root, i)
		loc = append(loc, k)
		if len(root) == degLambda {
			break
		}
	}
	if len(root) != degLambda {
		return 0, ErrUncorrectable
	}

	// Error evaluator omega(x) = s(x)*lambda(x) mod x^nroots, index form.
	omega := make([]int, nroots+1)
	degOmega := 0
	for i := 0; i < nroots; i++ {
		tmp := 0
		j := degLambda
		if i < j {
			j = i
		}
		for ; j >= 0; j-- {
			if s[i-j] != a0 && lambda[j] != a0 {
				tmp ^= c.alphaTo[c.modnn(s[i-j]+lambda[j])]
			}
		}
		if tmp != 0 {
			degOmega = i
		}
		omega[i] = c.indexOf[tmp]
	}
	omega[nroots] = a0

	// Forney: compute all magnitudes before touching the block so a failure
	// leaves it unmodified.
	fix := make([]byte, len(root))
	for j := len(root) - 1; j >= 0; j-- {
		num1 := 0
		for i := degOmega; i >= 0; i-- {
			if omega[i] != a0 {
				num1 ^= c.alphaTo[c.modnn(omega[i]+i*root[j])]
			}
		}
		num2 := c.alphaTo[c.modnn(root[j]*(c.fcr-1)+nn)]
		den := 0
		start := degLambda
		if start > nroots-1 {
			start = nroots - 1
		}
		for i := start &^ 1; i >= 0; i -= 2 {
			if lambda[i+1] != a0 {
				den ^= c.alphaTo[c.modnn(lambda[i+1]+i*root[j])]
			}
		}
		if den == 0 {
			return 0, ErrUncorrectable
		}
		if num1 != 0 {
			fix[j] = byte(c.alphaTo[c.modnn(c.indexOf[num1]+c.indexOf[num2]+nn-c.indexOf[den])])
		}
	}

	count := 0
	for j, pos := range loc {
		if fix[j] != 0 {
			block[pos] ^= fix[j]
			count++
		}
	}
	return count, nil
}
