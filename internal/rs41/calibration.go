package rs41

import (
	"encoding/binary"
	"fmt"
	"math/bits"
)

const (
	CalibFragments   = 51
	CalibFragmentLen = 16
	CalibLen         = CalibFragments * CalibFragmentLen

	allFragments = uint64(1)<<CalibFragments - 1

	burstKillFragment = 0x31
	burstKillOffset   = 7
	burstKillDisabled = 0xFFFF

	freqFragment = 0x00
	freqOffset   = 2
)

// Calibration reassembles the sonde configuration block from the fragments
// carried by status subframes. Fragments may arrive in any order and more
// than once; a repeated fragment overwrites the stored copy. Once every
// fragment has been seen the block stays complete.
type Calibration struct {
	frags   [CalibFragments][CalibFragmentLen]byte
	missing uint64 // one bit per fragment not yet received
	done    bool
}

func NewCalibration() *Calibration {
	return &Calibration{missing: allFragments}
}

// Merge stores fragment seq and reports whether the block is complete.
func (c *Calibration) Merge(seq int, data []byte) (bool, error) {
	if seq < 0 || seq >= CalibFragments {
		return c.done, fmt.Errorf("calibration fragment %d out of range", seq)
	}
	if len(data) < CalibFragmentLen {
		return c.done, fmt.Errorf("calibration fragment %d too short: %d bytes", seq, len(data))
	}
	copy(c.frags[seq][:], data)
	c.missing &^= 1 << uint(seq)
	if c.missing == 0 {
		c.done = true
	}
	return c.done, nil
}

// Complete reports whether every fragment has been received.
func (c *Calibration) Complete() bool { return c.done }

// Received returns the number of distinct fragments seen.
func (c *Calibration) Received() int {
	return CalibFragments - bits.OnesCount64(c.missing)
}

// Fragment returns a copy of fragment seq if it has been received.
func (c *Calibration) Fragment(seq int) ([CalibFragmentLen]byte, bool) {
	if seq < 0 || seq >= CalibFragments || c.missing&(1<<uint(seq)) != 0 {
		return [CalibFragmentLen]byte{}, false
	}
	return c.frags[seq], true
}

// Assemble returns the full calibration block once complete.
func (c *Calibration) Assemble() ([]byte, bool) {
	if !c.done {
		return nil, false
	}
	out := make([]byte, 0, CalibLen)
	for i := range c.frags {
		out = append(out, c.frags[i][:]...)
	}
	return out, true
}

// BurstKill returns the burst-kill countdown in seconds, or -1 when the
// timer is disabled. ok is false until the carrying fragment has arrived.
func (c *Calibration) BurstKill() (seconds int, ok bool) {
	frag, ok := c.Fragment(burstKillFragment)
	if !ok {
		return 0, false
	}
	v := binary.LittleEndian.Uint16(frag[burstKillOffset:])
	if v == burstKillDisabled {
		return -1, true
	}
	return int(v), true
}

// FrequencyKHz returns the configured transmit frequency.
func (c *Calibration) FrequencyKHz() (float64, bool) {
	frag, ok := c.Fragment(freqFragment)
	if !ok {
		return 0, false
	}
	fine := float64(frag[freqOffset]&0xC0) * 10 / 64
	coarse := 40 * float64(frag[freqOffset+1])
	return 400000 + coarse + fine, true
}

// SetBurstKill stores a burst-kill countdown in an assembled calibration
// block; a negative value disables the timer.
func SetBurstKill(block []byte, seconds int) error {
	if len(block) < CalibLen {
		return fmt.Errorf("calibration block too short: %d bytes", len(block))
	}
	v := uint16(burstKillDisabled)
	if seconds >= 0 {
		if seconds >= burstKillDisabled {
			return fmt.Errorf("burst kill %ds out of range", seconds)
		}
		v = uint16(seconds)
	}
	binary.LittleEndian.PutUint16(block[burstKillFragment*CalibFragmentLen+burstKillOffset:], v)
	return nil
}

// SetFrequencyKHz stores the transmit frequency in an assembled calibration
// block. The field has 10 kHz resolution; the value is rounded down.
func SetFrequencyKHz(block []byte, khz float64) error {
	if len(block) < CalibLen {
		return fmt.Errorf("calibration block too short: %d bytes", len(block))
	}
	steps := int((khz - 400000) / 10)
	if khz < 400000 || steps > 0x3FF {
		return fmt.Errorf("frequency %.0f kHz out of range", khz)
	}
	off := freqFragment*CalibFragmentLen + freqOffset
	block[off] = block[off]&^0xC0 | byte(steps&3)<<6
	block[off+1] = byte(steps >> 2)
	return nil
}
