package relay

import "github.com/pion/rtp"

// rtpLockPackets is how many consecutive packets must carry the same SSRC
// before gaps are counted. Raw codec frames can parse as an RTP header by
// chance, but their "SSRC" changes from packet to packet.
const rtpLockPackets = 3

// seqTracker counts holes in RTP sequence numbers of host datagrams. The
// count is a heuristic: payloads are never required to be RTP, and those that
// do not parse are ignored. Only the receive loop touches it.
type seqTracker struct {
	ssrc   uint32
	last   uint16
	streak int
}

// observe returns how many packets went missing before b.
func (t *seqTracker) observe(b []byte) uint16 {
	var h rtp.Header
	if _, err := h.Unmarshal(b); err != nil || h.Version != 2 {
		return 0
	}
	if t.streak == 0 || h.SSRC != t.ssrc {
		t.ssrc, t.last, t.streak = h.SSRC, h.SequenceNumber, 1
		return 0
	}
	gap := h.SequenceNumber - t.last - 1
	// Late or duplicated packets wrap to a huge gap; they don't move last.
	if gap >= 1<<15 {
		return 0
	}
	t.last = h.SequenceNumber
	locked := t.streak >= rtpLockPackets
	if !locked {
		t.streak++
		return 0
	}
	return gap
}
