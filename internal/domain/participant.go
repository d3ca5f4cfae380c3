package domain

import (
	"strconv"

	"github.com/google/uuid"
)

// ParticipantID is the numeric client identity established by authentication.
type ParticipantID uint32

func (p ParticipantID) String() string { return strconv.FormatUint(uint64(p), 10) }

func ParseParticipantID(s string) (ParticipantID, error) {
	n, err := strconv.ParseUint(s, 10, 32)
	if err != nil {
		return 0, err
	}
	return ParticipantID(n), nil
}

// ConnID distinguishes signaling connections inside one podcast.
type ConnID string

func NewConnID() ConnID { return ConnID(uuid.NewString()) }
