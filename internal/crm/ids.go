package crm

import (
	"crypto/rand"
	"encoding/hex"
)

// newDomainID generates "<prefix>_" + 8 hex chars (e.g. seg_3fa1b2c4).
func newDomainID(prefix string) (string, error) {
	b := make([]byte, 4)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return prefix + "_" + hex.EncodeToString(b), nil
}

func NewSegmentID() (string, error) {
	return newDomainID("seg")
}

func NewCampaignID() (string, error) {
	return newDomainID("cmp")
}
