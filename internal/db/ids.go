package db

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
)

// Client-generated IDs so creation works offline. Prefixes keep entity types
// recognizable in logs and on the wire.
const (
	placePrefix = "pl-"
	tripPrefix  = "tr-"
	logPrefix   = "lg-"
	listPrefix  = "sl-"
	blobPrefix  = "bl-"
)

func randomID(prefix string, bytes int) (string, error) {
	b := make([]byte, bytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate id: %w", err)
	}
	return prefix + hex.EncodeToString(b), nil
}

// NewPlaceID generates a new place ID (pl- + 8 hex chars).
func NewPlaceID() (string, error) { return randomID(placePrefix, 4) }

// NewTripID generates a new trip ID (tr- + 6 hex chars).
func NewTripID() (string, error) { return randomID(tripPrefix, 3) }

// NewLogID generates a new log ID (lg- + 8 hex chars).
func NewLogID() (string, error) { return randomID(logPrefix, 4) }

// NewListID generates a new saved-list ID (sl- + 6 hex chars).
func NewListID() (string, error) { return randomID(listPrefix, 3) }

// NewBlobID generates an attachment blob ID (bl- + 12 hex chars).
func NewBlobID() (string, error) { return randomID(blobPrefix, 6) }
