package util

import (
	"regexp"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/v2/bson"
)

var objectIDPattern = regexp.MustCompile(`^[0-9a-f]{24}$`)

// NewID returns a 24-hex ObjectID string. Both store backends key documents by it.
func NewID() string {
	return bson.NewObjectID().Hex()
}

// ValidID reports whether value looks like an id produced by NewID.
func ValidID(value string) bool {
	return objectIDPattern.MatchString(value)
}

func NewRequestID() string {
	return uuid.NewString()
}
