package notes

import (
	"errors"
	"strings"

	"github.com/google/uuid"
)

var errEmptyRecordID = errors.New("notes: id provider returned empty id")

// IDProvider issues primary keys for new daily note rows.
type IDProvider interface {
	NewID() (string, error)
}

type uuidProvider struct{}

// NewUUIDProvider returns an IDProvider issuing time-ordered UUIDv7 record ids.
func NewUUIDProvider() IDProvider {
	return uuidProvider{}
}

func (uuidProvider) NewID() (string, error) {
	value, err := uuid.NewV7()
	if err != nil {
		return "", err
	}
	return value.String(), nil
}

func newRecordID(provider IDProvider) (string, error) {
	recordID, err := provider.NewID()
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(recordID) == "" {
		return "", errEmptyRecordID
	}
	return recordID, nil
}
