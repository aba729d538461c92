package job

import (
	"github.com/google/uuid"

	"github.com/teranos/tren/errors"
)

// NewID returns a time-sortable UUIDv7 string
func NewID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", errors.Wrap(err, "failed to generate job id")
	}
	return id.String(), nil
}
