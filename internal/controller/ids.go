package controller

import "github.com/google/uuid"

// uuidGenerator issues random request IDs.
type uuidGenerator struct{}

func (uuidGenerator) NewID() string {
	return uuid.NewString()
}
