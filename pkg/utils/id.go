package utils

import (
	"github.com/google/uuid"
)

func NewRecordingID() string {
	return "rec_" + uuid.NewString()
}

func NewUserID() string {
	return uuid.NewString()
}
