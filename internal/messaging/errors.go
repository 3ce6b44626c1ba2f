package messaging

import (
	"errors"

	"dm-service/internal/repositories"
)

var (
	ErrValidation      = errors.New("validation failed")
	ErrUnauthenticated = errors.New("unauthenticated")
	ErrRateLimited     = errors.New("send rate exceeded")
	ErrNotParticipant  = repositories.ErrNotParticipant
	ErrNotFound        = repositories.ErrMessageNotFound
)

// MaxTextRunes bounds the length of a message body.
const MaxTextRunes = 2000
