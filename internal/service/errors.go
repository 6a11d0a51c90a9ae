package service

import (
	"errors"

	"classroom-whiteboard/internal/repository"
)

var (
	ErrRoomNotFound     = errors.New("room not found")
	ErrInvalidInput     = errors.New("invalid input")
	ErrInvalidPasscode  = errors.New("invalid tutor passcode")
	ErrInvalidTicket    = errors.New("invalid or expired room ticket")
	ErrRoomIDExhausted  = errors.New("failed to allocate a free room id")
	ErrSnapshotNotFound = errors.New("no snapshot available")
	ErrInternalServer   = errors.New("internal server error")
)

// mapRepoError 把存储层错误映射到服务层错误
func mapRepoError(err error, notFound error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, repository.ErrNotFound) {
		return notFound
	}
	return ErrInternalServer
}
