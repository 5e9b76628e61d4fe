package store

import "errors"

var (
	ErrVisitNotFound      = errors.New("visit not found")
	ErrViewNotFound       = errors.New("view not found")
	ErrStageNotFound      = errors.New("stage not found")
	ErrUnknownStage       = errors.New("unknown destination stage")
	ErrAlreadyCheckedOut  = errors.New("visit already checked out")
	ErrVersionConflict    = errors.New("visit version conflict")
	ErrPhotoNotFound      = errors.New("photo not found")
	ErrPhotoAlreadyLinked = errors.New("photo linked to another visit")
)
