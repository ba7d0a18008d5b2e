package bookfeed

import "errors"

var (
	ErrInvalidParam        = errors.New("the param is invalid")
	ErrNotFound            = errors.New("not found")
	ErrShutdown            = errors.New("book set is shutting down")
	ErrDuplicateInstrument = errors.New("instrument is already tracked")
	ErrSnapshotCorrupted   = errors.New("snapshot data is corrupted")
)
