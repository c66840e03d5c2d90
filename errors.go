package halodb

import "errors"

var (
	ErrKeyIsEmpty             = errors.New("the key is empty")
	ErrKeyTooLarge            = errors.New("the key exceeds the max key size")
	ErrIndexUpdateFailed      = errors.New("failed to update index")
	ErrKeyNotFound            = errors.New("key not found in database")
	ErrDataFileNotFound       = errors.New("data file is not found")
	ErrDataDirectoryCorrupted = errors.New("the database directory maybe corrupted")
	ErrMergeIsProgress        = errors.New("merge is progress, try again later")
	ErrDatabaseIsUsing        = errors.New("the database directory is used by another process")
	ErrDatabaseClosed         = errors.New("the database is closed")
)
