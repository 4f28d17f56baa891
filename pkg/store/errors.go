package store

import "errors"

// Caller errors are ordinary results and recoverable. I/O errors are not
// surfaced here: they go through the handle's FailureHandler (see Config).
var (
	ErrBadMagic      = errors.New("store: bad magic number")
	ErrBadHeader     = errors.New("store: corrupt header")
	ErrBlockSize     = errors.New("store: block size error")
	ErrEmptyDatabase = errors.New("store: empty database")

	ErrItemNotFound  = errors.New("store: item not found")
	ErrCannotReplace = errors.New("store: cannot replace")
	ErrIllegalData   = errors.New("store: illegal data")
	ErrEndOfKeys     = errors.New("store: no more keys")

	ErrCantBeReader         = errors.New("store: can't be reader")
	ErrCantBeWriter         = errors.New("store: can't be writer")
	ErrReaderCantStore      = errors.New("store: reader can't store")
	ErrReaderCantDelete     = errors.New("store: reader can't delete")
	ErrReaderCantReorganize = errors.New("store: reader can't reorganize")

	ErrReorganizeFailed  = errors.New("store: reorganize failed")
	ErrOptAlreadySet     = errors.New("store: option already set")
	ErrOptIllegal        = errors.New("store: illegal option value")
	ErrDirectoryOverflow = errors.New("store: directory overflow")
)
