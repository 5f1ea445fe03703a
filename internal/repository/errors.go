package repository

import "errors"

var (
	ErrObjectNotFound          = errors.New("object not found")
	ErrCollectionAlreadyExists = errors.New("collection already exists")
	ErrScanRunNotFound         = errors.New("scan run not found")
)
