package store

import "errors"

// ErrKeyNotFound is returned by the worker pool for a GET of an absent or
// deleted key, where Store.Get itself reports that case with a bool.
var ErrKeyNotFound = errors.New("store: key not found")

// ErrClosed is returned by Set, Delete, ApplyRemote, Update, Clear, and
// Checkpoint when called after Close.
var ErrClosed = errors.New("store: closed")
