package resources

import "errors"

// ErrReleaseFailed is wrapped by every teardown failure returned from ReleaseAll
var ErrReleaseFailed = errors.New("release failed")
