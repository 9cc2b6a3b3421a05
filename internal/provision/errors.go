package provision

import "errors"

var (
	// ErrUnsupportedHost rejects model locators outside the trusted registry.
	ErrUnsupportedHost = errors.New("only huggingface.co model URLs are supported")
	// ErrInvalidModelURL rejects locators that do not name namespace/model.
	ErrInvalidModelURL = errors.New("model URL must look like https://huggingface.co/<namespace>/<model>")
	// ErrCacheIncomplete means the cache has not been fully provisioned.
	ErrCacheIncomplete = errors.New("model cache incomplete")
	// ErrCacheBusy means another process holds the cache lock.
	ErrCacheBusy = errors.New("model cache locked by another process")
)
