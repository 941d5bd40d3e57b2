package remote

import (
	"errors"
	"fmt"
)

// ErrNotFound 可用于 errors.Is 判断远端资源缺失。
var ErrNotFound = errors.New("remote resource not found")

// NotFoundError 表示远端明确返回 404/410。
type NotFoundError struct {
	URL string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("remote resource not found: %s", e.URL)
}

// Is 让 errors.Is(err, ErrNotFound) 成立。
func (e *NotFoundError) Is(target error) bool {
	return target == ErrNotFound
}

// NetworkError 覆盖传输失败与非 2xx 响应。Status 为 0 表示请求未拿到响应。
type NetworkError struct {
	URL    string
	Status int
	Err    error
}

func (e *NetworkError) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("fetch %s: unexpected status %d", e.URL, e.Status)
	}
	return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

// IsUnavailable reports whether err means the resource could not be obtained
// from the remote (transport failure, bad status or missing resource).
func IsUnavailable(err error) bool {
	if err == nil {
		return false
	}
	var netErr *NetworkError
	if errors.As(err, &netErr) {
		return true
	}
	var nf *NotFoundError
	return errors.As(err, &nf)
}
