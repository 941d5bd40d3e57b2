// Package codec 负责远端索引的字节级编解码：gzip（全量索引）、zlib（quick 目录）
// 以及记录/索引对象的序列化格式。
package codec

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zlib"
)

// DecodeError 表示压缩或序列化的数据损坏，属于不可恢复错误，永远不会触发 fallback。
type DecodeError struct {
	What string
	Err  error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode %s: %v", e.What, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// IsDecodeError reports whether err (or anything it wraps) is a DecodeError.
func IsDecodeError(err error) bool {
	var target *DecodeError
	return errors.As(err, &target)
}

func decodeErr(what string, err error) error {
	return &DecodeError{What: what, Err: err}
}

// Gunzip 解压 specs.*.gz 形式的全量索引。
func Gunzip(data []byte) ([]byte, error) {
	r, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, decodeErr("gzip header", err)
	}
	defer r.Close()
	out, err := io.ReadAll(r)
	if err != nil {
		return nil, decodeErr("gzip body", err)
	}
	return out, nil
}

// Gzip 压缩数据，主要供测试桩与上游模拟使用。
func Gzip(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := gzip.NewWriter(&buf)
	if _, err := w.Write(data); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Inflate 解压 quick/ 目录下的 .rz 资源（zlib deflate）。
func Inflate(data []byte) ([]byte, error) {
	r, err := zlib.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, decodeErr("zlib header", err)
	}
	defer r.Close()
	out, err := io.ReadAll(r)
	if err != nil {
		return nil, decodeErr("zlib body", err)
	}
	return out, nil
}

// Deflate 是 Inflate 的逆操作。
func Deflate(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := zlib.NewWriter(&buf)
	if _, err := w.Write(data); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
