// Package wal 是一个追加写的帧日志：每条记录 len(4) + crc32(4) + payload。
package wal

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"os"
	"path/filepath"
)

const (
	headerSize      = 8 // len(4) + crc32(4)
	defaultFilePerm = 0o600
)

// 防止坏数据把内存吃爆
const DefaultMaxPayload = 16 << 20

var (
	ErrCorruptHeader    = errors.New("wal: corrupt header")
	ErrCorruptPayload   = errors.New("wal: corrupt payload")
	ErrChecksumMismatch = errors.New("wal: checksum mismatch")
	ErrPayloadTooLarge  = errors.New("wal: payload too large")
)

type Writer struct {
	f  *os.File
	bw *bufio.Writer
	// 逻辑偏移，包含还在 bufio 里没 flush 的部分
	off int64
}

func OpenWrite(path string, buffSize int) (*Writer, error) {
	if buffSize <= 0 {
		buffSize = 64 << 10
	}
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_APPEND, defaultFilePerm)
	if err != nil {
		return nil, err
	}
	st, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	return &Writer{f: f, bw: bufio.NewWriterSize(f, buffSize), off: st.Size()}, nil
}

func (w *Writer) Offset() int64 { return w.off }

// Append 先写 header 再写数据，落盘要靠 Flush
func (w *Writer) Append(payload []byte) error {
	if len(payload) > DefaultMaxPayload {
		return ErrPayloadTooLarge
	}
	var hdr [headerSize]byte
	binary.LittleEndian.PutUint32(hdr[:4], uint32(len(payload)))
	binary.LittleEndian.PutUint32(hdr[4:], crc32.ChecksumIEEE(payload))
	if _, err := w.bw.Write(hdr[:]); err != nil {
		return fmt.Errorf("wal: write header: %w", err)
	}
	if _, err := w.bw.Write(payload); err != nil {
		return fmt.Errorf("wal: write payload: %w", err)
	}
	w.off += int64(headerSize + len(payload))
	return nil
}

// Flush bufio 刷到文件再 fsync
func (w *Writer) Flush() error {
	if err := w.bw.Flush(); err != nil {
		return err
	}
	return w.f.Sync()
}

func (w *Writer) Close() error {
	if err := w.Flush(); err != nil {
		_ = w.f.Close()
		return err
	}
	return w.f.Close()
}

type ReplayOptions struct {
	MaxPayload int // <=0 用 DefaultMaxPayload
	// 最后一条半写是否当作正常结束（崩溃现场，推荐 true）
	AllowTruncatedTail bool
}

type ReplayStats struct {
	Records        int
	LastGoodOffset int64
	TruncatedTail  bool
}

// Replay 顺序回放所有完整记录。文件不存在视为空日志。
// 返回错误时 stats.LastGoodOffset 仍然指向最后一条校验通过的记录末尾。
func Replay(path string, opts ReplayOptions, onRecord func(payload []byte) error) (ReplayStats, error) {
	var st ReplayStats
	maxPayload := opts.MaxPayload
	if maxPayload <= 0 {
		maxPayload = DefaultMaxPayload
	}

	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return st, nil
		}
		return st, err
	}
	defer f.Close()

	br := bufio.NewReaderSize(f, 64<<10)
	var hdr [headerSize]byte
	for {
		if _, err = io.ReadFull(br, hdr[:]); err != nil {
			if errors.Is(err, io.EOF) {
				return st, nil
			}
			if errors.Is(err, io.ErrUnexpectedEOF) {
				st.TruncatedTail = true
				if opts.AllowTruncatedTail {
					return st, nil
				}
				return st, ErrCorruptHeader
			}
			return st, err
		}

		ln := int(binary.LittleEndian.Uint32(hdr[0:4]))
		crc := binary.LittleEndian.Uint32(hdr[4:8])
		if ln > maxPayload {
			return st, ErrPayloadTooLarge
		}

		payload := make([]byte, ln)
		if _, err = io.ReadFull(br, payload); err != nil {
			if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
				st.TruncatedTail = true
				if opts.AllowTruncatedTail {
					return st, nil
				}
				return st, ErrCorruptPayload
			}
			return st, err
		}
		if crc32.ChecksumIEEE(payload) != crc {
			return st, ErrChecksumMismatch
		}
		if err := onRecord(payload); err != nil {
			return st, err
		}
		st.Records++
		st.LastGoodOffset += int64(headerSize + ln)
	}
}

// TruncateTo 把半写的尾巴截掉，offset 超出文件大小时什么都不做
func TruncateTo(path string, offset int64) error {
	if offset < 0 {
		return fmt.Errorf("wal: negative truncate offset %d", offset)
	}
	st, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	if offset >= st.Size() {
		return nil
	}
	f, err := os.OpenFile(path, os.O_WRONLY, 0)
	if err != nil {
		return err
	}
	defer f.Close()
	if err := f.Truncate(offset); err != nil {
		return err
	}
	return f.Sync()
}

// Rewrite 用给定记录原子替换整个日志（写临时文件 + rename），用于压缩
func Rewrite(path string, payloads ...[]byte) error {
	tmp := path + ".tmp"
	_ = os.Remove(tmp)
	w, err := OpenWrite(tmp, 0)
	if err != nil {
		return err
	}
	for _, p := range payloads {
		if err := w.Append(p); err != nil {
			_ = w.Close()
			_ = os.Remove(tmp)
			return err
		}
	}
	if err := w.Close(); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	// rename 的元数据也要落盘
	if d, err := os.Open(filepath.Dir(path)); err == nil {
		_ = d.Sync()
		_ = d.Close()
	}
	return nil
}
