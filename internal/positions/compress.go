package positions

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	seekable "github.com/SaveTheRbtz/zstd-seekable-format-go/pkg"
	"github.com/klauspost/compress/zstd"

	"kestrel/internal/format"
)

// frameSize is the uncompressed size of each independently decodable
// frame. Blobs are at most 64KiB, so a lookup touches one or two frames.
const frameSize = 128 << 10

// zstdDec is shared by every compressed reader.
var zstdDec *zstd.Decoder

func init() {
	var err error
	zstdDec, err = zstd.NewReader(nil, zstd.WithDecoderConcurrency(0))
	if err != nil {
		panic("zstd: init decoder: " + err.Error())
	}
}

// compressFile rewrites a finished positions file as header + seekable
// zstd body. The original is replaced by rename only once the compressed
// copy is complete.
func compressFile(path string, mode os.FileMode) (err error) {
	src, err := os.Open(filepath.Clean(path))
	if err != nil {
		return err
	}
	defer func() { _ = src.Close() }()

	var hdr [format.HeaderSize]byte
	if _, err := io.ReadFull(src, hdr[:]); err != nil {
		return format.ErrHeaderTooSmall
	}
	hdr[3] |= format.FlagCompressed

	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return err
	}
	defer func() { _ = enc.Close() }()

	tmp, err := os.CreateTemp(filepath.Dir(path), ".compress-*")
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tmp.Close()
			_ = os.Remove(tmp.Name())
		}
	}()

	if _, err = tmp.Write(hdr[:]); err != nil {
		return err
	}
	sw, err := seekable.NewWriter(tmp, enc)
	if err != nil {
		return err
	}
	// Each Write becomes one frame.
	buf := make([]byte, frameSize)
	for {
		n, rerr := io.ReadFull(src, buf)
		if n > 0 {
			if _, err = sw.Write(buf[:n]); err != nil {
				return err
			}
		}
		if errors.Is(rerr, io.EOF) || errors.Is(rerr, io.ErrUnexpectedEOF) {
			break
		}
		if rerr != nil {
			return rerr
		}
	}
	if err = sw.Close(); err != nil {
		return err
	}
	if err = tmp.Chmod(mode); err != nil {
		return err
	}
	if err = tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

// openSeekable returns a random-access reader over the compressed body.
func openSeekable(path string) (seekable.Reader, *os.File, error) {
	f, err := os.Open(filepath.Clean(path))
	if err != nil {
		return nil, nil, err
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, nil, err
	}
	section := io.NewSectionReader(f, int64(format.HeaderSize), info.Size()-int64(format.HeaderSize))
	r, err := seekable.NewReader(section, zstdDec)
	if err != nil {
		_ = f.Close()
		return nil, nil, fmt.Errorf("%w: %w", ErrCorrupt, err)
	}
	return r, f, nil
}
