package upload

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"

	"github.com/klauspost/compress/zstd"
	"github.com/rs/zerolog/log"
)

const CompressedSuffix = ".zst"

// Compressor turns src into src+CompressedSuffix.
type Compressor interface {
	Compress(ctx context.Context, src string) (string, error)
}

// NewCompressor returns a compressor that shells out to the zstd program at
// path. If the program cannot be found, compression happens in process.
func NewCompressor(path string) Compressor {
	if path != "" {
		if resolved, err := exec.LookPath(path); err == nil {
			return &CLICompressor{Path: resolved}
		}
	}
	log.Warn().Str("compressor", path).Msg("compressor not found; compressing in process")
	return &NativeCompressor{}
}

// CLICompressor runs zstd at its highest ratio.
type CLICompressor struct {
	Path string
}

func (c *CLICompressor) Compress(ctx context.Context, src string) (string, error) {
	dst := src + CompressedSuffix
	cmd := exec.CommandContext(ctx, c.Path, "--ultra", "-22", "-q", "-f", src, "-o", dst)
	if out, err := cmd.CombinedOutput(); err != nil {
		os.Remove(dst)
		return "", fmt.Errorf("%s failed: %w: %s", c.Path, err, out)
	}
	return dst, nil
}

// NativeCompressor uses klauspost/compress at its best ratio.
type NativeCompressor struct{}

func (NativeCompressor) Compress(ctx context.Context, src string) (dst string, err error) {
	in, err := os.Open(src)
	if err != nil {
		return "", err
	}
	defer in.Close()

	dst = src + CompressedSuffix
	out, err := os.Create(dst)
	if err != nil {
		return "", err
	}
	defer func() {
		if cerr := out.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			os.Remove(dst)
			dst = ""
		}
	}()

	enc, err := zstd.NewWriter(out, zstd.WithEncoderLevel(zstd.SpeedBestCompression))
	if err != nil {
		return "", err
	}
	if _, err = io.Copy(enc, ctxReader{ctx, in}); err != nil {
		enc.Close()
		return "", err
	}
	return dst, enc.Close()
}

// ctxReader stops a long copy once ctx is done.
type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (r ctxReader) Read(p []byte) (int, error) {
	if err := r.ctx.Err(); err != nil {
		return 0, err
	}
	return r.r.Read(p)
}
