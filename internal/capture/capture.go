package capture

import (
	"bytes"
	"fmt"
	"image/png"
	"os"
	"path/filepath"

	"github.com/nfnt/resize"
)

// Save writes PNG screenshot data to path. When maxWidth is set and the
// image is wider, it is scaled down keeping the aspect ratio.
func Save(data []byte, path string, maxWidth uint) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create screenshot dir: %w", err)
		}
	}
	out, err := Downscale(data, maxWidth)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, out, 0o644); err != nil {
		return fmt.Errorf("write screenshot: %w", err)
	}
	return nil
}

// Downscale returns data unchanged unless it is wider than maxWidth
func Downscale(data []byte, maxWidth uint) ([]byte, error) {
	if maxWidth == 0 {
		return data, nil
	}
	img, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode screenshot: %w", err)
	}
	if uint(img.Bounds().Dx()) <= maxWidth {
		return data, nil
	}

	// height 0 keeps the aspect ratio
	resized := resize.Resize(maxWidth, 0, img, resize.Lanczos3)

	var buf bytes.Buffer
	if err := png.Encode(&buf, resized); err != nil {
		return nil, fmt.Errorf("encode screenshot: %w", err)
	}
	return buf.Bytes(), nil
}
