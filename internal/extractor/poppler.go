package extractor

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/png"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"time"

	"golang.org/x/image/draw"
)

// Raster is one rendered page as PNG bytes.
type Raster struct {
	PageNumber int
	PNG        []byte
}

// Poppler renders PDF pages to PNG with pdftoppm.
type Poppler struct {
	Binary  string // default "pdftoppm"
	DPI     int
	Timeout time.Duration
	// MaxDim caps the longest side of a rendered page in pixels; larger
	// pages are downscaled before OCR. 0 disables the cap.
	MaxDim int
}

var rasterName = regexp.MustCompile(`-(\d+)\.png$`)

// Rasterize renders pages first..last (1-indexed, inclusive).
func (p Poppler) Rasterize(ctx context.Context, pdfPath string, first, last int) ([]Raster, error) {
	if first < 1 || last < first {
		return nil, fmt.Errorf("invalid page range %d-%d", first, last)
	}

	bin := p.Binary
	if bin == "" {
		bin = "pdftoppm"
	}
	dpi := p.DPI
	if dpi <= 0 {
		dpi = 200
	}
	if p.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.Timeout)
		defer cancel()
	}

	outDir, err := os.MkdirTemp(filepath.Dir(pdfPath), "raster-*")
	if err != nil {
		return nil, fmt.Errorf("raster dir: %w", err)
	}
	defer os.RemoveAll(outDir)

	cmd := exec.CommandContext(ctx, bin,
		"-png",
		"-r", strconv.Itoa(dpi),
		"-f", strconv.Itoa(first),
		"-l", strconv.Itoa(last),
		pdfPath,
		filepath.Join(outDir, "page"),
	)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("pdftoppm: %w: %s", err, bytes.TrimSpace(stderr.Bytes()))
	}

	files, err := filepath.Glob(filepath.Join(outDir, "page-*.png"))
	if err != nil {
		return nil, err
	}

	out := make([]Raster, 0, len(files))
	for _, f := range files {
		m := rasterName.FindStringSubmatch(f)
		if len(m) != 2 {
			continue
		}
		n, _ := strconv.Atoi(m[1])
		data, err := os.ReadFile(f)
		if err != nil {
			return nil, fmt.Errorf("read raster: %w", err)
		}
		if data, err = fitPNG(data, p.MaxDim); err != nil {
			return nil, fmt.Errorf("page %d: %w", n, err)
		}
		out = append(out, Raster{PageNumber: n, PNG: data})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PageNumber < out[j].PageNumber })
	return out, nil
}

// fitPNG downscales a PNG so its longest side is at most maxDim.
func fitPNG(data []byte, maxDim int) ([]byte, error) {
	if maxDim <= 0 {
		return data, nil
	}
	cfg, err := png.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode png: %w", err)
	}
	longest := max(cfg.Width, cfg.Height)
	if longest <= maxDim {
		return data, nil
	}

	src, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode png: %w", err)
	}
	w := cfg.Width * maxDim / longest
	h := cfg.Height * maxDim / longest
	dst := image.NewGray(image.Rect(0, 0, max(w, 1), max(h, 1)))
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, src.Bounds(), draw.Over, nil)

	var buf bytes.Buffer
	if err := png.Encode(&buf, dst); err != nil {
		return nil, fmt.Errorf("encode png: %w", err)
	}
	return buf.Bytes(), nil
}
