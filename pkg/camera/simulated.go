package camera

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

// SimulatedConfig configures a SimulatedSensor
type SimulatedConfig struct {
	// ImageDir, when set, holds .jpg files that are replayed in name order
	ImageDir string
	Width    int
	Height   int
	// Quality is the JPEG quality of the generated pattern (1-100)
	Quality int
	// FrameRate paces ReadFrame like a real sensor; 0 disables pacing
	FrameRate int
}

// SimulatedSensor replays JPEG files from disk or renders a moving test
// pattern when no directory is configured.
type SimulatedSensor struct {
	cfg      SimulatedConfig
	images   [][]byte
	mu       sync.Mutex
	next     int
	lastRead time.Time
}

// NewSimulatedSensor loads the image directory, if any
func NewSimulatedSensor(cfg SimulatedConfig) (*SimulatedSensor, error) {
	if cfg.Width <= 0 {
		cfg.Width = 640
	}
	if cfg.Height <= 0 {
		cfg.Height = 480
	}
	if cfg.Quality <= 0 || cfg.Quality > 100 {
		cfg.Quality = jpeg.DefaultQuality
	}

	s := &SimulatedSensor{cfg: cfg}
	if cfg.ImageDir == "" {
		return s, nil
	}

	entries, err := os.ReadDir(cfg.ImageDir)
	if err != nil {
		return nil, fmt.Errorf("failed to read image directory '%s': %w", cfg.ImageDir, err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		ext := strings.ToLower(filepath.Ext(e.Name()))
		if !e.IsDir() && (ext == ".jpg" || ext == ".jpeg") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	if len(names) == 0 {
		return nil, fmt.Errorf("no .jpg files in image directory '%s'", cfg.ImageDir)
	}
	for _, n := range names {
		data, err := os.ReadFile(filepath.Join(cfg.ImageDir, n))
		if err != nil {
			return nil, fmt.Errorf("failed to read image '%s': %w", n, err)
		}
		s.images = append(s.images, data)
	}
	return s, nil
}

// ReadFrame returns the next image
func (s *SimulatedSensor) ReadFrame() ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cfg.FrameRate > 0 {
		period := time.Second / time.Duration(s.cfg.FrameRate)
		if wait := period - time.Since(s.lastRead); wait > 0 {
			time.Sleep(wait)
		}
		s.lastRead = time.Now()
	}

	n := s.next
	s.next++

	if len(s.images) > 0 {
		src := s.images[n%len(s.images)]
		out := make([]byte, len(src))
		copy(out, src)
		return out, nil
	}
	return s.render(n)
}

// render draws a vertical bar that sweeps across a gradient
func (s *SimulatedSensor) render(n int) ([]byte, error) {
	w, h := s.cfg.Width, s.cfg.Height
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	barX := (n * 8) % w
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			c := color.RGBA{R: uint8(x * 255 / w), G: uint8(y * 255 / h), B: 96, A: 255}
			if x >= barX && x < barX+16 {
				c = color.RGBA{R: 255, G: 255, B: 255, A: 255}
			}
			img.SetRGBA(x, y, c)
		}
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: s.cfg.Quality}); err != nil {
		return nil, fmt.Errorf("failed to encode test pattern: %w", err)
	}
	return buf.Bytes(), nil
}

func (s *SimulatedSensor) Close() error { return nil }
