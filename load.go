package main

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"math"
	"os"

	"gorgonia.org/tensor"

	"nnplayground/neuralnet"
	"nnplayground/playground"
)

var errNoSnapshot = errors.New("no prediction snapshot recorded")

// loadConfig decodes a JSON config file over cfg. Fields missing from the
// file keep their current values.
func loadConfig(path string, cfg *playground.Config) error {
	file, err := os.Open(path)
	if err != nil {
		return err
	}
	defer file.Close()

	dec := json.NewDecoder(bufio.NewReader(file))
	dec.DisallowUnknownFields()
	if err := dec.Decode(cfg); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

// saveSurface writes a [rows, cols] surface as a grayscale PNG, darkest at
// the minimum. Each cell becomes a scale x scale block; row 0 is drawn at
// the bottom so the y axis points up.
func saveSurface(surface *tensor.Dense, path string, scale int) error {
	shape := surface.Shape()
	if len(shape) != 2 {
		return fmt.Errorf("surface shape %v is not 2-d", shape)
	}
	data, ok := surface.Data().([]float64)
	if !ok {
		return fmt.Errorf("surface holds %T", surface.Data())
	}
	if scale < 1 {
		scale = 1
	}
	rows, cols := shape[0], shape[1]

	lo, hi := math.Inf(1), math.Inf(-1)
	for _, v := range data {
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
	}
	span := hi - lo
	if span == 0 {
		span = 1
	}

	img := image.NewGray(image.Rect(0, 0, cols*scale, rows*scale))
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			c := color.Gray{Y: uint8(255 * (data[i*cols+j] - lo) / span)}
			top := (rows - 1 - i) * scale
			for dy := 0; dy < scale; dy++ {
				for dx := 0; dx < scale; dx++ {
					img.SetGray(j*scale+dx, top+dy, c)
				}
			}
		}
	}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := png.Encode(file, img); err != nil {
		file.Close()
		return err
	}
	return file.Close()
}

// saveLatestSurface writes the newest prediction snapshot and returns its
// epoch. Snapshots are throttled, so it can trail the last trained epoch.
func saveLatestSurface(h *neuralnet.TrainingHistory, path string) (int, error) {
	snap, ok := h.LatestPredictions()
	if !ok {
		return 0, errNoSnapshot
	}
	return snap.Epoch, saveSurface(snap.Surface, path, 8)
}
