// Package fingerprint derives stable cache keys from user interaction points
// and source files.
//
// Points are snapped to the center of a square grid cell and sorted, so two
// interaction sets that differ only by small jitter or by ordering map to the
// same key.
package fingerprint

import (
	"crypto/md5"
	"encoding/hex"
	"math"
	"os"
	"slices"
	"strconv"
	"strings"
)

// DefaultGridSize is the quantization cell size in pixels.
const DefaultGridSize = 20

// ShortLength is the number of hex characters kept by Short.
const ShortLength = 16

// Point is a single interaction: a click position and its category
// (for example 1 for foreground, 0 for background).
type Point struct {
	X        float64 `json:"x"`
	Y        float64 `json:"y"`
	Category int     `json:"clickType"`
}

// Generator quantizes points with a fixed grid.
type Generator struct {
	GridSize int
}

// New returns a Generator; non-positive sizes fall back to DefaultGridSize.
func New(gridSize int) Generator {
	if gridSize <= 0 {
		gridSize = DefaultGridSize
	}
	return Generator{GridSize: gridSize}
}

// Short returns the 16 hex character fingerprint of points.
func (g Generator) Short(points []Point) string {
	return Short(points, g.GridSize)
}

// Full returns the 32 hex character fingerprint of points.
func (g Generator) Full(points []Point) string {
	return Full(points, g.GridSize)
}

// Quantize snaps v to the center of its grid cell: floor(v/g)*g + g/2,
// where g/2 is integer division.
func Quantize(v float64, gridSize int) float64 {
	if gridSize <= 0 {
		gridSize = DefaultGridSize
	}
	g := float64(gridSize)
	return math.Floor(v/g)*g + float64(gridSize/2)
}

// Normalize quantizes every point and sorts by (x, y, category).
// The input slice is not modified.
func Normalize(points []Point, gridSize int) []Point {
	out := make([]Point, len(points))
	for i, p := range points {
		out[i] = Point{
			X:        Quantize(p.X, gridSize),
			Y:        Quantize(p.Y, gridSize),
			Category: p.Category,
		}
	}
	slices.SortFunc(out, comparePoints)
	return out
}

func comparePoints(a, b Point) int {
	switch {
	case a.X != b.X:
		if a.X < b.X {
			return -1
		}
		return 1
	case a.Y != b.Y:
		if a.Y < b.Y {
			return -1
		}
		return 1
	default:
		return a.Category - b.Category
	}
}

// Short fingerprints points as MD5 over "x,y,c" entries joined by "_",
// truncated to ShortLength hex characters.
func Short(points []Point, gridSize int) string {
	var b strings.Builder
	for i, p := range Normalize(points, gridSize) {
		if i > 0 {
			b.WriteByte('_')
		}
		writePoint(&b, p)
	}
	return digest(b.String())[:ShortLength]
}

// Full fingerprints points as MD5 over "x,y,c;" entries.
func Full(points []Point, gridSize int) string {
	var b strings.Builder
	for _, p := range Normalize(points, gridSize) {
		writePoint(&b, p)
		b.WriteByte(';')
	}
	return digest(b.String())
}

func writePoint(b *strings.Builder, p Point) {
	b.WriteString(formatCoord(p.X))
	b.WriteByte(',')
	b.WriteString(formatCoord(p.Y))
	b.WriteByte(',')
	b.WriteString(strconv.Itoa(p.Category))
}

// formatCoord renders whole numbers without a fractional part so that integer
// and float inputs yield the same key.
func formatCoord(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func digest(s string) string {
	sum := md5.Sum([]byte(s))
	return hex.EncodeToString(sum[:])
}

// FileIdentity fingerprints a source file by path, modification time and size.
// It changes whenever the file is rewritten.
func FileIdentity(path string) (string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return "", err
	}
	return digest(path + "_" + formatMTime(info) + "_" + strconv.FormatInt(info.Size(), 10)), nil
}

// PageIdentity fingerprints one page of a document. When the file cannot be
// inspected it falls back to a path and page based key.
func PageIdentity(path, pageID string) string {
	info, err := os.Stat(path)
	if err != nil {
		return digest(path + "_page_" + pageID)
	}
	return digest(path + "_" + formatMTime(info) + "_" + strconv.FormatInt(info.Size(), 10) + "_" + pageID)
}

func formatMTime(info os.FileInfo) string {
	return strconv.FormatFloat(float64(info.ModTime().UnixNano())/1e9, 'f', -1, 64)
}
