package captcha

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"math"
	"strings"
)

var (
	ErrBadImage = errors.New("captcha image not decodable")
	ErrNoSlider = errors.New("slider image has no opaque region")
)

// Payload is the captcha object served by the platform's generator endpoint.
// Images are data-URI base64 (jpeg background, png slider).
type Payload struct {
	BackgroundImage       string `json:"backgroundImage"`
	SliderImage           string `json:"sliderImage"`
	BackgroundImageWidth  int    `json:"backgroundImageWidth"`
	BackgroundImageHeight int    `json:"backgroundImageHeight"`
	SliderImageWidth      int    `json:"sliderImageWidth"`
	SliderImageHeight     int    `json:"sliderImageHeight"`
}

type Puzzle struct {
	Background   image.Image
	Slider       image.Image
	DeclaredBGW  int
	DeclaredBGH  int
	DeclaredSLW  int
	DeclaredSLH  int
}

type Solution struct {
	// Distance is the drag length in reference-window pixels.
	Distance int
	Track    []TrackPoint
}

// Decode parses both captcha images out of a generator payload.
func Decode(p Payload) (Puzzle, error) {
	bg, err := decodeDataURI(p.BackgroundImage)
	if err != nil {
		return Puzzle{}, fmt.Errorf("background: %w", err)
	}
	slider, err := decodeDataURI(p.SliderImage)
	if err != nil {
		return Puzzle{}, fmt.Errorf("slider: %w", err)
	}
	return Puzzle{
		Background:  bg,
		Slider:      slider,
		DeclaredBGW: p.BackgroundImageWidth,
		DeclaredBGH: p.BackgroundImageHeight,
		DeclaredSLW: p.SliderImageWidth,
		DeclaredSLH: p.SliderImageHeight,
	}, nil
}

// Solve locates the gap and synthesizes a drag track for it. The pixel
// displacement is rescaled to the puzzle UI's nominal window width, which is
// what the platform validates against, not the source image resolution.
func (p Puzzle) Solve() (Solution, error) {
	gapX, sliderX, err := FindGap(p.Background, p.Slider)
	if err != nil {
		return Solution{}, err
	}
	distance := gapX - sliderX
	bgWidth := p.DeclaredBGW
	if bgWidth <= 0 {
		bgWidth = p.Background.Bounds().Dx()
	}
	if bgWidth > 0 {
		distance = RefWindowWidth * distance / bgWidth
	}
	if distance < 0 {
		distance = 0
	}
	return Solution{Distance: distance, Track: SynthesizeTrack(distance)}, nil
}

// FindGap returns the x position of the gap in the background and the slider
// piece's own x position inside the slider strip. The drag length in source
// pixels is their difference.
//
// The slider strip is mostly transparent, decoded as near-black; thresholding
// luminance isolates the piece. Both crops go through blur, Sobel gradient
// magnitude and zero-mean/unit-variance normalization before a normalized
// cross-correlation scan; the first global maximum in raster order wins.
func FindGap(bg, slider image.Image) (gapX, sliderX int, err error) {
	bgGray := luminance(bg)
	slGray := luminance(slider)

	box, ok := opaqueBounds(slGray)
	if !ok {
		return 0, 0, ErrNoSlider
	}
	piece := cropMatrix(slGray, box)

	bgFeat := normalize(sobelMagnitude(boxBlur(bgGray)))
	pieceFeat := normalize(sobelMagnitude(boxBlur(piece)))

	x, _, ok := bestMatch(bgFeat, pieceFeat)
	if !ok {
		return 0, 0, errors.New("no correlation peak")
	}
	return x, box.Min.X, nil
}

const opaqueThreshold = 50.0 // 8-bit luminance

func decodeDataURI(s string) (image.Image, error) {
	if i := strings.IndexByte(s, ','); i >= 0 {
		s = s[i+1:]
	}
	raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(s))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadImage, err)
	}
	img, _, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadImage, err)
	}
	return img, nil
}

func luminance(img image.Image) [][]float64 {
	b := img.Bounds()
	m := make([][]float64, b.Dy())
	for y := 0; y < b.Dy(); y++ {
		row := make([]float64, b.Dx())
		for x := 0; x < b.Dx(); x++ {
			r, g, bb, _ := img.At(b.Min.X+x, b.Min.Y+y).RGBA()
			row[x] = (0.299*float64(r) + 0.587*float64(g) + 0.114*float64(bb)) / 257.0
		}
		m[y] = row
	}
	return m
}

func opaqueBounds(m [][]float64) (image.Rectangle, bool) {
	minX, minY := math.MaxInt32, math.MaxInt32
	maxX, maxY := -1, -1
	for y := range m {
		for x, v := range m[y] {
			if v > opaqueThreshold {
				if x < minX {
					minX = x
				}
				if x > maxX {
					maxX = x
				}
				if y < minY {
					minY = y
				}
				if y > maxY {
					maxY = y
				}
			}
		}
	}
	if maxX < 0 {
		return image.Rectangle{}, false
	}
	return image.Rect(minX, minY, maxX+1, maxY+1), true
}

func cropMatrix(m [][]float64, r image.Rectangle) [][]float64 {
	out := make([][]float64, r.Dy())
	for y := 0; y < r.Dy(); y++ {
		out[y] = append([]float64(nil), m[r.Min.Y+y][r.Min.X:r.Max.X]...)
	}
	return out
}

func boxBlur(m [][]float64) [][]float64 {
	h, w := len(m), len(m[0])
	out := make([][]float64, h)
	for y := 0; y < h; y++ {
		out[y] = make([]float64, w)
		for x := 0; x < w; x++ {
			var sum float64
			var n float64
			for dy := -1; dy <= 1; dy++ {
				for dx := -1; dx <= 1; dx++ {
					yy, xx := y+dy, x+dx
					if yy < 0 || yy >= h || xx < 0 || xx >= w {
						continue
					}
					sum += m[yy][xx]
					n++
				}
			}
			out[y][x] = sum / n
		}
	}
	return out
}

// sobelMagnitude combines the two orthogonal 3x3 derivative kernels into a
// gradient-magnitude map. Border pixels are left at zero.
func sobelMagnitude(m [][]float64) [][]float64 {
	h, w := len(m), len(m[0])
	out := make([][]float64, h)
	for y := range out {
		out[y] = make([]float64, w)
	}
	for y := 1; y < h-1; y++ {
		for x := 1; x < w-1; x++ {
			gx := -m[y-1][x-1] + m[y-1][x+1] +
				-2*m[y][x-1] + 2*m[y][x+1] +
				-m[y+1][x-1] + m[y+1][x+1]
			gy := -m[y-1][x-1] - 2*m[y-1][x] - m[y-1][x+1] +
				m[y+1][x-1] + 2*m[y+1][x] + m[y+1][x+1]
			out[y][x] = math.Hypot(gx, gy)
		}
	}
	return out
}

func normalize(m [][]float64) [][]float64 {
	var sum, count float64
	for _, row := range m {
		for _, v := range row {
			sum += v
			count++
		}
	}
	mean := sum / count
	var variance float64
	for _, row := range m {
		for _, v := range row {
			d := v - mean
			variance += d * d
		}
	}
	std := math.Sqrt(variance / count)
	if std < 1e-9 {
		std = 1
	}
	out := make([][]float64, len(m))
	for y, row := range m {
		out[y] = make([]float64, len(row))
		for x, v := range row {
			out[y][x] = (v - mean) / std
		}
	}
	return out
}

// bestMatch slides tpl over bg computing normalized cross-correlation and
// returns the first strict maximum in raster order.
func bestMatch(bg, tpl [][]float64) (x, y int, ok bool) {
	bh, bw := len(bg), len(bg[0])
	th, tw := len(tpl), len(tpl[0])
	if th > bh || tw > bw {
		return 0, 0, false
	}
	var tplEnergy float64
	for _, row := range tpl {
		for _, v := range row {
			tplEnergy += v * v
		}
	}
	best := math.Inf(-1)
	for oy := 0; oy <= bh-th; oy++ {
		for ox := 0; ox <= bw-tw; ox++ {
			var dot, winEnergy float64
			for ty := 0; ty < th; ty++ {
				bgRow := bg[oy+ty]
				tplRow := tpl[ty]
				for tx := 0; tx < tw; tx++ {
					bv := bgRow[ox+tx]
					dot += bv * tplRow[tx]
					winEnergy += bv * bv
				}
			}
			den := math.Sqrt(winEnergy * tplEnergy)
			if den < 1e-9 {
				continue
			}
			score := dot / den
			if score > best {
				best = score
				x, y = ox, oy
				ok = true
			}
		}
	}
	return x, y, ok
}
