package captcha

import (
	"bytes"
	"encoding/base64"
	"image"
	"image/color"
	"image/png"
	"testing"
)

// paintSquare fills a filled rectangle into a grayscale image.
func paintSquare(img *image.Gray, x0, y0, x1, y1 int, v uint8) {
	for y := y0; y < y1; y++ {
		for x := x0; x < x1; x++ {
			img.SetGray(x, y, color.Gray{Y: v})
		}
	}
}

// The fixtures model the real captcha: a background with a dark gap cut out
// of it, and a mostly-black slider strip carrying a bright piece of matching
// shape at a known offset.
func makeFixtures(gapX int) (bg, slider *image.Gray) {
	bg = image.NewGray(image.Rect(0, 0, 120, 60))
	paintSquare(bg, 0, 0, 120, 60, 200)
	paintSquare(bg, gapX, 20, gapX+16, 36, 30)

	slider = image.NewGray(image.Rect(0, 0, 40, 60))
	paintSquare(slider, 10, 20, 26, 36, 220)
	return bg, slider
}

func TestFindGap_LocatesNotch(t *testing.T) {
	bg, slider := makeFixtures(80)
	gapX, sliderX, err := FindGap(bg, slider)
	if err != nil {
		t.Fatalf("expected gap to be found, got %v", err)
	}
	if sliderX != 10 {
		t.Fatalf("expected slider piece at x=10, got %d", sliderX)
	}
	if gapX < 77 || gapX > 83 {
		t.Fatalf("expected gap near x=80, got %d", gapX)
	}
}

func TestFindGap_RejectsEmptySlider(t *testing.T) {
	bg, _ := makeFixtures(80)
	black := image.NewGray(image.Rect(0, 0, 40, 60))
	if _, _, err := FindGap(bg, black); err == nil {
		t.Fatal("expected error for slider with no opaque region")
	}
}

func TestDecode_DataURI(t *testing.T) {
	img := image.NewGray(image.Rect(0, 0, 8, 8))
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode fixture: %v", err)
	}
	uri := "data:image/png;base64," + base64.StdEncoding.EncodeToString(buf.Bytes())

	p, err := Decode(Payload{BackgroundImage: uri, SliderImage: uri})
	if err != nil {
		t.Fatalf("expected payload to decode, got %v", err)
	}
	if p.Background.Bounds().Dx() != 8 || p.Slider.Bounds().Dx() != 8 {
		t.Fatalf("unexpected decoded bounds %v / %v", p.Background.Bounds(), p.Slider.Bounds())
	}
}

func TestDecode_RejectsGarbage(t *testing.T) {
	if _, err := Decode(Payload{BackgroundImage: "data:image/png;base64,!!!", SliderImage: "x"}); err == nil {
		t.Fatal("expected error for undecodable image")
	}
}

func TestSolve_ScalesToReferenceWindow(t *testing.T) {
	bg, slider := makeFixtures(80)
	var bgBuf, slBuf bytes.Buffer
	if err := png.Encode(&bgBuf, bg); err != nil {
		t.Fatal(err)
	}
	if err := png.Encode(&slBuf, slider); err != nil {
		t.Fatal(err)
	}
	p, err := Decode(Payload{
		BackgroundImage:      "data:image/png;base64," + base64.StdEncoding.EncodeToString(bgBuf.Bytes()),
		SliderImage:          "data:image/png;base64," + base64.StdEncoding.EncodeToString(slBuf.Bytes()),
		BackgroundImageWidth: 120,
	})
	if err != nil {
		t.Fatal(err)
	}
	sol, err := p.Solve()
	if err != nil {
		t.Fatalf("expected solve to succeed, got %v", err)
	}
	// Source displacement is ~70px out of a 120px background, so the scaled
	// distance should sit near 70*260/120.
	want := 70 * RefWindowWidth / 120
	if sol.Distance < want-10 || sol.Distance > want+10 {
		t.Fatalf("expected scaled distance near %d, got %d", want, sol.Distance)
	}
	if len(sol.Track) < 2 {
		t.Fatalf("expected a track, got %d points", len(sol.Track))
	}
}
