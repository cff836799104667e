package media

import (
	"bytes"
	"errors"
	"image"
	"image/color"
	"os"
	"strings"
	"testing"
)

func testImage(w, h int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x * 255 / max(1, w-1)), A: 255})
		}
	}
	return img
}

func TestMirror(t *testing.T) {
	img := testImage(4, 2)
	out := Mirror(img)

	for y := 0; y < 2; y++ {
		for x := 0; x < 4; x++ {
			if got, want := out.RGBAAt(x, y), img.RGBAAt(3-x, y); got != want {
				t.Errorf("pixel (%d,%d) = %v, want %v", x, y, got, want)
			}
		}
	}
}

func TestMirror_OffsetBounds(t *testing.T) {
	img := testImage(6, 2).SubImage(image.Rect(2, 0, 6, 2))
	out := Mirror(img)
	if out.Bounds().Dx() != 4 {
		t.Fatalf("width = %d", out.Bounds().Dx())
	}
	src := img.(*image.RGBA)
	if got, want := out.RGBAAt(0, 0), src.RGBAAt(5, 0); got != want {
		t.Errorf("left pixel = %v, want %v", got, want)
	}
}

func TestMirrorJPEG_RoundTrip(t *testing.T) {
	data, err := EncodeJPEG(testImage(64, 32), 95)
	if err != nil {
		t.Fatal(err)
	}
	flipped, err := MirrorJPEG(data, 95)
	if err != nil {
		t.Fatal(err)
	}
	img, err := Decode(flipped)
	if err != nil {
		t.Fatal(err)
	}
	left := color.RGBAModel.Convert(img.At(0, 16)).(color.RGBA)
	right := color.RGBAModel.Convert(img.At(63, 16)).(color.RGBA)
	if left.R < 200 || right.R > 55 {
		t.Errorf("mirror not applied: left R=%d right R=%d", left.R, right.R)
	}
}

func TestPreviewDataURL(t *testing.T) {
	data, _ := EncodeJPEG(testImage(1280, 720), 90)
	url, err := PreviewDataURL(data)
	if err != nil {
		t.Fatal(err)
	}
	mime, raw, err := ParseDataURL(url)
	if err != nil || mime != "image/jpeg" {
		t.Fatalf("ParseDataURL() = %q, %v", mime, err)
	}
	img, err := Decode(raw)
	if err != nil {
		t.Fatal(err)
	}
	if b := img.Bounds(); b.Dx() != ThumbnailWidth || b.Dy() != 180 {
		t.Errorf("thumbnail = %dx%d, want %dx180", b.Dx(), b.Dy(), ThumbnailWidth)
	}

	if _, err := PreviewDataURL([]byte("nope")); err == nil {
		t.Error("expected decode error")
	}
}

func TestParseDataURL(t *testing.T) {
	tests := []struct {
		in      string
		wantErr bool
	}{
		{DataURL("image/png", []byte{1, 2, 3}), false},
		{"image/png;base64,AQID", true},
		{"data:image/png,raw", true},
		{"data:image/png;base64", true},
		{"data:image/png;base64,@@@", true},
	}
	for _, tt := range tests {
		_, data, err := ParseDataURL(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseDataURL(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
		}
		if err != nil && !errors.Is(err, ErrBadDataURL) {
			t.Errorf("error %v is not ErrBadDataURL", err)
		}
		if !tt.wantErr && !bytes.Equal(data, []byte{1, 2, 3}) {
			t.Errorf("data = %v", data)
		}
	}
}

func TestParseProbe(t *testing.T) {
	raw := `{"streams":[{"codec_type":"audio","codec_name":"opus"},
		{"codec_type":"video","codec_name":"h264","width":1280,"height":720,"r_frame_rate":"30000/1001"}],
		"format":{"duration":"3.480000"}}`
	res, err := parseProbe([]byte(raw))
	if err != nil {
		t.Fatal(err)
	}
	if res.Codec != "h264" || res.Width != 1280 || res.Height != 720 {
		t.Errorf("unexpected %+v", res)
	}
	if res.Duration < 3.47 || res.Duration > 3.49 {
		t.Errorf("Duration = %v", res.Duration)
	}
	if res.FrameRate < 29.9 || res.FrameRate > 30 {
		t.Errorf("FrameRate = %v", res.FrameRate)
	}
}

func TestParseProbe_StreamDurationFallback(t *testing.T) {
	raw := `{"streams":[{"codec_type":"video","duration":"2.5","r_frame_rate":"25"}],"format":{}}`
	res, err := parseProbe([]byte(raw))
	if err != nil {
		t.Fatal(err)
	}
	if res.Duration != 2.5 || res.FrameRate != 25 {
		t.Errorf("unexpected %+v", res)
	}
}

func TestLimitedWriter_KeepsTail(t *testing.T) {
	var buf bytes.Buffer
	lw := &limitedWriter{w: &buf, limit: 5}
	lw.Write([]byte("hello "))
	n, err := lw.Write([]byte("world"))
	if n != 5 || err != nil {
		t.Fatalf("Write() = %d, %v", n, err)
	}
	if buf.String() != "world" {
		t.Errorf("tail = %q", buf.String())
	}
}

func TestExitError_Message(t *testing.T) {
	err := &ExitError{Tool: "ffmpeg", ExitCode: 1, StderrTail: strings.Repeat("x", 600) + "boom"}
	msg := err.Error()
	if !strings.HasPrefix(msg, "ffmpeg exited 1: ") || !strings.HasSuffix(msg, "boom") {
		t.Errorf("Error() = %q", msg)
	}
}

func TestSpoolTemp(t *testing.T) {
	path, cleanup, err := SpoolTemp([]byte("clip"), "test-*")
	if err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(path)
	if err != nil || string(data) != "clip" {
		t.Fatalf("ReadFile() = %q, %v", data, err)
	}
	cleanup()
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Errorf("temp file not removed: %v", err)
	}
}
