package compose

import (
	"slices"
	"testing"
)

func TestDecodeArgs_NoAutorotate(t *testing.T) {
	args := decodeArgs("/tmp/clip.mp4", 30)
	rot := slices.Index(args, "-noautorotate")
	in := slices.Index(args, "-i")
	if rot < 0 || in < 0 || rot > in {
		t.Fatalf("-noautorotate must precede -i: %v", args)
	}
	if args[in+1] != "/tmp/clip.mp4" {
		t.Errorf("input = %q", args[in+1])
	}
	if !slices.Contains(args, "fps=30") {
		t.Errorf("missing fps filter: %v", args)
	}
	if args[len(args)-1] != "pipe:1" {
		t.Errorf("output = %q", args[len(args)-1])
	}
}
