package sampler

import "github.com/Mortal/austin/internal/python"

// bootstrapFiles are the frozen modules that run before and around the
// target's own code. Their frames are never reported.
var bootstrapFiles = map[string]bool{
	"<frozen importlib._bootstrap>":          true,
	"<frozen importlib._bootstrap_external>": true,
	"<frozen runpy>":                         true,
}

// filterFrames drops bootstrap frames in place.
func filterFrames(frames []python.Frame) []python.Frame {
	out := frames[:0]
	for _, f := range frames {
		if bootstrapFiles[f.File] {
			continue
		}
		out = append(out, f)
	}
	return out
}
