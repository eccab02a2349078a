package decoder

import (
	"strings"

	"github.com/zsiec/scrub/internal/engine"
	"github.com/zsiec/scrub/internal/engine/synth"
	"github.com/zsiec/scrub/internal/engine/tsengine"
)

// DefaultOpener sends synth: URIs to the synthetic engine and everything
// else to the transport stream engine.
func DefaultOpener(path string, cfg engine.Config) (engine.Engine, error) {
	if strings.HasPrefix(path, synth.Scheme) {
		return synth.Open(path, cfg)
	}
	return tsengine.Open(path, cfg)
}
