package hotswap

import (
	"context"

	"github.com/maziarzamani/spaceduck-sub000/internal/config"
)

// BuildAll performs the startup equivalent of Apply: every swappable
// component is built from doc and installed, reporting the same
// per-component warnings a patch-triggered rebuild would. The gateway
// starts serving even when some components fail to build — the failed
// proxy keeps its Unconfigured placeholder and the warning is logged
// by the caller.
func (c *Coordinator) BuildAll(ctx context.Context, doc config.Document) []config.Warning {
	var warnings []config.Warning

	if w := c.rebuildProvider(doc); w != nil {
		warnings = append(warnings, *w)
	}
	if w := c.rebuildEmbedding(doc); w != nil {
		warnings = append(warnings, *w)
	}
	if w := c.rebuildTools(doc); w != nil {
		warnings = append(warnings, *w)
	}
	if w := c.rebuildChannels(ctx, doc); w != nil {
		warnings = append(warnings, *w)
	}
	if w := c.rebuildSTT(doc); w != nil {
		warnings = append(warnings, *w)
	}

	return warnings
}
