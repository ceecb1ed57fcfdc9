package browser

import (
	"context"
	"fmt"

	"github.com/ratemate/taas/internal/objectstore"
	"github.com/ratemate/taas/internal/visual"
)

// ObjectStoreBaselines adapts an objectstore.Store to web.BaselineStore.
// Keys are used as given; web.BaselineKey already places them under
// "baselines/".
type ObjectStoreBaselines struct {
	Objects *objectstore.Store
}

// GetBaseline fetches the baseline at key, reporting ok=false rather than an
// error when none has been stored yet.
func (b ObjectStoreBaselines) GetBaseline(ctx context.Context, key string) ([]byte, bool, error) {
	return b.Objects.GetIfExists(ctx, key)
}

// PutBaseline stores data at key as image/png.
func (b ObjectStoreBaselines) PutBaseline(ctx context.Context, key string, data []byte) error {
	return b.Objects.Put(ctx, key, data, "image/png")
}

// CompareImages adapts visual.Compare to web.VisualComparer's signature.
func CompareImages(baseline, candidate []byte) (float64, []byte, error) {
	diff, err := visual.Compare(baseline, candidate)
	if err != nil {
		return 0, nil, fmt.Errorf("browser: compare: %w", err)
	}

	return diff.MismatchPct, diff.Image, nil
}
