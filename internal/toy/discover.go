package toy

import (
	"context"
	"errors"
	"slices"

	"github.com/nerrad567/spherolink/internal/protocol/command"
	"github.com/nerrad567/spherolink/internal/transport"
)

// ErrNotFound is returned by FindOne when nothing matches.
var ErrNotFound = errors.New("toy: no matching toy found")

// Found is a discovered toy.
type Found struct {
	transport.Advertisement
	Kind command.Kind `json:"kind"`
}

// Filter narrows discovery. Empty fields match everything.
type Filter struct {
	Names []string
	Kinds []command.Kind
}

// Discover lists the toys visible to adapter that satisfy f. When f names
// exactly one toy the adapter's direct search is used.
func Discover(ctx context.Context, a transport.Adapter, f Filter) ([]Found, error) {
	var ads []transport.Advertisement
	if len(f.Names) == 1 {
		ad, err := transport.Find(ctx, a, f.Names[0])
		if errors.Is(err, transport.ErrNotFound) {
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
		ads = []transport.Advertisement{ad}
	} else {
		var err error
		if ads, err = a.Scan(ctx); err != nil {
			return nil, err
		}
	}

	var out []Found
	for _, ad := range ads {
		if ad.Name == "" {
			continue
		}
		if len(f.Names) > 0 && !slices.Contains(f.Names, ad.Name) {
			continue
		}
		kind, ok := Match(ad.Name, f.Kinds...)
		if !ok {
			continue
		}
		out = append(out, Found{Advertisement: ad, Kind: kind})
	}
	return out, nil
}

// FindOne returns the first toy Discover reports.
func FindOne(ctx context.Context, a transport.Adapter, f Filter) (Found, error) {
	found, err := Discover(ctx, a, f)
	if err != nil {
		return Found{}, err
	}
	if len(found) == 0 {
		return Found{}, ErrNotFound
	}
	return found[0], nil
}
