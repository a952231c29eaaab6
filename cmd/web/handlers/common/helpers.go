package common

import (
	"github.com/dustin/go-humanize"
	"thirdcoast.systems/allthethings/internal/assets"
)

// DerefString safely dereferences a *string, returning "" if nil.
func DerefString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// AssetView is the JSON shape of an asset in API responses.
type AssetView struct {
	*assets.Asset
	ContentFamily string `json:"content_family,omitempty"`
	ContentSize   string `json:"content_size,omitempty"`
	Searchable    bool   `json:"searchable"`
}

func NewAssetView(a *assets.Asset) *AssetView {
	if a == nil {
		return nil
	}
	v := &AssetView{
		Asset:         a,
		ContentFamily: assets.Family(a.ContentType),
		Searchable:    a.Status == assets.StatusSearchable,
	}
	if n, ok := a.ContentBytes(); ok {
		v.ContentSize = humanize.Bytes(uint64(n))
	}
	return v
}

func NewAssetViews(list []*assets.Asset) []*AssetView {
	out := make([]*AssetView, 0, len(list))
	for _, a := range list {
		out = append(out, NewAssetView(a))
	}
	return out
}
