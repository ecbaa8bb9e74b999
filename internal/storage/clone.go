package storage

import (
	"slices"
	"sort"

	"ytnotify/internal/domain"
)

func cloneChannel(ch domain.Channel) domain.Channel {
	ch.TitleInclude = slices.Clone(ch.TitleInclude)
	ch.TitleExclude = slices.Clone(ch.TitleExclude)
	ch.DescriptionInclude = slices.Clone(ch.DescriptionInclude)
	ch.DescriptionExclude = slices.Clone(ch.DescriptionExclude)
	if ch.MinLengthSeconds != nil {
		ch.MinLengthSeconds = domain.IntPtr(*ch.MinLengthSeconds)
	}
	if ch.MaxLengthSeconds != nil {
		ch.MaxLengthSeconds = domain.IntPtr(*ch.MaxLengthSeconds)
	}
	return ch
}

// sortChannels orders by creation time, then id, so every backend lists the same way.
func sortChannels(chs []domain.Channel) {
	sort.SliceStable(chs, func(i, j int) bool {
		if !chs[i].CreatedAt.Equal(chs[j].CreatedAt) {
			return chs[i].CreatedAt.Before(chs[j].CreatedAt)
		}
		return chs[i].ID < chs[j].ID
	})
}

func sortPresets(ps []domain.Preset) {
	sort.Slice(ps, func(i, j int) bool { return ps[i].Name < ps[j].Name })
}

func sortStrings(s []string) { sort.Strings(s) }
