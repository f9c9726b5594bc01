package heresphere

import (
	"fmt"
	"strings"
	"time"

	"jellyvr/internal/jellyfin"
)

// categoryAliases duplicates a tag category's values into additional
// categories. HereSphere's browser treats Series as a first-class grouping,
// so studio values are surfaced there as well.
var categoryAliases = map[string][]string{
	"Studio": {"Studio", "Series"},
}

// Translator converts Jellyfin items into HereSphere documents. It never
// fails on a single item; missing metadata yields empty fields instead.
type Translator struct {
	jf           *jellyfin.Client
	subtitleLang string
	imgOpts      jellyfin.ImageOpts
}

func NewTranslator(jf *jellyfin.Client, subtitleLang string, imgOpts jellyfin.ImageOpts) *Translator {
	return &Translator{jf: jf, subtitleLang: subtitleLang, imgOpts: imgOpts}
}

// Usable reports whether an item should appear in the catalog at all.
// Virtual items have no media behind them.
func Usable(it *jellyfin.Item) bool {
	return it.Id != "" && it.LocationType != "Virtual"
}

// VideoLink builds the per-video endpoint URL served to the player.
func VideoLink(host, itemID string) string {
	return fmt.Sprintf("%s/heresphere/%s", strings.TrimRight(host, "/"), itemID)
}

// Library builds the index listing for a set of items.
func (t *Translator) Library(name, host string, items []jellyfin.Item) Library {
	list := make([]string, 0, len(items))
	for i := range items {
		if !Usable(&items[i]) {
			continue
		}
		list = append(list, VideoLink(host, items[i].Id))
	}
	return Library{Name: name, List: list}
}

// ScanEntry builds the bulk-scan record for one item.
func (t *Translator) ScanEntry(host, token string, it *jellyfin.Item) ScanData {
	return ScanData{
		Link:           VideoLink(host, it.Id),
		Title:          Title(it),
		DateReleased:   dateString(it.PremiereDate),
		DateAdded:      dateString(it.DateCreated),
		Duration:       durationMillis(it),
		Rating:         starRating(it),
		Tags:           t.Tags(it),
		ThumbnailImage: t.thumbnail(it, token),
		Media:          t.media(it, token),
		Subtitles:      t.subtitles(it, token, false),
	}
}

// Video builds the detail document for one item. Media and event wiring are
// filled in by the handler, which knows the session and play state.
func (t *Translator) Video(token string, it *jellyfin.Item) VideoData {
	return VideoData{
		Access:         1,
		Title:          Title(it),
		Description:    it.Overview,
		ThumbnailImage: t.thumbnail(it, token),
		DateReleased:   dateString(it.PremiereDate),
		DateAdded:      dateString(it.DateCreated),
		Duration:       durationMillis(it),
		Rating:         starRating(it),
		Projection:     "perspective",
		Stereo:         "mono",
		Subtitles:      t.subtitles(it, token, true),
		Tags:           t.Tags(it),
		Media:          t.media(it, token),
	}
}

// Title renders episode titles as "S01E02 - Name"; everything else keeps its
// plain name.
func Title(it *jellyfin.Item) string {
	if it.Type == "Episode" && it.ParentIndexNumber != nil && it.IndexNumber != nil {
		return fmt.Sprintf("S%02dE%02d - %s", *it.ParentIndexNumber, *it.IndexNumber, it.Name)
	}
	return it.Name
}

// Tags derives the full HereSphere tag set for an item: timed chapter tags,
// then categorized metadata tags. Categories in categoryAliases are emitted
// once per alias.
func (t *Translator) Tags(it *jellyfin.Item) []Tag {
	tags := make([]Tag, 0, 8)
	tags = append(tags, chapterTags(it)...)

	for _, g := range it.Genres {
		tags = appendCategory(tags, "Genre", g)
	}
	for _, tg := range it.TagList {
		tags = appendCategory(tags, "Tag", tg)
	}
	if it.Type != "" {
		tags = appendCategory(tags, "Type", it.Type)
	}

	switch it.Type {
	case "Movie":
		tags = appendCategory(tags, "Movie", it.Name)
		if len(it.Studios) == 0 {
			tags = appendCategory(tags, "Studio", "")
		}
		for _, s := range it.Studios {
			tags = appendCategory(tags, "Studio", s.Name)
		}
	case "Episode":
		tags = appendCategory(tags, "Series", it.SeriesName)
		tags = appendCategory(tags, "Studio", it.SeriesStudio)
		if it.SeasonName != "" {
			tags = appendCategory(tags, "Season", it.SeasonName)
		}
	}

	for _, p := range it.People {
		if p.Name == "" {
			continue
		}
		if p.Role != "" {
			tags = appendCategory(tags, p.Type, fmt.Sprintf("%s (%s)", p.Name, p.Role))
		}
		tags = appendCategory(tags, p.Type, p.Name)
	}
	return tags
}

func appendCategory(tags []Tag, category, value string) []Tag {
	names, ok := categoryAliases[category]
	if !ok {
		names = []string{category}
	}
	for _, n := range names {
		tags = append(tags, Tag{Name: n + ":" + value})
	}
	return tags
}

// chapterTags places each chapter on track 0 under the Chapter category,
// backfilling the end of one chapter from the start of the next.
func chapterTags(it *jellyfin.Item) []Tag {
	if len(it.Chapters) == 0 {
		return nil
	}
	track := 0
	out := make([]Tag, 0, len(it.Chapters))
	for i, ch := range it.Chapters {
		name := ch.Name
		if name == "" {
			name = "Unknown"
		}
		start := float64(ch.StartPositionTicks) / jellyfin.TicksPerMillisecond
		tag := Tag{Name: "Chapter:" + name, Start: &start, Track: &track}
		if i+1 < len(it.Chapters) {
			end := float64(it.Chapters[i+1].StartPositionTicks) / jellyfin.TicksPerMillisecond
			tag.End = &end
		} else if it.RunTimeTicks != nil {
			end := float64(*it.RunTimeTicks) / jellyfin.TicksPerMillisecond
			tag.End = &end
		}
		out = append(out, tag)
	}
	return out
}

func (t *Translator) thumbnail(it *jellyfin.Item, token string) string {
	kind := "Primary"
	if it.Type == "Movie" {
		kind = "Backdrop"
	}
	return t.jf.ImageURL(it.Id, kind, token, t.imgOpts)
}

func (t *Translator) media(it *jellyfin.Item, token string) []Media {
	out := make([]Media, 0, len(it.MediaSources))
	for _, ms := range it.MediaSources {
		name := ms.Container
		if name == "" {
			name = "mp4"
		}
		out = append(out, Media{
			Name:    name,
			Sources: []MediaSource{{URL: t.jf.DownloadURL(ms.Id, token)}},
		})
	}
	return out
}

// subtitles collects text-subtitle streams. The detail view filters to the
// preferred language when one is configured; the scan keeps everything.
func (t *Translator) subtitles(it *jellyfin.Item, token string, preferLang bool) []Subtitle {
	var out []Subtitle
	for _, ms := range it.MediaSources {
		for _, st := range ms.MediaStreams {
			if st.Type != "Subtitle" || !st.IsTextSubtitleStream {
				continue
			}
			if preferLang && t.subtitleLang != "" && !strings.EqualFold(st.Language, t.subtitleLang) {
				continue
			}
			name := st.DisplayTitle
			if name == "" {
				name = st.Language
			}
			out = append(out, Subtitle{
				Name:     name,
				Language: st.Language,
				URL:      t.jf.SubtitleURL(it.Id, ms.Id, st.Index, st.Codec, token),
			})
		}
	}
	return out
}

func dateString(ts *time.Time) string {
	if ts == nil {
		return "0001-01-01"
	}
	return ts.Format("2006-01-02")
}

func durationMillis(it *jellyfin.Item) float64 {
	if it.RunTimeTicks == nil {
		return 0
	}
	return float64(*it.RunTimeTicks) / jellyfin.TicksPerMillisecond
}

func starRating(it *jellyfin.Item) float64 {
	if it.CommunityRating == nil {
		return 0
	}
	return *it.CommunityRating / 2
}
