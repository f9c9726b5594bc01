package heresphere

import (
	"strings"
	"testing"
	"time"

	"jellyvr/internal/jellyfin"
)

func newTestTranslator() *Translator {
	jf := jellyfin.New("http://jellyfin:8096", "https://ext.example.com")
	return NewTranslator(jf, "", jellyfin.ImageOpts{MaxWidth: 300, Quality: 90})
}

func tagNames(tags []Tag) map[string]bool {
	out := make(map[string]bool, len(tags))
	for _, tg := range tags {
		out[tg.Name] = true
	}
	return out
}

func TestStudioAliasedIntoSeries(t *testing.T) {
	tr := newTestTranslator()
	it := &jellyfin.Item{
		Id:           "e1",
		Name:         "Pilot",
		Type:         "Episode",
		SeriesName:   "X",
		SeriesStudio: "Y",
	}

	names := tagNames(tr.Tags(it))
	for _, want := range []string{"Series:X", "Studio:Y", "Series:Y"} {
		if !names[want] {
			t.Errorf("missing tag %q in %v", want, names)
		}
	}
}

func TestMissingStudioStillTagged(t *testing.T) {
	tr := newTestTranslator()
	it := &jellyfin.Item{Id: "m1", Name: "Some Movie", Type: "Movie"}

	names := tagNames(tr.Tags(it))
	if !names["Studio:"] || !names["Series:"] {
		t.Errorf("expected empty studio/series alias tags, got %v", names)
	}
	if !names["Movie:Some Movie"] {
		t.Errorf("expected movie tag, got %v", names)
	}
}

func TestMovieStudios(t *testing.T) {
	tr := newTestTranslator()
	it := &jellyfin.Item{
		Id:      "m1",
		Name:    "Big Film",
		Type:    "Movie",
		Studios: []jellyfin.NameRef{{Name: "Acme"}, {Name: "Globex"}},
		Genres:  []string{"Action"},
	}

	names := tagNames(tr.Tags(it))
	for _, want := range []string{"Studio:Acme", "Series:Acme", "Studio:Globex", "Series:Globex", "Genre:Action", "Type:Movie"} {
		if !names[want] {
			t.Errorf("missing tag %q", want)
		}
	}
}

func TestPeopleTags(t *testing.T) {
	tr := newTestTranslator()
	it := &jellyfin.Item{
		Id:   "m1",
		Name: "Big Film",
		Type: "Movie",
		People: []jellyfin.Person{
			{Name: "Jane Doe", Type: "Actor", Role: "The Lead"},
			{Name: "John Smith", Type: "Director"},
		},
	}

	names := tagNames(tr.Tags(it))
	for _, want := range []string{"Actor:Jane Doe (The Lead)", "Actor:Jane Doe", "Director:John Smith"} {
		if !names[want] {
			t.Errorf("missing tag %q", want)
		}
	}
}

func TestChapterTagsBackfillEnd(t *testing.T) {
	tr := newTestTranslator()
	runtime := int64(90 * 60 * 1000 * jellyfin.TicksPerMillisecond)
	it := &jellyfin.Item{
		Id:           "m1",
		Name:         "Big Film",
		Type:         "Movie",
		RunTimeTicks: &runtime,
		Chapters: []jellyfin.Chapter{
			{Name: "Opening", StartPositionTicks: 0},
			{Name: "Middle", StartPositionTicks: 30 * 60 * 1000 * jellyfin.TicksPerMillisecond},
		},
	}

	tags := tr.Tags(it)
	var opening, middle *Tag
	for i := range tags {
		switch tags[i].Name {
		case "Chapter:Opening":
			opening = &tags[i]
		case "Chapter:Middle":
			middle = &tags[i]
		}
	}
	if opening == nil || middle == nil {
		t.Fatalf("chapter tags missing: %v", tags)
	}
	if opening.Start == nil || *opening.Start != 0 {
		t.Errorf("opening start wrong: %v", opening.Start)
	}
	if opening.End == nil || *opening.End != 30*60*1000 {
		t.Errorf("opening end must borrow next chapter start, got %v", opening.End)
	}
	if middle.End == nil || *middle.End != 90*60*1000 {
		t.Errorf("last chapter end must come from the runtime, got %v", middle.End)
	}
	if opening.Track == nil || *opening.Track != 0 {
		t.Errorf("chapters belong on track 0, got %v", opening.Track)
	}
}

func TestUnnamedChapterFallsBackToUnknown(t *testing.T) {
	tr := newTestTranslator()
	it := &jellyfin.Item{
		Id:       "m1",
		Name:     "Big Film",
		Type:     "Movie",
		Chapters: []jellyfin.Chapter{{StartPositionTicks: 0}},
	}

	found := false
	for _, tag := range tr.Tags(it) {
		if tag.Name == "Chapter:Unknown" {
			found = true
		}
	}
	if !found {
		t.Errorf("unnamed chapter must land in the Unknown chapter tag")
	}
}

func TestEpisodeTitleFormat(t *testing.T) {
	season, episode := 1, 2
	it := &jellyfin.Item{
		Id:                "e1",
		Name:              "The One Where It Begins",
		Type:              "Episode",
		ParentIndexNumber: &season,
		IndexNumber:       &episode,
	}
	if got := Title(it); got != "S01E02 - The One Where It Begins" {
		t.Errorf("unexpected title %q", got)
	}

	// Missing numbering falls back to the plain name.
	it.IndexNumber = nil
	if got := Title(it); got != "The One Where It Begins" {
		t.Errorf("unexpected fallback title %q", got)
	}
}

func TestScanEntryFields(t *testing.T) {
	tr := newTestTranslator()
	runtime := int64(2 * 60 * 60 * 1000 * jellyfin.TicksPerMillisecond)
	rating := 7.0
	premiere := time.Date(2021, 3, 14, 10, 0, 0, 0, time.UTC)
	it := &jellyfin.Item{
		Id:           "m1",
		Name:         "Big Film",
		Type:         "Movie",
		RunTimeTicks: &runtime,
		CommunityRating: &rating,
		PremiereDate: &premiere,
		MediaSources: []jellyfin.MediaSourceInfo{{Id: "ms1", Container: "mkv"}},
	}

	entry := tr.ScanEntry("https://gw.example.com", "tok", it)
	if entry.Link != "https://gw.example.com/heresphere/m1" {
		t.Errorf("unexpected link %s", entry.Link)
	}
	if entry.Duration != 2*60*60*1000 {
		t.Errorf("duration should be milliseconds, got %f", entry.Duration)
	}
	if entry.Rating != 3.5 {
		t.Errorf("community rating must halve to a 5-star scale, got %f", entry.Rating)
	}
	if entry.DateReleased != "2021-03-14" {
		t.Errorf("unexpected release date %s", entry.DateReleased)
	}
	if entry.DateAdded != "0001-01-01" {
		t.Errorf("missing dates default, got %s", entry.DateAdded)
	}
	if len(entry.Media) != 1 || entry.Media[0].Name != "mkv" {
		t.Fatalf("unexpected media %v", entry.Media)
	}
	src := entry.Media[0].Sources[0].URL
	if !strings.HasPrefix(src, "https://ext.example.com/Items/ms1/Download") {
		t.Errorf("download url not rewritten to external host: %s", src)
	}
	if !strings.Contains(entry.ThumbnailImage, "/Images/Backdrop") {
		t.Errorf("movies should use the backdrop image, got %s", entry.ThumbnailImage)
	}
}

func TestVirtualItemsSkipped(t *testing.T) {
	tr := newTestTranslator()
	items := []jellyfin.Item{
		{Id: "v1", Name: "Upcoming", LocationType: "Virtual"},
		{Id: "m1", Name: "Real"},
	}
	lib := tr.Library("Library", "https://gw.example.com", items)
	if len(lib.List) != 1 || !strings.HasSuffix(lib.List[0], "/heresphere/m1") {
		t.Errorf("virtual items must not be listed: %v", lib.List)
	}
}

func TestSubtitleLanguageFilter(t *testing.T) {
	jf := jellyfin.New("http://jellyfin:8096", "")
	tr := NewTranslator(jf, "eng", jellyfin.ImageOpts{MaxWidth: 300, Quality: 90})
	it := &jellyfin.Item{
		Id:   "m1",
		Name: "Big Film",
		MediaSources: []jellyfin.MediaSourceInfo{{
			Id: "ms1",
			MediaStreams: []jellyfin.MediaStream{
				{Index: 1, Type: "Subtitle", Codec: "srt", Language: "eng", IsTextSubtitleStream: true},
				{Index: 2, Type: "Subtitle", Codec: "srt", Language: "ger", IsTextSubtitleStream: true},
				{Index: 3, Type: "Subtitle", Codec: "pgs", Language: "eng"}, // image-based
				{Index: 4, Type: "Audio", Codec: "aac", Language: "eng"},
			},
		}},
	}

	detail := tr.Video("tok", it)
	if len(detail.Subtitles) != 1 || detail.Subtitles[0].Language != "eng" {
		t.Fatalf("detail view must keep only the preferred text subtitles: %v", detail.Subtitles)
	}

	entry := tr.ScanEntry("https://gw.example.com", "tok", it)
	if len(entry.Subtitles) != 2 {
		t.Errorf("scan keeps all text subtitles, got %v", entry.Subtitles)
	}
}

func TestLoginPromptShape(t *testing.T) {
	p := LoginPrompt()
	if p.Access != -1 {
		t.Errorf("unauthenticated access must be -1, got %d", p.Access)
	}
	if len(p.Library) != 1 || p.Library[0].Name != "Login pls" {
		t.Errorf("unexpected prompt library %v", p.Library)
	}
}
