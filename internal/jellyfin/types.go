package jellyfin

import "time"

// Item is the subset of Jellyfin's BaseItemDto the translator consumes.
// Every field beyond Id is optional; translation degrades per item instead
// of failing when metadata is missing.
type Item struct {
	Id                string   `json:"Id"`
	Name              string   `json:"Name"`
	Type              string   `json:"Type"` // "Movie", "Episode", ...
	Overview          string   `json:"Overview"`
	LocationType      string   `json:"LocationType"` // "Virtual" items are skipped
	SeriesName        string   `json:"SeriesName"`
	SeriesStudio      string   `json:"SeriesStudio"`
	SeasonName        string   `json:"SeasonName"`
	ParentIndexNumber *int     `json:"ParentIndexNumber"`
	IndexNumber       *int     `json:"IndexNumber"`
	RunTimeTicks      *int64   `json:"RunTimeTicks"`
	CommunityRating   *float64 `json:"CommunityRating"`
	ProductionYear    *int     `json:"ProductionYear"`

	PremiereDate *time.Time `json:"PremiereDate"`
	DateCreated  *time.Time `json:"DateCreated"`

	Genres  []string `json:"Genres"`
	TagList []string `json:"Tags"`

	Studios      []NameRef         `json:"Studios"`
	People       []Person          `json:"People"`
	Chapters     []Chapter         `json:"Chapters"`
	MediaSources []MediaSourceInfo `json:"MediaSources"`
}

type NameRef struct {
	Name string `json:"Name"`
}

type Person struct {
	Name string `json:"Name"`
	Type string `json:"Type"` // "Actor", "Director", ...
	Role string `json:"Role"`
}

type Chapter struct {
	Name               string `json:"Name"`
	StartPositionTicks int64  `json:"StartPositionTicks"`
}

type MediaSourceInfo struct {
	Id             string        `json:"Id"`
	Container      string        `json:"Container"`
	TranscodingURL string        `json:"TranscodingUrl"`
	MediaStreams   []MediaStream `json:"MediaStreams"`
}

type MediaStream struct {
	Index                int    `json:"Index"`
	Type                 string `json:"Type"` // "Video", "Audio", "Subtitle"
	Codec                string `json:"Codec"`
	Language             string `json:"Language"`
	DisplayTitle         string `json:"DisplayTitle"`
	IsTextSubtitleStream bool   `json:"IsTextSubtitleStream"`
}

// Jellyfin positions are 100-nanosecond ticks.
const TicksPerMillisecond = 10000
