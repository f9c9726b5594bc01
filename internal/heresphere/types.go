package heresphere

// Wire contract of the HereSphere VR player's JSON API. Responses must carry
// the version header or the player ignores them.
const JSONVersionHeader = "HereSphere-JSON-Version"
const JSONVersion = "1"

// Index is the top-level library listing. Access below zero tells the player
// it must authenticate.
type Index struct {
	Access  int       `json:"access"`
	Banner  *Banner   `json:"banner,omitempty"`
	Library []Library `json:"library"`
}

type Banner struct {
	Image string `json:"image"`
	Link  string `json:"link"`
}

// Library is a named list of per-video endpoint URLs.
type Library struct {
	Name string   `json:"name"`
	List []string `json:"list"`
}

// Scan is the bulk metadata document the player fetches once instead of
// hitting every video endpoint individually.
type Scan struct {
	ScanData []ScanData `json:"scanData"`
}

type ScanData struct {
	Link           string     `json:"link"`
	Title          string     `json:"title"`
	DateReleased   string     `json:"dateReleased"`
	DateAdded      string     `json:"dateAdded"`
	Duration       float64    `json:"duration"` // milliseconds
	Rating         float64    `json:"rating"`   // 0-5
	Favorites      int        `json:"favorites"`
	Comments       int        `json:"comments"`
	IsFavorite     bool       `json:"isFavorite"`
	Tags           []Tag      `json:"tags"`
	ThumbnailImage string     `json:"thumbnailImage"`
	Media          []Media    `json:"media"`
	Projection     string     `json:"projection"`
	Stereo         string     `json:"stereo"`
	Subtitles      []Subtitle `json:"subtitles,omitempty"`
}

// VideoData is the per-video detail document.
type VideoData struct {
	Access         int        `json:"access"`
	Title          string     `json:"title"`
	Description    string     `json:"description"`
	ThumbnailImage string     `json:"thumbnailImage"`
	DateReleased   string     `json:"dateReleased"`
	DateAdded      string     `json:"dateAdded"`
	Duration       float64    `json:"duration"`
	Rating         float64    `json:"rating"`
	IsFavorite     bool       `json:"isFavorite"`
	Projection     string     `json:"projection"`
	Stereo         string     `json:"stereo"`
	EventServer    string     `json:"eventServer,omitempty"`
	Subtitles      []Subtitle `json:"subtitles"`
	Tags           []Tag      `json:"tags"`
	Media          []Media    `json:"media"`
	WriteHSP       bool       `json:"writeHsp"`
}

// Tag is a categorized label; timed tags (chapters) carry start/end and a
// track number.
type Tag struct {
	Name   string   `json:"name"`
	Start  *float64 `json:"start,omitempty"`
	End    *float64 `json:"end,omitempty"`
	Track  *int     `json:"track,omitempty"`
	Rating *float64 `json:"rating,omitempty"`
}

type Media struct {
	Name    string        `json:"name"`
	Sources []MediaSource `json:"sources"`
}

type MediaSource struct {
	URL string `json:"url"`
}

type Subtitle struct {
	Name     string `json:"name"`
	Language string `json:"language"`
	URL      string `json:"url"`
}

// EventType values match the player's numeric encoding.
type EventType int

const (
	EventOpen EventType = iota
	EventPlay
	EventPause
	EventClose
)

// Event is a playback callback from the player. Time is milliseconds into
// the video; seeks and speed changes arrive as Play events.
type Event struct {
	Username      string    `json:"username"`
	ID            string    `json:"id"`
	Title         string    `json:"title"`
	Event         EventType `json:"event"`
	Time          float64   `json:"time"`
	Speed         float64   `json:"speed"`
	UTC           float64   `json:"utc"`
	ConnectionKey string    `json:"connectionKey"`
}

// Request is the body the player posts to every library/video endpoint.
// Username and password ride along on each call; there is no bearer token.
type Request struct {
	Username string `json:"username"`
	Password string `json:"password"`

	IsFavorite *bool    `json:"isFavorite,omitempty"`
	Rating     *float64 `json:"rating,omitempty"`
	Tags       []Tag    `json:"tags,omitempty"`
	HSP        *string  `json:"hsp,omitempty"`
	DeleteFile *bool    `json:"deleteFile,omitempty"`

	NeedsMediaSource *bool `json:"needsMediaSource,omitempty"`
}

// LoginPrompt is the listing returned to unauthenticated players.
func LoginPrompt() Index {
	return Index{
		Access:  -1,
		Library: []Library{{Name: "Login pls", List: []string{}}},
	}
}
