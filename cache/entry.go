package cache

import (
	"strconv"
	"time"
)

// Entry represents a cached calendar image
type Entry struct {
	// DateKey is the local calendar day the image belongs to (YYYY-MM-DD)
	DateKey string `json:"dateKey"`
	// Source identifies the endpoint that produced the image
	Source string `json:"source"`
	// ContentType is the MIME type of the payload
	ContentType string `json:"contentType"`
	// FetchedAt is the timestamp of the successful fetch
	FetchedAt JSONTime `json:"fetchedAt"`
	// Blob is the payload file name relative to the cache dir
	Blob string `json:"blob"`

	// Payload holds the image bytes, populated on read
	Payload []byte `json:"-"`
}

// Key returns the flat cache key of the entry ({dateKey}_{sourceTag})
func (e *Entry) Key() string {
	return e.DateKey + "_" + e.Source
}

// JSONTime is a time.Time wrapper that JSON (un)marshals into a unix timestamp
type JSONTime time.Time

// MarshalJSON is used to convert the timestamp to JSON
func (t JSONTime) MarshalJSON() ([]byte, error) {
	unix := time.Time(t).Unix()
	// Negative time stamps make no sense for our use cases
	if unix < 0 {
		unix = 0
	}

	return []byte(strconv.FormatInt(unix, 10)), nil
}

// UnmarshalJSON is used to convert the timestamp from JSON
func (t *JSONTime) UnmarshalJSON(s []byte) (err error) {
	r := string(s)
	q, err := strconv.ParseInt(r, 10, 64)
	if err != nil {
		return err
	}
	*(*time.Time)(t) = time.Unix(q, 0)

	return nil
}

// Unix returns the unix time stamp of the underlaying time object
func (t JSONTime) Unix() int64 {
	return time.Time(t).Unix()
}

// Time returns the JSON time as a time.Time instance
func (t JSONTime) Time() time.Time {
	return time.Time(t)
}

// String returns time as a formatted string
func (t JSONTime) String() string {
	return t.Time().String()
}
