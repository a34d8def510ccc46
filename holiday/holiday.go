// Package holiday fetches Chinese public holiday data from the holiday-cn
// dataset with an on-disk cache and a static fallback table.
package holiday

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

const (
	apiURLTemplate = "https://raw.githubusercontent.com/NateScarlet/holiday-cn/master/%d.json"
	cacheExpiry    = 24 * time.Hour
	requestTimeout = 10 * time.Second
)

// Info represents one public holiday as an inclusive date range
type Info struct {
	Name      string `json:"name"`
	StartDate string `json:"start_date"`
	EndDate   string `json:"end_date"`
}

// NewFetcher returns a Fetcher caching per-year data under cacheDir
func NewFetcher(cacheDir string) (*Fetcher, error) {
	if cacheDir == "" {
		return nil, errors.New("holiday cache dir not provided")
	}
	if err := os.MkdirAll(cacheDir, 0700); err != nil {
		return nil, errors.Wrap(err, "failed to create holiday cache dir")
	}

	return &Fetcher{
		cacheDir: cacheDir,
		http:     &http.Client{Timeout: requestTimeout},
	}, nil
}

// Fetcher loads holiday data per year, preferring a day-old disk cache
type Fetcher struct {
	cacheDir string
	http     *http.Client
}

// Holidays returns holiday info for the given years. Years whose data cannot
// be fetched get entries from the static fallback table, the result is never
// empty for a non-empty years list.
func (f *Fetcher) Holidays(years []int) []Info {
	all := []Info{}
	failed := []int{}
	for _, year := range years {
		holidays, err := f.year(year)
		if err != nil {
			log.Warnf("Failed to load %d holiday data: %s", year, err)
			failed = append(failed, year)
			continue
		}
		all = append(all, holidays...)
	}
	if len(failed) > 0 {
		all = append(all, Fallback(failed)...)
	}

	return all
}

func (f *Fetcher) year(year int) ([]Info, error) {
	cacheFile := filepath.Join(f.cacheDir, fmt.Sprintf("%d.json", year))

	if holidays, ok := f.fromCache(cacheFile, cacheExpiry); ok {
		return holidays, nil
	}

	holidays, err := f.fetch(year)
	if err != nil {
		// an expired cache beats the fallback table
		if holidays, ok := f.fromCache(cacheFile, 0); ok {
			log.Infof("Using expired holiday cache for %d", year)
			return holidays, nil
		}
		return nil, err
	}

	f.saveCache(cacheFile, holidays)
	return holidays, nil
}

func (f *Fetcher) fetch(year int) ([]Info, error) {
	url := fmt.Sprintf(apiURLTemplate, year)
	resp, err := f.http.Get(url)
	if err != nil {
		return nil, errors.Wrap(err, "request failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, errors.Errorf("unexpected status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read body")
	}

	return parseYear(body)
}

// parseYear converts the holiday-cn day list into per-holiday date ranges
func parseYear(body []byte) ([]Info, error) {
	var doc struct {
		Year int `json:"year"`
		Days []struct {
			Name     string `json:"name"`
			Date     string `json:"date"`
			IsOffDay bool   `json:"isOffDay"`
		} `json:"days"`
	}
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, errors.Wrap(err, "failed to parse holiday data")
	}

	byName := map[string][]string{}
	order := []string{}
	for _, d := range doc.Days {
		if !d.IsOffDay || d.Name == "" || d.Date == "" {
			continue
		}
		if _, ok := byName[d.Name]; !ok {
			order = append(order, d.Name)
		}
		byName[d.Name] = append(byName[d.Name], d.Date)
	}

	holidays := make([]Info, 0, len(order))
	for _, name := range order {
		dates := byName[name]
		sort.Strings(dates)
		holidays = append(holidays, Info{
			Name:      name,
			StartDate: dates[0],
			EndDate:   dates[len(dates)-1],
		})
	}

	return holidays, nil
}

func (f *Fetcher) fromCache(cacheFile string, maxAge time.Duration) ([]Info, bool) {
	stat, err := os.Stat(cacheFile)
	if err != nil {
		return nil, false
	}
	if maxAge != 0 && time.Since(stat.ModTime()) > maxAge {
		return nil, false
	}

	data, err := os.ReadFile(cacheFile)
	if err != nil {
		return nil, false
	}
	var holidays []Info
	if err := json.Unmarshal(data, &holidays); err != nil || len(holidays) == 0 {
		// broken or empty cache, drop it and refetch
		os.Remove(cacheFile)
		return nil, false
	}

	return holidays, true
}

func (f *Fetcher) saveCache(cacheFile string, holidays []Info) {
	data, err := json.MarshalIndent(holidays, "", "\t")
	if err != nil {
		return
	}
	if err := os.WriteFile(cacheFile, data, 0644); err != nil {
		log.Warnf("Failed to write holiday cache: %s", err)
	}
}

// Fallback returns approximate dates for the major holidays, used when the
// live dataset is unreachable and no cache exists
func Fallback(years []int) []Info {
	basics := []struct {
		name  string
		month int
		day   int
	}{
		{"元旦", 1, 1},
		{"春节", 2, 10},
		{"清明节", 4, 4},
		{"劳动节", 5, 1},
		{"端午节", 6, 10},
		{"中秋节", 9, 15},
		{"国庆节", 10, 1},
	}

	holidays := []Info{}
	for _, year := range years {
		for _, b := range basics {
			date := fmt.Sprintf("%d-%02d-%02d", year, b.month, b.day)
			holidays = append(holidays, Info{Name: b.name, StartDate: date, EndDate: date})
		}
	}

	return holidays
}
