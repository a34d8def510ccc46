package render

import (
	"math"
	"math/rand"
	"sort"
	"time"

	"github.com/moyuren/calendar/holiday"
)

// Data holds everything the calendar template needs for one day
type Data struct {
	Date        string
	YearMonth   string
	Day         int
	Weekday     string
	Greeting    string
	MoyuIndex   int
	MoyuLevel   string
	Quote       string
	WeekendDays int
	Paydays     []Countdown
	Festivals   []Countdown
	Timeline    []string
}

// Countdown represents days remaining until a named event
type Countdown struct {
	Name    string
	Days    int
	IsToday bool
}

var weekdays = []string{"星期日", "星期一", "星期二", "星期三", "星期四", "星期五", "星期六"}

var quotes = []string{
	"摸鱼是一种生活态度",
	"只要我摸得够快，老板就追不上我",
	"上班是为了摸鱼，摸鱼是为了生活",
	"认真工作一小时，快乐摸鱼一整天",
	"带薪喝水，带薪发呆，带薪摸鱼",
	"摸鱼一时爽，一直摸鱼一直爽",
}

var timeline = []string{
	"09:00 伪装上班",
	"10:30 假装思考",
	"11:30 上午摸鱼",
	"14:00 午后犯困",
	"16:00 深度摸鱼",
	"17:30 准备跑路",
}

// NewDataProvider returns a provider using holidays for festival countdowns.
// holidays may be nil, festival countdowns are then left empty.
func NewDataProvider(holidays *holiday.Fetcher) *DataProvider {
	return &DataProvider{holidays: holidays}
}

// DataProvider assembles deterministic calendar data for a given day
type DataProvider struct {
	holidays *holiday.Fetcher
}

// Generate builds the calendar data for the given date. Random picks are
// seeded by the date so every render of the same day looks identical.
func (p *DataProvider) Generate(date time.Time) Data {
	seed := int64(date.Year()*10000 + int(date.Month())*100 + date.Day())
	rng := rand.New(rand.NewSource(seed))

	index := 50 + rng.Intn(51)

	return Data{
		Date:        date.Format("2006-01-02"),
		YearMonth:   date.Format("2006年1月"),
		Day:         date.Day(),
		Weekday:     weekdays[int(date.Weekday())],
		Greeting:    greeting(date.Hour()),
		MoyuIndex:   index,
		MoyuLevel:   moyuLevel(index),
		Quote:       quotes[rng.Intn(len(quotes))],
		WeekendDays: weekendDays(date),
		Paydays:     paydayCountdowns(date),
		Festivals:   p.festivalCountdowns(date),
		Timeline:    timeline,
	}
}

func greeting(hour int) string {
	switch {
	case hour >= 5 && hour < 9:
		return "早上好"
	case hour >= 9 && hour < 12:
		return "上午好"
	case hour >= 12 && hour < 14:
		return "中午好"
	case hour >= 14 && hour < 18:
		return "下午好"
	default:
		return "晚上好"
	}
}

func moyuLevel(index int) string {
	switch {
	case index >= 90:
		return "鱼鲨"
	case index >= 80:
		return "老油条"
	case index >= 70:
		return "熟练工"
	default:
		return "新手"
	}
}

// weekendDays returns the days until Saturday, 0 on the weekend itself
func weekendDays(date time.Time) int {
	wd := int(date.Weekday())
	if wd == 0 || wd == 6 {
		return 0
	}

	return 6 - wd
}

// paydayCountdowns lists days until the common paydays of the month
func paydayCountdowns(date time.Time) []Countdown {
	day := date.Day()
	lastDay := lastDayOfMonth(date)
	paydays := []struct {
		name string
		day  int
	}{
		{"月初", 1},
		{"10号", 10},
		{"15号", 15},
		{"20号", 20},
		{"25号", 25},
		{"月底", lastDay},
	}

	out := make([]Countdown, 0, len(paydays))
	for _, p := range paydays {
		diff := 0
		if day <= p.day {
			diff = p.day - day
		} else {
			nextMonth := time.Date(date.Year(), date.Month(), 1, 0, 0, 0, 0, date.Location()).AddDate(0, 1, 0)
			target := p.day
			if p.name == "月底" {
				target = lastDayOfMonth(nextMonth)
			}
			diff = daysBetween(date, time.Date(nextMonth.Year(), nextMonth.Month(), target, 0, 0, 0, 0, date.Location()))
		}
		out = append(out, Countdown{Name: p.name, Days: diff, IsToday: diff == 0})
	}

	return out
}

// festivalCountdowns returns up to five upcoming holidays sorted by distance
func (p *DataProvider) festivalCountdowns(date time.Time) []Countdown {
	if p.holidays == nil {
		return nil
	}

	today := truncateDay(date)
	out := []Countdown{}
	for _, h := range p.holidays.Holidays([]int{date.Year(), date.Year() + 1}) {
		start, err := time.ParseInLocation("2006-01-02", h.StartDate, date.Location())
		if err != nil {
			continue
		}
		end, err := time.ParseInLocation("2006-01-02", h.EndDate, date.Location())
		if err != nil {
			continue
		}
		if end.Before(today) {
			continue
		}
		days := 0
		if start.After(today) {
			days = daysBetween(today, start)
		}
		out = append(out, Countdown{Name: h.Name, Days: days, IsToday: days == 0})
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].Days < out[j].Days })
	if len(out) > 5 {
		out = out[:5]
	}

	return out
}

func lastDayOfMonth(date time.Time) int {
	first := time.Date(date.Year(), date.Month(), 1, 0, 0, 0, 0, date.Location())
	return first.AddDate(0, 1, -1).Day()
}

func truncateDay(date time.Time) time.Time {
	return time.Date(date.Year(), date.Month(), date.Day(), 0, 0, 0, 0, date.Location())
}

// daysBetween counts calendar days from a to b, robust against DST shifts
func daysBetween(a, b time.Time) int {
	d := truncateDay(b).Sub(truncateDay(a))
	return int(math.Round(d.Hours() / 24))
}
