package market

import (
	"encoding/base64"
	"sort"
	"strconv"
	"strings"
	"time"
)

// monthSeconds 是月线的名义秒数（30 天）。真实月跨度按日历计算。
const monthSeconds int64 = 30 * 24 * 3600

// Granularity 描述一个固定的 K 线周期。按 (Name, Seconds) 判等。
type Granularity struct {
	Name    string `json:"name"`
	Seconds int64  `json:"seconds"`
}

// Invalid is the sentinel returned by Decode on malformed input.
var Invalid = Granularity{}

var supported = map[string]Granularity{
	"1m":  {Name: "1m", Seconds: 60},
	"3m":  {Name: "3m", Seconds: 180},
	"5m":  {Name: "5m", Seconds: 300},
	"15m": {Name: "15m", Seconds: 900},
	"30m": {Name: "30m", Seconds: 1800},
	"1h":  {Name: "1h", Seconds: 3600},
	"2h":  {Name: "2h", Seconds: 7200},
	"4h":  {Name: "4h", Seconds: 14400},
	"6h":  {Name: "6h", Seconds: 21600},
	"8h":  {Name: "8h", Seconds: 28800},
	"12h": {Name: "12h", Seconds: 43200},
	"1d":  {Name: "1d", Seconds: 86400},
	"3d":  {Name: "3d", Seconds: 259200},
	"1w":  {Name: "1w", Seconds: 604800},
	"1M":  {Name: "1M", Seconds: monthSeconds},
}

// ParseGranularity 返回标准化周期定义，未知周期返回 Invalid。
func ParseGranularity(input string) Granularity {
	key := strings.TrimSpace(input)
	if g, ok := supported[key]; ok {
		return g
	}
	// Binance interval 名除月线外均为小写。
	if g, ok := supported[strings.ToLower(key)]; ok {
		return g
	}
	return Invalid
}

// SupportedGranularities returns all known granularities ordered by step size.
func SupportedGranularities() []Granularity {
	out := make([]Granularity, 0, len(supported))
	for _, g := range supported {
		out = append(out, g)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seconds < out[j].Seconds })
	return out
}

// IsValid reports whether the granularity is named and positive.
func (g Granularity) IsValid() bool {
	return g.Name != "" && g.Seconds > 0
}

// IsMonth 月线的跨度不固定，一切步进必须走日历。
func (g Granularity) IsMonth() bool {
	return g.Seconds == monthSeconds
}

// Span returns the fixed step duration. Callers must not use it for month
// granularities; month arithmetic goes through SpanMsAt/AddSteps.
func (g Granularity) Span() time.Duration {
	return time.Duration(g.Seconds) * time.Second
}

// SpanMs returns the fixed step width in milliseconds.
func (g Granularity) SpanMs() int64 {
	return g.Seconds * 1000
}

// SpanMsAt returns the step width in milliseconds for the slot opening
// at openMs. Identical to SpanMs except for months, where the width is
// the calendar month length.
func (g Granularity) SpanMsAt(openMs int64) int64 {
	if !g.IsMonth() {
		return g.SpanMs()
	}
	t := time.UnixMilli(openMs).UTC()
	days := daysInMonth(t.Year(), t.Month())
	return int64(days) * 24 * 3600 * 1000
}

// NextOpenMs returns the open time of the slot following the one at openMs.
func (g Granularity) NextOpenMs(openMs int64) int64 {
	return openMs + g.SpanMsAt(openMs)
}

// AddSteps steps openMs by n slots (n may be negative), calendar-aware
// for months.
func (g Granularity) AddSteps(openMs int64, n int) int64 {
	if !g.IsMonth() {
		return openMs + int64(n)*g.SpanMs()
	}
	t := time.UnixMilli(openMs).UTC()
	return t.AddDate(0, n, 0).UnixMilli()
}

// Encode renders the granularity as a durable key: name_base64(seconds).
func (g Granularity) Encode() string {
	return g.Name + "_" + base64.RawURLEncoding.EncodeToString([]byte(strconv.FormatInt(g.Seconds, 10)))
}

// Decode is the inverse of Encode. Malformed input yields Invalid, never
// a panic: persisted keys come from the filesystem and may be garbage.
func Decode(key string) Granularity {
	idx := strings.LastIndex(key, "_")
	if idx <= 0 || idx == len(key)-1 {
		return Invalid
	}
	name := key[:idx]
	raw, err := base64.RawURLEncoding.DecodeString(key[idx+1:])
	if err != nil {
		return Invalid
	}
	secs, err := strconv.ParseInt(string(raw), 10, 64)
	if err != nil || secs <= 0 {
		return Invalid
	}
	return Granularity{Name: name, Seconds: secs}
}

func daysInMonth(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

func sameUTCMonth(aMs, bMs int64) bool {
	a := time.UnixMilli(aMs).UTC()
	b := time.UnixMilli(bMs).UTC()
	return a.Year() == b.Year() && a.Month() == b.Month()
}
