package extraction

import (
	"context"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"smartsched/internal/domain/negotiation"
	"smartsched/internal/domain/scheduling"
)

const maxSummaryLength = 200

// Rules is a deterministic, pattern-based extractor. It covers the phrasing
// people actually use when booking a meeting and needs no network.
type Rules struct {
	anchorOffset time.Duration
}

// RulesOption customizes Rules.
type RulesOption func(*Rules)

// WithAnchorOffset sets the gap kept around an anchor event when the
// utterance names none ("before my flight" vs "an hour before my flight").
func WithAnchorOffset(d time.Duration) RulesOption {
	return func(r *Rules) { r.anchorOffset = d }
}

// NewRules builds the rule-based extractor.
func NewRules(opts ...RulesOption) *Rules {
	r := &Rules{}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Rules) Name() string { return "rules" }

func (r *Rules) Extract(ctx context.Context, req Request) (negotiation.Turn, error) {
	if err := ctx.Err(); err != nil {
		return negotiation.Turn{}, err
	}
	text := strings.TrimSpace(req.Text)
	turn := negotiation.Turn{Summary: summaryOf(text)}
	if text == "" {
		return turn, nil
	}

	loc := req.location()
	now := req.Now
	if now.IsZero() {
		now = time.Now()
	}
	u := &utterance{text: " " + strings.ToLower(text) + " ", now: now.In(loc), loc: loc}

	turn.Metadata = u.metadata(text)
	turn.Intent = u.intent()
	anchor, bound := u.anchor(req.Events, r.anchorOffset)
	duration, hasDuration := u.duration()

	selecting := (req.Phase == negotiation.PhaseProposing || req.Phase == negotiation.PhaseConfirming) && len(req.Proposals) > 0
	ordinal := 0
	if selecting {
		ordinal = u.ordinal(len(req.Proposals))
	}
	days := u.days()
	tod := u.timeOfDay()
	clock := u.clock()
	verb := selectionVerbRe.MatchString(u.text)

	if hasDuration {
		turn.Delta.Duration = scheduling.Ptr(duration)
	}

	if selecting {
		sel := negotiation.Selection{Ordinal: ordinal}
		if ordinal == 0 {
			sel = days.selection()
			sel.Start = clock
		}
		if !sel.IsZero() {
			if _, matched := sel.Match(req.Proposals, loc); ordinal > 0 || verb || matched {
				turn.Selection = &sel
				return turn, nil
			}
		}
	}

	if len(days.prefs) > 0 {
		turn.Delta.Days = days.prefs
	}
	turn.Delta.Earliest = days.earliest
	turn.Delta.Latest = days.latest
	if tod != nil {
		turn.Delta.TimeOfDay = tod
	}
	if anchor != nil {
		turn.Delta.Anchor = anchor
	}
	if clock != nil {
		at := u.dateFor(*clock, days)
		turn.Delta.Earliest = &at
	}
	if bound != nil {
		at := u.dateFor(bound.clock, days)
		if bound.relation == scheduling.AnchorBefore {
			turn.Delta.Latest = &at
		} else {
			turn.Delta.Earliest = &at
		}
	}
	turn.Delta.Ambiguous = ambiguity(turn.Delta, days.ambiguous)
	return turn, nil
}

func summaryOf(text string) string {
	if len(text) <= maxSummaryLength {
		return text
	}
	return text[:maxSummaryLength] + "..."
}

// utterance is the lower-cased text being consumed. Matched phrases are
// blanked so later patterns do not read them twice.
type utterance struct {
	text string
	now  time.Time
	loc  *time.Location
}

func (u *utterance) blank(start, end int) {
	u.text = u.text[:start] + strings.Repeat(" ", end-start) + u.text[end:]
}

func (u *utterance) blankAll(re *regexp.Regexp) {
	u.text = re.ReplaceAllStringFunc(u.text, func(m string) string {
		return strings.Repeat(" ", len(m))
	})
}

var (
	emailRe  = regexp.MustCompile(`[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}`)
	titleRe  = regexp.MustCompile(`(?i)\b(?:called|titled|named|subject:?)\s+(?:"([^"]+)"|“([^”]+)”|'([^']+)'|([^.,;!?"]+))`)
	titleEnd = regexp.MustCompile(`(?i)\s(?:for|with|on|at|next|this|tomorrow|today|in|before|after|around|sometime)\b`)
)

func (u *utterance) metadata(original string) negotiation.EventMetadata {
	var meta negotiation.EventMetadata
	if emails := emailRe.FindAllString(original, -1); len(emails) > 0 {
		meta.Attendees = emails
		for _, email := range emails {
			u.text = strings.ReplaceAll(u.text, strings.ToLower(email), strings.Repeat(" ", len(email)))
		}
	}

	if m := titleRe.FindStringSubmatchIndex(original); m != nil {
		var title string
		quoted := false
		for g := 1; g <= 3; g++ {
			if m[2*g] >= 0 {
				title = original[m[2*g]:m[2*g+1]]
				quoted = true
			}
		}
		if !quoted && m[8] >= 0 {
			title = original[m[8]:m[9]]
			if loc := titleEnd.FindStringIndex(title); loc != nil {
				title = title[:loc[0]]
			}
		}
		title = strings.TrimSpace(title)
		if title != "" {
			meta.Title = title
			phrase := original[m[0]:m[1]]
			if !quoted {
				phrase = original[m[0] : m[8]+len(title)+strings.Index(original[m[8]:], title)]
			}
			lower := strings.ToLower(phrase)
			u.text = strings.Replace(u.text, lower, strings.Repeat(" ", len(lower)), 1)
		}
	}
	return meta
}

var (
	cancelRe = regexp.MustCompile(`\b(cancel|never ?mind|forget (?:it|about it)|abort|stop)\b`)
	rejectRe = regexp.MustCompile(`\b(no|nope|nah|neither|none of (?:them|these|those)|(?:doesn'?t|does not|don'?t|do not|won'?t) work|not good|other options?|something else|anything else|different (?:time|times|options?))\b`)
	affirmRe = regexp.MustCompile(`\b(yes|yeah|yep|yup|sure|confirm(?:ed)?|correct|perfect|great|ok|okay|sounds good|book it|do it|go ahead|that works|works for me)\b`)

	selectionVerbRe = regexp.MustCompile(`\b(works|sounds good|i'?ll take|take|book|choose|pick|go with|let'?s do|that one|is fine|is good|is perfect)\b`)
)

func (u *utterance) intent() negotiation.Intent {
	switch {
	case cancelRe.MatchString(u.text):
		return negotiation.IntentCancel
	case rejectRe.MatchString(u.text):
		return negotiation.IntentReject
	case affirmRe.MatchString(u.text):
		return negotiation.IntentAffirm
	}
	return negotiation.IntentNone
}

var numberWords = map[string]float64{
	"a": 1, "an": 1, "one": 1, "two": 2, "three": 3, "four": 4, "five": 5, "six": 6,
	"ten": 10, "fifteen": 15, "twenty": 20, "thirty": 30, "forty": 40,
	"forty-five": 45, "forty five": 45, "sixty": 60, "ninety": 90,
	"half a": 0.5, "half an": 0.5,
}

func parseAmount(raw string) (float64, bool) {
	raw = strings.TrimSpace(raw)
	if v, ok := numberWords[raw]; ok {
		return v, true
	}
	v, err := strconv.ParseFloat(raw, 64)
	return v, err == nil && v > 0
}

func unitOf(raw string) time.Duration {
	if strings.HasPrefix(raw, "h") {
		return time.Hour
	}
	return time.Minute
}

const amountPattern = `(\d+(?:\.\d+)?|half an?|an?|one|two|three|four|five|six|ten|fifteen|twenty|thirty|forty[- ]five|forty|sixty|ninety)`

var (
	hourAndHalfRe = regexp.MustCompile(`\b(an?|one|\d+)\s+hours?\s+and\s+a\s+half\b|\b(\d+)\s+and\s+a\s+half\s+hours?\b`)
	halfHourRe    = regexp.MustCompile(`\bhalf\s+an?\s+hour\b|\bhalf[- ]hour\b`)
	quarterHourRe = regexp.MustCompile(`\bquarter\s+(?:of\s+)?an?\s+hour\b|\bquarter[- ]hour\b`)
	durationRe    = regexp.MustCompile(`\b` + amountPattern + `\s*-?\s*(hours?|hrs?|h|minutes?|mins?|m)\b(?:\s*(?:and\s+)?(\d+|fifteen|thirty|forty[- ]five)\s*(?:minutes?|mins?|m)\b)?`)
)

// duration finds the meeting length.
func (u *utterance) duration() (time.Duration, bool) {
	if m := hourAndHalfRe.FindStringSubmatchIndex(u.text); m != nil {
		raw := ""
		for g := 1; g <= 2; g++ {
			if m[2*g] >= 0 {
				raw = u.text[m[2*g]:m[2*g+1]]
			}
		}
		hours, ok := parseAmount(raw)
		u.blank(m[0], m[1])
		if ok {
			return time.Duration((hours + 0.5) * float64(time.Hour)), true
		}
	}
	if loc := halfHourRe.FindStringIndex(u.text); loc != nil {
		u.blank(loc[0], loc[1])
		return 30 * time.Minute, true
	}
	if loc := quarterHourRe.FindStringIndex(u.text); loc != nil {
		u.blank(loc[0], loc[1])
		return 15 * time.Minute, true
	}
	m := durationRe.FindStringSubmatchIndex(u.text)
	if m == nil {
		return 0, false
	}
	amount, ok := parseAmount(u.text[m[2]:m[3]])
	if !ok {
		return 0, false
	}
	total := time.Duration(amount * float64(unitOf(u.text[m[4]:m[5]])))
	if m[6] >= 0 {
		if extra, ok := parseAmount(u.text[m[6]:m[7]]); ok {
			total += time.Duration(extra) * time.Minute
		}
	}
	u.blank(m[0], m[1])
	if total <= 0 {
		return 0, false
	}
	return total.Round(time.Minute), true
}

var (
	ordinalNumberRe = regexp.MustCompile(`\b(?:option|choice|slot|number|no\.)\s*#?\s*(\d+)\b|#(\d+)\b|\b(\d)(?:st|nd|rd|th)\s+(?:one|option|slot|choice)\b`)
	ordinalWordRe   = regexp.MustCompile(`\b(?:the\s+)?(first|second|third|fourth|fifth|last)\s+(?:one|option|slot|choice)\b|\bthe\s+(first|second|third|fourth|fifth|last)\b`)
	ordinalWords    = map[string]int{"first": 1, "second": 2, "third": 3, "fourth": 4, "fifth": 5}
)

// ordinal finds a 1-based reference to an offered proposal.
func (u *utterance) ordinal(offered int) int {
	if m := ordinalNumberRe.FindStringSubmatchIndex(u.text); m != nil {
		for g := 1; g <= 3; g++ {
			if m[2*g] >= 0 {
				n, _ := strconv.Atoi(u.text[m[2*g]:m[2*g+1]])
				u.blank(m[0], m[1])
				return n
			}
		}
	}
	if m := ordinalWordRe.FindStringSubmatchIndex(u.text); m != nil {
		word := ""
		for g := 1; g <= 2; g++ {
			if m[2*g] >= 0 {
				word = u.text[m[2*g]:m[2*g+1]]
			}
		}
		u.blank(m[0], m[1])
		if word == "last" {
			return offered
		}
		return ordinalWords[word]
	}
	return 0
}

// dayRef collects every day reference in the utterance.
type dayRef struct {
	prefs     []scheduling.DayPreference
	earliest  *time.Time
	latest    *time.Time
	ambiguous bool
	// date is the single concrete day named, used to place clock times.
	date *time.Time
}

func (d dayRef) selection() negotiation.Selection {
	if len(d.prefs) != 1 {
		return negotiation.Selection{}
	}
	pref := d.prefs[0]
	if pref.Date != "" {
		return negotiation.Selection{Date: pref.Date}
	}
	weekday := pref.Weekday
	return negotiation.Selection{Weekday: &weekday}
}

var (
	dayAfterTomorrowRe = regexp.MustCompile(`\bday after tomorrow\b`)
	tomorrowRe         = regexp.MustCompile(`\btomorrow\b`)
	todayRe            = regexp.MustCompile(`\b(today|tonight)\b`)
	isoDateRe          = regexp.MustCompile(`\b(\d{4})-(\d{2})-(\d{2})\b`)
	monthDayRe         = regexp.MustCompile(`\b(jan(?:uary)?|feb(?:ruary)?|mar(?:ch)?|apr(?:il)?|may|june?|july?|aug(?:ust)?|sep(?:t(?:ember)?)?|oct(?:ober)?|nov(?:ember)?|dec(?:ember)?)\.?\s+(\d{1,2})(?:st|nd|rd|th)?\b`)
	dayMonthRe         = regexp.MustCompile(`\b(\d{1,2})(?:st|nd|rd|th)?\s+(?:of\s+)?(jan(?:uary)?|feb(?:ruary)?|mar(?:ch)?|apr(?:il)?|may|june?|july?|aug(?:ust)?|sep(?:t(?:ember)?)?|oct(?:ober)?|nov(?:ember)?|dec(?:ember)?)\b`)
	nextWeekRe         = regexp.MustCompile(`\bnext week\b`)
	thisWeekRe         = regexp.MustCompile(`\bthis week\b`)
	inWeeksRe          = regexp.MustCompile(`\bin\s+(\d+|a|one|two|three)\s+weeks?\b`)
	inDaysRe           = regexp.MustCompile(`\bin\s+(\d+|a|one|two|three|four|five|six)\s+days?\b`)
	weekendRe          = regexp.MustCompile(`\b(?:this\s+|next\s+)?weekend\b`)
	weekdayRe          = regexp.MustCompile(`\b(?:(next|this|on)\s+)?(monday|mon|tuesday|tues|tue|wednesday|wed|thursday|thurs|thur|thu|friday|fri|saturday|sunday)s?\b`)
	ambiguousRe        = regexp.MustCompile(`\b(sometime|some time|whenever|any ?time|flexible|no preference)\b`)
)

var weekdayNames = map[string]time.Weekday{
	"sunday": time.Sunday,
	"monday": time.Monday, "mon": time.Monday,
	"tuesday": time.Tuesday, "tues": time.Tuesday, "tue": time.Tuesday,
	"wednesday": time.Wednesday, "wed": time.Wednesday,
	"thursday": time.Thursday, "thurs": time.Thursday, "thur": time.Thursday, "thu": time.Thursday,
	"friday": time.Friday, "fri": time.Friday,
	"saturday": time.Saturday,
}

var monthNames = map[string]time.Month{
	"jan": time.January, "feb": time.February, "mar": time.March, "apr": time.April,
	"may": time.May, "jun": time.June, "jul": time.July, "aug": time.August,
	"sep": time.September, "oct": time.October, "nov": time.November, "dec": time.December,
}

func (u *utterance) startOfDay(t time.Time) time.Time {
	y, m, d := t.In(u.loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, u.loc)
}

func (u *utterance) startOfNextWeek() time.Time {
	ahead := (8 - int(u.now.Weekday())) % 7
	if ahead == 0 {
		ahead = 7
	}
	return u.startOfDay(u.now).AddDate(0, 0, ahead)
}

// nextWeekday returns the next day falling on wd; today counts unless strict.
func (u *utterance) nextWeekday(wd time.Weekday, strict bool) time.Time {
	ahead := (int(wd) - int(u.now.Weekday()) + 7) % 7
	if ahead == 0 && strict {
		ahead = 7
	}
	return u.startOfDay(u.now).AddDate(0, 0, ahead)
}

func (u *utterance) days() dayRef {
	var ref dayRef
	var dates []time.Time
	today := u.startOfDay(u.now)

	addDate := func(t time.Time) {
		ref.prefs = append(ref.prefs, scheduling.OnDate(t))
		dates = append(dates, t)
	}

	if loc := dayAfterTomorrowRe.FindStringIndex(u.text); loc != nil {
		u.blank(loc[0], loc[1])
		addDate(today.AddDate(0, 0, 2))
	}
	if loc := tomorrowRe.FindStringIndex(u.text); loc != nil {
		u.blank(loc[0], loc[1])
		addDate(today.AddDate(0, 0, 1))
	}
	if m := todayRe.FindStringSubmatchIndex(u.text); m != nil {
		if u.text[m[2]:m[3]] == "today" {
			u.blank(m[0], m[1])
		}
		addDate(today)
	}
	for _, m := range isoDateRe.FindAllStringSubmatch(u.text, -1) {
		if t, err := time.ParseInLocation("2006-01-02", m[0], u.loc); err == nil {
			addDate(t)
		}
	}
	u.blankAll(isoDateRe)
	for _, m := range monthDayRe.FindAllStringSubmatch(u.text, -1) {
		if t, ok := u.monthDay(m[1], m[2]); ok {
			addDate(t)
		}
	}
	u.blankAll(monthDayRe)
	for _, m := range dayMonthRe.FindAllStringSubmatch(u.text, -1) {
		if t, ok := u.monthDay(m[2], m[1]); ok {
			addDate(t)
		}
	}
	u.blankAll(dayMonthRe)

	if m := inDaysRe.FindStringSubmatchIndex(u.text); m != nil {
		if n, ok := parseAmount(u.text[m[2]:m[3]]); ok {
			addDate(today.AddDate(0, 0, int(n)))
		}
		u.blank(m[0], m[1])
	}

	namedWeek := false
	if loc := nextWeekRe.FindStringIndex(u.text); loc != nil {
		u.blank(loc[0], loc[1])
		start := u.startOfNextWeek()
		end := start.AddDate(0, 0, 7)
		ref.earliest, ref.latest = &start, &end
		namedWeek = true
	} else if m := inWeeksRe.FindStringSubmatchIndex(u.text); m != nil {
		if n, ok := parseAmount(u.text[m[2]:m[3]]); ok {
			start := today.AddDate(0, 0, 7*int(n))
			end := start.AddDate(0, 0, 7)
			ref.earliest, ref.latest = &start, &end
			namedWeek = true
		}
		u.blank(m[0], m[1])
	} else if loc := thisWeekRe.FindStringIndex(u.text); loc != nil {
		u.blank(loc[0], loc[1])
		end := u.startOfNextWeek()
		ref.latest = &end
		namedWeek = true
	}

	if loc := weekendRe.FindStringIndex(u.text); loc != nil {
		u.blank(loc[0], loc[1])
		ref.prefs = append(ref.prefs, scheduling.OnWeekday(time.Saturday), scheduling.OnWeekday(time.Sunday))
	}

	for _, m := range weekdayRe.FindAllStringSubmatch(u.text, -1) {
		wd, ok := weekdayNames[m[2]]
		if !ok {
			continue
		}
		if m[1] == "next" && !namedWeek {
			addDate(u.nextWeekday(wd, true))
			continue
		}
		ref.prefs = append(ref.prefs, scheduling.OnWeekday(wd))
		if ref.earliest != nil {
			dates = append(dates, ref.earliest.AddDate(0, 0, (int(wd)-int(ref.earliest.Weekday())+7)%7))
		} else {
			dates = append(dates, u.nextWeekday(wd, false))
		}
	}
	u.blankAll(weekdayRe)

	if namedWeek && len(ref.prefs) == 0 {
		ref.ambiguous = true
	}
	if loc := ambiguousRe.FindStringIndex(u.text); loc != nil && len(ref.prefs) == 0 && !anyTimeOfDayRe.MatchString(u.text) {
		u.blank(loc[0], loc[1])
		ref.ambiguous = true
	}

	ref.prefs = dedupePrefs(ref.prefs)
	if len(ref.prefs) == 1 && len(dates) > 0 {
		ref.date = &dates[0]
	}
	return ref
}

func (u *utterance) monthDay(monthRaw, dayRaw string) (time.Time, bool) {
	key := monthRaw
	if len(key) > 3 {
		key = key[:3]
	}
	month, ok := monthNames[key]
	if !ok {
		return time.Time{}, false
	}
	day, err := strconv.Atoi(dayRaw)
	if err != nil || day < 1 || day > 31 {
		return time.Time{}, false
	}
	year := u.now.Year()
	t := time.Date(year, month, day, 0, 0, 0, 0, u.loc)
	if t.Month() != month {
		return time.Time{}, false
	}
	if t.Before(u.startOfDay(u.now)) {
		t = t.AddDate(1, 0, 0)
	}
	return t, true
}

func dedupePrefs(prefs []scheduling.DayPreference) []scheduling.DayPreference {
	seen := make(map[scheduling.DayPreference]bool, len(prefs))
	out := prefs[:0]
	for _, p := range prefs {
		if seen[p] {
			continue
		}
		seen[p] = true
		out = append(out, p)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

var (
	anyTimeOfDayRe = regexp.MustCompile(`\bany\s*time\s+of\s+(?:the\s+)?day\b`)
	timeOfDayRe    = regexp.MustCompile(`\b(morning|afternoon|evening|tonight|night)s?\b`)
)

func (u *utterance) timeOfDay() *scheduling.TimeOfDay {
	if loc := anyTimeOfDayRe.FindStringIndex(u.text); loc != nil {
		u.blank(loc[0], loc[1])
		return scheduling.Ptr(scheduling.TimeOfDayNone)
	}
	m := timeOfDayRe.FindStringSubmatchIndex(u.text)
	if m == nil {
		return nil
	}
	word := u.text[m[2]:m[3]]
	u.blank(m[0], m[1])
	if word == "tonight" {
		word = "evening"
	}
	tod, ok := scheduling.ParseTimeOfDay(word)
	if !ok {
		return nil
	}
	return &tod
}

var (
	meridiemClockRe = regexp.MustCompile(`\b(?:at\s+|@\s*)?(\d{1,2})(?::([0-5]\d))?\s*([ap])\.?m\b\.?`)
	clock24Re       = regexp.MustCompile(`\b(?:at\s+|@\s*)?([01]?\d|2[0-3]):([0-5]\d)\b`)
	noonRe          = regexp.MustCompile(`\b(?:at\s+)?(?:noon|midday)\b`)
	bareClockRe     = regexp.MustCompile(`\bat\s+(\d{1,2})\b`)
)

// parseClockMatch reads one clock expression out of s.
func parseClockMatch(s string) (negotiation.Clock, bool) {
	if m := meridiemClockRe.FindStringSubmatch(s); m != nil {
		hour, _ := strconv.Atoi(m[1])
		minute := 0
		if m[2] != "" {
			minute, _ = strconv.Atoi(m[2])
		}
		if hour < 1 || hour > 12 {
			return negotiation.Clock{}, false
		}
		if m[3] == "p" && hour != 12 {
			hour += 12
		} else if m[3] == "a" && hour == 12 {
			hour = 0
		}
		return negotiation.Clock{Hour: hour, Minute: minute}, true
	}
	if m := clock24Re.FindStringSubmatch(s); m != nil {
		hour, _ := strconv.Atoi(m[1])
		minute, _ := strconv.Atoi(m[2])
		return negotiation.Clock{Hour: hour, Minute: minute}, true
	}
	if noonRe.MatchString(s) {
		return negotiation.Clock{Hour: 12}, true
	}
	return negotiation.Clock{}, false
}

// businessHour reads a bare hour the way people mean it in a work context:
// "at 3" is 15:00, "at 10" is 10:00.
func businessHour(hour int) int {
	if hour >= 1 && hour < 8 {
		return hour + 12
	}
	return hour
}

func (u *utterance) clock() *negotiation.Clock {
	for _, re := range []*regexp.Regexp{meridiemClockRe, clock24Re, noonRe} {
		if loc := re.FindStringIndex(u.text); loc != nil {
			c, ok := parseClockMatch(u.text[loc[0]:loc[1]])
			u.blank(loc[0], loc[1])
			if ok {
				return &c
			}
			return nil
		}
	}
	if m := bareClockRe.FindStringSubmatchIndex(u.text); m != nil {
		hour, _ := strconv.Atoi(u.text[m[2]:m[3]])
		u.blank(m[0], m[1])
		if hour >= 1 && hour <= 12 {
			return &negotiation.Clock{Hour: businessHour(hour)}
		}
	}
	return nil
}

// dateFor places a clock time on the named day, or on the next time it
// occurs when no single day was named.
func (u *utterance) dateFor(c negotiation.Clock, days dayRef) time.Time {
	if days.date != nil {
		d := *days.date
		return time.Date(d.Year(), d.Month(), d.Day(), c.Hour, c.Minute, 0, 0, u.loc)
	}
	base := u.startOfDay(u.now)
	if days.earliest != nil && days.earliest.After(base) {
		base = u.startOfDay(*days.earliest)
	}
	at := time.Date(base.Year(), base.Month(), base.Day(), c.Hour, c.Minute, 0, 0, u.loc)
	if !at.After(u.now) {
		at = at.AddDate(0, 0, 1)
	}
	return at
}

// clockBound is "before 11am" / "after 3pm": a bound, not an event anchor.
type clockBound struct {
	relation scheduling.AnchorRelation
	clock    negotiation.Clock
}

var (
	anchorRe     = regexp.MustCompile(`(?:\b` + amountPattern + `\s*(hours?|hrs?|minutes?|mins?)\s+)?\b(before|after)\s+([^.,;!?]+)`)
	anchorStopRe = regexp.MustCompile(`\s(?:and|but|so|or|please|on|for|if|today|tomorrow|next|this|in)\b`)
	anchorLead   = regexp.MustCompile(`^(?:my|the|our|a|an|their|his|her)\s+`)
	onlyClockRe  = regexp.MustCompile(`^(?:\d{1,2}(?::[0-5]\d)?\s*[ap]\.?m\.?|(?:[01]?\d|2[0-3]):[0-5]\d|noon|midday|\d{1,2})$`)
	wordRe       = regexp.MustCompile(`[a-z0-9]+`)
)

var anchorStopWords = map[string]bool{
	"my": true, "the": true, "our": true, "a": true, "an": true, "with": true,
	"and": true, "of": true, "to": true, "at": true, "am": true, "pm": true,
}

func (u *utterance) anchor(events []scheduling.BusyInterval, defaultOffset time.Duration) (*scheduling.Anchor, *clockBound) {
	m := anchorRe.FindStringSubmatchIndex(u.text)
	if m == nil {
		return nil, nil
	}
	relation := scheduling.AnchorRelation(u.text[m[6]:m[7]])
	refStart, refEnd := m[8], m[9]
	if stop := anchorStopRe.FindStringIndex(u.text[refStart:refEnd]); stop != nil {
		refEnd = refStart + stop[0]
	}
	ref := strings.TrimSpace(u.text[refStart:refEnd])
	ref = anchorLead.ReplaceAllString(ref, "")

	if ref == "" {
		return nil, nil
	}
	if onlyClockRe.MatchString(ref) {
		// A leading amount belongs to the meeting length, not to the bound.
		u.blank(m[6], refEnd)
		c, ok := parseClockMatch(ref)
		if !ok {
			hour, err := strconv.Atoi(ref)
			if err != nil || hour < 1 || hour > 12 {
				return nil, nil
			}
			c = negotiation.Clock{Hour: businessHour(hour)}
		}
		return nil, &clockBound{relation: relation, clock: c}
	}

	offset := defaultOffset
	if m[2] >= 0 {
		if amount, ok := parseAmount(u.text[m[2]:m[3]]); ok {
			offset = time.Duration(amount * float64(unitOf(u.text[m[4]:m[5]])))
		}
	}
	u.blank(m[0], refEnd)

	anchor := &scheduling.Anchor{Relation: relation, Label: ref, Offset: offset}
	if ev, ok := u.matchEvent(ref, events); ok {
		anchor.EventID = ev.EventID
		anchor.Start = ev.Start
		anchor.End = ev.End
		if ev.Title != "" {
			anchor.Label = ev.Title
		}
	}
	return anchor, nil
}

// matchEvent scores events by words shared with ref, plus a bonus when ref
// names the event's start time. Ties go to the nearest upcoming event.
func (u *utterance) matchEvent(ref string, events []scheduling.BusyInterval) (scheduling.BusyInterval, bool) {
	refClock, hasClock := parseClockMatch(ref)
	words := map[string]bool{}
	for _, w := range wordRe.FindAllString(ref, -1) {
		if !anchorStopWords[w] && !isDigits(w) {
			words[w] = true
		}
	}

	type scored struct {
		ev    scheduling.BusyInterval
		score int
	}
	var candidates []scored
	for _, ev := range events {
		score := 0
		for _, w := range wordRe.FindAllString(strings.ToLower(ev.Title), -1) {
			if words[w] {
				score++
			}
		}
		if hasClock {
			start := ev.Start.In(u.loc)
			if start.Hour() == refClock.Hour && start.Minute() == refClock.Minute {
				score += 2
			}
		}
		if score > 0 {
			candidates = append(candidates, scored{ev: ev, score: score})
		}
	}
	if len(candidates) == 0 {
		return scheduling.BusyInterval{}, false
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].score != candidates[j].score {
			return candidates[i].score > candidates[j].score
		}
		iUp, jUp := candidates[i].ev.End.After(u.now), candidates[j].ev.End.After(u.now)
		if iUp != jUp {
			return iUp
		}
		if iUp {
			return candidates[i].ev.Start.Before(candidates[j].ev.Start)
		}
		return candidates[i].ev.Start.After(candidates[j].ev.Start)
	})
	return candidates[0].ev, true
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return s != ""
}

var _ Extractor = (*Rules)(nil)
