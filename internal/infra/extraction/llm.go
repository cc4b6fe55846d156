package extraction

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/kaptinlin/jsonrepair"

	"smartsched/internal/domain/negotiation"
	"smartsched/internal/domain/scheduling"
	schederrors "smartsched/internal/errors"
	"smartsched/internal/httpclient"
	"smartsched/internal/logging"
)

const (
	defaultLLMTimeout       = 10 * time.Second
	defaultMaxResponseBytes = 1 << 20
	llmDateLayout           = "2006-01-02"
	llmLocalTimeLayout      = "2006-01-02T15:04"
	llmClockLayout          = "15:04"
)

// LLMConfig points the extractor at an OpenAI-compatible chat endpoint.
type LLMConfig struct {
	BaseURL          string
	Model            string
	APIKey           string
	Timeout          time.Duration
	Retry            schederrors.RetryConfig
	MaxResponseBytes int64
}

// LLM asks a chat model to fill a fixed JSON schema and converts the answer
// into a Turn. Malformed model output is repaired when possible.
type LLM struct {
	cfg    LLMConfig
	client *http.Client
	logger logging.Logger
}

// LLMOption customizes the LLM extractor.
type LLMOption func(*LLM)

// WithHTTPClient replaces the default breaker-guarded client.
func WithHTTPClient(client *http.Client) LLMOption {
	return func(l *LLM) { l.client = client }
}

// WithLLMLogger sets the logger.
func WithLLMLogger(logger logging.Logger) LLMOption {
	return func(l *LLM) { l.logger = logging.OrNop(logger) }
}

// NewLLM validates cfg and builds the extractor.
func NewLLM(cfg LLMConfig, opts ...LLMOption) (*LLM, error) {
	cfg.BaseURL = strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("llm extractor: base url is required")
	}
	if strings.TrimSpace(cfg.Model) == "" {
		return nil, fmt.Errorf("llm extractor: model is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultLLMTimeout
	}
	if cfg.MaxResponseBytes <= 0 {
		cfg.MaxResponseBytes = defaultMaxResponseBytes
	}
	l := &LLM{cfg: cfg, logger: logging.NewComponentLogger("LLMExtractor")}
	for _, opt := range opts {
		opt(l)
	}
	if l.client == nil {
		l.client = httpclient.NewWithCircuitBreaker(cfg.Timeout, l.logger, "llm-extractor")
	}
	return l, nil
}

func (l *LLM) Name() string { return "llm" }

func (l *LLM) Extract(ctx context.Context, req Request) (negotiation.Turn, error) {
	body, err := json.Marshal(chatRequest{
		Model:          l.cfg.Model,
		Temperature:    0,
		ResponseFormat: &responseFormat{Type: "json_object"},
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: userPrompt(req)},
		},
	})
	if err != nil {
		return negotiation.Turn{}, fmt.Errorf("marshal request: %w", err)
	}

	content, err := schederrors.RetryWithResultAndLog(ctx, l.cfg.Retry, func(ctx context.Context) (string, error) {
		return l.complete(ctx, body)
	}, l.logger)
	if err != nil {
		return negotiation.Turn{}, err
	}

	var out llmTurn
	if err := decodeModelJSON(content, &out); err != nil {
		l.logger.Debug("unparseable model output: %s", previewText(content))
		return negotiation.Turn{}, schederrors.NewPermanentError(err, "model returned malformed json")
	}
	turn, err := out.toTurn(req)
	if err != nil {
		return negotiation.Turn{}, schederrors.NewPermanentError(err, "model returned invalid fields")
	}
	return turn, nil
}

func (l *LLM) complete(ctx context.Context, body []byte) (string, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, l.cfg.BaseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", schederrors.NewPermanentError(err, "build request")
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if l.cfg.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+l.cfg.APIKey)
	}

	resp, err := l.client.Do(httpReq)
	if err != nil {
		if errors.Is(err, schederrors.ErrCircuitOpen) {
			return "", schederrors.NewPermanentError(err, "llm circuit open")
		}
		return "", err
	}
	respBody, err := httpclient.ReadResponse(resp, l.cfg.MaxResponseBytes)
	if err != nil {
		return "", err
	}

	var parsed chatResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return "", schederrors.NewPermanentError(err, "decode response")
	}
	if parsed.Error != nil {
		return "", schederrors.NewPermanentError(errors.New(parsed.Error.Message), "llm error")
	}
	if len(parsed.Choices) == 0 || strings.TrimSpace(parsed.Choices[0].Message.Content) == "" {
		return "", schederrors.NewPermanentError(errors.New("no choices"), "empty completion")
	}
	return parsed.Choices[0].Message.Content, nil
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type responseFormat struct {
	Type string `json:"type"`
}

type chatRequest struct {
	Model          string          `json:"model"`
	Messages       []chatMessage   `json:"messages"`
	Temperature    float64         `json:"temperature"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

const systemPrompt = `You extract meeting scheduling details from one user message.
Reply with a single JSON object and nothing else. Use null for anything the message does not state; never guess.
Schema:
{
  "duration_minutes": integer or null,
  "days": array of weekday names ("tuesday") or dates ("2006-01-02"), or null,
  "earliest": local time "2006-01-02T15:04" or null,
  "latest": local time "2006-01-02T15:04" or null,
  "time_of_day": "morning" | "afternoon" | "evening" | "none" | null,
  "anchor": {"relation": "before" | "after", "event_id": string, "label": string, "offset_minutes": integer} or null,
  "ambiguous": true when the message is vague about when (e.g. "sometime next week"), else null,
  "selection": {"ordinal": integer, "weekday": string, "date": "2006-01-02", "start": "15:04"} or null,
  "intent": "affirm" | "reject" | "cancel" | "none",
  "title": string or null,
  "description": string or null,
  "attendees": array of email addresses or null
}
Only set "selection" when the message picks one of the offered proposals. Anchors must use the id of a listed event.`

type promptEvent struct {
	ID    string `json:"id,omitempty"`
	Title string `json:"title,omitempty"`
	Start string `json:"start"`
	End   string `json:"end"`
}

type promptProposal struct {
	Option int    `json:"option"`
	Start  string `json:"start"`
	End    string `json:"end"`
}

func userPrompt(req Request) string {
	loc := req.location()
	now := req.Now
	if now.IsZero() {
		now = time.Now()
	}
	payload := struct {
		Now       string           `json:"now"`
		Weekday   string           `json:"weekday"`
		Timezone  string           `json:"timezone"`
		Phase     string           `json:"phase"`
		Events    []promptEvent    `json:"events,omitempty"`
		Proposals []promptProposal `json:"proposals,omitempty"`
		Message   string           `json:"message"`
	}{
		Now:      now.In(loc).Format(llmLocalTimeLayout),
		Weekday:  strings.ToLower(now.In(loc).Weekday().String()),
		Timezone: loc.String(),
		Phase:    string(req.Phase),
		Message:  req.Text,
	}
	for _, ev := range req.Events {
		payload.Events = append(payload.Events, promptEvent{
			ID:    ev.EventID,
			Title: ev.Title,
			Start: ev.Start.In(loc).Format(llmLocalTimeLayout),
			End:   ev.End.In(loc).Format(llmLocalTimeLayout),
		})
	}
	for i, p := range req.Proposals {
		payload.Proposals = append(payload.Proposals, promptProposal{
			Option: i + 1,
			Start:  p.Start.In(loc).Format(llmLocalTimeLayout),
			End:    p.End.In(loc).Format(llmLocalTimeLayout),
		})
	}
	data, _ := json.Marshal(payload)
	return string(data)
}

type llmAnchor struct {
	Relation      string `json:"relation"`
	EventID       string `json:"event_id"`
	Label         string `json:"label"`
	OffsetMinutes int    `json:"offset_minutes"`
}

type llmSelection struct {
	Ordinal int    `json:"ordinal"`
	Weekday string `json:"weekday"`
	Date    string `json:"date"`
	Start   string `json:"start"`
}

type llmTurn struct {
	DurationMinutes *int          `json:"duration_minutes"`
	Days            []string      `json:"days"`
	Earliest        *string       `json:"earliest"`
	Latest          *string       `json:"latest"`
	TimeOfDay       *string       `json:"time_of_day"`
	Anchor          *llmAnchor    `json:"anchor"`
	Ambiguous       *bool         `json:"ambiguous"`
	Selection       *llmSelection `json:"selection"`
	Intent          string        `json:"intent"`
	Title           *string       `json:"title"`
	Description     *string       `json:"description"`
	Attendees       []string      `json:"attendees"`
}

func (o llmTurn) toTurn(req Request) (negotiation.Turn, error) {
	loc := req.location()
	turn := negotiation.Turn{Summary: summaryOf(strings.TrimSpace(req.Text))}

	if o.DurationMinutes != nil {
		if *o.DurationMinutes <= 0 {
			return turn, fmt.Errorf("duration_minutes must be positive, got %d", *o.DurationMinutes)
		}
		turn.Delta.Duration = scheduling.Minutes(*o.DurationMinutes)
	}
	for _, raw := range o.Days {
		pref, err := parseDay(raw, loc)
		if err != nil {
			return turn, err
		}
		turn.Delta.Days = append(turn.Delta.Days, pref)
	}
	var err error
	if turn.Delta.Earliest, err = parseLocalTime(o.Earliest, loc); err != nil {
		return turn, fmt.Errorf("earliest: %w", err)
	}
	if turn.Delta.Latest, err = parseLocalTime(o.Latest, loc); err != nil {
		return turn, fmt.Errorf("latest: %w", err)
	}
	if o.TimeOfDay != nil {
		tod, ok := scheduling.ParseTimeOfDay(*o.TimeOfDay)
		if !ok {
			return turn, fmt.Errorf("unknown time_of_day %q", *o.TimeOfDay)
		}
		turn.Delta.TimeOfDay = &tod
	}
	if o.Anchor != nil {
		anchor, err := o.Anchor.toAnchor(req.Events)
		if err != nil {
			return turn, err
		}
		turn.Delta.Anchor = anchor
	}
	turn.Delta.Ambiguous = ambiguity(turn.Delta, o.Ambiguous != nil && *o.Ambiguous)
	if o.Selection != nil {
		sel, err := o.Selection.toSelection(loc)
		if err != nil {
			return turn, err
		}
		if !sel.IsZero() {
			turn.Selection = &sel
		}
	}

	switch strings.ToLower(strings.TrimSpace(o.Intent)) {
	case "affirm":
		turn.Intent = negotiation.IntentAffirm
	case "reject":
		turn.Intent = negotiation.IntentReject
	case "cancel":
		turn.Intent = negotiation.IntentCancel
	}

	if o.Title != nil {
		turn.Metadata.Title = strings.TrimSpace(*o.Title)
	}
	if o.Description != nil {
		turn.Metadata.Description = strings.TrimSpace(*o.Description)
	}
	for _, a := range o.Attendees {
		if emailRe.MatchString(a) {
			turn.Metadata.Attendees = append(turn.Metadata.Attendees, strings.TrimSpace(a))
		}
	}
	return turn, nil
}

func (a llmAnchor) toAnchor(events []scheduling.BusyInterval) (*scheduling.Anchor, error) {
	relation := scheduling.AnchorRelation(strings.ToLower(strings.TrimSpace(a.Relation)))
	if relation != scheduling.AnchorBefore && relation != scheduling.AnchorAfter {
		return nil, fmt.Errorf("unknown anchor relation %q", a.Relation)
	}
	anchor := &scheduling.Anchor{
		Relation: relation,
		EventID:  a.EventID,
		Label:    a.Label,
		Offset:   time.Duration(a.OffsetMinutes) * time.Minute,
	}
	for _, ev := range events {
		if ev.EventID != "" && ev.EventID == a.EventID {
			anchor.Start, anchor.End = ev.Start, ev.End
			if anchor.Label == "" {
				anchor.Label = ev.Title
			}
			break
		}
	}
	return anchor, nil
}

func (s llmSelection) toSelection(loc *time.Location) (negotiation.Selection, error) {
	sel := negotiation.Selection{Ordinal: s.Ordinal}
	if sel.Ordinal < 0 {
		return sel, fmt.Errorf("selection ordinal must be positive, got %d", s.Ordinal)
	}
	if s.Weekday != "" {
		wd, ok := weekdayNames[strings.ToLower(strings.TrimSpace(s.Weekday))]
		if !ok {
			return sel, fmt.Errorf("unknown weekday %q", s.Weekday)
		}
		sel.Weekday = &wd
	}
	if s.Date != "" {
		if _, err := time.ParseInLocation(llmDateLayout, s.Date, loc); err != nil {
			return sel, fmt.Errorf("selection date: %w", err)
		}
		sel.Date = s.Date
	}
	if s.Start != "" {
		t, err := time.Parse(llmClockLayout, s.Start)
		if err != nil {
			return sel, fmt.Errorf("selection start: %w", err)
		}
		sel.Start = &negotiation.Clock{Hour: t.Hour(), Minute: t.Minute()}
	}
	return sel, nil
}

func parseDay(raw string, loc *time.Location) (scheduling.DayPreference, error) {
	key := strings.ToLower(strings.TrimSpace(raw))
	if wd, ok := weekdayNames[key]; ok {
		return scheduling.OnWeekday(wd), nil
	}
	t, err := time.ParseInLocation(llmDateLayout, key, loc)
	if err != nil {
		return scheduling.DayPreference{}, fmt.Errorf("unknown day %q", raw)
	}
	return scheduling.OnDate(t), nil
}

func parseLocalTime(raw *string, loc *time.Location) (*time.Time, error) {
	if raw == nil || strings.TrimSpace(*raw) == "" {
		return nil, nil
	}
	value := strings.TrimSpace(*raw)
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return &t, nil
	}
	t, err := time.ParseInLocation(llmLocalTimeLayout, value, loc)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// decodeModelJSON tolerates code fences, surrounding prose and the usual
// small syntax slips models make.
func decodeModelJSON(content string, v any) error {
	text := stripCodeFence(content)
	if start, end := strings.Index(text, "{"), strings.LastIndex(text, "}"); start >= 0 && end > start {
		text = text[start : end+1]
	}
	if err := json.Unmarshal([]byte(text), v); err == nil {
		return nil
	}
	repaired, err := jsonrepair.JSONRepair(text)
	if err != nil {
		return fmt.Errorf("repair json: %w", err)
	}
	return json.Unmarshal([]byte(repaired), v)
}

func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		s = s[nl+1:]
	}
	return strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(s), "```"))
}

func previewText(s string) string {
	const max = 256
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}

var _ Extractor = (*LLM)(nil)
