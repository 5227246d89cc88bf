package calendar

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/oauth2"
)

const (
	DefaultBaseURL  = "https://www.googleapis.com/calendar/v3"
	DefaultTokenURL = "https://oauth2.googleapis.com/token"
)

// ErrNoMeetingLink is returned when the event was created without a Meet conference.
var ErrNoMeetingLink = errors.New("calendar event has no meeting link")

// MeetingRequest describes the event to create.
type MeetingRequest struct {
	RequestID   string
	Summary     string
	Description string
	Start       time.Time
	End         time.Time
	Timezone    string
	Attendees   []string
}

// Meeting is the created event.
type Meeting struct {
	EventID string
	Link    string
}

// GoogleConfig configures the organizer calendar.
type GoogleConfig struct {
	ClientID     string
	ClientSecret string
	RefreshToken string
	CalendarID   string
	BaseURL      string
	TokenURL     string
	Timeout      time.Duration
}

// GoogleClient creates Google Calendar events with a Meet conference.
type GoogleClient struct {
	client     *http.Client
	baseURL    string
	calendarID string
}

// NewGoogleClient exchanges the configured refresh token on demand.
func NewGoogleClient(ctx context.Context, cfg GoogleConfig) *GoogleClient {
	tokenURL := cfg.TokenURL
	if tokenURL == "" {
		tokenURL = DefaultTokenURL
	}
	oauthCfg := &oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		Endpoint:     oauth2.Endpoint{TokenURL: tokenURL},
	}
	source := oauthCfg.TokenSource(ctx, &oauth2.Token{RefreshToken: cfg.RefreshToken})
	return NewGoogleClientWithSource(source, cfg)
}

// NewGoogleClientWithSource uses an existing token source.
func NewGoogleClientWithSource(source oauth2.TokenSource, cfg GoogleConfig) *GoogleClient {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	calendarID := cfg.CalendarID
	if calendarID == "" {
		calendarID = "primary"
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}

	return &GoogleClient{
		client: &http.Client{
			Timeout: timeout,
			Transport: &oauthTransport{
				base:   http.DefaultTransport,
				source: source,
			},
		},
		baseURL:    baseURL,
		calendarID: calendarID,
	}
}

type eventTime struct {
	DateTime string `json:"dateTime"`
	TimeZone string `json:"timeZone,omitempty"`
}

type attendee struct {
	Email string `json:"email"`
}

type conferenceData struct {
	CreateRequest *createConferenceRequest `json:"createRequest,omitempty"`
}

type createConferenceRequest struct {
	RequestID             string                `json:"requestId"`
	ConferenceSolutionKey conferenceSolutionKey `json:"conferenceSolutionKey"`
}

type conferenceSolutionKey struct {
	Type string `json:"type"`
}

type googleEvent struct {
	ID             string          `json:"id,omitempty"`
	Summary        string          `json:"summary"`
	Description    string          `json:"description,omitempty"`
	Start          eventTime       `json:"start"`
	End            eventTime       `json:"end"`
	Attendees      []attendee      `json:"attendees,omitempty"`
	ConferenceData *conferenceData `json:"conferenceData,omitempty"`
	HangoutLink    string          `json:"hangoutLink,omitempty"`
}

// CreateMeeting inserts the event and returns its Meet link.
func (c *GoogleClient) CreateMeeting(ctx context.Context, meeting MeetingRequest) (*Meeting, error) {
	event := googleEvent{
		Summary:     meeting.Summary,
		Description: meeting.Description,
		Start:       eventTime{DateTime: meeting.Start.Format(time.RFC3339), TimeZone: meeting.Timezone},
		End:         eventTime{DateTime: meeting.End.Format(time.RFC3339), TimeZone: meeting.Timezone},
		ConferenceData: &conferenceData{
			CreateRequest: &createConferenceRequest{
				RequestID:             meeting.RequestID,
				ConferenceSolutionKey: conferenceSolutionKey{Type: "hangoutsMeet"},
			},
		},
	}
	for _, email := range meeting.Attendees {
		if email != "" {
			event.Attendees = append(event.Attendees, attendee{Email: email})
		}
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return nil, err
	}

	endpoint := fmt.Sprintf("%s/calendars/%s/events?conferenceDataVersion=1", c.baseURL, url.PathEscape(c.calendarID))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, responseError(resp)
	}

	var created googleEvent
	if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
		return nil, fmt.Errorf("decode calendar event: %w", err)
	}
	if created.HangoutLink == "" {
		return nil, ErrNoMeetingLink
	}

	return &Meeting{EventID: created.ID, Link: created.HangoutLink}, nil
}

func responseError(resp *http.Response) error {
	body, _ := io.ReadAll(resp.Body)
	return fmt.Errorf("create calendar event: status=%d body=%s", resp.StatusCode, string(body))
}

type oauthTransport struct {
	base   http.RoundTripper
	source oauth2.TokenSource
}

func (t *oauthTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	token, err := t.source.Token()
	if err != nil {
		return nil, err
	}
	req = req.Clone(req.Context())
	req.Header.Set("Authorization", "Bearer "+token.AccessToken)
	return t.base.RoundTrip(req)
}
