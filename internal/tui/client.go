package tui

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/go-resty/resty/v2"

	"github.com/mattjoyce/hackscore/internal/api"
	"github.com/mattjoyce/hackscore/internal/events"
)

// --- Message types ---

type eventMsg events.Event

type healthMsg api.HealthzResponse

type queueMsg api.QueueStatusResponse

type tickMsg time.Time

type errMsg struct{ err error }

func (e errMsg) Error() string { return e.err.Error() }

type sseDisconnectedMsg struct{ err error }

type reconnectMsg struct{}

// Client talks to the operator API.
type Client struct {
	http   *resty.Client
	stream *resty.Client
}

// NewClient creates an API client. apiKey needs the queue:ro scope.
func NewClient(apiURL, apiKey string) *Client {
	apiURL = strings.TrimRight(apiURL, "/")
	return &Client{
		http:   resty.New().SetBaseURL(apiURL).SetAuthToken(apiKey).SetTimeout(2 * time.Second),
		stream: resty.New().SetBaseURL(apiURL).SetAuthToken(apiKey),
	}
}

// Health queries GET /healthz.
func (c *Client) Health(ctx context.Context) (api.HealthzResponse, error) {
	var h api.HealthzResponse
	resp, err := c.http.R().SetContext(ctx).SetResult(&h).Get("/healthz")
	if err != nil {
		return h, fmt.Errorf("healthz: %w", err)
	}
	if resp.IsError() {
		return h, fmt.Errorf("healthz: %s", resp.Status())
	}
	return h, nil
}

// Queue queries GET /queue.
func (c *Client) Queue(ctx context.Context) (api.QueueStatusResponse, error) {
	var q api.QueueStatusResponse
	var apiErr api.ErrorResponse
	resp, err := c.http.R().SetContext(ctx).SetResult(&q).SetError(&apiErr).Get("/queue")
	if err != nil {
		return q, fmt.Errorf("queue: %w", err)
	}
	if resp.IsError() {
		if apiErr.Error != "" {
			return q, fmt.Errorf("queue: %s: %s", resp.Status(), apiErr.Error)
		}
		return q, fmt.Errorf("queue: %s", resp.Status())
	}
	return q, nil
}

// Stream follows GET /events, replaying after lastID, and calls emit for
// each event until the connection drops or ctx ends.
func (c *Client) Stream(ctx context.Context, lastID int64, emit func(events.Event)) error {
	req := c.stream.R().
		SetContext(ctx).
		SetDoNotParseResponse(true).
		SetHeader("Accept", "text/event-stream")
	if lastID > 0 {
		req.SetHeader("Last-Event-ID", strconv.FormatInt(lastID, 10))
	}

	resp, err := req.Get("/events")
	if err != nil {
		return fmt.Errorf("events: %w", err)
	}
	body := resp.RawBody()
	defer body.Close()
	if resp.StatusCode() >= 300 {
		return fmt.Errorf("events: %s", resp.Status())
	}
	return readSSE(body, emit)
}

// readSSE parses an event stream. Frames without data are ignored.
func readSSE(r io.Reader, emit func(events.Event)) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var current events.Event
	for scanner.Scan() {
		line := scanner.Text()

		switch {
		case line == "":
			if len(current.Data) > 0 {
				current.At = time.Now()
				emit(current)
			}
			current = events.Event{}
		case strings.HasPrefix(line, ":"):
			// comment / keep-alive
		case strings.HasPrefix(line, "id: "):
			if id, err := strconv.ParseInt(line[4:], 10, 64); err == nil {
				current.ID = id
			}
		case strings.HasPrefix(line, "event: "):
			current.Type = line[7:]
		case strings.HasPrefix(line, "data: "):
			current.Data = append(current.Data, line[6:]...)
		}
	}
	return scanner.Err()
}

// --- Commands ---

// subscribeToEvents feeds the stream into ch. It returns
// sseDisconnectedMsg when the connection drops.
func subscribeToEvents(c *Client, lastID int64, ch chan<- events.Event) tea.Cmd {
	return func() tea.Msg {
		err := c.Stream(context.Background(), lastID, func(ev events.Event) { ch <- ev })
		return sseDisconnectedMsg{err: err}
	}
}

// receiveNextEvent waits for the next event from the channel.
func receiveNextEvent(ch <-chan events.Event) tea.Cmd {
	return func() tea.Msg {
		return eventMsg(<-ch)
	}
}

func fetchHealth(c *Client) tea.Cmd {
	return func() tea.Msg {
		h, err := c.Health(context.Background())
		if err != nil {
			return errMsg{err}
		}
		return healthMsg(h)
	}
}

func fetchQueue(c *Client) tea.Cmd {
	return func() tea.Msg {
		q, err := c.Queue(context.Background())
		if err != nil {
			return errMsg{err}
		}
		return queueMsg(q)
	}
}

func tick() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg { return tickMsg(t) })
}
