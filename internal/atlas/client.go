package atlas

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

const (
	DefaultBaseURL            = "https://atlas.ripe.net/api/v2/measurements"
	DefaultPercentageRequired = 0.9

	StatusSpecified = "Specified"
	StatusScheduled = "Scheduled"
	StatusOngoing   = "Ongoing"
	StatusStopped   = "Stopped"

	fieldsDelayBase    = 6 * time.Second
	fieldsDelayFactor  = 200 * time.Millisecond
	resultsDelayBase   = 3 * time.Second
	resultsDelayFactor = 150 * time.Millisecond
)

var (
	ErrNoKey        = errors.New("no atlas API key")
	ErrUnexpected   = errors.New("unexpected measurement status")
	ErrNotSubmitted = errors.New("measurement was not created")
)

// StatusError is a non-2xx answer from the API.
type StatusError struct {
	Method string
	URL    string
	Code   int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s %s: status %d: %s", e.Method, e.URL, e.Code, e.Body)
}

// IsNotFound reports whether err carries a 404 from the API. A measurement
// that has just been created has no results file for a while.
func IsNotFound(err error) bool {
	var status *StatusError
	return errors.As(err, &status) && status.Code == http.StatusNotFound
}

// Service submits measurements and fetches their results.
type Service interface {
	Submit(ctx context.Context, def Definition) (int, error)
	Fetch(ctx context.Context, id int) (Measurement, error)
}

type Config struct {
	BaseURL    string
	Key        string
	HTTPClient *http.Client
	Logger     *zap.Logger
	// Sleep waits between status polls; tests replace it.
	Sleep func(ctx context.Context, d time.Duration) error
}

type Client struct {
	cfg Config
}

func NewClient(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	cfg.BaseURL = strings.TrimSuffix(cfg.BaseURL, "/")
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 60 * time.Second}
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Sleep == nil {
		cfg.Sleep = sleepContext
	}
	return &Client{cfg: cfg}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// DefaultAuthFile is ~/.atlas/auth.
func DefaultAuthFile() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".atlas", "auth")
}

// LoadKey reads the API key from the first line of path.
func LoadKey(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", errors.Wrapf(err, "open auth file %s", path)
	}
	defer f.Close()
	sc := bufio.NewScanner(f)
	if !sc.Scan() {
		return "", errors.Wrapf(ErrNoKey, "auth file %s is empty", path)
	}
	key := strings.TrimSpace(sc.Text())
	if key == "" {
		return "", errors.Wrapf(ErrNoKey, "auth file %s is empty", path)
	}
	return key, nil
}

func (c *Client) url(path string, query url.Values) string {
	if query == nil {
		query = url.Values{}
	}
	if c.cfg.Key != "" {
		query.Set("key", c.cfg.Key)
	}
	u := c.cfg.BaseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	return u
}

func (c *Client) do(ctx context.Context, method, u string, body io.Reader, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return errors.Wrap(err, "build request")
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Cache-Control", "no-cache")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.cfg.HTTPClient.Do(req)
	if err != nil {
		return errors.Wrapf(err, "%s %s", method, redact(u))
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return errors.Wrap(err, "read response")
	}
	if resp.StatusCode/100 != 2 {
		return &StatusError{Method: method, URL: redact(u), Code: resp.StatusCode, Body: strings.TrimSpace(string(data))}
	}
	if out == nil {
		return nil
	}
	if raw, ok := out.(*[]byte); ok {
		*raw = data
		return nil
	}
	return errors.Wrap(json.Unmarshal(data, out), "decode response")
}

func redact(u string) string {
	parsed, err := url.Parse(u)
	if err != nil {
		return u
	}
	q := parsed.Query()
	if q.Has("key") {
		q.Set("key", "REDACTED")
		parsed.RawQuery = q.Encode()
	}
	return parsed.String()
}

// Submit creates a one-off measurement and returns its id.
func (c *Client) Submit(ctx context.Context, def Definition) (int, error) {
	if c.cfg.Key == "" {
		return 0, ErrNoKey
	}
	body, err := def.Body()
	if err != nil {
		return 0, err
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return 0, errors.Wrap(err, "encode definition")
	}
	var created struct {
		Measurements []int `json:"measurements"`
	}
	if err := c.do(ctx, http.MethodPost, c.url("/", nil), bytes.NewReader(payload), &created); err != nil {
		return 0, errors.Wrap(err, "submit measurement")
	}
	if len(created.Measurements) == 0 {
		return 0, ErrNotSubmitted
	}
	c.cfg.Logger.Info("measurement submitted", zap.Int("id", created.Measurements[0]), zap.String("kind", string(def.Kind)))
	return created.Measurements[0], nil
}

type metaDoc struct {
	ID     int    `json:"id"`
	Type   string `json:"type"`
	Target string `json:"target"`
	Status struct {
		Name string `json:"name"`
	} `json:"status"`
	ProbesRequested  int   `json:"probes_requested"`
	ProbesScheduled  int   `json:"probes_scheduled"`
	ParticipantCount int   `json:"participant_count"`
	StopTime         int64 `json:"stop_time"`
}

func (c *Client) meta(ctx context.Context, id int) (metaDoc, error) {
	var m metaDoc
	err := c.do(ctx, http.MethodGet, c.url("/"+strconv.Itoa(id)+"/", nil), nil, &m)
	return m, errors.Wrapf(err, "measurement %d", id)
}

func (c *Client) results(ctx context.Context, id int) ([]byte, error) {
	var raw []byte
	err := c.do(ctx, http.MethodGet, c.url("/"+strconv.Itoa(id)+"/results/", nil), nil, &raw)
	return raw, errors.Wrapf(err, "results of measurement %d", id)
}

func (c *Client) latest(ctx context.Context, id int, versions int) ([]byte, error) {
	query := url.Values{}
	query.Set("versions", strconv.Itoa(versions))
	var raw []byte
	err := c.do(ctx, http.MethodGet, c.url("/"+strconv.Itoa(id)+"/latest/", query), nil, &raw)
	return raw, errors.Wrapf(err, "latest results of measurement %d", id)
}

// Fetch returns the current metadata and results of a measurement without
// waiting.
func (c *Client) Fetch(ctx context.Context, id int) (Measurement, error) {
	m, err := c.meta(ctx, id)
	if err != nil {
		return Measurement{}, err
	}
	raw, err := c.results(ctx, id)
	if err != nil {
		return Measurement{}, err
	}
	return c.build(id, m, raw)
}

// FetchLatest is Fetch restricted to the last versions results of each probe.
func (c *Client) FetchLatest(ctx context.Context, id int, versions int) (Measurement, error) {
	if versions <= 0 {
		return c.Fetch(ctx, id)
	}
	m, err := c.meta(ctx, id)
	if err != nil {
		return Measurement{}, err
	}
	raw, err := c.latest(ctx, id, versions)
	if err != nil {
		return Measurement{}, err
	}
	return c.build(id, m, raw)
}

func (c *Client) build(id int, m metaDoc, raw []byte) (Measurement, error) {
	kind := Kind(m.Type)
	results, err := ParseResults(kind, raw)
	if err != nil {
		return Measurement{}, errors.Wrapf(err, "measurement %d", id)
	}
	requested := m.ProbesScheduled
	if requested == 0 {
		requested = m.ProbesRequested
	}
	completed := time.Now().UTC()
	if m.StopTime > 0 {
		completed = time.Unix(m.StopTime, 0).UTC()
	}
	return Measurement{
		ID:              strconv.Itoa(id),
		Kind:            kind,
		Target:          m.Target,
		ProbesRequested: requested,
		Status:          m.Status.Name,
		CompletedAt:     completed,
		Results:         results,
	}, nil
}

type WaitOptions struct {
	// PercentageRequired is the share of allocated probes that must report
	// before Wait returns.
	PercentageRequired float64
	// MaxStatusPolls bounds how long a measurement may stay scheduled.
	MaxStatusPolls int
}

// Wait polls a measurement until enough probes have reported or it stops.
// Delays double after every poll. ctx bounds the whole wait.
func (c *Client) Wait(ctx context.Context, id int, requested int, opts WaitOptions) (Measurement, error) {
	if opts.PercentageRequired == 0 {
		opts.PercentageRequired = DefaultPercentageRequired
	}
	if opts.MaxStatusPolls == 0 {
		opts.MaxStatusPolls = 30
	}
	logger := c.cfg.Logger.With(zap.Int("id", id))

	delay := fieldsDelayBase + time.Duration(requested)*fieldsDelayFactor
	var m metaDoc
	for polls := 0; ; polls++ {
		if err := c.cfg.Sleep(ctx, delay); err != nil {
			return Measurement{}, errors.Wrap(err, "waiting for probes")
		}
		delay *= 2
		var err error
		m, err = c.meta(ctx, id)
		if IsNotFound(err) {
			m, err = metaDoc{}, nil
			m.Status.Name = StatusSpecified
		}
		if err != nil {
			return Measurement{}, err
		}
		switch m.Status.Name {
		case StatusSpecified, StatusScheduled:
			if polls+1 >= opts.MaxStatusPolls {
				return Measurement{}, errors.Errorf("measurement %d still %s after %d polls", id, m.Status.Name, polls+1)
			}
			logger.Debug("measurement not started", zap.String("status", m.Status.Name), zap.Duration("next", delay))
			continue
		case StatusOngoing, StatusStopped:
		default:
			return Measurement{}, errors.Wrapf(ErrUnexpected, "measurement %d: %q", id, m.Status.Name)
		}
		break
	}

	allocated := m.ProbesScheduled
	if allocated == 0 {
		allocated = requested
	}
	delay = resultsDelayBase + time.Duration(allocated)*resultsDelayFactor
	for {
		if err := c.cfg.Sleep(ctx, delay); err != nil {
			return Measurement{}, errors.Wrap(err, "waiting for results")
		}
		delay *= 2
		raw, err := c.results(ctx, id)
		if IsNotFound(err) {
			logger.Debug("no results file yet")
			raw, err = []byte("[]"), nil
		}
		if err != nil {
			return Measurement{}, err
		}
		var count []json.RawMessage
		if err := json.Unmarshal(raw, &count); err != nil {
			return Measurement{}, errors.Wrap(err, "decode results")
		}
		if float64(len(count)) >= float64(allocated)*opts.PercentageRequired {
			return c.build(id, m, raw)
		}
		status, err := c.meta(ctx, id)
		if err != nil {
			return Measurement{}, err
		}
		m = status
		switch m.Status.Name {
		case StatusOngoing:
			logger.Debug("waiting for results", zap.Int("reported", len(count)), zap.Int("allocated", allocated), zap.Duration("next", delay))
		case StatusStopped:
			return c.build(id, m, raw)
		default:
			return Measurement{}, errors.Wrapf(ErrUnexpected, "measurement %d: %q", id, m.Status.Name)
		}
	}
}

func (m Measurement) String() string {
	return fmt.Sprintf("#%s %s %s", m.ID, m.Kind, m.Target)
}
