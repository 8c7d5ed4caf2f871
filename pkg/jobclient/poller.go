package jobclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"go.uber.org/atomic"

	"pose-relay/pkg/logger"
)

// State identifies where the poller is in a job's lifecycle
type State int32

const (
	StateIdle State = iota
	StateSubmitting
	StatePolling
	StateDownloading
	StateComplete
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateSubmitting:
		return "submitting"
	case StatePolling:
		return "polling"
	case StateDownloading:
		return "downloading"
	case StateComplete:
		return "complete"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// DefaultPollInterval is the fixed period between status queries
const DefaultPollInterval = 800 * time.Millisecond

// Upload is the file handed to Start. The poller re-encodes it as the
// relay's multipart submission body.
type Upload struct {
	Data         []byte
	Filename     string
	ContentType  string
	SaveToBucket bool
}

// Status mirrors the job-status JSON the relay carries from the backend.
// Field names are part of the wire contract and must not change.
type Status struct {
	Status    string   `json:"status"`
	Processed int      `json:"processed"`
	Total     *int     `json:"total"`
	Percent   *float64 `json:"percent"`
	Error     string   `json:"error"`
}

// Terminal reports whether this status ends the polling loop
func (s Status) Terminal() bool {
	return s.Status == "done" || s.Status == "error"
}

type submitResponse struct {
	JobID string `json:"job_id"`
}

// Callbacks deliver lifecycle notifications. All fields are optional.
// They are invoked from the poller's goroutine, never concurrently with
// each other for the same job.
type Callbacks struct {
	OnState    func(s State)
	OnProgress func(st Status)
	OnResult   func(data []byte, filename string)
	OnError    func(err error)
}

// Poller drives one async annotation job at a time from submission to a
// terminal state: submit, poll on a fixed period until done or error, then
// fetch the result exactly once. It is decoupled from any rendering layer;
// a UI observes it solely through Callbacks.
//
// At most one polling timer is ever active. Starting a new job cancels the
// previous one deterministically, and no further network calls are issued
// after a terminal state.
type Poller struct {
	relayURL string
	client   *http.Client
	interval time.Duration
	cb       Callbacks

	state atomic.Int32

	mu     sync.Mutex
	cancel context.CancelFunc // active job; nil when no timer is live
	gen    uint64             // incremented per Start; guards release
}

// NewPoller creates a Poller against the given relay base URL.
// interval <= 0 selects DefaultPollInterval.
func NewPoller(relayURL string, interval time.Duration, cb Callbacks) *Poller {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return &Poller{
		relayURL: relayURL,
		client:   &http.Client{},
		interval: interval,
		cb:       cb,
	}
}

// State returns the current lifecycle state
func (p *Poller) State() State {
	return State(p.state.Load())
}

// Start submits the upload and begins polling in the background.
// Any job already in flight is cancelled first; its timer stops before the
// new one starts.
func (p *Poller) Start(ctx context.Context, up Upload) {
	p.mu.Lock()
	if p.cancel != nil {
		p.cancel()
	}
	jobCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.gen++
	gen := p.gen
	p.mu.Unlock()

	p.setState(StateSubmitting)
	go func() {
		// The job context must not outlive its run, whichever way it ends.
		defer cancel()
		p.run(jobCtx, gen, up)
	}()
}

// Stop cancels the active job, if any. Safe to call repeatedly and when
// nothing is running.
func (p *Poller) Stop() {
	p.mu.Lock()
	if p.cancel != nil {
		p.cancel()
		p.cancel = nil
	}
	p.mu.Unlock()
}

func (p *Poller) run(ctx context.Context, gen uint64, up Upload) {
	jobID, err := p.submit(ctx, up)
	if err != nil {
		p.fail(ctx, gen, fmt.Errorf("submit: %w", err))
		return
	}
	logger.Debug("Job %s submitted, polling every %v", jobID, p.interval)
	p.setState(StatePolling)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			// Replaced by a newer job or stopped; exit without touching state.
			return
		case <-ticker.C:
			st, err := p.poll(ctx, jobID)
			if err != nil {
				// No retry-on-poll-failure: one bad poll ends the job.
				p.fail(ctx, gen, fmt.Errorf("poll %s: %w", jobID, err))
				return
			}
			if p.cb.OnProgress != nil {
				p.cb.OnProgress(st)
			}

			switch st.Status {
			case "done":
				ticker.Stop()
				p.setState(StateDownloading)
				data, filename, err := p.fetchResult(ctx, jobID)
				if err != nil {
					p.fail(ctx, gen, fmt.Errorf("fetch result %s: %w", jobID, err))
					return
				}
				p.release(gen)
				p.setState(StateComplete)
				if p.cb.OnResult != nil {
					p.cb.OnResult(data, filename)
				}
				return
			case "error":
				p.fail(ctx, gen, fmt.Errorf("job %s failed: %s", jobID, st.Error))
				return
			}
			// pending / processing / running: keep the timer going
		}
	}
}

func (p *Poller) fail(ctx context.Context, gen uint64, err error) {
	if ctx.Err() != nil {
		// Cancellation is not a failure.
		return
	}
	p.release(gen)
	p.setState(StateFailed)
	logger.Warn("Job poller failed: %v", err)
	if p.cb.OnError != nil {
		p.cb.OnError(err)
	}
}

// release cancels and drops the stored CancelFunc, but only when it still
// belongs to this run; a newer Start owns it otherwise.
func (p *Poller) release(gen uint64) {
	p.mu.Lock()
	if p.gen == gen && p.cancel != nil {
		p.cancel()
		p.cancel = nil
	}
	p.mu.Unlock()
}

func (p *Poller) setState(s State) {
	p.state.Store(int32(s))
	if p.cb.OnState != nil {
		p.cb.OnState(s)
	}
}

func (p *Poller) submit(ctx context.Context, up Upload) (string, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", up.Filename)
	if err != nil {
		return "", err
	}
	if _, err := part.Write(up.Data); err != nil {
		return "", err
	}
	if err := mw.WriteField("save_to_bucket", strconv.FormatBool(up.SaveToBucket)); err != nil {
		return "", err
	}
	if err := mw.Close(); err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.relayURL+"/annotate_video_async", &body)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := p.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("submission returned %d: %s", resp.StatusCode, snippet)
	}

	var sub submitResponse
	if err := json.NewDecoder(resp.Body).Decode(&sub); err != nil {
		return "", fmt.Errorf("decode submission response: %w", err)
	}
	if sub.JobID == "" {
		return "", fmt.Errorf("submission response carried no job_id")
	}
	return sub.JobID, nil
}

func (p *Poller) poll(ctx context.Context, jobID string) (Status, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.relayURL+"/annotate_progress/"+url.PathEscape(jobID), nil)
	if err != nil {
		return Status{}, err
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return Status{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return Status{}, fmt.Errorf("status query returned %d: %s", resp.StatusCode, snippet)
	}

	var st Status
	if err := json.NewDecoder(resp.Body).Decode(&st); err != nil {
		return Status{}, fmt.Errorf("decode status: %w", err)
	}
	return st, nil
}

// fetchResult downloads the finished job's video. The bytes are opaque to
// the poller; the caller decides what saving them means.
func (p *Poller) fetchResult(ctx context.Context, jobID string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.relayURL+"/annotate_result/"+url.PathEscape(jobID), nil)
	if err != nil {
		return nil, "", err
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, "", fmt.Errorf("result fetch returned %d: %s", resp.StatusCode, snippet)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", err
	}

	filename := "annotated.mp4"
	if cd := resp.Header.Get("Content-Disposition"); cd != "" {
		if _, params, err := mime.ParseMediaType(cd); err == nil {
			if fn := params["filename"]; fn != "" {
				filename = fn
			}
		}
	}
	return data, filename, nil
}
