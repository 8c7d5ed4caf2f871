package upstream

import (
	"bytes"
	"context"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Upload is one client-provided file held for the duration of a single
// in-flight request: raw bytes, the declared filename and content type,
// and whether the caller opted into advisory persistence.
type Upload struct {
	Data         []byte
	Filename     string
	ContentType  string
	SaveToBucket bool
}

// Timeouts fixes the per-operation upstream deadlines. Status checks are
// short, frame analysis is bounded by inference latency, synchronous video
// work can run for minutes, and async submission only waits for the job to
// be accepted.
type Timeouts struct {
	Status time.Duration
	Frame  time.Duration
	Video  time.Duration
	Submit time.Duration
}

// Client issues the backend calls the relay forwards. Every method performs
// exactly one round-trip: no retries, no caching. Structured upstream
// answers come back as *Response/*Stream regardless of status code;
// a non-nil error is always a *TransportError.
type Client struct {
	baseURL string

	statusClient *http.Client
	frameClient  *http.Client
	videoClient  *http.Client
	submitClient *http.Client
}

// New creates a Client for the given backend base URL.
// Per-operation timeouts are fixed at construction.
func New(baseURL string, t Timeouts) *Client {
	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   50,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}

	return &Client{
		baseURL:      strings.TrimRight(baseURL, "/"),
		statusClient: &http.Client{Transport: transport, Timeout: t.Status},
		frameClient:  &http.Client{Transport: transport, Timeout: t.Frame},
		videoClient:  &http.Client{Transport: transport, Timeout: t.Video},
		submitClient: &http.Client{Transport: transport, Timeout: t.Submit},
	}
}

// Health performs GET /health against the backend
func (c *Client) Health(ctx context.Context) (*Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return nil, &TransportError{Op: "health", Err: err}
	}
	return c.doBuffered(c.statusClient, req, "health")
}

// AnalyzeFrame forwards a JSON frame-analysis request verbatim
func (c *Client) AnalyzeFrame(ctx context.Context, body []byte) (*Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/analyze_frame", bytes.NewReader(body))
	if err != nil {
		return nil, &TransportError{Op: "analyze_frame", Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	return c.doBuffered(c.frameClient, req, "analyze_frame")
}

// AnalyzeVideo re-encodes the upload as multipart and waits for the full
// JSON summary. This can take minutes for long videos.
func (c *Client) AnalyzeVideo(ctx context.Context, up Upload) (*Response, error) {
	req, err := c.newMultipartRequest(ctx, "/analyze_video", up)
	if err != nil {
		return nil, &TransportError{Op: "analyze_video", Err: err}
	}
	return c.doBuffered(c.videoClient, req, "analyze_video")
}

// AnnotateVideo re-encodes the upload as multipart and returns the
// annotated video as an unread stream
func (c *Client) AnnotateVideo(ctx context.Context, up Upload) (*Stream, error) {
	req, err := c.newMultipartRequest(ctx, "/annotate_video", up)
	if err != nil {
		return nil, &TransportError{Op: "annotate_video", Err: err}
	}
	return c.doStream(c.videoClient, req, "annotate_video")
}

// SubmitAnnotateJob starts an async annotation job and returns the
// upstream {job_id} response. The work itself happens out-of-band and is
// observed via JobProgress.
func (c *Client) SubmitAnnotateJob(ctx context.Context, up Upload) (*Response, error) {
	req, err := c.newMultipartRequest(ctx, "/annotate_video_async", up)
	if err != nil {
		return nil, &TransportError{Op: "annotate_video_async", Err: err}
	}
	return c.doBuffered(c.submitClient, req, "annotate_video_async")
}

// JobProgress fetches the live job status by identifier. Every call is a
// fresh upstream round-trip; the relay never caches or re-submits.
func (c *Client) JobProgress(ctx context.Context, jobID string) (*Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/annotate_progress/"+url.PathEscape(jobID), nil)
	if err != nil {
		return nil, &TransportError{Op: "annotate_progress", Err: err}
	}
	return c.doBuffered(c.statusClient, req, "annotate_progress")
}

// JobResult fetches the finished job's annotated video as an unread stream.
// Whether the job is actually done is the backend's call to make - an early
// fetch is forwarded as-is and the backend's answer relayed unchanged.
func (c *Client) JobResult(ctx context.Context, jobID string) (*Stream, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/annotate_result/"+url.PathEscape(jobID), nil)
	if err != nil {
		return nil, &TransportError{Op: "annotate_result", Err: err}
	}
	return c.doStream(c.videoClient, req, "annotate_result")
}

// newMultipartRequest builds a POST whose body is the upload re-encoded as
// multipart/form-data: the file part plus the save_to_bucket flag. The body
// is produced through a pipe so the encoded form is never held in memory
// alongside the raw bytes.
func (c *Client) newMultipartRequest(ctx context.Context, path string, up Upload) (*http.Request, error) {
	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)

	go func() {
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", `form-data; name="file"; filename="`+escapeQuotes(up.Filename)+`"`)
		contentType := up.ContentType
		if contentType == "" {
			contentType = "application/octet-stream"
		}
		h.Set("Content-Type", contentType)

		part, err := mw.CreatePart(h)
		if err != nil {
			pw.CloseWithError(err)
			return
		}
		if _, err := part.Write(up.Data); err != nil {
			pw.CloseWithError(err)
			return
		}
		if err := mw.WriteField("save_to_bucket", strconv.FormatBool(up.SaveToBucket)); err != nil {
			pw.CloseWithError(err)
			return
		}
		pw.CloseWithError(mw.Close())
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, pr)
	if err != nil {
		pr.Close()
		return nil, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req, nil
}

func (c *Client) doBuffered(client *http.Client, req *http.Request, op string) (*Response, error) {
	resp, err := client.Do(req)
	if err != nil {
		return nil, &TransportError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &TransportError{Op: op, Err: err}
	}
	return &Response{Status: resp.StatusCode, Header: resp.Header, Body: body}, nil
}

func (c *Client) doStream(client *http.Client, req *http.Request, op string) (*Stream, error) {
	resp, err := client.Do(req)
	if err != nil {
		return nil, &TransportError{Op: op, Err: err}
	}
	return &Stream{Status: resp.StatusCode, Header: resp.Header, Body: resp.Body}, nil
}

func escapeQuotes(s string) string {
	return strings.NewReplacer("\\", "\\\\", `"`, "\\\"").Replace(s)
}
