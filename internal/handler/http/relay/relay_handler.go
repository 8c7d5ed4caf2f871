package relay

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"pose-relay/internal/metrics"
	"pose-relay/internal/upstream"
	"pose-relay/pkg/logger"
)

// Persister schedules an advisory upload of raw input bytes. It must return
// immediately; the relay never waits on persistence and never learns
// whether it succeeded.
type Persister interface {
	Submit(data []byte, contentType, originalName string)
}

// RelayHandler implements the relay surface: each inbound request becomes
// exactly one backend call, and every request gets a response - a 2xx body,
// the backend's own error reproduced verbatim, or a synthesized 502.
type RelayHandler struct {
	backend *upstream.Client
	sink    Persister // nil when no bucket is configured
}

// NewRelayHandler creates a RelayHandler forwarding to the given backend.
// sink may be nil, in which case save_to_bucket requests skip persistence.
func NewRelayHandler(backend *upstream.Client, sink Persister) *RelayHandler {
	return &RelayHandler{
		backend: backend,
		sink:    sink,
	}
}

// HandleHealth handles GET /health by forwarding to the backend.
// This endpoint always answers: a backend that cannot be reached yields a
// fixed 502 envelope instead of an error.
func (h *RelayHandler) HandleHealth(c echo.Context) error {
	res, err := h.backend.Health(c.Request().Context())
	return h.respond(c, res, err, "Backend unavailable")
}

// HandleAnalyzeFrame handles POST /analyze_frame - JSON passthrough
func (h *RelayHandler) HandleAnalyzeFrame(c echo.Context) error {
	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "failed to read request body"})
	}
	if !json.Valid(body) {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "request body must be valid JSON"})
	}

	res, ferr := h.backend.AnalyzeFrame(c.Request().Context(), body)
	return h.respond(c, res, ferr, "Upstream request failed")
}

// HandleAnalyzeVideo handles POST /analyze_video - multipart re-encode,
// buffered JSON summary back
func (h *RelayHandler) HandleAnalyzeVideo(c echo.Context) error {
	up, ok := h.readUpload(c)
	if !ok {
		return nil // 400 already written
	}
	h.persist(up)

	res, err := h.backend.AnalyzeVideo(c.Request().Context(), up)
	return h.respond(c, res, err, "Upstream request failed")
}

// HandleAnnotateVideo handles POST /annotate_video - multipart re-encode,
// annotated video piped back as a stream
func (h *RelayHandler) HandleAnnotateVideo(c echo.Context) error {
	up, ok := h.readUpload(c)
	if !ok {
		return nil
	}
	h.persist(up)

	st, err := h.backend.AnnotateVideo(c.Request().Context(), up)
	return h.respondStream(c, st, err)
}

// HandleAnnotateVideoAsync handles POST /annotate_video_async - submits the
// job and returns the backend's {job_id} answer verbatim
func (h *RelayHandler) HandleAnnotateVideoAsync(c echo.Context) error {
	up, ok := h.readUpload(c)
	if !ok {
		return nil
	}
	h.persist(up)

	res, err := h.backend.SubmitAnnotateJob(c.Request().Context(), up)
	return h.respond(c, res, err, "Upstream request failed")
}

// HandleAnnotateProgress handles GET /annotate_progress/:jobId.
// Every call is a live backend round-trip; the relay never caches a job
// status and never re-submits the job.
func (h *RelayHandler) HandleAnnotateProgress(c echo.Context) error {
	res, err := h.backend.JobProgress(c.Request().Context(), c.Param("jobId"))
	return h.respond(c, res, err, "Upstream request failed")
}

// HandleAnnotateResult handles GET /annotate_result/:jobId.
// Whether the job is finished is the backend's call: an early fetch is
// forwarded as-is and the backend's answer (409, 404, ...) relayed back.
func (h *RelayHandler) HandleAnnotateResult(c echo.Context) error {
	st, err := h.backend.JobResult(c.Request().Context(), c.Param("jobId"))
	return h.respondStream(c, st, err)
}

// readUpload extracts the single uploaded file and the save_to_bucket flag
// from the multipart form. A missing file is a client error answered
// locally with 400 before any network call; ok=false signals the response
// has already been written.
func (h *RelayHandler) readUpload(c echo.Context) (upstream.Upload, bool) {
	fh, err := c.FormFile("file")
	if err != nil {
		_ = c.JSON(http.StatusBadRequest, echo.Map{"error": "multipart field 'file' is required"})
		return upstream.Upload{}, false
	}

	f, err := fh.Open()
	if err != nil {
		_ = c.JSON(http.StatusBadRequest, echo.Map{"error": "failed to open uploaded file"})
		return upstream.Upload{}, false
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		_ = c.JSON(http.StatusBadRequest, echo.Map{"error": "failed to read uploaded file"})
		return upstream.Upload{}, false
	}

	persist, _ := strconv.ParseBool(c.FormValue("save_to_bucket"))

	return upstream.Upload{
		Data:         data,
		Filename:     fh.Filename,
		ContentType:  fh.Header.Get("Content-Type"),
		SaveToBucket: persist,
	}, true
}

// persist schedules the advisory sink upload when the client opted in.
// It must be called before the principal forward but never delays it:
// Submit returns immediately and failures stay inside the dispatcher.
func (h *RelayHandler) persist(up upstream.Upload) {
	if !up.SaveToBucket || h.sink == nil {
		return
	}
	h.sink.Submit(up.Data, up.ContentType, up.Filename)
}

// respond translates a buffered upstream outcome into the HTTP response.
// Application errors (non-2xx with a body) are reproduced byte-for-byte so
// the backend's error taxonomy survives the relay; transport failures
// become a 502 with a short envelope and nothing else.
func (h *RelayHandler) respond(c echo.Context, res *upstream.Response, err error, errMsg string) error {
	if err != nil {
		logger.Error("Upstream call failed: %v", err)
		metrics.UpstreamTransportErrorsCounter.Inc()
		return c.JSON(http.StatusBadGateway, echo.Map{"error": errMsg, "detail": shortDetail(err)})
	}

	if !res.OK() {
		metrics.UpstreamErrorResponsesCounter.Inc()
	}

	contentType := res.Header.Get(echo.HeaderContentType)
	if contentType == "" {
		contentType = echo.MIMEApplicationJSON
	}
	return c.Blob(res.Status, contentType, res.Body)
}

// respondStream is the streaming counterpart of respond. A 2xx stream is
// piped through a fixed-size copy buffer so a slow client throttles the
// backend read symmetrically; the whole body is never held in memory.
func (h *RelayHandler) respondStream(c echo.Context, st *upstream.Stream, err error) error {
	if err != nil {
		logger.Error("Upstream call failed: %v", err)
		metrics.UpstreamTransportErrorsCounter.Inc()
		return c.JSON(http.StatusBadGateway, echo.Map{"error": "Upstream request failed", "detail": shortDetail(err)})
	}
	defer st.Body.Close()

	if !st.OK() {
		// Structured backend errors are small JSON bodies; buffer and relay verbatim.
		metrics.UpstreamErrorResponsesCounter.Inc()
		body, rerr := io.ReadAll(st.Body)
		if rerr != nil {
			metrics.UpstreamTransportErrorsCounter.Inc()
			return c.JSON(http.StatusBadGateway, echo.Map{"error": "Upstream request failed", "detail": shortDetail(rerr)})
		}
		contentType := st.Header.Get(echo.HeaderContentType)
		if contentType == "" {
			contentType = echo.MIMEApplicationJSON
		}
		return c.Blob(st.Status, contentType, body)
	}

	if cd := st.Header.Get(echo.HeaderContentDisposition); cd != "" {
		c.Response().Header().Set(echo.HeaderContentDisposition, cd)
	}
	c.Response().Header().Set(echo.HeaderContentType, "video/mp4")
	c.Response().WriteHeader(st.Status)

	buf := make([]byte, 32*1024)
	n, cerr := io.CopyBuffer(c.Response(), st.Body, buf)
	metrics.StreamedBytesCounter.Add(float64(n))
	if cerr != nil {
		// Headers are gone; nothing left to do but note the broken pipe.
		logger.Warn("Stream interrupted after %d bytes: %v", n, cerr)
	}
	return nil
}

// shortDetail keeps transport error text to a single short string so
// internal paths and stack traces never reach clients
func shortDetail(err error) string {
	const max = 200
	s := err.Error()
	if len(s) > max {
		s = s[:max]
	}
	return s
}
