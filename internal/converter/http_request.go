// Package converter turns HTTP requests into service calls.
package converter

import (
	"encoding/json"
	"io"
	"mime"
	"net/http"
	"strconv"
	"strings"

	apierrors "github.com/devrev/replicawatch/internal/errors"
	"github.com/devrev/replicawatch/internal/service"
	"github.com/gorilla/mux"
)

const maxBodyBytes = 1 << 20

// WriteHTTPRequest is the JSON body of POST /v1/write.
type WriteHTTPRequest struct {
	Message string `json:"message"`
	Mirror  *bool  `json:"mirror,omitempty"`
}

// CreateJobHTTPRequest is the JSON body of POST /v1/bulk-load/jobs.
type CreateJobHTTPRequest struct {
	Total     int   `json:"total"`
	StepCount int   `json:"step_count,omitempty"`
	Mirror    *bool `json:"mirror,omitempty"`
}

// WriteRequest is a parsed single write.
type WriteRequest struct {
	Message string
	Mirror  bool
}

// CreateJobRequest is a parsed job creation.
type CreateJobRequest struct {
	Total     int
	StepCount int
	Mirror    bool
}

// HTTPToService parses HTTP requests, applying configured defaults.
type HTTPToService struct {
	mirrorDefault bool
	defaultTotal  int
}

// NewHTTPToService creates a new converter. mirrorDefault applies when a
// request does not carry a mirror flag; defaultTotal when a push load omits total.
func NewHTTPToService(mirrorDefault bool, defaultTotal int) *HTTPToService {
	return &HTTPToService{mirrorDefault: mirrorDefault, defaultTotal: defaultTotal}
}

// WriteRequest accepts a JSON body or a form post with a message field.
func (c *HTTPToService) WriteRequest(r *http.Request) (*WriteRequest, error) {
	if isJSON(r) {
		var body WriteHTTPRequest
		if err := decodeJSON(r, &body); err != nil {
			return nil, err
		}
		return &WriteRequest{Message: body.Message, Mirror: c.mirror(body.Mirror)}, nil
	}

	r.Body = http.MaxBytesReader(nil, r.Body, maxBodyBytes)
	if err := r.ParseForm(); err != nil {
		return nil, apierrors.ClientInput("failed to parse form: %v", err)
	}
	mirror, err := c.mirrorParam(r.Form)
	if err != nil {
		return nil, err
	}
	return &WriteRequest{Message: r.Form.Get("message"), Mirror: mirror}, nil
}

// PushRequest parses GET /v1/bulk-load?total=&mirror=
func (c *HTTPToService) PushRequest(r *http.Request) (*service.PushRequest, error) {
	q := r.URL.Query()
	total, err := intParam(q, "total", c.defaultTotal)
	if err != nil {
		return nil, err
	}
	mirror, err := c.mirrorParam(q)
	if err != nil {
		return nil, err
	}
	return &service.PushRequest{Total: total, Mirror: mirror}, nil
}

// StepRequest parses GET /v1/bulk-load/step?total=&step=&step_count=&mirror=
func (c *HTTPToService) StepRequest(r *http.Request) (*service.StepRequest, error) {
	q := r.URL.Query()
	if q.Get("total") == "" {
		return nil, apierrors.ClientInput("total is required")
	}
	if q.Get("step") == "" {
		return nil, apierrors.ClientInput("step is required")
	}
	total, err := intParam(q, "total", 0)
	if err != nil {
		return nil, err
	}
	step, err := intParam(q, "step", 0)
	if err != nil {
		return nil, err
	}
	stepCount, err := intParam(q, "step_count", 0)
	if err != nil {
		return nil, err
	}
	mirror, err := c.mirrorParam(q)
	if err != nil {
		return nil, err
	}
	return &service.StepRequest{Total: total, Step: step, StepCount: stepCount, Mirror: mirror}, nil
}

// CreateJobRequest parses the JSON body of POST /v1/bulk-load/jobs
func (c *HTTPToService) CreateJobRequest(r *http.Request) (*CreateJobRequest, error) {
	var body CreateJobHTTPRequest
	if err := decodeJSON(r, &body); err != nil {
		return nil, err
	}
	return &CreateJobRequest{Total: body.Total, StepCount: body.StepCount, Mirror: c.mirror(body.Mirror)}, nil
}

// SearchQuery returns the key and value query parameters
func (c *HTTPToService) SearchQuery(r *http.Request) (key, value string) {
	q := r.URL.Query()
	return strings.TrimSpace(q.Get("key")), q.Get("value")
}

// NodeQuery returns the node query parameter
func (c *HTTPToService) NodeQuery(r *http.Request) (string, error) {
	addr := strings.TrimSpace(r.URL.Query().Get("node"))
	if addr == "" {
		return "", apierrors.ClientInput("node is required")
	}
	return addr, nil
}

// JobID extracts the job_id path variable
func (c *HTTPToService) JobID(r *http.Request) (string, error) {
	id := mux.Vars(r)["job_id"]
	if id == "" {
		return "", apierrors.ClientInput("job_id is required")
	}
	return id, nil
}

func (c *HTTPToService) mirror(flag *bool) bool {
	if flag == nil {
		return c.mirrorDefault
	}
	return *flag
}

func (c *HTTPToService) mirrorParam(values map[string][]string) (bool, error) {
	raw := ""
	if v := values["mirror"]; len(v) > 0 {
		raw = strings.TrimSpace(v[0])
	}
	switch strings.ToLower(raw) {
	case "":
		return c.mirrorDefault, nil
	case "on", "yes":
		return true, nil
	case "off", "no":
		return false, nil
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		return false, apierrors.ClientInput("mirror must be a boolean")
	}
	return b, nil
}

func intParam(values map[string][]string, name string, def int) (int, error) {
	v := values[name]
	if len(v) == 0 || strings.TrimSpace(v[0]) == "" {
		return def, nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(v[0]))
	if err != nil {
		return 0, apierrors.ClientInput("%s must be an integer", name)
	}
	return n, nil
}

func isJSON(r *http.Request) bool {
	mt, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	return err == nil && mt == "application/json"
}

func decodeJSON(r *http.Request, dst interface{}) error {
	defer r.Body.Close()
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		return apierrors.ClientInput("failed to read request body: %v", err)
	}
	if err := json.Unmarshal(body, dst); err != nil {
		return apierrors.ClientInput("failed to parse request body: %v", err)
	}
	return nil
}
