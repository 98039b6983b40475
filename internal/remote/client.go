package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
	"golang.org/x/exp/slices"

	"github.com/ln64-git/dynamic-server-app-template/internal/dispatch"
	"github.com/ln64-git/dynamic-server-app-template/internal/observability/logger"
	"github.com/ln64-git/dynamic-server-app-template/internal/state"
	"github.com/ln64-git/dynamic-server-app-template/internal/wire"
)

// DefaultTimeout bounds a single forwarded request.
const DefaultTimeout = 5 * time.Second

const maxErrorBody = 64 << 10

// Client talks to a serving instance over the wire protocol.
type Client struct {
	http *http.Client
	log  *zap.Logger
}

// NewClient returns a client whose requests time out after timeout
// (DefaultTimeout if <= 0).
func NewClient(timeout time.Duration, log *zap.Logger) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		http: &http.Client{Timeout: timeout},
		log:  logger.Or(log, "remote"),
	}
}

// ReadState fetches the peer's current snapshot.
func (c *Client) ReadState(ctx context.Context, addr wire.Address) (state.Snapshot, error) {
	var snap state.Snapshot
	if err := c.getJSON(ctx, addr.URL()+wire.StatePath, &snap); err != nil {
		return nil, err
	}
	if snap == nil {
		snap = state.Snapshot{}
	}
	return snap, nil
}

// WriteState sends patch to the peer and returns the resulting snapshot.
// Transport failures are logged here; callers decide whether to surface them.
func (c *Client) WriteState(ctx context.Context, addr wire.Address, patch state.Patch) (state.Snapshot, error) {
	if patch == nil {
		patch = state.Patch{}
	}
	var resp wire.StateResponse
	if err := c.postJSON(ctx, addr.URL()+wire.StatePath, patch, &resp); err != nil {
		if IsTransport(err) {
			c.log.Warn("write state failed", logger.Addr(addr.String()), logger.Err(err))
		}
		return nil, err
	}
	if resp.State == nil {
		resp.State = state.Snapshot{}
	}
	return resp.State, nil
}

// CallOperation invokes name on the peer with positional args and returns
// the raw JSON result.
func (c *Client) CallOperation(ctx context.Context, addr wire.Address, name string, args []json.RawMessage) (json.RawMessage, error) {
	// Reserved names are routes, never operations, on any peer.
	if slices.Contains(dispatch.DefaultReserved, name) {
		return nil, &dispatch.NotFoundError{Name: name}
	}
	if args == nil {
		args = []json.RawMessage{}
	}
	var resp wire.CallResponse
	err := c.postJSON(ctx, addr.URL()+wire.OperationPath(name), args, &resp)
	if err != nil {
		var re *RemoteError
		if errors.As(err, &re) && re.Status == http.StatusNotFound {
			return nil, &dispatch.NotFoundError{Name: name}
		}
		return nil, err
	}
	if len(resp.Result) == 0 {
		return json.RawMessage("null"), nil
	}
	return resp.Result, nil
}

func (c *Client) postJSON(ctx context.Context, url string, body any, out any) error {
	reqBody, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(reqBody))
	if err != nil {
		return &TransportError{Op: http.MethodPost, URL: url, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *Client) getJSON(ctx context.Context, url string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return &TransportError{Op: http.MethodGet, URL: url, Err: err}
	}
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	url := req.URL.String()
	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return &TransportError{Op: req.Method, URL: url, Err: err}
	}
	defer resp.Body.Close()

	c.log.Debug("forwarded",
		logger.Method(req.Method),
		logger.Path(req.URL.Path),
		logger.Status(resp.StatusCode),
		logger.Duration(time.Since(start)),
	)

	if resp.StatusCode >= 300 {
		return remoteError(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &TransportError{Op: req.Method, URL: url, Err: err}
	}
	return nil
}

func remoteError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	var body wire.ErrorResponse
	if json.Unmarshal(raw, &body) != nil || body.Error == "" {
		body.Error = string(bytes.TrimSpace(raw))
	}
	return &RemoteError{Status: resp.StatusCode, Message: body.Error}
}
