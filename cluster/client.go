package cluster

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/goccy/go-json"

	"github.com/tsawler/go-nabu/checkpoints"
	"github.com/tsawler/go-nabu/training"
)

// Client is a worker's remote view of a parameter server
type Client struct {
	base  string
	http  *http.Client
	id    string
	chief bool
}

// NewClient creates a client of the parameter server at address for the
// replica id. Requests carry no timeout: acquiring the reader and submitting
// gradients block until the server answers, so bound them with the context.
func NewClient(address, id string, chief bool) *Client {
	if !strings.HasPrefix(address, "http://") && !strings.HasPrefix(address, "https://") {
		address = "http://" + address
	}
	return &Client{
		base:  strings.TrimSuffix(address, "/"),
		http:  &http.Client{},
		id:    id,
		chief: chief,
	}
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to encode %s request: %v", path, err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		message := errorMessage(resp)
		if resp.StatusCode == http.StatusConflict {
			return fmt.Errorf("%w: %s", training.ErrStaleStep, message)
		}
		return fmt.Errorf("%s %s: bad status %s: %s", method, path, resp.Status, message)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode %s response: %v", path, err)
	}
	return nil
}

// errorMessage extracts the error of a failed response. Bodies that are not
// an errorResponse are reported raw, empty bodies by their status.
func errorMessage(resp *http.Response) string {
	data, err := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err != nil {
		return fmt.Sprintf("%s (failed to read body: %v)", resp.Status, err)
	}

	var errResp errorResponse
	if err := json.Unmarshal(data, &errResp); err == nil && errResp.Error != "" {
		return errResp.Error
	}
	if body := strings.TrimSpace(string(data)); body != "" {
		return body
	}
	return resp.Status
}

// Health checks that the parameter server is reachable
func (c *Client) Health(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/healthz", nil, nil)
}

func (c *Client) IsChief() bool {
	return c.chief
}

func (c *Client) CurrentStep(ctx context.Context) (uint64, error) {
	var resp stepMessage
	err := c.do(ctx, http.MethodGet, "/step", nil, &resp)
	return resp.Step, err
}

func (c *Client) SubmitGradient(ctx context.Context, step uint64, grads training.Gradients) (training.Update, error) {
	req := gradientRequest{
		Replica:   c.id,
		Step:      step,
		Gradients: grads,
	}
	var update training.Update
	err := c.do(ctx, http.MethodPost, "/gradients", req, &update)
	return update, err
}

func (c *Client) Parameters(ctx context.Context) (training.Parameters, error) {
	var resp parametersMessage
	if err := c.do(ctx, http.MethodGet, "/parameters", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Parameters, nil
}

func (c *Client) OptimizerState(ctx context.Context) (*checkpoints.OptimizerState, error) {
	var resp optimizerMessage
	if err := c.do(ctx, http.MethodGet, "/optimizer", nil, &resp); err != nil {
		return nil, err
	}
	return resp.State, nil
}

func (c *Client) AcquireReader(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/reader/acquire", nil, nil)
}

func (c *Client) ReleaseReader(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/reader/release", nil, nil)
}

func (c *Client) Position(ctx context.Context) (uint64, error) {
	var resp positionMessage
	err := c.do(ctx, http.MethodGet, "/position", nil, &resp)
	return resp.Position, err
}

func (c *Client) SetPosition(ctx context.Context, position uint64) error {
	return c.do(ctx, http.MethodPut, "/position", positionMessage{Position: position}, nil)
}

func (c *Client) ClaimValidation(ctx context.Context, step uint64, frequency int) (bool, error) {
	var resp claimResponse
	err := c.do(ctx, http.MethodPost, "/validation/claim", claimRequest{Step: step, Frequency: frequency}, &resp)
	return resp.Claimed, err
}

func (c *Client) ValidationLoss(ctx context.Context) (float64, error) {
	var resp lossMessage
	if err := c.do(ctx, http.MethodGet, "/validation/loss", nil, &resp); err != nil {
		return 0, err
	}
	return checkpoints.DecodeLoss(resp.Loss), nil
}

func (c *Client) SetValidationLoss(ctx context.Context, loss float64) error {
	return c.do(ctx, http.MethodPut, "/validation/loss", lossMessage{Loss: checkpoints.EncodeLoss(loss)}, nil)
}

func (c *Client) HalveLearningRate(ctx context.Context) (float64, error) {
	var resp factorMessage
	err := c.do(ctx, http.MethodPost, "/lr/halve", nil, &resp)
	return resp.Factor, err
}

func (c *Client) SetSparsityFactor(ctx context.Context, factor float64) error {
	return c.do(ctx, http.MethodPut, "/sparsity", factorMessage{Factor: factor}, nil)
}

func (c *Client) Snapshot(ctx context.Context) (training.State, error) {
	var resp stateMessage
	if err := c.do(ctx, http.MethodGet, "/state", nil, &resp); err != nil {
		return training.State{}, err
	}
	state := training.StateFromDurable(resp.State)
	state.Reading = resp.Reading
	return state, nil
}

var (
	_ training.Replica              = (*Client)(nil)
	_ training.OptimizerStateSource = (*Client)(nil)
)
