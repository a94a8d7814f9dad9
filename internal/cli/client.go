package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/shaiso/Cadence/internal/domain"
)

// --- Response types (дублируются из api/dto.go, CLI не импортирует internal/api) ---

// FlowResponse — flow из API.
type FlowResponse struct {
	ID          string           `json:"id"`
	Name        string           `json:"name"`
	Description string           `json:"description,omitempty"`
	Graph       domain.FlowGraph `json:"graph"`
	IsActive    bool             `json:"is_active"`
	CreatedAt   string           `json:"created_at"`
}

// ExecutionResponse — execution из API.
type ExecutionResponse struct {
	ID            string `json:"id"`
	FlowID        string `json:"flow_id"`
	State         string `json:"state"`
	Contacts      int    `json:"contacts"`
	CurrentNode   string `json:"current_node,omitempty"`
	NextNode      string `json:"next_node,omitempty"`
	NextNodeDueAt string `json:"next_node_due_at,omitempty"`
	Error         string `json:"error,omitempty"`
	StartedAt     string `json:"started_at,omitempty"`
	FinishedAt    string `json:"finished_at,omitempty"`
	CreatedAt     string `json:"created_at"`
}

// ProgressResponse — сводка по execution из API.
type ProgressResponse struct {
	Execution   ExecutionResponse            `json:"execution"`
	StageCounts map[string]int               `json:"stage_counts"`
	Placeholder int                          `json:"placeholder_stages"`
	Sent        int                          `json:"sent"`
	Failed      int                          `json:"failed"`
	CostUnits   int                          `json:"cost_units"`
	Evaluations []domain.ConditionEvaluation `json:"evaluations"`
}

// TickResponse — итог тика из API.
type TickResponse struct {
	Due      int `json:"due"`
	Advanced int `json:"advanced"`
	Skipped  int `json:"skipped"`
	Failed   int `json:"failed"`
	Requeued int `json:"requeued"`
}

// WindowResponse — использование окна rate limiter.
type WindowResponse struct {
	Used int64 `json:"used"`
	Cap  int   `json:"cap"`
}

// ChannelResponse — состояние канала из API.
type ChannelResponse struct {
	Channel string `json:"channel"`
	Breaker struct {
		State     string `json:"state"`
		Failures  int64  `json:"failures"`
		Threshold int    `json:"threshold"`
		OpenedAt  string `json:"opened_at,omitempty"`
		ReopensAt string `json:"reopens_at,omitempty"`
	} `json:"breaker"`
	RateLimit struct {
		Second WindowResponse `json:"second"`
		Minute WindowResponse `json:"minute"`
		Hour   WindowResponse `json:"hour"`
	} `json:"rate_limit"`
}

// JobResponse — запись журнала задач из API.
type JobResponse struct {
	ID            string `json:"id"`
	Kind          string `json:"kind"`
	ExecutionID   string `json:"execution_id"`
	StageID       string `json:"stage_id"`
	State         string `json:"state"`
	Attempts      int    `json:"attempts"`
	MaxAttempts   int    `json:"max_attempts"`
	Error         string `json:"error,omitempty"`
	NextAttemptAt string `json:"next_attempt_at,omitempty"`
	CreatedAt     string `json:"created_at"`
}

// --- Request types ---

// CreateFlowRequest — создание flow.
type CreateFlowRequest struct {
	Name        string           `json:"name"`
	Description string           `json:"description,omitempty"`
	Graph       domain.FlowGraph `json:"graph"`
	IsActive    *bool            `json:"is_active,omitempty"`
}

// RunFlowRequest — запуск flow.
type RunFlowRequest struct {
	ContactIDs []string   `json:"contact_ids"`
	StartAt    *time.Time `json:"start_at,omitempty"`
}

// ListExecutionsOpts — параметры фильтрации executions.
type ListExecutionsOpts struct {
	FlowID string
	State  string
	Limit  int
}

// ListJobsOpts — параметры фильтрации журнала задач.
type ListJobsOpts struct {
	State string
	Kind  string
	Limit int
}

// --- API response wrappers ---

type dataResponse struct {
	Data json.RawMessage `json:"data"`
}

type listResponse struct {
	Data  json.RawMessage `json:"data"`
	Total int             `json:"total"`
}

type errorResponse struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// --- Client ---

// Client — HTTP-клиент для Cadence API.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient создаёт клиент для API.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// --- Flows ---

// ListFlows возвращает flows.
func (c *Client) ListFlows() ([]FlowResponse, error) {
	var flows []FlowResponse
	err := c.list("/api/v1/flows", nil, &flows)
	return flows, err
}

// CreateFlow создаёт новый flow.
func (c *Client) CreateFlow(req CreateFlowRequest) (*FlowResponse, error) {
	var flow FlowResponse
	err := c.post("/api/v1/flows", req, &flow)
	return &flow, err
}

// GetFlow возвращает flow по ID.
func (c *Client) GetFlow(id string) (*FlowResponse, error) {
	var flow FlowResponse
	err := c.get("/api/v1/flows/"+id, &flow)
	return &flow, err
}

// --- Executions ---

// RunFlow запускает flow.
func (c *Client) RunFlow(flowID string, req RunFlowRequest) (*ExecutionResponse, error) {
	var exec ExecutionResponse
	err := c.post("/api/v1/flows/"+flowID+"/executions", req, &exec)
	return &exec, err
}

// ListExecutions возвращает executions с фильтрацией.
func (c *Client) ListExecutions(opts ListExecutionsOpts) ([]ExecutionResponse, error) {
	params := url.Values{}
	if opts.FlowID != "" {
		params.Set("flow_id", opts.FlowID)
	}
	if opts.State != "" {
		params.Set("state", opts.State)
	}
	if opts.Limit > 0 {
		params.Set("limit", strconv.Itoa(opts.Limit))
	}

	var execs []ExecutionResponse
	err := c.list("/api/v1/executions", params, &execs)
	return execs, err
}

// GetProgress возвращает сводку по execution.
func (c *Client) GetProgress(id string) (*ProgressResponse, error) {
	var p ProgressResponse
	err := c.get("/api/v1/executions/"+id, &p)
	return &p, err
}

// ListStages возвращает стадии execution.
func (c *Client) ListStages(id string) ([]domain.ExecutionStage, error) {
	var stages []domain.ExecutionStage
	err := c.list("/api/v1/executions/"+id+"/stages", nil, &stages)
	return stages, err
}

// ListEvaluations возвращает результаты условий execution.
func (c *Client) ListEvaluations(id string) ([]domain.ConditionEvaluation, error) {
	var evals []domain.ConditionEvaluation
	err := c.list("/api/v1/executions/"+id+"/evaluations", nil, &evals)
	return evals, err
}

// ChangeState выполняет pause, resume или cancel.
func (c *Client) ChangeState(id, action string) (*ExecutionResponse, error) {
	var exec ExecutionResponse
	err := c.post("/api/v1/executions/"+id+"/"+action, nil, &exec)
	return &exec, err
}

// --- Operations ---

// Tick выполняет один тик планировщика.
func (c *Client) Tick() (*TickResponse, error) {
	var res TickResponse
	err := c.post("/api/v1/tick", nil, &res)
	return &res, err
}

// ChannelStatus возвращает состояние канала.
func (c *Client) ChannelStatus(channel string) (*ChannelResponse, error) {
	var st ChannelResponse
	err := c.get("/api/v1/channels/"+url.PathEscape(channel), &st)
	return &st, err
}

// ResetBreaker закрывает breaker канала.
func (c *Client) ResetBreaker(channel string) (*ChannelResponse, error) {
	var st ChannelResponse
	err := c.post("/api/v1/channels/"+url.PathEscape(channel)+"/breaker/reset", nil, &st)
	return &st, err
}

// ListJobs возвращает записи журнала задач.
func (c *Client) ListJobs(opts ListJobsOpts) ([]JobResponse, error) {
	params := url.Values{}
	if opts.State != "" {
		params.Set("state", opts.State)
	}
	if opts.Kind != "" {
		params.Set("kind", opts.Kind)
	}
	if opts.Limit > 0 {
		params.Set("limit", strconv.Itoa(opts.Limit))
	}

	var jobs []JobResponse
	err := c.list("/api/v1/jobs", params, &jobs)
	return jobs, err
}

// RetryJob перезапускает failed задачу.
func (c *Client) RetryJob(id string) (*JobResponse, error) {
	var job JobResponse
	err := c.post("/api/v1/jobs/"+id+"/retry", nil, &job)
	return &job, err
}

// ClearFailedJobs удаляет failed задачи.
func (c *Client) ClearFailedJobs() (int, error) {
	var res struct {
		Deleted int `json:"deleted"`
	}
	err := c.doData(http.MethodDelete, "/api/v1/jobs/failed", nil, &res)
	return res.Deleted, err
}

// --- HTTP helpers ---

func (c *Client) get(path string, result any) error {
	return c.doData(http.MethodGet, path, nil, result)
}

func (c *Client) post(path string, body any, result any) error {
	return c.doData(http.MethodPost, path, body, result)
}

func (c *Client) list(path string, params url.Values, result any) error {
	if len(params) > 0 {
		path = path + "?" + params.Encode()
	}

	resp, err := c.do(http.MethodGet, path, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := c.checkError(resp); err != nil {
		return err
	}

	var lr listResponse
	if err := json.NewDecoder(resp.Body).Decode(&lr); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	return json.Unmarshal(lr.Data, result)
}

func (c *Client) doData(method, path string, body any, result any) error {
	resp, err := c.do(method, path, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := c.checkError(resp); err != nil {
		return err
	}

	if resp.StatusCode == http.StatusNoContent || resp.StatusCode == http.StatusAccepted {
		return nil
	}

	var dr dataResponse
	if err := json.NewDecoder(resp.Body).Decode(&dr); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	if result != nil {
		return json.Unmarshal(dr.Data, result)
	}
	return nil
}

func (c *Client) do(method, path string, body any) (*http.Response, error) {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	return c.httpClient.Do(req)
}

func (c *Client) checkError(resp *http.Response) error {
	if resp.StatusCode < 400 {
		return nil
	}

	var er errorResponse
	if err := json.NewDecoder(resp.Body).Decode(&er); err != nil {
		return fmt.Errorf("API error: HTTP %d", resp.StatusCode)
	}

	return fmt.Errorf("%s: %s", er.Error.Code, er.Error.Message)
}
