package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/pilot-net/ctrl-upgrade/pkg/types"
)

// DefaultPageSize is large enough to fetch a whole fleet in one page.
const DefaultPageSize = 1000

// ErrEmptyPage is returned when a listing has no embedded collection.
var ErrEmptyPage = errors.New("listing returned no items")

// ErrMissingTaskID means a 201 reply carried no usable task id.
var ErrMissingTaskID = errors.New("created task has no id")

// API is the typed Command Center API.
type API struct {
	transport Transport
}

// NewAPI wraps a transport.
func NewAPI(t Transport) *API {
	return &API{transport: t}
}

// ServerInfo fetches the API root document.
func (a *API) ServerInfo(ctx context.Context) (*types.ServerInfo, error) {
	resp, err := a.transport.Get(ctx, "")
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, readError(resp)
	}

	var info types.ServerInfo
	if err := json.Unmarshal(resp.Body, &info); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}
	return &info, nil
}

// ListControllers fetches one page of controllers. An empty page returns
// ErrEmptyPage.
func (a *API) ListControllers(ctx context.Context, pageSize int) ([]types.Controller, error) {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}

	resp, err := a.transport.Get(ctx, fmt.Sprintf("/controller?size=%d", pageSize))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, readError(resp)
	}

	var page types.ControllerPage
	if err := json.Unmarshal(resp.Body, &page); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}
	if len(page.Embedded.Controllers) == 0 {
		return nil, ErrEmptyPage
	}
	return page.Embedded.Controllers, nil
}

// CreateUpgradeTask schedules an upgrade of one controller and returns the
// new task id. Only HTTP 201 counts as success.
func (a *API) CreateUpgradeTask(ctx context.Context, controllerID string) (types.TaskID, error) {
	body := types.CreateUpgradeTaskRequest{Controller: types.ControllerRef(controllerID)}

	resp, err := a.transport.Post(ctx, "/controllerUpgradeTask", body)
	if err != nil {
		return 0, err
	}
	if resp.StatusCode != http.StatusCreated {
		return 0, readError(resp)
	}

	var created struct {
		ID *types.TaskID `json:"id"`
	}
	if err := json.Unmarshal(resp.Body, &created); err != nil {
		return 0, fmt.Errorf("decoding task id: %w", err)
	}
	if created.ID == nil || *created.ID <= 0 {
		return 0, ErrMissingTaskID
	}
	return *created.ID, nil
}

// GetUpgradeTask fetches the status of one upgrade task.
func (a *API) GetUpgradeTask(ctx context.Context, id types.TaskID) (*types.UpgradeTask, error) {
	resp, err := a.transport.Get(ctx, "/controllerUpgradeTask/"+id.String())
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, readError(resp)
	}

	var task types.UpgradeTask
	if err := json.Unmarshal(resp.Body, &task); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}
	if task.ID == 0 {
		task.ID = id
	}
	return &task, nil
}

// ListUpgradeTasks fetches one page of upgrade tasks. Unlike controllers, an
// empty task list is a valid result.
func (a *API) ListUpgradeTasks(ctx context.Context, pageSize int) ([]types.UpgradeTask, error) {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}

	resp, err := a.transport.Get(ctx, fmt.Sprintf("/controllerUpgradeTask?size=%d", pageSize))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, readError(resp)
	}

	var page types.UpgradeTaskPage
	if err := json.Unmarshal(resp.Body, &page); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}
	return page.Embedded.Tasks, nil
}

// GetTaskController resolves the controller an upgrade task was created for.
func (a *API) GetTaskController(ctx context.Context, id types.TaskID) (*types.Controller, error) {
	resp, err := a.transport.Get(ctx, "/controllerUpgradeTask/"+id.String()+"/controller")
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, readError(resp)
	}

	var c types.Controller
	if err := json.Unmarshal(resp.Body, &c); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}
	return &c, nil
}
