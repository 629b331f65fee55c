package storage

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"

	"tasksync/domain"
)

// All tasks share one partition; the row key is the task id.
const tasksPartition = "tasks"

// Tables stores tasks in Azure Table Storage.
type Tables struct {
	table *aztables.Client
}

// NewTables creates a Tables backend from the given connection string.
func NewTables(connStr, table string) (*Tables, error) {
	opts := aztables.ClientOptions{
		ClientOptions: azcore.ClientOptions{
			Retry: policy.RetryOptions{
				MaxRetries:    3,
				TryTimeout:    time.Minute * 3,
				RetryDelay:    time.Second * 1,
				MaxRetryDelay: time.Second * 15,
				StatusCodes:   []int{408, 429, 500, 502, 503, 504},
			},
		},
	}
	svc, err := aztables.NewServiceClientFromConnectionString(connStr, &opts)
	if err != nil {
		return nil, err
	}
	return &Tables{table: svc.NewClient(table)}, nil
}

// EnsureTable creates the table when it does not exist yet.
func (s *Tables) EnsureTable(ctx context.Context) error {
	_, err := s.table.CreateTable(ctx, nil)
	if err != nil && statusCode(err) != http.StatusConflict {
		return err
	}
	return nil
}

type taskEntity struct {
	aztables.Entity
	Title       string `json:"Title"`
	Description string `json:"Description"`
	Status      string `json:"Status"`
	Priority    string `json:"Priority"`
	DueDate     string `json:"DueDate"`
	CreatedAt   string `json:"CreatedAt"`
}

func encodeTaskEntity(t domain.Task) ([]byte, error) {
	return json.Marshal(taskEntity{
		Entity:      aztables.Entity{PartitionKey: tasksPartition, RowKey: t.ID},
		Title:       t.Title,
		Description: t.Description,
		Status:      string(t.Status),
		Priority:    string(t.Priority),
		DueDate:     t.DueDate.String(),
		CreatedAt:   t.CreatedAt.UTC().Format(timestampLayout),
	})
}

func decodeTaskEntity(data []byte) (domain.Task, error) {
	var ent taskEntity
	if err := json.Unmarshal(data, &ent); err != nil {
		return domain.Task{}, err
	}
	due, err := domain.ParseDate(ent.DueDate)
	if err != nil {
		return domain.Task{}, err
	}
	created, err := time.Parse(timestampLayout, ent.CreatedAt)
	if err != nil {
		return domain.Task{}, err
	}
	return domain.Task{
		ID:          ent.RowKey,
		Title:       ent.Title,
		Description: ent.Description,
		Status:      domain.Status(ent.Status),
		Priority:    domain.Priority(ent.Priority),
		DueDate:     due,
		CreatedAt:   created,
	}, nil
}

func odataQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

// odataFilter pushes the exact-match and range criteria to the service. The
// free-text query is applied after fetching.
func odataFilter(f domain.Filter) string {
	conds := []string{"PartitionKey eq " + odataQuote(tasksPartition)}
	if f.Status != "" {
		conds = append(conds, "Status eq "+odataQuote(string(f.Status)))
	}
	if f.Priority != "" {
		conds = append(conds, "Priority eq "+odataQuote(string(f.Priority)))
	}
	if f.DueAfter != nil {
		conds = append(conds, "DueDate ge "+odataQuote(f.DueAfter.String()))
	}
	if f.DueBefore != nil {
		conds = append(conds, "DueDate le "+odataQuote(f.DueBefore.String()))
	}
	return strings.Join(conds, " and ")
}

func (s *Tables) List(ctx context.Context, f domain.Filter) ([]domain.Task, error) {
	filter := odataFilter(f)
	pager := s.table.NewListEntitiesPager(&aztables.ListEntitiesOptions{Filter: &filter})
	tasks := []domain.Task{}
	for pager.More() {
		resp, err := pager.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, e := range resp.Entities {
			t, err := decodeTaskEntity(e)
			if err != nil {
				return nil, err
			}
			if f.Matches(t) {
				tasks = append(tasks, t)
			}
		}
	}
	sortNewestFirst(tasks)
	return tasks, nil
}

func (s *Tables) Get(ctx context.Context, id string) (domain.Task, error) {
	resp, err := s.table.GetEntity(ctx, tasksPartition, id, nil)
	if err != nil {
		return domain.Task{}, mapTableError(err)
	}
	return decodeTaskEntity(resp.Value)
}

func (s *Tables) Insert(ctx context.Context, t domain.Task) error {
	data, err := encodeTaskEntity(t)
	if err != nil {
		return err
	}
	_, err = s.table.AddEntity(ctx, data, nil)
	return mapTableError(err)
}

func (s *Tables) Replace(ctx context.Context, t domain.Task) error {
	data, err := encodeTaskEntity(t)
	if err != nil {
		return err
	}
	etag := azcore.ETagAny
	_, err = s.table.UpdateEntity(ctx, data, &aztables.UpdateEntityOptions{
		IfMatch:    &etag,
		UpdateMode: aztables.UpdateModeReplace,
	})
	return mapTableError(err)
}

func (s *Tables) Delete(ctx context.Context, id string) error {
	etag := azcore.ETagAny
	_, err := s.table.DeleteEntity(ctx, tasksPartition, id, &aztables.DeleteEntityOptions{IfMatch: &etag})
	return mapTableError(err)
}

func statusCode(err error) int {
	var respErr *azcore.ResponseError
	if errors.As(err, &respErr) {
		return respErr.StatusCode
	}
	return 0
}

func mapTableError(err error) error {
	if err == nil {
		return nil
	}
	switch statusCode(err) {
	case http.StatusNotFound:
		return domain.ErrNotFound
	case http.StatusConflict:
		return ErrConflict
	}
	return err
}
