package api

import (
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/bytedance/sonic"
	"github.com/labstack/echo/v4"

	"tasksync/domain"
)

const maxBodySize = 1 << 20

var (
	errBadBody  = errors.New("invalid body")
	errTooLarge = errors.New("body too large")
)

// bodyError tells a body over the size cap apart from a malformed one.
func bodyError(err error) error {
	var mbe *http.MaxBytesError
	if errors.As(err, &mbe) {
		return errTooLarge
	}
	return errBadBody
}

var fieldNames = []string{"title", "description", "status", "priority", "due_date"}

// bindFields reads task attributes from a JSON body, either wrapped as
// {"task": {...}} or flat, or from form values named either "title" or
// "task[title]". Attributes that are absent stay nil.
func bindFields(c echo.Context) (domain.Fields, map[string]string, error) {
	req := c.Request()
	if strings.HasPrefix(req.Header.Get(echo.HeaderContentType), echo.MIMEApplicationJSON) {
		return bindJSONFields(req)
	}
	return bindFormFields(c)
}

func bindJSONFields(req *http.Request) (domain.Fields, map[string]string, error) {
	body, err := io.ReadAll(io.LimitReader(req.Body, maxBodySize+1))
	if err != nil {
		return domain.Fields{}, nil, bodyError(err)
	}
	if len(body) > maxBodySize {
		return domain.Fields{}, nil, errTooLarge
	}
	var wrapped struct {
		Task *domain.Fields `json:"task"`
	}
	if err := sonic.Unmarshal(body, &wrapped); err != nil {
		return domain.Fields{}, nil, errBadBody
	}
	fields := domain.Fields{}
	if wrapped.Task != nil {
		fields = *wrapped.Task
	} else if err := sonic.Unmarshal(body, &fields); err != nil {
		return domain.Fields{}, nil, errBadBody
	}
	return fields, rawValues(fields), nil
}

func bindFormFields(c echo.Context) (domain.Fields, map[string]string, error) {
	form, err := c.FormParams()
	if err != nil {
		return domain.Fields{}, nil, bodyError(err)
	}
	raw := make(map[string]string)
	for _, name := range fieldNames {
		for _, key := range []string{name, "task[" + name + "]"} {
			if vals, ok := form[key]; ok && len(vals) > 0 {
				raw[name] = vals[0]
			}
		}
	}
	var fields domain.Fields
	for name, v := range raw {
		v := v
		switch name {
		case "title":
			fields.Title = &v
		case "description":
			fields.Description = &v
		case "status":
			fields.Status = &v
		case "priority":
			fields.Priority = &v
		case "due_date":
			fields.DueDate = &v
		}
	}
	return fields, raw, nil
}

func rawValues(f domain.Fields) map[string]string {
	raw := make(map[string]string)
	set := func(name string, v *string) {
		if v != nil {
			raw[name] = *v
		}
	}
	set("title", f.Title)
	set("description", f.Description)
	set("status", f.Status)
	set("priority", f.Priority)
	set("due_date", f.DueDate)
	return raw
}
