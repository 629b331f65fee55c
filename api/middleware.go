package api

import (
	"compress/gzip"
	"io"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
)

// taskBodies prepares request bodies for binding. A gzip body is inflated,
// and every body is capped at limit bytes after inflation so a small
// compressed task cannot expand into an unbounded read. Reads past the cap
// fail with *http.MaxBytesError, which binding reports as 413.
func taskBodies(limit int64) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			if req.Body == nil || req.Body == http.NoBody {
				return next(c)
			}
			if isGzipped(req.Header.Get(echo.HeaderContentEncoding)) {
				zr, err := gzip.NewReader(req.Body)
				if err != nil {
					_ = req.Body.Close()
					return echo.NewHTTPError(http.StatusBadRequest, "invalid gzip body")
				}
				req.Body = inflatedBody{Reader: zr, raw: req.Body}
				req.ContentLength = -1
				req.Header.Del(echo.HeaderContentEncoding)
				req.Header.Del(echo.HeaderContentLength)
			}
			req.Body = http.MaxBytesReader(c.Response(), req.Body, limit)
			return next(c)
		}
	}
}

func isGzipped(header string) bool {
	for _, enc := range strings.Split(header, ",") {
		if strings.EqualFold(strings.TrimSpace(enc), "gzip") {
			return true
		}
	}
	return false
}

type inflatedBody struct {
	*gzip.Reader
	raw io.Closer
}

func (b inflatedBody) Close() error {
	err := b.Reader.Close()
	if cerr := b.raw.Close(); err == nil {
		err = cerr
	}
	return err
}
